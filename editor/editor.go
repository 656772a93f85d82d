package editor

import "sort"

// ApplyAll applies every block to baseDir in SequenceNumber order (the
// `edit_block:N` markers let the LLM declare an intended application order
// independent of the order blocks appear in its streamed output). Per
// spec.md §4.C/§7, a block miss is skipped, not fatal: the file it targets
// is left unmodified and every other block in the sequence is still
// attempted, so one bad block never shadows later, independently-applicable
// edits.
func ApplyAll(blocks []Block, baseDir string) []ApplyResult {
	ordered := make([]Block, len(blocks))
	copy(ordered, blocks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].SequenceNumber < ordered[j].SequenceNumber
	})

	results := make([]ApplyResult, 0, len(ordered))
	for _, block := range ordered {
		results = append(results, Apply(block, baseDir))
	}
	return results
}
