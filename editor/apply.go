package editor

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ApplyResult mirrors the teacher's ApplyEditBlockReport shape (dev package),
// trimmed to what the editor itself is responsible for: whether the block
// applied, and why not. Autofix/check/LSP notification concerns stay with
// the Tool Broker's code_edit tool, which wraps Apply.
type ApplyResult struct {
	Block    Block
	Applied  bool
	Error    string
}

// Apply applies a single Block to the file tree rooted at baseDir, per
// spec.md §4.C: old lines must match a file's content EXACTLY (no fuzzy or
// whitespace-tolerant matching, unlike the teacher's FindAcceptableMatch in
// dev/find_acceptable_match.go) or the block is rejected outright.
func Apply(block Block, baseDir string) ApplyResult {
	switch block.EditType {
	case EditTypeCreate:
		return applyCreate(block, baseDir)
	case EditTypeUpdate:
		return applyUpdate(block, baseDir)
	case EditTypeAppend:
		return applyAppend(block, baseDir)
	case EditTypeDelete:
		return applyDelete(block, baseDir)
	default:
		return ApplyResult{Block: block, Error: fmt.Sprintf("unknown edit type: %s", block.EditType)}
	}
}

func joinPreservingTrailingNewline(lines []string, hadTrailingNewline bool) string {
	content := strings.Join(lines, "\n")
	if hadTrailingNewline {
		content += "\n"
	}
	return content
}

func applyCreate(block Block, baseDir string) ApplyResult {
	absPath := filepath.Join(baseDir, block.FilePath)
	if _, err := os.Stat(absPath); err == nil {
		return ApplyResult{Block: block, Error: fmt.Sprintf("file already exists: %s", block.FilePath)}
	} else if !os.IsNotExist(err) {
		return ApplyResult{Block: block, Error: fmt.Sprintf("failed to check if file exists: %v", err)}
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return ApplyResult{Block: block, Error: fmt.Sprintf("failed to create directories: %v", err)}
	}
	content := joinPreservingTrailingNewline(block.NewLines, true)
	if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
		return ApplyResult{Block: block, Error: fmt.Sprintf("failed to create file: %v", err)}
	}
	return ApplyResult{Block: block, Applied: true}
}

func applyAppend(block Block, baseDir string) ApplyResult {
	absPath := filepath.Join(baseDir, block.FilePath)
	original, err := os.ReadFile(absPath)
	if err != nil {
		return ApplyResult{Block: block, Error: fmt.Sprintf("failed to read file: %v", err)}
	}
	if err := os.WriteFile(absPath, []byte(appendContent(original, block.NewLines)), 0644); err != nil {
		return ApplyResult{Block: block, Error: fmt.Sprintf("failed to append to file: %v", err)}
	}
	return ApplyResult{Block: block, Applied: true}
}

// appendContent adds newLines at EOF, adding a separating newline first if
// original is non-empty and doesn't already end in one, and always adding a
// trailing newline after the appended content (spec.md §8: "empty file →
// content, trailing newline added").
func appendContent(original []byte, newLines []string) string {
	updated := string(original)
	if updated != "" && !strings.HasSuffix(updated, "\n") {
		updated += "\n"
	}
	updated += joinPreservingTrailingNewline(newLines, true)
	return updated
}

func applyDelete(block Block, baseDir string) ApplyResult {
	absPath := filepath.Join(baseDir, block.FilePath)
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return ApplyResult{Block: block, Error: fmt.Sprintf("file does not exist: %s", block.FilePath)}
	}
	if err := os.Remove(absPath); err != nil {
		return ApplyResult{Block: block, Error: fmt.Sprintf("failed to delete file: %v", err)}
	}
	return ApplyResult{Block: block, Applied: true}
}

func applyUpdate(block Block, baseDir string) ApplyResult {
	absPath := filepath.Join(baseDir, block.FilePath)
	original, err := os.ReadFile(absPath)
	if err != nil {
		return ApplyResult{Block: block, Error: fmt.Sprintf("failed to read file: %v", err)}
	}

	// spec.md §4.C: "if the search is empty, the replace is appended at
	// EOF" — the one documented block shape is a plain
	// <<<<<<< SEARCH/=======/>>>>>>> REPLACE with no search lines, so this
	// must be handled here rather than requiring a separate
	// APPEND_TO_FILE/CREATE_FILE tag in the opening fence.
	if len(block.OldLines) == 0 {
		if err := os.WriteFile(absPath, []byte(appendContent(original, block.NewLines)), 0644); err != nil {
			return ApplyResult{Block: block, Error: fmt.Sprintf("failed to write file: %v", err)}
		}
		return ApplyResult{Block: block, Applied: true}
	}

	hadTrailingNewline := strings.HasSuffix(string(original), "\n")
	originalLines := strings.Split(strings.TrimSuffix(string(original), "\n"), "\n")

	index, count := findExactMatch(originalLines, block.OldLines)
	if count == 0 {
		return ApplyResult{Block: block, Error: fmt.Sprintf(
			"old lines not found verbatim in %s; the search text must match the file's current content exactly, including whitespace:\n\n%s",
			block.FilePath, strings.Join(block.OldLines, "\n"))}
	}
	if count > 1 {
		return ApplyResult{Block: block, Error: fmt.Sprintf(
			"old lines matched %d locations in %s; expand the search text with more surrounding context so it matches exactly one location", count, block.FilePath)}
	}

	newLines := make([]string, 0, len(originalLines)+len(block.NewLines)-len(block.OldLines))
	newLines = append(newLines, originalLines[:index]...)
	newLines = append(newLines, block.NewLines...)
	newLines = append(newLines, originalLines[index+len(block.OldLines):]...)

	content := joinPreservingTrailingNewline(newLines, hadTrailingNewline)
	if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
		return ApplyResult{Block: block, Error: fmt.Sprintf("failed to write file: %v", err)}
	}
	return ApplyResult{Block: block, Applied: true}
}

// findExactMatch returns the start index of the first occurrence of needle
// within haystack as a contiguous, line-for-line exact match, and the total
// number of occurrences found (so callers can reject ambiguous matches).
func findExactMatch(haystack, needle []string) (index int, count int) {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1, 0
	}
	found := -1
	for i := 0; i <= len(haystack)-len(needle); i++ {
		if linesEqual(haystack[i:i+len(needle)], needle) {
			if found < 0 {
				found = i
			}
			count++
		}
	}
	return found, count
}

func linesEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
