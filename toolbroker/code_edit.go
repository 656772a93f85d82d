package toolbroker

import (
	"fmt"

	"sidecar/domain"
	"sidecar/editor"
)

// CodeEditTool parses input.Content for Search-and-Replace edit blocks via
// the editor package's streaming parser (fed the whole string at once, since
// by the time the agent's full tool call has arrived there's nothing left to
// stream) and applies every block it finds to input.FilePath's repository.
type CodeEditTool struct {
	BaseDir string
}

func (CodeEditTool) Name() domain.ToolName { return domain.ToolCodeEdit }

func (t CodeEditTool) Call(_ domain.MessageProperties, input domain.ToolInput) (any, error) {
	params := input.CodeEdit

	parser := editor.NewStreamParser(nil)
	parser.Feed(params.Content)
	blocks := parser.Flush()
	if len(blocks) == 0 {
		return nil, fmt.Errorf("code_edit: no Search-and-Replace blocks found in content for %s", params.FilePath)
	}

	results := editor.ApplyAll(blocks, t.BaseDir)

	output := domain.CodeEditOutput{}
	for _, r := range results {
		if r.Applied {
			output.AppliedBlocks++
		} else {
			output.Misses = append(output.Misses, r.Error)
		}
	}
	if len(output.Misses) > 0 {
		return output, fmt.Errorf("code_edit: %d of %d blocks failed to apply", len(output.Misses), len(blocks))
	}
	return output, nil
}
