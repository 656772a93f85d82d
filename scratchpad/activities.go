package scratchpad

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"sidecar/editor"
	"sidecar/llm"

	"golang.org/x/sync/semaphore"
)

// EditRequest is one symbol-scoped edit to perform against BaseDir/FilePath.
type EditRequest struct {
	ExchangeId string `json:"exchangeId"`
	FilePath   string `json:"filePath"`
	Query      string `json:"query"`
}

type EditBatchInput struct {
	BaseDir  string        `json:"baseDir"`
	Requests []EditRequest `json:"requests"`
}

type EditBatchResult struct {
	AppliedCount int      `json:"appliedCount"`
	FailedCount  int      `json:"failedCount"`
	Misses       []string `json:"misses,omitempty"`
}

// Activities hosts the Temporal activity methods scratchpad's workflow
// executes. Broker is the LLM Client Broker each edit request asks for a
// single Search-and-Replace block.
type Activities struct {
	Broker *llm.Broker
}

// RunEditBatch fans out every EditRequest with bounded concurrency (at most
// scratchpad.MaxConcurrentEdits in flight), per spec.md §5, using
// golang.org/x/sync/semaphore the way a real goroutine pool (not
// deterministic workflow code) is expected to bound concurrency — this runs
// as a Temporal activity precisely so it can use real OS threads/goroutines
// instead of replay-safe workflow primitives.
func (a *Activities) RunEditBatch(ctx context.Context, input EditBatchInput) (EditBatchResult, error) {
	sem := semaphore.NewWeighted(MaxConcurrentEdits)
	resultCh := make(chan editor.ApplyResult, len(input.Requests))
	errCh := make(chan error, len(input.Requests))

	for _, req := range input.Requests {
		req := req
		if err := sem.Acquire(ctx, 1); err != nil {
			return EditBatchResult{}, fmt.Errorf("failed to acquire edit slot: %w", err)
		}
		go func() {
			defer sem.Release(1)
			result, err := a.runSingleEdit(ctx, input.BaseDir, req)
			if err != nil {
				errCh <- err
				return
			}
			resultCh <- result
		}()
	}

	if err := sem.Acquire(ctx, MaxConcurrentEdits); err != nil {
		return EditBatchResult{}, fmt.Errorf("failed to wait for edit batch completion: %w", err)
	}
	close(resultCh)
	close(errCh)

	var batch EditBatchResult
	for result := range resultCh {
		if result.Applied {
			batch.AppliedCount++
		} else {
			batch.FailedCount++
			batch.Misses = append(batch.Misses, fmt.Sprintf("%s: %s", result.Block.FilePath, result.Error))
		}
	}
	for range errCh {
		batch.FailedCount++
	}

	return batch, nil
}

func (a *Activities) runSingleEdit(ctx context.Context, baseDir string, req EditRequest) (editor.ApplyResult, error) {
	content, err := os.ReadFile(filepath.Join(baseDir, req.FilePath))
	if err != nil {
		return editor.ApplyResult{}, fmt.Errorf("failed to read %s for anchored edit: %w", req.FilePath, err)
	}

	prompt := fmt.Sprintf(
		"Apply this instruction to %s using exactly one SEARCH/REPLACE block:\n\n%s\n\nCurrent contents:\n%s",
		req.FilePath, req.Query, string(content))

	deltaChan := make(chan llm.ChatMessageDelta, 16)
	progressChan := make(chan llm.ProgressInfo, 4)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range deltaChan {
		}
	}()
	go func() {
		for range progressChan {
		}
	}()

	response, err := a.Broker.ChatStream(ctx, llm.ToolChatOptions{
		Params: llm.ToolChatParams{
			Messages: []llm.ChatMessage{{Role: llm.ChatMessageRoleUser, Content: prompt}},
		},
	}, deltaChan, progressChan)
	close(deltaChan)
	close(progressChan)
	<-done
	if err != nil {
		return editor.ApplyResult{}, fmt.Errorf("anchored edit completion failed for %s: %w", req.FilePath, err)
	}

	parser := editor.NewStreamParser(nil)
	parser.Feed(response.Content)
	blocks := parser.Flush()
	if len(blocks) == 0 {
		return editor.ApplyResult{Error: "model reply contained no SEARCH/REPLACE block"}, nil
	}

	results := editor.ApplyAll(blocks, baseDir)
	if len(results) == 0 {
		return editor.ApplyResult{Error: "no edit blocks applied"}, nil
	}
	return results[len(results)-1], nil
}
