package scratchpad

import (
	"time"

	"sidecar/domain"

	"go.temporal.io/sdk/workflow"
)

// ScratchPadWorkflow is the long-lived cooperative task spec.md §4.F names.
// It loops on a workflow.Selector over four signal channels until a
// Shutdown signal arrives, draining any already-queued signals before
// exiting (per spec.md: "Shutdown drains and exits").
func ScratchPadWorkflow(ctx workflow.Context, input Input) error {
	logger := workflow.GetLogger(ctx)
	logger.Info("scratchpad workflow started", "sessionId", input.SessionId)

	humanCh := workflow.GetSignalChannel(ctx, "scratchpad.human")
	lspCh := workflow.GetSignalChannel(ctx, "scratchpad.lsp")
	symbolCh := workflow.GetSignalChannel(ctx, "scratchpad.symbol")
	shutdownCh := workflow.GetSignalChannel(ctx, "scratchpad.shutdown")

	scratchCtx := &Context{}
	shuttingDown := false

	for !shuttingDown {
		selector := workflow.NewSelector(ctx)

		selector.AddReceive(humanCh, func(c workflow.ReceiveChannel, more bool) {
			var msg HumanMessage
			c.Receive(ctx, &msg)
			handleHumanMessage(ctx, input, scratchCtx, msg)
		})

		selector.AddReceive(lspCh, func(c workflow.ReceiveChannel, more bool) {
			var batch DiagnosticBatch
			c.Receive(ctx, &batch)
			scratchCtx.AddDiagnostics(batch)
		})

		selector.AddReceive(symbolCh, func(c workflow.ReceiveChannel, more bool) {
			var change SymbolChange
			c.Receive(ctx, &change)
			logger.Debug("symbol changed, edit requests for it are now stale", "symbol", change.SymbolName)
		})

		selector.AddReceive(shutdownCh, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(ctx, nil)
			shuttingDown = true
		})

		selector.Select(ctx)
	}

	// drain any signals queued in the same batch as the Shutdown signal
	for {
		drained := false
		selector := workflow.NewSelector(ctx)
		selector.AddReceive(humanCh, func(c workflow.ReceiveChannel, more bool) {
			var msg HumanMessage
			c.Receive(ctx, &msg)
			drained = true
		})
		selector.AddReceive(lspCh, func(c workflow.ReceiveChannel, more bool) {
			var batch DiagnosticBatch
			c.Receive(ctx, &batch)
			drained = true
		})
		selector.AddReceive(symbolCh, func(c workflow.ReceiveChannel, more bool) {
			var change SymbolChange
			c.Receive(ctx, &change)
			drained = true
		})
		selector.AddFuture(workflow.NewTimer(ctx, 0), func(f workflow.Future) {})
		selector.Select(ctx)
		if !drained {
			break
		}
	}

	logger.Info("scratchpad workflow exiting", "sessionId", input.SessionId)
	return nil
}

func handleHumanMessage(ctx workflow.Context, input Input, scratchCtx *Context, msg HumanMessage) {
	logger := workflow.GetLogger(ctx)

	requests := deriveSymbolEditRequests(input.UserContext, msg, scratchCtx)
	if len(requests) == 0 {
		return
	}

	activityCtx := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
	})

	var a *Activities
	var result EditBatchResult
	err := workflow.ExecuteActivity(activityCtx, a.RunEditBatch, EditBatchInput{
		BaseDir:  input.BaseDir,
		Requests: requests,
	}).Get(ctx, &result)
	if err != nil {
		logger.Error("symbol-edit fan-out failed", "error", err)
		return
	}

	logger.Info("symbol-edit fan-out completed", "applied", result.AppliedCount, "failed", result.FailedCount)
}

// deriveSymbolEditRequests derives the set of symbol-edit requests from the
// anchored selection, per spec.md §4.F. The anchored selection itself
// (UserContext.SelectionSpan/SelectionText) is the only symbol-edit target
// this loop drives directly; broader multi-symbol derivation is out of
// scope without a symbol index (tree-sitter/LSP symbol search), which
// spec.md's Non-goals exclude.
func deriveSymbolEditRequests(userCtx domain.UserContext, msg HumanMessage, scratchCtx *Context) []EditRequest {
	return []EditRequest{{
		ExchangeId: msg.ExchangeId,
		FilePath:   userCtx.ActiveFile,
		Query:      msg.Query,
	}}
}
