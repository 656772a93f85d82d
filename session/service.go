// Package session implements spec.md §4.E's Session Service: it owns the
// Session/Exchange lifecycle and drives each exchange kind to completion,
// persisting through sidecar/srv/sqlite the same way the teacher persists
// every other domain aggregate (Task, Flow, Subflow, Workspace, Worktree).
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sidecar/agent"
	"sidecar/domain"
	"sidecar/editor"
	"sidecar/llm"
	"sidecar/toolbroker"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// EventSink is what the Session Service publishes progress to, satisfied by
// the UI Event Channel (event/ package) in the full wiring; kept as a narrow
// interface here so session/ doesn't import event/ directly, mirroring the
// teacher's own FlowEventStreamer boundary in domain/flow_event.go.
type EventSink interface {
	Publish(ctx context.Context, workspaceId, sessionId string, evt domain.FlowEvent) error
}

// Service implements spec.md §4.E's operation set over a SessionStorage/
// ExchangeStorage pair, the same shape flow_action.ExecContext bundles a
// Storage/Streamer pair for the teacher's Flow engine.
type Service struct {
	Sessions  domain.SessionStorage
	Exchanges domain.ExchangeStorage
	Tools     *toolbroker.Broker
	Broker    *llm.Broker
	Cancels   *domain.CancellationRegistry
	Events    EventSink
	BaseDir   string

	// ToolDescriptions builds the Tool-Use Agent's system prompt catalogue;
	// supplied by the caller since it is static per process, not per exchange.
	ToolDescriptions []agent.ToolDescription
}

// StartSession creates a fresh Session for a workspace, the entry point
// every operation below assumes already happened.
func (s *Service) StartSession(ctx context.Context, workspaceId string) (domain.Session, error) {
	now := time.Now().UTC()
	sess := domain.Session{
		Id:          uuid.NewString(),
		WorkspaceId: workspaceId,
		Status:      domain.SessionStatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Sessions.PersistSession(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("start session: %w", err)
	}
	return sess, nil
}

// newHumanExchange appends a Human* exchange and advances the session head
// to it. Human turns are synchronous (the caller already has the query/
// selection in hand), so they're persisted Completed immediately rather
// than going through the Running -> terminal lifecycle Assistant exchanges
// do.
func (s *Service) newHumanExchange(ctx context.Context, sess *domain.Session, kind domain.ExchangeKind, userCtx domain.UserContext) (domain.Exchange, error) {
	now := time.Now().UTC()
	exchange := domain.Exchange{
		Id:          uuid.NewString(),
		SessionId:   sess.Id,
		WorkspaceId: sess.WorkspaceId,
		ParentId:    sess.CurrentExchangeId,
		Kind:        kind,
		Status:      domain.ExchangeStatusCompleted,
		UserContext: userCtx,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Exchanges.PersistExchange(ctx, exchange); err != nil {
		return domain.Exchange{}, fmt.Errorf("persist human exchange: %w", err)
	}
	if err := s.advanceHead(ctx, sess, exchange.Id, now); err != nil {
		return domain.Exchange{}, err
	}
	return exchange, nil
}

// newAssistantExchange appends a child Assistant* exchange parented to
// humanExchange, per spec.md §3's "every assistant exchange has exactly one
// parent human exchange" invariant, registers a cancellation token for it,
// and advances the session head to it. Since the session head only ever
// advances forward to a freshly-created exchange, at most one Assistant*
// exchange is ever the head at a time, satisfying "exactly one open
// assistant exchange per thread at a time."
func (s *Service) newAssistantExchange(ctx context.Context, sess *domain.Session, kind domain.ExchangeKind, humanExchange domain.Exchange) (domain.Exchange, domain.MessageProperties, error) {
	now := time.Now().UTC()
	exchange := domain.Exchange{
		Id:          uuid.NewString(),
		SessionId:   sess.Id,
		WorkspaceId: sess.WorkspaceId,
		ParentId:    humanExchange.Id,
		Kind:        kind,
		Status:      domain.ExchangeStatusRunning,
		UserContext: humanExchange.UserContext,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Exchanges.PersistExchange(ctx, exchange); err != nil {
		return domain.Exchange{}, domain.MessageProperties{}, fmt.Errorf("persist assistant exchange: %w", err)
	}
	if err := s.advanceHead(ctx, sess, exchange.Id, now); err != nil {
		return domain.Exchange{}, domain.MessageProperties{}, err
	}

	exchangeCtx, cancel := context.WithCancel(domain.WithExchangeContext(ctx, sess.WorkspaceId, sess.Id, exchange.Id))
	props := domain.MessageProperties{
		Context:     exchangeCtx,
		WorkspaceId: sess.WorkspaceId,
		SessionId:   sess.Id,
		ExchangeId:  exchange.Id,
		Cancel:      cancel,
	}
	s.Cancels.Register(exchange.Id, cancel)
	return exchange, props, nil
}

func (s *Service) advanceHead(ctx context.Context, sess *domain.Session, exchangeId string, now time.Time) error {
	sess.CurrentExchangeId = exchangeId
	sess.UpdatedAt = now
	if err := s.Sessions.PersistSession(ctx, *sess); err != nil {
		return fmt.Errorf("update session head: %w", err)
	}
	return nil
}

func (s *Service) finishExchange(ctx context.Context, exchange domain.Exchange, status domain.ExchangeStatus) error {
	s.Cancels.Unregister(exchange.Id)
	exchange.Status = status
	exchange.UpdatedAt = time.Now().UTC()
	return s.Exchanges.PersistExchange(ctx, exchange)
}

// HumanMessage records a plain user message as a HumanChat exchange, per
// spec.md §4.E's human_message operation. A bare chat message dispatches no
// tool and needs no assistant turn of its own here: it's the anchor
// subsequent plan_generation/code_edit_* operations parent their own
// AssistantChat/AssistantPlan/AssistantEdit exchange to.
func (s *Service) HumanMessage(ctx context.Context, sess domain.Session, query string, userCtx domain.UserContext) (domain.Exchange, error) {
	userCtx.Query = query
	return s.newHumanExchange(ctx, &sess, domain.ExchangeKindHumanChat, userCtx)
}

// PlanGeneration and PlanIteration both run a single, non-tool-calling LLM
// completion over the session's context: plan_generation starts a fresh
// plan from the human's query, plan_iteration revises priorPlan with new
// userCtx feedback. Neither dispatches through the Tool Broker, matching
// spec.md §4.E's split between planning (text-only) and code_edit_* (tool-
// calling) operations.
func (s *Service) PlanGeneration(ctx context.Context, sess domain.Session, userCtx domain.UserContext) (domain.Exchange, string, error) {
	return s.runPlanTurn(ctx, sess, userCtx, fmt.Sprintf(
		"Draft a step-by-step implementation plan for the following request. Do not write code yet.\n\n%s", userCtx.Query))
}

func (s *Service) PlanIteration(ctx context.Context, sess domain.Session, userCtx domain.UserContext, priorPlan string) (domain.Exchange, string, error) {
	return s.runPlanTurn(ctx, sess, userCtx, fmt.Sprintf(
		"Here is the current plan:\n\n%s\n\nRevise it based on this feedback:\n\n%s", priorPlan, userCtx.Query))
}

func (s *Service) runPlanTurn(ctx context.Context, sess domain.Session, userCtx domain.UserContext, prompt string) (domain.Exchange, string, error) {
	humanExchange, err := s.newHumanExchange(ctx, &sess, domain.ExchangeKindHumanPlan, userCtx)
	if err != nil {
		return domain.Exchange{}, "", err
	}
	exchange, props, err := s.newAssistantExchange(ctx, &sess, domain.ExchangeKindAssistantPlan, humanExchange)
	if err != nil {
		return domain.Exchange{}, "", err
	}

	deltaChan := make(chan llm.ChatMessageDelta, 16)
	progressChan := make(chan llm.ProgressInfo, 4)
	go func() {
		for range deltaChan {
		}
	}()
	go func() {
		for range progressChan {
		}
	}()

	response, err := s.Broker.ChatStream(props.Context, llm.ToolChatOptions{
		Params: llm.ToolChatParams{Messages: []llm.ChatMessage{{Role: llm.ChatMessageRoleUser, Content: prompt}}},
	}, deltaChan, progressChan)
	close(deltaChan)
	close(progressChan)
	if err != nil {
		s.finishExchange(ctx, exchange, domain.ExchangeStatusRejected)
		exchange.Status = domain.ExchangeStatusRejected
		return exchange, "", fmt.Errorf("plan turn: %w", err)
	}

	if err := s.finishExchange(ctx, exchange, domain.ExchangeStatusCompleted); err != nil {
		return exchange, "", err
	}
	exchange.Status = domain.ExchangeStatusCompleted
	return exchange, response.Content, nil
}

// captureSnapshot reads each block's target file as it stands before
// ApplyAll runs, for handle_session_undo's restore step (spec.md §4.E op 6).
// Files that don't exist yet are skipped: a create block has nothing to
// restore, undo simply leaves the created file in place.
func (s *Service) captureSnapshot(paths []string) map[string]string {
	snapshot := make(map[string]string)
	for _, path := range paths {
		if _, captured := snapshot[path]; captured {
			continue
		}
		content, err := os.ReadFile(filepath.Join(s.BaseDir, path))
		if err != nil {
			continue
		}
		snapshot[path] = string(content)
	}
	if len(snapshot) == 0 {
		return nil
	}
	return snapshot
}

// CodeEditAnchored applies a single Search-and-Replace edit directly against
// userCtx.SelectionSpan's file, bypassing the Tool-Use Agent loop entirely:
// spec.md §4.E's code_edit_anchored operation is for edits the UI has
// already anchored to a specific file/selection, so there's no tool-call
// negotiation to do.
func (s *Service) CodeEditAnchored(ctx context.Context, sess domain.Session, userCtx domain.UserContext, editContent string) (domain.Exchange, domain.CodeEditOutput, error) {
	humanExchange, err := s.newHumanExchange(ctx, &sess, domain.ExchangeKindHumanAnchoredEdit, userCtx)
	if err != nil {
		return domain.Exchange{}, domain.CodeEditOutput{}, err
	}
	exchange, _, err := s.newAssistantExchange(ctx, &sess, domain.ExchangeKindAssistantEdit, humanExchange)
	if err != nil {
		return domain.Exchange{}, domain.CodeEditOutput{}, err
	}

	parser := editor.NewStreamParser(nil)
	parser.Feed(editContent)
	blocks := parser.Flush()
	if len(blocks) == 0 {
		s.finishExchange(ctx, exchange, domain.ExchangeStatusRejected)
		exchange.Status = domain.ExchangeStatusRejected
		return exchange, domain.CodeEditOutput{}, fmt.Errorf("code_edit_anchored: no search-and-replace blocks found")
	}

	paths := make([]string, 0, len(blocks))
	for _, block := range blocks {
		paths = append(paths, block.FilePath)
	}
	exchange.PreEditSnapshot = s.captureSnapshot(paths)

	results := editor.ApplyAll(blocks, s.BaseDir)
	output := domain.CodeEditOutput{}
	for _, r := range results {
		if r.Applied {
			output.AppliedBlocks++
		} else {
			output.Misses = append(output.Misses, r.Error)
		}
	}

	// spec.md §8 scenario 3: a block miss leaves the targeted file unchanged
	// and the exchange terminates Completed, not Rejected — the miss is
	// reported via output.Misses for the UI to surface, not by failing the
	// whole turn. Only a turn with no parseable blocks at all is Rejected,
	// handled above.
	exchange.Status = domain.ExchangeStatusCompleted
	if err := s.finishExchange(ctx, exchange, domain.ExchangeStatusCompleted); err != nil {
		return exchange, output, err
	}
	return exchange, output, nil
}

// CodeEditAgentic drives the Tool-Use Agent loop (spec.md §4.D) to
// completion: each turn dispatches the parsed tool call through the Tool
// Broker and folds the observation back into chat history until the agent
// emits AttemptCompletion, the exchange is cancelled, or maxTurns is hit.
// Every code_edit tool call's target file is snapshotted before dispatch so
// handle_session_undo can restore it later.
func (s *Service) CodeEditAgentic(ctx context.Context, sess domain.Session, userCtx domain.UserContext, maxTurns int) (domain.Exchange, string, error) {
	humanExchange, err := s.newHumanExchange(ctx, &sess, domain.ExchangeKindHumanAgenticEdit, userCtx)
	if err != nil {
		return domain.Exchange{}, "", err
	}
	exchange, props, err := s.newAssistantExchange(ctx, &sess, domain.ExchangeKindAssistantEdit, humanExchange)
	if err != nil {
		return domain.Exchange{}, "", err
	}
	defer s.Cancels.Unregister(exchange.Id)

	toolAgent := agent.NewToolUseAgent(s.Broker, s.ToolDescriptions)
	messages := []llm.ChatMessage{{Role: llm.ChatMessageRoleUser, Content: userCtx.Query}}
	options := llm.ToolChatOptions{}

	var completionResult string
	for turn := 0; turn < maxTurns; turn++ {
		if props.Context.Err() != nil {
			s.finishExchange(ctx, exchange, domain.ExchangeStatusCancelled)
			exchange.Status = domain.ExchangeStatusCancelled
			return exchange, "", fmt.Errorf("code_edit_agentic: %w", props.Context.Err())
		}

		parsed, history, err := toolAgent.Turn(props.Context, messages, options)
		if err != nil {
			s.finishExchange(ctx, exchange, domain.ExchangeStatusRejected)
			exchange.Status = domain.ExchangeStatusRejected
			return exchange, "", fmt.Errorf("code_edit_agentic turn %d: %w", turn, err)
		}
		messages = history

		if parsed.ToolInput.Name == domain.ToolAttemptCompletion {
			completionResult = parsed.ToolInput.AttemptCompletion.Result
			break
		}

		if parsed.ToolInput.Name == domain.ToolCodeEdit && parsed.ToolInput.CodeEdit != nil {
			if snapshot := s.captureSnapshot([]string{parsed.ToolInput.CodeEdit.FilePath}); snapshot != nil {
				if exchange.PreEditSnapshot == nil {
					exchange.PreEditSnapshot = make(map[string]string)
				}
				for path, content := range snapshot {
					if _, captured := exchange.PreEditSnapshot[path]; !captured {
						exchange.PreEditSnapshot[path] = content
					}
				}
			}
		}

		output, dispatchErr := s.Tools.Dispatch(props, parsed.ToolInput)
		if dispatchErr != nil {
			s.finishExchange(ctx, exchange, domain.ExchangeStatusRejected)
			exchange.Status = domain.ExchangeStatusRejected
			return exchange, "", fmt.Errorf("code_edit_agentic tool dispatch: %w", dispatchErr)
		}
		messages = append(messages, agent.EncodeObservation(output))

		if s.Events != nil {
			if pubErr := s.Events.Publish(ctx, sess.WorkspaceId, sess.Id, domain.ProgressTextEvent{
				EventType: domain.ProgressTextEventType,
				ParentId:  exchange.Id,
				Text:      fmt.Sprintf("ran %s", output.Name),
			}); pubErr != nil {
				log.Debug().Err(pubErr).Msg("failed to publish tool-use progress event")
			}
		}
	}

	status := domain.ExchangeStatusCompleted
	if completionResult == "" {
		status = domain.ExchangeStatusRejected
	}
	exchange.Status = status
	if err := s.finishExchange(ctx, exchange, status); err != nil {
		return exchange, completionResult, err
	}
	return exchange, completionResult, nil
}

// FeedbackForExchange attaches human feedback to a completed exchange,
// spec.md §4.E's feedback_for_exchange operation.
func (s *Service) FeedbackForExchange(ctx context.Context, sessionId, exchangeId, feedback string) error {
	exchange, err := s.Exchanges.GetExchange(ctx, sessionId, exchangeId)
	if err != nil {
		return fmt.Errorf("feedback_for_exchange: %w", err)
	}
	exchange.Feedback = feedback
	exchange.UpdatedAt = time.Now().UTC()
	return s.Exchanges.PersistExchange(ctx, exchange)
}

// SetExchangeAsCancelled cancels an in-flight exchange's context (aborting
// any running Tool-Use Agent turn or tool dispatch), per spec.md §4.E
// operation 7. It is idempotent: the status transition only fires from
// Running, so calling it twice (or against an already-terminal exchange)
// leaves the exchange's terminal status untouched. The returned bool
// reports whether a cancellation signal actually needed to be sent, per
// spec.md §8's "the second call returns false" property.
func (s *Service) SetExchangeAsCancelled(ctx context.Context, sessionId, exchangeId string) (bool, error) {
	signalSent := s.Cancels.Cancel(exchangeId)

	exchange, err := s.Exchanges.GetExchange(ctx, sessionId, exchangeId)
	if err != nil {
		return false, fmt.Errorf("set_exchange_as_cancelled: %w", err)
	}
	if exchange.Status == domain.ExchangeStatusRunning {
		exchange.Status = domain.ExchangeStatusCancelled
		exchange.UpdatedAt = time.Now().UTC()
		if err := s.Exchanges.PersistExchange(ctx, exchange); err != nil {
			return false, fmt.Errorf("set_exchange_as_cancelled: %w", err)
		}
	}
	return signalSent, nil
}

// HandleSessionUndo implements spec.md §4.E op 6 / §8 scenario #6: it drops
// fromExchangeId and every exchange created at or after it, restoring each
// dropped exchange's PreEditSnapshot to disk in the order those exchanges
// originally ran, then rewinds the session head to the parent of the
// earliest dropped exchange.
func (s *Service) HandleSessionUndo(ctx context.Context, sess domain.Session, fromExchangeId string) (domain.Session, error) {
	dropped, err := s.Exchanges.DeleteExchangesFrom(ctx, sess.Id, fromExchangeId)
	if err != nil {
		return domain.Session{}, fmt.Errorf("handle_session_undo: %w", err)
	}

	for _, exchange := range dropped {
		for path, content := range exchange.PreEditSnapshot {
			absPath := filepath.Join(s.BaseDir, path)
			if err := os.WriteFile(absPath, []byte(content), 0644); err != nil {
				return domain.Session{}, fmt.Errorf("handle_session_undo: restore %s: %w", path, err)
			}
		}
	}

	sess.CurrentExchangeId = dropped[0].ParentId
	sess.UpdatedAt = time.Now().UTC()
	if err := s.Sessions.PersistSession(ctx, sess); err != nil {
		return domain.Session{}, fmt.Errorf("handle_session_undo: %w", err)
	}
	return sess, nil
}
