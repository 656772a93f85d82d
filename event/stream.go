// Package event implements the UI Event Channel (spec.md §4.G): an
// in-process pub-sub of domain.FlowEvent values, keyed the same way the
// teacher's srv/redis.Streamer keys its XADD streams
// ("workspaceId:flowId:stream:parentId"), but backed by an in-memory ring
// buffer instead of Redis streams — spec.md's single-host Non-goal means
// there is no second host to coordinate with, so the distributed store has
// no job here (see DESIGN.md).
package event

import (
	"context"
	"fmt"
	"sync"
	"time"

	"sidecar/domain"
)

var _ domain.FlowEventStreamer = (*Streamer)(nil)

// Streamer holds one append-only event log per stream key. Logs are
// retained for the lifetime of the process; nothing is ever compacted,
// matching the 24h-TTL-then-gone lifecycle of the teacher's Redis streams
// closely enough for a single long-running server process.
type Streamer struct {
	mu      sync.Mutex
	streams map[string][]domain.FlowEvent
}

func NewStreamer() *Streamer {
	return &Streamer{streams: make(map[string][]domain.FlowEvent)}
}

func streamKey(workspaceId, flowId, parentId string) string {
	return fmt.Sprintf("%s:%s:stream:%s", workspaceId, flowId, parentId)
}

func (s *Streamer) AddFlowEvent(ctx context.Context, workspaceId string, flowId string, flowEvent domain.FlowEvent) error {
	key := streamKey(workspaceId, flowId, flowEvent.GetParentId())
	s.mu.Lock()
	s.streams[key] = append(s.streams[key], flowEvent)
	s.mu.Unlock()
	return nil
}

func (s *Streamer) EndFlowEventStream(ctx context.Context, workspaceId, flowId, eventStreamParentId string) error {
	return s.AddFlowEvent(ctx, workspaceId, flowId, domain.EndStreamEvent{
		EventType: domain.EndStreamEventType,
		ParentId:  eventStreamParentId,
	})
}

// StreamFlowEvents follows subscriptions arriving on subscriptionCh, each
// naming a ParentId to start tailing from StreamMessageStartId (an index
// into that stream's log, as a decimal string; "" means from the start).
// It polls rather than blocks, the same tradeoff the teacher's poller makes
// trading a little latency for a simple, lock-friendly implementation.
func (s *Streamer) StreamFlowEvents(ctx context.Context, workspaceId, flowId string, subscriptionCh <-chan domain.FlowEventSubscription) (<-chan domain.FlowEvent, <-chan error) {
	eventCh := make(chan domain.FlowEvent)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventCh)
		defer close(errCh)

		offsets := make(map[string]int)
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case sub, ok := <-subscriptionCh:
				if !ok {
					return
				}
				offsets[sub.ParentId] = parseStartOffset(sub.StreamMessageStartId)
			case <-ticker.C:
				for parentId, offset := range offsets {
					key := streamKey(workspaceId, flowId, parentId)
					s.mu.Lock()
					events := s.streams[key]
					s.mu.Unlock()
					for offset < len(events) {
						event := events[offset]
						offset++
						select {
						case <-ctx.Done():
							return
						case eventCh <- event:
							if _, ok := event.(domain.EndStreamEvent); ok {
								delete(offsets, parentId)
							}
						}
					}
					if _, stillTracked := offsets[parentId]; stillTracked {
						offsets[parentId] = offset
					}
				}
			}
		}
	}()

	return eventCh, errCh
}

func parseStartOffset(streamMessageStartId string) int {
	if streamMessageStartId == "" {
		return 0
	}
	var offset int
	if _, err := fmt.Sscanf(streamMessageStartId, "%d", &offset); err != nil {
		return 0
	}
	return offset
}
