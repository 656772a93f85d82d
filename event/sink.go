package event

import (
	"context"

	"sidecar/domain"
)

// Sink adapts a Streamer to session.EventSink: the Session Service plays the
// role the teacher's Flow plays as a stream's second key component, so a
// session's events live under its own sessionId exactly where a flowId
// would otherwise go.
type Sink struct {
	Streamer *Streamer
}

func NewSink(streamer *Streamer) *Sink {
	return &Sink{Streamer: streamer}
}

func (s *Sink) Publish(ctx context.Context, workspaceId, sessionId string, evt domain.FlowEvent) error {
	return s.Streamer.AddFlowEvent(ctx, workspaceId, sessionId, evt)
}
