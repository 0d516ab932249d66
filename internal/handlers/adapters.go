package handlers

import (
	"context"
	"time"

	"github.com/sonroyaalmerol/mizubot/internal/player"
	"github.com/sonroyaalmerol/mizubot/internal/resolver"
	"github.com/sonroyaalmerol/mizubot/internal/stream"
	"github.com/sonroyaalmerol/mizubot/internal/voice"
)

// pipelineAdapter narrows *stream.Pipeline to the engine's Pipeline
// interface (the concrete return type doesn't satisfy it directly).
type pipelineAdapter struct {
	p *stream.Pipeline
}

func (a pipelineAdapter) Stream(ctx context.Context, src *resolver.ResolvedStream, startAt time.Duration) (player.AudioStream, error) {
	return a.p.Stream(ctx, src, startAt)
}

// sinkProvider narrows *voice.Manager the same way.
type sinkProvider struct {
	vm *voice.Manager
}

func (s sinkProvider) Sink(guildID string) (player.Sink, bool) {
	conn, ok := s.vm.Sink(guildID)
	if !ok {
		return nil, false
	}
	return conn, true
}

func newEncoder() (player.Encoder, error) {
	return stream.NewEncoder()
}
