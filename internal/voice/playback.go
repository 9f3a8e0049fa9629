package voice

import (
	"context"

	"github.com/antoniostano/concierge/internal/audio"
)

// playbackWorker plays received payloads one at a time in arrival order and
// reports each outcome on results.
type playbackWorker struct {
	player  audio.Player
	queue   chan []byte
	results chan error
}

func newPlaybackWorker(player audio.Player, size int) *playbackWorker {
	return &playbackWorker{
		player:  player,
		queue:   make(chan []byte, size),
		results: make(chan error, size),
	}
}

// enqueue reports false when the queue is full and the payload was dropped.
func (w *playbackWorker) enqueue(payload []byte) bool {
	select {
	case w.queue <- payload:
		return true
	default:
		return false
	}
}

func (w *playbackWorker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-w.queue:
			err := w.player.Play(ctx, payload)
			if ctx.Err() != nil {
				return
			}
			select {
			case w.results <- err:
			case <-ctx.Done():
				return
			}
		}
	}
}
