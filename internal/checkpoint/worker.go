// Package checkpoint periodically writes changed chats to the store.
package checkpoint

import (
	"context"
	"log/slog"
	"time"
)

// Flusher saves every chat that changed since its last save.
type Flusher interface {
	FlushAll(ctx context.Context) (int, error)
}

// StartWorker runs a background goroutine that flushes every interval until
// ctx is done. The returned channel closes once the goroutine has exited.
func StartWorker(ctx context.Context, f Flusher, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	go func() {
		defer close(done)
		defer ticker.Stop()
		slog.Info("Checkpoint worker started", "interval", interval)

		for {
			select {
			case <-ticker.C:
				runCheckpoint(ctx, f)
			case <-ctx.Done():
				slog.Info("Checkpoint worker shutting down", "reason", ctx.Err())
				return
			}
		}
	}()
	return done
}

func runCheckpoint(ctx context.Context, f Flusher) {
	saved, err := f.FlushAll(ctx)
	if err != nil {
		if ctx.Err() != nil {
			slog.Debug("Checkpoint interrupted by shutdown", "error", err)
			return
		}
		slog.Error("Checkpoint failed, unsaved chats will be retried", "saved", saved, "error", err)
		return
	}
	if saved > 0 {
		slog.Info("Checkpoint completed", "saved", saved)
	}
}

// FinalFlush saves outstanding changes during shutdown, after ctx-bound work
// has stopped.
func FinalFlush(f Flusher, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	saved, err := f.FlushAll(ctx)
	if err != nil {
		slog.Error("Final checkpoint failed", "saved", saved, "error", err)
		return err
	}
	slog.Info("Final checkpoint completed", "saved", saved)
	return nil
}
