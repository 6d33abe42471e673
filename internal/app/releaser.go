package service

import (
	"context"
	"fmt"

	"github.com/okian/readyroom/internal/adapters/mq/queue"
)

// queuedReleaser hands room releases to the worker pool and waits for the
// outcome, so the orchestrator sees one ReleaseRoom call per leave.
type queuedReleaser struct {
	queue     queue.Queue
	sessionID string
}

func (r queuedReleaser) ReleaseRoom(ctx context.Context, roomID string) error {
	result := make(chan error, 1)
	job := queue.Job{RoomID: roomID, SessionID: r.sessionID, Result: result}
	if !r.queue.Enqueue(ctx, job) {
		if r.queue.IsClosed() {
			return fmt.Errorf("release room %s: %w", roomID, queue.ErrStopped)
		}
		return fmt.Errorf("release room %s: %w", roomID, queue.ErrFull)
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
