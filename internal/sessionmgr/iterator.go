package sessionmgr

import (
	"context"
	"errors"
	"time"

	"github.com/sebastienvg/claude-mem/internal/store"
	"github.com/sebastienvg/claude-mem/pkg/models"
)

// defaultPollTimeout bounds how long the iterator waits on the per-session
// notifier before re-polling, per spec.md §4.E's "suspends ... with a short
// timeout" (a safety net against a missed broadcast).
const defaultPollTimeout = 2 * time.Second

// messageIterator implements spec.md §4.E's getMessageIterator: a
// finite-until-cancelled lazy sequence over a session's pending queue.
type messageIterator struct {
	store       store.Store
	sessionDbID int64
	pollTimeout time.Duration
}

func newMessageIterator(st store.Store, sessionDbID int64) *messageIterator {
	return &messageIterator{store: st, sessionDbID: sessionDbID, pollTimeout: defaultPollTimeout}
}

// Next claims the next pending message for the session, blocking until one
// arrives, the session is no longer active, or ctx is cancelled. A nil
// message with a nil error signals the iterator is exhausted (session
// completed or failed); a nil message with a non-nil error signals
// cancellation or a Store failure.
func (it *messageIterator) Next(ctx context.Context) (*models.PendingMessage, error) {
	for {
		msg, err := it.store.ClaimNextForSession(ctx, it.sessionDbID)
		if err == nil {
			return msg, nil
		}
		if !errors.Is(err, store.ErrNoClaim) {
			return nil, err
		}

		sess, sErr := it.store.GetSessionByID(ctx, it.sessionDbID)
		if sErr == nil && sess.Status != models.SessionActive {
			return nil, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-it.store.Notify(it.sessionDbID):
		case <-time.After(it.pollTimeout):
		}
	}
}
