package engine

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRoomClosed is returned for work submitted to a shut-down room.
var ErrRoomClosed = errors.New("room closed")

// actor serializes all state mutations for one room. Command handlers
// run in their caller's goroutine and funnel every read-modify-write
// through apply; provider calls happen between applies so the mailbox
// is never held across an LLM round-trip.
type actor struct {
	roomID  string
	mailbox chan func()

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}

	// Mutable room bookkeeping, touched only on the mailbox goroutine.
	lastAIOutput       time.Time
	lastPlayerActivity time.Time
	messagesSinceAI    int

	// Timers hold ids, never object references; their callbacks re-enter
	// through apply.
	feedbackTimers map[string]*time.Timer // chapterID → timer
	deleteTimer    *time.Timer
}

func newActor(roomID string, mailboxSize int) *actor {
	a := &actor{
		roomID:         roomID,
		mailbox:        make(chan func(), mailboxSize),
		closed:         make(chan struct{}),
		done:           make(chan struct{}),
		feedbackTimers: make(map[string]*time.Timer),
	}
	go a.run()
	return a
}

func (a *actor) run() {
	defer close(a.done)
	for {
		select {
		case fn := <-a.mailbox:
			fn()
		case <-a.closed:
			// Drain without executing: a closed room writes no further
			// mutations.
			for {
				select {
				case <-a.mailbox:
				default:
					return
				}
			}
		}
	}
}

// apply runs fn on the mailbox goroutine and waits for it.
func (a *actor) apply(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)
	wrapped := func() { result <- fn() }

	select {
	case a.mailbox <- wrapped:
	case <-a.closed:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-result:
		return err
	case <-a.closed:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops the mailbox and cancels every pending timer.
func (a *actor) close() {
	a.closeOnce.Do(func() {
		// Cancel timers from the mailbox goroutine if it is still
		// running; fall back to direct cancellation.
		cancelTimers := func() error {
			for _, t := range a.feedbackTimers {
				t.Stop()
			}
			if a.deleteTimer != nil {
				a.deleteTimer.Stop()
			}
			return nil
		}
		_ = a.apply(context.Background(), cancelTimers)
		close(a.closed)
		<-a.done
	})
}
