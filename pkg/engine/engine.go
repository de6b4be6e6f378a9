// Package engine is the room state machine: it owns room lifecycles,
// dispatches inbound commands, serializes per-room mutations through a
// mailbox, and drives chapter progression.
package engine

import (
	"log/slog"
	"sync"

	"github.com/parlorgames/parlor/pkg/bus"
	"github.com/parlorgames/parlor/pkg/chapter"
	"github.com/parlorgames/parlor/pkg/config"
	"github.com/parlorgames/parlor/pkg/feedback"
	"github.com/parlorgames/parlor/pkg/llm"
	"github.com/parlorgames/parlor/pkg/memory"
	"github.com/parlorgames/parlor/pkg/queue"
	"github.com/parlorgames/parlor/pkg/store"
)

// Engine coordinates every live room in the process.
type Engine struct {
	store        *store.Store
	bus          *bus.Bus
	queue        *queue.Queue
	chapters     *chapter.Manager
	evaluator    *feedback.Evaluator
	memory       *memory.Manager
	availability *llm.AvailabilityCache
	config       *config.Config

	mu      sync.Mutex
	actors  map[string]*actor
	stopped bool
}

// New creates the engine over its collaborating services.
func New(
	st *store.Store,
	b *bus.Bus,
	q *queue.Queue,
	chapters *chapter.Manager,
	evaluator *feedback.Evaluator,
	mem *memory.Manager,
	availability *llm.AvailabilityCache,
	cfg *config.Config,
) *Engine {
	return &Engine{
		store:        st,
		bus:          b,
		queue:        q,
		chapters:     chapters,
		evaluator:    evaluator,
		memory:       mem,
		availability: availability,
		config:       cfg,
		actors:       make(map[string]*actor),
	}
}

// actorFor returns the room's mailbox actor, creating it on first use.
func (e *Engine) actorFor(roomID string) (*actor, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil, ErrRoomClosed
	}
	if a, ok := e.actors[roomID]; ok {
		return a, nil
	}
	a := newActor(roomID, e.config.Engine.MailboxSize)
	e.actors[roomID] = a
	return a, nil
}

// RoomCount reports how many rooms currently have live actors.
func (e *Engine) RoomCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.actors)
}

// dropActor shuts down and forgets a room's actor.
func (e *Engine) dropActor(roomID string) {
	e.mu.Lock()
	a, ok := e.actors[roomID]
	delete(e.actors, roomID)
	e.mu.Unlock()
	if ok {
		a.close()
	}
}

// Stop shuts down every room actor. Outstanding provider calls fail on
// re-apply with ErrRoomClosed and write nothing.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.stopped = true
	actors := make([]*actor, 0, len(e.actors))
	for _, a := range e.actors {
		actors = append(actors, a)
	}
	e.actors = make(map[string]*actor)
	e.mu.Unlock()

	for _, a := range actors {
		a.close()
	}
	slog.Info("Engine stopped", "rooms", len(actors))
}
