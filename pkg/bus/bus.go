// Package bus is the in-process egress fan-out: the engine emits scoped
// events, transport adapters subscribe per player and forward them to
// clients. Delivery is best-effort and in-order per subscriber; history
// replay on reconnect goes through the repository, not the bus.
package bus

import (
	"log/slog"
	"sync"
	"time"
)

// subscriberBuffer is the per-subscription channel depth. A subscriber
// that stops draining loses events rather than stalling the engine.
const subscriberBuffer = 256

// Event is one scoped broadcast.
type Event struct {
	Name    string    `json:"event"`
	RoomID  string    `json:"room_id"`
	Payload any       `json:"payload"`
	At      time.Time `json:"at"`
}

// Scope selects the recipients of an emit within a room.
type Scope struct {
	RoomID string
	// PlayerID narrows delivery to one member (player-in-room scope).
	PlayerID string
	// ExceptPlayerID excludes one member (room-except scope).
	ExceptPlayerID string
}

// Room scopes the whole room.
func Room(roomID string) Scope { return Scope{RoomID: roomID} }

// Player scopes a single member of a room.
func Player(roomID, playerID string) Scope {
	return Scope{RoomID: roomID, PlayerID: playerID}
}

// RoomExcept scopes everyone in the room but one member.
func RoomExcept(roomID, playerID string) Scope {
	return Scope{RoomID: roomID, ExceptPlayerID: playerID}
}

type subscriber struct {
	playerID string
	roomID   string
	ch       chan Event
}

// Bus is the subscriber registry.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a player's room subscription and returns the event
// channel plus an unsubscribe func. The channel is closed on
// unsubscribe.
func (b *Bus) Subscribe(roomID, playerID string) (<-chan Event, func()) {
	sub := &subscriber{
		playerID: playerID,
		roomID:   roomID,
		ch:       make(chan Event, subscriberBuffer),
	}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Emit fans an event out to every matching subscriber. The call never
// blocks: a full subscriber buffer drops the event for that subscriber
// only.
func (b *Bus) Emit(scope Scope, name string, payload any) {
	event := Event{
		Name:    name,
		RoomID:  scope.RoomID,
		Payload: payload,
		At:      time.Now().UTC(),
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.roomID != scope.RoomID {
			continue
		}
		if scope.PlayerID != "" && sub.playerID != scope.PlayerID {
			continue
		}
		if scope.ExceptPlayerID != "" && sub.playerID == scope.ExceptPlayerID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			slog.Warn("Dropping event for slow subscriber",
				"event", name,
				"room_id", scope.RoomID,
				"player_id", sub.playerID)
		}
	}
}

// SubscriberCount reports the live subscriptions for a room.
func (b *Bus) SubscriberCount(roomID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for sub := range b.subs {
		if sub.roomID == roomID {
			n++
		}
	}
	return n
}
