package bus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(ch <-chan Event) []Event {
	var out []Event
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func TestEmitRoomScope(t *testing.T) {
	b := New()
	ch1, cancel1 := b.Subscribe("r1", "p1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("r1", "p2")
	defer cancel2()
	other, cancelOther := b.Subscribe("r2", "p3")
	defer cancelOther()

	b.Emit(Room("r1"), "new_message", "hello")

	assert.Len(t, drain(ch1), 1)
	assert.Len(t, drain(ch2), 1)
	assert.Empty(t, drain(other))
}

func TestEmitPlayerScope(t *testing.T) {
	b := New()
	ch1, cancel1 := b.Subscribe("r1", "p1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("r1", "p2")
	defer cancel2()

	b.Emit(Player("r1", "p1"), "story_machine_init", nil)

	assert.Len(t, drain(ch1), 1)
	assert.Empty(t, drain(ch2))
}

func TestEmitRoomExceptScope(t *testing.T) {
	b := New()
	ch1, cancel1 := b.Subscribe("r1", "p1")
	defer cancel1()
	ch2, cancel2 := b.Subscribe("r1", "p2")
	defer cancel2()

	b.Emit(RoomExcept("r1", "p1"), "player_left", nil)

	assert.Empty(t, drain(ch1))
	assert.Len(t, drain(ch2), 1)
}

func TestPerSubscriberOrdering(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("r1", "p1")
	defer cancel()

	for i := 0; i < 10; i++ {
		b.Emit(Room("r1"), "new_message", i)
	}
	events := drain(ch)
	require.Len(t, events, 10)
	for i, ev := range events {
		assert.Equal(t, i, ev.Payload)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("r1", "p1")
	assert.Equal(t, 1, b.SubscriberCount("r1"))

	cancel()
	cancel() // idempotent
	assert.Equal(t, 0, b.SubscriberCount("r1"))

	_, open := <-ch
	assert.False(t, open)

	// Emitting after unsubscribe is a no-op.
	b.Emit(Room("r1"), "new_message", nil)
}

func TestSlowSubscriberDropsNotBlocks(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("r1", "p1")
	defer cancel()

	for i := 0; i < subscriberBuffer+5; i++ {
		b.Emit(Room("r1"), "new_message", i)
	}
	assert.Len(t, drain(ch), subscriberBuffer)
}
