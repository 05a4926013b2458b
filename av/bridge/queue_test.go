package bridge

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageQueue_DropsOldest(t *testing.T) {
	q := newMessageQueue(3)

	var drops int
	for i := 1; i <= 5; i++ {
		if q.Push(Message{CallID: strconv.Itoa(i)}) {
			drops++
		}
	}

	assert.Equal(t, 2, drops)
	assert.Equal(t, uint64(2), q.Dropped())
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"3", "4", "5"} {
		msg, ok := q.Pop()
		assert.True(t, ok)
		assert.Equal(t, want, msg.CallID)
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestMessageQueue_ReadySignal(t *testing.T) {
	q := newMessageQueue(2)
	q.Push(Message{})
	q.Push(Message{})

	select {
	case <-q.Ready():
	default:
		t.Fatal("expected ready signal after push")
	}

	// Signals coalesce.
	select {
	case <-q.Ready():
		t.Fatal("ready signal should coalesce")
	default:
	}
}

func TestMessageQueue_MinimumCapacity(t *testing.T) {
	q := newMessageQueue(0)
	q.Push(Message{CallID: "a"})
	q.Push(Message{CallID: "b"})

	msg, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, "b", msg.CallID)
}

func TestMessageQueue_KeepsCallStateUnderBacklog(t *testing.T) {
	q := newMessageQueue(2)

	q.Push(Message{Event: EventRTPAudio, CallID: "1"})
	q.Push(NewStateMessage("c", "connected"))
	var drops int
	for i := 2; i <= 6; i++ {
		if q.Push(Message{Event: EventRTPAudio, CallID: strconv.Itoa(i)}) {
			drops++
		}
	}

	assert.Equal(t, 4, drops)
	assert.Equal(t, 3, q.Len())

	var events []string
	for {
		msg, ok := q.Pop()
		if !ok {
			break
		}
		if msg.Event == EventCallState {
			events = append(events, msg.State)
		} else {
			events = append(events, msg.CallID)
		}
	}
	assert.Equal(t, []string{"connected", "5", "6"}, events)
}

func TestMessageQueue_CallStateDoesNotEvictAudio(t *testing.T) {
	q := newMessageQueue(1)

	assert.False(t, q.Push(Message{Event: EventRTPAudio, CallID: "1"}))
	assert.False(t, q.Push(NewStateMessage("c", "ringing")))
	assert.False(t, q.Push(NewStateMessage("c", "connected")))
	assert.Equal(t, 3, q.Len())

	msg, ok := q.Pop()
	assert.True(t, ok)
	assert.Equal(t, "1", msg.CallID)

	// The audio slot is free again.
	assert.False(t, q.Push(Message{Event: EventRTPAudio, CallID: "2"}))
}
