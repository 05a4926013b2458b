package bridge

import "sync"

// messageQueue is a bounded FIFO for one channel. Audio messages are capped
// at capacity and the oldest audio message is dropped to make room. Call-state
// messages are never dropped and do not count against the capacity. Push
// never blocks.
type messageQueue struct {
	mu       sync.Mutex
	items    []Message
	audio    int
	capacity int
	dropped  uint64
	ready    chan struct{}
}

func newMessageQueue(capacity int) *messageQueue {
	if capacity < 1 {
		capacity = 1
	}
	return &messageQueue{
		items:    make([]Message, 0, capacity),
		capacity: capacity,
		ready:    make(chan struct{}, 1),
	}
}

func isControl(msg Message) bool {
	return msg.Event == EventCallState
}

// Push appends msg and reports whether an older audio message was discarded
// to make room.
func (q *messageQueue) Push(msg Message) bool {
	q.mu.Lock()
	dropped := false
	if !isControl(msg) {
		if q.audio == q.capacity {
			q.removeOldestAudio()
			q.dropped++
			dropped = true
		}
		q.audio++
	}
	q.items = append(q.items, msg)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

func (q *messageQueue) removeOldestAudio() {
	for i, item := range q.items {
		if isControl(item) {
			continue
		}
		copy(q.items[i:], q.items[i+1:])
		q.items[len(q.items)-1] = Message{}
		q.items = q.items[:len(q.items)-1]
		q.audio--
		return
	}
}

// Pop removes and returns the oldest message.
func (q *messageQueue) Pop() (Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Message{}, false
	}
	msg := q.items[0]
	copy(q.items, q.items[1:])
	q.items[len(q.items)-1] = Message{}
	q.items = q.items[:len(q.items)-1]
	if !isControl(msg) {
		q.audio--
	}
	return msg, true
}

// Ready is signalled after every Push.
func (q *messageQueue) Ready() <-chan struct{} {
	return q.ready
}

func (q *messageQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the number of messages discarded so far.
func (q *messageQueue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
