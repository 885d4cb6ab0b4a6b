package conversation

// History is a fixed-capacity ring buffer of messages. Pushing into a full
// History evicts the oldest message first.
type History struct {
	buf   []Message
	start int
	size  int
}

// NewHistory returns an empty History holding at most capacity messages.
// A capacity below one is treated as one.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]Message, capacity)}
}

// Cap returns the maximum number of messages.
func (h *History) Cap() int { return len(h.buf) }

// Len returns the number of messages held.
func (h *History) Len() int { return h.size }

// Push appends m. When the buffer is full the oldest message is dropped and
// returned with evicted set to true.
func (h *History) Push(m Message) (dropped Message, evicted bool) {
	if h.size == len(h.buf) {
		dropped = h.buf[h.start]
		h.buf[h.start] = m
		h.start = (h.start + 1) % len(h.buf)
		return dropped, true
	}
	h.buf[(h.start+h.size)%len(h.buf)] = m
	h.size++
	return Message{}, false
}

// Items returns a copy of the messages, oldest first.
func (h *History) Items() []Message {
	out := make([]Message, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Clear drops every message.
func (h *History) Clear() {
	for i := range h.buf {
		h.buf[i] = Message{}
	}
	h.start = 0
	h.size = 0
}
