package dialog

// History is a fixed-capacity ring buffer of turns; pushing into a full buffer evicts the oldest turn
type History struct {
	turns []Turn
	start int
	size  int
}

// NewHistory creates a buffer holding at most capacity turns
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}

	return &History{turns: make([]Turn, capacity)}
}

// Push appends a turn
func (h *History) Push(turn Turn) {
	capacity := len(h.turns)

	if h.size < capacity {
		h.turns[(h.start+h.size)%capacity] = turn
		h.size++

		return
	}

	h.turns[h.start] = turn
	h.start = (h.start + 1) % capacity
}

// Turns returns the retained turns, oldest first
func (h *History) Turns() []Turn {
	out := make([]Turn, h.size)
	for i := range out {
		out[i] = h.turns[(h.start+i)%len(h.turns)]
	}

	return out
}

// Last returns the most recent turn
func (h *History) Last() (Turn, bool) {
	if h.size == 0 {
		return Turn{}, false
	}

	return h.turns[(h.start+h.size-1)%len(h.turns)], true
}

func (h *History) Len() int { return h.size }

func (h *History) Cap() int { return len(h.turns) }

// Clear drops every turn
func (h *History) Clear() {
	clear(h.turns)
	h.start = 0
	h.size = 0
}
