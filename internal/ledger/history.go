package ledger

import (
	"time"

	"github.com/google/uuid"

	"github.com/xtding233/gratonite-lab/internal/catalog"
)

// PullResult is the outcome of one open. Immutable once returned.
type PullResult struct {
	ID                  uuid.UUID     `json:"id"`
	Entry               catalog.Entry `json:"entry"`
	IsDuplicate         bool          `json:"isDuplicate"`
	DuplicateCountAfter int           `json:"duplicateCountAfter"`
	DustAwarded         int           `json:"dustAwarded"`
	PulledAt            time.Time     `json:"pulledAt"`
}

// DefaultHistoryCapacity is how many recent pulls are kept when none is configured.
const DefaultHistoryCapacity = 20

// History is a fixed-capacity ring of pull results, newest first.
type History struct {
	buf  []PullResult
	head int // index of the next write
	size int
}

// NewHistory returns an empty history; capacity <= 0 uses DefaultHistoryCapacity.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryCapacity
	}
	return &History{buf: make([]PullResult, capacity)}
}

// Push adds r as the newest result, evicting the oldest when full.
func (h *History) Push(r PullResult) {
	h.buf[h.head] = r
	h.head = (h.head + 1) % len(h.buf)
	if h.size < len(h.buf) {
		h.size++
	}
}

// Snapshot returns the stored results, newest first.
func (h *History) Snapshot() []PullResult {
	out := make([]PullResult, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.head-1-i+len(h.buf))%len(h.buf)]
	}
	return out
}

// Latest returns the most recent result, if any.
func (h *History) Latest() (PullResult, bool) {
	if h.size == 0 {
		return PullResult{}, false
	}
	return h.buf[(h.head-1+len(h.buf))%len(h.buf)], true
}

func (h *History) Len() int { return h.size }
func (h *History) Cap() int { return len(h.buf) }

func (h *History) Clear() {
	h.buf = make([]PullResult, len(h.buf))
	h.head, h.size = 0, 0
}
