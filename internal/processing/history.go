package processing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lendwatch/reconciler/internal/transfer"
)

type seenKey struct {
	processor string
	loanID    int
}

// History remembers which loans each processor has already handled, so that the side effects
// of a processor fire at most once per loan no matter how many matching transfers the
// marketplace returns for it.
type History struct {
	seen map[seenKey]time.Time
}

func NewHistory() *History {
	return &History{seen: make(map[seenKey]time.Time)}
}

func (h *History) Seen(processor string, loanID int) bool {
	_, ok := h.seen[seenKey{processor, loanID}]
	return ok
}

func (h *History) mark(processor string, loanID int, at time.Time) {
	h.seen[seenKey{processor, loanID}] = at
}

func (h *History) Len() int { return len(h.seen) }

// Retain forgets every loan with no transfer left in store. Call it with the rebased store so
// that the history is bounded by the same epoch watermark as the transfers themselves.
func (h *History) Retain(store *transfer.Transfers) int {
	live := make(map[int]struct{}, store.Len())
	for _, t := range store.Unprocessed() {
		live[t.LoanID] = struct{}{}
	}
	dropped := 0
	for k := range h.seen {
		if _, ok := live[k.loanID]; !ok {
			delete(h.seen, k)
			dropped++
		}
	}
	return dropped
}

// Entries returns the history keyed by "processor|loanID".
func (h *History) Entries() map[string]time.Time {
	out := make(map[string]time.Time, len(h.seen))
	for k, at := range h.seen {
		out[k.processor+"|"+strconv.Itoa(k.loanID)] = at
	}
	return out
}

// RestoreHistory is the inverse of Entries.
func RestoreHistory(entries map[string]time.Time) (*History, error) {
	h := NewHistory()
	for k, at := range entries {
		processor, id, ok := strings.Cut(k, "|")
		if !ok {
			return nil, fmt.Errorf("malformed history key %q", k)
		}
		loanID, err := strconv.Atoi(id)
		if err != nil {
			return nil, fmt.Errorf("malformed history key %q: %w", k, err)
		}
		h.seen[seenKey{processor, loanID}] = at
	}
	return h, nil
}

func (h *History) clone() *History {
	c := NewHistory()
	for k, at := range h.seen {
		c.seen[k] = at
	}
	return c
}
