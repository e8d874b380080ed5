package engine

import "github.com/alejandrodnm/polytrader/internal/domain"

// ring keeps the last N cycle results.
type ring struct {
	buf  []domain.CycleResult
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]domain.CycleResult, size)}
}

func (r *ring) push(c domain.CycleResult) {
	r.buf[r.next] = c
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) len() int {
	if r.full {
		return len(r.buf)
	}
	return r.next
}

// list returns the entries oldest first.
func (r *ring) list() []domain.CycleResult {
	out := make([]domain.CycleResult, 0, r.len())
	if r.full {
		out = append(out, r.buf[r.next:]...)
	}
	return append(out, r.buf[:r.next]...)
}
