// Package resource turns metrics snapshots into per-resource usage,
// trend and exhaustion forecasts.
package resource

import (
	"sync"

	"github.com/SandersNeo/perfdiag/src/ras"
)

// Ring is the bounded metrics history: a fixed-capacity ring buffer with
// one writer (the poll loop) and any number of readers. Readers always
// get a copy in insertion order, never a view of the backing array.
type Ring struct {
	mu   sync.RWMutex
	buf  []ras.ClusterMetrics
	next int
	full bool
}

// NewRing creates a ring holding the last capacity snapshots.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]ras.ClusterMetrics, capacity)}
}

// Append stores a snapshot, evicting the oldest when full.
func (r *Ring) Append(m ras.ClusterMetrics) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = m
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.full = true
	}
}

// Snapshots returns the retained history, oldest first.
func (r *Ring) Snapshots() []ras.ClusterMetrics {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.full {
		out := make([]ras.ClusterMetrics, r.next)
		copy(out, r.buf[:r.next])
		return out
	}
	out := make([]ras.ClusterMetrics, 0, len(r.buf))
	out = append(out, r.buf[r.next:]...)
	out = append(out, r.buf[:r.next]...)
	return out
}

// Len reports how many snapshots are retained.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.full {
		return len(r.buf)
	}
	return r.next
}
