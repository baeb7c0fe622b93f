package hostalloc

import (
	"sync"

	"github.com/spaghettifunk/vkharness/engine/core"
)

// Set owns one Adapter per Category, all sharing a Heap.
type Set struct {
	heap     *Heap
	adapters [categoryCount]*Adapter

	closeOnce sync.Once
	closeErr  error
}

func NewSet(opts ...HeapOption) (*Set, error) {
	heap, err := NewHeap(opts...)
	if err != nil {
		return nil, err
	}
	s := &Set{heap: heap}
	for _, c := range Categories() {
		s.adapters[c] = newAdapter(heap, c)
	}
	return s, nil
}

// For returns the adapter serving category c. A nil Set yields nil, which
// drivers read as "use the default allocator".
func (s *Set) For(c Category) *Adapter {
	if s == nil {
		return nil
	}
	return s.adapters[c]
}

// Live is the leak-check hook: outstanding blocks across every category.
func (s *Set) Live() (blocks int, bytes uintptr) {
	return s.heap.Live()
}

func (s *Set) Report() map[Category]Stats {
	out := make(map[Category]Stats, categoryCount)
	for _, a := range s.adapters {
		out[a.category] = a.Stats()
	}
	return out
}

// LogReport writes per-category counters and warns about leaked blocks.
func (s *Set) LogReport() {
	for _, a := range s.adapters {
		st := a.Stats()
		if st.Allocations == 0 && st.Frees == 0 && st.Failures == 0 {
			continue
		}
		core.LogDebug("host allocations [%s]: alloc=%d realloc=%d free=%d failed=%d in=%dB out=%dB",
			a.category, st.Allocations, st.Reallocations, st.Frees, st.Failures, st.BytesIn, st.BytesOut)
	}
	if blocks, bytes := s.Live(); blocks > 0 {
		core.LogWarn("host allocator: %d blocks (%d bytes) still live", blocks, bytes)
	}
}

// Close releases the adapter handles and the heap. Counters stay readable.
func (s *Set) Close() error {
	s.closeOnce.Do(func() {
		for _, a := range s.adapters {
			a.release()
		}
		s.closeErr = s.heap.Close()
	})
	return s.closeErr
}
