package hostalloc

import (
	"sync"
	"unsafe"

	"github.com/CannibalVox/cgoalloc"
)

type block struct {
	base      unsafe.Pointer
	size      uintptr
	alignment uintptr
}

// Heap is the allocation policy shared by every Adapter of a Set. It hands
// out aligned blocks carved from a cgoalloc.Allocator and remembers every
// live block, so a block allocated through one category can be released
// through another.
type Heap struct {
	backing cgoalloc.Allocator
	owned   bool

	mu        sync.Mutex
	blocks    map[uintptr]block
	liveBytes uintptr
	budget    uintptr
}

type HeapOption func(*Heap)

// WithBudget caps the live bytes handed out. Requests past the cap fail
// with a nil pointer, the same way an exhausted backing allocator does.
func WithBudget(bytes uintptr) HeapOption {
	return func(h *Heap) {
		h.budget = bytes
	}
}

// WithBacking replaces the default tiered C allocator. The caller keeps
// ownership of backing and destroys it after the heap is closed.
func WithBacking(backing cgoalloc.Allocator) HeapOption {
	return func(h *Heap) {
		h.backing = backing
		h.owned = false
	}
}

func NewHeap(opts ...HeapOption) (*Heap, error) {
	h := &Heap{
		blocks: make(map[uintptr]block),
	}
	for _, o := range opts {
		o(h)
	}
	if h.backing == nil {
		backing, err := tieredBacking()
		if err != nil {
			return nil, err
		}
		h.backing = backing
		h.owned = true
	}
	return h, nil
}

// tieredBacking serves small driver allocations from fixed-size blocks and
// falls back to malloc for everything else.
func tieredBacking() (cgoalloc.Allocator, error) {
	defAlloc := &cgoalloc.DefaultAllocator{}
	lowTier, err := cgoalloc.CreateFixedBlockAllocator(defAlloc, 64*1024, 64, 8)
	if err != nil {
		return nil, err
	}
	highTier, err := cgoalloc.CreateFixedBlockAllocator(defAlloc, 4096*1024, 4096, 8)
	if err != nil {
		return nil, err
	}
	alloc := cgoalloc.CreateFallbackAllocator(highTier, defAlloc)
	return cgoalloc.CreateFallbackAllocator(lowTier, alloc), nil
}

func isPowerOfTwo(v uintptr) bool {
	return v != 0 && v&(v-1) == 0
}

func (h *Heap) alloc(size, alignment uintptr) unsafe.Pointer {
	if size == 0 {
		return nil
	}
	if alignment == 0 {
		alignment = 1
	}
	if !isPowerOfTwo(alignment) {
		return nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.budget != 0 && h.liveBytes+size > h.budget {
		return nil
	}

	base := h.backing.Malloc(int(size + alignment - 1))
	if base == nil {
		return nil
	}
	pad := (alignment - uintptr(base)%alignment) % alignment
	ptr := unsafe.Add(base, pad)

	h.blocks[uintptr(ptr)] = block{base: base, size: size, alignment: alignment}
	h.liveBytes += size
	return ptr
}

// free releases ptr and reports the size it had. Unknown pointers are
// ignored and reported with ok == false.
func (h *Heap) free(ptr unsafe.Pointer) (size uintptr, ok bool) {
	if ptr == nil {
		return 0, false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.blocks[uintptr(ptr)]
	if !ok {
		return 0, false
	}
	delete(h.blocks, uintptr(ptr))
	h.liveBytes -= b.size
	h.backing.Free(b.base)
	return b.size, true
}

func (h *Heap) realloc(orig unsafe.Pointer, size, alignment uintptr) unsafe.Pointer {
	if orig == nil {
		return h.alloc(size, alignment)
	}
	if size == 0 {
		h.free(orig)
		return nil
	}

	h.mu.Lock()
	old, ok := h.blocks[uintptr(orig)]
	h.mu.Unlock()
	if !ok {
		return nil
	}

	ptr := h.alloc(size, alignment)
	if ptr == nil {
		// the original block stays valid on failure
		return nil
	}
	n := min(old.size, size)
	copy(unsafe.Slice((*byte)(ptr), n), unsafe.Slice((*byte)(orig), n))
	h.free(orig)
	return ptr
}

// Live returns the number of outstanding blocks and their total size.
func (h *Heap) Live() (blocks int, bytes uintptr) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.blocks), h.liveBytes
}

// Close destroys the backing allocator if the heap created it. Blocks
// still live at this point are leaked to the C heap.
func (h *Heap) Close() error {
	if h.owned && h.backing != nil {
		err := h.backing.Destroy()
		h.backing = nil
		return err
	}
	return nil
}
