package hostalloc

import (
	"runtime/cgo"
	"sync/atomic"
	"unsafe"
)

// Context is the opaque value handed to the driver as pUserData. It
// resolves back to the Adapter without exposing a Go pointer to C.
type Context uintptr

type Stats struct {
	Allocations   uint64
	Reallocations uint64
	Frees         uint64
	Failures      uint64
	BytesIn       uint64
	BytesOut      uint64
}

// Adapter serves one allocation category on top of a shared Heap.
type Adapter struct {
	heap     *Heap
	category Category
	handle   cgo.Handle

	allocations   atomic.Uint64
	reallocations atomic.Uint64
	frees         atomic.Uint64
	failures      atomic.Uint64
	bytesIn       atomic.Uint64
	bytesOut      atomic.Uint64
}

func newAdapter(heap *Heap, category Category) *Adapter {
	a := &Adapter{
		heap:     heap,
		category: category,
	}
	a.handle = cgo.NewHandle(a)
	return a
}

func (a *Adapter) Category() Category {
	return a.category
}

func (a *Adapter) Context() Context {
	return Context(a.handle)
}

// Allocation returns size bytes aligned to alignment, or nil when the heap
// is exhausted or the alignment is not a power of two.
func (a *Adapter) Allocation(size, alignment uintptr, scope Scope) unsafe.Pointer {
	ptr := a.heap.alloc(size, alignment)
	if ptr == nil {
		a.failures.Add(1)
		return nil
	}
	a.allocations.Add(1)
	a.bytesIn.Add(uint64(size))
	return ptr
}

// Reallocation keeps the first min(old, size) bytes of orig. A nil orig
// allocates, a zero size frees.
func (a *Adapter) Reallocation(orig unsafe.Pointer, size, alignment uintptr, scope Scope) unsafe.Pointer {
	if orig == nil {
		return a.Allocation(size, alignment, scope)
	}
	if size == 0 {
		a.Free(orig)
		return nil
	}
	ptr := a.heap.realloc(orig, size, alignment)
	if ptr == nil {
		a.failures.Add(1)
		return nil
	}
	a.reallocations.Add(1)
	return ptr
}

// Free is a no-op for nil.
func (a *Adapter) Free(ptr unsafe.Pointer) {
	if ptr == nil {
		return
	}
	if size, ok := a.heap.free(ptr); ok {
		a.frees.Add(1)
		a.bytesOut.Add(uint64(size))
	}
}

func (a *Adapter) Stats() Stats {
	return Stats{
		Allocations:   a.allocations.Load(),
		Reallocations: a.reallocations.Load(),
		Frees:         a.frees.Load(),
		Failures:      a.failures.Load(),
		BytesIn:       a.bytesIn.Load(),
		BytesOut:      a.bytesOut.Load(),
	}
}

func (a *Adapter) release() {
	a.handle.Delete()
}

func lookup(ctx Context) *Adapter {
	return cgo.Handle(ctx).Value().(*Adapter)
}

// Allocation is the driver-facing trampoline for pfnAllocation.
func Allocation(ctx Context, size, alignment uintptr, scope Scope) unsafe.Pointer {
	return lookup(ctx).Allocation(size, alignment, scope)
}

// Reallocation is the driver-facing trampoline for pfnReallocation.
func Reallocation(ctx Context, orig unsafe.Pointer, size, alignment uintptr, scope Scope) unsafe.Pointer {
	return lookup(ctx).Reallocation(orig, size, alignment, scope)
}

// Free is the driver-facing trampoline for pfnFree.
func Free(ctx Context, ptr unsafe.Pointer) {
	lookup(ctx).Free(ptr)
}
