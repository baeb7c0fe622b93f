package hostalloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSet(t *testing.T, opts ...HeapOption) *Set {
	t.Helper()
	s, err := NewSet(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAllocationHonoursAlignment(t *testing.T) {
	s := newTestSet(t)
	a := s.For(BufferCreation)

	for _, alignment := range []uintptr{1, 8, 64, 256, 4096} {
		ptr := a.Allocation(100, alignment, ScopeObject)
		require.NotNil(t, ptr)
		assert.Zero(t, uintptr(ptr)%alignment, "alignment %d", alignment)
		a.Free(ptr)
	}

	blocks, bytes := s.Live()
	assert.Zero(t, blocks)
	assert.Zero(t, bytes)
}

func TestAllocationRejectsBadAlignment(t *testing.T) {
	s := newTestSet(t)
	a := s.For(ImageCreation)

	assert.Nil(t, a.Allocation(64, 24, ScopeObject))
	assert.Nil(t, a.Allocation(0, 8, ScopeObject))
	assert.Equal(t, uint64(2), a.Stats().Failures)
}

func TestReallocationPreservesContents(t *testing.T) {
	s := newTestSet(t)
	a := s.For(DeviceCreation)

	ptr := a.Allocation(16, 8, ScopeDevice)
	require.NotNil(t, ptr)
	buf := unsafe.Slice((*byte)(ptr), 16)
	for i := range buf {
		buf[i] = byte(i + 1)
	}

	grown := a.Reallocation(ptr, 64, 16, ScopeDevice)
	require.NotNil(t, grown)
	assert.Zero(t, uintptr(grown)%16)
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}, unsafe.Slice((*byte)(grown), 16))

	shrunk := a.Reallocation(grown, 4, 8, ScopeDevice)
	require.NotNil(t, shrunk)
	assert.Equal(t, []byte{1, 2, 3, 4}, unsafe.Slice((*byte)(shrunk), 4))

	blocks, bytes := s.Live()
	assert.Equal(t, 1, blocks)
	assert.Equal(t, uintptr(4), bytes)

	assert.Nil(t, a.Reallocation(shrunk, 0, 8, ScopeDevice))
	blocks, _ = s.Live()
	assert.Zero(t, blocks)
}

func TestReallocationOfNilAllocates(t *testing.T) {
	s := newTestSet(t)
	a := s.For(SwapchainCreation)

	ptr := a.Reallocation(nil, 32, 8, ScopeObject)
	require.NotNil(t, ptr)
	assert.Equal(t, uint64(1), a.Stats().Allocations)
	a.Free(ptr)
}

func TestFreeNilIsNoop(t *testing.T) {
	s := newTestSet(t)
	a := s.For(MemoryDeallocation)
	a.Free(nil)
	assert.Zero(t, a.Stats().Frees)
}

func TestBudgetExhaustionReturnsNil(t *testing.T) {
	s := newTestSet(t, WithBudget(128))
	a := s.For(MemoryAllocation)

	first := a.Allocation(100, 8, ScopeObject)
	require.NotNil(t, first)
	assert.Nil(t, a.Allocation(100, 8, ScopeObject))

	// a failed grow leaves the original block untouched
	assert.Nil(t, a.Reallocation(first, 200, 8, ScopeObject))
	blocks, bytes := s.Live()
	assert.Equal(t, 1, blocks)
	assert.Equal(t, uintptr(100), bytes)

	a.Free(first)
	assert.NotNil(t, a.Allocation(120, 8, ScopeObject))
}

func TestCrossCategoryFree(t *testing.T) {
	s := newTestSet(t)
	create := s.For(BufferCreation)
	destroy := s.For(BufferDestruction)

	ptr := create.Allocation(48, 8, ScopeObject)
	require.NotNil(t, ptr)
	destroy.Free(ptr)

	assert.Equal(t, uint64(1), create.Stats().Allocations)
	assert.Equal(t, uint64(1), destroy.Stats().Frees)
	blocks, _ := s.Live()
	assert.Zero(t, blocks)
}

func TestTrampolinesReachAdapter(t *testing.T) {
	s := newTestSet(t)
	a := s.For(InstanceCreation)
	ctx := a.Context()

	ptr := Allocation(ctx, 24, 8, ScopeInstance)
	require.NotNil(t, ptr)
	ptr = Reallocation(ctx, ptr, 48, 8, ScopeInstance)
	require.NotNil(t, ptr)
	Free(ctx, ptr)
	Free(ctx, nil)

	st := a.Stats()
	assert.Equal(t, uint64(1), st.Allocations)
	assert.Equal(t, uint64(1), st.Reallocations)
	assert.Equal(t, uint64(1), st.Frees)
}

func TestNilSetYieldsNilAdapter(t *testing.T) {
	var s *Set
	assert.Nil(t, s.For(DeviceCreation))
}

func TestCategoryNames(t *testing.T) {
	assert.Len(t, Categories(), int(categoryCount))
	assert.Equal(t, "sparse image creation", SparseImageCreation.String())
	assert.Equal(t, "category(99)", Category(99).String())
	assert.Equal(t, "device", ScopeDevice.String())
}
