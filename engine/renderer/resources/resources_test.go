package resources

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/probe"
	"github.com/spaghettifunk/vkharness/engine/renderer/rendertest"
	"github.com/spaghettifunk/vkharness/engine/renderer/soft"
)

func newFactory(t *testing.T) (*Factory, *rendertest.Rig) {
	rig := rendertest.Default(t)
	return NewFactory(rig.Handles, rig.Snapshot), rig
}

func TestHostVisibleBufferRoundTrip(t *testing.T) {
	f, rig := newFactory(t)

	b, err := f.CreateBuffer("a", 1024, driver.BufferUsageStorageBufferBit)
	require.NoError(t, err)
	assert.False(t, b.Bound())

	mem, err := f.AllocateAndBindMemory(b, soft.MemoryTypeHostCoherent)
	require.NoError(t, err)
	assert.True(t, b.Bound())
	assert.Equal(t, b.Requirements.Size, mem.Size)
	assert.Same(t, mem, b.Memory())

	require.NoError(t, f.MapAndWrite(mem, 0, b.Size, []byte{0x03}))
	assert.False(t, mem.Dirty())
	require.NoError(t, f.Flush(mem))
	require.NoError(t, f.Unmap(mem))

	out, err := f.Read(mem, 0, b.Size)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x03}, 1024), out)
	require.NoError(t, f.Unmap(mem))

	f.DestroyBuffer(b)
	f.FreeMemory(mem)
	assert.Empty(t, rig.Soft.Violations())
}

func TestNonCoherentWritesMustBeFlushed(t *testing.T) {
	f, rig := newFactory(t)

	b, err := f.CreateBuffer("staging", 1024, driver.BufferUsageStorageBufferBit)
	require.NoError(t, err)
	mem, err := f.AllocateAndBindMemory(b, soft.MemoryTypeHostNonCoherent)
	require.NoError(t, err)

	require.NoError(t, f.MapAndWrite(mem, 0, 1024, []byte{0x03}))
	assert.True(t, mem.Dirty())
	err = f.Unmap(mem)
	assert.True(t, errors.Is(err, core.ErrUnflushedWrites))
	assert.True(t, mem.Mapped())

	// A partial flush leaves the rest pending.
	require.NoError(t, f.FlushRange(mem, 10, 20))
	assert.True(t, mem.Dirty())

	require.NoError(t, f.Flush(mem))
	assert.False(t, mem.Dirty())
	require.NoError(t, f.Unmap(mem))

	out, err := f.Read(mem, 0, 1024)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x03}, 1024), out)
	require.NoError(t, f.Unmap(mem))
	assert.Empty(t, rig.Soft.Violations())
}

func TestAtomRange(t *testing.T) {
	start, size := atomRange(10, 20, 64, 1024)
	assert.Equal(t, driver.DeviceSize(0), start)
	assert.Equal(t, driver.DeviceSize(64), size)

	start, size = atomRange(100, driver.WholeSize, 64, 1000)
	assert.Equal(t, driver.DeviceSize(64), start)
	assert.Equal(t, driver.DeviceSize(936), size)

	start, size = atomRange(0, 8, 0, 1024)
	assert.Equal(t, driver.DeviceSize(0), start)
	assert.Equal(t, driver.DeviceSize(8), size)
}

func TestIncompatibleMemoryType(t *testing.T) {
	f, rig := newFactory(t)
	live := rig.Soft.Live()

	img, err := f.CreateImage("color", ImageDesc{Width: 512, Height: 512, Format: driver.FormatR8g8b8a8Unorm, Usage: driver.ImageUsageSampledBit})
	require.NoError(t, err)

	_, err = f.AllocateAndBindMemory(img, soft.MemoryTypeHostCoherent)
	assert.True(t, errors.Is(err, core.ErrIncompatibleMemoryType))
	assert.True(t, core.IsViolation(err))
	assert.False(t, img.Bound())
	assert.Equal(t, live+1, rig.Soft.Live())

	f.DestroyImage(img)
	assert.Equal(t, live, rig.Soft.Live())
}

func TestMemoryTypeForFollowsRequirements(t *testing.T) {
	cfg := soft.DefaultConfig()
	cfg.Devices[0].ImageMemoryTypes = 1 << soft.MemoryTypeDeviceLocalHostVisible
	rig := rendertest.New(t, cfg, rendertest.Requirements())
	f := NewFactory(rig.Handles, rig.Snapshot)

	img, err := f.CreateImage("color", ImageDesc{Width: 64, Height: 64, Format: driver.FormatR8g8b8a8Unorm, Usage: driver.ImageUsageSampledBit})
	require.NoError(t, err)
	defer f.DestroyImage(img)

	idx, err := f.MemoryTypeFor(img, probe.DeviceLocal)
	require.NoError(t, err)
	assert.Equal(t, uint32(soft.MemoryTypeDeviceLocalHostVisible), idx)

	mem, err := f.AllocateAndBindMemory(img, idx)
	require.NoError(t, err)
	assert.True(t, img.Bound())
	defer f.FreeMemory(mem)

	_, err = f.MemoryTypeFor(img, probe.HostCached)
	assert.True(t, errors.Is(err, core.ErrNoMemoryType))
	assert.True(t, core.IsFatal(err))
}

func TestSuballocationSharesMemory(t *testing.T) {
	f, _ := newFactory(t)

	mem, err := f.AllocateMemory(4096, soft.MemoryTypeHostCoherent)
	require.NoError(t, err)
	a, err := f.CreateBuffer("a", 100, driver.BufferUsageStorageBufferBit)
	require.NoError(t, err)
	b, err := f.CreateBuffer("b", 100, driver.BufferUsageStorageBufferBit)
	require.NoError(t, err)

	off, err := mem.Suballocate(a.Requirements)
	require.NoError(t, err)
	require.NoError(t, f.BindBufferMemory(a, mem, off))
	off, err = mem.Suballocate(b.Requirements)
	require.NoError(t, err)
	require.NoError(t, f.BindBufferMemory(b, mem, off))

	assert.Equal(t, driver.DeviceSize(0), a.Offset())
	assert.Equal(t, driver.DeviceSize(256), b.Offset())
	assert.Equal(t, driver.DeviceSize(512), mem.Used())

	_, err = mem.Suballocate(driver.MemoryRequirements{Size: 4000, Alignment: 256, MemoryTypeBits: 0xf})
	assert.Error(t, err)

	err = f.BindBufferMemory(a, mem, 1024)
	assert.True(t, errors.Is(err, core.ErrInvalidState))

	f.FreeMemory(mem)
	assert.False(t, a.Bound())
	assert.False(t, b.Bound())
	f.DestroyBuffer(a)
	f.DestroyBuffer(b)
}

func TestBindChecksAlignmentAndSize(t *testing.T) {
	f, _ := newFactory(t)
	mem, err := f.AllocateMemory(1024, soft.MemoryTypeHostCoherent)
	require.NoError(t, err)
	b, err := f.CreateBuffer("b", 512, driver.BufferUsageStorageBufferBit)
	require.NoError(t, err)

	assert.Error(t, f.BindBufferMemory(b, mem, 100))
	assert.Error(t, f.BindBufferMemory(b, mem, 768))
	assert.False(t, b.Bound())
	require.NoError(t, f.BindBufferMemory(b, mem, 512))
}

func TestImageViewRequiresBoundImage(t *testing.T) {
	f, rig := newFactory(t)

	img, err := f.CreateImage("color", ImageDesc{Width: 256, Height: 256, Format: driver.FormatR8g8b8a8Unorm, Usage: driver.ImageUsageSampledBit})
	require.NoError(t, err)

	_, err = f.CreateImageView(img, driver.ImageAspectColorBit)
	assert.True(t, errors.Is(err, core.ErrUnboundResource))

	mem, err := f.AllocateAndBindMemory(img, soft.MemoryTypeDeviceLocal)
	require.NoError(t, err)
	view, err := f.CreateImageView(img, driver.ImageAspectColorBit)
	require.NoError(t, err)
	assert.NotZero(t, view.Handle)

	f.DestroyImageView(view)
	f.FreeMemory(mem)
	f.DestroyImage(img)
	assert.Empty(t, rig.Soft.Violations())
}

func TestSparseImageRequirements(t *testing.T) {
	f, _ := newFactory(t)

	img, err := f.CreateSparseImage("sparse", ImageDesc{Width: 4096, Height: 4096, MipLevels: 13, Format: driver.FormatR8g8b8a8Unorm, Usage: driver.ImageUsageSampledBit})
	require.NoError(t, err)
	require.Len(t, img.Sparse, 1)
	r := img.Sparse[0]
	assert.Equal(t, driver.ImageAspectColorBit, r.FormatProperties.AspectMask)
	assert.NotZero(t, r.FormatProperties.Flags&driver.SparseImageFormatSingleMiptailBit)
	assert.NotZero(t, r.MipTailSize)
	assert.True(t, img.IsSparse())

	err = f.BindImageMemory(img, nil, 0)
	assert.True(t, errors.Is(err, core.ErrSparseUnsupported))

	depth, err := f.CreateSparseImage("depth", ImageDesc{Width: 1024, Height: 1024, MipLevels: 1, Format: driver.FormatD32Sfloat, Usage: driver.ImageUsageSampledBit})
	require.NoError(t, err)
	require.Len(t, depth.Sparse, 1)
	assert.Equal(t, driver.ImageAspectDepthBit, depth.Sparse[0].FormatProperties.AspectMask)

	f.DestroyImage(img)
	f.DestroyImage(depth)
}

func TestSparseUnsupported(t *testing.T) {
	cfg := soft.DefaultConfig()
	cfg.Devices[0].Features.SparseResidencyImage2D = false
	req := rendertest.Requirements()
	req.Features = nil
	rig := rendertest.New(t, cfg, req)
	f := NewFactory(rig.Handles, rig.Snapshot)

	_, err := f.CreateSparseImage("sparse", ImageDesc{Width: 4096, Height: 4096, MipLevels: 13, Format: driver.FormatR8g8b8a8Unorm, Usage: driver.ImageUsageSampledBit})
	assert.True(t, errors.Is(err, core.ErrSparseUnsupported))
}

func TestCreationFailuresLeaveNothingBehind(t *testing.T) {
	f, rig := newFactory(t)
	live := rig.Soft.Live()

	_, err := f.CreateBuffer("empty", 0, driver.BufferUsageStorageBufferBit)
	assert.Error(t, err)
	_, err = f.CreateBuffer("unused", 64, 0)
	assert.Error(t, err)
	_, err = f.CreateImage("huge", ImageDesc{Width: 20000, Height: 16, Format: driver.FormatR8g8b8a8Unorm, Usage: driver.ImageUsageSampledBit})
	assert.Error(t, err)
	_, err = f.CreateImage("mips", ImageDesc{Width: 16, Height: 16, MipLevels: 30, Format: driver.FormatR8g8b8a8Unorm, Usage: driver.ImageUsageSampledBit})
	assert.Error(t, err)
	_, err = f.CreateImage("format", ImageDesc{Width: 16, Height: 16, Format: driver.FormatUndefined, Usage: driver.ImageUsageSampledBit})
	assert.Error(t, err)

	b, err := f.CreateBuffer("b", 64, driver.BufferUsageStorageBufferBit)
	require.NoError(t, err)
	rig.Soft.FailNext("vkBindBufferMemory", driver.ErrorOutOfDeviceMemory)
	_, err = f.AllocateAndBindMemory(b, soft.MemoryTypeHostCoherent)
	require.Error(t, err)
	r, ok := driver.ResultOf(err)
	require.True(t, ok)
	assert.Equal(t, driver.ErrorOutOfDeviceMemory, r)
	assert.False(t, b.Bound())

	f.DestroyBuffer(b)
	assert.Equal(t, live, rig.Soft.Live())
}

func TestCommitment(t *testing.T) {
	f, _ := newFactory(t)
	mem, err := f.AllocateMemory(8192, soft.MemoryTypeDeviceLocal)
	require.NoError(t, err)
	assert.Equal(t, driver.DeviceSize(8192), f.Commitment(mem))
	f.FreeMemory(mem)
	assert.Zero(t, mem.Handle)
}
