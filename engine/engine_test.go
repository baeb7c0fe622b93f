package engine

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkharness/engine/assets"
	"github.com/spaghettifunk/vkharness/engine/config"
	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/soft"
)

func encode(words []uint32) []byte {
	out := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(out[4*i:], w)
	}
	return out
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "copy.spv"), encode(soft.CopyShader()), 0o644))

	cfg := config.Default()
	cfg.Application.Name = t.Name()
	cfg.Application.Backend = config.BackendSoft
	cfg.Shaders.Directory = dir
	return cfg
}

type window struct {
	width, height int
}

func (window) CreateWindowSurface(interface{}, unsafe.Pointer) (uintptr, error) {
	return 0, errors.New("soft surfaces do not need a window")
}

func (window) GetRequiredInstanceExtensions() []string {
	return []string{"VK_KHR_surface"}
}

func (w window) GetFramebufferSize() (int, int) {
	return w.width, w.height
}

// lifetimes splits the journal into creation and destruction order.
func lifetimes(d *soft.Driver) (created, destroyed []uint64) {
	for _, ev := range d.Journal() {
		if ev.Kind == soft.Created {
			created = append(created, ev.Handle)
		} else {
			destroyed = append(destroyed, ev.Handle)
		}
	}
	return created, destroyed
}

func TestComputeRoundTrip(t *testing.T) {
	d := soft.New(soft.DefaultConfig())
	e, err := New(testConfig(t), d)
	require.NoError(t, err)
	defer e.Terminate()
	assert.Equal(t, EngineStageReady, e.Stage())

	require.NoError(t, e.Compute())
	out, err := e.Output()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x03}, 1024), out)
	assert.Equal(t, 1, d.Stats().Dispatches)
	assert.Empty(t, d.Violations())
}

func TestNonCoherentBuffersRoundTrip(t *testing.T) {
	cfg := testConfig(t)
	cfg.Buffers.HostCoherent = false
	cfg.Buffers.Pattern = 0xa5
	d := soft.New(soft.DefaultConfig())
	e, err := New(cfg, d)
	require.NoError(t, err)
	defer e.Terminate()

	require.NoError(t, e.Compute())
	out, err := e.Output()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0xa5}, 1024), out)
	assert.Empty(t, d.Violations())
}

func TestImageMemoryFollowsItsRequirements(t *testing.T) {
	sc := soft.DefaultConfig()
	sc.Devices[0].ImageMemoryTypes = 1 << soft.MemoryTypeDeviceLocalHostVisible
	d := soft.New(sc)
	e, err := New(testConfig(t), d)
	require.NoError(t, err)
	defer e.Terminate()

	assert.Equal(t, uint32(soft.MemoryTypeDeviceLocalHostVisible), e.compute.imageMem.TypeIndex)
	assert.Equal(t, uint32(soft.MemoryTypeHostCoherent), e.compute.srcMem.TypeIndex)
	require.NoError(t, e.Compute())
	assert.Empty(t, d.Violations())
}

func TestTeardownReleasesInReverseOrder(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sparse.Enabled = true
	d := soft.New(soft.DefaultConfig())
	e, err := New(cfg, d)
	require.NoError(t, err)
	require.NoError(t, e.Compute())
	e.Terminate()

	created, destroyed := lifetimes(d)
	require.NotEmpty(t, created)
	slices.Reverse(created)
	assert.Equal(t, created, destroyed)
	assert.Zero(t, d.Live())
	assert.Empty(t, d.Violations())

	released := e.Released()
	assert.Equal(t, "compute fence", released[0])
	assert.Equal(t, "host allocator", released[len(released)-1])
}

func TestTerminateRunsOnce(t *testing.T) {
	d := soft.New(soft.DefaultConfig())
	e, err := New(testConfig(t), d)
	require.NoError(t, err)

	e.Terminate()
	journal := len(d.Journal())
	released := e.Released()
	e.Terminate()

	assert.Equal(t, EngineStageDestroyed, e.Stage())
	assert.True(t, e.Terminating())
	assert.Len(t, d.Journal(), journal)
	assert.Equal(t, released, e.Released())
	assert.Equal(t, 1, d.Stats().WaitIdles)

	assert.True(t, errors.Is(e.Compute(), core.ErrTerminated))
	_, err = e.Output()
	assert.True(t, errors.Is(err, core.ErrTerminated))
}

func TestMissingComputeQueueIsFatal(t *testing.T) {
	dev := soft.DefaultDevice()
	dev.QueueFamilies = []driver.QueueFamilyProperties{{Flags: driver.QueueTransferBit, Count: 1}}
	cfg := soft.DefaultConfig()
	cfg.Devices = []soft.DeviceConfig{dev}
	d := soft.New(cfg)

	cbs, err := hostalloc.NewSet()
	require.NoError(t, err)
	defer cbs.Close()

	e, err := New(testConfig(t), d, WithHostAllocator(cbs))
	require.Error(t, err)
	assert.Nil(t, e)
	assert.True(t, core.IsFatal(err))
	assert.True(t, errors.Is(err, core.ErrNoQueueFamily))

	assert.Zero(t, d.Live())
	blocks, _ := cbs.Live()
	assert.Zero(t, blocks)
}

func TestFailedAllocationUnwinds(t *testing.T) {
	d := soft.New(soft.DefaultConfig())
	d.FailNext("vkCreateComputePipelines", driver.ErrorOutOfDeviceMemory)

	_, err := New(testConfig(t), d)
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))

	created, destroyed := lifetimes(d)
	slices.Reverse(created)
	assert.Equal(t, created, destroyed)
	assert.Zero(t, d.Live())
}

func TestInvalidConfigIsFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Buffers.Size = 3
	_, err := New(cfg, soft.New(soft.DefaultConfig()))
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
}

func TestGraphicsNeedsSurfaceSource(t *testing.T) {
	cfg := testConfig(t)
	cfg.Application.Mode = config.ModeGraphics
	d := soft.New(soft.DefaultConfig())
	_, err := New(cfg, d)
	require.Error(t, err)
	assert.Empty(t, d.Journal())
}

func TestDrawPresentsClearedFrames(t *testing.T) {
	cfg := testConfig(t)
	cfg.Application.Mode = config.ModeGraphics
	d := soft.New(soft.DefaultConfig())
	e, err := New(cfg, d, WithSurfaceSource(window{width: 800, height: 600}))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Draw())
	}
	assert.EqualValues(t, 3, e.Presented())
	assert.Equal(t, 3, d.Stats().Presents)
	assert.Equal(t, 3, d.Stats().Clears)

	require.NoError(t, e.Compute())
	e.Terminate()

	created, destroyed := lifetimes(d)
	slices.Reverse(created)
	assert.Equal(t, created, destroyed)
	assert.Empty(t, d.Violations())
}

func TestFailedFrameStopsPresentation(t *testing.T) {
	cfg := testConfig(t)
	cfg.Application.Mode = config.ModeGraphics
	d := soft.New(soft.DefaultConfig())
	e, err := New(cfg, d, WithSurfaceSource(window{width: 800, height: 600}))
	require.NoError(t, err)

	require.NoError(t, e.Draw())
	d.FailNext("vkAllocateCommandBuffers", driver.ErrorOutOfHostMemory)
	err = e.Draw()
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))

	err = e.Draw()
	assert.True(t, errors.Is(err, core.ErrInvalidState))
	assert.EqualValues(t, 1, e.Presented())
	assert.Equal(t, 1, d.Stats().Presents)

	e.Terminate()
	created, destroyed := lifetimes(d)
	slices.Reverse(created)
	assert.Equal(t, created, destroyed)
	assert.Zero(t, d.Live())
	assert.Empty(t, d.Violations())
}

func TestDrawInComputeModeFails(t *testing.T) {
	e, err := New(testConfig(t), soft.New(soft.DefaultConfig()))
	require.NoError(t, err)
	defer e.Terminate()
	assert.Error(t, e.Draw())
}

func TestShaderReloadRebuildsPipeline(t *testing.T) {
	cfg := testConfig(t)
	d := soft.New(soft.DefaultConfig())
	lib := assets.NewLibrary(cfg.Shaders.Directory)
	defer lib.Close()

	e, err := New(cfg, d, WithShaderLibrary(lib))
	require.NoError(t, err)
	defer e.Terminate()

	fill := slices.Clone(soft.CopyShader())
	fill[3]++
	d.RegisterKernel(fill, func(inv *soft.Invocation) error {
		dst, err := inv.StorageBuffer(0, 1)
		if err != nil {
			return err
		}
		for i := range dst {
			dst[i] = 0x7f
		}
		return nil
	})
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Shaders.Directory, "copy.spv"), encode(fill), 0o644))
	changed, err := lib.Reload("copy.spv")
	require.NoError(t, err)
	require.True(t, changed)

	require.NoError(t, e.Compute())
	out, err := e.Output()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x7f}, 1024), out)
}

func TestRejectedReloadKeepsPipeline(t *testing.T) {
	cfg := testConfig(t)
	scfg := soft.DefaultConfig()
	d := soft.New(scfg)
	d.RegisterKernel(soft.CopyShader(), soft.CopyKernel)
	lib := assets.NewLibrary(cfg.Shaders.Directory)
	defer lib.Close()

	e, err := New(cfg, d, WithShaderLibrary(lib))
	require.NoError(t, err)
	defer e.Terminate()

	other := slices.Clone(soft.CopyShader())
	other[3] += 2
	d.FailNext("vkCreateComputePipelines", driver.ErrorOutOfDeviceMemory)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Shaders.Directory, "copy.spv"), encode(other), 0o644))
	_, err = lib.Reload("copy.spv")
	require.NoError(t, err)

	require.NoError(t, e.Compute())
	out, err := e.Output()
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte{0x03}, 1024), out)
}

func TestSlotPublishAfterClose(t *testing.T) {
	slot := NewSlot()
	slot.Close()
	slot.Close()
	<-slot.Done()

	e, err := New(testConfig(t), soft.New(soft.DefaultConfig()))
	require.NoError(t, err)
	assert.True(t, slot.Publish(e))
	assert.Equal(t, EngineStageDestroyed, e.Stage())
	assert.False(t, slot.Publish(e))
}

func TestSlotCloseTerminatesEngine(t *testing.T) {
	slot := NewSlot()
	e, err := New(testConfig(t), soft.New(soft.DefaultConfig()))
	require.NoError(t, err)
	require.True(t, slot.Publish(e))

	app := NewApplication(slot, 0)
	app.OnFrame = func(_ *Engine, frame uint64) error {
		if frame == 4 {
			slot.Close()
		}
		return nil
	}
	require.NoError(t, app.Run())
	assert.True(t, slot.Closed())
	assert.Equal(t, EngineStageDestroyed, e.Stage())
	_, _, frames := e.Metrics().Frame()
	assert.EqualValues(t, 5, frames)
}

func TestConcurrentCloseTerminatesOnce(t *testing.T) {
	d := soft.New(soft.DefaultConfig())
	e, err := New(testConfig(t), d)
	require.NoError(t, err)
	slot := NewSlot()
	require.True(t, slot.Publish(e))

	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(3)
		go func() {
			defer wg.Done()
			<-start
			slot.Close()
		}()
		go func() {
			defer wg.Done()
			<-start
			e.Terminate()
		}()
		go func() {
			defer wg.Done()
			<-start
			if err := e.Compute(); err != nil {
				assert.True(t, errors.Is(err, core.ErrTerminated))
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.True(t, slot.Closed())
	assert.Equal(t, EngineStageDestroyed, e.Stage())
	assert.Equal(t, 1, d.Stats().WaitIdles)

	created, destroyed := lifetimes(d)
	slices.Reverse(created)
	assert.Equal(t, created, destroyed)
	assert.Empty(t, d.Violations())
}

func TestApplicationStopsAfterFrames(t *testing.T) {
	slot := NewSlot()
	e, err := New(testConfig(t), soft.New(soft.DefaultConfig()))
	require.NoError(t, err)
	defer e.Terminate()
	require.True(t, slot.Publish(e))

	require.NoError(t, NewApplication(slot, 2).Run())
	assert.Equal(t, EngineStageReady, e.Stage())
}

func TestOwnershipUnwindsInReverse(t *testing.T) {
	o := newOwnership()
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		o.push(name, func() { order = append(order, name) })
	}
	assert.Equal(t, 3, o.Len())
	assert.Equal(t, []string{"c", "b", "a"}, o.unwind())
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.Zero(t, o.Len())
	assert.Empty(t, o.unwind())
}
