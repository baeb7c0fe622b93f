package submit

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/rendertest"
	"github.com/spaghettifunk/vkharness/engine/renderer/resources"
	"github.com/spaghettifunk/vkharness/engine/renderer/soft"
)

func TestChooseExtent(t *testing.T) {
	caps := driver.SurfaceCapabilities{
		CurrentExtent:  driver.Extent2D{Width: 0xFFFFFFFF, Height: 0xFFFFFFFF},
		MinImageExtent: driver.Extent2D{Width: 64, Height: 64},
		MaxImageExtent: driver.Extent2D{Width: 1920, Height: 1080},
	}
	assert.Equal(t, driver.Extent2D{Width: 800, Height: 600}, ChooseExtent(caps, 800, 600))
	assert.Equal(t, driver.Extent2D{Width: 1920, Height: 64}, ChooseExtent(caps, 4000, 10))

	caps.CurrentExtent = driver.Extent2D{Width: 1280, Height: 720}
	assert.Equal(t, driver.Extent2D{Width: 1280, Height: 720}, ChooseExtent(caps, 800, 600))
}

func TestImageCount(t *testing.T) {
	assert.Equal(t, uint32(3), ImageCount(driver.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 8}))
	assert.Equal(t, uint32(2), ImageCount(driver.SurfaceCapabilities{MinImageCount: 2, MaxImageCount: 2}))
	assert.Equal(t, uint32(5), ImageCount(driver.SurfaceCapabilities{MinImageCount: 4}))
}

type presentRig struct {
	rig       *rendertest.Rig
	f         *resources.Factory
	sc        *Swapchain
	pool      *CommandPool
	fence     *Fence
	available *Semaphore
	done      *Semaphore
}

func newPresentRig(t *testing.T, cfg soft.Config) *presentRig {
	rig := rendertest.Presenting(t, cfg)
	p := &presentRig{rig: rig, f: resources.NewFactory(rig.Handles, rig.Snapshot)}
	var err error
	p.sc, err = NewSwapchain(rig.Handles, rig.Snapshot, p.f, 800, 600)
	require.NoError(t, err)
	p.pool, err = NewCommandPool(rig.Handles, rig.Handles.Queues.Primary, driver.CommandPoolCreateResetCommandBufferBit)
	require.NoError(t, err)
	p.fence, err = NewFence(rig.Handles, false)
	require.NoError(t, err)
	p.available, err = NewSemaphore(rig.Handles)
	require.NoError(t, err)
	p.done, err = NewSemaphore(rig.Handles)
	require.NoError(t, err)
	t.Cleanup(func() {
		p.done.Destroy()
		p.available.Destroy()
		p.fence.Destroy()
		p.pool.Destroy()
		p.sc.Destroy(p.f)
	})
	return p
}

// frame acquires an image, clears it and presents it.
func (p *presentRig) frame(t *testing.T) error {
	index, err := p.sc.Acquire(wait, p.available, p.fence)
	if err != nil {
		return err
	}
	img := p.sc.Images[index]

	cb, err := p.pool.Allocate()
	require.NoError(t, err)
	defer p.pool.Free(cb)
	require.NoError(t, cb.Begin(driver.CommandBufferUsageOneTimeSubmitBit))
	cb.Transition(img, UndefinedToTransferDst)
	cb.ClearColor(img, driver.ImageLayoutTransferDstOptimal, driver.ClearColor{0.1, 0.2, 0.3, 1})
	cb.Transition(img, TransferDstToPresent)
	require.NoError(t, cb.End())

	err = Submit(p.rig.Handles, p.pool.Queue, Submission{
		Buffers:    []*CommandBuffer{cb},
		Wait:       []*Semaphore{p.available},
		WaitStages: []driver.PipelineStageFlags{driver.PipelineStageTransferBit},
		Signal:     []*Semaphore{p.done},
	}, p.fence)
	require.NoError(t, err)
	require.NoError(t, p.fence.Wait(wait))
	require.NoError(t, p.fence.Reset())

	return p.sc.Present(p.rig.Handles.Queues.Present, index, p.done)
}

func TestSwapchainCreation(t *testing.T) {
	p := newPresentRig(t, soft.DefaultConfig())

	assert.Len(t, p.sc.Images, 3)
	assert.Len(t, p.sc.Views, 3)
	// The soft surface reports a current extent, which wins over the request.
	assert.Equal(t, driver.Extent2D{Width: 1280, Height: 720}, p.sc.Extent)
	assert.Equal(t, driver.FormatB8g8r8a8Srgb, p.sc.Format.Format)
	assert.Equal(t, driver.PresentModeFifo, p.sc.PresentMode)
	for _, img := range p.sc.Images {
		assert.True(t, img.Presentable)
		assert.True(t, img.Usable())
	}
}

func TestPresentLoop(t *testing.T) {
	p := newPresentRig(t, soft.DefaultConfig())
	for i := 0; i < 5; i++ {
		require.NoError(t, p.frame(t))
	}
	stats := p.rig.Soft.Stats()
	assert.Equal(t, 5, stats.Presents)
	assert.Equal(t, 5, stats.Clears)
	assert.Empty(t, p.rig.Soft.Violations())
}

func TestAcquireNotReadyWaitsOnFence(t *testing.T) {
	cfg := soft.DefaultConfig()
	cfg.AcquireNotReady = 2
	p := newPresentRig(t, cfg)

	index, err := p.sc.Acquire(wait, p.available, p.fence)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), index)
	assert.Equal(t, FenceUnsignaled, p.fence.State())
	assert.Empty(t, p.rig.Soft.Violations())
}

func TestAcquireRejectsSignaledFence(t *testing.T) {
	p := newPresentRig(t, soft.DefaultConfig())
	signaled, err := NewFence(p.rig.Handles, true)
	require.NoError(t, err)
	defer signaled.Destroy()

	_, err = p.sc.Acquire(wait, p.available, signaled)
	assert.True(t, errors.Is(err, core.ErrFenceNotReset))
	assert.Empty(t, p.rig.Soft.Violations())
}

func TestSuboptimalPresentIsAWarning(t *testing.T) {
	cfg := soft.DefaultConfig()
	cfg.PresentSuboptimal = true
	p := newPresentRig(t, cfg)

	require.NoError(t, p.frame(t))
	require.NoError(t, p.frame(t))
	assert.Equal(t, 2, p.rig.Soft.Stats().Presents)
}

func TestPresentOfUntransitionedImageIsFatal(t *testing.T) {
	p := newPresentRig(t, soft.DefaultConfig())
	index, err := p.sc.Acquire(wait, p.available, p.fence)
	require.NoError(t, err)

	err = p.sc.Present(p.rig.Handles.Queues.Present, index)
	assert.True(t, core.IsFatal(err))
	r, ok := driver.ResultOf(err)
	require.True(t, ok)
	assert.Equal(t, driver.ErrorValidationFailed, r)
}

func TestSwapchainNeedsSurface(t *testing.T) {
	rig := rendertest.Default(t)
	_, err := NewSwapchain(rig.Handles, rig.Snapshot, resources.NewFactory(rig.Handles, rig.Snapshot), 800, 600)
	assert.True(t, errors.Is(err, core.ErrInvalidState))
}
