// Package engine owns the device objects of one harness run: it builds them
// in order, runs compute and present frames on them, and releases them in
// reverse order exactly once.
package engine

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/assets"
	"github.com/spaghettifunk/vkharness/engine/config"
	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
	"github.com/spaghettifunk/vkharness/engine/renderer/pipeline"
	"github.com/spaghettifunk/vkharness/engine/renderer/probe"
	"github.com/spaghettifunk/vkharness/engine/renderer/resources"
)

const validationLayer = "VK_LAYER_KHRONOS_validation"

type Engine struct {
	cfg   *config.Config
	stage atomic.Int32
	// terminating is set once, by the first Terminate.
	terminating atomic.Bool
	// frame serializes Compute, Draw, Output and teardown.
	frame sync.Mutex

	drv           driver.Driver
	h             *handles.Set
	snap          *probe.Snapshot
	factory       *resources.Factory
	builder       *pipeline.Builder
	owned         *ownership
	surfaceSource driver.SurfaceSource
	callbacks     *hostalloc.Set
	library       *assets.Library
	ownsCallbacks bool
	ownsLibrary   bool

	compute computeState
	present *presentState

	metrics *core.FrameMetrics
	clock   *core.Clock
	// released lists the ownership entries in the order teardown ran them.
	released []string
}

type Option func(*Engine)

// WithSurfaceSource supplies the window presentation surfaces are made
// from. Required in graphics mode.
func WithSurfaceSource(src driver.SurfaceSource) Option {
	return func(e *Engine) {
		e.surfaceSource = src
	}
}

// WithHostAllocator routes host allocations through callbacks. The caller
// keeps ownership of the set. Without it the engine creates and closes its
// own.
func WithHostAllocator(callbacks *hostalloc.Set) Option {
	return func(e *Engine) {
		e.callbacks = callbacks
	}
}

// WithShaderLibrary shares a library the caller owns. Without it the engine
// opens one on the configured shader directory.
func WithShaderLibrary(library *assets.Library) Option {
	return func(e *Engine) {
		e.library = library
	}
}

// New builds every device object cfg asks for. On failure everything
// already created is released and a fatal error is returned; no engine is
// returned in that case.
func New(cfg *config.Config, drv driver.Driver, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, core.Fatal(err, "invalid configuration")
	}

	e := &Engine{
		cfg:     cfg,
		drv:     drv,
		owned:   newOwnership(),
		metrics: core.NewFrameMetrics(),
		clock:   core.NewClock(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if cfg.Graphics() && e.surfaceSource == nil {
		return nil, core.Fatal(errors.New("graphics mode needs a window"), "cannot present without a surface source")
	}

	e.setStage(EngineStageInitializing)
	core.LogInfo("engine %q initializing on the %s driver (%s mode)", cfg.Application.Name, drv.Name(), cfg.Application.Mode)

	steps := []struct {
		name string
		fn   func() error
	}{
		{"host allocator", e.createCallbacks},
		{"shader library", e.openLibrary},
		{"instance", e.createInstance},
		{"surface", e.createSurface},
		{"device", e.createDevice},
		{"command pools", e.createCommandPools},
		{"buffers", e.createBuffers},
		{"images", e.createImages},
		{"sparse image", e.createSparseImage},
		{"memory", e.bindMemory},
		{"image views", e.createImageViews},
		{"pipeline objects", e.createPipelineObjects},
		{"sync primitives", e.createSyncPrimitives},
		{"swapchain", e.createSwapchain},
		{"initial submission", e.initialSubmission},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			core.LogError("engine construction failed at %s: %v", step.name, err)
			e.released = e.owned.unwind()
			e.setStage(EngineStageDestroyed)
			return nil, core.Fatal(err, "engine construction failed at %s", step.name)
		}
		core.LogDebug("%s ready", step.name)
	}

	e.clock.Start()
	e.setStage(EngineStageReady)
	core.LogInfo("engine ready (%d owned objects)", e.owned.Len())
	return e, nil
}

func (e *Engine) Stage() Stage {
	return Stage(e.stage.Load())
}

func (e *Engine) setStage(s Stage) {
	e.stage.Store(int32(s))
}

func (e *Engine) Config() *config.Config {
	return e.cfg
}

// Snapshot is what the prober found. Nil before the device step.
func (e *Engine) Snapshot() *probe.Snapshot {
	return e.snap
}

func (e *Engine) Metrics() *core.FrameMetrics {
	return e.metrics
}

// Terminating is true from the first Terminate call on.
func (e *Engine) Terminating() bool {
	return e.terminating.Load()
}

// ready must be called with frame held.
func (e *Engine) ready(op string) error {
	switch st := e.Stage(); st {
	case EngineStageReady:
		return nil
	case EngineStageTerminating, EngineStageDestroyed:
		return errors.Wrapf(core.ErrTerminated, "%s", op)
	default:
		return errors.Wrapf(core.ErrNotReady, "%s in stage %s", op, st)
	}
}

// Terminate waits for the device to go idle and releases every object in
// reverse creation order. Only the first call does anything; it returns once
// any Compute or Draw in flight has finished. Later calls return at once.
func (e *Engine) Terminate() {
	if !e.terminating.CompareAndSwap(false, true) {
		return
	}
	e.frame.Lock()
	defer e.frame.Unlock()

	e.setStage(EngineStageTerminating)
	core.LogInfo("engine terminating")
	if e.h != nil && e.h.Device != 0 {
		err := e.h.WithDevice(func(d driver.Driver, dev driver.Device) error {
			return d.DeviceWaitIdle(dev)
		})
		if err != nil {
			core.LogError("device did not go idle before teardown: %v", err)
		}
	}
	e.released = e.owned.unwind()
	e.setStage(EngineStageDestroyed)

	if fps, ms, frames := e.metrics.Frame(); frames > 0 {
		core.LogInfo("%d frames, %.1f fps, %.3f ms average", frames, fps, ms)
	}
	core.LogInfo("engine destroyed (%d objects released)", len(e.released))
}

// Released lists what teardown released, in order.
func (e *Engine) Released() []string {
	e.frame.Lock()
	defer e.frame.Unlock()
	out := make([]string, len(e.released))
	copy(out, e.released)
	return out
}
