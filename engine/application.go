package engine

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
)

// Application drives frames on the engine published in a slot until the slot
// is closed or the frame limit is reached.
type Application struct {
	slot *Slot
	// Frames to run. Zero runs until the slot closes.
	Frames uint64
	// ReportEvery is how often frame metrics are logged.
	ReportEvery time.Duration
	// OnFrame, if set, runs after every successful frame.
	OnFrame func(e *Engine, frame uint64) error
}

func NewApplication(slot *Slot, frames uint64) *Application {
	return &Application{
		slot:        slot,
		Frames:      frames,
		ReportEvery: 5 * time.Second,
	}
}

// Run blocks until the application is done. A frame that fails because the
// engine was terminated ends the run without an error.
func (a *Application) Run() error {
	e := a.slot.Engine()
	if e == nil {
		return errors.Wrap(core.ErrNotReady, "no engine was published")
	}

	frame := e.Compute
	if e.Config().Graphics() {
		frame = e.Draw
	}

	lastReport := time.Now()
	for n := uint64(0); a.Frames == 0 || n < a.Frames; n++ {
		select {
		case <-a.slot.Done():
			return nil
		default:
		}

		if err := frame(); err != nil {
			if errors.Is(err, core.ErrTerminated) {
				return nil
			}
			return err
		}
		if a.OnFrame != nil {
			if err := a.OnFrame(e, n); err != nil {
				return err
			}
		}

		if a.ReportEvery > 0 && time.Since(lastReport) >= a.ReportEvery {
			fps, ms, total := e.Metrics().Frame()
			core.LogInfo("frame %d: %.1f fps, %.3f ms", total, fps, ms)
			lastReport = time.Now()
		}
	}
	return nil
}
