package core

import (
	"sync"

	"github.com/spaghettifunk/vkharness/engine/containers"
)

const AVG_COUNT = 30

// FrameMetrics keeps a moving average of frame times and a frames-per-second
// counter. Safe for concurrent use.
type FrameMetrics struct {
	mu                 sync.Mutex
	msTimes            *containers.RingQueue[float64]
	msAvg              float64
	frames             int32
	accumulatedFrameMS float64
	fps                float64
	total              uint64
}

func NewFrameMetrics() *FrameMetrics {
	return &FrameMetrics{
		msTimes: containers.NewRingQueue[float64](AVG_COUNT),
	}
}

// Update records one frame that took frameElapsed seconds.
func (m *FrameMetrics) Update(frameElapsed float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	frameMS := frameElapsed * 1000.0
	m.msTimes.Push(frameMS)

	var sum float64
	m.msTimes.Each(func(v float64) { sum += v })
	m.msAvg = sum / float64(m.msTimes.Len())

	// Calculate Frames per second.
	m.accumulatedFrameMS += frameMS
	if m.accumulatedFrameMS > 1000 {
		m.fps = float64(m.frames)
		m.accumulatedFrameMS -= 1000
		m.frames = 0
	}

	// Count all Frames.
	m.frames++
	m.total++
}

func (m *FrameMetrics) FPS() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps
}

func (m *FrameMetrics) FrameTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.msAvg
}

// Frame returns the FPS, the average frame time in milliseconds and the
// number of frames recorded so far.
func (m *FrameMetrics) Frame() (float64, float64, uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fps, m.msAvg, m.total
}
