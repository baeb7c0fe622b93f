package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrameMetricsAverage(t *testing.T) {
	m := NewFrameMetrics()
	m.Update(0.010)
	m.Update(0.020)

	fps, avg, total := m.Frame()
	assert.InDelta(t, 15.0, avg, 1e-9)
	assert.Equal(t, uint64(2), total)
	assert.Zero(t, fps)
}

func TestFrameMetricsWindow(t *testing.T) {
	m := NewFrameMetrics()
	for i := 0; i < AVG_COUNT; i++ {
		m.Update(1.0)
	}
	for i := 0; i < AVG_COUNT; i++ {
		m.Update(0.002)
	}
	assert.InDelta(t, 2.0, m.FrameTime(), 1e-9)
	assert.Greater(t, m.FPS(), 0.0)
}
