package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/probe"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, probe.SelectBitmask, cfg.Selection())
	assert.Equal(t, driver.FormatR8g8b8a8Unorm, cfg.ImageFormat())
	assert.Equal(t, uint64(1024), cfg.Buffers.Size)
	assert.Equal(t, uint8(0x03), cfg.Buffers.Pattern)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := write(t, `
[application]
mode = "graphics"
backend = "soft"
log_level = "debug"

[device]
queue_selection = "parity"
required_features = ["sparse_binding"]

[buffers]
size = 4096
pattern = 7
host_coherent = false

[presentation]
present_mode = "mailbox"
clear_color = [1.0, 0.0, 0.0, 1.0]

[timeouts]
fence = "250ms"
acquire = "2s"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Graphics())
	assert.Equal(t, BackendSoft, cfg.Application.Backend)
	assert.Equal(t, probe.SelectParity, cfg.Selection())
	assert.Equal(t, []string{"sparse_binding"}, cfg.Device.RequiredFeatures)
	assert.Equal(t, uint64(4096), cfg.Buffers.Size)
	assert.Equal(t, uint8(7), cfg.Buffers.Pattern)
	assert.False(t, cfg.Buffers.HostCoherent)
	assert.Equal(t, driver.PresentModeMailbox, cfg.PresentMode())
	assert.Equal(t, driver.ClearColor{1, 0, 0, 1}, cfg.ClearColor())
	assert.Equal(t, 250*time.Millisecond, cfg.Timeouts.Fence.Duration)
	assert.Equal(t, 2*time.Second, cfg.Timeouts.Acquire.Duration)

	// untouched sections keep their defaults
	assert.Equal(t, uint32(1280), cfg.Window.Width)
	assert.Equal(t, "copy.spv", cfg.Shaders.Compute)
}

func TestUnknownKeysAreRejected(t *testing.T) {
	_, err := Load(write(t, "[buffers]\nsize = 1024\ncolour = 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "colour")
}

func TestBadDuration(t *testing.T) {
	_, err := Load(write(t, "[timeouts]\nfence = \"soon\"\n"))
	require.Error(t, err)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Application.Mode = "batch"
	cfg.Application.Backend = "metal"
	cfg.Device.QueueSelection = "odd"
	cfg.Device.MinAPIVersion = "not a version"
	cfg.Device.RequiredFeatures = []string{"warp_drive"}
	cfg.Buffers.Size = 1023
	cfg.Image.Format = "R5G6B5"
	cfg.Shaders.Compute = ""
	cfg.Timeouts.Fence = Duration{}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"application.mode", "application.backend", "queue selection", "min_api_version",
		"warp_drive", "buffers.size", "image.format", "shaders.compute", "timeouts"} {
		assert.Contains(t, msg, want)
	}
}

func TestGraphicsChecks(t *testing.T) {
	cfg := Default()
	cfg.Application.Mode = ModeGraphics
	require.NoError(t, cfg.Validate())

	cfg.Presentation.PresentMode = "vsync"
	cfg.Shaders.Vertex = "fullscreen.vert.spv"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "present_mode")
	assert.Contains(t, err.Error(), "shaders.vertex")

	cfg = Default()
	cfg.Application.Mode = ModeGraphics
	cfg.Window.Width = 0
	require.Error(t, cfg.Validate())
}

func TestSparseChecksOnlyWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Sparse.Format = "bogus"
	require.NoError(t, cfg.Validate())

	cfg.Sparse.Enabled = true
	require.Error(t, cfg.Validate())
}
