package probe

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
	"github.com/spaghettifunk/vkharness/engine/renderer/soft"
)

func newHandles(t *testing.T, cfg soft.Config, withSurface bool) *handles.Set {
	t.Helper()
	d := soft.New(cfg)
	h := handles.New(d, nil)
	inst, err := d.CreateInstance(driver.InstanceCreateInfo{ApplicationName: "probe"}, nil)
	require.NoError(t, err)
	h.Instance = inst
	if withSurface {
		s, err := d.CreateSurface(inst, nil, nil)
		require.NoError(t, err)
		h.Surface = s
	}
	return h
}

func computeRequirements() Requirements {
	return Requirements{
		Capability: driver.QueueComputeBit,
		Memory:     []MemoryUsage{DeviceLocal, HostVisible},
	}
}

// presentRequirements asks for a format and mode the default device offers.
func presentRequirements() Requirements {
	req := computeRequirements()
	req.SurfaceFormat = driver.SurfaceFormat{Format: driver.FormatB8g8r8a8Srgb, ColorSpace: driver.ColorSpaceSrgbNonlinear}
	req.PresentMode = driver.PresentModeFifo
	return req
}

func withFamilies(families ...driver.QueueFlags) soft.Config {
	cfg := soft.DefaultConfig()
	dev := soft.DefaultDevice()
	dev.QueueFamilies = nil
	for _, f := range families {
		dev.QueueFamilies = append(dev.QueueFamilies, driver.QueueFamilyProperties{Flags: f, Count: 4})
	}
	cfg.Devices = []soft.DeviceConfig{dev}
	return cfg
}

func TestQueueSelectionBitmaskAndParity(t *testing.T) {
	tests := []struct {
		name      string
		families  []driver.QueueFlags
		selection QueueSelection
		primary   uint32
		transfer  uint32
	}{
		{"bitmask skips graphics-only", []driver.QueueFlags{driver.QueueGraphicsBit, driver.QueueComputeBit}, SelectBitmask, 1, 1},
		{"parity takes the odd family", []driver.QueueFlags{driver.QueueGraphicsBit, driver.QueueComputeBit}, SelectParity, 0, 0},
		{"bitmask on mixed families", []driver.QueueFlags{4, 6, 7}, SelectBitmask, 1, 0},
		{"parity on mixed families", []driver.QueueFlags{4, 6, 7}, SelectParity, 2, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newHandles(t, withFamilies(tc.families...), false)
			req := computeRequirements()
			req.Selection = tc.selection
			snap, err := Probe(h, req)
			require.NoError(t, err)
			assert.Equal(t, tc.primary, snap.PrimaryFamily)
			assert.Equal(t, tc.transfer, snap.TransferFamily)
			assert.Equal(t, uint32(4), snap.PrimaryQueueCount)
		})
	}
}

func TestProbeIsDeterministic(t *testing.T) {
	cfg := soft.DefaultConfig()
	for _, surface := range []bool{false, true} {
		req := computeRequirements()
		if surface {
			req = presentRequirements()
		}
		a, err := Probe(newHandles(t, cfg, surface), req)
		require.NoError(t, err)
		b, err := Probe(newHandles(t, cfg, surface), req)
		require.NoError(t, err)

		assert.Equal(t, a.PrimaryFamily, b.PrimaryFamily)
		assert.Equal(t, a.TransferFamily, b.TransferFamily)
		assert.Equal(t, a.PresentFamily, b.PresentFamily)
		assert.Equal(t, a.memoryTypes, b.memoryTypes)
		assert.Equal(t, a.SurfaceFormat, b.SurfaceFormat)
		assert.Equal(t, a.PresentMode, b.PresentMode)
		assert.Equal(t, surface, a.Presenting)
	}
}

func TestDefaultDeviceSelection(t *testing.T) {
	h := newHandles(t, soft.DefaultConfig(), true)
	req := computeRequirements()
	req.Features = []string{"sparse_binding", "sparse_residency_image2d"}
	req.DeviceExtensions = []string{"VK_KHR_swapchain"}
	req.MinAPIVersion = ">= 1.2"
	req.SurfaceFormat = driver.SurfaceFormat{Format: driver.FormatB8g8r8a8Srgb, ColorSpace: driver.ColorSpaceSrgbNonlinear}
	req.PresentMode = driver.PresentModeFifo
	req.ImageFormat = driver.FormatR8g8b8a8Unorm
	req.SparseFormat = driver.FormatR8g8b8a8Unorm

	snap, err := Probe(h, req)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), snap.PrimaryFamily)
	assert.Equal(t, uint32(1), snap.TransferFamily)
	assert.Equal(t, uint32(0), snap.PresentFamily)
	assert.True(t, snap.Presenting)
	assert.Equal(t, []uint32{0, 1}, snap.Families())
	assert.Equal(t, driver.PresentModeFifo, snap.PresentMode)
	assert.Equal(t, uint32(2), snap.SurfaceCapabilities.MinImageCount)
	assert.Equal(t, uint32(16384), snap.ImageFormatLimits.MaxExtent.Width)
	assert.True(t, snap.SparseSupported())
	assert.Equal(t, driver.DeviceSize(64), snap.NonCoherentAtomSize())

	idx, ok := snap.MemoryType(DeviceLocal)
	require.True(t, ok)
	assert.Equal(t, uint32(soft.MemoryTypeDeviceLocal), idx)
	idx, ok = snap.MemoryType(HostVisible)
	require.True(t, ok)
	assert.Equal(t, uint32(soft.MemoryTypeHostCoherent), idx)
	idx, ok = snap.MemoryType(DeviceLocalHostVisible)
	require.True(t, ok)
	assert.Equal(t, uint32(soft.MemoryTypeDeviceLocalHostVisible), idx)
	idx, ok = snap.MemoryType(HostCached)
	require.True(t, ok)
	assert.Equal(t, uint32(soft.MemoryTypeHostNonCoherent), idx)
}

func TestFirstMatchingDeviceWins(t *testing.T) {
	cfg := soft.DefaultConfig()
	weak := soft.DefaultDevice()
	weak.Properties.DeviceName = "weak"
	weak.Features.SparseResidencyImage2D = false
	strong := soft.DefaultDevice()
	strong.Properties.DeviceName = "strong"
	other := soft.DefaultDevice()
	other.Properties.DeviceName = "other"
	cfg.Devices = []soft.DeviceConfig{weak, strong, other}

	req := computeRequirements()
	req.Features = []string{"sparse_residency_image2d"}
	snap, err := Probe(newHandles(t, cfg, false), req)
	require.NoError(t, err)
	assert.Equal(t, "strong", snap.Properties.DeviceName)
}

func TestMissingFeatures(t *testing.T) {
	req := computeRequirements()
	req.Features = []string{"shader_float64"}
	_, err := Probe(newHandles(t, soft.DefaultConfig(), false), req)
	require.Error(t, err)
	assert.True(t, core.IsFatal(err))
	assert.True(t, errors.Is(err, core.ErrNoSuitableDevice))
}

func TestAPIVersionConstraint(t *testing.T) {
	req := computeRequirements()
	req.MinAPIVersion = ">= 1.4"
	_, err := Probe(newHandles(t, soft.DefaultConfig(), false), req)
	assert.True(t, errors.Is(err, core.ErrNoSuitableDevice))

	req.MinAPIVersion = "not a version"
	_, err = Probe(newHandles(t, soft.DefaultConfig(), false), req)
	assert.True(t, core.IsFatal(err))
}

func TestMissingDeviceExtension(t *testing.T) {
	req := computeRequirements()
	req.DeviceExtensions = []string{"VK_KHR_ray_query"}
	_, err := Probe(newHandles(t, soft.DefaultConfig(), false), req)
	assert.True(t, errors.Is(err, core.ErrNoSuitableDevice))
}

func TestNoQueueFamily(t *testing.T) {
	_, err := Probe(newHandles(t, withFamilies(driver.QueueTransferBit), false), computeRequirements())
	assert.True(t, errors.Is(err, core.ErrNoQueueFamily))
}

func TestMemoryTypeFirstMatch(t *testing.T) {
	props := driver.MemoryProperties{Types: []driver.MemoryType{
		{PropertyFlags: driver.MemoryPropertyDeviceLocalBit},
		{PropertyFlags: driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit | driver.MemoryPropertyHostCachedBit},
		{PropertyFlags: driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit},
	}}
	idx, err := findMemoryType(props, 0b111, HostVisible.Flags())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), idx)

	idx, err = findMemoryType(props, 0b101, HostVisible.Flags())
	require.NoError(t, err)
	assert.Equal(t, uint32(2), idx)

	_, err = findMemoryType(props, 0b001, HostVisible.Flags())
	assert.True(t, errors.Is(err, core.ErrNoMemoryType))
}

func TestRequiredMemoryUsageAbsent(t *testing.T) {
	cfg := soft.DefaultConfig()
	dev := soft.DefaultDevice()
	dev.Memory.Types = dev.Memory.Types[:1]
	cfg.Devices = []soft.DeviceConfig{dev}
	_, err := Probe(newHandles(t, cfg, false), computeRequirements())
	assert.True(t, errors.Is(err, core.ErrNoMemoryType))
}

func TestSurfaceFormatAbsent(t *testing.T) {
	req := computeRequirements()
	req.SurfaceFormat = driver.SurfaceFormat{Format: driver.FormatR8g8b8a8Unorm, ColorSpace: driver.ColorSpaceSrgbNonlinear}
	req.PresentMode = driver.PresentModeFifo
	_, err := Probe(newHandles(t, soft.DefaultConfig(), true), req)
	assert.True(t, errors.Is(err, core.ErrSurfaceFormatUnavailable))
}

func TestPresentModeAbsent(t *testing.T) {
	cfg := soft.DefaultConfig()
	dev := soft.DefaultDevice()
	dev.PresentModes = []driver.PresentMode{driver.PresentModeFifo}
	cfg.Devices = []soft.DeviceConfig{dev}

	req := computeRequirements()
	req.SurfaceFormat = driver.SurfaceFormat{Format: driver.FormatB8g8r8a8Srgb, ColorSpace: driver.ColorSpaceSrgbNonlinear}
	req.PresentMode = driver.PresentModeMailbox
	_, err := Probe(newHandles(t, cfg, true), req)
	assert.True(t, errors.Is(err, core.ErrPresentModeUnavailable))
}

func TestPresentFamilyFallsBackWhenPrimaryCannotPresent(t *testing.T) {
	cfg := soft.DefaultConfig()
	dev := soft.DefaultDevice()
	dev.SurfaceSupport = []bool{false, true}
	cfg.Devices = []soft.DeviceConfig{dev}

	snap, err := Probe(newHandles(t, cfg, true), presentRequirements())
	require.NoError(t, err)
	assert.Equal(t, uint32(1), snap.PresentFamily)
	assert.Equal(t, []uint32{0, 1}, snap.Families())
}

func TestInstanceSupport(t *testing.T) {
	d := soft.New(soft.DefaultConfig())
	exts, layers := InstanceSupport(d)
	assert.Len(t, exts, 3)
	assert.True(t, HasLayer(layers, "VK_LAYER_KHRONOS_validation"))

	cfg := soft.DefaultConfig()
	cfg.FailEnumeration = true
	exts, layers = InstanceSupport(soft.New(cfg))
	assert.Empty(t, exts)
	assert.Empty(t, layers)
	assert.False(t, HasLayer(layers, "VK_LAYER_KHRONOS_validation"))
}

func TestParseSelectionAndUsage(t *testing.T) {
	s, err := ParseQueueSelection("Parity")
	require.NoError(t, err)
	assert.Equal(t, SelectParity, s)
	_, err = ParseQueueSelection("score")
	assert.Error(t, err)

	u, err := ParseMemoryUsage("host_cached")
	require.NoError(t, err)
	assert.Equal(t, HostCached, u)
	assert.Equal(t, "device_local_host_visible", DeviceLocalHostVisible.String())
}
