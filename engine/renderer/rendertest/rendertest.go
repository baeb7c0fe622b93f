// Package rendertest brings up a soft device for component tests.
package rendertest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
	"github.com/spaghettifunk/vkharness/engine/renderer/handles"
	"github.com/spaghettifunk/vkharness/engine/renderer/probe"
	"github.com/spaghettifunk/vkharness/engine/renderer/soft"
)

type Rig struct {
	Soft      *soft.Driver
	Handles   *handles.Set
	Snapshot  *probe.Snapshot
	Callbacks *hostalloc.Set
}

// Requirements is a compute setup that the default soft device satisfies.
func Requirements() probe.Requirements {
	return probe.Requirements{
		Features:   []string{"sparse_binding", "sparse_residency_image2d"},
		Capability: driver.QueueComputeBit,
		Memory:     []probe.MemoryUsage{probe.DeviceLocal, probe.HostVisible},
	}
}

// New creates an instance and a device on a soft driver built from cfg.
// Everything is destroyed when the test ends.
func New(t *testing.T, cfg soft.Config, req probe.Requirements) *Rig {
	t.Helper()
	return build(t, cfg, req, false)
}

// Presenting is New with a surface, so the snapshot carries presentation
// support and a swapchain can be created.
func Presenting(t *testing.T, cfg soft.Config) *Rig {
	t.Helper()
	req := Requirements()
	req.SurfaceFormat = driver.SurfaceFormat{Format: driver.FormatB8g8r8a8Srgb, ColorSpace: driver.ColorSpaceSrgbNonlinear}
	req.PresentMode = driver.PresentModeFifo
	return build(t, cfg, req, true)
}

func build(t *testing.T, cfg soft.Config, req probe.Requirements, surface bool) *Rig {
	cbs, err := hostalloc.NewSet()
	require.NoError(t, err)

	drv := soft.New(cfg)
	h := handles.New(drv, cbs)
	h.Instance, err = drv.CreateInstance(driver.InstanceCreateInfo{ApplicationName: t.Name()}, h.CB(hostalloc.InstanceCreation))
	require.NoError(t, err)
	if surface {
		h.Surface, err = drv.CreateSurface(h.Instance, nil, h.CB(hostalloc.SurfaceCreation))
		require.NoError(t, err)
	}

	snap, err := probe.Probe(h, req)
	require.NoError(t, err)
	h.PhysicalDevice = snap.PhysicalDevice

	info := driver.DeviceCreateInfo{}
	info.Features.Enable(req.Features)
	for _, family := range snap.Families() {
		info.Queues = append(info.Queues, driver.DeviceQueueCreateInfo{Family: family, Priorities: []float32{1}})
		h.Locks.SetQueueFamily(family)
	}
	h.Device, err = drv.CreateDevice(snap.PhysicalDevice, info, h.CB(hostalloc.DeviceCreation))
	require.NoError(t, err)
	h.Queues = handles.Queues{
		Primary:  handles.Queue{Handle: drv.GetDeviceQueue(h.Device, snap.PrimaryFamily, 0), Family: snap.PrimaryFamily},
		Transfer: handles.Queue{Handle: drv.GetDeviceQueue(h.Device, snap.TransferFamily, 0), Family: snap.TransferFamily},
		Present:  handles.Queue{Handle: drv.GetDeviceQueue(h.Device, snap.PresentFamily, 0), Family: snap.PresentFamily},
	}

	t.Cleanup(func() {
		drv.DestroyDevice(h.Device, h.CB(hostalloc.DeviceDestruction))
		if h.Surface != 0 {
			drv.DestroySurface(h.Instance, h.Surface, h.CB(hostalloc.SurfaceDestruction))
		}
		drv.DestroyInstance(h.Instance, h.CB(hostalloc.InstanceDestruction))
		_ = cbs.Close()
	})
	return &Rig{Soft: drv, Handles: h, Snapshot: snap, Callbacks: cbs}
}

// Default is New with the default soft configuration and Requirements.
func Default(t *testing.T) *Rig {
	return New(t, soft.DefaultConfig(), Requirements())
}
