package probe

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

// QueueSelection decides how a family's flags are matched against the
// required capability.
type QueueSelection int

const (
	// SelectBitmask requires every bit of the capability to be set.
	SelectBitmask QueueSelection = iota
	// SelectParity accepts any family whose flags are odd. It only finds
	// the right family when the capability is bit 0 (graphics) and is kept
	// to compare against that historical behaviour.
	SelectParity
)

func (s QueueSelection) String() string {
	if s == SelectParity {
		return "parity"
	}
	return "bitmask"
}

func ParseQueueSelection(s string) (QueueSelection, error) {
	switch strings.ToLower(s) {
	case "", "bitmask":
		return SelectBitmask, nil
	case "parity":
		return SelectParity, nil
	}
	return SelectBitmask, errors.Newf("unknown queue selection %q", s)
}

func (s QueueSelection) matches(flags, capability driver.QueueFlags) bool {
	if s == SelectParity {
		return flags%2 == 1
	}
	return flags&capability == capability
}

// MemoryUsage names a property-flag combination the harness allocates from.
type MemoryUsage int

const (
	DeviceLocal MemoryUsage = iota
	HostVisible
	DeviceLocalHostVisible
	HostCached
	memoryUsageCount
)

var memoryUsageNames = [memoryUsageCount]string{"device_local", "host_visible", "device_local_host_visible", "host_cached"}

func (u MemoryUsage) String() string {
	if u >= 0 && u < memoryUsageCount {
		return memoryUsageNames[u]
	}
	return "unknown"
}

func ParseMemoryUsage(s string) (MemoryUsage, error) {
	for i, n := range memoryUsageNames {
		if n == strings.ToLower(s) {
			return MemoryUsage(i), nil
		}
	}
	return HostVisible, errors.Newf("unknown memory usage %q", s)
}

// Flags is the property set a memory type must contain to serve u.
func (u MemoryUsage) Flags() driver.MemoryPropertyFlags {
	switch u {
	case DeviceLocal:
		return driver.MemoryPropertyDeviceLocalBit
	case HostVisible:
		return driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCoherentBit
	case DeviceLocalHostVisible:
		return driver.MemoryPropertyDeviceLocalBit | driver.MemoryPropertyHostVisibleBit
	case HostCached:
		return driver.MemoryPropertyHostVisibleBit | driver.MemoryPropertyHostCachedBit
	}
	return 0
}

// Requirements is what the harness needs from a device.
type Requirements struct {
	Features         []string
	DeviceExtensions []string
	// MinAPIVersion is a semver constraint such as ">= 1.2".
	MinAPIVersion string
	Capability    driver.QueueFlags
	Selection     QueueSelection
	// Memory lists the usages that must resolve to a memory type. The
	// others are resolved when the device offers them.
	Memory []MemoryUsage

	// Presentation, ignored when the handle set has no surface.
	SurfaceFormat driver.SurfaceFormat
	PresentMode   driver.PresentMode

	ImageFormat  driver.Format
	SparseFormat driver.Format
}
