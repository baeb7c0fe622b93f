package hostalloc

import "fmt"

// Scope mirrors VkSystemAllocationScope.
type Scope uint32

const (
	ScopeCommand Scope = iota
	ScopeObject
	ScopeCache
	ScopeDevice
	ScopeInstance
)

func (s Scope) String() string {
	switch s {
	case ScopeCommand:
		return "command"
	case ScopeObject:
		return "object"
	case ScopeCache:
		return "cache"
	case ScopeDevice:
		return "device"
	case ScopeInstance:
		return "instance"
	default:
		return fmt.Sprintf("scope(%d)", uint32(s))
	}
}

// Category names the kind of driver call an Adapter serves. Every category
// gets its own Adapter so accounting can be read per category.
type Category int

const (
	InstanceCreation Category = iota
	InstanceDestruction
	SurfaceCreation
	SurfaceDestruction
	DeviceCreation
	DeviceDestruction
	BufferCreation
	BufferDestruction
	ImageCreation
	ImageDestruction
	ImageViewCreation
	ImageViewDestruction
	MemoryAllocation
	MemoryDeallocation
	SparseImageCreation
	SparseImageDestruction
	SwapchainCreation
	SwapchainDestruction
	PipelineObjects
	CommandObjects
	SynchronizationObjects

	categoryCount
)

var categoryNames = [categoryCount]string{
	InstanceCreation:       "instance creation",
	InstanceDestruction:    "instance destruction",
	SurfaceCreation:        "surface creation",
	SurfaceDestruction:     "surface destruction",
	DeviceCreation:         "device creation",
	DeviceDestruction:      "device destruction",
	BufferCreation:         "buffer creation",
	BufferDestruction:      "buffer destruction",
	ImageCreation:          "image creation",
	ImageDestruction:       "image destruction",
	ImageViewCreation:      "image view creation",
	ImageViewDestruction:   "image view destruction",
	MemoryAllocation:       "memory allocation",
	MemoryDeallocation:     "memory deallocation",
	SparseImageCreation:    "sparse image creation",
	SparseImageDestruction: "sparse image destruction",
	SwapchainCreation:      "swapchain creation",
	SwapchainDestruction:   "swapchain destruction",
	PipelineObjects:        "pipeline objects",
	CommandObjects:         "command objects",
	SynchronizationObjects: "synchronization objects",
}

func (c Category) String() string {
	if c < 0 || c >= categoryCount {
		return fmt.Sprintf("category(%d)", int(c))
	}
	return categoryNames[c]
}

// Categories lists every category in declaration order.
func Categories() []Category {
	out := make([]Category, categoryCount)
	for i := range out {
		out[i] = Category(i)
	}
	return out
}
