package handles

import "sync"

type LockGroup string

const (
	InstanceManagement        LockGroup = "instance_management"
	DeviceManagement          LockGroup = "device_management"
	MemoryManagement          LockGroup = "memory_management"
	BufferManagement          LockGroup = "buffer_management"
	ImageManagement           LockGroup = "image_management"
	ResourceManagement        LockGroup = "resource_management"
	PipelineManagement        LockGroup = "pipeline_management"
	ShaderManagement          LockGroup = "shader_management"
	CommandPoolManagement     LockGroup = "command_pool_management"
	CommandBufferManagement   LockGroup = "command_buffer_management"
	SynchronizationManagement LockGroup = "synchronization_management"
	SwapchainManagement       LockGroup = "swapchain_management"
	RenderpassManagement      LockGroup = "renderpass_management"
)

// LockPool hands out one mutex per handle kind and one per queue family.
// Locks are held for the duration of a single driver call.
type LockPool struct {
	mu           sync.Mutex // protects the maps, never held while a group lock is taken
	locks        map[LockGroup]*sync.Mutex
	queueMutexes map[uint32]*sync.Mutex
}

func NewLockPool() *LockPool {
	return &LockPool{
		locks:        make(map[LockGroup]*sync.Mutex),
		queueMutexes: make(map[uint32]*sync.Mutex),
	}
}

func (lp *LockPool) group(group LockGroup) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	l, ok := lp.locks[group]
	if !ok {
		l = &sync.Mutex{}
		lp.locks[group] = l
	}
	return l
}

func (lp *LockPool) queue(family uint32) *sync.Mutex {
	lp.mu.Lock()
	defer lp.mu.Unlock()
	l, ok := lp.queueMutexes[family]
	if !ok {
		l = &sync.Mutex{}
		lp.queueMutexes[family] = l
	}
	return l
}

func (lp *LockPool) SafeCall(group LockGroup, fn func() error) error {
	l := lp.group(group)
	l.Lock()
	defer l.Unlock()

	return fn()
}

// SetQueueFamily registers a family up front so the first submission does
// not allocate.
func (lp *LockPool) SetQueueFamily(index uint32) {
	lp.queue(index)
}

func (lp *LockPool) SafeQueueCall(family uint32, fn func() error) error {
	l := lp.queue(family)
	l.Lock()
	defer l.Unlock()

	return fn()
}
