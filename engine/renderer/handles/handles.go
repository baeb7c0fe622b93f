// Package handles holds the device handle set every component borrows.
package handles

import (
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

type Queue struct {
	Handle driver.Queue
	Family uint32
}

// Queues may alias each other when one family serves several roles.
type Queues struct {
	Primary  Queue
	Transfer Queue
	Present  Queue
}

// Set is owned by the engine and filled in as construction proceeds.
// Components read it; only the engine writes it.
type Set struct {
	Driver         driver.Driver
	Instance       driver.Instance
	Surface        driver.Surface
	PhysicalDevice driver.PhysicalDevice
	Device         driver.Device
	Queues         Queues
	Callbacks      *hostalloc.Set
	Locks          *LockPool
}

func New(drv driver.Driver, callbacks *hostalloc.Set) *Set {
	return &Set{
		Driver:    drv,
		Callbacks: callbacks,
		Locks:     NewLockPool(),
	}
}

// CB returns the allocation adapter for c, or nil when the set runs without
// callbacks.
func (s *Set) CB(c hostalloc.Category) *hostalloc.Adapter {
	return s.Callbacks.For(c)
}

// WithDevice runs fn under the device lock.
func (s *Set) WithDevice(fn func(d driver.Driver, dev driver.Device) error) error {
	return s.Locks.SafeCall(DeviceManagement, func() error {
		return fn(s.Driver, s.Device)
	})
}

// Submit runs fn under the lock of q's family.
func (s *Set) Submit(q Queue, fn func(d driver.Driver, q driver.Queue) error) error {
	return s.Locks.SafeQueueCall(q.Family, func() error {
		return fn(s.Driver, q.Handle)
	})
}
