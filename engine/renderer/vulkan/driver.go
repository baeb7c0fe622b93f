// Package vulkan implements driver.Driver on the system Vulkan loader.
//
// Driver handles are small integers handed out by a registry; the registry
// maps them back to the loader's own handles. Objects owned by another object
// (descriptor sets, command buffers, swapchain images) are dropped from the
// registry together with their owner.
package vulkan

import (
	"bytes"
	"math"
	"sync"
	"time"
	"unsafe"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

const (
	portabilityEnumeration = "VK_KHR_portability_enumeration"
	portabilitySubset      = "VK_KHR_portability_subset"
)

var _ driver.Driver = (*Driver)(nil)

type Driver struct {
	mu       sync.RWMutex
	next     uint64
	objects  map[uint64]interface{}
	ids      map[interface{}]uint64
	children map[uint64][]uint64

	callbacks callbackCache
}

// New loads the instance-level entry points. procAddr is the loader's
// vkGetInstanceProcAddr; nil opens the system loader directly.
func New(procAddr unsafe.Pointer) (*Driver, error) {
	if procAddr != nil {
		vk.SetGetInstanceProcAddr(procAddr)
	} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
		return nil, errors.Wrap(err, "loading the vulkan library")
	}
	if err := vk.Init(); err != nil {
		return nil, errors.Wrap(err, "initializing vulkan")
	}
	core.LogDebug("vulkan loader initialized")
	return newDriver(), nil
}

func newDriver() *Driver {
	return &Driver{
		objects:   make(map[uint64]interface{}),
		ids:       make(map[interface{}]uint64),
		children:  make(map[uint64][]uint64),
		callbacks: newCallbackCache(),
	}
}

func (d *Driver) Name() string {
	return "vulkan"
}

// Close frees the allocation callback tables handed to the loader. Call it
// after every object has been destroyed.
func (d *Driver) Close() {
	d.callbacks.free()
}

// put registers obj and returns its handle. Registering the same object twice
// yields the same handle.
func (d *Driver) put(obj interface{}) uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if id, ok := d.ids[obj]; ok {
		return id
	}
	d.next++
	d.objects[d.next] = obj
	d.ids[obj] = d.next
	return d.next
}

// adopt registers obj as owned by parent.
func (d *Driver) adopt(parent uint64, obj interface{}) uint64 {
	id := d.put(obj)
	d.mu.Lock()
	d.children[parent] = append(d.children[parent], id)
	d.mu.Unlock()
	return id
}

func (d *Driver) get(id uint64) interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.objects[id]
}

// drop forgets id and everything it owns.
func (d *Driver) drop(id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dropLocked(id)
}

func (d *Driver) dropLocked(id uint64) {
	for _, child := range d.children[id] {
		d.dropLocked(child)
	}
	delete(d.children, id)
	if obj, ok := d.objects[id]; ok {
		delete(d.ids, obj)
		delete(d.objects, id)
	}
}

// disown forgets ids owned by parent without touching the rest.
func (d *Driver) disown(parent uint64, ids []uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gone := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
		d.dropLocked(id)
	}
	kept := d.children[parent][:0]
	for _, id := range d.children[parent] {
		if !gone[id] {
			kept = append(kept, id)
		}
	}
	d.children[parent] = kept
}

func (d *Driver) live() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.objects)
}

// lookup resolves a driver handle. The null handle and unknown handles
// resolve to the loader's null handle.
func lookup[T any](d *Driver, id uint64) T {
	var zero T
	if id == 0 {
		return zero
	}
	v, ok := d.get(id).(T)
	if !ok {
		return zero
	}
	return v
}

func lookupAll[T any, H ~uint64](d *Driver, ids []H) []T {
	out := make([]T, len(ids))
	for i, id := range ids {
		out[i] = lookup[T](d, uint64(id))
	}
	return out
}

func check(op string, res vk.Result) error {
	return driver.Check(op, driver.Result(res))
}

// enumerateAttempts bounds how often a two-call query is restarted when the
// count grows between the calls.
const enumerateAttempts = 4

// enumerate runs the two-call pattern: query the count, allocate, query the
// data. VK_INCOMPLETE on the second call restarts it. The result is cut to
// the count the second call reported.
func enumerate[T any](op string, query func(count *uint32, out []T) vk.Result) ([]T, error) {
	for attempt := 0; attempt < enumerateAttempts; attempt++ {
		var count uint32
		if err := check(op, query(&count, nil)); err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, nil
		}
		out := make([]T, count)
		want := count
		res := query(&count, out)
		if res == vk.Incomplete {
			core.LogDebug("%s: count changed from %d, retrying", op, want)
			continue
		}
		if err := check(op, res); err != nil {
			return nil, err
		}
		return out[:min(count, want)], nil
	}
	return nil, check(op, vk.Incomplete)
}

func bool32(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

// safeString null-terminates s for the loader.
func safeString(s string) string {
	if len(s) == 0 || s[len(s)-1] != 0 {
		return s + "\x00"
	}
	return s
}

func safeStrings(list []string) []string {
	out := make([]string, len(list))
	for i, s := range list {
		out[i] = safeString(s)
	}
	return out
}

// fromFixed reads a null-terminated name out of a fixed size array.
func fromFixed(b []byte) string {
	if end := bytes.IndexByte(b, 0); end >= 0 {
		return string(b[:end])
	}
	return string(b)
}

// nanos converts a wait timeout. Negative waits forever.
func nanos(timeout time.Duration) uint64 {
	if timeout < 0 {
		return math.MaxUint64
	}
	return uint64(timeout.Nanoseconds())
}

func (d *Driver) allocator(cb *hostalloc.Adapter) *vk.AllocationCallbacks {
	if cb == nil {
		return nil
	}
	return (*vk.AllocationCallbacks)(d.callbacks.get(cb.Context()))
}
