// Package soft is an in-memory driver. It keeps a journal of every object it
// creates and destroys, validates the usage rules real drivers leave to the
// validation layers, and runs compute dispatches as Go kernels.
package soft

import (
	"fmt"
	"sync"
	"unsafe"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/hostalloc"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

type EventKind int

const (
	Created EventKind = iota
	Destroyed
)

func (k EventKind) String() string {
	if k == Created {
		return "create"
	}
	return "destroy"
}

// Event is one journal entry.
type Event struct {
	Kind   EventKind
	Type   string
	Handle uint64
}

func (e Event) String() string {
	return fmt.Sprintf("%s %s 0x%x", e.Kind, e.Type, e.Handle)
}

// Stats counts the work the fake queues executed.
type Stats struct {
	Submits    int
	Dispatches int
	Draws      int
	Clears     int
	Barriers   int
	Presents   int
	WaitIdles  int
}

// object is the bookkeeping shared by every journaled handle.
type object struct {
	kind   string
	handle uint64
	parent uint64
	host   unsafe.Pointer
}

type Driver struct {
	mu  sync.Mutex
	cfg Config

	next       uint64
	objects    map[uint64]any
	journal    []Event
	violations []string
	stats      Stats
	failures   map[string]driver.Result
	kernels    map[[32]byte]Kernel
	lost       bool
	notReady   int
}

var _ driver.Driver = (*Driver)(nil)

func New(cfg Config) *Driver {
	return &Driver{
		cfg:      cfg,
		next:     0x1000,
		objects:  make(map[uint64]any),
		failures: make(map[string]driver.Result),
		kernels:  make(map[[32]byte]Kernel),
		notReady: cfg.AcquireNotReady,
	}
}

func (d *Driver) Name() string {
	return "soft"
}

// Journal returns a copy of the create/destroy history.
func (d *Driver) Journal() []Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Event, len(d.journal))
	copy(out, d.journal)
	return out
}

// Violations lists every usage rule the harness broke.
func (d *Driver) Violations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.violations))
	copy(out, d.violations)
	return out
}

func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Live counts journaled objects not yet destroyed.
func (d *Driver) Live() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, e := range d.journal {
		if e.Kind == Created {
			n++
		} else {
			n--
		}
	}
	return n
}

// FailNext makes the next call of op return r.
func (d *Driver) FailNext(op string, r driver.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[op] = r
}

// LoseDevice makes every later submit and wait report VK_ERROR_DEVICE_LOST.
func (d *Driver) LoseDevice() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lost = true
}

type journaled interface {
	base() *object
}

func (o *object) base() *object {
	return o
}

func (d *Driver) injected(op string) error {
	if r, ok := d.failures[op]; ok {
		delete(d.failures, op)
		return driver.Check(op, r)
	}
	return nil
}

func (d *Driver) violate(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	d.violations = append(d.violations, msg)
	core.LogWarn("soft: %s", msg)
}

func (d *Driver) handle() uint64 {
	d.next++
	return d.next
}

var hostSizes = map[string]uintptr{
	"instance": 1024,
	"device":   4096,
}

func hostScope(kind string) hostalloc.Scope {
	switch kind {
	case "instance", "surface":
		return hostalloc.ScopeInstance
	case "device":
		return hostalloc.ScopeDevice
	case "pipeline":
		return hostalloc.ScopeCache
	}
	return hostalloc.ScopeObject
}

// track allocates the host side of a new object through cb and journals it.
func (d *Driver) track(op, kind string, parent uint64, cb *hostalloc.Adapter) (*object, error) {
	if err := d.injected(op); err != nil {
		return nil, err
	}
	o := &object{kind: kind, parent: parent}
	if cb != nil {
		size, ok := hostSizes[kind]
		if !ok {
			size = 256
		}
		o.host = cb.Allocation(size, 16, hostScope(kind))
		if o.host == nil {
			return nil, driver.Check(op, driver.ErrorOutOfHostMemory)
		}
	}
	o.handle = d.handle()
	d.journal = append(d.journal, Event{Kind: Created, Type: kind, Handle: o.handle})
	return o, nil
}

// untrack releases the host side of o through cb and journals the destroy.
func (d *Driver) untrack(o *object, cb *hostalloc.Adapter) {
	if o.host != nil {
		if cb == nil {
			d.violate("%s 0x%x created with allocation callbacks but destroyed without", o.kind, o.handle)
		} else {
			cb.Free(o.host)
		}
		o.host = nil
	}
	delete(d.objects, o.handle)
	d.journal = append(d.journal, Event{Kind: Destroyed, Type: o.kind, Handle: o.handle})
}

func lookup[T any](d *Driver, h uint64) (T, bool) {
	o, ok := d.objects[h]
	if !ok {
		var zero T
		return zero, false
	}
	t, ok := o.(T)
	return t, ok
}

// destroy untracks the object behind h if it has type T, and records a
// violation otherwise. Destroying the null handle is a no-op.
func destroy[T journaled](d *Driver, kind string, h uint64, cb *hostalloc.Adapter) (T, bool) {
	var zero T
	if h == 0 {
		return zero, false
	}
	t, ok := lookup[T](d, h)
	if !ok {
		d.violate("destroy of unknown %s 0x%x", kind, h)
		return zero, false
	}
	d.untrack(t.base(), cb)
	return t, true
}

// childrenOf lists live journaled objects created from parent.
func (d *Driver) childrenOf(parent uint64) []string {
	var kids []string
	for _, o := range d.objects {
		if j, ok := o.(journaled); ok && j.base().parent == parent {
			kids = append(kids, fmt.Sprintf("%s 0x%x", j.base().kind, j.base().handle))
		}
	}
	return kids
}
