package engine

import (
	"github.com/google/uuid"

	"github.com/spaghettifunk/vkharness/engine/containers"
	"github.com/spaghettifunk/vkharness/engine/core"
)

// owned is one entry of the ownership stack: the closure that releases what
// was created under Name.
type owned struct {
	ID      uuid.UUID
	Name    string
	release func()
}

// ownership records every object as it is created so that teardown, or a
// failed construction, releases them in exactly the reverse order.
type ownership struct {
	stack *containers.Stack[owned]
}

func newOwnership() *ownership {
	return &ownership{stack: containers.NewStack[owned]()}
}

func (o *ownership) push(name string, release func()) uuid.UUID {
	entry := owned{ID: uuid.New(), Name: name, release: release}
	o.stack.Push(entry)
	core.LogDebug("owned %s (%s)", name, entry.ID)
	return entry.ID
}

func (o *ownership) Len() int {
	return o.stack.Len()
}

// unwind pops and releases every entry and returns their names in release
// order.
func (o *ownership) unwind() []string {
	var released []string
	for {
		entry, ok := o.stack.Pop()
		if !ok {
			return released
		}
		core.LogDebug("releasing %s (%s)", entry.Name, entry.ID)
		entry.release()
		released = append(released, entry.Name)
	}
}
