package vulkan

import (
	"math"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	vk "github.com/goki/vulkan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/vkharness/engine/core"
	"github.com/spaghettifunk/vkharness/engine/renderer/driver"
)

type object struct{ name string }

func TestRegistryReusesHandles(t *testing.T) {
	d := newDriver()
	a, b := &object{"a"}, &object{"b"}

	ha := d.put(a)
	assert.NotZero(t, ha)
	assert.Equal(t, ha, d.put(a))
	assert.NotEqual(t, ha, d.put(b))
	assert.Same(t, a, lookup[*object](d, ha))
	assert.Equal(t, 2, d.live())
}

func TestRegistryNullAndUnknownHandles(t *testing.T) {
	d := newDriver()
	h := d.put(&object{"a"})

	assert.Nil(t, lookup[*object](d, 0))
	assert.Nil(t, lookup[*object](d, h+1))
	assert.Equal(t, "", lookup[string](d, h))
}

func TestDropReleasesChildren(t *testing.T) {
	d := newDriver()
	pool := d.put(&object{"pool"})
	first := d.adopt(pool, &object{"first"})
	second := d.adopt(pool, &object{"second"})
	other := d.put(&object{"other"})

	d.disown(pool, []uint64{first})
	assert.Nil(t, lookup[*object](d, first))
	assert.NotNil(t, lookup[*object](d, second))

	d.drop(pool)
	assert.Nil(t, lookup[*object](d, second))
	assert.NotNil(t, lookup[*object](d, other))
	assert.Equal(t, 1, d.live())
}

func TestLookupAllKeepsOrder(t *testing.T) {
	d := newDriver()
	a, b := &object{"a"}, &object{"b"}
	fences := []driver.Fence{driver.Fence(d.put(b)), 0, driver.Fence(d.put(a))}

	got := lookupAll[*object](d, fences)
	assert.Equal(t, []*object{b, nil, a}, got)
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "main\x00", safeString("main"))
	assert.Equal(t, "main\x00", safeString("main\x00"))
	assert.Equal(t, "\x00", safeString(""))

	in := []string{"VK_KHR_surface"}
	out := safeStrings(in)
	assert.Equal(t, "VK_KHR_surface", in[0])
	assert.Equal(t, "VK_KHR_surface\x00", out[0])

	var name [16]byte
	copy(name[:], "llvmpipe")
	assert.Equal(t, "llvmpipe", fromFixed(name[:]))
	assert.Equal(t, "full", fromFixed([]byte("full")))
}

func TestNanos(t *testing.T) {
	assert.Equal(t, uint64(1500000), nanos(1500*time.Microsecond))
	assert.Equal(t, uint64(math.MaxUint64), nanos(-1))
	assert.Zero(t, nanos(0))
}

// growing reports one more item on every count query, as a loader would when
// a device appears between the two calls.
type growing struct {
	items  []uint32
	counts int
	fills  int
}

func (g *growing) query(count *uint32, out []uint32) vk.Result {
	if out == nil {
		g.counts++
		*count = uint32(len(g.items))
		g.items = append(g.items, uint32(len(g.items)+1))
		return vk.Success
	}
	g.fills++
	n := copy(out, g.items)
	*count = uint32(n)
	if n < len(g.items) {
		return vk.Incomplete
	}
	return vk.Success
}

func TestEnumerateRetriesIncomplete(t *testing.T) {
	items := []uint32{1, 2}
	fills := 0
	got, err := enumerate("vkEnumerateThings", func(count *uint32, out []uint32) vk.Result {
		if out == nil {
			*count = uint32(len(items))
			return vk.Success
		}
		fills++
		if fills == 1 {
			// a third item arrives between the two calls
			items = append(items, 3)
			*count = uint32(copy(out, items))
			return vk.Incomplete
		}
		*count = uint32(copy(out, items))
		return vk.Success
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, got)
	assert.Equal(t, 2, fills)
}

func TestEnumerateGivesUp(t *testing.T) {
	g := &growing{items: []uint32{1}}
	_, err := enumerate("vkEnumerateThings", g.query)
	require.Error(t, err)
	res, ok := driver.ResultOf(err)
	require.True(t, ok)
	assert.Equal(t, driver.Incomplete, res)
	assert.Equal(t, enumerateAttempts, g.fills)
}

func TestEnumerateShrinkingAndEmpty(t *testing.T) {
	calls := 0
	got, err := enumerate("vkEnumerateThings", func(count *uint32, out []uint32) vk.Result {
		calls++
		if out == nil {
			*count = 3
			return vk.Success
		}
		out[0] = 7
		*count = 1
		return vk.Success
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{7}, got)
	assert.Equal(t, 2, calls)

	got, err = enumerate("vkEnumerateThings", func(count *uint32, out []uint32) vk.Result {
		*count = 0
		return vk.Success
	})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestEnumerateReportsErrors(t *testing.T) {
	_, err := enumerate("vkEnumerateThings", func(count *uint32, out []uint32) vk.Result {
		return vk.ErrorOutOfHostMemory
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vkEnumerateThings")
	assert.False(t, errors.Is(err, core.ErrDeviceLost))
}
