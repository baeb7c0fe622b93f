package vulkan

/*
#include <stdlib.h>
#include <stdint.h>
#include <stddef.h>

extern void *goHostAllocation(uintptr_t ctx, size_t size, size_t alignment, int scope);
extern void *goHostReallocation(uintptr_t ctx, void *orig, size_t size, size_t alignment, int scope);
extern void goHostFree(uintptr_t ctx, void *ptr);

// Same layout as VkAllocationCallbacks.
typedef struct {
	void *pUserData;
	void *(*pfnAllocation)(void *, size_t, size_t, int);
	void *(*pfnReallocation)(void *, void *, size_t, size_t, int);
	void (*pfnFree)(void *, void *);
	void (*pfnInternalAllocation)(void *, size_t, int, int);
	void (*pfnInternalFree)(void *, size_t, int, int);
} hostCallbacks;

static void *hostAllocation(void *user, size_t size, size_t alignment, int scope) {
	return goHostAllocation((uintptr_t)user, size, alignment, scope);
}

static void *hostReallocation(void *user, void *orig, size_t size, size_t alignment, int scope) {
	return goHostReallocation((uintptr_t)user, orig, size, alignment, scope);
}

static void hostFree(void *user, void *ptr) {
	goHostFree((uintptr_t)user, ptr);
}

static hostCallbacks *newHostCallbacks(uintptr_t ctx) {
	hostCallbacks *cb = calloc(1, sizeof(hostCallbacks));
	if (cb == NULL) {
		return NULL;
	}
	cb->pUserData = (void *)ctx;
	cb->pfnAllocation = hostAllocation;
	cb->pfnReallocation = hostReallocation;
	cb->pfnFree = hostFree;
	return cb;
}
*/
import "C"

import (
	"sync"
	"unsafe"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
)

// callbackCache keeps one C callback table per adapter. The tables live in C
// memory because the loader holds on to them past the creating call.
type callbackCache struct {
	mu     sync.Mutex
	tables map[hostalloc.Context]*C.hostCallbacks
}

func newCallbackCache() callbackCache {
	return callbackCache{tables: make(map[hostalloc.Context]*C.hostCallbacks)}
}

func (c *callbackCache) get(ctx hostalloc.Context) unsafe.Pointer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.tables[ctx]; ok {
		return unsafe.Pointer(t)
	}
	t := C.newHostCallbacks(C.uintptr_t(ctx))
	if t == nil {
		return nil
	}
	c.tables[ctx] = t
	return unsafe.Pointer(t)
}

func (c *callbackCache) free() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ctx, t := range c.tables {
		C.free(unsafe.Pointer(t))
		delete(c.tables, ctx)
	}
}
