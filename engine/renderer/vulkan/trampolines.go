package vulkan

/*
#include <stdint.h>
#include <stddef.h>
*/
import "C"

import (
	"unsafe"

	"github.com/spaghettifunk/vkharness/engine/hostalloc"
)

//export goHostAllocation
func goHostAllocation(ctx C.uintptr_t, size, alignment C.size_t, scope C.int) unsafe.Pointer {
	return hostalloc.Allocation(hostalloc.Context(ctx), uintptr(size), uintptr(alignment), hostalloc.Scope(scope))
}

//export goHostReallocation
func goHostReallocation(ctx C.uintptr_t, orig unsafe.Pointer, size, alignment C.size_t, scope C.int) unsafe.Pointer {
	return hostalloc.Reallocation(hostalloc.Context(ctx), orig, uintptr(size), uintptr(alignment), hostalloc.Scope(scope))
}

//export goHostFree
func goHostFree(ctx C.uintptr_t, ptr unsafe.Pointer) {
	hostalloc.Free(hostalloc.Context(ctx), ptr)
}
