package driver

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/spaghettifunk/vkharness/engine/core"
)

// Result mirrors VkResult. Negative values are errors.
type Result int32

const (
	Success                   Result = 0
	NotReady                  Result = 1
	Timeout                   Result = 2
	EventSet                  Result = 3
	EventReset                Result = 4
	Incomplete                Result = 5
	Suboptimal                Result = 1000001003
	ErrorOutOfHostMemory      Result = -1
	ErrorOutOfDeviceMemory    Result = -2
	ErrorInitializationFailed Result = -3
	ErrorDeviceLost           Result = -4
	ErrorMemoryMapFailed      Result = -5
	ErrorLayerNotPresent      Result = -6
	ErrorExtensionNotPresent  Result = -7
	ErrorFeatureNotPresent    Result = -8
	ErrorIncompatibleDriver   Result = -9
	ErrorTooManyObjects       Result = -10
	ErrorFormatNotSupported   Result = -11
	ErrorFragmentedPool       Result = -12
	ErrorUnknown              Result = -13
	ErrorSurfaceLost          Result = -1000000000
	ErrorNativeWindowInUse    Result = -1000000001
	ErrorOutOfDate            Result = -1000001004
	ErrorValidationFailed     Result = -1000011001
	ErrorOutOfPoolMemory      Result = -1000069000
)

var resultStrings = map[Result][2]string{
	Success:                   {"VK_SUCCESS", "Command successfully completed"},
	NotReady:                  {"VK_NOT_READY", "A fence or query has not yet completed"},
	Timeout:                   {"VK_TIMEOUT", "A wait operation has not completed in the specified time"},
	EventSet:                  {"VK_EVENT_SET", "An event is signaled"},
	EventReset:                {"VK_EVENT_RESET", "An event is unsignaled"},
	Incomplete:                {"VK_INCOMPLETE", "A return array was too small for the result"},
	Suboptimal:                {"VK_SUBOPTIMAL_KHR", "A swapchain no longer matches the surface properties exactly, but can still be used to present to the surface successfully."},
	ErrorOutOfHostMemory:      {"VK_ERROR_OUT_OF_HOST_MEMORY", "A host memory allocation has failed."},
	ErrorOutOfDeviceMemory:    {"VK_ERROR_OUT_OF_DEVICE_MEMORY", "A device memory allocation has failed."},
	ErrorInitializationFailed: {"VK_ERROR_INITIALIZATION_FAILED", "Initialization of an object could not be completed for implementation-specific reasons."},
	ErrorDeviceLost:           {"VK_ERROR_DEVICE_LOST", "The logical or physical device has been lost."},
	ErrorMemoryMapFailed:      {"VK_ERROR_MEMORY_MAP_FAILED", "Mapping of a memory object has failed."},
	ErrorLayerNotPresent:      {"VK_ERROR_LAYER_NOT_PRESENT", "A requested layer is not present or could not be loaded."},
	ErrorExtensionNotPresent:  {"VK_ERROR_EXTENSION_NOT_PRESENT", "A requested extension is not supported."},
	ErrorFeatureNotPresent:    {"VK_ERROR_FEATURE_NOT_PRESENT", "A requested feature is not supported."},
	ErrorIncompatibleDriver:   {"VK_ERROR_INCOMPATIBLE_DRIVER", "The requested version of Vulkan is not supported by the driver or is otherwise incompatible for implementation-specific reasons."},
	ErrorTooManyObjects:       {"VK_ERROR_TOO_MANY_OBJECTS", "Too many objects of the type have already been created."},
	ErrorFormatNotSupported:   {"VK_ERROR_FORMAT_NOT_SUPPORTED", "A requested format is not supported on this device."},
	ErrorFragmentedPool:       {"VK_ERROR_FRAGMENTED_POOL", "A pool allocation has failed due to fragmentation of the pool's memory."},
	ErrorUnknown:              {"VK_ERROR_UNKNOWN", "An unknown error has occurred."},
	ErrorSurfaceLost:          {"VK_ERROR_SURFACE_LOST_KHR", "A surface is no longer available."},
	ErrorNativeWindowInUse:    {"VK_ERROR_NATIVE_WINDOW_IN_USE_KHR", "The requested window is already in use by Vulkan or another API in a manner which prevents it from being used again."},
	ErrorOutOfDate:            {"VK_ERROR_OUT_OF_DATE_KHR", "A surface has changed in such a way that it is no longer compatible with the swapchain."},
	ErrorValidationFailed:     {"VK_ERROR_VALIDATION_FAILED_EXT", "A command failed because invalid usage was detected by the implementation or a validation layer."},
	ErrorOutOfPoolMemory:      {"VK_ERROR_OUT_OF_POOL_MEMORY", "A pool memory allocation has failed."},
}

func (r Result) String() string {
	if s, ok := resultStrings[r]; ok {
		return s[0]
	}
	return fmt.Sprintf("VkResult(%d)", int32(r))
}

// Describe returns the name followed by the long description.
func (r Result) Describe() string {
	if s, ok := resultStrings[r]; ok {
		return s[0] + " " + s[1]
	}
	return r.String()
}

func (r Result) IsError() bool {
	return r < 0
}

// ResultError carries a non-success result out of a driver call.
type ResultError struct {
	Op     string
	Result Result
}

func (e *ResultError) Error() string {
	return e.Op + ": " + e.Result.String()
}

// Is lets callers match results against the harness sentinels.
func (e *ResultError) Is(target error) bool {
	switch e.Result {
	case Timeout:
		return target == core.ErrTimeout
	case NotReady:
		return target == core.ErrNotReady
	case ErrorDeviceLost:
		return target == core.ErrDeviceLost
	case ErrorUnknown:
		return target == core.ErrUnknown
	}
	return false
}

// Check turns anything but Success into a *ResultError.
func Check(op string, r Result) error {
	if r == Success {
		return nil
	}
	return &ResultError{Op: op, Result: r}
}

// ResultOf extracts the result code from err, if it carries one.
func ResultOf(err error) (Result, bool) {
	var re *ResultError
	if errors.As(err, &re) {
		return re.Result, true
	}
	return 0, false
}
