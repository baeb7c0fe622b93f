package core

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

var (
	ErrNoSuitableDevice         = errors.New("no physical device meets the requirements")
	ErrNoQueueFamily            = errors.New("no queue family supports the required capabilities")
	ErrNoMemoryType             = errors.New("no desired memory type found")
	ErrSurfaceFormatUnavailable = errors.New("required surface format is not supported")
	ErrPresentModeUnavailable   = errors.New("required present mode is not supported")
	ErrSparseUnsupported        = errors.New("sparse residency is not supported for the image")
	ErrIncompatibleMemoryType   = errors.New("memory type is not compatible with the resource")
	ErrUnboundResource          = errors.New("resource is not bound to memory")
	ErrUnflushedWrites          = errors.New("non-coherent memory has unflushed host writes")
	ErrFenceNotReset            = errors.New("fence must be reset before reuse")
	ErrInvalidState             = errors.New("invalid state")
	ErrDuplicateBinding         = errors.New("duplicate descriptor binding slot")
	ErrPushConstantRange        = errors.New("invalid push constant range")
	ErrTimeout                  = errors.New("wait timed out")
	ErrDeviceLost               = errors.New("device lost")
	ErrNotReady                 = errors.New("engine is not ready")
	ErrTerminated               = errors.New("engine is terminating")
	ErrUnknown                  = errors.New("unknown")
)

// FatalError is the single error type surfaced out of engine construction
// and out of any per-frame failure the process cannot continue from.
type FatalError struct {
	Message string
	cause   error
}

func (e *FatalError) Error() string {
	if e.cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Message, e.cause)
}

func (e *FatalError) Unwrap() error {
	return e.cause
}

// Fatal wraps err into a *FatalError. An err that is already fatal is
// returned untouched so the innermost message wins.
func Fatal(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	var f *FatalError
	if errors.As(err, &f) {
		return err
	}
	return &FatalError{
		Message: fmt.Sprintf(format, args...),
		cause:   err,
	}
}

func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// Violation reports a broken caller contract (submitting an unbound
// resource, reusing an unset fence, ...). The sentinel stays reachable
// through errors.Is.
func Violation(sentinel error, format string, args ...interface{}) error {
	return errors.WithAssertionFailure(errors.Mark(errors.Newf(format, args...), sentinel))
}

// IsViolation is true when err, or anything it wraps, came from Violation.
func IsViolation(err error) bool {
	return errors.HasAssertionFailure(err)
}
