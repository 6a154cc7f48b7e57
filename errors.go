package vkframe

import (
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	vk "github.com/vulkan-go/vulkan"
)

// Error classes. Concrete errors returned by this package are marked with one
// of these, test them with errors.Is.
var (
	// ErrAllocation reports that no memory type satisfied a request or that a
	// bounded pool ran out of capacity.
	ErrAllocation = errors.New("allocation failed")
	// ErrResourceCreation reports that the driver rejected a create call.
	ErrResourceCreation = errors.New("resource creation failed")
	// ErrFormatUnsupported reports that no format/tiling/feature combination
	// satisfied a query. The hardware cannot run the engine.
	ErrFormatUnsupported = errors.New("format unsupported")
	// ErrSwapchainStale reports an out of date or suboptimal swapchain. The
	// frame orchestrator recovers from it by resetting the swapchain.
	ErrSwapchainStale = errors.New("swapchain out of date")
	// ErrSynchronizationTimeout reports a fence wait that exceeded its bound.
	ErrSynchronizationTimeout = errors.New("synchronization timeout")
	// ErrUnknownLayout reports an image layout missing from the barrier tables.
	ErrUnknownLayout = errors.New("unknown image layout")
)

func isError(ret vk.Result) bool {
	return ret != vk.Success
}

// NewError converts a Vulkan result into an error carrying the caller's stack.
// It returns nil for vk.Success.
func NewError(ret vk.Result) error {
	if !isError(ret) {
		return nil
	}
	// non-error status codes such as suboptimal carry no error value
	name := "status"
	if e := vk.Error(ret); e != nil {
		name = e.Error()
	}
	return errors.WithStackDepth(errors.Newf("vulkan error: %s (%d)", name, int32(ret)), 1)
}

func creationError(ret vk.Result, format string, args ...interface{}) error {
	if !isError(ret) {
		return nil
	}
	err := errors.Wrapf(NewError(ret), format, args...)
	if ret == vk.ErrorOutOfDeviceMemory || ret == vk.ErrorOutOfHostMemory {
		return errors.Mark(errors.Mark(err, ErrResourceCreation), ErrAllocation)
	}
	return errors.Mark(err, ErrResourceCreation)
}

func allocationError(format string, args ...interface{}) error {
	return errors.Mark(errors.WithStackDepth(errors.Newf(format, args...), 1), ErrAllocation)
}

func staleError(ret vk.Result, op string) error {
	return errors.Mark(errors.Wrap(NewError(ret), op), ErrSwapchainStale)
}

// IsStale reports whether err is a recoverable swapchain condition.
func IsStale(err error) bool {
	return errors.Is(err, ErrSwapchainStale)
}

// Fatal runs the finalizers, logs err and exits the process. It does nothing
// for a nil error. Only drivers should call it; the package itself returns
// errors.
func Fatal(err error, finalizers ...func()) {
	if err == nil {
		return
	}
	for _, fn := range finalizers {
		fn()
	}
	Logger().Error("fatal", "err", fmt.Sprintf("%+v", err))
	os.Exit(1)
}

// checkErr turns a panic raised below the deferring frame into *err.
func checkErr(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = errors.Wrap(e, "recovered panic")
			return
		}
		*err = errors.Newf("recovered panic: %+v", v)
	}
}
