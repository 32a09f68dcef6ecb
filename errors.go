package dieselrhi

import (
	"log"
	"os"

	"github.com/cockroachdb/errors"
)

var (
	ErrOutOfDate        = errors.New("vulkan: swapchain out of date")
	ErrSurfaceLost      = errors.New("vulkan: surface lost")
	ErrNoSuitableDevice = errors.New("vulkan: no suitable physical device")
	ErrMissingExtension = errors.New("vulkan: missing required extension")
	ErrDescriptorLimit  = errors.New("vulkan: descriptor set layout exceeds device limits")
	ErrNoPresentQueue   = errors.New("vulkan: no queue supports presenting to the surface")
)

func isError(ret Result) bool {
	return ret != Success
}

// NewError wraps a native result code with the caller's stack. Success yields nil.
func NewError(ret Result) error {
	if ret == Success {
		return nil
	}
	switch ret {
	case ErrorOutOfDate:
		return errors.WithStackDepth(errors.Mark(ret, ErrOutOfDate), 1)
	case ErrorSurfaceLost:
		return errors.WithStackDepth(errors.Mark(ret, ErrSurfaceLost), 1)
	}
	return errors.WithStackDepth(ret, 1)
}

func newErrorf(ret Result, format string, args ...interface{}) error {
	if ret == Success {
		return nil
	}
	return errors.Wrapf(NewError(ret), format, args...)
}

// FatalHandler receives unrecoverable errors. It is not expected to return,
// but callers stop the failing operation if it does.
type FatalHandler func(err error)

// DefaultFatalHandler appends the error to fatal_log.txt and exits the process.
func DefaultFatalHandler(err error) {
	file, ferr := os.OpenFile("fatal_log.txt", os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if ferr != nil {
		log.Fatalf("%+v", err)
	}
	fatalLog := log.New(file, "FATAL: ", log.Ldate|log.Ltime|log.Lshortfile)
	fatalLog.Fatalf("%+v", err)
}

// Fatal runs the finalizers then hands err to the default fatal handler.
func Fatal(err error, finalizers ...func()) {
	fatal(DefaultFatalHandler, err, finalizers...)
}

func fatal(handler FatalHandler, err error, finalizers ...func()) {
	if err == nil {
		return
	}
	for _, fn := range finalizers {
		fn()
	}
	if handler == nil {
		handler = DefaultFatalHandler
	}
	handler(err)
}

// check panics with an assertion failure when cond does not hold.
func check(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(errors.AssertionFailedWithDepthf(1, format, args...))
	}
}

// IsAssertionFailure reports whether v, usually a recovered panic value, is an assertion failure.
func IsAssertionFailure(v interface{}) bool {
	err, ok := v.(error)
	return ok && errors.IsAssertionFailure(err)
}

func checkErr(err *error) {
	if v := recover(); v != nil {
		if e, ok := v.(error); ok {
			*err = errors.WithStack(e)
			return
		}
		*err = errors.Newf("%+v", v)
	}
}
