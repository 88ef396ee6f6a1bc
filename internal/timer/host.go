package timer

import (
	"log"
	"sync/atomic"
	"time"
)

// Clock supplies the current wall-clock time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads time.Now.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now() }

// ExecutionHost is the platform hook that keeps the process alive while a
// timer runs. Begin is called when a timer starts from idle and End when it
// stops. Errors are logged and otherwise ignored.
type ExecutionHost interface {
	Begin() error
	End() error
}

// NopHost does nothing.
type NopHost struct{}

func (NopHost) Begin() error { return nil }
func (NopHost) End() error   { return nil }

// LoggingHost records begin/end calls in the log and tracks whether extended
// execution is currently held. The daemon uses it in place of a platform hook.
type LoggingHost struct {
	Logger *log.Logger
	active atomic.Bool
}

// Begin implements ExecutionHost.
func (h *LoggingHost) Begin() error {
	if h.active.CompareAndSwap(false, true) && h.Logger != nil {
		h.Logger.Println("Extended execution started")
	}
	return nil
}

// End implements ExecutionHost.
func (h *LoggingHost) End() error {
	if h.active.CompareAndSwap(true, false) && h.Logger != nil {
		h.Logger.Println("Extended execution ended")
	}
	return nil
}

// Active reports whether Begin has been called without a matching End.
func (h *LoggingHost) Active() bool {
	return h.active.Load()
}
