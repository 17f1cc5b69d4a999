package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack. Call it in a
// defer at the top of background jobs such as the security monitor:
//
//	defer observability.RecoverPanic(logger, "security monitor")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, r, where)
	}
}

// RecoverPanicWithCallback is RecoverPanic followed by callback when a panic occurred.
func RecoverPanicWithCallback(logger *Logger, where string, callback func()) {
	if r := recover(); r != nil {
		logPanic(logger, r, where)
		if callback != nil {
			callback()
		}
	}
}

// MustRecover converts a recovered value into an error, or nil.
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}

func logPanic(logger *Logger, r interface{}, where string) {
	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
