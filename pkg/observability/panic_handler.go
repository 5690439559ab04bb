package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with its stack.
// Call it directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "reclamation sweep")
//
// The panic is not re-raised.
func RecoverPanic(logger *Logger, where string) {
	if r := recover(); r != nil {
		logPanic(logger, where, r)
	}
}

// SafeGo runs fn in a goroutine that logs instead of crashing on panic
func SafeGo(logger *Logger, where string, fn func()) {
	go func() {
		defer RecoverPanic(logger, where)
		fn()
	}()
}

// PanicError converts a recovered value into an error; nil stays nil
func PanicError(r interface{}) error {
	if r == nil {
		return nil
	}
	return fmt.Errorf("panic: %v", r)
}

func logPanic(logger *Logger, where string, r interface{}) {
	logger.WithFields(map[string]interface{}{
		"panic":   fmt.Sprint(r),
		"stack":   string(debug.Stack()),
		"context": where,
	}).Error("PANIC recovered")
}
