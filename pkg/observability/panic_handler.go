package observability

import (
	"runtime/debug"

	"github.com/sirupsen/logrus"
)

// RecoverPanic recovers from a panic and logs it with the stack trace. It must be called
// directly in a defer statement:
//
//	defer observability.RecoverPanic(logger, "sync item", nil)
//
// The callback runs only when a panic was recovered. The panic is not re-raised.
func RecoverPanic(logger logrus.FieldLogger, where string, callback func(recovered interface{})) {
	if r := recover(); r != nil {
		logger.WithFields(logrus.Fields{
			"panic":   r,
			"stack":   string(debug.Stack()),
			"context": where,
		}).Error("PANIC recovered")
		if callback != nil {
			callback(r)
		}
	}
}
