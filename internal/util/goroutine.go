package util

import (
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/real-rm/supportchat/internal/metrics"
)

// SafeGo runs fn on a new goroutine and recovers any panic it raises.
// The panic is logged with the component name and counted in the panic metric,
// so one misbehaving pump or worker cannot take the process down.
func SafeGo(logger *slog.Logger, component string, fn func()) {
	go func() {
		defer Recover(logger, component)
		fn()
	}()
}

// Recover is the deferred half of SafeGo. It can be used directly where a
// call, not a goroutine, must be shielded (event bus subscribers).
func Recover(logger *slog.Logger, component string) {
	r := recover()
	if r == nil {
		return
	}
	logger.Error("Panic recovered",
		"component", component,
		"panic", fmt.Sprintf("%v", r),
		"stack", string(debug.Stack()))
	metrics.PanicsRecovered.WithLabelValues(component).Inc()
}
