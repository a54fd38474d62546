package util

import (
	"fmt"
	"log/slog"
)

// LogError logs err at error level with the component and the failed operation.
//
//	LogError(logger, "router", "claim room", err, "room_id", roomID)
//
// produces the message "Failed to claim room" with error, component and room_id attributes.
func LogError(logger *slog.Logger, component, operation string, err error, fields ...any) {
	attrs := make([]any, 0, len(fields)+4)
	attrs = append(attrs, "error", err, "component", component)
	attrs = append(attrs, fields...)
	logger.Error(fmt.Sprintf("Failed to %s", operation), attrs...)
}
