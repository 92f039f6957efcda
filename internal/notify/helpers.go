package notify

import "log/slog"

// logNotifyResult logs the result of a notification attempt.
func logNotifyResult(fn func() error, notifyType, room string) {
	if err := fn(); err != nil {
		slog.Error("notification failed", "type", notifyType, "room", room, "error", err)
		return
	}
	slog.Info("notification sent", "type", notifyType, "room", room)
}
