// Package async holds the fire-and-forget primitive used for every
// best-effort side effect in the pipeline (broadcast previews, cache
// refills). Work whose outcome the caller depends on must not go through
// here; it belongs in the caller's own error-handling path.
package async

import "log/slog"

// BestEffort runs fn on its own goroutine. A returned error or panic is
// logged under name and swallowed; the caller gets no completion signal.
func BestEffort(name string, fn func() error) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("async.panic", "task", name, "panic", r)
			}
		}()
		if err := fn(); err != nil {
			slog.Warn("async.task_failed", "task", name, "error", err)
		}
	}()
}
