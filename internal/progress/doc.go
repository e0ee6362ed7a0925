// Package progress carries job progress in two directions. The Channel and
// Stream types move per-job status and result events from the orchestrator to
// one HTTP client in order, guarded by an idle timeout. The Hub batches
// lifecycle milestones on a background goroutine and fans them out to
// pluggable sinks such as Prometheus metrics or structured logs.
package progress
