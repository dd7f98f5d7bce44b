// Package scheduler is the trigger side of batch processing: it owns the
// robfig/cron registry and enqueues jobs into the task engine when they fire.
// Execution, retries and overlap gating live in internal/task/engine.
package scheduler
