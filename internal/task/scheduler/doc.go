// Package scheduler owns the task queue, the status table and the loop that
// dispatches due tasks to the execution engine.
//
// A task runs once its DueTime has passed and every dependency has status
// Completed. Dependencies are fail-closed: an ID that was never enqueued, or was
// removed, blocks its dependents forever, and cycles are not detected. Stats
// reports such tasks as Blocked without changing dispatch.
//
// A recurring task keeps its ID and is re-enqueued after each run, so its status
// is only Completed for an instant; depending on a recurring task is therefore
// unreliable.
package scheduler
