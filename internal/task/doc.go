// Package task defines the unit of work handled by the scheduler: its identity,
// scheduling metadata, lifecycle status and the error taxonomy shared by the
// queue, the execution engine and the scheduler service.
package task
