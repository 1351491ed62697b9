// Package relay implements the TCP relay core of the kernel shim: the five
// per-channel relay ports, the per-direction forwarders, and the session
// coordinator that tracks every in-flight task and decides when the process
// is done.
package relay

import "context"

// TaskID identifies one unit of concurrent work for the lifetime of a run.
// IDs are issued from a single counter shared by all relay ports.
type TaskID int64

// Task is a tracked unit of concurrent work: a relayed connection's session
// handler or one of its two forwarding directions. The coordinator holds the
// cancel func so it can shut the task down during draining.
type Task struct {
	ID     TaskID
	Name   string
	Cancel context.CancelFunc
}

// EventKind tags a session event.
type EventKind int

const (
	// TaskStart announces a new live task.
	TaskStart EventKind = iota
	// TaskEnd announces that a task has fully completed. Every TaskStart is
	// matched by exactly one TaskEnd, including tasks cancelled during
	// shutdown.
	TaskEnd
	// Exit requests coordinated shutdown with the carried status code.
	Exit
)

// Event is a session event carried from any task to the coordinator on the
// shared event channel. The coordinator is the channel's only consumer.
type Event struct {
	Kind   EventKind
	Task   Task
	Status int
}
