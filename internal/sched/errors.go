package sched

import "errors"

var (
	// ErrOutOfMemory is returned when the arena has no block large
	// enough to satisfy AddTask or CreateMutex.
	ErrOutOfMemory = errors.New("sched: arena has no block large enough")

	// ErrSelfRemove is returned by RemoveTask when asked to remove the
	// currently running task. Self-deletion is not supported (see
	// DESIGN.md, Open Question 3): a task that wants to disappear must
	// Suspend itself and have another task (or a watchdog) reap it.
	ErrSelfRemove = errors.New("sched: cannot remove the running task")
)

// kassert halts on a violated core precondition the scheduler has no
// correct continuation for and no logging channel to report through —
// the same role hkos_scheduler_lock_mutex's `while(1);` plays in the C
// original, and the role runtime.throw plays in the Go runtime this
// package is grounded on.
func kassert(cond bool, msg string) {
	if !cond {
		panic("sched: precondition violated: " + msg)
	}
}
