package sched

import "github.com/halfkos-go/kernel/internal/arena"

// Mutex is a FIFO mutual-exclusion object. Waiters are threaded through
// the blocked tasks' own prev/next links exactly like the running and
// waiting lists — a task is never on more than one list at a time — the
// same discipline cloudfly-readgo/runtime/chan.go uses for a channel's
// waitq of parked sudogs.
type Mutex struct {
	locked       bool
	waitersHead  *Task
	waitersTail  *Task
	block        arena.Block
	slot, gen    uint32
}

// MutexHandle is the generation-stamped token for a Mutex, mirroring
// TaskHandle.
type MutexHandle struct {
	slot uint32
	gen  uint32
}

// Valid reports whether h was ever issued.
func (h MutexHandle) Valid() bool {
	return h.gen != 0
}
