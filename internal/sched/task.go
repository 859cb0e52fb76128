package sched

import (
	"github.com/halfkos-go/kernel/internal/arena"
	"github.com/halfkos-go/kernel/port"
)

// taskState is the tagged variant replacing the historical signed
// delay_ticks sentinel ("-1 stored in an unsigned field means
// suspended"). Only one of {runnable, a positive delay, suspended} is
// ever true for a task at once, so representing it as an explicit enum
// plus a ticks field (meaningful only in stateSleeping) removes the
// sentinel-confusion class of bug flagged in spec.md §9.
type taskState uint8

const (
	stateRunnable taskState = iota
	stateSleeping
	stateSuspended
	stateMutexWaiting
)

// Task is a schedulable unit's control block. Unlike the C original,
// the TCB is not placed inside the byte arena — the arena block it
// references only accounts for the memory budget (TCB + stack bytes)
// the task consumes; the scheduling metadata lives in ordinary
// GC-managed Go memory, per the guidance to keep typed task nodes
// outside the untyped byte buffer and have the arena track accounting
// through index/size handles instead of raw in-place placement.
type Task struct {
	prev, next *Task // list links, shared by the running/waiting/mutex-waiter lists

	state      taskState
	delayTicks uint32

	ctx   port.Context
	block arena.Block // backing allocation, freed on RemoveTask

	waitingOn *Mutex // non-nil only while state == stateMutexWaiting

	slot uint32 // index into Scheduler.tasks, for handle validation
	gen  uint32
}

// TaskHandle is an opaque, generation-stamped reference to a Task. A
// handle returned by AddTask stays valid until the task is removed;
// after removal, the same bit pattern never matches a live task again
// because the backing slot's generation has advanced. This is the
// generation-indexed slot token recommended in place of a raw pointer.
type TaskHandle struct {
	slot uint32
	gen  uint32
}

// Valid reports whether h was ever issued. The zero TaskHandle is never
// valid.
func (h TaskHandle) Valid() bool {
	return h.gen != 0
}
