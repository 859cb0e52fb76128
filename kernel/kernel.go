// Package kernel is the external API façade spec.md §5 asks for: the
// small set of entry points an application (or an example program)
// actually calls, each one just a critical section wrapped around a
// single sched.Scheduler operation. It exists so callers never import
// internal/sched or internal/arena directly — exactly the role
// hkos.h plays over hkos_scheduler.h/hkos_arena.h in the C original.
package kernel

import (
	"github.com/halfkos-go/kernel/internal/sched"
	"github.com/halfkos-go/kernel/port"
)

// TaskHandle identifies a task created with AddTask. The zero value is
// never valid.
type TaskHandle = sched.TaskHandle

// MutexHandle identifies a mutex created with CreateMutex. The zero
// value is never valid.
type MutexHandle = sched.MutexHandle

// Sentinel errors returned by this package's operations, re-exported
// from internal/sched so callers never need to import it.
var (
	ErrOutOfMemory = sched.ErrOutOfMemory
	ErrSelfRemove  = sched.ErrSelfRemove
)

// Config configures a Kernel at construction time.
type Config struct {
	// ArenaSize is the number of bytes set aside for task and mutex
	// allocations. This is the single pool every AddTask/CreateMutex
	// call draws from; there is no separate heap.
	ArenaSize int
	// TimeSliceMS is the round-robin preemption slice length.
	TimeSliceMS uint32
	// PaintStacks enables the sentinel stack-fill pattern used by
	// external tooling to estimate stack high-water marks. It has no
	// effect on scheduling.
	PaintStacks bool
}

// Kernel is the façade applications embed: one arena, one scheduler,
// one attached port. Construct with New and call Run once, from the
// entry point, after every task has been added with AddTask.
type Kernel struct {
	port port.Port
	sch  *sched.Scheduler
}

// New builds a Kernel over the given machine port with the given
// configuration. It does not start the scheduler — call Run for that,
// once every startup task has been registered.
func New(p port.Port, cfg Config) (*Kernel, error) {
	s, err := sched.New(make([]byte, cfg.ArenaSize), p, sched.Config{
		TimeSliceMS: cfg.TimeSliceMS,
		PaintStacks: cfg.PaintStacks,
	})
	if err != nil {
		return nil, err
	}
	return &Kernel{port: p, sch: s}, nil
}

// AddTask registers entry as a new runnable task with its own stack of
// userStackBytes bytes (plus the port's minimum reservation), and
// returns a handle to it. Safe to call both before Run and from inside
// a running task.
func (k *Kernel) AddTask(entry func(), userStackBytes int) (TaskHandle, error) {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	return k.sch.AddTask(entry, userStackBytes)
}

// RemoveTask tears down the task identified by h and reclaims its
// arena block. Removing the calling task itself returns ErrSelfRemove;
// a stale or already-removed handle is a silent no-op.
func (k *Kernel) RemoveTask(h TaskHandle) error {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	return k.sch.RemoveTask(h)
}

// Sleep suspends the calling task for at least ms milliseconds before
// it becomes runnable again.
func (k *Kernel) Sleep(ms uint32) {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	k.sch.Sleep(ms)
}

// Suspend parks the calling task indefinitely; only a Signal targeting
// its handle will make it runnable again.
func (k *Kernel) Suspend() {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	k.sch.Suspend()
}

// Signal wakes h if it is currently suspended. It has no effect on a
// task that is running, runnable, sleeping, or waiting on a mutex.
func (k *Kernel) Signal(h TaskHandle) error {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	return k.sch.Signal(h)
}

// Yield voluntarily surrenders the calling task's remaining time
// slice.
func (k *Kernel) Yield() {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	k.sch.Yield()
}

// CreateMutex allocates a new, initially unlocked mutex.
func (k *Kernel) CreateMutex() (MutexHandle, error) {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	return k.sch.CreateMutex()
}

// LockMutex acquires h, blocking the calling task if it is already
// held. Lock ownership transfers directly to the next FIFO waiter on
// unlock; there is no barging.
func (k *Kernel) LockMutex(h MutexHandle) error {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	return k.sch.LockMutex(h)
}

// UnlockMutex releases h.
func (k *Kernel) UnlockMutex(h MutexHandle) error {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	return k.sch.UnlockMutex(h)
}

// DestroyMutex frees h's arena block. Destroying a currently locked
// mutex is refused silently.
func (k *Kernel) DestroyMutex(h MutexHandle) error {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	return k.sch.DestroyMutex(h)
}

// Current returns the handle of the task presently running, or
// ok=false if called outside any task (e.g. from the idle context).
func (k *Kernel) Current() (TaskHandle, bool) {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	return k.sch.Current()
}

// Run hands control to the scheduler: it picks the first task (if
// any) and calls the port's JumpToOS, which on real hardware never
// returns. On the simulated host port, Run returns once the entry
// function of the first task picked returns; other tasks may still be
// parked at that point.
//
// The initial pick happens under the critical section like every other
// scheduler operation, but JumpToOS itself runs outside it. On real
// hardware JumpToOS hands off the CPU and returns control only via a
// later interrupt, it holds nothing of the kernel's; on port/sim it can
// block indefinitely waiting for tasks to run, and holding the critical
// section across that wait would starve the tick pump and every task's
// own calls for as long as the kernel runs.
func (k *Kernel) Run() {
	k.port.EnterCritical()
	ctx := k.sch.Start()
	k.port.ExitCritical()
	k.port.JumpToOS(ctx)
}

// Tick advances the scheduler by one timer tick: sleeping tasks'
// countdowns decrease and the running list rotates once the configured
// time slice has elapsed. Call this from the port's tick-ISR protocol,
// after SaveContextFromISR and before RestoreContext, exactly as
// spec.md §4.3 describes the three-step ISR sequence.
//
// On real hardware the tick timer ISR already runs with interrupts
// disabled, so scheduler_tick needs no separate lock there. port/sim
// plays the ISR on its own goroutine instead of a real interrupt, so it
// races with any task concurrently inside AddTask/Sleep/LockMutex/etc.
// unless Tick takes the same critical section those do — this wraps it
// for exactly that reason.
func (k *Kernel) Tick() {
	k.port.EnterCritical()
	defer k.port.ExitCritical()
	k.sch.Tick()
}
