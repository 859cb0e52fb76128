// Package sched implements the kernel's round-robin scheduler: task
// creation/teardown, the running and waiting lists, tick-driven
// waking and slice rotation, voluntary yield, sleep, suspend/signal,
// and a FIFO mutex — everything spec.md §4.2 asks for, on top of the
// arena allocator and the abstract machine port.
//
// Every exported method here is expected to run with the caller
// already holding the port's critical section; Scheduler does not lock
// anything itself, exactly like the original HalfKOS scheduler
// functions, which assume they are only ever called from inside
// interrupts-disabled regions.
package sched

import (
	"github.com/halfkos-go/kernel/internal/arena"
	"github.com/halfkos-go/kernel/port"
)

// Overhead accounting for the metadata a real port would have to carve
// out of the arena alongside a task's or mutex's stack/payload, even
// though this Go port keeps the actual Task/Mutex structs as ordinary
// GC-managed values rather than placed inside the byte buffer. Keeping
// a notional header cost here means the arena's size budget still
// behaves the way spec.md's data model describes it (task blocks sized
// sizeof(TCB) + MIN_STACK_SIZE + user_stack_bytes), which matters for
// tests that exercise the memory budget directly.
const (
	tcbOverhead   = 32 // sp + prev + next + delay_ticks, 64-bit pointers
	mutexOverhead = 24 // locked + waiter-list head/tail
)

// Config holds the scheduler's compile-time-analog tunables. Unlike the
// original's preprocessor constants, these are runtime values passed to
// New, which does not validate them — TicksPerSecond and MinStackSize are not here because they are
// properties of the attached Port (the hardware timer and the saved
// context size), not of the scheduler policy itself.
type Config struct {
	// TimeSliceMS is the round-robin slice length in milliseconds.
	TimeSliceMS uint32
	// PaintStacks, if true, fills every newly allocated task's backing
	// block with a sentinel byte pattern so external tooling can
	// estimate stack high-water marks. It never affects scheduling.
	PaintStacks bool
}

const stackPaint = 0xA5

type taskSlot struct {
	task *Task
	gen  uint32
}

type mutexSlot struct {
	mutex *Mutex
	gen   uint32
}

// Scheduler is the kernel's single instance of mutable scheduling
// state: the arena, the attached port, the running/waiting list heads,
// current/next, the idle context, and the tick counter. Exactly one
// Scheduler exists per kernel (see package kernel), constructed once at
// startup — there are no free-floating package-level scheduler
// globals, per the REDESIGN FLAGS guidance to encapsulate kernel state
// in a single object.
type Scheduler struct {
	arena *arena.Arena
	port  port.Port
	cfg   Config

	sliceTicks       uint32
	ticksSinceSwitch uint32

	current *Task
	next    *Task

	runningHead *Task
	waitingHead *Task

	idleCtx port.Context

	tasks         []taskSlot
	freeTaskSlots []uint32

	mutexes        []mutexSlot
	freeMutexSlots []uint32
}

// New creates a Scheduler over buf (the dynamic RAM arena) driven by p,
// and initializes p. buf becomes the scheduler's arena and must not be
// touched by the caller afterward.
func New(buf []byte, p port.Port, cfg Config) (*Scheduler, error) {
	if err := p.Init(); err != nil {
		return nil, err
	}
	s := &Scheduler{
		arena: arena.New(buf),
		port:  p,
		cfg:   cfg,
	}
	s.sliceTicks = p.TicksPerSecond() * cfg.TimeSliceMS / 1000
	return s, nil
}

// AddTask allocates a task block sized to hold the port's minimum
// saved-context region plus userStackBytes, paints it if configured to,
// asks the port to build the initial stack frame, and enlists the new
// task at the head of the running list — round robin, so it does not
// matter where a task joins.
func (s *Scheduler) AddTask(entry func(), userStackBytes int) (TaskHandle, error) {
	stackBytes := userStackBytes + s.port.MinStackSize()
	blk, ok := s.arena.Alloc(stackBytes + tcbOverhead)
	if !ok {
		return TaskHandle{}, ErrOutOfMemory
	}
	if s.cfg.PaintStacks {
		paint(blk.Bytes())
	}

	ctx, err := s.port.InitStack(entry, stackBytes)
	if err != nil {
		s.arena.Free(blk)
		return TaskHandle{}, err
	}

	t := &Task{state: stateRunnable, ctx: ctx, block: blk}
	s.allocTaskSlot(t)
	addToHead(&s.runningHead, t)
	return TaskHandle{slot: t.slot, gen: t.gen}, nil
}

func paint(b []byte) {
	for i := range b {
		b[i] = stackPaint
	}
}

// RemoveTask unlinks h's task from whichever list it is on and frees
// its arena block. An invalid or already-removed handle is a silent
// no-op. Removing the currently running task is refused outright (see
// DESIGN.md, Open Question 3) rather than supported racily.
func (s *Scheduler) RemoveTask(h TaskHandle) error {
	t, ok := s.lookupTask(h)
	if !ok {
		return nil
	}
	if t == s.current {
		return ErrSelfRemove
	}

	switch t.state {
	case stateRunnable:
		s.unlinkFromRunning(t)
	case stateSleeping, stateSuspended:
		removeFromList(&s.waitingHead, t)
	case stateMutexWaiting:
		if t.waitingOn != nil {
			removeMutexWaiter(t.waitingOn, t)
			t.waitingOn = nil
		}
	}

	s.arena.Free(t.block)
	s.freeTaskSlot(t)
	return nil
}

// unlinkFromRunning removes t from the running list, also repointing
// `next` if it was about to be scheduled — the same bookkeeping
// remove_task_from_running_list performs in the C original.
func (s *Scheduler) unlinkFromRunning(t *Task) {
	if t == s.next {
		s.next = t.next
	}
	removeFromList(&s.runningHead, t)
}

// Tick is invoked by the port's tick-ISR protocol after context save:
// it advances every sleeping task's countdown, wakes any that reach
// zero, and rotates the running list once the configured slice has
// elapsed. Tick never itself touches CPU context — that is the
// surrounding ISR's job, split into SaveContextFromISR / Tick /
// RestoreContext so the same restore path serves both the ISR and
// Yield.
func (s *Scheduler) Tick() {
	s.updateWaitingList()

	s.ticksSinceSwitch++
	if s.ticksSinceSwitch > s.sliceTicks {
		s.SwitchContext()
	}
}

func (s *Scheduler) updateWaitingList() {
	t := s.waitingHead
	for t != nil {
		next := t.next
		if t.state == stateSleeping {
			t.delayTicks--
			if t.delayTicks == 0 {
				removeFromList(&s.waitingHead, t)
				t.state = stateRunnable
				addToHead(&s.runningHead, t)
			}
		}
		t = next
	}
}

// SwitchContext picks the next task to run: current becomes whatever
// was chosen as next (falling back to the running list's head if
// nothing was queued up), and next becomes current's successor. If the
// running list is empty, both become nil — the idle state.
func (s *Scheduler) SwitchContext() {
	if s.runningHead == nil {
		s.current = nil
		s.next = nil
		return
	}

	s.current = s.next
	if s.current == nil {
		s.current = s.runningHead
	}
	s.next = s.current.next
	s.ticksSinceSwitch = 0
}

// Yield voluntarily surrenders the current task's slice: save, pick the
// next task, restore. If the running list has gone empty, control
// transfers to the idle context.
func (s *Scheduler) Yield() {
	prev := s.current
	if prev != nil {
		s.port.SaveContext(prev.ctx)
	}
	s.SwitchContext()
	if s.current != nil {
		s.port.RestoreContext(s.current.ctx)
	} else {
		s.port.RestoreContext(nil)
	}
}

// Sleep moves the calling task off the running list for at least
// ms milliseconds, then yields. ms is converted to ticks as
// ms * TicksPerSecond / 1000 — the corrected formula from spec.md §9;
// see DESIGN.md Open Question 2 for why the historical
// ms * (1000 / TicksPerSecond) variant is not reproduced.
func (s *Scheduler) Sleep(ms uint32) {
	kassert(s.current != nil, "sleep: no current task")

	ticks := uint64(ms) * uint64(s.port.TicksPerSecond()) / 1000
	if ticks == 0 {
		return
	}

	t := s.current
	s.unlinkFromRunning(t)
	t.state = stateSleeping
	t.delayTicks = uint32(ticks)
	addToHead(&s.waitingHead, t)
	s.Yield()
}

// Suspend moves the calling task to the waiting list indefinitely; only
// Signal (not tick expiry) can return it to running.
func (s *Scheduler) Suspend() {
	kassert(s.current != nil, "suspend: no current task")

	t := s.current
	s.unlinkFromRunning(t)
	t.state = stateSuspended
	t.delayTicks = 0
	addToHead(&s.waitingHead, t)
	s.Yield()
}

// Signal wakes h if, and only if, it is currently suspended. Per
// DESIGN.md Open Question 4, a task with a finite sleep countdown is
// left alone — waking it early is explicitly undefined in the source
// design and this port declines to support it.
func (s *Scheduler) Signal(h TaskHandle) error {
	t, ok := s.lookupTask(h)
	if !ok || t.state != stateSuspended {
		return nil
	}
	removeFromList(&s.waitingHead, t)
	t.state = stateRunnable
	t.delayTicks = 0
	addToHead(&s.runningHead, t)
	return nil
}

// CreateMutex allocates a new, unlocked mutex.
func (s *Scheduler) CreateMutex() (MutexHandle, error) {
	blk, ok := s.arena.Alloc(mutexOverhead)
	if !ok {
		return MutexHandle{}, ErrOutOfMemory
	}
	m := &Mutex{block: blk}
	s.allocMutexSlot(m)
	return MutexHandle{slot: m.slot, gen: m.gen}, nil
}

// LockMutex acquires h, blocking (via Yield) if it is already locked.
// Waking from a contended lock hands the caller ownership directly —
// unlock transfers the lock to the released waiter rather than
// re-opening it for anyone to grab, so there is no barging.
func (s *Scheduler) LockMutex(h MutexHandle) error {
	m, ok := s.lookupMutex(h)
	if !ok {
		return nil
	}
	kassert(s.current != nil, "lock_mutex: no current task")

	if !m.locked {
		m.locked = true
		return nil
	}

	t := s.current
	s.unlinkFromRunning(t)
	t.state = stateMutexWaiting
	t.waitingOn = m
	appendMutexWaiter(m, t)
	s.Yield()
	return nil
}

// UnlockMutex releases h. If a waiter is queued, it is moved straight
// to running and the mutex stays locked (ownership transferred);
// otherwise the mutex becomes free.
func (s *Scheduler) UnlockMutex(h MutexHandle) error {
	m, ok := s.lookupMutex(h)
	if !ok {
		return nil
	}
	if m.waitersHead == nil {
		m.locked = false
		return nil
	}

	t := m.waitersHead
	removeMutexWaiter(m, t)
	t.waitingOn = nil
	t.state = stateRunnable
	addToHead(&s.runningHead, t)
	return nil
}

// DestroyMutex frees h's arena block, but only while it is unlocked;
// destroying a locked mutex is a silent no-op (avoids racing with its
// waiters).
func (s *Scheduler) DestroyMutex(h MutexHandle) error {
	m, ok := s.lookupMutex(h)
	if !ok || m.locked {
		return nil
	}
	s.arena.Free(m.block)
	s.freeMutexSlot(m)
	return nil
}

// Start picks the first task to run (if any) and returns its saved
// context (nil if there is nothing runnable yet). It deliberately does
// not call the port's JumpToOS itself: that hand-off can block
// indefinitely (real hardware never returns from it; port/sim blocks
// until the entry function of the context it is given returns), and Start must finish and release the
// critical section before that happens — see kernel.Run, which is the
// only caller.
func (s *Scheduler) Start() port.Context {
	s.SwitchContext()
	if s.current != nil {
		return s.current.ctx
	}
	return nil
}

// Current returns the handle of the currently running task, or
// ok=false while idle.
func (s *Scheduler) Current() (TaskHandle, bool) {
	if s.current == nil {
		return TaskHandle{}, false
	}
	return TaskHandle{slot: s.current.slot, gen: s.current.gen}, true
}

func (s *Scheduler) allocTaskSlot(t *Task) {
	if n := len(s.freeTaskSlots); n > 0 {
		idx := s.freeTaskSlots[n-1]
		s.freeTaskSlots = s.freeTaskSlots[:n-1]
		slot := &s.tasks[idx]
		slot.gen++
		slot.task = t
		t.slot, t.gen = idx, slot.gen
		return
	}
	idx := uint32(len(s.tasks))
	s.tasks = append(s.tasks, taskSlot{task: t, gen: 1})
	t.slot, t.gen = idx, 1
}

func (s *Scheduler) freeTaskSlot(t *Task) {
	s.tasks[t.slot].task = nil
	s.freeTaskSlots = append(s.freeTaskSlots, t.slot)
}

func (s *Scheduler) lookupTask(h TaskHandle) (*Task, bool) {
	if !h.Valid() || int(h.slot) >= len(s.tasks) {
		return nil, false
	}
	slot := s.tasks[h.slot]
	if slot.task == nil || slot.gen != h.gen {
		return nil, false
	}
	return slot.task, true
}

func (s *Scheduler) allocMutexSlot(m *Mutex) {
	if n := len(s.freeMutexSlots); n > 0 {
		idx := s.freeMutexSlots[n-1]
		s.freeMutexSlots = s.freeMutexSlots[:n-1]
		slot := &s.mutexes[idx]
		slot.gen++
		slot.mutex = m
		m.slot, m.gen = idx, slot.gen
		return
	}
	idx := uint32(len(s.mutexes))
	s.mutexes = append(s.mutexes, mutexSlot{mutex: m, gen: 1})
	m.slot, m.gen = idx, 1
}

func (s *Scheduler) freeMutexSlot(m *Mutex) {
	s.mutexes[m.slot].mutex = nil
	s.freeMutexSlots = append(s.freeMutexSlots, m.slot)
}

func (s *Scheduler) lookupMutex(h MutexHandle) (*Mutex, bool) {
	if !h.Valid() || int(h.slot) >= len(s.mutexes) {
		return nil, false
	}
	slot := s.mutexes[h.slot]
	if slot.mutex == nil || slot.gen != h.gen {
		return nil, false
	}
	return slot.mutex, true
}
