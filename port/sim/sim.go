// Package sim implements port.Port on top of goroutines and channels,
// so the scheduler's context-switch contract can be exercised and
// tested on a development host without real hardware or assembly —
// the same role a simulator backend plays for cloudfly-readgo's
// runtime tests, standing in for the machine the production code
// actually targets.
//
// A real port.InitStack carves a stack frame out of a byte buffer and
// arranges for RestoreContext to resume execution there via a
// hand-written assembly trampoline. sim has no stack to paint: each
// Context is backed by its own goroutine, parked on a dedicated
// channel, and SaveContext/RestoreContext hand control between
// goroutines the same way swapcontext(&from, &to) hands it between
// stack frames — one call parks the caller, the other wakes the
// callee, and the pair is always used together by the scheduler.
//
// True interrupt-driven preemption — stopping a task mid-instruction —
// has no equivalent in a Go goroutine, which only yields at safe
// points the runtime chooses. Sim is honest about this: its tick pump
// advances the scheduler's bookkeeping (sleep countdowns, slice
// rotation) on a real-time ticker, but the actual handoff between
// goroutines happens at the next Cooperate call a task makes, not at
// an arbitrary point in its code. Tasks call Cooperate from
// their loop bodies to stand in for the tick-ISR's implicit
// RestoreContext. This is documented in DESIGN.md as the one place
// this port cannot be a faithful hardware analogue.
package sim

import (
	"sync"
	"time"

	"github.com/halfkos-go/kernel/port"
)

// goContext is the Context value sim hands back from InitStack: a
// goroutine parked on resume, plus done, which is closed once its entry
// function returns.
type goContext struct {
	resume chan struct{}
	done   chan struct{}
}

// Port is a host-simulated machine port. The zero value is not usable;
// construct with New.
type Port struct {
	ticksPerSecond uint32
	minStackSize   int

	critical sync.Mutex // EnterCritical/ExitCritical gate, non-reentrant

	mu          sync.Mutex
	pendingSelf *goContext // context SaveContext most recently parked

	ticker *time.Ticker
	onTick func()
	stopCh chan struct{}
}

// New constructs a simulated Port. ticksPerSecond stands in for the
// hardware timer's configured rate; minStackSize is reported back
// unchanged via MinStackSize since sim does not actually carve stack
// memory out of the arena block.
func New(ticksPerSecond uint32, minStackSize int) *Port {
	return &Port{
		ticksPerSecond: ticksPerSecond,
		minStackSize:   minStackSize,
	}
}

// Init is a no-op: there is no hardware to configure.
func (p *Port) Init() error { return nil }

// InitStack launches entry on its own goroutine, parked immediately
// behind resume so it does not run until the scheduler's first
// RestoreContext targets it.
func (p *Port) InitStack(entry func(), stackBytes int) (port.Context, error) {
	ctx := &goContext{
		resume: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go func() {
		<-ctx.resume
		entry()
		close(ctx.done)
	}()
	return ctx, nil
}

// SaveContext records cur as the context that must be resumed the next
// time this goroutine is switched back to, and returns at once; the
// park itself happens in the RestoreContext call that follows. Pairs
// with RestoreContext exactly the
// way the scheduler's Yield calls them — Save then Restore, back to
// back, inside one critical section.
func (p *Port) SaveContext(cur port.Context) {
	p.mu.Lock()
	p.pendingSelf = asGoContext(cur)
	p.mu.Unlock()
}

// SaveContextFromISR behaves identically to SaveContext in this port:
// sim has no real interrupt stack frame to distinguish, so the
// tick-ISR protocol's save call and the cooperative Yield's save call
// take the same path.
func (p *Port) SaveContextFromISR(cur port.Context) {
	p.SaveContext(cur)
}

// RestoreContext resumes next: it signals next's resume channel and
// then blocks the calling goroutine on whatever context was most
// recently parked by SaveContext, re-parking the caller there. When
// next is nil, the caller blocks without resuming anyone — modeling a
// transfer into the idle context, which sim represents as "no
// goroutine runs until something wakes up".
//
// The critical section is released for the duration of that block and
// reacquired the instant this goroutine is resumed again. On real
// hardware, restoring a context always re-enables interrupts as a side
// effect of the saved flags it pops — a task frozen mid-critical-section
// does not keep interrupts disabled for every other task while it is
// off the CPU. A plain Lock held across an indefinite park would
// reproduce that mistake here: whichever goroutine this one handed the
// baton to (or the tick pump) would deadlock trying to enter its own
// critical section. Releasing here and reacquiring on resume keeps
// EnterCritical/ExitCritical looking perfectly paired from each caller's
// point of view while only ever letting the one goroutine that is
// actually running hold the lock.
func (p *Port) RestoreContext(next port.Context) {
	p.mu.Lock()
	parked := p.pendingSelf
	var wait chan struct{}
	if parked != nil {
		// A fresh channel per park: the previous one was closed when
		// this context was last resumed.
		parked.resume = make(chan struct{})
		wait = parked.resume
	}
	nc := asGoContext(next)
	if nc != nil {
		close1(nc.resume)
	}
	p.mu.Unlock()

	if wait != nil {
		p.critical.Unlock()
		<-wait
		p.critical.Lock()
	}
}

// close1 closes ch if it is not already closed. Contexts only ever
// resume once per SwitchContext cycle in the way the scheduler drives
// this port, but guarding keeps sim safe against a double-restore.
func close1(ch chan struct{}) {
	select {
	case <-ch:
	default:
		close(ch)
	}
}

func asGoContext(c port.Context) *goContext {
	if c == nil {
		return nil
	}
	return c.(*goContext)
}

// JumpToOS resumes idle and blocks the calling (host test) goroutine
// until idle's entry function returns, mirroring the real port's
// JumpToOS never returning to its caller. If idle is nil (no tasks were ever added), JumpToOS returns
// immediately — there is nothing to run and nothing to wait for.
func (p *Port) JumpToOS(idle port.Context) {
	nc := asGoContext(idle)
	if nc == nil {
		return
	}
	close1(nc.resume)
	<-nc.done
}

// EnterCritical models interrupts-disabled with a plain mutex: nested
// calls from the same goroutine without a matching Exit will deadlock,
// the same way nested cli()/sti() without unwinding hangs real
// hardware.
func (p *Port) EnterCritical() { p.critical.Lock() }

// ExitCritical re-enables the critical section.
func (p *Port) ExitCritical() { p.critical.Unlock() }

// TicksPerSecond reports the configured simulated tick rate.
func (p *Port) TicksPerSecond() uint32 { return p.ticksPerSecond }

// MinStackSize reports the configured minimum stack reservation.
func (p *Port) MinStackSize() int { return p.minStackSize }

// StartTicker begins calling onTick at the configured tick rate, on
// its own goroutine, until StopTicker is called. Tests and example
// programs use this to drive Scheduler.Tick the way a real hardware
// timer ISR would, wrapped in the caller's own EnterCritical/
// ExitCritical pair.
func (p *Port) StartTicker(onTick func()) {
	p.onTick = onTick
	p.stopCh = make(chan struct{})
	interval := time.Second / time.Duration(p.ticksPerSecond)
	p.ticker = time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-p.ticker.C:
				p.onTick()
			case <-p.stopCh:
				return
			}
		}
	}()
}

// StopTicker halts the ticker goroutine started by StartTicker.
func (p *Port) StopTicker() {
	if p.ticker != nil {
		p.ticker.Stop()
	}
	if p.stopCh != nil {
		close(p.stopCh)
	}
}

// Cooperate is sim's stand-in for an interrupt arriving mid-task: a
// task calls it between units of work to hand the CPU on. It is not
// part of port.Port — no real hardware port needs a method like this,
// since real preemption just happens — but sim cannot preempt a running
// goroutine from outside, so tasks participate instead. Cooperate calls
// s.Yield on every call, whether or not the current slice has expired.
func Cooperate(s interface {
	Yield()
}) {
	s.Yield()
}
