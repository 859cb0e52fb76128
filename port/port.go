// Package port defines the contract between the kernel core and a
// machine-specific port, per the context-switch contract in the design:
// the scheduler never touches CPU registers itself, it delegates to
// three primitives (InitStack, SaveContext/SaveContextFromISR,
// RestoreContext) that a concrete port must implement so both an
// interrupt and a voluntary yield can swap tasks through one shared
// restore path.
//
// This is the Go-shaped version of the HAL contract documented in
// HalfKOS's hkos_hal.h: hkos_hal_init_stack, hkos_hal_start_tick_timer,
// and the save/restore pair a real MCU port implements in assembly. No
// concrete machine port ships in this repository — real register
// save/restore is out of this kernel's scope by design (see spec.md
// §1) — but port/sim provides a host-goroutine stand-in used by the
// tests.
package port

import "errors"

// ErrNoStack is returned by InitStack when the port cannot paint a
// valid initial frame into the given region (e.g. it is smaller than
// MinStackSize).
var ErrNoStack = errors.New("port: stack region too small")

// Context is an opaque, port-defined saved-execution-state token — the
// Go stand-in for "a stack pointer holding a full saved machine
// context". The core never inspects it; it only ever hands a Context
// back to the same Port that produced it.
type Context any

// Port is the machine-specific collaborator the scheduler core
// requires. Exactly one concrete Port is active per kernel instance.
type Port interface {
	// Init performs one-time hardware setup: clocks, watchdog, timer
	// configuration. Must be called before any other Port method.
	Init() error

	// InitStack prefills a fresh task's stack region so that the next
	// RestoreContext on the returned Context behaves as if the CPU had
	// just taken an interrupt return into entry with interrupts
	// globally enabled. stackBytes is the full region available,
	// including the headroom MinStackSize reports as required.
	InitStack(entry func(), stackBytes int) (Context, error)

	// SaveContext pushes the full interruptible machine state for the
	// currently running context onto its own stack and records the
	// result, to be handed back to a later RestoreContext call. Must
	// be a no-op if cur is nil. Invoked from ordinary task context
	// (e.g. from Yield), not from an interrupt handler.
	SaveContext(cur Context)

	// SaveContextFromISR is SaveContext's counterpart invoked from the
	// tick interrupt handler, where the return address was already
	// pushed by hardware rather than synthesized by the port.
	SaveContextFromISR(cur Context)

	// RestoreContext loads cur and transfers control to it: on real
	// hardware this ends in an interrupt-return and never returns to
	// its caller for cur's own goroutine of control; it "returns"
	// only once some later RestoreContext hands control back to the
	// context that called this one. If cur is nil, control transfers
	// to the idle context installed by JumpToOS.
	RestoreContext(cur Context)

	// JumpToOS installs the idle context and enables the tick timer.
	// It is called once at kernel start and does not return to its
	// caller in the scheduling sense: control only returns once the
	// idle context is itself restored away from.
	JumpToOS(idle Context)

	// EnterCritical and ExitCritical delimit the kernel's single,
	// non-reentrant, process-wide mutual exclusion region. On a single
	// core target this disables/enables interrupts.
	EnterCritical()
	ExitCritical()

	// TicksPerSecond reports the hardware tick timer's frequency.
	TicksPerSecond() uint32

	// MinStackSize reports the minimum number of bytes InitStack needs
	// to hold one full saved context plus return frame.
	MinStackSize() int
}
