package sched

import "github.com/halfkos-go/kernel/port"

// fakePort is a minimal Port double that records calls instead of
// actually switching CPU context, so the scheduler's bookkeeping can be
// tested deterministically without goroutines. Every InitStack call
// returns a distinct marker value so tests can assert which context
// got saved/restored.
type fakePort struct {
	ticksPerSecond uint32
	minStack       int

	nextCtx int
	saved   []port.Context
	restored []port.Context
	jumped   bool
	jumpedCtx port.Context
	criticalDepth int
}

func newFakePort(tps uint32) *fakePort {
	return &fakePort{ticksPerSecond: tps, minStack: 32}
}

func (f *fakePort) Init() error { return nil }

func (f *fakePort) InitStack(entry func(), stackBytes int) (port.Context, error) {
	f.nextCtx++
	return f.nextCtx, nil
}

func (f *fakePort) SaveContext(cur port.Context) {
	f.saved = append(f.saved, cur)
}

func (f *fakePort) SaveContextFromISR(cur port.Context) {
	f.saved = append(f.saved, cur)
}

func (f *fakePort) RestoreContext(cur port.Context) {
	f.restored = append(f.restored, cur)
}

func (f *fakePort) JumpToOS(idle port.Context) {
	f.jumped = true
	f.jumpedCtx = idle
}

func (f *fakePort) EnterCritical() { f.criticalDepth++ }
func (f *fakePort) ExitCritical()  { f.criticalDepth-- }

func (f *fakePort) TicksPerSecond() uint32 { return f.ticksPerSecond }
func (f *fakePort) MinStackSize() int      { return f.minStack }
