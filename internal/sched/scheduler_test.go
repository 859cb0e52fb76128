package sched

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, tps uint32) (*Scheduler, *fakePort) {
	t.Helper()
	fp := newFakePort(tps)
	s, err := New(make([]byte, 4096), fp, Config{TimeSliceMS: 10})
	require.NoError(t, err)
	return s, fp
}

func TestAddTaskEnlistsAtRunningHead(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)

	h1, err := s.AddTask(func() {}, 64)
	require.NoError(t, err)
	require.True(t, h1.Valid())

	h2, err := s.AddTask(func() {}, 64)
	require.NoError(t, err)

	// Round robin: SwitchContext should walk current -> current.next in
	// list order, newest first, starting from the head.
	s.SwitchContext()
	first, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, h2, first) // most recently added is head

	s.SwitchContext()
	second, ok := s.Current()
	require.True(t, ok)
	require.Equal(t, h1, second)
}

func TestAddTaskFailsWhenArenaExhausted(t *testing.T) {
	fp := newFakePort(1000)
	s, err := New(make([]byte, 16), fp, Config{TimeSliceMS: 10})
	require.NoError(t, err)

	_, err = s.AddTask(func() {}, 1<<20)
	require.ErrorIs(t, err, ErrOutOfMemory)
}

func TestTickRotatesAfterConfiguredSlice(t *testing.T) {
	s, fp := newTestScheduler(t, 100) // 100 ticks/sec, 10ms slice => 1 tick/slice
	_ = fp
	h1, _ := s.AddTask(func() {}, 64)
	h2, _ := s.AddTask(func() {}, 64)
	s.SwitchContext() // current = h2 (head)

	cur, _ := s.Current()
	require.Equal(t, h2, cur)

	s.Tick()
	s.Tick()

	cur, _ = s.Current()
	require.Equal(t, h1, cur)
}

func TestSleepMovesTaskToWaitingAndWakesAfterTicks(t *testing.T) {
	s, _ := newTestScheduler(t, 1000) // 1000 ticks/sec
	h, _ := s.AddTask(func() {}, 64)
	s.SwitchContext()
	cur, _ := s.Current()
	require.Equal(t, h, cur)

	// 5ms at 1000 ticks/sec = 5 ticks (corrected formula, see DESIGN.md).
	s.Sleep(5)

	task, ok := s.lookupTask(h)
	require.True(t, ok)
	require.Equal(t, stateSleeping, task.state)
	require.Equal(t, uint32(5), task.delayTicks)

	for i := 0; i < 4; i++ {
		s.updateWaitingList()
		require.Equal(t, stateSleeping, task.state)
	}
	s.updateWaitingList()
	require.Equal(t, stateRunnable, task.state)
}

func TestSleepUnderOneTickIsNoop(t *testing.T) {
	s, _ := newTestScheduler(t, 100) // 100 ticks/sec: 1ms*100/1000 == 0
	h, _ := s.AddTask(func() {}, 64)
	s.SwitchContext()

	s.Sleep(1)

	task, ok := s.lookupTask(h)
	require.True(t, ok)
	require.Equal(t, stateRunnable, task.state)
}

func TestSuspendIsOnlyUndoneBySignalNeverByTicks(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	h, _ := s.AddTask(func() {}, 64)
	s.SwitchContext()

	s.Suspend()
	task, ok := s.lookupTask(h)
	require.True(t, ok)
	require.Equal(t, stateSuspended, task.state)

	for i := 0; i < 1000; i++ {
		s.updateWaitingList()
	}
	require.Equal(t, stateSuspended, task.state, "suspended tasks never wake from tick expiry")

	require.NoError(t, s.Signal(h))
	require.Equal(t, stateRunnable, task.state)
}

func TestSignalOnSleepingTaskIsIgnored(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	h, _ := s.AddTask(func() {}, 64)
	s.SwitchContext()
	s.Sleep(50)

	task, ok := s.lookupTask(h)
	require.True(t, ok)
	require.Equal(t, stateSleeping, task.state)

	require.NoError(t, s.Signal(h))
	require.Equal(t, stateSleeping, task.state, "Signal must not wake a sleeping task")
}

func TestRemoveRunningTaskIsRefused(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	h, _ := s.AddTask(func() {}, 64)
	s.SwitchContext()

	require.ErrorIs(t, s.RemoveTask(h), ErrSelfRemove)
}

func TestRemoveTaskFreesItsArenaBlock(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	before := s.arena.FreeBytes()

	h, err := s.AddTask(func() {}, 64)
	require.NoError(t, err)
	require.Less(t, s.arena.FreeBytes(), before)

	require.NoError(t, s.RemoveTask(h))
	require.Equal(t, before, s.arena.FreeBytes())
}

func TestRemoveTaskOnStaleHandleIsNoop(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	h, err := s.AddTask(func() {}, 64)
	require.NoError(t, err)
	require.NoError(t, s.RemoveTask(h))

	require.NoError(t, s.RemoveTask(h), "stale generation must not panic or double free")
}

func TestMutexLockUnlockUncontended(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	_, _ = s.AddTask(func() {}, 64)
	s.SwitchContext()

	mh, err := s.CreateMutex()
	require.NoError(t, err)

	require.NoError(t, s.LockMutex(mh))
	m, ok := s.lookupMutex(mh)
	require.True(t, ok)
	require.True(t, m.locked)

	require.NoError(t, s.UnlockMutex(mh))
	require.False(t, m.locked)
}

func TestMutexHandsOwnershipDirectlyToFIFOWaiter(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	owner, _ := s.AddTask(func() {}, 64)
	waiterA, _ := s.AddTask(func() {}, 64)
	waiterB, _ := s.AddTask(func() {}, 64)

	mh, err := s.CreateMutex()
	require.NoError(t, err)

	// owner locks first.
	s.current = nil
	t0, _ := s.lookupTask(owner)
	s.current = t0
	require.NoError(t, s.LockMutex(mh))

	// waiterA blocks.
	tA, _ := s.lookupTask(waiterA)
	s.current = tA
	require.NoError(t, s.LockMutex(mh))
	require.Equal(t, stateMutexWaiting, tA.state)

	// waiterB blocks after A: FIFO order.
	tB, _ := s.lookupTask(waiterB)
	s.current = tB
	require.NoError(t, s.LockMutex(mh))
	require.Equal(t, stateMutexWaiting, tB.state)

	m, _ := s.lookupMutex(mh)
	require.Equal(t, tA, m.waitersHead)
	require.Equal(t, tB, m.waitersTail)

	// owner releases: A gets it next, mutex stays locked (transferred).
	require.NoError(t, s.UnlockMutex(mh))
	require.Equal(t, stateRunnable, tA.state)
	require.True(t, m.locked)
	require.Equal(t, tB, m.waitersHead, "B must remain queued, not granted early")

	// A releases: B gets it.
	require.NoError(t, s.UnlockMutex(mh))
	require.Equal(t, stateRunnable, tB.state)
	require.True(t, m.locked)
	require.Nil(t, m.waitersHead)
}

func TestDestroyLockedMutexIsRefusedSilently(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	_, _ = s.AddTask(func() {}, 64)
	s.SwitchContext()

	mh, err := s.CreateMutex()
	require.NoError(t, err)
	require.NoError(t, s.LockMutex(mh))

	require.NoError(t, s.DestroyMutex(mh))
	_, ok := s.lookupMutex(mh)
	require.True(t, ok, "locked mutex must survive DestroyMutex")

	require.NoError(t, s.UnlockMutex(mh))
	require.NoError(t, s.DestroyMutex(mh))
	_, ok = s.lookupMutex(mh)
	require.False(t, ok)
}

func TestTaskHandleGenerationPreventsUseAfterFree(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	h1, err := s.AddTask(func() {}, 64)
	require.NoError(t, err)
	s.SwitchContext()
	_, _ = s.Current()

	require.ErrorIs(t, s.RemoveTask(h1), ErrSelfRemove)
	s.Suspend() // h1 leaves the running list, so it is no longer current and can be removed
	require.NoError(t, s.RemoveTask(h1))

	h2, err := s.AddTask(func() {}, 64)
	require.NoError(t, err)
	require.Equal(t, h1.slot, h2.slot, "slot must be reused")
	require.NotEqual(t, h1.gen, h2.gen, "generation must differ after reuse")

	require.NoError(t, s.Signal(h1), "stale handle must not resolve to the new task")
	task2, ok := s.lookupTask(h2)
	require.True(t, ok)
	require.Equal(t, stateRunnable, task2.state)
}

func TestStartReturnsNilContextWhenNoTasks(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	require.Nil(t, s.Start())
}

func TestStartReturnsFirstTaskContext(t *testing.T) {
	s, _ := newTestScheduler(t, 1000)
	_, err := s.AddTask(func() {}, 64)
	require.NoError(t, err)

	require.NotNil(t, s.Start())
}
