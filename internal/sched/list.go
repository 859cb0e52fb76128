package sched

// The running and waiting lists are doubly linked through each Task's
// own prev/next fields — a task is a member of at most one list at a
// time, so there is no cost to sharing the links, exactly as the
// original HalfKOS scheduler threads every list through a task's single
// p_next field. The extra prev pointer turns removal from O(n) (the
// original's find_previous scan) into O(1), which matters once mutex
// waiter lists and signal() need to pull an arbitrary task out of a
// list without walking it.

func addToHead(head **Task, t *Task) {
	t.prev = nil
	t.next = *head
	if *head != nil {
		(*head).prev = t
	}
	*head = t
}

func removeFromList(head **Task, t *Task) {
	if t.prev != nil {
		t.prev.next = t.next
	} else if *head == t {
		*head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	}
	t.prev = nil
	t.next = nil
}

// appendMutexWaiter enqueues t at the tail of m's FIFO waiter list.
func appendMutexWaiter(m *Mutex, t *Task) {
	t.next = nil
	t.prev = m.waitersTail
	if m.waitersTail != nil {
		m.waitersTail.next = t
	} else {
		m.waitersHead = t
	}
	m.waitersTail = t
}

// removeMutexWaiter unlinks t from m's waiter list, wherever in the
// list it sits (used both by UnlockMutex dequeuing the head and by
// RemoveTask pulling an arbitrary waiter out early).
func removeMutexWaiter(m *Mutex, t *Task) {
	if t.prev != nil {
		t.prev.next = t.next
	} else if m.waitersHead == t {
		m.waitersHead = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else if m.waitersTail == t {
		m.waitersTail = t.prev
	}
	t.prev, t.next = nil, nil
}
