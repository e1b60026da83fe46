package taskrt

import "sync/atomic"

// pollingSlot is a lock-free single-task handoff cell a CPU parks on while
// it has no ready work, so that a task producer can hand it a task directly
// instead of going through the ready queue and a wakeup. Grounded on
// ImmediateSuccessorWithPollingScheduler.cpp's _pollingSlot: a CPU claims
// the slot with requestPolling, a producer deposits a task into it with a
// CAS from the claimed sentinel, and the CPU's own CAS from the deposited
// task back to empty is how it notices the deposit.
type pollingSlot struct {
	v atomic.Pointer[Task]
}

// claimedSentinel is a sentinel distinct from any real *Task and from nil, marking
// the slot as "a CPU is polling here, nothing deposited yet".
var claimedSentinel = &Task{}

// requestPolling claims the slot for the calling CPU. Must only be called
// when the slot is believed empty (nil).
func (p *pollingSlot) requestPolling() bool {
	return p.v.CompareAndSwap(nil, claimedSentinel)
}

// releasePolling gives up a claim that nothing was deposited into,
// reporting whether it was still claimed (false means a deposit raced in
// first, and the caller should re-check via poll instead of looping).
func (p *pollingSlot) releasePolling() bool {
	return p.v.CompareAndSwap(claimedSentinel, nil)
}

// deposit hands task to whichever CPU currently holds the claim, reporting
// success. Fails if the slot isn't currently claimed (no CPU is polling).
func (p *pollingSlot) deposit(task *Task) bool {
	return p.v.CompareAndSwap(claimedSentinel, task)
}

// poll takes whatever was deposited, if anything other than the claim
// sentinel itself is present.
func (p *pollingSlot) poll() *Task {
	for {
		cur := p.v.Load()
		if cur == nil || cur == claimedSentinel {
			return nil
		}
		if p.v.CompareAndSwap(cur, nil) {
			return cur
		}
	}
}
