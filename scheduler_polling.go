package taskrt

import "runtime"

// ImmediateSuccessorWithPollingScheduler extends
// [ImmediateSuccessorScheduler] with a lock-free polling slot per CPU: a
// CPU with no work claims its slot (requestPolling) before falling back to
// parking, so a producer can deposit a task directly into a spinning CPU
// without going through the queue or a wakeup at all. Grounded on
// ImmediateSuccessorWithPollingScheduler.cpp.
type ImmediateSuccessorWithPollingScheduler struct {
	base baseScheduler

	polling []pollingSlot // indexed by CPU.ID()
}

// NewImmediateSuccessorWithPollingScheduler constructs the scheduler over
// cpus.
func NewImmediateSuccessorWithPollingScheduler(cpus *CPUSet) *ImmediateSuccessorWithPollingScheduler {
	return &ImmediateSuccessorWithPollingScheduler{
		base:    newBaseScheduler(cpus),
		polling: make([]pollingSlot, len(cpus.CPUs())),
	}
}

func (s *ImmediateSuccessorWithPollingScheduler) Name() string {
	return "immediate-successor-polling"
}

func (s *ImmediateSuccessorWithPollingScheduler) AddReadyTask(task *Task, cpu *CPU, hint ReadyHint) *CPU {
	if hint == HintChildTask && cpu != nil && cpu.AcceptsWork() && cpu.schedulerSlot.trySet(task) {
		return nil
	}

	if idle := s.depositToAnyPolling(task); idle != nil {
		return idle
	}

	s.base.pushFront(task)

	idle := s.base.cpus.getIdle()
	if idle != nil {
		idle.notifyResume()
	}
	return idle
}

// depositToAnyPolling hands task straight to a CPU currently spinning on
// its polling slot, if any, avoiding the queue and a park/resume round
// trip entirely.
func (s *ImmediateSuccessorWithPollingScheduler) depositToAnyPolling(task *Task) *CPU {
	for _, cpu := range s.base.cpus.CPUs() {
		if !cpu.AcceptsWork() {
			continue
		}
		if s.polling[cpu.ID()].deposit(task) {
			return cpu
		}
	}
	return nil
}

func (s *ImmediateSuccessorWithPollingScheduler) TaskGetsUnblocked(task *Task, cpu *CPU) {
	if idle := s.depositToAnyPolling(task); idle != nil {
		return
	}

	s.base.taskGetsUnblocked(task)

	idle := s.base.cpus.getIdle()
	if idle != nil {
		idle.notifyResume()
	}
}

func (s *ImmediateSuccessorWithPollingScheduler) GetReadyTask(cpu *CPU, canMarkIdle bool) *Task {
	requeue := s.base.pushFront

	if raw := cpu.schedulerSlot.take(); raw != nil {
		if task := resolveDequeued(raw, requeue); task != nil {
			return task
		}
	}

	s.base.mu.Lock()
	raw := s.base.popReplacementLocked()
	if raw == nil && len(s.base.ready) > 0 {
		raw = s.base.ready[0]
		s.base.ready = s.base.ready[1:]
	}
	s.base.mu.Unlock()

	if raw != nil {
		if task := resolveDequeued(raw, requeue); task != nil {
			return task
		}
	}

	if !canMarkIdle {
		return nil
	}

	return s.RequestPolling(cpu)
}

func (s *ImmediateSuccessorWithPollingScheduler) GetIdleCPU(force bool) *CPU {
	return s.base.getIdleCPU(force)
}

// RequestPolling claims cpu's polling slot and spins until either a task
// is deposited straight into it or cpu shuts down. Returns nil without
// blocking if the slot turns out already claimed or occupied by the time
// of the attempt — the caller is expected to retry through the ordinary
// queue path, same as GetReadyTask does. Grounded on
// ImmediateSuccessorWithPollingScheduler.cpp's own pollingSlot spin.
func (s *ImmediateSuccessorWithPollingScheduler) RequestPolling(cpu *CPU) *Task {
	slot := &s.polling[cpu.ID()]
	if !slot.requestPolling() {
		// Someone deposited between our queue check and the claim attempt;
		// the deposit call would have failed too, so just retry normally.
		return nil
	}

	requeue := s.base.pushFront
	for {
		if raw := slot.poll(); raw != nil {
			if task := resolveDequeued(raw, requeue); task != nil {
				return task
			}
			continue
		}
		if cpu.Status() == Shutdown {
			slot.releasePolling()
			return nil
		}
		runtime.Gosched()
	}
}

// ReleasePolling gives up cpu's polling claim. If a task raced in and was
// deposited before the release, it's handed to the ready queue instead of
// being dropped. Panics if cpu has no outstanding claim to release.
func (s *ImmediateSuccessorWithPollingScheduler) ReleasePolling(cpu *CPU) {
	slot := &s.polling[cpu.ID()]
	if task := slot.poll(); task != nil {
		s.base.pushFront(task)
		slot.releasePolling()
		return
	}
	if !slot.releasePolling() {
		panicInvariant("cpu %d: ReleasePolling called without an outstanding polling claim", cpu.ID())
	}
}

// DisableComputePlace drains cpu's immediate-successor slot and, if cpu
// was mid-poll, its polling slot too, back into the shared ready queue —
// neither has a worker goroutine left to claim them once cpu stops
// accepting work (spec.md §4.3).
func (s *ImmediateSuccessorWithPollingScheduler) DisableComputePlace(cpu *CPU) {
	requeue := s.base.pushFront

	if raw := cpu.schedulerSlot.take(); raw != nil {
		if task := resolveDequeued(raw, requeue); task != nil {
			s.base.pushFront(task)
		}
	}

	slot := &s.polling[cpu.ID()]
	if task := slot.poll(); task != nil {
		s.base.pushFront(task)
	}
	slot.releasePolling()
}

// EnableComputePlace is a no-op: nothing needs to be pre-armed before a
// CPU resumes taking work through its slot or polling claim.
func (s *ImmediateSuccessorWithPollingScheduler) EnableComputePlace(cpu *CPU) {}
