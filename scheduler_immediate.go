package taskrt

// ImmediateSuccessorScheduler is the Naive scheduler plus a per-CPU
// "immediate successor" slot: a task handed to AddReadyTask with
// HintChildTask is placed directly in the CPU that produced it (rather
// than the shared queue) and preferred over the queue the next time that
// CPU asks for work, improving locality for parent-then-child chains.
// Grounded on ImmediateSuccessorScheduler.cpp.
type ImmediateSuccessorScheduler struct {
	base baseScheduler
}

// NewImmediateSuccessorScheduler constructs the scheduler over cpus.
func NewImmediateSuccessorScheduler(cpus *CPUSet) *ImmediateSuccessorScheduler {
	return &ImmediateSuccessorScheduler{base: newBaseScheduler(cpus)}
}

func (s *ImmediateSuccessorScheduler) Name() string { return "immediate-successor" }

func (s *ImmediateSuccessorScheduler) AddReadyTask(task *Task, cpu *CPU, hint ReadyHint) *CPU {
	if hint == HintChildTask && cpu != nil && cpu.AcceptsWork() && cpu.schedulerSlot.trySet(task) {
		return nil
	}

	s.base.pushFront(task)

	idle := s.base.cpus.getIdle()
	if idle != nil {
		idle.notifyResume()
	}
	return idle
}

func (s *ImmediateSuccessorScheduler) TaskGetsUnblocked(task *Task, cpu *CPU) {
	s.base.taskGetsUnblocked(task)

	idle := s.base.cpus.getIdle()
	if idle != nil {
		idle.notifyResume()
	}
}

func (s *ImmediateSuccessorScheduler) GetReadyTask(cpu *CPU, canMarkIdle bool) *Task {
	requeue := s.base.pushFront

	for {
		if raw := cpu.schedulerSlot.take(); raw != nil {
			if task := resolveDequeued(raw, requeue); task != nil {
				return task
			}
			continue
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
			continue
		}

		if !canMarkIdle {
			return nil
		}
		cpu.ParkForNoWork(s.base.cpus)
		if cpu.Status() == Shutdown {
			return nil
		}
	}
}

func (s *ImmediateSuccessorScheduler) GetIdleCPU(force bool) *CPU {
	return s.base.getIdleCPU(force)
}

// RequestPolling has no real polling slot to claim, so it falls back to a
// plain blocking GetReadyTask call (spec.md §4.3).
func (s *ImmediateSuccessorScheduler) RequestPolling(cpu *CPU) *Task {
	return s.GetReadyTask(cpu, true)
}

// ReleasePolling panics: ImmediateSuccessorScheduler's per-CPU slot is
// claimed via AddReadyTask's trySet fast path, not via a polling claim,
// so no caller should ever hold one to release.
func (s *ImmediateSuccessorScheduler) ReleasePolling(cpu *CPU) {
	panicInvariant("immediate-successor scheduler has no polling slot to release (cpu %d)", cpu.ID())
}

// DisableComputePlace drains any task parked in cpu's immediate-successor
// slot back into the shared ready queue, so it isn't stranded once cpu
// stops accepting work (spec.md §4.3).
func (s *ImmediateSuccessorScheduler) DisableComputePlace(cpu *CPU) {
	raw := cpu.schedulerSlot.take()
	if raw == nil {
		return
	}
	if task := resolveDequeued(raw, s.base.pushFront); task != nil {
		s.base.pushFront(task)
	}
}

// EnableComputePlace is a no-op: nothing needs to be pre-armed before a
// CPU resumes taking work through its slot.
func (s *ImmediateSuccessorScheduler) EnableComputePlace(cpu *CPU) {}
