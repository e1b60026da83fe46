package taskrt

// NaiveScheduler is the simplest scheduler variant: a single global LIFO
// queue, no per-CPU state. Grounded on NaiveScheduler.cpp, whose
// addReadyTask always does _readyTasks.push_front and getReadyTask always
// pops the front.
type NaiveScheduler struct {
	base baseScheduler
}

// NewNaiveScheduler constructs a NaiveScheduler over cpus.
func NewNaiveScheduler(cpus *CPUSet) *NaiveScheduler {
	return &NaiveScheduler{base: newBaseScheduler(cpus)}
}

func (s *NaiveScheduler) Name() string { return "naive" }

func (s *NaiveScheduler) AddReadyTask(task *Task, cpu *CPU, hint ReadyHint) *CPU {
	s.base.mu.Lock()
	s.base.ready = append([]*Task{task}, s.base.ready...)
	s.base.mu.Unlock()

	idle := s.base.cpus.getIdle()
	if idle != nil {
		idle.notifyResume()
	}
	return idle
}

func (s *NaiveScheduler) TaskGetsUnblocked(task *Task, cpu *CPU) {
	s.base.taskGetsUnblocked(task)

	idle := s.base.cpus.getIdle()
	if idle != nil {
		idle.notifyResume()
	}
}

func (s *NaiveScheduler) GetReadyTask(cpu *CPU, canMarkIdle bool) *Task {
	requeue := func(t *Task) {
		s.base.mu.Lock()
		s.base.ready = append([]*Task{t}, s.base.ready...)
		s.base.mu.Unlock()
	}

	for {
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

func (s *NaiveScheduler) GetIdleCPU(force bool) *CPU {
	return s.base.getIdleCPU(force)
}

// RequestPolling has no real polling slot to claim, so it falls back to a
// plain blocking GetReadyTask call (spec.md §4.3).
func (s *NaiveScheduler) RequestPolling(cpu *CPU) *Task {
	return s.GetReadyTask(cpu, true)
}

// ReleasePolling panics: NaiveScheduler never hands out a polling claim
// for a caller to release.
func (s *NaiveScheduler) ReleasePolling(cpu *CPU) {
	panicInvariant("naive scheduler has no polling slot to release (cpu %d)", cpu.ID())
}

// DisableComputePlace is a no-op: NaiveScheduler keeps no per-CPU state.
func (s *NaiveScheduler) DisableComputePlace(cpu *CPU) {}

// EnableComputePlace is a no-op: NaiveScheduler keeps no per-CPU state.
func (s *NaiveScheduler) EnableComputePlace(cpu *CPU) {}
