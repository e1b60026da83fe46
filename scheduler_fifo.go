package taskrt

// FIFOScheduler is the Naive scheduler's FIFO counterpart: a single global
// queue, appended to at the back and popped from the front. Grounded on
// FIFOScheduler.cpp, whose addReadyTask always does _readyTasks.push_back.
//
// It additionally supports requeuing a taskloop source after dispatching a
// collaborator, gated on requeueTaskloop — mirrors
// TaskloopSchedulingPolicy::isRequeueEnabled's REQUEUE_TASKLOOP environment
// variable, which FIFOScheduler.cpp is the only variant to consult.
type FIFOScheduler struct {
	base            baseScheduler
	requeueTaskloop bool
}

// NewFIFOScheduler constructs a FIFOScheduler over cpus. requeueTaskloop
// should come from [RequeueTaskloopEnabled].
func NewFIFOScheduler(cpus *CPUSet, requeueTaskloop bool) *FIFOScheduler {
	return &FIFOScheduler{base: newBaseScheduler(cpus), requeueTaskloop: requeueTaskloop}
}

func (s *FIFOScheduler) Name() string { return "fifo" }

func (s *FIFOScheduler) AddReadyTask(task *Task, cpu *CPU, hint ReadyHint) *CPU {
	s.base.mu.Lock()
	s.base.ready = append(s.base.ready, task)
	s.base.mu.Unlock()

	idle := s.base.cpus.getIdle()
	if idle != nil {
		idle.notifyResume()
	}
	return idle
}

func (s *FIFOScheduler) TaskGetsUnblocked(task *Task, cpu *CPU) {
	s.base.taskGetsUnblocked(task)

	idle := s.base.cpus.getIdle()
	if idle != nil {
		idle.notifyResume()
	}
}

func (s *FIFOScheduler) GetReadyTask(cpu *CPU, canMarkIdle bool) *Task {
	requeue := func(t *Task) {
		s.base.mu.Lock()
		if s.requeueTaskloop {
			s.base.ready = append(s.base.ready, t)
		} else {
			s.base.ready = append([]*Task{t}, s.base.ready...)
		}
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

func (s *FIFOScheduler) GetIdleCPU(force bool) *CPU {
	return s.base.getIdleCPU(force)
}

// RequestPolling has no real polling slot to claim, so it falls back to a
// plain blocking GetReadyTask call (spec.md §4.3).
func (s *FIFOScheduler) RequestPolling(cpu *CPU) *Task {
	return s.GetReadyTask(cpu, true)
}

// ReleasePolling panics: FIFOScheduler never hands out a polling claim
// for a caller to release.
func (s *FIFOScheduler) ReleasePolling(cpu *CPU) {
	panicInvariant("fifo scheduler has no polling slot to release (cpu %d)", cpu.ID())
}

// DisableComputePlace is a no-op: FIFOScheduler keeps no per-CPU state.
func (s *FIFOScheduler) DisableComputePlace(cpu *CPU) {}

// EnableComputePlace is a no-op: FIFOScheduler keeps no per-CPU state.
func (s *FIFOScheduler) EnableComputePlace(cpu *CPU) {}

// RequeuesTaskloop reports whether this scheduler was configured to
// re-append a taskloop source to the back of the ready queue after handing
// out one collaborator's iteration range, rather than keep dispatching
// collaborators from it back-to-back.
func (s *FIFOScheduler) RequeuesTaskloop() bool { return s.requeueTaskloop }
