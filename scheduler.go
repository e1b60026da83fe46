package taskrt

import "sync"

// ReadyHint tells a [Scheduler] why a task became ready, so it can place
// the task differently (e.g. the immediate-successor variants use their
// per-CPU slot only for [HintChildTask]; a task made ready with any other
// hint goes to the shared queue).
type ReadyHint int

const (
	// HintRegular is the default: no special placement applies.
	HintRegular ReadyHint = iota
	// HintChildTask means the task became ready because its parent just
	// spawned it.
	HintChildTask
	// HintUnblocked means the task was blocked in a taskwait and has now
	// been woken by its last outstanding child finishing.
	HintUnblocked
	// HintMainTask marks the single initial task of a Runtime, added from
	// outside any CPU.
	HintMainTask
)

// Scheduler assigns ready tasks to CPUs. See spec.md §5 for the four
// variants (Naive, FIFO, ImmediateSuccessor, ImmediateSuccessorWithPolling)
// and their respective queue disciplines.
type Scheduler interface {
	// AddReadyTask makes task eligible to run. If a CPU is idle and able to
	// take it immediately, AddReadyTask returns that CPU so the caller can
	// resume it; otherwise it returns nil and the task waits in queue.
	AddReadyTask(task *Task, cpu *CPU, hint ReadyHint) *CPU

	// TaskGetsUnblocked is a narrower form of AddReadyTask for a task that
	// was previously blocked (e.g. in a taskwait) and is now runnable
	// again; schedulers may prioritize these over fresh ready tasks.
	TaskGetsUnblocked(task *Task, cpu *CPU)

	// GetReadyTask returns the next task cpu should run, or nil if none is
	// available. If canMarkIdle is true and no task is available, the
	// scheduler marks cpu idle as a side effect.
	GetReadyTask(cpu *CPU, canMarkIdle bool) *Task

	// GetIdleCPU returns a CPU that could be resumed to process pending
	// work, or nil if none should be (force bypasses the "is there
	// pending work" check). It returns at most one CPU per call.
	GetIdleCPU(force bool) *CPU

	// RequestPolling blocks cpu until a task becomes available for it,
	// claiming a per-CPU polling slot for variants that have one. A
	// variant without a real polling slot falls back to a plain
	// GetReadyTask call (spec.md §4.3).
	RequestPolling(cpu *CPU) *Task

	// ReleasePolling releases a polling claim taken out by RequestPolling
	// without a task ever being deposited into it, draining one back to
	// the ready queue instead of dropping it if one raced in regardless.
	// A variant with no real polling slot never has such a claim
	// outstanding and panics if this is called.
	ReleasePolling(cpu *CPU)

	// DisableComputePlace notifies the scheduler that cpu is no longer
	// accepting work (disabled or shut down), so any per-CPU fast-path
	// state still holding a task — e.g. the immediate-successor slot —
	// is drained back into the shared ready queue instead of stranding
	// it (spec.md §4.3 "On CPU disable, the slot is drained back to the
	// queue").
	DisableComputePlace(cpu *CPU)

	// EnableComputePlace notifies the scheduler that cpu is accepting
	// work again.
	EnableComputePlace(cpu *CPU)

	// Name identifies the scheduler variant, e.g. for diagnostics.
	Name() string
}

// baseScheduler holds the state and queue operations common to Naive,
// FIFO, and ImmediateSuccessor(WithPolling): a global lock, a queue of
// ready tasks, and a queue of unblocked tasks that takes priority over it.
// Mirrors the shared state every scheduler in the original inherits from
// SchedulerInterface.
type baseScheduler struct {
	mu sync.Mutex

	ready     []*Task
	unblocked []*Task

	cpus *CPUSet
}

func newBaseScheduler(cpus *CPUSet) baseScheduler {
	return baseScheduler{cpus: cpus}
}

// popReplacementLocked dequeues the oldest unblocked task, if any. Must be
// called with mu held.
func (s *baseScheduler) popReplacementLocked() *Task {
	if len(s.unblocked) == 0 {
		return nil
	}
	task := s.unblocked[0]
	s.unblocked = s.unblocked[1:]
	return task
}

func (s *baseScheduler) taskGetsUnblocked(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unblocked = append(s.unblocked, task)
}

// pushFront reinstates task at the front of the ready queue, used to
// drain a per-CPU slot (scheduler_immediate.go, scheduler_polling.go) back
// into shared state when a CPU stops accepting work.
func (s *baseScheduler) pushFront(task *Task) {
	s.mu.Lock()
	s.ready = append([]*Task{task}, s.ready...)
	s.mu.Unlock()
}

func (s *baseScheduler) getIdleCPU(force bool) *CPU {
	s.mu.Lock()
	hasWork := force || len(s.ready) != 0 || len(s.unblocked) != 0
	s.mu.Unlock()

	if !hasWork {
		return nil
	}
	return s.cpus.getIdle()
}

// resolveDequeued turns a just-dequeued task into the task a worker should
// actually run. For an ordinary task that's a no-op; for a taskloop source
// (non-runnable, carrying a *taskloopState) it claims the next iteration
// range, builds a collaborator for it, and — if iterations remain — feeds
// the source back into the queue via requeue so another worker can claim
// the next range. Returns nil if task was a source whose range a racing
// claim already exhausted, signalling the caller should just retry.
//
// Grounded on how NaiveScheduler::getReadyTask and FIFOScheduler::
// getReadyTask special-case a dequeued taskloop task before returning it.
func resolveDequeued(task *Task, requeue func(*Task)) *Task {
	if task == nil || !task.IsTaskloop() || task.IsRunnable() {
		return task
	}

	bounds, ok := task.taskloop.claimRange()
	if !ok {
		return nil
	}

	collab := NewCollaborator(task, bounds, task.inst)
	if task.taskloop.hasPendingIterations() {
		requeue(task)
	}
	return collab
}
