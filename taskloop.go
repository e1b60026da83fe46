package taskrt

import "sync"

// TaskloopBounds describes the iteration space a taskloop source divides
// among its collaborators: the half-open range [Start, Start+Count) and
// the preferred chunk size for each collaborator's share.
type TaskloopBounds struct {
	Start     int64
	Count     int64
	ChunkSize int64
}

// taskloopState is the extra bookkeeping a taskloop source carries beyond
// the fields an ordinary [Task] has: the remaining iteration space to
// dispatch to collaborators, and how many collaborators are currently
// executing a share of it. Grounded on Taskloop.hpp's remaining-iteration
// counter and TaskloopManager's needMoreExecutors/hasPendingIterations
// queries.
type taskloopState struct {
	mu sync.Mutex

	bounds     TaskloopBounds
	dispatched int64 // iterations already handed to a collaborator
	running    int64 // collaborators currently executing

	dispatchComplete bool
}

func newTaskloopState(bounds TaskloopBounds) *taskloopState {
	return &taskloopState{bounds: bounds}
}

// hasPendingIterations reports whether any iterations remain to be
// dispatched to a new collaborator.
func (s *taskloopState) hasPendingIterations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatched < s.bounds.Count
}

// needMoreExecutors is a coarser form of
// hasPendingIterations: whether dispatching yet another collaborator is
// still useful (identical here, since this implementation doesn't cap
// in-flight collaborators the way NUMA-aware variants do).
func (s *taskloopState) needMoreExecutors() bool {
	return s.hasPendingIterations()
}

// claimRange reserves up to s.bounds.ChunkSize of the remaining iteration
// space for a new collaborator, returning the range and whether any
// iterations were available.
func (s *taskloopState) claimRange() (TaskloopBounds, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	remaining := s.bounds.Count - s.dispatched
	if remaining <= 0 {
		return TaskloopBounds{}, false
	}

	chunk := s.bounds.ChunkSize
	if chunk <= 0 || chunk > remaining {
		chunk = remaining
	}

	start := s.bounds.Start + s.dispatched
	s.dispatched += chunk
	s.running++

	return TaskloopBounds{Start: start, Count: chunk, ChunkSize: chunk}, true
}

// notifyCollaboratorStarted records nothing: claimRange already counts a
// claimed range's collaborator as running, and no scheduler calls this.
func (s *taskloopState) notifyCollaboratorStarted() {}

// collaboratorFinished records that a collaborator has returned, and
// reports whether dispatch is complete and no collaborator is still
// running — i.e. the source itself may now be finalized.
func (s *taskloopState) collaboratorFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running--
	s.dispatchComplete = s.dispatched >= s.bounds.Count
	return s.dispatchComplete && s.running == 0
}

// NewTaskloopSource creates a non-runnable taskloop source task: a parent
// whose body never runs directly, and whose iteration space is dispatched
// to collaborators by the [Scheduler] (spec.md §6.3 "Taskloop").
func NewTaskloopSource(parent *Task, info *TaskInfo, argsBlock any, bounds TaskloopBounds, inst Instrumentation) *Task {
	info.IsTaskloop = true
	t := NewTask(parent, info, argsBlock, inst)
	t.isRunnable = false
	t.taskloop = newTaskloopState(bounds)
	t.SetMustDelayRelease()
	return t
}

// NewCollaborator creates a runnable taskloop collaborator as a child of
// source, covering the iteration range in bounds. Each call builds a new
// task; collaborators are not pooled or reused. Disposing one runs its
// argument-block destructor but does not report TaskDestroyed; see
// [Finalizer.DisposeTask].
func NewCollaborator(source *Task, bounds TaskloopBounds, inst Instrumentation) *Task {
	if !source.IsTaskloop() {
		panicInvariantForTask(source, "NewCollaborator called on a non-taskloop task %d", source.id)
	}
	info := &TaskInfo{
		Kind:             source.Info.Kind,
		Body:             source.Info.Body,
		DestroyArgsBlock: source.Info.DestroyArgsBlock,
		IsTaskloop:       true,
		PreallocatedArgs: true,
	}
	collab := NewTask(source, info, source.ArgsBlock, inst)
	collab.isRunnable = true
	collab.Bounds = bounds
	return collab
}
