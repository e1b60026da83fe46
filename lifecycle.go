package taskrt

import "sync/atomic"

// Finalizer drives a task through completion and disposal: the ascent walk
// up the parent chain that decrements each ancestor's child countdown,
// releases dependencies once a task with a wait clause sees all of its
// children finish, and disposes of tasks once nothing still references
// them (spec.md §4.2).
//
// Unlike the runtime this is adapted from, disposal never frees memory
// directly: it runs the task's argument-block destructor and drops the
// runtime's last reference, leaving reclamation to the garbage collector.
type Finalizer struct {
	registry  *Registry
	scheduler Scheduler
	inst      Instrumentation

	pendingSpawned        *atomic.Int64
	activeStreamExecutors *atomic.Int64
}

// NewFinalizer constructs a Finalizer. pendingSpawned and
// activeStreamExecutors are process-wide counters owned by the [Runtime];
// nil is accepted when the caller doesn't track them (e.g. in tests).
func NewFinalizer(registry *Registry, scheduler Scheduler, inst Instrumentation, pendingSpawned, activeStreamExecutors *atomic.Int64) *Finalizer {
	if inst == nil {
		inst = NopInstrumentation{}
	}
	f := &Finalizer{
		registry:              registry,
		scheduler:             scheduler,
		inst:                  inst,
		pendingSpawned:        pendingSpawned,
		activeStreamExecutors: activeStreamExecutors,
	}
	registry.setDeferredDisposer(f.finishDisposal)
	return f
}

// TaskFinished reports that task's body has returned on cpu, and walks up
// the parent chain: decrementing each ancestor's child countdown,
// releasing a taskloop source's dependencies once every collaborator it
// dispatched has finished, disposing each ancestor this completion
// finishes and releases, and waking any ancestor blocked in a taskwait for
// task specifically. Mirrors the control flow of
// TaskFinalization::taskFinished, folding in what that implementation
// spreads across a separate, separately-ascending disposeTask: since nei
// -ther walk here does any manual memory freeing, there's no benefit to
// keeping them apart, and merging them avoids re-deriving "is this
// ancestor actually finished" a second time.
//
// An ordinary task's own dependencies are released immediately when its
// body returns (see [WorkerPool.runTask]), not here — only a taskloop
// source (the sole user of [Task.SetMustDelayRelease] in this runtime)
// defers release to this ascent, since its own "body" is never run
// directly and its accesses can't be released until its last collaborator
// finishes.
func (f *Finalizer) TaskFinished(task *Task, cpu *CPU) {
	ready := task.finishChild()

	for task != nil && ready {
		parent := task.Parent()

		if task.HasFinished() {
			if task.MustDelayRelease() {
				if !task.allChildrenFinished() {
					panicInvariantForTask(task, "task %d marked mustDelayRelease but has unfinished children though HasFinished() is true", task.id)
				}

				f.registry.UnregisterAccesses(task, cpu)
				task.setComputePlace(nil)
				f.inst.TaskRemovedFromAccessGroup(Region{}, task)
				task.markAsReleased()
			}

			f.disposeOne(task, cpu)
		} else {
			// An ancestor that was in a taskwait for task specifically
			// becomes ready to run again.
			f.scheduler.AddReadyTask(task, cpu, HintUnblocked)
			ready = false
		}

		if ready && parent != nil {
			ready = parent.finishChildNamed(task)
		}

		task = parent
	}
}

// DisposeTask disposes of task directly, without the ascent walk
// TaskFinished performs. Exposed for callers that already know task has
// finished and been released (e.g. a task with no wait clause and no
// children, disposed right at the point its body returns).
func (f *Finalizer) DisposeTask(task *Task, cpu *CPU) {
	f.disposeOne(task, cpu)
}

// disposeOne disposes of exactly task — not its ancestors; TaskFinished's
// own ascent is what reaches those, each already independently confirmed
// finished before disposeOne runs on it (mirrors the body of
// TaskFinalization::disposeTask, minus its own ascent loop).
//
// task.unlinkFromParent releases the "self" accessHoldersCountdown unit
// and reports whether that reached zero — i.e. whether every access
// fragment task ever originated has already been marked removable. If
// not, the rest of disposal (destroying the argument block, instrumenting
// deletion, decrementing process-wide counters) is deferred: some access
// this task registered is still the tail of its sequence, not yet
// supplanted or forced removable, so [Registry.markRemovableLocked] picks
// up where this leaves off once the last one clears (spec.md §4.2 "On
// the way up, once accessHoldersCountdown reaches zero, the task is
// unlinked from its parent and its memory reclaimed").
func (f *Finalizer) disposeOne(task *Task, cpu *CPU) {
	if !task.HasFinished() {
		panicInvariantForTask(task, "task %d disposed before finishing", task.id)
	}

	f.registry.HandleTaskRemoval(task, cpu)

	if task.unlinkFromParent() {
		f.finishDisposal(task)
	}
}

// finishDisposal runs the destructive half of a task's disposal: it must
// not run until task has both finished and had every access holder
// released, whichever of [Finalizer.disposeOne] or
// [Registry.markRemovableLocked] happens to observe that last release.
func (f *Finalizer) finishDisposal(task *Task) {
	isSpawned := task.IsSpawned()
	isStreamExecutor := task.IsStreamExecutor()
	dispose := !(task.IsTaskloop() && task.IsRunnable())

	f.inst.TaskBeingDeleted(task)
	if task.Info.DestroyArgsBlock != nil {
		task.Info.DestroyArgsBlock(task.ArgsBlock)
	}
	if dispose {
		f.inst.TaskDestroyed(task)
	}

	if isSpawned && f.pendingSpawned != nil {
		f.pendingSpawned.Add(-1)
	} else if isStreamExecutor && f.activeStreamExecutors != nil {
		f.activeStreamExecutors.Add(-1)
	}
}
