package taskrt

import (
	"sync"
	"sync/atomic"
)

// TaskInfo describes a task's body and how to dispose of its argument
// block, the handshake a task-creation caller hands the runtime (spec.md
// §6 "Task creation handshake"): "a task_info descriptor containing at
// minimum: body pointer, arg-block destructor (nullable), and flags
// describing the task kind."
type TaskInfo struct {
	// Kind labels the task for diagnostics (see [ChildSet]) — the Go
	// analogue of the original's task-type name.
	Kind string
	// Body is the task's executable work. It receives the task so it can
	// register further accesses for subtasks it spawns.
	Body func(task *Task)
	// DestroyArgsBlock disposes of ArgsBlock, if non-nil. It always runs,
	// including for a runnable taskloop collaborator, whose disposal does
	// not report TaskDestroyed (spec.md §4.2 "Disposal").
	DestroyArgsBlock func(argsBlock any)

	IsTaskloop       bool
	IsSpawned        bool
	IsStreamExecutor bool
	PreallocatedArgs bool
}

// Task is a unit of schedulable work. See spec.md §3 "Task" for the full
// field-by-field contract; this type realizes it directly.
type Task struct {
	id int64

	Info      *TaskInfo
	ArgsBlock any
	parent    *Task

	// Lifecycle counters, all atomic per spec.md §4.2.
	childrenCountdown      atomic.Int64 // init 1 (self); 0 means finished
	accessHoldersCountdown atomic.Int64 // init 1; 0 means disposable
	disposalCountdown      atomic.Int64

	isRunnable       bool // taskloop collaborators are runnable, sources are not
	mustDelayRelease atomic.Bool
	released         atomic.Bool // accesses unregistered
	unlinked         atomic.Bool // removed from parent's child bookkeeping

	// computePlace is set while the task is executing on a worker, and
	// cleared when it finishes.
	computePlace atomic.Pointer[CPU]

	accessTableMu sync.Mutex
	accesses      []*Access // accesses this task originated
	deleted       bool      // guards against use-after-dispose, like the teacher's hasBeenDeleted

	bottomMu sync.Mutex
	bottom   []bottomEntry // this task's bottom map, as a parent: see registry.go

	children *ChildSet

	taskloop *taskloopState // non-nil only for a taskloop source

	// spawnTrace is captured once at creation, so an invariant violation
	// discovered later (almost always on a different goroutine) can still
	// report where this task came from; see panicInvariantForTask.
	spawnTrace StackTrace

	// Bounds is the iteration range this task covers, set on taskloop
	// collaborators created by NewCollaborator; zero for every other task.
	Bounds TaskloopBounds

	inst Instrumentation
}

var nextTaskID atomic.Int64

// NewTask creates a task as a child of parent (nil for a top-level task).
// The returned task is not yet registered with any scheduler or registry —
// callers drive that via [Registry] and [Scheduler].
func NewTask(parent *Task, info *TaskInfo, argsBlock any, inst Instrumentation) *Task {
	if inst == nil {
		inst = NopInstrumentation{}
	}
	t := &Task{
		id:        nextTaskID.Add(1),
		Info:      info,
		ArgsBlock: argsBlock,
		parent:    parent,
		isRunnable: !info.IsTaskloop,
		inst:      inst,
	}
	t.childrenCountdown.Store(1)
	t.accessHoldersCountdown.Store(1)
	t.children = newChildSet(t)
	t.spawnTrace = GetStackTrace(nil, 1)

	if parent != nil {
		parent.addChild(t)
	}

	inst.TaskCreated(t)
	return t
}

// ID is a process-unique task identifier, useful for diagnostics and tests.
func (t *Task) ID() int64 { return t.id }

// Parent returns the task's parent, or nil for a top-level task.
func (t *Task) Parent() *Task { return t.parent }

// ComputePlace returns the CPU the task is currently executing on, or nil.
func (t *Task) ComputePlace() *CPU { return t.computePlace.Load() }

func (t *Task) setComputePlace(cpu *CPU) { t.computePlace.Store(cpu) }

// IsTaskloop reports whether this task is a taskloop source.
func (t *Task) IsTaskloop() bool { return t.Info.IsTaskloop }

// IsRunnable reports whether this task (or taskloop collaborator) is
// directly executable, as opposed to being a taskloop source awaiting
// collaborator dispatch.
func (t *Task) IsRunnable() bool { return t.isRunnable }

// IsSpawned reports whether this is a process-level spawned function task.
func (t *Task) IsSpawned() bool { return t.Info.IsSpawned }

// IsStreamExecutor reports whether this task is a stream executor.
func (t *Task) IsStreamExecutor() bool { return t.Info.IsStreamExecutor }

// HasPreallocatedArgsBlock reports whether the task's argument block memory
// is owned externally (e.g. a taskloop collaborator's reused block).
func (t *Task) HasPreallocatedArgsBlock() bool { return t.Info.PreallocatedArgs }

// MustDelayRelease reports whether the task has a wait clause: dependency
// unregistration must be delayed until all its children finish.
func (t *Task) MustDelayRelease() bool { return t.mustDelayRelease.Load() }

// SetMustDelayRelease marks the task as having a wait clause.
func (t *Task) SetMustDelayRelease() { t.mustDelayRelease.Store(true) }

// HasFinished reports whether the task's body has returned and all of its
// children have finished (childrenCountdown reached 0).
func (t *Task) HasFinished() bool { return t.childrenCountdown.Load() == 0 }

// Children returns the set of the task's currently-running direct
// children, for taskwait and diagnostics.
func (t *Task) Children() *ChildSet { return t.children }

func (t *Task) addChild(child *Task) {
	t.childrenCountdown.Add(1)
	t.children.Add(child.Info.Kind)
}

// finishChild decrements the countdown for one finished child (or, on the
// first call for a task itself, the "self" unit it was initialized with)
// and reports whether the countdown reached zero.
func (t *Task) finishChild() bool {
	remaining := t.childrenCountdown.Add(-1)
	if remaining < 0 {
		panicInvariantForTask(t, "task %d childrenCountdown went negative", t.id)
	}
	return remaining == 0
}

// finishChildNamed is finishChild plus the [ChildSet] bookkeeping used for
// taskwait and diagnostics; used when a known child (not "self") finishes.
func (t *Task) finishChildNamed(child *Task) bool {
	t.children.Done(child.Info.Kind)
	return t.finishChild()
}

// allChildrenFinished reports, without blocking, whether every running
// child has reported done, for the mustDelayRelease path of finalization.
func (t *Task) allChildrenFinished() bool {
	return t.children.Finished()
}

// addAccessHolder increments the count of reasons the task must remain
// alive on account of pinned accesses.
func (t *Task) addAccessHolder() { t.accessHoldersCountdown.Add(1) }

// releaseAccessHolder releases one such reason, reporting whether the
// countdown reached zero (the task is now disposable).
func (t *Task) releaseAccessHolder() bool {
	remaining := t.accessHoldersCountdown.Add(-1)
	if remaining < 0 {
		panicInvariantForTask(t, "task %d accessHoldersCountdown went negative", t.id)
	}
	return remaining == 0
}

// markAsReleased marks dependency accesses as unregistered, returning
// whether this call is the one that performed the transition.
func (t *Task) markAsReleased() bool {
	return t.released.CompareAndSwap(false, true)
}

// unlinkFromParent detaches the task from its parent's bookkeeping,
// releasing the "self" accessHoldersCountdown unit the task was
// initialized with (the counterpart of finishChild's self unit for
// childrenCountdown), and reports whether the task is now ready for
// disposal — accessHoldersCountdown has reached zero, meaning every
// fragment it ever held has already been marked removable. Mirrors
// Task::unlinkFromParent in TaskFinalizationImplementation.hpp.
func (t *Task) unlinkFromParent() bool {
	if !t.unlinked.CompareAndSwap(false, true) {
		panicInvariantForTask(t, "task %d unlinked from parent twice", t.id)
	}
	return t.releaseAccessHolder()
}
