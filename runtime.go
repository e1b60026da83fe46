package taskrt

import (
	"context"
	"os"
	"sync/atomic"
	"syscall"
)

// shutdownSignalKey is the ShutdownSignal key a Runtime triggers to start a
// graceful shutdown, whether from an OS signal or an explicit call to
// [Runtime.Shutdown].
const shutdownSignalKey = "taskrt.shutdown"

// Runtime wires together the four subsystems this package implements: the
// dependency [Registry] (DR), task lifecycle via [Finalizer] (TL), a
// [Scheduler] variant (SC), and a [WorkerPool] over the per-CPU activation
// state machines of each [CPU] (CA). It is the facade a caller actually constructs;
// spec.md §6 describes the task-creation handshake it exposes.
type Runtime struct {
	cpus      *CPUSet
	scheduler Scheduler
	registry  *Registry
	finalizer *Finalizer
	pool      *WorkerPool
	inst      Instrumentation

	shutdown *ShutdownSignal

	pendingSpawned        atomic.Int64
	activeStreamExecutors atomic.Int64
	nextTaskTypeID        atomic.Int64
}

// RuntimeConfig collects a Runtime's construction parameters.
type RuntimeConfig struct {
	// NumCPUs is the fixed number of compute places to schedule onto.
	// Topology auto-discovery is out of scope; the caller decides this,
	// typically from runtime.NumCPU() or an external configuration value.
	NumCPUs int
	// Scheduler selects the queue discipline; defaults to [SchedulerNaive].
	Scheduler SchedulerKind
	// Instrumentation receives every lifecycle/dependency/activation event;
	// defaults to [NopInstrumentation].
	Instrumentation Instrumentation
	// CatchOSSignals, if true, wires SIGINT/SIGTERM to a graceful shutdown.
	CatchOSSignals bool
}

// NewRuntime constructs a Runtime from cfg.
func NewRuntime(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.NumCPUs <= 0 {
		panicInvariant("taskrt: RuntimeConfig.NumCPUs must be positive, got %d", cfg.NumCPUs)
	}
	inst := cfg.Instrumentation
	if inst == nil {
		inst = NopInstrumentation{}
	}

	cpus := NewCPUSet(cfg.NumCPUs, inst)
	kind := cfg.Scheduler
	if kind == "" {
		kind = SchedulerNaive
	}
	sched, err := NewScheduler(kind, cpus)
	if err != nil {
		return nil, err
	}
	cpus.bindScheduler(sched)

	registry := NewRegistry(inst)
	rt := &Runtime{
		cpus:      cpus,
		scheduler: sched,
		registry:  registry,
		inst:      inst,
		shutdown:  NewShutdownSignal(),
	}
	rt.finalizer = NewFinalizer(registry, sched, inst, &rt.pendingSpawned, &rt.activeStreamExecutors)
	rt.pool = NewWorkerPool(cpus, sched, registry, rt.finalizer, inst)

	if cfg.CatchOSSignals {
		for _, sig := range []os.Signal{os.Interrupt, syscall.SIGTERM} {
			if err := rt.shutdown.On(sig, context.Background(), func(ctx context.Context) error {
				rt.Shutdown()
				return nil
			}); err != nil {
				return nil, err
			}
		}
	}

	// Each CPU owns a child of rt.shutdown, so triggering shutdownSignalKey
	// on the root — whether from Runtime.Shutdown or a caught OS signal —
	// cascades down to every CPU's own CPU.Shutdown without the
	// Runtime needing to loop over cpus itself.
	for _, cpu := range cpus.CPUs() {
		cpu := cpu
		child := rt.shutdown.NewChild()
		if err := child.On(shutdownSignalKey, context.Background(), func(context.Context) error {
			cpu.Shutdown()
			return nil
		}); err != nil {
			return nil, err
		}
		cpu.shutdown = child
	}

	for _, cpu := range cpus.CPUs() {
		cpu.Enable()
	}

	return rt, nil
}

// CPUs returns the fixed set of compute places this Runtime schedules onto.
func (rt *Runtime) CPUs() *CPUSet { return rt.cpus }

// Scheduler returns the scheduler variant in use.
func (rt *Runtime) Scheduler() Scheduler { return rt.scheduler }

// Registry returns the dependency registry.
func (rt *Runtime) Registry() *Registry { return rt.registry }

// ShutdownSignal returns the root of this Runtime's shutdown cascade, for a
// caller that wants to register its own cleanup alongside the Runtime's.
func (rt *Runtime) ShutdownSignal() *ShutdownSignal { return rt.shutdown }

// Run starts one worker goroutine per CPU and blocks until every one exits
// — which happens once every CPU has been shut down, whether via
// [Runtime.Shutdown] or ctx being canceled.
func (rt *Runtime) Run(ctx context.Context) error {
	return rt.pool.Run(ctx)
}

// Shutdown triggers a graceful shutdown: every CPU finishes whatever it's
// currently running, then exits instead of fetching another task. It
// works by triggering shutdownSignalKey on rt.shutdown, which cascades to
// every CPU's own ShutdownSignal child and, from there, to [CPU.Shutdown].
func (rt *Runtime) Shutdown() {
	_ = rt.shutdown.Trigger(shutdownSignalKey, context.Background())
}

// Spawn creates a new task as a child of parent (nil for a top-level task).
// It does not itself register any data accesses, and does not hand the task
// to the scheduler: the caller declares whatever accesses the task needs
// against the returned handle (via [Registry]'s Register* methods, using
// [Task.Parent] as the parent argument they take), then calls [Runtime.Submit]
// to complete the handshake (spec.md §6 "Task creation handshake"). A task
// that declares no accesses can call Submit immediately.
func (rt *Runtime) Spawn(parent *Task, info *TaskInfo, argsBlock any) *Task {
	if info.IsSpawned {
		rt.pendingSpawned.Add(1)
	}
	if info.IsStreamExecutor {
		rt.activeStreamExecutors.Add(1)
	}

	return NewTask(parent, info, argsBlock, rt.inst)
}

// SpawnTaskloop creates a taskloop source over bounds as a child of parent.
// Like Spawn, it only constructs the task; the caller registers the
// source's own accesses (if any) and then calls [Runtime.Submit] to let the
// scheduler begin dispatching collaborator tasks for its iteration ranges
// as CPUs become available (spec.md §6.3 "Taskloop").
func (rt *Runtime) SpawnTaskloop(parent *Task, info *TaskInfo, argsBlock any, bounds TaskloopBounds) *Task {
	return NewTaskloopSource(parent, info, argsBlock, bounds, rt.inst)
}

// Submit completes the task creation handshake for task, which must have
// been returned by Spawn or SpawnTaskloop on this Runtime with every
// intended data access already registered against it. If every one of those
// accesses is already satisfied, task is handed to the scheduler
// immediately and the CPU woken to run it (if any) is returned; otherwise
// nothing is returned, and the registry itself adds task to the scheduler
// the moment its last outstanding access clears (spec.md §2 "on task
// completion... DR propagates satisfaction downstream, producing more
// ready tasks").
func (rt *Runtime) Submit(task *Task, hint ReadyHint) *CPU {
	var cpu *CPU
	if parent := task.Parent(); parent != nil {
		cpu = parent.ComputePlace()
	}
	return rt.registry.SubmitIfSatisfied(task, rt.scheduler, cpu, hint)
}

// Taskwait blocks the calling goroutine until every of task's currently
// running direct children has finished, then marks the taskwait region's
// end.
//
// Unlike the fiber-based runtime this is adapted from, a Taskwait here
// really does block its calling worker goroutine rather than switching
// that CPU to another ready task — a deliberate simplification recorded in
// DESIGN.md. Other CPUs keep making progress on remaining ready work.
func (rt *Runtime) Taskwait(task *Task) {
	cpu := task.ComputePlace()
	ch := rt.registry.HandleTaskwait(task, cpu)
	<-ch
	rt.registry.HandleExitTaskwait(task, cpu)
}

// TaskFinished reports that task's body has returned, driving the
// finalization ascent walk. [WorkerPool] calls this for every task it
// runs; exposed here for callers driving tasks outside of [Runtime.Run]
// (e.g. tests).
func (rt *Runtime) TaskFinished(task *Task) {
	rt.finalizer.TaskFinished(task, task.ComputePlace())
}

// NextTaskTypeID returns a process-unique integer, useful for assigning a
// stable identity to a task type registered once at first spawn (the Go
// analogue of the original's lazily-initialized nanos6_task_info_t
// registration).
func (rt *Runtime) NextTaskTypeID() int64 {
	return rt.nextTaskTypeID.Add(1)
}

// ChildTree is a snapshot of one task's currently-running direct children,
// grouped by kind. Mirrors the teacher's TaskGroup.TaskTree: "the
// recommended use of this method is for runtime diagnostics... about
// exactly which tasks are still running, when waiting for something to
// stop" applies just as well to a taskwait's in-flight children here.
type ChildTree struct {
	TaskKind string
	Children []ChildInfo
}

// ChildTree returns a diagnostic snapshot of task's currently-running
// direct children. Like TaskGroup.TaskTree, a concurrent Add/Done during
// the call may or may not be reflected in the result, but any count that
// holds steady throughout the call is reported accurately.
func (rt *Runtime) ChildTree(task *Task) ChildTree {
	return ChildTree{TaskKind: task.Info.Kind, Children: task.Children().Snapshot()}
}
