// obligatory // comment

/*
Package taskrt is the core of a task-parallel runtime: given a program that
emits tasks annotated with data-access intents (read, write, readwrite,
concurrent, commutative — optionally weak), it discovers the implicit
dependency graph between tasks, releases each task for execution the moment
its predecessors' accesses are satisfied, and dispatches runnable tasks onto
a pool of worker goroutines bound to CPUs whose availability fluctuates at
runtime.

Four pieces compose the core, in dependency order (leaves first):

  - Dependency registry: [Region], [AccessType], [DataAccess] and [Registry]
    track, per memory region, the happens-before chain of accesses declared
    by tasks, and decide when an access becomes satisfied.

  - Task lifecycle: [Task] and [Finalizer] track per-task completion
    counters and drive the cascaded parent/child disposal pipeline.

  - Scheduler: [Scheduler] is the common interface implemented by
    [NaiveScheduler], [FIFOScheduler], [ImmediateSuccessorScheduler], and
    [ImmediateSuccessorWithPollingScheduler] — these differ only in
    ready-queue discipline and in whether they expose a per-CPU
    immediate-successor slot or a worker polling slot.

  - CPU activation: [CPU] and its [CPU.Enable], [CPU.Disable],
    [CPU.CheckTransitions] and [CPU.Shutdown] methods implement the
    compare-and-swap state machine that enables, disables, and shuts down
    worker CPUs, cooperating with a [WorkerPool] to park and resume worker
    goroutines.

A [Runtime] wires all four together and is the type most callers construct
directly; the individual pieces are exported so that alternative wiring
(e.g. a scheduler variant driving a registry of your own construction) is
possible without reimplementing them.

# Dependency registration

The external surface a source-level task-creation API is expected to drive
is in depinfo.go: [Registry.RegisterRead], [Registry.RegisterWrite],
[Registry.RegisterReadWrite], [Registry.RegisterCommutative],
[Registry.RegisterConcurrent], and their weak counterparts.

# Instrumentation

The core has no built-in tracing. It emits events, defined by the
[Instrumentation] interface, to an external collaborator; [NopInstrumentation]
is the zero-cost default used when nothing needs to observe the engine.

For the scenarios this package's tests are built from, see scenario_test.go
and nqueens_test.go.
*/
package taskrt
