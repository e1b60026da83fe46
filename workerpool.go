package taskrt

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs one goroutine per [CPU], each repeatedly fetching and
// running tasks from a [Scheduler] until its CPU shuts down. Grounded on
// the worker-thread loop in WorkerThread.cpp (fetch a task, run its body,
// report it finished, repeat) combined with CPUActivation's status check
// at the top of each iteration; uses errgroup to run the worker goroutines
// and wait for them all to exit.
type WorkerPool struct {
	cpus      *CPUSet
	scheduler Scheduler
	registry  *Registry
	finalizer *Finalizer
	inst      Instrumentation
}

// NewWorkerPool constructs a WorkerPool. inst may be nil.
func NewWorkerPool(cpus *CPUSet, scheduler Scheduler, registry *Registry, finalizer *Finalizer, inst Instrumentation) *WorkerPool {
	if inst == nil {
		inst = NopInstrumentation{}
	}
	return &WorkerPool{
		cpus:      cpus,
		scheduler: scheduler,
		registry:  registry,
		finalizer: finalizer,
		inst:      inst,
	}
}

// Run starts a worker goroutine per CPU and blocks until every one exits,
// which happens once its CPU's activation status reaches Shutdown.
// Canceling ctx shuts down every CPU immediately.
func (wp *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var workers errgroup.Group
	for _, cpu := range wp.cpus.CPUs() {
		cpu := cpu
		workers.Go(func() error {
			wp.workerLoop(ctx, cpu)
			return nil
		})
	}

	stopped := make(chan struct{})
	g.Go(func() error {
		defer close(stopped)
		return workers.Wait()
	})
	g.Go(func() error {
		select {
		case <-ctx.Done():
			wp.ShutdownAll()
		case <-stopped:
		}
		return nil
	})

	return g.Wait()
}

// ShutdownAll transitions every CPU to Shutdown, waking any that are
// parked so they observe it and their worker goroutines exit.
func (wp *WorkerPool) ShutdownAll() {
	for _, cpu := range wp.cpus.CPUs() {
		cpu.Shutdown()
	}
}

func (wp *WorkerPool) workerLoop(ctx context.Context, cpu *CPU) {
	for {
		if cpu.CheckTransitions() == Shutdown {
			if cpu.shutdown != nil {
				cpu.shutdown.Stop()
			}
			return
		}

		task := wp.scheduler.GetReadyTask(cpu, true)
		if task == nil {
			continue
		}

		wp.runTask(cpu, task)
	}
}

// runTask executes task's body on cpu and reports completion through the
// [Finalizer]. A task without a wait clause releases its own dependencies
// immediately once its body returns, regardless of whether any children it
// spawned are still running — those children already registered their own
// independent accesses at spawn time, so task's own involvement in any
// chain ends the moment its body stops touching the data. A taskloop
// collaborator's completion additionally checks whether it was the last
// one running against an exhausted iteration range, in which case the
// source itself — whose own body never runs, and whose dependencies are
// deliberately delayed (see [Task.SetMustDelayRelease]) — is finalized
// here instead of from inside a task body.
func (wp *WorkerPool) runTask(cpu *CPU, task *Task) {
	task.setComputePlace(cpu)

	if task.Info.Body != nil {
		task.Info.Body(task)
	}

	if !task.MustDelayRelease() {
		wp.registry.UnregisterAccesses(task, cpu)
		task.setComputePlace(nil)
		wp.inst.TaskRemovedFromAccessGroup(Region{}, task)
		task.markAsReleased()
	}

	if task.IsTaskloop() && task.IsRunnable() {
		source := task.Parent()
		if source.taskloop.collaboratorFinished() {
			wp.finalizer.TaskFinished(source, cpu)
		}
	}

	wp.finalizer.TaskFinished(task, cpu)
}
