package taskrt

import "sync/atomic"

// ActivationStatus is a CPU's position in the enable/disable state machine.
// Grounded on CPU::activation_status_t in CPUActivation.hpp; the
// cluster-membership states (lent, lending, acquired, acquired_enabled,
// returned, shutting_down) are omitted, since cluster execution is out of
// scope here.
type ActivationStatus int32

const (
	Uninitialized ActivationStatus = iota
	Enabled
	Enabling
	Disabled
	Disabling
	Shutdown
)

func (s ActivationStatus) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Enabled:
		return "enabled"
	case Enabling:
		return "enabling"
	case Disabled:
		return "disabled"
	case Disabling:
		return "disabling"
	case Shutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// activationState is an atomic ActivationStatus cell.
type activationState struct {
	v atomic.Int32
}

func (a *activationState) load() ActivationStatus { return ActivationStatus(a.v.Load()) }
func (a *activationState) store(s ActivationStatus) { a.v.Store(int32(s)) }
func (a *activationState) cas(old, new ActivationStatus) bool {
	return a.v.CompareAndSwap(int32(old), int32(new))
}

// atomicTaskPtr is an atomic.Pointer[Task], spelled out so taskSlot's field
// declaration doesn't need a type parameter at the call site.
type atomicTaskPtr = atomic.Pointer[Task]

// Status returns the CPU's current activation status.
func (c *CPU) Status() ActivationStatus { return c.status.load() }

// AcceptsWork reports whether the CPU is in a state where the scheduler may
// hand it a task to run right now. Mirrors CPUActivation::acceptsWork.
func (c *CPU) AcceptsWork() bool {
	switch c.status.load() {
	case Enabled, Enabling:
		return true
	default:
		return false
	}
}

// Enable requests the CPU move to (or stay in) an enabled state, resuming
// its worker goroutine if it was parked. Reports false if the CPU has
// already shut down. Mirrors CPUActivation::enable's retry loop.
func (c *CPU) Enable() bool {
	for {
		switch cur := c.status.load(); cur {
		case Enabled, Enabling:
			return true
		case Disabled:
			if c.status.cas(cur, Enabling) {
				c.notifyResume()
				if c.scheduler != nil {
					c.scheduler.EnableComputePlace(c)
				}
				return true
			}
		case Disabling:
			if c.status.cas(cur, Enabled) {
				if c.scheduler != nil {
					c.scheduler.EnableComputePlace(c)
				}
				return true
			}
		case Shutdown:
			return false
		default:
			panicInvariant("cpu %d enable from unexpected status %s", c.id, cur)
		}
	}
}

// Disable requests the CPU stop accepting new work once it finishes
// whatever it's currently running. Reports false if the CPU has already
// shut down. Mirrors CPUActivation::disable's retry loop.
//
// A task may already be parked in schedulerSlot — deposited by the
// immediate-successor scheduler variants' AddReadyTask fast path — with
// no worker goroutine left to ever claim it once this CPU stops fetching
// work. Disable hands it back to the scheduler's shared queue so it isn't
// stranded (spec.md §4.3).
func (c *CPU) Disable() bool {
	for {
		switch cur := c.status.load(); cur {
		case Enabled:
			if c.status.cas(cur, Disabling) {
				c.drainToScheduler()
				return true
			}
		case Enabling:
			if c.status.cas(cur, Disabled) {
				c.drainToScheduler()
				return true
			}
		case Disabled, Disabling:
			return true
		case Shutdown:
			return false
		default:
			panicInvariant("cpu %d disable from unexpected status %s", c.id, cur)
		}
	}
}

// drainToScheduler notifies c.scheduler that c has stopped accepting work,
// if a scheduler has been bound (see CPUSet.bindScheduler); a CPU driven
// directly in isolation, without a Runtime, has none and there's nothing
// to drain.
func (c *CPU) drainToScheduler() {
	if c.scheduler != nil {
		c.scheduler.DisableComputePlace(c)
	}
}

// CheckTransitions is called by the worker goroutine that owns this CPU
// between tasks. It completes any pending enable/disable transition,
// parking the calling goroutine (and reporting CPUSuspended/CPUResumed to
// the instrumentation) while the CPU is disabled, and returns the status
// the caller should act on: Enabled (keep running) or Shutdown (exit).
// Mirrors CPUActivation::checkCPUStatusTransitions.
func (c *CPU) CheckTransitions() ActivationStatus {
	for {
		switch cur := c.status.load(); cur {
		case Enabled:
			return cur
		case Enabling:
			if c.status.cas(cur, Enabled) {
				c.inst.CPUResumed(c)
				return Enabled
			}
		case Disabled:
			c.inst.CPUSuspended(c)
			c.parkUntilResumed()
		case Disabling:
			if c.status.cas(cur, Disabled) {
				c.inst.CPUSuspended(c)
				c.parkUntilResumed()
			}
		case Shutdown:
			return cur
		default:
			panicInvariant("cpu %d transition check from unexpected status %s", c.id, cur)
		}
	}
}

// Shutdown moves the CPU directly to Shutdown regardless of its current
// activation status, waking its worker if parked so it observes the new
// status and exits. Mirrors CPUActivation::shutdownCPU.
//
// Like Disable, this drains schedulerSlot back to the scheduler's queue:
// workerLoop checks CheckTransitions before every GetReadyTask call, so a
// CPU shut down straight from Enabled (skipping Disable entirely, as
// WorkerPool.ShutdownAll does) would otherwise abandon whatever task was
// parked in its slot.
func (c *CPU) Shutdown() {
	for {
		cur := c.status.load()
		if cur == Shutdown {
			return
		}
		if c.status.cas(cur, Shutdown) {
			c.notifyResume()
			c.drainToScheduler()
			return
		}
	}
}
