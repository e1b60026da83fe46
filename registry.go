package taskrt

import (
	"sort"
	"sync/atomic"

	"golang.org/x/exp/slices"
)

// bottomEntry is one entry of a parent task's bottom map: the most recent
// access among the parent's direct children covering an exact, disjoint
// region (spec.md §3 "AccessSequence / BottomMap"). Entries in a task's
// bottom map are always kept sorted by region.Start and pairwise disjoint.
type bottomEntry struct {
	region Region
	seq    *sequence
}

// Access is the handle a task receives back from [Registry.RegisterAccess]:
// the logical, task-facing access to a (possibly fragmented) region. It
// may be backed by more than one internal chain entry when the requested
// region spans pre-existing, differently-shaped bottom-map entries.
type Access struct {
	Originator *Task
	Region     Region
	Type       AccessType
	Weak       bool

	fragments []*DataAccess
}

// Satisfied reports whether every fragment composing this access is
// satisfied — i.e. whether the originator may proceed as though it holds
// the region.
func (a *Access) Satisfied() bool {
	for _, f := range a.fragments {
		if !f.Satisfied() {
			return false
		}
	}
	return true
}

// Registry is the dependency registry (DR): the component that tracks, per
// memory region, the happens-before chain of declared accesses and decides
// when an access is satisfied. See spec.md §4.1.
type Registry struct {
	inst Instrumentation

	// reductionSupport gates whether RegisterConcurrent/RegisterCommutative
	// (depinfo.go) register their own access type or fall back to
	// ReadWrite — the Go analogue of a runtime built without reduction
	// support resolving no symbol for it.
	reductionSupport bool

	// deferredDisposer completes a task's disposal once its last access
	// holder releases after it was already unlinked from its parent (see
	// markRemovableLocked and Task.unlinkFromParent). Set once by
	// [NewFinalizer]; nil is only possible before that wiring runs, which
	// never overlaps with real task traffic.
	deferredDisposer func(task *Task)
}

// setDeferredDisposer wires the callback that finishes a task's disposal
// when its accessHoldersCountdown reaches zero after disposeOne already
// unlinked it from its parent but found outstanding holders. Called once
// by [NewFinalizer].
func (r *Registry) setDeferredDisposer(f func(task *Task)) {
	r.deferredDisposer = f
}

// NewRegistry constructs a Registry reporting events to inst (or
// [NopInstrumentation] if inst is nil), with reduction (Concurrent /
// Commutative) support enabled.
func NewRegistry(inst Instrumentation) *Registry {
	if inst == nil {
		inst = NopInstrumentation{}
	}
	return &Registry{inst: inst, reductionSupport: true}
}

// NewRegistryWithoutReductions constructs a Registry exactly like
// [NewRegistry], except RegisterConcurrent/RegisterCommutative fall back
// to plain ReadWrite registration (spec.md §6 "may fall back to readwrite
// if unsupported").
func NewRegistryWithoutReductions(inst Instrumentation) *Registry {
	r := NewRegistry(inst)
	r.reductionSupport = false
	return r
}

// RegisterAccess records task's access of the given type to region, as a
// child of parent (whose bottom map is threaded). It is idempotent for
// repeated identical accesses from the same task, and upgrades the access
// type when the same task re-declares the region (spec.md §4.1 "Access
// merging and upgrade"). It returns the access handle and whether it is
// already satisfied.
//
// RegisterAccess never fails on legal input; a region not actually owned
// by parent is a best-effort-detected user error, reported via
// instrumentation, never a panic (spec.md §4.1 "Failure semantics").
func (r *Registry) RegisterAccess(task, parent *Task, t AccessType, weak bool, region Region) (*Access, bool) {
	if region.Empty() {
		panicInvariant("RegisterAccess called with an empty region")
	}

	parent.bottomMu.Lock()
	pieces := r.partitionLocked(parent, region)
	parent.bottomMu.Unlock()

	access := &Access{Originator: task, Region: region, Type: t, Weak: weak}
	satisfied := true
	for _, p := range pieces {
		frag, fragSatisfied, created := p.seq.registerFragment(task, t, weak)
		if created && !weak {
			task.addAccessHolder()
		}
		access.fragments = append(access.fragments, frag)
		satisfied = satisfied && fragSatisfied
		r.inst.TaskAddedToAccessGroup(p.seq.region, task)
	}

	task.accessTableMu.Lock()
	if task.deleted {
		panicInvariantForTask(task, "RegisterAccess on task %d after it was deleted", task.id)
	}
	for _, existing := range task.accesses {
		if existing.Region.Equal(region) && slices.Equal(existing.fragments, access.fragments) {
			// Every fragment was merged or upgraded in place, so the
			// handle task already holds for region stays the one in use.
			existing.Type = access.fragments[0].accessType
			task.accessTableMu.Unlock()
			return existing, satisfied
		}
	}
	task.accesses = append(task.accesses, access)
	task.accessTableMu.Unlock()

	return access, satisfied
}

// SubmitIfSatisfied is the second half of the task creation handshake
// (spec.md §6 "Task creation handshake"): hand task to sched the moment
// every access it has declared via RegisterAccess is satisfied. If that's
// already true, it's added immediately and the idle CPU sched woke (if any)
// is returned. Otherwise nothing is returned now, but DR arranges for the
// last outstanding access to add task to sched itself once it completes —
// the "DR propagates satisfaction downstream, producing more ready tasks"
// half of the control flow. Safe to call at most once per task: a second
// call would double-submit it.
func (r *Registry) SubmitIfSatisfied(task *Task, sched Scheduler, cpu *CPU, hint ReadyHint) *CPU {
	task.accessTableMu.Lock()
	accesses := task.accesses
	task.accessTableMu.Unlock()

	var fragments []*DataAccess
	for _, a := range accesses {
		fragments = append(fragments, a.fragments...)
	}

	if len(fragments) == 0 {
		return sched.AddReadyTask(task, cpu, hint)
	}

	satisfied := true
	for _, f := range fragments {
		if !f.Satisfied() {
			satisfied = false
			break
		}
	}
	if satisfied {
		return sched.AddReadyTask(task, cpu, hint)
	}

	var remaining atomic.Int64
	remaining.Store(int64(len(fragments)))
	for _, f := range fragments {
		f.notifyWhenSatisfied(func() {
			if remaining.Add(-1) == 0 {
				sched.AddReadyTask(task, cpu, hint)
			}
		})
	}
	return nil
}

// partitionLocked ensures parent's bottom map is fragmented so that region
// is exactly covered by a contiguous run of entries, and returns that run.
// Must be called with parent.bottomMu held.
func (r *Registry) partitionLocked(parent *Task, region Region) []bottomEntry {
	lo := sort.Search(len(parent.bottom), func(i int) bool {
		return parent.bottom[i].region.End() > region.Start
	})
	hi := sort.Search(len(parent.bottom), func(i int) bool {
		return parent.bottom[i].region.Start >= region.End()
	})

	var survivors []bottomEntry // remainders of split entries, outside region
	var result []bottomEntry    // disjoint pieces exactly covering region

	cursor := region.Start
	for _, e := range parent.bottom[lo:hi] {
		if cursor < e.region.Start {
			gap := Region{Start: cursor, Length: e.region.Start - cursor}
			result = append(result, bottomEntry{region: gap, seq: newSequence(gap, r.inst)})
			cursor = gap.End()
		}

		inter, ok := region.Intersect(e.region)
		if !ok {
			continue
		}

		if inter.Equal(e.region) {
			// Entry fully consumed by region: reuse its sequence as-is.
			result = append(result, e)
		} else {
			// Partial overlap: fork the overlapping part into its own
			// sequence, fragmenting the current tail access so the
			// fragment's satisfaction is tracked independently, and keep
			// the untouched remainder(s) pointing at the original
			// sequence, narrowed.
			result = append(result, r.forkLocked(e, inter))
			for _, rem := range e.region.Subtract(inter) {
				survivors = append(survivors, bottomEntry{region: rem, seq: e.seq})
			}
		}

		cursor = inter.End()
	}

	if cursor < region.End() {
		gap := Region{Start: cursor, Length: region.End() - cursor}
		result = append(result, bottomEntry{region: gap, seq: newSequence(gap, r.inst)})
	}

	merged := make([]bottomEntry, 0, hi-lo+len(survivors)+2)
	merged = append(merged, parent.bottom[:lo]...)
	merged = append(merged, result...)
	merged = append(merged, survivors...)
	merged = append(merged, parent.bottom[hi:]...)

	slices.SortFunc(merged, func(a, b bottomEntry) bool {
		return a.region.Start < b.region.Start
	})
	parent.bottom = merged

	return result
}

// forkLocked splits the overlapping portion inter off of e, creating a new
// sequence for it whose tail is a fresh fragment access that inherits the
// state of e's current tail (same originator, type, satisfied/complete
// status), linked as its successor. Must be called with parent.bottomMu
// held; also briefly takes e.seq's lock.
func (r *Registry) forkLocked(e bottomEntry, inter Region) bottomEntry {
	newSeq := newSequence(inter, r.inst)

	e.seq.withLock(func() {
		old := e.seq.tail
		if old == nil {
			return
		}

		frag := newDataAccess(old.originator, newSeq, old.accessType, old.weak, inter)
		frag.isFork = true
		if old.Complete() {
			frag.complete.Store(true)
		}
		if old.Satisfied() {
			frag.setSatisfied()
		}

		old.next = append(old.next, frag)
		frag.prev = old
		newSeq.tail = frag

		r.inst.AccessFragmented(old, []*DataAccess{frag})
		r.inst.AccessesLinked(old, frag)
	})

	return bottomEntry{region: inter, seq: newSeq}
}

// UnregisterAccesses is called when task finishes executing: every access
// it originated is marked complete, propagating satisfaction to whichever
// successors were only waiting on task's completion (spec.md §4.1
// "Satisfaction propagation").
func (r *Registry) UnregisterAccesses(task *Task, _ *CPU) {
	task.accessTableMu.Lock()
	accesses := task.accesses
	task.accessTableMu.Unlock()

	for _, access := range accesses {
		for _, frag := range access.fragments {
			var forks []*DataAccess
			frag.seq.withLock(func() {
				forks = frag.seq.propagateCompletionLocked(frag)
				if frag.seq.tail != frag {
					// Supplanted already: no further successors can ever
					// link to it, so it's immediately removable.
					r.markRemovableLocked(frag)
				}
			})
			// Each fork continuation lives in its own sequence; its lock
			// is taken only after frag.seq's has been released above —
			// never nested (spec.md §5).
			for _, f := range forks {
				propagateForkCompletion(f)
			}
		}
	}
}

// markRemovableLocked must be called with frag.seq's mutex held, and only
// once frag.Complete() and frag is known to be supplanted (no longer the
// sequence tail).
//
// A fork continuation (isFork) never calls addAccessHolder on its own
// account — only the real access it was split from did, when it was
// originally registered — so it must not release one here either; doing
// so would double-release the same holder slot.
func (r *Registry) markRemovableLocked(frag *DataAccess) {
	if frag.removable.Load() {
		return
	}
	frag.removable.Store(true)
	r.inst.AccessRemovable(frag)
	if frag.isFork {
		return
	}
	if frag.originator.releaseAccessHolder() && frag.originator.unlinked.Load() {
		// The originator already finished and was unlinked from its
		// parent (disposeOne found outstanding holders and deferred the
		// rest of disposal); this was the last one, so finish it now.
		if r.deferredDisposer != nil {
			r.deferredDisposer(frag.originator)
		}
	}
}

// HandleTaskwait enforces that a parent's subsequent accesses observe all
// of its currently in-flight direct children as completed: it returns a
// channel closed once every running child has finished (spec.md §4.1
// "Taskwait").
func (r *Registry) HandleTaskwait(task *Task, _ *CPU) <-chan struct{} {
	return task.children.Wait()
}

// HandleExitTaskwait marks the end of a taskwait region for task. It is a
// no-op besides instrumentation: the bottom map is left untouched so that
// later children still link correctly against the (now-complete) chains
// already present.
func (r *Registry) HandleExitTaskwait(task *Task, _ *CPU) {
	r.inst.TaskRemovedFromAccessGroup(Region{}, task)
}

// HandleTaskRemoval is the final detach from the registry, called once
// task is being disposed: any bottom-map entries it still owns as a parent
// (tails with no successor yet) are forced to removable, since no further
// child of task can ever register after this point.
func (r *Registry) HandleTaskRemoval(task *Task, _ *CPU) {
	task.bottomMu.Lock()
	entries := task.bottom
	task.bottom = nil
	task.bottomMu.Unlock()

	for _, e := range entries {
		e.seq.withLock(func() {
			tail := e.seq.tail
			if tail == nil {
				return
			}
			if !tail.Complete() {
				reportUserError(r.inst, "task %d removed with an incomplete child access still pending on %s", task.id, e.region)
				return
			}
			r.markRemovableLocked(tail)
		})
	}

	task.accessTableMu.Lock()
	task.deleted = true
	task.accessTableMu.Unlock()
	r.inst.AccessRemoved(nil)
}
