package taskrt

import (
	"sync"
	"sync/atomic"
)

// sequence is the linked chain of accesses to one exact, disjoint Region —
// the "access sequence" of spec.md §4.1/§GLOSSARY. Mutation of the chain is
// guarded by mu; mu is the "per-access-sequence spinlock" of spec.md §5,
// realized as a plain sync.Mutex per the teacher's own lock usage.
type sequence struct {
	mu     sync.Mutex
	region Region
	tail   *DataAccess // most recently registered access; nil if empty
	inst   Instrumentation
}

func newSequence(region Region, inst Instrumentation) *sequence {
	if inst == nil {
		inst = NopInstrumentation{}
	}
	return &sequence{region: region, inst: inst}
}

// registerFragment links a new access for task onto this chain, or upgrades
// the existing tail access if task already owns it (spec.md §4.1 "Access
// merging and upgrade"). It returns the access that now represents task's
// intent for this exact region, along with whether it is satisfied, and
// whether a brand-new access node was created (as opposed to an in-place
// upgrade of the existing tail).
func (s *sequence) registerFragment(task *Task, t AccessType, weak bool) (access *DataAccess, satisfied bool, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tail != nil && s.tail.originator == task {
		return s.upgradeLocked(t)
	}

	prev := s.tail
	a := newDataAccess(task, s, t, weak, s.region)

	if prev != nil {
		prev.next = append(prev.next, a)
		a.prev = prev
	}
	s.tail = a

	s.inst.AccessCreated(a)
	if prev == nil {
		s.inst.AccessGroupBegun(s.region, task.Parent())
	}

	if weak {
		// Weak accesses establish no satisfaction requirement of their
		// own; they exist purely to thread the chain for subtasks.
		a.setSatisfied()
		s.inst.AccessSatisfied(a, true, true)
		return a, true, true
	}

	if prev != nil && (prev.accessType == Read || prev.accessType == Concurrent) && completionRequired(prev.accessType, t) {
		// a follows a run of accesses that were all satisfied together and
		// may still be running concurrently (parallel reads, or a
		// reduction's concurrent contributions) — not a single
		// predecessor. It must wait for every member of that run to
		// finish, not just the one registered last. See
		// gateOnParallelRunLocked.
		s.gateOnParallelRunLocked(a, prev)
		return a, a.Satisfied(), true
	}

	satisfied = s.initialSatisfactionLocked(prev, t)
	if satisfied {
		a.setSatisfied()
		s.inst.AccessSatisfied(a, true, true)
		s.propagateSatisfactionLocked(a)
	}

	return a, satisfied, true
}

// completionRequired reports whether an access of type t, registered right
// after a predecessor of prevType, needs that predecessor to fully finish
// running (as opposed to merely becoming satisfied). The two exceptions —
// READ-after-READ and CONCURRENT-after-CONCURRENT — are exactly the pairs
// propagateSatisfactionLocked cascades on satisfaction alone, letting the
// whole run proceed in parallel.
func completionRequired(prevType, t AccessType) bool {
	switch t {
	case Read:
		return prevType != Read
	case Concurrent:
		return prevType != Concurrent
	default: // Write, ReadWrite, Commutative
		return true
	}
}

// gateOnParallelRunLocked arranges for a — an access that needs its
// predecessor to finish, immediately following a run of READ or CONCURRENT
// accesses — to become satisfied only once every member of that run has
// completed, not merely the one registered last. Such a run's members are
// all satisfied together and may still be genuinely running in parallel
// (parallel reads, or a reduction's concurrent contributions), so a
// single-predecessor completion check — as initialSatisfactionLocked uses
// for every other pair, where there really is only one predecessor — would
// let a race ahead of an earlier sibling still running. Must be called with
// s.mu held; every access in the run shares s, since a same-type run only
// ever forms within one exact region's sequence.
func (s *sequence) gateOnParallelRunLocked(a *DataAccess, tail *DataAccess) {
	runType := tail.accessType
	var run []*DataAccess
	// cur.seq == s bounds the walk to this sequence: a fragmented region's
	// synthetic fork continuation (access.go's isFork) points its prev
	// across into the older sequence it was split from, which is guarded
	// by that sequence's own lock, not s.mu. Stopping there means a
	// fork-then-fragment interleaving with a parallel run may under-count
	// (see DESIGN.md), but never reaches into a lock this call doesn't hold.
	for cur := tail; cur != nil && cur.seq == s && cur.accessType == runType; cur = cur.prev {
		run = append(run, cur)
	}

	a.gated = true
	remaining := int32(len(run))
	for _, r := range run {
		r.notifyWhenCompleteLocked(func() {
			if atomic.AddInt32(&remaining, -1) != 0 {
				return
			}
			if a.setSatisfied() {
				s.inst.AccessSatisfied(a, true, true)
				s.propagateSatisfactionLocked(a)
			}
		})
	}
}

// initialSatisfactionLocked computes whether a newly-registered access of
// type t is satisfied given the current tail prev, per spec.md §4.1
// "Satisfaction propagation". Must be called with s.mu held.
func (s *sequence) initialSatisfactionLocked(prev *DataAccess, t AccessType) bool {
	if prev == nil {
		// The first access in a sequence is satisfied at birth.
		return true
	}

	switch t {
	case Read:
		if prev.accessType == Read {
			return prev.Satisfied()
		}
		return prev.Complete()
	case Concurrent:
		if prev.accessType == Concurrent {
			return prev.Satisfied()
		}
		return prev.Complete()
	case Commutative:
		// Commutative accesses serialize through the chain regardless of
		// the predecessor's type: at most one may execute at a time, so
		// satisfaction always requires the predecessor to have finished.
		return prev.Complete()
	case Write, ReadWrite:
		return prev.Complete()
	default:
		panicInvariant("unknown access type %d", t)
		return false
	}
}

// upgradeLocked implements the same-task, same-region upgrade table from
// spec.md §4.1. Must be called with s.mu held and s.tail.originator == the
// registering task.
func (s *sequence) upgradeLocked(newType AccessType) (access *DataAccess, satisfied bool, created bool) {
	last := s.tail

	switch {
	case last.accessType == newType:
		// X, X -> no-op, return satisfied-as-before.
		return last, last.Satisfied(), false

	case last.accessType == ReadWrite && newType == Write:
		// READWRITE, WRITE -> subsumed, no change.
		return last, last.Satisfied(), false

	case last.accessType == Write && newType == ReadWrite:
		// WRITE, READWRITE -> upgrade to READWRITE, satisfaction
		// unchanged (it was already waiting for, or had, the same
		// completion condition as a write would).
		wasSatisfied := last.Satisfied()
		s.inst.AccessUpgraded(last, last.accessType, newType, false)
		last.accessType = newType
		return last, wasSatisfied, false

	case last.accessType == Read && (newType == Write || newType == ReadWrite):
		// READ, WRITE|READWRITE -> upgrade; re-evaluate satisfaction.
		wasSatisfied := last.Satisfied()
		var nowSatisfied bool
		if wasSatisfied {
			// The read was satisfied either because it's the first
			// access, or because the chain before it was satisfied. A
			// write keeps that satisfaction only if its immediate
			// predecessor is absent or already complete; otherwise that
			// predecessor's completion satisfies it again later.
			nowSatisfied = last.prev == nil || last.prev.Complete()
		} else {
			// It was already accounted for as unsatisfied; upgrading the
			// type doesn't change that.
			nowSatisfied = false
		}

		becomesUnsatisfied := wasSatisfied && !nowSatisfied
		s.inst.AccessUpgraded(last, last.accessType, newType, becomesUnsatisfied)
		last.accessType = newType
		if becomesUnsatisfied {
			last.revokeSatisfied()
		}
		return last, nowSatisfied, false

	case (last.accessType == Write || last.accessType == ReadWrite) && newType == Read:
		// WRITE|READWRITE, READ -> no downgrade, keep previous.
		return last, last.Satisfied(), false

	default:
		panicInvariant("unhandled access upgrade %s -> %s", last.accessType, newType)
		return nil, false, false
	}
}

// propagateSatisfactionLocked walks the successors of a newly-satisfied
// access, satisfying any whose relationship to a permits parallel
// execution (read-after-read, concurrent-after-concurrent), recursing as
// each becomes satisfied in turn. Must be called with s.mu held.
func (s *sequence) propagateSatisfactionLocked(a *DataAccess) {
	for _, b := range a.next {
		if b.Satisfied() {
			continue
		}
		if (a.accessType == Read && b.accessType == Read) ||
			(a.accessType == Concurrent && b.accessType == Concurrent) {
			b.setSatisfied()
			s.inst.AccessSatisfied(b, true, true)
			s.propagateSatisfactionLocked(b)
		}
	}
}

// propagateCompletionLocked marks a complete and satisfies its direct
// successors (their wait, by construction, was solely for a's
// completion), cascading further parallel-chain satisfaction from there.
// Must be called with s.mu held.
//
// A successor created by Registry.forkLocked (isFork) is a synthetic
// continuation of a itself, narrowed to a sub-region of a's sequence's
// region, rather than a distinct task's access — its own completion must
// propagate right along with a's, not just its satisfaction, since
// nothing else will ever mark it complete. That successor lives in a
// different sequence, and its lock must never be taken while s.mu is
// held (spec.md §5: "no nested acquisition across sequences"), so it is
// returned to the caller rather than recursed into here;
// [propagateForkCompletion] is what actually walks across sequences, one
// lock at a time.
func (s *sequence) propagateCompletionLocked(a *DataAccess) []*DataAccess {
	a.markComplete()
	s.inst.AccessCompleted(a)

	var forks []*DataAccess
	for _, b := range a.next {
		if b.isFork {
			forks = append(forks, b)
			continue
		}
		if b.gated {
			// b waits on every member of a's whole parallel run, tracked
			// via its own notifyWhenCompleteLocked countdown (see
			// gateOnParallelRunLocked) rather than on a alone.
			continue
		}
		if !b.Satisfied() {
			b.setSatisfied()
			s.inst.AccessSatisfied(b, true, true)
			s.propagateSatisfactionLocked(b)
		}
	}
	return forks
}

// propagateForkCompletion propagates a's completion into its own
// sequence, then does the same for any fork continuation uncovered there
// — each under its own sequence's lock, one at a time, so that no two
// sequence locks are ever held simultaneously.
func propagateForkCompletion(a *DataAccess) {
	var forks []*DataAccess
	a.seq.withLock(func() {
		forks = a.seq.propagateCompletionLocked(a)
	})
	for _, f := range forks {
		propagateForkCompletion(f)
	}
}

// withLock runs f with the sequence's mutex held; used by the registry to
// perform completion/removal bookkeeping that must observe a consistent
// view of the chain.
func (s *sequence) withLock(f func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	f()
}
