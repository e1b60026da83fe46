package taskrt

import "sync/atomic"

// AccessType is the kind of intent a task declares towards a [Region].
type AccessType uint8

const (
	// Read declares that the task only reads the region.
	Read AccessType = iota
	// Write declares that the task only writes the region.
	Write
	// ReadWrite declares that the task reads and writes the region.
	ReadWrite
	// Concurrent declares an unordered, parallel access — e.g. a reduction
	// contribution. Any number of Concurrent accesses to the same region
	// may run at the same time.
	Concurrent
	// Commutative declares an access that may run in any order relative to
	// other Commutative accesses to the same region, but never
	// concurrently with them.
	Commutative
)

func (t AccessType) String() string {
	switch t {
	case Read:
		return "read"
	case Write:
		return "write"
	case ReadWrite:
		return "readwrite"
	case Concurrent:
		return "concurrent"
	case Commutative:
		return "commutative"
	default:
		return "unknown"
	}
}

// isReduction reports whether the type relaxes ordering the way Concurrent
// and Commutative do, as opposed to enforcing a strict happens-before.
func (t AccessType) isReduction() bool {
	return t == Concurrent || t == Commutative
}

// DataAccess is one task's declared intent to read and/or write a [Region].
// It belongs to exactly one originator task and is linked into exactly one
// [sequence] (the chain of accesses to that exact region).
//
// Invariants (spec.md §3):
//   - globallySatisfied implies readSatisfied && writeSatisfied, for
//     non-reduction types.
//   - an access is never un-satisfied once satisfied, except that a type
//     upgrade (see [Registry.RegisterAccess]) may revoke satisfaction.
//   - complete implies the originator task has finished executing.
//   - removable implies complete and that every successor linked to it no
//     longer needs it.
type DataAccess struct {
	id int64

	originator *Task
	region     Region
	accessType AccessType
	weak       bool

	readSatisfied     bool
	writeSatisfied    bool
	globallySatisfied atomic.Bool

	complete  atomic.Bool
	removable atomic.Bool

	// gated marks an access whose satisfaction is driven by
	// sequence.gateOnParallelRunLocked's completion countdown over an
	// entire preceding parallel run, rather than by the ordinary single-
	// predecessor path in propagateCompletionLocked. Set once at creation,
	// never cleared; read only under seq.mu alongside the rest of the
	// access's chain-local state.
	gated bool

	// isFork marks an access created by Registry.forkLocked: a synthetic
	// continuation of its predecessor, narrowed to a sub-region, rather
	// than a distinct task's own declared access. Its completion must
	// mirror its predecessor's rather than being independently driven by
	// some task finishing — see sequence.propagateCompletionLocked.
	isFork bool

	// seq is the chain this access belongs to. Mutations to the fields
	// above (other than globallySatisfied/complete/removable, which are
	// read without the lock in the hot path) must hold seq.mu.
	seq *sequence

	// next holds the accesses registered after this one in the same
	// sequence. An access may feed more than one successor only
	// transiently, during fragmentation; steady-state chains are linear.
	next []*DataAccess
	// prev is a lookup-only back-reference: it never extends the
	// predecessor's lifetime and must not be used to walk forward.
	prev *DataAccess

	// onSatisfied holds callbacks waiting on this fragment becoming
	// satisfied, attached by Registry.SubmitIfSatisfied for a task that
	// wasn't ready at submission time. Drained by setSatisfied under seq.mu.
	onSatisfied []func()

	// onComplete holds callbacks waiting on this access completing,
	// attached by sequence.gateOnParallelRunLocked when a later access
	// chains onto a run of READ or CONCURRENT predecessors. Drained by
	// markComplete under seq.mu.
	onComplete []func()
}

var nextAccessID atomic.Int64

func newDataAccess(task *Task, seq *sequence, t AccessType, weak bool, region Region) *DataAccess {
	return &DataAccess{
		id:         nextAccessID.Add(1),
		originator: task,
		region:     region,
		accessType: t,
		weak:       weak,
		seq:        seq,
	}
}

// Satisfied reports whether the access is globally satisfied, i.e. whether
// the task may begin treating the region as available.
func (a *DataAccess) Satisfied() bool {
	return a.globallySatisfied.Load()
}

// Complete reports whether the originator has finished with this access.
func (a *DataAccess) Complete() bool {
	return a.complete.Load()
}

// Removable reports whether the access may be unlinked and its holder
// released — i.e. it is complete and no successor still needs it.
func (a *DataAccess) Removable() bool {
	return a.removable.Load()
}

// setSatisfied marks the access satisfied along both read and write axes
// (the only way non-reduction accesses become globally satisfied), runs any
// callbacks waiting on that transition, and returns whether this call is
// what flipped it. Must be called with a.seq.mu held, as every existing call
// site already does.
func (a *DataAccess) setSatisfied() bool {
	if a.globallySatisfied.Load() {
		return false
	}
	a.readSatisfied = true
	a.writeSatisfied = true
	a.globallySatisfied.Store(true)

	cbs := a.onSatisfied
	a.onSatisfied = nil
	for _, cb := range cbs {
		cb()
	}
	return true
}

// notifyWhenSatisfied runs cb once this fragment becomes satisfied, or
// immediately if it already is. Used by Registry.SubmitIfSatisfied to learn
// the moment a task's last outstanding access clears, without polling.
func (a *DataAccess) notifyWhenSatisfied(cb func()) {
	a.seq.withLock(func() {
		if a.globallySatisfied.Load() {
			cb()
			return
		}
		a.onSatisfied = append(a.onSatisfied, cb)
	})
}

// revokeSatisfied un-sets satisfaction; used only by type-upgrade handling,
// which is the sole exception to "never un-satisfied once satisfied".
func (a *DataAccess) revokeSatisfied() {
	a.readSatisfied = false
	a.writeSatisfied = false
	a.globallySatisfied.Store(false)
}

// markComplete marks the access complete and runs any callbacks waiting on
// that transition. Must be called with a.seq.mu held, as
// sequence.propagateCompletionLocked already does.
func (a *DataAccess) markComplete() {
	a.complete.Store(true)

	cbs := a.onComplete
	a.onComplete = nil
	for _, cb := range cbs {
		cb()
	}
}

// notifyWhenCompleteLocked runs cb once this access completes, or
// immediately if it already has. Unlike notifyWhenSatisfied, it assumes the
// caller already holds a.seq.mu — its sole caller, gateOnParallelRunLocked,
// registers the watch from within the same sequence's own registerFragment
// critical section that created the watching access.
func (a *DataAccess) notifyWhenCompleteLocked(cb func()) {
	if a.complete.Load() {
		cb()
		return
	}
	a.onComplete = append(a.onComplete, cb)
}
