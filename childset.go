package taskrt

import (
	"context"
	"fmt"
	"sync"
)

// ChildSet is a hierarchical, named count of a task's currently-running
// direct children, used to implement taskwait (spec.md §4.1 "Taskwait":
// "all in-flight children that have not yet completed are awaited") and,
// via [Runtime.ChildTree], to give a live diagnostic view of in-flight work.
//
// It is the same hierarchical-counting shape as a sync.WaitGroup with named
// Add/Done and a Wait channel you can select over, adapted from counting
// arbitrary named tasks to counting specifically a [Task]'s direct
// children, keyed by the child's task-kind label rather than an arbitrary
// name, and with subgroups dropped in favor of the Task hierarchy already
// expressed by parent pointers.
type ChildSet struct {
	mu      sync.Mutex
	owner   *Task
	count   uint
	allDone chan struct{}
	byKind  map[string]uint
}

// ChildInfo describes how many of a task's running children share a kind.
type ChildInfo struct {
	Kind  string
	Count uint
}

func newChildSet(owner *Task) *ChildSet {
	return &ChildSet{owner: owner, byKind: make(map[string]uint)}
}

// Add records a new running child of the given kind.
func (cs *ChildSet) Add(kind string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.count++
	cs.byKind[kind]++
}

// Done records that a running child of the given kind has finished.
//
// Done panics if there are no remaining children of that kind — this is an
// internal invariant violation (a task can't finish twice), not a
// recoverable user error.
func (cs *ChildSet) Done(kind string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	c := cs.byKind[kind]
	if c == 0 {
		panicInvariantForTask(cs.owner, "zero remaining children of kind %q for task %d", kind, cs.owner.id)
	}
	c--
	if c == 0 {
		delete(cs.byKind, kind)
	} else {
		cs.byKind[kind] = c
	}

	cs.count--
	if cs.count == 0 && cs.allDone != nil {
		close(cs.allDone)
		cs.allDone = nil
	}
}

// Wait returns a channel that is closed once every currently-running child
// has called done (equivalently, once Finished would return true).
func (cs *ChildSet) Wait() <-chan struct{} {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.count == 0 {
		return alwaysClosed
	}
	if cs.allDone == nil {
		cs.allDone = make(chan struct{})
	}
	return cs.allDone
}

// TryWait waits on cs, returning early with ctx.Err() if ctx is canceled
// before all children finish.
func (cs *ChildSet) TryWait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-cs.Wait():
			return nil
		}
	}
}

// Finished reports whether every running child has finished.
func (cs *ChildSet) Finished() bool {
	select {
	case <-cs.Wait():
		return true
	default:
		return false
	}
}

// Snapshot returns the set of running child kinds and their counts.
func (cs *ChildSet) Snapshot() []ChildInfo {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	var out []ChildInfo
	for kind, count := range cs.byKind {
		out = append(out, ChildInfo{Kind: kind, Count: count})
	}
	return out
}

func (cs *ChildSet) String() string {
	return fmt.Sprintf("ChildSet{owner: %d, running: %d}", cs.owner.id, cs.count)
}
