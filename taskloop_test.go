package taskrt

import "testing"

func TestTaskloopClaimRangeChunksIterationSpace(t *testing.T) {
	t.Parallel()

	bounds := TaskloopBounds{Start: 0, Count: 10, ChunkSize: 3}
	source := NewTaskloopSource(nil, &TaskInfo{Kind: "loop"}, nil, bounds, nil)

	if source.IsRunnable() {
		t.Fatal("a taskloop source should not be directly runnable")
	}
	if !source.IsTaskloop() {
		t.Fatal("expected IsTaskloop to report true")
	}
	if !source.MustDelayRelease() {
		t.Fatal("a taskloop source must delay releasing its own accesses")
	}

	var claimed []TaskloopBounds
	for {
		b, ok := source.taskloop.claimRange()
		if !ok {
			break
		}
		claimed = append(claimed, b)
	}

	want := []TaskloopBounds{
		{Start: 0, Count: 3, ChunkSize: 3},
		{Start: 3, Count: 3, ChunkSize: 3},
		{Start: 6, Count: 3, ChunkSize: 3},
		{Start: 9, Count: 1, ChunkSize: 1},
	}
	if len(claimed) != len(want) {
		t.Fatalf("got %d claimed ranges, want %d: %+v", len(claimed), len(want), claimed)
	}
	for i := range want {
		if claimed[i] != want[i] {
			t.Fatalf("range %d: got %+v, want %+v", i, claimed[i], want[i])
		}
	}
}

func TestTaskloopHasPendingIterations(t *testing.T) {
	t.Parallel()

	bounds := TaskloopBounds{Start: 0, Count: 4, ChunkSize: 4}
	source := NewTaskloopSource(nil, &TaskInfo{Kind: "loop"}, nil, bounds, nil)

	if !source.taskloop.hasPendingIterations() {
		t.Fatal("expected pending iterations before any claim")
	}
	if !source.taskloop.needMoreExecutors() {
		t.Fatal("needMoreExecutors should agree with hasPendingIterations here")
	}

	if _, ok := source.taskloop.claimRange(); !ok {
		t.Fatal("expected the single claim to succeed")
	}

	if source.taskloop.hasPendingIterations() {
		t.Fatal("expected no pending iterations once the whole range is claimed")
	}
	if source.taskloop.needMoreExecutors() {
		t.Fatal("needMoreExecutors should also report false once exhausted")
	}
}

func TestTaskloopCollaboratorFinishedSignalsOnlyOnceLastOneFinishes(t *testing.T) {
	t.Parallel()

	bounds := TaskloopBounds{Start: 0, Count: 6, ChunkSize: 3}
	source := NewTaskloopSource(nil, &TaskInfo{Kind: "loop"}, nil, bounds, nil)

	b1, ok := source.taskloop.claimRange()
	if !ok {
		t.Fatal("expected the first claim to succeed")
	}
	b2, ok := source.taskloop.claimRange()
	if !ok {
		t.Fatal("expected the second claim to succeed")
	}
	if _, ok := source.taskloop.claimRange(); ok {
		t.Fatal("expected the range to be exhausted after two claims")
	}

	collab1 := NewCollaborator(source, b1, nil)
	collab2 := NewCollaborator(source, b2, nil)
	if !collab1.IsRunnable() || !collab2.IsRunnable() {
		t.Fatal("collaborators should be directly runnable")
	}
	if !collab1.IsTaskloop() || !collab2.IsTaskloop() {
		t.Fatal("collaborators should still report IsTaskloop")
	}

	if source.taskloop.collaboratorFinished() {
		t.Fatal("should not report done while a second collaborator is still running")
	}
	if !source.taskloop.collaboratorFinished() {
		t.Fatal("should report done once the last outstanding collaborator finishes")
	}
}

func TestNewCollaboratorPanicsOnNonTaskloopSource(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic constructing a collaborator from a non-taskloop task")
		}
	}()

	plain := NewTask(nil, &TaskInfo{Kind: "plain"}, nil, nil)
	NewCollaborator(plain, TaskloopBounds{Count: 1}, nil)
}
