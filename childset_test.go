package taskrt_test

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"golang.org/x/exp/slices"

	"github.com/sharnoff/taskrt"
)

func assert(cond bool) {
	if !cond {
		panic("assertion failed")
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func newChildSet() *taskrt.ChildSet {
	owner := taskrt.NewTask(nil, &taskrt.TaskInfo{Kind: "owner"}, nil, nil)
	return owner.Children()
}

func TestChildSetBasic(t *testing.T) {
	t.Parallel()

	cs := newChildSet()
	closed := cs.Wait()
	assert(isClosed(closed))
	assert(cs.Finished())

	cs.Add("task-1")
	assert(isClosed(closed))
	waitCh := cs.Wait()
	assert(!isClosed(waitCh))
	assert(!cs.Finished())

	cs.Add("task-2")
	cs.Add("task-2") // intentionally add a duplicate kind

	infos := cs.Snapshot()
	slices.SortFunc(infos, func(a, b taskrt.ChildInfo) bool { return a.Kind < b.Kind })
	assert(slices.Equal(infos, []taskrt.ChildInfo{{Kind: "task-1", Count: 1}, {Kind: "task-2", Count: 2}}))

	assert(!isClosed(cs.Wait()))
	cs.Done("task-1")
	cs.Done("task-2")
	assert(!isClosed(waitCh))
	assert(!cs.Finished())
	cs.Done("task-2")
	assert(isClosed(waitCh))
	assert(isClosed(cs.Wait()))
	assert(cs.Finished())
}

func TestChildSetTryWaitContext(t *testing.T) {
	cs := newChildSet()

	tryWait := func(ctx context.Context, done chan struct{}, err *error) {
		*err = cs.TryWait(ctx)
		close(done)
	}

	jiffy := time.Millisecond

	// TryWait returns nil if there are no running children and the context
	// hasn't been canceled.
	{
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan struct{})
		var err error
		go tryWait(ctx, done, &err)

		time.Sleep(jiffy)
		assert(isClosed(done))
		assert(err == nil)
	}

	cs.Add("task-1")

	// TryWait returns when the context is canceled.
	{
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan struct{})
		var err error
		go tryWait(ctx, done, &err)

		time.Sleep(jiffy)
		assert(!isClosed(done))

		cancel()
		time.Sleep(jiffy)
		assert(isClosed(done))
		assert(err != nil)
	}

	// TryWait returns when all children finish.
	{
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		done := make(chan struct{})
		var err error
		go tryWait(ctx, done, &err)

		time.Sleep(jiffy)
		assert(!isClosed(done))

		cs.Done("task-1")

		time.Sleep(jiffy)
		assert(isClosed(done))
		assert(err == nil)
	}

	// calling TryWait with a canceled context always returns err, even if
	// every child has finished.
	{
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		done := make(chan struct{})
		var err error
		go tryWait(ctx, done, &err)

		time.Sleep(jiffy)
		assert(isClosed(done))
		assert(err != nil)
	}
}

func TestChildSetDoubleDonePanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			panic("should have panicked")
		}
	}()

	cs := newChildSet()
	cs.Add("task-1")
	cs.Done("task-1")
	cs.Done("task-1")
}

func TestChildSetDoneMissingPanics(t *testing.T) {
	t.Parallel()

	defer func() {
		if recover() == nil {
			panic("should have panicked")
		}
	}()

	cs := newChildSet()
	cs.Done("task-1")
}

func TestChildSetManyConcurrent(t *testing.T) {
	minSleepMicros := 10
	maxSleepMicros := 100
	scriptSize := 1000
	iterations := 1000
	parallelism := 100

	sleepScript := make([]time.Duration, scriptSize)
	scriptOffsets := make([]int, parallelism)

	for i := 0; i < scriptSize; i += 1 {
		sleepScript[i] = time.Microsecond * time.Duration(minSleepMicros+rand.Intn(maxSleepMicros-minSleepMicros))
	}
	for i := 0; i < parallelism; i += 1 {
		scriptOffsets[i] = rand.Intn(scriptSize)
	}

	wg := sync.WaitGroup{}
	wg.Add(parallelism)

	cs := newChildSet()

	for i := 0; i < parallelism; i += 1 {
		go func(i int) {
			offset := scriptOffsets[i]
			taskName := fmt.Sprintf("task-%d", i)

			for iter := 0; iter < iterations; iter += 1 {
				if (iter/2)%2 == 0 {
					cs.Add(taskName)
				} else {
					cs.Done(taskName)
				}

				time.Sleep(sleepScript[(iter+offset)%scriptSize])
			}

			wg.Done()
		}(i)
	}

	wg.Wait()
}
