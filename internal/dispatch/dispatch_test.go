package dispatch

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-onboarding-go/internal/models"
)

// recordingRunner captures the order tasks reach a worker and can hold each
// task open until released.
type recordingRunner struct {
	mu      sync.Mutex
	order   []uint
	block   chan struct{}
	running int32
	maxSeen int32
}

func (r *recordingRunner) Run(task Task) {
	n := atomic.AddInt32(&r.running, 1)
	for {
		max := atomic.LoadInt32(&r.maxSeen)
		if n <= max || atomic.CompareAndSwapInt32(&r.maxSeen, max, n) {
			break
		}
	}

	r.mu.Lock()
	r.order = append(r.order, task.Mailbox.ID)
	r.mu.Unlock()

	if r.block != nil {
		<-r.block
	}
	atomic.AddInt32(&r.running, -1)
}

func (r *recordingRunner) seen() []uint {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint, len(r.order))
	copy(out, r.order)
	return out
}

func task(mailboxID uint) Task {
	return Task{Mailbox: models.Mailbox{ID: mailboxID}}
}

func TestInflightSetTryAcquireIsExclusive(t *testing.T) {
	s := NewInflightSet()

	assert.True(t, s.TryAcquire(1))
	assert.False(t, s.TryAcquire(1))
	assert.True(t, s.TryAcquire(2))
	assert.Equal(t, 2, s.Len())

	s.Release(1)
	assert.True(t, s.TryAcquire(1))
}

func TestEnqueueRejectsMailboxAlreadyInFlight(t *testing.T) {
	runner := &recordingRunner{block: make(chan struct{})}
	pool := NewPool(2, 8, runner)

	require.True(t, pool.Enqueue(task(1)))
	assert.False(t, pool.Enqueue(task(1)))
	require.True(t, pool.Enqueue(task(2)))

	close(runner.block)
	pool.Start()
	pool.Stop()

	assert.ElementsMatch(t, []uint{1, 2}, runner.seen())
}

func TestMailboxEligibleAgainAfterTaskCompletes(t *testing.T) {
	runner := &recordingRunner{}
	pool := NewPool(1, 8, runner)
	pool.Start()

	require.True(t, pool.Enqueue(task(1)))

	// Wait for the worker to finish and release the mailbox.
	require.Eventually(t, func() bool {
		return pool.Inflight().Len() == 0
	}, time.Second, 5*time.Millisecond)

	assert.True(t, pool.Enqueue(task(1)))
	pool.Stop()

	assert.Equal(t, []uint{1, 1}, runner.seen())
}

func TestSingleWorkerDrainsInFIFOOrder(t *testing.T) {
	runner := &recordingRunner{}
	pool := NewPool(1, 8, runner)

	for id := uint(1); id <= 5; id++ {
		require.True(t, pool.Enqueue(task(id)))
	}

	pool.Start()
	pool.Stop()

	assert.Equal(t, []uint{1, 2, 3, 4, 5}, runner.seen())
}

func TestWorkerCountBoundsConcurrency(t *testing.T) {
	runner := &recordingRunner{block: make(chan struct{})}
	pool := NewPool(2, 8, runner)

	for id := uint(1); id <= 4; id++ {
		require.True(t, pool.Enqueue(task(id)))
	}
	pool.Start()

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.running) == 2
	}, time.Second, 5*time.Millisecond)

	close(runner.block)
	pool.Stop()

	assert.Equal(t, int32(2), atomic.LoadInt32(&runner.maxSeen))
	assert.Len(t, runner.seen(), 4)
}

func TestEnqueueReleasesClaimWhenQueueFull(t *testing.T) {
	runner := &recordingRunner{}
	pool := NewPool(1, 1, runner)

	require.True(t, pool.Enqueue(task(1)))
	assert.False(t, pool.Enqueue(task(2)))

	// The full-queue rejection must not leave mailbox 2 stuck in-flight.
	pool.Start()
	require.Eventually(t, func() bool {
		return pool.QueueDepth() == 0 && pool.Inflight().Len() == 0
	}, time.Second, 5*time.Millisecond)

	assert.True(t, pool.Enqueue(task(2)))
	pool.Stop()
}

func TestStopDrainsQueuedTasks(t *testing.T) {
	runner := &recordingRunner{}
	pool := NewPool(2, 8, runner)

	for id := uint(1); id <= 6; id++ {
		require.True(t, pool.Enqueue(task(id)))
	}

	pool.Start()
	pool.Stop()

	assert.Len(t, runner.seen(), 6)
	assert.Equal(t, 0, pool.Inflight().Len())
}

func TestEnqueueAfterStopIsRejected(t *testing.T) {
	runner := &recordingRunner{}
	pool := NewPool(1, 8, runner)
	pool.Start()
	pool.Stop()

	assert.False(t, pool.Enqueue(task(1)))
	assert.Equal(t, 0, pool.Inflight().Len())
}

type panickyRunner struct {
	calls int32
}

func (r *panickyRunner) Run(task Task) {
	atomic.AddInt32(&r.calls, 1)
	panic("collaborator blew up")
}

func TestWorkerSurvivesPanickingTask(t *testing.T) {
	runner := &panickyRunner{}
	pool := NewPool(1, 8, runner)

	require.True(t, pool.Enqueue(task(1)))
	require.True(t, pool.Enqueue(task(2)))

	pool.Start()
	pool.Stop()

	assert.Equal(t, int32(2), atomic.LoadInt32(&runner.calls))
	assert.Equal(t, 0, pool.Inflight().Len())
}
