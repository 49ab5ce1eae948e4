// Package dispatch owns the producer/consumer plumbing between the scheduler
// and the workers: a FIFO task queue, a guarded in-flight mailbox set, and a
// fixed-size worker pool.
package dispatch

import (
	"sync"

	"github.com/sirupsen/logrus"

	"mail-onboarding-go/internal/models"
)

// Task is the unit of work: one mailbox and the configs grouped under it.
type Task struct {
	Mailbox models.Mailbox
	Configs []models.WorkflowConfig
}

// Runner executes one task to completion. Implementations must not panic
// across the call boundary; collaborator errors are handled inside.
type Runner interface {
	Run(task Task)
}

// InflightSet tracks which mailboxes currently have a task queued or running.
// The scheduler acquires atomically with the enqueue decision, which is what
// guarantees at most one active task per mailbox.
type InflightSet struct {
	mu  sync.Mutex
	ids map[uint]struct{}
}

// NewInflightSet creates an empty in-flight set.
func NewInflightSet() *InflightSet {
	return &InflightSet{ids: make(map[uint]struct{})}
}

// TryAcquire marks a mailbox in-flight. Returns false when it already is.
func (s *InflightSet) TryAcquire(mailboxID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.ids[mailboxID]; ok {
		return false
	}
	s.ids[mailboxID] = struct{}{}
	return true
}

// Release marks a mailbox no longer in-flight.
func (s *InflightSet) Release(mailboxID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ids, mailboxID)
}

// Len returns the number of in-flight mailboxes.
func (s *InflightSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ids)
}

// Pool is the dispatch queue plus its consumers. Workers drain the queue in
// FIFO order, each running one task to completion before taking the next.
type Pool struct {
	queue    chan Task
	inflight *InflightSet
	runner   Runner
	size     int

	wg       sync.WaitGroup
	mu       sync.Mutex
	started  bool
	stopped  bool
}

// NewPool creates a pool of size workers over a queue with the given
// capacity. The capacity only needs to cover one scheduler tick's worth of
// mailboxes; enqueueing never blocks the producer.
func NewPool(size, capacity int, runner Runner) *Pool {
	if size <= 0 {
		size = 1
	}
	if capacity <= 0 {
		capacity = 64
	}
	return &Pool{
		queue:    make(chan Task, capacity),
		inflight: NewInflightSet(),
		runner:   runner,
		size:     size,
	}
}

// Inflight exposes the guarded set for status reporting.
func (p *Pool) Inflight() *InflightSet {
	return p.inflight
}

// QueueDepth returns the number of tasks waiting in the queue.
func (p *Pool) QueueDepth() int {
	return len(p.queue)
}

// Start launches the workers.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	logrus.Infof("Worker pool started with %d workers", p.size)
}

// Enqueue offers a task for its mailbox. It returns false without queueing
// when the mailbox already has a task in flight or the queue is full; the
// next scheduler tick retries. The in-flight claim and the enqueue form one
// atomic decision: the claim is taken first and rolled back if the queue
// cannot accept the task.
func (p *Pool) Enqueue(task Task) bool {
	if !p.inflight.TryAcquire(task.Mailbox.ID) {
		logrus.Debugf("Mailbox %d already has a task in flight, skipping", task.Mailbox.ID)
		return false
	}

	p.mu.Lock()
	stopped := p.stopped
	p.mu.Unlock()
	if stopped {
		p.inflight.Release(task.Mailbox.ID)
		return false
	}

	select {
	case p.queue <- task:
		return true
	default:
		p.inflight.Release(task.Mailbox.ID)
		logrus.Warnf("Dispatch queue full, dropping task for mailbox %d", task.Mailbox.ID)
		return false
	}
}

// Stop closes the queue and waits for in-flight tasks to finish. No task is
// preempted; workers exit once the queue drains.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	close(p.queue)
	p.wg.Wait()
	logrus.Info("Worker pool stopped")
}

// workerLoop is the body of one worker goroutine.
func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()

	for task := range p.queue {
		log := logrus.WithFields(logrus.Fields{"worker": id, "mailbox_id": task.Mailbox.ID})
		log.Info("Worker picking up mailbox task")

		p.runTask(task, log)
		p.inflight.Release(task.Mailbox.ID)
	}
}

// runTask isolates one task execution; a panicking collaborator takes down
// the task, not the worker.
func (p *Pool) runTask(task Task, log *logrus.Entry) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Task panicked: %v", r)
		}
	}()
	p.runner.Run(task)
}
