// Package scheduler owns the cron producer: on every tick it loads the
// active workflow configurations, groups them by mailbox and offers one
// task per mailbox to the dispatch pool.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"mail-onboarding-go/internal/config"
	"mail-onboarding-go/internal/dispatch"
	"mail-onboarding-go/internal/metrics"
	"mail-onboarding-go/internal/models"
	"mail-onboarding-go/internal/repository"
)

// Scheduler manages the periodic task generation cycle.
type Scheduler struct {
	cron      *cron.Cron
	entryID   cron.EntryID
	settings  *config.WorkflowConfig
	repo      *repository.Repository
	pool      *dispatch.Pool
	metrics   *metrics.Metrics
	wg        sync.WaitGroup
	isRunning bool
	mu        sync.RWMutex
}

// NewScheduler creates a new scheduler over the given pool.
func NewScheduler(settings *config.WorkflowConfig, repo *repository.Repository, pool *dispatch.Pool, m *metrics.Metrics) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithSeconds()),
		settings: settings,
		repo:     repo,
		pool:     pool,
		metrics:  m,
	}
}

// Start starts the scheduler.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		return fmt.Errorf("scheduler is already running")
	}

	// Schedule the cycle to run every N minutes
	schedule := fmt.Sprintf("0 */%d * * * *", s.settings.ScheduleMinutes)

	entryID, err := s.cron.AddFunc(schedule, s.runCycle)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.cron.Start()
	s.isRunning = true

	logrus.Infof("Scheduler started with interval: %d minutes", s.settings.ScheduleMinutes)
	return nil
}

// Stop stops the scheduler. Queued and running tasks are not touched; the
// pool drains them on its own shutdown.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isRunning {
		return nil
	}

	ctx := s.cron.Stop()

	select {
	case <-ctx.Done():
		logrus.Info("Scheduler stopped gracefully")
	case <-time.After(30 * time.Second):
		logrus.Warn("Scheduler stop timeout, forcing shutdown")
	}

	s.isRunning = false
	return nil
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// runCycle is one task generation cycle: load configurations, group by
// mailbox, enqueue. Load errors skip the cycle; the next tick retries.
func (s *Scheduler) runCycle() {
	s.wg.Add(1)
	defer s.wg.Done()

	s.mu.RLock()
	if !s.isRunning {
		s.mu.RUnlock()
		logrus.Info("Scheduler not running, skipping cycle")
		return
	}
	s.mu.RUnlock()

	logrus.Info("Starting task generation cycle")
	startTime := time.Now()

	if s.metrics != nil {
		s.metrics.CycleCount.Inc()
	}

	configs, err := s.repo.ActiveConfigurations()
	if err != nil {
		logrus.Errorf("Failed to load workflow configurations: %v", err)
		return
	}
	if len(configs) == 0 {
		logrus.Info("No active workflow configurations, nothing to do")
		return
	}

	byMailbox := groupByMailbox(configs)

	enqueued := 0
	for mailboxID, grouped := range byMailbox {
		mailbox, err := s.repo.GetMailbox(mailboxID)
		if err != nil {
			logrus.Errorf("Failed to load mailbox %d: %v", mailboxID, err)
			continue
		}
		if mailbox == nil {
			logrus.Warnf("Mailbox %d referenced by configuration but not found, skipping", mailboxID)
			continue
		}

		task := dispatch.Task{Mailbox: *mailbox, Configs: grouped}
		if s.pool.Enqueue(task) {
			enqueued++
		} else if s.metrics != nil {
			s.metrics.TasksDropped.Inc()
		}
	}

	if s.metrics != nil {
		s.metrics.QueueDepth.Set(float64(s.pool.QueueDepth()))
		s.metrics.InflightMailboxes.Set(float64(s.pool.Inflight().Len()))
	}

	logrus.Infof("Task generation cycle completed in %v: %d/%d mailbox tasks enqueued",
		time.Since(startTime), enqueued, len(byMailbox))
}

// groupByMailbox buckets configurations under their mailbox, preserving the
// load order within each bucket.
func groupByMailbox(configs []models.WorkflowConfig) map[uint][]models.WorkflowConfig {
	byMailbox := make(map[uint][]models.WorkflowConfig)
	for _, cfg := range configs {
		byMailbox[cfg.MailboxID] = append(byMailbox[cfg.MailboxID], cfg)
	}
	return byMailbox
}

// RunOnce runs one task generation cycle (for manual triggering).
func (s *Scheduler) RunOnce() error {
	logrus.Info("Running task generation once")
	s.runCycle()
	return nil
}

// GetNextRun returns the time of the next scheduled run.
func (s *Scheduler) GetNextRun() time.Time {
	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Next
}

// GetLastRun returns the time of the last run.
func (s *Scheduler) GetLastRun() time.Time {
	if !s.isRunning {
		return time.Time{}
	}

	entry := s.cron.Entry(s.entryID)
	return entry.Prev
}

// Wait waits for any in-progress cycle to finish.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
