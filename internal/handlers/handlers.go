package handlers

import (
	"mail-onboarding-go/internal/dispatch"
	"mail-onboarding-go/internal/metrics"
	"mail-onboarding-go/internal/repository"
	"mail-onboarding-go/internal/scheduler"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	repo      *repository.Repository
	scheduler *scheduler.Scheduler
	pool      *dispatch.Pool
	metrics   *metrics.Metrics
}

// NewHandlers creates new HTTP handlers
func NewHandlers(repo *repository.Repository, s *scheduler.Scheduler, p *dispatch.Pool, m *metrics.Metrics) *Handlers {
	return &Handlers{repo: repo, scheduler: s, pool: p, metrics: m}
}
