// Package engine runs the per-mailbox two-phase workflow: intake of new mail
// followed by advancement of every open request on the mailbox's configs.
package engine

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mail-onboarding-go/internal/classifier"
	"mail-onboarding-go/internal/config"
	"mail-onboarding-go/internal/dispatch"
	"mail-onboarding-go/internal/directory"
	"mail-onboarding-go/internal/fetcher"
	"mail-onboarding-go/internal/metrics"
	"mail-onboarding-go/internal/models"
	"mail-onboarding-go/internal/notifier"
	"mail-onboarding-go/internal/provisioner"
	"mail-onboarding-go/internal/repository"
)

// FetcherFactory opens the inbound transport for a mailbox.
type FetcherFactory func(*models.Mailbox) (fetcher.Fetcher, error)

// NotifierFactory opens the outbound transport for a mailbox.
type NotifierFactory func(*models.Mailbox) (notifier.Notifier, error)

// Engine implements dispatch.Runner. Workers are stateless between tasks;
// everything per-task lives on the stack of Run.
type Engine struct {
	repo        *repository.Repository
	classifier  classifier.Classifier
	directory   directory.Directory
	provisioner provisioner.Provisioner
	metrics     *metrics.Metrics
	settings    *config.WorkflowConfig

	newFetcher  FetcherFactory
	newNotifier NotifierFactory
	now         func() time.Time
}

// New wires an engine from its collaborators.
func New(
	repo *repository.Repository,
	cls classifier.Classifier,
	dir directory.Directory,
	prov provisioner.Provisioner,
	m *metrics.Metrics,
	settings *config.WorkflowConfig,
) *Engine {
	return &Engine{
		repo:        repo,
		classifier:  cls,
		directory:   dir,
		provisioner: prov,
		metrics:     m,
		settings:    settings,
		newFetcher:  fetcher.New,
		newNotifier: notifier.New,
		now:         time.Now,
	}
}

// Run executes one mailbox task: Phase 1 intake, then Phase 2 advancement
// for every config on the mailbox. Collaborator errors are logged with
// context and never escape; the mailbox becomes eligible again on the next
// scheduler tick.
func (e *Engine) Run(task dispatch.Task) {
	ctx := context.Background()
	log := logrus.WithField("mailbox_id", task.Mailbox.ID)
	start := e.now()

	log.Info("Starting two-phase workflow cycle")

	ntf, err := e.newNotifier(&task.Mailbox)
	if err != nil {
		log.Errorf("Failed to open outbound transport: %v", err)
		return
	}
	defer ntf.Close()

	// Phase 1: intake
	if err := e.runIntake(ctx, task, ntf); err != nil {
		log.Errorf("Error during intake phase: %v", err)
	}

	// Phase 2: advancement always runs, even when intake saw no new mail.
	for i := range task.Configs {
		cfg := &task.Configs[i]
		if err := e.runAdvancement(ctx, cfg, ntf); err != nil {
			log.WithField("config_id", cfg.ConfigID).Errorf("Error during advancement phase: %v", err)
		}
	}

	if e.metrics != nil {
		e.metrics.TaskDuration.Observe(e.now().Sub(start).Seconds())
	}
	log.Infof("Completed two-phase workflow cycle in %v", e.now().Sub(start))
}

// configForGroup matches a classifier-extracted group against the task's
// configs by team alias or required group, case-insensitively.
func configForGroup(configs []models.WorkflowConfig, group string) *models.WorkflowConfig {
	for i := range configs {
		if strings.EqualFold(configs[i].TeamAlias, group) || strings.EqualFold(configs[i].RequiredGroup, group) {
			return &configs[i]
		}
	}
	return nil
}

// configByID finds the task config owning a request.
func configByID(configs []models.WorkflowConfig, configID string) *models.WorkflowConfig {
	for i := range configs {
		if configs[i].ConfigID == configID {
			return &configs[i]
		}
	}
	return nil
}
