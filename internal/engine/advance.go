package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mail-onboarding-go/internal/lifecycle"
	"mail-onboarding-go/internal/models"
	"mail-onboarding-go/internal/notifier"
	"mail-onboarding-go/internal/provisioner"
)

// runAdvancement is Phase 2: for every non-terminal request of one config,
// provision what is APPROVED and remind what is stalled. The pass is
// idempotent and safe to re-run every cycle.
func (e *Engine) runAdvancement(ctx context.Context, cfg *models.WorkflowConfig, ntf notifier.Notifier) error {
	if err := e.provisionApproved(ctx, cfg, ntf); err != nil {
		return err
	}
	return e.sendReminders(ctx, cfg, ntf)
}

// provisionApproved pushes every APPROVED request through the provisioning
// sink and applies the resulting transition. Provisioning is only ever
// attempted from APPROVED, so re-running on a PROVISIONED request is a no-op
// by construction.
func (e *Engine) provisionApproved(ctx context.Context, cfg *models.WorkflowConfig, ntf notifier.Notifier) error {
	reqs, err := e.repo.OpenRequestsForConfig(cfg.ConfigID)
	if err != nil {
		return err
	}

	for i := range reqs {
		req := &reqs[i]
		if models.Status(req.Status) != models.StatusApproved {
			continue
		}
		log := logrus.WithFields(logrus.Fields{"config_id": cfg.ConfigID, "request_id": req.ID})

		provErr := e.provisioner.Provision(ctx, cfg, req.UserEmail)
		outcome := lifecycle.ApplyProvisionResult(req, provErr, provisioner.IsTransient(provErr), e.settings.MaxProvisionRetries)
		if !outcome.Changed {
			continue
		}
		log.Info(outcome.Note)

		if err := e.repo.SaveRequest(req); err != nil {
			log.Errorf("Failed to persist provisioning outcome: %v", err)
			continue
		}

		if e.metrics != nil {
			if models.Status(req.Status) == models.StatusProvisioned {
				e.metrics.RequestsProvisioned.Inc()
			} else if provErr != nil {
				e.metrics.ProvisionFailures.Inc()
			}
		}

		for _, effect := range outcome.Effects {
			switch effect.Kind {
			case lifecycle.EffectWriteLedger:
				if err := e.repo.WriteLedger(req.UserEmail, cfg.ConfigID); err != nil {
					log.Errorf("Failed to write provisioning ledger: %v", err)
				}
			case lifecycle.EffectNotifyRequesterProvisioned:
				subject, body := notifier.ProvisionedNotice(req.UserEmail, req.RequestedGroup)
				e.send(ctx, ntf, []string{req.UserEmail}, subject, body)
			}
		}
	}

	return nil
}

// sendReminders nudges the missing approvers of requests whose last update
// is older than the reminder threshold. Sending refreshes updated_at, which
// is what rate-limits repeats; no state transition happens on elapsed time.
func (e *Engine) sendReminders(ctx context.Context, cfg *models.WorkflowConfig, ntf notifier.Notifier) error {
	threshold := time.Duration(e.settings.ReminderThresholdHours) * time.Hour
	due, err := e.repo.RequestsDueReminder(cfg.ConfigID, threshold)
	if err != nil {
		return err
	}

	for i := range due {
		req := &due[i]
		missing := lifecycle.MissingApprovers(req, req.CurrentStage)
		if len(missing) == 0 {
			continue
		}
		log := logrus.WithFields(logrus.Fields{"config_id": cfg.ConfigID, "request_id": req.ID})

		subject, body := notifier.Reminder(req.UserEmail, req.RequestedGroup, req.CurrentStage, missing)
		if err := ntf.Send(ctx, missing, subject, body); err != nil {
			log.Errorf("Failed to send reminder: %v", err)
			continue
		}

		req.LastActivityDetails = fmt.Sprintf("Reminder sent to %s for stage %d.", strings.Join(missing, ", "), req.CurrentStage)
		if err := e.repo.SaveRequest(req); err != nil {
			log.Errorf("Failed to record reminder: %v", err)
			continue
		}
		if e.metrics != nil {
			e.metrics.RemindersSent.Inc()
		}
		log.Infof("Reminder sent to %d approver(s)", len(missing))
	}

	return nil
}
