package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"mail-onboarding-go/internal/classifier"
	"mail-onboarding-go/internal/dispatch"
	"mail-onboarding-go/internal/lifecycle"
	"mail-onboarding-go/internal/models"
	"mail-onboarding-go/internal/notifier"
)

// runIntake is Phase 1: pull unseen mail since the mailbox watermark,
// deduplicate, classify, and feed signals into the lifecycle engine.
func (e *Engine) runIntake(ctx context.Context, task dispatch.Task, ntf notifier.Notifier) error {
	mb := &task.Mailbox
	log := logrus.WithField("mailbox_id", mb.ID)

	f, err := e.newFetcher(mb)
	if err != nil {
		return fmt.Errorf("failed to open inbound transport: %w", err)
	}
	defer f.Close()

	since, err := e.repo.GetWatermark(mb.ID, e.settings.InitialLookbackDays)
	if err != nil {
		return err
	}

	scanStart := e.now()
	emails, err := f.FetchSince(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to fetch mail: %w", err)
	}
	log.Infof("Fetched %d messages since %s", len(emails), since.Format(time.RFC3339))

	sort.Slice(emails, func(i, j int) bool {
		return emails[i].Timestamp.Before(emails[j].Timestamp)
	})

	// Messages younger than the maturity delay are deferred to the next
	// cycle so a thread settles before the engine acts on it.
	maturityFloor := scanStart.Add(-time.Duration(e.settings.MaturityDelayMinutes) * time.Minute)

	var firstUnconfirmed *time.Time
	for i := range emails {
		msg := emails[i]
		if msg.Timestamp.After(maturityFloor) {
			log.Debugf("Deferring immature message %s", msg.ID)
			ts := msg.Timestamp
			firstUnconfirmed = &ts
			break
		}

		if err := e.processMessage(ctx, task, ntf, msg); err != nil {
			log.Errorf("Failed to process message %s: %v", msg.ID, err)
			if firstUnconfirmed == nil {
				ts := msg.Timestamp
				firstUnconfirmed = &ts
			}
		}
	}

	// The watermark only advances past messages that were confirmed: the
	// earliest unconfirmed timestamp is the new floor, else the maturity
	// boundary. The read-side overlap plus the dedup store make re-reads
	// of confirmed messages harmless.
	newWatermark := maturityFloor
	if firstUnconfirmed != nil {
		newWatermark = *firstUnconfirmed
	}
	if newWatermark.After(since) {
		if err := e.repo.SetWatermark(mb.ID, newWatermark); err != nil {
			return err
		}
	}

	return nil
}

// processMessage consumes one inbound message. The message id is claimed in
// the dedup store exactly once, before any branch runs; branch failures are
// logged but the message is never replayed. Only a failed claim (store
// unavailable) reports an error, which holds the watermark back.
func (e *Engine) processMessage(ctx context.Context, task dispatch.Task, ntf notifier.Notifier, msg models.EmailMessage) error {
	log := logrus.WithFields(logrus.Fields{"mailbox_id": task.Mailbox.ID, "message_id": msg.ID})

	claimed, err := e.repo.ClaimMessageID(msg.ID)
	if err != nil {
		return err
	}
	if !claimed {
		log.Debug("Message already processed, skipping")
		return nil
	}
	if e.metrics != nil {
		e.metrics.MessagesProcessed.Inc()
	}

	body := msg.Body
	if body == "" {
		body = msg.HTMLBody
	}

	result, err := e.classifier.Analyze(ctx, msg.Subject, body)
	if err != nil {
		// Safe default: an unclassifiable message is ignored, not acted on.
		log.Warnf("Classification failed, treating as unrelated: %v", err)
		return nil
	}

	switch result.Intent {
	case classifier.IntentNewRequest:
		e.handleNewRequest(ctx, task, ntf, msg, result)
	case classifier.IntentApproval, classifier.IntentRejection:
		e.handleDecision(ctx, task, ntf, msg, result)
	case classifier.IntentOutOfOffice:
		e.handleOutOfOffice(task, msg, result)
	default:
		log.Debugf("Ignoring message with intent %q", result.Intent)
	}

	return nil
}

// handleNewRequest validates and materializes a new onboarding request.
func (e *Engine) handleNewRequest(ctx context.Context, task dispatch.Task, ntf notifier.Notifier, msg models.EmailMessage, result *classifier.Result) {
	log := logrus.WithFields(logrus.Fields{"mailbox_id": task.Mailbox.ID, "user_email": result.UserEmail})

	if result.UserEmail == "" || result.RequestedGroup == "" {
		log.Info("New request missing user or group, ignoring")
		return
	}

	cfg := configForGroup(task.Configs, result.RequestedGroup)
	if cfg == nil {
		log.Infof("No workflow config on this mailbox matches group %q, ignoring", result.RequestedGroup)
		return
	}
	log = log.WithField("config_id", cfg.ConfigID)

	approversByStage, validationErr := e.resolveApprovers(ctx, cfg, result.UserEmail)
	if validationErr == nil && cfg.RequiredGroup != "" {
		member, err := e.directory.IsUserInGroup(ctx, result.UserEmail, cfg.RequiredGroup)
		if err != nil {
			validationErr = fmt.Errorf("group membership could not be verified")
		} else if !member {
			validationErr = fmt.Errorf("%s is not a member of required group %s", result.UserEmail, cfg.RequiredGroup)
		}
	}

	if validationErr != nil {
		log.Infof("Validation failed: %v", validationErr)
		req := &models.OnboardingRequest{
			UserEmail:           result.UserEmail,
			RequestedGroup:      result.RequestedGroup,
			ConfigID:            cfg.ConfigID,
			Status:              string(models.StatusFailed),
			CurrentStage:        1,
			StageApprovals:      models.StageApprovalSet{},
			DelegatedApprovers:  models.DelegationList{},
			RequestCount:        1,
			LastActivityDetails: fmt.Sprintf("Validation failed: %v", validationErr),
		}
		if err := e.repo.CreateRequest(req); err != nil {
			log.Errorf("Failed to record failed request: %v", err)
			return
		}
		subject, body := notifier.ValidationFailureNotice(result.UserEmail, result.RequestedGroup, validationErr.Error())
		e.send(ctx, ntf, []string{result.UserEmail}, subject, body)
		return
	}

	// Uniqueness invariant: one open request per (email, group, config).
	existing, err := e.repo.FindOpenRequest(result.UserEmail, result.RequestedGroup, cfg.ConfigID)
	if err != nil {
		log.Errorf("Failed to check for existing request: %v", err)
		return
	}
	if existing != nil {
		note := fmt.Sprintf("Duplicate of request %d, message %s.", existing.ID, msg.ID)
		if _, err := e.repo.RecordDuplicate(existing, note); err != nil {
			log.Errorf("Failed to record duplicate: %v", err)
			return
		}
		if e.metrics != nil {
			e.metrics.DuplicateRequests.Inc()
		}
		log.Infof("Merged duplicate into request %d (seen %d times)", existing.ID, existing.RequestCount)
		return
	}

	req := &models.OnboardingRequest{
		UserEmail:           result.UserEmail,
		RequestedGroup:      result.RequestedGroup,
		ConfigID:            cfg.ConfigID,
		Status:              string(models.StatusPendingApproval),
		CurrentStage:        1,
		StageApprovals:      lifecycle.BuildStageApprovals(approversByStage),
		DelegatedApprovers:  models.DelegationList{},
		RequestCount:        1,
		LastActivityDetails: fmt.Sprintf("Created from message %s.", msg.ID),
	}
	if err := e.repo.CreateRequest(req); err != nil {
		log.Errorf("Failed to create request: %v", err)
		return
	}
	if e.metrics != nil {
		e.metrics.RequestsCreated.Inc()
	}
	log.Infof("Created request %d in stage 1", req.ID)

	subject, body := notifier.ApprovalRequest(req.UserEmail, req.RequestedGroup, cfg.TeamAlias, 1)
	e.send(ctx, ntf, lifecycle.MissingApprovers(req, 1), subject, body)
}

// resolveApprovers walks the config's stage list and freezes each stage's
// approver set. A stage with nobody to approve it fails validation: the
// request could never advance past it.
func (e *Engine) resolveApprovers(ctx context.Context, cfg *models.WorkflowConfig, userEmail string) ([][]string, error) {
	stages := cfg.Stages()
	approversByStage := make([][]string, 0, len(stages))

	for i, stage := range stages {
		var approvers []string
		switch stage.Kind {
		case models.StageLineManager:
			manager, err := e.directory.GetUserManager(ctx, userEmail)
			if err != nil {
				return nil, fmt.Errorf("line manager for %s could not be resolved", userEmail)
			}
			approvers = []string{manager}
		case models.StageGroupOwners:
			owners, err := e.directory.GetGroupOwners(ctx, cfg.RequiredGroup)
			if err != nil {
				return nil, fmt.Errorf("owners of group %s could not be resolved", cfg.RequiredGroup)
			}
			approvers = owners
		default:
			return nil, fmt.Errorf("unknown approval stage kind %q", stage.Kind)
		}

		if len(approvers) == 0 {
			return nil, fmt.Errorf("no approvers resolved for stage %d", i+1)
		}
		approversByStage = append(approversByStage, approvers)
	}

	return approversByStage, nil
}

// handleDecision routes an approval/rejection reply into the state machine.
func (e *Engine) handleDecision(ctx context.Context, task dispatch.Task, ntf notifier.Notifier, msg models.EmailMessage, result *classifier.Result) {
	log := logrus.WithFields(logrus.Fields{"mailbox_id": task.Mailbox.ID, "message_id": msg.ID})

	req, err := e.resolveRequest(task, result)
	if err != nil {
		log.Errorf("Failed to resolve request for decision: %v", err)
		return
	}
	if req == nil {
		log.Info("Decision reply does not match any open request, ignoring")
		return
	}
	log = log.WithField("request_id", req.ID)

	kind := lifecycle.DecisionApprove
	if result.Intent == classifier.IntentRejection {
		kind = lifecycle.DecisionReject
	}
	decision := lifecycle.Decision{
		Approver: strings.ToLower(msg.From),
		Kind:     kind,
		Reason:   result.Reason,
	}

	outcome := lifecycle.ApplyDecision(req, decision)
	log.Info(outcome.Note)

	if outcome.Changed {
		if err := e.repo.SaveRequest(req); err != nil {
			log.Errorf("Failed to persist decision: %v", err)
			return
		}
	}

	if e.metrics != nil && outcome.Changed {
		switch models.Status(req.Status) {
		case models.StatusRejected:
			e.metrics.RequestsRejected.Inc()
		default:
			if kind == lifecycle.DecisionApprove {
				e.metrics.ApprovalsRecorded.Inc()
			}
		}
	}

	cfg := configByID(task.Configs, req.ConfigID)
	teamAlias := ""
	if cfg != nil {
		teamAlias = cfg.TeamAlias
	}

	for _, effect := range outcome.Effects {
		switch effect.Kind {
		case lifecycle.EffectNotifyStageApprovers:
			subject, body := notifier.ApprovalRequest(req.UserEmail, req.RequestedGroup, teamAlias, effect.Stage)
			e.send(ctx, ntf, lifecycle.MissingApprovers(req, effect.Stage), subject, body)
		case lifecycle.EffectNotifyRequesterRejected:
			subject, body := notifier.RejectionNotice(req.UserEmail, req.RequestedGroup, result.Reason)
			e.send(ctx, ntf, []string{req.UserEmail}, subject, body)
		}
	}
}

// resolveRequest finds the open request a decision reply refers to.
func (e *Engine) resolveRequest(task dispatch.Task, result *classifier.Result) (*models.OnboardingRequest, error) {
	if result.UserEmail == "" {
		return nil, nil
	}

	if result.RequestedGroup != "" {
		if cfg := configForGroup(task.Configs, result.RequestedGroup); cfg != nil {
			req, err := e.repo.FindOpenRequest(result.UserEmail, result.RequestedGroup, cfg.ConfigID)
			if err != nil || req != nil {
				return req, err
			}
		}
	}

	// Group unknown or no exact match: newest open request for the user on
	// this mailbox's configs.
	configIDs := make([]string, 0, len(task.Configs))
	for _, cfg := range task.Configs {
		configIDs = append(configIDs, cfg.ConfigID)
	}
	return e.repo.FindOpenRequestByUser(result.UserEmail, configIDs)
}

// handleOutOfOffice registers a delegate on every open request where the
// sender is a required approver.
func (e *Engine) handleOutOfOffice(task dispatch.Task, msg models.EmailMessage, result *classifier.Result) {
	log := logrus.WithFields(logrus.Fields{"mailbox_id": task.Mailbox.ID, "message_id": msg.ID})

	delegate := result.DelegateEmail
	if !classifier.IsRealUserEmail(delegate) {
		log.Info("Out-of-office reply without a usable delegate, ignoring")
		return
	}
	original := strings.ToLower(msg.From)

	for _, cfg := range task.Configs {
		reqs, err := e.repo.OpenRequestsForConfig(cfg.ConfigID)
		if err != nil {
			log.Errorf("Failed to list open requests for %s: %v", cfg.ConfigID, err)
			continue
		}
		for i := range reqs {
			outcome := lifecycle.RegisterDelegation(&reqs[i], original, delegate)
			if !outcome.Changed {
				continue
			}
			if err := e.repo.SaveRequest(&reqs[i]); err != nil {
				log.Errorf("Failed to persist delegation on request %d: %v", reqs[i].ID, err)
				continue
			}
			log.Infof("Registered delegation %s -> %s on request %d", original, delegate, reqs[i].ID)
		}
	}
}

// send delivers a notification, logging failures; delivery is best effort
// and retried implicitly by later cycles.
func (e *Engine) send(ctx context.Context, ntf notifier.Notifier, to []string, subject, body string) {
	if len(to) == 0 {
		return
	}
	if err := ntf.Send(ctx, to, subject, body); err != nil {
		logrus.Errorf("Failed to send notification %q to %v: %v", subject, to, err)
	}
}
