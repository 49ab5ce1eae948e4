// Package lifecycle holds the pure decision logic of the onboarding state
// machine. Given a request and an incoming signal it mutates the request
// in memory and reports the side effects the caller must perform; it never
// touches storage or the network itself.
package lifecycle

import (
	"fmt"
	"strconv"
	"strings"

	"mail-onboarding-go/internal/models"
)

// DecisionKind is the verdict carried by an approval reply.
type DecisionKind string

const (
	DecisionApprove DecisionKind = "approve"
	DecisionReject  DecisionKind = "reject"
)

// Decision is an approver's verdict on a request.
type Decision struct {
	Approver string
	Kind     DecisionKind
	Reason   string
}

// EffectKind names a side effect the caller must perform after a transition.
type EffectKind string

const (
	// EffectNotifyStageApprovers asks the caller to notify the missing
	// approvers of Effect.Stage.
	EffectNotifyStageApprovers EffectKind = "notify_stage_approvers"
	// EffectNotifyRequesterRejected asks the caller to send a rejection
	// notice to the requester.
	EffectNotifyRequesterRejected EffectKind = "notify_requester_rejected"
	// EffectNotifyRequesterProvisioned asks the caller to send a completion
	// notice to the requester.
	EffectNotifyRequesterProvisioned EffectKind = "notify_requester_provisioned"
	// EffectWriteLedger asks the caller to append the provisioning ledger row.
	EffectWriteLedger EffectKind = "write_ledger"
)

// Effect is one side-effect intent produced by a transition.
type Effect struct {
	Kind  EffectKind
	Stage int
}

// Outcome describes what a signal did to a request.
type Outcome struct {
	// Changed reports whether the request must be persisted.
	Changed bool
	// Note is the audit note describing the transition.
	Note string
	// Effects are the side effects the caller must perform.
	Effects []Effect
}

// BuildStageApprovals freezes the resolved approver lists into the
// stage_approvals structure at request creation time.
func BuildStageApprovals(approversByStage [][]string) models.StageApprovalSet {
	set := make(models.StageApprovalSet, len(approversByStage))
	for i, approvers := range approversByStage {
		lowered := make([]string, 0, len(approvers))
		for _, a := range approvers {
			lowered = append(lowered, strings.ToLower(a))
		}
		set[strconv.Itoa(i+1)] = &models.StageApproval{Required: lowered, Approved: []string{}}
	}
	return set
}

// EffectiveApprovers returns who can actually approve a stage, with active
// delegations substituted in.
func EffectiveApprovers(req *models.OnboardingRequest, stage int) []string {
	sa := req.StageApprovals.Stage(stage)
	if sa == nil {
		return nil
	}
	mapping := make(map[string]string, len(req.DelegatedApprovers))
	for _, d := range req.DelegatedApprovers {
		mapping[strings.ToLower(d.Original)] = strings.ToLower(d.Delegate)
	}
	effective := make([]string, 0, len(sa.Required))
	for _, a := range sa.Required {
		if delegate, ok := mapping[a]; ok {
			effective = append(effective, delegate)
		} else {
			effective = append(effective, a)
		}
	}
	return effective
}

// MissingApprovers returns the effective approvers of a stage who have not
// yet approved.
func MissingApprovers(req *models.OnboardingRequest, stage int) []string {
	sa := req.StageApprovals.Stage(stage)
	if sa == nil {
		return nil
	}
	approved := make(map[string]struct{}, len(sa.Approved))
	for _, a := range sa.Approved {
		approved[strings.ToLower(a)] = struct{}{}
	}
	var missing []string
	for _, a := range EffectiveApprovers(req, stage) {
		if _, ok := approved[a]; !ok {
			missing = append(missing, a)
		}
	}
	return missing
}

// IsAuthorized reports whether sender may decide the request's current stage.
func IsAuthorized(req *models.OnboardingRequest, sender string) bool {
	sender = strings.ToLower(sender)
	for _, a := range EffectiveApprovers(req, req.CurrentStage) {
		if a == sender {
			return true
		}
	}
	return false
}

// ApplyDecision applies an approve/reject verdict to a request. Replies on
// terminal requests and re-deliveries of already-applied decisions are
// no-ops; verdicts from senders outside the current stage's effective
// approver set leave the state untouched and only append an audit note.
func ApplyDecision(req *models.OnboardingRequest, d Decision) Outcome {
	approver := strings.ToLower(d.Approver)

	if models.Status(req.Status).IsTerminal() {
		return Outcome{Note: fmt.Sprintf("ignored %s from %s: request is %s", d.Kind, approver, req.Status)}
	}
	if models.Status(req.Status) != models.StatusPendingApproval {
		return Outcome{Note: fmt.Sprintf("ignored %s from %s: request is %s", d.Kind, approver, req.Status)}
	}

	if !IsAuthorized(req, approver) {
		note := fmt.Sprintf("Ignored %s from %s: not an authorized approver for stage %d.", d.Kind, approver, req.CurrentStage)
		appendNote(req, note)
		return Outcome{Changed: true, Note: note}
	}

	if d.Kind == DecisionReject {
		reason := d.Reason
		if reason == "" {
			reason = "no reason given"
		}
		req.Status = string(models.StatusRejected)
		note := fmt.Sprintf("Rejected at stage %d by %s: %s", req.CurrentStage, approver, reason)
		req.LastActivityDetails = note
		return Outcome{
			Changed: true,
			Note:    note,
			Effects: []Effect{{Kind: EffectNotifyRequesterRejected}},
		}
	}

	sa := req.StageApprovals.Stage(req.CurrentStage)
	if sa == nil {
		note := fmt.Sprintf("Stage %d has no approval record; decision from %s dropped.", req.CurrentStage, approver)
		appendNote(req, note)
		return Outcome{Changed: true, Note: note}
	}
	for _, a := range sa.Approved {
		if strings.ToLower(a) == approver {
			// Re-delivery of an already-applied decision.
			return Outcome{Note: fmt.Sprintf("approval from %s already recorded at stage %d", approver, req.CurrentStage)}
		}
	}

	sa.Approved = append(sa.Approved, approver)
	recordFutureApprovals(req, approver)

	note := fmt.Sprintf("Approval recorded from %s at stage %d.", approver, req.CurrentStage)
	outcome := Outcome{Changed: true}

	// Advance past every fully-approved stage; carried-forward approvals may
	// satisfy later stages immediately.
	for len(MissingApprovers(req, req.CurrentStage)) == 0 {
		if req.CurrentStage >= req.StageApprovals.MaxStage() {
			req.Status = string(models.StatusApproved)
			note = fmt.Sprintf("All %d stages approved; awaiting provisioning.", req.CurrentStage)
			break
		}
		req.CurrentStage++
		note = fmt.Sprintf("Stage %d approved; advanced to stage %d.", req.CurrentStage-1, req.CurrentStage)
		outcome.Effects = append(outcome.Effects, Effect{Kind: EffectNotifyStageApprovers, Stage: req.CurrentStage})
	}

	req.LastActivityDetails = note
	outcome.Note = note
	return outcome
}

// recordFutureApprovals carries an approval forward to later stages where the
// same person is a required approver, so nobody approves the same request
// twice.
func recordFutureApprovals(req *models.OnboardingRequest, approver string) {
	for _, n := range req.StageApprovals.StageNumbers() {
		if n <= req.CurrentStage {
			continue
		}
		sa := req.StageApprovals.Stage(n)
		if sa == nil {
			continue
		}
		required := false
		for _, a := range sa.Required {
			if strings.ToLower(a) == approver {
				required = true
				break
			}
		}
		if !required {
			continue
		}
		already := false
		for _, a := range sa.Approved {
			if strings.ToLower(a) == approver {
				already = true
				break
			}
		}
		if !already {
			sa.Approved = append(sa.Approved, approver)
		}
	}
}

// RegisterDelegation installs a substitute approver on a request. It is a
// no-op when the original is not required on any stage or the delegation
// already exists.
func RegisterDelegation(req *models.OnboardingRequest, original, delegate string) Outcome {
	original = strings.ToLower(original)
	delegate = strings.ToLower(delegate)
	if original == "" || delegate == "" || original == delegate {
		return Outcome{}
	}
	if models.Status(req.Status).IsTerminal() {
		return Outcome{}
	}

	requiredSomewhere := false
	for _, n := range req.StageApprovals.StageNumbers() {
		sa := req.StageApprovals.Stage(n)
		for _, a := range sa.Required {
			if strings.ToLower(a) == original {
				requiredSomewhere = true
			}
		}
	}
	if !requiredSomewhere {
		return Outcome{}
	}

	for i, d := range req.DelegatedApprovers {
		if strings.ToLower(d.Original) == original {
			if strings.ToLower(d.Delegate) == delegate {
				return Outcome{}
			}
			req.DelegatedApprovers[i].Delegate = delegate
			note := fmt.Sprintf("Delegation updated: %s -> %s.", original, delegate)
			appendNote(req, note)
			return Outcome{Changed: true, Note: note}
		}
	}

	req.DelegatedApprovers = append(req.DelegatedApprovers, models.Delegation{Original: original, Delegate: delegate})
	note := fmt.Sprintf("Delegation registered: %s -> %s.", original, delegate)
	appendNote(req, note)
	return Outcome{Changed: true, Note: note}
}

// ApplyProvisionResult applies the outcome of a provisioning attempt to an
// APPROVED request. Transient failures keep the request APPROVED for retry on
// the next advancement pass until the retry budget is exhausted.
func ApplyProvisionResult(req *models.OnboardingRequest, provErr error, transient bool, maxRetries int) Outcome {
	if models.Status(req.Status) != models.StatusApproved {
		return Outcome{}
	}

	if provErr == nil {
		req.Status = string(models.StatusProvisioned)
		note := "Provisioning completed."
		req.LastActivityDetails = note
		return Outcome{
			Changed: true,
			Note:    note,
			Effects: []Effect{{Kind: EffectWriteLedger}, {Kind: EffectNotifyRequesterProvisioned}},
		}
	}

	if transient && req.RetryCount+1 < maxRetries {
		req.RetryCount++
		note := fmt.Sprintf("Provisioning attempt %d failed, will retry: %v", req.RetryCount, provErr)
		req.LastActivityDetails = note
		return Outcome{Changed: true, Note: note}
	}

	req.Status = string(models.StatusFailed)
	note := fmt.Sprintf("Provisioning failed permanently: %v", provErr)
	req.LastActivityDetails = note
	return Outcome{Changed: true, Note: note}
}

func appendNote(req *models.OnboardingRequest, note string) {
	if req.LastActivityDetails == "" {
		req.LastActivityDetails = note
		return
	}
	req.LastActivityDetails = req.LastActivityDetails + " " + note
}
