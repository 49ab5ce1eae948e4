package lifecycle

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mail-onboarding-go/internal/models"
)

func newPendingRequest(approversByStage ...[]string) *models.OnboardingRequest {
	return &models.OnboardingRequest{
		UserEmail:      "new.hire@example.com",
		RequestedGroup: "data-platform",
		ConfigID:       "cfg-1",
		Status:         string(models.StatusPendingApproval),
		CurrentStage:   1,
		StageApprovals: BuildStageApprovals(approversByStage),
	}
}

func TestBuildStageApprovalsLowercasesAndNumbersStages(t *testing.T) {
	set := BuildStageApprovals([][]string{
		{"Manager@Example.com"},
		{"owner1@example.com", "Owner2@Example.com"},
	})

	require.Equal(t, 2, set.MaxStage())
	require.NotNil(t, set.Stage(1))
	assert.Equal(t, []string{"manager@example.com"}, set.Stage(1).Required)
	assert.Empty(t, set.Stage(1).Approved)
	assert.Equal(t, []string{"owner1@example.com", "owner2@example.com"}, set.Stage(2).Required)
}

func TestApproveAdvancesOneStageAtATime(t *testing.T) {
	req := newPendingRequest(
		[]string{"manager@example.com"},
		[]string{"owner@example.com"},
	)

	outcome := ApplyDecision(req, Decision{Approver: "manager@example.com", Kind: DecisionApprove})

	require.True(t, outcome.Changed)
	assert.Equal(t, string(models.StatusPendingApproval), req.Status)
	assert.Equal(t, 2, req.CurrentStage)
	require.Len(t, outcome.Effects, 1)
	assert.Equal(t, EffectNotifyStageApprovers, outcome.Effects[0].Kind)
	assert.Equal(t, 2, outcome.Effects[0].Stage)
}

func TestFinalStageApprovalMovesToApproved(t *testing.T) {
	req := newPendingRequest(
		[]string{"manager@example.com"},
		[]string{"owner@example.com"},
	)

	ApplyDecision(req, Decision{Approver: "manager@example.com", Kind: DecisionApprove})
	outcome := ApplyDecision(req, Decision{Approver: "owner@example.com", Kind: DecisionApprove})

	require.True(t, outcome.Changed)
	assert.Equal(t, string(models.StatusApproved), req.Status)
	assert.Empty(t, outcome.Effects)
}

func TestMultiApproverStageWaitsForAll(t *testing.T) {
	req := newPendingRequest(
		[]string{"owner1@example.com", "owner2@example.com"},
	)

	outcome := ApplyDecision(req, Decision{Approver: "owner1@example.com", Kind: DecisionApprove})

	require.True(t, outcome.Changed)
	assert.Equal(t, string(models.StatusPendingApproval), req.Status)
	assert.Equal(t, 1, req.CurrentStage)
	assert.Equal(t, []string{"owner2@example.com"}, MissingApprovers(req, 1))

	ApplyDecision(req, Decision{Approver: "owner2@example.com", Kind: DecisionApprove})
	assert.Equal(t, string(models.StatusApproved), req.Status)
}

func TestApprovalCarriesForwardToLaterStages(t *testing.T) {
	req := newPendingRequest(
		[]string{"manager@example.com", "shared@example.com"},
		[]string{"shared@example.com"},
	)

	ApplyDecision(req, Decision{Approver: "shared@example.com", Kind: DecisionApprove})
	outcome := ApplyDecision(req, Decision{Approver: "manager@example.com", Kind: DecisionApprove})

	// shared@ already approved stage 2 proactively, so the request skips
	// straight past it once stage 1 completes.
	require.True(t, outcome.Changed)
	assert.Equal(t, string(models.StatusApproved), req.Status)
}

func TestRejectTerminatesWithReason(t *testing.T) {
	req := newPendingRequest([]string{"manager@example.com"})

	outcome := ApplyDecision(req, Decision{
		Approver: "manager@example.com",
		Kind:     DecisionReject,
		Reason:   "contractor access not permitted",
	})

	require.True(t, outcome.Changed)
	assert.Equal(t, string(models.StatusRejected), req.Status)
	assert.Contains(t, req.LastActivityDetails, "contractor access not permitted")
	require.Len(t, outcome.Effects, 1)
	assert.Equal(t, EffectNotifyRequesterRejected, outcome.Effects[0].Kind)
}

func TestAnyAuthorizedApproverMayReject(t *testing.T) {
	req := newPendingRequest([]string{"owner1@example.com", "owner2@example.com"})

	outcome := ApplyDecision(req, Decision{Approver: "owner2@example.com", Kind: DecisionReject})

	assert.Equal(t, string(models.StatusRejected), req.Status)
	require.Len(t, outcome.Effects, 1)
}

func TestUnauthorizedDecisionOnlyAppendsNote(t *testing.T) {
	req := newPendingRequest([]string{"manager@example.com"})

	outcome := ApplyDecision(req, Decision{Approver: "stranger@example.com", Kind: DecisionApprove})

	require.True(t, outcome.Changed)
	assert.Equal(t, string(models.StatusPendingApproval), req.Status)
	assert.Equal(t, 1, req.CurrentStage)
	assert.Empty(t, outcome.Effects)
	assert.Contains(t, req.LastActivityDetails, "not an authorized approver")
	assert.Equal(t, []string{"manager@example.com"}, MissingApprovers(req, 1))
}

func TestRedeliveredApprovalIsNoOp(t *testing.T) {
	req := newPendingRequest([]string{"owner1@example.com", "owner2@example.com"})

	first := ApplyDecision(req, Decision{Approver: "owner1@example.com", Kind: DecisionApprove})
	require.True(t, first.Changed)

	second := ApplyDecision(req, Decision{Approver: "owner1@example.com", Kind: DecisionApprove})
	assert.False(t, second.Changed)
	assert.Equal(t, 1, req.CurrentStage)
	assert.Equal(t, []string{"owner1@example.com"}, req.StageApprovals.Stage(1).Approved)
}

func TestDecisionOnTerminalRequestIsNoOp(t *testing.T) {
	for _, status := range []models.Status{
		models.StatusRejected, models.StatusDuplicate, models.StatusProvisioned, models.StatusFailed,
	} {
		req := newPendingRequest([]string{"manager@example.com"})
		req.Status = string(status)

		outcome := ApplyDecision(req, Decision{Approver: "manager@example.com", Kind: DecisionApprove})

		assert.False(t, outcome.Changed, "status %s", status)
		assert.Equal(t, string(status), req.Status)
	}
}

func TestDelegationSubstitutesApprover(t *testing.T) {
	req := newPendingRequest([]string{"manager@example.com"})

	outcome := RegisterDelegation(req, "Manager@Example.com", "deputy@example.com")
	require.True(t, outcome.Changed)
	assert.Equal(t, []string{"deputy@example.com"}, EffectiveApprovers(req, 1))

	// The original can no longer decide; the delegate can.
	assert.False(t, IsAuthorized(req, "manager@example.com"))
	assert.True(t, IsAuthorized(req, "deputy@example.com"))

	ApplyDecision(req, Decision{Approver: "deputy@example.com", Kind: DecisionApprove})
	assert.Equal(t, string(models.StatusApproved), req.Status)
}

func TestDelegationIgnoredForUnknownOriginal(t *testing.T) {
	req := newPendingRequest([]string{"manager@example.com"})

	outcome := RegisterDelegation(req, "someone.else@example.com", "deputy@example.com")

	assert.False(t, outcome.Changed)
	assert.Empty(t, req.DelegatedApprovers)
}

func TestDelegationUpdateReplacesDelegate(t *testing.T) {
	req := newPendingRequest([]string{"manager@example.com"})

	RegisterDelegation(req, "manager@example.com", "deputy1@example.com")
	outcome := RegisterDelegation(req, "manager@example.com", "deputy2@example.com")

	require.True(t, outcome.Changed)
	require.Len(t, req.DelegatedApprovers, 1)
	assert.Equal(t, "deputy2@example.com", req.DelegatedApprovers[0].Delegate)
}

func TestProvisionSuccessEmitsLedgerAndNotice(t *testing.T) {
	req := newPendingRequest([]string{"manager@example.com"})
	req.Status = string(models.StatusApproved)

	outcome := ApplyProvisionResult(req, nil, false, 3)

	require.True(t, outcome.Changed)
	assert.Equal(t, string(models.StatusProvisioned), req.Status)
	require.Len(t, outcome.Effects, 2)
	assert.Equal(t, EffectWriteLedger, outcome.Effects[0].Kind)
	assert.Equal(t, EffectNotifyRequesterProvisioned, outcome.Effects[1].Kind)
}

func TestTransientProvisionFailureRetriesWithinBudget(t *testing.T) {
	req := newPendingRequest([]string{"manager@example.com"})
	req.Status = string(models.StatusApproved)
	provErr := errors.New("connection refused")

	first := ApplyProvisionResult(req, provErr, true, 3)
	require.True(t, first.Changed)
	assert.Equal(t, string(models.StatusApproved), req.Status)
	assert.Equal(t, 1, req.RetryCount)

	second := ApplyProvisionResult(req, provErr, true, 3)
	require.True(t, second.Changed)
	assert.Equal(t, string(models.StatusApproved), req.Status)
	assert.Equal(t, 2, req.RetryCount)

	third := ApplyProvisionResult(req, provErr, true, 3)
	require.True(t, third.Changed)
	assert.Equal(t, string(models.StatusFailed), req.Status)
}

func TestPermanentProvisionFailureFailsImmediately(t *testing.T) {
	req := newPendingRequest([]string{"manager@example.com"})
	req.Status = string(models.StatusApproved)

	outcome := ApplyProvisionResult(req, errors.New("table missing email column"), false, 3)

	require.True(t, outcome.Changed)
	assert.Equal(t, string(models.StatusFailed), req.Status)
	assert.Empty(t, outcome.Effects)
}

func TestProvisionResultIgnoredUnlessApproved(t *testing.T) {
	req := newPendingRequest([]string{"manager@example.com"})

	outcome := ApplyProvisionResult(req, nil, false, 3)

	assert.False(t, outcome.Changed)
	assert.Equal(t, string(models.StatusPendingApproval), req.Status)
}
