package repository

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"mail-onboarding-go/internal/models"
)

var testDBSeq int

func setupTestRepo(t *testing.T) *Repository {
	t.Helper()

	testDBSeq++
	dsn := fmt.Sprintf("file:repo_test_%d?mode=memory&cache=shared", testDBSeq)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&models.Mailbox{},
		&models.WorkflowConfig{},
		&models.OnboardingRequest{},
		&models.ProcessedMessage{},
		&models.OnboardingLogEntry{},
		&models.AppState{},
	))

	return New(db)
}

func pendingRequest(email, group, configID string) *models.OnboardingRequest {
	return &models.OnboardingRequest{
		UserEmail:      email,
		RequestedGroup: group,
		ConfigID:       configID,
		Status:         string(models.StatusPendingApproval),
		CurrentStage:   1,
		StageApprovals: models.StageApprovalSet{
			"1": &models.StageApproval{Required: []string{"manager@example.com"}, Approved: []string{}},
		},
	}
}

func TestClaimMessageIDClaimsExactlyOnce(t *testing.T) {
	repo := setupTestRepo(t)

	claimed, err := repo.ClaimMessageID("<msg-1@example.com>")
	require.NoError(t, err)
	assert.True(t, claimed)

	again, err := repo.ClaimMessageID("<msg-1@example.com>")
	require.NoError(t, err)
	assert.False(t, again)

	other, err := repo.ClaimMessageID("<msg-2@example.com>")
	require.NoError(t, err)
	assert.True(t, other)

	processed, err := repo.IsMessageProcessed("<msg-1@example.com>")
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestGetWatermarkFallsBackToLookbackWindow(t *testing.T) {
	repo := setupTestRepo(t)

	since, err := repo.GetWatermark(1, 2)
	require.NoError(t, err)

	expected := time.Now().AddDate(0, 0, -2)
	assert.WithinDuration(t, expected, since, 5*time.Second)
}

func TestWatermarkRoundTripAppliesOverlap(t *testing.T) {
	repo := setupTestRepo(t)

	stored := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SetWatermark(1, stored))

	since, err := repo.GetWatermark(1, 7)
	require.NoError(t, err)
	assert.True(t, since.Equal(stored.Add(-30*time.Second)))
}

func TestSetWatermarkUpserts(t *testing.T) {
	repo := setupTestRepo(t)

	first := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	require.NoError(t, repo.SetWatermark(1, first))
	require.NoError(t, repo.SetWatermark(1, second))

	since, err := repo.GetWatermark(1, 7)
	require.NoError(t, err)
	assert.True(t, since.Equal(second.Add(-30*time.Second)))

	var count int64
	require.NoError(t, repo.DB().Model(&models.AppState{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestWatermarksAreSeparatePerMailbox(t *testing.T) {
	repo := setupTestRepo(t)

	t1 := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(2 * time.Hour)
	require.NoError(t, repo.SetWatermark(1, t1))
	require.NoError(t, repo.SetWatermark(2, t2))

	got1, err := repo.GetWatermark(1, 7)
	require.NoError(t, err)
	got2, err := repo.GetWatermark(2, 7)
	require.NoError(t, err)
	assert.True(t, got2.After(got1))
}

func TestFindOpenRequestSkipsTerminalRows(t *testing.T) {
	repo := setupTestRepo(t)

	closed := pendingRequest("user@example.com", "data-platform", "cfg-1")
	closed.Status = string(models.StatusRejected)
	require.NoError(t, repo.CreateRequest(closed))

	found, err := repo.FindOpenRequest("user@example.com", "data-platform", "cfg-1")
	require.NoError(t, err)
	assert.Nil(t, found)

	open := pendingRequest("user@example.com", "data-platform", "cfg-1")
	require.NoError(t, repo.CreateRequest(open))

	found, err = repo.FindOpenRequest("user@example.com", "data-platform", "cfg-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, open.ID, found.ID)

	// Scope is the full triple; another group does not match.
	found, err = repo.FindOpenRequest("user@example.com", "other-group", "cfg-1")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFindOpenRequestByUserScansConfigs(t *testing.T) {
	repo := setupTestRepo(t)

	req := pendingRequest("user@example.com", "data-platform", "cfg-2")
	require.NoError(t, repo.CreateRequest(req))

	found, err := repo.FindOpenRequestByUser("user@example.com", []string{"cfg-1", "cfg-2"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, req.ID, found.ID)

	found, err = repo.FindOpenRequestByUser("user@example.com", []string{"cfg-9"})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRecordDuplicateBumpsCountAndLinksRow(t *testing.T) {
	repo := setupTestRepo(t)

	canonical := pendingRequest("user@example.com", "data-platform", "cfg-1")
	require.NoError(t, repo.CreateRequest(canonical))

	dup, err := repo.RecordDuplicate(canonical, "Duplicate of request 1.")
	require.NoError(t, err)
	require.NotNil(t, dup)
	assert.Equal(t, string(models.StatusDuplicate), dup.Status)
	require.NotNil(t, dup.DuplicateOf)
	assert.Equal(t, canonical.ID, *dup.DuplicateOf)
	assert.Equal(t, 1, canonical.RequestCount)

	reloaded, err := repo.GetRequest(canonical.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.RequestCount)

	// The duplicate marker is terminal and never resolves as the open request.
	found, err := repo.FindOpenRequest("user@example.com", "data-platform", "cfg-1")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, canonical.ID, found.ID)
}

func TestRequestsDueReminderHonorsThreshold(t *testing.T) {
	repo := setupTestRepo(t)

	stale := pendingRequest("old@example.com", "data-platform", "cfg-1")
	require.NoError(t, repo.CreateRequest(stale))
	fresh := pendingRequest("new@example.com", "data-platform", "cfg-1")
	require.NoError(t, repo.CreateRequest(fresh))

	// Backdate the stale row past the threshold.
	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, repo.DB().Model(&models.OnboardingRequest{}).
		Where("id = ?", stale.ID).
		UpdateColumn("updated_at", old).Error)

	due, err := repo.RequestsDueReminder("cfg-1", 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, stale.ID, due[0].ID)

	// Saving the request refreshes updated_at, which suppresses the next pass.
	require.NoError(t, repo.SaveRequest(&due[0]))
	due, err = repo.RequestsDueReminder("cfg-1", 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestRequestsDueReminderIgnoresNonPending(t *testing.T) {
	repo := setupTestRepo(t)

	approved := pendingRequest("user@example.com", "data-platform", "cfg-1")
	approved.Status = string(models.StatusApproved)
	require.NoError(t, repo.CreateRequest(approved))
	require.NoError(t, repo.DB().Model(&models.OnboardingRequest{}).
		Where("id = ?", approved.ID).
		UpdateColumn("updated_at", time.Now().Add(-48*time.Hour)).Error)

	due, err := repo.RequestsDueReminder("cfg-1", 24*time.Hour)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestWriteLedgerUpsertsSingleRow(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.WriteLedger("user@example.com", "cfg-1"))
	require.NoError(t, repo.WriteLedger("user@example.com", "cfg-1"))
	require.NoError(t, repo.WriteLedger("user@example.com", "cfg-2"))

	entries, err := repo.LedgerEntries(0)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	for _, e := range entries {
		assert.True(t, e.AccessFlag)
	}
}

func TestListRequestsFilters(t *testing.T) {
	repo := setupTestRepo(t)

	a := pendingRequest("a@example.com", "data-platform", "cfg-1")
	require.NoError(t, repo.CreateRequest(a))
	b := pendingRequest("b@example.com", "data-platform", "cfg-2")
	b.Status = string(models.StatusProvisioned)
	require.NoError(t, repo.CreateRequest(b))

	all, err := repo.ListRequests("", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	pending, err := repo.ListRequests(string(models.StatusPendingApproval), "", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "a@example.com", pending[0].UserEmail)

	scoped, err := repo.ListRequests("", "cfg-2", 0)
	require.NoError(t, err)
	require.Len(t, scoped, 1)
	assert.Equal(t, "b@example.com", scoped[0].UserEmail)
}

func TestActiveConfigurationsFiltersInactive(t *testing.T) {
	repo := setupTestRepo(t)

	require.NoError(t, repo.DB().Create(&models.WorkflowConfig{
		ConfigID: "cfg-on", TeamAlias: "team-a", RequiredGroup: "group-a", MailboxID: 1, IsActive: true,
	}).Error)
	require.NoError(t, repo.DB().Create(&models.WorkflowConfig{
		ConfigID: "cfg-off", TeamAlias: "team-b", RequiredGroup: "group-b", MailboxID: 1, IsActive: false,
	}).Error)

	configs, err := repo.ActiveConfigurations()
	require.NoError(t, err)
	require.Len(t, configs, 1)
	assert.Equal(t, "cfg-on", configs[0].ConfigID)
}

func TestGetMailboxReturnsNilWhenMissing(t *testing.T) {
	repo := setupTestRepo(t)

	mb, err := repo.GetMailbox(42)
	require.NoError(t, err)
	assert.Nil(t, mb)

	require.NoError(t, repo.DB().Create(&models.Mailbox{
		IMAPUser: "approvals@example.com", IMAPHost: "imap.example.com", IMAPPort: 993,
	}).Error)

	mb, err = repo.GetMailbox(1)
	require.NoError(t, err)
	require.NotNil(t, mb)
	assert.Equal(t, "approvals@example.com", mb.IMAPUser)
}
