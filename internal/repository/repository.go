package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"mail-onboarding-go/internal/models"
)

// watermarkOverlap is subtracted from the stored watermark on read so that
// messages arriving around a crash are re-seen; the dedup store makes the
// re-read harmless.
const watermarkOverlap = 30 * time.Second

type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle for health checks.
func (r *Repository) DB() *gorm.DB {
	return r.db
}

// ActiveConfigurations returns all workflow configs with is_active = true.
func (r *Repository) ActiveConfigurations() ([]models.WorkflowConfig, error) {
	var configs []models.WorkflowConfig
	if err := r.db.Where("is_active = ?", true).Find(&configs).Error; err != nil {
		return nil, fmt.Errorf("failed to load active configurations: %w", err)
	}
	return configs, nil
}

// GetMailbox fetches a single mailbox credential row by id.
func (r *Repository) GetMailbox(id uint) (*models.Mailbox, error) {
	var mb models.Mailbox
	if err := r.db.First(&mb, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load mailbox %d: %w", id, err)
	}
	return &mb, nil
}

// ClaimMessageID records a message id in the dedup store. It returns true
// when this call inserted the row, false when the id was already claimed.
func (r *Repository) ClaimMessageID(messageID string) (bool, error) {
	result := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "message_id"}},
		DoNothing: true,
	}).Create(&models.ProcessedMessage{
		MessageID:   messageID,
		ProcessedAt: time.Now(),
	})
	if result.Error != nil {
		return false, fmt.Errorf("failed to claim message id: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// IsMessageProcessed checks the dedup store without claiming.
func (r *Repository) IsMessageProcessed(messageID string) (bool, error) {
	var processed models.ProcessedMessage
	err := r.db.Where("message_id = ?", messageID).First(&processed).Error
	if err == nil {
		return true, nil
	}
	if err == gorm.ErrRecordNotFound {
		return false, nil
	}
	return false, fmt.Errorf("database error checking processed message: %w", err)
}

func watermarkKey(mailboxID uint) string {
	return fmt.Sprintf("last_check_mailbox_%d", mailboxID)
}

// GetWatermark returns the last-confirmed scan floor for a mailbox, with the
// safety overlap applied. On first run it falls back to now minus the
// configured lookback window.
func (r *Repository) GetWatermark(mailboxID uint, lookbackDays int) (time.Time, error) {
	var state models.AppState
	err := r.db.Where("key = ?", watermarkKey(mailboxID)).First(&state).Error
	if err == nil {
		t, perr := time.Parse(time.RFC3339, state.Value)
		if perr != nil {
			return time.Time{}, fmt.Errorf("malformed watermark for mailbox %d: %w", mailboxID, perr)
		}
		return t.Add(-watermarkOverlap), nil
	}
	if err == gorm.ErrRecordNotFound {
		return time.Now().AddDate(0, 0, -lookbackDays), nil
	}
	return time.Time{}, fmt.Errorf("failed to read watermark: %w", err)
}

// SetWatermark stores the new scan floor for a mailbox.
func (r *Repository) SetWatermark(mailboxID uint, t time.Time) error {
	state := models.AppState{Key: watermarkKey(mailboxID), Value: t.UTC().Format(time.RFC3339)}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&state).Error
	if err != nil {
		return fmt.Errorf("failed to update watermark: %w", err)
	}
	return nil
}

// FindOpenRequest returns the newest non-terminal request for the
// (email, group, config) triple, or nil.
func (r *Repository) FindOpenRequest(email, group, configID string) (*models.OnboardingRequest, error) {
	var req models.OnboardingRequest
	err := r.db.
		Where("user_email = ? AND requested_group = ? AND config_id = ?", email, group, configID).
		Where("status NOT IN ?", terminalStatusStrings()).
		Order("created_at DESC").
		First(&req).Error
	if err == nil {
		return &req, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to find open request: %w", err)
}

// FindOpenRequestByUser returns the most recently updated non-terminal
// request for a user across the given configs. Used to resolve decision
// replies when the classifier could not extract the group.
func (r *Repository) FindOpenRequestByUser(email string, configIDs []string) (*models.OnboardingRequest, error) {
	var req models.OnboardingRequest
	err := r.db.
		Where("user_email = ? AND config_id IN ?", email, configIDs).
		Where("status NOT IN ?", terminalStatusStrings()).
		Order("updated_at DESC").
		First(&req).Error
	if err == nil {
		return &req, nil
	}
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to find open request for user: %w", err)
}

// CreateRequest inserts a new onboarding request row.
func (r *Repository) CreateRequest(req *models.OnboardingRequest) error {
	if err := r.db.Create(req).Error; err != nil {
		return fmt.Errorf("failed to create onboarding request: %w", err)
	}
	return nil
}

// SaveRequest persists all mutable fields of a request. The updated_at column
// refreshes automatically.
func (r *Repository) SaveRequest(req *models.OnboardingRequest) error {
	if err := r.db.Save(req).Error; err != nil {
		return fmt.Errorf("failed to save onboarding request %d: %w", req.ID, err)
	}
	return nil
}

// RecordDuplicate bumps request_count on the canonical row and inserts a
// DUPLICATE marker row pointing back at it.
func (r *Repository) RecordDuplicate(canonical *models.OnboardingRequest, note string) (*models.OnboardingRequest, error) {
	dup := &models.OnboardingRequest{
		UserEmail:           canonical.UserEmail,
		RequestedGroup:      canonical.RequestedGroup,
		ConfigID:            canonical.ConfigID,
		Status:              string(models.StatusDuplicate),
		CurrentStage:        canonical.CurrentStage,
		DuplicateOf:         &canonical.ID,
		LastActivityDetails: note,
	}
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.OnboardingRequest{}).
			Where("id = ?", canonical.ID).
			UpdateColumn("request_count", gorm.Expr("request_count + 1"))
		if res.Error != nil {
			return res.Error
		}
		return tx.Create(dup).Error
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record duplicate request: %w", err)
	}
	canonical.RequestCount++
	return dup, nil
}

// OpenRequestsForConfig returns every non-terminal request owned by a config.
func (r *Repository) OpenRequestsForConfig(configID string) ([]models.OnboardingRequest, error) {
	var reqs []models.OnboardingRequest
	err := r.db.
		Where("config_id = ? AND status NOT IN ?", configID, terminalStatusStrings()).
		Order("created_at ASC").
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list open requests: %w", err)
	}
	return reqs, nil
}

// RequestsDueReminder returns pending requests whose last update is older
// than the reminder threshold.
func (r *Repository) RequestsDueReminder(configID string, threshold time.Duration) ([]models.OnboardingRequest, error) {
	var reqs []models.OnboardingRequest
	cutoff := time.Now().Add(-threshold)
	err := r.db.
		Where("config_id = ? AND status = ? AND updated_at < ?", configID, string(models.StatusPendingApproval), cutoff).
		Find(&reqs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list requests due reminder: %w", err)
	}
	return reqs, nil
}

// WriteLedger upserts the permanent provisioning ledger row for a user.
func (r *Repository) WriteLedger(email, configID string) error {
	entry := models.OnboardingLogEntry{
		Email:      email,
		ConfigID:   configID,
		AccessFlag: true,
		CreatedAt:  time.Now(),
	}
	err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "email"}, {Name: "config_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"access_flag": true}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("failed to write onboarding ledger: %w", err)
	}
	return nil
}

// ListRequests returns requests filtered by optional status and config id,
// newest first.
func (r *Repository) ListRequests(status, configID string, limit int) ([]models.OnboardingRequest, error) {
	q := r.db.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if configID != "" {
		q = q.Where("config_id = ?", configID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var reqs []models.OnboardingRequest
	if err := q.Find(&reqs).Error; err != nil {
		return nil, fmt.Errorf("failed to list requests: %w", err)
	}
	return reqs, nil
}

// GetRequest fetches one request by id.
func (r *Repository) GetRequest(id uint) (*models.OnboardingRequest, error) {
	var req models.OnboardingRequest
	if err := r.db.First(&req, id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get request %d: %w", id, err)
	}
	return &req, nil
}

// LedgerEntries returns the provisioning ledger, newest first.
func (r *Repository) LedgerEntries(limit int) ([]models.OnboardingLogEntry, error) {
	q := r.db.Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []models.OnboardingLogEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	return entries, nil
}

func terminalStatusStrings() []string {
	out := make([]string, len(models.TerminalStatuses))
	for i, s := range models.TerminalStatuses {
		out[i] = string(s)
	}
	return out
}
