package models

import (
	"time"

	"gorm.io/datatypes"
)

// Mailbox holds the transport credentials shared by zero or more workflow
// configurations. Read-only for the engine; administered externally.
type Mailbox struct {
	ID          uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	Description string `json:"description" gorm:"type:text"`

	IMAPHost string `json:"imap_host" gorm:"type:varchar(255)"`
	IMAPPort int    `json:"imap_port"`
	IMAPUser string `json:"imap_user" gorm:"type:varchar(255)"`
	IMAPPass string `json:"-" gorm:"type:varchar(255)"`

	SMTPHost string `json:"smtp_host" gorm:"type:varchar(255)"`
	SMTPPort int    `json:"smtp_port"`
	SMTPUser string `json:"smtp_user" gorm:"type:varchar(255)"`
	SMTPPass string `json:"-" gorm:"type:varchar(255)"`

	// Gmail API transport, used instead of IMAP/SMTP when set.
	UseGmailAPI       bool   `json:"use_gmail_api" gorm:"default:false"`
	GmailClientID     string `json:"-" gorm:"type:varchar(255)"`
	GmailClientSecret string `json:"-" gorm:"type:varchar(255)"`
	GmailRefreshToken string `json:"-" gorm:"type:varchar(255)"`
	GmailUserEmail    string `json:"gmail_user_email" gorm:"type:varchar(255)"`
}

// TableName specifies the table name for Mailbox
func (Mailbox) TableName() string {
	return "mailboxes"
}

// TargetDBConfig describes the connection to a team's target datastore.
type TargetDBConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"dbname"`
	// Path is used by file-backed targets (sqlite).
	Path string `json:"path,omitempty"`
}

// ColumnMappings maps logical user fields onto the target table's columns.
type ColumnMappings struct {
	EmailColumn  string            `json:"email_column"`
	ActiveColumn string            `json:"active_column"`
	// Defaults are extra column -> literal value pairs written on provisioning.
	Defaults map[string]string `json:"defaults,omitempty"`
}

// WorkflowConfig is the rule set for one team's onboarding process. Many
// configs may share one mailbox.
type WorkflowConfig struct {
	ConfigID      string        `json:"config_id" gorm:"primaryKey;type:varchar(100)"`
	Description   string        `json:"description" gorm:"type:text"`
	IsActive      bool          `json:"is_active" gorm:"default:true"`
	TeamAlias     string        `json:"team_alias" gorm:"type:varchar(100);not null"`
	RequiredGroup string        `json:"required_group" gorm:"type:varchar(255)"`
	ApprovalStages StageSpecList `json:"approval_stages" gorm:"type:jsonb"`
	MailboxID     uint          `json:"mailbox_id" gorm:"index"`

	TargetDBType   string                              `json:"target_db_type" gorm:"type:varchar(50)"`
	TargetDBConfig datatypes.JSONType[TargetDBConfig]  `json:"target_db_config"`
	TargetTable    string                              `json:"target_table" gorm:"type:varchar(255)"`
	ColumnMappings datatypes.JSONType[ColumnMappings]  `json:"column_mappings"`
}

// TableName specifies the table name for WorkflowConfig
func (WorkflowConfig) TableName() string {
	return "workflow_configs"
}

// Stages returns the ordered approval stage kinds, falling back to the
// default manager-then-owners chain when the config does not set one.
func (c *WorkflowConfig) Stages() []StageSpec {
	if len(c.ApprovalStages) > 0 {
		return c.ApprovalStages
	}
	return []StageSpec{{Kind: StageLineManager}, {Kind: StageGroupOwners}}
}

// OnboardingRequest tracks one onboarding request through its lifecycle.
type OnboardingRequest struct {
	ID             uint   `json:"id" gorm:"primaryKey;autoIncrement"`
	UserEmail      string `json:"user_email" gorm:"type:varchar(255);not null;index:idx_request_scope,priority:1"`
	RequestedGroup string `json:"requested_group" gorm:"type:varchar(100);not null;index:idx_request_scope,priority:2"`
	ConfigID       string `json:"config_id" gorm:"type:varchar(100);not null;index:idx_request_scope,priority:3"`

	Status       string `json:"status" gorm:"type:varchar(50);not null"`
	CurrentStage int    `json:"current_stage" gorm:"default:1"`

	StageApprovals     StageApprovalSet `json:"stage_approvals" gorm:"type:jsonb"`
	DelegatedApprovers DelegationList   `json:"delegated_approvers" gorm:"type:jsonb"`

	// DuplicateOf is a lookup-only back-reference to the canonical row.
	DuplicateOf  *uint  `json:"duplicate_of,omitempty"`
	RequestCount int    `json:"request_count" gorm:"default:1"`
	RetryCount   int    `json:"retry_count" gorm:"default:0"`

	LastActivityDetails string `json:"last_activity_details" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName specifies the table name for OnboardingRequest
func (OnboardingRequest) TableName() string {
	return "onboarding_requests"
}

// ProcessedMessage records a consumed inbound message id. Append-only; a
// recorded id is never reprocessed, even across restarts.
type ProcessedMessage struct {
	ID          uint      `json:"id" gorm:"primaryKey;autoIncrement"`
	MessageID   string    `json:"message_id" gorm:"type:varchar(998);not null;uniqueIndex"`
	ProcessedAt time.Time `json:"processed_at"`
}

// TableName specifies the table name for ProcessedMessage
func (ProcessedMessage) TableName() string {
	return "processed_messages"
}

// OnboardingLogEntry is the permanent provisioning ledger, one row per
// (email, config_id), written on successful provisioning.
type OnboardingLogEntry struct {
	Email      string    `json:"email" gorm:"primaryKey;type:varchar(255)"`
	ConfigID   string    `json:"config_id" gorm:"primaryKey;type:varchar(100)"`
	AccessFlag bool      `json:"access_flag" gorm:"default:false"`
	CreatedAt  time.Time `json:"created_at"`
}

// TableName specifies the table name for OnboardingLogEntry
func (OnboardingLogEntry) TableName() string {
	return "onboarding_log"
}

// AppState is a generic key/value store, used for per-mailbox scan watermarks.
type AppState struct {
	Key   string `json:"key" gorm:"primaryKey;type:varchar(255)"`
	Value string `json:"value" gorm:"type:text;not null"`
}

// TableName specifies the table name for AppState
func (AppState) TableName() string {
	return "app_state"
}

// EmailMessage represents an inbound email surfaced by a fetcher.
type EmailMessage struct {
	ID        string            `json:"id"`
	Subject   string            `json:"subject"`
	From      string            `json:"from"`
	To        []string          `json:"to"`
	Body      string            `json:"body"`
	HTMLBody  string            `json:"html_body"`
	Headers   map[string]string `json:"headers"`
	Timestamp time.Time         `json:"timestamp"`
}
