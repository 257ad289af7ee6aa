package models

import "time"

const (
	SyncRunStatusQueued    = "queued"
	SyncRunStatusRunning   = "running"
	SyncRunStatusCompleted = "completed"
	SyncRunStatusFailed    = "failed"
	SyncRunStatusCancelled = "cancelled"
)

const (
	SyncTriggeredManual = "manual"
	SyncTriggeredRetry  = "retry"
	SyncTriggeredSystem = "system"
)

// SyncRun is the durable history row for one reconciliation session.
type SyncRun struct {
	ID              uint       `gorm:"primary_key" json:"id"`
	TenantId        string     `gorm:"index;not null" json:"tenant_id"`
	SessionId       string     `gorm:"size:64;index" json:"session_id"`
	Status          string     `gorm:"size:20;not null" json:"status"`
	TriggeredBy     string     `gorm:"size:20" json:"triggered_by"`
	RecordsExamined int        `json:"records_examined"`
	IssueCount      int        `json:"issue_count"`
	ErrorCount      int        `json:"error_count"`
	SummaryJSON     []byte     `gorm:"type:json" json:"summary"`
	ParentRunId     *uint      `gorm:"index" json:"parent_run_id"`
	StartedAt       *time.Time `json:"started_at"`
	FinishedAt      *time.Time `json:"finished_at"`
	DurationMs      int64      `json:"duration_ms"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// SyncRunError records a step-level fault (fetch failure, phase fault) for a run.
type SyncRunError struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	SyncRunId uint      `gorm:"index;not null" json:"sync_run_id"`
	TenantId  string    `gorm:"index;not null" json:"tenant_id"`
	Step      string    `gorm:"size:50" json:"step"`
	ErrorCode string    `gorm:"size:64" json:"error_code"`
	Message   string    `gorm:"type:text" json:"message"`
	Retryable bool      `gorm:"default:false" json:"retryable"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// IssueRow is the persisted snapshot of one ValidationIssue for a run.
type IssueRow struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	SyncRunId     uint      `gorm:"index;not null" json:"sync_run_id"`
	TenantId      string    `gorm:"index;not null" json:"tenant_id"`
	Code          string    `gorm:"size:64;index;not null" json:"code"`
	Severity      string    `gorm:"size:10;not null" json:"severity"`
	Message       string    `gorm:"type:text" json:"message"`
	SubjectId     string    `gorm:"size:128;index" json:"subject_id"`
	SubjectType   string    `gorm:"size:20" json:"subject_type"`
	Fixable       bool      `gorm:"default:false" json:"fixable"`
	FixAction     string    `gorm:"size:255" json:"fix_action"`
	CurrentValue  string    `gorm:"size:255" json:"current_value"`
	ExpectedValue string    `gorm:"size:255" json:"expected_value"`
	MetadataJSON  []byte    `gorm:"type:json" json:"metadata"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// FixOutcomeRow is the audit row for one attempted fix. Independent of the
// issue snapshot so retries are tracked separately.
type FixOutcomeRow struct {
	ID             uint      `gorm:"primary_key" json:"id"`
	TenantId       string    `gorm:"index;not null" json:"tenant_id"`
	SyncRunId      *uint     `gorm:"index" json:"sync_run_id"`
	SubjectId      string    `gorm:"size:128;index;not null" json:"subject_id"`
	IssueCode      string    `gorm:"size:64;not null" json:"issue_code"`
	IdempotencyKey string    `gorm:"size:64;index" json:"idempotency_key"`
	Status         string    `gorm:"size:10;not null" json:"status"`
	Message        string    `gorm:"type:text" json:"message"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
