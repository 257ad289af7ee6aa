package reconcile

import "bitbucket.org/mmdatafocus/recon_backend/models"

type ConnectRequest struct {
	CrmBaseURL   string `json:"crmBaseUrl"`
	CrmApiKey    string `json:"crmApiKey"`
	BooksBaseURL string `json:"booksBaseUrl" validate:"required"`
	BooksApiKey  string `json:"booksApiKey" validate:"required"`
}

type UpdateSettingsRequest struct {
	Settings models.ValidatorConfig `json:"settings"`
}

type TriggerSyncRequest struct {
	TriggeredBy string `json:"triggeredBy" validate:"omitempty,oneof=manual retry system"`
}

type ApplyFixesRequest struct {
	RunId      uint     `json:"runId" validate:"required"`
	IssueCodes []string `json:"issueCodes"`
	SubjectIds []string `json:"subjectIds"`
}

type StatusResponse struct {
	Status      string                 `json:"status"`
	Settings    models.ValidatorConfig `json:"settings"`
	LastRunAt   *string                `json:"lastRunAt"`
	LiveSession *SyncSession           `json:"liveSession,omitempty"`
}

type SyncRunResponse struct {
	ID              uint    `json:"id"`
	SessionId       string  `json:"sessionId"`
	Status          string  `json:"status"`
	TriggeredBy     string  `json:"triggeredBy"`
	StartedAt       *string `json:"startedAt"`
	FinishedAt      *string `json:"finishedAt"`
	DurationMs      int64   `json:"durationMs"`
	RecordsExamined int     `json:"recordsExamined"`
	IssueCount      int     `json:"issueCount"`
	ErrorCount      int     `json:"errorCount"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

type SyncErrorResponse struct {
	ID        uint   `json:"id"`
	Step      string `json:"step"`
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

type IssueResponse struct {
	ID            uint           `json:"id"`
	Code          string         `json:"code"`
	Label         string         `json:"label"`
	Severity      string         `json:"severity"`
	Message       string         `json:"message"`
	SubjectId     string         `json:"subjectId"`
	SubjectType   string         `json:"subjectType"`
	Fixable       bool           `json:"fixable"`
	FixAction     string         `json:"fixAction,omitempty"`
	CurrentValue  string         `json:"currentValue,omitempty"`
	ExpectedValue string         `json:"expectedValue,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type SyncRunDetailResponse struct {
	SyncRunResponse
	Summary *ValidationSummary  `json:"summary,omitempty"`
	Errors  []SyncErrorResponse `json:"errors"`
	Issues  []IssueResponse     `json:"issues"`
}

type ApplyFixesResponse struct {
	Outcomes []FixOutcome `json:"outcomes"`
}
