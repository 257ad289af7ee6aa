package reconcile

import "bitbucket.org/mmdatafocus/recon_backend/models"

const (
	EventTypeProgress = "progress"
	EventTypeLog      = "log"
	EventTypeError    = "error"
	EventTypeComplete = "complete"
)

// CompleteData is the payload of the terminal complete event.
type CompleteData struct {
	Summary ValidationSummary        `json:"summary"`
	Issues  []models.ValidationIssue `json:"issues"`
}

// ProgressEvent is the typed stream the orchestrator emits in step order.
// Each run produces exactly one terminal complete or error event. The
// subscriber only mirrors state for a UI; the orchestrator remains the
// single source of truth.
type ProgressEvent struct {
	Type    string        `json:"type"`
	Step    *SyncStep     `json:"step,omitempty"`
	Status  StepStatus    `json:"status,omitempty"`
	Detail  string        `json:"detail,omitempty"`
	Message string        `json:"message,omitempty"`
	Details any           `json:"details,omitempty"`
	Data    *CompleteData `json:"data,omitempty"`
}
