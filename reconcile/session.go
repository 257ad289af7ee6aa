package reconcile

import (
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

type SessionStatus string

const (
	SessionStatusIdle      SessionStatus = "idle"
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusError     StepStatus = "error"
	StepStatusSkipped   StepStatus = "skipped"
)

// SyncStep is one stage of a session. Mutated in place by the orchestrator
// only; progress subscribers receive copies.
type SyncStep struct {
	Id        string     `json:"id"`
	Name      string     `json:"name"`
	Status    StepStatus `json:"status"`
	Progress  int        `json:"progress"`
	Detail    string     `json:"detail,omitempty"`
	StartTime *time.Time `json:"startTime,omitempty"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// SyncSession is the in-memory state of one reconciliation run. Owned
// exclusively by the orchestrator instance that created it; discarded with
// the caller, never persisted (run history rows are a separate concern).
type SyncSession struct {
	Id       string                   `json:"id"`
	TenantId string                   `json:"tenantId"`
	Status   SessionStatus            `json:"status"`
	Steps    []*SyncStep              `json:"steps"`
	Summary  *ValidationSummary       `json:"summary,omitempty"`
	Issues   []models.ValidationIssue `json:"issues,omitempty"`
}

// Step ids, in execution order.
const (
	StepFetchDeals        = "fetch-deals"
	StepFetchAccounting   = "fetch-accounting"
	StepValidateDealQuote = "validate-deal-quote"
	StepValidateInvoices  = "validate-invoices"
	StepReconcileQuotes   = "reconcile-quotes"
	StepValidateProjects  = "validate-projects"
	StepAggregate         = "aggregate"
)

func newSessionSteps() []*SyncStep {
	names := []struct {
		id   string
		name string
	}{
		{StepFetchDeals, "Fetch CRM deals"},
		{StepFetchAccounting, "Fetch accounting records"},
		{StepValidateDealQuote, "Validate deal quotes"},
		{StepValidateInvoices, "Validate invoices"},
		{StepReconcileQuotes, "Reconcile accepted quotes"},
		{StepValidateProjects, "Validate projects"},
		{StepAggregate, "Aggregate results"},
	}
	steps := make([]*SyncStep, 0, len(names))
	for _, n := range names {
		steps = append(steps, &SyncStep{Id: n.id, Name: n.name, Status: StepStatusPending})
	}
	return steps
}

func (s *SyncSession) step(id string) *SyncStep {
	for _, st := range s.Steps {
		if st.Id == id {
			return st
		}
	}
	return nil
}
