package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var (
	ErrSessionNotIdle = errors.New("a sync session is already running")
	ErrSessionHalted  = errors.New("sync session halted on fetch error")
)

// SyncResult is the final output of a run. Outputs computed before a
// cancellation or halt are retained.
type SyncResult struct {
	SessionId string                   `json:"sessionId"`
	TenantId  string                   `json:"tenantId"`
	Status    SessionStatus            `json:"status"`
	Steps     []SyncStep               `json:"steps"`
	Summary   ValidationSummary        `json:"summary"`
	Issues    []models.ValidationIssue `json:"issues"`
}

// OrchestratorOptions tune a single orchestrator instance.
type OrchestratorOptions struct {
	// OnEvent receives the typed progress stream. Called synchronously on
	// every step transition; must not block for long.
	OnEvent func(ProgressEvent)
	// HaltOnFetchError fails the session on the first fetch error instead of
	// degrading that phase to an empty record set.
	HaltOnFetchError bool
}

// Orchestrator sequences the validation phases for one session at a time.
// Phases never run concurrently with each other: phase N reads phase N-1's
// matched output.
type Orchestrator struct {
	logger  *logrus.Logger
	sources DataSources
	cfg     models.ValidatorConfig
	opts    OrchestratorOptions

	mu        sync.Mutex
	session   *SyncSession
	cancelled atomic.Bool
}

func NewOrchestrator(logger *logrus.Logger, sources DataSources, cfg models.ValidatorConfig, opts OrchestratorOptions) *Orchestrator {
	return &Orchestrator{
		logger:  logger,
		sources: sources,
		cfg:     cfg,
		opts:    opts,
	}
}

// Session returns the current session state, nil before the first Run.
func (o *Orchestrator) Session() *SyncSession {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

// Cancel asks the in-flight run to stop at its next safe checkpoint
// (phase boundaries). In-flight network calls are allowed to complete.
func (o *Orchestrator) Cancel() {
	o.cancelled.Store(true)
}

// Run executes the full pipeline for a tenant. It is the single logical
// thread of control for the session; long operations suspend on ctx but two
// phases never overlap.
func (o *Orchestrator) Run(ctx context.Context, tenantId string) (*SyncResult, error) {
	o.mu.Lock()
	if o.session != nil && o.session.Status == SessionStatusRunning {
		o.mu.Unlock()
		return nil, ErrSessionNotIdle
	}
	session := &SyncSession{
		Id:       uuid.NewString(),
		TenantId: tenantId,
		Status:   SessionStatusRunning,
		Steps:    newSessionSteps(),
	}
	o.session = session
	o.cancelled.Store(false)
	o.mu.Unlock()

	o.logf("starting sync session %s for tenant %s", session.Id, tenantId)

	// fetch-deals
	var deals []models.Deal
	if o.checkCancelled() {
		return o.finishCancelled(session), nil
	}
	o.startStep(session, StepFetchDeals)
	if !o.cfg.CrmEnabled {
		o.skipStep(session, StepFetchDeals, "CRM integration disabled for tenant")
	} else {
		fetched, err := o.sources.FetchDeals(ctx)
		switch {
		case errors.Is(err, ErrIntegrationDisabled):
			o.skipStep(session, StepFetchDeals, "CRM integration disabled for tenant")
		case err != nil:
			if halted := o.failStep(session, StepFetchDeals, err); halted {
				return o.finishFailed(session, err), ErrSessionHalted
			}
		default:
			deals = fetched
			o.completeStep(session, StepFetchDeals, fmt.Sprintf("%d deals", len(deals)))
		}
	}

	// fetch-accounting
	var (
		quotes   []models.Quote
		invoices []models.Invoice
		projects []models.Project
	)
	if o.checkCancelled() {
		return o.finishCancelled(session), nil
	}
	o.startStep(session, StepFetchAccounting)
	fetchErrs := 0
	if fetched, err := o.sources.FetchQuotes(ctx); err != nil {
		fetchErrs++
		o.emitLog(fmt.Sprintf("quote fetch failed: %v; continuing with empty quote set", err))
	} else {
		quotes = fetched
	}
	if fetched, err := o.sources.FetchInvoices(ctx); err != nil {
		fetchErrs++
		o.emitLog(fmt.Sprintf("invoice fetch failed: %v; continuing with empty invoice set", err))
	} else {
		invoices = fetched
	}
	if fetched, err := o.sources.FetchProjects(ctx); err != nil {
		fetchErrs++
		o.emitLog(fmt.Sprintf("project fetch failed: %v; continuing with empty project set", err))
	} else {
		projects = fetched
	}
	if fetchErrs > 0 {
		err := fmt.Errorf("%d accounting fetches failed", fetchErrs)
		if halted := o.failStep(session, StepFetchAccounting, err); halted {
			return o.finishFailed(session, err), ErrSessionHalted
		}
	} else {
		o.completeStep(session, StepFetchAccounting,
			fmt.Sprintf("%d quotes, %d invoices, %d projects", len(quotes), len(invoices), len(projects)))
	}

	vc := NewValidationContext(o.cfg, deals, quotes, invoices, projects)
	var issues []models.ValidationIssue
	var breakdown ValueBreakdown

	phases := []PhaseValidator{
		DealQuoteValidator{},
		InvoiceValidator{},
		QuoteReconciler{},
		ProjectValidator{},
	}
	for i, phase := range phases {
		if o.checkCancelled() {
			session.Issues = issues
			return o.finishCancelled(session), nil
		}
		o.startStep(session, phase.Name())
		phaseIssues := phase.Validate(vc)
		issues = append(issues, phaseIssues...)
		if i == 0 {
			// Invoice validation only considers deals the first phase confirmed.
			vc.MarkDealsSynced(phaseIssues)
		}
		if _, ok := phase.(QuoteReconciler); ok {
			breakdown = ReconcileQuoteValues(vc)
		}
		o.completeStep(session, phase.Name(), fmt.Sprintf("%d issues", len(phaseIssues)))
	}

	// aggregate
	if o.checkCancelled() {
		session.Issues = issues
		return o.finishCancelled(session), nil
	}
	o.startStep(session, StepAggregate)
	summary := Summarize(issues, vc, breakdown)
	session.Summary = &summary
	session.Issues = issues
	o.completeStep(session, StepAggregate, fmt.Sprintf("%d issues total", summary.TotalIssues))

	session.Status = SessionStatusCompleted
	result := o.buildResult(session)
	o.emit(ProgressEvent{
		Type: EventTypeComplete,
		Data: &CompleteData{Summary: result.Summary, Issues: result.Issues},
	})
	o.logf("sync session %s completed with %d issues", session.Id, summary.TotalIssues)
	return result, nil
}

func (o *Orchestrator) checkCancelled() bool {
	return o.cancelled.Load()
}

func (o *Orchestrator) finishCancelled(session *SyncSession) *SyncResult {
	session.Status = SessionStatusCancelled
	for _, step := range session.Steps {
		if step.Status == StepStatusPending {
			step.Status = StepStatusSkipped
		}
	}
	if session.Summary == nil && len(session.Issues) > 0 {
		summary := Summarize(session.Issues, nil, ValueBreakdown{})
		session.Summary = &summary
	}
	result := o.buildResult(session)
	// Cancellation is not a fault; earlier outputs stay valid.
	o.emit(ProgressEvent{
		Type: EventTypeComplete,
		Data: &CompleteData{Summary: result.Summary, Issues: result.Issues},
	})
	o.logf("sync session %s cancelled", session.Id)
	return result
}

func (o *Orchestrator) finishFailed(session *SyncSession, cause error) *SyncResult {
	session.Status = SessionStatusFailed
	for _, step := range session.Steps {
		if step.Status == StepStatusPending {
			step.Status = StepStatusSkipped
		}
	}
	result := o.buildResult(session)
	o.emit(ProgressEvent{
		Type:    EventTypeError,
		Message: cause.Error(),
	})
	return result
}

func (o *Orchestrator) buildResult(session *SyncSession) *SyncResult {
	steps := make([]SyncStep, 0, len(session.Steps))
	for _, step := range session.Steps {
		steps = append(steps, *step)
	}
	var summary ValidationSummary
	if session.Summary != nil {
		summary = *session.Summary
	}
	return &SyncResult{
		SessionId: session.Id,
		TenantId:  session.TenantId,
		Status:    session.Status,
		Steps:     steps,
		Summary:   summary,
		Issues:    session.Issues,
	}
}

func (o *Orchestrator) startStep(session *SyncSession, id string) {
	step := session.step(id)
	if step == nil {
		return
	}
	now := time.Now()
	step.Status = StepStatusRunning
	step.StartTime = &now
	o.emitStep(step)
}

func (o *Orchestrator) completeStep(session *SyncSession, id string, detail string) {
	step := session.step(id)
	if step == nil {
		return
	}
	now := time.Now()
	step.Status = StepStatusCompleted
	step.Progress = 100
	step.Detail = detail
	step.EndTime = &now
	o.emitStep(step)
}

func (o *Orchestrator) skipStep(session *SyncSession, id string, detail string) {
	step := session.step(id)
	if step == nil {
		return
	}
	now := time.Now()
	step.Status = StepStatusSkipped
	step.Detail = detail
	step.EndTime = &now
	o.emitStep(step)
	o.emitLog(detail)
}

// failStep marks the step, reports it, and returns whether the session must
// halt. A non-halting fetch failure degrades the phase to an empty set with
// a visible warning so the operator still gets the remaining results.
func (o *Orchestrator) failStep(session *SyncSession, id string, err error) bool {
	step := session.step(id)
	if step == nil {
		return false
	}
	now := time.Now()
	step.Status = StepStatusError
	step.Error = err.Error()
	step.EndTime = &now
	o.emitStep(step)
	if o.logger != nil {
		o.logger.WithFields(logrus.Fields{
			"step":   id,
			"tenant": session.TenantId,
		}).Error(err.Error())
	}
	if o.opts.HaltOnFetchError {
		return true
	}
	o.emitLog(fmt.Sprintf("step %s failed (%v); continuing with empty data", id, err))
	return false
}

func (o *Orchestrator) emitStep(step *SyncStep) {
	copied := *step
	o.emit(ProgressEvent{
		Type:   EventTypeProgress,
		Step:   &copied,
		Status: step.Status,
		Detail: step.Detail,
	})
}

func (o *Orchestrator) emitLog(message string) {
	o.emit(ProgressEvent{Type: EventTypeLog, Message: message})
}

func (o *Orchestrator) emit(event ProgressEvent) {
	if o.opts.OnEvent != nil {
		o.opts.OnEvent(event)
	}
}

func (o *Orchestrator) logf(format string, args ...any) {
	if o.logger != nil {
		o.logger.WithFields(logrus.Fields{"module": "reconcile"}).Infof(format, args...)
	}
}
