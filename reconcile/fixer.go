package reconcile

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/sirupsen/logrus"
)

type FixStatus string

const (
	FixStatusFixing  FixStatus = "fixing"
	FixStatusSuccess FixStatus = "success"
	FixStatusError   FixStatus = "error"
)

// FixOutcome is the per-issue result of one fix attempt. Independent of the
// issue's lifetime so retries are tracked separately.
type FixOutcome struct {
	SubjectId      string           `json:"subjectId"`
	IssueCode      models.IssueCode `json:"issueCode"`
	Status         FixStatus        `json:"status"`
	Message        string           `json:"message,omitempty"`
	IdempotencyKey string           `json:"idempotencyKey"`
}

// Mutation is the exact remote write for one fix, computed deterministically
// from the issue alone. The idempotency key makes re-submission after a
// crash or timeout a no-op on the remote system.
type Mutation struct {
	Action         string            `json:"action"`
	SubjectId      string            `json:"subjectId"`
	SubjectType    models.RecordKind `json:"subjectType"`
	Payload        map[string]any    `json:"payload"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

// Mutator is the injected mutation function. It must honour the idempotency
// key: repeated calls with the same key reach the same end state.
type Mutator func(ctx context.Context, m Mutation) error

// FixLedger provides durable idempotency across process restarts. skip=true
// means the fix already succeeded and must not be re-applied.
type FixLedger interface {
	Begin(tenantId string, handler string, key string) (skip bool, err error)
	Succeeded(tenantId string, handler string, key string) error
	Failed(tenantId string, handler string, key string, cause error) error
}

const fixHandlerName = "FixExecutor"

// FixIdempotencyKey derives the stable token for a fix from
// (subjectId, issueCode, expectedValue). Same issue, same key, always.
func FixIdempotencyKey(issue models.ValidationIssue) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		issue.SubjectId,
		string(issue.Code),
		issue.ExpectedValue,
	}, "|")))
	return hex.EncodeToString(sum[:])
}

// BuildMutation computes the mutation payload for a fixable issue from its
// metadata and expected value, never from ambient state.
func BuildMutation(issue models.ValidationIssue) (Mutation, error) {
	if !issue.Fixable {
		return Mutation{}, fmt.Errorf("issue %s on %s is not fixable", issue.Code, issue.SubjectId)
	}

	m := Mutation{
		SubjectId:      issue.SubjectId,
		SubjectType:    issue.SubjectType,
		IdempotencyKey: FixIdempotencyKey(issue),
	}

	switch issue.Code {
	case models.IssueQuoteNumberNoProject:
		m.Action = "update_quote"
		m.Payload = map[string]any{"quoteNumber": issue.ExpectedValue}
	case models.IssueEstimateMismatch:
		m.Action = "update_project_estimate"
		m.Payload = map[string]any{"estimate": issue.ExpectedValue}
	default:
		return Mutation{}, fmt.Errorf("no deterministic fix for issue code %s", issue.Code)
	}
	return m, nil
}

type FixExecutorOptions struct {
	// Ledger is optional; nil disables durable skip tracking.
	Ledger FixLedger
	// BatchSize bounds in-flight fixes (default 5); BatchDelay is the pause
	// between batches (default 1s).
	BatchSize  int
	BatchDelay time.Duration
}

// FixExecutor applies fixable issues through the injected mutator in
// fixed-size batches. Batch members run concurrently; batches are strictly
// sequential, which is the backpressure against the remote rate limit.
type FixExecutor struct {
	logger   *logrus.Logger
	tenantId string
	mutate   Mutator
	opts     FixExecutorOptions

	cancelled atomic.Bool
}

func NewFixExecutor(logger *logrus.Logger, tenantId string, mutate Mutator, opts FixExecutorOptions) *FixExecutor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.BatchDelay <= 0 {
		opts.BatchDelay = time.Second
	}
	return &FixExecutor{
		logger:   logger,
		tenantId: tenantId,
		mutate:   mutate,
		opts:     opts,
	}
}

// Cancel stops batch dispatch at the next batch boundary. Fixes already in
// flight complete; a hard abort could leave the remote system half-written.
func (e *FixExecutor) Cancel() {
	e.cancelled.Store(true)
}

// ApplyFix applies a single fixable issue. Errors are captured in the
// outcome, never returned: one failure must not abort a batch.
func (e *FixExecutor) ApplyFix(ctx context.Context, issue models.ValidationIssue) FixOutcome {
	outcome := FixOutcome{
		SubjectId: issue.SubjectId,
		IssueCode: issue.Code,
		Status:    FixStatusFixing,
	}

	m, err := BuildMutation(issue)
	if err != nil {
		outcome.Status = FixStatusError
		outcome.Message = err.Error()
		return outcome
	}
	outcome.IdempotencyKey = m.IdempotencyKey

	if e.opts.Ledger != nil {
		skip, err := e.opts.Ledger.Begin(e.tenantId, fixHandlerName, m.IdempotencyKey)
		if err != nil {
			outcome.Status = FixStatusError
			outcome.Message = err.Error()
			return outcome
		}
		if skip {
			outcome.Status = FixStatusSuccess
			outcome.Message = "fix already applied"
			return outcome
		}
	}

	if err := e.mutate(ctx, m); err != nil {
		outcome.Status = FixStatusError
		outcome.Message = err.Error()
		if e.opts.Ledger != nil {
			_ = e.opts.Ledger.Failed(e.tenantId, fixHandlerName, m.IdempotencyKey, err)
		}
		if e.logger != nil {
			e.logger.WithFields(logrus.Fields{
				"tenant":  e.tenantId,
				"subject": issue.SubjectId,
				"code":    issue.Code,
			}).Error(err.Error())
		}
		return outcome
	}

	if e.opts.Ledger != nil {
		if err := e.opts.Ledger.Succeeded(e.tenantId, fixHandlerName, m.IdempotencyKey); err != nil {
			// The remote write landed; a ledger bookkeeping failure only
			// costs an extra idempotent retry later.
			outcome.Status = FixStatusSuccess
			outcome.Message = "applied; ledger update failed: " + err.Error()
			return outcome
		}
	}

	outcome.Status = FixStatusSuccess
	return outcome
}

// ApplyFixes processes issues in batches of BatchSize. Batch k+1 never
// starts before every outcome of batch k is recorded. Cancellation is
// checked at each batch boundary; undispatched issues past that point are
// reported as errors rather than silently dropped.
func (e *FixExecutor) ApplyFixes(ctx context.Context, issues []models.ValidationIssue) []FixOutcome {
	outcomes := make([]FixOutcome, len(issues))

	for start := 0; start < len(issues); start += e.opts.BatchSize {
		end := start + e.opts.BatchSize
		if end > len(issues) {
			end = len(issues)
		}

		if e.cancelled.Load() || ctx.Err() != nil {
			for i := start; i < len(issues); i++ {
				outcomes[i] = FixOutcome{
					SubjectId: issues[i].SubjectId,
					IssueCode: issues[i].Code,
					Status:    FixStatusError,
					Message:   "cancelled before dispatch",
				}
			}
			return outcomes
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outcomes[i] = e.ApplyFix(ctx, issues[i])
			}(i)
		}
		wg.Wait()

		if end < len(issues) && e.opts.BatchDelay > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(e.opts.BatchDelay):
			}
		}
	}

	return outcomes
}
