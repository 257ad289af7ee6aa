package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

func fixableQuoteIssue(subjectId, expected string) models.ValidationIssue {
	return models.ValidationIssue{
		Code:          models.IssueQuoteNumberNoProject,
		Severity:      models.IssueSeverityWarning,
		SubjectId:     subjectId,
		SubjectType:   models.RecordKindQuote,
		Fixable:       true,
		FixAction:     "update_quote_number",
		CurrentValue:  "Q-1",
		ExpectedValue: expected,
	}
}

func TestFixIdempotencyKeyIsStable(t *testing.T) {
	issue := fixableQuoteIssue("q1", "ACME01-1-1")
	first := FixIdempotencyKey(issue)
	if len(first) != 64 {
		t.Fatalf("expected sha256 hex key, got %q", first)
	}
	for i := 0; i < 50; i++ {
		if got := FixIdempotencyKey(issue); got != first {
			t.Fatalf("key not stable: %q vs %q", got, first)
		}
	}

	// Any input component changes the key.
	if FixIdempotencyKey(fixableQuoteIssue("q2", "ACME01-1-1")) == first {
		t.Fatal("different subject must produce a different key")
	}
	if FixIdempotencyKey(fixableQuoteIssue("q1", "ACME01-2-1")) == first {
		t.Fatal("different expected value must produce a different key")
	}
	other := fixableQuoteIssue("q1", "ACME01-1-1")
	other.Code = models.IssueEstimateMismatch
	if FixIdempotencyKey(other) == first {
		t.Fatal("different code must produce a different key")
	}
}

func TestBuildMutationPayloads(t *testing.T) {
	quoteFix := fixableQuoteIssue("q1", "ACME01-1-1")
	m, err := BuildMutation(quoteFix)
	if err != nil {
		t.Fatalf("quote mutation: %v", err)
	}
	if m.Action != "update_quote" || m.SubjectId != "q1" {
		t.Fatalf("unexpected mutation: %+v", m)
	}
	if m.Payload["quoteNumber"] != "ACME01-1-1" {
		t.Fatalf("unexpected payload: %v", m.Payload)
	}
	if m.IdempotencyKey != FixIdempotencyKey(quoteFix) {
		t.Fatal("mutation must carry the issue's idempotency key")
	}

	estimateFix := models.ValidationIssue{
		Code:          models.IssueEstimateMismatch,
		SubjectId:     "p1",
		SubjectType:   models.RecordKindProject,
		Fixable:       true,
		FixAction:     "update_project_estimate",
		ExpectedValue: "1500.00",
	}
	m, err = BuildMutation(estimateFix)
	if err != nil {
		t.Fatalf("estimate mutation: %v", err)
	}
	if m.Action != "update_project_estimate" || m.Payload["estimate"] != "1500.00" {
		t.Fatalf("unexpected mutation: %+v", m)
	}

	if _, err := BuildMutation(models.ValidationIssue{Code: models.IssueQuoteOrphaned, SubjectId: "q9"}); err == nil {
		t.Fatal("non-fixable issue must not build a mutation")
	}
}

func TestNewFixExecutorDefaults(t *testing.T) {
	executor := NewFixExecutor(nil, "tenant-1", func(ctx context.Context, m Mutation) error {
		return nil
	}, FixExecutorOptions{})
	if executor.opts.BatchSize != 5 {
		t.Fatalf("default batch size: got %d", executor.opts.BatchSize)
	}
	if executor.opts.BatchDelay != time.Second {
		t.Fatalf("default batch delay: got %s", executor.opts.BatchDelay)
	}
}

func TestApplyFixCapturesMutatorError(t *testing.T) {
	executor := NewFixExecutor(nil, "tenant-1", func(ctx context.Context, m Mutation) error {
		return errors.New("books rejected the write")
	}, FixExecutorOptions{})

	outcome := executor.ApplyFix(context.Background(), fixableQuoteIssue("q1", "ACME01-1-1"))
	if outcome.Status != FixStatusError {
		t.Fatalf("expected error outcome, got %+v", outcome)
	}
	if outcome.Message != "books rejected the write" {
		t.Fatalf("unexpected message: %q", outcome.Message)
	}
	if outcome.IdempotencyKey == "" {
		t.Fatal("failed outcomes still carry the key for retry")
	}
}

type fakeLedger struct {
	mu        sync.Mutex
	succeeded map[string]bool
	begins    int
}

func (l *fakeLedger) Begin(tenantId, handler, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.begins++
	return l.succeeded[key], nil
}

func (l *fakeLedger) Succeeded(tenantId, handler, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.succeeded == nil {
		l.succeeded = map[string]bool{}
	}
	l.succeeded[key] = true
	return nil
}

func (l *fakeLedger) Failed(tenantId, handler, key string, cause error) error { return nil }

func TestApplyFixSkipsAlreadyAppliedViaLedger(t *testing.T) {
	ledger := &fakeLedger{}
	calls := 0
	executor := NewFixExecutor(nil, "tenant-1", func(ctx context.Context, m Mutation) error {
		calls++
		return nil
	}, FixExecutorOptions{Ledger: ledger})

	issue := fixableQuoteIssue("q1", "ACME01-1-1")

	first := executor.ApplyFix(context.Background(), issue)
	if first.Status != FixStatusSuccess || calls != 1 {
		t.Fatalf("first apply: %+v calls=%d", first, calls)
	}

	second := executor.ApplyFix(context.Background(), issue)
	if second.Status != FixStatusSuccess {
		t.Fatalf("second apply: %+v", second)
	}
	if calls != 1 {
		t.Fatalf("replay must not reach the mutator, calls=%d", calls)
	}
	if second.Message != "fix already applied" {
		t.Fatalf("unexpected replay message: %q", second.Message)
	}
}

func TestApplyFixesBatchesSequentially(t *testing.T) {
	const batchSize = 5
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0
	var batchOf = map[string]int{}
	batch := 0
	started := 0

	mutate := func(ctx context.Context, m Mutation) error {
		mu.Lock()
		if started%batchSize == 0 {
			batch++
		}
		started++
		batchOf[m.SubjectId] = batch
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}

	issues := make([]models.ValidationIssue, 0, 12)
	for i := 0; i < 12; i++ {
		issues = append(issues, fixableQuoteIssue(fmt.Sprintf("q%d", i), "ACME01-1-1"))
	}

	executor := NewFixExecutor(nil, "tenant-1", mutate, FixExecutorOptions{BatchSize: batchSize, BatchDelay: time.Millisecond})
	outcomes := executor.ApplyFixes(context.Background(), issues)

	if len(outcomes) != 12 {
		t.Fatalf("expected 12 outcomes, got %d", len(outcomes))
	}
	for i, outcome := range outcomes {
		if outcome.Status != FixStatusSuccess {
			t.Fatalf("outcome %d: %+v", i, outcome)
		}
		if outcome.SubjectId != issues[i].SubjectId {
			t.Fatalf("outcome order broken at %d: %+v", i, outcome)
		}
	}

	if maxInFlight > batchSize {
		t.Fatalf("in-flight fixes exceeded the batch size: %d", maxInFlight)
	}
	// 12 issues at batch size 5: batches of 5, 5, 2.
	mu.Lock()
	defer mu.Unlock()
	if batch != 3 {
		t.Fatalf("expected 3 batches, got %d", batch)
	}
	// A member of the last batch never starts before the first batch is full.
	if batchOf["q10"] != 3 || batchOf["q11"] != 3 {
		t.Fatalf("tail issues ran in the wrong batch: %v", batchOf)
	}
}

func TestApplyFixesCancellationAtBatchBoundary(t *testing.T) {
	var executor *FixExecutor
	mutate := func(ctx context.Context, m Mutation) error {
		executor.Cancel()
		return nil
	}

	issues := make([]models.ValidationIssue, 0, 7)
	for i := 0; i < 7; i++ {
		issues = append(issues, fixableQuoteIssue(fmt.Sprintf("q%d", i), "ACME01-1-1"))
	}

	executor = NewFixExecutor(nil, "tenant-1", mutate, FixExecutorOptions{BatchSize: 5, BatchDelay: time.Millisecond})
	outcomes := executor.ApplyFixes(context.Background(), issues)

	if len(outcomes) != 7 {
		t.Fatalf("expected 7 outcomes, got %d", len(outcomes))
	}
	// First batch completes; the cancel lands before the second dispatches.
	for i := 0; i < 5; i++ {
		if outcomes[i].Status != FixStatusSuccess {
			t.Fatalf("first-batch outcome %d: %+v", i, outcomes[i])
		}
	}
	for i := 5; i < 7; i++ {
		if outcomes[i].Status != FixStatusError || outcomes[i].Message != "cancelled before dispatch" {
			t.Fatalf("undispatched outcome %d: %+v", i, outcomes[i])
		}
	}
}

func TestApplyFixesOneFailureDoesNotAbortBatch(t *testing.T) {
	mutate := func(ctx context.Context, m Mutation) error {
		if m.SubjectId == "q1" {
			return errors.New("boom")
		}
		return nil
	}

	issues := []models.ValidationIssue{
		fixableQuoteIssue("q0", "A-1-1"),
		fixableQuoteIssue("q1", "A-1-1"),
		fixableQuoteIssue("q2", "A-1-1"),
	}

	executor := NewFixExecutor(nil, "tenant-1", mutate, FixExecutorOptions{BatchSize: 3})
	outcomes := executor.ApplyFixes(context.Background(), issues)

	if outcomes[0].Status != FixStatusSuccess || outcomes[2].Status != FixStatusSuccess {
		t.Fatalf("siblings must succeed: %+v", outcomes)
	}
	if outcomes[1].Status != FixStatusError {
		t.Fatalf("expected q1 to fail: %+v", outcomes[1])
	}
}
