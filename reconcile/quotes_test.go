package reconcile

import (
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/shopspring/decimal"
)

func TestQuoteReconcilerFindings(t *testing.T) {
	deals := []models.Deal{
		{Id: "d1", Title: "Owned", Status: models.DealStatusWon, QuoteId: "q1", Value: decimal.NewFromInt(100)},
		{Id: "d2", Title: "Disagrees", Status: models.DealStatusWon, QuoteId: "q2", Value: decimal.NewFromInt(500)},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "Owned", QuoteNumber: "ACME01-1-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(100)},
		{Id: "q2", Title: "Disagrees", QuoteNumber: "ACME02-2-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(450)},
		{Id: "q3", Title: "Orphan", QuoteNumber: "bad format", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(75)},
		{Id: "q4", Title: "Ghost Ref", QuoteNumber: "ACME04-4-1", Status: models.QuoteStatusAccepted, DealId: "d-gone", Total: decimal.NewFromInt(60)},
		{Id: "q5", Title: "Draft", QuoteNumber: "nope", Status: models.QuoteStatusDraft, Total: decimal.NewFromInt(999)},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, nil, nil)

	byCode := issuesByCode(QuoteReconciler{}.Validate(vc))

	badFormat := byCode[models.IssueAcceptedQuoteBadFormat]
	if len(badFormat) != 1 || badFormat[0].SubjectId != "q3" {
		t.Fatalf("expected bad-format issue on q3 only, got %+v", badFormat)
	}

	ghost := byCode[models.IssueQuoteReferencesMissing]
	if len(ghost) != 1 || ghost[0].SubjectId != "q4" || ghost[0].Severity != models.IssueSeverityError {
		t.Fatalf("expected missing-deal error on q4, got %+v", ghost)
	}
	if ghost[0].Metadata["referencedDealId"] != "d-gone" {
		t.Fatalf("expected referencedDealId metadata, got %v", ghost[0].Metadata)
	}

	// q3 and q4 both lack an owning deal.
	orphans := byCode[models.IssueQuoteOrphaned]
	if len(orphans) != 2 {
		t.Fatalf("expected 2 orphan warnings, got %+v", orphans)
	}

	mismatch := byCode[models.IssueQuoteValueMismatch]
	if len(mismatch) != 1 || mismatch[0].SubjectId != "q2" {
		t.Fatalf("expected value mismatch on q2, got %+v", mismatch)
	}

	// Draft quotes are out of scope.
	for _, group := range byCode {
		for _, issue := range group {
			if issue.SubjectId == "q5" {
				t.Fatalf("draft quote must not be reported: %+v", issue)
			}
		}
	}
}

func TestQuoteReconcilerDuplicateGroupIssue(t *testing.T) {
	deals := []models.Deal{
		{Id: "d1", Title: "Client X", Status: models.DealStatusWon, QuoteId: "q1", Value: decimal.NewFromInt(100)},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "Client X", QuoteNumber: "ACME01-1-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(100)},
		{Id: "q2", Title: "Client X - Again", QuoteNumber: "ACME01-1-2", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(110)},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, nil, nil)

	byCode := issuesByCode(QuoteReconciler{}.Validate(vc))

	dup := byCode[models.IssueDuplicateQuote]
	if len(dup) != 1 {
		t.Fatalf("expected exactly one issue per duplicate group, got %+v", dup)
	}
	if dup[0].Metadata["count"] != 2 || dup[0].Metadata["matchKey"] != "clientx" {
		t.Fatalf("unexpected duplicate metadata: %v", dup[0].Metadata)
	}
}

func TestQuoteReconcilerDealSideDuplicateGroup(t *testing.T) {
	deals := []models.Deal{
		{Id: "d1", Title: "Client X - Phase 1", Status: models.DealStatusWon, QuoteId: "q1", Value: decimal.NewFromInt(100)},
		{Id: "d2", Title: "Client X - Phase 2", Status: models.DealStatusWon, QuoteId: "q1", Value: decimal.NewFromInt(100)},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "Client X - Build", QuoteNumber: "ACME01-1-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(100)},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, nil, nil)

	if got := len(vc.DealQuoteMatch.DuplicateGroup("clientx")); got != 2 {
		t.Fatalf("expected a deal duplicate group of 2, got %d", got)
	}

	issues := QuoteReconciler{}.Validate(vc)
	dup := issuesByCode(issues)[models.IssueDuplicateDeal]
	if len(dup) != 1 {
		t.Fatalf("expected exactly one duplicate-deal issue, got %d (issues: %+v)", len(dup), issues)
	}
	if dup[0].SubjectId != "d1" || dup[0].SubjectType != models.RecordKindDeal {
		t.Fatalf("subject must be the first-encountered deal, got %+v", dup[0])
	}
	if dup[0].Metadata["count"] != 2 || dup[0].Metadata["matchKey"] != "clientx" {
		t.Fatalf("unexpected duplicate metadata: %v", dup[0].Metadata)
	}

	// The quote itself is healthy: owned, matching value, valid number.
	if len(issues) != 1 {
		t.Fatalf("expected the duplicate-deal issue only, got %+v", issues)
	}
}

func TestReconcileQuoteValuesConservation(t *testing.T) {
	deals := []models.Deal{
		{Id: "d1", Title: "Client X", Status: models.DealStatusWon, QuoteId: "q1", Value: decimal.NewFromFloat(100.50)},
		{Id: "d2", Title: "Client Y", Status: models.DealStatusWon, QuoteId: "q3", Value: decimal.NewFromFloat(300)},
		{Id: "d3", Title: "Never Quoted", Status: models.DealStatusWon, Value: decimal.NewFromFloat(80)},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "Client X", QuoteNumber: "A-1-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromFloat(100.50)},
		{Id: "q2", Title: "Client X - Dup", QuoteNumber: "A-1-2", Status: models.QuoteStatusAccepted, Total: decimal.NewFromFloat(90)},
		{Id: "q3", Title: "Client Y", QuoteNumber: "B-2-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromFloat(275)},
		{Id: "q4", Title: "Orphan Co", QuoteNumber: "C-3-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromFloat(40)},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, nil, nil)

	bd := ReconcileQuoteValues(vc)

	// Every accepted quote lands in exactly one bucket.
	sum := bd.OrphanedQuotesValue.Add(bd.DuplicateQuotesValue).Add(bd.MatchedQuotesValue)
	if !sum.Equal(bd.TotalAcceptedQuotesValue) {
		t.Fatalf("bucket sum %s != total %s", sum, bd.TotalAcceptedQuotesValue)
	}

	if !bd.TotalAcceptedQuotesValue.Equal(decimal.NewFromFloat(505.50)) {
		t.Fatalf("total accepted quotes: got %s", bd.TotalAcceptedQuotesValue)
	}
	if !bd.TotalWonDealsValue.Equal(decimal.NewFromFloat(480.50)) {
		t.Fatalf("total won deals: got %s", bd.TotalWonDealsValue)
	}
	if !bd.OrphanedQuotesValue.Equal(decimal.NewFromFloat(40)) {
		t.Fatalf("orphaned value: got %s", bd.OrphanedQuotesValue)
	}
	if !bd.DuplicateQuotesValue.Equal(decimal.NewFromFloat(90)) {
		t.Fatalf("duplicate value: got %s", bd.DuplicateQuotesValue)
	}
	// q3 disagrees with d2 by -25.
	if !bd.MatchedMismatchDelta.Equal(decimal.NewFromFloat(-25)) {
		t.Fatalf("mismatch delta: got %s", bd.MatchedMismatchDelta)
	}
	if !bd.UnmatchedDealsValue.Equal(decimal.NewFromFloat(80)) {
		t.Fatalf("unmatched deals value: got %s", bd.UnmatchedDealsValue)
	}

	// The named causes fully account for the aggregate delta here.
	if !bd.UnexplainedDelta.IsZero() {
		t.Fatalf("expected fully explained delta, got %s", bd.UnexplainedDelta)
	}
}
