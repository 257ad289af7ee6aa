package reconcile

import (
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/shopspring/decimal"
)

func TestInvoiceValidatorSkipsUnsyncedDeals(t *testing.T) {
	deals := []models.Deal{
		// d1 fails the deal/quote phase (no quote ref) and must be skipped here.
		{Id: "d1", Title: "Broken", Status: models.DealStatusWon, Value: decimal.NewFromInt(100)},
		{Id: "d2", Title: "Healthy", Status: models.DealStatusWon, QuoteId: "q1", InvoiceId: "inv1", Value: decimal.NewFromInt(200)},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "Healthy", QuoteNumber: "ACME01-1-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(200)},
	}
	invoices := []models.Invoice{
		{Id: "inv1", Reference: "Healthy", Total: decimal.NewFromInt(200), Status: models.InvoiceStatusPaid},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, invoices, nil)

	phase1 := DealQuoteValidator{}.Validate(vc)
	vc.MarkDealsSynced(phase1)

	if vc.IsDealSynced("d1") {
		t.Fatal("d1 has an error-severity phase-1 issue and must not be synced")
	}
	if !vc.IsDealSynced("d2") {
		t.Fatal("d2 is clean and must be synced")
	}

	// d1 has no invoice reference either, but skipped deals produce nothing.
	issues := InvoiceValidator{}.Validate(vc)
	if len(issues) != 0 {
		t.Fatalf("expected no invoice issues, got %+v", issues)
	}
}

func TestInvoiceValidatorMissingAndBrokenReferences(t *testing.T) {
	deals := []models.Deal{
		{Id: "d1", Title: "No Invoice", Status: models.DealStatusWon, QuoteId: "q1", Value: decimal.NewFromInt(100)},
		{Id: "d2", Title: "Broken Invoice", Status: models.DealStatusWon, QuoteId: "q2", InvoiceId: "inv-missing", Value: decimal.NewFromInt(200)},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "No Invoice", QuoteNumber: "A-1-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(100)},
		{Id: "q2", Title: "Broken Invoice", QuoteNumber: "B-2-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(200)},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, nil, nil)
	vc.MarkDealsSynced(nil)

	byCode := issuesByCode(InvoiceValidator{}.Validate(vc))

	missing := byCode[models.IssueMissingInvoiceId]
	if len(missing) != 1 || missing[0].SubjectId != "d1" || missing[0].Severity != models.IssueSeverityError {
		t.Fatalf("expected MISSING_INVOICE_ID error on d1, got %+v", missing)
	}
	notFound := byCode[models.IssueInvoiceNotFound]
	if len(notFound) != 1 || notFound[0].SubjectId != "d2" {
		t.Fatalf("expected INVOICE_NOT_FOUND on d2, got %+v", notFound)
	}
}

func TestInvoiceValidatorValueComparisonUsesEpsilon(t *testing.T) {
	deals := []models.Deal{
		{Id: "d1", Title: "Rounding", Status: models.DealStatusWon, QuoteId: "q1", InvoiceId: "inv1", Value: decimal.NewFromFloat(100.00)},
		{Id: "d2", Title: "Real Gap", Status: models.DealStatusWon, QuoteId: "q2", InvoiceId: "inv2", Value: decimal.NewFromFloat(100.00)},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "Rounding", QuoteNumber: "A-1-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromFloat(100.00)},
		{Id: "q2", Title: "Real Gap", QuoteNumber: "B-2-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromFloat(100.00)},
	}
	invoices := []models.Invoice{
		// Within the 0.01 tolerance.
		{Id: "inv1", Reference: "Rounding", Total: decimal.NewFromFloat(100.01), Status: models.InvoiceStatusAuthorised},
		// Outside it.
		{Id: "inv2", Reference: "Real Gap", Total: decimal.NewFromFloat(100.02), Status: models.InvoiceStatusAuthorised},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, invoices, nil)
	vc.MarkDealsSynced(nil)

	issues := InvoiceValidator{}.Validate(vc)
	if len(issues) != 1 {
		t.Fatalf("expected exactly 1 mismatch, got %d: %+v", len(issues), issues)
	}
	issue := issues[0]
	if issue.Code != models.IssueInvoiceValueMismatch || issue.SubjectId != "d2" {
		t.Fatalf("expected INVOICE_VALUE_MISMATCH on d2, got %+v", issue)
	}
	if issue.Severity != models.IssueSeverityWarning || issue.Fixable {
		t.Fatalf("value mismatch must be a non-fixable warning, got %+v", issue)
	}
}
