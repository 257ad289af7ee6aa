package reconcile

import (
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/shopspring/decimal"
)

func issuesByCode(issues []models.ValidationIssue) map[models.IssueCode][]models.ValidationIssue {
	byCode := map[models.IssueCode][]models.ValidationIssue{}
	for _, issue := range issues {
		byCode[issue.Code] = append(byCode[issue.Code], issue)
	}
	return byCode
}

func TestDealQuoteValidatorMissingAndBrokenReferences(t *testing.T) {
	deals := []models.Deal{
		{Id: "d1", Title: "No Ref", Status: models.DealStatusWon, Value: decimal.NewFromInt(100)},
		{Id: "d2", Title: "Broken Ref", Status: models.DealStatusWon, QuoteId: "q-missing", Value: decimal.NewFromInt(200)},
		{Id: "d3", Title: "Healthy", Status: models.DealStatusWon, QuoteId: "q1", Value: decimal.NewFromInt(300)},
		{Id: "d4", Title: "Still Open", Status: models.DealStatusOpen},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "Healthy", QuoteNumber: "ACME01-1-1", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(300)},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, nil, nil)

	issues := DealQuoteValidator{}.Validate(vc)
	byCode := issuesByCode(issues)

	missing := byCode[models.IssueMissingQuoteId]
	if len(missing) != 1 || missing[0].SubjectId != "d1" {
		t.Fatalf("expected MISSING_QUOTE_ID on d1, got %+v", missing)
	}
	if missing[0].Severity != models.IssueSeverityError {
		t.Fatalf("missing quote id must be an error, got %s", missing[0].Severity)
	}

	notFound := byCode[models.IssueQuoteNotFound]
	if len(notFound) != 1 || notFound[0].SubjectId != "d2" {
		t.Fatalf("expected QUOTE_NOT_FOUND on d2, got %+v", notFound)
	}
	if notFound[0].Metadata["referencedQuoteId"] != "q-missing" {
		t.Fatalf("expected referencedQuoteId metadata, got %v", notFound[0].Metadata)
	}

	// Open deals are out of scope; the healthy won deal is clean.
	if len(issues) != 2 {
		t.Fatalf("expected exactly 2 issues, got %d: %+v", len(issues), issues)
	}
}

func TestDealQuoteValidatorQuoteNumberFormat(t *testing.T) {
	deals := []models.Deal{
		{Id: "d1", Title: "Acme Rollout", Status: models.DealStatusWon, QuoteId: "q1", ProjectCode: "ACME01", Value: decimal.NewFromInt(500)},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "Acme Rollout", QuoteNumber: "Q-204", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(500)},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, nil, nil)

	issues := DealQuoteValidator{}.Validate(vc)
	if len(issues) != 1 {
		t.Fatalf("expected 1 issue, got %d: %+v", len(issues), issues)
	}
	issue := issues[0]
	if issue.Code != models.IssueQuoteNumberNoProject {
		t.Fatalf("expected quote-number issue, got %s", issue.Code)
	}
	if issue.Severity != models.IssueSeverityWarning {
		t.Fatalf("format issue must be a warning, got %s", issue.Severity)
	}
	if !issue.Fixable || issue.FixAction != "update_quote_number" {
		t.Fatalf("expected a fixable issue with update_quote_number, got %+v", issue)
	}
	if issue.SubjectId != "q1" || issue.SubjectType != models.RecordKindQuote {
		t.Fatalf("fix subject must be the quote, got %s/%s", issue.SubjectType, issue.SubjectId)
	}
	// Sequence recovered from the digits of the current number.
	if issue.ExpectedValue != "ACME01-204-1" {
		t.Fatalf("expected value ACME01-204-1, got %q", issue.ExpectedValue)
	}
}

func TestDealQuoteValidatorWrongProjectCodeInNumber(t *testing.T) {
	deals := []models.Deal{
		{Id: "d1", Title: "Acme Rollout", Status: models.DealStatusWon, QuoteId: "q1", ProjectCode: "ACME01", Value: decimal.NewFromInt(500)},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "Acme Rollout", QuoteNumber: "OTHER-7-2", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(500)},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, nil, nil)

	issues := DealQuoteValidator{}.Validate(vc)
	if len(issues) != 1 || issues[0].Code != models.IssueQuoteNumberNoProject {
		t.Fatalf("expected quote-number issue for wrong project code, got %+v", issues)
	}
	if issues[0].ExpectedValue != "ACME01-7-1" {
		t.Fatalf("expected value ACME01-7-1, got %q", issues[0].ExpectedValue)
	}
}

func TestDealQuoteValidatorNoProjectCodeSkipsFormatCheck(t *testing.T) {
	deals := []models.Deal{
		{Id: "d1", Title: "Unscoped", Status: models.DealStatusWon, QuoteId: "q1", Value: decimal.NewFromInt(100)},
	}
	quotes := []models.Quote{
		{Id: "q1", Title: "Unscoped", QuoteNumber: "whatever", Status: models.QuoteStatusAccepted, Total: decimal.NewFromInt(100)},
	}
	vc := NewValidationContext(models.DefaultValidatorConfig(), deals, quotes, nil, nil)

	issues := DealQuoteValidator{}.Validate(vc)
	if len(issues) != 0 {
		t.Fatalf("deal without project code must skip the format check, got %+v", issues)
	}
}
