package reconcile

import (
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

// DealQuoteValidator checks that every won deal carries a resolvable quote
// reference and that the referenced quote's number follows the
// PROJECTCODE-QUOTENUMBER-VERSION convention for the deal's project.
type DealQuoteValidator struct{}

func (DealQuoteValidator) Name() string { return "validate-deal-quote" }

func (DealQuoteValidator) Validate(vc *ValidationContext) []models.ValidationIssue {
	var issues []models.ValidationIssue

	for _, deal := range vc.WonDeals() {
		quoteId := strings.TrimSpace(deal.QuoteId)
		if quoteId == "" {
			issues = append(issues, models.ValidationIssue{
				Code:        models.IssueMissingQuoteId,
				Severity:    models.IssueSeverityError,
				Message:     fmt.Sprintf("Deal %q has no quote ID", deal.Title),
				SubjectId:   deal.Id,
				SubjectType: models.RecordKindDeal,
				Metadata: map[string]any{
					"dealTitle": deal.Title,
					"dealValue": deal.Value,
				},
			})
			continue
		}

		quote, ok := vc.QuoteById[quoteId]
		if !ok {
			issues = append(issues, models.ValidationIssue{
				Code:         models.IssueQuoteNotFound,
				Severity:     models.IssueSeverityError,
				Message:      fmt.Sprintf("Deal %q references quote %s which does not exist", deal.Title, quoteId),
				SubjectId:    deal.Id,
				SubjectType:  models.RecordKindDeal,
				CurrentValue: quoteId,
				Metadata: map[string]any{
					"dealTitle":         deal.Title,
					"referencedQuoteId": quoteId,
				},
			})
			continue
		}

		projectCode := strings.ToUpper(strings.TrimSpace(deal.ProjectCode))
		if projectCode == "" {
			continue
		}
		parts, formatOk := ParseQuoteNumber(quote.QuoteNumber)
		if formatOk && parts.ProjectCode == projectCode {
			continue
		}
		expected := ExpectedQuoteNumber(projectCode, quote.QuoteNumber)
		issues = append(issues, models.ValidationIssue{
			Code:          models.IssueQuoteNumberNoProject,
			Severity:      models.IssueSeverityWarning,
			Message:       fmt.Sprintf("Quote number %q does not carry project code %s", quote.QuoteNumber, projectCode),
			SubjectId:     quote.Id,
			SubjectType:   models.RecordKindQuote,
			Fixable:       true,
			FixAction:     "update_quote_number",
			CurrentValue:  quote.QuoteNumber,
			ExpectedValue: expected,
			Metadata: map[string]any{
				"dealId":        deal.Id,
				"projectCode":   projectCode,
				"currentFormat": quote.QuoteNumber,
			},
		})
	}

	return issues
}
