package reconcile

import (
	"fmt"
	"strings"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

// InvoiceValidator checks invoice references for deals that cleared the
// deal/quote phase: reference presence, invoice existence, and deal-value
// versus invoice-total agreement within MoneyEpsilon.
type InvoiceValidator struct{}

func (InvoiceValidator) Name() string { return "validate-invoices" }

func (InvoiceValidator) Validate(vc *ValidationContext) []models.ValidationIssue {
	var issues []models.ValidationIssue

	for _, deal := range vc.WonDeals() {
		// Only deals already confirmed synced in the previous phase; an
		// unresolved quote reference makes invoice findings noise.
		if !vc.IsDealSynced(deal.Id) {
			continue
		}

		invoiceId := strings.TrimSpace(deal.InvoiceId)
		if invoiceId == "" {
			issues = append(issues, models.ValidationIssue{
				Code:        models.IssueMissingInvoiceId,
				Severity:    models.IssueSeverityError,
				Message:     fmt.Sprintf("Deal %q has no invoice ID", deal.Title),
				SubjectId:   deal.Id,
				SubjectType: models.RecordKindDeal,
				Metadata: map[string]any{
					"dealTitle": deal.Title,
					"dealValue": deal.Value,
				},
			})
			continue
		}

		invoice, ok := vc.InvoiceById[invoiceId]
		if !ok {
			issues = append(issues, models.ValidationIssue{
				Code:         models.IssueInvoiceNotFound,
				Severity:     models.IssueSeverityError,
				Message:      fmt.Sprintf("Deal %q references invoice %s which does not exist", deal.Title, invoiceId),
				SubjectId:    deal.Id,
				SubjectType:  models.RecordKindDeal,
				CurrentValue: invoiceId,
				Metadata: map[string]any{
					"dealTitle":           deal.Title,
					"referencedInvoiceId": invoiceId,
				},
			})
			continue
		}

		if WithinEpsilon(deal.Value, invoice.Total) {
			continue
		}
		issues = append(issues, models.ValidationIssue{
			Code:          models.IssueInvoiceValueMismatch,
			Severity:      models.IssueSeverityWarning,
			Message:       fmt.Sprintf("Deal %q value %s does not match invoice total %s", deal.Title, deal.Value.StringFixed(2), invoice.Total.StringFixed(2)),
			SubjectId:     deal.Id,
			SubjectType:   models.RecordKindDeal,
			CurrentValue:  deal.Value.StringFixed(2),
			ExpectedValue: invoice.Total.StringFixed(2),
			Metadata: map[string]any{
				"invoiceId":    invoice.Id,
				"dealValue":    deal.Value,
				"invoiceTotal": invoice.Total,
				"delta":        deal.Value.Sub(invoice.Total),
			},
		})
	}

	return issues
}
