package reconcile

import (
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/shopspring/decimal"
)

// IssueBucket is one row of the flat issue breakdown keyed by code. Value is
// the summed monetary figure of the bucket's issues.
type IssueBucket struct {
	Code     models.IssueCode `json:"code"`
	Label    string           `json:"label"`
	Count    int              `json:"count"`
	Errors   int              `json:"errors"`
	Warnings int              `json:"warnings"`
	Fixable  int              `json:"fixable"`
	Value    decimal.Decimal  `json:"value"`
}

// issueMoney is the monetary figure an issue carries in its metadata.
// Validators store a decimal under one of these keys; persisted rows come
// back from JSON as strings or floats, which MetadataDecimal tolerates.
func issueMoney(issue models.ValidationIssue) decimal.Decimal {
	for _, key := range []string{"quoteTotal", "invoiceTotal", "totalValue", "dealValue"} {
		if v := issue.MetadataDecimal(key); !v.IsZero() {
			return v
		}
	}
	return decimal.Zero
}

// ValidationSummary is the aggregate view of one validation run. Derived
// purely from the issue list plus the already-fetched record snapshots;
// recomputed fresh each time, never persisted incrementally.
type ValidationSummary struct {
	TotalIssues  int `json:"totalIssues"`
	ErrorCount   int `json:"errorCount"`
	WarningCount int `json:"warningCount"`
	InfoCount    int `json:"infoCount"`
	FixableCount int `json:"fixableCount"`

	CountsByCode map[models.IssueCode]int         `json:"countsByCode"`
	Breakdown    map[models.IssueCode]IssueBucket `json:"breakdown"`

	DealCount    int `json:"dealCount"`
	QuoteCount   int `json:"quoteCount"`
	InvoiceCount int `json:"invoiceCount"`
	ProjectCount int `json:"projectCount"`

	WonDealsValue       decimal.Decimal `json:"wonDealsValue"`
	AcceptedQuotesValue decimal.Decimal `json:"acceptedQuotesValue"`
	InvoicesValue       decimal.Decimal `json:"invoicesValue"`
	ProjectsEstimate    decimal.Decimal `json:"projectsEstimate"`

	QuoteValueBreakdown ValueBreakdown `json:"quoteValueBreakdown"`
}

// RecordsExamined is the total number of records the run looked at across
// all four kinds.
func (s ValidationSummary) RecordsExamined() int {
	return s.DealCount + s.QuoteCount + s.InvoiceCount + s.ProjectCount
}

// Summarize reduces issues plus record snapshots into a ValidationSummary.
// It is safe to re-run on an issue subset (e.g. after a partial fix) against
// the record snapshots already held by the session.
func Summarize(issues []models.ValidationIssue, vc *ValidationContext, breakdown ValueBreakdown) ValidationSummary {
	summary := ValidationSummary{
		CountsByCode:        map[models.IssueCode]int{},
		Breakdown:           map[models.IssueCode]IssueBucket{},
		WonDealsValue:       decimal.Zero,
		AcceptedQuotesValue: decimal.Zero,
		InvoicesValue:       decimal.Zero,
		ProjectsEstimate:    decimal.Zero,
		QuoteValueBreakdown: breakdown,
	}

	for _, issue := range issues {
		summary.TotalIssues++
		switch issue.Severity {
		case models.IssueSeverityError:
			summary.ErrorCount++
		case models.IssueSeverityWarning:
			summary.WarningCount++
		default:
			summary.InfoCount++
		}
		if issue.Fixable {
			summary.FixableCount++
		}
		summary.CountsByCode[issue.Code]++

		bucket := summary.Breakdown[issue.Code]
		bucket.Code = issue.Code
		bucket.Label = models.IssueLabel(issue.Code)
		bucket.Count++
		if issue.Severity == models.IssueSeverityError {
			bucket.Errors++
		}
		if issue.Severity == models.IssueSeverityWarning {
			bucket.Warnings++
		}
		if issue.Fixable {
			bucket.Fixable++
		}
		bucket.Value = bucket.Value.Add(issueMoney(issue))
		summary.Breakdown[issue.Code] = bucket
	}

	if vc == nil {
		return summary
	}

	summary.DealCount = len(vc.Deals)
	summary.QuoteCount = len(vc.Quotes)
	summary.InvoiceCount = len(vc.Invoices)
	summary.ProjectCount = len(vc.Projects)

	for _, deal := range vc.WonDeals() {
		summary.WonDealsValue = summary.WonDealsValue.Add(deal.Value)
	}
	for _, quote := range vc.AcceptedQuotes() {
		summary.AcceptedQuotesValue = summary.AcceptedQuotesValue.Add(quote.Total)
	}
	for _, invoice := range vc.Invoices {
		if invoice.Status == models.InvoiceStatusVoided {
			continue
		}
		summary.InvoicesValue = summary.InvoicesValue.Add(invoice.Total)
	}
	for _, project := range vc.Projects {
		if project.Status != models.ProjectStatusInProgress {
			continue
		}
		summary.ProjectsEstimate = summary.ProjectsEstimate.Add(project.Estimate)
	}

	return summary
}
