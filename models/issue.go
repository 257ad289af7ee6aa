package models

import "github.com/shopspring/decimal"

type IssueSeverity string

const (
	IssueSeverityError   IssueSeverity = "error"
	IssueSeverityWarning IssueSeverity = "warning"
	IssueSeverityInfo    IssueSeverity = "info"
)

type IssueCode string

// Stable wire contract. Consumers must tolerate codes outside this set and
// render them under "Other Issues".
const (
	IssueMissingQuoteId         IssueCode = "MISSING_QUOTE_ID"
	IssueQuoteNotFound          IssueCode = "QUOTE_NOT_FOUND"
	IssueQuoteNumberNoProject   IssueCode = "XERO_QUOTE_NUMBER_NO_PROJECT"
	IssueMissingInvoiceId       IssueCode = "MISSING_INVOICE_ID"
	IssueInvoiceNotFound        IssueCode = "INVOICE_NOT_FOUND"
	IssueInvoiceValueMismatch   IssueCode = "INVOICE_VALUE_MISMATCH"
	IssueQuoteOrphaned          IssueCode = "QUOTE_ORPHANED"
	IssueQuoteReferencesMissing IssueCode = "QUOTE_REFERENCES_MISSING_DEAL"
	IssueQuoteValueMismatch     IssueCode = "QUOTE_VALUE_MISMATCH"
	IssueAcceptedQuoteBadFormat IssueCode = "ACCEPTED_QUOTE_INVALID_FORMAT"
	IssueDuplicateQuote         IssueCode = "DUPLICATE_QUOTE"
	IssueDuplicateDeal          IssueCode = "DUPLICATE_DEAL"
	IssueProjectNoQuotes        IssueCode = "PROJECT_NO_QUOTES"
	IssueEstimateMismatch       IssueCode = "ESTIMATE_MISMATCH"
	IssueDuplicateProjectCode   IssueCode = "DUPLICATE_PROJECT_CODE"
	IssueInvalidPipeline        IssueCode = "INVALID_PIPELINE"
)

var issueLabels = map[IssueCode]string{
	IssueMissingQuoteId:         "Missing Quote ID",
	IssueQuoteNotFound:          "Quote Not Found",
	IssueQuoteNumberNoProject:   "Quote Number Missing Project Code",
	IssueMissingInvoiceId:       "Missing Invoice ID",
	IssueInvoiceNotFound:        "Invoice Not Found",
	IssueInvoiceValueMismatch:   "Invoice Value Mismatch",
	IssueQuoteOrphaned:          "Orphaned Quote",
	IssueQuoteReferencesMissing: "Quote References Missing Deal",
	IssueQuoteValueMismatch:     "Quote Value Mismatch",
	IssueAcceptedQuoteBadFormat: "Accepted Quote Invalid Format",
	IssueDuplicateQuote:         "Duplicate Quote",
	IssueDuplicateDeal:          "Duplicate Deal",
	IssueProjectNoQuotes:        "Project Has No Quotes",
	IssueEstimateMismatch:       "Estimate Mismatch",
	IssueDuplicateProjectCode:   "Duplicate Project Code",
	IssueInvalidPipeline:        "Invalid Pipeline",
}

// IssueLabel returns a display label for a code. Unknown codes (newer
// producers than this consumer) fall back to "Other Issues".
func IssueLabel(code IssueCode) string {
	if label, ok := issueLabels[code]; ok {
		return label
	}
	return "Other Issues"
}

// ValidationIssue is a reconciliation finding. It is created by exactly one
// phase validator and never mutated afterwards.
type ValidationIssue struct {
	Code          IssueCode      `json:"code"`
	Severity      IssueSeverity  `json:"severity"`
	Message       string         `json:"message"`
	SubjectId     string         `json:"subjectId"`
	SubjectType   RecordKind     `json:"subjectType"`
	Fixable       bool           `json:"fixable"`
	FixAction     string         `json:"fixAction,omitempty"`
	CurrentValue  string         `json:"currentValue,omitempty"`
	ExpectedValue string         `json:"expectedValue,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// MetadataDecimal reads a decimal metadata entry, tolerating absent or
// foreign-typed values.
func (i ValidationIssue) MetadataDecimal(key string) decimal.Decimal {
	v, ok := i.Metadata[key]
	if !ok {
		return decimal.Zero
	}
	switch t := v.(type) {
	case decimal.Decimal:
		return t
	case string:
		if d, err := decimal.NewFromString(t); err == nil {
			return d
		}
	case float64:
		return decimal.NewFromFloat(t)
	}
	return decimal.Zero
}
