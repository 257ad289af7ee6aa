package reconcile

import (
	"bitbucket.org/mmdatafocus/recon_backend/models"
)

// ValidationContext bundles everything a phase validator reads: raw record
// snapshots, id indexes, matcher output, and the tenant's strategy config.
// Built once per session; validators treat it as read-only except for
// MarkDealSynced, which the orchestrator calls between phases.
type ValidationContext struct {
	Config models.ValidatorConfig

	Deals    []models.Deal
	Quotes   []models.Quote
	Invoices []models.Invoice
	Projects []models.Project

	DealById    map[string]models.Deal
	QuoteById   map[string]models.Quote
	InvoiceById map[string]models.Invoice
	ProjectById map[string]models.Project

	// DealQuoteMatch pairs deals (left) with quotes (right) by title key.
	DealQuoteMatch MatchResult

	// syncedDealIds holds deals that cleared the deal/quote phase without an
	// error-severity issue. Later phases only consider these deals.
	syncedDealIds map[string]bool
}

func NewValidationContext(cfg models.ValidatorConfig, deals []models.Deal, quotes []models.Quote, invoices []models.Invoice, projects []models.Project) *ValidationContext {
	vc := &ValidationContext{
		Config:        cfg,
		Deals:         deals,
		Quotes:        quotes,
		Invoices:      invoices,
		Projects:      projects,
		DealById:      make(map[string]models.Deal, len(deals)),
		QuoteById:     make(map[string]models.Quote, len(quotes)),
		InvoiceById:   make(map[string]models.Invoice, len(invoices)),
		ProjectById:   make(map[string]models.Project, len(projects)),
		syncedDealIds: map[string]bool{},
	}
	for _, d := range deals {
		vc.DealById[d.Id] = d
	}
	for _, q := range quotes {
		vc.QuoteById[q.Id] = q
	}
	for _, inv := range invoices {
		vc.InvoiceById[inv.Id] = inv
	}
	for _, p := range projects {
		vc.ProjectById[p.Id] = p
	}

	leftRecords := make([]models.Record, 0, len(deals))
	for _, d := range deals {
		leftRecords = append(leftRecords, d)
	}
	rightRecords := make([]models.Record, 0, len(quotes))
	for _, q := range quotes {
		rightRecords = append(rightRecords, q)
	}
	vc.DealQuoteMatch = MatchRecords(leftRecords, rightRecords, cfg.MatchDelimiter)

	return vc
}

// MarkDealsSynced records which deals cleared the deal/quote phase. The
// orchestrator derives the set from phase-1 issues: any deal with an
// error-severity finding is excluded from later phases.
func (vc *ValidationContext) MarkDealsSynced(issues []models.ValidationIssue) {
	blocked := map[string]bool{}
	for _, issue := range issues {
		if issue.SubjectType == models.RecordKindDeal && issue.Severity == models.IssueSeverityError {
			blocked[issue.SubjectId] = true
		}
	}
	for _, d := range vc.Deals {
		if !blocked[d.Id] {
			vc.syncedDealIds[d.Id] = true
		}
	}
}

func (vc *ValidationContext) IsDealSynced(dealId string) bool {
	return vc.syncedDealIds[dealId]
}

// WonDeals filters the snapshot to deals that should carry accounting
// references. Open and lost deals are not expected to have quotes yet.
func (vc *ValidationContext) WonDeals() []models.Deal {
	won := make([]models.Deal, 0, len(vc.Deals))
	for _, d := range vc.Deals {
		if d.Status == models.DealStatusWon {
			won = append(won, d)
		}
	}
	return won
}

// AcceptedQuotes filters the snapshot to quotes in accepted (or invoiced)
// state, the only states the reconciler holds against deals.
func (vc *ValidationContext) AcceptedQuotes() []models.Quote {
	accepted := make([]models.Quote, 0, len(vc.Quotes))
	for _, q := range vc.Quotes {
		if q.Status == models.QuoteStatusAccepted || q.Status == models.QuoteStatusInvoiced {
			accepted = append(accepted, q)
		}
	}
	return accepted
}

// PhaseValidator is the shared contract for the four validation phases.
type PhaseValidator interface {
	Name() string
	Validate(vc *ValidationContext) []models.ValidationIssue
}
