package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/shopspring/decimal"
)

// QuoteReconciler holds accepted quotes against the deal book: orphans,
// broken back-references, duplicate titles, value disagreements, and the
// value-reconciliation breakdown that accounts for the aggregate delta.
type QuoteReconciler struct{}

func (QuoteReconciler) Name() string { return "reconcile-quotes" }

func (QuoteReconciler) Validate(vc *ValidationContext) []models.ValidationIssue {
	var issues []models.ValidationIssue

	ownerByQuoteId := quoteOwners(vc)

	for _, quote := range vc.AcceptedQuotes() {
		if _, ok := ParseQuoteNumber(quote.QuoteNumber); !ok {
			issues = append(issues, models.ValidationIssue{
				Code:         models.IssueAcceptedQuoteBadFormat,
				Severity:     models.IssueSeverityWarning,
				Message:      fmt.Sprintf("Accepted quote number %q does not follow PROJECTCODE-QUOTENUMBER-VERSION", quote.QuoteNumber),
				SubjectId:    quote.Id,
				SubjectType:  models.RecordKindQuote,
				CurrentValue: quote.QuoteNumber,
				Metadata: map[string]any{
					"currentFormat": quote.QuoteNumber,
					"quoteTotal":    quote.Total,
				},
			})
		}

		dealId := strings.TrimSpace(quote.DealId)
		if dealId != "" {
			if _, ok := vc.DealById[dealId]; !ok {
				issues = append(issues, models.ValidationIssue{
					Code:         models.IssueQuoteReferencesMissing,
					Severity:     models.IssueSeverityError,
					Message:      fmt.Sprintf("Quote %s references deal %s which does not exist", quote.QuoteNumber, dealId),
					SubjectId:    quote.Id,
					SubjectType:  models.RecordKindQuote,
					CurrentValue: dealId,
					Metadata: map[string]any{
						"referencedDealId": dealId,
						"quoteTotal":       quote.Total,
					},
				})
			}
		}

		owner, owned := ownerByQuoteId[quote.Id]
		if !owned {
			issues = append(issues, models.ValidationIssue{
				Code:        models.IssueQuoteOrphaned,
				Severity:    models.IssueSeverityWarning,
				Message:     fmt.Sprintf("Accepted quote %s (%s) has no owning deal", quote.QuoteNumber, quote.Total.StringFixed(2)),
				SubjectId:   quote.Id,
				SubjectType: models.RecordKindQuote,
				Metadata: map[string]any{
					"quoteNumber": quote.QuoteNumber,
					"quoteTotal":  quote.Total,
				},
			})
			continue
		}

		if !WithinEpsilon(quote.Total, owner.Value) {
			issues = append(issues, models.ValidationIssue{
				Code:          models.IssueQuoteValueMismatch,
				Severity:      models.IssueSeverityWarning,
				Message:       fmt.Sprintf("Quote %s total %s does not match deal %q value %s", quote.QuoteNumber, quote.Total.StringFixed(2), owner.Title, owner.Value.StringFixed(2)),
				SubjectId:     quote.Id,
				SubjectType:   models.RecordKindQuote,
				CurrentValue:  quote.Total.StringFixed(2),
				ExpectedValue: owner.Value.StringFixed(2),
				Metadata: map[string]any{
					"dealId":     owner.Id,
					"dealValue":  owner.Value,
					"quoteTotal": quote.Total,
					"delta":      quote.Total.Sub(owner.Value),
				},
			})
		}
	}

	issues = append(issues, duplicateGroupIssues(vc)...)

	return issues
}

// duplicateGroupIssues emits exactly one issue per duplicated side of a
// match key: two or more deals sharing a key produce one DUPLICATE_DEAL, two
// or more quotes one DUPLICATE_QUOTE. The first-encountered record of the
// side is the subject.
func duplicateGroupIssues(vc *ValidationContext) []models.ValidationIssue {
	keys := make([]string, 0, len(vc.DealQuoteMatch.Duplicates))
	for key := range vc.DealQuoteMatch.Duplicates {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var issues []models.ValidationIssue
	for _, key := range keys {
		var deals []models.Deal
		var quotes []models.Quote
		dealTotal := decimal.Zero
		quoteTotal := decimal.Zero
		for _, rec := range vc.DealQuoteMatch.Duplicates[key] {
			switch r := rec.(type) {
			case models.Deal:
				deals = append(deals, r)
				dealTotal = dealTotal.Add(r.Value)
			case models.Quote:
				quotes = append(quotes, r)
				quoteTotal = quoteTotal.Add(r.Total)
			}
		}

		if len(deals) >= 2 {
			dealIds := make([]string, 0, len(deals))
			for _, d := range deals {
				dealIds = append(dealIds, d.Id)
			}
			issues = append(issues, models.ValidationIssue{
				Code:        models.IssueDuplicateDeal,
				Severity:    models.IssueSeverityWarning,
				Message:     fmt.Sprintf("%d deals share the match key %q", len(deals), key),
				SubjectId:   deals[0].Id,
				SubjectType: models.RecordKindDeal,
				Metadata: map[string]any{
					"matchKey":   key,
					"count":      len(deals),
					"dealIds":    dealIds,
					"totalValue": dealTotal,
				},
			})
		}

		if len(quotes) >= 2 {
			quoteIds := make([]string, 0, len(quotes))
			for _, q := range quotes {
				quoteIds = append(quoteIds, q.Id)
			}
			issues = append(issues, models.ValidationIssue{
				Code:        models.IssueDuplicateQuote,
				Severity:    models.IssueSeverityWarning,
				Message:     fmt.Sprintf("%d quotes share the match key %q", len(quotes), key),
				SubjectId:   quotes[0].Id,
				SubjectType: models.RecordKindQuote,
				Metadata: map[string]any{
					"matchKey":   key,
					"count":      len(quotes),
					"quoteIds":   quoteIds,
					"totalValue": quoteTotal,
				},
			})
		}
	}
	return issues
}

// ValueBreakdown decomposes the aggregate monetary discrepancy between the
// accepted-quote book and the won-deal book into named, mutually exclusive
// causes. Orphaned + Duplicate + Matched always equals TotalAcceptedQuotes.
type ValueBreakdown struct {
	TotalAcceptedQuotesValue decimal.Decimal `json:"totalAcceptedQuotesValue"`
	OrphanedQuotesValue      decimal.Decimal `json:"orphanedQuotesValue"`
	DuplicateQuotesValue     decimal.Decimal `json:"duplicateQuotesValue"`
	MatchedQuotesValue       decimal.Decimal `json:"matchedQuotesValue"`

	TotalWonDealsValue   decimal.Decimal `json:"totalWonDealsValue"`
	MatchedMismatchDelta decimal.Decimal `json:"matchedMismatchDelta"`
	UnmatchedDealsValue  decimal.Decimal `json:"unmatchedDealsValue"`
	UnexplainedDelta     decimal.Decimal `json:"unexplainedDelta"`
}

// ReconcileQuoteValues computes the value-reconciliation breakdown. Every
// accepted quote lands in exactly one of the orphaned, duplicate, or matched
// buckets, so the conservation property holds by construction; whatever part
// of the quote-vs-deal delta those buckets do not account for is surfaced as
// UnexplainedDelta rather than lost.
func ReconcileQuoteValues(vc *ValidationContext) ValueBreakdown {
	var bd ValueBreakdown
	bd.TotalAcceptedQuotesValue = decimal.Zero
	bd.OrphanedQuotesValue = decimal.Zero
	bd.DuplicateQuotesValue = decimal.Zero
	bd.MatchedQuotesValue = decimal.Zero
	bd.TotalWonDealsValue = decimal.Zero
	bd.MatchedMismatchDelta = decimal.Zero
	bd.UnmatchedDealsValue = decimal.Zero

	accepted := vc.AcceptedQuotes()
	acceptedIds := make(map[string]bool, len(accepted))
	for _, q := range accepted {
		acceptedIds[q.Id] = true
	}

	// Non-primary members of quote duplicate groups.
	duplicateExtras := map[string]bool{}
	for _, group := range vc.DealQuoteMatch.Duplicates {
		seenPrimary := false
		for _, rec := range group {
			q, ok := rec.(models.Quote)
			if !ok || !acceptedIds[q.Id] {
				continue
			}
			if !seenPrimary {
				seenPrimary = true
				continue
			}
			duplicateExtras[q.Id] = true
		}
	}

	ownerByQuoteId := quoteOwners(vc)

	for _, quote := range accepted {
		bd.TotalAcceptedQuotesValue = bd.TotalAcceptedQuotesValue.Add(quote.Total)
		owner, owned := ownerByQuoteId[quote.Id]
		switch {
		case duplicateExtras[quote.Id]:
			bd.DuplicateQuotesValue = bd.DuplicateQuotesValue.Add(quote.Total)
		case !owned:
			bd.OrphanedQuotesValue = bd.OrphanedQuotesValue.Add(quote.Total)
		default:
			bd.MatchedQuotesValue = bd.MatchedQuotesValue.Add(quote.Total)
			if !WithinEpsilon(quote.Total, owner.Value) {
				bd.MatchedMismatchDelta = bd.MatchedMismatchDelta.Add(quote.Total.Sub(owner.Value))
			}
		}
	}

	owningDealIds := map[string]bool{}
	for quoteId, owner := range ownerByQuoteId {
		if acceptedIds[quoteId] {
			owningDealIds[owner.Id] = true
		}
	}
	for _, deal := range vc.WonDeals() {
		bd.TotalWonDealsValue = bd.TotalWonDealsValue.Add(deal.Value)
		if !owningDealIds[deal.Id] {
			bd.UnmatchedDealsValue = bd.UnmatchedDealsValue.Add(deal.Value)
		}
	}

	// quotes-minus-deals delta, net of every named cause.
	delta := bd.TotalAcceptedQuotesValue.Sub(bd.TotalWonDealsValue)
	explained := bd.OrphanedQuotesValue.
		Add(bd.DuplicateQuotesValue).
		Add(bd.MatchedMismatchDelta).
		Sub(bd.UnmatchedDealsValue)
	bd.UnexplainedDelta = delta.Sub(explained)

	return bd
}

// quoteOwners resolves the owning deal for each quote: a deal referencing
// the quote wins; a resolvable back-reference from the quote is the
// fallback.
func quoteOwners(vc *ValidationContext) map[string]models.Deal {
	owners := map[string]models.Deal{}
	for _, deal := range vc.Deals {
		quoteId := strings.TrimSpace(deal.QuoteId)
		if quoteId == "" {
			continue
		}
		if _, taken := owners[quoteId]; !taken {
			owners[quoteId] = deal
		}
	}
	for _, quote := range vc.Quotes {
		dealId := strings.TrimSpace(quote.DealId)
		if dealId == "" {
			continue
		}
		if _, taken := owners[quote.Id]; taken {
			continue
		}
		if deal, ok := vc.DealById[dealId]; ok {
			owners[quote.Id] = deal
		}
	}
	return owners
}
