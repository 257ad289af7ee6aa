package reconcile

import (
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/models"
	"github.com/shopspring/decimal"
)

func testDeal(id, title string, value float64) models.Deal {
	return models.Deal{
		Id:     id,
		Title:  title,
		Value:  decimal.NewFromFloat(value),
		Status: models.DealStatusWon,
	}
}

func testQuote(id, title, number string, total float64) models.Quote {
	return models.Quote{
		Id:          id,
		Title:       title,
		QuoteNumber: number,
		Total:       decimal.NewFromFloat(total),
		Status:      models.QuoteStatusAccepted,
	}
}

func asRecords[T models.Record](items []T) []models.Record {
	out := make([]models.Record, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}

func TestMatchRecordsPartitions(t *testing.T) {
	deals := []models.Deal{
		testDeal("d1", "Client X - Phase 2", 100),
		testDeal("d2", "Client Y", 200),
		testDeal("d3", "Only In CRM", 300),
	}
	quotes := []models.Quote{
		testQuote("q1", "Client X", "ACME01-1-1", 100),
		testQuote("q2", "Client Y - Rollout", "ACME02-2-1", 200),
		testQuote("q3", "Only In Books", "ACME03-3-1", 300),
	}

	result := MatchRecords(asRecords(deals), asRecords(quotes), DefaultMatchDelimiter)

	if len(result.Matched) != 2 {
		t.Fatalf("expected 2 matched pairs, got %d", len(result.Matched))
	}
	if result.Matched[0].Key != "clientx" || result.Matched[0].Right.RecordID() != "q1" {
		t.Fatalf("unexpected first pair: %+v", result.Matched[0])
	}
	if len(result.OnlyLeft) != 1 || result.OnlyLeft[0].RecordID() != "d3" {
		t.Fatalf("unexpected OnlyLeft: %+v", result.OnlyLeft)
	}
	if len(result.OnlyRight) != 1 || result.OnlyRight[0].RecordID() != "q3" {
		t.Fatalf("unexpected OnlyRight: %+v", result.OnlyRight)
	}
	if len(result.Duplicates) != 0 {
		t.Fatalf("expected no duplicates, got %v", result.Duplicates)
	}
}

func TestMatchRecordsEmptyKeysNeverMatch(t *testing.T) {
	deals := []models.Deal{testDeal("d1", "   ", 10)}
	quotes := []models.Quote{testQuote("q1", " - suffix only", "N-1-1", 10)}

	result := MatchRecords(asRecords(deals), asRecords(quotes), DefaultMatchDelimiter)

	if len(result.Matched) != 0 {
		t.Fatalf("empty keys must not match, got %+v", result.Matched)
	}
	if len(result.OnlyLeft) != 1 || len(result.OnlyRight) != 1 {
		t.Fatalf("expected both records in Only buckets, got left=%d right=%d", len(result.OnlyLeft), len(result.OnlyRight))
	}
}

func TestMatchRecordsDuplicateGroups(t *testing.T) {
	deals := []models.Deal{
		testDeal("d1", "Client X - A", 100),
	}
	quotes := []models.Quote{
		testQuote("q1", "Client X", "ACME01-1-1", 100),
		testQuote("q2", "Client X - Again", "ACME01-1-2", 110),
		testQuote("q3", "Client X - Third", "ACME01-1-3", 120),
	}

	result := MatchRecords(asRecords(deals), asRecords(quotes), DefaultMatchDelimiter)

	// The deal pairs with the first-encountered quote.
	if len(result.Matched) != 1 || result.Matched[0].Right.RecordID() != "q1" {
		t.Fatalf("expected pair with q1, got %+v", result.Matched)
	}

	group := result.DuplicateGroup("clientx")
	if len(group) != 3 {
		t.Fatalf("expected duplicate group of 3, got %d", len(group))
	}
	if result.DuplicateGroup("nosuchkey") != nil {
		t.Fatal("expected nil group for unknown key")
	}
}

func TestMatchRecordsDuplicatesOnBothSides(t *testing.T) {
	deals := []models.Deal{
		testDeal("d1", "Client X", 100),
		testDeal("d2", "Client X - Second", 150),
	}
	quotes := []models.Quote{
		testQuote("q1", "Client X", "ACME01-1-1", 100),
	}

	result := MatchRecords(asRecords(deals), asRecords(quotes), DefaultMatchDelimiter)

	// Both duplicate deals pair with the single quote.
	if len(result.Matched) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(result.Matched))
	}
	group := result.DuplicateGroup("clientx")
	if len(group) != 2 {
		t.Fatalf("expected left-side duplicate group of 2, got %d", len(group))
	}
}
