package models

import "github.com/shopspring/decimal"

type RecordKind string

const (
	RecordKindDeal    RecordKind = "deal"
	RecordKindQuote   RecordKind = "quote"
	RecordKindInvoice RecordKind = "invoice"
	RecordKindProject RecordKind = "project"
)

type DealStatus string

const (
	DealStatusOpen DealStatus = "open"
	DealStatusWon  DealStatus = "won"
	DealStatusLost DealStatus = "lost"
)

type QuoteStatus string

const (
	QuoteStatusDraft    QuoteStatus = "DRAFT"
	QuoteStatusSent     QuoteStatus = "SENT"
	QuoteStatusAccepted QuoteStatus = "ACCEPTED"
	QuoteStatusDeclined QuoteStatus = "DECLINED"
	QuoteStatusInvoiced QuoteStatus = "INVOICED"
)

type InvoiceStatus string

const (
	InvoiceStatusDraft      InvoiceStatus = "DRAFT"
	InvoiceStatusSubmitted  InvoiceStatus = "SUBMITTED"
	InvoiceStatusAuthorised InvoiceStatus = "AUTHORISED"
	InvoiceStatusPaid       InvoiceStatus = "PAID"
	InvoiceStatusVoided     InvoiceStatus = "VOIDED"
)

type ProjectStatus string

const (
	ProjectStatusInProgress ProjectStatus = "INPROGRESS"
	ProjectStatusCompleted  ProjectStatus = "COMPLETED"
	ProjectStatusCancelled  ProjectStatus = "CANCELLED"
)

// Record is the matcher-facing view shared by all four record kinds.
// Records are immutable snapshots fetched once per run; nothing in this
// codebase mutates one after fetch.
type Record interface {
	RecordID() string
	RecordKind() RecordKind
	DisplayName() string
	Amount() decimal.Decimal
}

// Deal is a CRM deal. QuoteId/InvoiceId come from the CRM's custom reference
// fields pointing into the accounting system.
type Deal struct {
	Id           string          `json:"id" validate:"required"`
	Title        string          `json:"title" validate:"required"`
	Value        decimal.Decimal `json:"value"`
	CurrencyCode string          `json:"currencyCode"`
	Status       DealStatus      `json:"status"`
	PipelineId   string          `json:"pipelineId"`
	StageId      string          `json:"stageId"`
	QuoteId      string          `json:"quoteId"`
	InvoiceId    string          `json:"invoiceId"`
	ProjectCode  string          `json:"projectCode"`
	OwnerName    string          `json:"ownerName"`
}

func (d Deal) RecordID() string        { return d.Id }
func (d Deal) RecordKind() RecordKind  { return RecordKindDeal }
func (d Deal) DisplayName() string     { return d.Title }
func (d Deal) Amount() decimal.Decimal { return d.Value }

// Quote is an accounting quote. QuoteNumber is expected in the form
// PROJECTCODE-QUOTENUMBER-VERSION for accepted quotes.
type Quote struct {
	Id           string          `json:"id" validate:"required"`
	QuoteNumber  string          `json:"quoteNumber"`
	Title        string          `json:"title"`
	Reference    string          `json:"reference"`
	Total        decimal.Decimal `json:"total"`
	CurrencyCode string          `json:"currencyCode"`
	Status       QuoteStatus     `json:"status"`
	DealId       string          `json:"dealId"`
	ProjectCode  string          `json:"projectCode"`
}

func (q Quote) RecordID() string        { return q.Id }
func (q Quote) RecordKind() RecordKind  { return RecordKindQuote }
func (q Quote) DisplayName() string     { return q.Title }
func (q Quote) Amount() decimal.Decimal { return q.Total }

type Invoice struct {
	Id            string          `json:"id" validate:"required"`
	InvoiceNumber string          `json:"invoiceNumber"`
	Reference     string          `json:"reference"`
	Total         decimal.Decimal `json:"total"`
	CurrencyCode  string          `json:"currencyCode"`
	Status        InvoiceStatus   `json:"status"`
}

func (i Invoice) RecordID() string        { return i.Id }
func (i Invoice) RecordKind() RecordKind  { return RecordKindInvoice }
func (i Invoice) DisplayName() string     { return i.Reference }
func (i Invoice) Amount() decimal.Decimal { return i.Total }

type Project struct {
	Id       string          `json:"id" validate:"required"`
	Name     string          `json:"name"`
	Code     string          `json:"code"`
	Estimate decimal.Decimal `json:"estimate"`
	Status   ProjectStatus   `json:"status"`
	QuoteIds []string        `json:"quoteIds"`
}

func (p Project) RecordID() string        { return p.Id }
func (p Project) RecordKind() RecordKind  { return RecordKindProject }
func (p Project) DisplayName() string     { return p.Name }
func (p Project) Amount() decimal.Decimal { return p.Estimate }
