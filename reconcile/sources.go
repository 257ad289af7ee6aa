package reconcile

import (
	"context"
	"errors"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

// ErrIntegrationDisabled marks a data source that is deliberately turned off
// for the tenant. The orchestrator treats it as skip, not error; downstream
// phases still run against an empty set for that source.
var ErrIntegrationDisabled = errors.New("integration disabled for tenant")

// DataSources bundles the injected fetch functions. The raw HTTP clients
// behind them are collaborators; the orchestrator only sees plain records.
type DataSources struct {
	FetchDeals    func(ctx context.Context) ([]models.Deal, error)
	FetchQuotes   func(ctx context.Context) ([]models.Quote, error)
	FetchInvoices func(ctx context.Context) ([]models.Invoice, error)
	FetchProjects func(ctx context.Context) ([]models.Project, error)
}
