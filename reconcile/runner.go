package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/recon_backend/appctx"
	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
	"gorm.io/gorm"
)

// SyncRunPayload is the Pub/Sub message body that triggers one run.
type SyncRunPayload struct {
	RunId    uint   `json:"run_id"`
	TenantId string `json:"tenant_id"`
}

// liveSessionKey is the store key under which the in-flight session snapshot
// is published for the status endpoint.
func liveSessionKey(tenantId string) string {
	return "session:" + tenantId
}

const liveSessionTTL = 2 * time.Hour

// ProcessSyncRun executes one queued SyncRun end to end: resolve tenant
// settings, run the orchestrator, persist issues and summary, finalize the
// run row. Terminal runs are acked silently so Pub/Sub redelivery is a no-op.
func ProcessSyncRun(ctx context.Context, payload SyncRunPayload, store Store) error {
	if payload.RunId == 0 || payload.TenantId == "" {
		return errors.New("invalid payload")
	}

	ctx = appctx.SetTenantIdInContext(ctx, payload.TenantId)
	db := config.GetDB().WithContext(ctx)
	logger := config.GetLogger()

	var run models.SyncRun
	if err := db.Where("id = ? AND tenant_id = ?", payload.RunId, payload.TenantId).Take(&run).Error; err != nil {
		return err
	}
	if run.Status == models.SyncRunStatusCompleted || run.Status == models.SyncRunStatusFailed || run.Status == models.SyncRunStatusCancelled {
		return nil
	}

	var settings models.TenantSettings
	if err := db.Where("tenant_id = ?", payload.TenantId).Take(&settings).Error; err != nil {
		return err
	}
	cfg := models.DecodeValidatorConfig(settings.SettingsJSON)
	if settings.Status != models.TenantStatusConnected {
		cfg.CrmEnabled = false
	}

	now := time.Now()
	startedAt := run.StartedAt
	if startedAt == nil {
		startedAt = &now
	}
	if err := db.Model(&run).Updates(map[string]interface{}{
		"status":     models.SyncRunStatusRunning,
		"started_at": startedAt,
	}).Error; err != nil {
		return err
	}

	sources, err := buildDataSources(settings, cfg)
	if err != nil {
		return finalizeFailedRun(db, &run, "setup", err)
	}

	// Mirror the full session snapshot into the store on every transition so
	// the status endpoint can show live progress.
	var orch *Orchestrator
	orch = NewOrchestrator(logger, sources, cfg, OrchestratorOptions{
		HaltOnFetchError: config.HaltOnFetchError(),
		OnEvent: func(ProgressEvent) {
			if store == nil {
				return
			}
			_ = store.Set(ctx, liveSessionKey(payload.TenantId), orch.Session(), liveSessionTTL)
		},
	})

	if store != nil {
		watchCtx, stopWatch := context.WithCancel(ctx)
		defer stopWatch()
		go watchCancellation(watchCtx, store, payload.TenantId, orch)
	}

	result, runErr := orch.Run(ctx, payload.TenantId)
	if runErr != nil && result == nil {
		return finalizeFailedRun(db, &run, "run", runErr)
	}

	if err := persistRunResult(db, &run, result); err != nil {
		return err
	}

	finishedAt := time.Now()
	_ = db.Model(&models.TenantSettings{}).
		Where("tenant_id = ?", payload.TenantId).
		Update("last_run_at", finishedAt).Error

	return nil
}

func buildDataSources(settings models.TenantSettings, cfg models.ValidatorConfig) (DataSources, error) {
	books, err := NewBooksClient(settings.BooksBaseURL, settings.BooksApiKeyRef)
	if err != nil {
		return DataSources{}, err
	}

	sources := DataSources{
		FetchQuotes:   books.FetchQuotes,
		FetchInvoices: books.FetchInvoices,
		FetchProjects: books.FetchProjects,
	}

	if !cfg.CrmEnabled {
		sources.FetchDeals = func(ctx context.Context) ([]models.Deal, error) {
			return nil, ErrIntegrationDisabled
		}
		return sources, nil
	}

	crm, err := NewCrmClient(settings.CrmBaseURL, settings.CrmApiKeyRef)
	if err != nil {
		return DataSources{}, err
	}
	sources.FetchDeals = crm.FetchDeals
	return sources, nil
}

// watchCancellation polls the shared cancel flag so a cancel issued to any
// instance reaches the instance actually running the session.
func watchCancellation(ctx context.Context, store Store, tenantId string, orch *Orchestrator) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var flagged bool
			if err := store.Get(ctx, cancelKey(tenantId), &flagged); err != nil {
				continue
			}
			if flagged {
				orch.Cancel()
				_ = store.Delete(ctx, cancelKey(tenantId))
				return
			}
		}
	}
}

func finalizeFailedRun(db *gorm.DB, run *models.SyncRun, step string, cause error) error {
	_ = db.Create(&models.SyncRunError{
		SyncRunId: run.ID,
		TenantId:  run.TenantId,
		Step:      step,
		ErrorCode: "run_failed",
		Message:   cause.Error(),
		Retryable: true,
	}).Error

	finishedAt := time.Now()
	durationMs := int64(0)
	if run.StartedAt != nil {
		durationMs = finishedAt.Sub(*run.StartedAt).Milliseconds()
	}
	if err := db.Model(run).Updates(map[string]interface{}{
		"status":      models.SyncRunStatusFailed,
		"finished_at": finishedAt,
		"duration_ms": durationMs,
		"error_count": 1,
	}).Error; err != nil {
		return err
	}
	return cause
}

func persistRunResult(db *gorm.DB, run *models.SyncRun, result *SyncResult) error {
	errorCount := 0
	for _, step := range result.Steps {
		if step.Status != StepStatusError {
			continue
		}
		errorCount++
		_ = db.Create(&models.SyncRunError{
			SyncRunId: run.ID,
			TenantId:  run.TenantId,
			Step:      step.Id,
			ErrorCode: "step_failed",
			Message:   step.Error,
			Retryable: true,
		}).Error
	}

	for _, issue := range result.Issues {
		metadataJSON, _ := json.Marshal(issue.Metadata)
		_ = db.Create(&models.IssueRow{
			SyncRunId:     run.ID,
			TenantId:      run.TenantId,
			Code:          string(issue.Code),
			Severity:      string(issue.Severity),
			Message:       issue.Message,
			SubjectId:     issue.SubjectId,
			SubjectType:   string(issue.SubjectType),
			Fixable:       issue.Fixable,
			FixAction:     issue.FixAction,
			CurrentValue:  issue.CurrentValue,
			ExpectedValue: issue.ExpectedValue,
			MetadataJSON:  metadataJSON,
		}).Error
	}

	summaryJSON, _ := json.Marshal(result.Summary)
	finishedAt := time.Now()
	durationMs := int64(0)
	if run.StartedAt != nil {
		durationMs = finishedAt.Sub(*run.StartedAt).Milliseconds()
	}

	return db.Model(run).Updates(map[string]interface{}{
		"session_id":       result.SessionId,
		"status":           runStatusFor(result.Status),
		"finished_at":      finishedAt,
		"duration_ms":      durationMs,
		"records_examined": result.Summary.RecordsExamined(),
		"issue_count":      len(result.Issues),
		"error_count":      errorCount,
		"summary_json":     summaryJSON,
	}).Error
}

func runStatusFor(status SessionStatus) string {
	switch status {
	case SessionStatusCompleted:
		return models.SyncRunStatusCompleted
	case SessionStatusCancelled:
		return models.SyncRunStatusCancelled
	case SessionStatusFailed:
		return models.SyncRunStatusFailed
	default:
		return models.SyncRunStatusFailed
	}
}
