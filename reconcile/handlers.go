package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"gorm.io/gorm"

	"bitbucket.org/mmdatafocus/recon_backend/appctx"
	"bitbucket.org/mmdatafocus/recon_backend/config"
	"bitbucket.org/mmdatafocus/recon_backend/models"
)

var validate = validator.New()

// cancelKey signals a running session to stop. The worker polls it because
// trigger and worker may live in different processes.
func cancelKey(tenantId string) string {
	return "cancel:" + tenantId
}

func resolveTenantID(c *gin.Context) (string, error) {
	if tenantId, ok := appctx.GetTenantIdFromContext(c.Request.Context()); ok && strings.TrimSpace(tenantId) != "" {
		return tenantId, nil
	}
	tenantId := strings.TrimSpace(c.GetHeader("X-Tenant-Id"))
	if tenantId == "" {
		return "", errors.New("unauthorized")
	}
	return tenantId, nil
}

// Settings change rarely but are read on almost every request, so reads go
// through redis with a short TTL.
const settingsCacheTTL = 5 * time.Minute

func settingsCacheKey(tenantId string) string {
	return "recon:settings:" + tenantId
}

// settingsCacheEntry restores the key refs that TenantSettings hides from
// its JSON shape. Without it a cache round-trip would silently blank the
// API credentials.
type settingsCacheEntry struct {
	models.TenantSettings
	CrmApiKeyRef   string `json:"crmApiKeyRef"`
	BooksApiKeyRef string `json:"booksApiKeyRef"`
}

func toSettingsCacheEntry(settings models.TenantSettings) settingsCacheEntry {
	return settingsCacheEntry{
		TenantSettings: settings,
		CrmApiKeyRef:   settings.CrmApiKeyRef,
		BooksApiKeyRef: settings.BooksApiKeyRef,
	}
}

func (e settingsCacheEntry) settings() *models.TenantSettings {
	s := e.TenantSettings
	s.CrmApiKeyRef = e.CrmApiKeyRef
	s.BooksApiKeyRef = e.BooksApiKeyRef
	return &s
}

func getSettings(db *gorm.DB, tenantId string) (*models.TenantSettings, error) {
	var cached settingsCacheEntry
	if hit, err := config.GetRedisObject(settingsCacheKey(tenantId), &cached); err == nil && hit {
		return cached.settings(), nil
	}

	var settings models.TenantSettings
	err := db.Where("tenant_id = ?", tenantId).Take(&settings).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	_ = config.SetRedisObject(settingsCacheKey(tenantId), toSettingsCacheEntry(settings), settingsCacheTTL)
	return &settings, nil
}

func dropSettingsCache(tenantId string) {
	_ = config.RemoveRedisKey(settingsCacheKey(tenantId))
}

func StatusHandler(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := appctx.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		settings, err := getSettings(db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if settings == nil {
			c.JSON(http.StatusOK, StatusResponse{
				Status:   models.TenantStatusDisconnected,
				Settings: models.DefaultValidatorConfig(),
			})
			return
		}

		resp := StatusResponse{
			Status:    settings.Status,
			Settings:  models.DecodeValidatorConfig(settings.SettingsJSON),
			LastRunAt: formatTime(settings.LastRunAt),
		}
		if store != nil {
			var session SyncSession
			if err := store.Get(ctx, liveSessionKey(tenantId), &session); err == nil {
				resp.LiveSession = &session
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func ConnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ConnectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := appctx.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		settings, err := getSettings(db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		now := time.Now()
		if settings == nil {
			settings = &models.TenantSettings{
				TenantId:       tenantId,
				Status:         models.TenantStatusConnected,
				CrmBaseURL:     strings.TrimSpace(req.CrmBaseURL),
				BooksBaseURL:   strings.TrimSpace(req.BooksBaseURL),
				CrmApiKeyRef:   req.CrmApiKey,
				BooksApiKeyRef: req.BooksApiKey,
				SettingsJSON:   models.EncodeValidatorConfig(models.DefaultValidatorConfig()),
				UpdatedAt:      now,
			}
			if err := db.Create(settings).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			update := map[string]interface{}{
				"status":            models.TenantStatusConnected,
				"crm_base_url":      strings.TrimSpace(req.CrmBaseURL),
				"books_base_url":    strings.TrimSpace(req.BooksBaseURL),
				"crm_api_key_ref":   req.CrmApiKey,
				"books_api_key_ref": req.BooksApiKey,
				"updated_at":        now,
			}
			if len(settings.SettingsJSON) == 0 {
				update["settings_json"] = models.EncodeValidatorConfig(models.DefaultValidatorConfig())
			}
			if err := db.Model(settings).Updates(update).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}

		dropSettingsCache(tenantId)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func DisconnectHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		ctx := appctx.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		settings, err := getSettings(db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if settings == nil {
			c.JSON(http.StatusOK, gin.H{"success": true})
			return
		}

		if err := db.Model(settings).Updates(map[string]interface{}{
			"status":            models.TenantStatusDisconnected,
			"crm_api_key_ref":   "",
			"books_api_key_ref": "",
			"updated_at":        time.Now(),
		}).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		dropSettingsCache(tenantId)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func UpdateSettingsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req UpdateSettingsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		ctx := appctx.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)
		settings, err := getSettings(db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		encoded := models.EncodeValidatorConfig(req.Settings)
		if settings == nil {
			settings = &models.TenantSettings{
				TenantId:     tenantId,
				Status:       models.TenantStatusDisconnected,
				SettingsJSON: encoded,
			}
			if err := db.Create(settings).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		} else {
			if err := db.Model(settings).Updates(map[string]interface{}{
				"settings_json": encoded,
				"updated_at":    time.Now(),
			}).Error; err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
		dropSettingsCache(tenantId)
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func TriggerSyncHandler(store Store, publish RunPublisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		// Body is optional; an empty trigger means a manual full run.
		var req TriggerSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			req = TriggerSyncRequest{}
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := appctx.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		settings, err := getSettings(db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if settings == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "tenant is not configured"})
			return
		}

		// One live session per tenant. The lock only guards the enqueue race;
		// the orchestrator enforces the invariant inside a process too.
		locker := config.GetRedisLock()
		lock, err := locker.Obtain(ctx, "recon:trigger:"+tenantId, 30*time.Second, nil)
		if err == redislock.ErrNotObtained {
			c.JSON(http.StatusConflict, gin.H{"error": "a sync is already being triggered"})
			return
		}
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		defer func() { _ = lock.Release(ctx) }()

		var active int64
		if err := db.Model(&models.SyncRun{}).
			Where("tenant_id = ? AND status IN ?", tenantId, []string{models.SyncRunStatusQueued, models.SyncRunStatusRunning}).
			Count(&active).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if active > 0 {
			c.JSON(http.StatusConflict, gin.H{"error": "a sync session is already running"})
			return
		}

		if store != nil {
			_ = store.Delete(ctx, cancelKey(tenantId))
		}

		triggeredBy := req.TriggeredBy
		if triggeredBy == "" {
			triggeredBy = models.SyncTriggeredManual
		}
		run := models.SyncRun{
			TenantId:    tenantId,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: triggeredBy,
		}
		if err := db.Create(&run).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := dispatchRun(ctx, db, &run, publish); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue sync run"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

// RunPublisher hands a queued run to the async worker. Production wiring is
// PublishSyncRun.
type RunPublisher func(ctx context.Context, runId uint, tenantId string) error

// failEnqueuedRun is the column update for a run whose publish never left
// the process. Leaving it queued would trip the active-run guard on every
// future trigger for the tenant.
func failEnqueuedRun(run *models.SyncRun) map[string]interface{} {
	now := time.Now()
	run.Status = models.SyncRunStatusFailed
	run.FinishedAt = &now
	return map[string]interface{}{
		"status":      models.SyncRunStatusFailed,
		"finished_at": &now,
	}
}

func dispatchRun(ctx context.Context, db *gorm.DB, run *models.SyncRun, publish RunPublisher) error {
	if publish == nil {
		publish = PublishSyncRun
	}
	if err := publish(ctx, run.ID, run.TenantId); err != nil {
		if db != nil {
			_ = db.Model(run).Updates(failEnqueuedRun(run)).Error
		}
		return err
	}
	return nil
}

func CancelSyncHandler(store Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		if store == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cancellation store unavailable"})
			return
		}
		ctx := appctx.SetTenantIdInContext(c.Request.Context(), tenantId)
		if err := store.Set(ctx, cancelKey(tenantId), true, 30*time.Minute); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}

func SyncHistoryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		ctx := appctx.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		var runs []models.SyncRun
		if err := db.Where("tenant_id = ?", tenantId).
			Order("id desc").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := appctx.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		var run models.SyncRun
		if err := db.Where("id = ? AND tenant_id = ?", id, tenantId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var runErrs []models.SyncRunError
		if err := db.Where("sync_run_id = ?", run.ID).Order("id desc").Find(&runErrs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		var issueRows []models.IssueRow
		if err := db.Where("sync_run_id = ?", run.ID).Order("id").Find(&issueRows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		resp := SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(run),
			Errors:          mapRunErrors(runErrs),
			Issues:          mapIssueRows(issueRows),
		}
		if len(run.SummaryJSON) > 0 {
			var summary ValidationSummary
			if err := json.Unmarshal(run.SummaryJSON, &summary); err == nil {
				resp.Summary = &summary
			}
		}
		c.JSON(http.StatusOK, resp)
	}
}

func RetrySyncRunHandler(publish RunPublisher) gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
			return
		}

		ctx := appctx.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		var run models.SyncRun
		if err := db.Where("id = ? AND tenant_id = ?", id, tenantId).Take(&run).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		newRun := models.SyncRun{
			TenantId:    tenantId,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredRetry,
			ParentRunId: &run.ID,
		}
		if err := db.Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		if err := dispatchRun(ctx, db, &newRun, publish); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue sync run"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

func ApplyFixesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		tenantId, err := resolveTenantID(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req ApplyFixesRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := validate.Struct(req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := appctx.SetTenantIdInContext(c.Request.Context(), tenantId)
		db := config.GetDB().WithContext(ctx)

		settings, err := getSettings(db, tenantId)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if settings == nil {
			c.JSON(http.StatusConflict, gin.H{"error": "tenant is not configured"})
			return
		}

		query := db.Where("sync_run_id = ? AND tenant_id = ? AND fixable = ?", req.RunId, tenantId, true)
		if len(req.IssueCodes) > 0 {
			query = query.Where("code IN ?", req.IssueCodes)
		}
		if len(req.SubjectIds) > 0 {
			query = query.Where("subject_id IN ?", req.SubjectIds)
		}
		var issueRows []models.IssueRow
		if err := query.Order("id").Find(&issueRows).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if len(issueRows) == 0 {
			c.JSON(http.StatusOK, ApplyFixesResponse{Outcomes: []FixOutcome{}})
			return
		}

		books, err := NewBooksClient(settings.BooksBaseURL, settings.BooksApiKeyRef)
		if err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}

		executor := NewFixExecutor(config.GetLogger(), tenantId, books.Mutate, FixExecutorOptions{
			Ledger:     NewDBFixLedger(config.GetDB()),
			BatchSize:  config.FixBatchSize(),
			BatchDelay: config.FixBatchDelay(),
		})

		issues := make([]models.ValidationIssue, 0, len(issueRows))
		for _, row := range issueRows {
			issues = append(issues, issueFromRow(row))
		}

		outcomes := executor.ApplyFixes(ctx, issues)

		runId := req.RunId
		for _, outcome := range outcomes {
			_ = db.Create(&models.FixOutcomeRow{
				TenantId:       tenantId,
				SyncRunId:      &runId,
				SubjectId:      outcome.SubjectId,
				IssueCode:      string(outcome.IssueCode),
				IdempotencyKey: outcome.IdempotencyKey,
				Status:         string(outcome.Status),
				Message:        outcome.Message,
			}).Error
		}

		c.JSON(http.StatusOK, ApplyFixesResponse{Outcomes: outcomes})
	}
}

func issueFromRow(row models.IssueRow) models.ValidationIssue {
	var metadata map[string]any
	if len(row.MetadataJSON) > 0 {
		_ = json.Unmarshal(row.MetadataJSON, &metadata)
	}
	return models.ValidationIssue{
		Code:          models.IssueCode(row.Code),
		Severity:      models.IssueSeverity(row.Severity),
		Message:       row.Message,
		SubjectId:     row.SubjectId,
		SubjectType:   models.RecordKind(row.SubjectType),
		Fixable:       row.Fixable,
		FixAction:     row.FixAction,
		CurrentValue:  row.CurrentValue,
		ExpectedValue: row.ExpectedValue,
		Metadata:      metadata,
	}
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:              run.ID,
		SessionId:       run.SessionId,
		Status:          run.Status,
		TriggeredBy:     run.TriggeredBy,
		StartedAt:       formatTime(run.StartedAt),
		FinishedAt:      formatTime(run.FinishedAt),
		DurationMs:      run.DurationMs,
		RecordsExamined: run.RecordsExamined,
		IssueCount:      run.IssueCount,
		ErrorCount:      run.ErrorCount,
	}
}

func mapRunErrors(errorsList []models.SyncRunError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:        errItem.ID,
			Step:      errItem.Step,
			ErrorCode: errItem.ErrorCode,
			Message:   errItem.Message,
			Retryable: errItem.Retryable,
		})
	}
	return out
}

func mapIssueRows(rows []models.IssueRow) []IssueResponse {
	out := make([]IssueResponse, 0, len(rows))
	for _, row := range rows {
		var metadata map[string]any
		if len(row.MetadataJSON) > 0 {
			_ = json.Unmarshal(row.MetadataJSON, &metadata)
		}
		out = append(out, IssueResponse{
			ID:            row.ID,
			Code:          row.Code,
			Label:         models.IssueLabel(models.IssueCode(row.Code)),
			Severity:      row.Severity,
			Message:       row.Message,
			SubjectId:     row.SubjectId,
			SubjectType:   row.SubjectType,
			Fixable:       row.Fixable,
			FixAction:     row.FixAction,
			CurrentValue:  row.CurrentValue,
			ExpectedValue: row.ExpectedValue,
			Metadata:      metadata,
		})
	}
	return out
}
