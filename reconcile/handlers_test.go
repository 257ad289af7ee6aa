package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"bitbucket.org/mmdatafocus/recon_backend/models"
)

func TestSettingsCacheEntryKeepsKeyRefs(t *testing.T) {
	settings := models.TenantSettings{
		TenantId:       "tenant-1",
		Status:         models.TenantStatusConnected,
		BooksBaseURL:   "https://books.example",
		CrmApiKeyRef:   "crm-secret",
		BooksApiKeyRef: "books-secret",
	}

	// The model's own JSON shape hides the refs deliberately.
	raw, err := json.Marshal(settings)
	if err != nil {
		t.Fatalf("marshal settings: %v", err)
	}
	if strings.Contains(string(raw), "crm-secret") || strings.Contains(string(raw), "books-secret") {
		t.Fatalf("key refs must not appear in the model's JSON: %s", raw)
	}

	// The cache entry must carry them through a redis round-trip.
	data, err := json.Marshal(toSettingsCacheEntry(settings))
	if err != nil {
		t.Fatalf("marshal cache entry: %v", err)
	}
	var decoded settingsCacheEntry
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal cache entry: %v", err)
	}
	restored := decoded.settings()
	if restored.CrmApiKeyRef != "crm-secret" || restored.BooksApiKeyRef != "books-secret" {
		t.Fatalf("key refs lost in the cache round-trip: %+v", restored)
	}
	if restored.TenantId != "tenant-1" || restored.BooksBaseURL != "https://books.example" {
		t.Fatalf("settings fields lost in the cache round-trip: %+v", restored)
	}
}

func TestDispatchRunFailsRunOnPublishError(t *testing.T) {
	run := models.SyncRun{ID: 7, TenantId: "tenant-1", Status: models.SyncRunStatusQueued}

	err := dispatchRun(context.Background(), nil, &run, func(ctx context.Context, runId uint, tenantId string) error {
		if runId != 7 || tenantId != "tenant-1" {
			t.Fatalf("publisher called with runId=%d tenant=%s", runId, tenantId)
		}
		return errors.New("pubsub unavailable")
	})
	if err == nil {
		t.Fatal("expected the publish error to surface")
	}
	// A run whose publish was dropped must not stay queued, or the
	// active-run guard would 409 every future trigger.
	if run.Status != models.SyncRunStatusFailed {
		t.Fatalf("run status after failed publish: got %s", run.Status)
	}
	if run.FinishedAt == nil {
		t.Fatal("failed run must carry a finish time")
	}
}

func TestDispatchRunKeepsQueuedOnSuccess(t *testing.T) {
	run := models.SyncRun{ID: 8, TenantId: "tenant-1", Status: models.SyncRunStatusQueued}

	if err := dispatchRun(context.Background(), nil, &run, func(ctx context.Context, runId uint, tenantId string) error {
		return nil
	}); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if run.Status != models.SyncRunStatusQueued {
		t.Fatalf("run must stay queued for the worker, got %s", run.Status)
	}
}
