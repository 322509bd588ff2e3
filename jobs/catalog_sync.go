package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/distriflow/distriflow/internal/catalog"
	jobmetrics "github.com/distriflow/distriflow/internal/jobs"
)

// CatalogSyncer is the catalog surface the sync jobs drive.
type CatalogSyncer interface {
	RefreshCatalog(ctx context.Context) (catalog.SyncResult, error)
	PullPrices(ctx context.Context) (catalog.SyncResult, error)
}

// CatalogJobs bundles the BC sync task handlers.
type CatalogJobs struct {
	service CatalogSyncer
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
}

// NewCatalogJobs constructs the handlers.
func NewCatalogJobs(service CatalogSyncer, metrics *jobmetrics.Metrics, logger *slog.Logger) *CatalogJobs {
	return &CatalogJobs{service: service, metrics: metrics, logger: logger}
}

// HandleSyncCatalog processes TaskSyncCatalog tasks.
func (j *CatalogJobs) HandleSyncCatalog(ctx context.Context, t *asynq.Task) error {
	var payload SyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("bc_sync_catalog")
	result, err := j.service.RefreshCatalog(ctx)
	if err != nil {
		j.logger.Error("catalog sync failed", "error", err, "triggered_by", payload.TriggeredBy)
		return tracker.End(err)
	}
	j.logger.Info("catalog sync finished",
		"count", result.Count,
		"skipped", len(result.Logs),
		"triggered_by", payload.TriggeredBy)
	return tracker.End(nil)
}

// HandleSyncPrices processes TaskSyncPrices tasks.
func (j *CatalogJobs) HandleSyncPrices(ctx context.Context, t *asynq.Task) error {
	var payload SyncPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics.Track("bc_sync_prices")
	result, err := j.service.PullPrices(ctx)
	if err != nil {
		j.logger.Error("price sync failed", "error", err, "triggered_by", payload.TriggeredBy)
		return tracker.End(err)
	}
	j.logger.Info("price sync finished",
		"count", result.Count,
		"skipped", len(result.Logs),
		"triggered_by", payload.TriggeredBy)
	return tracker.End(nil)
}

// Register wires the handlers into a worker mux.
func (j *CatalogJobs) Register() []TaskHandler {
	return []TaskHandler{
		{Type: TaskSyncCatalog, Handler: j.HandleSyncCatalog},
		{Type: TaskSyncPrices, Handler: j.HandleSyncPrices},
	}
}
