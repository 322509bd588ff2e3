package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/distriflow/distriflow/internal/catalog"
	jobmetrics "github.com/distriflow/distriflow/internal/jobs"
)

type fakeSyncer struct {
	catalogRuns int
	priceRuns   int
	err         error
}

func (f *fakeSyncer) RefreshCatalog(ctx context.Context) (catalog.SyncResult, error) {
	f.catalogRuns++
	return catalog.SyncResult{Count: 3}, f.err
}

func (f *fakeSyncer) PullPrices(ctx context.Context) (catalog.SyncResult, error) {
	f.priceRuns++
	return catalog.SyncResult{Count: 5}, f.err
}

func newCatalogJobs(syncer *fakeSyncer) *CatalogJobs {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	return NewCatalogJobs(syncer, metrics, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func syncTask(t *testing.T, taskType string) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(SyncPayload{TriggeredBy: "cron", ScheduledFor: time.Now()})
	require.NoError(t, err)
	return asynq.NewTask(taskType, body)
}

func TestHandleSyncCatalog(t *testing.T) {
	syncer := &fakeSyncer{}
	handlers := newCatalogJobs(syncer)

	require.NoError(t, handlers.HandleSyncCatalog(context.Background(), syncTask(t, TaskSyncCatalog)))
	require.Equal(t, 1, syncer.catalogRuns)
}

func TestHandleSyncPricesPropagatesError(t *testing.T) {
	syncer := &fakeSyncer{err: errors.New("bc unavailable")}
	handlers := newCatalogJobs(syncer)

	err := handlers.HandleSyncPrices(context.Background(), syncTask(t, TaskSyncPrices))
	require.Error(t, err)
	require.Equal(t, 1, syncer.priceRuns)
}

func TestHandleSyncCatalogBadPayloadSkipsRetry(t *testing.T) {
	handlers := newCatalogJobs(&fakeSyncer{})

	err := handlers.HandleSyncCatalog(context.Background(), asynq.NewTask(TaskSyncCatalog, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestRegisterListsBothTasks(t *testing.T) {
	handlers := newCatalogJobs(&fakeSyncer{})

	registered := handlers.Register()
	require.Len(t, registered, 2)
	require.Equal(t, TaskSyncCatalog, registered[0].Type)
	require.Equal(t, TaskSyncPrices, registered[1].Type)
}
