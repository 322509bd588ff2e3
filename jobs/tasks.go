package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskSyncCatalog refreshes the BC customer, item and location mirrors.
	TaskSyncCatalog = "bc:sync_catalog"
	// TaskSyncPrices pulls tiered sales prices for all mirrored items.
	TaskSyncPrices = "bc:sync_prices"
)

// SyncPayload carries scheduling metadata for the BC sync tasks.
type SyncPayload struct {
	TriggeredBy  string    `json:"triggered_by"`
	ScheduledFor time.Time `json:"scheduled_for"`
}

// NewSyncCatalogTask constructs an Asynq task for a full catalog refresh.
func NewSyncCatalogTask(payload SyncPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncCatalog, body, asynq.Queue(QueueDefault)), nil
}

// NewSyncPricesTask constructs an Asynq task for a price pull.
func NewSyncPricesTask(payload SyncPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskSyncPrices, body, asynq.Queue(QueueDefault)), nil
}
