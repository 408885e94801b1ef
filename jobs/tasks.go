package jobs

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/stockworks/internal/inventory"
)

const (
	// QueueAlerts carries low-stock alerts raised by production.
	QueueAlerts = "alerts"
	// QueueMaintenance carries scheduled housekeeping.
	QueueMaintenance = "maintenance"
	// TaskLowStockAlert persists low-stock warnings raised by production.
	TaskLowStockAlert = "stock:low_stock_alert"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"
)

// DefaultIdempotencyRetention is how long processed keys are remembered.
const DefaultIdempotencyRetention = 72 * time.Hour

// queueWeights orders queues for the worker. Alerts are drained first.
var queueWeights = map[string]int{
	QueueAlerts:      6,
	QueueMaintenance: 1,
}

// Queues lists the queue names in priority order.
func Queues() []string {
	return []string{QueueAlerts, QueueMaintenance}
}

// LowStockAlertPayload carries the warnings of one production batch.
type LowStockAlertPayload struct {
	Events []inventory.LowStockEvent `json:"events"`
}

// NewLowStockAlertTask constructs an Asynq task for the given warnings.
func NewLowStockAlertTask(events []inventory.LowStockEvent) (*asynq.Task, error) {
	if len(events) == 0 {
		return nil, errors.New("low stock alert: no events")
	}
	body, err := json.Marshal(LowStockAlertPayload{Events: events})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockAlert, body, asynq.Queue(QueueAlerts), asynq.MaxRetry(5)), nil
}

// IdempotencyCleanupPayload configures a cleanup run.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask constructs the cleanup task.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention.Hours())})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueMaintenance)), nil
}
