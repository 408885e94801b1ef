package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/stockworks/internal/inventory"
	jobmetrics "github.com/odyssey-erp/stockworks/internal/jobs"
)

// AlertStore persists low-stock alerts.
type AlertStore interface {
	InsertAlerts(ctx context.Context, events []inventory.LowStockEvent) (int64, error)
}

// PGAlertStore writes alerts into the stock_alerts table.
type PGAlertStore struct {
	Pool *pgxpool.Pool
}

// InsertAlerts copies the events into stock_alerts.
func (s *PGAlertStore) InsertAlerts(ctx context.Context, events []inventory.LowStockEvent) (int64, error) {
	if s == nil || s.Pool == nil {
		return 0, errors.New("low stock alert: pool not configured")
	}
	rows := make([][]any, 0, len(events))
	for _, e := range events {
		raised := e.RaisedAt
		if raised.IsZero() {
			raised = time.Now().UTC()
		}
		rows = append(rows, []any{
			e.TenantID, e.ProductID, e.IngredientID,
			pgtype.UUID{Bytes: e.BatchID, Valid: e.BatchID != uuid.Nil},
			e.Remaining, e.Threshold, e.Unit, raised,
		})
	}
	return s.Pool.CopyFrom(ctx,
		pgx.Identifier{"stock_alerts"},
		[]string{"tenant_id", "product_id", "ingredient_id", "batch_id", "remaining", "threshold", "unit", "created_at"},
		pgx.CopyFromRows(rows))
}

// LowStockAlertJob stores the warnings enqueued after production.
type LowStockAlertJob struct {
	Store   AlertStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewLowStockAlertJob initialises the handler.
func NewLowStockAlertJob(store AlertStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockAlertJob {
	return &LowStockAlertJob{Store: store, Logger: logger, Metrics: metrics}
}

// Handle persists one payload of alerts.
func (j *LowStockAlertJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Store == nil {
		return errors.New("low stock alert: handler not configured")
	}
	var payload LowStockAlertPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("low stock alert: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	if len(payload.Events) == 0 {
		return nil
	}

	tracker := j.Metrics.Track(TaskLowStockAlert)
	defer func() {
		err = tracker.End(err)
	}()

	stored, err := j.Store.InsertAlerts(ctx, payload.Events)
	if err != nil {
		j.logger().Error("store low stock alerts", slog.Int("events", len(payload.Events)), slog.Any("error", err))
		return err
	}
	for _, e := range payload.Events {
		j.logger().Warn("ingredient running low",
			slog.String("tenant_id", e.TenantID.String()),
			slog.String("ingredient_id", e.IngredientID.String()),
			slog.String("name", e.Name),
			slog.Float64("remaining", e.Remaining),
			slog.Float64("threshold", e.Threshold),
			slog.String("unit", e.Unit),
		)
	}
	j.Metrics.AddLowStockAlerts(int(stored))
	return nil
}

func (j *LowStockAlertJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return j.Logger
}
