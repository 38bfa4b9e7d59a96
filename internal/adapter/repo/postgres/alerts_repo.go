package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/air-quality-monitor/internal/domain"
)

// AlertRepo persists triggered alert records.
type AlertRepo struct{ Pool PgxPool }

// NewAlertRepo constructs an AlertRepo with the given pool.
func NewAlertRepo(p PgxPool) *AlertRepo { return &AlertRepo{Pool: p} }

const alertCols = `id, type, severity, payload, triggered_at, throttle_key,
	acknowledged, acknowledged_by, acknowledged_at, escalated, recipients,
	email_delivery_id, email_sent, email_error`

// Create inserts a new alert record and returns its id.
func (r *AlertRepo) Create(ctx domain.Context, a domain.AlertRecord) (string, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.Create")
	defer span.End()

	id := a.ID
	if id == "" {
		id = uuid.New().String()
	}
	payload, err := json.Marshal(a.Payload)
	if err != nil {
		return "", fmt.Errorf("op=alerts.create: %w", err)
	}
	q := `INSERT INTO alert_records (` + alertCols + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`
	_, err = r.Pool.Exec(ctx, q, id, a.Type, a.Severity, payload, a.TriggeredAt.UTC(),
		a.ThrottleKey, a.Acknowledged, a.AcknowledgedBy, a.AcknowledgedAt,
		a.Escalated, a.Recipients, a.EmailDeliveryID, a.EmailSent, a.EmailError)
	if err != nil {
		return "", fmt.Errorf("op=alerts.create: %w", err)
	}
	return id, nil
}

func scanAlert(row pgx.Row) (domain.AlertRecord, error) {
	var a domain.AlertRecord
	var payload []byte
	err := row.Scan(&a.ID, &a.Type, &a.Severity, &payload, &a.TriggeredAt, &a.ThrottleKey,
		&a.Acknowledged, &a.AcknowledgedBy, &a.AcknowledgedAt, &a.Escalated, &a.Recipients,
		&a.EmailDeliveryID, &a.EmailSent, &a.EmailError)
	if err != nil {
		return domain.AlertRecord{}, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &a.Payload); err != nil {
			return domain.AlertRecord{}, err
		}
	}
	return a, nil
}

// Get loads one alert record by id.
func (r *AlertRepo) Get(ctx domain.Context, id string) (domain.AlertRecord, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.Get")
	defer span.End()

	q := `SELECT ` + alertCols + ` FROM alert_records WHERE id=$1`
	a, err := scanAlert(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.AlertRecord{}, fmt.Errorf("op=alerts.get id=%s: %w", id, domain.ErrNotFound)
		}
		return domain.AlertRecord{}, fmt.Errorf("op=alerts.get id=%s: %w", id, err)
	}
	return a, nil
}

// MarkDelivery records the email send outcome for an alert.
func (r *AlertRepo) MarkDelivery(ctx domain.Context, id, deliveryID string, sent bool, errMsg string) error {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.MarkDelivery")
	defer span.End()

	tag, err := r.Pool.Exec(ctx,
		`UPDATE alert_records SET email_delivery_id=$2, email_sent=$3, email_error=$4 WHERE id=$1`,
		id, deliveryID, sent, errMsg)
	if err != nil {
		return fmt.Errorf("op=alerts.mark_delivery id=%s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=alerts.mark_delivery id=%s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Acknowledge marks an alert as handled by an operator. Re-acknowledging an
// already handled alert is a conflict.
func (r *AlertRepo) Acknowledge(ctx domain.Context, id, user string, at time.Time) error {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.Acknowledge")
	defer span.End()

	tag, err := r.Pool.Exec(ctx,
		`UPDATE alert_records SET acknowledged=TRUE, acknowledged_by=$2, acknowledged_at=$3
		 WHERE id=$1 AND acknowledged=FALSE`,
		id, user, at.UTC())
	if err != nil {
		return fmt.Errorf("op=alerts.acknowledge id=%s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return gerr
		}
		return fmt.Errorf("op=alerts.acknowledge id=%s already acknowledged: %w", id, domain.ErrConflict)
	}
	return nil
}

// ListActive returns unacknowledged alerts, most recent first.
func (r *AlertRepo) ListActive(ctx domain.Context, limit int) ([]domain.AlertRecord, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.ListActive")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + alertCols + ` FROM alert_records
		WHERE acknowledged=FALSE ORDER BY triggered_at DESC LIMIT $1`
	rows, err := r.Pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("op=alerts.list_active: %w", err)
	}
	defer rows.Close()

	var out []domain.AlertRecord
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("op=alerts.list_active: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteOlderThan prunes alert records triggered before the cutoff.
func (r *AlertRepo) DeleteOlderThan(ctx domain.Context, cutoff time.Time) (int64, error) {
	tracer := otel.Tracer("repo.alerts")
	ctx, span := tracer.Start(ctx, "alerts.DeleteOlderThan")
	defer span.End()

	tag, err := r.Pool.Exec(ctx, `DELETE FROM alert_records WHERE triggered_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("op=alerts.delete_older_than: %w", err)
	}
	return tag.RowsAffected(), nil
}
