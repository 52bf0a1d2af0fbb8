package notifylogs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"paybridge/internal/infra/dbx"
)

type NotificationLog struct {
	ID            int64           `json:"id"`
	CorrelationID string          `json:"correlation_id"`
	Provider      string          `json:"provider"`
	LogType       string          `json:"log_type"` // notify
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

type Store interface {
	Insert(ctx context.Context, correlationID, provider, logType string, payload any) error
	// List returns one page of logs for correlationID, newest first, and the total count.
	List(ctx context.Context, correlationID string, limit, offset int) ([]NotificationLog, int, error)
}

type Repository struct{ q dbx.Querier }

func NewRepository(q dbx.Querier) *Repository {
	return &Repository{q: q}
}

func (r *Repository) Insert(ctx context.Context, correlationID, provider, logType string, payload any) error {
	var jb []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err == nil {
			jb = b
		}
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO payment_notification_logs (correlation_id, provider, log_type, payload)
		VALUES ($1, $2, $3, $4)
	`, correlationID, provider, logType, jb)
	if err != nil {
		return fmt.Errorf("insert payment_notification_log: %w", err)
	}
	return nil
}

func (r *Repository) List(ctx context.Context, correlationID string, limit, offset int) ([]NotificationLog, int, error) {
	var total int
	if err := r.q.QueryRow(ctx, `
		SELECT COUNT(*) FROM payment_notification_logs WHERE correlation_id = $1
	`, correlationID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count payment_notification_logs: %w", err)
	}

	rows, err := r.q.Query(ctx, `
		SELECT id, correlation_id, provider, log_type, payload, created_at
		FROM payment_notification_logs
		WHERE correlation_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, correlationID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list payment_notification_logs: %w", err)
	}
	defer rows.Close()

	logs := []NotificationLog{}
	for rows.Next() {
		var l NotificationLog
		if err := rows.Scan(&l.ID, &l.CorrelationID, &l.Provider, &l.LogType, &l.Payload, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan payment_notification_log: %w", err)
		}
		logs = append(logs, l)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate payment_notification_logs: %w", err)
	}
	return logs, total, nil
}
