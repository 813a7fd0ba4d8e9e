package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// retryStep is the linear backoff unit: 5s, 10s, 15s...
const retryStep = 5 * time.Second

// Event is one message waiting to be published.
type Event struct {
	ID            int64
	AggregateType string
	AggregateID   string
	RoutingKey    string
	Payload       json.RawMessage
	Status        string
	RetryCount    int
	NextRetryAt   *time.Time
	CreatedAt     time.Time
}

// Execer is satisfied by *pgxpool.Pool and pgx.Tx, so events can be written
// inside the transaction that produced them.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Repository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Insert stores payload as a pending event through q.
func (r *Repository) Insert(ctx context.Context, q Execer, aggregateType, aggregateID, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal outbox payload: %w", err)
	}

	_, err = q.Exec(ctx, `
        INSERT INTO outbox_events (aggregate_type, aggregate_id, routing_key, payload, status)
        VALUES ($1, $2, $3, $4, $5)
    `, aggregateType, aggregateID, routingKey, body, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to insert outbox event: %w", err)
	}
	return nil
}

// Pending returns due events, oldest first.
func (r *Repository) Pending(ctx context.Context, limit int) ([]Event, error) {
	rows, err := r.db.Query(ctx, `
        SELECT id, aggregate_type, aggregate_id, routing_key, payload, status,
               retry_count, next_retry_at, created_at
        FROM outbox_events
        WHERE status = 'pending'
          AND (next_retry_at IS NULL OR next_retry_at <= NOW())
        ORDER BY created_at ASC
        LIMIT $1
    `, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.AggregateType, &e.AggregateID, &e.RoutingKey, &e.Payload,
			&e.Status, &e.RetryCount, &e.NextRetryAt, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

func (r *Repository) MarkSent(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
        UPDATE outbox_events SET status = 'sent', updated_at = NOW() WHERE id = $1
    `, id)
	if err != nil {
		return fmt.Errorf("failed to mark event as sent: %w", err)
	}
	return nil
}

// MarkFailed counts a failed publish. The event is rescheduled with a
// linear backoff until maxRetries is reached, then parked as failed.
func (r *Repository) MarkFailed(ctx context.Context, id int64, maxRetries int) error {
	_, err := r.db.Exec(ctx, `
        UPDATE outbox_events
        SET retry_count   = retry_count + 1,
            status        = CASE WHEN retry_count + 1 >= $2 THEN 'failed' ELSE 'pending' END,
            next_retry_at = CASE WHEN retry_count + 1 >= $2 THEN NULL
                                 ELSE NOW() + make_interval(secs => (retry_count + 1) * $3::double precision) END,
            updated_at    = NOW()
        WHERE id = $1
    `, id, maxRetries, retryStep.Seconds())
	if err != nil {
		return fmt.Errorf("failed to mark event as failed: %w", err)
	}
	return nil
}

// ReplayFailed puts up to limit parked events back in the queue and returns
// how many were reset.
func (r *Repository) ReplayFailed(ctx context.Context, limit int) (int64, error) {
	tag, err := r.db.Exec(ctx, `
        UPDATE outbox_events
        SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = NOW()
        WHERE id IN (
            SELECT id FROM outbox_events
            WHERE status = 'failed'
            ORDER BY created_at ASC
            LIMIT $1
        )
    `, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to replay events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Backlog counts events that are still pending.
func (r *Repository) Backlog(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM outbox_events WHERE status = 'pending'`).Scan(&n)
	return n, err
}
