package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	contractdb "mailflow/contracts/db"
	"mailflow/internal/model"
	"mailflow/internal/workflow"
)

// EmailRepository reads and stores inbound items in inbox_items.
type EmailRepository struct {
	db *pgxpool.Pool
}

func NewEmailRepository(db *pgxpool.Pool) *EmailRepository {
	return &EmailRepository{db: db}
}

// Upsert stores an item received from the queue. Re-delivered items keep
// their first received_at.
func (r *EmailRepository) Upsert(ctx context.Context, item *model.InputItem) error {
	query := `
        INSERT INTO inbox_items (id, subject, sender, body, received_at, created_at)
        VALUES ($1, $2, $3, $4, $5, NOW())
        ON CONFLICT (id) DO UPDATE
        SET subject = EXCLUDED.subject,
            sender = EXCLUDED.sender,
            body = EXCLUDED.body
    `
	receivedAt := item.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, query, item.ID, item.Subject, item.Sender, item.Body, receivedAt)
	if err != nil {
		return fmt.Errorf("upsert inbox item %s: %w", item.ID, err)
	}
	return nil
}

// Fetch returns up to limit items, oldest first, that have no successful
// run yet. filter.Sender is a case-insensitive substring match.
func (r *EmailRepository) Fetch(ctx context.Context, limit int, filter workflow.Filter) ([]model.InputItem, error) {
	if limit <= 0 {
		limit = 10
	}
	query := `
        SELECT i.id, i.subject, i.sender, i.body, i.received_at, i.created_at
        FROM inbox_items i
        WHERE ($1::text = '' OR i.sender ILIKE '%' || $1::text || '%')
          AND i.received_at >= $2::timestamptz
          AND NOT EXISTS (
              SELECT 1 FROM workflow_run_items w
              WHERE w.item_id = i.id AND w.status = 'succeeded'
          )
        ORDER BY i.received_at ASC
        LIMIT $3
    `
	rows, err := r.db.Query(ctx, query, filter.Sender, filter.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("query inbox items: %w", err)
	}
	defer rows.Close()

	var items []model.InputItem
	for rows.Next() {
		var row contractdb.InboxItem
		if err := rows.Scan(&row.ID, &row.Subject, &row.Sender, &row.Body, &row.ReceivedAt, &row.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, toInputItem(row))
	}
	return items, rows.Err()
}

func (r *EmailRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func toInputItem(row contractdb.InboxItem) model.InputItem {
	return model.InputItem{
		ID:         row.ID,
		Subject:    row.Subject,
		Sender:     row.Sender,
		Body:       row.Body,
		ReceivedAt: row.ReceivedAt,
	}
}
