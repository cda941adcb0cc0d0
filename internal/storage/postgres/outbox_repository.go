package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// defaultClaimLease - через сколько захваченное, но не подтверждённое
// сообщение снова становится доступным другим воркерам.
const defaultClaimLease = time.Minute

type outboxRepository struct {
	db    *sql.DB
	lease time.Duration
}

// NewOutboxRepository создаёт PostgreSQL-реализацию OutboxRepository.
// PullPending захватывает строки через FOR UPDATE SKIP LOCKED, поэтому
// несколько реплик сервиса не публикуют одно сообщение одновременно.
func NewOutboxRepository(store *Store) domain.OutboxRepository {
	return &outboxRepository{db: store.DB(), lease: defaultClaimLease}
}

func (r *outboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	ctx, cancel := opContext(context.Background())
	defer cancel()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if len(msg.Payload) == 0 {
		msg.Payload = []byte(`{}`)
	}
	now := time.Now().UTC()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$6)
	`,
		msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now,
	)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}

	return msg, nil
}

// PullPending захватывает до limit сообщений: pending или с истёкшей арендой.
func (r *outboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	ctx, cancel := opContext(context.Background())
	defer cancel()

	if limit <= 0 {
		limit = 100
	}
	now := time.Now().UTC()

	rows, err := r.db.QueryContext(ctx, `
		WITH claimed AS (
			SELECT id
			FROM outbox_messages
			WHERE status = 'pending'
			   OR (status = 'processing' AND claimed_at < $2)
			ORDER BY created_at, id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox_messages AS m
		SET status = 'processing', claimed_at = $3, updated_at = $3
		FROM claimed
		WHERE m.id = claimed.id
		RETURNING m.id, m.aggregate_type, m.aggregate_id, m.event_type, m.payload, m.created_at
	`, limit, now.Add(-r.lease), now)
	if err != nil {
		return nil, fmt.Errorf("claim pending outbox messages: %w", err)
	}
	defer rows.Close()

	type claimedRow struct {
		msg       domain.OutboxMessage
		createdAt time.Time
	}
	claimed := make([]claimedRow, 0, limit)
	for rows.Next() {
		var row claimedRow
		if err := rows.Scan(
			&row.msg.ID,
			&row.msg.AggregateType,
			&row.msg.AggregateID,
			&row.msg.EventType,
			&row.msg.Payload,
			&row.createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		claimed = append(claimed, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}

	// UPDATE ... RETURNING не гарантирует порядок, восстанавливаем порядок постановки.
	sort.Slice(claimed, func(i, j int) bool {
		if !claimed[i].createdAt.Equal(claimed[j].createdAt) {
			return claimed[i].createdAt.Before(claimed[j].createdAt)
		}
		return claimed[i].msg.ID < claimed[j].msg.ID
	})

	result := make([]domain.OutboxMessage, 0, len(claimed))
	for _, row := range claimed {
		result = append(result, row.msg)
	}
	return result, nil
}

func (r *outboxRepository) Stats() (domain.OutboxStats, error) {
	ctx, cancel := opContext(context.Background())
	defer cancel()

	var (
		stats  domain.OutboxStats
		oldest sql.NullTime
	)

	if err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), MIN(created_at)
		FROM outbox_messages
		WHERE status IN ('pending', 'processing')
	`).Scan(&stats.PendingCount, &oldest); err != nil {
		return domain.OutboxStats{}, fmt.Errorf("outbox stats query failed: %w", err)
	}

	if oldest.Valid {
		stats.OldestPendingAt = oldest.Time.UTC()
	}

	return stats, nil
}

func (r *outboxRepository) MarkSent(id string) error {
	return r.markStatus(id, "sent")
}

func (r *outboxRepository) MarkFailed(id string) error {
	return r.markStatus(id, "failed")
}

func (r *outboxRepository) markStatus(id, status string) error {
	ctx, cancel := opContext(context.Background())
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE outbox_messages
		SET status = $2,
		    attempt_count = attempt_count + 1,
		    claimed_at = NULL,
		    updated_at = $3
		WHERE id = $1
	`, id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark outbox message as %s: %w", status, err)
	}

	return expectAffected(res, domain.ErrOutboxPublish)
}

var _ domain.OutboxRepository = (*outboxRepository)(nil)
