package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/heraldhq/herald/internal/domain"
)

const messageColumns = `site_id, message_id, channel, recipient, payload_json,
	       status, retry_count, scheduled_at, next_retry_at, last_error,
	       created_at, updated_at`

type pgMessageRepository struct {
	pool *pgxpool.Pool
}

// NewPgMessageRepository returns a MessageRepository backed by PostgreSQL.
func NewPgMessageRepository(pool *pgxpool.Pool) MessageRepository {
	return &pgMessageRepository{pool: pool}
}

func (r *pgMessageRepository) Insert(ctx context.Context, m *domain.MessageLog) (*domain.MessageLog, bool, error) {
	payload, err := json.Marshal(m.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, storageErr("begin insert", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	tag, err := tx.Exec(ctx, `
		INSERT INTO message_logs
			(site_id, message_id, channel, recipient, payload_json,
			 status, retry_count, scheduled_at, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (site_id, message_id) DO NOTHING`,
		m.SiteID, m.MessageID, m.Channel, m.Recipient, payload,
		m.Status, m.RetryCount, m.ScheduledAt, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		// Concurrent inserts can still surface the unique violation directly;
		// it collapses to idempotent success below.
		var pgErr *pgconn.PgError
		if !errors.As(err, &pgErr) || pgErr.Code != pgerrcode.UniqueViolation {
			return nil, false, storageErr("insert message", err)
		}
		tag = pgconn.CommandTag{}
	}

	if tag.RowsAffected() == 0 {
		existing, err := r.Find(ctx, m.SiteID, m.MessageID)
		if err != nil {
			return nil, false, err
		}
		return existing, true, nil
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO message_status_history
			(site_id, message_id, status, retry_count, source)
		VALUES ($1,$2,$3,$4,$5)`,
		m.SiteID, m.MessageID, m.Status, m.RetryCount, domain.SourceAPI,
	)
	if err != nil {
		return nil, false, storageErr("insert initial history", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, storageErr("commit insert", err)
	}
	return m, false, nil
}

func (r *pgMessageRepository) Find(ctx context.Context, siteID uuid.UUID, messageID string) (*domain.MessageLog, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM message_logs WHERE site_id = $1 AND message_id = $2`,
		siteID, messageID)

	m, err := scanMessage(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("find message", err)
	}
	return m, nil
}

func (r *pgMessageRepository) List(ctx context.Context, siteID uuid.UUID, f domain.ListFilter) ([]*domain.MessageLog, int, error) {
	where, args := buildListWhere(siteID, f)
	offset := (f.Page - 1) * f.Limit

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM message_logs"+where, args...).Scan(&total); err != nil {
		return nil, 0, storageErr("count messages", err)
	}

	args = append(args, f.Limit, offset)
	query := fmt.Sprintf(`
		SELECT `+messageColumns+`
		FROM message_logs%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, storageErr("list messages", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, 0, storageErr("scan messages", err)
	}
	return messages, total, nil
}

func (r *pgMessageRepository) Transition(ctx context.Context, siteID uuid.UUID, messageID string, next domain.DeliveryStatus, opts TransitionOpts) (*TransitionResult, error) {
	source := opts.Source
	if source == "" {
		source = domain.SourceAPI
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin transition", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var from domain.DeliveryStatus
	var retryCount int
	err = tx.QueryRow(ctx, `
		SELECT status, retry_count FROM message_logs
		WHERE site_id = $1 AND message_id = $2
		FOR UPDATE`, siteID, messageID).Scan(&from, &retryCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, storageErr("lock message", err)
	}

	if opts.RetryCount != nil {
		retryCount = *opts.RetryCount
	}

	applied := from.CanTransition(next)
	if applied {
		_, err = tx.Exec(ctx, `
			UPDATE message_logs
			SET status = $1, last_error = $2, retry_count = $3, next_retry_at = $4
			WHERE site_id = $5 AND message_id = $6`,
			next, opts.Error, retryCount, opts.NextRetryAt, siteID, messageID,
		)
		if err != nil {
			return nil, storageErr("update status", err)
		}
	}

	entry := &domain.StatusHistory{
		SiteID:       siteID,
		MessageID:    messageID,
		Status:       next,
		ErrorMessage: opts.Error,
		RetryCount:   retryCount,
		Source:       source,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO message_status_history
			(site_id, message_id, status, error_message, retry_count, source)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING id, timestamp`,
		siteID, messageID, next, opts.Error, retryCount, source,
	).Scan(&entry.ID, &entry.Timestamp)
	if err != nil {
		return nil, storageErr("append history", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit transition", err)
	}

	return &TransitionResult{Applied: applied, From: from, Entry: entry}, nil
}

func (r *pgMessageRepository) History(ctx context.Context, siteID uuid.UUID, messageID string) ([]*domain.StatusHistory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, site_id, message_id, status, error_message, retry_count, source, timestamp
		FROM message_status_history
		WHERE site_id = $1 AND message_id = $2
		ORDER BY timestamp ASC, id ASC`, siteID, messageID)
	if err != nil {
		return nil, storageErr("query history", err)
	}
	defer rows.Close()

	var entries []*domain.StatusHistory
	for rows.Next() {
		var e domain.StatusHistory
		if err := rows.Scan(&e.ID, &e.SiteID, &e.MessageID, &e.Status,
			&e.ErrorMessage, &e.RetryCount, &e.Source, &e.Timestamp); err != nil {
			return nil, storageErr("scan history", err)
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate history", err)
	}
	return entries, nil
}

func (r *pgMessageRepository) ClaimDueScheduled(ctx context.Context, limit int) ([]*domain.MessageLog, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, storageErr("begin scheduled claim", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `
		SELECT `+messageColumns+`
		FROM message_logs
		WHERE status = 'SCHEDULED' AND scheduled_at <= NOW()
		ORDER BY scheduled_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, storageErr("find due scheduled", err)
	}
	claimed, err := scanMessages(rows)
	rows.Close()
	if err != nil {
		return nil, storageErr("scan due scheduled", err)
	}

	for _, m := range claimed {
		_, err = tx.Exec(ctx, `
			UPDATE message_logs SET status = 'PENDING'
			WHERE site_id = $1 AND message_id = $2`,
			m.SiteID, m.MessageID)
		if err != nil {
			return nil, storageErr("promote scheduled", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO message_status_history
				(site_id, message_id, status, retry_count, source)
			VALUES ($1,$2,'PENDING',$3,$4)`,
			m.SiteID, m.MessageID, m.RetryCount, domain.SourceAPI)
		if err != nil {
			return nil, storageErr("record promotion", err)
		}
		m.Status = domain.StatusPending
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, storageErr("commit scheduled claim", err)
	}
	return claimed, nil
}

func (r *pgMessageRepository) ClaimDueRetries(ctx context.Context, limit int) ([]*domain.MessageLog, error) {
	rows, err := r.pool.Query(ctx, `
		WITH due AS (
			SELECT site_id, message_id
			FROM message_logs
			WHERE status = 'RETRYING' AND next_retry_at IS NOT NULL AND next_retry_at <= NOW()
			ORDER BY next_retry_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE message_logs m SET next_retry_at = NULL
		FROM due
		WHERE m.site_id = due.site_id AND m.message_id = due.message_id
		RETURNING `+prefixedColumns("m")+``, limit)
	if err != nil {
		return nil, storageErr("claim due retries", err)
	}
	defer rows.Close()

	claimed, err := scanMessages(rows)
	if err != nil {
		return nil, storageErr("scan due retries", err)
	}
	return claimed, nil
}

func (r *pgMessageRepository) ClaimStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.MessageLog, error) {
	rows, err := r.pool.Query(ctx, `
		WITH stale AS (
			SELECT site_id, message_id
			FROM message_logs
			WHERE status = 'PENDING' AND updated_at < NOW() - make_interval(secs => $1)
			ORDER BY updated_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		UPDATE message_logs m SET updated_at = NOW()
		FROM stale
		WHERE m.site_id = stale.site_id AND m.message_id = stale.message_id
		RETURNING `+prefixedColumns("m")+``, olderThan.Seconds(), limit)
	if err != nil {
		return nil, storageErr("claim stale pending", err)
	}
	defer rows.Close()

	claimed, err := scanMessages(rows)
	if err != nil {
		return nil, storageErr("scan stale pending", err)
	}
	return claimed, nil
}

// ---- helpers ----

func storageErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrStorageUnavailable, op, err)
}

func prefixedColumns(alias string) string {
	cols := strings.Split(messageColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// scanMessage reads a single message row from any pgx row type.
func scanMessage(row pgx.Row) (*domain.MessageLog, error) {
	var m domain.MessageLog
	var payload []byte
	err := row.Scan(
		&m.SiteID, &m.MessageID, &m.Channel, &m.Recipient, &payload,
		&m.Status, &m.RetryCount, &m.ScheduledAt, &m.NextRetryAt, &m.LastError,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &m.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	return &m, nil
}

func scanMessages(rows pgx.Rows) ([]*domain.MessageLog, error) {
	var result []*domain.MessageLog
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// buildListWhere builds a parameterised WHERE clause. The site predicate is
// unconditional: no listing path exists without a tenant scope.
func buildListWhere(siteID uuid.UUID, f domain.ListFilter) (string, []any) {
	conditions := []string{"site_id = $1"}
	args := []any{siteID}

	add := func(condition string, val any) {
		args = append(args, val)
		conditions = append(conditions, fmt.Sprintf(condition, len(args)))
	}

	if f.Status != nil {
		add("status = $%d", *f.Status)
	}
	if f.Channel != nil {
		add("channel = $%d", *f.Channel)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	return " WHERE " + strings.Join(conditions, " AND "), args
}
