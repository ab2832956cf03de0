package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const postgresTable = "idempotency_keys"

// PostgresStore keeps records in the idempotency_keys table created by the order store
// migrations. Reserve locks the row so concurrent retries serialise on it.
type PostgresStore struct {
	pool *pgxpool.Pool
	sql  sq.StatementBuilderType
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, sql: sq.StatementBuilder.PlaceholderFormat(sq.Dollar)}
}

var recordColumns = []string{
	"key", "fingerprint", "status", "response_status", "response_headers",
	"response_body", "created_at", "updated_at", "expires_at",
}

func (s *PostgresStore) Reserve(ctx context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (result Reservation, err error) {
	now = now.UTC()
	id := documentID(key)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query, args, err := s.sql.Select(recordColumns...).From(postgresTable).
		Where(sq.Eq{"id": id}).Suffix("FOR UPDATE").ToSql()
	if err != nil {
		return Reservation{}, err
	}
	existing, err := scanRecord(tx.QueryRow(ctx, query, args...))
	switch {
	case err == nil && !existing.expired(now):
		if result, err = classify(existing, fingerprint); err != nil {
			return Reservation{}, err
		}
		return result, tx.Commit(ctx)
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		return Reservation{}, fmt.Errorf("idempotency: load: %w", err)
	}

	record := pendingRecord(key, fingerprint, now, normaliseTTL(ttl))
	query, args, err = s.sql.Insert(postgresTable).
		Columns("id", "key", "fingerprint", "status", "created_at", "updated_at", "expires_at").
		Values(id, record.Key, record.Fingerprint, string(record.Status), record.CreatedAt, record.UpdatedAt, record.ExpiresAt).
		Suffix(`ON CONFLICT (id) DO UPDATE SET key = EXCLUDED.key, fingerprint = EXCLUDED.fingerprint,
			status = EXCLUDED.status, response_status = 0, response_headers = NULL, response_body = NULL,
			created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at
			WHERE idempotency_keys.expires_at <= EXCLUDED.created_at`).
		ToSql()
	if err != nil {
		return Reservation{}, err
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return Reservation{}, fmt.Errorf("idempotency: reserve: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// A concurrent insert won between our read and write.
		return Reservation{State: ReservationStatePending, Record: record}, tx.Commit(ctx)
	}
	return Reservation{State: ReservationStateNew, Record: record}, tx.Commit(ctx)
}

func (s *PostgresStore) SaveResponse(ctx context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	now = now.UTC()
	query, args, err := s.sql.Insert(postgresTable).
		Columns(append([]string{"id"}, recordColumns...)...).
		Values(documentID(key), key, fingerprint, string(StatusCompleted), resp.Status,
			storableHeaders(resp.Headers), resp.Body, now, now, now.Add(normaliseTTL(ttl))).
		Suffix(`ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status,
			response_status = EXCLUDED.response_status, response_headers = EXCLUDED.response_headers,
			response_body = EXCLUDED.response_body, updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
			WHERE idempotency_keys.fingerprint = EXCLUDED.fingerprint`).
		ToSql()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("idempotency: save response: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFingerprintMismatch
	}
	return nil
}

func (s *PostgresStore) Release(ctx context.Context, key, fingerprint string) error {
	query, args, err := s.sql.Delete(postgresTable).
		Where(sq.Eq{"id": documentID(key), "fingerprint": fingerprint}).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("idempotency: release: %w", err)
	}
	return nil
}

func (s *PostgresStore) CleanupExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	expired := sq.Select("id").From(postgresTable).
		Where(sq.LtOrEq{"expires_at": now.UTC()}).
		Limit(uint64(limit))
	query, args, err := s.sql.Delete(postgresTable).
		Where(sq.Expr("id IN (?)", expired)).
		ToSql()
	if err != nil {
		return 0, err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("idempotency: cleanup: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var (
		record  Record
		status  string
		headers map[string][]string
	)
	if err := row.Scan(&record.Key, &record.Fingerprint, &status, &record.ResponseStatus, &headers,
		&record.ResponseBody, &record.CreatedAt, &record.UpdatedAt, &record.ExpiresAt); err != nil {
		return Record{}, err
	}
	record.Status = Status(status)
	record.ResponseHeaders = headers
	return record, nil
}
