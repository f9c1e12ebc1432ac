package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spaolacci/murmur3"

	apperrors "tap-reputation-poller/internal/errors"
	"tap-reputation-poller/internal/reputation"
	"tap-reputation-poller/internal/watermark"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	getWatermarkSQL = `SELECT last_timestamp FROM watermarks WHERE key = $1;`

	setWatermarkSQL = `INSERT INTO watermarks (key, last_timestamp, updated_at)
    VALUES ($1, $2, now())
    ON CONFLICT (key) DO UPDATE
    SET last_timestamp = EXCLUDED.last_timestamp,
        updated_at     = EXCLUDED.updated_at;`

	upsertReputationSQL = `INSERT INTO reputations (
        sha256,
        md5,
        trust_level,
        file_name,
        comment,
        first_seen,
        last_seen
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$6
    )
    ON CONFLICT (sha256, trust_level) DO UPDATE
    SET
        md5        = EXCLUDED.md5,
        file_name  = EXCLUDED.file_name,
        comment    = EXCLUDED.comment,
        last_seen  = GREATEST(reputations.last_seen, EXCLUDED.last_seen),
        seen_count = reputations.seen_count + 1;`

	listReputationsBetweenSQL = `SELECT
        sha256,
        md5,
        trust_level,
        file_name,
        comment,
        first_seen,
        last_seen,
        seen_count
    FROM reputations
    WHERE first_seen >= $1
      AND first_seen < $2
    ORDER BY first_seen;`

	listRecentReputationsSQL = `SELECT
        sha256,
        md5,
        trust_level,
        file_name,
        comment,
        first_seen,
        last_seen,
        seen_count
    FROM reputations
    ORDER BY last_seen DESC
    LIMIT $1;`

	countReputationsSQL = `SELECT COUNT(*) FROM reputations;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ReputationStore defines operations for the reputation archive.
type ReputationStore interface {
	UpsertReputation(ctx context.Context, rec reputation.Record, seenAt time.Time) error
	ListReputationsBetween(ctx context.Context, from, to time.Time) ([]ArchivedReputation, error)
	ListRecentReputations(ctx context.Context, limit int) ([]ArchivedReputation, error)
	CountReputations(ctx context.Context) (int64, error)
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to watermarks and archived reputations.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// LockKeyFor derives a per-watermark advisory lock key from the configured base.
func LockKeyFor(base int64, watermarkKey string) int64 {
	return base ^ int64(murmur3.Sum64([]byte(watermarkKey))>>1)
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// the lock dies with the session if this fails, so the connection is dropped instead
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			_ = conn.Conn().Close(ctxUnlock)
		}
		conn.Release()
	}
	return unlock, true, nil
}

// Get reads the watermark for key. No row means none.
func (s *Store) Get(ctx context.Context, key string) (time.Time, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return time.Time{}, false, apperrors.NewIO("read watermark", err)
	}

	var ts time.Time
	if err := pool.QueryRow(ctx, getWatermarkSQL, key).Scan(&ts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, apperrors.NewIO("read watermark", err)
	}
	return ts.UTC(), true, nil
}

// Set replaces the watermark for key.
func (s *Store) Set(ctx context.Context, key string, ts time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return apperrors.NewIO("write watermark", err)
	}
	if _, err := pool.Exec(ctx, setWatermarkSQL, key, ts.UTC()); err != nil {
		return apperrors.NewIO("write watermark", err)
	}
	return nil
}

// UpsertReputation archives a record, counting repeat sightings.
func (s *Store) UpsertReputation(ctx context.Context, rec reputation.Record, seenAt time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertReputationSQL,
		rec.Hashes.SHA256,
		rec.Hashes.MD5,
		int16(rec.TrustLevel),
		rec.FileName,
		rec.Comment,
		seenAt.UTC(),
	)
	if execErr != nil {
		return fmt.Errorf("upsert reputation: %w", execErr)
	}
	return nil
}

// ListReputationsBetween lists records first seen within a time window.
func (s *Store) ListReputationsBetween(ctx context.Context, from, to time.Time) ([]ArchivedReputation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listReputationsBetweenSQL, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list reputations between: %w", queryErr)
	}
	defer rows.Close()

	return collectReputations(rows, 0)
}

// ListRecentReputations lists the most recently seen records.
func (s *Store) ListRecentReputations(ctx context.Context, limit int) ([]ArchivedReputation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentReputationsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent reputations: %w", queryErr)
	}
	defer rows.Close()

	return collectReputations(rows, limit)
}

// CountReputations counts archived records.
func (s *Store) CountReputations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countReputationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count reputations: %w", scanErr)
	}
	return count, nil
}

func collectReputations(rows pgx.Rows, capacity int) ([]ArchivedReputation, error) {
	out := make([]ArchivedReputation, 0, capacity)
	for rows.Next() {
		rec, err := scanReputation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func scanReputation(rows pgx.Rows) (ArchivedReputation, error) {
	var (
		out   ArchivedReputation
		level int16
	)
	if err := rows.Scan(
		&out.Record.Hashes.SHA256,
		&out.Record.Hashes.MD5,
		&level,
		&out.Record.FileName,
		&out.Record.Comment,
		&out.FirstSeen,
		&out.LastSeen,
		&out.SeenCount,
	); err != nil {
		return ArchivedReputation{}, err
	}
	out.Record.TrustLevel = reputation.TrustLevel(level)
	return out, nil
}

var (
	_ watermark.Store = (*Store)(nil)
	_ ReputationStore = (*Store)(nil)
	_ AdvisoryLocker  = (*Store)(nil)
)
