// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ADCHub Contributors

// Package stats is a hub plugin that keeps per-client statistics in
// PostgreSQL: whether a CID is online, what it shares and how often it
// logs in, searches and connects to peers.
package stats

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"
)

// poolIface is the subset of pgxpool.Pool used by Store.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Sample is one observation of a client. Counter fields are increments.
type Sample struct {
	CID         string
	Nick        string
	Logged      bool
	SharedSize  uint64
	SharedFiles uint64
	Logins      int
	Searches    int
	Connects    int
}

// Record is a stored row.
type Record struct {
	CID         string
	Nick        string
	Logged      bool
	SharedSize  int64
	SharedFiles int64
	Logins      int64
	Searches    int64
	Connects    int64
	UpdatedAt   time.Time
}

// Store persists samples.
type Store struct {
	pool    poolIface
	backoff func() retry.Backoff
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBackoff overrides the retry policy for transient database errors.
func WithBackoff(fn func() retry.Backoff) StoreOption {
	return func(s *Store) { s.backoff = fn }
}

func defaultBackoff() retry.Backoff {
	return retry.WithMaxRetries(5, retry.WithCappedDuration(2*time.Second, retry.NewExponential(100*time.Millisecond)))
}

// NewStore wraps an existing pool.
func NewStore(pool poolIface, opts ...StoreOption) *Store {
	s := &Store{pool: pool, backoff: defaultBackoff}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool and waits for the database to answer, retrying
// while it is still starting up.
func Connect(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STATS_CONNECT_FAILED").With("operation", "create pool").Wrap(err)
	}
	s := NewStore(pool, opts...)

	err = retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		if err := s.pool.Ping(ctx); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		pool.Close()
		return nil, oops.Code("STATS_CONNECT_FAILED").With("operation", "ping").Wrap(err)
	}
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

const upsertSQL = `INSERT INTO user_stats (cid, nick, logged, shared_size, shared_files, logins, searches, connects, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
ON CONFLICT (cid) DO UPDATE SET
	nick = EXCLUDED.nick,
	logged = EXCLUDED.logged,
	shared_size = EXCLUDED.shared_size,
	shared_files = EXCLUDED.shared_files,
	logins = user_stats.logins + EXCLUDED.logins,
	searches = user_stats.searches + EXCLUDED.searches,
	connects = user_stats.connects + EXCLUDED.connects,
	updated_at = now()`

// Record upserts a sample. Transient failures are retried.
func (s *Store) Record(ctx context.Context, sample Sample) error {
	if sample.CID == "" {
		return oops.Code("STATS_INVALID_SAMPLE").Errorf("sample has no cid")
	}
	logged := 0
	if sample.Logged {
		logged = 1
	}

	err := retry.Do(ctx, s.backoff(), func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx, upsertSQL,
			sample.CID,
			sample.Nick,
			logged,
			int64(sample.SharedSize),  //nolint:gosec // share sizes fit in int64
			int64(sample.SharedFiles), //nolint:gosec // file counts fit in int64
			sample.Logins,
			sample.Searches,
			sample.Connects,
		)
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return oops.Code("STATS_UPDATE_FAILED").With("cid", sample.CID).Wrap(err)
	}
	return nil
}

// Get returns the row for cid.
func (s *Store) Get(ctx context.Context, cid string) (Record, error) {
	var (
		r      Record
		logged int16
	)
	err := s.pool.QueryRow(ctx,
		`SELECT cid, nick, logged, shared_size, shared_files, logins, searches, connects, updated_at
		 FROM user_stats WHERE cid = $1`, cid).
		Scan(&r.CID, &r.Nick, &logged, &r.SharedSize, &r.SharedFiles, &r.Logins, &r.Searches, &r.Connects, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, oops.Code("STATS_NOT_FOUND").With("cid", cid).Errorf("no statistics for cid")
	}
	if err != nil {
		return Record{}, oops.Code("STATS_QUERY_FAILED").With("cid", cid).Wrap(err)
	}
	r.Logged = logged == 1
	return r, nil
}

// Online counts CIDs currently marked as logged in.
func (s *Store) Online(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM user_stats WHERE logged = 1`).Scan(&n); err != nil {
		return 0, oops.Code("STATS_QUERY_FAILED").With("operation", "count online").Wrap(err)
	}
	return n, nil
}

// ResetOnline marks every CID offline. Run at startup so rows left by an
// unclean shutdown do not count as online.
func (s *Store) ResetOnline(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx, `UPDATE user_stats SET logged = 0, updated_at = now() WHERE logged = 1`)
	if err != nil {
		return 0, oops.Code("STATS_UPDATE_FAILED").With("operation", "reset online").Wrap(err)
	}
	return tag.RowsAffected(), nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.SerializationFailure ||
			pgErr.Code == pgerrcode.DeadlockDetected ||
			pgErr.Code == pgerrcode.CannotConnectNow
	}
	return pgconn.SafeToRetry(err)
}
