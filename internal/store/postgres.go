package store

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Postgres is the transactional backend, safe for multi-instance deployment.
type Postgres struct {
	pool        *pgxpool.Pool
	maxAttempts int
	idemTTL     time.Duration
	now         func() time.Time
}

// NewPostgres creates a Postgres store. maxAttempts bounds the serializable
// transaction retry budget for Consume/Refund; idemTTL is how long an
// idempotency record keeps serving replays.
func NewPostgres(pool *pgxpool.Pool, maxAttempts int, idemTTL time.Duration) *Postgres {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Postgres{
		pool:        pool,
		maxAttempts: maxAttempts,
		idemTTL:     idemTTL,
		now:         time.Now,
	}
}

// serializable runs fn inside a serializable transaction, retrying with
// jittered backoff on write conflicts until the attempt budget is spent.
func (p *Postgres) serializable(ctx context.Context, fn func(tx pgx.Tx) error) error {
	opts := pgx.TxOptions{IsoLevel: pgx.Serializable}

	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		err := pgx.BeginTxFunc(ctx, p.pool, opts, fn)
		if err == nil {
			return nil
		}
		if !isRetryableTxError(err) {
			return err
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt).Msg("quota transaction conflict, retrying")

		if attempt < p.maxAttempts {
			backoff := time.Duration(attempt) * 10 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
			select {
			case <-time.After(backoff + jitter):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return errors.Join(ErrTxRetriesExhausted, lastErr)
}

// isRetryableTxError reports whether the transaction should be re-run.
// Besides serialization failures, two concurrent consumes for the same
// requestId can race on the idempotency_records primary key and surface a
// unique violation; the retry's replay lookup then returns the cached
// decision.
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	// 40001 serialization_failure, 40P01 deadlock_detected, 23505 unique_violation
	return pgErr.Code == "40001" || pgErr.Code == "40P01" || pgErr.Code == "23505"
}
