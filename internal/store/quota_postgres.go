package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/quota-admission-service/internal/model"
	"github.com/quota-admission-service/internal/quota"
)

// Consume atomically evaluates and records one request against both windows.
// The idempotency record and the window increments commit in the same
// serializable transaction, so a crash can never leave one without the other.
func (p *Postgres) Consume(ctx context.Context, key *model.APIKey, requestID string, cost int) (*model.Decision, error) {
	var decision *model.Decision

	err := p.serializable(ctx, func(tx pgx.Tx) error {
		now := p.now()

		cached, err := p.replayLocked(ctx, tx, key.ID.String(), requestID, now)
		if err != nil {
			return err
		}
		if cached != nil {
			decision = cached
			return nil
		}

		minuteWin := quota.For(now, quota.Minute)
		dayWin := quota.For(now, quota.Day)

		minuteCount, err := windowCount(ctx, tx, key.ID.String(), quota.Minute, minuteWin.Start)
		if err != nil {
			return err
		}
		dayCount, err := windowCount(ctx, tx, key.ID.String(), quota.Day, dayWin.Start)
		if err != nil {
			return err
		}

		minute := quota.Evaluate(quota.Minute, minuteWin, minuteCount, key.RequestsPerMinute, cost)
		day := quota.Evaluate(quota.Day, dayWin, dayCount, key.RequestsPerDay, cost)

		charged := 0
		if minute.Exceeded || day.Exceeded {
			decision = quota.Deny(quota.ChooseExceeded(minute, day))
		} else {
			decision = quota.Allow(quota.ChooseMostRestrictive(minute, day))
			charged = cost
			if err := upsertWindow(ctx, tx, key.ID.String(), minute); err != nil {
				return err
			}
			if err := upsertWindow(ctx, tx, key.ID.String(), day); err != nil {
				return err
			}
		}

		return p.insertRecordLocked(ctx, tx, key.ID.String(), requestID, decision, charged, minuteWin.Start, dayWin.Start, now)
	})
	if err != nil {
		return nil, err
	}
	return decision, nil
}

// Refund undoes a previously charged consume. It is a no-op when the record
// is missing or expired, was a denial, or was already refunded.
func (p *Postgres) Refund(ctx context.Context, key *model.APIKey, requestID string) (bool, error) {
	refunded := false

	err := p.serializable(ctx, func(tx pgx.Tx) error {
		refunded = false
		now := p.now()

		var (
			cost            int
			alreadyRefunded bool
			minuteStart     time.Time
			dayStart        time.Time
			expiresAt       time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT cost, refunded, minute_window_start, day_window_start, expires_at
			FROM idempotency_records
			WHERE api_key_id = $1 AND request_id = $2
		`, key.ID.String(), requestID).Scan(&cost, &alreadyRefunded, &minuteStart, &dayStart, &expiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("select idempotency record: %w", err)
		}

		if alreadyRefunded || cost == 0 || !expiresAt.After(now) {
			return nil
		}

		// Only the (kind, window_start) buckets that were charged are
		// decremented; a bucket that has rolled away matches no row.
		if err := decrementWindow(ctx, tx, key.ID.String(), quota.Minute, minuteStart, cost); err != nil {
			return err
		}
		if err := decrementWindow(ctx, tx, key.ID.String(), quota.Day, dayStart, cost); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE idempotency_records SET refunded = TRUE
			WHERE api_key_id = $1 AND request_id = $2
		`, key.ID.String(), requestID); err != nil {
			return fmt.Errorf("mark refunded: %w", err)
		}

		refunded = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return refunded, nil
}

// Usage reports current consumption without mutating anything. It goes
// through the same window computation as Consume.
func (p *Postgres) Usage(ctx context.Context, key *model.APIKey) (*model.UsageSnapshot, error) {
	now := p.now()
	snapshot := &model.UsageSnapshot{}

	for _, kind := range []quota.Kind{quota.Minute, quota.Day} {
		win := quota.For(now, kind)

		var count int
		err := p.pool.QueryRow(ctx, `
			SELECT count FROM quota_windows
			WHERE api_key_id = $1 AND kind = $2 AND window_start = $3
		`, key.ID.String(), string(kind), win.Start).Scan(&count)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("select quota window: %w", err)
		}

		limit := key.RequestsPerMinute
		if kind == quota.Day {
			limit = key.RequestsPerDay
		}
		remaining := limit - count
		if remaining < 0 {
			remaining = 0
		}
		usage := model.WindowUsage{Used: count, Remaining: remaining, ResetAt: win.ResetAt}
		if kind == quota.Minute {
			snapshot.Minute = usage
		} else {
			snapshot.Day = usage
		}
	}

	return snapshot, nil
}

// replayLocked returns the cached decision for a non-expired idempotency
// record, clearing any expired record so the requestId becomes chargeable
// again.
func (p *Postgres) replayLocked(ctx context.Context, tx pgx.Tx, keyID, requestID string, now time.Time) (*model.Decision, error) {
	var (
		decisionJSON []byte
		expiresAt    time.Time
	)
	err := tx.QueryRow(ctx, `
		SELECT decision, expires_at FROM idempotency_records
		WHERE api_key_id = $1 AND request_id = $2
	`, keyID, requestID).Scan(&decisionJSON, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select idempotency record: %w", err)
	}

	if !expiresAt.After(now) {
		if _, err := tx.Exec(ctx, `
			DELETE FROM idempotency_records WHERE api_key_id = $1 AND request_id = $2
		`, keyID, requestID); err != nil {
			return nil, fmt.Errorf("delete expired idempotency record: %w", err)
		}
		return nil, nil
	}

	var decision model.Decision
	if err := json.Unmarshal(decisionJSON, &decision); err != nil {
		return nil, fmt.Errorf("unmarshal cached decision: %w", err)
	}
	return &decision, nil
}

func (p *Postgres) insertRecordLocked(ctx context.Context, tx pgx.Tx, keyID, requestID string, decision *model.Decision, cost int, minuteStart, dayStart time.Time, now time.Time) error {
	decisionJSON, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO idempotency_records (
			api_key_id, request_id, decision, cost, refunded,
			minute_window_start, day_window_start, expires_at
		) VALUES ($1, $2, $3, $4, FALSE, $5, $6, $7)
	`, keyID, requestID, decisionJSON, cost, minuteStart, dayStart, now.Add(p.idemTTL)); err != nil {
		return fmt.Errorf("insert idempotency record: %w", err)
	}
	return nil
}

func windowCount(ctx context.Context, tx pgx.Tx, keyID string, kind quota.Kind, start time.Time) (int, error) {
	var count int
	err := tx.QueryRow(ctx, `
		SELECT count FROM quota_windows
		WHERE api_key_id = $1 AND kind = $2 AND window_start = $3
	`, keyID, string(kind), start).Scan(&count)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("select quota window: %w", err)
	}
	return count, nil
}

func upsertWindow(ctx context.Context, tx pgx.Tx, keyID string, o quota.Outcome) error {
	if _, err := tx.Exec(ctx, `
		INSERT INTO quota_windows (api_key_id, kind, window_start, count, reset_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (api_key_id, kind, window_start)
		DO UPDATE SET count = $4
	`, keyID, string(o.Kind), o.Window.Start, o.NewCount, o.Window.ResetAt); err != nil {
		return fmt.Errorf("upsert quota window: %w", err)
	}
	return nil
}

func decrementWindow(ctx context.Context, tx pgx.Tx, keyID string, kind quota.Kind, start time.Time, cost int) error {
	if _, err := tx.Exec(ctx, `
		UPDATE quota_windows SET count = GREATEST(count - $4, 0)
		WHERE api_key_id = $1 AND kind = $2 AND window_start = $3
	`, keyID, string(kind), start, cost); err != nil {
		return fmt.Errorf("decrement quota window: %w", err)
	}
	return nil
}
