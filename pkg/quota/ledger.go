// Package quota counts AI provider usage per day, per minute and per user,
// and answers admission queries against those counters.
package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/kotori-note/kabunote/pkg/metrics"
	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/store"
	"github.com/kotori-note/kabunote/pkg/window"
)

// Ledger owns the usage counter tables.
type Ledger struct {
	db     *store.DB
	clock  clock.Clock
	limits Limits
	log    zerolog.Logger
}

// New creates a Ledger.
func New(db *store.DB, clk clock.Clock, limits Limits, log zerolog.Logger) *Ledger {
	return &Ledger{
		db:     db,
		clock:  clk,
		limits: limits,
		log:    log.With().Str("component", "quota").Logger(),
	}
}

// Limits returns the configured thresholds.
func (l *Ledger) Limits() Limits {
	return l.limits
}

// CheckAdmission decides whether one more provider call is allowed for
// userID. Windows are checked in priority order: app day, app minute
// requests, app minute tokens, then the user's day. The first exhausted
// window denies. The answer is advisory; RecordUsage does not re-check.
//
// A store error is returned as-is and must be treated as a denial.
func (l *Ledger) CheckAdmission(ctx context.Context, userID string, estimatedTokens int64) (models.UsageStatus, error) {
	if estimatedTokens <= 0 {
		estimatedTokens = l.limits.TokensPerRequest
	}
	now := l.clock.Now()
	day, minute := window.DayKey(now), window.MinuteKey(now)

	daily, err := l.daily(ctx, day)
	if err != nil {
		return models.UsageStatus{}, fmt.Errorf("admission check: %w", err)
	}
	if daily.Requests >= l.limits.DailyRequests {
		return l.deny(WindowDay, ReasonDailyApp), nil
	}

	perMinute, err := l.minute(ctx, minute)
	if err != nil {
		return models.UsageStatus{}, fmt.Errorf("admission check: %w", err)
	}
	if perMinute.Requests >= l.limits.MinuteRequests {
		return l.deny(WindowMinute, ReasonMinute), nil
	}
	if perMinute.Tokens+estimatedTokens > l.limits.MinuteTokens {
		return l.deny(WindowMinuteTokens, ReasonMinuteTokens), nil
	}

	user, err := l.user(ctx, userID, day)
	if err != nil {
		return models.UsageStatus{}, fmt.Errorf("admission check: %w", err)
	}
	if user.Requests >= l.limits.UserDailyRequests {
		return l.deny(WindowUserDay, ReasonUserDaily), nil
	}

	metrics.Admissions.WithLabelValues("allowed", "").Inc()
	return models.UsageStatus{
		Allowed:   true,
		Remaining: l.limits.UserDailyRequests - user.Requests,
		Limit:     l.limits.UserDailyRequests,
	}, nil
}

func (l *Ledger) deny(w Window, reason string) models.UsageStatus {
	metrics.Admissions.WithLabelValues("denied", string(w)).Inc()
	l.log.Debug().Str("window", string(w)).Str("reason", reason).Msg("admission denied")
	return models.UsageStatus{
		Allowed: false,
		Reason:  reason,
		Window:  string(w),
		Limit:   l.limits.UserDailyRequests,
	}
}

// Denial converts a denied status into a *RateLimitedError. It returns nil
// for allowed statuses.
func Denial(status models.UsageStatus) error {
	if status.Allowed {
		return nil
	}
	return &RateLimitedError{Window: Window(status.Window), Reason: status.Reason}
}

// RecordUsage charges one request and actualTokens to the current day,
// the current minute and the user's day, in a single transaction. The
// daily estimated_tokens column grows by the configured per-request
// estimate so estimates can be compared with actual spend.
func (l *Ledger) RecordUsage(ctx context.Context, userID string, actualTokens int64) error {
	if actualTokens < 0 {
		actualTokens = 0
	}
	now := l.clock.Now()
	day, minute := window.DayKey(now), window.MinuteKey(now)

	err := l.db.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO daily_api_usage (usage_date, total_requests, estimated_tokens, actual_tokens)
			 VALUES (?, 1, ?, ?)
			 ON CONFLICT (usage_date) DO UPDATE SET
				total_requests = daily_api_usage.total_requests + 1,
				estimated_tokens = daily_api_usage.estimated_tokens + excluded.estimated_tokens,
				actual_tokens = daily_api_usage.actual_tokens + excluded.actual_tokens`,
			day, l.limits.TokensPerRequest, actualTokens,
		); err != nil {
			return fmt.Errorf("daily usage: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO minute_api_usage (minute_key, requests, tokens)
			 VALUES (?, 1, ?)
			 ON CONFLICT (minute_key) DO UPDATE SET
				requests = minute_api_usage.requests + 1,
				tokens = minute_api_usage.tokens + excluded.tokens`,
			minute, actualTokens,
		); err != nil {
			return fmt.Errorf("minute usage: %w", err)
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_daily_usage (user_id, usage_date, request_count, token_count)
			 VALUES (?, ?, 1, ?)
			 ON CONFLICT (user_id, usage_date) DO UPDATE SET
				request_count = user_daily_usage.request_count + 1,
				token_count = user_daily_usage.token_count + excluded.token_count`,
			userID, day, actualTokens,
		); err != nil {
			return fmt.Errorf("user usage: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	metrics.TokensRecorded.Add(float64(actualTokens))
	return nil
}

// Usage returns the raw counters for the current day and minute.
func (l *Ledger) Usage(ctx context.Context, userID string) (models.UsageSnapshot, error) {
	now := l.clock.Now()
	day, minute := window.DayKey(now), window.MinuteKey(now)

	var snap models.UsageSnapshot
	var err error
	if snap.Daily, err = l.daily(ctx, day); err != nil {
		return snap, fmt.Errorf("usage: %w", err)
	}
	if snap.Minute, err = l.minute(ctx, minute); err != nil {
		return snap, fmt.Errorf("usage: %w", err)
	}
	if snap.User, err = l.user(ctx, userID, day); err != nil {
		return snap, fmt.Errorf("usage: %w", err)
	}
	return snap, nil
}

// History returns up to days daily rows, newest first.
func (l *Ledger) History(ctx context.Context, days int) ([]models.DailyUsage, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := l.db.Query(ctx,
		`SELECT usage_date, total_requests, estimated_tokens, actual_tokens
		 FROM daily_api_usage ORDER BY usage_date DESC LIMIT ?`, days)
	if err != nil {
		return nil, fmt.Errorf("usage history: %w", err)
	}
	defer rows.Close()

	var out []models.DailyUsage
	for rows.Next() {
		var d models.DailyUsage
		if err := rows.Scan(&d.Date, &d.Requests, &d.EstimatedTokens, &d.ActualTokens); err != nil {
			return nil, fmt.Errorf("usage history scan: %w", store.Wrap(err))
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usage history: %w", store.Wrap(err))
	}
	return out, nil
}

// PruneMinutes deletes minute buckets that started before the given time.
func (l *Ledger) PruneMinutes(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.Exec(ctx, `DELETE FROM minute_api_usage WHERE minute_key < ?`, window.MinuteKey(before))
	if err != nil {
		return 0, fmt.Errorf("prune minutes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune minutes: %w", store.Wrap(err))
	}
	metrics.CleanupDeleted.WithLabelValues("minute_api_usage").Add(float64(n))
	return n, nil
}

func (l *Ledger) daily(ctx context.Context, day string) (models.DailyUsage, error) {
	d := models.DailyUsage{Date: day}
	err := l.db.QueryRow(ctx,
		`SELECT total_requests, estimated_tokens, actual_tokens FROM daily_api_usage WHERE usage_date = ?`, day,
	).Scan(&d.Requests, &d.EstimatedTokens, &d.ActualTokens)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return d, store.Wrap(err)
	}
	return d, nil
}

func (l *Ledger) minute(ctx context.Context, key string) (models.MinuteUsage, error) {
	m := models.MinuteUsage{MinuteKey: key}
	err := l.db.QueryRow(ctx,
		`SELECT requests, tokens FROM minute_api_usage WHERE minute_key = ?`, key,
	).Scan(&m.Requests, &m.Tokens)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return m, store.Wrap(err)
	}
	return m, nil
}

func (l *Ledger) user(ctx context.Context, userID, day string) (models.UserDailyUsage, error) {
	u := models.UserDailyUsage{UserID: userID, Date: day}
	err := l.db.QueryRow(ctx,
		`SELECT request_count, token_count FROM user_daily_usage WHERE user_id = ? AND usage_date = ?`, userID, day,
	).Scan(&u.Requests, &u.Tokens)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return u, store.Wrap(err)
	}
	return u, nil
}
