package explain

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"github.com/kotori-note/kabunote/pkg/cache"
	"github.com/kotori-note/kabunote/pkg/metrics"
	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/store"
	"github.com/kotori-note/kabunote/pkg/window"
)

// Records stores generated explanations in ai_explanations. At most one
// row exists per stock code and period.
type Records struct {
	db    *store.DB
	clock clock.Clock
	log   zerolog.Logger
}

// NewRecords creates a Records store.
func NewRecords(db *store.DB, clk clock.Clock, log zerolog.Logger) *Records {
	return &Records{db: db, clock: clk, log: log.With().Str("component", "explain_records").Logger()}
}

// Get returns the live explanation for code and period, or nil. A row whose
// technical data cannot be decoded is deleted and reported as a miss.
func (r *Records) Get(ctx context.Context, code, period string) (*models.Explanation, error) {
	exp := &models.Explanation{StockCode: code, ChartPeriod: period}
	var technical string
	var source string
	var created, expires int64
	err := r.db.QueryRow(ctx,
		`SELECT id, explanation_text, technical_data, source, created_at, expires_at
		 FROM ai_explanations
		 WHERE stock_code = ? AND chart_period = ? AND expires_at > ?`,
		code, period, window.Millis(r.clock.Now()),
	).Scan(&exp.ID, &exp.ExplanationText, &technical, &source, &created, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("explanation get: %w", store.Wrap(err))
	}

	if err := json.Unmarshal([]byte(technical), &exp.TechnicalData); err != nil {
		metrics.CacheLookups.WithLabelValues(string(cache.NamespaceExplanation), "corrupt").Inc()
		r.log.Warn().Err(fmt.Errorf("%w: %v", cache.ErrCorrupt, err)).
			Str("code", code).
			Str("period", period).
			Msg("dropping undecodable explanation")
		if _, delErr := r.db.Exec(ctx, `DELETE FROM ai_explanations WHERE id = ?`, exp.ID); delErr != nil {
			r.log.Error().Err(delErr).Str("id", exp.ID).Msg("delete corrupt explanation")
		}
		return nil, nil
	}
	exp.Source = models.ExplanationSource(source)
	exp.CreatedAt = window.FromMillis(created)
	exp.ExpiresAt = window.FromMillis(expires)
	return exp, nil
}

// Put replaces the explanation for exp's code and period.
func (r *Records) Put(ctx context.Context, exp *models.Explanation) error {
	technical, err := json.Marshal(exp.TechnicalData)
	if err != nil {
		return fmt.Errorf("encode technical data: %w", err)
	}

	err = r.db.InTx(ctx, func(tx *store.Tx) error {
		if _, err := tx.Exec(ctx,
			`DELETE FROM ai_explanations WHERE stock_code = ? AND chart_period = ?`,
			exp.StockCode, exp.ChartPeriod,
		); err != nil {
			return err
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO ai_explanations
				(id, stock_code, chart_period, explanation_text, technical_data, source, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			exp.ID, exp.StockCode, exp.ChartPeriod, exp.ExplanationText, string(technical),
			string(exp.Source), window.Millis(exp.CreatedAt), window.Millis(exp.ExpiresAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("explanation put: %w", err)
	}
	return nil
}

// InvalidateSubject removes every explanation of code.
func (r *Records) InvalidateSubject(ctx context.Context, code string) (int64, error) {
	res, err := r.db.Exec(ctx, `DELETE FROM ai_explanations WHERE stock_code = ?`, code)
	if err != nil {
		return 0, fmt.Errorf("explanation invalidate: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("explanation invalidate: %w", store.Wrap(err))
	}
	return n, nil
}

// Cleanup deletes explanations that expired at or before now.
func (r *Records) Cleanup(ctx context.Context) (int64, error) {
	res, err := r.db.Exec(ctx, `DELETE FROM ai_explanations WHERE expires_at <= ?`, window.Millis(r.clock.Now()))
	if err != nil {
		return 0, fmt.Errorf("explanation cleanup: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("explanation cleanup: %w", store.Wrap(err))
	}
	metrics.CleanupDeleted.WithLabelValues("ai_explanations").Add(float64(n))
	return n, nil
}

// Stats counts stored explanations.
func (r *Records) Stats(ctx context.Context) (models.NamespaceStats, error) {
	var total, live int64
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN expires_at > ? THEN 1 ELSE 0 END), 0) FROM ai_explanations`,
		window.Millis(r.clock.Now()),
	).Scan(&total, &live)
	if err != nil {
		return models.NamespaceStats{}, fmt.Errorf("explanation stats: %w", store.Wrap(err))
	}
	return cache.NewNamespaceStats(total, live), nil
}
