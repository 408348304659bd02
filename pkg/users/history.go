package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/store"
	"github.com/kotori-note/kabunote/pkg/window"
)

const (
	// MaxHistory is the number of searches kept per user.
	MaxHistory = 100
	// RepeatWindow collapses repeated searches of the same stock.
	RepeatWindow = 10 * time.Minute
)

// AddSearch remembers that userID looked up code. A search of the same code
// within RepeatWindow returns the earlier entry instead. The oldest entries
// are dropped so at most MaxHistory remain.
func (s *Store) AddSearch(ctx context.Context, userID, code string) (*models.SearchHistory, error) {
	now := s.clock.Now().UTC()
	var out *models.SearchHistory

	err := s.db.InTx(ctx, func(tx *store.Tx) error {
		recent := &models.SearchHistory{UserID: userID, StockCode: code}
		var searched int64
		err := tx.QueryRow(ctx,
			`SELECT id, searched_at FROM search_history
			 WHERE user_id = ? AND stock_code = ?
			 ORDER BY searched_at DESC LIMIT 1`,
			userID, code,
		).Scan(&recent.ID, &searched)
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return store.Wrap(err)
		case now.Sub(window.FromMillis(searched)) < RepeatWindow:
			recent.SearchedAt = window.FromMillis(searched)
			out = recent
			return nil
		}

		var count int
		if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM search_history WHERE user_id = ?`, userID).Scan(&count); err != nil {
			return store.Wrap(err)
		}
		if excess := count - MaxHistory + 1; excess > 0 {
			if _, err := tx.Exec(ctx,
				`DELETE FROM search_history WHERE id IN (
					SELECT id FROM search_history WHERE user_id = ?
					ORDER BY searched_at ASC, id ASC LIMIT ?)`,
				userID, excess,
			); err != nil {
				return err
			}
		}

		entry := &models.SearchHistory{ID: uuid.NewString(), UserID: userID, StockCode: code, SearchedAt: now}
		if _, err := tx.Exec(ctx,
			`INSERT INTO search_history (id, user_id, stock_code, searched_at) VALUES (?, ?, ?, ?)`,
			entry.ID, entry.UserID, entry.StockCode, window.Millis(entry.SearchedAt),
		); err != nil {
			return err
		}
		out = entry
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("add search: %w", err)
	}
	return out, nil
}

// SearchHistory returns the searches of userID, newest first.
func (s *Store) SearchHistory(ctx context.Context, userID string) ([]models.SearchHistory, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, stock_code, searched_at FROM search_history
		 WHERE user_id = ? ORDER BY searched_at DESC, id DESC LIMIT ?`,
		userID, MaxHistory,
	)
	if err != nil {
		return nil, fmt.Errorf("search history: %w", err)
	}
	defer rows.Close()

	out := []models.SearchHistory{}
	for rows.Next() {
		h := models.SearchHistory{UserID: userID}
		var searched int64
		if err := rows.Scan(&h.ID, &h.StockCode, &searched); err != nil {
			return nil, fmt.Errorf("search history scan: %w", store.Wrap(err))
		}
		h.SearchedAt = window.FromMillis(searched)
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("search history: %w", store.Wrap(err))
	}
	return out, nil
}
