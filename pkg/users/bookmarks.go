package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/kotori-note/kabunote/pkg/models"
	"github.com/kotori-note/kabunote/pkg/store"
	"github.com/kotori-note/kabunote/pkg/window"
)

// ErrNoBookmark is returned when removing a stock that is not bookmarked.
var ErrNoBookmark = errors.New("bookmark not found")

// AddBookmark adds code to the bookmarks of userID. Bookmarking the same
// code twice returns ErrDuplicate.
func (s *Store) AddBookmark(ctx context.Context, userID, code string) (*models.Bookmark, error) {
	b := &models.Bookmark{
		ID:           uuid.NewString(),
		UserID:       userID,
		StockCode:    code,
		BookmarkedAt: s.clock.Now().UTC(),
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO bookmarks (id, user_id, stock_code, bookmarked_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.UserID, b.StockCode, window.Millis(b.BookmarkedAt),
	)
	if errors.Is(err, store.ErrConstraint) {
		return nil, fmt.Errorf("bookmark %s: %w", code, ErrDuplicate)
	}
	if err != nil {
		return nil, fmt.Errorf("add bookmark: %w", err)
	}
	return b, nil
}

// Bookmarks returns the bookmarks of userID, newest first.
func (s *Store) Bookmarks(ctx context.Context, userID string) ([]models.Bookmark, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, stock_code, bookmarked_at FROM bookmarks
		 WHERE user_id = ? ORDER BY bookmarked_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", err)
	}
	defer rows.Close()

	out := []models.Bookmark{}
	for rows.Next() {
		b := models.Bookmark{UserID: userID}
		var at int64
		if err := rows.Scan(&b.ID, &b.StockCode, &at); err != nil {
			return nil, fmt.Errorf("list bookmarks scan: %w", store.Wrap(err))
		}
		b.BookmarkedAt = window.FromMillis(at)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list bookmarks: %w", store.Wrap(err))
	}
	return out, nil
}

// RemoveBookmark deletes code from the bookmarks of userID.
func (s *Store) RemoveBookmark(ctx context.Context, userID, code string) error {
	res, err := s.db.Exec(ctx, `DELETE FROM bookmarks WHERE user_id = ? AND stock_code = ?`, userID, code)
	if err != nil {
		return fmt.Errorf("remove bookmark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove bookmark: %w", store.Wrap(err))
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", code, ErrNoBookmark)
	}
	return nil
}
