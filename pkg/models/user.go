package models

import "time"

// User is the identity quota is attributed to.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Nickname  string    `json:"nickname,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SearchHistory is one stock lookup remembered for a user.
type SearchHistory struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	StockCode  string    `json:"stock_code"`
	SearchedAt time.Time `json:"searched_at"`
}

// Bookmark is a stock a user keeps on their watch list.
type Bookmark struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	StockCode    string    `json:"stock_code"`
	BookmarkedAt time.Time `json:"bookmarked_at"`
}
