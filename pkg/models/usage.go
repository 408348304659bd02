package models

// UsageStatus is the answer to an admission query.
type UsageStatus struct {
	Allowed   bool   `json:"allowed"`
	Reason    string `json:"reason,omitempty"`
	Window    string `json:"window,omitempty"`
	Remaining int    `json:"remaining_requests"`
	Limit     int    `json:"daily_limit"`
}

// DailyUsage is the app-wide counter row for one day.
type DailyUsage struct {
	Date            string `json:"usage_date"`
	Requests        int    `json:"total_requests"`
	EstimatedTokens int64  `json:"estimated_tokens"`
	ActualTokens    int64  `json:"actual_tokens"`
}

// MinuteUsage is the app-wide counter row for one minute.
type MinuteUsage struct {
	MinuteKey string `json:"minute_key"`
	Requests  int    `json:"requests"`
	Tokens    int64  `json:"tokens"`
}

// UserDailyUsage is the per-user counter row for one day.
type UserDailyUsage struct {
	UserID   string `json:"user_id"`
	Date     string `json:"usage_date"`
	Requests int    `json:"request_count"`
	Tokens   int64  `json:"token_count"`
}

// UsageSnapshot is the raw counter state for the current day and minute.
type UsageSnapshot struct {
	Daily  DailyUsage     `json:"daily"`
	Minute MinuteUsage    `json:"minute"`
	User   UserDailyUsage `json:"user"`
}
