package quota

import "errors"

// Window names the quota bucket that denied a request.
type Window string

const (
	WindowDay          Window = "day"
	WindowMinute       Window = "minute"
	WindowMinuteTokens Window = "minute_tokens"
	WindowUserDay      Window = "user_day"
)

// Denial reasons, in the order they are checked.
const (
	ReasonDailyApp     = "daily app limit"
	ReasonMinute       = "rate limit, retry later"
	ReasonMinuteTokens = "token rate limit"
	ReasonUserDaily    = "user daily limit"
)

// ErrRateLimited matches every *RateLimitedError.
var ErrRateLimited = errors.New("rate limited")

// RateLimitedError is returned when admission control denies a request.
type RateLimitedError struct {
	Window Window
	Reason string
}

func (e *RateLimitedError) Error() string {
	return "rate limited (" + string(e.Window) + "): " + e.Reason
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}
