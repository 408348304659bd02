package quota

import (
	"errors"
	"fmt"
)

// Limits are the admission thresholds. The defaults sit at 85% of the AI
// provider's free tier so retries and clock skew stay under the hard ceiling.
type Limits struct {
	DailyRequests     int   `yaml:"daily_requests"`
	MinuteRequests    int   `yaml:"minute_requests"`
	MinuteTokens      int64 `yaml:"minute_tokens"`
	UserDailyRequests int   `yaml:"user_daily_requests"`
	TokensPerRequest  int64 `yaml:"tokens_per_request"`
}

// DefaultLimits returns the standard thresholds.
func DefaultLimits() Limits {
	return Limits{
		DailyRequests:     170,
		MinuteRequests:    25,
		MinuteTokens:      850_000,
		UserDailyRequests: 10,
		TokensPerRequest:  650,
	}
}

// Validate rejects non-positive limits.
func (l Limits) Validate() error {
	var errs []error
	if l.DailyRequests <= 0 {
		errs = append(errs, fmt.Errorf("daily_requests must be positive, got %d", l.DailyRequests))
	}
	if l.MinuteRequests <= 0 {
		errs = append(errs, fmt.Errorf("minute_requests must be positive, got %d", l.MinuteRequests))
	}
	if l.MinuteTokens <= 0 {
		errs = append(errs, fmt.Errorf("minute_tokens must be positive, got %d", l.MinuteTokens))
	}
	if l.UserDailyRequests <= 0 {
		errs = append(errs, fmt.Errorf("user_daily_requests must be positive, got %d", l.UserDailyRequests))
	}
	if l.TokensPerRequest <= 0 {
		errs = append(errs, fmt.Errorf("tokens_per_request must be positive, got %d", l.TokensPerRequest))
	}
	return errors.Join(errs...)
}
