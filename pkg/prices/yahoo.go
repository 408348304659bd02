package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/kotori-note/kabunote/pkg/models"
)

// ErrNoData is returned when the market data source has no bars for a code.
var ErrNoData = errors.New("no price data")

// Fetcher loads daily bars for a stock code and chart period.
type Fetcher interface {
	Fetch(ctx context.Context, code, period string) ([]models.PricePoint, error)
}

// YahooConfig holds configuration for the Yahoo Finance chart API.
type YahooConfig struct {
	BaseURL           string        `yaml:"base_url"`
	Suffix            string        `yaml:"suffix"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
}

// DefaultYahooConfig targets Tokyo Stock Exchange symbols.
func DefaultYahooConfig() YahooConfig {
	return YahooConfig{
		BaseURL:           "https://query1.finance.yahoo.com",
		Suffix:            ".T",
		Timeout:           10 * time.Second,
		RequestsPerMinute: 30,
	}
}

// Yahoo fetches daily bars from the Yahoo Finance v8 chart API.
type Yahoo struct {
	cfg        YahooConfig
	clock      clock.Clock
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewYahoo creates a Yahoo fetcher. Zero config fields take their defaults.
func NewYahoo(cfg YahooConfig, clk clock.Clock) *Yahoo {
	def := DefaultYahooConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = def.RequestsPerMinute
	}
	return &Yahoo{
		cfg:        cfg,
		clock:      clk,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1),
	}
}

type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// Fetch returns the daily bars covering PeriodDays(period) up to now,
// oldest first. Bars with missing values are skipped.
func (y *Yahoo) Fetch(ctx context.Context, code, period string) ([]models.PricePoint, error) {
	if err := y.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("yahoo rate limiter: %w", err)
	}

	now := y.clock.Now().UTC()
	from := now.AddDate(0, 0, -PeriodDays(period))
	q := url.Values{}
	q.Set("period1", strconv.FormatInt(from.Unix(), 10))
	q.Set("period2", strconv.FormatInt(now.Unix(), 10))
	q.Set("interval", "1d")
	endpoint := strings.TrimRight(y.cfg.BaseURL, "/") +
		"/v8/finance/chart/" + url.PathEscape(code+y.cfg.Suffix) + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build yahoo request: %w", err)
	}
	req.Header.Set("User-Agent", "kabunote/1.0")
	req.Header.Set("Accept", "application/json")

	resp, err := y.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("yahoo request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("yahoo status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode yahoo response: %w", err)
	}
	if out.Chart.Error != nil {
		return nil, fmt.Errorf("yahoo %s: %s", out.Chart.Error.Code, out.Chart.Error.Description)
	}
	if len(out.Chart.Result) == 0 || len(out.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, fmt.Errorf("%s: %w", code, ErrNoData)
	}

	res := out.Chart.Result[0]
	quote := res.Indicators.Quote[0]
	points := make([]models.PricePoint, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		if i >= len(quote.Close) || i >= len(quote.Open) || i >= len(quote.High) ||
			i >= len(quote.Low) || i >= len(quote.Volume) {
			break
		}
		if quote.Open[i] == nil || quote.High[i] == nil || quote.Low[i] == nil || quote.Close[i] == nil {
			continue
		}
		var volume int64
		if quote.Volume[i] != nil {
			volume = *quote.Volume[i]
		}
		points = append(points, models.PricePoint{
			Time:   time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Open:   round2(*quote.Open[i]),
			High:   round2(*quote.High[i]),
			Low:    round2(*quote.Low[i]),
			Close:  round2(*quote.Close[i]),
			Volume: volume,
		})
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%s: %w", code, ErrNoData)
	}
	return points, nil
}
