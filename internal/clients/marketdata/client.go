// Package marketdata provides a client for an EOD price service
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/bobmcallan/keel/internal/common"
	"github.com/bobmcallan/keel/internal/interfaces"
	"github.com/bobmcallan/keel/internal/models"
)

const (
	DefaultBaseURL   = "https://eodhd.com/api"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 10 // requests per second
	DefaultRetries   = 3
	initialBackoff   = 250 * time.Millisecond
)

// Compile-time interface check
var _ interfaces.PriceClient = (*Client)(nil)

// Client implements the PriceClient interface
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
	retries    int
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithRetries sets the bounded retry count for transient failures
func WithRetries(retries int) ClientOption {
	return func(c *Client) {
		if retries >= 0 {
			c.retries = retries
		}
	}
}

// NewClient creates a new market data client
func NewClient(apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		retries: DefaultRetries,
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError represents an API error
type APIError struct {
	StatusCode int
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("market data API error: %s (status: %d, endpoint: %s)", e.Message, e.StatusCode, e.Endpoint)
}

// UnpriceableSymbolError reports that no market price could be obtained for a
// symbol. Callers fall back to a price hint and flag the approximation.
type UnpriceableSymbolError struct {
	Symbol string
	Date   time.Time
	Cause  error
}

func (e *UnpriceableSymbolError) Error() string {
	return fmt.Sprintf("no market price for %s as of %s: %v", e.Symbol, e.Date.Format("2006-01-02"), e.Cause)
}

func (e *UnpriceableSymbolError) Unwrap() error { return e.Cause }

// retryable reports whether an HTTP status is worth retrying.
func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// get performs a rate-limited GET with bounded exponential backoff. Retries
// never outlive the request context, so one source's price lookups cannot
// stall other pipelines past their deadline.
func (c *Client) get(ctx context.Context, path string, query url.Values, result interface{}) error {
	query.Set("api_token", c.apiKey)
	query.Set("fmt", "json")
	reqURL := c.baseURL + path + "?" + query.Encode()

	backoff := initialBackoff
	var lastErr error

	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		c.logger.Debug().Str("url", path).Int("attempt", attempt+1).Msg("Market data request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = &APIError{
				StatusCode: resp.StatusCode,
				Message:    string(body),
				Endpoint:   path,
			}
			if !retryable(resp.StatusCode) {
				return lastErr
			}
			continue
		}

		err = json.NewDecoder(resp.Body).Decode(result)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("request failed after %d attempts: %w", c.retries+1, lastErr)
}

// eodBar is the wire format of one daily bar.
type eodBar struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

// ClosingPrices returns the daily close series for symbol across [from, to].
func (c *Client) ClosingPrices(ctx context.Context, symbol string, from, to time.Time) (models.PriceSeries, error) {
	query := url.Values{}
	query.Set("from", from.Format("2006-01-02"))
	query.Set("to", to.Format("2006-01-02"))
	query.Set("period", "d")

	var bars []eodBar
	if err := c.get(ctx, "/eod/"+url.PathEscape(symbol), query, &bars); err != nil {
		return nil, &UnpriceableSymbolError{Symbol: symbol, Date: to, Cause: err}
	}

	series := make(models.PriceSeries, 0, len(bars))
	for _, b := range bars {
		d, err := time.Parse("2006-01-02", b.Date)
		if err != nil || b.Close <= 0 {
			continue
		}
		series = append(series, models.PricePoint{Date: d.UTC(), Close: b.Close})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Date.Before(series[j].Date) })

	if len(series) == 0 {
		return nil, &UnpriceableSymbolError{Symbol: symbol, Date: to, Cause: fmt.Errorf("empty series")}
	}
	return series, nil
}

// ClosingPrice returns the close for symbol on or before date.
func (c *Client) ClosingPrice(ctx context.Context, symbol string, date time.Time) (float64, error) {
	series, err := c.ClosingPrices(ctx, symbol, date.AddDate(0, 0, -7), date)
	if err != nil {
		return 0, err
	}
	price, ok := series.AsOf(date)
	if !ok {
		return 0, &UnpriceableSymbolError{Symbol: symbol, Date: date, Cause: fmt.Errorf("no bar on or before date")}
	}
	return price, nil
}
