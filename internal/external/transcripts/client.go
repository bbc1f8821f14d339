// Package transcripts is the HTTP client for the earnings-call transcript provider.
package transcripts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/cuongbtq/earnings-watch/internal/domain"
)

const (
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 2
	// maxBodySize bounds transcript documents read into memory
	maxBodySize = 20 << 20
)

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithRateLimit sets the sustained requests per second
func WithRateLimit(requestsPerSecond float64) ClientOption {
	return func(c *Client) {
		if requestsPerSecond > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(max(1, requestsPerSecond)))
		}
	}
}

// WithLogger sets a logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// Client lists transcripts per symbol and downloads transcript documents.
// Every request passes the rate limiter and a circuit breaker.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker[*http.Response]
	logger     *slog.Logger
}

// NewClient creates a new Client
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.breaker = gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
		Name:        "transcripts",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	})
	return c
}

// APIError is a non-2xx answer from the provider
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("transcript provider error: %s (status %d, url: %s)", e.Message, e.StatusCode, e.URL)
}

type itemsResponse struct {
	Items []struct {
		Status    string     `json:"status"`
		Quarter   string     `json:"quarter"`
		Year      int        `json:"year"`
		URL       string     `json:"url"`
		EventTime *time.Time `json:"event_time"`
	} `json:"items"`
}

// FetchItems lists the available and upcoming transcripts of symbol. An
// unknown symbol yields no items.
func (c *Client) FetchItems(ctx context.Context, symbol string) ([]domain.TranscriptItem, error) {
	endpoint := fmt.Sprintf("%s/transcripts/%s", c.baseURL, url.PathEscape(symbol))

	resp, err := c.do(ctx, endpoint, "application/json")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	defer resp.Body.Close()

	var body itemsResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("failed to decode transcript list: %w", err))
	}

	items := make([]domain.TranscriptItem, 0, len(body.Items))
	for _, it := range body.Items {
		status := domain.CheckStatus(strings.ToLower(it.Status))
		if status != domain.CheckAvailable && status != domain.CheckUpcoming {
			continue
		}
		items = append(items, domain.TranscriptItem{
			Status:    status,
			Period:    domain.Period{Quarter: strings.ToUpper(it.Quarter), Year: it.Year},
			SourceURL: it.URL,
			EventTime: it.EventTime,
		})
	}
	return items, nil
}

// FetchText downloads a transcript and returns its plain text. HTML pages
// are reduced to their visible text.
func (c *Client) FetchText(ctx context.Context, source string) (string, error) {
	resp, err := c.do(ctx, source, "text/html, text/plain")
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return "", domain.NonRetryable(apiErr.Error())
		}
		return "", err
	}
	defer resp.Body.Close()

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return "", domain.NewRetryableError(fmt.Errorf("failed to parse transcript page: %w", err))
		}
		return htmlText(doc), nil
	case "text/plain", "":
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
		if err != nil {
			return "", domain.NewRetryableError(fmt.Errorf("failed to read transcript: %w", err))
		}
		return strings.TrimSpace(string(raw)), nil
	default:
		return "", domain.NonRetryable(fmt.Sprintf("Unsupported transcript content type %s", mediaType))
	}
}

func htmlText(doc *goquery.Document) string {
	doc.Find("script, style, noscript, nav, header, footer").Remove()

	var lines []string
	doc.Find("body").Each(func(_ int, s *goquery.Selection) {
		for _, line := range strings.Split(s.Text(), "\n") {
			if line = strings.Join(strings.Fields(line), " "); line != "" {
				lines = append(lines, line)
			}
		}
	})
	return strings.Join(lines, "\n")
}

// do runs one GET through the limiter and breaker. 429, 5xx, transport
// errors and an open circuit are retryable; other 4xx are not.
func (c *Client) do(ctx context.Context, endpoint, accept string) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.NewRetryableError(fmt.Errorf("rate limit wait: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, domain.NonRetryable(fmt.Sprintf("Invalid transcript URL: %v", err))
	}
	req.Header.Set("Accept", accept)
	if c.apiKey != "" && strings.HasPrefix(endpoint, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	c.logger.Debug("Transcript provider request", slog.String("url", endpoint))

	resp, err := c.breaker.Execute(func() (*http.Response, error) {
		r, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		if r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests {
			return r, apiError(r, endpoint)
		}
		return r, nil
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return nil, domain.NewRetryableError(err)
		}
		return nil, domain.NewRetryableError(fmt.Errorf("transcript provider request failed: %w", err))
	}

	if resp.StatusCode >= 400 {
		err := apiError(resp, endpoint)
		if resp.StatusCode == http.StatusNotFound {
			return nil, err
		}
		return nil, domain.NonRetryable(err.Error())
	}
	return resp, nil
}

// apiError drains and closes the body
func apiError(resp *http.Response, endpoint string) *APIError {
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &APIError{StatusCode: resp.StatusCode, Message: msg, URL: endpoint}
}
