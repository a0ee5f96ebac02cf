// Package kra talks to the Korea Racing Authority open-data API on data.go.kr.
package kra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/vnmchuo/race-predictor/internal/retry"
)

const (
	DefaultBaseURL    = "https://apis.data.go.kr/B551015"
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3

	paramServiceKey = "serviceKey"
	paramType       = "_type"
)

var ErrMissingAPIKey = errors.New("kra: api key is required")

// Params holds query parameters for a single request. Values are formatted
// with fmt's default verb.
type Params map[string]any

// StatusError is returned when the API answers with a non-2xx status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kra api error (endpoint %s, status %d): %s", e.Endpoint, e.StatusCode, e.Body)
}

// DecodeError is returned when a 2xx body is not valid JSON.
type DecodeError struct {
	Endpoint string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("kra api decode (endpoint %s): %v", e.Endpoint, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Endpoints are the relative paths used by the typed wrappers. The upstream
// paths are not confirmed, so they stay overridable.
type Endpoints struct {
	Schedule string
	Results  string
	Horse    string
	Entries  string
}

func DefaultEndpoints() Endpoints {
	return Endpoints{
		Schedule: "API187/raceSchedule",
		Results:  "API156/raceRsutDtl",
		Horse:    "API/horseInfo",
		Entries:  "API/raceEntries",
	}
}

// Config is read once at construction.
type Config struct {
	APIKey     string
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	Endpoints  Endpoints
}

type Client struct {
	apiKey     string
	baseURL    string
	endpoints  Endpoints
	policy     retry.Policy
	httpClient *http.Client
	logger     *zap.Logger
	tracer     trace.Tracer
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

func New(cfg Config, opts ...Option) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	endpoints := DefaultEndpoints()
	if cfg.Endpoints.Schedule != "" {
		endpoints.Schedule = cfg.Endpoints.Schedule
	}
	if cfg.Endpoints.Results != "" {
		endpoints.Results = cfg.Endpoints.Results
	}
	if cfg.Endpoints.Horse != "" {
		endpoints.Horse = cfg.Endpoints.Horse
	}
	if cfg.Endpoints.Entries != "" {
		endpoints.Entries = cfg.Endpoints.Entries
	}

	c := &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		endpoints:  endpoints,
		policy:     retry.DefaultPolicy(maxRetries),
		httpClient: &http.Client{Timeout: timeout},
		logger:     zap.NewNop(),
		tracer:     noop.NewTracerProvider().Tracer("kra"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Request issues a GET against endpoint with params plus the service key and
// the JSON format flag, retrying any failure under the client's policy.
func (c *Client) Request(ctx context.Context, endpoint string, params Params) (json.RawMessage, error) {
	ctx, span := c.tracer.Start(ctx, "kra.request")
	defer span.End()
	span.SetAttributes(attribute.String("kra.endpoint", endpoint))

	target, err := c.buildURL(endpoint, params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	data, err := retry.Do(ctx, c.policy, func(attempt int) (json.RawMessage, error) {
		data, err := c.get(ctx, endpoint, target)
		if err != nil {
			c.logFailure(endpoint, attempt, err)
			return nil, err
		}
		c.logger.Info("kra api request successful",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt))
		return data, nil
	}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return data, nil
}

func (c *Client) buildURL(endpoint string, params Params) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", fmt.Errorf("kra: parse base url: %w", err)
	}
	u = u.JoinPath(endpoint)

	q := url.Values{}
	for k, v := range params {
		q.Set(k, fmt.Sprint(v))
	}
	// set last so callers cannot override them
	q.Set(paramServiceKey, c.apiKey)
	q.Set(paramType, "json")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) get(ctx context.Context, endpoint, target string) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("kra: new request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("kra: request %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("kra: read body %s: %w", endpoint, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		var probe any
		return nil, &DecodeError{Endpoint: endpoint, Err: json.Unmarshal(body, &probe)}
	}
	return json.RawMessage(body), nil
}

func (c *Client) logFailure(endpoint string, attempt int, err error) {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		c.logger.Error("kra api http error",
			zap.String("endpoint", endpoint),
			zap.Int("attempt", attempt),
			zap.Int("status_code", statusErr.StatusCode),
			zap.String("body", statusErr.Body))
		return
	}
	c.logger.Error("kra api request error",
		zap.String("endpoint", endpoint),
		zap.Int("attempt", attempt),
		zap.Error(err))
}
