package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"design-service/internal/util"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StatusError is a non-2xx provider response
type StatusError struct {
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned status %d", e.Code)
}

// Transient reports whether the status is worth retrying
func (e *StatusError) Transient() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// ClientOptions bounds every outbound provider call
type ClientOptions struct {
	Timeout    time.Duration
	MaxRetries uint64
	// InitialBackoff is the first retry delay; it doubles per attempt
	InitialBackoff time.Duration
}

// Client is a traced JSON client for provider APIs.
// Each attempt gets its own timeout; the HTTP client itself has none.
type Client struct {
	httpClient *http.Client
	opts       ClientOptions
}

// NewClient creates a provider client
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 200 * time.Millisecond
	}
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		opts: opts,
	}
}

// PostJSON sends body as JSON and decodes a 2xx response into out
func (c *Client) PostJSON(ctx context.Context, spanName, url string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "marshal provider request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	ctx, span := util.GetTracer().Start(ctx, spanName, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		span.RecordError(err)
		return errors.Wrap(err, "build provider request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	span.SetAttributes(
		attribute.String("http.url", url),
		attribute.String("http.method", http.MethodPost),
	)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		span.RecordError(err)
		return err
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		serr := &StatusError{Code: resp.StatusCode, Body: data}
		span.RecordError(serr)
		span.SetStatus(codes.Error, serr.Error())
		return serr
	}

	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return errors.Wrap(err, "decode provider response")
		}
	}
	return nil
}

// Retry runs op until it succeeds, returns a permanent error, or the retry budget is spent.
// op marks definitive answers with backoff.Permanent; anything else is treated as transient.
func (c *Client) Retry(ctx context.Context, gateway string, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.opts.InitialBackoff
	b.MaxElapsedTime = 0

	attempt := 0
	return backoff.Retry(func() error {
		if attempt > 0 {
			util.GatewayRetriesTotal.WithLabelValues(gateway).Inc()
		}
		attempt++
		return op()
	}, backoff.WithContext(backoff.WithMaxRetries(b, c.opts.MaxRetries), ctx))
}

// IsTransient classifies a PostJSON error
func IsTransient(err error) bool {
	var serr *StatusError
	if errors.As(err, &serr) {
		return serr.Transient()
	}
	// network errors, timeouts and undecodable bodies
	return true
}
