// internal/clients/musicbrainz_client.go
package clients

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"recordstore/internal/config"
	"recordstore/internal/logging"
	"recordstore/internal/metrics"
)

var (
	ErrUpstreamUnavailable = errors.New("musicbrainz unavailable")
	ErrNetwork             = errors.New("musicbrainz network error")
	// ErrPayloadTooLarge is returned when a body exceeds maxPayload.
	ErrPayloadTooLarge = fmt.Errorf("%w: payload too large", ErrUpstreamUnavailable)
)

// maxPayload bounds a single response body.
const maxPayload = 4 << 20

// StatusError carries the HTTP status of a failed upstream response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("musicbrainz responded with status %d", e.Code)
}

func (e *StatusError) Unwrap() error { return ErrUpstreamUnavailable }

// MusicBrainzClient issues throttled requests to the MusicBrainz web service
// and returns raw payload text. Each call waits the configured delay before
// touching the network; the delay is per call, not global. A process-wide
// limiter is applied on top when GlobalRate is set.
type MusicBrainzClient struct {
	baseURL   string
	userAgent string
	delay     time.Duration
	http      *http.Client
	limiter   *rate.Limiter
	breaker   *gobreaker.CircuitBreaker[string]
}

func NewMusicBrainzClient(cfg config.MusicBrainzConfig) *MusicBrainzClient {
	c := &MusicBrainzClient{
		baseURL:   cfg.BaseURL,
		userAgent: cfg.UserAgent,
		delay:     cfg.Delay,
		http:      &http.Client{Timeout: cfg.Timeout},
	}
	if cfg.GlobalRate > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.GlobalRate), 1)
	}
	c.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "musicbrainz",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			var se *StatusError
			if errors.As(err, &se) {
				return se.Code < 500 && se.Code != http.StatusTooManyRequests
			}
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	})
	return c
}

// FetchRelease returns the XML release document for mbid, including artist
// credits and recordings.
func (c *MusicBrainzClient) FetchRelease(ctx context.Context, mbid string) (string, error) {
	u := fmt.Sprintf("%s/release/%s?inc=artist-credits+recordings", c.baseURL, url.PathEscape(mbid))
	return c.get(ctx, "musicbrainz.FetchRelease", u, "application/xml")
}

// SearchReleases returns the JSON search response for a free-text query.
func (c *MusicBrainzClient) SearchReleases(ctx context.Context, query string) (string, error) {
	q := url.Values{}
	q.Set("query", query)
	q.Set("fmt", "json")
	q.Set("limit", "10")
	u := fmt.Sprintf("%s/release?%s", c.baseURL, q.Encode())
	return c.get(ctx, "musicbrainz.SearchReleases", u, "application/json")
}

func (c *MusicBrainzClient) get(ctx context.Context, op, u, accept string) (string, error) {
	ctx, span := otel.Tracer("recordstore/musicbrainz").Start(ctx, op)
	defer span.End()
	span.SetAttributes(attribute.String("http.url", u))

	if err := c.wait(ctx); err != nil {
		span.RecordError(err)
		return "", err
	}

	body, err := c.breaker.Execute(func() (string, error) {
		return c.do(ctx, u, accept)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		metrics.MusicBrainzRequests.WithLabelValues(outcome(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	metrics.MusicBrainzRequests.WithLabelValues("ok").Inc()
	return body, nil
}

func (c *MusicBrainzClient) wait(ctx context.Context) error {
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	if c.limiter != nil {
		return c.limiter.Wait(ctx)
	}
	return nil
}

func (c *MusicBrainzClient) do(ctx context.Context, u, accept string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", accept)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxPayload))
		return "", &StatusError{Code: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPayload+1))
	if err != nil {
		return "", fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	if len(data) > maxPayload {
		return "", fmt.Errorf("%w: more than %d bytes", ErrPayloadTooLarge, maxPayload)
	}
	return string(data), nil
}

func outcome(err error) string {
	var se *StatusError
	switch {
	case errors.As(err, &se):
		return fmt.Sprintf("status_%d", se.Code)
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "circuit_open"
	case errors.Is(err, ErrNetwork):
		return "network"
	default:
		return "error"
	}
}
