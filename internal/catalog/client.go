// Package catalog хранит наборы TLE, загруженные из файлов и с Celestrak,
// и разрешает ссылки на них по NORAD ID или имени.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/art-injener/satkin/internal/tracker"
)

const (
	// CelestrakBaseURL — GP API Celestrak.
	CelestrakBaseURL = "https://celestrak.org/NORAD/elements/gp.php"

	// DefaultRateLimit — минимальный интервал между запросами (рекомендация Celestrak).
	DefaultRateLimit = 2 * time.Second

	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 3

	userAgent   = "satkin/1.0"
	noDataReply = "No GP data found"
	tracerName  = "github.com/art-injener/satkin/internal/catalog"
)

var (
	ErrNotFound     = errors.New("object not found")
	ErrRateLimited  = errors.New("rate limited (429)")
	ErrServer       = errors.New("server error")
	ErrUnknownGroup = errors.New("unknown celestrak group")
)

// knownGroups — группы Celestrak, допустимые в конфигурации.
var knownGroups = []string{
	"active", "amateur", "analyst", "beidou", "cubesat", "education",
	"engineering", "galileo", "geo", "geodetic", "glo-ops", "globalstar",
	"gps-ops", "iridium", "iridium-NEXT", "military", "noaa", "oneweb",
	"orbcomm", "planet", "radar", "resource", "sarsat", "science",
	"starlink", "stations", "tle-new", "weather",
}

// IsValidGroup сообщает, известна ли группа Celestrak.
func IsValidGroup(group string) bool {
	return slices.Contains(knownGroups, group)
}

// Groups возвращает список известных групп.
func Groups() []string {
	return slices.Clone(knownGroups)
}

// Client загружает TLE с Celestrak с ограничением частоты и повторами.
type Client struct {
	httpClient *http.Client
	baseURL    string
	rateLimit  time.Duration
	maxRetries int
	backoff    time.Duration

	mu          sync.Mutex
	lastRequest time.Time
}

// ClientOption настраивает Client.
type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithRateLimit(d time.Duration) ClientOption {
	return func(c *Client) { c.rateLimit = d }
}

func WithMaxRetries(n int) ClientOption {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff задаёт базовую задержку экспоненциального backoff.
func WithBackoff(d time.Duration) ClientOption {
	return func(c *Client) { c.backoff = d }
}

func WithBaseURL(u string) ClientOption {
	return func(c *Client) { c.baseURL = u }
}

// NewClient создаёт клиент Celestrak.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		baseURL:    CelestrakBaseURL,
		rateLimit:  DefaultRateLimit,
		maxRetries: DefaultMaxRetries,
		backoff:    time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// FetchByNoradID загружает TLE объекта по NORAD ID.
func (c *Client) FetchByNoradID(ctx context.Context, noradID int) (*tracker.TLE, error) {
	tles, err := c.fetchTLE(ctx, url.Values{"CATNR": {strconv.Itoa(noradID)}})
	if err != nil {
		return nil, fmt.Errorf("fetching NORAD ID %d: %w", noradID, err)
	}
	if len(tles) == 0 {
		return nil, fmt.Errorf("%w: NORAD ID %d", ErrNotFound, noradID)
	}

	return tles[0], nil
}

// FetchGroup загружает все TLE группы.
func (c *Client) FetchGroup(ctx context.Context, group string) ([]*tracker.TLE, error) {
	if !IsValidGroup(group) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownGroup, group)
	}

	tles, err := c.fetchTLE(ctx, url.Values{"GROUP": {group}})
	if err != nil {
		return nil, fmt.Errorf("fetching group %s: %w", group, err)
	}

	return tles, nil
}

func (c *Client) queryURL(q url.Values) string {
	q.Set("FORMAT", "TLE")
	return c.baseURL + "?" + q.Encode()
}

func (c *Client) fetchTLE(ctx context.Context, q url.Values) ([]*tracker.TLE, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "catalog.fetch")
	defer span.End()

	u := c.queryURL(q)
	span.SetAttributes(attribute.String("url", u))

	data, err := c.fetch(ctx, u)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	tles, err := tracker.ParseTLEBatch(data)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("parsing TLE: %w", err)
	}

	span.SetAttributes(attribute.Int("count", len(tles)))
	return tles, nil
}

// fetch выполняет запрос с rate limiting и повторами.
func (c *Client) fetch(ctx context.Context, u string) (string, error) {
	if err := c.waitForRateLimit(ctx); err != nil {
		return "", err
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.backoff << (attempt - 1)):
			}
		}

		data, err := c.doRequest(ctx, u)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if errors.Is(err, ErrNotFound) || ctx.Err() != nil {
			return "", err
		}
	}

	return "", fmt.Errorf("after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) waitForRateLimit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if wait := c.rateLimit - time.Since(c.lastRequest); wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	c.lastRequest = time.Now()

	return nil
}

func (c *Client) doRequest(ctx context.Context, u string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return "", ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", ErrRateLimited
	case resp.StatusCode >= http.StatusInternalServerError:
		return "", fmt.Errorf("%w: %d", ErrServer, resp.StatusCode)
	default:
		return "", fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if strings.TrimSpace(string(body)) == noDataReply {
		return "", ErrNotFound
	}

	return string(body), nil
}
