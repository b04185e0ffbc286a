package memories

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/christophersiem/little-moments/internal/capture"
	"github.com/christophersiem/little-moments/internal/observe"
	"github.com/christophersiem/little-moments/internal/resilience"
)

const (
	// DefaultBaseURL is used when no base URL is configured.
	DefaultBaseURL = "http://localhost:8080/api"

	defaultTimeout = 2 * time.Minute

	// recordedAtLayout matches the millisecond UTC timestamps the service
	// emits itself.
	recordedAtLayout = "2006-01-02T15:04:05.000Z07:00"
)

// operation describes one client call for error reporting.
type operation struct {
	name string

	// fallback is the message format used when an error body carries no
	// usable text. It receives the status code.
	fallback string

	// empty is the message for a 2xx response without a body. Empty means a
	// missing body is acceptable.
	empty string
}

var (
	opCreate = operation{"create", "Upload failed (%d)", "Upload completed without a response body."}
	opList   = operation{"list", "Request failed (%d)", ""}
	opGet    = operation{"get", "Request failed (%d)", "Memory details were empty."}
	opUpdate = operation{"update", "Update failed (%d)", "Memory update returned an empty response."}
)

// Option is a functional option for [Client].
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client, e.g. to inject a test
// transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithTimeout bounds each request, including server-side transcription time.
// The default is two minutes.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCircuitBreaker makes the client fail fast while the service is known
// to be down. Only network errors and 5xx responses count as failures. The
// breaker never replays a request.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Client) {
		if cfg.Name == "" {
			cfg.Name = "memories-api"
		}
		cfg.IsFailure = countsAgainstService
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithMetrics records request metrics to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLogger sets the logger. The default is [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.log = l
		}
	}
}

// WithNow overrides the clock used to name uploaded files.
func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// Client talks to the memories service. It is safe for concurrent use.
type Client struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *resilience.CircuitBreaker
	metrics    *observe.Metrics
	log        *slog.Logger
	now        func() time.Time

	rc *resty.Client
}

// New creates a client for the service rooted at baseURL. A trailing slash
// is removed; an empty baseURL means [DefaultBaseURL].
func New(baseURL string, opts ...Option) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		timeout: defaultTimeout,
		log:     slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient != nil {
		c.rc = resty.NewWithClient(c.httpClient)
	} else {
		c.rc = resty.New()
	}
	c.rc.SetBaseURL(c.baseURL).
		SetTimeout(c.timeout).
		SetHeader("Accept", "application/json").
		SetLogger(restyLogger{c.log})
	return c
}

// BaseURL returns the normalised service root.
func (c *Client) BaseURL() string { return c.baseURL }

// Breaker returns the circuit breaker, or nil when none is configured.
func (c *Client) Breaker() *resilience.CircuitBreaker { return c.breaker }

// Create uploads a finished recording. A result whose Status is
// [StatusFailed] is returned without error; callers decide how to present it.
func (c *Client) Create(ctx context.Context, a capture.Artifact) (CreateResult, error) {
	req := c.rc.R().
		SetMultipartField("audio", c.fileName(a.MimeType), a.MimeType, bytes.NewReader(a.AudioData)).
		SetMultipartFormData(map[string]string{
			"recordedAt": a.RecordedAt.UTC().Format(recordedAtLayout),
		})

	var out CreateResult
	if _, err := c.do(ctx, opCreate, req, http.MethodPost, "/memories", &out); err != nil {
		return CreateResult{}, err
	}
	return out, nil
}

// List returns one page of memories. A 2xx response without a body yields
// an empty page.
func (c *Client) List(ctx context.Context, opts ListOptions) (Page, error) {
	size := opts.Size
	if size <= 0 {
		size = DefaultSize
	}
	page := max(opts.Page, DefaultPage)

	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("size", strconv.Itoa(size))
	if opts.Month != "" {
		if _, err := time.Parse("2006-01", opts.Month); err != nil {
			return Page{}, fmt.Errorf("memories: list: month %q is not YYYY-MM", opts.Month)
		}
		q.Set("month", opts.Month)
	}
	for _, t := range opts.Tags {
		if t = strings.TrimSpace(t); t != "" {
			q.Add("tags", t)
		}
	}

	req := c.rc.R().SetQueryParamsFromValues(q)

	var out Page
	found, err := c.do(ctx, opList, req, http.MethodGet, "/memories", &out)
	if err != nil {
		return Page{}, err
	}
	if !found {
		return Page{Items: []Summary{}, Page: page, Size: size}, nil
	}
	if out.Items == nil {
		out.Items = []Summary{}
	}
	return out, nil
}

// Get fetches a single memory.
func (c *Client) Get(ctx context.Context, id string) (Memory, error) {
	if id == "" {
		return Memory{}, errors.New("memories: get: id is required")
	}
	req := c.rc.R().SetPathParam("id", id)

	var out Memory
	if _, err := c.do(ctx, opGet, req, http.MethodGet, "/memories/{id}", &out); err != nil {
		return Memory{}, err
	}
	return out, nil
}

// Update applies p to the memory id and returns the stored result.
func (c *Client) Update(ctx context.Context, id string, p Patch) (Memory, error) {
	if id == "" {
		return Memory{}, errors.New("memories: update: id is required")
	}
	req := c.rc.R().
		SetPathParam("id", id).
		SetHeader("Content-Type", "application/json").
		SetBody(p)

	var out Memory
	if _, err := c.do(ctx, opUpdate, req, http.MethodPatch, "/memories/{id}", &out); err != nil {
		return Memory{}, err
	}
	return out, nil
}

// Ping checks that the service answers a minimal list request.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.List(ctx, ListOptions{Size: 1})
	return err
}

// do executes req, decodes a 2xx body into out and reports whether a body
// was present. All failures are *TransportError.
func (c *Client) do(ctx context.Context, op operation, req *resty.Request, method, path string, out any) (found bool, err error) {
	ctx, span := observe.StartSpan(ctx, "memories."+op.name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.request.method", method)),
	)
	defer span.End()

	start := time.Now()
	status := 0

	call := func() error {
		var cerr error
		status, found, cerr = c.roundTrip(ctx, op, req, method, path, out)
		return cerr
	}
	if c.breaker != nil {
		err = c.breaker.Execute(call)
		if errors.Is(err, resilience.ErrCircuitOpen) {
			err = &TransportError{
				Op:      op.name,
				Message: "The memories service is temporarily unavailable.",
				Err:     err,
			}
		}
	} else {
		err = call()
	}

	elapsed := time.Since(start)
	if c.metrics != nil {
		label := "error"
		if status > 0 {
			label = strconv.Itoa(status)
		}
		c.metrics.RecordAPIRequest(ctx, op.name, label, elapsed.Seconds())
	}
	span.SetAttributes(attribute.Int("http.response.status_code", status))

	if err != nil {
		kind := "transport"
		if errors.Is(err, ErrEmptyResponse) {
			kind = "empty_response"
		} else if errors.Is(err, resilience.ErrCircuitOpen) {
			kind = "circuit_open"
		} else if status > 0 {
			kind = "status"
		}
		if c.metrics != nil {
			c.metrics.RecordAPIError(ctx, op.name, kind)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		observe.Logger(ctx, c.log).Warn("memories: request failed",
			"op", op.name,
			"status", status,
			"kind", kind,
			"duration", elapsed,
			"err", err,
		)
		return false, err
	}

	observe.Logger(ctx, c.log).Debug("memories: request completed",
		"op", op.name,
		"status", status,
		"duration", elapsed,
	)
	return found, nil
}

func (c *Client) roundTrip(ctx context.Context, op operation, req *resty.Request, method, path string, out any) (status int, found bool, err error) {
	observe.InjectHeaders(ctx, req.Header)
	resp, err := req.SetContext(ctx).Execute(method, path)
	if err != nil {
		return 0, false, &TransportError{
			Op:      op.name,
			Message: "Could not reach the memories service.",
			Err:     err,
		}
	}

	status = resp.StatusCode()
	body := bytes.TrimSpace(resp.Body())

	if !resp.IsSuccess() {
		msg, ok := messageFrom(body)
		if !ok {
			msg = fmt.Sprintf(op.fallback, status)
		}
		return status, false, &TransportError{Op: op.name, Status: status, Message: msg}
	}

	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		if op.empty == "" {
			return status, false, nil
		}
		return status, false, &TransportError{
			Op:      op.name,
			Status:  status,
			Message: op.empty,
			Err:     ErrEmptyResponse,
		}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return status, false, &TransportError{
			Op:      op.name,
			Status:  status,
			Message: "The memories service returned an unreadable response.",
			Err:     err,
		}
	}
	return status, true, nil
}

// fileName names an upload after the current time with an extension derived
// from the container type.
func (c *Client) fileName(mimeType string) string {
	return fmt.Sprintf("moment-%d.%s", c.now().UnixMilli(), extensionFor(mimeType))
}

func extensionFor(mimeType string) string {
	mt := strings.ToLower(mimeType)
	switch {
	case strings.Contains(mt, "mp4"):
		return "m4a"
	case strings.Contains(mt, "wav"):
		return "wav"
	case strings.Contains(mt, "ogg"):
		return "ogg"
	default:
		return "webm"
	}
}

// countsAgainstService reports whether err should trip the circuit breaker.
func countsAgainstService(err error) bool {
	var te *TransportError
	if !errors.As(err, &te) {
		return true
	}
	return te.Retryable() && !errors.Is(te.Err, context.Canceled)
}

// restyLogger routes resty's internal messages through slog.
type restyLogger struct{ l *slog.Logger }

func (r restyLogger) Errorf(format string, v ...any) { r.l.Error("memories: resty: " + fmt.Sprintf(format, v...)) }
func (r restyLogger) Warnf(format string, v ...any)  { r.l.Warn("memories: resty: " + fmt.Sprintf(format, v...)) }
func (r restyLogger) Debugf(format string, v ...any) { r.l.Debug("memories: resty: " + fmt.Sprintf(format, v...)) }
