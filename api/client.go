package api

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/agentuity/go-recommend/logger"
	"github.com/agentuity/go-recommend/resilience"
	cstr "github.com/agentuity/go-recommend/string"
	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

const (
	DefaultTimeout = 30 * time.Second
	maxBodyBytes   = 4 << 20
)

// Client sends JSON and form requests with a per-attempt timeout, retries
// with backoff, and reduces every failure to a resilience.Kind. It is the
// only place that inspects transport detail.
type Client struct {
	client  *http.Client
	logger  logger.Logger
	timeout time.Duration
	retry   resilience.RetryConfig
	breaker *resilience.CircuitBreaker
	tracer  trace.Tracer
}

type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the deadline for each attempt.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithRetry sets the retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithBreaker routes every attempt through cb.
func WithBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

func New(log logger.Logger, opts ...Option) *Client {
	c := &Client{
		client:  http.DefaultClient,
		logger:  log,
		timeout: DefaultTimeout,
		retry:   resilience.DefaultRetryConfig(),
		tracer:  otel.Tracer("github.com/agentuity/go-recommend/api"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Error describes a failed exchange. Body is a redacted preview for logs,
// never for users.
type Error struct {
	URL      string
	Method   string
	Status   int
	Body     string
	TheError error
	TraceID  string
}

func (e *Error) Error() string {
	if e == nil || e.TheError == nil {
		return ""
	}
	return e.TheError.Error()
}

func (e *Error) Unwrap() error {
	return e.TheError
}

func NewError(url, method string, status int, body string, err error, traceID string) *Error {
	return &Error{
		URL:      url,
		Method:   method,
		Status:   status,
		Body:     body,
		TheError: err,
		TraceID:  traceID,
	}
}

// BasicAuth holds HTTP basic credentials.
type BasicAuth struct {
	Username string
	Password string
}

// Request describes one logical call. At most one of JSON and Form is set.
type Request struct {
	Method      string
	URL         string
	Query       url.Values
	Header      http.Header
	JSON        any
	Form        url.Values
	BearerToken string
	Basic       *BasicAuth
}

func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "go-recommend/" + Version + " (" + gitSHA + ")"
}

// safeBodyPreview returns a safe preview of the response body for logging,
// preventing PII exposure by checking content-type and truncating or redacting sensitive data.
func safeBodyPreview(body []byte, contentType string, maxChars int) string {
	if maxChars == 0 {
		maxChars = 200
	}
	lowerContentType := strings.ToLower(contentType)

	binaryTypes := []string{
		"image/", "video/", "audio/", "application/octet-stream",
		"application/pdf", "application/zip", "application/gzip",
		"application/x-tar", "application/x-rar", "font/",
	}
	for _, binaryType := range binaryTypes {
		if strings.Contains(lowerContentType, binaryType) {
			hash := sha256.Sum256(body)
			return fmt.Sprintf("<binary: %d bytes, sha256=%s>", len(body), hex.EncodeToString(hash[:8]))
		}
	}

	safeTextTypes := []string{
		"text/", "application/json", "application/xml",
		"application/javascript", "application/x-www-form-urlencoded",
	}
	isSafeText := false
	for _, safeType := range safeTextTypes {
		if strings.Contains(lowerContentType, safeType) {
			isSafeText = true
			break
		}
	}
	if !isSafeText && contentType != "" {
		hash := sha256.Sum256(body)
		return fmt.Sprintf("<unknown type: %d bytes, sha256=%s>", len(body), hex.EncodeToString(hash[:8]))
	}

	bodyStr := string(body)
	if len(bodyStr) > maxChars {
		return bodyStr[:maxChars] + "[truncated, total: " + strconv.Itoa(len(bodyStr)) + " chars]"
	}
	return bodyStr
}

// parseRetryAfter reads a Retry-After header given as seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// classifyStatus maps a non-2xx status to a failure kind.
func classifyStatus(status int) resilience.Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return resilience.KindRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		return resilience.KindTransient
	default:
		return resilience.KindPermanent
	}
}

func (r Request) encode() ([]byte, string, error) {
	switch {
	case r.JSON != nil && r.Form != nil:
		return nil, "", errors.New("request has both a JSON and a form body")
	case r.JSON != nil:
		body, err := json.Marshal(r.JSON)
		if err != nil {
			return nil, "", errors.Wrap(err, "error marshalling payload")
		}
		return body, "application/json", nil
	case r.Form != nil:
		return []byte(r.Form.Encode()), "application/x-www-form-urlencoded", nil
	}
	return nil, "", nil
}

func (r Request) target() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", errors.Wrap(err, "error parsing url")
	}
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vals := range r.Query {
			for _, v := range vals {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// Do performs req and decodes a 2xx JSON body into response (if non-nil).
// The returned error is nil or a *resilience.Failure whose Err is an *Error.
func (c *Client) Do(ctx context.Context, req Request, response any) (resilience.Budget, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	target, err := req.target()
	if err != nil {
		return resilience.Budget{}, resilience.Permanent(NewError(req.URL, method, 0, "", err, ""))
	}
	body, contentType, err := req.encode()
	if err != nil {
		return resilience.Budget{}, resilience.Permanent(NewError(target, method, 0, "", err, ""))
	}

	ctx, span := c.tracer.Start(ctx, "api "+method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.method", method), attribute.String("http.url", maskURL(target))))
	defer span.End()

	budget, err := resilience.RetryWithCircuitBreaker(ctx, c.retry, c.breaker, func(ctx context.Context, attempt int) error {
		err := c.attempt(ctx, method, target, body, contentType, req, response)
		if err != nil {
			c.logger.Debug("%s %s attempt %d/%d failed: %s", method, maskURL(target), attempt, c.retry.MaxAttempts, err)
		}
		return err
	})
	span.SetAttributes(attribute.Int("retry.attempts", budget.Attempts))
	if err != nil {
		kind := resilience.Classify(err)
		span.SetAttributes(attribute.String("failure.kind", kind.String()))
		span.SetStatus(codes.Error, kind.String())
		return budget, err
	}
	return budget, nil
}

func (c *Client) attempt(ctx context.Context, method, target string, body []byte, contentType string, req Request, response any) error {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	hreq, err := http.NewRequestWithContext(attemptCtx, method, target, reader)
	if err != nil {
		return resilience.Permanent(NewError(target, method, 0, "", errors.Wrap(err, "error creating request"), ""))
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			hreq.Header.Add(k, v)
		}
	}
	hreq.Header.Set("User-Agent", UserAgent())
	hreq.Header.Set("Accept", "application/json")
	if contentType != "" {
		hreq.Header.Set("Content-Type", contentType)
	}
	if req.BearerToken != "" {
		hreq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	} else if req.Basic != nil {
		hreq.SetBasicAuth(req.Basic.Username, req.Basic.Password)
	}

	c.logger.Trace("sending request: %s %s", method, maskURL(target))
	resp, err := c.client.Do(hreq)
	if err != nil {
		apiErr := NewError(target, method, 0, "", errors.Wrap(err, "error sending request"), "")
		switch {
		case ctx.Err() != nil:
			return &resilience.Failure{Kind: resilience.Classify(ctx.Err()), Err: apiErr}
		case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
			return resilience.Timeout(apiErr)
		}
		kind := resilience.Classify(err)
		if kind == resilience.KindPermanent {
			kind = resilience.KindTransient
		}
		return &resilience.Failure{Kind: kind, Err: apiErr}
	}
	defer resp.Body.Close()

	traceID := resp.Header.Get("traceparent")
	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		apiErr := NewError(target, method, resp.StatusCode, "", errors.Wrap(err, "error reading response body"), traceID)
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
			return resilience.Timeout(apiErr)
		}
		return resilience.Transient(apiErr)
	}

	contentTypeIn := resp.Header.Get("Content-Type")
	preview := safeBodyPreview(respBody, contentTypeIn, 200)
	c.logger.Debug("response status: %s, body: %s", resp.Status, preview)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := NewError(target, method, resp.StatusCode, preview, errors.Newf("request failed with status (%s)", resp.Status), traceID)
		kind := classifyStatus(resp.StatusCode)
		f := &resilience.Failure{Kind: kind, Status: resp.StatusCode, Err: apiErr}
		if kind == resilience.KindRateLimited {
			f.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"), time.Now())
		}
		return f
	}

	if response != nil {
		if err := json.Unmarshal(respBody, response); err != nil {
			apiErr := NewError(target, method, resp.StatusCode, preview, errors.Wrap(err, "error JSON decoding response"), traceID)
			return &resilience.Failure{Kind: resilience.KindPermanent, Status: resp.StatusCode, Err: apiErr}
		}
	}
	return nil
}

// maskURL hides credentials, path and query values, which may carry
// keywords or ids, before a URL is logged or put on a span.
func maskURL(raw string) string {
	masked, err := cstr.MaskURL(raw)
	if err != nil {
		return "<invalid url>"
	}
	return masked
}

// StatusOf returns the upstream status code carried by err, or 0.
func StatusOf(err error) int {
	var f *resilience.Failure
	if errors.As(err, &f) && f.Status != 0 {
		return f.Status
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
