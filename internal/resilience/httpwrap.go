package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
)

const defaultMaxBackoff = 5 * time.Second

// HTTPClient sends gateway requests with per-attempt timeouts, retries and an
// optional circuit breaker.
//
// Transport errors and 5xx responses are retried with exponential backoff,
// but only for idempotent methods: a POST that timed out may already have
// been applied upstream. 429 responses are retried for every method, after
// Retry-After when the server sends one.
// When attempts run out on a retryable status the last response is returned
// so the caller can decode the gateway's error body.
type HTTPClient struct {
	Client      *http.Client
	Breaker     *Breaker
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	MaxAttempts int
	Jitter      float64
	Timeout     time.Duration
	Target      string
	Logger      *zerolog.Logger
	Clock       clock.Clock
	Fallback    func(context.Context, *http.Request, error) (*http.Response, error)
}

// Do executes req. The body is buffered so every attempt resends it. An open
// breaker yields ErrOpenCircuit unless Fallback is set; a nil Breaker never
// short-circuits.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, errors.New("resilience: http client not configured")
	}
	attempts := max(cl.MaxAttempts, 1)
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; ; attempt++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			lastErr = joinOpen(lastErr)
			break
		}
		resp, err := cl.doOnce(ctx, withBody(req.Clone(ctx), body))
		cl.Breaker.report(ctx, !gatewayFault(ctx, resp, err))

		wait, retry := cl.retryDelay(ctx, req.Method, attempt, resp, err)
		if !retry {
			return resp, err
		}
		if attempt >= attempts {
			if resp != nil {
				return resp, nil
			}
			lastErr = err
			break
		}
		if resp != nil {
			lastErr = fmt.Errorf("resilience: %s answered %s", cl.target(), resp.Status)
			drainAndClose(resp)
		} else {
			lastErr = err
		}
		cl.logRetry(attempt, wait, lastErr)
		if err := sleep(ctx, cl.clock(), wait); err != nil {
			return nil, err
		}
	}

	if cl.Fallback != nil {
		return cl.Fallback(ctx, req, lastErr)
	}
	return nil, lastErr
}

// retryDelay decides whether an attempt's outcome is worth repeating.
func (cl HTTPClient) retryDelay(ctx context.Context, method string, attempt int, resp *http.Response, err error) (time.Duration, bool) {
	backoff := func() time.Duration {
		return min(Backoff(cl.BaseBackoff, attempt, cl.Jitter), cl.maxBackoff())
	}
	switch {
	case err != nil:
		// the caller gave up; nothing to retry
		if ctx.Err() != nil || !idempotent(method) {
			return 0, false
		}
		return backoff(), true
	case resp.StatusCode == http.StatusTooManyRequests:
		if d, ok := retryAfter(resp.Header.Get("Retry-After"), cl.clock().Now()); ok {
			return min(d, cl.maxBackoff()), true
		}
		return backoff(), true
	case resp.StatusCode >= http.StatusInternalServerError:
		return backoff(), idempotent(method)
	}
	return 0, false
}

func idempotent(method string) bool {
	switch method {
	case "", http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// gatewayFault reports outcomes that count against the breaker. Throttling
// and caller cancellation say nothing about the gateway's health.
func gatewayFault(ctx context.Context, resp *http.Response, err error) bool {
	if err != nil {
		return ctx.Err() == nil
	}
	return resp.StatusCode >= http.StatusInternalServerError
}

func (b *Breaker) report(ctx context.Context, success bool) {
	if b != nil {
		b.Report(ctx, success)
	}
}

func (cl HTTPClient) doOnce(ctx context.Context, req *http.Request) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	var (
		callCtx context.Context
		cancel  context.CancelFunc
	)
	if timeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		callCtx, cancel = context.WithCancel(ctx)
	}
	resp, err := cl.Client.Do(req.WithContext(callCtx))
	if err != nil {
		cancel()
		return nil, err
	}
	// the attempt context must outlive Do so the caller can read the body
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) maxBackoff() time.Duration {
	if cl.MaxBackoff > 0 {
		return cl.MaxBackoff
	}
	return defaultMaxBackoff
}

func (cl HTTPClient) clock() clock.Clock {
	if cl.Clock != nil {
		return cl.Clock
	}
	return clock.New()
}

func (cl HTTPClient) target() string {
	if cl.Target == "" {
		return "upstream"
	}
	return cl.Target
}

func (cl HTTPClient) logRetry(attempt int, wait time.Duration, err error) {
	if cl.Logger == nil {
		return
	}
	cl.Logger.Warn().Err(err).Str("target", cl.target()).Int("attempt", attempt).Dur("backoff", wait).Msg("outbound_retry")
}

// retryAfter parses delta-seconds or an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	at, err := http.ParseTime(v)
	if err != nil {
		return 0, false
	}
	return max(at.Sub(now), 0), true
}

func joinOpen(last error) error {
	if last == nil {
		return ErrOpenCircuit
	}
	return fmt.Errorf("%w (last error: %v)", ErrOpenCircuit, last)
}

func sleep(ctx context.Context, clk clock.Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := clk.Timer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// bufferBody reads req's body once so it can be replayed per attempt.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	rc := req.Body
	if req.GetBody != nil {
		fresh, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		rc = fresh
	}
	defer func() { _ = rc.Close() }()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("resilience: buffer request body: %w", err)
	}
	return data, nil
}

func withBody(req *http.Request, body []byte) *http.Request {
	if body == nil {
		req.Body = http.NoBody
		req.GetBody = nil
		return req
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	req.ContentLength = int64(len(body))
	return req
}
