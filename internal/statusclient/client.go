package statusclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/g960059/aistatus/internal/api"
	"github.com/g960059/aistatus/internal/model"
)

const (
	defaultTimeout         = 5 * time.Second
	defaultTeardownTimeout = time.Second
	maxErrorBody           = 4 * 1024
)

type Client struct {
	baseURL         string
	client          *http.Client
	timeout         time.Duration
	teardownTimeout time.Duration
}

func New(baseURL string) *Client {
	return NewWithClient(baseURL, &http.Client{})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		client:          client,
		timeout:         defaultTimeout,
		teardownTimeout: defaultTeardownTimeout,
	}
}

// WithTimeout returns a copy whose single attempts are bounded by timeout.
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.timeout = timeout
	return &clone
}

func (c *Client) WithTeardownTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.teardownTimeout = timeout
	return &clone
}

func (c *Client) BaseURL() string { return c.baseURL }

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("http %d: %s: %s", e.StatusCode, code, message)
	case code != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, code)
	case message != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, message)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// IsNotFound reports whether err is a 404 from the status service.
func IsNotFound(err error) bool {
	var reqErr *RequestError
	return errors.As(err, &reqErr) && reqErr.StatusCode == http.StatusNotFound
}

type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	Multiplier   float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, InitialDelay: time.Second, Multiplier: 2}
}

// Post performs one attempt. Success is any 2xx status.
func (c *Client) Post(ctx context.Context, path string, body any) model.ReportAttempt {
	status, err := c.post(ctx, path, body)
	return model.ReportAttempt{Success: err == nil, StatusCode: status, Err: err, AttemptsUsed: 1}
}

// PostWithRetry retries transport failures and retryable statuses with
// exponential backoff. A non-retryable status ends the loop early.
func (c *Client) PostWithRetry(ctx context.Context, path string, body any, policy RetryPolicy) model.ReportAttempt {
	attempts := policy.Attempts
	if attempts < 1 {
		attempts = 1
	}
	multiplier := policy.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	delay := policy.InitialDelay
	var last model.ReportAttempt
	for i := 1; i <= attempts; i++ {
		status, err := c.post(ctx, path, body)
		last = model.ReportAttempt{Success: err == nil, StatusCode: status, Err: err, AttemptsUsed: i}
		if err == nil || i == attempts {
			return last
		}
		var reqErr *RequestError
		if errors.As(err, &reqErr) && !reqErr.Retryable() {
			return last
		}
		if waitErr := sleepWithContext(ctx, delay); waitErr != nil {
			last.Err = errors.Join(err, waitErr)
			return last
		}
		delay = time.Duration(float64(delay) * multiplier)
	}
	return last
}

// FireAndForget writes the request and closes the connection without reading
// the response. It never retries. The returned channel reports whether the
// write happened and may be ignored.
func (c *Client) FireAndForget(path string, body any) <-chan error {
	done := make(chan error, 1)
	payload, err := encodeBody(body)
	if err != nil {
		done <- err
		return done
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), c.teardownTimeout)
		defer cancel()
		done <- c.writeAndClose(ctx, path, payload)
	}()
	return done
}

func (c *Client) writeAndClose(ctx context.Context, path string, payload []byte) error {
	req, err := c.newRequest(ctx, path, payload)
	if err != nil {
		return err
	}
	if req.URL.Scheme != "http" {
		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
	host := req.URL.Host
	if req.URL.Port() == "" {
		host = net.JoinHostPort(req.URL.Hostname(), "80")
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}
	defer conn.Close() //nolint:errcheck
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	req.Close = true
	return req.Write(conn)
}

// Ping checks that something answers HTTP at the base URL; any status counts.
func (c *Client) Ping(ctx context.Context) error {
	reqCtx, cancel := c.attemptContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	return resp.Body.Close()
}

func (c *Client) post(ctx context.Context, path string, body any) (int, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return 0, err
	}
	reqCtx, cancel := c.attemptContext(ctx)
	defer cancel()
	req, err := c.newRequest(reqCtx, path, payload)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode/100 == 2 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var er api.ErrorResponse
	if err := json.Unmarshal(raw, &er); err == nil && er.Error.Code != "" {
		return resp.StatusCode, &RequestError{StatusCode: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
	}
	return resp.StatusCode, &RequestError{
		StatusCode: resp.StatusCode,
		Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
		Message:    strings.TrimSpace(string(raw)),
	}
}

func (c *Client) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.timeout {
			return context.WithTimeout(ctx, c.timeout)
		}
	}
	return context.WithCancel(ctx)
}

func (c *Client) newRequest(ctx context.Context, path string, payload []byte) (*http.Request, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("build request url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func encodeBody(body any) ([]byte, error) {
	if raw, ok := body.(json.RawMessage); ok {
		return raw, nil
	}
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(body); err != nil {
		return nil, fmt.Errorf("encode request body: %w", err)
	}
	return buf.Bytes(), nil
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
