// Package aiagent is the HTTP client for the AI agents service that scores
// writing, screens content and generates media.
package aiagent

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
	"os"
	"strings"
	"syscall"
	"time"
)

const defaultTimeout = 30 * time.Second

var (
	ErrNotConfigured = errors.New("ai agent client not configured")
	ErrTimeout       = errors.New("ai agent timeout")
	ErrNetwork       = errors.New("ai agent network error")
	ErrBadStatus     = errors.New("ai agent http error")
)

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ai agent %s: status=%d body=%s", e.Endpoint, e.Status, e.Body)
}

func (e *StatusError) Unwrap() error {
	return ErrBadStatus
}

// Client represents the AI agents HTTP client.
type Client struct {
	baseURL string
	token   string
	ua      string
	http    *http.Client
}

// NewClient creates a new AI agents client. timeout bounds every request;
// callers that need a shorter bound pass a context deadline.
func NewClient(baseURL, token string, timeout time.Duration, ua string) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		ua:      ua,
		http: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
	}
}

func (c *Client) post(ctx context.Context, endpoint string, in, out any) error {
	if c == nil || c.http == nil || strings.TrimSpace(c.baseURL) == "" {
		return ErrNotConfigured
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("ai agent %s request error: %w", endpoint, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("ai agent %s request error: %w", endpoint, err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.ua != "" {
		req.Header.Set("User-Agent", c.ua)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyRequestError(ctx, endpoint, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if readErr != nil {
			body = []byte(fmt.Sprintf("<failed to read body: %v>", readErr))
		}
		return &StatusError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(body)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if isTimeoutError(ctx, err) {
			return fmt.Errorf("%w: %s: %v", ErrTimeout, endpoint, err)
		}
		return fmt.Errorf("ai agent %s decode error: %w", endpoint, err)
	}
	return nil
}

// IsTimeout reports whether err is a client-side or deadline timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func classifyRequestError(ctx context.Context, endpoint string, err error) error {
	if isTimeoutError(ctx, err) {
		return fmt.Errorf("%w: %s: %v", ErrTimeout, endpoint, err)
	}
	if isNetworkError(err) {
		return fmt.Errorf("%w: %s: %v", ErrNetwork, endpoint, err)
	}
	return fmt.Errorf("ai agent %s request error: %w", endpoint, err)
}

func isTimeoutError(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return false
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		err = urlErr.Err
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ENETUNREACH) ||
		errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}

	return false
}
