package onem2m

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Resource types used by this client.
const (
	TypeContainer       = 3
	TypeContentInstance = 4
	TypeSubscription    = 23
)

const (
	defaultOrigin  = "admin:admin"
	defaultRVI     = "3"
	defaultTimeout = 10 * time.Second
	maxErrorBody   = 512
)

// Config configures a CSE client.
type Config struct {
	BaseURL  string
	Origin   string
	RVI      string
	Username string
	Password string
	Timeout  time.Duration
}

// Client is a minimal oneM2M HTTP binding client.
type Client struct {
	baseURL  string
	origin   string
	rvi      string
	username string
	password string
	client   *http.Client
}

// NewClient constructs a CSE client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("onem2m: empty base url")
	}
	if cfg.Origin == "" {
		cfg.Origin = defaultOrigin
	}
	if cfg.RVI == "" {
		cfg.RVI = defaultRVI
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		origin:   cfg.Origin,
		rvi:      cfg.RVI,
		username: cfg.Username,
		password: cfg.Password,
		client:   &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// BaseURL returns the configured base url.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// TransientError is a failure worth retrying: network errors, timeouts, 5xx and 429.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("onem2m: transient http %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("onem2m: transient: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a failure that will not succeed on retry.
type PermanentError struct {
	StatusCode int
	Err        error
}

func (e *PermanentError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("onem2m: http %d: %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("onem2m: %v", e.Err)
}

func (e *PermanentError) Unwrap() error { return e.Err }

// IsTransient reports whether err is a TransientError.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}

// Get retrieves a resource.
func (c *Client) Get(ctx context.Context, path string, out any) error {
	_, err := c.do(ctx, http.MethodGet, path, "", nil, out)
	return err
}

// Create creates a child resource of type ty under path. It reports false
// without error when the resource already exists.
func (c *Client) Create(ctx context.Context, path string, ty int, body any, out any) (bool, error) {
	status, err := c.do(ctx, http.MethodPost, path, fmt.Sprintf("application/json;ty=%d", ty), body, out)
	if err != nil {
		return false, err
	}
	return status != http.StatusConflict, nil
}

// Update replaces the attributes of a resource.
func (c *Client) Update(ctx context.Context, path string, body any, out any) error {
	_, err := c.do(ctx, http.MethodPut, path, "application/json", body, out)
	return err
}

// CreateContentInstance posts con as a JSON content instance under container.
func (c *Client) CreateContentInstance(ctx context.Context, container string, con any) error {
	body := map[string]any{
		"m2m:cin": map[string]any{
			"con": con,
			"cnf": "application/json:0",
		},
	}
	_, err := c.Create(ctx, container, TypeContentInstance, body, nil)
	return err
}

func (c *Client) url(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body any, out any) (int, error) {
	var reqBody io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, &PermanentError{Err: err}
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.url(path), reqBody)
	if err != nil {
		return 0, &PermanentError{Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-M2M-Origin", c.origin)
	req.Header.Set("X-M2M-RI", uuid.NewString())
	req.Header.Set("X-M2M-RVI", c.rvi)
	if c.username != "" || c.password != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return 0, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return resp.StatusCode, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return resp.StatusCode, &TransientError{StatusCode: resp.StatusCode, Err: readError(resp.Body)}
	case resp.StatusCode >= 300:
		return resp.StatusCode, &PermanentError{StatusCode: resp.StatusCode, Err: readError(resp.Body)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return resp.StatusCode, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return resp.StatusCode, &PermanentError{StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, nil
}

func readError(body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))
	msg := strings.TrimSpace(string(data))
	if msg == "" {
		msg = "empty response"
	}
	return errors.New(msg)
}
