package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"procodus.dev/sadrn/internal/topology"
)

const (
	defaultTimeout  = 5 * time.Second
	defaultMaxTries = 3
)

var errBaseURLRequired = errors.New("controller URL is required")

// StatusError is a non-2xx controller response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("controller returned %d", e.Code)
	}
	return fmt.Sprintf("controller returned %d: %s", e.Code, e.Message)
}

// Client talks to the controller HTTP API.
type Client struct {
	base     string
	http     *http.Client
	maxTries uint
	backoff  func() backoff.BackOff
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithRetry sets how often a request is attempted and the backoff between
// attempts.
func WithRetry(maxTries uint, b func() backoff.BackOff) ClientOption {
	return func(c *Client) {
		c.maxTries = maxTries
		c.backoff = b
	}
}

// NewClient returns a client for the controller at baseURL.
func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse controller URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("controller URL %q must be absolute", baseURL)
	}
	c := &Client{
		base:     strings.TrimRight(u.String(), "/"),
		http:     &http.Client{Timeout: defaultTimeout},
		maxTries: defaultMaxTries,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Sensors lists the sensors the controller knows about, sorted by id.
func (c *Client) Sensors(ctx context.Context) ([]topology.Sensor, error) {
	var body struct {
		Sensors map[string]topology.Sensor `json:"sensors"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/topology", nil, &body); err != nil {
		return nil, err
	}
	sensors := make([]topology.Sensor, 0, len(body.Sensors))
	for _, s := range body.Sensors {
		sensors = append(sensors, s)
	}
	slices.SortFunc(sensors, func(a, b topology.Sensor) int { return strings.Compare(a.ID, b.ID) })
	return sensors, nil
}

// PushReading sets the value of sensor id and returns the sensor as the
// controller stored it.
func (c *Client) PushReading(ctx context.Context, id string, value float64) (topology.Sensor, error) {
	var out topology.Sensor
	err := c.do(ctx, http.MethodPut, "/api/sensors/"+url.PathEscape(id), map[string]float64{"value": value}, &out)
	return out, err
}

// do sends one request, retrying transport failures and 5xx responses.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, c.once(ctx, method, path, payload, out)
	}, backoff.WithBackOff(c.backoff()), backoff.WithMaxTries(c.maxTries))
	return err
}

func (c *Client) once(ctx context.Context, method, path string, payload []byte, out any) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return backoff.Permanent(err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		serr := &StatusError{Code: resp.StatusCode, Message: e.Error}
		if resp.StatusCode >= 500 {
			return serr
		}
		return backoff.Permanent(serr)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}
	return nil
}
