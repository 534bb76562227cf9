package admin

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

	"github.com/danmuck/linkstack/internal/link"
)

var ErrRequestFailed = errors.New("admin: request failed")

// Status mirrors the GET /status body.
type Status struct {
	Service string     `json:"service"`
	Uptime  string     `json:"uptime"`
	Link    link.Stats `json:"link"`
}

// Client talks to a linkd admin server.
type Client struct {
	base string
	http *http.Client
}

func NewClient(base string, timeout time.Duration) *Client {
	base = strings.TrimRight(strings.TrimSpace(base), "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}
}

func (c *Client) Base() string {
	return c.base
}

func (c *Client) Status(ctx context.Context) (Status, error) {
	var st Status
	err := c.do(ctx, http.MethodGet, "/status", nil, http.StatusOK, &st)
	return st, err
}

// Ready reports whether the remote link is running.
func (c *Client) Ready(ctx context.Context) (bool, error) {
	var body struct {
		Ready bool `json:"ready"`
	}
	err := c.do(ctx, http.MethodGet, "/ready", nil, http.StatusOK, &body)
	if errors.Is(err, ErrRequestFailed) {
		return false, nil
	}
	return body.Ready, err
}

func (c *Client) Send(ctx context.Context, payload []byte) error {
	return c.do(ctx, http.MethodPost, "/send", payload, http.StatusAccepted, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, want int, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/octet-stream")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != want {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(data, &e)
		return fmt.Errorf("%w: %s %s status=%d error=%q", ErrRequestFailed, method, path, resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}
