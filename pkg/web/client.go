package web

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/teslashibe/go-wrench/internal/httpc"
	"github.com/teslashibe/go-wrench/pkg/wrench"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// APIError is a non-2xx response from the node.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("node returned %d: %s", e.StatusCode, e.Message)
}

// Unwrap maps well-known statuses back to detector errors.
func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return wrench.ErrGoalNotFound
	case http.StatusConflict:
		return wrench.ErrDuplicateGoal
	case http.StatusServiceUnavailable:
		return wrench.ErrNotRunning
	}
	return nil
}

// Client talks to a node's HTTP action interface.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the node at baseURL (e.g.
// http://localhost:8080). The timeout bounds every request, including
// ones that wait for a result.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: httpc.NewClient(timeout),
	}
}

// SendGoal submits a goal and, when wait > 0, lets the node hold the
// response until the goal finishes or the wait elapses. An empty id asks
// the node to generate one.
func (c *Client) SendGoal(ctx context.Context, id string, wait time.Duration) (wrench.GoalInfo, error) {
	body, err := json.Marshal(SubmitGoalRequest{ID: id})
	if err != nil {
		return wrench.GoalInfo{}, err
	}

	u := c.base + "/api/" + wrench.ActionName + "/goals"
	if wait > 0 {
		u += "?wait=" + url.QueryEscape(wait.String())
	}

	var info wrench.GoalInfo
	err = c.do(ctx, http.MethodPost, u, body, &info)
	return info, err
}

// Goal fetches one goal by ID.
func (c *Client) Goal(ctx context.Context, id string) (wrench.GoalInfo, error) {
	var info wrench.GoalInfo
	err := c.do(ctx, http.MethodGet, c.base+"/api/"+wrench.ActionName+"/goals/"+url.PathEscape(id), nil, &info)
	return info, err
}

// Status fetches the node status.
func (c *Client) Status(ctx context.Context) (StatusResponse, error) {
	var status StatusResponse
	err := c.do(ctx, http.MethodGet, c.base+"/api/status", nil, &status)
	return status, err
}

func (c *Client) do(ctx context.Context, method, u string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, u, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		var e struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &APIError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	return json.Unmarshal(data, out)
}
