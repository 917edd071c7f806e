package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"netsentinel/internal/model"
)

// Client is a thin HTTP client for the monitor API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the given base URL (e.g. http://host:port).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// State fetches the run state.
func (c *Client) State(ctx context.Context) (StateResponse, error) {
	var resp StateResponse
	if err := c.do(ctx, http.MethodGet, "/api/state", nil, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// SetRecording starts or stops a recording.
func (c *Client) SetRecording(ctx context.Context, running bool) (RecordingResponse, error) {
	var resp RecordingResponse
	if err := c.do(ctx, http.MethodPost, "/api/recording", RecordingRequest{Running: running}, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Sessions lists stored sessions, most recent first.
func (c *Client) Sessions(ctx context.Context) ([]SessionInfo, error) {
	var resp []SessionInfo
	if err := c.do(ctx, http.MethodGet, "/api/sessions", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Session fetches one session with its samples.
func (c *Client) Session(ctx context.Context, id string) (model.Session, error) {
	var resp model.Session
	if err := c.do(ctx, http.MethodGet, "/api/sessions/"+url.PathEscape(id), nil, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// ClearHistory drops every session.
func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/api/sessions", nil, nil)
}

// SelectView points the server view at a session and target.
func (c *Client) SelectView(ctx context.Context, req ViewRequest) (model.View, error) {
	var resp model.View
	if err := c.do(ctx, http.MethodPost, "/api/view", req, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Scores fetches usage-profile scores for the current view.
func (c *Client) Scores(ctx context.Context) (ScoresResponse, error) {
	var resp ScoresResponse
	if err := c.do(ctx, http.MethodGet, "/api/scores", nil, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

// Export streams a session export (csv or json) into w.
func (c *Client) Export(ctx context.Context, id, format string, w io.Writer) error {
	endpoint := "/api/sessions/" + url.PathEscape(id) + "/export?format=" + url.QueryEscape(format)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, nil)
	if err != nil {
		return err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		return err
	}
	_, err = io.Copy(w, res.Body)
	return err
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := checkStatus(res); err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	decoder := json.NewDecoder(res.Body)
	return decoder.Decode(out)
}

func checkStatus(res *http.Response) error {
	if res.StatusCode >= 200 && res.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(res.Body)
	msg := strings.TrimSpace(string(body))
	if msg != "" {
		return fmt.Errorf("request failed: %s: %s", res.Status, msg)
	}
	return fmt.Errorf("request failed: %s", res.Status)
}
