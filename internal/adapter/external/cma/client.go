// Package cma talks to the content management API that owns the
// environments being backed up.
package cma

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"envbackup/internal/backup"
	"envbackup/internal/platform/httpclient"
	"envbackup/internal/shared"
)

// DefaultBaseURL is the public API endpoint.
const DefaultBaseURL = "https://site-api.datocms.com"

const (
	apiVersion  = "3"
	contentType = "application/vnd.api+json"
	maxErrBody  = 4 << 10

	// DefaultPollInterval is the wait between job result polls.
	DefaultPollInterval = time.Second
)

// NewHTTPClient builds an httpclient carrying the API's fixed headers.
func NewHTTPClient(opts ...httpclient.Option) *httpclient.Client {
	headers := httpclient.WithHeaders(map[string]string{
		"Accept":        "application/json",
		"X-Api-Version": apiVersion,
	})
	return httpclient.New(append([]httpclient.Option{headers}, opts...)...)
}

// APIError is a non-2xx answer of the API.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("cma: %s %s: status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

// Client is an environment client bound to one API token.
type Client struct {
	http         *httpclient.Client
	baseURL      string
	token        string
	pollInterval time.Duration
}

// Option configures Client.
type Option func(*Client)

// WithPollInterval sets the wait between job result polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// New creates a Client. An empty baseURL uses DefaultBaseURL.
func New(hc *httpclient.Client, baseURL, apiToken string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{http: hc, baseURL: strings.TrimRight(baseURL, "/"), token: apiToken, pollInterval: DefaultPollInterval}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Factory returns a backup.ClientFactory sharing hc between tokens.
func Factory(hc *httpclient.Client, baseURL string, opts ...Option) backup.ClientFactory {
	return func(apiToken string) backup.EnvironmentClient {
		return New(hc, baseURL, apiToken, opts...)
	}
}

type environmentResource struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Meta struct {
		Primary   bool      `json:"primary"`
		CreatedAt time.Time `json:"created_at"`
	} `json:"meta"`
}

// jobResource is the body of a 202 answer.
type jobResource struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

type jobResult struct {
	Data struct {
		Attributes struct {
			Status  int             `json:"status"`
			Payload json.RawMessage `json:"payload"`
		} `json:"attributes"`
	} `json:"data"`
}

type forkRequest struct {
	Data struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"data"`
}

// ListEnvironments returns every environment of the project.
func (c *Client) ListEnvironments(ctx context.Context) ([]backup.Environment, error) {
	var out struct {
		Data []environmentResource `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, "/environments", nil, &out); err != nil {
		return nil, err
	}
	envs := make([]backup.Environment, 0, len(out.Data))
	for _, r := range out.Data {
		envs = append(envs, backup.Environment{ID: r.ID, Primary: r.Meta.Primary, CreatedAt: r.Meta.CreatedAt})
	}
	return envs, nil
}

// ForkEnvironment forks sourceID into newID and waits until the fork job
// finished. The API rejects an existing newID with a conflict.
func (c *Client) ForkEnvironment(ctx context.Context, sourceID, newID string) error {
	var body forkRequest
	body.Data.Type = "environment"
	body.Data.ID = newID
	return c.run(ctx, http.MethodPost, "/environments/"+url.PathEscape(sourceID)+"/fork", body)
}

// DestroyEnvironment deletes id and waits until the deletion job finished.
func (c *Client) DestroyEnvironment(ctx context.Context, id string) error {
	return c.run(ctx, http.MethodDelete, "/environments/"+url.PathEscape(id), nil)
}

// run sends a mutating request. A 202 answer carries a job that is polled
// until its result is available; a failed job becomes an *APIError with the
// job's status.
func (c *Client) run(ctx context.Context, method, path string, in any) error {
	var raw json.RawMessage
	status, err := c.send(ctx, method, path, in, &raw)
	if err != nil || status != http.StatusAccepted {
		return err
	}
	var job jobResource
	if err := json.Unmarshal(raw, &job); err != nil || job.Data.Type != "job" || job.Data.ID == "" {
		return shared.MarkKind(fmt.Errorf("cma: %s %s: accepted without a job reference", method, path), shared.KindDependencyFailure)
	}
	return c.await(ctx, method, path, job.Data.ID)
}

func (c *Client) await(ctx context.Context, method, path, jobID string) error {
	resultPath := "/job-results/" + url.PathEscape(jobID)
	for {
		var res jobResult
		_, err := c.send(ctx, http.MethodGet, resultPath, nil, &res)
		switch {
		case err == nil:
			st := res.Data.Attributes.Status
			if st >= 200 && st < 300 {
				return nil
			}
			apiErr := &APIError{Method: method, Path: path, Status: st, Body: strings.TrimSpace(string(res.Data.Attributes.Payload))}
			return shared.MarkKind(apiErr, kindForStatus(st))
		case !isPending(err):
			return fmt.Errorf("cma: job %s: %w", jobID, err)
		}

		t := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// isPending reports whether err is the 404 returned while a job runs.
func isPending(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	_, err := c.send(ctx, method, path, in, out)
	return err
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) (int, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if in != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(ctx, req)
	if err != nil {
		if shared.IsTimeout(err) || shared.IsCanceled(err) {
			return 0, err
		}
		return 0, shared.MarkKind(fmt.Errorf("cma: %s %s: %w", method, path, err), shared.KindDependencyFailure)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		apiErr := &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
		return resp.StatusCode, shared.MarkKind(apiErr, kindForStatus(resp.StatusCode))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, shared.MarkKind(fmt.Errorf("cma: read %s %s: %w", method, path, err), shared.KindDependencyFailure)
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return resp.StatusCode, shared.MarkKind(fmt.Errorf("cma: decode %s %s: %w", method, path, err), shared.KindDependencyFailure)
	}
	return resp.StatusCode, nil
}

func kindForStatus(status int) shared.Kind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return shared.KindUnauthorized
	case status == http.StatusNotFound:
		return shared.KindNotFound
	case status == http.StatusConflict, status == http.StatusUnprocessableEntity:
		return shared.KindConflict
	case status == http.StatusTooManyRequests, status >= 500:
		return shared.KindDependencyFailure
	default:
		return shared.KindUnknown
	}
}
