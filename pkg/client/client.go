// Package client talks to the community comment API and keeps the local state
// of a comment widget for one page.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"community/pkg/api"
	"community/pkg/models"
)

const DefaultTimeout = 10 * time.Second

// ErrUnreachable is returned when the API could not be reached at all.
var ErrUnreachable = errors.New("comment service unreachable")

// APIError is a response the API answered with success false.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

// Unavailable reports whether the server could not reach its store or sits
// behind a gateway that could not reach it.
func (e *APIError) Unavailable() bool {
	switch e.Status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

func (e *APIError) NotFound() bool {
	return e.Status == http.StatusNotFound
}

// IsOffline reports whether err means the comment service cannot currently be used.
func IsOffline(err error) bool {
	if errors.Is(err, ErrUnreachable) {
		return true
	}
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Unavailable()
}

type envelope[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

// Client is a thin wrapper over the REST endpoints. It sends the viewer id set
// with SetViewer on every call.
type Client struct {
	rc *resty.Client

	mu     sync.RWMutex
	viewer string
}

func New(baseURL string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(DefaultTimeout).
		SetHeader("Accept", "application/json")

	return &Client{rc: rc}
}

// HTTPClient exposes the underlying transport, e.g. for mocking in tests.
func (c *Client) HTTPClient() *http.Client {
	return c.rc.GetClient()
}

func (c *Client) SetViewer(id string) {
	c.mu.Lock()
	c.viewer = id
	c.mu.Unlock()
}

func (c *Client) Viewer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.viewer
}

func (c *Client) Health(ctx context.Context) (api.Health, error) {
	return call[api.Health](ctx, c, http.MethodGet, "/health", nil)
}

func (c *Client) Comments(ctx context.Context, pageContext string) ([]models.CommentView, error) {
	list, err := call[[]models.CommentView](ctx, c, http.MethodGet, "/api/comments/"+url.PathEscape(pageContext), nil)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []models.CommentView{}
	}
	return list, nil
}

func (c *Client) CreateComment(ctx context.Context, req models.CreateRequest) (models.CommentView, error) {
	return call[models.CommentView](ctx, c, http.MethodPost, "/api/comments", req)
}

func (c *Client) ToggleLike(ctx context.Context, id string) (models.CommentView, error) {
	return call[models.CommentView](ctx, c, http.MethodPost, "/api/comments/"+url.PathEscape(id)+"/like", nil)
}

func (c *Client) DeleteComment(ctx context.Context, id string) error {
	_, err := call[api.Message](ctx, c, http.MethodDelete, "/api/comments/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) Stats(ctx context.Context, pageContext string) (models.Stats, error) {
	return call[models.Stats](ctx, c, http.MethodGet, "/api/comments/"+url.PathEscape(pageContext)+"/stats", nil)
}

func call[T any](ctx context.Context, c *Client, method, path string, body any) (T, error) {
	var zero T

	req := c.rc.R().SetContext(ctx)
	if viewer := c.Viewer(); viewer != "" {
		req.SetHeader("user-id", viewer)
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, fmt.Errorf("%w: %w", ErrUnreachable, ctxErr)
		}
		return zero, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}

	var env envelope[T]
	decodeErr := json.Unmarshal(resp.Body(), &env)

	if resp.IsError() || !env.Success {
		msg := env.Error
		if decodeErr != nil || msg == "" {
			msg = http.StatusText(resp.StatusCode())
		}
		return zero, &APIError{Status: resp.StatusCode(), Message: msg}
	}
	if decodeErr != nil {
		return zero, fmt.Errorf("decode %s %s response: %w", method, path, decodeErr)
	}

	return env.Data, nil
}
