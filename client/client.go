// Package client calls the todo functions over HTTP.
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"todos/domain"
)

const maxResponseSize = 1 << 20

// Client wraps http.Client with the four todo calls.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time
}

type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithClock sets the source of the created and modified stamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Client for the functions mounted under baseURL, for example
// "http://localhost:8888/.netlify/functions".
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetTodos fetches every todo, newest first.
func (c *Client) GetTodos(ctx context.Context) ([]domain.Todo, error) {
	var todos []domain.Todo
	if err := c.do(ctx, http.MethodGet, "getTodos", nil, &todos); err != nil {
		return nil, err
	}
	if todos == nil {
		todos = []domain.Todo{}
	}
	return todos, nil
}

// CreateTodo stamps Created and stores todo. The returned todo carries the
// id the store acknowledged.
func (c *Client) CreateTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error) {
	todo.Created = domain.Millis(c.now())
	var res domain.DocumentResult
	if err := c.do(ctx, http.MethodPost, "createTodo", todo, &res); err != nil {
		return domain.Todo{}, err
	}
	return merge(todo, res), nil
}

// UpdateTodo stamps Modified and replaces the stored fields of todo.
func (c *Client) UpdateTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error) {
	todo.Modified = domain.Millis(c.now())
	var res domain.DocumentResult
	if err := c.do(ctx, http.MethodPut, "updateTodo", todo, &res); err != nil {
		return domain.Todo{}, err
	}
	return merge(todo, res), nil
}

func (c *Client) DeleteTodo(ctx context.Context, id string) (domain.DocumentResult, error) {
	var res domain.DocumentResult
	err := c.do(ctx, http.MethodPost, "deleteTodo", struct {
		ID string `json:"id"`
	}{ID: id}, &res)
	return res, err
}

func merge(todo domain.Todo, res domain.DocumentResult) domain.Todo {
	if res.DocumentID != "" {
		todo.ID = res.DocumentID
	}
	return todo
}

func (c *Client) do(ctx context.Context, method, fn string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := sonic.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", fn, err)
		}
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+fn, reader)
	if err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", fn, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("%s: read response: %w", fn, err)
	}
	if err := statusError(resp.StatusCode, data); err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", fn, err)
	}
	return nil
}
