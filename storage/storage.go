package storage

import (
	"context"
	"errors"
	"strings"
	"sync"

	"todos/domain"
)

// Collection is the set of document operations backing the todo functions.
type Collection interface {
	Create(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error)
	Find(ctx context.Context, q Query) (FindResult, error)
	Update(ctx context.Context, id string, todo domain.Todo) (domain.DocumentResult, error)
	Delete(ctx context.Context, id string) (domain.DocumentResult, error)
}

// Opener establishes a collection handle. It may perform network calls.
type Opener func(ctx context.Context) (Collection, error)

// Decorator wraps a collection with additional behaviour.
type Decorator func(Collection) Collection

// Client hands out a lazily established, shared collection handle.
type Client struct {
	open       Opener
	decorators []Decorator

	mu   sync.Mutex
	coll Collection
}

// NewClient creates a Client. Decorators are applied in order, so the last
// one is the outermost.
func NewClient(open Opener, decorators ...Decorator) *Client {
	if open == nil {
		panic("storage.NewClient: opener is nil")
	}
	return &Client{open: open, decorators: decorators}
}

// GetCollection returns the cached handle, establishing it on first use.
// A failed attempt is not cached; the next call tries again.
func (c *Client) GetCollection(ctx context.Context) (Collection, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.coll != nil {
		return c.coll, nil
	}
	coll, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	for _, d := range c.decorators {
		coll = d(coll)
	}
	c.coll = coll
	return coll, nil
}

// Query filters documents by field equality. The zero Query matches
// everything.
type Query struct {
	Completed *bool   `json:"completed,omitempty"`
	Text      *string `json:"text,omitempty"`
}

// IsEmpty reports whether the query has no conditions.
func (q Query) IsEmpty() bool {
	return q.Completed == nil && q.Text == nil
}

// Match reports whether todo satisfies every condition of q.
func (q Query) Match(todo domain.Todo) bool {
	if q.Completed != nil && todo.Completed != *q.Completed {
		return false
	}
	if q.Text != nil && todo.Text != *q.Text {
		return false
	}
	return true
}

func (q Query) key() string {
	if q.IsEmpty() {
		return "all"
	}
	var parts []string
	if q.Completed != nil {
		if *q.Completed {
			parts = append(parts, "completed=true")
		} else {
			parts = append(parts, "completed=false")
		}
	}
	if q.Text != nil {
		parts = append(parts, "text="+*q.Text)
	}
	return strings.Join(parts, "&")
}

// FindResult holds the documents matched by a query keyed by id.
type FindResult struct {
	Data map[string]domain.Todo `json:"data"`
}

// Values returns the matched documents newest first.
func (r FindResult) Values() []domain.Todo {
	out := make([]domain.Todo, 0, len(r.Data))
	for _, t := range r.Data {
		out = append(out, t)
	}
	domain.SortTodos(out)
	return out
}

var errIDRequired = errors.New("id is required")

// validateID enforces the key rules of the table store on every backend so
// the in-memory collection rejects what Azure would reject.
func validateID(op, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.Invalid(op, errIDRequired.Error())
	}
	if len(id) > 512 {
		return domain.Invalid(op, "id is too long")
	}
	if strings.ContainsAny(id, `/\#?`) {
		return domain.Invalid(op, "id contains a forbidden character")
	}
	for _, r := range id {
		if r < 0x20 || (r >= 0x7f && r <= 0x9f) {
			return domain.Invalid(op, "id contains a control character")
		}
	}
	return nil
}

// merge applies an update document onto an existing one. Text and the
// completion flag are always replaced; timestamps only when set.
func merge(existing, patch domain.Todo) domain.Todo {
	existing.Text = patch.Text
	existing.Completed = patch.Completed
	if patch.Created != 0 {
		existing.Created = patch.Created
	}
	if patch.Modified != 0 {
		existing.Modified = patch.Modified
	}
	return existing
}
