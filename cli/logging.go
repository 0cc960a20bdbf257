package cli

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"todos/domain"
	"todos/tui"
)

// loggingAPI logs every call at debug level.
type loggingAPI struct {
	next tui.API
	base string
}

func (l loggingAPI) trace(call string, start time.Time, err error) {
	entry := log.WithFields(log.Fields{
		"api":      l.base,
		"call":     call,
		"total_ms": float64(time.Since(start)) / float64(time.Millisecond),
	})
	if err != nil {
		entry.WithError(err).Debug("todo call failed")
		return
	}
	entry.Debug("todo call")
}

func (l loggingAPI) GetTodos(ctx context.Context) ([]domain.Todo, error) {
	start := time.Now()
	todos, err := l.next.GetTodos(ctx)
	l.trace("getTodos", start, err)
	return todos, err
}

func (l loggingAPI) CreateTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error) {
	start := time.Now()
	created, err := l.next.CreateTodo(ctx, todo)
	l.trace("createTodo", start, err)
	return created, err
}

func (l loggingAPI) UpdateTodo(ctx context.Context, todo domain.Todo) (domain.Todo, error) {
	start := time.Now()
	updated, err := l.next.UpdateTodo(ctx, todo)
	l.trace("updateTodo", start, err)
	return updated, err
}

func (l loggingAPI) DeleteTodo(ctx context.Context, id string) (domain.DocumentResult, error) {
	start := time.Now()
	res, err := l.next.DeleteTodo(ctx, id)
	l.trace("deleteTodo", start, err)
	return res, err
}
