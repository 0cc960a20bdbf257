package functions

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"todos/domain"
	"todos/storage"
)

// Register wires the four todo functions and the health check on e. Every
// function path is prefix + "/" + function name.
func Register(e *echo.Echo, provider CollectionProvider, logger *log.Logger, prefix string) {
	if logger == nil {
		panic("functions.Register: logger is required")
	}
	e.JSONSerializer = sonicSerializer{}
	prefix = strings.TrimRight(prefix, "/")

	e.GET(prefix+"/"+fnGetTodos, getTodos(provider, logger))
	e.POST(prefix+"/"+fnCreateTodo, createTodo(provider, logger))
	e.PUT(prefix+"/"+fnUpdateTodo, updateTodo(provider, logger))
	e.POST(prefix+"/"+fnDeleteTodo, deleteTodo(provider, logger))
	e.GET("/healthz", healthz(provider, logger))
}

func healthz(provider CollectionProvider, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		if _, err := provider.GetCollection(c.Request().Context()); err != nil {
			logger.WithError(err).Warn("collection unavailable")
			return c.NoContent(http.StatusServiceUnavailable)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

// invocation carries the per-request state shared by the function handlers.
type invocation struct {
	c       echo.Context
	ctx     context.Context
	metrics *requestMetrics
}

func begin(c echo.Context, function string, logger *log.Logger) *invocation {
	metrics, ctx := newRequestMetrics(c.Request().Context(), function, logger)
	c.SetRequest(c.Request().WithContext(ctx))
	return &invocation{c: c, ctx: ctx, metrics: metrics}
}

func (inv *invocation) finish() {
	inv.metrics.Finish(inv.c.Response().Status)
}

// internal answers 500 with the error message as a JSON string.
func (inv *invocation) internal(stage string, err error) error {
	inv.metrics.Fail(stage, err)
	return inv.c.JSON(http.StatusInternalServerError, err.Error())
}

// operationFailed maps a collection error: classified kinds are the
// caller's fault and answer 400, anything else 500.
func (inv *invocation) operationFailed(err error) error {
	if domain.IsClassified(err) {
		inv.metrics.Fail("operation", err)
		return inv.c.JSON(http.StatusBadRequest, err.Error())
	}
	return inv.internal("operation", err)
}

func getTodos(provider CollectionProvider, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		inv := begin(c, fnGetTodos, logger)
		defer inv.finish()

		var q storage.Query
		if raw := strings.TrimSpace(c.QueryParam("completed")); raw != "" {
			done, err := strconv.ParseBool(raw)
			if err != nil {
				inv.metrics.Fail("invalid_filter", domain.Invalid(fnGetTodos, "invalid completed filter"))
				return c.JSON(http.StatusBadRequest, "invalid completed filter")
			}
			q.Completed = &done
		}

		coll, err := provider.GetCollection(inv.ctx)
		if err != nil {
			return inv.internal("collection", err)
		}
		res, err := coll.Find(inv.ctx, q)
		if err != nil {
			return inv.operationFailed(err)
		}
		todos := res.Values()
		inv.metrics.SetItems(len(todos))
		return c.JSON(http.StatusOK, todos)
	}
}

func createTodo(provider CollectionProvider, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		inv := begin(c, fnCreateTodo, logger)
		defer inv.finish()

		coll, err := provider.GetCollection(inv.ctx)
		if err != nil {
			return inv.internal("collection", err)
		}
		var todo domain.Todo
		if err := decodeBody(c, &todo); err != nil {
			return inv.internal("decode_body", err)
		}
		res, err := coll.Create(inv.ctx, todo.ID, todo)
		if err != nil {
			return inv.operationFailed(err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func updateTodo(provider CollectionProvider, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		inv := begin(c, fnUpdateTodo, logger)
		defer inv.finish()

		coll, err := provider.GetCollection(inv.ctx)
		if err != nil {
			return inv.internal("collection", err)
		}
		var todo domain.Todo
		if err := decodeBody(c, &todo); err != nil {
			return inv.internal("decode_body", err)
		}
		res, err := coll.Update(inv.ctx, todo.ID, todo)
		if err != nil {
			return inv.operationFailed(err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func deleteTodo(provider CollectionProvider, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		inv := begin(c, fnDeleteTodo, logger)
		defer inv.finish()

		coll, err := provider.GetCollection(inv.ctx)
		if err != nil {
			return inv.internal("collection", err)
		}
		var body deleteRequest
		if err := decodeBody(c, &body); err != nil {
			return inv.internal("decode_body", err)
		}
		res, err := coll.Delete(inv.ctx, body.ID)
		if err != nil {
			return inv.operationFailed(err)
		}
		return c.JSON(http.StatusOK, res)
	}
}
