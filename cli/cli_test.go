package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"todos/client"
	"todos/domain"
	"todos/functions"
	"todos/storage"
	"todos/tui"
)

const prefix = "/.netlify/functions"

type harness struct {
	app         *App
	out         *bytes.Buffer
	errOut      *bytes.Buffer
	mem         *storage.Memory
	interactive bool
	dialed      string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger, _ := test.NewNullLogger()
	e := echo.New()
	mem := storage.NewMemory()
	functions.Register(e, storage.NewClient(mem.Opener()), logger, prefix)
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	h := &harness{out: &bytes.Buffer{}, errOut: &bytes.Buffer{}, mem: mem}
	n := 0
	h.app = &App{
		Out: h.out,
		Err: h.errOut,
		Dial: func(baseURL string) tui.API {
			h.dialed = baseURL
			return client.New(srv.URL+prefix, client.WithHTTPClient(srv.Client()))
		},
		Interactive: func(tui.API) error {
			h.interactive = true
			return nil
		},
		NewID: func() string {
			n++
			return fmt.Sprintf("id-%d", n)
		},
	}
	return h
}

func (h *harness) seed(t *testing.T, todos ...domain.Todo) {
	t.Helper()
	for _, todo := range todos {
		_, err := h.mem.Create(context.Background(), todo.ID, todo)
		require.NoError(t, err)
	}
}

func (h *harness) stored(t *testing.T) []domain.Todo {
	t.Helper()
	res, err := h.mem.Find(context.Background(), storage.Query{})
	require.NoError(t, err)
	return res.Values()
}

func TestNoSubcommandRunsInteractive(t *testing.T) {
	h := newHarness(t)
	code := h.app.Run([]string{"--api", "http://example.test/fn"})
	assert.Equal(t, exitOK, code)
	assert.True(t, h.interactive)
	assert.Equal(t, "http://example.test/fn", h.dialed)
}

func TestInteractiveFailureExitsOne(t *testing.T) {
	h := newHarness(t)
	h.app.Interactive = func(tui.API) error { return errors.New("no tty") }
	assert.Equal(t, exitFailure, h.app.Run(nil))
	assert.Contains(t, h.errOut.String(), "no tty")
}

func TestAddThenList(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, exitOK, h.app.Run([]string{"add", "buy", "milk"}))
	assert.Contains(t, h.out.String(), "added")

	todos := h.stored(t)
	require.Len(t, todos, 1)
	assert.Equal(t, "id-1", todos[0].ID)
	assert.Equal(t, "buy milk", todos[0].Text)
	assert.False(t, todos[0].Completed)
	assert.NotZero(t, todos[0].Created)

	h.out.Reset()
	require.Equal(t, exitOK, h.app.Run([]string{"ls"}))
	assert.Contains(t, h.out.String(), " 1. ")
	assert.Contains(t, h.out.String(), "buy milk")
	assert.Contains(t, h.out.String(), "0/1")
}

func TestListGrouped(t *testing.T) {
	h := newHarness(t)
	h.seed(t,
		domain.Todo{ID: "a", Text: "write report", Created: 2, Completed: true},
		domain.Todo{ID: "b", Text: "call mom", Created: 1},
	)

	require.Equal(t, exitOK, h.app.Run([]string{"ls", "--group"}))
	out := h.out.String()
	assert.Contains(t, out, "Pending")
	assert.Contains(t, out, "Done")
	assert.Less(t, bytes.Index([]byte(out), []byte("call mom")), bytes.Index([]byte(out), []byte("write report")))
}

func TestDoneByIndexAndID(t *testing.T) {
	h := newHarness(t)
	h.seed(t,
		domain.Todo{ID: "newer", Text: "newer", Created: 2},
		domain.Todo{ID: "older", Text: "older", Created: 1},
	)

	require.Equal(t, exitOK, h.app.Run([]string{"done", "2"}))
	todos := h.stored(t)
	assert.False(t, todos[0].Completed)
	assert.True(t, todos[1].Completed)

	require.Equal(t, exitOK, h.app.Run([]string{"done", "older"}))
	assert.False(t, h.stored(t)[1].Completed)
	assert.Contains(t, h.out.String(), "reopened")
}

func TestRemove(t *testing.T) {
	h := newHarness(t)
	h.seed(t,
		domain.Todo{ID: "a", Text: "a", Created: 2},
		domain.Todo{ID: "b", Text: "b", Created: 1},
	)

	require.Equal(t, exitOK, h.app.Run([]string{"rm", "1"}))
	todos := h.stored(t)
	require.Len(t, todos, 1)
	assert.Equal(t, "b", todos[0].ID)
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{name: "unknown subcommand", args: []string{"frobnicate"}, want: "unknown subcommand"},
		{name: "add without text", args: []string{"add"}, want: "usage: todo add"},
		{name: "done without ref", args: []string{"done"}, want: "usage: todo done"},
		{name: "rm too many", args: []string{"rm", "1", "2"}, want: "usage: todo rm"},
		{name: "index out of range", args: []string{"done", "7"}, want: "index out of range"},
		{name: "unknown id", args: []string{"rm", "nope"}, want: "no todo with id"},
		{name: "bad flag", args: []string{"ls", "--colour"}, want: "unknown flag"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			assert.Equal(t, exitUsage, h.app.Run(tt.args))
			assert.Contains(t, h.errOut.String(), tt.want)
		})
	}
}

func TestServerErrorExitsOne(t *testing.T) {
	h := newHarness(t)
	h.app.Dial = func(string) tui.API {
		return client.New("http://127.0.0.1:1")
	}
	assert.Equal(t, exitFailure, h.app.Run([]string{"ls"}))
	assert.Contains(t, h.errOut.String(), "load:")
}

func TestFlatLinesTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", maxLineText+10)
	short := strings.Repeat("ü", maxLineText)

	lines := flatLines([]domain.Todo{{ID: "a", Text: long}, {ID: "b", Text: short}})
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.True(t, utf8.ValidString(l), "line is not valid UTF-8: %q", l)
	}
	assert.Contains(t, lines[0], strings.Repeat("é", maxLineText-3)+"...")
	assert.NotContains(t, lines[0], strings.Repeat("é", maxLineText-2))
	assert.Contains(t, lines[1], short)
	assert.NotContains(t, lines[1], "...")
}
