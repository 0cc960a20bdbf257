// Package cli is the todo command line: one-shot subcommands plus the
// interactive list when run without one.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"todos/client"
	"todos/config"
	"todos/domain"
	"todos/tui"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2

	maxLineText = 80
	callTimeout = 15 * time.Second
)

// usageError marks mistakes in how the command was invoked.
type usageError struct {
	msg string
}

func (e usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return usageError{msg: fmt.Sprintf(format, args...)}
}

// App holds the IO and collaborators of one CLI run.
type App struct {
	Out io.Writer
	Err io.Writer
	// Dial builds the API for the resolved base URL.
	Dial func(baseURL string) tui.API
	// Interactive runs the full-screen list.
	Interactive func(api tui.API) error
	NewID       func() string
}

// Execute runs the CLI against the real terminal and returns the exit code.
func Execute() int {
	app := &App{
		Out: os.Stdout,
		Err: os.Stderr,
		Dial: func(baseURL string) tui.API {
			return client.New(baseURL)
		},
		Interactive: func(api tui.API) error { return tui.Run(api) },
		NewID:       uuid.NewString,
	}
	return app.Run(os.Args[1:])
}

// Run executes args and returns 0 on success, 1 on failure and 2 on usage
// errors.
func (a *App) Run(args []string) int {
	if args == nil {
		// cobra falls back to os.Args on nil
		args = []string{}
	}
	cmd := a.rootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(a.Out)
	cmd.SetErr(a.Err)

	err := cmd.Execute()
	if err == nil {
		return exitOK
	}
	tui.Fail(a.Err, err.Error())
	var uerr usageError
	if errors.As(err, &uerr) {
		fmt.Fprintln(a.Err, cmd.UsageString())
		return exitUsage
	}
	return exitFailure
}

func (a *App) rootCmd() *cobra.Command {
	var (
		apiURL string
		debug  bool
	)
	var api tui.API

	root := &cobra.Command{
		Use:           "todo",
		Short:         "A tiny todo list backed by the todo functions",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return usagef("unknown subcommand: %s", args[0])
			}
			return nil
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if debug {
				log.SetLevel(log.DebugLevel)
			}
			api = loggingAPI{next: a.Dial(apiURL), base: apiURL}
			log.WithField("api", apiURL).Debug("todo client ready")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.Interactive(api)
		},
	}
	root.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError{msg: err.Error()}
	})
	root.PersistentFlags().StringVar(&apiURL, "api", config.ClientBaseURL(), "functions base URL (env TODO_API_URL)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "log each request")

	var group bool
	ls := &cobra.Command{
		Use:   "ls",
		Short: "List todos",
		Args:  exactArgs(0, "usage: todo ls [--group]"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.list(api, group)
		},
	}
	ls.Flags().BoolVar(&group, "group", false, "group by pending and done")

	add := &cobra.Command{
		Use:   "add <text...>",
		Short: "Add a todo (text can be multiple words)",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.TrimSpace(strings.Join(args, " "))
			if text == "" {
				return usagef("usage: todo add <text...>")
			}
			return a.add(api, text)
		},
	}

	done := &cobra.Command{
		Use:   "done <index|id>",
		Short: "Toggle done for the todo at a 1-based index or with an id",
		Args:  exactArgs(1, "usage: todo done <index|id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.toggle(api, args[0])
		},
	}

	rm := &cobra.Command{
		Use:   "rm <index|id>",
		Short: "Remove the todo at a 1-based index or with an id",
		Args:  exactArgs(1, "usage: todo rm <index|id>"),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.remove(api, args[0])
		},
	}

	root.AddCommand(ls, add, done, rm)
	return root
}

func exactArgs(n int, usage string) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{msg: usage}
		}
		return nil
	}
}

func callContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), callTimeout)
}

func (a *App) list(api tui.API, group bool) error {
	ctx, cancel := callContext()
	defer cancel()
	todos, err := api.GetTodos(ctx)
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}

	done, pending := tui.Stats(todos)
	lines := []string{
		tui.Header(todos),
		tui.ProgressBar(done, done+pending, 28),
		"",
	}
	if group {
		lines = append(lines, groupLines(todos)...)
	} else {
		lines = append(lines, flatLines(todos)...)
	}
	lines = append(lines, "", `Tip: add with todo add "Buy milk"`)
	fmt.Fprintln(a.Out, tui.Panel(lines))
	return nil
}

func (a *App) add(api tui.API, text string) error {
	ctx, cancel := callContext()
	defer cancel()
	if _, err := api.CreateTodo(ctx, domain.Todo{ID: a.NewID(), Text: text}); err != nil {
		return fmt.Errorf("add: %w", err)
	}
	tui.OK(a.Out, "added")
	return nil
}

func (a *App) toggle(api tui.API, ref string) error {
	ctx, cancel := callContext()
	defer cancel()
	todo, err := resolve(ctx, api, ref)
	if err != nil {
		return err
	}
	updated, err := api.UpdateTodo(ctx, todo.Toggled())
	if err != nil {
		return fmt.Errorf("done: %w", err)
	}
	if updated.Completed {
		tui.OK(a.Out, "done")
	} else {
		tui.OK(a.Out, "reopened")
	}
	return nil
}

func (a *App) remove(api tui.API, ref string) error {
	ctx, cancel := callContext()
	defer cancel()
	todo, err := resolve(ctx, api, ref)
	if err != nil {
		return err
	}
	if _, err := api.DeleteTodo(ctx, todo.ID); err != nil {
		return fmt.Errorf("rm: %w", err)
	}
	tui.OK(a.Out, "removed")
	return nil
}

// resolve finds the todo named by a 1-based index into the listed order or
// by id.
func resolve(ctx context.Context, api tui.API, ref string) (domain.Todo, error) {
	todos, err := api.GetTodos(ctx)
	if err != nil {
		return domain.Todo{}, fmt.Errorf("load: %w", err)
	}
	domain.SortTodos(todos)
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(todos) {
			return domain.Todo{}, usagef("index out of range: have %d, got %d", len(todos), n)
		}
		return todos[n-1], nil
	}
	for _, t := range todos {
		if t.ID == ref {
			return t, nil
		}
	}
	return domain.Todo{}, usagef("no todo with id %q", ref)
}

func flatLines(todos []domain.Todo) []string {
	if len(todos) == 0 {
		return []string{"no todos"}
	}
	out := make([]string, 0, len(todos))
	for i, t := range todos {
		if r := []rune(t.Text); len(r) > maxLineText {
			t.Text = string(r[:maxLineText-3]) + "..."
		}
		out = append(out, fmt.Sprintf("%2d. %s", i+1, tui.Line(t)))
	}
	return out
}

func groupLines(todos []domain.Todo) []string {
	var pending, done []domain.Todo
	for _, t := range todos {
		if t.Completed {
			done = append(done, t)
		} else {
			pending = append(pending, t)
		}
	}
	lines := []string{"Pending"}
	if len(pending) == 0 {
		lines = append(lines, "(none)")
	} else {
		lines = append(lines, flatLines(pending)...)
	}
	lines = append(lines, "", "Done")
	if len(done) == 0 {
		lines = append(lines, "(none)")
	} else {
		lines = append(lines, flatLines(done)...)
	}
	return lines
}
