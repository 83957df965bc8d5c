// todoctl drives the task API from the command line.
//
//	todoctl [--api URL] [--token TOKEN] <command> [args]
//
// Commands: list, add <title...>, get <id>, done <id>, rename <id> <title...>, rm <id>.
// The token defaults to $TODO_TOKEN and the API to $TODO_API_URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/s1natex/todo-fixture-api/internal/client"
	"github.com/s1natex/todo-fixture-api/internal/tasks"
)

const (
	exitOK       = 0
	exitUsage    = 1
	exitAuth     = 2
	exitNotFound = 3
	exitBackend  = 4
)

const usage = `usage: todoctl [--api URL] [--token TOKEN] <command> [args]

commands:
  list                  show all tasks
  add <title...>        create a task
  get <id>              show one task
  done <id>             mark a task completed
  rename <id> <title>   change a task's title
  rm <id>               delete a task
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, out, errOut io.Writer) int {
	flags := pflag.NewFlagSet("todoctl", pflag.ContinueOnError)
	flags.SetOutput(io.Discard)
	apiURL := flags.String("api", envOr("TODO_API_URL", "http://localhost:4000"), "API base URL")
	token := flags.String("token", os.Getenv("TODO_TOKEN"), "bearer access token")
	if err := flags.Parse(args); err != nil {
		fmt.Fprintf(errOut, "error: %v\n\n%s", err, usage)
		return exitUsage
	}

	rest := flags.Args()
	if len(rest) == 0 {
		rest = []string{"list"}
	}
	if *token == "" {
		fmt.Fprintln(errOut, "error: no token (set --token or TODO_TOKEN)")
		return exitAuth
	}

	c := client.NewWithToken(*apiURL, *token)
	cmd, params := rest[0], rest[1:]

	var err error
	switch cmd {
	case "list", "ls":
		err = list(ctx, c, out)
	case "add":
		err = add(ctx, c, params, out)
	case "get":
		err = withID(params, 1, func(id int64) error {
			t, err := c.GetTask(ctx, id)
			if err == nil {
				printTask(out, t)
			}
			return err
		})
	case "done":
		err = withID(params, 1, func(id int64) error {
			t, err := c.UpdateTask(ctx, tasks.Task{ID: id, Completed: true})
			if err == nil {
				printTask(out, t)
			}
			return err
		})
	case "rename":
		err = withID(params, 2, func(id int64) error {
			t, err := c.UpdateTask(ctx, tasks.Task{ID: id, Title: strings.Join(params[1:], " ")})
			if err == nil {
				printTask(out, t)
			}
			return err
		})
	case "rm", "delete":
		err = withID(params, 1, func(id int64) error {
			return c.DeleteTask(ctx, id)
		})
	case "help":
		fmt.Fprint(out, usage)
		return exitOK
	default:
		fmt.Fprintf(errOut, "error: unknown command: %s\n\n%s", cmd, usage)
		return exitUsage
	}
	return report(err, errOut)
}

var errUsage = errors.New("usage")

func report(err error, errOut io.Writer) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errUsage):
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitUsage
	case client.IsUnauthorized(err):
		fmt.Fprintln(errOut, "error: not authorized (token missing, expired or lacking scope)")
		return exitAuth
	case client.IsNotFound(err):
		fmt.Fprintln(errOut, "error: task not found")
		return exitNotFound
	default:
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitBackend
	}
}

func list(ctx context.Context, c *client.Client, out io.Writer) error {
	ts, err := c.ListTasks(ctx)
	if err != nil {
		return err
	}
	if len(ts) == 0 {
		fmt.Fprintln(out, "no tasks")
		return nil
	}
	for _, t := range ts {
		printTask(out, t)
	}
	return nil
}

func add(ctx context.Context, c *client.Client, params []string, out io.Writer) error {
	if len(params) == 0 {
		return fmt.Errorf("%w: add <title...>", errUsage)
	}
	t, err := c.AddTask(ctx, strings.Join(params, " "))
	if err != nil {
		return err
	}
	printTask(out, t)
	return nil
}

func withID(params []string, want int, fn func(int64) error) error {
	if len(params) < want {
		return fmt.Errorf("%w: expected %d argument(s)", errUsage, want)
	}
	id, err := strconv.ParseInt(params[0], 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid id %q", errUsage, params[0])
	}
	return fn(id)
}

func printTask(out io.Writer, t tasks.Task) {
	mark := " "
	if t.Completed {
		mark = "x"
	}
	fmt.Fprintf(out, "[%s] %d  %s\n", mark, t.ID, t.Title)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
