// cmd/taskctl/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	grpcapi "ai-orchestrator/internal/api/grpc"
	"ai-orchestrator/internal/dispatch/dispatchtest"
	"ai-orchestrator/internal/domain"
)

const usage = `usage: taskctl [-addr host:port] [-key secret] <command> [flags]

commands:
  submit -task NAME [-args JSON] [-kwargs JSON] [-queue QUEUE]
  status TASK_ID
  poll   [-interval 1s] [-timeout 2m] TASK_ID

The key defaults to $INTERNAL_SERVICE_SECRET.
`

// client is the part of grpcapi.Client taskctl uses.
type client interface {
	Submit(ctx context.Context, taskName string, args []any, kwargs map[string]any, queue string) (domain.TaskTicket, error)
	Resolve(ctx context.Context, taskID string) (domain.TaskStatus, error)
}

func main() {
	global := flag.NewFlagSet("taskctl", flag.ExitOnError)
	addr := global.String("addr", "localhost:50051", "TaskService address")
	key := global.String("key", os.Getenv("INTERNAL_SERVICE_SECRET"), "API key")
	global.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	_ = global.Parse(os.Args[1:])

	c, err := grpcapi.NewClient(*addr, *key)
	if err != nil {
		fatalf("%v", err)
	}
	defer c.Close()

	if err := run(context.Background(), c, global.Args(), os.Stdout); err != nil {
		fatalf("%v", err)
	}
}

func run(ctx context.Context, c client, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errors.New("missing command\n" + usage)
	}
	switch args[0] {
	case "submit":
		return submit(ctx, c, args[1:], out)
	case "status":
		fs := flag.NewFlagSet("status", flag.ContinueOnError)
		fs.SetOutput(io.Discard)
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != 1 {
			return errors.New("status takes exactly one task id")
		}
		st, err := c.Resolve(ctx, fs.Arg(0))
		if err != nil {
			return err
		}
		return printJSON(out, st)
	case "poll":
		return poll(ctx, c, args[1:], out)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func submit(ctx context.Context, c client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	task := fs.String("task", "", "task name")
	rawArgs := fs.String("args", "", "positional arguments as a JSON array")
	rawKwargs := fs.String("kwargs", "", "keyword arguments as a JSON object")
	queue := fs.String("queue", "", "queue override")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *task == "" {
		return errors.New("submit requires -task")
	}

	var taskArgs []any
	if *rawArgs != "" {
		if err := json.Unmarshal([]byte(*rawArgs), &taskArgs); err != nil {
			return fmt.Errorf("-args is not a JSON array: %w", err)
		}
	}
	var kwargs map[string]any
	if *rawKwargs != "" {
		if err := json.Unmarshal([]byte(*rawKwargs), &kwargs); err != nil {
			return fmt.Errorf("-kwargs is not a JSON object: %w", err)
		}
	}

	ticket, err := c.Submit(ctx, *task, taskArgs, kwargs, *queue)
	if err != nil {
		return err
	}
	return printJSON(out, ticket)
}

// poll repeats GetStatus until the task leaves PENDING or the timeout hits.
func poll(ctx context.Context, c client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("poll", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	interval := fs.Duration("interval", time.Second, "delay between status calls")
	timeout := fs.Duration("timeout", 2*time.Minute, "give up after this long")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("poll takes exactly one task id")
	}

	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	st, err := dispatchtest.Await(ctx, c, fs.Arg(0), *interval)
	if err != nil {
		return err
	}
	return printJSON(out, st)
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "taskctl: "+format+"\n", args...)
	os.Exit(1)
}
