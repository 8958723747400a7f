package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"screen-ocr-ai/src/config"
	"screen-ocr-ai/src/ipc"
	"screen-ocr-ai/src/llm"
	"screen-ocr-ai/src/overlay"
	"screen-ocr-ai/src/screenshot"
	"screen-ocr-ai/src/session"
)

type stressOptions struct {
	n        int
	mode     string
	region   string
	deadline time.Duration
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-capture",
		Short:         "Fire concurrent capture or chat requests at the resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Load .env so SINGLEINSTANCE_PORT_* match the resident's
			_, _ = config.Load()
			return runWithOptions(cmd.Context(), *opts, ipc.NewClient(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of clients to launch")
	cmd.Flags().StringVar(&opts.mode, "mode", "region", "region|overlay|chat: capture a fixed region, capture through the overlay, or chat")
	cmd.Flags().StringVar(&opts.region, "region", "0,0,200,100", "region for --mode region: x,y,w,h")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 30*time.Second, "per-client timeout")

	return cmd
}

type residentClient interface {
	Capture(ctx context.Context, region *screenshot.Region, onEvent func(ipc.Event)) (bool, *session.Report, error)
	Chat(ctx context.Context, conversation []llm.Message) (bool, string, error)
}

type counts struct {
	ok, busy, notDelegated, err atomic.Int32
}

func runWithOptions(ctx context.Context, opts stressOptions, client residentClient, out io.Writer) error {
	var region *screenshot.Region
	switch opts.mode {
	case "region":
		r, err := overlay.ParseRegion(opts.region)
		if err != nil {
			return fmt.Errorf("invalid --region: %w", err)
		}
		region = &r
	case "overlay", "chat":
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}

	var (
		wg sync.WaitGroup
		c  counts
	)
	start := time.Now()
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(ctx, opts.deadline)
			defer cancel()

			var (
				delegated bool
				err       error
			)
			if opts.mode == "chat" {
				delegated, _, err = client.Chat(ctx, []llm.Message{
					{Role: llm.RoleUser, Content: fmt.Sprintf("Reply with the number %d.", i)},
				})
			} else {
				delegated, _, err = client.Capture(ctx, region, nil)
			}
			switch {
			case errors.Is(err, ipc.ErrBusy):
				c.busy.Add(1)
			case err != nil:
				c.err.Add(1)
			case !delegated:
				c.notDelegated.Add(1)
			default:
				c.ok.Add(1)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)
	fmt.Fprintf(out, "launched=%d ok=%d busy=%d not-delegated=%d err=%d elapsed=%s\n",
		opts.n, c.ok.Load(), c.busy.Load(), c.notDelegated.Load(), c.err.Load(), elapsed.Round(time.Millisecond))
	return nil
}
