package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"screen-ocr-ai/src/config"
	"screen-ocr-ai/src/eventloop"
	"screen-ocr-ai/src/hotkey"
	"screen-ocr-ai/src/ipc"
	"screen-ocr-ai/src/logutil"
	"screen-ocr-ai/src/notification"
	"screen-ocr-ai/src/overlay"
	"screen-ocr-ai/src/presenter"
	"screen-ocr-ai/src/runtimeinit"
	"screen-ocr-ai/src/screenshot"
	"screen-ocr-ai/src/session"
	"screen-ocr-ai/src/tray"
)

const (
	appTitle = "Screen OCR Tool"
	// sessionSlack covers capture, crop and delivery on top of the HTTP timeouts.
	sessionSlack = 15 * time.Second
)

type mainOptions struct {
	runOnce bool
	region  string
	copy    bool
	envPath string
	model   string
	tempDir string
}

func (o mainOptions) loadOptions() config.LoadOptions {
	return config.LoadOptions{
		EnvPathOverride: o.envPath,
		ModelOverride:   o.model,
		TempDirOverride: o.tempDir,
	}
}

func main() {
	// Ensure DPI awareness before creating any windows or querying metrics
	enableDPIAwareness()

	// The tray and the native selector own message loops bound to this thread.
	runtime.LockOSThread()

	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(normalizeLegacyArgs(os.Args)[1:])
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "screen-ocr-ai",
		Short:         "Select a screen region, OCR it and ask an LLM about the text",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if opts.runOnce {
				return runOnce(ctx, *opts)
			}
			return runResident(ctx, *opts)
		},
	}

	cmd.Flags().BoolVar(&opts.runOnce, "run-once", false, "Capture once (through the resident if one is running) and print the results")
	cmd.Flags().StringVar(&opts.region, "region", "", "Capture this region instead of showing the selector: x,y,w,h")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "Copy the recognized text to the clipboard (standalone run-once)")
	cmd.Flags().StringVar(&opts.envPath, "env", "", "Path to the .env file")
	cmd.Flags().StringVar(&opts.model, "model", "", "LLM model (overrides MODEL)")
	cmd.Flags().StringVar(&opts.tempDir, "temp-dir", "", "Directory for temporary screenshots (overrides TEMP_DIR)")

	return cmd
}

// normalizeLegacyArgs maps single-dash long flags (-run-once) to cobra's --run-once.
func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	long := []string{"run-once", "region", "copy", "env", "model", "temp-dir"}
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range long {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}

	return normalized
}

func setupLogging(enableFileLogging bool, level string) {
	logutil.Setup(enableFileLogging, level)
}

func parseRegionFlag(value string) (*screenshot.Region, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	r, err := overlay.ParseRegion(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --region: %w", err)
	}
	return &r, nil
}

// desktopWindows combines the overlay and the result presenters. overlays is
// set once the event loop exists, before anything opens an overlay.
type desktopWindows struct {
	overlays *overlay.Factory
	results  *presenter.Factory
}

func (d *desktopWindows) OpenOverlay(onClosed func()) (session.Window, error) {
	if d.overlays == nil {
		return nil, errors.New("no region selector configured")
	}
	return d.overlays.OpenOverlay(onClosed)
}

func (d *desktopWindows) OpenResult(onClosed func()) (session.ResultWindow, error) {
	return d.results.OpenResult(onClosed)
}

func runResident(ctx context.Context, opts mainOptions) error {
	// Load .env early so SINGLEINSTANCE_PORT_* are available for pre-flight
	_, _ = config.LoadWithOptions(opts.loadOptions())
	if err := preflight(); err != nil {
		return err
	}

	rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{
		LoadOptions:          opts.loadOptions(),
		SetupLogging:         setupLogging,
		PingLLM:              true,
		ShowBlockingLLMError: true,
		RequireOCRKey:        true,
	})
	if err != nil {
		return err
	}
	cfg := rt.Config
	logMonitorConfiguration()

	srv := ipc.NewServer()
	sinks := []presenter.Sink{presenter.Popup{}, srv}
	if cfg.CopyToClipboard {
		sinks = append(sinks, presenter.Clipboard{})
	}
	windows := &desktopWindows{results: presenter.NewFactory(sinks...)}
	orch, err := rt.NewOrchestrator(windows)
	if err != nil {
		return err
	}

	tooltip := fmt.Sprintf("%s - Press %s to capture", appTitle, cfg.Hotkey)
	loop := eventloop.New(eventloop.Options{
		Orchestrator:       orch,
		Server:             srv,
		Tooltip:            tooltip,
		Deadline:           cfg.OCRTimeout + cfg.LLMTimeout + cfg.SettleDelay + sessionSlack,
		MaxConcurrentChats: cfg.MaxConcurrentChats,
		Notify:             notification.ShowResult,
	})
	windows.overlays = overlay.NewFactory(overlay.NewSelector(cfg.SelectorCommand), loop.OverlayHooks())

	slog.Info("screen OCR resident initialized", "model", cfg.Model, "hotkey", cfg.Hotkey)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := loop.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		if err := hotkey.Listen(ctx, cfg.Hotkey, loop.Trigger); err != nil {
			slog.Warn("global hotkey unavailable, use the tray menu", "hotkey", cfg.Hotkey, "err", err)
		}
		return nil
	})
	g.Go(func() error {
		current := config.Reloadable{Model: cfg.Model, SystemPrompt: cfg.SystemPrompt}
		err := config.Watch(ctx, cfg.EnvPath, current, func(r config.Reloadable) {
			orch.SetModel(r.Model, r.SystemPrompt)
		})
		if err != nil {
			slog.Warn("config hot reload disabled", "path", cfg.EnvPath, "err", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		tray.Quit()
		return nil
	})

	tray.Run(tray.Config{
		Title:     appTitle,
		Tooltip:   tooltip,
		OnCapture: loop.Trigger,
		OnExit:    cancel,
	})
	cancel()
	return g.Wait()
}

// preflight fails fast when another resident holds the start port.
func preflight() error {
	startPort, _ := ipc.PortRange()
	addr := fmt.Sprintf("127.0.0.1:%d", startPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("one is already running on port %d", startPort)
	}
	// We claimed the port; release it so the event loop can re-bind.
	_ = listener.Close()
	return nil
}

type captureClient interface {
	Capture(ctx context.Context, region *screenshot.Region, onEvent func(ipc.Event)) (bool, *session.Report, error)
}

func runOnce(ctx context.Context, opts mainOptions) error {
	// Load .env early so SINGLEINSTANCE_PORT_* are applied before delegation scan
	_, _ = config.LoadWithOptions(opts.loadOptions())

	region, err := parseRegionFlag(opts.region)
	if err != nil {
		return err
	}
	return handleRunOnceWithDelegation(ctx, region, ipc.NewClient(), os.Stdout, func() error {
		return runStandalone(ctx, opts, region)
	})
}

// handleRunOnceWithDelegation asks a running resident to do the capture and
// falls back to a standalone session when none answers or the connection
// fails. Errors reported by the resident itself, and cancellation of ctx, are
// returned as they are.
func handleRunOnceWithDelegation(ctx context.Context, region *screenshot.Region, client captureClient, out io.Writer, fallback func() error) error {
	console := &presenter.Console{W: out}
	delegated, rep, err := client.Capture(ctx, region, func(ev ipc.Event) {
		switch ev.Event {
		case ipc.EventOCRReady:
			console.OCRReady(ev.OCRText)
		case ipc.EventAIReady:
			console.AIReady(ev.AIText, ev.OCRText)
		}
	})

	var remote *ipc.RemoteError
	switch {
	case errors.As(err, &remote):
		return fmt.Errorf("resident: %w", err)
	case (err != nil || !delegated) && (ctx.Err() != nil || errors.Is(err, context.Canceled)):
		// Interrupted: no standalone session after Ctrl+C.
		if err == nil {
			err = ctx.Err()
		}
		return err
	case err != nil:
		slog.Warn("delegation failed, running standalone", "err", err)
		return fallback()
	case !delegated:
		slog.Info("no resident detected, running standalone")
		return fallback()
	}
	logReport(rep)
	return nil
}

func runStandalone(ctx context.Context, opts mainOptions, region *screenshot.Region) error {
	rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{
		LoadOptions:          opts.loadOptions(),
		SetupLogging:         setupLogging,
		PingLLM:              true,
		ShowBlockingLLMError: true,
		RequireOCRKey:        true,
	})
	if err != nil {
		return err
	}
	cfg := rt.Config

	sinks := []presenter.Sink{&presenter.Console{W: os.Stdout}}
	if opts.copy || cfg.CopyToClipboard {
		sinks = append(sinks, presenter.Clipboard{})
	}

	selected := make(chan screenshot.Region, 1)
	cancelled := make(chan error, 1)
	windows := &desktopWindows{
		results: presenter.NewFactory(sinks...),
		overlays: overlay.NewFactory(overlay.NewSelector(cfg.SelectorCommand), overlay.Hooks{
			OnSelect: func(r screenshot.Region) { selected <- r },
			OnCancel: func(err error) { cancelled <- err },
		}),
	}
	orch, err := rt.NewOrchestrator(windows)
	if err != nil {
		return err
	}

	if region == nil {
		if err := orch.StartCapture(ctx); err != nil {
			return err
		}
		select {
		case r := <-selected:
			region = &r
		case err := <-cancelled:
			if err != nil {
				return fmt.Errorf("failed to select region: %w", err)
			}
			slog.Info("selection cancelled")
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rep, err := orch.CaptureRegion(ctx, *region)
	if err != nil {
		return err
	}
	logReport(&rep)
	return nil
}

func logReport(rep *session.Report) {
	if rep == nil {
		return
	}
	if rep.Cancelled {
		slog.Info("capture cancelled", "id", rep.ID)
		return
	}
	slog.Info("capture finished", "id", rep.ID, "state", rep.State, "aiRan", rep.AIRan,
		"ocr", logutil.SanitizeForLog(rep.OCRText))
}
