package eventloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"screen-ocr-ai/src/ipc"
	"screen-ocr-ai/src/llm"
	"screen-ocr-ai/src/overlay"
	"screen-ocr-ai/src/screenshot"
	"screen-ocr-ai/src/session"
	"screen-ocr-ai/src/tray"
	"screen-ocr-ai/src/worker"
)

const (
	defaultTooltip  = "Screen OCR Tool"
	busyTooltip     = "Screen OCR: processing..."
	defaultDeadline = 120 * time.Second
	cancelMessage   = "selection cancelled"
)

// Orchestrator is the part of session.Orchestrator the loop drives.
type Orchestrator interface {
	StartCapture(ctx context.Context) error
	CaptureRegion(ctx context.Context, region screenshot.Region) (session.Report, error)
	Chat(ctx context.Context, conversation []llm.Message) string
}

type Options struct {
	Orchestrator Orchestrator
	Server       *ipc.Server
	Tooltip      string
	// Deadline bounds one capture session or chat turn. Defaults to 120s.
	Deadline           time.Duration
	MaxConcurrentChats int
	// Notify reports failures of locally triggered captures.
	Notify func(title, text string)
}

// Loop is the single-threaded coordinator for hotkey, tray and IPC triggers.
// Capture sessions run one at a time on the worker pool; chats run
// concurrently up to MaxConcurrentChats.
type Loop struct {
	orch     Orchestrator
	srv      *ipc.Server
	pool     *worker.Pool
	chats    *semaphore.Weighted
	notify   func(title, text string)
	tooltip  string
	deadline time.Duration

	triggers chan struct{}
	regions  chan screenshot.Region
	cancels  chan error
	results  chan result
	stopped  chan struct{}

	// owned by the Run goroutine
	awaiting bool
	running  bool
	pending  []pendingClient
}

type result struct {
	rep session.Report
	err error
}

// pendingClient is an IPC capture request waiting for the current session.
type pendingClient struct {
	conn    *ipc.Conn
	unwatch func()
}

func New(opts Options) *Loop {
	l := &Loop{
		orch:     opts.Orchestrator,
		srv:      opts.Server,
		pool:     worker.New(1),
		notify:   opts.Notify,
		tooltip:  opts.Tooltip,
		deadline: opts.Deadline,
		triggers: make(chan struct{}, 4),
		regions:  make(chan screenshot.Region, 1),
		cancels:  make(chan error, 1),
		results:  make(chan result, 1),
		stopped:  make(chan struct{}),
	}
	if l.srv == nil {
		l.srv = ipc.NewServer()
	}
	if l.tooltip == "" {
		l.tooltip = defaultTooltip
	}
	if l.deadline <= 0 {
		l.deadline = defaultDeadline
	}
	chats := opts.MaxConcurrentChats
	if chats <= 0 {
		chats = 4
	}
	l.chats = semaphore.NewWeighted(int64(chats))
	if l.notify == nil {
		l.notify = func(title, text string) { slog.Warn(title, "message", text) }
	}
	return l
}

// Trigger asks for a new capture, as the hotkey and tray menu do.
func (l *Loop) Trigger() {
	select {
	case l.triggers <- struct{}{}:
	default:
	}
}

// OverlayHooks routes overlay outcomes back into the loop.
func (l *Loop) OverlayHooks() overlay.Hooks {
	return overlay.Hooks{OnSelect: l.selected, OnCancel: l.cancelled}
}

func (l *Loop) selected(region screenshot.Region) {
	select {
	case l.regions <- region:
	case <-l.stopped:
	}
}

func (l *Loop) cancelled(err error) {
	select {
	case l.cancels <- err:
	case <-l.stopped:
	}
}

func (l *Loop) setBusy(b bool) {
	l.running = b
	if b {
		tray.UpdateTooltip(busyTooltip)
	} else {
		tray.UpdateTooltip(l.tooltip)
	}
}

// Run starts the IPC server and processes triggers until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.srv.Start(ctx); err != nil {
		return err
	}
	defer l.srv.Close()
	defer l.pool.Close()
	defer close(l.stopped)
	defer l.failPending("resident shutting down")

	if p := l.srv.Port(); p > 0 {
		slog.Info("resident listening", "port", p)
		tray.SetAboutExtra(fmt.Sprintf("Resident TCP port: %d", p))
	}

	// Accept loop in background to avoid blocking result handling
	reqCh := make(chan *ipc.Conn, 4)
	go func() {
		defer close(reqCh)
		for {
			conn, err := l.srv.Next(ctx)
			if err != nil {
				return
			}
			select {
			case reqCh <- conn:
			case <-ctx.Done():
				conn.Close()
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.triggers:
			l.handleTrigger(ctx)
		case conn, ok := <-reqCh:
			if !ok {
				return nil
			}
			l.handleConn(ctx, conn)
		case region := <-l.regions:
			l.startSession(ctx, region)
		case err := <-l.cancels:
			l.handleCancel(err)
		case res := <-l.results:
			l.handleResult(res)
		}
	}
}

func (l *Loop) handleTrigger(ctx context.Context) {
	if l.running {
		slog.Info("capture trigger ignored, session running")
		return
	}
	if err := l.orch.StartCapture(ctx); err != nil {
		if errors.Is(err, session.ErrBusy) {
			slog.Info("capture trigger ignored", "err", err)
			return
		}
		slog.Error("cannot start capture", "err", err)
		l.notify("Screen OCR", "Cannot start capture: "+err.Error())
		return
	}
	l.awaiting = true
}

func (l *Loop) handleConn(ctx context.Context, conn *ipc.Conn) {
	req := conn.Request()
	if req.Kind == ipc.KindChat {
		go l.chat(ctx, conn, req.Conversation)
		return
	}

	if l.running || (l.awaiting && req.Region != nil) {
		reject(conn, ipc.BusyMessage)
		return
	}
	if req.Region != nil {
		l.addPending(conn)
		l.startSession(ctx, *req.Region)
		return
	}
	if err := l.orch.StartCapture(ctx); err != nil {
		msg := err.Error()
		if errors.Is(err, session.ErrBusy) {
			msg = ipc.BusyMessage
		}
		reject(conn, msg)
		return
	}
	l.awaiting = true
	l.addPending(conn)
}

func (l *Loop) chat(ctx context.Context, conn *ipc.Conn, conversation []llm.Message) {
	defer conn.Close()
	if err := l.chats.Acquire(ctx, 1); err != nil {
		return
	}
	defer l.chats.Release(1)

	ctx, cancel := context.WithTimeout(ctx, l.deadline)
	defer cancel()
	text := l.orch.Chat(ctx, conversation)
	if err := conn.RespondChat(text); err != nil {
		slog.Warn("chat reply not delivered", "err", err)
	}
}

func (l *Loop) startSession(ctx context.Context, region screenshot.Region) {
	if l.running {
		slog.Warn("region ignored, session running", "region", region)
		return
	}
	l.awaiting = false
	l.setBusy(true)

	jobCtx, cancel := context.WithTimeout(ctx, l.deadline)
	submitted := l.pool.Submit(func() {
		defer cancel()
		rep, err := l.orch.CaptureRegion(jobCtx, region)
		select {
		case l.results <- result{rep: rep, err: err}:
		case <-l.stopped:
		}
	})
	if !submitted {
		cancel()
		l.setBusy(false)
		l.failPending(ipc.BusyMessage)
	}
}

func (l *Loop) handleCancel(err error) {
	l.awaiting = false
	if err != nil {
		l.notify("Screen OCR", "Region selection failed: "+err.Error())
		l.failPending(fmt.Sprintf("selection failed: %v", err))
		return
	}
	l.failPending(cancelMessage)
}

func (l *Loop) handleResult(res result) {
	l.setBusy(false)
	if res.err != nil {
		slog.Error("capture session failed", "err", res.err)
		if len(l.pending) == 0 {
			l.notify("Screen OCR", "Capture failed: "+res.err.Error())
		}
		l.failPending(res.err.Error())
		return
	}
	slog.Info("capture session finished", "id", res.rep.ID, "cancelled", res.rep.Cancelled, "aiRan", res.rep.AIRan)

	rep := res.rep
	for _, p := range l.takePending() {
		if err := p.conn.Send(ipc.Event{Event: ipc.EventDone, Report: &rep}); err != nil {
			slog.Debug("capture client gone", "err", err)
		}
		p.conn.Close()
	}
}

func (l *Loop) addPending(conn *ipc.Conn) {
	l.pending = append(l.pending, pendingClient{conn: conn, unwatch: l.srv.Watch(conn)})
}

// takePending stops event forwarding to waiting clients and hands them over.
func (l *Loop) takePending() []pendingClient {
	pending := l.pending
	l.pending = nil
	for _, p := range pending {
		p.unwatch()
	}
	return pending
}

func (l *Loop) failPending(msg string) {
	for _, p := range l.takePending() {
		reject(p.conn, msg)
	}
}

func reject(conn *ipc.Conn, msg string) {
	if err := conn.Send(ipc.Event{Event: ipc.EventError, Message: msg}); err != nil {
		slog.Debug("capture client gone", "err", err)
	}
	conn.Close()
}
