package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"
)

const handshakeTimeout = 3 * time.Second

// Server owns the loopback endpoint. Binding the first port of the range is
// what makes the resident a single instance. It also acts as a presenter sink,
// forwarding session events to subscribers and watching capture clients.
type Server struct {
	lis      net.Listener
	port     int
	incoming chan *Conn
	done     chan struct{}
	once     sync.Once

	mu       sync.Mutex
	watchers map[*Conn]struct{}
}

func NewServer() *Server {
	return &Server{
		incoming: make(chan *Conn, 8),
		done:     make(chan struct{}),
		watchers: make(map[*Conn]struct{}),
	}
}

// Start binds ONLY the start port of the configured range. If occupied, fail.
func (s *Server) Start(ctx context.Context) error {
	if s.lis != nil {
		return nil
	}
	start, _ := getPortRange()
	addr := fmt.Sprintf("%s:%d", residentHost, start)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", addr, err)
	}
	s.lis = lis
	s.port = start
	slog.Info("ipc listening", "addr", addr)
	go s.acceptLoop(ctx)
	return nil
}

// Port returns the bound port (0 if not started).
func (s *Server) Port() int { return s.port }

func (s *Server) acceptLoop(ctx context.Context) {
	for {
		c, err := s.lis.Accept()
		if err != nil {
			return
		}
		go s.handshake(ctx, c)
	}
}

func (s *Server) handshake(ctx context.Context, c net.Conn) {
	remote := c.RemoteAddr().String()
	_ = c.SetDeadline(time.Now().Add(handshakeTimeout))
	br := bufio.NewReaderSize(c, 4096)
	conn := &Conn{c: c, w: bufio.NewWriter(c)}

	line, err := readLine(br)
	if err != nil {
		_ = c.Close()
		return
	}
	if line+"\n" == pingRequest {
		slog.Debug("ipc PING -> PONG", "remote", remote)
		_, _ = conn.w.WriteString(pongResponse)
		_ = conn.w.Flush()
		_ = c.Close()
		return
	}

	cmd, arg := parseCommand(line)
	var req Request
	switch cmd {
	case cmdSubscribe:
		_ = c.SetDeadline(time.Time{})
		slog.Info("ipc subscriber connected", "remote", remote)
		unwatch := s.Watch(conn)
		// Block until the subscriber goes away.
		_, _ = io.Copy(io.Discard, br)
		unwatch()
		_ = c.Close()
		return
	case cmdCapture:
		req, err = parseCapture(arg)
	case cmdChat:
		var body string
		if body, err = readLine(br); err == nil {
			req, err = parseChat(body)
		}
	default:
		err = fmt.Errorf("%w %q", errUnknownCommand, cmd)
	}
	if err != nil {
		slog.Warn("ipc bad request", "remote", remote, "err", err)
		_ = conn.Send(Event{Event: EventError, Message: err.Error()})
		_ = c.Close()
		return
	}

	_ = c.SetDeadline(time.Time{})
	conn.req = req
	slog.Debug("ipc request", "remote", remote, "command", cmd)
	select {
	case s.incoming <- conn:
	case <-s.done:
		_ = c.Close()
	case <-ctx.Done():
		_ = c.Close()
	}
}

// Next returns the next capture or chat request.
func (s *Server) Next(ctx context.Context) (*Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, errors.New("server closed")
	case c := <-s.incoming:
		return c, nil
	}
}

func (s *Server) Close() error {
	s.once.Do(func() {
		close(s.done)
		if s.lis != nil {
			_ = s.lis.Close()
		}
		s.mu.Lock()
		for c := range s.watchers {
			_ = c.Close()
		}
		s.watchers = map[*Conn]struct{}{}
		s.mu.Unlock()
	})
	return nil
}

// Watch adds c to the receivers of session events until the returned func
// is called.
func (s *Server) Watch(c *Conn) func() {
	s.mu.Lock()
	s.watchers[c] = struct{}{}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.watchers, c)
		s.mu.Unlock()
	}
}

func (s *Server) OCRReady(ocrText string) {
	s.broadcast(Event{Event: EventOCRReady, OCRText: ocrText})
}

func (s *Server) AIReady(aiText, ocrText string) {
	s.broadcast(Event{Event: EventAIReady, AIText: aiText, OCRText: ocrText})
}

func (s *Server) broadcast(ev Event) {
	s.mu.Lock()
	targets := make([]*Conn, 0, len(s.watchers))
	for c := range s.watchers {
		targets = append(targets, c)
	}
	s.mu.Unlock()

	for _, c := range targets {
		if err := c.Send(ev); err != nil {
			slog.Debug("ipc dropping watcher", "err", err)
			s.mu.Lock()
			delete(s.watchers, c)
			s.mu.Unlock()
			_ = c.Close()
		}
	}
}

// Conn is one client connection.
type Conn struct {
	c   net.Conn
	req Request

	mu sync.Mutex
	w  *bufio.Writer
}

func (c *Conn) Request() Request { return c.req }

// Send writes ev as one JSON line.
func (c *Conn) Send(ev Event) error {
	return c.writeJSON(ev)
}

// RespondChat answers a CHAT request.
func (c *Conn) RespondChat(text string) error {
	return c.writeJSON(chatReply{Text: text})
}

func (c *Conn) writeJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.c.SetWriteDeadline(time.Now().Add(handshakeTimeout))
	if _, err := c.w.Write(append(b, '\n')); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *Conn) Close() error { return c.c.Close() }

func readLine(br *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, isPrefix, err := br.ReadLine()
		if err != nil {
			return "", err
		}
		sb.Write(chunk)
		if sb.Len() > maxLineBytes {
			return "", errors.New("request line too long")
		}
		if !isPrefix {
			return sb.String(), nil
		}
	}
}
