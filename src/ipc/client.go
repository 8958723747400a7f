package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"screen-ocr-ai/src/llm"
	"screen-ocr-ai/src/screenshot"
	"screen-ocr-ai/src/session"
)

// ErrConnectionClosed is returned when the resident hangs up mid-request.
var ErrConnectionClosed = errors.New("resident closed the connection")

// Client talks to a resident found by scanning the port range. Every method
// reports delegated=false, err=nil when no resident answers.
type Client struct {
	// DialTimeout bounds each PING and connect. Defaults to 300ms.
	DialTimeout time.Duration
}

func NewClient() *Client { return &Client{} }

func (c *Client) dialTimeout() time.Duration {
	if c.DialTimeout > 0 {
		return c.DialTimeout
	}
	return 300 * time.Millisecond
}

// DetectResidentPort scans the port range and returns (port, true) if a resident responds to PING.
func (c *Client) DetectResidentPort(ctx context.Context) (int, bool) {
	start, end := getPortRange()
	for port := start; port <= end; port++ {
		if ctx.Err() != nil {
			return 0, false
		}
		addr := net.JoinHostPort(residentHost, strconv.Itoa(port))
		if ping(addr, c.dialTimeout()) {
			return port, true
		}
	}
	return 0, false
}

func (c *Client) dial(ctx context.Context) (net.Conn, bool, error) {
	port, ok := c.DetectResidentPort(ctx)
	if !ok {
		return nil, false, nil
	}
	d := net.Dialer{Timeout: c.dialTimeout()}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(residentHost, strconv.Itoa(port)))
	if err != nil {
		return nil, true, err
	}
	return conn, true, nil
}

// Capture asks the resident to run a capture session, with the overlay when
// region is nil. onEvent sees ocr-ready and ai-ready as they arrive.
func (c *Client) Capture(ctx context.Context, region *screenshot.Region, onEvent func(Event)) (bool, *session.Report, error) {
	conn, delegated, err := c.dial(ctx)
	if conn == nil {
		return delegated, nil, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(formatCapture(region))); err != nil {
		return true, nil, err
	}

	var (
		rep       *session.Report
		remoteErr error
	)
	err = readEvents(conn, func(ev Event) bool {
		switch ev.Event {
		case EventDone:
			rep = ev.Report
			return false
		case EventError:
			remoteErr = remoteError(ev.Message)
			return false
		}
		if onEvent != nil {
			onEvent(ev)
		}
		return true
	})
	if ctx.Err() != nil {
		return true, nil, ctx.Err()
	}
	if err != nil {
		return true, nil, err
	}
	if remoteErr != nil {
		return true, nil, remoteErr
	}
	if rep == nil {
		return true, nil, ErrConnectionClosed
	}
	return true, rep, nil
}

// Chat runs one follow-up turn through the resident.
func (c *Client) Chat(ctx context.Context, conversation []llm.Message) (bool, string, error) {
	body, err := json.Marshal(conversation)
	if err != nil {
		return false, "", fmt.Errorf("encoding conversation: %w", err)
	}
	conn, delegated, err := c.dial(ctx)
	if conn == nil {
		return delegated, "", err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	msg := append([]byte(cmdChat+"\n"), body...)
	if _, err := conn.Write(append(msg, '\n')); err != nil {
		return true, "", err
	}

	sc := newScanner(conn)
	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return true, "", err
		}
		return true, "", ErrConnectionClosed
	}
	var reply struct {
		Text    string `json:"text"`
		Event   string `json:"event"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(sc.Bytes(), &reply); err != nil {
		return true, "", fmt.Errorf("decoding reply: %w", err)
	}
	if reply.Event == EventError {
		return true, "", remoteError(reply.Message)
	}
	return true, reply.Text, nil
}

// Subscribe streams every session's events to onEvent until ctx is done or
// the resident exits.
func (c *Client) Subscribe(ctx context.Context, onEvent func(Event)) (bool, error) {
	conn, delegated, err := c.dial(ctx)
	if conn == nil {
		return delegated, err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := conn.Write([]byte(cmdSubscribe + "\n")); err != nil {
		return true, err
	}
	err = readEvents(conn, func(ev Event) bool {
		onEvent(ev)
		return true
	})
	if ctx.Err() != nil {
		return true, nil
	}
	return true, err
}

func readEvents(conn net.Conn, handle func(Event) bool) error {
	sc := newScanner(conn)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return fmt.Errorf("decoding event: %w", err)
		}
		if !handle(ev) {
			return nil
		}
	}
	return sc.Err()
}

func newScanner(conn net.Conn) *bufio.Scanner {
	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return sc
}

func ping(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(pingRequest); err != nil {
		return false
	}
	if err := w.Flush(); err != nil {
		return false
	}
	br := bufio.NewReader(conn)
	resp, err := br.ReadString('\n')
	return err == nil && resp == pongResponse
}
