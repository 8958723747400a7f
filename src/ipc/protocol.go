// Package ipc is the loopback line protocol between the resident process and
// run-once clients, presenters and the stress tool.
//
//	PING                 -> PONG
//	CAPTURE [x,y,w,h]    -> JSON events until "done" or "error"
//	SUBSCRIBE            -> JSON events for every session, until disconnect
//	CHAT\n<json turns>   -> {"text": ...}
package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"screen-ocr-ai/src/llm"
	"screen-ocr-ai/src/overlay"
	"screen-ocr-ai/src/screenshot"
	"screen-ocr-ai/src/session"
)

const (
	residentHost = "127.0.0.1"
	pingRequest  = "PING\n"
	pongResponse = "PONG\n"

	cmdCapture   = "CAPTURE"
	cmdSubscribe = "SUBSCRIBE"
	cmdChat      = "CHAT"

	maxLineBytes = 1 << 20
)

const (
	EventOCRReady = "ocr-ready"
	EventAIReady  = "ai-ready"
	EventDone     = "done"
	EventError    = "error"

	// BusyMessage is the error event message for a request refused because
	// a session is already running.
	BusyMessage = "busy"
)

// ErrBusy matches a RemoteError carrying BusyMessage.
var ErrBusy = errors.New(BusyMessage)

// RemoteError is an error event sent by the resident, as opposed to a
// transport failure.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string { return e.Message }

func (e *RemoteError) Is(target error) bool {
	return target == ErrBusy && e.Message == BusyMessage
}

func remoteError(msg string) error {
	return &RemoteError{Message: msg}
}

// Event is one JSON line sent to clients.
type Event struct {
	Event   string          `json:"event"`
	OCRText string          `json:"ocrText,omitempty"`
	AIText  string          `json:"aiText,omitempty"`
	Report  *session.Report `json:"report,omitempty"`
	Message string          `json:"message,omitempty"`
}

type Kind int

const (
	KindCapture Kind = iota + 1
	KindChat
)

// Request is a parsed client request handed to the resident's event loop.
type Request struct {
	Kind Kind
	// Region is set when the client supplied the rectangle itself.
	Region       *screenshot.Region
	Conversation []llm.Message
}

type chatReply struct {
	Text string `json:"text"`
}

var errUnknownCommand = errors.New("unknown command")

// parseCommand splits the first request line into command and argument.
func parseCommand(line string) (string, string) {
	line = strings.TrimSpace(line)
	cmd, arg, _ := strings.Cut(line, " ")
	return strings.ToUpper(cmd), strings.TrimSpace(arg)
}

func parseCapture(arg string) (Request, error) {
	req := Request{Kind: KindCapture}
	if arg == "" {
		return req, nil
	}
	r, err := overlay.ParseRegion(arg)
	if err != nil {
		return Request{}, err
	}
	req.Region = &r
	return req, nil
}

func parseChat(body string) (Request, error) {
	var conv []llm.Message
	if err := json.Unmarshal([]byte(body), &conv); err != nil {
		return Request{}, fmt.Errorf("invalid conversation: %w", err)
	}
	if len(conv) == 0 {
		return Request{}, errors.New("empty conversation")
	}
	return Request{Kind: KindChat, Conversation: conv}, nil
}

func formatCapture(region *screenshot.Region) string {
	if region == nil {
		return cmdCapture + "\n"
	}
	return fmt.Sprintf("%s %g,%g,%g,%g\n", cmdCapture, region.X, region.Y, region.Width, region.Height)
}
