package session

import "fmt"

// State is the position of the current capture session in the pipeline.
type State int

const (
	Idle State = iota
	AwaitingSelection
	Capturing
	CroppingAndEncoding
	OcrPending
	OcrDone
	AiPending
	AiDone
	Cleanup
)

var stateNames = [...]string{
	Idle:                "idle",
	AwaitingSelection:   "awaiting-selection",
	Capturing:           "capturing",
	CroppingAndEncoding: "cropping-and-encoding",
	OcrPending:          "ocr-pending",
	OcrDone:             "ocr-done",
	AiPending:           "ai-pending",
	AiDone:              "ai-done",
	Cleanup:             "cleanup",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}
