package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
)

// Options are the recognition settings sent with every request.
type Options struct {
	Language string // e.g. "eng"
	Engine   int    // provider engine version
	Scale    bool   // let the provider upscale small images
	Overlay  bool   // request per-line/per-word positions
}

// Recognizer turns an image file into a provider result.
type Recognizer interface {
	Recognize(ctx context.Context, imagePath string, opts Options) (*Result, error)
}

// Result mirrors the OCR.space response document.
type Result struct {
	ParsedResults                []ParsedResult `json:"ParsedResults"`
	OCRExitCode                  json.Number    `json:"OCRExitCode"`
	IsErroredOnProcessing        bool           `json:"IsErroredOnProcessing"`
	ErrorMessage                 Messages       `json:"ErrorMessage"`
	ErrorDetails                 string         `json:"ErrorDetails"`
	ProcessingTimeInMilliseconds string         `json:"ProcessingTimeInMilliseconds"`
}

type ParsedResult struct {
	TextOverlay       *TextOverlay `json:"TextOverlay"`
	FileParseExitCode json.Number  `json:"FileParseExitCode"`
	ParsedText        string       `json:"ParsedText"`
	ErrorMessage      string       `json:"ErrorMessage"`
	ErrorDetails      string       `json:"ErrorDetails"`
}

type TextOverlay struct {
	Lines      []Line `json:"Lines"`
	HasOverlay bool   `json:"HasOverlay"`
	Message    string `json:"Message"`
}

type Line struct {
	LineText  string  `json:"LineText"`
	Words     []Word  `json:"Words"`
	MaxHeight float64 `json:"MaxHeight"`
	MinTop    float64 `json:"MinTop"`
}

type Word struct {
	WordText string  `json:"WordText"`
	Left     float64 `json:"Left"`
	Top      float64 `json:"Top"`
	Height   float64 `json:"Height"`
	Width    float64 `json:"Width"`
}

// Messages accepts the provider's ErrorMessage field, which is sometimes a
// string and sometimes an array of strings.
type Messages []string

func (m *Messages) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*m = nil
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*m = Messages{s}
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*m = list
	return nil
}

func (m Messages) String() string { return strings.Join(m, "; ") }
