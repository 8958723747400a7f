package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

const defaultOCRSpaceURL = "https://api.ocr.space/parse/image"

// OCRSpace uploads images to the OCR.space parse endpoint.
type OCRSpace struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewOCRSpace creates a client. An empty endpoint selects the public API; a
// non-positive timeout falls back to 30s.
func NewOCRSpace(apiKey, endpoint string, timeout time.Duration) *OCRSpace {
	if endpoint == "" {
		endpoint = defaultOCRSpaceURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &OCRSpace{
		apiKey:   apiKey,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (c *OCRSpace) Recognize(ctx context.Context, imagePath string, opts Options) (*Result, error) {
	if c.apiKey == "" {
		return nil, errors.New("OCR API key is required")
	}

	body, contentType, err := buildForm(imagePath, opts)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("apikey", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slurp, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("ocr.space returned status %d: %s", resp.StatusCode, bytes.TrimSpace(slurp))
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	if result.IsErroredOnProcessing {
		msg := result.ErrorMessage.String()
		if msg == "" {
			msg = "processing failed (exit code " + result.OCRExitCode.String() + ")"
		}
		return nil, errors.New(msg)
	}
	return &result, nil
}

func buildForm(imagePath string, opts Options) (io.Reader, string, error) {
	f, err := os.Open(imagePath)
	if err != nil {
		return nil, "", fmt.Errorf("opening image: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	fields := map[string]string{
		"language":          opts.Language,
		"OCREngine":         strconv.Itoa(opts.Engine),
		"scale":             strconv.FormatBool(opts.Scale),
		"isOverlayRequired": strconv.FormatBool(opts.Overlay),
	}
	for k, v := range fields {
		if v == "" || v == "0" {
			continue
		}
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", err
		}
	}

	part, err := mw.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return nil, "", err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, "", fmt.Errorf("reading image: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return &buf, mw.FormDataContentType(), nil
}
