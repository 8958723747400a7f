package runtimeinit

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"screen-ocr-ai/src/config"
	"screen-ocr-ai/src/ocr"
)

func noEnvFile(t *testing.T) config.LoadOptions {
	return config.LoadOptions{EnvPathOverride: filepath.Join(t.TempDir(), "missing.env")}
}

func TestBootstrapRequiresLLMKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "")
	_, err := Bootstrap(context.Background(), Options{LoadOptions: noEnvFile(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GROQ_API_KEY")
}

func TestBootstrapRequiresOCRKey(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_test_key_123456")
	t.Setenv("OCR_API_KEY", "")
	t.Setenv("OCR_PROVIDER", "")
	_, err := Bootstrap(context.Background(), Options{LoadOptions: noEnvFile(t), RequireOCRKey: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OCR_API_KEY")
}

func TestBootstrapWiresClients(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_test_key_123456")
	t.Setenv("OCR_API_KEY", "ocr_test_key")
	t.Setenv("OCR_PROVIDER", "")
	t.Setenv("OCR_LANGUAGE", "ger")
	t.Setenv("OCR_ENGINE", "1")

	var level string
	rt, err := Bootstrap(context.Background(), Options{
		LoadOptions:   noEnvFile(t),
		RequireOCRKey: true,
		SetupLogging:  func(_ bool, l string) { level = l },
	})
	require.NoError(t, err)
	assert.NotEmpty(t, level)
	assert.NotNil(t, rt.LLM)
	assert.IsType(t, &ocr.OCRSpace{}, rt.OCR)
	assert.Equal(t, ocr.Options{Language: "ger", Engine: 1, Scale: true, Overlay: true}, rt.OCROptions())

	orch, err := rt.NewOrchestrator(nil)
	require.NoError(t, err)
	assert.False(t, orch.HasActiveOverlay())
}

func TestBootstrapPingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	t.Setenv("GROQ_API_KEY", "gsk_test_key_123456")
	t.Setenv("LLM_ENDPOINT", srv.URL)
	_, err := Bootstrap(context.Background(), Options{LoadOptions: noEnvFile(t), PingLLM: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "startup check failed")
}
