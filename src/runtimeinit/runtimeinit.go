package runtimeinit

import (
	"context"
	"fmt"
	"log/slog"

	"screen-ocr-ai/src/artifact"
	"screen-ocr-ai/src/config"
	"screen-ocr-ai/src/llm"
	"screen-ocr-ai/src/logutil"
	"screen-ocr-ai/src/notification"
	"screen-ocr-ai/src/ocr"
	"screen-ocr-ai/src/screenshot"
	"screen-ocr-ai/src/session"
)

type Options struct {
	LoadOptions  config.LoadOptions
	SetupLogging func(enableFileLogging bool, level string)
	// PingLLM verifies the LLM key before anything else starts.
	PingLLM              bool
	ShowBlockingLLMError bool
	// RequireOCRKey is false for binaries that never call the OCR provider.
	RequireOCRKey bool
}

// Runtime holds the clients every binary builds the same way.
type Runtime struct {
	Config    *config.Config
	LLM       *llm.Client
	OCR       ocr.Recognizer
	Artifacts *artifact.Store
}

func Bootstrap(ctx context.Context, opts Options) (*Runtime, error) {
	cfg, err := config.LoadWithOptions(opts.LoadOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if opts.SetupLogging != nil {
		opts.SetupLogging(cfg.EnableFileLogging, cfg.LogLevel)
	}

	if cfg.LLMAPIKey == "" {
		return nil, fmt.Errorf("GROQ_API_KEY is required. Set it in %s or the environment", envSource(cfg))
	}
	slog.Info("configuration loaded",
		"env", cfg.EnvPath,
		"model", cfg.Model,
		"ocrProvider", cfg.OCRProvider,
		"llmKey", logutil.RedactKey(cfg.LLMAPIKey))

	client := llm.New(llm.Config{
		APIKey:            cfg.LLMAPIKey,
		BaseURL:           cfg.LLMEndpoint,
		Timeout:           cfg.LLMTimeout,
		RequestsPerMinute: cfg.LLMRequestsPerMinute,
	})
	if opts.PingLLM {
		if err := client.Ping(ctx); err != nil {
			if opts.ShowBlockingLLMError {
				notification.ShowBlockingError("LLM unavailable", fmt.Sprintf("Startup check failed: %v\n\nPlease verify your API key and network connectivity.", err))
			}
			return nil, fmt.Errorf("startup check failed: %w", err)
		}
		slog.Info("LLM ping succeeded")
	}

	rt := &Runtime{
		Config:    cfg,
		LLM:       client,
		Artifacts: artifact.NewStore(cfg.TempDir),
	}
	if opts.RequireOCRKey {
		if rt.OCR, err = newRecognizer(cfg); err != nil {
			return nil, err
		}
	}
	return rt, nil
}

func newRecognizer(cfg *config.Config) (ocr.Recognizer, error) {
	if cfg.OCRProvider == config.ProviderTesseract {
		r, err := ocr.NewTesseract()
		if err != nil {
			return nil, fmt.Errorf("OCR_PROVIDER=tesseract: %w", err)
		}
		return r, nil
	}
	if cfg.OCRAPIKey == "" {
		return nil, fmt.Errorf("OCR_API_KEY is required. Set it in %s or the environment", envSource(cfg))
	}
	slog.Debug("using OCR.space", "ocrKey", logutil.RedactKey(cfg.OCRAPIKey))
	return ocr.NewOCRSpace(cfg.OCRAPIKey, cfg.OCREndpoint, cfg.OCRTimeout), nil
}

func envSource(cfg *config.Config) string {
	if cfg.EnvPath != "" {
		return cfg.EnvPath
	}
	return ".env"
}

// OCROptions are the recognition settings from the configuration.
func (rt *Runtime) OCROptions() ocr.Options {
	return ocr.Options{
		Language: rt.Config.OCRLanguage,
		Engine:   rt.Config.OCREngine,
		Scale:    rt.Config.OCRScale,
		Overlay:  rt.Config.OCROverlay,
	}
}

// NewOrchestrator wires a capture session over the real screen. windows may
// be nil when only CaptureRegion and Chat are used.
func (rt *Runtime) NewOrchestrator(windows session.Windows) (*session.Orchestrator, error) {
	return session.New(session.Options{
		Windows:      windows,
		Screens:      screenshot.NewScreen(),
		Artifacts:    rt.Artifacts,
		OCR:          rt.OCR,
		OCROptions:   rt.OCROptions(),
		LLM:          rt.LLM,
		Model:        rt.Config.Model,
		SystemPrompt: rt.Config.SystemPrompt,
		SettleDelay:  rt.Config.SettleDelay,
	})
}
