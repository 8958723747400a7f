package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultModel        = "llama-3.1-8b-instant"
	DefaultSystemPrompt = "You are an expert assistant. CRITICAL RULE: Wrap code in triple backticks."
	DefaultHotkey       = "Ctrl+Shift+S"

	ProviderOCRSpace  = "ocrspace"
	ProviderTesseract = "tesseract"

	// EnvPathVar points at an alternative .env file when none sits next to the executable.
	EnvPathVar = "SCREEN_OCR_AI"

	// APIKeyFileSuffix turns an API key variable into the one naming a key file,
	// e.g. GROQ_API_KEY_FILE.
	APIKeyFileSuffix = "_FILE"
)

type LoadOptions struct {
	EnvPathOverride string
	ModelOverride   string
	TempDirOverride string
}

type Config struct {
	EnvPath string

	OCRAPIKey   string
	OCRProvider string
	OCREndpoint string
	OCRLanguage string
	OCREngine   int
	OCRScale    bool
	OCROverlay  bool
	OCRTimeout  time.Duration

	LLMAPIKey            string
	LLMEndpoint          string
	Model                string
	SystemPrompt         string
	LLMTimeout           time.Duration
	LLMRequestsPerMinute int
	MaxConcurrentChats   int

	Hotkey          string
	SettleDelay     time.Duration
	TempDir         string
	SelectorCommand string
	CopyToClipboard bool

	EnableFileLogging bool
	LogLevel          string
}

func Load() (*Config, error) {
	return LoadWithOptions(LoadOptions{})
}

func LoadWithOptions(opts LoadOptions) (*Config, error) {
	// Load configuration from sources in priority order:
	// 1) explicit override path
	// 2) .env in the application (executable) directory
	// 3) SCREEN_OCR_AI env var as a path to a config file
	envPath := strings.TrimSpace(opts.EnvPathOverride)
	if envPath == "" {
		envPath = resolveEnvPath()
	}
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	cfg := &Config{
		EnvPath: envPath,

		OCRAPIKey:   resolveAPIKey("OCR_API_KEY"),
		OCRProvider: resolveProvider(os.Getenv("OCR_PROVIDER")),
		OCREndpoint: os.Getenv("OCR_ENDPOINT"),
		OCRLanguage: getEnvWithDefault("OCR_LANGUAGE", "eng"),
		OCREngine:   getEnvAsInt("OCR_ENGINE", 2),
		OCRScale:    getEnvAsBool("OCR_SCALE", true),
		OCROverlay:  getEnvAsBool("OCR_OVERLAY", true),
		OCRTimeout:  time.Duration(getEnvAsInt("OCR_TIMEOUT_SEC", 30)) * time.Second,

		LLMAPIKey:            resolveAPIKey("GROQ_API_KEY"),
		LLMEndpoint:          os.Getenv("LLM_ENDPOINT"),
		Model:                getEnvWithDefault("MODEL", DefaultModel),
		SystemPrompt:         getEnvWithDefault("SYSTEM_PROMPT", DefaultSystemPrompt),
		LLMTimeout:           time.Duration(getEnvAsInt("LLM_TIMEOUT_SEC", 60)) * time.Second,
		LLMRequestsPerMinute: getEnvAsInt("LLM_REQUESTS_PER_MINUTE", 30),
		MaxConcurrentChats:   getEnvAsInt("MAX_CONCURRENT_CHATS", 4),

		Hotkey:          getEnvWithDefault("HOTKEY", DefaultHotkey),
		SettleDelay:     time.Duration(getEnvAsInt("CAPTURE_SETTLE_MS", 300)) * time.Millisecond,
		TempDir:         getEnvWithDefault("TEMP_DIR", os.TempDir()),
		SelectorCommand: os.Getenv("SELECTOR_CMD"),
		CopyToClipboard: getEnvAsBool("COPY_TO_CLIPBOARD", false),

		EnableFileLogging: getEnvAsBool("ENABLE_FILE_LOGGING", false),
		LogLevel:          getEnvWithDefault("LOG_LEVEL", "info"),
	}

	if v := strings.TrimSpace(opts.ModelOverride); v != "" {
		cfg.Model = v
	}
	if v := strings.TrimSpace(opts.TempDirOverride); v != "" {
		cfg.TempDir = v
	}

	return cfg, nil
}

func resolveEnvPath() string {
	execPath, err := os.Executable()
	if err == nil {
		exeEnv := filepath.Join(filepath.Dir(execPath), ".env")
		if _, err := os.Stat(exeEnv); err == nil {
			return exeEnv
		}
	}

	if alt := os.Getenv(EnvPathVar); alt != "" {
		if _, err := os.Stat(alt); err == nil {
			return alt
		}
	}

	return ""
}

func resolveProvider(value string) string {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case ProviderTesseract:
		return ProviderTesseract
	default:
		return ProviderOCRSpace
	}
}

// resolveAPIKey prefers the key stored in the file named by <name>_FILE over
// the <name> variable itself.
func resolveAPIKey(name string) string {
	if keyPath := strings.TrimSpace(os.Getenv(name + APIKeyFileSuffix)); keyPath != "" {
		if data, err := os.ReadFile(keyPath); err == nil {
			if fileKey := strings.TrimSpace(string(data)); fileKey != "" {
				return fileKey
			}
		}
	}

	return os.Getenv(name)
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt ignores unparsable and non-positive values.
func getEnvAsInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return defaultValue
}
