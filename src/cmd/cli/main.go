package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"screen-ocr-ai/src/config"
	"screen-ocr-ai/src/ipc"
	"screen-ocr-ai/src/llm"
	"screen-ocr-ai/src/logutil"
	"screen-ocr-ai/src/presenter"
	"screen-ocr-ai/src/runtimeinit"
	"screen-ocr-ai/src/session"
)

const (
	maxFileSizeMB = 10
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type cliOptions struct {
	filePath   string
	jsonOutput bool
	noAI       bool
	verbose    bool
	envPath    string
	model      string

	system       string
	conversation string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args))
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"ocr-tool"}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.ExecuteContext(ctx)
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "ocr-tool",
		Short:         "Run OCR (and the AI answer) on PNG input",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.filePath == "" {
				return errors.New("--file is required")
			}
			return runOCR(cmd.Context(), *opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.PersistentFlags().StringVar(&opts.envPath, "env", "", "Path to the .env file")
	cmd.PersistentFlags().StringVar(&opts.model, "model", "", "LLM model (overrides MODEL)")
	cmd.PersistentFlags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")

	cmd.Flags().StringVar(&opts.filePath, "file", "", "Path to PNG file (use '-' for stdin)")
	cmd.Flags().BoolVar(&opts.noAI, "no-ai", false, "Only run OCR")

	cmd.AddCommand(newChatCmd(opts), newWatchCmd(opts))
	return cmd
}

func newChatCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Run one follow-up turn, through the resident when one is running",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.verbose)
			loadOpts := opts.loadOptions()
			cfg, _ := config.LoadWithOptions(loadOpts)

			system := opts.system
			if system == "" && cfg != nil {
				system = cfg.SystemPrompt
			}
			message := ""
			if len(args) > 0 {
				message = args[0]
			}
			conv, err := buildConversation(opts.conversation, system, message)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), ipc.NewClient(), conv, cmd.OutOrStdout(), opts.jsonOutput, func(ctx context.Context) (string, error) {
				rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{LoadOptions: loadOpts})
				if err != nil {
					return "", err
				}
				return session.Chat(ctx, rt.LLM, rt.Config.Model, conv), nil
			})
		},
	}
	cmd.Flags().StringVar(&opts.system, "system", "", "System prompt (defaults to SYSTEM_PROMPT)")
	cmd.Flags().StringVar(&opts.conversation, "conversation", "", "JSON file with the conversation turns so far ('-' for stdin)")
	return cmd
}

func newWatchCmd(opts *cliOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print every capture result produced by the resident",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupLogging(opts.verbose)
			_, _ = config.LoadWithOptions(opts.loadOptions())
			return runWatch(cmd.Context(), ipc.NewClient(), cmd.OutOrStdout(), opts.jsonOutput)
		},
	}
}

func (o cliOptions) loadOptions() config.LoadOptions {
	return config.LoadOptions{EnvPathOverride: o.envPath, ModelOverride: o.model}
}

// setupLogging keeps stderr quiet unless --verbose is given.
func setupLogging(verbose bool) {
	if verbose {
		logutil.Setup(false, "debug")
		return
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	long := []string{"file", "json", "verbose", "no-ai", "env", "model", "system", "conversation"}
	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range long {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}

	return normalized
}

func readImage(filePath string, stdin io.Reader) ([]byte, error) {
	var imageData []byte
	var err error

	if filePath == "-" {
		imageData, err = io.ReadAll(io.LimitReader(stdin, maxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		imageData, err = os.ReadFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
		}
	}

	if len(imageData) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}
	if len(imageData) > maxFileSize {
		return nil, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	if len(imageData) < len(pngMagic) || !bytes.Equal(imageData[:len(pngMagic)], pngMagic) {
		return nil, fmt.Errorf("input is not a valid PNG file (invalid magic number)")
	}
	return imageData, nil
}

// analyzer is the part of session.Orchestrator used on files.
type analyzer interface {
	RecognizeImage(ctx context.Context, data []byte) string
	Ask(ctx context.Context, ocrText string) string
}

func runOCR(ctx context.Context, opts cliOptions, stdin io.Reader, out io.Writer) error {
	setupLogging(opts.verbose)

	imageData, err := readImage(opts.filePath, stdin)
	if err != nil {
		return err
	}
	slog.Debug("image read", "bytes", len(imageData))

	rt, err := runtimeinit.Bootstrap(ctx, runtimeinit.Options{
		LoadOptions:   opts.loadOptions(),
		RequireOCRKey: true,
	})
	if err != nil {
		return err
	}
	orch, err := rt.NewOrchestrator(nil)
	if err != nil {
		return err
	}
	return analyze(ctx, orch, imageData, opts, out)
}

type OCRResult struct {
	Text      string  `json:"text"`
	AIText    string  `json:"ai_text,omitempty"`
	Source    string  `json:"source"`
	Timestamp string  `json:"timestamp"`
	Duration  float64 `json:"duration_seconds"`
	CharCount int     `json:"character_count"`
}

func analyze(ctx context.Context, a analyzer, imageData []byte, opts cliOptions, out io.Writer) error {
	startTime := time.Now()
	result := OCRResult{Source: opts.filePath, Text: a.RecognizeImage(ctx, imageData)}
	if strings.HasPrefix(result.Text, session.OCRErrorPrefix) {
		return errors.New(result.Text)
	}
	if !opts.noAI {
		result.AIText = a.Ask(ctx, result.Text)
	}
	elapsed := time.Since(startTime)
	slog.Debug("analysis finished", "elapsed", elapsed, "chars", len(result.Text))

	if opts.jsonOutput {
		result.Timestamp = time.Now().UTC().Format(time.RFC3339)
		result.Duration = elapsed.Seconds()
		result.CharCount = len(result.Text)
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return fmt.Errorf("failed to encode JSON output: %w", err)
		}
		return nil
	}

	if opts.noAI {
		fmt.Fprint(out, result.Text)
		return nil
	}
	console := &presenter.Console{W: out}
	console.OCRReady(result.Text)
	console.AIReady(result.AIText, result.Text)
	return nil
}

// buildConversation loads earlier turns from path (if any), puts the system
// prompt first when the conversation has none and appends message as a user
// turn.
func buildConversation(path, system, message string) ([]llm.Message, error) {
	var conv []llm.Message
	if path != "" {
		var data []byte
		var err error
		if path == "-" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read conversation: %w", err)
		}
		if err := json.Unmarshal(data, &conv); err != nil {
			return nil, fmt.Errorf("invalid conversation: %w", err)
		}
	}

	if system != "" && (len(conv) == 0 || conv[0].Role != llm.RoleSystem) {
		conv = append([]llm.Message{{Role: llm.RoleSystem, Content: system}}, conv...)
	}
	if message != "" {
		conv = append(conv, llm.Message{Role: llm.RoleUser, Content: message})
	}
	if len(conv) == 0 || conv[len(conv)-1].Role != llm.RoleUser {
		return nil, errors.New("conversation must end with a user message")
	}
	return conv, nil
}

type chatClient interface {
	Chat(ctx context.Context, conversation []llm.Message) (bool, string, error)
}

func runChat(ctx context.Context, client chatClient, conv []llm.Message, out io.Writer, jsonOutput bool, standalone func(context.Context) (string, error)) error {
	delegated, text, err := client.Chat(ctx, conv)
	if err != nil {
		return fmt.Errorf("resident chat failed: %w", err)
	}
	if !delegated {
		slog.Debug("no resident detected, calling the LLM directly")
		if text, err = standalone(ctx); err != nil {
			return err
		}
	}

	if jsonOutput {
		conv = append(conv, llm.Message{Role: llm.RoleAssistant, Content: text})
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(conv)
	}
	fmt.Fprintln(out, text)
	return nil
}

type subscriber interface {
	Subscribe(ctx context.Context, onEvent func(ipc.Event)) (bool, error)
}

func runWatch(ctx context.Context, client subscriber, out io.Writer, jsonOutput bool) error {
	console := &presenter.Console{W: out}
	encoder := json.NewEncoder(out)
	delegated, err := client.Subscribe(ctx, func(ev ipc.Event) {
		if jsonOutput {
			_ = encoder.Encode(ev)
			return
		}
		switch ev.Event {
		case ipc.EventOCRReady:
			console.OCRReady(ev.OCRText)
		case ipc.EventAIReady:
			console.AIReady(ev.AIText, ev.OCRText)
		}
	})
	if !delegated {
		return errors.New("no resident is running")
	}
	return err
}
