// Command parley is an interactive terminal front end for the voice
// assistant: type questions, or arm voice mode and talk.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/parley-go/parley-lite/internal/config"
	"github.com/parley-go/parley-lite/pkg/core/audio"
	"github.com/parley-go/parley-lite/pkg/core/store"
	"github.com/parley-go/parley-lite/pkg/core/vad"
	parley "github.com/parley-go/parley-lite/sdk"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "parley:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if err := config.LoadEnvFile(".env"); err != nil {
		return err
	}
	cfg := config.FromEnv()

	fs := flag.NewFlagSet("parley", flag.ContinueOnError)
	fs.StringVar(&cfg.BackendURL, "backend", cfg.BackendURL, "backend base URL")
	fs.StringVar(&cfg.ModelPath, "vad-model", cfg.ModelPath, "Silero VAD model path (empty uses the energy detector)")
	fs.StringVar(&cfg.RuntimeLib, "onnxruntime", cfg.RuntimeLib, "onnxruntime shared library path")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "state database path")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn, or error")
	if err := fs.Parse(args); err != nil {
		return err
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	client := parley.NewClient(cfg.BackendURL, parley.WithLogger(logger))
	userID, err := parley.EnsureUserID(st)
	if err != nil {
		return err
	}

	sessions := parley.NewSessionManager(client, st, logger)
	conv := parley.NewConversation(st, logger)

	orch := parley.NewOrchestrator(client, sessions, conv, parley.OrchestratorConfig{
		Speaker: audio.NewOtoSpeaker(),
		UserID:  userID,
		Logger:  logger,
		Notify: parley.Notifications{
			OnConsultation: func() {
				fmt.Println("(you can book a consultation at the contact page)")
			},
		},
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	voice, detector, err := setupVoice(ctx, cfg, client, orch, logger)
	if err != nil {
		logger.Warn("voice mode unavailable", "error", err)
	}
	if detector != nil {
		defer detector.Close()
	}
	defer orch.WaitEnhancements()

	printHistory(conv.Turns())
	return repl(ctx, orch, voice, logger)
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// setupVoice probes the environment, builds the matching detector over a
// microphone source, and wires the voice-mode coordinator into the
// orchestrator's lifecycle.
func setupVoice(ctx context.Context, cfg config.Config, client *parley.Client, orch *parley.Orchestrator, logger *slog.Logger) (*parley.VoiceMode, vad.Detector, error) {
	mic, err := vad.NewMicSource()
	if err != nil {
		return nil, nil, fmt.Errorf("open microphone: %w", err)
	}

	caps := vad.Probe(cfg.ModelPath, cfg.RuntimeLib)
	var voice *parley.VoiceMode
	cb := vad.Callbacks{
		OnSpeechStart: func() { fmt.Println("(listening...)") },
		OnSpeechEnd: func(samples []float32) {
			if voice != nil {
				voice.HandleUtterance(samples)
				printLastExchange(orch.Conversation().Turns())
			}
		},
		OnMisfire: func() { logger.Debug("utterance too short, ignored") },
	}
	detector := vad.New(caps, mic, cb, logger)
	if err := detector.Load(ctx); err != nil {
		if _, ok := detector.(*vad.ModelDetector); !ok {
			mic.Close()
			return nil, nil, err
		}
		// Model strategy failed to load; drop to the energy detector rather
		// than losing voice mode entirely.
		logger.Warn("model detector unavailable, using energy fallback", "error", err)
		detector = vad.NewEnergyDetector(vad.EnergyConfig{}, mic, cb, logger)
		if err := detector.Load(ctx); err != nil {
			mic.Close()
			return nil, nil, err
		}
	}

	voice = parley.NewVoiceMode(detector, orch, client, logger)
	orch.SetOnStateChange(voice.HandleOrchestratorState)
	return voice, detector, nil
}

func repl(ctx context.Context, orch *parley.Orchestrator, voice *parley.VoiceMode, logger *slog.Logger) error {
	fmt.Println("parley ready. /voice toggles voice mode, /clear resets, /quit exits.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if ctx.Err() != nil {
			return nil
		}

		switch {
		case line == "":
			continue
		case line == "/quit":
			if voice != nil {
				voice.Disable()
			}
			return nil
		case line == "/clear":
			if err := orch.ClearConversation(); err != nil {
				logger.Error("clear failed", "error", err)
				continue
			}
			fmt.Println("(conversation cleared)")
		case line == "/voice":
			toggleVoice(ctx, voice)
		default:
			if err := orch.SubmitText(ctx, line); err != nil {
				if errors.Is(err, parley.ErrBusy) {
					fmt.Println("(still working on the previous request)")
					continue
				}
				logger.Error("request failed", "error", err)
			}
			printLastExchange(orch.Conversation().Turns())
		}
	}
}

func toggleVoice(ctx context.Context, voice *parley.VoiceMode) {
	if voice == nil {
		fmt.Println("(voice mode is unavailable on this machine)")
		return
	}
	if voice.State() != parley.VoiceOff {
		voice.Disable()
		fmt.Println("(voice mode off)")
		return
	}
	if err := voice.Enable(ctx); err != nil {
		fmt.Println("(voice mode failed:", err, ")")
		return
	}
	fmt.Println("(voice mode on, speak when ready)")
}

func printHistory(turns []parley.Turn) {
	for _, t := range turns {
		printTurn(t)
	}
}

func printLastExchange(turns []parley.Turn) {
	start := len(turns) - 2
	if start < 0 {
		start = 0
	}
	for _, t := range turns[start:] {
		printTurn(t)
	}
}

func printTurn(t parley.Turn) {
	prefix := "you"
	if t.Role == parley.RoleAssistant {
		prefix = "assistant"
	}
	fmt.Printf("%s: %s\n", prefix, t.Content)
	if t.Structured != nil {
		fmt.Printf("  [%s: %d items]\n", t.Structured.ItemType, len(t.Structured.Items))
	}
}
