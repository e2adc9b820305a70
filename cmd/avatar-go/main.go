package main

import (
	"bufio"
	"context"
	"expvar"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/chriscow/avatar-agents-go/internal/app"
	"github.com/chriscow/avatar-agents-go/internal/config"
	"github.com/chriscow/avatar-agents-go/internal/emotion"
	"github.com/chriscow/avatar-agents-go/internal/history"
	"github.com/chriscow/avatar-agents-go/pkg/agent"
	"github.com/chriscow/avatar-agents-go/pkg/ai/llm"
	"github.com/chriscow/avatar-agents-go/pkg/ai/stt"
	"github.com/chriscow/avatar-agents-go/pkg/ai/tts"
	"github.com/chriscow/avatar-agents-go/pkg/audio"
	"github.com/chriscow/avatar-agents-go/pkg/audio/wav"
	"github.com/chriscow/avatar-agents-go/pkg/avatar"
	"github.com/chriscow/avatar-agents-go/pkg/avatar/console"
	avatarfake "github.com/chriscow/avatar-agents-go/pkg/avatar/fake"
	"github.com/chriscow/avatar-agents-go/pkg/platform"
	"github.com/chriscow/avatar-agents-go/pkg/plugin"
	_ "github.com/chriscow/avatar-agents-go/pkg/plugin/azure"    // Import to register Azure TTS plugin
	_ "github.com/chriscow/avatar-agents-go/pkg/plugin/deepgram" // Import to register Deepgram STT plugin
	_ "github.com/chriscow/avatar-agents-go/pkg/plugin/fake"     // Import to register fake plugins
	_ "github.com/chriscow/avatar-agents-go/pkg/plugin/openai"   // Import to register OpenAI LLM plugin
	"github.com/chriscow/avatar-agents-go/pkg/version"
	"github.com/chriscow/avatar-agents-go/pkg/voice"
	"github.com/spf13/cobra"
)

const metricsAddr = ":8080"

var rootCmd = &cobra.Command{
	Use:   "avatar-go",
	Short: "Conversational avatar agent for the terminal",
	Long: `avatar-go runs a spoken conversation against a talking avatar:
microphone speech is transcribed, answered by a language model, voiced
through the shared audio output device and lip-synced on a renderer,
with the microphone muted for as long as the avatar is speaking.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var voiceCmd = &cobra.Command{
	Use:   "voice",
	Short: "Run the full voice conversation loop",
	Long: `Capture microphone speech, answer every final transcript through the
language model, and speak the reply. Capture is muted while the avatar
speaks and resumes after the platform grace window. Ctrl+C exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metrics, _ := cmd.Flags().GetBool("metrics")
		names := providerNames{}
		names.stt, _ = cmd.Flags().GetString("stt")
		names.tts, _ = cmd.Flags().GetString("tts")
		names.llm, _ = cmd.Flags().GetString("llm")
		names.renderer, _ = cmd.Flags().GetString("renderer")

		logger := setupLogger()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if names.stt == "" {
			names.stt = cfg.Capture.Provider
		}

		logger.Info("Starting voice conversation",
			slog.String("service", "avatar-go"),
			slog.String("version", version.Version),
			slog.String("stt", names.stt),
			slog.String("tts", names.tts),
			slog.String("llm", names.llm),
			slog.Bool("metrics", metrics))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runVoice(ctx, cfg, names, metrics, logger)
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Typed conversation with a spoken, animated reply",
	Long: `Read messages from stdin and run each one through the conversation
loop. Replies are voiced and lip-synced exactly as in voice mode; only
the microphone is out of the picture. Ctrl+D exits.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		metrics, _ := cmd.Flags().GetBool("metrics")
		names := providerNames{}
		names.tts, _ = cmd.Flags().GetString("tts")
		names.llm, _ = cmd.Flags().GetString("llm")
		names.renderer, _ = cmd.Flags().GetString("renderer")

		logger := setupLogger()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		logger.Info("Starting chat conversation",
			slog.String("service", "avatar-go"),
			slog.String("version", version.Version),
			slog.String("tts", names.tts),
			slog.String("llm", names.llm))

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runChat(ctx, cfg, names, metrics, logger)
	},
}

var sayCmd = &cobra.Command{
	Use:   "say [text]",
	Short: "Speak one utterance and exit",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		out, _ := cmd.Flags().GetString("out")
		names := providerNames{}
		names.tts, _ = cmd.Flags().GetString("tts")
		names.renderer, _ = cmd.Flags().GetString("renderer")

		logger := setupLogger()

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runSay(ctx, cfg, strings.Join(args, " "), out, names, logger)
	},
}

var playCmd = &cobra.Command{
	Use:   "play [file.wav]",
	Short: "Play a WAV file through the shared output device",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return runPlay(ctx, args[0], logger)
	},
}

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Plugin management commands",
}

var pluginListCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List registered plugins",
	Long: `List all registered plugins or plugins of a specific kind.
Available kinds: stt, tts, llm, renderer`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind := ""
		if len(args) > 0 {
			kind = args[0]
		}

		plugins := plugin.List(kind)

		if len(plugins) == 0 {
			if kind == "" {
				fmt.Println("No plugins registered")
			} else {
				fmt.Printf("No plugins registered for kind: %s\n", kind)
			}
			return nil
		}

		fmt.Printf("%-10s %-12s %-10s %s\n", "KIND", "NAME", "VERSION", "DESCRIPTION")
		fmt.Println("------------------------------------------------------------")

		for _, p := range plugins {
			version := p.Version
			if version == "" {
				version = "N/A"
			}
			description := p.Description
			if description == "" {
				description = "No description"
			}
			fmt.Printf("%-10s %-12s %-10s %s\n", p.Kind, p.Name, version, description)
		}

		return nil
	},
}

// providerNames selects registry plugins per kind.
type providerNames struct {
	stt      string
	tts      string
	llm      string
	renderer string
}

func setupLogger() *slog.Logger {
	logFormat := os.Getenv("AVATAR_LOG_FORMAT")
	logLevel := os.Getenv("AVATAR_LOG_LEVEL")

	var handler slog.Handler
	opts := &slog.HandlerOptions{}

	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		// Default to JSON, on stderr so the conversation owns stdout.
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// watchWake converts SIGCONT into device wake signals, the closest a
// terminal process gets to a visibility change.
func watchWake(ctx context.Context) <-chan struct{} {
	wake := make(chan struct{}, 1)
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGCONT)

	go func() {
		defer signal.Stop(sigc)
		for {
			select {
			case <-ctx.Done():
				close(wake)
				return
			case <-sigc:
				select {
				case wake <- struct{}{}:
				default:
				}
			}
		}
	}()
	return wake
}

func serveMetrics(logger *slog.Logger) {
	logger.Info("Starting metrics server", slog.String("addr", metricsAddr))
	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	if err := http.ListenAndServe(metricsAddr, mux); err != nil {
		logger.Error("Metrics server failed", slog.String("error", err.Error()))
	}
}

// providerConfig drops empty values so each plugin's own environment
// fallbacks still apply when the config file leaves a key blank.
func providerConfig(kv map[string]any) map[string]any {
	out := make(map[string]any, len(kv))
	for k, v := range kv {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		out[k] = v
	}
	return out
}

func resolveSTT(name string, cfg *config.Config, profile platform.Profile) (stt.STT, error) {
	return plugin.CreateSTT(name, providerConfig(map[string]any{
		"api_key":     cfg.Capture.APIKey,
		"model":       cfg.Capture.Model,
		"sample_rate": profile.CaptureSampleRate,
	}))
}

func resolveTTS(name string, cfg *config.Config) (tts.TTS, error) {
	return plugin.CreateTTS(name, providerConfig(map[string]any{
		"key":      cfg.Speech.Key,
		"region":   cfg.Speech.Region,
		"voice":    cfg.Speech.Voice,
		"language": cfg.Speech.Language,
	}))
}

func resolveLLM(name string, cfg *config.Config) (llm.LLM, error) {
	return plugin.CreateLLM(name, providerConfig(map[string]any{
		"api_key":     cfg.LLM.APIKey,
		"endpoint":    cfg.LLM.Endpoint,
		"deployment":  cfg.LLM.Deployment,
		"api_version": cfg.LLM.APIVersion,
		"token_param": cfg.LLM.TokenParam,
	}))
}

func buildRenderer(name string) (avatar.Renderer, error) {
	switch name {
	case "console":
		return console.New(), nil
	case "fake":
		return avatarfake.NewFakeRenderer(), nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown renderer %q (console, fake, none)", name)
	}
}

func runVoice(ctx context.Context, cfg *config.Config, names providerNames, metrics bool, logger *slog.Logger) error {
	profile := platform.Detect()
	logger.Info("Platform profile selected", slog.String("profile", profile.Name))

	sess := app.NewSession(ctx, logger)
	defer sess.Shutdown("command exit")

	device := audio.NewDevice(profile,
		audio.WithLogger(logger),
		audio.WithWake(watchWake(sess.Context())))
	// Launching the command is the user interaction.
	device.MarkActivation()

	recognizer, err := resolveSTT(names.stt, cfg, profile)
	if err != nil {
		return err
	}
	synthesizer, err := resolveTTS(names.tts, cfg)
	if err != nil {
		return err
	}
	model, err := resolveLLM(names.llm, cfg)
	if err != nil {
		return err
	}
	renderer, err := buildRenderer(names.renderer)
	if err != nil {
		return err
	}

	// Transcripts flow through a channel so the capture controller can be
	// built before the agent that consumes them.
	transcripts := make(chan string, 4)
	controller, err := voice.NewCaptureController(voice.CaptureConfig{
		Recognizer: recognizer,
		Profile:    profile,
		Session: stt.SessionConfig{
			Language:       cfg.Capture.Language,
			InterimResults: true,
			Continuous:     true,
		},
		OnTranscript: func(text string) {
			select {
			case transcripts <- text:
			default:
				logger.Warn("Transcript dropped, conversation backlogged",
					slog.String("text", text))
			}
		},
		OnInterim: func(text string) {
			logger.Debug("Interim transcript", slog.String("text", text))
		},
		OnError: func(err error) {
			logger.Error("Capture failed", slog.String("error", err.Error()))
			go sess.Shutdown("capture failure")
		},
		Logger: logger,
	})
	if err != nil {
		return err
	}

	speaker, err := voice.NewSpeechCoordinator(voice.SpeechConfig{
		Synthesizer: synthesizer,
		Device:      voice.DeviceOutput(device),
		Renderer:    renderer,
		Listener:    controller,
		Profile:     profile,
		Voice:       cfg.Speech.Voice,
		Language:    cfg.Speech.Language,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	classifier, err := emotion.NewClassifier()
	if err != nil {
		return err
	}

	record, closeHistory := historyRecorder(ctx, cfg.History.Path, logger)

	conv, err := agent.New(agent.Config{
		LLM:      model,
		Speaker:  speaker,
		Renderer: renderer,
		ClassifyMood: func(text string) avatar.Mood {
			mood, _ := classifier.Classify(text)
			return mood
		},
		RecordTurn:   record,
		SystemPrompt: cfg.Agent.SystemPrompt,
		HistoryLimit: cfg.Agent.HistoryLimit,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if metrics {
		conv.Metrics().Publish()
		go serveMetrics(logger)
	}

	handler := conv.TranscriptHandler(sess.Context())
	go func() {
		for {
			select {
			case <-sess.Done():
				return
			case text := <-transcripts:
				fmt.Printf("you: %s\n", text)
				handler(text)
			}
		}
	}()

	// One ordered hook: mute first, cut speech, then release resources.
	sess.OnShutdown(func(string) {
		controller.RequestStop()
		speaker.Stop()
		device.Close()
		closeHistory()
	})

	if err := controller.RequestStart(sess.Context()); err != nil {
		return fmt.Errorf("start capture: %w", err)
	}
	logger.Info("Listening. Speak into the microphone; Ctrl+C exits.")

	<-sess.Done()
	return nil
}

func runChat(ctx context.Context, cfg *config.Config, names providerNames, metrics bool, logger *slog.Logger) error {
	profile := platform.Detect()

	sess := app.NewSession(ctx, logger)
	defer sess.Shutdown("command exit")

	device := audio.NewDevice(profile,
		audio.WithLogger(logger),
		audio.WithWake(watchWake(sess.Context())))
	device.MarkActivation()

	synthesizer, err := resolveTTS(names.tts, cfg)
	if err != nil {
		return err
	}
	model, err := resolveLLM(names.llm, cfg)
	if err != nil {
		return err
	}
	renderer, err := buildRenderer(names.renderer)
	if err != nil {
		return err
	}

	speaker, err := voice.NewSpeechCoordinator(voice.SpeechConfig{
		Synthesizer: synthesizer,
		Device:      voice.DeviceOutput(device),
		Renderer:    renderer,
		Profile:     profile,
		Voice:       cfg.Speech.Voice,
		Language:    cfg.Speech.Language,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	classifier, err := emotion.NewClassifier()
	if err != nil {
		return err
	}

	record, closeHistory := historyRecorder(ctx, cfg.History.Path, logger)

	conv, err := agent.New(agent.Config{
		LLM:      model,
		Speaker:  speaker,
		Renderer: renderer,
		ClassifyMood: func(text string) avatar.Mood {
			mood, _ := classifier.Classify(text)
			return mood
		},
		RecordTurn:   record,
		SystemPrompt: cfg.Agent.SystemPrompt,
		HistoryLimit: cfg.Agent.HistoryLimit,
		Temperature:  cfg.LLM.Temperature,
		MaxTokens:    cfg.LLM.MaxTokens,
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	if metrics {
		conv.Metrics().Publish()
		go serveMetrics(logger)
	}

	sess.OnShutdown(func(string) {
		speaker.Stop()
		device.Close()
		closeHistory()
	})

	fmt.Println("Type a message and press Enter. Ctrl+D exits.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("you: ")
		if !scanner.Scan() {
			break
		}
		select {
		case <-sess.Done():
			return nil
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// Each input counts as a user interaction and repairs suspensions.
		device.MarkActivation()

		if err := conv.Submit(sess.Context(), line); err != nil {
			fmt.Printf("(no reply: %v)\n", err)
			continue
		}
		if turns := conv.Turns(); len(turns) > 0 {
			last := turns[len(turns)-1]
			fmt.Printf("avatar [%s]: %s\n", last.Mood, last.Assistant)
		}
	}
	return scanner.Err()
}

func runSay(ctx context.Context, cfg *config.Config, text, out string, names providerNames, logger *slog.Logger) error {
	synthesizer, err := resolveTTS(names.tts, cfg)
	if err != nil {
		return err
	}

	// With --out the utterance goes to a WAV file instead of the device.
	if out != "" {
		u, err := synthesizer.Synthesize(ctx, tts.SynthesizeRequest{
			Text:     text,
			Voice:    cfg.Speech.Voice,
			Language: cfg.Speech.Language,
		})
		if err != nil {
			return err
		}
		if err := wav.WriteFile(out, u.Audio); err != nil {
			return err
		}
		logger.Info("Utterance written",
			slog.String("file", out),
			slog.Duration("duration", u.Audio.Duration()))
		return nil
	}

	profile := platform.Detect()

	device := audio.NewDevice(profile, audio.WithLogger(logger))
	device.MarkActivation()
	defer device.Close()

	renderer, err := buildRenderer(names.renderer)
	if err != nil {
		return err
	}

	speaker, err := voice.NewSpeechCoordinator(voice.SpeechConfig{
		Synthesizer: synthesizer,
		Device:      voice.DeviceOutput(device),
		Renderer:    renderer,
		Profile:     profile,
		Voice:       cfg.Speech.Voice,
		Language:    cfg.Speech.Language,
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	return speaker.Speak(ctx, text)
}

func runPlay(ctx context.Context, path string, logger *slog.Logger) error {
	clip, err := wav.ReadFile(path)
	if err != nil {
		return err
	}

	profile := platform.Detect()

	device := audio.NewDevice(profile, audio.WithLogger(logger))
	device.MarkActivation()
	defer device.Close()

	logger.Info("Playing clip",
		slog.String("file", path),
		slog.Duration("duration", clip.Duration()))

	pb, err := device.Play(ctx, clip)
	if err != nil {
		return err
	}
	select {
	case <-pb.Done():
	case <-ctx.Done():
		pb.Stop()
	}
	return nil
}

// historyRecorder opens the transcript store when a path is configured.
// Persistence is supplementary: open or session failures log a warning and
// the conversation runs without it.
func historyRecorder(ctx context.Context, path string, logger *slog.Logger) (func(context.Context, agent.Turn) error, func()) {
	if path == "" {
		return nil, func() {}
	}

	store, err := history.Open(path, logger)
	if err != nil {
		logger.Warn("History store unavailable", slog.String("error", err.Error()))
		return nil, func() {}
	}
	sessionID, err := store.BeginSession(ctx)
	if err != nil {
		logger.Warn("History session unavailable", slog.String("error", err.Error()))
		store.Close()
		return nil, func() {}
	}

	record := func(ctx context.Context, t agent.Turn) error {
		return store.Append(ctx, sessionID, t.User, t.Assistant, string(t.Mood))
	}
	closer := func() {
		endCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.EndSession(endCtx, sessionID); err != nil {
			logger.Warn("History session not closed", slog.String("error", err.Error()))
		}
		store.Close()
	}
	return record, closer
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file path (default searches . and $HOME/.avatar-go)")

	voiceCmd.Flags().String("stt", "", "STT provider (deepgram, fake); default from config")
	voiceCmd.Flags().String("tts", "azure", "TTS provider (azure, fake)")
	voiceCmd.Flags().String("llm", "openai", "LLM provider (openai, fake)")
	voiceCmd.Flags().String("renderer", "console", "Avatar renderer (console, fake, none)")
	voiceCmd.Flags().Bool("metrics", false, "Enable metrics server on port 8080")

	chatCmd.Flags().String("tts", "azure", "TTS provider (azure, fake)")
	chatCmd.Flags().String("llm", "openai", "LLM provider (openai, fake)")
	chatCmd.Flags().String("renderer", "console", "Avatar renderer (console, fake, none)")
	chatCmd.Flags().Bool("metrics", false, "Enable metrics server on port 8080")

	sayCmd.Flags().String("tts", "azure", "TTS provider (azure, fake)")
	sayCmd.Flags().String("renderer", "none", "Avatar renderer (console, fake, none)")
	sayCmd.Flags().String("out", "", "Write the utterance to a WAV file instead of playing it")

	pluginCmd.AddCommand(pluginListCmd)
	rootCmd.AddCommand(versionCmd, voiceCmd, chatCmd, sayCmd, playCmd, pluginCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
