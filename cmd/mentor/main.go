package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edforge/mentor/internal/affect"
	"github.com/edforge/mentor/internal/analyzer"
	"github.com/edforge/mentor/internal/bkt"
	"github.com/edforge/mentor/internal/handler"
	appI18n "github.com/edforge/mentor/internal/i18n"
	"github.com/edforge/mentor/internal/llm"
	"github.com/edforge/mentor/internal/orchestrator"
	"github.com/edforge/mentor/internal/problemgen"
	"github.com/edforge/mentor/internal/sandbox"
	"github.com/edforge/mentor/internal/state"
	"github.com/edforge/mentor/internal/store"
	"github.com/edforge/mentor/internal/tutoring"
	"github.com/edforge/mentor/internal/viva"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "mentor",
		Short: "Intelligent tutoring backend: code analysis, hints, mastery tracking and viva sessions",
	}

	serve := serveCmd()
	root.AddCommand(serve)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tutoring HTTP service",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "mentor.db", "SQLite database path")
	f.String("llm-url", "", "OpenAI-compatible API base URL (empty = provider default)")
	f.String("llm-key", "", "API key for the LLM")
	f.String("llm-model", "gpt-4o-mini", "Chat model name")
	f.String("transcribe-model", "whisper-1", "Audio transcription model name")
	f.Duration("llm-deadline", 8*time.Second, "Per-attempt LLM deadline")
	f.String("sandbox-url", "", "Code execution sandbox base URL (empty = execution unknown)")
	f.String("mastery-url", "", "Remote mastery service base URL (empty = local only)")
	f.Duration("viva-timeout", viva.DefaultTimeout, "Viva inactivity timeout")
	f.Int("max-inflight", orchestrator.DefaultMaxInFlight, "Max concurrent submissions")
	f.StringP("lang", "l", "en", "Student-facing language")
	f.Float64("bkt-init", 0.1, "BKT prior mastery")
	f.Float64("bkt-learn", 0.1, "BKT learn probability")
	f.Float64("bkt-slip", 0.1, "BKT slip probability")
	f.Float64("bkt-guess", 0.2, "BKT guess probability")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func setupLogging(v *viper.Viper) {
	var level slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		h = slog.NewJSONHandler(os.Stderr, opts)
	default:
		h = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

// viperForCmd binds a command's flags and environment to a fresh viper
// instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("MENTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("mentor")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/mentor")
	v.AddConfigPath("/etc/mentor")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)
	setupLogging(v)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	if err := appI18n.Init(v.GetString("lang")); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	llmClient := llm.New(llm.Config{
		BaseURL:         v.GetString("llm-url"),
		APIKey:          v.GetString("llm-key"),
		Model:           v.GetString("llm-model"),
		TranscribeModel: v.GetString("transcribe-model"),
		Deadline:        v.GetDuration("llm-deadline"),
	})

	codeAnalyzer := analyzer.New()
	adapter := affect.NewAdapter()
	engine := bkt.NewEngine(bkt.Params{
		PInit:  v.GetFloat64("bkt-init"),
		PLearn: v.GetFloat64("bkt-learn"),
		PSlip:  v.GetFloat64("bkt-slip"),
		PGuess: v.GetFloat64("bkt-guess"),
	})
	vivaEngine := viva.NewEngine(codeAnalyzer, llmClient, db, v.GetDuration("viva-timeout"))

	orch := orchestrator.New(orchestrator.Config{
		Analyzer:    codeAnalyzer,
		Sandbox:     sandbox.New(v.GetString("sandbox-url"), 0),
		Affect:      adapter,
		BKT:         engine,
		Remote:      bkt.NewRemoteClient(v.GetString("mastery-url"), 5*time.Second),
		Hints:       tutoring.NewGenerator(llmClient),
		Viva:        vivaEngine,
		Store:       db,
		Registry:    state.NewRegistry(),
		MaxInFlight: v.GetInt("max-inflight"),
	})

	h := handler.New(orch, vivaEngine, adapter, engine, problemgen.New(llmClient))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"model", v.GetString("llm-model"),
		"sandbox_url", v.GetString("sandbox-url"),
		"mastery_url", v.GetString("mastery-url"),
		"max_inflight", v.GetInt("max-inflight"),
	)
	return http.ListenAndServe(addr, r)
}
