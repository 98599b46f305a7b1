package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ami4go/ICAPP/internal/api"
	"github.com/ami4go/ICAPP/internal/casegen"
	"github.com/ami4go/ICAPP/internal/flow"
	"github.com/ami4go/ICAPP/internal/genai"
	"github.com/ami4go/ICAPP/internal/lockfile"
	"github.com/ami4go/ICAPP/internal/prompt"
	"github.com/ami4go/ICAPP/internal/store"
	"github.com/ami4go/ICAPP/internal/util"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ICAPP state data
	DefaultStateDir = "./state"
	// DefaultDBFileName is the default SQLite history archive filename
	DefaultDBFileName = "icapp.db"
)

func main() {
	initializeLogger(os.Getenv("LOG_LEVEL"), os.Stdout)

	config := loadEnvironmentConfig()
	if err := newRootCmd(config).ExecuteContext(context.Background()); err != nil {
		slog.Error("ICAPP failed to run", "error", err)
		os.Exit(1)
	}
}

// Config holds environment configuration
type Config struct {
	Provider           string
	APIKeys            []string
	BaseURL            string
	FastModel          string
	QualityModel       string
	CaseGenTimeout     time.Duration
	CaseGenTemperature float64
	TurnTemperature    float64
	StrictStatus       bool
	ExposeCaseDebug    bool
	IdleTimeout        time.Duration
	APIAddr            string
	DatabaseURL        string
	StateDir           string
}

// initializeLogger sets up structured logging. Unknown levels fall back to debug.
func initializeLogger(level string, w io.Writer) {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		Provider:           strings.ToLower(strings.TrimSpace(os.Getenv("LLM_PROVIDER"))),
		APIKeys:            util.ParseListEnv("LLM_API_KEYS"),
		BaseURL:            os.Getenv("LLM_BASE_URL"),
		FastModel:          os.Getenv("LLM_FAST_MODEL"),
		QualityModel:       os.Getenv("LLM_QUALITY_MODEL"),
		CaseGenTimeout:     util.ParseDurationEnv("CASEGEN_TIMEOUT", casegen.DefaultTimeout),
		CaseGenTemperature: util.ParseFloatEnv("CASEGEN_TEMPERATURE", casegen.DefaultTemperature),
		TurnTemperature:    util.ParseFloatEnv("TURN_TEMPERATURE", flow.DefaultTurnTemperature),
		StrictStatus:       util.ParseBoolEnv("STRICT_STATUS", false),
		ExposeCaseDebug:    util.ParseBoolEnv("EXPOSE_CASE_DEBUG", false),
		IdleTimeout:        util.ParseDurationEnv("SESSION_IDLE_TIMEOUT", flow.DefaultIdleTimeout),
		APIAddr:            os.Getenv("API_ADDR"),
		DatabaseURL:        os.Getenv("DATABASE_URL"),
		StateDir:           os.Getenv("ICAPP_STATE_DIR"),
	}

	if config.Provider == "" {
		config.Provider = genai.ProviderOpenAI
	}

	// Single-key variables are only consulted when no pool is configured.
	if len(config.APIKeys) == 0 {
		config.APIKeys = singleKeyFallback(config.Provider)
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No ICAPP_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("ICAPP_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"LLM_PROVIDER", config.Provider,
		"LLM_API_KEYS_COUNT", len(config.APIKeys),
		"LLM_BASE_URL_SET", config.BaseURL != "",
		"CASEGEN_TIMEOUT", config.CaseGenTimeout,
		"TURN_TEMPERATURE", config.TurnTemperature,
		"STRICT_STATUS", config.StrictStatus,
		"EXPOSE_CASE_DEBUG", config.ExposeCaseDebug,
		"SESSION_IDLE_TIMEOUT", config.IdleTimeout,
		"API_ADDR", config.APIAddr,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"ICAPP_STATE_DIR", config.StateDir)

	return config
}

func singleKeyFallback(provider string) []string {
	names := []string{"GROQ_API_KEY", "OPENAI_API_KEY"}
	if provider == genai.ProviderGemini {
		names = []string{"GEMINI_API_KEY"}
	}
	for _, name := range names {
		if key := strings.TrimSpace(os.Getenv(name)); key != "" {
			slog.Debug("Using single API key from environment", "variable", name)
			return []string{key}
		}
	}
	return nil
}

// newRootCmd builds the icapp command tree. Flags default to the environment values.
func newRootCmd(config Config) *cobra.Command {
	cfg := config
	root := &cobra.Command{
		Use:   "icapp",
		Short: "Virtual patient for clinical interview practice",
		Long: `ICAPP simulates a patient that a doctor interviews in free text.

Each session starts from a freshly generated patient case. The patient
reveals symptoms as the doctor asks about them and tracks the status of
the consultation until it is resolved, treated, or abandoned.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfg.StateDir, "state-dir", cfg.StateDir, "state directory for ICAPP data (overrides $ICAPP_STATE_DIR)")
	pf.StringVar(&cfg.DatabaseURL, "db-dsn", cfg.DatabaseURL, "history archive DSN: SQLite path, postgres:// or mysql (overrides $DATABASE_URL)")
	pf.StringVar(&cfg.Provider, "provider", cfg.Provider, "model provider: openai or gemini (overrides $LLM_PROVIDER)")
	pf.BoolVar(&cfg.StrictStatus, "strict-status", cfg.StrictStatus, "only accept resolved after a farewell from the doctor (overrides $STRICT_STATUS)")

	// A moved state dir carries the default SQLite archive with it.
	root.PersistentPreRun = func(cmd *cobra.Command, _ []string) {
		flags := cmd.Flags()
		if flags.Changed("state-dir") && !flags.Changed("db-dsn") && cfg.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) {
			cfg.DatabaseURL = filepath.Join(cfg.StateDir, DefaultDBFileName)
			slog.Debug("Updated database DSN based on state directory", "state_dir", cfg.StateDir)
		}
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
	serveCmd.Flags().StringVar(&cfg.APIAddr, "api-addr", cfg.APIAddr, "API server address (overrides $API_ADDR)")
	serveCmd.Flags().BoolVar(&cfg.ExposeCaseDebug, "expose-case", cfg.ExposeCaseDebug, "include the hidden case in session views (overrides $EXPOSE_CASE_DEBUG)")
	serveCmd.Flags().DurationVar(&cfg.IdleTimeout, "idle-timeout", cfg.IdleTimeout, "abandon sessions idle for this long, 0 disables (overrides $SESSION_IDLE_TIMEOUT)")

	var doctor string
	chatCmd := &cobra.Command{
		Use:   "chat",
		Short: "Interview a freshly generated patient in the terminal",
		Long: `Start a consultation in the terminal.

Type questions for the patient. Commands:
  /state - print the current session state
  /end   - end the consultation and archive it`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChatCommand(cmd.Context(), cfg, doctor, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	chatCmd.Flags().StringVar(&doctor, "doctor", "", "doctor username recorded in the history archive")

	root.AddCommand(serveCmd, chatCmd)
	return root
}

// app bundles the components shared by serve and chat.
type app struct {
	coord   *flow.Coordinator
	history store.Store
	lock    *lockfile.Lock
}

// Close stops the coordinator, closes the archive and releases the lock.
func (a *app) Close() {
	a.coord.Close()
	if err := a.history.Close(); err != nil {
		slog.Warn("app.Close: failed to close history store", "error", err)
	}
	if err := a.lock.Release(); err != nil {
		slog.Warn("app.Close: failed to release lock", "error", err)
	}
}

// bootstrap acquires the state directory lock and wires the components.
func bootstrap(cfg Config, coordOpts ...flow.CoordinatorOption) (*app, error) {
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(buildGenAIOptions(cfg)...)
	if err != nil {
		_ = lock.Release()
		if errors.Is(err, genai.ErrNoCredentials) {
			return nil, fmt.Errorf("%w: set LLM_API_KEYS or a provider key variable", err)
		}
		return nil, err
	}

	gen, err := casegen.NewGenerator(client, buildCaseGenOptions(cfg)...)
	if err != nil {
		_ = lock.Release()
		return nil, err
	}

	history, err := store.Open(cfg.DatabaseURL)
	if err != nil {
		_ = lock.Release()
		return nil, fmt.Errorf("failed to open history store: %w", err)
	}

	engine := flow.NewEngine(client, prompt.MustNewCompiler(), buildEngineOptions(cfg)...)
	opts := append(buildCoordinatorOptions(cfg, history), coordOpts...)
	coord := flow.NewCoordinator(gen, engine, opts...)

	slog.Info("Bootstrapping ICAPP with configured modules", "provider", cfg.Provider, "dsn_type", store.DetectDSNType(cfg.DatabaseURL), "state_dir", cfg.StateDir)
	return &app{coord: coord, history: history, lock: lock}, nil
}

func runServe(ctx context.Context, cfg Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	server := api.NewServer(a.coord, a.history, buildAPIOptions(cfg)...)
	if err := server.Run(ctx); err != nil {
		return err
	}
	slog.Info("ICAPP exited successfully")
	return nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(cfg Config) []genai.Option {
	genaiOpts := []genai.Option{genai.WithProvider(cfg.Provider)}
	if len(cfg.APIKeys) > 0 {
		genaiOpts = append(genaiOpts, genai.WithAPIKeys(cfg.APIKeys))
	}
	if cfg.BaseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(cfg.BaseURL))
	}
	if cfg.FastModel != "" {
		genaiOpts = append(genaiOpts, genai.WithFastModel(cfg.FastModel))
	}
	if cfg.QualityModel != "" {
		genaiOpts = append(genaiOpts, genai.WithQualityModel(cfg.QualityModel))
	}
	return genaiOpts
}

// buildCaseGenOptions constructs case generator options
func buildCaseGenOptions(cfg Config) []casegen.Option {
	return []casegen.Option{
		casegen.WithTemperature(cfg.CaseGenTemperature),
		casegen.WithTimeout(cfg.CaseGenTimeout),
	}
}

// buildEngineOptions constructs conversation engine options
func buildEngineOptions(cfg Config) []flow.EngineOption {
	return []flow.EngineOption{
		flow.WithTurnTemperature(cfg.TurnTemperature),
		flow.WithStrictStatus(cfg.StrictStatus),
	}
}

// buildCoordinatorOptions constructs session coordinator options
func buildCoordinatorOptions(cfg Config, history store.Store) []flow.CoordinatorOption {
	return []flow.CoordinatorOption{
		flow.WithArchive(history),
		flow.WithIdleTimeout(cfg.IdleTimeout),
		flow.WithExposeCase(cfg.ExposeCaseDebug),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(cfg Config) []api.Option {
	var apiOpts []api.Option
	if cfg.APIAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(cfg.APIAddr))
	}
	return apiOpts
}
