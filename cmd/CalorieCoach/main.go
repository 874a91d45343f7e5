package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/BTreeMap/CalorieCoach/internal/api"
	"github.com/BTreeMap/CalorieCoach/internal/coach"
	"github.com/BTreeMap/CalorieCoach/internal/genai"
	"github.com/BTreeMap/CalorieCoach/internal/lockfile"
	"github.com/BTreeMap/CalorieCoach/internal/messaging"
	"github.com/BTreeMap/CalorieCoach/internal/models"
	"github.com/BTreeMap/CalorieCoach/internal/twiliowhatsapp"
	"github.com/BTreeMap/CalorieCoach/internal/util"
	"github.com/BTreeMap/CalorieCoach/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for CalorieCoach state data
	DefaultStateDir = "/var/lib/caloriecoach"
	// DefaultWhatsAppDBFileName is the default whatsmeow SQLite device store filename
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

// Chat channels selectable with COACH_CHANNEL.
const (
	ChannelNone     = "none"
	ChannelWhatsApp = "whatsapp"
	ChannelTwilio   = "twilio"
)

func main() {
	// Initialize structured logger
	initializeLogger(os.Getenv("COACH_LOG_LEVEL"))

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping CalorieCoach", "channel", *flags.channel, "provider", *flags.provider, "api_addr", *flags.apiAddr)
	if err := run(ctx, flags); err != nil {
		slog.Error("CalorieCoach failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("CalorieCoach exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir      string
	Provider      string
	GeminiKey     string
	OpenAIKey     string
	OpenAIBaseURL string
	Models        []string
	Estimator     string
	Output        string
	UseProfile    bool
	Debug         bool
	MaxSessions   int
	APIAddr       string
	CORSOrigins   []string
	Channel       string
	WhatsAppDSN   string
	TwilioSID     string
	TwilioToken   string
	TwilioFrom    string
	TwilioHookURL string
}

// Flags holds command line flag values
type Flags struct {
	qrOutput      *string
	numeric       *bool
	stateDir      *string
	provider      *string
	apiKey        *string
	baseURL       *string
	models        *string
	estimator     *string
	output        *string
	useProfile    *bool
	debug         *bool
	maxSessions   *int
	apiAddr       *string
	corsOrigins   *string
	channel       *string
	whatsappDSN   *string
	twilioSID     *string
	twilioToken   *string
	twilioFrom    *string
	twilioHookURL *string
	turnTimeout   *time.Duration
}

// parseLogLevel maps COACH_LOG_LEVEL to a slog level. Unknown values keep debug.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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

// initializeLogger sets up structured logging; the level defaults to debug
func initializeLogger(level string) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(level)}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	def := coach.DefaultConfig()
	config := Config{
		StateDir:      os.Getenv("COACH_STATE_DIR"),
		Provider:      os.Getenv("COACH_PROVIDER"),
		GeminiKey:     os.Getenv("GEMINI_API_KEY"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),
		Models:        util.ParseListEnv("COACH_MODELS"),
		Estimator:     os.Getenv("COACH_ESTIMATOR"),
		Output:        os.Getenv("COACH_OUTPUT"),
		UseProfile:    util.ParseBoolEnv("COACH_USE_PROFILE", def.UseProfile),
		Debug:         util.ParseBoolEnv("COACH_DEBUG", false),
		MaxSessions:   util.ParseIntEnv("COACH_MAX_SESSIONS", coach.DefaultMaxSessions),
		APIAddr:       os.Getenv("API_ADDR"),
		CORSOrigins:   util.ParseListEnv("COACH_CORS_ORIGINS"),
		Channel:       strings.ToLower(strings.TrimSpace(os.Getenv("COACH_CHANNEL"))),
		WhatsAppDSN:   os.Getenv("WHATSAPP_DB_DSN"),
		TwilioSID:     os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:    os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioHookURL: os.Getenv("TWILIO_WEBHOOK_URL"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No COACH_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.Provider == "" {
		config.Provider = genai.ProviderGemini
	}
	if config.Estimator == "" {
		config.Estimator = string(def.Estimator)
	}
	if config.Output == "" {
		config.Output = string(def.Output)
	}
	if config.APIAddr == "" {
		config.APIAddr = api.DefaultAddr
	}
	if config.Channel == "" {
		config.Channel = ChannelNone
	}

	slog.Debug("environment variables loaded",
		"COACH_STATE_DIR", config.StateDir,
		"COACH_PROVIDER", config.Provider,
		"GEMINI_API_KEY_SET", config.GeminiKey != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_BASE_URL", config.OpenAIBaseURL,
		"COACH_MODELS", config.Models,
		"COACH_ESTIMATOR", config.Estimator,
		"COACH_OUTPUT", config.Output,
		"COACH_USE_PROFILE", config.UseProfile,
		"COACH_DEBUG", config.Debug,
		"COACH_MAX_SESSIONS", config.MaxSessions,
		"API_ADDR", config.APIAddr,
		"COACH_CHANNEL", config.Channel,
		"WHATSAPP_DB_DSN_SET", config.WhatsAppDSN != "",
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"TWILIO_WEBHOOK_URL", config.TwilioHookURL)

	return config
}

// apiKeyFor picks the key matching the provider.
func (c Config) apiKeyFor(provider string) string {
	if strings.EqualFold(strings.TrimSpace(provider), genai.ProviderOpenAI) {
		return c.OpenAIKey
	}
	return c.GeminiKey
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		qrOutput:      fs.String("qr-output", "", "path to write the WhatsApp login QR code"),
		numeric:       fs.Bool("numeric-code", false, "print the raw WhatsApp pairing code instead of a QR code"),
		stateDir:      fs.String("state-dir", config.StateDir, "state directory for CalorieCoach data (overrides $COACH_STATE_DIR)"),
		provider:      fs.String("provider", config.Provider, "completion provider: gemini or openai (overrides $COACH_PROVIDER)"),
		apiKey:        fs.String("api-key", "", "provider API key (overrides $GEMINI_API_KEY / $OPENAI_API_KEY)"),
		baseURL:       fs.String("base-url", config.OpenAIBaseURL, "OpenAI-compatible endpoint (overrides $OPENAI_BASE_URL)"),
		models:        fs.String("models", strings.Join(config.Models, ","), "comma-separated candidate models (overrides $COACH_MODELS)"),
		estimator:     fs.String("estimator", config.Estimator, "calorie estimator: none, inline or tool (overrides $COACH_ESTIMATOR)"),
		output:        fs.String("output", config.Output, "reply format: text or structured (overrides $COACH_OUTPUT)"),
		useProfile:    fs.Bool("use-profile", config.UseProfile, "include the user profile in prompts (overrides $COACH_USE_PROFILE)"),
		debug:         fs.Bool("debug", config.Debug, "write every completion call to <state-dir>/debug (overrides $COACH_DEBUG)"),
		maxSessions:   fs.Int("max-sessions", config.MaxSessions, "maximum live sessions (overrides $COACH_MAX_SESSIONS)"),
		apiAddr:       fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		corsOrigins:   fs.String("cors-origins", strings.Join(config.CORSOrigins, ","), "comma-separated allowed CORS origins (overrides $COACH_CORS_ORIGINS)"),
		channel:       fs.String("channel", config.Channel, "chat channel: none, whatsapp or twilio (overrides $COACH_CHANNEL)"),
		whatsappDSN:   fs.String("whatsapp-db-dsn", config.WhatsAppDSN, "whatsmeow device store DSN (overrides $WHATSAPP_DB_DSN)"),
		twilioSID:     fs.String("twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)"),
		twilioToken:   fs.String("twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)"),
		twilioFrom:    fs.String("twilio-from", config.TwilioFrom, "Twilio WhatsApp sender number (overrides $TWILIO_FROM_NUMBER)"),
		twilioHookURL: fs.String("twilio-webhook-url", config.TwilioHookURL, "public webhook URL for Twilio signature checks (overrides $TWILIO_WEBHOOK_URL)"),
		turnTimeout:   fs.Duration("turn-timeout", messaging.DefaultTurnTimeout, "time limit for one chat coaching turn"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	if *flags.apiKey == "" {
		*flags.apiKey = config.apiKeyFor(*flags.provider)
	}
	*flags.channel = strings.ToLower(strings.TrimSpace(*flags.channel))

	// The device store follows the state directory unless a DSN was given.
	if *flags.whatsappDSN == "" {
		*flags.whatsappDSN = whatsapp.SQLiteDSN(filepath.Join(*flags.stateDir, DefaultWhatsAppDBFileName))
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"provider", *flags.provider,
		"apiKeySet", *flags.apiKey != "",
		"models", *flags.models,
		"estimator", *flags.estimator,
		"output", *flags.output,
		"useProfile", *flags.useProfile,
		"debug", *flags.debug,
		"maxSessions", *flags.maxSessions,
		"apiAddr", *flags.apiAddr,
		"channel", *flags.channel,
		"turnTimeout", *flags.turnTimeout)

	return flags, nil
}

// ensureDirectoriesExist creates the state directory
func ensureDirectoriesExist(flags Flags) error {
	slog.Debug("Creating state directory", "state_dir", *flags.stateDir)
	if err := os.MkdirAll(*flags.stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", *flags.stateDir)
		return err
	}
	return nil
}

// buildPipelineConfig validates the estimator and output toggles
func buildPipelineConfig(flags Flags) (coach.Config, error) {
	estimator, err := coach.ParseEstimatorMode(*flags.estimator)
	if err != nil {
		return coach.Config{}, err
	}
	output, err := coach.ParseOutputMode(*flags.output)
	if err != nil {
		return coach.Config{}, err
	}
	return coach.Config{Estimator: estimator, Output: output, UseProfile: *flags.useProfile}, nil
}

// buildGenAIOptions constructs completion client options
func buildGenAIOptions(flags Flags) []genai.Option {
	genaiOpts := []genai.Option{genai.WithProvider(*flags.provider)}
	if *flags.apiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.apiKey))
	}
	if *flags.baseURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.baseURL))
	}
	if models := splitList(*flags.models); len(models) > 0 {
		genaiOpts = append(genaiOpts, genai.WithModels(models...))
	}
	if *flags.debug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true), genai.WithStateDir(*flags.stateDir))
	}
	return genaiOpts
}

// buildAPIOptions constructs API server options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if origins := splitList(*flags.corsOrigins); len(origins) > 0 {
		apiOpts = append(apiOpts, api.WithCORSOrigins(origins))
	}
	return apiOpts
}

// buildWhatsAppOptions constructs WhatsApp client options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	waOpts := []whatsapp.Option{whatsapp.WithDBDSN(*flags.whatsappDSN)}
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if level := os.Getenv("COACH_LOG_LEVEL"); level != "" {
		waOpts = append(waOpts, whatsapp.WithLogLevel(strings.ToUpper(level)))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio client options
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	return []twiliowhatsapp.Option{
		twiliowhatsapp.WithAccountSID(*flags.twilioSID),
		twiliowhatsapp.WithAuthToken(*flags.twilioToken),
		twiliowhatsapp.WithFromWhats(*flags.twilioFrom),
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// channel is a started chat channel and the webhook it exposes, if any.
type channel struct {
	svc     messaging.Service
	webhook http.HandlerFunc
}

// openChannel connects the configured chat channel. ChannelNone yields a nil service.
func openChannel(ctx context.Context, flags Flags) (channel, error) {
	switch *flags.channel {
	case ChannelNone:
		return channel{}, nil
	case ChannelWhatsApp:
		client, err := whatsapp.NewClient(ctx, buildWhatsAppOptions(flags)...)
		if err != nil {
			return channel{}, fmt.Errorf("failed to connect WhatsApp: %w", err)
		}
		return channel{svc: messaging.NewWhatsAppService(client)}, nil
	case ChannelTwilio:
		client, err := twiliowhatsapp.NewClient(buildTwilioOptions(flags)...)
		if err != nil {
			return channel{}, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		var opts []messaging.TwilioOption
		if *flags.twilioHookURL != "" {
			opts = append(opts, messaging.WithSignatureValidation(client, *flags.twilioHookURL))
		} else {
			slog.Warn("openChannel: TWILIO_WEBHOOK_URL not set, webhook signatures are not checked")
		}
		svc := messaging.NewTwilioService(client, opts...)
		return channel{svc: svc, webhook: svc.WebhookHandler}, nil
	default:
		return channel{}, fmt.Errorf("unknown channel %q (want %s, %s or %s)", *flags.channel, ChannelNone, ChannelWhatsApp, ChannelTwilio)
	}
}

// logReceipts drains delivery receipts so senders never wait on the channel.
func logReceipts(receipts <-chan models.Receipt) {
	for r := range receipts {
		if r.Status == models.MessageStatusFailed {
			slog.Warn("message delivery failed", "to", r.To, "time", r.Time)
			continue
		}
		slog.Debug("message receipt", "to", r.To, "status", r.Status)
	}
}

// run wires the pipeline, the optional chat channel and the API server, and blocks
// until ctx is cancelled or the server fails.
func run(ctx context.Context, flags Flags) error {
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	cfg, err := buildPipelineConfig(flags)
	if err != nil {
		return err
	}
	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}
	orchestrator, err := coach.NewOrchestrator(client, cfg)
	if err != nil {
		return err
	}
	sessions, err := coach.NewSessionStore(*flags.maxSessions)
	if err != nil {
		return err
	}

	ch, err := openChannel(ctx, flags)
	if err != nil {
		return err
	}
	apiOpts := buildAPIOptions(flags)
	if ch.webhook != nil {
		apiOpts = append(apiOpts, api.WithWebhook(ch.webhook))
	}

	if ch.svc != nil {
		if err := ch.svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start messaging service: %w", err)
		}
		go logReceipts(ch.svc.Receipts())
		handler := messaging.NewChatHandler(ch.svc, sessions, orchestrator, *flags.turnTimeout)
		handler.Start(ctx)
		defer func() {
			if err := ch.svc.Stop(); err != nil {
				slog.Warn("run: failed to stop messaging service", "error", err)
			}
			handler.Wait()
		}()
	}

	return api.NewServer(sessions, orchestrator, apiOpts...).Run(ctx)
}
