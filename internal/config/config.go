// Package config defines the configuration contract and handles loading and validating environment configuration.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	// Canonical environment variable keys.
	KeyTelegramToken   = "TELEGRAM_TOKEN"
	KeyTelegramAPIURL  = "TELEGRAM_API_URL"
	KeyTelegramTimeout = "TELEGRAM_TIMEOUT"
	KeyUpdatesLimit    = "UPDATES_LIMIT"
	KeyUpdatesTimeout  = "UPDATES_TIMEOUT"
	KeyCodePrefix      = "CODE_PREFIX"
	KeyProbeChannels   = "PROBE_CHANNELS"
	KeyMongoURI        = "MONGO_URI"
	KeyMongoDB         = "MONGO_DB"
	KeyAppEnv          = "APP_ENV"
	KeyLogLevel        = "LOG_LEVEL"
	KeyHTTPPort        = "HTTP_PORT"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv          = EnvProduction
	DefaultLogLevel        = "info"
	DefaultHTTPPort        = 8080
	DefaultTelegramAPIURL  = "https://api.telegram.org"
	DefaultTelegramTimeout = 10 * time.Second
	DefaultUpdatesLimit    = 100
	DefaultUpdatesTimeout  = time.Second
	DefaultCodePrefix      = "MBF_"
	DefaultProbeChannels   = "@telegram,@durov"

	// Telegram caps getUpdates at 100 results per call.
	maxUpdatesLimit = 100

	// Recommended database names by environment.
	DefaultMongoDBProd = "membify"
	DefaultMongoDBDev  = "membify_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the service must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the service.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Platform default Telegram bot token issued by BotFather.",
		Notes:       "Used for verification unless the account opted into a custom bot.",
	},
	{
		Key:         KeyTelegramAPIURL,
		Example:     DefaultTelegramAPIURL,
		Default:     DefaultTelegramAPIURL,
		Description: "Base URL of the Telegram Bot API.",
	},
	{
		Key:         KeyTelegramTimeout,
		Example:     DefaultTelegramTimeout.String(),
		Default:     DefaultTelegramTimeout.String(),
		Description: "HTTP client timeout for a single Telegram Bot API call.",
	},
	{
		Key:         KeyUpdatesLimit,
		Example:     strconv.Itoa(DefaultUpdatesLimit),
		Default:     strconv.Itoa(DefaultUpdatesLimit),
		Description: "Maximum number of updates fetched per verification attempt (1-100).",
	},
	{
		Key:         KeyUpdatesTimeout,
		Example:     DefaultUpdatesTimeout.String(),
		Default:     DefaultUpdatesTimeout.String(),
		Description: "Server-side long poll wait for getUpdates.",
		Notes:       "Must stay below " + KeyTelegramTimeout + ".",
	},
	{
		Key:         KeyCodePrefix,
		Example:     DefaultCodePrefix,
		Default:     DefaultCodePrefix,
		Description: "Fixed prefix of issued verification codes.",
	},
	{
		Key:         KeyProbeChannels,
		Example:     DefaultProbeChannels,
		Default:     DefaultProbeChannels,
		Description: "Comma separated public channel handles probed when a custom bot shows no chats.",
	},
	{
		Key:         KeyMongoURI,
		Example:     "mongodb://localhost:27017",
		Required:    true,
		Description: "MongoDB connection string.",
	},
	{
		Key:         KeyMongoDB,
		Example:     DefaultMongoDBProd + " / " + DefaultMongoDBDev,
		Required:    true,
		Description: "MongoDB database name.",
		Notes:       "Recommended: production=" + DefaultMongoDBProd + ", development=" + DefaultMongoDBDev + ".",
	},
	{
		Key:         KeyAppEnv,
		Example:     EnvDevelopment + " / " + EnvProduction,
		Default:     DefaultAppEnv,
		Description: "Runtime environment; controls log format and dotenv usage.",
		Notes:       "Load .env files only when APP_ENV=" + EnvDevelopment + ".",
	},
	{
		Key:         KeyLogLevel,
		Example:     DefaultLogLevel,
		Default:     DefaultLogLevel,
		Description: "Overrides default log level.",
	},
	{
		Key:         KeyHTTPPort,
		Example:     strconv.Itoa(DefaultHTTPPort),
		Default:     strconv.Itoa(DefaultHTTPPort),
		Description: "HTTP API and health port.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken   string
	TelegramAPIURL  string
	TelegramTimeout time.Duration
	UpdatesLimit    int
	UpdatesTimeout  time.Duration
	CodePrefix      string
	ProbeChannels   []string
	MongoURI        string
	MongoDB         string
	AppEnv          string
	LogLevel        string
	HTTPPort        int
}

// Load resolves configuration from the environment (with optional dotenv in development).
func Load() (Config, error) {
	appEnv, err := resolveAppEnv()
	if err != nil {
		return Config{}, err
	}

	if err := loadDotEnv(appEnv); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppEnv:          firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:   strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		TelegramAPIURL:  strings.TrimRight(firstNonEmpty(os.Getenv(KeyTelegramAPIURL), DefaultTelegramAPIURL), "/"),
		TelegramTimeout: DefaultTelegramTimeout,
		UpdatesLimit:    DefaultUpdatesLimit,
		UpdatesTimeout:  DefaultUpdatesTimeout,
		CodePrefix:      firstNonEmpty(os.Getenv(KeyCodePrefix), DefaultCodePrefix),
		ProbeChannels:   splitList(firstNonEmpty(os.Getenv(KeyProbeChannels), DefaultProbeChannels)),
		MongoURI:        strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:         strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:        firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:        DefaultHTTPPort,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	if cfg.MongoURI == "" {
		missing = append(missing, KeyMongoURI)
	}

	if cfg.MongoDB == "" {
		missing = append(missing, KeyMongoDB)
	}

	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variable(s): %s", strings.Join(missing, ", "))
	}

	if !strings.HasPrefix(cfg.MongoURI, "mongodb://") && !strings.HasPrefix(cfg.MongoURI, "mongodb+srv://") {
		return Config{}, fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}

	if parsed, parseErr := url.Parse(cfg.TelegramAPIURL); parseErr != nil || parsed.Scheme == "" || parsed.Host == "" {
		return Config{}, fmt.Errorf("invalid %s: must be an absolute URL", KeyTelegramAPIURL)
	}

	if cfg.HTTPPort, err = positiveInt(KeyHTTPPort, DefaultHTTPPort); err != nil {
		return Config{}, err
	}

	if cfg.UpdatesLimit, err = positiveInt(KeyUpdatesLimit, DefaultUpdatesLimit); err != nil {
		return Config{}, err
	}
	if cfg.UpdatesLimit > maxUpdatesLimit {
		return Config{}, fmt.Errorf("%s must not exceed %d", KeyUpdatesLimit, maxUpdatesLimit)
	}

	if cfg.TelegramTimeout, err = positiveDuration(KeyTelegramTimeout, DefaultTelegramTimeout); err != nil {
		return Config{}, err
	}

	if cfg.UpdatesTimeout, err = positiveDuration(KeyUpdatesTimeout, DefaultUpdatesTimeout); err != nil {
		return Config{}, err
	}
	if cfg.UpdatesTimeout >= cfg.TelegramTimeout {
		return Config{}, fmt.Errorf("%s must be shorter than %s", KeyUpdatesTimeout, KeyTelegramTimeout)
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the resolved configuration with secrets masked, one
// key per line.
func FormatRedacted(cfg Config) string {
	lines := []string{
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"telegram_token: " + redactToken(cfg.TelegramToken),
		"telegram_api_url: " + cfg.TelegramAPIURL,
		"telegram_timeout: " + cfg.TelegramTimeout.String(),
		"updates_limit: " + strconv.Itoa(cfg.UpdatesLimit),
		"updates_timeout: " + cfg.UpdatesTimeout.String(),
		"code_prefix: " + cfg.CodePrefix,
		"probe_channels: " + strings.Join(cfg.ProbeChannels, ","),
		"mongo_uri: " + redactMongoURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
	}

	return strings.Join(lines, "\n")
}

func redactToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= 4 {
		return "redacted"
	}
	return token[:4] + "...redacted"
}

func redactMongoURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "redacted"
	}
	parsed.User = nil
	return parsed.String()
}

func positiveInt(key string, fallback int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, nil
}

func positiveDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}

	return value, nil
}

func resolveAppEnv() (string, error) {
	if explicit := normalizeEnv(os.Getenv(KeyAppEnv)); explicit != "" {
		return explicit, nil
	}

	dotEnvValues, err := godotenv.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultAppEnv, nil
		}
		return "", fmt.Errorf("read .env: %w", err)
	}

	if envFromFile := normalizeEnv(dotEnvValues[KeyAppEnv]); envFromFile != "" {
		return envFromFile, nil
	}

	return DefaultAppEnv, nil
}

func loadDotEnv(appEnv string) error {
	if appEnv != EnvDevelopment {
		return nil
	}

	if err := godotenv.Load(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load .env: %w", err)
	}

	return nil
}

func validateAppEnv(appEnv string) error {
	if appEnv == EnvDevelopment || appEnv == EnvProduction {
		return nil
	}

	return fmt.Errorf("invalid %s: must be %q or %q", KeyAppEnv, EnvDevelopment, EnvProduction)
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return strings.TrimSpace(val)
		}
	}
	return ""
}
