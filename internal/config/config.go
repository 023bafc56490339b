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
	KeyTelegramToken  = "TELEGRAM_TOKEN"
	KeyAdminID        = "ADMIN_ID"
	KeyMongoURI       = "MONGO_URI"
	KeyMongoDB        = "MONGO_DB"
	KeyAppEnv         = "APP_ENV"
	KeyLogLevel       = "LOG_LEVEL"
	KeyHTTPPort       = "HTTP_PORT"
	KeyDomainMapFile  = "DOMAIN_MAP_FILE"
	KeyEventTimeout   = "EVENT_TIMEOUT"
	KeyMaxConcurrency = "MAX_CONCURRENCY"

	// Allowed environment values.
	EnvDevelopment = "development"
	EnvProduction  = "production"

	// Defaults for optional settings.
	DefaultAppEnv         = EnvProduction
	DefaultLogLevel       = "info"
	DefaultHTTPPort       = 8080
	DefaultEventTimeout   = 30 * time.Second
	DefaultMaxConcurrency = 8

	// Recommended database names by environment.
	DefaultMongoDBProd = "link_relay"
	DefaultMongoDBDev  = "link_relay_dev"
)

// VarSpec describes a single configuration key.
type VarSpec struct {
	Key         string // environment variable name
	Example     string // human-friendly sample value
	Required    bool   // whether the bot must refuse to start without this value
	Default     string // default when unset (empty when required)
	Description string // what the variable controls
	Notes       string // extra guidance or policies
}

// Contract enumerates the authoritative configuration keys for the bot.
// .env loading is only permitted when APP_ENV=development; production must rely
// on environment variables supplied by the runtime.
var Contract = []VarSpec{
	{
		Key:         KeyTelegramToken,
		Example:     "123:ABC",
		Required:    true,
		Description: "Telegram Bot Token issued by BotFather.",
	},
	{
		Key:         KeyAdminID,
		Example:     "123456789",
		Required:    true,
		Description: "Telegram user_id of the single administrator.",
		Notes:       "Only this user may manage groups, and only groups this user adds the bot to are auto-authorized.",
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
		Description: "HTTP health/diagnostics port.",
	},
	{
		Key:         KeyDomainMapFile,
		Example:     "config/domains.yaml",
		Description: "YAML file with the ordered domain mapping table.",
		Notes:       "When unset the built-in instagram/twitter/x/tiktok table is used.",
	},
	{
		Key:         KeyEventTimeout,
		Example:     DefaultEventTimeout.String(),
		Default:     DefaultEventTimeout.String(),
		Description: "Deadline for processing a single Telegram update.",
	},
	{
		Key:         KeyMaxConcurrency,
		Example:     strconv.Itoa(DefaultMaxConcurrency),
		Default:     strconv.Itoa(DefaultMaxConcurrency),
		Description: "Maximum number of updates processed at once across all chats.",
	},
}

// Config mirrors resolved configuration values after loading.
type Config struct {
	TelegramToken  string
	AdminID        int64
	MongoURI       string
	MongoDB        string
	AppEnv         string
	LogLevel       string
	HTTPPort       int
	DomainMapFile  string
	EventTimeout   time.Duration
	MaxConcurrency int
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
		AppEnv:         firstNonEmpty(normalizeEnv(os.Getenv(KeyAppEnv)), appEnv),
		TelegramToken:  strings.TrimSpace(os.Getenv(KeyTelegramToken)),
		MongoURI:       strings.TrimSpace(os.Getenv(KeyMongoURI)),
		MongoDB:        strings.TrimSpace(os.Getenv(KeyMongoDB)),
		LogLevel:       firstNonEmpty(strings.TrimSpace(os.Getenv(KeyLogLevel)), DefaultLogLevel),
		HTTPPort:       DefaultHTTPPort,
		DomainMapFile:  strings.TrimSpace(os.Getenv(KeyDomainMapFile)),
		EventTimeout:   DefaultEventTimeout,
		MaxConcurrency: DefaultMaxConcurrency,
	}

	if err := validateAppEnv(cfg.AppEnv); err != nil {
		return Config{}, err
	}

	missing := make([]string, 0)

	if cfg.TelegramToken == "" {
		missing = append(missing, KeyTelegramToken)
	}

	adminRaw := strings.TrimSpace(os.Getenv(KeyAdminID))
	if adminRaw == "" {
		missing = append(missing, KeyAdminID)
	} else {
		adminID, parseErr := strconv.ParseInt(adminRaw, 10, 64)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyAdminID, parseErr)
		}
		if adminID <= 0 {
			return Config{}, fmt.Errorf("%s must be a positive user id", KeyAdminID)
		}
		cfg.AdminID = adminID
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

	if err := validateMongoURI(cfg.MongoURI); err != nil {
		return Config{}, err
	}

	httpPortRaw := strings.TrimSpace(os.Getenv(KeyHTTPPort))
	if httpPortRaw != "" {
		port, parseErr := strconv.Atoi(httpPortRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyHTTPPort, parseErr)
		}
		if port <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyHTTPPort)
		}
		cfg.HTTPPort = port
	}

	timeoutRaw := strings.TrimSpace(os.Getenv(KeyEventTimeout))
	if timeoutRaw != "" {
		timeout, parseErr := time.ParseDuration(timeoutRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyEventTimeout, parseErr)
		}
		if timeout <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyEventTimeout)
		}
		cfg.EventTimeout = timeout
	}

	concurrencyRaw := strings.TrimSpace(os.Getenv(KeyMaxConcurrency))
	if concurrencyRaw != "" {
		limit, parseErr := strconv.Atoi(concurrencyRaw)
		if parseErr != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", KeyMaxConcurrency, parseErr)
		}
		if limit <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than 0", KeyMaxConcurrency)
		}
		cfg.MaxConcurrency = limit
	}

	return cfg, nil
}

// IsDevelopment reports if APP_ENV is development.
func (c Config) IsDevelopment() bool {
	return c.AppEnv == EnvDevelopment
}

// FormatRedacted renders the configuration with secrets masked.
func FormatRedacted(cfg Config) string {
	domainMap := cfg.DomainMapFile
	if domainMap == "" {
		domainMap = "(built-in)"
	}

	lines := []string{
		"telegram_token: " + redactToken(cfg.TelegramToken),
		"admin_id: " + strconv.FormatInt(cfg.AdminID, 10),
		"mongo_uri: " + redactMongoURI(cfg.MongoURI),
		"mongo_db: " + cfg.MongoDB,
		"app_env: " + cfg.AppEnv,
		"log_level: " + cfg.LogLevel,
		"http_port: " + strconv.Itoa(cfg.HTTPPort),
		"domain_map_file: " + domainMap,
		"event_timeout: " + cfg.EventTimeout.String(),
		"max_concurrency: " + strconv.Itoa(cfg.MaxConcurrency),
	}

	return strings.Join(lines, "\n")
}

func redactToken(token string) string {
	token = strings.TrimSpace(token)
	if token == "" {
		return "(unset)"
	}
	if len(token) <= 4 {
		return "...redacted"
	}
	return token[:4] + "...redacted"
}

func redactMongoURI(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "(unparseable)"
	}
	parsed.User = nil
	return parsed.String()
}

func validateMongoURI(raw string) error {
	if !strings.HasPrefix(raw, "mongodb://") && !strings.HasPrefix(raw, "mongodb+srv://") {
		return fmt.Errorf("invalid %s: must start with mongodb:// or mongodb+srv://", KeyMongoURI)
	}
	return nil
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
