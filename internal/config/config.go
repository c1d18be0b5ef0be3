package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

func init() {
	// Auto-load .env file if present (don't override existing env vars)
	loadDotEnv(".env")
}

func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(strings.TrimPrefix(line, "export "), "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		val = strings.TrimSpace(val)
		// Remove surrounding quotes
		if len(val) >= 2 && ((val[0] == '"' && val[len(val)-1] == '"') || (val[0] == '\'' && val[len(val)-1] == '\'')) {
			val = val[1 : len(val)-1]
		}
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

const (
	defaultPort        = "4300"
	defaultEnvironment = "development"
	defaultLogLevel    = "info"
	defaultDataDir     = "./data"

	defaultApprovalTTL           = 24 * time.Hour
	defaultApprovalSweepInterval = time.Minute
	defaultAdminSessionTTL       = 12 * time.Hour

	defaultModerationTimeout       = 10 * time.Minute
	defaultModerationDefaultAction = "reject"
	defaultModerationMaxPending    = 100

	defaultChannelRateLimit  = 30
	defaultChannelRateWindow = time.Minute

	defaultBootstrapMaxChars = 20000
)

type Config struct {
	Port          string
	DatabaseURL   string
	Environment   string
	LogLevel      string
	DataDir       string
	WorkspaceRoot string
	ConfigPath    string

	Approvals  ApprovalConfig
	Admin      AdminConfig
	Moderation ModerationConfig
	RateLimit  RateLimitConfig
	DingTalk   DingTalkConfig

	// AllowedOrigins feeds CORS and the websocket origin check. Same-origin
	// requests are always accepted.
	AllowedOrigins    []string
	MetricsEnabled    bool
	BootstrapMaxChars int
}

type ApprovalConfig struct {
	DefaultTTL    time.Duration
	SweepInterval time.Duration
	// Dir holds one JSON file per request when no database is configured.
	Dir string
}

type AdminConfig struct {
	SessionTTL        time.Duration
	BootstrapUsername string
	BootstrapPassword string
}

type ModerationConfig struct {
	Timeout       time.Duration
	DefaultAction string
	MaxPending    int
}

type RateLimitConfig struct {
	RedisURL string
	// PerSender is the number of inbound messages one sender may push through
	// one channel per Window. Zero disables limiting.
	PerSender int
	Window    time.Duration
}

type DingTalkConfig struct {
	AppSecret     string
	RobotWebhook  string
	RobotSecret   string
	CallbackToken string
}

// Enabled reports whether the DingTalk plugin has enough to verify callbacks.
func (c DingTalkConfig) Enabled() bool {
	return c.AppSecret != ""
}

func Load() (Config, error) {
	dataDir := firstNonEmpty(strings.TrimSpace(os.Getenv("OPENCLAW_DATA_DIR")), defaultDataDir)
	cfg := Config{
		Port:        firstNonEmpty(strings.TrimSpace(os.Getenv("PORT")), defaultPort),
		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		Environment: resolveEnvironment(),
		LogLevel:    strings.ToLower(firstNonEmpty(strings.TrimSpace(os.Getenv("LOG_LEVEL")), defaultLogLevel)),
		DataDir:     dataDir,
		WorkspaceRoot: firstNonEmpty(
			strings.TrimSpace(os.Getenv("OPENCLAW_WORKSPACE_ROOT")),
			filepath.Join(dataDir, "workspaces"),
		),
		ConfigPath: firstNonEmpty(
			strings.TrimSpace(os.Getenv("OPENCLAW_CONFIG_PATH")),
			filepath.Join(dataDir, "openclaw.json"),
		),
		Approvals: ApprovalConfig{
			Dir: filepath.Join(dataDir, "approvals"),
		},
		Admin: AdminConfig{
			BootstrapUsername: strings.TrimSpace(os.Getenv("ADMIN_BOOTSTRAP_USERNAME")),
			BootstrapPassword: os.Getenv("ADMIN_BOOTSTRAP_PASSWORD"),
		},
		Moderation: ModerationConfig{
			DefaultAction: strings.ToLower(firstNonEmpty(
				strings.TrimSpace(os.Getenv("MODERATION_DEFAULT_ACTION")),
				defaultModerationDefaultAction,
			)),
		},
		RateLimit: RateLimitConfig{
			RedisURL: strings.TrimSpace(os.Getenv("REDIS_URL")),
		},
		DingTalk: DingTalkConfig{
			AppSecret:     strings.TrimSpace(os.Getenv("DINGTALK_APP_SECRET")),
			RobotWebhook:  strings.TrimSpace(os.Getenv("DINGTALK_ROBOT_WEBHOOK")),
			RobotSecret:   strings.TrimSpace(os.Getenv("DINGTALK_ROBOT_SECRET")),
			CallbackToken: strings.TrimSpace(os.Getenv("DINGTALK_CALLBACK_TOKEN")),
		},
		AllowedOrigins: parseList(os.Getenv("CORS_ALLOWED_ORIGINS")),
	}

	var err error
	if cfg.Approvals.DefaultTTL, err = parseDuration("APPROVAL_DEFAULT_TTL", defaultApprovalTTL); err != nil {
		return Config{}, err
	}
	if cfg.Approvals.SweepInterval, err = parseDuration("APPROVAL_SWEEP_INTERVAL", defaultApprovalSweepInterval); err != nil {
		return Config{}, err
	}
	if cfg.Admin.SessionTTL, err = parseDuration("ADMIN_SESSION_TTL", defaultAdminSessionTTL); err != nil {
		return Config{}, err
	}
	if cfg.Moderation.Timeout, err = parseDuration("MODERATION_TIMEOUT", defaultModerationTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Moderation.MaxPending, err = parseInt("MODERATION_MAX_PENDING", defaultModerationMaxPending); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.PerSender, err = parseInt("CHANNEL_RATE_LIMIT", defaultChannelRateLimit); err != nil {
		return Config{}, err
	}
	if cfg.RateLimit.Window, err = parseDuration("CHANNEL_RATE_WINDOW", defaultChannelRateWindow); err != nil {
		return Config{}, err
	}
	if cfg.MetricsEnabled, err = parseBool("METRICS_ENABLED", true); err != nil {
		return Config{}, err
	}
	if cfg.BootstrapMaxChars, err = parseInt("BOOTSTRAP_MAX_CHARS", defaultBootstrapMaxChars); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric")
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error")
	}

	switch c.Moderation.DefaultAction {
	case "approve", "reject":
	default:
		return fmt.Errorf("MODERATION_DEFAULT_ACTION must be approve or reject")
	}

	if c.Moderation.MaxPending <= 0 {
		return fmt.Errorf("MODERATION_MAX_PENDING must be greater than zero")
	}

	if c.RateLimit.PerSender < 0 {
		return fmt.Errorf("CHANNEL_RATE_LIMIT must be greater than or equal to zero")
	}

	if c.BootstrapMaxChars <= 0 {
		return fmt.Errorf("BOOTSTRAP_MAX_CHARS must be greater than zero")
	}

	if (c.Admin.BootstrapUsername == "") != (c.Admin.BootstrapPassword == "") {
		return fmt.Errorf("ADMIN_BOOTSTRAP_USERNAME and ADMIN_BOOTSTRAP_PASSWORD must be set together")
	}

	if c.DingTalk.RobotSecret != "" && c.DingTalk.RobotWebhook == "" {
		return fmt.Errorf("DINGTALK_ROBOT_WEBHOOK is required when DINGTALK_ROBOT_SECRET is set")
	}

	if !isNonDevelopment(c.Environment) {
		return nil
	}

	if c.Admin.BootstrapPassword != "" && len(c.Admin.BootstrapPassword) < 12 {
		return fmt.Errorf("ADMIN_BOOTSTRAP_PASSWORD must be at least 12 characters in non-development environments")
	}

	return nil
}

// IsDevelopment reports whether the service runs in a local environment.
func (c Config) IsDevelopment() bool {
	return !isNonDevelopment(c.Environment)
}

func resolveEnvironment() string {
	return strings.ToLower(firstNonEmpty(
		strings.TrimSpace(os.Getenv("APP_ENV")),
		strings.TrimSpace(os.Getenv("ENVIRONMENT")),
		strings.TrimSpace(os.Getenv("GO_ENV")),
		defaultEnvironment,
	))
}

func isNonDevelopment(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "", "dev", "development", "local", "test":
		return false
	default:
		return true
	}
}

func parseBool(name string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	switch strings.ToLower(raw) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s must be a boolean value", name)
	}
}

func parseDuration(name string, defaultValue time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration: %w", name, err)
	}

	if parsed <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", name)
	}

	return parsed, nil
}

func parseInt(name string, defaultValue int) (int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return defaultValue, nil
	}

	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid integer: %w", name, err)
	}
	return parsed, nil
}

func parseList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
