package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"not-you-kiosk/internal/demographics"
)

var ErrInvalidConfig = errors.New("invalid configuration")

const (
	DefaultNegativePrompt      = "cartoon, anime, drawing, painting, sketch, low quality, blurry, distorted"
	DefaultSampler             = "Euler a"
	DefaultHealthcheckSchedule = "@every 30s"
)

type API struct {
	BaseURL    string
	Username   string
	Password   string
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
}

// Generator holds the txt2img parameters sent with every request.
type Generator struct {
	Steps          int
	CFGScale       float64
	Sampler        string
	Width          int
	Height         int
	Seed           int64
	NegativePrompt string
}

type Config struct {
	API       API
	Generator Generator

	PromptPrefix string
	PromptSuffix string

	// Schema is the default field table unless the config file replaces it.
	Schema *demographics.Schema

	ArchiveDir       string
	MaxArchived      int
	PlaceholderImage string

	WebAddr string

	LogLevel string
	Debug    bool

	PreferIPv4 bool

	GenerationWorkers   int
	GenerationQueue     int
	FormDebounce        time.Duration
	HealthcheckSchedule string

	TelegramToken  string
	TelegramChatID int64

	// File is the overlay that was applied, empty when none.
	File string
}

// Load reads the environment and then overlays KIOSK_CONFIG when it is set.
func Load() (Config, error) {
	env := &envParser{}
	cfg := Config{
		API: API{
			BaseURL:    strings.TrimRight(strings.TrimSpace(os.Getenv("SD_API_BASE_URL")), "/"),
			Username:   strings.TrimSpace(os.Getenv("SD_API_USERNAME")),
			Password:   os.Getenv("SD_API_PASSWORD"),
			Timeout:    time.Duration(env.getEnvInt("SD_API_TIMEOUT_SECONDS", 30)) * time.Second,
			MaxRetries: env.getEnvInt("SD_MAX_RETRIES", 3),
			RetryDelay: time.Duration(env.getEnvInt("SD_RETRY_DELAY_MS", 500)) * time.Millisecond,
		},
		Generator: Generator{
			Steps:          env.getEnvInt("SD_STEPS", 5),
			CFGScale:       env.getEnvFloat("SD_CFG_SCALE", 2),
			Sampler:        getEnv("SD_SAMPLER", DefaultSampler),
			Width:          env.getEnvInt("SD_WIDTH", 512),
			Height:         env.getEnvInt("SD_HEIGHT", 512),
			Seed:           env.getEnvInt64("SD_SEED", -1),
			NegativePrompt: getEnv("SD_NEGATIVE_PROMPT", DefaultNegativePrompt),
		},
		PromptPrefix:        lookupEnv("PROMPT_PREFIX", demographics.DefaultPrefix),
		PromptSuffix:        lookupEnv("PROMPT_SUFFIX", demographics.DefaultSuffix),
		ArchiveDir:          getEnv("ARCHIVE_DIR", "generated_images"),
		MaxArchived:         env.getEnvInt("MAX_ARCHIVED_IMAGES", 100),
		PlaceholderImage:    strings.TrimSpace(os.Getenv("PLACEHOLDER_IMAGE")),
		WebAddr:             getEnv("WEB_ADDR", ":8080"),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", "info")),
		Debug:               env.getEnvBool("DEBUG", false),
		PreferIPv4:          env.getEnvBool("PREFER_IPV4", false),
		GenerationWorkers:   env.getEnvInt("GENERATION_WORKERS", 2),
		GenerationQueue:     env.getEnvInt("GENERATION_QUEUE", 16),
		FormDebounce:        time.Duration(env.getEnvInt("FORM_DEBOUNCE_MS", 100)) * time.Millisecond,
		HealthcheckSchedule: getEnv("HEALTHCHECK_SCHEDULE", DefaultHealthcheckSchedule),
		TelegramToken:       strings.TrimSpace(os.Getenv("TELEGRAM_BOT_TOKEN")),
		TelegramChatID:      env.getEnvInt64("TELEGRAM_CHAT_ID", 0),
	}
	if err := env.err(); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	var fields []demographics.Field
	if path := strings.TrimSpace(os.Getenv("KIOSK_CONFIG")); path != "" {
		fc, err := LoadFile(path)
		if err != nil {
			return Config{}, err
		}
		fc.apply(&cfg)
		fields = fc.Fields
		cfg.File = path
	}

	if len(fields) > 0 {
		schema, err := demographics.NewSchema(fields)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
		cfg.Schema = schema
	} else {
		cfg.Schema = demographics.DefaultSchema()
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	cfg.clamp()
	return cfg, nil
}

func (c Config) validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}

	if c.API.BaseURL == "" {
		return invalid("SD_API_BASE_URL is required")
	}
	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return invalid("SD_API_BASE_URL %q is not an http(s) url", c.API.BaseURL)
	}

	switch {
	case c.Generator.Steps < 1:
		return invalid("SD_STEPS must be positive, got %d", c.Generator.Steps)
	case c.Generator.CFGScale <= 0:
		return invalid("SD_CFG_SCALE must be positive, got %g", c.Generator.CFGScale)
	case c.Generator.Width < 1 || c.Generator.Height < 1:
		return invalid("image size %dx%d is not positive", c.Generator.Width, c.Generator.Height)
	case c.Generator.Seed < -1:
		return invalid("SD_SEED must be -1 or non-negative, got %d", c.Generator.Seed)
	case strings.TrimSpace(c.Generator.Sampler) == "":
		return invalid("SD_SAMPLER is empty")
	case (c.TelegramToken == "") != (c.TelegramChatID == 0):
		return invalid("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together")
	}
	return nil
}

func (c *Config) clamp() {
	if c.API.Timeout <= 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.API.MaxRetries < 1 {
		c.API.MaxRetries = 1
	}
	if c.API.RetryDelay < 0 {
		c.API.RetryDelay = 0
	}
	if c.MaxArchived < 0 {
		c.MaxArchived = 0
	}
	if c.GenerationWorkers < 1 {
		c.GenerationWorkers = 1
	}
	if c.GenerationQueue < 1 {
		c.GenerationQueue = 1
	}
	if c.FormDebounce < 0 {
		c.FormDebounce = 0
	}
}

// TelegramEnabled reports whether portraits are mirrored to a chat.
func (c Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

// lookupEnv differs from getEnv in that an explicitly empty value is kept.
func lookupEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(value)
	}
	return fallback
}

// envParser collects malformed values so Load can report all of them.
type envParser struct {
	errs []error
}

func (p *envParser) fail(key, value string, err error) {
	p.errs = append(p.errs, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *envParser) err() error {
	return errors.Join(p.errs...)
}

func (p *envParser) getEnvInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value, err)
		return fallback
	}
	return parsed
}

func (p *envParser) getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		p.fail(key, value, err)
		return fallback
	}
	return parsed
}

func (p *envParser) getEnvFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		p.fail(key, value, err)
		return fallback
	}
	return parsed
}

func (p *envParser) getEnvBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		p.fail(key, value, err)
		return fallback
	}
	return parsed
}
