package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"

	"github.com/FranksOps/shopsage/internal/enricher"
	"github.com/FranksOps/shopsage/internal/fingerprint"
)

// Config is the service configuration, read from the environment.
type Config struct {
	Host string `env:"SHOPSAGE_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SHOPSAGE_PORT" envDefault:"8000"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text"` // text|json

	TavilyAPIKey    string        `env:"TAVILY_API_KEY"`
	TavilyBaseURL   string        `env:"TAVILY_BASE_URL"`
	SearchProviders []string      `env:"SEARCH_PROVIDERS" envDefault:"tavily,ddg"`
	SearchTimeout   time.Duration `env:"SEARCH_TIMEOUT" envDefault:"15s"`
	SearchRPS       float64       `env:"SEARCH_RPS"`

	OpenAIAPIKey   string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string        `env:"OPENAI_BASE_URL"`
	OpenAIModel    string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	LLMTimeout     time.Duration `env:"LLM_TIMEOUT" envDefault:"45s"`
	LLMTemperature float64       `env:"LLM_TEMPERATURE" envDefault:"0.2"`
	JudgeRetries   int           `env:"JUDGE_RETRIES" envDefault:"2"`

	EnrichMode        string        `env:"ENRICH_MODE" envDefault:"page"`
	EnrichConcurrency int           `env:"ENRICH_CONCURRENCY" envDefault:"6"`
	EnrichItemTimeout time.Duration `env:"ENRICH_ITEM_TIMEOUT" envDefault:"8s"`

	FetchFingerprint   string   `env:"FETCH_FINGERPRINT" envDefault:"chrome"`
	FetchRPS           float64  `env:"FETCH_RPS"`
	FetchJitter        float64  `env:"FETCH_JITTER"`
	FetchProxies       []string `env:"FETCH_PROXIES"`
	FetchProxyFile     string   `env:"FETCH_PROXY_FILE"`
	FetchRespectRobots bool     `env:"FETCH_RESPECT_ROBOTS" envDefault:"true"`

	AuditBackend string `env:"AUDIT_BACKEND" envDefault:"none"` // none|sqlite|postgres|jsonl
	AuditDSN     string `env:"AUDIT_DSN"`

	MetricsPort int `env:"METRICS_PORT" envDefault:"0"`
}

// Load reads envFile (when it exists) into the process environment without
// overriding variables already set, then parses the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.SearchProviders = normalizeList(cfg.SearchProviders, true)
	cfg.FetchProxies = normalizeList(cfg.FetchProxies, false)
	return cfg, nil
}

func normalizeList(in []string, lower bool) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if lower {
			v = strings.ToLower(v)
		}
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("SHOPSAGE_PORT %d out of range", c.Port))
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat))
	}

	if len(c.SearchProviders) == 0 {
		errs = append(errs, errors.New("SEARCH_PROVIDERS is empty"))
	}
	for _, p := range c.SearchProviders {
		switch p {
		case "tavily":
			if c.TavilyAPIKey == "" && len(c.SearchProviders) == 1 {
				errs = append(errs, errors.New("TAVILY_API_KEY is required when tavily is the only search provider"))
			}
		case "ddg":
		default:
			errs = append(errs, fmt.Errorf("unknown search provider %q", p))
		}
	}

	if _, err := enricher.ParseMode(c.EnrichMode); err != nil {
		errs = append(errs, err)
	}
	if _, err := fingerprint.ParseProfile(c.FetchFingerprint); err != nil {
		errs = append(errs, err)
	}
	if c.JudgeRetries < 0 {
		errs = append(errs, fmt.Errorf("JUDGE_RETRIES must not be negative, got %d", c.JudgeRetries))
	}

	switch c.AuditBackend {
	case "", "none":
	case "sqlite", "postgres", "jsonl":
		if c.AuditDSN == "" {
			errs = append(errs, fmt.Errorf("AUDIT_DSN is required for audit backend %q", c.AuditBackend))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown AUDIT_BACKEND %q", c.AuditBackend))
	}

	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		errs = append(errs, fmt.Errorf("METRICS_PORT %d out of range", c.MetricsPort))
	}

	return errors.Join(errs...)
}

// Addr is the HTTP listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// HasReasoner reports whether a reasoning collaborator is configured.
func (c Config) HasReasoner() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != ""
}

// Logger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func (c Config) Logger(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("unknown LOG_LEVEL %q", s)
	}
	return level, nil
}
