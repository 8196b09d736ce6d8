// Package config loads the service configuration from defaults, an optional
// file, a .env file and CREDITLINE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/joho/godotenv"
	"github.com/opensource-finance/creditline/internal/domain"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CREDITLINE_SERVER_PORT.
const EnvPrefix = "CREDITLINE"

// FileName is the config file searched for in . and ./configs.
const FileName = "creditline"

// Load builds the configuration. Later sources win:
// DefaultConfig (or ProConfig when tier is "pro"), the config file,
// then environment variables. An explicit path must exist.
func Load(path string) (*domain.Config, error) {
	loadEnvFile(path)

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(FileName)
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		slog.Debug("config file loaded", "path", v.ConfigFileUsed())
	}

	base := domain.DefaultConfig()
	if domain.Tier(v.GetString("tier")) == domain.TierPro {
		base = domain.ProConfig()
	}
	setDefaults(v, "", reflect.ValueOf(base).Elem())
	expandEnvVars(v)

	cfg := *base
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// loadEnvFile loads the first .env found next to the config file or in the
// working directory. Variables already set in the process are kept.
func loadEnvFile(configPath string) {
	candidates := []string{}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	candidates = append(candidates, ".env")

	for _, p := range candidates {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			slog.Warn("failed to load env file", "path", p, "error", err)
			continue
		}
		slog.Debug("env file loaded", "path", p)
		return
	}
}

// setDefaults registers every leaf of cfg under its mapstructure key so that
// AutomaticEnv can override keys that the config file never mentions.
func setDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}

		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			setDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// expandEnvVars resolves ${VAR} placeholders in string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		s, ok := v.Get(key).(string)
		if !ok || !strings.Contains(s, "$") {
			continue
		}
		if expanded := os.ExpandEnv(s); expanded != s {
			v.Set(key, expanded)
		}
	}
}

// Validate reports every problem found in cfg.
func Validate(cfg *domain.Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		add("server.port %d out of range", cfg.Server.Port)
	}

	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.SQLitePath == "" {
			add("repository.sqlite_path is required")
		}
	case "postgres":
		if cfg.Repository.PostgresHost == "" {
			add("repository.postgres_host is required")
		}
		if cfg.Repository.PostgresDB == "" {
			add("repository.postgres_db is required")
		}
	default:
		add("unsupported repository.driver %q", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			add("cache.redis_addr is required")
		}
	default:
		add("unsupported cache.type %q", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel":
	case "nats":
		if cfg.EventBus.NATSUrl == "" {
			add("event_bus.nats_url is required")
		}
	default:
		add("unsupported event_bus.type %q", cfg.EventBus.Type)
	}

	p := cfg.Policy
	weights := []float64{p.OnTimeWeight, p.LoanCountWeight, p.CurrentYearWeight, p.VolumeWeight}
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			add("policy weights must not be negative")
			break
		}
		sum += w
	}
	if math.Abs(sum-100) > 1e-9 {
		add("policy weights sum to %g, want 100", sum)
	}
	if p.MaxConcurrency < 1 {
		add("policy.max_concurrency must be at least 1")
	}
	if p.LockTTL <= 0 {
		add("policy.lock_ttl must be positive")
	}
	if p.LockWait < 0 {
		add("policy.lock_wait must not be negative")
	}

	seen := make(map[string]bool, len(p.Rules))
	for i, r := range p.Rules {
		switch {
		case r.ID == "":
			add("policy.rules[%d]: id is required", i)
		case seen[r.ID]:
			add("policy.rules[%d]: duplicate id %q", i, r.ID)
		}
		seen[r.ID] = true
		if r.Expression == "" {
			add("policy.rules[%d]: expression is required", i)
		}
	}

	switch cfg.Tracing.ExporterType {
	case "", "none":
	case "otlp":
		if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
			add("tracing.endpoint is required for the otlp exporter")
		}
	default:
		add("unsupported tracing.exporter_type %q", cfg.Tracing.ExporterType)
	}

	if _, err := ParseLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if f := cfg.Logging.Format; f != "json" && f != "text" {
		add("unsupported logging.format %q", f)
	}

	return errors.Join(errs...)
}
