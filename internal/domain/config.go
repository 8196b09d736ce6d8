package domain

// Config holds the complete creditline configuration.
type Config struct {
	// Server settings
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Tier determines feature availability
	Tier Tier `json:"tier" mapstructure:"tier"`

	// Component configurations
	Repository RepositoryConfig `json:"repository" mapstructure:"repository"`
	Cache      CacheConfig      `json:"cache" mapstructure:"cache"`
	EventBus   EventBusConfig   `json:"eventBus" mapstructure:"event_bus"`

	// Lending policy
	Policy PolicyConfig `json:"policy" mapstructure:"policy"`

	// Async decision worker
	Worker WorkerConfig `json:"worker" mapstructure:"worker"`

	// Observability
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	ReadTimeout  int    `json:"readTimeout" mapstructure:"read_timeout"`   // seconds
	WriteTimeout int    `json:"writeTimeout" mapstructure:"write_timeout"` // seconds
}

// PolicyConfig holds the credit score weights and the operator policy rules.
// Weights are percentages and must sum to 100.
type PolicyConfig struct {
	OnTimeWeight      float64 `json:"onTimeWeight" mapstructure:"on_time_weight"`
	LoanCountWeight   float64 `json:"loanCountWeight" mapstructure:"loan_count_weight"`
	CurrentYearWeight float64 `json:"currentYearWeight" mapstructure:"current_year_weight"`
	VolumeWeight      float64 `json:"volumeWeight" mapstructure:"volume_weight"`

	Rules          []PolicyRule `json:"rules" mapstructure:"rules"`
	MaxConcurrency int          `json:"maxConcurrency" mapstructure:"max_concurrency"` // parallel rule evaluations

	LockTTL  int `json:"lockTtl" mapstructure:"lock_ttl"`   // milliseconds
	LockWait int `json:"lockWait" mapstructure:"lock_wait"` // milliseconds
}

// WorkerConfig holds async worker settings.
type WorkerConfig struct {
	Enabled bool     `json:"enabled" mapstructure:"enabled"`
	Tenants []string `json:"tenants" mapstructure:"tenants"` // empty subscribes globally
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `json:"level" mapstructure:"level"`   // debug, info, warn, error
	Format string `json:"format" mapstructure:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `json:"enabled" mapstructure:"enabled"`
	ServiceName  string `json:"serviceName" mapstructure:"service_name"`
	ExporterType string `json:"exporterType" mapstructure:"exporter_type"` // none, otlp
	Endpoint     string `json:"endpoint" mapstructure:"endpoint"`
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Path    string `json:"path" mapstructure:"path"`
}

// Tier represents the product tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./creditline.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     300,
			SnapshotTTL:  60,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Policy: PolicyConfig{
			OnTimeWeight:      35,
			LoanCountWeight:   20,
			CurrentYearWeight: 20,
			VolumeWeight:      25,
			MaxConcurrency:    10,
			LockTTL:           5000,
			LockWait:          2000,
		},
		Worker: WorkerConfig{
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "creditline",
			ExporterType: "none",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "creditline",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       30,
		SnapshotTTL:    60,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	return cfg
}
