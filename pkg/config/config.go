package config

import (
	"fmt"
	"time"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Tier      TierConfig      `mapstructure:"tier"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Health    HealthConfig    `mapstructure:"health"`
	Scaler    ScalerConfig    `mapstructure:"scaler"`
	Issuance  IssuanceConfig  `mapstructure:"issuance"`
	Extractor ExtractorConfig `mapstructure:"extractor"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
	Database  DatabaseConfig  `mapstructure:"database"`
	API       APIConfig       `mapstructure:"api"`
	WebSocket WebSocketConfig `mapstructure:"websocket"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Events    EventsConfig    `mapstructure:"events"`
}

type AppConfig struct {
	Name            string        `mapstructure:"name"`
	Mode            string        `mapstructure:"mode"`
	LogLevel        string        `mapstructure:"log_level"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type AdmissionConfig struct {
	// QueueTimeout bounds the wait of callers that bring no deadline.
	QueueTimeout  time.Duration `mapstructure:"queue_timeout"`
	MaxLeaseAge   time.Duration `mapstructure:"max_lease_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

type HealthConfig struct {
	MaxConcurrentProbes int `mapstructure:"max_concurrent_probes"`
}

type ScalerConfig struct {
	Interval                time.Duration `mapstructure:"interval"`
	CooldownPeriod          time.Duration `mapstructure:"cooldown_period"`
	ScaleDownCooldownPeriod time.Duration `mapstructure:"scale_down_cooldown_period"`
	ScaleUpQueueDepth       int           `mapstructure:"scale_up_queue_depth"`
	MaxRejectRate           float64       `mapstructure:"max_reject_rate"`
	MinHealthyFraction      float64       `mapstructure:"min_healthy_fraction"`
	LowLoadSamples          int           `mapstructure:"low_load_samples"`
	LowLoadUtilization      float64       `mapstructure:"low_load_utilization"`
	WindowSamples           int           `mapstructure:"window_samples"`
	MaxScaleStep            int           `mapstructure:"max_scale_step"`
	MaxScaleUpsPerHour      int           `mapstructure:"max_scale_ups_per_hour"`
	MaxConcurrentProvisions int           `mapstructure:"max_concurrent_provisions"`
	ProvisionTimeout        time.Duration `mapstructure:"provision_timeout"`
}

type IssuanceConfig struct {
	Type           string               `mapstructure:"type"`
	Endpoint       string               `mapstructure:"endpoint"`
	APIVersion     string               `mapstructure:"api_version"`
	PeerEndpoint   string               `mapstructure:"peer_endpoint"`
	UserAgent      string               `mapstructure:"user_agent"`
	Timeout        time.Duration        `mapstructure:"timeout"`
	RateLimit      float64              `mapstructure:"rate_limit"`
	Burst          int                  `mapstructure:"burst"`
	ProbeRateLimit float64              `mapstructure:"probe_rate_limit"`
	RetryAttempts  int                  `mapstructure:"retry_attempts"`
	RetryBaseDelay time.Duration        `mapstructure:"retry_base_delay"`
	RetryMaxDelay  time.Duration        `mapstructure:"retry_max_delay"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

type CircuitBreakerConfig struct {
	MaxFailures      int           `mapstructure:"max_failures"`
	Timeout          time.Duration `mapstructure:"timeout"`
	HalfOpenRequests int           `mapstructure:"half_open_requests"`
}

type ExtractorConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type SnapshotConfig struct {
	// Type is one of none, file, postgres.
	Type     string        `mapstructure:"type"`
	Path     string        `mapstructure:"path"`
	Interval time.Duration `mapstructure:"interval"`
}

type DatabaseConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Host             string        `mapstructure:"host"`
	Port             int           `mapstructure:"port"`
	Name             string        `mapstructure:"name"`
	User             string        `mapstructure:"user"`
	Password         string        `mapstructure:"password"`
	MaxConnections   int           `mapstructure:"max_connections"`
	SSLMode          string        `mapstructure:"ssl_mode"`
	ConnMaxLifetime  time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime  time.Duration `mapstructure:"conn_max_idle_time"`
	PingTimeout      time.Duration `mapstructure:"ping_timeout"`
	MigrationTimeout time.Duration `mapstructure:"migration_timeout"`
}

func (d DatabaseConfig) DSN() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, sslMode,
	)
}

type APIConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	CORS         CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
}

type WebSocketConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	MaxConnections  int           `mapstructure:"max_connections"`
	PingInterval    time.Duration `mapstructure:"ping_interval"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	PongTimeout     time.Duration `mapstructure:"pong_timeout"`
	MaxMessageSize  int64         `mapstructure:"max_message_size"`
	ClientBuffer    int           `mapstructure:"client_buffer"`
	BroadcastBuffer int           `mapstructure:"broadcast_buffer"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

type EventsConfig struct {
	BufferSize int  `mapstructure:"buffer_size"`
	Persist    bool `mapstructure:"persist"`
	// SampleRetention bounds the stored pool history; zero keeps everything.
	SampleRetention time.Duration `mapstructure:"sample_retention"`
}
