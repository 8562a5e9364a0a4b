package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "GATEWAY"

func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/egress-gateway")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Tier keys fall back to the selected preset, so they are only known
	// once the file and environment have been read.
	preset, err := TierPreset(v.GetString("tier.name"))
	if err != nil {
		return nil, err
	}
	setTierDefaults(v, preset)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setTierDefaults(v *viper.Viper, t TierConfig) {
	v.SetDefault("tier.per_member_limit", t.PerMemberLimit)
	v.SetDefault("tier.min_members", t.MinMembers)
	v.SetDefault("tier.target_members", t.TargetMembers)
	v.SetDefault("tier.max_members", t.MaxMembers)
	v.SetDefault("tier.rate_limit", t.RateLimit)
	v.SetDefault("tier.burst", t.Burst)
	v.SetDefault("tier.queue_capacity", t.QueueCapacity)
	v.SetDefault("tier.probe_interval", t.ProbeInterval)
	v.SetDefault("tier.probe_timeout", t.ProbeTimeout)
	v.SetDefault("tier.failure_threshold", t.FailureThreshold)
	v.SetDefault("tier.recovery_threshold", t.RecoveryThreshold)
	v.SetDefault("tier.drain_timeout", t.DrainTimeout)
	v.SetDefault("tier.unhealthy_grace", t.UnhealthyGrace)
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("app.name", "egress-gateway")
	v.SetDefault("app.mode", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.shutdown_timeout", "30s")

	v.SetDefault("tier.name", TierFree)

	// Admission defaults
	v.SetDefault("admission.queue_timeout", "45s")
	v.SetDefault("admission.max_lease_age", "5m")
	v.SetDefault("admission.sweep_interval", "30s")

	v.SetDefault("health.max_concurrent_probes", 4)

	// Scaler defaults
	v.SetDefault("scaler.interval", "30s")
	v.SetDefault("scaler.cooldown_period", "5m")
	v.SetDefault("scaler.scale_down_cooldown_period", "10m")
	v.SetDefault("scaler.scale_up_queue_depth", 20)
	v.SetDefault("scaler.max_reject_rate", 0.10)
	v.SetDefault("scaler.min_healthy_fraction", 0.5)
	v.SetDefault("scaler.low_load_samples", 5)
	v.SetDefault("scaler.low_load_utilization", 0.3)
	v.SetDefault("scaler.window_samples", 5)
	v.SetDefault("scaler.max_scale_step", 2)
	v.SetDefault("scaler.max_scale_ups_per_hour", 3)
	v.SetDefault("scaler.max_concurrent_provisions", 2)
	v.SetDefault("scaler.provision_timeout", "60s")

	// Issuance defaults
	v.SetDefault("issuance.type", "http")
	v.SetDefault("issuance.endpoint", "https://api.cloudflareclient.com")
	v.SetDefault("issuance.api_version", "v0a537")
	v.SetDefault("issuance.peer_endpoint", "engage.cloudflareclient.com:2408")
	v.SetDefault("issuance.user_agent", "okhttp/3.12.1")
	v.SetDefault("issuance.timeout", "15s")
	v.SetDefault("issuance.rate_limit", 1.0)
	v.SetDefault("issuance.burst", 2)
	v.SetDefault("issuance.probe_rate_limit", 5.0)
	v.SetDefault("issuance.retry_attempts", 4)
	v.SetDefault("issuance.retry_base_delay", "1s")
	v.SetDefault("issuance.retry_max_delay", "30s")
	v.SetDefault("issuance.circuit_breaker.max_failures", 5)
	v.SetDefault("issuance.circuit_breaker.timeout", "30s")
	v.SetDefault("issuance.circuit_breaker.half_open_requests", 1)

	v.SetDefault("extractor.endpoint", "http://localhost:8090")
	v.SetDefault("extractor.timeout", "40s")

	// Snapshot defaults
	v.SetDefault("snapshot.type", "file")
	v.SetDefault("snapshot.path", "./data/members.yaml")
	v.SetDefault("snapshot.interval", "1m")

	// Database defaults
	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "egress_gateway")
	v.SetDefault("database.user", "gateway")
	v.SetDefault("database.password", "password")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.ping_timeout", "5s")
	v.SetDefault("database.migration_timeout", "30s")

	// API defaults
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.read_timeout", "15s")
	v.SetDefault("api.write_timeout", "60s")
	v.SetDefault("api.idle_timeout", "120s")
	v.SetDefault("api.cors.allowed_origins", []string{"*"})
	v.SetDefault("api.cors.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("api.cors.allowed_headers", []string{"Origin", "Content-Type", "X-Trace-ID"})

	// WebSocket defaults
	v.SetDefault("websocket.enabled", true)
	v.SetDefault("websocket.max_connections", 100)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.write_timeout", "10s")
	v.SetDefault("websocket.pong_timeout", "60s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.client_buffer", 256)
	v.SetDefault("websocket.broadcast_buffer", 256)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)

	v.SetDefault("events.buffer_size", 100)
	v.SetDefault("events.persist", false)
	v.SetDefault("events.sample_retention", "168h")
}
