package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadDefaults(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load(writeConfig(t, "app:\n  name: test\n"))
	require.NoError(t, err)
	return cfg
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg := loadDefaults(t)

	assert.Equal(t, TierFree, cfg.Tier.Name)
	assert.Equal(t, 4, cfg.Tier.PerMemberLimit)
	assert.Equal(t, 8, cfg.Tier.TargetMembers)
	assert.Equal(t, 45*time.Second, cfg.Admission.QueueTimeout)
	assert.Equal(t, 168*time.Hour, cfg.Events.SampleRetention)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_TierPresetWithOverrides(t *testing.T) {
	path := writeConfig(t, `
tier:
  name: standard
  max_members: 12
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, TierStandard, cfg.Tier.Name)
	assert.Equal(t, 6, cfg.Tier.PerMemberLimit, "unset keys come from the preset")
	assert.Equal(t, 12, cfg.Tier.MaxMembers)
	assert.Equal(t, 72, cfg.Tier.MaxCeiling())
}

func TestLoad_EnvironmentOverride(t *testing.T) {
	t.Setenv("GATEWAY_API_PORT", "9191")

	cfg := loadDefaults(t)
	assert.Equal(t, 9191, cfg.API.Port)
}

func TestLoad_UnknownTier(t *testing.T) {
	_, err := Load(writeConfig(t, "tier:\n  name: platinum\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tier")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectErr   bool
		errContains string
	}{
		{
			name:       "valid config",
			modifyFunc: func(c *Config) {},
		},
		{
			name:        "target below min",
			modifyFunc:  func(c *Config) { c.Tier.TargetMembers = c.Tier.MinMembers - 1 },
			expectErr:   true,
			errContains: "tier.TargetMembers",
		},
		{
			name:        "probe timeout not below interval",
			modifyFunc:  func(c *Config) { c.Tier.ProbeTimeout = c.Tier.ProbeInterval },
			expectErr:   true,
			errContains: "tier.ProbeTimeout",
		},
		{
			name:        "zero rate limit",
			modifyFunc:  func(c *Config) { c.Tier.RateLimit = 0 },
			expectErr:   true,
			errContains: "tier.RateLimit",
		},
		{
			name:        "postgres snapshots without database",
			modifyFunc:  func(c *Config) { c.Snapshot.Type = "postgres" },
			expectErr:   true,
			errContains: "requires database.enabled",
		},
		{
			name:        "persisted events without database",
			modifyFunc:  func(c *Config) { c.Events.Persist = true },
			expectErr:   true,
			errContains: "events.persist requires database.enabled",
		},
		{
			name:        "unknown issuer",
			modifyFunc:  func(c *Config) { c.Issuance.Type = "carrier-pigeon" },
			expectErr:   true,
			errContains: "issuance.type",
		},
		{
			name:        "bad mode",
			modifyFunc:  func(c *Config) { c.App.Mode = "staging" },
			expectErr:   true,
			errContains: "app.mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := loadDefaults(t)
			tt.modifyFunc(cfg)

			err := cfg.Validate()

			if tt.expectErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestTierConfig_BucketCapacity(t *testing.T) {
	tests := []struct {
		name  string
		rate  float64
		burst int
		want  int
	}{
		{name: "explicit burst", rate: 2.5, burst: 7, want: 7},
		{name: "floor of rate", rate: 2.5, want: 2},
		{name: "never below one", rate: 0.2, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tier := TierConfig{RateLimit: tt.rate, Burst: tt.burst}
			assert.Equal(t, tt.want, tier.BucketCapacity())
		})
	}
}

func TestTierPreset(t *testing.T) {
	custom, err := TierPreset(TierCustom)
	require.NoError(t, err)
	assert.Equal(t, TierCustom, custom.Name)
	assert.NoError(t, custom.Validate())

	for _, name := range TierNames() {
		preset, err := TierPreset(name)
		require.NoError(t, err, name)
		assert.NoError(t, preset.Validate(), name)
	}

	assert.Equal(t, []string{TierCustom, TierEnterprise, TierFree, TierStandard}, TierNames())
}

func TestDatabaseConfig_DSN(t *testing.T) {
	dbCfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		Name:     "testdb",
		User:     "admin",
		Password: "secret",
	}

	expected := "host=localhost port=5432 user=admin password=secret dbname=testdb sslmode=disable"
	assert.Equal(t, expected, dbCfg.DSN())
}
