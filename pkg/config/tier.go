package config

import (
	"fmt"
	"math"
	"sort"
	"time"
)

const (
	TierFree       = "free"
	TierStandard   = "standard"
	TierEnterprise = "enterprise"
	TierCustom     = "custom"
)

// TierConfig holds every sizing and health knob of the gateway core.
type TierConfig struct {
	Name              string        `mapstructure:"name" validate:"required,oneof=free standard enterprise custom"`
	PerMemberLimit    int           `mapstructure:"per_member_limit" validate:"gte=1"`
	MinMembers        int           `mapstructure:"min_members" validate:"gte=1"`
	TargetMembers     int           `mapstructure:"target_members" validate:"gtefield=MinMembers"`
	MaxMembers        int           `mapstructure:"max_members" validate:"gtefield=TargetMembers"`
	RateLimit         float64       `mapstructure:"rate_limit" validate:"gt=0"`
	Burst             int           `mapstructure:"burst" validate:"gte=0"`
	QueueCapacity     int           `mapstructure:"queue_capacity" validate:"gte=0"`
	ProbeInterval     time.Duration `mapstructure:"probe_interval" validate:"required"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout" validate:"required,ltfield=ProbeInterval"`
	FailureThreshold  int           `mapstructure:"failure_threshold" validate:"gte=1"`
	RecoveryThreshold int           `mapstructure:"recovery_threshold" validate:"gte=1"`
	DrainTimeout      time.Duration `mapstructure:"drain_timeout" validate:"required"`
	UnhealthyGrace    time.Duration `mapstructure:"unhealthy_grace"`
}

// BucketCapacity is the token bucket size. Zero Burst means the capacity
// equals the rate limit, rounded down and never below one token.
func (t TierConfig) BucketCapacity() int {
	if t.Burst > 0 {
		return t.Burst
	}
	return int(math.Max(1, math.Floor(t.RateLimit)))
}

// MaxCeiling is the concurrency ceiling of a fully healthy pool at max size.
func (t TierConfig) MaxCeiling() int {
	return t.MaxMembers * t.PerMemberLimit
}

var tierPresets = map[string]TierConfig{
	TierFree: {
		Name:              TierFree,
		PerMemberLimit:    4,
		MinMembers:        5,
		TargetMembers:     8,
		MaxMembers:        8,
		RateLimit:         2.5,
		QueueCapacity:     50,
		ProbeInterval:     60 * time.Second,
		ProbeTimeout:      10 * time.Second,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
		DrainTimeout:      45 * time.Second,
		UnhealthyGrace:    5 * time.Minute,
	},
	TierStandard: {
		Name:              TierStandard,
		PerMemberLimit:    6,
		MinMembers:        5,
		TargetMembers:     10,
		MaxMembers:        10,
		RateLimit:         5,
		QueueCapacity:     50,
		ProbeInterval:     60 * time.Second,
		ProbeTimeout:      10 * time.Second,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
		DrainTimeout:      45 * time.Second,
		UnhealthyGrace:    5 * time.Minute,
	},
	TierEnterprise: {
		Name:              TierEnterprise,
		PerMemberLimit:    10,
		MinMembers:        10,
		TargetMembers:     20,
		MaxMembers:        20,
		RateLimit:         10,
		QueueCapacity:     50,
		ProbeInterval:     30 * time.Second,
		ProbeTimeout:      10 * time.Second,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
		DrainTimeout:      45 * time.Second,
		UnhealthyGrace:    5 * time.Minute,
	},
}

// TierPreset returns the built-in preset for name. Custom tiers start from
// the free preset.
func TierPreset(name string) (TierConfig, error) {
	if name == TierCustom {
		preset := tierPresets[TierFree]
		preset.Name = TierCustom
		return preset, nil
	}
	preset, ok := tierPresets[name]
	if !ok {
		return TierConfig{}, fmt.Errorf("unknown tier %q (known: %v)", name, TierNames())
	}
	return preset, nil
}

func TierNames() []string {
	names := make([]string, 0, len(tierPresets)+1)
	for name := range tierPresets {
		names = append(names, name)
	}
	names = append(names, TierCustom)
	sort.Strings(names)
	return names
}
