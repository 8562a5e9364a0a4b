package simulator

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// Pattern decides whether a simulated call fails at a given moment.
type Pattern interface {
	FailMint(now time.Time) bool
	FailProbe(now time.Time) bool
	Name() string
}

var PatternNone Pattern = NonePattern{}

func ParsePattern(req FaultsRequest) (Pattern, error) {
	switch req.Pattern {
	case "", "none":
		return PatternNone, nil
	case "random":
		if !validRate(req.MintFailureRate) || !validRate(req.ProbeFailureRate) {
			return nil, fmt.Errorf("failure rates must be within [0, 1]")
		}
		return RandomPattern{MintRate: req.MintFailureRate, ProbeRate: req.ProbeFailureRate}, nil
	case "outage":
		every, err := time.ParseDuration(req.OutageEvery)
		if err != nil || every <= 0 {
			return nil, fmt.Errorf("outage_every must be a positive duration")
		}
		length, err := time.ParseDuration(req.OutageFor)
		if err != nil || length <= 0 || length > every {
			return nil, fmt.Errorf("outage_for must be a positive duration no longer than outage_every")
		}
		return &OutagePattern{Every: every, For: length, start: time.Now()}, nil
	default:
		return nil, fmt.Errorf("unknown pattern %q", req.Pattern)
	}
}

func validRate(r float64) bool {
	return r >= 0 && r <= 1
}

// NonePattern never fails.
type NonePattern struct{}

func (NonePattern) FailMint(time.Time) bool  { return false }
func (NonePattern) FailProbe(time.Time) bool { return false }
func (NonePattern) Name() string             { return "none" }

// RandomPattern fails each call independently.
type RandomPattern struct {
	MintRate  float64
	ProbeRate float64
}

func (p RandomPattern) FailMint(time.Time) bool  { return rand.Float64() < p.MintRate }
func (p RandomPattern) FailProbe(time.Time) bool { return rand.Float64() < p.ProbeRate }
func (p RandomPattern) Name() string             { return "random" }

// OutagePattern fails everything for For at the start of every Every.
type OutagePattern struct {
	Every time.Duration
	For   time.Duration
	start time.Time
}

func (p *OutagePattern) down(now time.Time) bool {
	return now.Sub(p.start)%p.Every < p.For
}

func (p *OutagePattern) FailMint(now time.Time) bool  { return p.down(now) }
func (p *OutagePattern) FailProbe(now time.Time) bool { return p.down(now) }
func (p *OutagePattern) Name() string                 { return "outage" }

// Faults holds the active pattern and extra latency.
type Faults struct {
	mu      sync.RWMutex
	pattern Pattern
	latency time.Duration
}

func NewFaults() *Faults {
	return &Faults{pattern: PatternNone}
}

func (f *Faults) Set(p Pattern, extraLatency time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pattern = p
	f.latency = extraLatency
}

func (f *Faults) FailMint(now time.Time) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pattern.FailMint(now)
}

func (f *Faults) FailProbe(now time.Time) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.pattern.FailProbe(now)
}

func (f *Faults) ExtraLatency() time.Duration {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.latency
}
