// Package config loads agent settings from YAML with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"logibid/internal/model"
)

var ErrInvalid = errors.New("config: invalid value")

// Bid price strategies.
const (
	StrategyBreakeven = "breakeven"
	StrategyMarginal  = "marginal"
	StrategyAdversary = "adversary"
	StrategyMixed     = "mixed"
)

// Timeouts are phase caps in milliseconds.
type Timeouts struct {
	Setup int64 `yaml:"setup"`
	Bid   int64 `yaml:"bid"`
	Plan  int64 `yaml:"plan"`
}

func (t Timeouts) SetupDuration() time.Duration { return time.Duration(t.Setup) * time.Millisecond }
func (t Timeouts) BidDuration() time.Duration   { return time.Duration(t.Bid) * time.Millisecond }
func (t Timeouts) PlanDuration() time.Duration  { return time.Duration(t.Plan) * time.Millisecond }

// VehicleSpec names the home city instead of indexing it.
type VehicleSpec struct {
	Name      string  `yaml:"name"`
	Capacity  float64 `yaml:"capacity"`
	CostPerKm float64 `yaml:"cost-per-km"`
	Home      string  `yaml:"home"`
}

// Resolve turns specs into vehicles with IDs starting at firstID.
func Resolve(specs []VehicleSpec, firstID int, lookup func(string) (model.CityID, error)) ([]model.Vehicle, error) {
	out := make([]model.Vehicle, 0, len(specs))
	for i, s := range specs {
		home, err := lookup(s.Home)
		if err != nil {
			return nil, fmt.Errorf("vehicle %q: %w", s.Name, err)
		}
		out = append(out, model.Vehicle{ID: firstID + i, Name: s.Name, Capacity: s.Capacity, CostPerKm: s.CostPerKm, Home: home})
	}
	return out, nil
}

type Adversary struct {
	Vehicles []VehicleSpec `yaml:"vehicles"` // empty mirrors the own fleet
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Config struct {
	DiscountFactor       float64  `yaml:"discount-factor"`
	ConvergenceThreshold float64  `yaml:"convergence-threshold"`
	MaxTasks             int      `yaml:"max-tasks"`
	Timeouts             Timeouts `yaml:"timeouts"`

	ArchiveSize       int       `yaml:"archive-size"`
	Seed              int64     `yaml:"seed"`
	Strategy          string    `yaml:"strategy"`
	StrategyWeights   []float64 `yaml:"strategy-weights"` // breakeven, marginal, adversary
	Margin            float64   `yaml:"margin"`
	Undercut          float64   `yaml:"undercut"`
	Blend             float64   `yaml:"blend"`
	SafetyMargin      float64   `yaml:"safety-margin"`
	PositionWeight    float64   `yaml:"position-weight"`
	RewardPerDistance float64   `yaml:"reward-per-distance"`
	ReannealEvery     int       `yaml:"reanneal-every"`
	InitialTemp       float64   `yaml:"initial-temp"`
	Cooling           float64   `yaml:"cooling"`

	Adversary Adversary `yaml:"adversary"`
	Log       Log       `yaml:"log"`

	// Environment only.
	DatabaseURL string `yaml:"-"`
	RedisURL    string `yaml:"-"`
	MetricsAddr string `yaml:"-"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		DiscountFactor:       0.95,
		ConvergenceThreshold: 0.01,
		MaxTasks:             50,
		Timeouts:             Timeouts{Setup: 30000, Bid: 5000, Plan: 30000},
		ArchiveSize:          10,
		Strategy:             StrategyMixed,
		StrategyWeights:      []float64{1, 2, 2},
		Margin:               0.1,
		Undercut:             0.05,
		Blend:                0.5,
		SafetyMargin:         5,
		PositionWeight:       0.05,
		ReannealEvery:        5,
		Cooling:              0.999,
		Log:                  Log{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults and applies environment overrides. On any
// read, parse or validation error it returns the defaults (still with the
// environment applied) together with the error, so callers can log and go on.
func Load(path string) (Config, error) {
	cfg, err := load(path)
	if err != nil {
		cfg = Default()
	}
	cfg.applyEnv()
	return cfg, err
}

func load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := Parse(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into cfg (keeping fields the document leaves out) and
// validates the result. Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document keeps the defaults.
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.Validate()
}

func (c *Config) applyEnv() {
	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	c.RedisURL = envOr("REDIS_URL", c.RedisURL)
	c.MetricsAddr = envOr("METRICS_ADDR", c.MetricsAddr)
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf(format+": %w", append(args, ErrInvalid)...)
	}
	switch {
	case c.DiscountFactor <= 0 || c.DiscountFactor >= 1:
		return bad("discount-factor %v not in (0,1)", c.DiscountFactor)
	case c.ConvergenceThreshold <= 0:
		return bad("convergence-threshold %v must be positive", c.ConvergenceThreshold)
	case c.MaxTasks <= 0:
		return bad("max-tasks %d must be positive", c.MaxTasks)
	case c.Timeouts.Setup <= 0 || c.Timeouts.Bid <= 0 || c.Timeouts.Plan <= 0:
		return bad("timeouts %+v must be positive", c.Timeouts)
	case c.ArchiveSize <= 0:
		return bad("archive-size %d must be positive", c.ArchiveSize)
	case c.Cooling <= 0 || c.Cooling >= 1:
		return bad("cooling %v not in (0,1)", c.Cooling)
	case len(c.StrategyWeights) != 3:
		return bad("strategy-weights needs 3 entries, got %d", len(c.StrategyWeights))
	case c.Blend < 0 || c.Blend > 1:
		return bad("blend %v not in [0,1]", c.Blend)
	case c.Margin < 0 || c.Undercut < 0 || c.Undercut >= 1 || c.SafetyMargin < 0:
		return bad("margin %v, undercut %v, safety-margin %v out of range", c.Margin, c.Undercut, c.SafetyMargin)
	case c.RewardPerDistance < 0 || c.PositionWeight < 0 || c.InitialTemp < 0:
		return bad("negative reward-per-distance, position-weight or initial-temp")
	case c.ReannealEvery < 0:
		return bad("reanneal-every %d is negative", c.ReannealEvery)
	}
	switch c.Strategy {
	case StrategyBreakeven, StrategyMarginal, StrategyAdversary, StrategyMixed:
	default:
		return bad("unknown strategy %q", c.Strategy)
	}
	for _, w := range c.StrategyWeights {
		if w < 0 {
			return bad("strategy-weights %v has a negative entry", c.StrategyWeights)
		}
	}
	for _, v := range c.Adversary.Vehicles {
		if v.Capacity <= 0 || v.CostPerKm < 0 {
			return bad("adversary vehicle %q: capacity %v cost-per-km %v", v.Name, v.Capacity, v.CostPerKm)
		}
	}
	return nil
}
