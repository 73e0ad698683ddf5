// Package sim hosts auctions for the agent: it draws tasks from a scenario's
// distribution, collects bids from the agent and a competitor, settles each
// round and finally asks both sides for their plans.
package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"logibid/internal/config"
	"logibid/internal/model"
	"logibid/internal/topology"
)

// Scenario is the YAML description of one simulated auction.
type Scenario struct {
	Cities      []topology.City      `yaml:"cities"`
	Roads       []topology.Road      `yaml:"roads"`
	Probability float64              `yaml:"probability"`   // chance of a task per city
	RewardPerKm float64              `yaml:"reward-per-km"` // expected reward per km of the task
	Agent       []config.VehicleSpec `yaml:"agent"`
	Competitor  []config.VehicleSpec `yaml:"competitor"`
	Markup      float64              `yaml:"competitor-markup"`
	Tasks       int                  `yaml:"tasks"`
	MaxWeight   float64              `yaml:"max-weight"`
	Seed        int64                `yaml:"seed"`
}

// World is a resolved scenario.
type World struct {
	Graph      *topology.Graph
	Dist       *topology.Distribution
	Agent      []model.Vehicle
	Competitor []model.Vehicle
	Scenario   Scenario
}

func LoadScenario(path string) (Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, err
	}
	return ParseScenario(data)
}

func ParseScenario(data []byte) (Scenario, error) {
	s := Scenario{Probability: 0.8, RewardPerKm: 5, Markup: 0.1, Tasks: 20, MaxWeight: 3}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return Scenario{}, fmt.Errorf("scenario: %w", err)
	}
	return s, nil
}

// Build resolves city names and validates the scenario. An empty competitor
// fleet mirrors the agent's.
func (s Scenario) Build() (*World, error) {
	if s.Tasks < 0 {
		return nil, fmt.Errorf("scenario: tasks must be >= 0, got %d", s.Tasks)
	}
	if s.Probability <= 0 || s.Probability > 1 {
		return nil, fmt.Errorf("scenario: probability must be in (0,1], got %v", s.Probability)
	}
	if len(s.Agent) == 0 {
		return nil, errors.New("scenario: agent fleet is empty")
	}
	g, err := topology.New(s.Cities, s.Roads)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	agent, err := config.Resolve(s.Agent, 0, g.Lookup)
	if err != nil {
		return nil, fmt.Errorf("scenario: agent fleet: %w", err)
	}
	specs := s.Competitor
	if len(specs) == 0 {
		specs = s.Agent
	}
	competitor, err := config.Resolve(specs, len(agent), g.Lookup)
	if err != nil {
		return nil, fmt.Errorf("scenario: competitor fleet: %w", err)
	}
	return &World{
		Graph:      g,
		Dist:       topology.Uniform(g, s.Probability, s.RewardPerKm),
		Agent:      agent,
		Competitor: competitor,
		Scenario:   s,
	}, nil
}
