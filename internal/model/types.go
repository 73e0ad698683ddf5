package model

// Core domain types shared by the optimizer, the value table and the auction controller.
// Topology and TaskDistribution are supplied by the host; the engine only reads them.

// CityID indexes a city of the topology.
type CityID int

// NoCity marks the absence of a city (e.g. no pending delivery).
const NoCity CityID = -1

// Task is an immutable transport request. Identity is the ID.
type Task struct {
	ID       int     `json:"id" yaml:"id"`
	Pickup   CityID  `json:"pickup" yaml:"pickup"`
	Delivery CityID  `json:"delivery" yaml:"delivery"`
	Weight   float64 `json:"weight" yaml:"weight"`
	Reward   int64   `json:"reward,omitempty" yaml:"reward,omitempty"`
}

// Vehicle is a fleet member. Home is the city the vehicle currently stands in.
type Vehicle struct {
	ID        int     `json:"id" yaml:"id"`
	Name      string  `json:"name,omitempty" yaml:"name,omitempty"`
	Capacity  float64 `json:"capacity" yaml:"capacity"`
	CostPerKm float64 `json:"costPerKm" yaml:"cost-per-km"`
	Home      CityID  `json:"home" yaml:"home"`
}

// CanCarry reports whether the task fits in an empty vehicle.
func (v Vehicle) CanCarry(t Task) bool { return t.Weight <= v.Capacity }

// Topology answers distance and path queries between cities.
type Topology interface {
	Cities() []CityID
	CityName(c CityID) string
	// Distance is the shortest-path distance between a and b.
	Distance(a, b CityID) float64
	// Path lists the cities visited after a, ending with b. Empty when a == b.
	Path(a, b CityID) []CityID
}

// TaskDistribution models task arrivals: the probability that a task appears
// in city from bound for city to, and its expected reward.
type TaskDistribution interface {
	Probability(from, to CityID) float64
	Reward(from, to CityID) float64
}
