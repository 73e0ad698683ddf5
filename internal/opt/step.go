package opt

import "logibid/internal/model"

// Role tells whether a step picks a task up or delivers it.
type Role uint8

const (
	Pickup Role = iota
	Delivery
)

func (r Role) String() string {
	if r == Pickup {
		return "pickup"
	}
	return "delivery"
}

// Step is one entry of a vehicle agenda: a task plus its role.
// Two steps are the same when task ID and role match.
type Step struct {
	Task model.Task
	Role Role
}

// City is where the step takes place.
func (s Step) City() model.CityID {
	if s.Role == Pickup {
		return s.Task.Pickup
	}
	return s.Task.Delivery
}

// Same compares by identity key (task ID, role), not by task contents.
func (s Step) Same(o Step) bool { return s.Task.ID == o.Task.ID && s.Role == o.Role }

// ActionKind tags the Action variant.
type ActionKind uint8

const (
	ActMove ActionKind = iota
	ActPickup
	ActDeliver
)

func (k ActionKind) String() string {
	switch k {
	case ActMove:
		return "move"
	case ActPickup:
		return "pickup"
	default:
		return "deliver"
	}
}

// Action is a movement primitive. Move carries City; Pickup and Deliver carry Task.
type Action struct {
	Kind ActionKind
	City model.CityID
	Task model.Task
}

// VehiclePlan is the expanded action sequence of one vehicle.
type VehiclePlan struct {
	Vehicle model.Vehicle
	Actions []Action
}
