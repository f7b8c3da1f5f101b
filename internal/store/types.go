package store

// Optional marks whether a field of a partial update was supplied.
// A set Optional[*T] holding nil clears a nullable column.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns a set Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// NewRobot carries the fields supplied when registering a robot.
type NewRobot struct {
	ID     string
	Name   string
	Type   string
	Status string
}

// StatusUpdate is a sparse update of a robot's operational fields.
// Only fields that are Set are written.
type StatusUpdate struct {
	BatteryPercent Optional[int]
	Location       Optional[*string]
	Mode           Optional[string]
	ErrorState     Optional[*string]
}

// IsEmpty reports whether the update would change nothing.
func (u StatusUpdate) IsEmpty() bool {
	return !u.BatteryPercent.Set && !u.Location.Set && !u.Mode.Set && !u.ErrorState.Set
}

// NewRobotLog carries the fields supplied when recording a log entry.
type NewRobotLog struct {
	Level   string
	Message string
}

// Subscription carries a push subscription and the robots it should be alerted about.
type Subscription struct {
	Endpoint string
	P256DH   string
	Auth     string
	RobotIDs []string
}

// Default values assigned to a freshly registered robot.
const (
	DefaultBatteryPercent = 100
	DefaultMode           = "idle"
)
