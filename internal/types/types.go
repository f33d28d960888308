// README: Common value objects shared across modules.
package types

// ID is an opaque identifier for trips, passengers, and drivers.
type ID string

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64
	Lng float64
}

// IsZero reports whether the point was never set. (0,0) is open ocean and is
// treated as unset, matching the request form's empty state.
func (p Point) IsZero() bool {
	return p.Lat == 0 && p.Lng == 0
}

// Role identifies which side of a trip a client acts as.
type Role string

const (
	RolePassenger Role = "passenger"
	RoleDriver    Role = "driver"
)

// Counterpart returns the opposite role.
func (r Role) Counterpart() Role {
	if r == RolePassenger {
		return RoleDriver
	}
	return RolePassenger
}
