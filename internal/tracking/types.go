package tracking

import "time"

// Device is a GPS-tracked unit registered with the backend.
type Device struct {
	ID           int64      `json:"id"`
	Key          int64      `json:"device_key"`
	SerialNumber string     `json:"serial_number"`
	Name         *string    `json:"name"`
	Enabled      bool       `json:"enabled"`
	LastSeenAt   *time.Time `json:"last_seen_at"`
}

// Label returns the device's display name, falling back to its serial
// number when no name is set.
func (d Device) Label() string {
	if d.Name != nil && *d.Name != "" {
		return *d.Name
	}
	return d.SerialNumber
}

// Position is the canonical latest fix for one device.
//
// Optional readings are pointers: nil means the field has never been
// reported. A partial update never regresses a known field to nil.
type Position struct {
	DeviceID   int64     `json:"device_id"`
	Timestamp  time.Time `json:"timestamp"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Altitude   *int      `json:"altitude"`
	Speed      *float64  `json:"speed"`
	Heading    *int      `json:"heading"`
	Satellites *int      `json:"satellites"`
	Battery    *int      `json:"battery"`
	IsMoving   *bool     `json:"is_moving"`
}

// PositionUpdate is a partial position merged field-by-field onto the
// cached latest position. Nil fields retain the prior value.
type PositionUpdate struct {
	Timestamp  time.Time
	Latitude   *float64
	Longitude  *float64
	Altitude   *int
	Speed      *float64
	Heading    *int
	Satellites *int
	Battery    *int
	IsMoving   *bool
}

// UserLocation is a user's shared location fix.
type UserLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

// SharedUser is another user currently sharing their location.
type SharedUser struct {
	UserID   int64
	Name     string
	Email    string
	Location UserLocation
}

// Label returns the user's display name, falling back to email.
func (u SharedUser) Label() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

// Alert is a device alert received over the push channel.
type Alert struct {
	DeviceID  int64
	AlertType string
	Message   string
	Timestamp time.Time
}

// DisplayState is the three-way rendering state of an entity.
// Offline takes precedence over the moving flag.
type DisplayState int

// Display states.
const (
	DisplayOffline DisplayState = iota
	DisplayStationary
	DisplayMoving
)

// String returns a human-readable display state name.
func (s DisplayState) String() string {
	switch s {
	case DisplayMoving:
		return "moving"
	case DisplayStationary:
		return "stationary"
	default:
		return "offline"
	}
}

// TargetType distinguishes the two kinds of trackable entity.
type TargetType int

// Target types.
const (
	TargetDevice TargetType = iota
	TargetSharedUser
)

// String returns a human-readable target type name.
func (t TargetType) String() string {
	if t == TargetSharedUser {
		return "shared_user"
	}
	return "device"
}

// Target is one entry in the flat polymorphic target list consumed by
// the target picker and the fit-all focus mode.
type Target struct {
	ID        int64
	Type      TargetType
	Name      string
	Latitude  float64
	Longitude float64
	IsMoving  bool
	IsOnline  bool
}
