package tracking

// FocusMode is the map's current targeting intent. Exactly one mode is
// active at a time.
type FocusMode int

// Focus modes.
const (
	FocusFreePan FocusMode = iota
	FocusMyLocation
	FocusTarget
	FocusAllTargets
)

// String returns a human-readable focus mode name.
func (m FocusMode) String() string {
	switch m {
	case FocusMyLocation:
		return "my_location"
	case FocusTarget:
		return "target"
	case FocusAllTargets:
		return "all_targets"
	default:
		return "free_pan"
	}
}

// Focus is the map-focus state. TargetID and TargetType are meaningful
// only in FocusTarget mode and are always set together.
type Focus struct {
	Mode       FocusMode
	TargetID   int64
	TargetType TargetType
}

// focusCommand is a user command driving the focus state machine.
type focusCommand interface {
	isFocusCommand()
}

type cmdSelectDevice struct{ id int64 }
type cmdFreePan struct{}
type cmdMyLocation struct{}
type cmdAllTargets struct{}
type cmdSetTarget struct {
	id  int64
	typ TargetType
}

func (cmdSelectDevice) isFocusCommand() {}
func (cmdFreePan) isFocusCommand()      {}
func (cmdMyLocation) isFocusCommand()   {}
func (cmdAllTargets) isFocusCommand()   {}
func (cmdSetTarget) isFocusCommand()    {}

// nextFocus is the focus state machine's single transition function.
//
// Selecting an entity always implies target mode, whatever the current
// mode. Setting a zero target id falls back to free pan. The id and
// type of a target are set in one transition, never independently.
func nextFocus(cur Focus, cmd focusCommand) Focus {
	switch c := cmd.(type) {
	case cmdSelectDevice:
		return Focus{Mode: FocusTarget, TargetID: c.id, TargetType: TargetDevice}
	case cmdFreePan:
		return Focus{Mode: FocusFreePan}
	case cmdMyLocation:
		return Focus{Mode: FocusMyLocation}
	case cmdAllTargets:
		return Focus{Mode: FocusAllTargets}
	case cmdSetTarget:
		if c.id == 0 {
			return Focus{Mode: FocusFreePan}
		}
		return Focus{Mode: FocusTarget, TargetID: c.id, TargetType: c.typ}
	default:
		return cur
	}
}
