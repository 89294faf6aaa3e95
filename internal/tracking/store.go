package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/trackview/trackview-core/internal/channel"
	"github.com/trackview/trackview-core/internal/infrastructure/config"
)

// Logger defines the logging interface used by the Store.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Backend is the slice of the REST API the store consumes.
//
// LatestPosition returns (nil, nil) when the device has no position
// yet; that is not an error.
type Backend interface {
	LatestPosition(ctx context.Context, id int64) (*Position, error)
	ShareLocation(ctx context.Context, loc UserLocation) error
}

// Channel is the slice of the push-channel client the store consumes.
type Channel interface {
	Subscribe(ids []int64)
	Unsubscribe(ids []int64)
	On(t channel.MessageType, fn func(channel.Message)) func()
}

// Store is the canonical live state of all tracked entities and the
// map-focus intent.
//
// It consumes push-channel events and the backend's fetch contract,
// merges partial position updates onto cached state, maintains bounded
// recency trails, and resolves the focus state machine.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
//   - Returned slices and structs are copies; callers can modify them.
type Store struct {
	backend Backend
	channel Channel
	geo     Geolocator
	logger  Logger

	// now is the clock used for online derivation; replaced in tests.
	now func() time.Time

	onlineWindow time.Duration
	trailDepth   int
	alertDepth   int

	mu          sync.RWMutex
	devices     map[int64]*Device
	positions   map[int64]*Position
	trails      map[int64][]Position
	sharedUsers map[int64]*SharedUser
	alerts      []Alert
	focus       Focus
	userLoc     *UserLocation
	locErrMsg   string
	removers    []func()
}

// New creates a tracking store wired to the given collaborators.
// Call Start to begin consuming channel events.
func New(cfg config.TrackingConfig, backend Backend, ch Channel, geo Geolocator) *Store {
	return &Store{
		backend:      backend,
		channel:      ch,
		geo:          geo,
		logger:       noopLogger{},
		now:          time.Now,
		onlineWindow: cfg.OnlineWindowDuration(),
		trailDepth:   cfg.TrailDepth,
		alertDepth:   cfg.AlertLogDepth,
		devices:      make(map[int64]*Device),
		positions:    make(map[int64]*Position),
		trails:       make(map[int64][]Position),
		sharedUsers:  make(map[int64]*SharedUser),
	}
}

// SetLogger sets the logger for the store.
func (s *Store) SetLogger(logger Logger) {
	s.mu.Lock()
	s.logger = logger
	s.mu.Unlock()
}

// log returns the current logger.
func (s *Store) log() Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Start registers the store's channel listeners. The registrations are
// released by Close.
func (s *Store) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removers = append(s.removers,
		s.channel.On(channel.TypePosition, s.onPositionMessage),
		s.channel.On(channel.TypeAlert, s.onAlertMessage),
		s.channel.On(channel.TypeUserLocation, s.onUserLocationMessage),
	)
}

// Close releases the store's channel listener registrations.
func (s *Store) Close() {
	s.mu.Lock()
	removers := s.removers
	s.removers = nil
	s.mu.Unlock()

	for _, remove := range removers {
		remove()
	}
}

// IngestDevices replaces the device registry.
//
// Positions and trails cached for devices still present in the new list
// are preserved; entries for removed devices are dropped. The full id
// set is subscribed on the push channel, then each device's latest
// position is fetched in parallel, best-effort: a device with no
// position yet is not an error, and per-device failures are swallowed.
func (s *Store) IngestDevices(ctx context.Context, devices []Device) {
	s.mu.Lock()
	next := make(map[int64]*Device, len(devices))
	ids := make([]int64, 0, len(devices))
	for i := range devices {
		d := devices[i]
		next[d.ID] = &d
		ids = append(ids, d.ID)
	}
	s.devices = next

	for id := range s.positions {
		if _, ok := next[id]; !ok {
			delete(s.positions, id)
			delete(s.trails, id)
		}
	}
	s.mu.Unlock()

	s.log().Info("device registry replaced", "count", len(devices))
	s.channel.Subscribe(ids)

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			pos, err := s.backend.LatestPosition(ctx, id)
			if err != nil {
				s.log().Debug("latest position fetch skipped", "device_id", id, "error", err)
				return
			}
			if pos == nil {
				return
			}
			s.applyFetched(*pos)
		}(id)
	}
	wg.Wait()
}

// applyFetched merges a fetched latest position, unless a live update
// with the same or a newer timestamp already landed while the fetch was
// in flight. The check and the merge happen under one lock so a live
// update can never be overwritten by an older fetched snapshot.
func (s *Store) applyFetched(pos Position) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached := s.positions[pos.DeviceID]; cached != nil && !cached.Timestamp.Before(pos.Timestamp) {
		return
	}
	s.applyLocked(pos.DeviceID, updateFromPosition(pos))
}

// updateFromPosition converts a full position into an equivalent update.
func updateFromPosition(pos Position) PositionUpdate {
	lat, lon := pos.Latitude, pos.Longitude
	return PositionUpdate{
		Timestamp:  pos.Timestamp,
		Latitude:   &lat,
		Longitude:  &lon,
		Altitude:   pos.Altitude,
		Speed:      pos.Speed,
		Heading:    pos.Heading,
		Satellites: pos.Satellites,
		Battery:    pos.Battery,
		IsMoving:   pos.IsMoving,
	}
}

// ApplyPosition merges a partial update onto the cached latest position
// for the device, prepends the result to the device's trail, and
// updates the device's last-seen time from the update's timestamp.
//
// The merge is field-wise: fields absent from the update retain their
// prior values. An update never regresses a known field to empty.
func (s *Store) ApplyPosition(id int64, update PositionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyLocked(id, update)
}

// applyLocked performs the merge. Caller must hold s.mu.
func (s *Store) applyLocked(id int64, update PositionUpdate) {
	merged := Position{DeviceID: id}
	if cur := s.positions[id]; cur != nil {
		merged = *cur
	}

	if !update.Timestamp.IsZero() {
		merged.Timestamp = update.Timestamp
	}
	if update.Latitude != nil {
		merged.Latitude = *update.Latitude
	}
	if update.Longitude != nil {
		merged.Longitude = *update.Longitude
	}
	if update.Altitude != nil {
		v := *update.Altitude
		merged.Altitude = &v
	}
	if update.Speed != nil {
		v := *update.Speed
		merged.Speed = &v
	}
	if update.Heading != nil {
		v := *update.Heading
		merged.Heading = &v
	}
	if update.Satellites != nil {
		v := *update.Satellites
		merged.Satellites = &v
	}
	if update.Battery != nil {
		v := *update.Battery
		merged.Battery = &v
	}
	if update.IsMoving != nil {
		v := *update.IsMoving
		merged.IsMoving = &v
	}

	s.positions[id] = &merged

	trail := append([]Position{merged}, s.trails[id]...)
	if len(trail) > s.trailDepth {
		trail = trail[:s.trailDepth]
	}
	s.trails[id] = trail

	if d := s.devices[id]; d != nil && !update.Timestamp.IsZero() {
		ts := update.Timestamp
		d.LastSeenAt = &ts
	}
}

// onPositionMessage adapts a channel position message into a merge.
func (s *Store) onPositionMessage(m channel.Message) {
	msg, ok := m.(*channel.PositionMessage)
	if !ok {
		return
	}
	s.ApplyPosition(msg.DeviceID, PositionUpdate{
		Timestamp:  msg.Data.Timestamp.Time,
		Latitude:   msg.Data.Latitude,
		Longitude:  msg.Data.Longitude,
		Altitude:   msg.Data.Altitude,
		Speed:      msg.Data.Speed,
		Heading:    msg.Data.Heading,
		Satellites: msg.Data.Satellites,
		Battery:    msg.Data.Battery,
		IsMoving:   msg.Data.IsMoving,
	})
}

// onAlertMessage records a device alert, newest first, bounded.
func (s *Store) onAlertMessage(m channel.Message) {
	msg, ok := m.(*channel.AlertMessage)
	if !ok {
		return
	}

	s.mu.Lock()
	s.alerts = append([]Alert{{
		DeviceID:  msg.DeviceID,
		AlertType: msg.AlertType,
		Message:   msg.Message,
		Timestamp: msg.Timestamp.Time,
	}}, s.alerts...)
	if len(s.alerts) > s.alertDepth {
		s.alerts = s.alerts[:s.alertDepth]
	}
	s.mu.Unlock()

	s.log().Info("device alert", "device_id", msg.DeviceID, "alert_type", msg.AlertType)
}

// onUserLocationMessage upserts another user's shared location.
func (s *Store) onUserLocationMessage(m channel.Message) {
	msg, ok := m.(*channel.UserLocationMessage)
	if !ok {
		return
	}

	s.mu.Lock()
	s.sharedUsers[msg.UserID] = &SharedUser{
		UserID: msg.UserID,
		Name:   msg.UserName,
		Email:  msg.UserEmail,
		Location: UserLocation{
			Latitude:  msg.Latitude,
			Longitude: msg.Longitude,
			Accuracy:  msg.Accuracy,
			Timestamp: msg.Timestamp.Time,
		},
	}
	s.mu.Unlock()
}

// IngestSharedUsers seeds the shared-user map from an initial fetch.
// Later channel messages overwrite individual entries.
func (s *Store) IngestSharedUsers(users []SharedUser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range users {
		u := users[i]
		s.sharedUsers[u.UserID] = &u
	}
}

// Devices returns all registered devices, sorted by id.
func (s *Store) Devices() []Device {
	s.mu.RLock()
	defer s.mu.RUnlock()

	devices := make([]Device, 0, len(s.devices))
	for _, d := range s.devices {
		devices = append(devices, *d)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].ID < devices[j].ID })
	return devices
}

// Device returns one device by id.
func (s *Store) Device(id int64) (Device, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return Device{}, false
	}
	return *d, true
}

// LatestPosition returns the cached latest position for a device.
func (s *Store) LatestPosition(id int64) (Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.positions[id]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// Trail returns the device's bounded position trail, most recent first.
func (s *Store) Trail(id int64) []Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail := make([]Position, len(s.trails[id]))
	copy(trail, s.trails[id])
	return trail
}

// Alerts returns the bounded alert log, newest first.
func (s *Store) Alerts() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alerts := make([]Alert, len(s.alerts))
	copy(alerts, s.alerts)
	return alerts
}

// SharedUsers returns all users currently sharing a location, sorted by id.
func (s *Store) SharedUsers() []SharedUser {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]SharedUser, 0, len(s.sharedUsers))
	for _, u := range s.sharedUsers {
		users = append(users, *u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// IsOnline reports whether the device reported within the online window.
func (s *Store) IsOnline(id int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.onlineLocked(id)
}

// onlineLocked derives online state. Caller must hold s.mu.
func (s *Store) onlineLocked(id int64) bool {
	d := s.devices[id]
	if d == nil || d.LastSeenAt == nil {
		return false
	}
	return s.now().Sub(*d.LastSeenAt) < s.onlineWindow
}

// movingLocked derives moving state. Caller must hold s.mu.
// An offline device is never moving, whatever its last flag said.
func (s *Store) movingLocked(id int64) bool {
	pos := s.positions[id]
	if pos == nil || pos.IsMoving == nil || !*pos.IsMoving {
		return false
	}
	return s.onlineLocked(id)
}

// DisplayState derives the three-way rendering state for a device.
// Offline takes precedence over the moving flag.
func (s *Store) DisplayState(id int64) DisplayState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.onlineLocked(id) {
		return DisplayOffline
	}
	if s.movingLocked(id) {
		return DisplayMoving
	}
	return DisplayStationary
}

// AllTargets produces the flat polymorphic target list: devices that
// currently have a cached position, then all shared user locations.
// Used by the target picker and the fit-all focus mode.
func (s *Store) AllTargets() []Target {
	s.mu.RLock()
	defer s.mu.RUnlock()

	targets := make([]Target, 0, len(s.positions)+len(s.sharedUsers))

	deviceIDs := make([]int64, 0, len(s.positions))
	for id := range s.positions {
		deviceIDs = append(deviceIDs, id)
	}
	sort.Slice(deviceIDs, func(i, j int) bool { return deviceIDs[i] < deviceIDs[j] })
	for _, id := range deviceIDs {
		pos := s.positions[id]
		name := ""
		if d := s.devices[id]; d != nil {
			name = d.Label()
		}
		targets = append(targets, Target{
			ID:        id,
			Type:      TargetDevice,
			Name:      name,
			Latitude:  pos.Latitude,
			Longitude: pos.Longitude,
			IsMoving:  s.movingLocked(id),
			IsOnline:  s.onlineLocked(id),
		})
	}

	userIDs := make([]int64, 0, len(s.sharedUsers))
	for id := range s.sharedUsers {
		userIDs = append(userIDs, id)
	}
	sort.Slice(userIDs, func(i, j int) bool { return userIDs[i] < userIDs[j] })
	for _, id := range userIDs {
		u := s.sharedUsers[id]
		targets = append(targets, Target{
			ID:        id,
			Type:      TargetSharedUser,
			Name:      u.Label(),
			Latitude:  u.Location.Latitude,
			Longitude: u.Location.Longitude,
			IsOnline:  true,
		})
	}

	return targets
}

// Focus returns the current map-focus state.
func (s *Store) Focus() Focus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.focus
}

// SelectDevice focuses the map on one device. Selecting always implies
// target mode, whatever the previous mode.
func (s *Store) SelectDevice(id int64) {
	s.applyFocus(cmdSelectDevice{id: id})
}

// SetFreePan releases the map to free panning, clearing any target.
func (s *Store) SetFreePan() {
	s.applyFocus(cmdFreePan{})
}

// CenterOnAllTargets focuses the map to fit every known target.
func (s *Store) CenterOnAllTargets() {
	s.applyFocus(cmdAllTargets{})
}

// SetTarget focuses the map on the given target, or falls back to free
// pan when id is zero. Id and type are set atomically.
func (s *Store) SetTarget(id int64, typ TargetType) {
	s.applyFocus(cmdSetTarget{id: id, typ: typ})
}

// CenterOnMyLocation focuses the map on the local user.
//
// The mode switches immediately even when no location is cached yet;
// acquisition is triggered in the background and consumers tolerate a
// focus mode with a momentarily absent coordinate.
func (s *Store) CenterOnMyLocation() {
	s.mu.Lock()
	s.focus = nextFocus(s.focus, cmdMyLocation{})
	needFetch := s.userLoc == nil
	s.mu.Unlock()

	if needFetch {
		go s.RequestUserLocation()
	}
}

// applyFocus runs one command through the focus transition function.
func (s *Store) applyFocus(cmd focusCommand) {
	s.mu.Lock()
	s.focus = nextFocus(s.focus, cmd)
	s.mu.Unlock()
}

// RequestUserLocation acquires the local user's position once.
//
// On success the location is stored, any previous geolocation error is
// cleared, and the fix is reported to the backend; a report failure is
// logged only, never surfaced and never rolled back. On failure the
// platform's failure code maps to a user-facing message kept as store
// error state. There is no automatic retry.
func (s *Store) RequestUserLocation() {
	ctx, cancel := context.WithTimeout(context.Background(), geoTimeout)
	defer cancel()

	loc, err := s.geo.CurrentLocation(ctx, GeoRequest{
		HighAccuracy: true,
		Timeout:      geoTimeout,
		MaxAge:       geoMaxAge,
	})
	if err != nil {
		msg := geoErrorMessage(err)
		s.mu.Lock()
		s.locErrMsg = msg
		s.mu.Unlock()
		s.log().Warn("geolocation failed", "error", err)
		return
	}

	s.mu.Lock()
	s.userLoc = &loc
	s.locErrMsg = ""
	s.mu.Unlock()

	if err := s.backend.ShareLocation(ctx, loc); err != nil {
		s.log().Warn("sharing location upstream failed", "error", err)
	}
}

// UserLocation returns the local user's cached location, or nil when
// none has been acquired.
func (s *Store) UserLocation() *UserLocation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.userLoc == nil {
		return nil
	}
	loc := *s.userLoc
	return &loc
}

// LocationError returns the current user-facing geolocation error
// message, or empty when there is none.
func (s *Store) LocationError() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.locErrMsg
}

// ClearUserLocation clears the cached location and any geolocation
// error. Idempotent.
func (s *Store) ClearUserLocation() {
	s.mu.Lock()
	s.userLoc = nil
	s.locErrMsg = ""
	s.mu.Unlock()
}
