package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/trackview/trackview-core/internal/infrastructure/config"
	"github.com/trackview/trackview-core/internal/tracking"
)

// maxRangePoints bounds a single historical range fetch.
const maxRangePoints = 5000

// Logger defines the logging interface used by the Controller.
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

// Source is the slice of the backend API the controller consumes.
type Source interface {
	Positions(ctx context.Context, id int64, from, to time.Time, limit int) ([]tracking.Position, error)
	DatesWithData(ctx context.Context, id int64) ([]time.Time, error)
}

// State is the playback state machine's current state.
type State int

// Playback states.
const (
	StateIdle State = iota
	StatePlaying
	StatePaused
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "idle"
	}
}

// Summary aggregates a loaded position range.
//
// Distance is the Haversine great-circle sum over consecutive pairs.
// Speeds treat a missing reading as 0. An empty range produces no
// summary at all rather than a zero-valued one.
type Summary struct {
	PointCount      int
	TotalDistanceKm float64
	MaxSpeed        float64
	AvgSpeed        float64
	Duration        time.Duration
	Start           time.Time
	End             time.Time
}

// Controller reconstructs and replays historical movement for one
// entity over a date range.
//
// It loads a date-bounded position sequence, computes summary
// statistics, applies an inclusive time-of-day filter, aggregates
// speeds into fixed scrub-bar buckets, and advances a discrete cursor
// on a repeating timer.
//
// Thread Safety:
//   - All public methods are safe for concurrent use.
//   - The tick callback is invoked without the controller lock held.
type Controller struct {
	source   Source
	logger   Logger
	tickBase time.Duration

	mu        sync.Mutex
	seq       uint64
	deviceID  int64
	loaded    []tracking.Position
	filtered  []tracking.Position
	summary   *Summary
	hourStart float64
	hourEnd   float64
	cursor    int
	state     State
	speed     float64
	stop      chan struct{}
	onTick    func(index int, pos tracking.Position)
}

// New creates a playback controller reading history from source.
func New(cfg config.PlaybackConfig, source Source) *Controller {
	return &Controller{
		source:    source,
		logger:    noopLogger{},
		tickBase:  time.Duration(cfg.TickMillis) * time.Millisecond,
		hourStart: 0,
		hourEnd:   24,
		cursor:    -1,
		speed:     cfg.Speed,
	}
}

// SetLogger sets the logger for the controller.
func (c *Controller) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// SetTickFunc registers a callback invoked after every cursor advance.
// Used by the UI layer to move the playback marker.
func (c *Controller) SetTickFunc(fn func(index int, pos tracking.Position)) {
	c.mu.Lock()
	c.onTick = fn
	c.mu.Unlock()
}

// LoadRange fetches the entity's positions within
// [startOfDay(startDate), endOfDay(endDate)] and replaces the loaded
// sequence, the summary, and the filtered view. Any running playback
// stops and the cursor unsets.
//
// Loads are last-request-wins: a load that finishes after a newer load
// has started discards its result and returns ErrSuperseded.
func (c *Controller) LoadRange(ctx context.Context, deviceID int64, startDate, endDate time.Time) error {
	c.mu.Lock()
	c.seq++
	token := c.seq
	c.mu.Unlock()

	from := startOfDay(startDate)
	to := endOfDay(endDate)
	positions, err := c.source.Positions(ctx, deviceID, from, to, maxRangePoints)

	c.mu.Lock()
	defer c.mu.Unlock()
	if token != c.seq {
		return ErrSuperseded
	}
	if err != nil {
		return fmt.Errorf("loading range: %w", err)
	}

	c.stopLocked()
	c.state = StateIdle
	c.cursor = -1
	c.deviceID = deviceID
	c.loaded = positions
	c.filtered = filterByHour(positions, c.hourStart, c.hourEnd)
	c.summary = summarize(positions)

	c.logger.Info("range loaded",
		"device_id", deviceID,
		"from", from,
		"to", to,
		"points", len(positions),
	)
	return nil
}

// summarize computes the range summary, or nil for an empty range.
func summarize(positions []tracking.Position) *Summary {
	if len(positions) == 0 {
		return nil
	}

	s := &Summary{
		PointCount: len(positions),
		Start:      positions[0].Timestamp,
		End:        positions[len(positions)-1].Timestamp,
	}
	s.Duration = s.End.Sub(s.Start)

	var speedSum float64
	for i, pos := range positions {
		speed := 0.0
		if pos.Speed != nil {
			speed = *pos.Speed
		}
		speedSum += speed
		if speed > s.MaxSpeed {
			s.MaxSpeed = speed
		}
		if i > 0 {
			prev := positions[i-1]
			s.TotalDistanceKm += haversineKm(prev.Latitude, prev.Longitude, pos.Latitude, pos.Longitude)
		}
	}
	s.AvgSpeed = speedSum / float64(len(positions))
	return s
}

// filterByHour retains positions whose local hour-of-day falls within
// the inclusive bounds [start, end] in fractional hours.
func filterByHour(positions []tracking.Position, start, end float64) []tracking.Position {
	filtered := make([]tracking.Position, 0, len(positions))
	for _, pos := range positions {
		h := hourOfDay(pos.Timestamp)
		if h >= start && h <= end {
			filtered = append(filtered, pos)
		}
	}
	return filtered
}

// SetHourRange changes the inclusive time-of-day filter bounds, in
// fractional hours 0-24, and resets the playback cursor to unset.
func (c *Controller) SetHourRange(start, end float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopLocked()
	c.state = StateIdle
	c.cursor = -1
	c.hourStart = start
	c.hourEnd = end
	c.filtered = filterByHour(c.loaded, start, end)
}

// HourRange returns the current time-of-day filter bounds.
func (c *Controller) HourRange() (start, end float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hourStart, c.hourEnd
}

// Play starts or resumes stepped playback.
//
// With an unset cursor, or a cursor already at the last index, playback
// restarts from 0. An empty filtered sequence is a no-op. The timer
// fires every tick interval divided by the speed multiplier.
func (c *Controller) Play() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.filtered) == 0 || c.state == StatePlaying {
		return
	}
	if c.cursor < 0 || c.cursor >= len(c.filtered)-1 {
		c.cursor = 0
	}
	c.state = StatePlaying
	c.startLocked()
}

// Pause stops the playback timer without moving the cursor.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StatePlaying {
		return
	}
	c.stopLocked()
	c.state = StatePaused
}

// Reset stops the playback timer and unsets the cursor, returning to
// idle from any state.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocked()
	c.state = StateIdle
	c.cursor = -1
}

// JumpTo moves the cursor directly to index, clamped to the filtered
// sequence, and implicitly pauses. A no-op when nothing is loaded.
func (c *Controller) JumpTo(index int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.filtered) == 0 {
		return
	}
	if index < 0 {
		index = 0
	}
	if index > len(c.filtered)-1 {
		index = len(c.filtered) - 1
	}
	c.stopLocked()
	c.state = StatePaused
	c.cursor = index
}

// SetSpeed changes the playback speed multiplier. A running timer
// restarts at the new interval.
func (c *Controller) SetSpeed(speed float64) {
	if speed <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.speed = speed
	if c.state == StatePlaying {
		c.stopLocked()
		c.startLocked()
	}
}

// startLocked launches the ticker goroutine. Caller must hold c.mu.
func (c *Controller) startLocked() {
	stop := make(chan struct{})
	c.stop = stop
	interval := time.Duration(float64(c.tickBase) / c.speed)
	go c.run(stop, interval)
}

// stopLocked halts any running ticker goroutine. Caller must hold
// c.mu. Safe to call when nothing is running.
func (c *Controller) stopLocked() {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}
}

// run is the ticker goroutine. It exits when stop closes, which
// happens on pause, reset, jump, a new load, teardown, or reaching the
// end of the sequence.
func (c *Controller) run(stop chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.advance(stop)
		}
	}
}

// advance moves the cursor one step forward. Reaching the last index
// stops the timer and leaves the state paused; there is no wraparound
// and no overshoot.
func (c *Controller) advance(stop chan struct{}) {
	c.mu.Lock()
	if c.stop != stop {
		// A stale tick from a timer already replaced or stopped.
		c.mu.Unlock()
		return
	}

	last := len(c.filtered) - 1
	if c.cursor >= last {
		c.stopLocked()
		c.state = StatePaused
		c.mu.Unlock()
		return
	}

	c.cursor++
	index := c.cursor
	pos := c.filtered[index]
	if index == last {
		c.stopLocked()
		c.state = StatePaused
	}
	onTick := c.onTick
	c.mu.Unlock()

	if onTick != nil {
		onTick(index, pos)
	}
}

// Close stops any running playback timer. Call on teardown.
func (c *Controller) Close() {
	c.Reset()
}

// State returns the playback state machine's current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Cursor returns the current cursor index, or false when unset.
func (c *Controller) Cursor() (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor < 0 {
		return 0, false
	}
	return c.cursor, true
}

// Current returns the position under the cursor, or false when the
// cursor is unset.
func (c *Controller) Current() (tracking.Position, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cursor < 0 || c.cursor >= len(c.filtered) {
		return tracking.Position{}, false
	}
	return c.filtered[c.cursor], true
}

// Positions returns a copy of the filtered position sequence.
func (c *Controller) Positions() []tracking.Position {
	c.mu.Lock()
	defer c.mu.Unlock()
	positions := make([]tracking.Position, len(c.filtered))
	copy(positions, c.filtered)
	return positions
}

// Summary returns the loaded range's summary, or nil when the range is
// empty or nothing is loaded.
func (c *Controller) Summary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.summary == nil {
		return nil
	}
	s := *c.summary
	return &s
}

// SpeedBuckets aggregates the filtered sequence into the fixed
// scrub-bar buckets, each holding the maximum observed speed.
func (c *Controller) SpeedBuckets() [BucketCount]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return speedBuckets(c.filtered)
}

// NearestIndexToHour returns the index of the filtered position whose
// hour-of-day is closest to hour, ties broken by first occurrence.
// Returns -1 when the filtered sequence is empty.
func (c *Controller) NearestIndexToHour(hour float64) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return nearestIndexToHour(c.filtered, hour)
}

// Dates returns the calendar dates for which the entity has recorded
// positions, for date-picker highlighting.
func (c *Controller) Dates(ctx context.Context, deviceID int64) ([]time.Time, error) {
	return c.source.DatesWithData(ctx, deviceID)
}

// startOfDay returns midnight at the start of t's day.
func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// endOfDay returns the last representable instant of t's day.
func endOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 23, 59, 59, int(time.Second-time.Nanosecond), t.Location())
}
