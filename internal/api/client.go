package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/trackview/trackview-core/internal/infrastructure/config"
	"github.com/trackview/trackview-core/internal/isotime"
	"github.com/trackview/trackview-core/internal/tracking"
)

// Logger defines the logging interface used by the Client.
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

// Client talks to the backend REST API.
//
// It satisfies the tracking store's Backend contract: a device with no
// recorded position yet is reported as (nil, nil), not as an error.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	http    *http.Client

	mu     sync.Mutex
	logger Logger
}

// New creates a backend API client from server configuration.
func New(cfg config.ServerConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    &http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second},
		logger:  noopLogger{},
	}
}

// SetLogger sets the logger for the client.
func (c *Client) SetLogger(logger Logger) {
	c.mu.Lock()
	c.logger = logger
	c.mu.Unlock()
}

// log returns the current logger.
func (c *Client) log() Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logger
}

// Wire representations. Timestamps come back in the backend's ISO-8601
// flavor, which isotime tolerates; they are converted to time.Time at
// the package boundary.

type wireDevice struct {
	ID           int64         `json:"id"`
	Key          int64         `json:"device_key"`
	SerialNumber string        `json:"serial_number"`
	Name         *string       `json:"name"`
	Enabled      bool          `json:"enabled"`
	LastSeenAt   *isotime.Time `json:"last_seen_at"`
}

func (w wireDevice) toDevice() tracking.Device {
	d := tracking.Device{
		ID:           w.ID,
		Key:          w.Key,
		SerialNumber: w.SerialNumber,
		Name:         w.Name,
		Enabled:      w.Enabled,
	}
	if w.LastSeenAt != nil {
		ts := w.LastSeenAt.Time
		d.LastSeenAt = &ts
	}
	return d
}

type wirePosition struct {
	DeviceID   int64        `json:"device_id"`
	Timestamp  isotime.Time `json:"timestamp"`
	Latitude   float64      `json:"latitude"`
	Longitude  float64      `json:"longitude"`
	Altitude   *int         `json:"altitude"`
	Speed      *float64     `json:"speed"`
	Heading    *int         `json:"heading"`
	Satellites *int         `json:"satellites"`
	Battery    *int         `json:"battery"`
	IsMoving   *bool        `json:"is_moving"`
}

func (w wirePosition) toPosition() tracking.Position {
	return tracking.Position{
		DeviceID:   w.DeviceID,
		Timestamp:  w.Timestamp.Time,
		Latitude:   w.Latitude,
		Longitude:  w.Longitude,
		Altitude:   w.Altitude,
		Speed:      w.Speed,
		Heading:    w.Heading,
		Satellites: w.Satellites,
		Battery:    w.Battery,
		IsMoving:   w.IsMoving,
	}
}

type wireUserLocation struct {
	UserID    int64        `json:"user_id"`
	UserName  string       `json:"user_name"`
	UserEmail string       `json:"user_email"`
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Accuracy  float64      `json:"accuracy"`
	Timestamp isotime.Time `json:"timestamp"`
}

func (w wireUserLocation) toSharedUser() tracking.SharedUser {
	return tracking.SharedUser{
		UserID: w.UserID,
		Name:   w.UserName,
		Email:  w.UserEmail,
		Location: tracking.UserLocation{
			Latitude:  w.Latitude,
			Longitude: w.Longitude,
			Accuracy:  w.Accuracy,
			Timestamp: w.Timestamp.Time,
		},
	}
}

// ListDevices returns all devices registered to the authenticated user.
func (c *Client) ListDevices(ctx context.Context) ([]tracking.Device, error) {
	var wire []wireDevice
	if err := c.get(ctx, "/api/devices", nil, &wire); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	devices := make([]tracking.Device, 0, len(wire))
	for _, w := range wire {
		devices = append(devices, w.toDevice())
	}
	return devices, nil
}

// LatestPosition returns the most recent position recorded for a
// device, or (nil, nil) when the device has no position yet.
func (c *Client) LatestPosition(ctx context.Context, id int64) (*tracking.Position, error) {
	var wire wirePosition
	err := c.get(ctx, fmt.Sprintf("/api/devices/%d/positions/latest", id), nil, &wire)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching latest position for device %d: %w", id, err)
	}
	pos := wire.toPosition()
	if pos.DeviceID == 0 {
		pos.DeviceID = id
	}
	return &pos, nil
}

// Positions returns a device's positions within [from, to], oldest
// first, up to limit entries. A non-positive limit means no limit.
//
// The backend wraps the list in a paging envelope and serves it newest
// first; the result is normalised to ascending timestamp order, which
// is what playback steps through.
func (c *Client) Positions(ctx context.Context, id int64, from, to time.Time, limit int) ([]tracking.Position, error) {
	query := url.Values{}
	query.Set("from", from.UTC().Format(time.RFC3339))
	query.Set("to", to.UTC().Format(time.RFC3339))
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}

	var wire struct {
		DeviceID  int64          `json:"device_id"`
		Positions []wirePosition `json:"positions"`
		Total     int            `json:"total"`
		HasMore   bool           `json:"has_more"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/devices/%d/positions", id), query, &wire); err != nil {
		return nil, fmt.Errorf("fetching positions for device %d: %w", id, err)
	}
	positions := make([]tracking.Position, 0, len(wire.Positions))
	for _, w := range wire.Positions {
		pos := w.toPosition()
		if pos.DeviceID == 0 {
			pos.DeviceID = id
		}
		positions = append(positions, pos)
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Timestamp.Before(positions[j].Timestamp)
	})
	if wire.HasMore {
		c.log().Debug("position range truncated by backend", "device_id", id, "total", wire.Total)
	}
	return positions, nil
}

// DatesWithData returns the calendar dates for which a device has
// recorded positions, as reported by the backend.
func (c *Client) DatesWithData(ctx context.Context, id int64) ([]time.Time, error) {
	var wire struct {
		DeviceID int64    `json:"device_id"`
		Dates    []string `json:"dates"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/devices/%d/position-dates", id), nil, &wire); err != nil {
		return nil, fmt.Errorf("fetching position dates for device %d: %w", id, err)
	}
	dates := make([]time.Time, 0, len(wire.Dates))
	for _, s := range wire.Dates {
		d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("parsing position date %q: %w", s, err)
		}
		dates = append(dates, d)
	}
	return dates, nil
}

// UserLocations returns the locations other users are currently sharing.
func (c *Client) UserLocations(ctx context.Context) ([]tracking.SharedUser, error) {
	var wire []wireUserLocation
	if err := c.get(ctx, "/api/users/locations", nil, &wire); err != nil {
		return nil, fmt.Errorf("listing user locations: %w", err)
	}
	users := make([]tracking.SharedUser, 0, len(wire))
	for _, w := range wire {
		users = append(users, w.toSharedUser())
	}
	return users, nil
}

// ShareLocation reports the local user's location to the backend so
// other users can see it.
func (c *Client) ShareLocation(ctx context.Context, loc tracking.UserLocation) error {
	body := struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Accuracy  float64 `json:"accuracy"`
		Timestamp string  `json:"timestamp"`
	}{
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Accuracy:  loc.Accuracy,
		Timestamp: loc.Timestamp.UTC().Format(time.RFC3339),
	}
	if err := c.post(ctx, "/api/users/locations", body, nil); err != nil {
		return fmt.Errorf("sharing location: %w", err)
	}
	return nil
}

// get performs an authenticated GET and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	return c.do(req, out)
}

// post performs an authenticated POST with a JSON body and decodes the
// JSON response into out when out is non-nil.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

// do executes the request, maps non-2xx responses to *Error, and
// decodes a successful response into out when out is non-nil.
func (c *Client) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	c.log().Debug("backend request", "method", req.Method, "path", req.URL.Path)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// decodeError turns a non-2xx response into a *Error, pulling the
// backend's detail message out of the body when present.
func decodeError(resp *http.Response) error {
	apiErr := &Error{Status: resp.StatusCode}

	var body struct {
		Detail string `json:"detail"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil {
		apiErr.Detail = body.Detail
	}
	return apiErr
}

// isNotFound reports whether err is a backend 404.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
