package tracking

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Geolocation acquisition parameters. Acquisition is one-shot, high
// accuracy, and never accepts a cached fix.
const (
	geoTimeout = 10 * time.Second
	geoMaxAge  = 0
)

// GeoRequest carries acquisition options to the platform geolocator.
type GeoRequest struct {
	HighAccuracy bool
	Timeout      time.Duration
	MaxAge       time.Duration
}

// Geolocator acquires the local user's position from the platform.
//
// Implementations live outside this package (browser bridge, mobile
// shell, test fake). Failures should be reported as *GeoError so they
// map to the right user-facing message.
type Geolocator interface {
	CurrentLocation(ctx context.Context, req GeoRequest) (UserLocation, error)
}

// GeoErrorCode classifies geolocation failures, mirroring the
// platform's three standard codes plus a catch-all.
type GeoErrorCode int

// Geolocation failure codes.
const (
	GeoUnknown GeoErrorCode = iota
	GeoPermissionDenied
	GeoPositionUnavailable
	GeoTimeout
)

// GeoError is a classified geolocation failure.
type GeoError struct {
	Code GeoErrorCode
	Err  error
}

// Error implements error.
func (e *GeoError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geolocation: %v", e.Err)
	}
	return "geolocation failed"
}

// Unwrap supports errors.Is/As chains.
func (e *GeoError) Unwrap() error { return e.Err }

// User-facing messages for geolocation failures. Stored as store-level
// error state until cleared by the user or the next successful fix.
const (
	msgGeoPermissionDenied = "Location access was denied. Allow location access to share your position."
	msgGeoUnavailable      = "Your position could not be determined."
	msgGeoTimeout          = "Locating you took too long. Try again."
	msgGeoGeneric          = "Your location could not be acquired."
)

// geoErrorMessage maps a geolocation failure to its user-facing message.
func geoErrorMessage(err error) string {
	var geoErr *GeoError
	if !errors.As(err, &geoErr) {
		return msgGeoGeneric
	}
	switch geoErr.Code {
	case GeoPermissionDenied:
		return msgGeoPermissionDenied
	case GeoPositionUnavailable:
		return msgGeoUnavailable
	case GeoTimeout:
		return msgGeoTimeout
	default:
		return msgGeoGeneric
	}
}
