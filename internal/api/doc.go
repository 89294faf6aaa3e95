// Package api is the client for the backend REST API.
//
// This package manages:
//   - Device listing and latest-position fetches for the tracking store
//   - Historical position range queries for playback
//   - Shared user location listing and upstream location reporting
//   - Bearer-token authentication and structured error decoding
//
// # Architecture
//
// The Client is a thin typed wrapper over net/http. Wire structs decode
// the backend's ISO-8601 timestamp flavor via isotime and convert to
// tracking types at the package boundary, so nothing outside this
// package sees wire formats.
//
// Non-2xx responses decode into *Error carrying the status and the
// backend's detail message; 401 and 404 map onto the ErrUnauthorized
// and ErrNotFound sentinels for errors.Is checks. A latest-position 404
// is not an error at all: it means the device has not reported yet and
// is returned as (nil, nil), matching the tracking store's Backend
// contract.
//
// # Usage
//
//	client := api.New(cfg.Server)
//	client.SetLogger(logger.With("component", "api"))
//
//	devices, err := client.ListDevices(ctx)
//	if err != nil {
//	    if errors.Is(err, api.ErrUnauthorized) {
//	        // re-authenticate
//	    }
//	    return err
//	}
package api
