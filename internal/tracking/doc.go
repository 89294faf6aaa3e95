// Package tracking holds the canonical live state of all tracked
// entities and the map-focus intent.
//
// This package manages:
//   - The device registry and one latest position per device
//   - Bounded most-recent-first position trails
//   - The focus state machine (free pan, my location, target, all targets)
//   - Shared user locations and the bounded device alert log
//   - Local geolocation acquisition and upstream sharing
//
// # Architecture
//
// The store is a thin consistency layer over push and poll: the device
// registry and initial positions come from the backend's fetch
// contract, after which push-channel events mutate state. All
// mutations go through two reducers, ApplyPosition (field-wise merge)
// and nextFocus (focus transitions), so interleaved callbacks cannot
// corrupt invariants: a merge never clobbers fields absent from the
// in-flight update, and a registry refresh never drops positions
// cached for devices that survive the refresh.
//
// Online state is derived, not stored: a device is online while its
// last report is younger than the configured window, and moving only
// while online. Offline takes precedence over the moving flag.
//
// # Usage
//
//	store := tracking.New(cfg.Tracking, apiClient, chClient, locator)
//	store.SetLogger(logger.With("component", "tracking"))
//	store.Start()
//	defer store.Close()
//
//	devices, err := apiClient.ListDevices(ctx)
//	if err != nil {
//	    return err
//	}
//	store.IngestDevices(ctx, devices)
package tracking
