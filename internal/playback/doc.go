// Package playback reconstructs and replays historical movement for
// one tracked entity over a date range.
//
// This package manages:
//   - Date-bounded historical position loads with last-request-wins
//     supersession
//   - Range summaries: point count, Haversine distance, max/mean speed,
//     duration
//   - An inclusive time-of-day filter over the loaded sequence
//   - A discrete playback cursor stepped by a repeating timer
//   - Fixed 10-minute speed buckets for the scrub-bar overview
//
// # Architecture
//
// The controller owns one loaded sequence at a time. Every range load
// carries a monotonically increasing sequence token; a load finishing
// after a newer one has started discards its result, so two in-flight
// loads can never apply out of order.
//
// Playback is a three-state machine (idle, playing, paused). The timer
// fires every tick interval divided by the speed multiplier and
// advances the cursor by one; reaching the last index stops the timer
// and pauses. The timer is guaranteed-cleared on pause, reset, jump,
// filter change, new load, and teardown.
//
// # Usage
//
//	ctrl := playback.New(cfg.Playback, apiClient)
//	ctrl.SetLogger(logger.With("component", "playback"))
//	defer ctrl.Close()
//
//	if err := ctrl.LoadRange(ctx, deviceID, day, day); err != nil {
//	    return err
//	}
//	ctrl.SetHourRange(8, 18)
//	ctrl.Play()
package playback
