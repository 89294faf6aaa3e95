// Package channel maintains the push connection to the tracking backend.
//
// This package manages:
//   - One logical websocket connection with token authentication
//   - A subscription ledger that survives reconnects
//   - Typed inbound message dispatch to registered listeners
//   - Automatic reconnection with linear backoff
//
// # Architecture
//
// The backend pushes position, alert and shared-user-location events
// over a websocket carrying JSON envelopes. The client keeps a ledger
// of subscribed device ids as the sole source of truth: after every
// successful (re)connect the full ledger is replayed in one subscribe
// message, never a diff.
//
// Inbound frames are decoded into a closed set of message types
// (Message/MessageType) and dispatched on the read goroutine, so
// listeners observe messages in arrival order. A frame that fails to
// decode is dropped and logged; it is never fatal and never triggers
// reconnection.
//
// # Reconnection
//
// After an unexpected close, attempt n is scheduled after
// BaseDelay * n (linear backoff) up to MaxAttempts attempts. The
// counter resets on any successful open. Disconnect cancels any
// pending attempt, clears the ledger and all listeners, and suppresses
// automatic reconnection until the next explicit Connect.
//
// # Usage
//
//	client := channel.New(cfg.Channel)
//	client.SetLogger(logger.With("component", "channel"))
//
//	remove := client.On(channel.TypePosition, func(m channel.Message) {
//	    pos := m.(*channel.PositionMessage)
//	    store.ApplyPosition(pos.DeviceID, ...)
//	})
//	defer remove()
//
//	if err := client.Connect(ctx, cfg.Server.Token); err != nil {
//	    return err
//	}
//	client.Subscribe([]int64{1, 2, 3})
//	defer client.Disconnect()
package channel
