package channel

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    MessageType
		wantErr error
	}{
		{
			name: "position",
			raw:  `{"type": "position", "device_id": 7, "data": {"timestamp": "2024-05-01T08:30:00", "latitude": 51.5, "longitude": -0.12}}`,
			want: TypePosition,
		},
		{
			name: "alert",
			raw:  `{"type": "alert", "device_id": 7, "alert_type": "sos", "message": "SOS pressed"}`,
			want: TypeAlert,
		},
		{
			name: "user location",
			raw:  `{"type": "user_location", "user_id": 3, "latitude": 48.8, "longitude": 2.35}`,
			want: TypeUserLocation,
		},
		{
			name: "subscribe ack",
			raw:  `{"type": "subscribed", "device_ids": [1, 2, 3]}`,
			want: TypeSubscribed,
		},
		{
			name: "unsubscribe ack",
			raw:  `{"type": "unsubscribed", "device_ids": [2]}`,
			want: TypeUnsubscribed,
		},
		{
			name: "pong",
			raw:  `{"type": "pong"}`,
			want: TypePong,
		},
		{
			name:    "missing type",
			raw:     `{"device_id": 7}`,
			wantErr: ErrMalformedMessage,
		},
		{
			name:    "unknown type",
			raw:     `{"type": "telemetry"}`,
			wantErr: ErrUnknownMessageType,
		},
		{
			name:    "not json",
			raw:     `not json at all`,
			wantErr: nil, // any error is acceptable, checked below
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := decodeMessage([]byte(tt.raw))

			if tt.want != "" {
				if err != nil {
					t.Fatalf("decodeMessage() error: %v", err)
				}
				if msg.Kind() != tt.want {
					t.Errorf("Kind() = %q, want %q", msg.Kind(), tt.want)
				}
				return
			}

			if err == nil {
				t.Fatal("decodeMessage() = nil error, want failure")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecodeMessage_PositionPayload(t *testing.T) {
	raw := `{
		"type": "position",
		"device_id": 7,
		"data": {
			"timestamp": "2024-05-01T08:30:00.500000",
			"latitude": 51.5,
			"longitude": -0.12,
			"speed": 42.5,
			"is_moving": true
		}
	}`

	msg, err := decodeMessage([]byte(raw))
	if err != nil {
		t.Fatalf("decodeMessage() error: %v", err)
	}

	pos, ok := msg.(*PositionMessage)
	if !ok {
		t.Fatalf("decoded %T, want *PositionMessage", msg)
	}
	if pos.DeviceID != 7 {
		t.Errorf("DeviceID = %d, want 7", pos.DeviceID)
	}
	if pos.Data.Latitude == nil || *pos.Data.Latitude != 51.5 {
		t.Errorf("Latitude = %v, want 51.5", pos.Data.Latitude)
	}
	if pos.Data.Speed == nil || *pos.Data.Speed != 42.5 {
		t.Errorf("Speed = %v, want 42.5", pos.Data.Speed)
	}
	if pos.Data.Altitude != nil {
		t.Errorf("absent Altitude = %v, want nil", pos.Data.Altitude)
	}
	if pos.Data.IsMoving == nil || !*pos.Data.IsMoving {
		t.Errorf("IsMoving = %v, want true", pos.Data.IsMoving)
	}

	want := time.Date(2024, 5, 1, 8, 30, 0, 500000000, time.UTC)
	if !pos.Data.Timestamp.Equal(want) {
		t.Errorf("Timestamp = %v, want %v", pos.Data.Timestamp.Time, want)
	}
}

func TestDecodeMessage_AckDeviceIDs(t *testing.T) {
	msg, err := decodeMessage([]byte(`{"type": "subscribed", "device_ids": [1, 2, 3]}`))
	if err != nil {
		t.Fatalf("decodeMessage() error: %v", err)
	}
	ack, ok := msg.(*AckMessage)
	if !ok {
		t.Fatalf("decoded %T, want *AckMessage", msg)
	}
	if len(ack.DeviceIDs) != 3 || ack.DeviceIDs[0] != 1 {
		t.Errorf("DeviceIDs = %v, want [1 2 3]", ack.DeviceIDs)
	}
}
