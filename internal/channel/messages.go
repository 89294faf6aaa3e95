package channel

import (
	"encoding/json"
	"fmt"

	"github.com/trackview/trackview-core/internal/isotime"
)

// MessageType identifies the kind of an inbound channel message.
// The set is closed; unknown types fail decoding and are dropped.
type MessageType string

// Inbound message types.
const (
	TypePosition     MessageType = "position"
	TypeAlert        MessageType = "alert"
	TypeUserLocation MessageType = "user_location"
	TypeSubscribed   MessageType = "subscribed"
	TypeUnsubscribed MessageType = "unsubscribed"
	TypePong         MessageType = "pong"
)

// Message is the tagged union of all inbound channel messages.
// Listeners registered for a type receive the corresponding concrete
// message and may type-assert without a failure branch.
type Message interface {
	Kind() MessageType
}

// PositionData is the partial position payload of a position message.
// Pointer fields are absent when nil; the consumer merges them onto
// previously known values.
type PositionData struct {
	Timestamp  isotime.Time `json:"timestamp"`
	Latitude   *float64     `json:"latitude"`
	Longitude  *float64     `json:"longitude"`
	Altitude   *int         `json:"altitude"`
	Speed      *float64     `json:"speed"`
	Heading    *int         `json:"heading"`
	Satellites *int         `json:"satellites"`
	HDOP       *float64     `json:"hdop"`
	Battery    *int         `json:"battery"`
	IsMoving   *bool        `json:"is_moving"`
	GPSValid   *bool        `json:"gps_valid"`
}

// PositionMessage carries a live position update for one device.
type PositionMessage struct {
	DeviceID int64        `json:"device_id"`
	Data     PositionData `json:"data"`
}

// Kind implements Message.
func (*PositionMessage) Kind() MessageType { return TypePosition }

// AlertMessage carries a device alert.
type AlertMessage struct {
	DeviceID  int64        `json:"device_id"`
	AlertType string       `json:"alert_type"`
	Message   string       `json:"message"`
	Timestamp isotime.Time `json:"timestamp"`
}

// Kind implements Message.
func (*AlertMessage) Kind() MessageType { return TypeAlert }

// UserLocationMessage carries another user's shared location.
type UserLocationMessage struct {
	UserID    int64        `json:"user_id"`
	UserName  string       `json:"user_name"`
	UserEmail string       `json:"user_email"`
	Latitude  float64      `json:"latitude"`
	Longitude float64      `json:"longitude"`
	Accuracy  float64      `json:"accuracy"`
	Timestamp isotime.Time `json:"timestamp"`
}

// Kind implements Message.
func (*UserLocationMessage) Kind() MessageType { return TypeUserLocation }

// AckMessage acknowledges a subscribe or unsubscribe request.
type AckMessage struct {
	kind      MessageType
	DeviceIDs []int64 `json:"device_ids"`
}

// Kind implements Message.
func (m *AckMessage) Kind() MessageType { return m.kind }

// PongMessage answers a client ping.
type PongMessage struct{}

// Kind implements Message.
func (*PongMessage) Kind() MessageType { return TypePong }

// subscribeMessage is the outbound subscribe/unsubscribe envelope.
type subscribeMessage struct {
	Type      string  `json:"type"`
	DeviceIDs []int64 `json:"device_ids"`
}

// pingMessage is the outbound keepalive envelope.
type pingMessage struct {
	Type string `json:"type"`
}

// decodeMessage parses a raw inbound frame into a typed Message.
//
// Returns an error for frames that are not JSON objects, lack a type
// field, carry an unknown type, or whose payload does not match the
// declared type. The caller drops and logs such frames.
func decodeMessage(data []byte) (Message, error) {
	var envelope struct {
		Type MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("parsing envelope: %w", err)
	}

	switch envelope.Type {
	case TypePosition:
		var msg PositionMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parsing position message: %w", err)
		}
		return &msg, nil
	case TypeAlert:
		var msg AlertMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parsing alert message: %w", err)
		}
		return &msg, nil
	case TypeUserLocation:
		var msg UserLocationMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parsing user location message: %w", err)
		}
		return &msg, nil
	case TypeSubscribed, TypeUnsubscribed:
		msg := AckMessage{kind: envelope.Type}
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("parsing ack message: %w", err)
		}
		return &msg, nil
	case TypePong:
		return &PongMessage{}, nil
	case "":
		return nil, fmt.Errorf("%w: missing type field", ErrMalformedMessage)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMessageType, envelope.Type)
	}
}
