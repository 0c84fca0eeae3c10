package chat

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Event names exchanged over the live channel.
const (
	EventSendMessage = "send_message"
	EventTypingStart = "typing_start"
	EventTypingStop  = "typing_stop"

	EventInitialMessages = "initial_messages"
	EventNewMessage      = "new_message"
	EventUserTyping      = "user_typing"
)

var (
	ErrMalformedEvent = errors.New("malformed event")
	ErrUnknownEvent   = errors.New("unknown event")
)

// InboundEvent is the closed set of events a client may publish:
// SendMessage, TypingStart and TypingStop.
//
// Fields are plain strings and are never defaulted. A frame that omits "user"
// decodes with an empty User; rejecting it is up to the transport.
type InboundEvent interface {
	EventName() string
	inbound()
}

// SendMessage asks the hub to append a message and broadcast it.
type SendMessage struct {
	User string `json:"user" validate:"required,max=64"`
	Text string `json:"text" validate:"required,max=2000"`
}

// TypingStart marks User as typing.
type TypingStart struct {
	User string `json:"user" validate:"required,max=64"`
}

// TypingStop clears the typing mark of User.
type TypingStop struct {
	User string `json:"user" validate:"required,max=64"`
}

func (SendMessage) EventName() string { return EventSendMessage }
func (TypingStart) EventName() string { return EventTypingStart }
func (TypingStop) EventName() string  { return EventTypingStop }

func (SendMessage) inbound() {}
func (TypingStart) inbound() {}
func (TypingStop) inbound()  {}

// Typing is the payload of user_typing.
type Typing struct {
	User   string `json:"user"`
	Typing bool   `json:"typing"`
}

// Frame is the envelope of every message on the wire.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// DecodeInbound parses a raw client frame into its concrete event.
func DecodeInbound(raw []byte) (InboundEvent, error) {
	var frame Frame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	switch frame.Event {
	case EventSendMessage:
		var ev SendMessage
		if err := decodeData(frame.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventTypingStart:
		var ev TypingStart
		if err := decodeData(frame.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	case EventTypingStop:
		var ev TypingStop
		if err := decodeData(frame.Data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEvent, frame.Event)
	}
}

func decodeData(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}

// EncodeFrame wraps data in a Frame named event.
func EncodeFrame(event string, data any) ([]byte, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: payload})
}
