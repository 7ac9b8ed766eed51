package wire

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Subprotocol names the frame format revision negotiated during the
// WebSocket handshake. A frame's meaning never changes within a revision;
// incompatible changes ship under a new subprotocol name.
const Subprotocol = "consistd.v1"

// Type discriminates the frame variants.
type Type string

// Frame types sent by clients.
const (
	TypeSubscribe   Type = "subscribe"
	TypeUnsubscribe Type = "unsubscribe"
	TypeClose       Type = "close"
)

// Frame types sent by the broker.
const (
	TypeAck         Type = "ack"
	TypeInvalidated Type = "invalidated"
	TypeError       Type = "error"
)

// Frame is one protocol message. Every WebSocket text message carries exactly
// one JSON-encoded Frame, so frames are self-delimiting and never split.
type Frame struct {
	Type Type `json:"type"`

	// URI names the resource the frame is about. Required for subscribe,
	// unsubscribe, ack and invalidated frames.
	URI string `json:"uri,omitempty"`

	// Payload carries opaque bytes from the reporting backend on invalidated
	// frames (base64 in JSON). The broker never inspects it.
	Payload []byte `json:"payload,omitempty"`

	// Reason describes the protocol violation on error frames.
	Reason string `json:"reason,omitempty"`
}

// Subscribe builds a subscription request for uri.
func Subscribe(uri string) Frame { return Frame{Type: TypeSubscribe, URI: uri} }

// Unsubscribe builds the request to drop the subscription for uri.
func Unsubscribe(uri string) Frame { return Frame{Type: TypeUnsubscribe, URI: uri} }

// Close builds the request for an orderly session shutdown.
func Close() Frame { return Frame{Type: TypeClose} }

// Ack builds the acknowledgement for a subscribe request.
func Ack(uri string) Frame { return Frame{Type: TypeAck, URI: uri} }

// Invalidated builds the notification that uri changed. payload may be nil.
func Invalidated(uri string, payload []byte) Frame {
	return Frame{Type: TypeInvalidated, URI: uri, Payload: payload}
}

// Error builds the frame reporting a protocol violation to the peer.
func Error(reason string) Frame { return Frame{Type: TypeError, Reason: reason} }

// Encode renders f as a single JSON document.
func (f Frame) Encode() ([]byte, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("wire: encode %s frame: %w", f.Type, err)
	}
	return data, nil
}

// Decode parses one frame and checks its shape: the type must be known and
// type-specific required fields must be present. Unknown JSON members are
// ignored, so the format can grow additively within a subprotocol revision.
// Direction rules (for example, a client sending ack) are enforced by the
// connection manager, not here.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("wire: decode frame: %w", err)
	}
	switch f.Type {
	case "":
		return Frame{}, errors.New("wire: frame is missing a type")
	case TypeSubscribe, TypeUnsubscribe, TypeAck, TypeInvalidated:
		if f.URI == "" {
			return Frame{}, fmt.Errorf("wire: %s frame requires a uri", f.Type)
		}
	case TypeClose, TypeError:
		// No required fields.
	default:
		return Frame{}, fmt.Errorf("wire: unknown frame type %q", f.Type)
	}
	return f, nil
}
