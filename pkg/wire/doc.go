// Package wire defines the framed JSON protocol spoken between consistd and
// its subscribers.
//
// Every WebSocket text message carries exactly one Frame encoded as a JSON
// object. The protocol revision is pinned by the WebSocket subprotocol
// (Subprotocol, currently "consistd.v1").
//
// Client frames:
//
//	{"type":"subscribe","uri":"/orders/42"}
//	{"type":"unsubscribe","uri":"/orders/42"}
//	{"type":"close"}
//
// Broker frames:
//
//	{"type":"ack","uri":"/orders/42"}
//	{"type":"invalidated","uri":"/orders/42","payload":"<base64>"}
//	{"type":"error","reason":"..."}
//
// URIs are opaque strings; the broker matches them byte-for-byte and attaches
// no meaning to their shape. Invalidation payloads are opaque bytes chosen by
// the reporting backend.
//
// Decode validates frame shape (known type, required fields) and ignores
// members it does not know, so additive growth stays within a revision;
// Encode is the inverse. Both ends of the connection use the same Frame type.
package wire
