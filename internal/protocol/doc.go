// Package protocol defines the messages exchanged with control units.
//
// Every message is a closed tagged variant: a type string from a fixed set
// and a body whose shape is determined by that type. Messages are decoded
// once at the boundary into the structs in this package, and any type
// outside the set is rejected with ErrUnknownKind.
//
// Wire form, before compression:
//
//	{"type":"rules","data":"{\"action\":\"replace\",\"rules\":[...]}"}
package protocol
