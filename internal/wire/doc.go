// Package wire implements the game server's framed binary protocol.
//
// Every frame on the TCP stream is a 4-byte little-endian length followed by
// exactly that many payload bytes. A payload carries one tagged message: a
// protobuf-wire record whose field 1 is the message kind and field 2 the
// kind-specific body. Unknown kinds decode to Unrecognized so a newer server
// never breaks an older harness.
//
// An empty list or byte string is not distinguishable from an absent one on
// the wire, so WorldSnapshot.Players and Unrecognized.Raw decode as nil when
// empty. Compare them with len, not against nil.
package wire
