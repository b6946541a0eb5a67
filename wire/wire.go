// Package wire defines the fixed on-the-wire packet header shared by every
// port and multiplexer in this module, and the in-band signal byte strings
// exchanged during sandbox and link handshakes.
//
// Frame format: a 12-byte PacketHeader followed by a length-implicit
// payload — the underlying transport preserves message boundaries, so no
// length prefix is carried in the header itself.
//
//	0        4        8        12       16
//	┌────────┬────────┬────────┬────────┐
//	│  slot  │ svcObj │ method │  ...   │
//	│ uint32 │ uint32 │ uint32 │payload │
//	└────────┴────────┴────────┴────────┘
package wire

import "encoding/binary"

// HeaderSize is the fixed encoded size of a PacketHeader, in bytes.
const HeaderSize = 12

// SlotCallIndicator marks the boundary between a client's return slot id
// (below this value) and an inbound call tagged with the originating
// caller's slot id (at or above this value).
const SlotCallIndicator uint32 = 1000

// DeleteMethodID is the reserved method id requesting that the exporter
// remove the referenced object from its registry.
const DeleteMethodID uint32 = 1234

// UndecidedTraitID and UndecidedIndex form the sentinel ServiceObjectId
// used before a handle's identity has been assigned.
const (
	UndecidedTraitID uint16 = 0xFFFF
	UndecidedIndex   uint16 = 0xFFFF
)

// InitSignal is sent by a module to its host immediately upon readiness.
const InitSignal = "#INIT\x00"

// TerminateSignal is exchanged bidirectionally during sandbox teardown.
const TerminateSignal = "#TERMINATE\x00"

// PacketHeader is the fixed 12-byte header prefixing every RTO packet.
//
// Encoding uses the host's native byte order (binary.NativeEndian), matching
// this core's requirement that on-wire integers are packed native rather
// than fixed little/big endian.
type PacketHeader struct {
	Slot            uint32
	ServiceObjectID uint32
	MethodID        uint32
}

// IsCall reports whether this header addresses an inbound call (as opposed
// to a return packet to a client call slot).
func (h PacketHeader) IsCall() bool {
	return h.Slot >= SlotCallIndicator
}

// CallerSlot extracts the originating call-slot id from a call header's
// Slot field (the low bits below SlotCallIndicator).
func (h PacketHeader) CallerSlot() uint32 {
	return h.Slot - SlotCallIndicator
}

// Encode writes the header into buf, which must be at least HeaderSize bytes.
func Encode(buf []byte, h PacketHeader) {
	binary.NativeEndian.PutUint32(buf[0:4], h.Slot)
	binary.NativeEndian.PutUint32(buf[4:8], h.ServiceObjectID)
	binary.NativeEndian.PutUint32(buf[8:12], h.MethodID)
}

// Decode reads a PacketHeader from the first HeaderSize bytes of buf.
func Decode(buf []byte) PacketHeader {
	return PacketHeader{
		Slot:            binary.NativeEndian.Uint32(buf[0:4]),
		ServiceObjectID: binary.NativeEndian.Uint32(buf[4:8]),
		MethodID:        binary.NativeEndian.Uint32(buf[8:12]),
	}
}
