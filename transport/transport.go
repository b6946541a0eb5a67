// Package transport implements the two interchangeable byte-message
// channel flavors that sit underneath every port and multiplexer: an
// in-process bounded-queue transport for modules running as cooperative
// tasks in the host process, and an out-of-process datagram-socket
// transport for modules running as child processes.
//
// Both flavors share one contract (the Transport interface): Send is
// blocking only when the peer's receive buffer is full, Recv blocks up to
// an optional timeout and distinguishes TimeOut from Termination, and
// CreateTerminator returns a handle that unblocks pending and future Recv
// calls from any goroutine.
package transport

import (
	"errors"
	"time"
)

// ErrTimeout is returned by Recv when the timeout elapses before a message
// arrives. It is a normal control-flow signal, not a failure.
var ErrTimeout = errors.New("transport: timeout")

// ErrTerminated is returned by Recv once this endpoint's terminator has
// been invoked (or, for SocketTransport, when a socket read fails for a
// reason other than a timeout). Closing the peer endpoint does not by
// itself produce it. Readers should exit cleanly.
var ErrTerminated = errors.New("transport: terminated")

// MaxPayloadSize is the largest out-of-process message allowed, per the
// 8 KiB datagram boundary. Anything larger is a fatal protocol error
// rather than a silently truncated read.
const MaxPayloadSize = 8 * 1024

// MaxDatagramSize is the receive buffer's capacity: one byte past
// MaxPayloadSize, so a datagram that actually exceeds the limit is never
// silently truncated down to exactly MaxPayloadSize bytes — it shows up
// as n == MaxDatagramSize instead, which readRaw treats as fatal.
const MaxDatagramSize = MaxPayloadSize + 1

// Transport is the byte-message channel contract shared by both transport
// flavors.
type Transport interface {
	// Send delivers msg to the peer. It blocks only while the peer's
	// receive buffer is full; ordering is preserved between any two
	// callers that share this Transport value.
	Send(msg []byte) error

	// Recv waits up to timeout for the next message. A timeout <= 0 means
	// wait forever. Returns ErrTimeout on expiry and ErrTerminated once
	// this endpoint has been torn down.
	Recv(timeout time.Duration) ([]byte, error)

	// CreateTerminator returns a function that, when invoked from any
	// goroutine, causes pending and future Recv calls on this endpoint to
	// resolve with ErrTerminated.
	CreateTerminator() func()

	// Close releases the transport's resources. Safe to call more than
	// once.
	Close() error
}
