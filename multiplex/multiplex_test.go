package multiplex

import (
	"testing"
	"time"

	"mini-rpc/transport"
	"mini-rpc/wire"

	"go.uber.org/goleak"
)

// serverClientRouter mirrors the RTO routing rule: packets with a call
// header (Slot >= SlotCallIndicator) go to endpoint 0 (server), everything
// else goes to endpoint 1 (client).
func serverClientRouter(msg []byte) int {
	h := wire.Decode(msg)
	if h.IsCall() {
		return 0
	}
	return 1
}

func packet(slot uint32) []byte {
	buf := make([]byte, wire.HeaderSize)
	wire.Encode(buf, wire.PacketHeader{Slot: slot})
	return buf
}

func TestMultiplexerRoutesByHeader(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, b := transport.NewInProcessPair()
	ma := New(a, 2, serverClientRouter)
	mb := New(b, 2, serverClientRouter)
	defer ma.Close()
	defer mb.Close()

	callMsg := packet(wire.SlotCallIndicator + 3)
	ma.Endpoint(0).Send(callMsg)
	got, err := mb.Endpoint(0).Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != string(callMsg) {
		t.Fatalf("routed to wrong endpoint or corrupted: got %v", got)
	}

	returnMsg := packet(3)
	ma.Endpoint(1).Send(returnMsg)
	got, err = mb.Endpoint(1).Recv(time.Second)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(got) != string(returnMsg) {
		t.Fatalf("routed to wrong endpoint or corrupted: got %v", got)
	}
}

func TestMultiplexerCloseDrainsWorkers(t *testing.T) {
	defer goleak.VerifyNone(t)

	a, b := transport.NewInProcessPair()
	ma := New(a, 1, func([]byte) int { return 0 })
	mb := New(b, 1, func([]byte) int { return 0 })
	defer mb.Close()

	ma.Close()

	// Closing ma only tears down ma's own transport endpoint; InProcessTransport
	// termination is per-endpoint, not a shared connection state, so mb simply
	// sees no further traffic rather than an explicit Termination signal.
	if _, err := mb.Endpoint(0).Recv(200 * time.Millisecond); err != transport.ErrTimeout {
		t.Fatalf("Recv = %v, want ErrTimeout once peer multiplexer closed", err)
	}
}
