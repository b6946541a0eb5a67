// Package linker implements the Linker: the component that wires two
// already-sandboxed modules together by constructing a fresh Port between
// them and driving the handle-exchange round that seeds each side's
// initial view of the other's exported service objects.
//
// Linking has two halves that are deliberately realized differently:
//
//   - The Port itself is handed to each module's modrt.Runtime with a
//     direct Go method call (Runtime.Link), not a serialized command —
//     see modrt's package doc for why that is sound here (every module is
//     an in-process goroutine, not a separate process needing to reparse a
//     transport configuration).
//   - The handle_export/handle_import exchange still travels as real
//     Command messages over each module's sandbox transport, because that
//     exchange carries data (the two sides' handle lists) that must cross
//     regardless of how the module is hosted.
package linker

import (
	"errors"
	"fmt"

	"mini-rpc/codec"
	"mini-rpc/handle"
	"mini-rpc/modrt"
	"mini-rpc/port"
	"mini-rpc/sandbox"
	"mini-rpc/transport"
)

// ErrUnsupportedPortType is returned by Link when the two endpoints share
// no common link-type id. Neither side is mutated.
var ErrUnsupportedPortType = errors.New("linker: unsupported port type")

// command mirrors modrt's unexported wire command envelope. The field
// names must match for the codec to round-trip it; linker cannot import
// modrt's private type, so it declares the same shape.
type command struct {
	Type    string
	Payload []byte
}

const (
	cmdHandleExport = "handle_export"
	cmdHandleImport = "handle_import"
)

// Linker drives link and unlink operations for a fixed codec and Port
// configuration.
type Linker struct {
	codec  codec.Codec
	config port.Config
}

// New creates a Linker using c for both the new link Port's payload codec
// and for encoding the handle-exchange commands themselves.
func New(c codec.Codec, cfg port.Config) *Linker {
	return &Linker{codec: c, config: cfg}
}

// Endpoint bundles the pieces the Linker needs from one side of a link: the
// sandbox (for the handle-exchange commands), the module runtime (for the
// direct Link/Unlink call), and the link-type ids this side's port
// configuration supports.
type Endpoint struct {
	Sandbox   *sandbox.Sandbox
	Runtime   *modrt.Runtime
	LinkTypes []string
}

// commonLinkType returns the first link-type id in a's list that also
// appears in b's list, preserving a's preference order.
func commonLinkType(a, b []string) (string, bool) {
	supported := make(map[string]bool, len(b))
	for _, t := range b {
		supported[t] = true
	}
	for _, t := range a {
		if supported[t] {
			return t, true
		}
	}
	return "", false
}

// Link wires a and b together under portID: it first verifies the two
// sides share a common link-type id, then builds a fresh transport pair,
// wraps each side in a Port, inserts each Port into its runtime's port
// table, and then drives a handle-exchange round so each side learns the
// other's currently-exported handles.
//
// If a and b share no link-type id, Link returns ErrUnsupportedPortType
// and leaves both sides untouched — neither runtime's port table is
// modified.
func (l *Linker) Link(a, b Endpoint, portID uint64) error {
	if _, ok := commonLinkType(a.LinkTypes, b.LinkTypes); !ok {
		return ErrUnsupportedPortType
	}

	ta, tb := transport.NewInProcessPair()
	pa := port.New(ta, l.codec, l.config)
	pb := port.New(tb, l.codec, l.config)

	if err := a.Runtime.Link(portID, pa); err != nil {
		pa.Close()
		pb.Close()
		return fmt.Errorf("linker: linking a side of port %d: %w", portID, err)
	}
	if err := b.Runtime.Link(portID, pb); err != nil {
		a.Runtime.Unlink(portID)
		pb.Close()
		return fmt.Errorf("linker: linking b side of port %d: %w", portID, err)
	}

	aHandles, err := l.requestExport(a.Sandbox)
	if err != nil {
		l.Unlink(a, b, portID)
		return fmt.Errorf("linker: requesting a's exports: %w", err)
	}
	bHandles, err := l.requestExport(b.Sandbox)
	if err != nil {
		l.Unlink(a, b, portID)
		return fmt.Errorf("linker: requesting b's exports: %w", err)
	}

	if err := l.deliverImport(a.Sandbox, bHandles); err != nil {
		l.Unlink(a, b, portID)
		return fmt.Errorf("linker: delivering b's exports to a: %w", err)
	}
	if err := l.deliverImport(b.Sandbox, aHandles); err != nil {
		l.Unlink(a, b, portID)
		return fmt.Errorf("linker: delivering a's exports to b: %w", err)
	}

	return nil
}

// Unlink removes portID's Port from both sides. The two sides are expected
// to have quiesced any in-flight calls on the port first — this core makes
// no atomicity guarantee across unlink/re-link at the packet level.
func (l *Linker) Unlink(a, b Endpoint, portID uint64) {
	a.Runtime.Unlink(portID)
	b.Runtime.Unlink(portID)
}

func (l *Linker) requestExport(s *sandbox.Sandbox) (handle.HandleExchange, error) {
	body, err := l.codec.Encode(command{Type: cmdHandleExport})
	if err != nil {
		return handle.HandleExchange{}, err
	}
	if err := s.Transport().Send(body); err != nil {
		return handle.HandleExchange{}, err
	}

	resp, err := s.Transport().Recv(0)
	if err != nil {
		return handle.HandleExchange{}, err
	}
	var exchange handle.HandleExchange
	if err := l.codec.Decode(resp, &exchange); err != nil {
		return handle.HandleExchange{}, err
	}

	if err := l.awaitDone(s); err != nil {
		return handle.HandleExchange{}, err
	}
	return exchange, nil
}

func (l *Linker) deliverImport(s *sandbox.Sandbox, exchange handle.HandleExchange) error {
	payload, err := l.codec.Encode(exchange)
	if err != nil {
		return err
	}
	body, err := l.codec.Encode(command{Type: cmdHandleImport, Payload: payload})
	if err != nil {
		return err
	}
	if err := s.Transport().Send(body); err != nil {
		return err
	}
	return l.awaitDone(s)
}

func (l *Linker) awaitDone(s *sandbox.Sandbox) error {
	msg, err := s.Transport().Recv(0)
	if err != nil {
		return err
	}
	if string(msg) != "done" {
		return fmt.Errorf("linker: expected %q reply, got %q", "done", msg)
	}
	return nil
}
