package linker

import (
	"errors"
	"testing"
	"time"

	"mini-rpc/codec"
	"mini-rpc/executor"
	"mini-rpc/handle"
	"mini-rpc/modrt"
	"mini-rpc/port"
	"mini-rpc/sandbox"

	"golang.org/x/time/rate"
)

// startModuleWithRuntime starts an in-process module whose body builds a
// modrt.Runtime and immediately publishes it on a channel before entering
// Run, so the test can drive Link/Unlink against the exact Runtime
// instance backing that module.
func startModuleWithRuntime(t *testing.T, name string, exports handle.HandleExchange, c codec.Codec) (*sandbox.Sandbox, *modrt.Runtime) {
	t.Helper()
	rtCh := make(chan *modrt.Runtime, 1)

	executor.RegisterFunction(name, func(args []string) {
		tr, ok := sandbox.TakeInstance(args[0])
		if !ok {
			panic("linker test: no instance registered for key")
		}
		rt := modrt.NewRuntime(tr, modrt.Config{
			Codec:      c,
			Exports:    exports,
			DebugRate:  rate.Inf,
			DebugBurst: 1,
		})
		rtCh <- rt
		rt.Announce()
		rt.Run()
	})

	sb, err := sandbox.NewThreadSandbox(name, nil)
	if err != nil {
		t.Fatalf("NewThreadSandbox(%s): %v", name, err)
	}

	select {
	case rt := <-rtCh:
		return sb, rt
	case <-time.After(time.Second):
		t.Fatalf("module %s never published its runtime", name)
		return nil, nil
	}
}

func TestLinkDrivesHandleExchange(t *testing.T) {
	c := codec.GetCodec(codec.CodecTypeCBOR)

	aExports := handle.HandleExchange{Handles: []handle.HandleInstance{
		{ID: handle.ServiceObjectId{TraitID: 1, Index: 0}, PortExporter: 100, PortImporter: 0},
	}}
	bExports := handle.HandleExchange{Handles: []handle.HandleInstance{
		{ID: handle.ServiceObjectId{TraitID: 2, Index: 0}, PortExporter: 200, PortImporter: 0},
	}}

	sbA, rtA := startModuleWithRuntime(t, "linker-test-a", aExports, c)
	sbB, rtB := startModuleWithRuntime(t, "linker-test-b", bExports, c)
	defer sbA.Close()
	defer sbB.Close()

	l := New(c, port.DefaultConfig())
	const portID = uint64(1)
	epA := Endpoint{Sandbox: sbA, Runtime: rtA, LinkTypes: []string{"inproc-v1"}}
	epB := Endpoint{Sandbox: sbB, Runtime: rtB, LinkTypes: []string{"inproc-v1"}}
	if err := l.Link(epA, epB, portID); err != nil {
		t.Fatalf("Link: %v", err)
	}

	if _, ok := rtA.Port(portID); !ok {
		t.Fatalf("a side missing port %d after Link", portID)
	}
	if _, ok := rtB.Port(portID); !ok {
		t.Fatalf("b side missing port %d after Link", portID)
	}

	l.Unlink(epA, epB, portID)
	if _, ok := rtA.Port(portID); ok {
		t.Fatalf("a side still has port %d after Unlink", portID)
	}
	if _, ok := rtB.Port(portID); ok {
		t.Fatalf("b side still has port %d after Unlink", portID)
	}
}

func TestLinkRejectsDisjointLinkTypes(t *testing.T) {
	c := codec.GetCodec(codec.CodecTypeCBOR)

	sbA, rtA := startModuleWithRuntime(t, "linker-test-mismatch-a", handle.HandleExchange{}, c)
	sbB, rtB := startModuleWithRuntime(t, "linker-test-mismatch-b", handle.HandleExchange{}, c)
	defer sbA.Close()
	defer sbB.Close()

	l := New(c, port.DefaultConfig())
	const portID = uint64(1)
	epA := Endpoint{Sandbox: sbA, Runtime: rtA, LinkTypes: []string{"inproc-v1"}}
	epB := Endpoint{Sandbox: sbB, Runtime: rtB, LinkTypes: []string{"inproc-v2"}}

	err := l.Link(epA, epB, portID)
	if !errors.Is(err, ErrUnsupportedPortType) {
		t.Fatalf("Link = %v, want ErrUnsupportedPortType", err)
	}

	if _, ok := rtA.Port(portID); ok {
		t.Fatalf("a side has port %d after a rejected Link", portID)
	}
	if _, ok := rtB.Port(portID); ok {
		t.Fatalf("b side has port %d after a rejected Link", portID)
	}

	// A subsequent Link with a compatible link type must still succeed.
	epB.LinkTypes = []string{"inproc-v1"}
	if err := l.Link(epA, epB, portID); err != nil {
		t.Fatalf("Link after fixing link type: %v", err)
	}
	if _, ok := rtA.Port(portID); !ok {
		t.Fatalf("a side missing port %d after the compatible Link", portID)
	}
}
