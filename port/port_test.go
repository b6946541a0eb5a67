package port

import (
	"errors"
	"testing"

	"mini-rpc/codec"
	"mini-rpc/dispatch"
	"mini-rpc/transport"

	"go.uber.org/goleak"
)

type echoArgs struct{ Text string }
type echoReply struct{ Text string }

var errTooBad = errors.New("too bad")

func TestRTOEcho(t *testing.T) {
	defer goleak.VerifyNone(t)

	ta, tb := transport.NewInProcessPair()
	c := codec.GetCodec(codec.CodecTypeCBOR)
	cfg := DefaultConfig()

	host := New(ta, c, cfg)
	module := New(tb, c, cfg)
	defer host.Close()
	defer module.Close()

	table := dispatch.NewMethodTable([]string{"Echo"})
	methodID, _ := table.ID("Echo")

	type echoService struct{}
	dispatcher := func(method uint32, payload []byte) ([]byte, error) {
		var args echoArgs
		c.Decode(payload, &args)
		return c.Encode(&echoReply{Text: args.Text})
	}
	id := module.Export(1, dispatcher)

	var reply echoReply
	if err := host.Client.Call(id, methodID, &echoArgs{Text: "hello"}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Text != "hello" {
		t.Fatalf("reply.Text = %q, want %q", reply.Text, "hello")
	}

	if module.RegistrySize() != 1 {
		t.Fatalf("RegistrySize before release = %d, want 1", module.RegistrySize())
	}

	if err := host.Client.Release(id); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if module.RegistrySize() != 0 {
		t.Fatalf("RegistrySize after release = %d, want 0", module.RegistrySize())
	}
}

func TestServerPropagatesMethodErrorInPayload(t *testing.T) {
	defer goleak.VerifyNone(t)

	ta, tb := transport.NewInProcessPair()
	c := codec.GetCodec(codec.CodecTypeCBOR)
	cfg := DefaultConfig()

	host := New(ta, c, cfg)
	module := New(tb, c, cfg)
	defer host.Close()
	defer module.Close()

	table := dispatch.NewMethodTable([]string{"Fail"})
	methodID, _ := table.ID("Fail")
	id := module.Export(1, func(method uint32, payload []byte) ([]byte, error) {
		return nil, errTooBad
	})

	err := host.Client.Call(id, methodID, &echoArgs{}, nil)
	if err == nil || err.Error() != errTooBad.Error() {
		t.Fatalf("Call error = %v, want %v", err, errTooBad)
	}
}
