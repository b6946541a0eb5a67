// Package sandbox implements the Sandbox Context: a loaded, isolated
// module instance reachable only through its host-side transport, paired
// with the Executor that runs it.
package sandbox

import (
	"fmt"
	"time"

	"mini-rpc/executor"
	"mini-rpc/transport"
	"mini-rpc/wire"

	"github.com/google/uuid"
)

// initHandshakeTimeout bounds how long the host waits for the module's
// readiness signal before treating startup as failed.
const initHandshakeTimeout = 5 * time.Second

// terminateHandshakeTimeout bounds the bidirectional teardown exchange.
const terminateHandshakeTimeout = 1 * time.Second

// Sandbox owns a host-side Transport and the Executor running the module
// on the other end. Construction blocks until the module announces
// readiness; Close drives the TERMINATE handshake before joining the
// executor.
//
// Field order matters exactly as documented: transport is torn down after
// the TERMINATE exchange but before the executor is joined, so the module
// still has an open transport to answer that exchange with, and Close
// only returns once the executor itself has exited.
type Sandbox struct {
	transport transport.Transport
	exec      executor.Executor
}

// NewThreadSandbox starts path (looked up in the executor function pool)
// as an in-process goroutine, wires an InProcessTransport pair between
// host and module, and blocks for the module's #INIT\0 readiness signal.
func NewThreadSandbox(path string, args []string) (*Sandbox, error) {
	hostSide, moduleSide := transport.NewInProcessPair()

	instanceKey := uuid.NewString()
	RegisterInstance(instanceKey, moduleSide)

	exec, err := executor.NewThreadExecutor(path, append([]string{instanceKey}, args...))
	if err != nil {
		hostSide.Close()
		moduleSide.Close()
		return nil, err
	}

	return newSandbox(hostSide, exec)
}

// NewProcessSandbox starts path as a child process with a hex-encoded
// socket configuration in args[0], the out-of-process analogue of
// NewThreadSandbox. The child is responsible for parsing args[0] and
// constructing the module side of the same SocketTransport pair.
func NewProcessSandbox(path string, args []string, moduleConfigHex string) (*Sandbox, error) {
	hostSide, _, err := transport.NewSocketTransportPair()
	if err != nil {
		return nil, err
	}

	exec, err := executor.NewProcessExecutor(path, append([]string{moduleConfigHex}, args...))
	if err != nil {
		hostSide.Close()
		return nil, err
	}

	return newSandbox(hostSide, exec)
}

func newSandbox(hostSide transport.Transport, exec executor.Executor) (*Sandbox, error) {
	msg, err := hostSide.Recv(initHandshakeTimeout)
	if err != nil {
		return nil, fmt.Errorf("sandbox: waiting for init signal: %w", err)
	}
	if string(msg) != wire.InitSignal {
		panic(fmt.Sprintf("sandbox: expected init signal %q, got %q", wire.InitSignal, msg))
	}

	return &Sandbox{transport: hostSide, exec: exec}, nil
}

// Transport returns the host-side transport, used to construct the
// module's Port(s) via the Linker.
func (s *Sandbox) Transport() transport.Transport {
	return s.transport
}

// Close drives the TERMINATE handshake and joins the executor.
func (s *Sandbox) Close() {
	s.transport.Send([]byte(wire.TerminateSignal))
	msg, err := s.transport.Recv(terminateHandshakeTimeout)
	if err != nil || string(msg) != wire.TerminateSignal {
		panic(fmt.Sprintf("sandbox: terminate handshake failed: msg=%q err=%v", msg, err))
	}
	s.transport.Close()
	s.exec.Join()
}
