// Package modrt implements the module runtime: the control loop that runs
// inside each module, consuming {handle_export, handle_import, debug}
// commands over its sandbox transport and maintaining the module's port
// table.
//
// link and unlink are realized as direct Go method calls from the linker
// onto a Runtime value rather than as serialized IPC commands: every
// module in this rendition runs as an in-process goroutine (ThreadExecutor)
// sharing the host's address space, so the linker can simply hand a
// module its already-constructed Port instead of shipping a transport
// configuration for the module to reparse across a process boundary that,
// here, does not exist. The command vocabulary and the "done" reply
// convention are preserved for the commands that do cross the sandbox's
// transport: handle_export, handle_import, debug, and the terminate
// lifecycle (realized through the sandbox's raw #TERMINATE\0 exchange,
// which already carries the same "exit the loop, drop all ports" meaning
// the terminate command names).
package modrt

import (
	"context"
	"fmt"
	"sync"

	"mini-rpc/codec"
	"mini-rpc/handle"
	"mini-rpc/metrics"
	"mini-rpc/port"
	"mini-rpc/transport"
	"mini-rpc/wire"

	"golang.org/x/time/rate"
)

// State is the module runtime's lifecycle state machine:
// Created -> Linked (repeatable) -> Exchanged -> Running -> Terminating -> Dead.
type State int

const (
	StateCreated State = iota
	StateLinked
	StateExchanged
	StateRunning
	StateTerminating
	StateDead
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateLinked:
		return "Linked"
	case StateExchanged:
		return "Exchanged"
	case StateRunning:
		return "Running"
	case StateTerminating:
		return "Terminating"
	case StateDead:
		return "Dead"
	default:
		return "Unknown"
	}
}

// command is the structured envelope for commands that travel over the
// sandbox transport (everything except terminate, which is the sandbox's
// own raw signal).
type command struct {
	Type    string
	Payload []byte
}

const (
	cmdHandleExport = "handle_export"
	cmdHandleImport = "handle_import"
	cmdDebug        = "debug"
)

const doneReply = "done"

// DebugHandler answers a debug command with an opaque reply.
type DebugHandler func(payload []byte) []byte

// Runtime is the module-side control loop state.
type Runtime struct {
	t     transport.Transport
	codec codec.Codec

	ports *PortTable

	exports         handle.HandleExchange
	requiredImports []string
	importedSlots   map[string][]handle.HandleInstance

	debugHandler DebugHandler
	debugLimiter *rate.Limiter

	name    string
	metrics *metrics.Metrics

	mu    sync.Mutex
	state State
}

// Config configures a Runtime.
type Config struct {
	Codec           codec.Codec
	Exports         handle.HandleExchange
	RequiredImports []string
	DebugHandler    DebugHandler
	DebugRate       rate.Limit
	DebugBurst      int

	// Name identifies this module in RecordSandboxTransition calls. May
	// be left empty if Metrics is nil.
	Name    string
	Metrics *metrics.Metrics
}

// NewRuntime builds a Runtime bound to t. It does not send the sandbox
// #INIT\0 signal; the caller sends it with Announce once the module body
// is ready to accept commands.
func NewRuntime(t transport.Transport, cfg Config) *Runtime {
	limiter := rate.NewLimiter(cfg.DebugRate, cfg.DebugBurst)
	return &Runtime{
		t:               t,
		codec:           cfg.Codec,
		ports:           NewPortTable(),
		exports:         cfg.Exports,
		requiredImports: cfg.RequiredImports,
		importedSlots:   make(map[string][]handle.HandleInstance),
		debugHandler:    cfg.DebugHandler,
		debugLimiter:    limiter,
		name:            cfg.Name,
		metrics:         cfg.Metrics,
		state:           StateCreated,
	}
}

// Announce sends the sandbox #INIT\0 readiness signal. Call once, before
// Run, after the module body has finished any setup that must precede
// accepting commands.
func (r *Runtime) Announce() {
	r.t.Send([]byte(wire.InitSignal))
}

// Run consumes commands until the sandbox TERMINATE signal arrives or the
// transport is torn down. Exit status: State is StateDead on return.
func (r *Runtime) Run() {
	for {
		msg, err := r.t.Recv(0)
		if err != nil {
			r.setState(StateDead)
			return
		}
		if string(msg) == wire.TerminateSignal {
			r.setState(StateTerminating)
			r.ports.CloseAll()
			r.t.Send([]byte(wire.TerminateSignal))
			r.setState(StateDead)
			return
		}

		var cmd command
		if err := r.codec.Decode(msg, &cmd); err != nil {
			panic("modrt: failed to decode command envelope: " + err.Error())
		}
		r.dispatch(cmd)
	}
}

func (r *Runtime) setState(s State) {
	r.mu.Lock()
	r.transitionLocked(s)
	r.mu.Unlock()
}

// transitionLocked sets the state and records the transition. Callers must
// already hold r.mu.
func (r *Runtime) transitionLocked(s State) {
	r.state = s
	if r.metrics != nil {
		r.metrics.RecordSandboxTransition(r.name, s.String())
	}
}

// State returns the runtime's current lifecycle state.
func (r *Runtime) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runtime) dispatch(cmd command) {
	switch cmd.Type {
	case cmdHandleExport:
		body, err := r.codec.Encode(r.exports)
		if err != nil {
			panic("modrt: failed to encode handle export list: " + err.Error())
		}
		r.t.Send(body)
		r.reply()
	case cmdHandleImport:
		var exchange handle.HandleExchange
		if err := r.codec.Decode(cmd.Payload, &exchange); err != nil {
			panic("modrt: failed to decode handle import payload: " + err.Error())
		}
		r.acceptImport(exchange)
		r.reply()
	case cmdDebug:
		// A command arriving faster than the configured rate queues
		// behind the limiter rather than being dropped: no debug command
		// is ever lost, only delayed under flood.
		r.debugLimiter.Wait(context.Background())
		var resp []byte
		if r.debugHandler != nil {
			resp = r.debugHandler(cmd.Payload)
		}
		r.t.Send(resp)
		r.reply()
	default:
		panic(fmt.Sprintf("modrt: unknown command %q", cmd.Type))
	}
}

func (r *Runtime) reply() {
	r.t.Send([]byte(doneReply))
}

// acceptImport deposits handles into their named slots and advances the
// state machine once every required import has been filled.
func (r *Runtime) acceptImport(exchange handle.HandleExchange) {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Slot assignment here is positional: the n'th handle in the exchange
	// fills the n'th declared required import slot. A real multi-slot
	// negotiation would carry slot names in the exchange itself; this
	// core only needs to prove the accounting, so position is sufficient.
	for i, h := range exchange.Handles {
		if i >= len(r.requiredImports) {
			break
		}
		slot := r.requiredImports[i]
		r.importedSlots[slot] = append(r.importedSlots[slot], h)
	}

	r.transitionLocked(StateExchanged)
	if r.allImportsFilled() {
		r.transitionLocked(StateRunning)
	}
}

func (r *Runtime) allImportsFilled() bool {
	for _, slot := range r.requiredImports {
		if len(r.importedSlots[slot]) == 0 {
			return false
		}
	}
	return true
}

// ImportedHandle returns the first handle deposited in slot, if any.
func (r *Runtime) ImportedHandle(slot string) (handle.HandleInstance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	hs := r.importedSlots[slot]
	if len(hs) == 0 {
		return handle.HandleInstance{}, false
	}
	return hs[0], true
}

// Link inserts an already-constructed Port under portID — see the package
// doc comment for why this is a direct call rather than a serialized
// command.
func (r *Runtime) Link(portID uint64, p *port.Port) error {
	if err := r.ports.Insert(portID, p); err != nil {
		return err
	}
	r.setState(StateLinked)
	return nil
}

// Unlink removes and closes the port at portID.
func (r *Runtime) Unlink(portID uint64) {
	r.ports.Remove(portID)
}

// Port returns the port previously inserted under portID, if any.
func (r *Runtime) Port(portID uint64) (*port.Port, bool) {
	return r.ports.Get(portID)
}
