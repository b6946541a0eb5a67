// Package port implements the bidirectional service-call endpoint (the
// RTO "Port"): a Server dispatching inbound calls into a local service
// registry, and a Client issuing outbound calls through a bounded pool of
// call slots, sharing one Transport via a two-way Multiplexer.
package port

import (
	"time"

	"mini-rpc/codec"
	"mini-rpc/dispatch"
	"mini-rpc/handle"
	"mini-rpc/multiplex"
	"mini-rpc/transport"
	"mini-rpc/wire"
)

// serverEndpoint and clientEndpoint are the two multiplexer sub-channels
// every Port creates: inbound calls (slot >= wire.SlotCallIndicator) route
// to the server; everything else (return packets to this port's own call
// slots) routes to the client.
const (
	serverEndpoint = 0
	clientEndpoint = 1
)

func routeServerClient(msg []byte) int {
	if wire.Decode(msg).IsCall() {
		return serverEndpoint
	}
	return clientEndpoint
}

// Config bounds a Port's resource usage.
type Config struct {
	ServerPoolSize   int
	ClientPoolSize   int
	ServerTokenTimeout time.Duration
}

// DefaultConfig returns the spec's default pool sizes.
func DefaultConfig() Config {
	return Config{
		ServerPoolSize:     DefaultServerPoolSize,
		ClientPoolSize:     DefaultCallSlotPoolSize,
		ServerTokenTimeout: DefaultTokenTimeout,
	}
}

// Port owns a service registry, a multiplexer, and the Server/Client pair
// that share it.
type Port struct {
	mux      *multiplex.Multiplexer
	registry *dispatch.Registry
	Server   *Server
	Client   *Client
}

// New builds a Port over t.
func New(t transport.Transport, c codec.Codec, cfg Config) *Port {
	reg := dispatch.NewRegistry()
	mux := multiplex.New(t, 2, routeServerClient)
	server := NewServer(mux.Endpoint(serverEndpoint), reg, c, cfg.ServerPoolSize, cfg.ServerTokenTimeout)
	client := NewClient(mux.Endpoint(clientEndpoint), c, cfg.ClientPoolSize)
	return &Port{mux: mux, registry: reg, Server: server, Client: client}
}

// Export registers a dispatcher under traitID and returns its handle.
func (p *Port) Export(traitID uint16, fn dispatch.DispatcherFunc) handle.ServiceObjectId {
	return p.registry.Register(traitID, fn)
}

// RegistrySize reports the number of live (non-deleted) exported objects.
func (p *Port) RegistrySize() int {
	return p.registry.Size()
}

// Close tears the port down in drop order: the server finishes in-flight
// dispatches and stops accepting new calls, the client stops accepting new
// responses (failing any still-outstanding call with
// transport.ErrTerminated), and only then is the multiplexer closed —
// draining any packets still in flight on the wire before its worker tasks
// exit. This ordering means the multiplexer is the last thing torn down,
// matching the documented Port drop-order invariant.
func (p *Port) Close() {
	p.Server.Close()
	p.Client.Close()
	p.mux.Close()
}
