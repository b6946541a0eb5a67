// Package multiplex fans one Transport out into N logical sub-channels
// selected by a routing function applied to each inbound message. It is
// used by Port to separate server traffic (inbound calls) from client
// traffic (responses to this port's own outbound calls) over one shared
// transport.
package multiplex

import (
	"sync"
	"sync/atomic"
	"time"

	"mini-rpc/transport"
)

const endpointQueueCapacity = 256

// Router selects which endpoint index an inbound message is delivered to.
type Router func(msg []byte) int

// Endpoint is one logical sub-channel produced by a Multiplexer.
type Endpoint struct {
	out       chan<- []byte
	in        chan []byte
	closed    atomic.Bool
	closeOnce sync.Once
}

// CloseLocal shuts down just this endpoint's inbound channel, independent
// of the underlying transport. Port uses this to stop its own server or
// client recv loop before the multiplexer (and its transport) is torn
// down, since the drop order requires the multiplexer to be the last thing
// to go.
func (e *Endpoint) CloseLocal() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.in)
	})
}

// Send enqueues msg on the shared outbound worker. A zero-length message is
// reserved as the outbound worker's shutdown sentinel and must not be sent
// by callers.
func (e *Endpoint) Send(msg []byte) {
	e.out <- msg
}

// Recv waits up to timeout for the next message routed to this endpoint.
func (e *Endpoint) Recv(timeout time.Duration) ([]byte, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case msg, ok := <-e.in:
		if !ok {
			return nil, transport.ErrTerminated
		}
		return msg, nil
	case <-timeoutCh:
		return nil, transport.ErrTimeout
	}
}

// Multiplexer owns one outbound sender task and one inbound demultiplexer
// task over a single Transport, and N Endpoint instances produced at
// construction time.
type Multiplexer struct {
	t         transport.Transport
	terminate func()
	shared    chan []byte
	endpoints []*Endpoint

	outboundDone chan struct{}
	inboundDone  chan struct{}
}

// New creates a Multiplexer with n logical endpoints routed by router.
func New(t transport.Transport, n int, router Router) *Multiplexer {
	shared := make(chan []byte, endpointQueueCapacity)
	endpoints := make([]*Endpoint, n)
	for i := range endpoints {
		endpoints[i] = &Endpoint{out: shared, in: make(chan []byte, endpointQueueCapacity)}
	}

	m := &Multiplexer{
		t:            t,
		terminate:    t.CreateTerminator(),
		shared:       shared,
		endpoints:    endpoints,
		outboundDone: make(chan struct{}),
		inboundDone:  make(chan struct{}),
	}

	go m.outboundLoop()
	go m.inboundLoop(router)

	return m
}

// Endpoint returns the i'th logical sub-channel.
func (m *Multiplexer) Endpoint(i int) *Endpoint {
	return m.endpoints[i]
}

func (m *Multiplexer) outboundLoop() {
	defer close(m.outboundDone)
	for msg := range m.shared {
		if len(msg) == 0 {
			return
		}
		if err := m.t.Send(msg); err != nil {
			return
		}
	}
}

func (m *Multiplexer) inboundLoop(router Router) {
	defer close(m.inboundDone)
	for _, ep := range m.endpoints {
		defer ep.CloseLocal()
	}
	for {
		msg, err := m.t.Recv(0)
		if err != nil {
			return
		}
		idx := router(msg)
		deliverToEndpoint(m.endpoints[idx], msg)
	}
}

// deliverToEndpoint routes msg to ep, tolerating the race between an
// owner-initiated CloseLocal and a still-running inbound worker: a closed
// or saturated endpoint silently drops the packet rather than stalling the
// single inbound reader shared by every endpoint.
func deliverToEndpoint(ep *Endpoint, msg []byte) {
	if ep.closed.Load() {
		return
	}
	defer func() { recover() }()
	select {
	case ep.in <- msg:
	default:
	}
}

// Close tears the multiplexer down: invokes the transport's terminator
// (unblocking the inbound worker), posts the outbound worker's shutdown
// sentinel, then joins both workers in that order so in-flight packets
// drain before either task's goroutine exits.
func (m *Multiplexer) Close() {
	m.terminate()
	m.shared <- nil
	<-m.outboundDone
	<-m.inboundDone
}
