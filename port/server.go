package port

import (
	"strconv"
	"sync"
	"time"

	"mini-rpc/codec"
	"mini-rpc/dispatch"
	"mini-rpc/handle"
	"mini-rpc/metrics"
	"mini-rpc/multiplex"
	"mini-rpc/wire"
)

// DefaultServerPoolSize is the default bound on concurrently-executing
// inbound calls.
const DefaultServerPoolSize = 16

// DefaultTokenTimeout is how long the server waits for a free worker token
// before treating pool exhaustion as a protocol violation.
const DefaultTokenTimeout = 1 * time.Second

// Server dispatches incoming calls into a service Registry using a bounded
// pool of worker tokens. Incoming calls are dispatched to workers in
// arrival order but execute concurrently; responses are returned in
// completion order.
type Server struct {
	ep       *multiplex.Endpoint
	registry *dispatch.Registry
	codec    codec.Codec
	metrics  *metrics.Metrics

	tokens       chan struct{}
	tokenTimeout time.Duration

	wg       sync.WaitGroup
	recvDone chan struct{}
}

// NewServer creates a Server dispatching inbound packets from ep into reg.
func NewServer(ep *multiplex.Endpoint, reg *dispatch.Registry, c codec.Codec, poolSize int, tokenTimeout time.Duration) *Server {
	return NewServerWithMetrics(ep, reg, c, poolSize, tokenTimeout, nil)
}

// NewServerWithMetrics is NewServer with an optional Metrics bundle; m may
// be nil to disable instrumentation.
func NewServerWithMetrics(ep *multiplex.Endpoint, reg *dispatch.Registry, c codec.Codec, poolSize int, tokenTimeout time.Duration, m *metrics.Metrics) *Server {
	tokens := make(chan struct{}, poolSize)
	for i := 0; i < poolSize; i++ {
		tokens <- struct{}{}
	}
	s := &Server{
		ep:           ep,
		registry:     reg,
		codec:        c,
		metrics:      m,
		tokens:       tokens,
		tokenTimeout: tokenTimeout,
		recvDone:     make(chan struct{}),
	}
	go s.loop()
	return s
}

func (s *Server) loop() {
	defer close(s.recvDone)
	for {
		msg, err := s.ep.Recv(0)
		if err != nil {
			s.wg.Wait()
			return
		}
		header := wire.Decode(msg)
		payload := msg[wire.HeaderSize:]

		select {
		case <-s.tokens:
		case <-time.After(s.tokenTimeout):
			panic("port: server thread pool exhausted — peer exceeded the agreed concurrent call limit")
		}

		s.wg.Add(1)
		go s.handle(header, payload)
	}
}

func (s *Server) handle(header wire.PacketHeader, payload []byte) {
	defer func() {
		s.tokens <- struct{}{}
		s.wg.Done()
	}()

	id := handle.Unpack(header.ServiceObjectID)
	start := time.Now()

	var env envelope
	var dispatchErr error
	if header.MethodID == wire.DeleteMethodID {
		_, dispatchErr = s.registry.Dispatch(id, header.MethodID, payload)
	} else {
		resp, err := s.registry.Dispatch(id, header.MethodID, payload)
		dispatchErr = err
		if err != nil {
			env.Err = err.Error()
		} else {
			env.Payload = resp
		}
	}
	if s.metrics != nil {
		s.metrics.ObserveCall(strconv.Itoa(int(id.TraitID)), strconv.Itoa(int(header.MethodID)), time.Since(start).Seconds(), dispatchErr)
	}

	body, err := s.codec.Encode(&env)
	if err != nil {
		panic("port: server failed to encode response envelope: " + err.Error())
	}

	replyHeader := wire.PacketHeader{
		Slot:            header.CallerSlot(),
		ServiceObjectID: header.ServiceObjectID,
		MethodID:        header.MethodID,
	}
	out := make([]byte, wire.HeaderSize+len(body))
	wire.Encode(out, replyHeader)
	copy(out[wire.HeaderSize:], body)
	s.ep.Send(out)
}

// Close stops accepting new inbound calls and waits for in-flight
// dispatches to finish responding.
func (s *Server) Close() {
	s.ep.CloseLocal()
	<-s.recvDone
}
