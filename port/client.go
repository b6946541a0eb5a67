package port

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"mini-rpc/codec"
	"mini-rpc/handle"
	"mini-rpc/metrics"
	"mini-rpc/multiplex"
	"mini-rpc/transport"
	"mini-rpc/wire"
)

// DefaultCallSlotPoolSize is the default bound on concurrent in-flight
// outbound calls from one Client.
const DefaultCallSlotPoolSize = 128

type callSlot struct {
	id      uint32
	respCh  chan []byte
}

// Client issues outgoing RTO calls over a bounded pool of call slots. A
// call reserves a slot, sends the request tagged with that slot's id,
// blocks on the slot's response channel, and releases the slot when the
// response arrives.
//
// Slot reuse order is arrival-order (FIFO, via the buffered slots channel):
// the source's free-slot structure is an unordered queue and either order
// satisfies its invariants, so FIFO was chosen as the simplest option that
// still does.
type Client struct {
	ep      *multiplex.Endpoint
	codec   codec.Codec
	metrics *metrics.Metrics

	slots chan *callSlot
	inUse sync.Map // uint32 slot id -> *callSlot

	recvDone chan struct{}
}

// NewClient creates a Client with poolSize call slots issuing calls over ep.
func NewClient(ep *multiplex.Endpoint, c codec.Codec, poolSize int) *Client {
	return NewClientWithMetrics(ep, c, poolSize, nil)
}

// NewClientWithMetrics is NewClient with an optional Metrics bundle; m may
// be nil to disable instrumentation.
func NewClientWithMetrics(ep *multiplex.Endpoint, c codec.Codec, poolSize int, m *metrics.Metrics) *Client {
	slots := make(chan *callSlot, poolSize)
	for i := 0; i < poolSize; i++ {
		slots <- &callSlot{id: uint32(i), respCh: make(chan []byte, 1)}
	}
	cl := &Client{
		ep:       ep,
		codec:    c,
		metrics:  m,
		slots:    slots,
		recvDone: make(chan struct{}),
	}
	go cl.recvLoop()
	return cl
}

// Call reserves a slot, issues methodID against the remote object id with
// args encoded as the payload, and decodes the response into reply (which
// may be nil if the method has no meaningful return value). Outbound calls
// from one caller goroutine against one object complete in issue order,
// because the caller holds exactly one slot at a time and blocks for its
// response before the next Call can reuse that slot.
func (c *Client) Call(id handle.ServiceObjectId, methodID uint32, args any, reply any) (err error) {
	if c.metrics != nil {
		start := time.Now()
		defer func() {
			c.metrics.ObserveCall(strconv.Itoa(int(id.TraitID)), strconv.Itoa(int(methodID)), time.Since(start).Seconds(), err)
		}()
	}

	slot := <-c.slots
	c.inUse.Store(slot.id, slot)
	defer func() {
		c.inUse.Delete(slot.id)
		c.slots <- slot
	}()

	payload, err := c.codec.Encode(args)
	if err != nil {
		return err
	}

	header := wire.PacketHeader{
		Slot:            slot.id + wire.SlotCallIndicator,
		ServiceObjectID: id.Pack(),
		MethodID:        methodID,
	}
	buf := make([]byte, wire.HeaderSize+len(payload))
	wire.Encode(buf, header)
	copy(buf[wire.HeaderSize:], payload)
	c.ep.Send(buf)

	respBytes, ok := <-slot.respCh
	if !ok {
		return transport.ErrTerminated
	}

	var env envelope
	if err := c.codec.Decode(respBytes, &env); err != nil {
		panic("port: client failed to decode response envelope: " + err.Error())
	}
	if env.Err != "" {
		return errors.New(env.Err)
	}
	if reply != nil && len(env.Payload) > 0 {
		return c.codec.Decode(env.Payload, reply)
	}
	return nil
}

// Release sends a DELETE for id, telling the exporter to remove the object
// from its registry. The importer must not use id again afterward.
func (c *Client) Release(id handle.ServiceObjectId) error {
	return c.Call(id, wire.DeleteMethodID, struct{}{}, nil)
}

func (c *Client) recvLoop() {
	defer close(c.recvDone)
	for {
		msg, err := c.ep.Recv(0)
		if err != nil {
			c.closeAllPending()
			return
		}
		header := wire.Decode(msg)
		payload := msg[wire.HeaderSize:]
		if v, ok := c.inUse.Load(header.Slot); ok {
			v.(*callSlot).respCh <- payload
		}
	}
}

func (c *Client) closeAllPending() {
	c.inUse.Range(func(_, v any) bool {
		close(v.(*callSlot).respCh)
		return true
	})
}

// Close stops this client's recv loop. Outstanding calls observe
// transport.ErrTerminated.
func (c *Client) Close() {
	c.ep.CloseLocal()
	<-c.recvDone
}
