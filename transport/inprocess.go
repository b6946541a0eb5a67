package transport

import (
	"sync"
	"time"
)

// inProcessQueueCapacity is the bounded FIFO depth of each direction of an
// in-process transport pair.
const inProcessQueueCapacity = 256

// InProcessTransport is the in-process Transport flavor: two bounded FIFO
// queues (capacity 256) connecting a pair of endpoints inside one process,
// used when a module runs as a cooperative task rather than a child
// process.
type InProcessTransport struct {
	outbox chan []byte
	inbox  chan []byte

	closeOnce  sync.Once
	terminated chan struct{}
}

// NewInProcessPair builds two InProcessTransport endpoints wired to each
// other: messages sent on one arrive on the other's Recv.
func NewInProcessPair() (a, b *InProcessTransport) {
	ab := make(chan []byte, inProcessQueueCapacity)
	ba := make(chan []byte, inProcessQueueCapacity)
	a = &InProcessTransport{outbox: ab, inbox: ba, terminated: make(chan struct{})}
	b = &InProcessTransport{outbox: ba, inbox: ab, terminated: make(chan struct{})}
	return a, b
}

func (t *InProcessTransport) Send(msg []byte) error {
	select {
	case <-t.terminated:
		return ErrTerminated
	default:
	}
	t.outbox <- msg
	return nil
}

func (t *InProcessTransport) Recv(timeout time.Duration) ([]byte, error) {
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}
	select {
	case msg := <-t.inbox:
		return msg, nil
	case <-t.terminated:
		return nil, ErrTerminated
	case <-timeoutCh:
		return nil, ErrTimeout
	}
}

// CreateTerminator closes this endpoint's own termination signal; the peer
// endpoint is not affected. Idempotent: the sync.Once guards against a
// double-close panic if the terminator is invoked more than once (for
// example by both a multiplexer and Close).
func (t *InProcessTransport) CreateTerminator() func() {
	return func() {
		t.closeOnce.Do(func() { close(t.terminated) })
	}
}

func (t *InProcessTransport) Close() error {
	t.CreateTerminator()()
	return nil
}
