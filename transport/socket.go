package transport

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// handshakeStepTimeout bounds each step of the 3-step out-of-process
// rendezvous handshake.
const handshakeStepTimeout = 100 * time.Millisecond

const (
	connectRetries    = 100
	connectRetryDelay = 10 * time.Millisecond
)

// SocketTransport is the out-of-process Transport flavor: a Unix datagram
// socket pair bound to a random filesystem name. Construction performs a
// three-step "hey"/"hello"/"hi" handshake so neither end sends real traffic
// before both have bound their local socket.
type SocketTransport struct {
	conn       *net.UnixConn
	remoteAddr *net.UnixAddr
	localPath  string

	closeOnce  sync.Once
	terminated chan struct{}
}

func randomSocketPath() string {
	return fmt.Sprintf("%s/rto-%s.sock", os.TempDir(), uuid.NewString())
}

// NewSocketTransportPair constructs two SocketTransport endpoints bound to
// distinct random socket paths in the same host and carries out the
// handshake between them. It is the single-process analogue of launching a
// sandboxed child process that independently constructs its own end.
func NewSocketTransportPair() (a, b *SocketTransport, err error) {
	pathA := randomSocketPath()
	pathB := randomSocketPath()

	connA, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: pathA, Net: "unixgram"})
	if err != nil {
		return nil, nil, err
	}
	connB, err := net.ListenUnixgram("unixgram", &net.UnixAddr{Name: pathB, Net: "unixgram"})
	if err != nil {
		connA.Close()
		return nil, nil, err
	}

	a = &SocketTransport{
		conn:       connA,
		remoteAddr: &net.UnixAddr{Name: pathB, Net: "unixgram"},
		localPath:  pathA,
		terminated: make(chan struct{}),
	}
	b = &SocketTransport{
		conn:       connB,
		remoteAddr: &net.UnixAddr{Name: pathA, Net: "unixgram"},
		localPath:  pathB,
		terminated: make(chan struct{}),
	}

	if err := retryConnect(a); err != nil {
		a.Close()
		b.Close()
		return nil, nil, err
	}
	if err := retryConnect(b); err != nil {
		a.Close()
		b.Close()
		return nil, nil, err
	}

	if err := handshake(a, b); err != nil {
		a.Close()
		b.Close()
		return nil, nil, err
	}

	return a, b, nil
}

// retryConnect probes the peer's socket file up to connectRetries times,
// the Go analogue of the original's connect() retry loop for out-of-process
// sandboxes whose peer may not have bound yet.
func retryConnect(t *SocketTransport) error {
	for i := 0; i < connectRetries; i++ {
		if _, err := os.Stat(t.remoteAddr.Name); err == nil {
			return nil
		}
		time.Sleep(connectRetryDelay)
	}
	return fmt.Errorf("transport: peer socket %s did not appear after %d retries", t.remoteAddr.Name, connectRetries)
}

// handshake performs the fixed "hey" -> "hello" -> "hi" rendezvous so
// neither side sends real traffic before both ends have bound.
func handshake(a, b *SocketTransport) error {
	if err := a.writeRaw([]byte("hey")); err != nil {
		return err
	}
	msg, err := b.readRaw(handshakeStepTimeout)
	if err != nil || string(msg) != "hey" {
		return fmt.Errorf("transport: handshake step 1 failed: %v", err)
	}
	if err := b.writeRaw([]byte("hello")); err != nil {
		return err
	}
	msg, err = a.readRaw(handshakeStepTimeout)
	if err != nil || string(msg) != "hello" {
		return fmt.Errorf("transport: handshake step 2 failed: %v", err)
	}
	if err := a.writeRaw([]byte("hi")); err != nil {
		return err
	}
	msg, err = b.readRaw(handshakeStepTimeout)
	if err != nil || string(msg) != "hi" {
		return fmt.Errorf("transport: handshake step 3 failed: %v", err)
	}
	return nil
}

func (t *SocketTransport) writeRaw(p []byte) error {
	_, err := t.conn.WriteToUnix(p, t.remoteAddr)
	return err
}

func (t *SocketTransport) readRaw(timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		t.conn.SetReadDeadline(time.Now().Add(timeout))
		defer t.conn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, MaxDatagramSize)
	n, _, err := t.conn.ReadFromUnix(buf)
	if err != nil {
		return nil, err
	}
	if n > MaxPayloadSize {
		panic("transport: received datagram larger than MaxPayloadSize")
	}
	return buf[:n], nil
}

func (t *SocketTransport) Send(msg []byte) error {
	if len(msg) > MaxPayloadSize {
		panic("transport: outgoing message exceeds MaxPayloadSize")
	}
	select {
	case <-t.terminated:
		return ErrTerminated
	default:
	}
	return t.writeRaw(msg)
}

func (t *SocketTransport) Recv(timeout time.Duration) ([]byte, error) {
	type result struct {
		msg []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := t.readRaw(timeout)
		done <- result{msg, err}
	}()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout + 5*time.Millisecond)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case r := <-done:
		if r.err != nil {
			if ne, ok := r.err.(net.Error); ok && ne.Timeout() {
				return nil, ErrTimeout
			}
			return nil, ErrTerminated
		}
		return r.msg, nil
	case <-t.terminated:
		return nil, ErrTerminated
	case <-timeoutCh:
		return nil, ErrTimeout
	}
}

// CreateTerminator shuts down both directions of the socket and signals any
// blocked Recv to resolve with ErrTerminated.
func (t *SocketTransport) CreateTerminator() func() {
	return func() {
		t.closeOnce.Do(func() {
			close(t.terminated)
			t.conn.Close()
		})
	}
}

// Close tears down this endpoint and removes its own backing socket file —
// the Go analogue of the file being removed on drop of the last owner,
// since each endpoint here owns a distinct path rather than sharing one.
func (t *SocketTransport) Close() error {
	t.CreateTerminator()()
	os.Remove(t.localPath)
	return nil
}
