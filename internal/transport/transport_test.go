package transport

import (
	"bytes"
	"errors"
	"net"
	"os"
	"testing"
	"time"
)

type fakeConn struct {
	closed     bool
	readErr    error
	readQueue  [][]byte
	writeErr   error
	writeLimit int
	written    []byte
}

func (c *fakeConn) Read(b []byte) (int, error) {
	if len(c.readQueue) == 0 {
		if c.readErr != nil {
			return 0, c.readErr
		}
		return 0, os.ErrDeadlineExceeded
	}
	data := c.readQueue[0]
	c.readQueue = c.readQueue[1:]
	return copy(b, data), nil
}

func (c *fakeConn) Write(b []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	n := len(b)
	if c.writeLimit > 0 && n > c.writeLimit {
		n = c.writeLimit
	}
	c.written = append(c.written, b[:n]...)
	if n < len(b) {
		return n, os.ErrDeadlineExceeded
	}
	return n, nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func (c *fakeConn) LocalAddr() net.Addr                { return &net.UDPAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr               { return &net.UDPAddr{} }
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

type fakeDialer struct {
	conns []*fakeConn
	err   error
	next  *fakeConn
}

func (d *fakeDialer) dial(network, address string) (net.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	conn := d.next
	if conn == nil {
		conn = &fakeConn{}
	}
	d.next = nil
	d.conns = append(d.conns, conn)
	return conn, nil
}

func TestSendUDPReusesSocket(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(dialer.dial)
	first, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("query-one"))
	if err != nil {
		t.Fatal(err)
	}
	second, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("query-two"))
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Fatal("expected the same socket to be reused")
	}
	if len(dialer.conns) != 1 {
		t.Fatal("expected a single dial")
	}
	want := []byte("query-onequery-two")
	if !bytes.Equal(dialer.conns[0].written, want) {
		t.Fatalf("unexpected written bytes: %q", dialer.conns[0].written)
	}
}

func TestSendUDPDialError(t *testing.T) {
	dialer := &fakeDialer{err: errors.New("mocked error")}
	mgr := NewManager(dialer.dial)
	if _, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("x")); err == nil {
		t.Fatal("expected an error here")
	}
}

func TestSendUDPWriteErrorClosesSocket(t *testing.T) {
	dialer := &fakeDialer{next: &fakeConn{writeErr: errors.New("mocked error")}}
	mgr := NewManager(dialer.dial)
	if _, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("x")); err == nil {
		t.Fatal("expected an error here")
	}
	if !dialer.conns[0].closed {
		t.Fatal("expected the socket to be closed")
	}
}

func TestSendTCPFraming(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(dialer.dial)
	if _, err := mgr.SendTCP(0, "8.8.8.8:53", []byte("abc")); err != nil {
		t.Fatal(err)
	}
	want := []byte{0x00, 0x03, 'a', 'b', 'c'}
	if !bytes.Equal(dialer.conns[0].written, want) {
		t.Fatalf("unexpected written bytes: %v", dialer.conns[0].written)
	}
}

func TestSendTCPPartialWriteIsRetained(t *testing.T) {
	dialer := &fakeDialer{next: &fakeConn{writeLimit: 2}}
	mgr := NewManager(dialer.dial)
	id, err := mgr.SendTCP(0, "8.8.8.8:53", []byte("abcd"))
	if err != nil {
		t.Fatal(err)
	}
	specs := mgr.Sockets()
	if len(specs) != 1 || !specs[0].Writable {
		t.Fatal("expected a writable socket")
	}
	// Each flush writes two more bytes until the frame is out.
	for i := 0; i < 2; i++ {
		if err := mgr.Flush(id); err != nil {
			t.Fatal(err)
		}
	}
	want := []byte{0x00, 0x04, 'a', 'b', 'c', 'd'}
	if !bytes.Equal(dialer.conns[0].written, want) {
		t.Fatalf("unexpected written bytes: %v", dialer.conns[0].written)
	}
	specs = mgr.Sockets()
	if len(specs) != 1 || specs[0].Writable || !specs[0].Readable {
		t.Fatal("expected a readable only socket")
	}
}

func TestRecvUDP(t *testing.T) {
	dialer := &fakeDialer{next: &fakeConn{
		readQueue: [][]byte{[]byte("datagram")},
	}}
	mgr := NewManager(dialer.dial)
	id, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := mgr.Recv(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0], []byte("datagram")) {
		t.Fatalf("unexpected messages: %v", msgs)
	}
}

func TestRecvUDPWouldBlock(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(dialer.dial)
	id, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := mgr.Recv(id)
	if err != nil || msgs != nil {
		t.Fatal("expected no messages and no error")
	}
}

func TestRecvTCPSplitAcrossReads(t *testing.T) {
	dialer := &fakeDialer{next: &fakeConn{
		readQueue: [][]byte{
			{0x00},
			{0x04, 'a', 'b'},
			{'c', 'd'},
		},
	}}
	mgr := NewManager(dialer.dial)
	id, err := mgr.SendTCP(0, "8.8.8.8:53", []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	// The length prefix and the message body arrive across three
	// separate read events; only the last completes a message.
	for i := 0; i < 2; i++ {
		msgs, err := mgr.Recv(id)
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) != 0 {
			t.Fatal("expected no complete message yet")
		}
	}
	msgs, err := mgr.Recv(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || !bytes.Equal(msgs[0], []byte("abcd")) {
		t.Fatalf("unexpected messages: %v", msgs)
	}
}

func TestRecvTCPTwoMessagesInOneRead(t *testing.T) {
	dialer := &fakeDialer{next: &fakeConn{
		readQueue: [][]byte{
			{0x00, 0x01, 'x', 0x00, 0x02, 'y', 'z'},
		},
	}}
	mgr := NewManager(dialer.dial)
	id, err := mgr.SendTCP(0, "8.8.8.8:53", []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	msgs, err := mgr.Recv(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected two messages, got %d", len(msgs))
	}
	if !bytes.Equal(msgs[0], []byte("x")) || !bytes.Equal(msgs[1], []byte("yz")) {
		t.Fatalf("unexpected messages: %v", msgs)
	}
}

func TestRecvError(t *testing.T) {
	dialer := &fakeDialer{next: &fakeConn{readErr: errors.New("mocked error")}}
	mgr := NewManager(dialer.dial)
	id, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.Recv(id); err == nil {
		t.Fatal("expected an error here")
	}
}

func TestReleaseClosesTCPSocket(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(dialer.dial)
	id, err := mgr.SendTCP(0, "8.8.8.8:53", []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	mgr.Release(id, true)
	if !dialer.conns[0].closed {
		t.Fatal("expected the TCP socket to be closed")
	}
	if len(mgr.Sockets()) != 0 {
		t.Fatal("expected no sockets left")
	}
}

func TestReleaseUDPKeepOpen(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(dialer.dial)
	id, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	mgr.Release(id, true)
	if dialer.conns[0].closed {
		t.Fatal("expected the UDP socket to stay open")
	}
	again, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	if again != id {
		t.Fatal("expected the kept socket to be reused")
	}
}

func TestReleaseUDPClose(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(dialer.dial)
	id, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("q"))
	if err != nil {
		t.Fatal(err)
	}
	mgr.Release(id, false)
	if !dialer.conns[0].closed {
		t.Fatal("expected the UDP socket to be closed")
	}
}

func TestCloseAll(t *testing.T) {
	dialer := &fakeDialer{}
	mgr := NewManager(dialer.dial)
	if _, err := mgr.SendUDP(0, "8.8.8.8:53", []byte("q")); err != nil {
		t.Fatal(err)
	}
	if _, err := mgr.SendTCP(1, "1.1.1.1:53", []byte("q")); err != nil {
		t.Fatal(err)
	}
	mgr.CloseAll()
	for i, conn := range dialer.conns {
		if !conn.closed {
			t.Fatalf("conn %d not closed", i)
		}
	}
	if len(mgr.Sockets()) != 0 {
		t.Fatal("expected no sockets left")
	}
}
