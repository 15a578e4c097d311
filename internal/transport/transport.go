// Package transport owns the sockets of a channel. It performs
// near-nonblocking sends and receives, frames DNS-over-TCP messages
// with their 2-byte length prefix, buffers partial TCP reads and
// writes, and reports which sockets the caller's event loop should
// watch.
//
// The package never spawns goroutines. All methods must be called
// from the thread driving the channel.
package transport

import (
	"errors"
	"net"
	"os"
	"syscall"
	"time"

	"github.com/ooni/ares/model"
)

// Kind is the transport kind of a socket.
type Kind string

// The transport kinds we support.
const (
	KindUDP = Kind("udp")
	KindTCP = Kind("tcp")
)

// Dialer creates connections. The channel injects a dialer that
// binds to the configured local address and device; tests inject
// dialers returning in-memory connections.
type Dialer func(network, address string) (net.Conn, error)

// ioGrace bounds how long an I/O call may block when the caller's
// readiness report was wrong. When readiness is accurate all calls
// return immediately.
const ioGrace = 100 * time.Millisecond

// readBufferSize is the size of the UDP receive buffer, large
// enough for any EDNS payload we advertise.
const readBufferSize = 1 << 16

// maxTCPMessage is the largest DNS-over-TCP message we accept,
// which is the largest value the 2-byte length prefix can carry.
const maxTCPMessage = 1 << 16

type socket struct {
	conn   net.Conn
	fd     uintptr
	id     model.SocketID
	kind   Kind
	rbuf   []byte // accumulated TCP bytes, possibly a partial message
	refs   int    // queries awaiting a response on this socket
	server int
	wbuf   []byte // bytes the transport has not accepted yet
}

// Manager owns the sockets of a channel.
type Manager struct {
	dial    Dialer
	nextID  model.SocketID
	sockets map[model.SocketID]*socket
	udp     map[int]model.SocketID // nameserver index to UDP socket
}

// NewManager creates a new Manager using the given dialer.
func NewManager(dial Dialer) *Manager {
	return &Manager{
		dial:    dial,
		sockets: make(map[model.SocketID]*socket),
		udp:     make(map[int]model.SocketID),
	}
}

// SendUDP sends payload to the given nameserver over UDP, opening
// the per-server UDP socket on first use and reusing it afterwards.
// It returns the socket the query is now awaiting a response on.
func (mgr *Manager) SendUDP(server int, address string, payload []byte) (model.SocketID, error) {
	sock, err := mgr.udpSocket(server, address)
	if err != nil {
		return 0, err
	}
	// A datagram socket accepts the whole datagram or fails.
	if _, err := sock.conn.Write(payload); err != nil {
		mgr.Close(sock.id)
		return 0, &model.TransportError{Op: "udp send", Err: err}
	}
	sock.refs++
	return sock.id, nil
}

func (mgr *Manager) udpSocket(server int, address string) (*socket, error) {
	if id, ok := mgr.udp[server]; ok {
		if sock, ok := mgr.sockets[id]; ok {
			return sock, nil
		}
	}
	conn, err := mgr.dial("udp", address)
	if err != nil {
		return nil, &model.TransportError{Op: "udp dial", Err: err}
	}
	sock := mgr.register(conn, KindUDP, server)
	mgr.udp[server] = sock.id
	return sock, nil
}

// SendTCP opens a TCP connection to the given nameserver and sends
// payload with the 2-byte big endian length prefix. Whatever the
// transport does not accept immediately is retained and flushed
// when the caller reports the socket writable.
func (mgr *Manager) SendTCP(server int, address string, payload []byte) (model.SocketID, error) {
	if len(payload) >= maxTCPMessage {
		return 0, &model.TransportError{Op: "tcp send", Err: errors.New("query too large")}
	}
	conn, err := mgr.dial("tcp", address)
	if err != nil {
		return 0, &model.TransportError{Op: "tcp dial", Err: err}
	}
	sock := mgr.register(conn, KindTCP, server)
	msg := make([]byte, 0, len(payload)+2)
	msg = append(msg, byte(len(payload)>>8), byte(len(payload)))
	msg = append(msg, payload...)
	sock.wbuf = msg
	sock.refs++
	if err := mgr.Flush(sock.id); err != nil {
		mgr.Close(sock.id)
		return 0, err
	}
	return sock.id, nil
}

func (mgr *Manager) register(conn net.Conn, kind Kind, server int) *socket {
	mgr.nextID++
	sock := &socket{
		conn:   conn,
		fd:     connFD(conn),
		id:     mgr.nextID,
		kind:   kind,
		server: server,
	}
	mgr.sockets[sock.id] = sock
	return sock
}

// connFD extracts the file descriptor backing conn, so that callers
// can feed it to poll(2) and friends. In-memory test connections do
// not have one and report zero.
func connFD(conn net.Conn) uintptr {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return 0
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return 0
	}
	var fd uintptr
	_ = raw.Control(func(f uintptr) { fd = f })
	return fd
}

// Sockets returns the poll specification for every socket that
// currently needs watching: read interest for sockets with queries
// awaiting a response, write interest for sockets with unsent bytes.
func (mgr *Manager) Sockets() []model.PollSpec {
	var out []model.PollSpec
	for _, sock := range mgr.sockets {
		spec := model.PollSpec{
			FD:       sock.fd,
			Readable: sock.refs > 0,
			Socket:   sock.id,
			Writable: len(sock.wbuf) > 0,
		}
		if spec.Readable || spec.Writable {
			out = append(out, spec)
		}
	}
	return out
}

// ServerOf reports which nameserver and transport the socket
// belongs to.
func (mgr *Manager) ServerOf(id model.SocketID) (server int, kind Kind, ok bool) {
	sock, ok := mgr.sockets[id]
	if !ok {
		return 0, "", false
	}
	return sock.server, sock.kind, true
}

// Recv receives from a socket the caller reported readable and
// returns zero or more complete DNS messages.
//
// For UDP we read a single datagram. For TCP we read once into the
// accumulation buffer and then extract every complete length-prefixed
// message; a partial message stays buffered for the next readable
// event.
func (mgr *Manager) Recv(id model.SocketID) ([][]byte, error) {
	sock, ok := mgr.sockets[id]
	if !ok {
		return nil, nil
	}
	_ = sock.conn.SetReadDeadline(time.Now().Add(ioGrace))
	buf := make([]byte, readBufferSize)
	n, err := sock.conn.Read(buf)
	if err != nil {
		if isWouldBlock(err) {
			return nil, nil
		}
		return nil, &model.TransportError{Op: string(sock.kind) + " recv", Err: err}
	}
	if sock.kind == KindUDP {
		return [][]byte{buf[:n]}, nil
	}
	sock.rbuf = append(sock.rbuf, buf[:n]...)
	var msgs [][]byte
	for len(sock.rbuf) >= 2 {
		length := int(sock.rbuf[0])<<8 | int(sock.rbuf[1])
		if len(sock.rbuf) < 2+length {
			break
		}
		msg := make([]byte, length)
		copy(msg, sock.rbuf[2:2+length])
		sock.rbuf = sock.rbuf[2+length:]
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// Flush writes as much pending data as the transport accepts,
// retaining the remainder.
func (mgr *Manager) Flush(id model.SocketID) error {
	sock, ok := mgr.sockets[id]
	if !ok || len(sock.wbuf) == 0 {
		return nil
	}
	_ = sock.conn.SetWriteDeadline(time.Now().Add(ioGrace))
	n, err := sock.conn.Write(sock.wbuf)
	sock.wbuf = sock.wbuf[n:]
	if err != nil && !isWouldBlock(err) {
		return &model.TransportError{Op: string(sock.kind) + " send", Err: err}
	}
	return nil
}

// isWouldBlock reports whether err is the temporary cannot-do-I/O-now
// error produced by an expired grace deadline.
func isWouldBlock(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// Release records that a query stopped waiting on the socket. A TCP
// socket with no waiters is closed, its exchange being over. A UDP
// socket is kept for reuse when keepOpen says so, otherwise closed
// once idle.
func (mgr *Manager) Release(id model.SocketID, keepOpen bool) {
	sock, ok := mgr.sockets[id]
	if !ok {
		return
	}
	if sock.refs > 0 {
		sock.refs--
	}
	if sock.refs > 0 {
		return
	}
	if sock.kind == KindTCP || !keepOpen {
		mgr.Close(id)
	}
}

// Close closes a socket and forgets it.
func (mgr *Manager) Close(id model.SocketID) {
	sock, ok := mgr.sockets[id]
	if !ok {
		return
	}
	delete(mgr.sockets, id)
	if mgr.udp[sock.server] == id {
		delete(mgr.udp, sock.server)
	}
	_ = sock.conn.Close()
}

// CloseAll closes every socket.
func (mgr *Manager) CloseAll() {
	for id := range mgr.sockets {
		mgr.Close(id)
	}
}
