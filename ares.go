// Package ares is an asynchronous DNS resolver engine.
//
// A [Channel] is a resolver session owning nameservers, sockets and
// in-flight queries. The caller issues typed queries (QueryA,
// QuerySRV, ...) each carrying a completion callback, then drives
// the engine from its own event loop: [Channel.Sockets] says which
// sockets to watch, [Channel.Timeout] says how long to wait at most,
// and [Channel.Process] performs the I/O and fires completions.
//
// The engine never blocks the caller and never spawns goroutines. A
// channel must be driven from a single thread; external
// synchronization is required to share one across threads.
package ares

import (
	"time"

	"github.com/ooni/ares/internal/transport"
	"github.com/ooni/ares/model"
)

// Channel is a resolver session. Create one with NewChannel and
// dispose of it with Destroy, which cancels any in-flight query.
type Channel struct {
	begin     time.Time
	deferred  []model.SocketID
	deferring bool
	destroyed bool
	domains   []string
	flags     int
	handler   model.Handler
	mgr       *transport.Manager
	ndots     int
	now       func() time.Time
	pending   map[uint16]*query
	rng       idSource
	servers   []string
	sortlist  []sortPattern
	timeout   time.Duration
	tries     int
	udpSize   uint16
}

type idSource interface {
	Intn(n int) int
}

// NewChannel creates a new Channel from options.
func NewChannel(options *Options) (*Channel, error) {
	if options == nil {
		options = &Options{}
	}
	if len(options.Servers) < 1 {
		return nil, &model.ConfigError{Option: "nameservers", Reason: "empty list"}
	}
	servers := make([]string, 0, len(options.Servers))
	for _, endpoint := range options.Servers {
		server, err := parseServer(endpoint)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server)
	}
	sortlist, err := parseSortlist(options.Sortlist)
	if err != nil {
		return nil, err
	}
	dial, err := options.dialer()
	if err != nil {
		return nil, err
	}
	now := options.clock()
	return &Channel{
		begin:    now(),
		domains:  options.Domains,
		flags:    options.Flags,
		handler:  options.Handler,
		mgr:      transport.NewManager(dial),
		ndots:    options.ndots(),
		now:      now,
		pending:  make(map[uint16]*query),
		rng:      options.rng(),
		servers:  servers,
		sortlist: sortlist,
		timeout:  options.timeout(),
		tries:    options.tries(),
		udpSize:  options.udpMaxSize(),
	}, nil
}

// Sockets returns the sockets the caller's event loop should watch
// right now: every socket backing a query awaiting a response, plus
// any socket with pending unsent bytes.
func (ch *Channel) Sockets() []model.PollSpec {
	return ch.mgr.Sockets()
}

// Timeout returns how long the caller may wait for readiness before
// calling Process again, which is the time until the earliest
// pending deadline, clamped to max. With no pending queries it
// returns max.
func (ch *Channel) Timeout(max time.Duration) time.Duration {
	out := max
	now := ch.now()
	for _, q := range ch.pending {
		d := q.deadline.Sub(now)
		if d < 0 {
			d = 0
		}
		if d < out {
			out = d
		}
	}
	return out
}

// Process performs I/O on the sockets the caller found ready and
// advances deadline bookkeeping. Readable sockets are drained into
// the matching pending queries; writable sockets flush their unsent
// bytes; queries whose deadline passed are retried or timed out.
//
// Calling Process with no ready sockets is valid and still advances
// deadlines: do that when the wait timed out.
func (ch *Channel) Process(readable, writable []model.SocketID) {
	for _, id := range writable {
		if err := ch.mgr.Flush(id); err != nil {
			ch.failSocket(id, err)
		}
	}
	for _, id := range readable {
		msgs, err := ch.mgr.Recv(id)
		if err != nil {
			ch.failSocket(id, err)
			continue
		}
		for _, data := range msgs {
			ch.handleReply(id, data)
		}
	}
	ch.processDeadlines(ch.now())
}

// failSocket handles a socket level failure by moving every query
// that was waiting on the socket to its next attempt.
func (ch *Channel) failSocket(id model.SocketID, err error) {
	ch.mgr.Close(id)
	for _, q := range ch.queriesOn(id) {
		ch.retryOrFail(q, err, "transport error")
	}
}

func (ch *Channel) queriesOn(id model.SocketID) []*query {
	var out []*query
	for _, q := range ch.pending {
		if q.socket == id {
			out = append(out, q)
		}
	}
	return out
}

// Cancel cancels every in-flight query, invoking each completion
// with the cancellation error. Socket releases are deferred until
// every callback has fired, so a callback still observes the sockets
// open. The channel remains usable.
func (ch *Channel) Cancel() {
	ch.deferring = true
	for _, q := range ch.allPending() {
		ch.complete(q, nil, nil, model.ErrCancelled)
	}
	ch.deferring = false
	for _, sock := range ch.deferred {
		ch.mgr.Release(sock, ch.stayOpen())
	}
	ch.deferred = nil
}

// Destroy cancels every in-flight query and then closes all the
// sockets. Completions fire before any socket is closed. The
// channel must not be used afterwards.
func (ch *Channel) Destroy() {
	ch.Cancel()
	ch.mgr.CloseAll()
	ch.destroyed = true
}

func (ch *Channel) allPending() []*query {
	out := make([]*query, 0, len(ch.pending))
	for _, q := range ch.pending {
		out = append(out, q)
	}
	return out
}

func (ch *Channel) elapsed() time.Duration {
	return ch.now().Sub(ch.begin)
}

func (ch *Channel) emit(ev model.Event) {
	if ch.handler != nil {
		ch.handler.OnEvent(ev)
	}
}

// generateID returns a random query ID not currently in use on this
// channel. Random IDs resist forgery by off-path attackers.
func (ch *Channel) generateID() uint16 {
	for {
		id := uint16(ch.rng.Intn(1 << 16))
		if _, used := ch.pending[id]; !used {
			return id
		}
	}
}

// recursionDesired reports whether queries should set the RD bit.
func (ch *Channel) recursionDesired() bool {
	return ch.flags&FlagNoRecurse == 0
}

// ednsSize returns the EDNS(0) payload size to advertise, zero when
// EDNS is disabled.
func (ch *Channel) ednsSize() uint16 {
	if ch.flags&FlagEDNS == 0 {
		return 0
	}
	return ch.udpSize
}

func (ch *Channel) stayOpen() bool {
	return ch.flags&FlagStayOpen != 0
}
