package ares

import (
	"net"
	"strings"
	"time"

	"github.com/ooni/ares/internal/wire"
	"github.com/ooni/ares/model"
	"github.com/ooni/ares/names"
)

type queryState int

const (
	statePending queryState = iota
	stateAwaiting
	stateDone
)

// query is a single outstanding query. Its callback fires exactly
// once: the done field is cleared on invocation, so a second
// completion is structurally impossible.
type query struct {
	attempt    int
	candidates []string
	deadline   time.Time
	done       func(msg *wire.Message, raw []byte, err error)
	id         uint16
	nameIdx    int
	qname      string
	qtype      uint16
	server     int
	socket     model.SocketID
	state      queryState
	usingTCP   bool
}

// issue registers a new query and sends its first attempt.
func (ch *Channel) issue(name string, qtype uint16, done func(*wire.Message, []byte, error)) {
	if ch.destroyed {
		done(nil, nil, model.ErrDestroyed)
		return
	}
	ascii, err := wire.ASCIIName(name)
	if err != nil {
		done(nil, nil, model.ErrBadName)
		return
	}
	if err := names.ValidateHostname(ascii); err != nil {
		done(nil, nil, err)
		return
	}
	q := &query{
		attempt:    1,
		candidates: ch.searchCandidates(ascii),
		done:       done,
		id:         ch.generateID(),
		qname:      name,
		qtype:      qtype,
		usingTCP:   ch.flags&FlagUseVC != 0,
	}
	ch.pending[q.id] = q
	ch.send(q)
}

// searchCandidates expands name against the search-domain list. A
// fully qualified name, the no-search flag, or an empty list leave
// the name alone. Otherwise names with at least ndots dots are
// tried as given before the search domains, names with fewer after.
func (ch *Channel) searchCandidates(name string) []string {
	if ch.flags&FlagNoSearch != 0 || strings.HasSuffix(name, ".") || len(ch.domains) == 0 {
		return []string{name}
	}
	expanded := make([]string, 0, len(ch.domains)+1)
	for _, domain := range ch.domains {
		expanded = append(expanded, name+"."+strings.TrimSuffix(domain, "."))
	}
	if strings.Count(name, ".") >= ch.ndots {
		return append([]string{name}, expanded...)
	}
	return append(expanded, name)
}

// send serializes the current candidate name and hands it to the
// transport, then arms the per-attempt deadline.
func (ch *Channel) send(q *query) {
	payload, err := wire.AppendQuery(nil, &wire.QuerySpec{
		ID:               q.id,
		Name:             q.candidates[q.nameIdx],
		RecursionDesired: ch.recursionDesired(),
		Type:             q.qtype,
		UDPSize:          ch.ednsSize(),
	})
	if err != nil {
		ch.complete(q, nil, nil, err)
		return
	}
	server := ch.servers[q.server]
	var sock model.SocketID
	if q.usingTCP {
		sock, err = ch.mgr.SendTCP(q.server, server, payload)
	} else {
		sock, err = ch.mgr.SendUDP(q.server, server, payload)
	}
	if err != nil {
		ch.retryOrFail(q, err, "send error")
		return
	}
	q.socket = sock
	q.state = stateAwaiting
	q.deadline = ch.now().Add(ch.attemptTimeout(q.attempt))
	ch.emit(model.Event{QuerySent: &model.QuerySentEvent{
		Attempt:   q.attempt,
		Name:      q.candidates[q.nameIdx],
		QueryID:   q.id,
		Server:    server,
		Time:      ch.elapsed(),
		Transport: q.transportName(),
		Type:      q.qtype,
	}})
}

// attemptTimeout doubles the configured timeout on every attempt
// after the first, capped so the shift cannot overflow.
func (ch *Channel) attemptTimeout(attempt int) time.Duration {
	shift := attempt - 1
	if shift > 6 {
		shift = 6
	}
	return ch.timeout << shift
}

func (q *query) transportName() string {
	if q.usingTCP {
		return "tcp"
	}
	return "udp"
}

// detach stops the query from waiting on its socket. During
// cancellation the release is deferred so that no socket closes
// before the last cancellation callback has fired.
func (ch *Channel) detach(q *query) {
	if q.state == stateAwaiting {
		if ch.deferring {
			ch.deferred = append(ch.deferred, q.socket)
		} else {
			ch.mgr.Release(q.socket, ch.stayOpen())
		}
		q.socket = 0
		q.state = statePending
	}
}

// retryOrFail advances the query to the next server consuming one
// attempt, or completes it with err when the budget is exhausted.
func (ch *Channel) retryOrFail(q *query, err error, reason string) {
	ch.detach(q)
	if q.attempt >= ch.tries {
		ch.complete(q, nil, nil, err)
		return
	}
	q.attempt++
	q.server = (q.server + 1) % len(ch.servers)
	ch.emit(model.Event{Retry: &model.RetryEvent{
		Attempt:   q.attempt,
		Name:      q.candidates[q.nameIdx],
		QueryID:   q.id,
		Reason:    reason,
		Server:    ch.servers[q.server],
		Time:      ch.elapsed(),
		Transport: q.transportName(),
	}})
	ch.send(q)
}

// handleReply routes a received message to the matching pending
// query. Messages whose ID matches no pending query, or that
// arrived on a socket other than the one the query was sent on,
// are forged or stale and silently discarded.
func (ch *Channel) handleReply(sock model.SocketID, data []byte) {
	id, ok := wire.QueryID(data)
	if !ok {
		return
	}
	q, ok := ch.pending[id]
	if !ok || q.state != stateAwaiting || q.socket != sock {
		return
	}
	msg, err := wire.ParseReply(data)
	if err != nil {
		// Decode errors are never retried against the same bytes.
		ch.complete(q, nil, nil, err)
		return
	}
	server := ch.servers[q.server]
	ch.emit(model.Event{Response: &model.ResponseEvent{
		NumAnswers: len(msg.Answers),
		QueryID:    q.id,
		Rcode:      msg.Rcode,
		Server:     server,
		Time:       ch.elapsed(),
		Truncated:  msg.Truncated,
	}})
	if msg.Truncated && !q.usingTCP && ch.flags&FlagIgnoreTC == 0 {
		// Retry over TCP without consuming a retry: truncation is
		// not a server failure.
		ch.detach(q)
		q.usingTCP = true
		ch.emit(model.Event{Retry: &model.RetryEvent{
			Attempt:   q.attempt,
			Name:      q.candidates[q.nameIdx],
			QueryID:   q.id,
			Reason:    "truncated",
			Server:    server,
			Time:      ch.elapsed(),
			Transport: q.transportName(),
		}})
		ch.send(q)
		return
	}
	switch msg.Rcode {
	case wire.RcodeSuccess:
		// A reply without any record of the requested type, e.g. a
		// bare CNAME chain, is no data: try the next candidate.
		if !msg.HasAnswerType(q.qtype) && ch.nextCandidate(q) {
			return
		}
		ch.complete(q, msg, data, nil)
	case wire.RcodeNameError:
		if ch.nextCandidate(q) {
			return
		}
		ch.complete(q, msg, data, model.ErrNoName)
	default:
		if ch.flags&FlagNoCheckResp != 0 {
			ch.complete(q, msg, data, rcodeError(msg.Rcode))
			return
		}
		ch.retryOrFail(q, rcodeError(msg.Rcode), "server failure")
	}
}

func rcodeError(rcode int) error {
	if rcode == wire.RcodeRefused {
		return model.ErrRefused
	}
	return model.ErrServerFailure
}

// nextCandidate moves the query to the next search-domain candidate
// with a fresh attempt budget. It reports false when there is no
// further candidate to try.
func (ch *Channel) nextCandidate(q *query) bool {
	if q.nameIdx+1 >= len(q.candidates) {
		return false
	}
	ch.detach(q)
	q.nameIdx++
	q.attempt = 1
	ch.emit(model.Event{Retry: &model.RetryEvent{
		Attempt:   q.attempt,
		Name:      q.candidates[q.nameIdx],
		QueryID:   q.id,
		Reason:    "next search domain",
		Server:    ch.servers[q.server],
		Time:      ch.elapsed(),
		Transport: q.transportName(),
	}})
	ch.send(q)
	return true
}

// processDeadlines retries or times out every query whose
// per-attempt deadline has passed.
func (ch *Channel) processDeadlines(now time.Time) {
	for _, q := range ch.allPending() {
		if q.state == stateAwaiting && !q.deadline.After(now) {
			ch.retryOrFail(q, model.ErrTimeout, "timeout")
		}
	}
}

// complete finishes the query and invokes its callback exactly once.
func (ch *Channel) complete(q *query, msg *wire.Message, raw []byte, err error) {
	if q.state == stateDone {
		return
	}
	ch.detach(q)
	q.state = stateDone
	delete(ch.pending, q.id)
	ch.emit(model.Event{QueryDone: &model.QueryDoneEvent{
		Error:   err,
		Name:    q.qname,
		QueryID: q.id,
		Time:    ch.elapsed(),
	}})
	done := q.done
	q.done = nil
	if done != nil {
		done(msg, raw, err)
	}
}

// Query issues a query for an arbitrary record type. The callback
// receives the raw response message on success.
func (ch *Channel) Query(name string, qtype uint16, callback func([]byte, error)) {
	ch.issue(name, qtype, func(_ *wire.Message, raw []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		callback(raw, nil)
	})
}

// QueryA looks up the IPv4 addresses of name.
func (ch *Channel) QueryA(name string, callback func(*model.AResults, error)) {
	ch.issue(name, wire.TypeA, func(msg *wire.Message, _ []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		results, err := msg.ExtractA()
		if err != nil {
			callback(nil, err)
			return
		}
		results.Addrs = ch.sortAddrs(results.Addrs)
		callback(results, nil)
	})
}

// QueryAAAA looks up the IPv6 addresses of name.
func (ch *Channel) QueryAAAA(name string, callback func(*model.AAAAResults, error)) {
	ch.issue(name, wire.TypeAAAA, func(msg *wire.Message, _ []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		results, err := msg.ExtractAAAA()
		if err != nil {
			callback(nil, err)
			return
		}
		results.Addrs = ch.sortAddrs(results.Addrs)
		callback(results, nil)
	})
}

// QuerySRV looks up the SRV records of name.
func (ch *Channel) QuerySRV(name string, callback func(*model.SRVResults, error)) {
	ch.issue(name, wire.TypeSRV, func(msg *wire.Message, _ []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		callback(msg.ExtractSRV())
	})
}

// QueryMX looks up the MX records of name.
func (ch *Channel) QueryMX(name string, callback func(*model.MXResults, error)) {
	ch.issue(name, wire.TypeMX, func(msg *wire.Message, _ []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		callback(msg.ExtractMX())
	})
}

// QueryNS looks up the NS records of name.
func (ch *Channel) QueryNS(name string, callback func(*model.NSResults, error)) {
	ch.issue(name, wire.TypeNS, func(msg *wire.Message, _ []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		callback(msg.ExtractNS())
	})
}

// QueryTXT looks up the TXT records of name.
func (ch *Channel) QueryTXT(name string, callback func(*model.TXTResults, error)) {
	ch.issue(name, wire.TypeTXT, func(msg *wire.Message, _ []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		callback(msg.ExtractTXT())
	})
}

// QueryPTR looks up the names of the given IP address, building the
// reverse lookup name internally.
func (ch *Channel) QueryPTR(ip net.IP, callback func(*model.PTRResults, error)) {
	name, err := names.ReverseName(ip)
	if err != nil {
		callback(nil, err)
		return
	}
	ch.issue(name, wire.TypePTR, func(msg *wire.Message, _ []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		callback(msg.ExtractPTR())
	})
}

// QuerySOA looks up the SOA record of name.
func (ch *Channel) QuerySOA(name string, callback func(*model.SOAResult, error)) {
	ch.issue(name, wire.TypeSOA, func(msg *wire.Message, _ []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		callback(msg.ExtractSOA())
	})
}

// QueryNAPTR looks up the NAPTR records of name.
func (ch *Channel) QueryNAPTR(name string, callback func(*model.NAPTRResults, error)) {
	ch.issue(name, wire.TypeNAPTR, func(msg *wire.Message, _ []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		callback(msg.ExtractNAPTR())
	})
}

// QueryCAA looks up the CAA records of name.
func (ch *Channel) QueryCAA(name string, callback func(*model.CAAResults, error)) {
	ch.issue(name, wire.TypeCAA, func(msg *wire.Message, _ []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		callback(msg.ExtractCAA())
	})
}
