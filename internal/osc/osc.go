// Package osc receives OSC control datagrams and forwards the decoded
// messages to the relay engine.
package osc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	gosc "github.com/hypebeast/go-osc/osc"
	"go.uber.org/zap"

	"github.com/sweeney/relay-node/internal/router"
)

// maxDatagram is the largest UDP payload we accept.
const maxDatagram = 65535

// Source tags messages that arrived over OSC.
const Source = "osc"

var errNotOSC = errors.New("not an OSC message or bundle")

// Sink accepts decoded messages. relay.Inbox implements it.
type Sink interface {
	Post(msg router.Message) bool
}

// Stats receives counters from the listener. status.Tracker implements it.
type Stats interface {
	IncMalformed()
	IncDropped()
}

// Decode parses one datagram. Bundles are flattened into their messages in
// order; nested bundles are walked depth first. Timetags are ignored and
// bundled messages are dispatched immediately.
func Decode(b []byte) ([]router.Message, error) {
	if len(b) == 0 {
		return nil, errNotOSC
	}
	p, err := gosc.ParsePacket(string(b))
	if err != nil {
		return nil, err
	}

	var out []router.Message
	switch p := p.(type) {
	case *gosc.Message:
		out = append(out, convert(p))
	case *gosc.Bundle:
		out = flatten(p, out)
	default:
		return nil, errNotOSC
	}
	return out, nil
}

func flatten(b *gosc.Bundle, out []router.Message) []router.Message {
	for _, m := range b.Messages {
		out = append(out, convert(m))
	}
	for _, nested := range b.Bundles {
		out = flatten(nested, out)
	}
	return out
}

func convert(m *gosc.Message) router.Message {
	args := make([]any, len(m.Arguments))
	copy(args, m.Arguments)
	return router.Message{Address: m.Address, Args: args, Source: Source}
}

// Listener reads datagrams from a UDP socket.
type Listener struct {
	conn  net.PacketConn
	sink  Sink
	stats Stats
	log   *zap.SugaredLogger

	closeOnce sync.Once
}

// Listen binds addr (e.g. ":53000") and returns a listener ready to Serve.
func Listen(addr string, sink Sink, stats Stats, log *zap.SugaredLogger) (*Listener, error) {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen udp %s: %w", addr, err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Listener{conn: conn, sink: sink, stats: stats, log: log}, nil
}

// Addr returns the bound address.
func (l *Listener) Addr() net.Addr {
	return l.conn.LocalAddr()
}

// Serve reads datagrams until ctx is done or the listener is closed.
// Malformed datagrams are logged and dropped; they never stop the loop.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.Close()
	}()

	buf := make([]byte, maxDatagram)
	for {
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read udp: %w", err)
		}
		l.handle(buf[:n], from)
	}
}

func (l *Listener) handle(b []byte, from net.Addr) {
	msgs, err := Decode(b)
	if err != nil {
		if l.stats != nil {
			l.stats.IncMalformed()
		}
		l.log.Warnw("recv error", "from", from, "bytes", len(b), "error", err)
		return
	}

	for _, msg := range msgs {
		l.log.Debugw("recv", "address", msg.Address, "from", from)
		if !l.sink.Post(msg) {
			if l.stats != nil {
				l.stats.IncDropped()
			}
			l.log.Warnw("inbox full, dropping message", "address", msg.Address, "from", from)
		}
	}
}

// Close stops the listener.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() { err = l.conn.Close() })
	return err
}

// Send encodes one message and sends it to addr ("host:port").
func Send(addr, address string, args ...any) error {
	host, port, err := splitHostPort(addr)
	if err != nil {
		return err
	}
	return gosc.NewClient(host, port).Send(gosc.NewMessage(address, args...))
}
