// Package transport implements the gateway side of a backend connection: many concurrent
// calls multiplexed over one TCP connection, plus heartbeats.
//
// Each request gets a unique sequence ID. A single background goroutine (recvLoop) reads
// responses and routes each one to the caller waiting on that sequence ID, so calls
// complete independently and in any order.
//
//	goroutine-1 ──Call(seq=1)──┐
//	goroutine-2 ──Call(seq=2)──┼──→ single TCP conn ──→ backend
//	goroutine-3 ──Call(seq=3)──┘
//
//	recvLoop:  ←── response(seq=2) → pending[2] → goroutine-2 wakes up
//
// A caller whose context ends stops waiting, and a Cancel frame tells the backend to
// abandon the work.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"polygate/codec"
	"polygate/message"
	"polygate/protocol"
	"polygate/status"
)

// DefaultHeartbeatInterval is used when no interval is configured.
const DefaultHeartbeatInterval = 30 * time.Second

// ErrClosed is returned for calls issued after the connection died.
var ErrClosed = status.New(status.Unavailable, "backend connection closed")

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn    net.Conn
	codec   codec.CodecType
	seq     uint32     // protected by sending
	sending sync.Mutex // whole frames only; interleaved writes corrupt the stream
	pending sync.Map   // map[uint32]chan *message.Envelope

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error // set before closed is closed

	log zerolog.Logger
}

// Option configures a ClientTransport.
type Option func(*options)

type options struct {
	heartbeat time.Duration
}

// WithHeartbeat overrides the heartbeat interval. Zero or negative disables heartbeats.
func WithHeartbeat(interval time.Duration) Option {
	return func(o *options) { o.heartbeat = interval }
}

// NewClientTransport wraps conn and starts the receive and heartbeat goroutines.
func NewClientTransport(conn net.Conn, ct codec.CodecType, opts ...Option) *ClientTransport {
	o := options{heartbeat: DefaultHeartbeatInterval}
	for _, opt := range opts {
		opt(&o)
	}

	t := &ClientTransport{
		conn:   conn,
		codec:  ct,
		closed: make(chan struct{}),
		log:    log.With().Str("component", "transport").Str("remote", conn.RemoteAddr().String()).Logger(),
	}
	go t.recvLoop()
	if o.heartbeat > 0 {
		go t.heartbeatLoop(o.heartbeat)
	}
	return t
}

// Call issues operation with args and waits for its response or for ctx to end.
//
// The returned envelope may itself carry a Failure; the error return is reserved for
// failures of the call mechanics (encoding, broken connection, deadline), always
// classified as a *status.Error.
func (t *ClientTransport) Call(ctx context.Context, operation string, args any) (*message.Envelope, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.Convert(err)
	}

	seq, ch, err := t.Send(ctx, operation, args)
	if err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		if _, ok := t.pending.LoadAndDelete(seq); ok {
			t.cancel(seq)
			return nil, status.Convert(ctx.Err())
		}
		// The response was routed concurrently with the cancellation; it is already buffered.
		return <-ch, nil
	}
}

// Send encodes and writes one request frame and returns the channel its response will
// arrive on. Most callers want Call.
func (t *ClientTransport) Send(ctx context.Context, operation string, args any) (uint32, <-chan *message.Envelope, error) {
	payload, err := json.Marshal(args)
	if err != nil {
		return 0, nil, status.Newf(status.InvalidArgument, "encode %s arguments: %v", operation, err)
	}

	env := message.Envelope{
		Operation: operation,
		Payload:   payload,
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining > 0 {
			env.DeadlineMillis = uint32(remaining.Milliseconds())
		}
	}

	body, err := codec.GetCodec(t.codec).Encode(&env)
	if err != nil {
		return 0, nil, status.Newf(status.Internal, "encode %s envelope: %v", operation, err)
	}
	if len(body) > int(protocol.MaxBodyLen) {
		return 0, nil, status.Newf(status.InvalidArgument, "%s request exceeds frame limit", operation)
	}

	t.sending.Lock()
	defer t.sending.Unlock()

	if t.Closed() {
		return 0, nil, t.closedError()
	}

	t.seq++
	seq := t.seq

	// Register before writing so recvLoop can never see a response without a waiter.
	respChan := make(chan *message.Envelope, 1)
	t.pending.Store(seq, respChan)

	header := protocol.Header{
		CodecType: byte(t.codec),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       seq,
	}
	if err := protocol.Encode(t.conn, &header, body); err != nil {
		t.pending.Delete(seq)
		t.shutdown(err)
		return 0, nil, status.Convert(err)
	}

	return seq, respChan, nil
}

// recvLoop is the only reader of the connection; frame boundaries are only recoverable
// by reading sequentially.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.shutdown(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		resp := &message.Envelope{}
		if err := codec.GetCodec(codec.CodecType(header.CodecType)).Decode(body, resp); err != nil {
			resp = message.Fail("", status.Newf(status.Internal, "decode response: %v", err))
		}

		if ch, ok := t.pending.LoadAndDelete(header.Seq); ok {
			ch.(chan *message.Envelope) <- resp
		}
	}
}

// cancel tells the backend to abandon seq. Best effort: a write failure here means the
// connection is going down anyway.
func (t *ClientTransport) cancel(seq uint32) {
	t.sending.Lock()
	defer t.sending.Unlock()
	if t.Closed() {
		return
	}
	header := &protocol.Header{CodecType: byte(t.codec), MsgType: protocol.MsgTypeCancel, Seq: seq}
	if err := protocol.Encode(t.conn, header, nil); err != nil {
		t.log.Debug().Err(err).Uint32("seq", seq).Msg("failed to send cancel frame")
	}
}

func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
		}

		header := &protocol.Header{CodecType: byte(t.codec), MsgType: protocol.MsgTypeHeartbeat}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.shutdown(err)
			return
		}
	}
}

// shutdown marks the transport dead, closes the connection and fails every pending call
// with Unavailable so no caller waits forever.
func (t *ClientTransport) shutdown(cause error) {
	t.closeOnce.Do(func() {
		t.closeErr = cause
		close(t.closed)
		t.conn.Close()
		if cause != nil && !errors.Is(cause, net.ErrClosed) {
			t.log.Warn().Err(cause).Msg("backend connection lost")
		}
	})

	failure := t.closedError()
	t.pending.Range(func(key, _ any) bool {
		if ch, ok := t.pending.LoadAndDelete(key); ok {
			ch.(chan *message.Envelope) <- message.Fail("", failure)
		}
		return true
	})
}

func (t *ClientTransport) closedError() *status.Error {
	if t.closeErr == nil || errors.Is(t.closeErr, net.ErrClosed) {
		return ErrClosed
	}
	return status.Newf(status.Unavailable, "backend connection lost: %v", t.closeErr)
}

// Close closes the connection. Pending calls fail with Unavailable.
func (t *ClientTransport) Close() error {
	t.shutdown(net.ErrClosed)
	return nil
}

// Closed reports whether the connection has died or been closed.
func (t *ClientTransport) Closed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Done is closed once the connection is dead.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.closed
}
