// Package client is the gateway's view of a backend: one Conn per backend address, owning
// the single multiplexed transport to it, and a typed ResourceClient on top exposing the
// resource operations.
//
// Conn dials lazily and redials on the next call once the transport has died. The call
// that observed the failure is not retried; it fails with Unavailable.
package client

import (
	"context"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"polygate/codec"
	"polygate/message"
	"polygate/metrics"
	"polygate/status"
	"polygate/transport"
)

// Conn owns the connection to one backend address.
type Conn struct {
	service     string
	addr        string
	codecType   codec.CodecType
	dialTimeout time.Duration
	callTimeout time.Duration
	heartbeat   time.Duration

	mu sync.Mutex
	tr *transport.ClientTransport

	log zerolog.Logger
}

// Option configures a Conn.
type Option func(*Conn)

// WithCodec selects the wire codec. JSON is the default.
func WithCodec(ct codec.CodecType) Option {
	return func(c *Conn) { c.codecType = ct }
}

// WithDialTimeout bounds connection establishment.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Conn) { c.dialTimeout = d }
}

// WithCallTimeout bounds every call, including the dial it may trigger. Zero means the
// caller's context is the only bound.
func WithCallTimeout(d time.Duration) Option {
	return func(c *Conn) { c.callTimeout = d }
}

// WithHeartbeat sets the transport heartbeat interval.
func WithHeartbeat(d time.Duration) Option {
	return func(c *Conn) { c.heartbeat = d }
}

// NewConn prepares a connection to the backend serving service at addr. Nothing is dialed
// until the first call.
func NewConn(service, addr string, opts ...Option) *Conn {
	c := &Conn{
		service:     service,
		addr:        addr,
		codecType:   codec.CodecTypeJSON,
		dialTimeout: 5 * time.Second,
		heartbeat:   transport.DefaultHeartbeatInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = log.With().Str("component", "rpc-client").Str("service", service).Str("addr", addr).Logger()
	return c
}

// Addr returns the backend address.
func (c *Conn) Addr() string { return c.addr }

// transport returns the live transport, dialing if there is none.
func (c *Conn) transport(ctx context.Context) (*transport.ClientTransport, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tr != nil && !c.tr.Closed() {
		return c.tr, nil
	}

	dialer := net.Dialer{Timeout: c.dialTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, status.Newf(status.Unavailable, "%s unreachable at %s: %v", c.service, c.addr, err)
	}

	tr := transport.NewClientTransport(netConn, c.codecType, transport.WithHeartbeat(c.heartbeat))
	c.tr = tr

	up := metrics.BackendUp.WithLabelValues(c.service, c.addr)
	up.Set(1)
	go func() {
		<-tr.Done()
		up.Set(0)
	}()
	c.log.Info().Msg("connected to backend")
	return tr, nil
}

// Invoke calls method with args and decodes the reply payload into reply. Every error is
// a *status.Error.
func (c *Conn) Invoke(ctx context.Context, method string, args, reply any) error {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	payload, err := c.call(ctx, method, args)
	if err != nil {
		return err
	}
	if reply == nil {
		return nil
	}
	if err := json.Unmarshal(payload, reply); err != nil {
		return status.Newf(status.Internal, "decode %s reply: %v", method, err)
	}
	return nil
}

func (c *Conn) call(ctx context.Context, method string, args any) (_ []byte, err error) {
	start := time.Now()
	defer func() {
		metrics.RPCCallDuration.WithLabelValues(c.service, method, status.CodeOf(err).String()).
			Observe(time.Since(start).Seconds())
	}()

	tr, err := c.transport(ctx)
	if err != nil {
		return nil, err
	}

	var resp *message.Envelope
	resp, err = tr.Call(ctx, method, args)
	if err != nil {
		return nil, err
	}
	if failure := resp.Err(); failure != nil {
		return nil, failure
	}
	return resp.Payload, nil
}

// Close closes the current transport, if any. A later call dials again.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tr == nil {
		return nil
	}
	err := c.tr.Close()
	c.tr = nil
	return err
}
