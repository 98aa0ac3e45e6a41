// Package server implements the backend RPC server: service registration, middleware
// chain, parallel request processing, caller-driven cancellation and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads frames)
//	  → Request: go handleRequest (parallel processing, context registered under seq)
//	    → Codec.Decode → Middleware Chain → businessHandler (reflect.Call) → Codec.Encode → write response
//	  → Cancel:  cancel the context registered under seq
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"polygate/codec"
	"polygate/message"
	"polygate/metrics"
	"polygate/middleware"
	"polygate/protocol"
	"polygate/registry"
	"polygate/status"
)

// registrationTTL is the etcd lease TTL in seconds; KeepAlive renews it.
const registrationTTL = 10

// Server registers services and handles incoming requests.
type Server struct {
	serviceMap  map[string]*service
	mu          sync.Mutex // guards listener
	listener    net.Listener
	wg          sync.WaitGroup // in-flight requests
	shutdown    atomic.Bool    // set before the listener closes so Accept errors read as intentional
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // middleware(middleware(...(businessHandler)))

	registry      registry.Registry // nil when not publishing to etcd
	advertiseAddr string
	codecName     string

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	log zerolog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithRegistry publishes every registered service at advertiseAddr once Serve starts.
// advertiseAddr differs from the listen address because ":8081" is not routable.
func WithRegistry(reg registry.Registry, advertiseAddr string) Option {
	return func(s *Server) {
		s.registry = reg
		s.advertiseAddr = advertiseAddr
	}
}

// WithLogger replaces the global logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Server) { s.log = logger }
}

// WithCodecName is recorded in the registry entry so operators know what the backend
// expects. The server itself answers in whatever codec each request used.
func WithCodecName(name string) Option {
	return func(s *Server) { s.codecName = name }
}

// NewServer creates a server with no services.
func NewServer(opts ...Option) *Server {
	s := &Server{
		serviceMap: make(map[string]*service),
		conns:      make(map[net.Conn]struct{}),
		log:        log.With().Str("component", "rpc-server").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register exposes rcvr's RPC-shaped methods under its type name.
func (s *Server) Register(rcvr any) error {
	return s.RegisterName("", rcvr)
}

// RegisterName exposes rcvr's RPC-shaped methods under name.
func (s *Server) RegisterName(name string, rcvr any) error {
	svc, err := newService(name, rcvr)
	if err != nil {
		return err
	}
	if _, dup := s.serviceMap[svc.name]; dup {
		return fmt.Errorf("server: service %s already registered", svc.name)
	}
	s.serviceMap[svc.name] = svc
	return nil
}

// Use registers a middleware. Middlewares apply in the order added, first outermost.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// ListenAndServe listens on address and serves until Shutdown.
func (s *Server) ListenAndServe(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return s.Serve(listener)
}

// Serve accepts connections on listener until Shutdown, publishing the registered
// services to the registry first when one is configured.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	s.handler = middleware.Chain(s.middlewares...)(s.businessHandler)

	if s.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		for serviceName := range s.serviceMap {
			instance := registry.ServiceInstance{Addr: s.advertiseAddr, Codec: s.codecName}
			if err := s.registry.Register(ctx, serviceName, instance, registrationTTL); err != nil {
				cancel()
				listener.Close()
				return fmt.Errorf("register %s: %w", serviceName, err)
			}
			s.log.Info().Str("service", serviceName).Str("addr", s.advertiseAddr).Msg("registered with etcd")
		}
		cancel()
	}

	s.log.Info().Str("addr", listener.Addr().String()).Msg("rpc server listening")
	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.shutdown.Load() {
				return nil
			}
			return err
		}
		go s.handleConn(conn)
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// handleConn reads frames from one connection. Reads are sequential (frame boundaries
// depend on it); each request runs in its own goroutine. Writers on this connection share
// writeMu so response frames never interleave.
func (s *Server) handleConn(conn net.Conn) {
	s.trackConn(conn, true)
	defer s.trackConn(conn, false)

	c := &serverConn{conn: conn, inflight: make(map[uint32]context.CancelFunc)}
	defer func() {
		conn.Close()
		// The caller is gone; nobody will read what the remaining handlers produce.
		c.cancelAll()
	}()

	for {
		header, body, err := protocol.Decode(conn)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) && !errors.Is(err, io.EOF) {
				s.log.Warn().Err(err).Str("remote", conn.RemoteAddr().String()).Msg("dropping connection")
			}
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
		case protocol.MsgTypeCancel:
			if c.cancel(header.Seq) {
				metrics.RPCCancelled.Inc()
			}
		case protocol.MsgTypeRequest:
			ctx := c.start(header.Seq)
			s.wg.Add(1)
			go s.handleRequest(ctx, c, header, body)
		}
	}
}

// handleRequest decodes one request, runs it through the middleware chain and writes the
// response with the request's seq.
func (s *Server) handleRequest(ctx context.Context, c *serverConn, header *protocol.Header, body []byte) {
	defer s.wg.Done()
	defer c.finish(header.Seq)

	cdc := codec.GetCodec(codec.CodecType(header.CodecType))
	req := &message.Envelope{}
	var resp *message.Envelope
	if err := cdc.Decode(body, req); err != nil {
		resp = message.Fail("", status.Newf(status.InvalidArgument, "decode request: %v", err))
	} else {
		resp = s.handler(ctx, req)
	}

	result, err := cdc.Encode(resp)
	if err != nil {
		s.log.Error().Err(err).Str("operation", req.Operation).Msg("failed to encode response")
		result, _ = cdc.Encode(message.Fail(req.Operation, status.Newf(status.Internal, "encode response: %v", err)))
	}
	if len(result) > int(protocol.MaxBodyLen) {
		// An oversized frame would make the peer drop the whole connection.
		s.log.Error().Int("bytes", len(result)).Str("operation", req.Operation).Msg("reply exceeds frame limit")
		result, _ = cdc.Encode(message.Fail(req.Operation, status.New(status.Internal, "reply exceeds frame limit")))
	}

	replyHeader := protocol.Header{
		CodecType: header.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       header.Seq,
	}
	c.writeMu.Lock()
	err = protocol.Encode(c.conn, &replyHeader, result)
	c.writeMu.Unlock()
	if err != nil {
		s.log.Debug().Err(err).Uint32("seq", header.Seq).Msg("failed to write response")
	}
}

// businessHandler dispatches a request to the registered service method.
//
// Flow: parse "Service.Method" → find service → find method → reflect.New(args) →
// json.Unmarshal(payload, args) → reflect.Call → json.Marshal(reply)
func (s *Server) businessHandler(ctx context.Context, req *message.Envelope) *message.Envelope {
	serviceName, methodName, ok := strings.Cut(req.Operation, ".")
	if !ok || serviceName == "" || methodName == "" {
		return message.Fail(req.Operation, status.Newf(status.Internal, "malformed operation %q", req.Operation))
	}

	svc, ok := s.serviceMap[serviceName]
	if !ok {
		return message.Fail(req.Operation, status.Newf(status.Internal, "unknown service %q", serviceName))
	}
	method, ok := svc.method[methodName]
	if !ok {
		return message.Fail(req.Operation, status.Newf(status.Internal, "unknown method %q on %s", methodName, serviceName))
	}

	argv := reflect.New(method.ArgType)
	replyv := reflect.New(method.ReplyType)

	if len(req.Payload) > 0 {
		if err := json.Unmarshal(req.Payload, argv.Interface()); err != nil {
			return message.Fail(req.Operation, status.Newf(status.InvalidArgument, "decode arguments: %v", err))
		}
	}

	if err := svc.call(ctx, method, argv, replyv); err != nil {
		return message.Fail(req.Operation, status.Convert(err))
	}

	payload, err := json.Marshal(replyv.Interface())
	if err != nil {
		return message.Fail(req.Operation, status.Newf(status.Internal, "encode reply: %v", err))
	}
	return &message.Envelope{Operation: req.Operation, Payload: payload}
}

// Shutdown stops the server gracefully:
//  1. Deregister from etcd so nothing new is pointed here
//  2. Close the listener
//  3. Wait for in-flight requests, up to ctx
//  4. Close the remaining idle connections
func (s *Server) Shutdown(ctx context.Context) error {
	var errs error

	if s.registry != nil {
		for serviceName := range s.serviceMap {
			errs = multierr.Append(errs, s.registry.Deregister(ctx, serviceName, s.advertiseAddr))
		}
	}

	s.shutdown.Store(true)
	s.mu.Lock()
	if s.listener != nil {
		errs = multierr.Append(errs, s.listener.Close())
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("waiting for in-flight requests: %w", ctx.Err()))
	}

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()
	return errs
}

func (s *Server) trackConn(conn net.Conn, add bool) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if add {
		s.conns[conn] = struct{}{}
	} else {
		delete(s.conns, conn)
	}
}

// serverConn is the per-connection state shared by the reader and the request goroutines.
type serverConn struct {
	conn    net.Conn
	writeMu sync.Mutex

	mu       sync.Mutex
	inflight map[uint32]context.CancelFunc
}

func (c *serverConn) start(seq uint32) context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.inflight[seq] = cancel
	c.mu.Unlock()
	return ctx
}

func (c *serverConn) finish(seq uint32) {
	c.mu.Lock()
	cancel, ok := c.inflight[seq]
	delete(c.inflight, seq)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// cancel reports whether seq was still in flight.
func (c *serverConn) cancel(seq uint32) bool {
	c.mu.Lock()
	cancel, ok := c.inflight[seq]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (c *serverConn) cancelAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, cancel := range c.inflight {
		cancel()
	}
}
