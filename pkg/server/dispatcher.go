// Package server implements the dispatcher side of the engine (spec
// §4.5): per-connection handshake, CALL routing, argument binding,
// worker-per-call execution, and streaming/cancellation handling.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/snekrpc/snekrpc/pkg/codec"
	"github.com/snekrpc/snekrpc/pkg/conn"
	"github.com/snekrpc/snekrpc/pkg/registry"
	"github.com/snekrpc/snekrpc/pkg/rpcerr"
	"github.com/snekrpc/snekrpc/pkg/stream"
	"github.com/snekrpc/snekrpc/pkg/transport"
	"github.com/snekrpc/snekrpc/pkg/typetag"
	"github.com/snekrpc/snekrpc/pkg/wire"
)

var zeroTag = typetag.Any()

// Option configures a Server.
type Option func(*Server)

// WithWorkers bounds the number of commands executing concurrently
// across all connections. Zero (the default) means unbounded.
func WithWorkers(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.workers = make(chan struct{}, n)
		}
	}
}

// WithHandshakeTimeout overrides the default grace period for HELLO.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(s *Server) { s.handshakeTimeout = d }
}

// WithDebug enables traceback exposure on CommandError replies built from
// handler errors (including recovered panics, whose traceback carries the
// stack); errors a handler returns as *rpcerr.Error are sent unchanged.
func WithDebug(debug bool) Option {
	return func(s *Server) { s.debug = debug }
}

// WithLogger overrides the server's logger.
func WithLogger(log *logrus.Entry) Option {
	return func(s *Server) { s.log = log }
}

// Server accepts connections from any transport.Listener and dispatches
// CALL frames against a command registry.
type Server struct {
	registry         *registry.Registry
	codecs           *codec.Registry
	log              *logrus.Entry
	workers          chan struct{}
	handshakeTimeout time.Duration
	debug            bool
	transportName    string
}

// New builds a Server bound to reg, negotiating codecs from codecs.
func New(reg *registry.Registry, codecs *codec.Registry, opts ...Option) *Server {
	s := &Server{
		registry:         reg,
		codecs:           codecs,
		log:              logrus.NewEntry(logrus.StandardLogger()),
		handshakeTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Serve accepts connections from ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln transport.Listener, transportName string) error {
	s.transportName = transportName
	s.registry.SetStatus(registry.Status{Transport: transportName, Version: conn.ProtocolVersion})
	for {
		tc, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("server: accept: %w", err)
		}
		go s.handleConnection(ctx, tc)
	}
}

func (s *Server) handleConnection(ctx context.Context, tc transport.Conn) {
	log := s.log.WithField("remote", tc.RemoteAddr())
	c, err := conn.ServerHandshake(ctx, tc, s.codecs, s.handshakeTimeout)
	if err != nil {
		log.WithError(err).Debug("server: handshake failed")
		_ = tc.Close()
		return
	}
	s.registry.SetStatus(registry.Status{Codec: c.Name(), Transport: s.transportName, Version: conn.ProtocolVersion})
	cn := conn.New(tc, c, conn.RoleServer, log)
	cn.SetOnCall(func(msg wire.Message) {
		s.dispatchWithWorker(ctx, cn, msg)
	})
	cn.Run(ctx)
}

func (s *Server) dispatchWithWorker(ctx context.Context, cn *conn.Connection, msg wire.Message) {
	if s.workers != nil {
		s.workers <- struct{}{}
		defer func() { <-s.workers }()
	}
	s.handleCall(ctx, cn, msg)
}

func (s *Server) handleCall(parentCtx context.Context, cn *conn.Connection, msg wire.Message) {
	id := msg.ID
	ib := cn.Register(id)
	defer cn.Unregister(id)

	log := s.log.WithFields(logrus.Fields{"call_id": id})

	var call wire.CallPayload
	if err := cn.Codec().Decode(msg.Payload, zeroTag, &call); err != nil {
		_ = cn.SendError(id, rpcerr.New(rpcerr.KindProtocol, "malformed CALL payload: %s", err))
		return
	}
	log = log.WithFields(logrus.Fields{"service": call.Service, "command": call.Command})

	svc, ok := s.registry.Service(call.Service)
	if !ok {
		_ = cn.SendError(id, rpcerr.New(rpcerr.KindUnknownService, "unknown service %q", call.Service))
		return
	}
	cmd, ok := svc.Command(call.Command)
	if !ok {
		_ = cn.SendError(id, rpcerr.New(rpcerr.KindUnknownCommand, "unknown command %q.%q", call.Service, call.Command))
		return
	}

	args, err := bindArgs(cn.Codec(), cmd, call)
	if err != nil {
		_ = cn.SendError(id, rpcerr.Wrap(rpcerr.KindBadArguments, err))
		return
	}

	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	var inSeq *stream.Sequence
	if cmd.InputStreaming {
		inSeq = stream.NewSequence(func() { _ = cn.SendPayload(wire.KindCancel, id, wire.CancelPayload{}) })
		args[0] = inSeq
	}

	go s.pumpControl(ctx, cn, ib, cmd, inSeq, cancel)

	type invocation struct {
		val any
		err error
	}
	resultCh := make(chan invocation, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- invocation{err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
			}
		}()
		v, err := cmd.Handler(ctx, args)
		resultCh <- invocation{v, err}
	}()

	select {
	case <-ctx.Done():
		log.Debug("server: call cancelled")
		_ = cn.SendError(id, rpcerr.Sentinel(rpcerr.KindCancelled))
		return
	case res := <-resultCh:
		if res.err != nil {
			s.sendHandlerError(cn, id, res.err, log)
			return
		}
		if cmd.OutputStreaming {
			s.streamOutput(ctx, cn, id, res.val, log)
			return
		}
		if err := cn.SendPayload(wire.KindReply, id, wire.ReplyPayload{Value: wire.RawValue{Bytes: mustEncode(cn.Codec(), res.val, cmd.ReturnType)}}); err != nil {
			log.WithError(err).Warn("server: failed to send REPLY")
		}
	}
}

// pumpControl consumes CHUNK/END/ERROR/CANCEL follow-up frames for one
// call, feeding an input stream.Sequence when the command declared one
// and triggering cancel on CANCEL/ERROR regardless (spec §4.5 step 3,
// §5 cancellation).
func (s *Server) pumpControl(ctx context.Context, cn *conn.Connection, ib *conn.Inbox, cmd *registry.Command, inSeq *stream.Sequence, cancel context.CancelFunc) {
	elemTag := zeroTag
	if cmd.InputStreaming {
		if t, ok := cmd.Params[0].Type.IsStream(); ok {
			elemTag = t
		}
	}
	for {
		msg, err := ib.Recv(ctx)
		if err != nil {
			return
		}
		switch msg.Kind {
		case wire.KindChunk:
			if inSeq == nil {
				continue
			}
			var cp wire.ChunkPayload
			if err := cn.Codec().Decode(msg.Payload, zeroTag, &cp); err != nil {
				inSeq.SendError(rpcerr.New(rpcerr.KindCodec, "decode chunk: %s", err))
				cancel()
				return
			}
			var v any
			_ = cn.Codec().Decode(cp.Value.Bytes, elemTag, &v)
			if sendErr := inSeq.Send(ctx, v); sendErr != nil {
				return
			}
		case wire.KindEnd:
			if inSeq != nil {
				inSeq.CloseOK()
			}
			return
		case wire.KindCancel:
			cancel()
			return
		case wire.KindError:
			if inSeq != nil {
				inSeq.SendError(rpcerr.Sentinel(rpcerr.KindCancelled))
			}
			cancel()
			return
		default:
			// REPLY/WELCOME etc. arriving here would be a client
			// protocol violation; ignored rather than torn down, since
			// the call itself may still complete normally.
		}
	}
}

func (s *Server) streamOutput(ctx context.Context, cn *conn.Connection, id uint64, val any, log *logrus.Entry) {
	seq, ok := val.(*stream.Sequence)
	if !ok {
		_ = cn.SendError(id, rpcerr.New(rpcerr.KindInternal, "output-streaming command did not return a stream.Sequence"))
		return
	}
	for {
		select {
		case <-ctx.Done():
			_ = cn.SendError(id, rpcerr.Sentinel(rpcerr.KindCancelled))
			return
		default:
		}
		v, err := seq.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				_ = cn.SendPayload(wire.KindEnd, id, wire.EndPayload{})
				return
			}
			if ctx.Err() != nil {
				_ = cn.SendError(id, rpcerr.Sentinel(rpcerr.KindCancelled))
				return
			}
			s.sendHandlerError(cn, id, err, log)
			return
		}
		payload := wire.ChunkPayload{Value: wire.RawValue{Bytes: mustEncode(cn.Codec(), v, zeroTag)}}
		if err := cn.SendPayload(wire.KindChunk, id, payload); err != nil {
			log.WithError(err).Warn("server: failed to send CHUNK, aborting stream")
			return
		}
	}
}

func (s *Server) sendHandlerError(cn *conn.Connection, id uint64, err error, log *logrus.Entry) {
	if e, ok := err.(*rpcerr.Error); ok {
		_ = cn.SendError(id, e)
		return
	}
	wrapped := rpcerr.New(rpcerr.KindCommand, "%s", err.Error())
	if s.debug {
		wrapped.Traceback = fmt.Sprintf("%+v", err)
	}
	log.WithError(err).Debug("server: command returned error")
	_ = cn.SendError(id, wrapped)
}

func mustEncode(c codec.Codec, v any, tag typetag.Tag) []byte {
	b, err := c.Encode(v, tag)
	if err != nil {
		return nil
	}
	return b
}
