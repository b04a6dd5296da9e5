package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"rtrader-bridge/src/capture"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"
	"rtrader-bridge/src/protocol"

	"github.com/google/uuid"
)

// Relay sits between the front-end and its gateway, forwarding bytes
// unchanged while decoding every frame that passes.
type Relay struct {
	Upstream      string
	Timeout       time.Duration
	MaxFrameBytes int
	Observer      FrameObserver

	log      *logger.Logger
	wg       sync.WaitGroup
	sessions atomic.Int64
	frames   atomic.Int64
}

func NewRelay(upstream string, timeout time.Duration, maxFrameBytes int, log *logger.Logger) *Relay {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if maxFrameBytes <= 0 {
		maxFrameBytes = protocol.DefaultMaxFrameLen
	}
	return &Relay{
		Upstream:      upstream,
		Timeout:       timeout,
		MaxFrameBytes: maxFrameBytes,
		log:           log,
	}
}

// -----------------------------------------------------------------------------

func (r *Relay) Stats() (sessions, frames int64) {
	return r.sessions.Load(), r.frames.Load()
}

// -----------------------------------------------------------------------------

func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay listen %s: %w", addr, err)
	}
	return r.Serve(ctx, ln)
}

// -----------------------------------------------------------------------------

// Serve accepts until ctx is cancelled, then closes open sessions and waits
// for them to finish.
func (r *Relay) Serve(ctx context.Context, ln net.Listener) error {
	r.log.Info("Relaying %s -> %s", ln.Addr(), r.Upstream)

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()

	for {
		c, err := ln.Accept()
		if err != nil {
			r.wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			r.handleConn(ctx, c)
		}()
	}
}

// -----------------------------------------------------------------------------

func (r *Relay) handleConn(ctx context.Context, c net.Conn) {
	defer c.Close()

	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()
	outc, err := d.DialContext(dialCtx, "tcp", r.Upstream)
	if err != nil {
		r.log.Error("dial upstream error: %v", err)
		return
	}
	defer outc.Close()

	s := &relaySession{
		relay: r,
		id:    uuid.NewString(),
		c:     c,
		outc:  outc,
	}
	r.sessions.Add(1)
	r.log.Info("Session %s: %s <-> %s", s.id, c.RemoteAddr(), outc.RemoteAddr())

	stop := context.AfterFunc(ctx, func() {
		c.Close()
		outc.Close()
	})
	defer stop()

	s.run()
}

// -----------------------------------------------------------------------------

type relaySession struct {
	relay *Relay
	id    string
	c     net.Conn // from the front-end
	outc  net.Conn // to the gateway
}

func (s *relaySession) run() {
	errc := make(chan error, 2)
	go func() {
		errc <- s.copy(models.DirectionClientToServer, s.c, s.outc)
	}()
	go func() {
		errc <- s.copy(models.DirectionServerToClient, s.outc, s.c)
	}()
	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil {
			s.relay.log.Info("Session %s: %v", s.id, err)
		}
	}
}

// -----------------------------------------------------------------------------

// copy forwards frames from src to dst. If the stream stops looking like
// vendor frames it falls back to a raw byte copy so the peers are unaffected.
func (s *relaySession) copy(direction string, src, dst net.Conn) error {
	defer closeWrite(dst)

	for {
		raw, err := protocol.ReadFrame(src, s.relay.MaxFrameBytes)
		if err == nil {
			s.relay.frames.Add(1)
			s.observe(direction, src, dst, raw)
		}
		if len(raw) > 0 {
			if _, werr := dst.Write(raw); werr != nil {
				return fmt.Errorf("%s: write to peer error: %w", direction, werr)
			}
		}

		switch {
		case err == nil:
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, protocol.ErrFrameTooLarge):
			s.relay.log.Warning("Session %s %s: %v; switching to raw copy", s.id, direction, err)
			if _, cerr := io.Copy(dst, src); cerr != nil && !isClosed(cerr) {
				return fmt.Errorf("%s: raw copy: %w", direction, cerr)
			}
			return nil
		case errors.Is(err, protocol.ErrPartialFrame):
			s.observe(direction, src, dst, raw)
			return fmt.Errorf("%s: %w", direction, err)
		case isClosed(err):
			return nil
		default:
			return fmt.Errorf("%s: read error: %w", direction, err)
		}
	}
}

func (s *relaySession) observe(direction string, src, dst net.Conn, raw []byte) {
	if s.relay.Observer == nil {
		return
	}
	s.relay.Observer(capture.NewFrameRecord(capture.OriginRelay, s.id, time.Now(),
		src.RemoteAddr().String(), dst.RemoteAddr().String(), direction, raw))
}

// -----------------------------------------------------------------------------

func closeWrite(c net.Conn) {
	if tc, ok := c.(*net.TCPConn); ok {
		_ = tc.CloseWrite()
		return
	}
	_ = c.Close()
}

func isClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
