package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"rtrader-bridge/src/capture"
	"rtrader-bridge/src/helpers"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"
	"rtrader-bridge/src/protocol"

	"github.com/google/uuid"
)

var (
	ErrNotConnected = errors.New("gateway: not connected")
	ErrListening    = errors.New("gateway: background listener owns the connection")
)

// FrameObserver is called for every frame sent or received.
type FrameObserver func(models.MCapturedFrame)

// Options configure a gateway session.
type Options struct {
	Host          string
	Port          int
	Timeout       time.Duration
	SessionID     string
	Repository    string
	MaxFrameBytes int
	// Now stamps the login request; defaults to time.Now.
	Now func() time.Time
}

func OptionsFromConfig(cfg models.MGatewayConfig) Options {
	return Options{
		Host:          cfg.Host,
		Port:          cfg.Port,
		Timeout:       time.Duration(cfg.TimeoutSeconds) * time.Second,
		SessionID:     cfg.SessionID,
		Repository:    cfg.Repository,
		MaxFrameBytes: cfg.MaxFrameBytes,
	}
}

func (o Options) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// Inbound is one item delivered by Listen.
type Inbound struct {
	At    time.Time
	Raw   []byte
	Frame *protocol.Frame
	Err   error
}

// HandshakeResult holds the replies of the known login sequence.
type HandshakeResult struct {
	SessionID  string
	PingReply  *protocol.Frame
	LoginReply *protocol.Frame
	Endpoints  []protocol.Endpoint
	Elapsed    time.Duration
}

// -----------------------------------------------------------------------------

// Client speaks the vendor frame protocol to one gateway. Receive and Listen
// are mutually exclusive: once Listen runs, it is the only reader.
type Client struct {
	opts     Options
	log      *logger.Logger
	id       string
	observer FrameObserver

	mu        sync.Mutex
	conn      net.Conn
	listening atomic.Bool
}

func NewClient(opts Options, log *logger.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxFrameBytes <= 0 {
		opts.MaxFrameBytes = protocol.DefaultMaxFrameLen
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Client{
		opts: opts,
		log:  log,
		id:   uuid.NewString(),
	}
}

// -----------------------------------------------------------------------------

func (c *Client) SessionID() string { return c.id }

func (c *Client) SetObserver(fn FrameObserver) { c.observer = fn }

// -----------------------------------------------------------------------------

func (c *Client) Dial(ctx context.Context) error {
	d := net.Dialer{Timeout: c.opts.Timeout}
	conn, err := d.DialContext(ctx, "tcp", c.opts.Addr())
	if err != nil {
		return helpers.NewNetworkError("dial gateway "+c.opts.Addr(), err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.log.Info("Connected to %s (session %s)", c.opts.Addr(), c.id)
	return nil
}

// -----------------------------------------------------------------------------

func (c *Client) getConn() (net.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// -----------------------------------------------------------------------------

func (c *Client) Send(frame []byte) error {
	conn, err := c.getConn()
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := conn.SetWriteDeadline(time.Now().Add(c.opts.Timeout)); err != nil {
		return helpers.NewNetworkError("set write deadline", err)
	}
	if err := protocol.WriteFrame(conn, frame); err != nil {
		return helpers.NewNetworkError("send frame", err)
	}
	c.log.Debug("-> % x", frame)
	c.observe(frame, conn.LocalAddr(), conn.RemoteAddr(), models.DirectionClientToServer)
	return nil
}

// -----------------------------------------------------------------------------

// Receive blocks for one frame, until timeout or until ctx is done. A
// partial frame is still decoded and returned alongside the error.
func (c *Client) Receive(ctx context.Context, timeout time.Duration) (*protocol.Frame, error) {
	if c.listening.Load() {
		return nil, ErrListening
	}
	conn, err := c.getConn()
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, helpers.NewNetworkError("set read deadline", err)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetReadDeadline(time.Now()) })
	raw, readErr := protocol.ReadFrame(conn, c.opts.MaxFrameBytes)
	stop()
	if err := ctx.Err(); err != nil && readErr != nil {
		return nil, err
	}
	return c.decodeInbound(conn, raw, readErr)
}

// -----------------------------------------------------------------------------

func (c *Client) decodeInbound(conn net.Conn, raw []byte, readErr error) (*protocol.Frame, error) {
	if len(raw) == 0 && readErr != nil {
		return nil, helpers.NewNetworkError("receive frame", readErr)
	}

	c.log.Debug("<- % x", raw)
	c.observe(raw, conn.RemoteAddr(), conn.LocalAddr(), models.DirectionServerToClient)

	frame, err := protocol.Decode(raw)
	if err != nil {
		return nil, helpers.NewProtocolError("decode frame", errors.Join(err, readErr))
	}
	if readErr != nil {
		return frame, helpers.NewNetworkError("receive frame", readErr)
	}
	return frame, nil
}

// -----------------------------------------------------------------------------

// Listen starts the single background reader. The channel closes when ctx
// is cancelled or the connection fails; the last item carries the error.
func (c *Client) Listen(ctx context.Context) (<-chan Inbound, error) {
	conn, err := c.getConn()
	if err != nil {
		return nil, err
	}
	if !c.listening.CompareAndSwap(false, true) {
		return nil, ErrListening
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		c.listening.Store(false)
		return nil, helpers.NewNetworkError("clear read deadline", err)
	}

	out := make(chan Inbound, 16)
	done := make(chan struct{})

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	go func() {
		defer close(out)
		defer close(done)
		defer c.listening.Store(false)

		for {
			raw, readErr := protocol.ReadFrame(conn, c.opts.MaxFrameBytes)
			if ctx.Err() != nil {
				return
			}
			in := Inbound{At: time.Now()}
			in.Frame, in.Err = c.decodeInbound(conn, raw, readErr)
			in.Raw = raw

			select {
			case out <- in:
			case <-ctx.Done():
				return
			}
			if readErr != nil {
				c.log.Info("Listener stopped: %v", readErr)
				return
			}
		}
	}()

	return out, nil
}

// -----------------------------------------------------------------------------

// Handshake runs ping, then login_agent_repository, and collects the
// redirect endpoints from the second reply. Any failed step ends the attempt.
func (c *Client) Handshake(ctx context.Context) (*HandshakeResult, error) {
	start := time.Now()
	res := &HandshakeResult{SessionID: c.id}

	step := func(name string, frame []byte) (*protocol.Frame, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := c.Send(frame); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		reply, err := c.Receive(ctx, c.stepTimeout(ctx))
		if err != nil {
			return reply, fmt.Errorf("%s reply: %w", name, err)
		}
		c.log.Info("%s reply: %s", name, reply.Summary())
		return reply, nil
	}

	var err error
	if res.PingReply, err = step("ping", protocol.PingFrame()); err != nil {
		return res, err
	}
	if !res.PingReply.IsUnknownRequest() {
		c.log.Warning("Unexpected ping reply: %s", res.PingReply.Summary())
	}

	login := protocol.LoginAgentRepositoryFrame(c.opts.Now(), c.opts.SessionID, c.opts.Repository)
	if res.LoginReply, err = step(protocol.TemplateLoginAgentRepository, login); err != nil {
		return res, err
	}

	res.Endpoints = res.LoginReply.ExtractEndpoints()
	res.Elapsed = time.Since(start)
	return res, nil
}

func (c *Client) stepTimeout(ctx context.Context) time.Duration {
	timeout := c.opts.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = max(left, time.Millisecond)
		}
	}
	return timeout
}

// -----------------------------------------------------------------------------

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// -----------------------------------------------------------------------------

func (c *Client) observe(raw []byte, src, dst net.Addr, direction string) {
	if c.observer == nil {
		return
	}
	c.observer(capture.NewFrameRecord(capture.OriginGateway, c.id, time.Now(), src.String(), dst.String(), direction, raw))
}
