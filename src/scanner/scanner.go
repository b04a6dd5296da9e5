package scanner

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	readBufferSize = 4096
	hexPreviewLen  = 50
	keepAliveProbe = "TEST\n"
)

type Options struct {
	Host           string
	Ports          []int
	ConnectTimeout time.Duration
	ProbeTimeout   time.Duration
	Listen         time.Duration
	KeepAliveWait  time.Duration
	Workers        int
	Families       []string
}

func OptionsFromConfig(cfg models.MScannerConfig) Options {
	ms := func(v int) time.Duration { return time.Duration(v) * time.Millisecond }
	return Options{
		Host:           cfg.Host,
		Ports:          cfg.Ports,
		ConnectTimeout: ms(cfg.ConnectTimeoutMs),
		ProbeTimeout:   ms(cfg.ProbeTimeoutMs),
		Listen:         ms(cfg.ListenMs),
		KeepAliveWait:  ms(cfg.KeepAliveWaitMs),
		Workers:        cfg.Workers,
		Families:       cfg.Families,
	}
}

// -----------------------------------------------------------------------------

// Scanner checks candidate localhost ports and probes the open ones.
type Scanner struct {
	opts Options
	log  *logger.Logger
}

func New(opts Options, log *logger.Logger) *Scanner {
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	return &Scanner{opts: opts, log: log}
}

// -----------------------------------------------------------------------------

// Scan runs every port concurrently, bounded by Workers. Probes on a single
// port stay sequential so they do not trip over each other.
func (s *Scanner) Scan(ctx context.Context) ([]models.MPortReport, error) {
	runID := uuid.NewString()
	s.log.Info("Scan %s: %d ports on %s", runID, len(s.opts.Ports), s.opts.Host)

	reports := make([]models.MPortReport, len(s.opts.Ports))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for i, port := range s.opts.Ports {
		g.Go(func() error {
			reports[i] = s.ScanPort(gctx, runID, port)
			return nil
		})
	}
	_ = g.Wait()

	return reports, ctx.Err()
}

// -----------------------------------------------------------------------------

func (s *Scanner) ScanPort(ctx context.Context, runID string, port int) models.MPortReport {
	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(port))
	report := models.MPortReport{
		RunID:     runID,
		Host:      s.opts.Host,
		Port:      port,
		ScannedAt: time.Now().UTC(),
	}

	conn, err := s.dial(ctx, addr)
	if err != nil {
		s.log.Debug("Port %d is not open: %v", port, err)
		return report
	}
	conn.Close()
	report.Open = true
	s.log.Info("Port %d is OPEN - running protocol tests", port)

	for _, family := range s.opts.Families {
		if ctx.Err() != nil {
			break
		}
		var res models.MProbeResult
		switch family {
		case FamilyJSON:
			res = s.probeTemplates(ctx, addr, family, JSONTemplates(), nil)
		case FamilyBinary:
			res = s.probeTemplates(ctx, addr, family, BinaryTemplates(), nil)
		case FamilyHTTP:
			res = s.probeTemplates(ctx, addr, family, HTTPTemplates(), func(b []byte) bool {
				kind, _ := Classify(b)
				return kind == KindHTTP
			})
		case FamilyBroadcast:
			res = s.listenBroadcast(ctx, addr)
		case FamilyKeepAlive:
			res = s.keepAlive(ctx, addr)
		default:
			res = models.MProbeResult{Family: family, Error: "unknown probe family"}
		}
		if res.Responded {
			s.log.Info("Port %d %s: got %s response to %q", port, family, res.Classification, res.Template)
		}
		report.Probes = append(report.Probes, res)
	}
	return report
}

// -----------------------------------------------------------------------------

func (s *Scanner) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := net.Dialer{Timeout: s.opts.ConnectTimeout}
	return d.DialContext(ctx, "tcp", addr)
}

// -----------------------------------------------------------------------------

// probeTemplates sends each template on a fresh connection and returns on
// the first accepted reply. Failures move on to the next template.
func (s *Scanner) probeTemplates(ctx context.Context, addr, family string, templates []Template, accept func([]byte) bool) models.MProbeResult {
	res := models.MProbeResult{Family: family}

	for _, tpl := range templates {
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			return res
		}

		start := time.Now()
		data, err := s.exchange(ctx, addr, tpl.Payload)
		if err != nil {
			res.Error = err.Error()
			continue
		}
		if len(data) == 0 || (accept != nil && !accept(data)) {
			continue
		}

		res.Template = tpl.Name
		res.Error = ""
		fill(&res, data, time.Since(start))
		return res
	}
	return res
}

// -----------------------------------------------------------------------------

func (s *Scanner) exchange(ctx context.Context, addr string, payload []byte) ([]byte, error) {
	conn, err := s.dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if _, err := conn.Write(payload); err != nil {
		return nil, err
	}
	return readOnce(conn, s.opts.ProbeTimeout)
}

// -----------------------------------------------------------------------------

// listenBroadcast connects without sending anything and collects whatever the
// port pushes during the listen window.
func (s *Scanner) listenBroadcast(ctx context.Context, addr string) models.MProbeResult {
	res := models.MProbeResult{Family: FamilyBroadcast, Template: "passive listen"}

	conn, err := s.dial(ctx, addr)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer conn.Close()

	start := time.Now()
	deadline := start.Add(s.opts.Listen)
	var received []byte
	buf := make([]byte, readBufferSize)

	for time.Now().Before(deadline) && ctx.Err() == nil {
		step := min(500*time.Millisecond, time.Until(deadline))
		if err := conn.SetReadDeadline(time.Now().Add(step)); err != nil {
			break
		}
		n, err := conn.Read(buf)
		received = append(received, buf[:n]...)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			break
		}
	}

	if len(received) > 0 {
		fill(&res, received, time.Since(start))
		res.Description = fmt.Sprintf("%d bytes; %s", len(received), res.Description)
	}
	return res
}

// -----------------------------------------------------------------------------

// keepAlive checks whether an idle connection survives and answers later.
func (s *Scanner) keepAlive(ctx context.Context, addr string) models.MProbeResult {
	res := models.MProbeResult{Family: FamilyKeepAlive, Template: "idle then TEST"}

	conn, err := s.dial(ctx, addr)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	defer conn.Close()

	select {
	case <-ctx.Done():
		res.Error = ctx.Err().Error()
		return res
	case <-time.After(s.opts.KeepAliveWait):
	}

	start := time.Now()
	if _, err := conn.Write([]byte(keepAliveProbe)); err != nil {
		res.Error = "connection closed by server: " + err.Error()
		return res
	}
	data, err := readOnce(conn, s.opts.ProbeTimeout)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	if len(data) > 0 {
		fill(&res, data, time.Since(start))
	}
	return res
}

// -----------------------------------------------------------------------------

// readOnce returns what a single read yields. A timeout is not an error,
// it just means the port stayed silent.
func readOnce(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, err
	}
	buf := make([]byte, readBufferSize)
	n, err := conn.Read(buf)
	if n > 0 {
		return buf[:n], nil
	}
	if err != nil && !isTimeout(err) {
		return nil, err
	}
	return nil, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func fill(res *models.MProbeResult, data []byte, latency time.Duration) {
	res.Responded = true
	res.LatencyMs = latency.Milliseconds()
	preview := data
	if len(preview) > hexPreviewLen {
		preview = preview[:hexPreviewLen]
	}
	res.ResponseHex = hex.EncodeToString(preview)
	res.ResponseText = printable(data, 100)
	res.Classification, res.Description = Classify(data)
}

// -----------------------------------------------------------------------------

// Responsive filters reports down to ports where any probe got a reply.
func Responsive(reports []models.MPortReport) []models.MPortReport {
	var out []models.MPortReport
	for _, r := range reports {
		if r.Responsive() {
			out = append(out, r)
		}
	}
	return out
}
