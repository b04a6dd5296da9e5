package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"rtrader-bridge/src/interfaces"
	"rtrader-bridge/src/logger"
	"rtrader-bridge/src/models"
	"rtrader-bridge/src/protocol"
	"rtrader-bridge/src/utils"

	"github.com/gin-gonic/gin"
)

const (
	maxStateFrames  = 100
	shutdownTimeout = 5 * time.Second
)

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

type APIServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	DB     interfaces.IDatabase
	Quotes *utils.QuoteBuffer
	engine *gin.Engine
	http   *http.Server

	// WebSocket clients, owned by the hub goroutine
	clients    map[*Client]struct{}
	broadcast  chan hubMessage
	subscribe  chan subscription
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	latestState *models.MLatestData
	stateMutex  sync.RWMutex
	connections int
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

// NewAPIServer builds the REST and websocket server. db and quotes may be nil;
// the endpoints backed by them then fall back to the in-memory state.
func NewAPIServer(cfg *models.MConfig, log *logger.Logger, db interfaces.IDatabase, quotes *utils.QuoteBuffer) *APIServer {
	if !strings.EqualFold(cfg.LogLevel, "DEBUG") {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &APIServer{
		Config:     cfg,
		Logger:     log,
		DB:         db,
		Quotes:     quotes,
		engine:     gin.New(),
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan hubMessage, 256),
		subscribe:  make(chan subscription),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		latestState: &models.MLatestData{
			Type: "INITIAL",
		},
	}

	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Origin, Cache-Control")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.setupRoutes()
	s.http = &http.Server{Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.getHealth)
	api.GET("/config", s.getConfig)
	api.GET("/metrics", s.getMetrics)
	api.GET("/quote", s.getQuote)
	api.GET("/frames", s.getFrames)
	api.POST("/decode", s.postDecode)
	api.POST("/encode", s.postEncode)

	s.engine.GET("/ws", s.handleWebSocket)
}

func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("%s %s -> %d (%v)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// Handler exposes the router, e.g. for httptest.
func (s *APIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start runs the hub and serves until Stop. It returns nil after a clean stop.
func (s *APIServer) Start() error {
	addr := net.JoinHostPort(s.Config.Host, strconv.Itoa(s.Config.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

func (s *APIServer) Serve(ln net.Listener) error {
	s.Logger.Info("Starting server on %s", ln.Addr())
	go s.runHub()

	// A Stop that already ran makes Serve return ErrServerClosed at once.
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

// Stop shuts the HTTP server down gracefully and stops the hub.
func (s *APIServer) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err = s.http.Shutdown(ctx)
	})
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	s.stateMutex.RLock()
	connections := s.connections
	timestamp := s.latestState.Timestamp
	s.stateMutex.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"connections":   connections,
		"latest_update": timestamp,
	})
}

// -----------------------------------------------------------------------------

// getConfig returns the non-secret parts of the running configuration.
func (s *APIServer) getConfig(c *gin.Context) {
	cfg := s.Config
	c.JSON(http.StatusOK, gin.H{
		"name": cfg.Name,
		"gateway": gin.H{
			"host":         cfg.Gateway.Host,
			"port":         cfg.Gateway.Port,
			"repository":   cfg.Gateway.Repository,
			"relay_listen": cfg.Gateway.RelayListen,
		},
		"scanner": gin.H{
			"host":     cfg.Scanner.Host,
			"ports":    cfg.Scanner.Ports,
			"families": cfg.Scanner.Families,
		},
		"capture_ports": cfg.Capture.Ports,
		"quotes": gin.H{
			"symbol":      cfg.Quotes.Symbol,
			"interval_ms": cfg.Quotes.IntervalMs,
		},
		"storage": cfg.Storage.DBType,
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getMetrics(c *gin.Context) {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	c.JSON(http.StatusOK, s.latestState.Metrics)
}

// -----------------------------------------------------------------------------

// getQuote returns the newest update, or the last n with ?n=.
func (s *APIServer) getQuote(c *gin.Context) {
	if n := queryInt(c, "n", 0, 10000); n > 0 && s.Quotes != nil {
		c.JSON(http.StatusOK, s.Quotes.GetLatest(n))
		return
	}

	s.stateMutex.RLock()
	quote := s.latestState.Quote
	s.stateMutex.RUnlock()

	if quote == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no quote received yet"})
		return
	}
	c.JSON(http.StatusOK, quote)
}

// -----------------------------------------------------------------------------

func (s *APIServer) getFrames(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 1000)

	if s.DB != nil {
		frames, err := s.DB.RecentFrames(limit)
		if err != nil {
			s.Logger.Error("RecentFrames failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, nonNil(frames))
		return
	}

	s.stateMutex.RLock()
	frames := s.latestState.Frames
	s.stateMutex.RUnlock()

	// newest first, like the database
	out := make([]models.MCapturedFrame, 0, min(limit, len(frames)))
	for i := len(frames) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, frames[i])
	}
	c.JSON(http.StatusOK, out)
}

// -----------------------------------------------------------------------------

type decodeRequest struct {
	Hex string `json:"hex" binding:"required"`
}

func (s *APIServer) postDecode(c *gin.Context) {
	var req decodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	frame, err := protocol.DecodeHex(req.Hex)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"frame":           frame,
		"summary":         frame.Summary(),
		"template":        frame.Template(),
		"unknown_request": frame.IsUnknownRequest(),
		"endpoints":       nonNil(frame.ExtractEndpoints()),
	})
}

// -----------------------------------------------------------------------------

type encodeRequest struct {
	Type   string           `json:"type"`
	Fields []protocol.Field `json:"fields"`
}

func (s *APIServer) postEncode(c *gin.Context) {
	var req encodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	msgType := protocol.MessageTypeBB
	if req.Type != "" {
		v, err := strconv.ParseUint(req.Type, 0, 16)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("bad message type %q", req.Type)})
			return
		}
		msgType = uint16(v)
	}

	raw := protocol.Encode(msgType, req.Fields)
	c.JSON(http.StatusOK, gin.H{
		"hex":    fmt.Sprintf("%x", raw),
		"length": len(raw),
	})
}
