package httpserver

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/hecforward/internal/model"
	"github.com/tinytelemetry/hecforward/internal/notification"
	"github.com/tinytelemetry/hecforward/internal/pipeline"
)

const (
	// maxNotificationSize bounds a webhook request body.
	maxNotificationSize = 4 << 20
	// shutdownTimeout is how long Stop waits for in-flight notifications.
	shutdownTimeout = 20 * time.Second
)

// Runner forwards the objects named by one notification.
type Runner interface {
	Run(ctx context.Context, refs []model.ObjectRef) (pipeline.Result, error)
}

// Server accepts storage notifications over HTTP, e.g. from a MinIO webhook target.
type Server struct {
	addr      string
	runner    Runner
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time

	mu            sync.Mutex
	notifications int
	totals        pipeline.Result
}

// NewServer creates a new webhook server.
func NewServer(addr string, runner Runner) *Server {
	if addr == "" {
		addr = "127.0.0.1:3000"
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		runner: runner,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.routes(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.startTime = time.Now()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("httpserver: serve: %v", err)
		}
	}()
	return nil
}

// Addr returns the address the server listens on once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop gracefully shuts down the HTTP server. In-flight notifications get
// up to shutdownTimeout to finish before their contexts are cancelled.
func (s *Server) Stop() error {
	defer s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.POST("/api/notifications", s.handleNotification)
	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	s.mu.Lock()
	notifications, totals := s.notifications, s.totals
	s.mu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"uptime":        time.Since(s.startTime).String(),
		"notifications": notifications,
		"events":        totals.Events,
		"delivered":     totals.Delivered,
		"dropped":       totals.Dropped,
	})
}

func (s *Server) handleNotification(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxNotificationSize))
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "notification body too large or unreadable"})
		return
	}

	refs, err := notification.Parse(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	res, err := s.runner.Run(ctx, refs)

	s.mu.Lock()
	s.notifications++
	s.totals.Objects += res.Objects
	s.totals.Failed += res.Failed
	s.totals.Events += res.Events
	s.totals.Requests += res.Requests
	s.totals.Delivered += res.Delivered
	s.totals.Dropped += res.Dropped
	s.mu.Unlock()

	resp := gin.H{
		"objects":   res.Objects,
		"failed":    res.Failed,
		"events":    res.Events,
		"requests":  res.Requests,
		"delivered": res.Delivered,
		"dropped":   res.Dropped,
	}
	if err != nil {
		log.Printf("httpserver: notification with %d objects: %v", len(refs), err)
		resp["error"] = err.Error()
	}
	// An interrupted run asks the sender to redeliver. Any other failure
	// answers 200: a redelivered notification would duplicate forwarded events.
	if ctx.Err() != nil {
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}
