// Package dashboard serves the HTTP surface of the call server: the
// provider webhook, the audio and dashboard sockets, and the REST API.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/zulandar/switchboard/internal/audio"
	"github.com/zulandar/switchboard/internal/calls"
	"github.com/zulandar/switchboard/internal/hub"
	"github.com/zulandar/switchboard/internal/metrics"
	"github.com/zulandar/switchboard/internal/stats"
	"gorm.io/gorm"
)

const (
	defaultInitialStatsDelay = time.Second
	shutdownTimeout          = 10 * time.Second
)

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	DB         *gorm.DB
	Machine    *calls.Machine
	Hub        *hub.Hub
	Aggregator *stats.Aggregator
	Archive    *audio.Archive
	Metrics    *metrics.Metrics // optional
	Port       int
	// StreamURL is the wss:// URL returned in TwiML for assistant calls.
	StreamURL string
	// InitialStatsDelay is how long after connecting a dashboard observer
	// receives its first stats snapshot.
	InitialStatsDelay time.Duration
	Out               io.Writer
}

// server carries the handlers' dependencies.
type server struct {
	db                *gorm.DB
	machine           *calls.Machine
	hub               *hub.Hub
	agg               *stats.Aggregator
	archive           *audio.Archive
	metrics           *metrics.Metrics
	streamURL         string
	initialStatsDelay time.Duration

	// Hijacked sockets are invisible to http.Server.Shutdown, so they are
	// tracked here and closed explicitly.
	sockMu  sync.Mutex
	sockets map[*websocket.Conn]struct{}
	closing bool
	sockWG  sync.WaitGroup
}

func newServer(opts StartOpts) (*server, error) {
	switch {
	case opts.DB == nil:
		return nil, fmt.Errorf("dashboard: db is required")
	case opts.Machine == nil:
		return nil, fmt.Errorf("dashboard: machine is required")
	case opts.Hub == nil:
		return nil, fmt.Errorf("dashboard: hub is required")
	case opts.Aggregator == nil:
		return nil, fmt.Errorf("dashboard: aggregator is required")
	case opts.Archive == nil:
		return nil, fmt.Errorf("dashboard: archive is required")
	}
	s := &server{
		db:                opts.DB,
		machine:           opts.Machine,
		hub:               opts.Hub,
		agg:               opts.Aggregator,
		archive:           opts.Archive,
		metrics:           opts.Metrics,
		streamURL:         opts.StreamURL,
		initialStatsDelay: opts.InitialStatsDelay,
		sockets:           make(map[*websocket.Conn]struct{}),
	}
	if s.initialStatsDelay <= 0 {
		s.initialStatsDelay = defaultInitialStatsDelay
	}
	return s, nil
}

// newRouter builds the gin engine with every route registered.
func (s *server) newRouter() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.metrics.Middleware())
	registerRoutes(router, s)
	return router
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully. Open sockets are closed and their handlers have
// returned before Start does.
func Start(ctx context.Context, opts StartOpts) error {
	s, err := newServer(opts)
	if err != nil {
		return err
	}
	if opts.Port <= 0 {
		opts.Port = 3000
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           s.newRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on context cancellation.
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		s.closeSockets()
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Switchboard listening on :%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	<-shutdownDone
	return nil
}
