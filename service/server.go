package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/ethereum-optimism/infra/op-sentinel/metrics"
)

const (
	DefaultHost = "0.0.0.0"
	DefaultPort = 8080

	HealthzPath = "/healthz"
	MetricsPath = "/metrics"
	RPCPath     = "/"

	shutdownTimeout = 10 * time.Second
)

// ServerConfig contains management server configuration
type ServerConfig struct {
	Log    log.Logger
	Host   string
	Port   int // 0 picks a free port
	Runner Runner
}

// Server serves the management JSON-RPC API next to health and metrics endpoints
type Server struct {
	log        log.Logger
	addr       string
	rpc        *rpc.Server
	httpServer *http.Server
	listener   net.Listener
	group      errgroup.Group
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Runner == nil {
		return nil, fmt.Errorf("runner is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Host == "" {
		cfg.Host = DefaultHost
	}

	rpcServer := rpc.NewServer()
	if err := rpcServer.RegisterName(RPCNamespace, NewAPI(cfg.Runner, cfg.Log)); err != nil {
		return nil, fmt.Errorf("failed to register management API: %w", err)
	}

	s := &Server{
		log:  cfg.Log,
		addr: net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		rpc:  rpcServer,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(HealthzPath, s.handleHealthz)
	mux.Handle(MetricsPath, promhttp.Handler())
	mux.Handle(RPCPath, rpcServer)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	})
	s.httpServer = &http.Server{
		Handler:           c.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Start listens and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		metrics.RecordErrorDetails("error starting management server", err)
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.log.Info("Starting management server", "addr", listener.Addr().String())

	s.group.Go(func() error {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Management server failed", "err", err)
			metrics.RecordErrorDetails("management server failed", err)
			return err
		}
		return nil
	})
	return nil
}

// Addr returns the address the server listens on, once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Endpoint returns the URL of the JSON-RPC API
func (s *Server) Endpoint() string {
	return "http://" + s.Addr()
}

// Stop shuts the server down and waits for it
func (s *Server) Stop(ctx context.Context) error {
	if s.listener == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	s.log.Info("Stopping management server")
	err := s.httpServer.Shutdown(ctx)
	s.rpc.Stop()
	if waitErr := s.group.Wait(); waitErr != nil && err == nil {
		err = waitErr
	}
	return err
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.log.Trace("Received health check request", "path", r.URL.Path)
	_, _ = w.Write([]byte("OK"))
}
