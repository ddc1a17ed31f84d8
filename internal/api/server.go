package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/heimdex/heimdex-inspect/internal/detect"
	"github.com/heimdex/heimdex-inspect/internal/inspection"
)

type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// ConfigStore holds the bearer token the API authenticates against.
type ConfigStore interface {
	GetConfig(ctx context.Context, key string) (string, error)
}

// ProviderInfo describes one detection provider family for /status. Health
// is nil for providers that have no reachability probe.
type ProviderInfo struct {
	Name    string
	Enabled bool
	Health  *detect.HealthCache
}

type ServerConfig struct {
	Port        int
	Service     *inspection.Service
	Config      ConfigStore
	Runner      *inspection.Runner
	Providers   []ProviderInfo
	Recommender string
	Version     string
	Logger      *slog.Logger
	StartTime   time.Time
}

func NewServer(cfg ServerConfig) *Server {
	router := NewRouter(cfg)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: cfg.Logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}
