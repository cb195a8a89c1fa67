package api

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/ledlocator/internal/audit"
	"github.com/nerrad567/ledlocator/internal/auth"
	"github.com/nerrad567/ledlocator/internal/infrastructure/config"
	"github.com/nerrad567/ledlocator/internal/infrastructure/logging"
	"github.com/nerrad567/ledlocator/internal/infrastructure/mqtt"
	"github.com/nerrad567/ledlocator/internal/inventory"
	"github.com/nerrad567/ledlocator/internal/locator"
	"github.com/nerrad567/ledlocator/internal/notify"
	"github.com/nerrad567/ledlocator/internal/wled"
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// ControllerInfo reports what the LED controller says about itself.
// *wled.Client satisfies it.
type ControllerInfo interface {
	Info(ctx context.Context) (*wled.Info, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Logger    *logging.Logger
	Locator   *locator.Service
	Locations inventory.Repository
	Users     auth.UserRepository
	Notify    *notify.Service

	// Optional.
	Audit      audit.Repository
	Controller ControllerInfo
	MQTT       *mqtt.Client
	DB         *sql.DB
	Hub        *Hub // shared with the locator when set, so events reach clients

	Version string
}

// Server serves the REST API, the WebSocket hub and the panel page.
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	locator    *locator.Service
	locations  inventory.Repository
	users      auth.UserRepository
	notify     *notify.Service
	auditRepo  audit.Repository
	auditQ     *auditQueue
	controller ControllerInfo
	mqtt       *mqtt.Client
	db         *sql.DB
	version    string
	startTime  time.Time

	server  *http.Server
	addr    net.Addr
	hub     *Hub
	tickets *ticketStore
	cancel  context.CancelFunc
}

// New checks deps and builds a Server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, errors.New("logger is required")
	case deps.Locator == nil:
		return nil, errors.New("locator service is required")
	case deps.Locations == nil:
		return nil, errors.New("location repository is required")
	case deps.Users == nil:
		return nil, errors.New("user repository is required")
	case deps.Notify == nil:
		return nil, errors.New("notification service is required")
	}

	logger := deps.Logger.Component("api")

	hub := deps.Hub
	if hub == nil {
		hub = NewHub(deps.WS, logger)
	}

	srv := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     logger,
		locator:    deps.Locator,
		locations:  deps.Locations,
		users:      deps.Users,
		notify:     deps.Notify,
		auditRepo:  deps.Audit,
		controller: deps.Controller,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		version:    deps.Version,
		startTime:  time.Now(),
		hub:        hub,
		tickets:    newTicketStore(),
	}
	if deps.Audit != nil {
		srv.auditQ = newAuditQueue(deps.Audit, logger)
	}
	return srv, nil
}

// Hub returns the WebSocket hub so callers can attach it as an event sink.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listen address, then serves in the background along with
// the hub, ticket sweeper and audit writer. A bind failure is returned
// here rather than logged later.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		return err
	}
	s.addr = ln.Addr()

	var bg context.Context
	bg, s.cancel = context.WithCancel(ctx)
	go s.hub.Run(bg)
	go s.tickets.run(bg)
	if s.auditQ != nil {
		go s.auditQ.run(bg)
	}

	t := s.cfg.Timeouts
	s.server = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       t.Read.Duration(),
		ReadHeaderTimeout: t.Read.Duration(),
		WriteTimeout:      t.Write.Duration(),
		IdleTimeout:       t.Idle.Duration(),
	}

	tls := s.cfg.TLS
	s.logger.Info("API server listening", "address", s.addr.String(), "tls", tls.Enabled)
	go func() {
		var err error
		if tls.Enabled {
			err = s.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = s.server.Serve(ln)
		}
		if !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}()
	return nil
}

// Addr is the bound listen address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Close drains in-flight requests for up to shutdownGrace, then stops
// background work and waits for queued audit entries to be written. Safe
// to call on a server that never started.
func (s *Server) Close() error {
	if s.server == nil {
		if s.cancel != nil {
			s.cancel()
		}
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	s.cancel()
	if s.auditQ != nil {
		select {
		case <-s.auditQ.done:
		case <-ctx.Done():
			s.logger.Warn("audit queue not flushed before shutdown deadline")
		}
	}
	return err
}
