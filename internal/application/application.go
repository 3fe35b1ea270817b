package application

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/SRMV-Team/liveclass-gateway/internal/backend"
	"github.com/SRMV-Team/liveclass-gateway/internal/channel"
	"github.com/SRMV-Team/liveclass-gateway/internal/config"
	"github.com/SRMV-Team/liveclass-gateway/internal/directory"
	"github.com/SRMV-Team/liveclass-gateway/internal/handler"
	"github.com/SRMV-Team/liveclass-gateway/internal/handoff"
	"github.com/SRMV-Team/liveclass-gateway/internal/meetstore"
	"github.com/SRMV-Team/liveclass-gateway/internal/model"
	"github.com/SRMV-Team/liveclass-gateway/internal/router"
	"go.uber.org/zap"
)

// Gateway is the live-class gateway application: directory, channel client,
// local store and the per-role HTTP API.
type Gateway struct {
	cfg    *config.Config
	srv    *http.Server
	ch     *channel.Client
	dir    *directory.Directory
	store  *meetstore.Store
	logger *zap.Logger
}

// NewGateway creates the application: validates config, opens the local
// store, wires the channel client and directory, builds the router.
func NewGateway(cfg *config.Config) (*Gateway, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	logger, _ := zap.NewProduction()
	if cfg.AppEnv == "development" {
		logger, _ = zap.NewDevelopment()
	}

	store, err := meetstore.Open(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("meetstore: %w", err)
	}

	rooms := handoff.NewRooms(cfg.MeetBaseURL)
	api := backend.NewClient(cfg.BackendBaseURL, cfg.IntentTimeout, logger)
	ch := channel.NewClient(cfg.ChannelURL, logger,
		channel.WithRetry(cfg.ReconnectAttempts, cfg.ReconnectDelay),
		channel.WithBufferSizes(cfg.WSReadBufferSize, cfg.WSWriteBufferSize))

	identity := channel.Identity{
		ID:   cfg.Identity.ID,
		Name: cfg.Identity.Name,
		Role: model.Role(cfg.Identity.Role),
	}
	dir := directory.New(identity, ch, api, rooms, store, cfg.IntentTimeout, logger)

	dashboard := handler.NewDashboardHandler(dir, api, store, rooms, cfg.Identity.Cohort, logger)
	eventsWS := handler.NewEventsWSHandler(dir, cfg.WSReadBufferSize, cfg.WSWriteBufferSize, logger)
	health := handler.NewHealthHandler()

	r := router.New(dashboard, eventsWS, health)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Gateway{cfg: cfg, srv: srv, ch: ch, dir: dir, store: store, logger: logger}, nil
}

// Run connects the directory, starts the HTTP server and blocks until ctx is
// cancelled; then shuts down gracefully. A failed initial connect is not
// fatal: the gateway serves in a degraded state and the banner shows it.
func (g *Gateway) Run(ctx context.Context) error {
	defer func() { _ = g.logger.Sync() }()

	addr := g.srv.Addr
	host := g.cfg.AppHost
	if host == "0.0.0.0" {
		host = "localhost"
	}
	base := "http://" + host + ":" + g.cfg.HTTPPort
	log.Printf("HTTP server listening on %s", addr)
	log.Printf("  Health:            %s/health", base)
	log.Printf("  Teacher dashboard: %s/dashboard/teacher", base)
	log.Printf("  Student dashboard: %s/dashboard/student", base)
	log.Printf("  Classes:           %s/classes", base)
	log.Printf("  Events:            ws://%s:%s/ws/events", host, g.cfg.HTTPPort)

	if err := g.dir.Start(); err != nil {
		g.logger.Error("channel connect failed, serving degraded", zap.Error(err))
	}

	go func() {
		if err := g.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http: %v", err)
		}
	}()

	<-ctx.Done()
	g.dir.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
