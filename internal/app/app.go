package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"crowdcounter/internal/config"
	"crowdcounter/internal/logger"
	"crowdcounter/internal/middleware"
	"crowdcounter/internal/repository/sqlite"
	"crowdcounter/internal/route"
	"crowdcounter/internal/service"
	"crowdcounter/internal/service/ai"
	"crowdcounter/internal/service/metrics"
	"crowdcounter/internal/service/storage"
	"crowdcounter/internal/service/websocket"

	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	sweepInterval   = 10 * time.Minute
)

type App struct {
	config   *config.Config
	logger   *logger.Logger
	db       *sqlite.DB
	pool     *ai.Pool
	hub      *websocket.HubService
	sessions *middleware.SessionStore
	manager  *service.Manager
	server   *http.Server
}

// NewApp loads the detection models and wires every component. A model that
// cannot be loaded aborts startup.
func NewApp(cfg *config.Config) (*App, error) {
	log := logger.NewLogger(cfg)

	pool, err := ai.NewPool(cfg, log)
	if err != nil {
		log.Close()
		return nil, err
	}
	store, err := storage.NewStore(cfg, log)
	if err != nil {
		pool.Close()
		log.Close()
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		pool.Close()
		log.Close()
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		pool.Close()
		log.Close()
		return nil, err
	}

	m := metrics.NewMetrics()
	hub := websocket.NewHubService(log, m)
	mng := service.NewManager(cfg, service.Dependencies{
		Detector:   pool,
		Store:      store,
		Hub:        hub,
		Analyses:   sqlite.NewAnalysisRepository(db),
		Detections: sqlite.NewDetectionRepository(db),
		Metrics:    m,
		Logger:     log,
	})
	sessions := middleware.NewSessionStore(cfg.SessionTTL)

	router := route.SetupRoutes(mng, hub, sqlite.NewUserRepository(db), sessions, cfg, log)

	return &App{
		config:   cfg,
		logger:   log,
		db:       db,
		pool:     pool,
		hub:      hub,
		sessions: sessions,
		manager:  mng,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully and
// releases every resource.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, ctx := errgroup.WithContext(ctx)
	// Requests inherit ctx so scans in flight stop on shutdown.
	a.server.BaseContext = func(net.Listener) context.Context { return ctx }

	g.Go(func() error {
		return a.hub.Run(ctx)
	})

	g.Go(func() error {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := a.sessions.Sweep(); n > 0 {
					a.logger.Info("Expired %d sessions", n)
				}
			}
		}
	})

	g.Go(func() error {
		a.logger.Info("Crowd counter listening on http://localhost%s", a.server.Addr)
		a.logger.Info("Model: %s (%s), results: %s", a.config.ModelBackend, a.config.ModelPath, a.config.ResultsDirectory)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		a.logger.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("Error shutting down HTTP server: %v", err)
			return err
		}
		a.logger.Info("HTTP server gracefully stopped")
		return nil
	})

	return g.Wait()
}

func (a *App) close() {
	a.manager.Stop()
	if err := a.pool.Close(); err != nil {
		a.logger.Error("Error closing detectors: %v", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database: %v", err)
	}
	a.logger.Info("Goodbye!")
	a.logger.Close()
}
