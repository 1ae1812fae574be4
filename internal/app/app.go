// Package app wires the detection server together and runs its gRPC and
// HTTP listeners.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/zpskt/keen/internal/backend"
	"github.com/zpskt/keen/internal/channel"
	"github.com/zpskt/keen/internal/config"
	"github.com/zpskt/keen/internal/engine"
	"github.com/zpskt/keen/internal/events"
	"github.com/zpskt/keen/internal/logger"
	"github.com/zpskt/keen/internal/repository/sqlite"
	"github.com/zpskt/keen/internal/routes"
	"github.com/zpskt/keen/internal/service"
	"github.com/zpskt/keen/internal/service/storage"
	"github.com/zpskt/keen/internal/service/websocket"
)

const (
	shutdownTimeout = 5 * time.Second
	viewerQueue     = 64
)

type App struct {
	config     *config.Config
	logger     *logger.Logger
	db         *sqlite.DB
	bus        *events.Bus
	hub        *websocket.HubService
	service    *service.DetectionService
	grpcServer *grpc.Server
	httpServer *http.Server

	grpcListener net.Listener
	httpListener net.Listener
}

// NewApp builds every component from cfg. The classifier is shared by all
// sessions and is serialized here; if it can also annotate snapshots it is
// used for that too.
func NewApp(cfg *config.Config, log *logger.Logger, classifier engine.Classifier) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Database), 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}
	db, err := sqlite.New(cfg.Storage.Database)
	if err != nil {
		return nil, err
	}
	eventRepo := sqlite.NewEventRepository(db)
	objectRepo := sqlite.NewObjectRepository(db)

	var saver storage.EventSaver
	var notifier service.Notifier
	if cfg.Backend.BaseURL != "" {
		client := backend.New(cfg.Backend)
		saver, notifier = client, client
	} else {
		log.Warning("Backend URL not set, escalated detections stay local")
	}

	store := storage.NewSnapshotStore(cfg.Storage, log, eventRepo, objectRepo, saver)
	if annotator, ok := classifier.(storage.Annotator); ok {
		store.WithAnnotator(annotator)
	}

	bus := events.FromConfig(cfg.Listeners(), log)
	hub := websocket.NewHubService(viewerQueue, log)

	svc := service.NewDetectionService(service.Options{
		Engine:              engine.New(engine.Serialize(classifier), cfg.Detection, cfg.Model.Labels),
		Bus:                 bus,
		Persister:           store,
		Notifier:            notifier,
		Observers:           []service.Observer{hub},
		Logger:              log,
		Clock:               clock.New(),
		SamplingInterval:    cfg.Detection.SamplingInterval,
		InteractiveInterval: cfg.Detection.InteractiveInterval,
		MaxSessions:         cfg.Server.MaxSessions,
		ResultBuffer:        cfg.Server.ResultBuffer,
	})

	grpcServer := grpc.NewServer(channel.ServerOptions(cfg.Server.MaxFrameBytes)...)
	channel.RegisterDetectionServer(grpcServer, svc)

	router := routes.SetupRoutes(cfg, log, svc, hub, eventRepo, objectRepo)

	return &App{
		config:     cfg,
		logger:     log,
		db:         db,
		bus:        bus,
		hub:        hub,
		service:    svc,
		grpcServer: grpcServer,
		httpServer: &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second},
	}, nil
}

// Listen binds the gRPC and HTTP ports.
func (a *App) Listen() error {
	grpcListener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Server.GRPCPort))
	if err != nil {
		return errors.Wrapf(err, "failed to listen on gRPC port %d", a.config.Server.GRPCPort)
	}
	httpListener, err := net.Listen("tcp", fmt.Sprintf(":%d", a.config.Server.HTTPPort))
	if err != nil {
		grpcListener.Close()
		return errors.Wrapf(err, "failed to listen on HTTP port %d", a.config.Server.HTTPPort)
	}
	a.grpcListener, a.httpListener = grpcListener, httpListener
	return nil
}

// GRPCAddr and HTTPAddr report the bound addresses after Listen.
func (a *App) GRPCAddr() net.Addr { return a.grpcListener.Addr() }

func (a *App) HTTPAddr() net.Addr { return a.httpListener.Addr() }

// Run serves until ctx is cancelled or a listener fails, then shuts both
// servers down. Listen is called first if it has not been.
func (a *App) Run(ctx context.Context) error {
	if a.grpcListener == nil {
		if err := a.Listen(); err != nil {
			return err
		}
	}

	a.logger.Info("Detection server: gRPC on %s, HTTP on %s", a.GRPCAddr(), a.HTTPAddr())
	a.logger.Info("Event listeners: %v", a.bus.Names())
	a.logger.Info("Storage: %s, database: %s", a.config.Storage.Root, a.config.Storage.Database)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		if err := a.grpcServer.Serve(a.grpcListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return errors.Wrap(err, "gRPC server failed")
		}
		return nil
	})
	g.Go(func() error {
		if err := a.httpServer.Serve(a.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "HTTP server failed")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		a.shutdown()
		return nil
	})
	return g.Wait()
}

func (a *App) shutdown() {
	a.logger.Info("Shutting down")

	stopped := make(chan struct{})
	go func() {
		a.grpcServer.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(shutdownTimeout):
		a.grpcServer.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := a.httpServer.Shutdown(ctx); err != nil {
		a.logger.Warning("HTTP shutdown: %v", err)
	}
}

// Close releases the listeners' sinks and the database.
func (a *App) Close() error {
	return multierr.Combine(a.bus.Close(), a.db.Close())
}
