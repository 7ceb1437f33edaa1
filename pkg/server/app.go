package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"

	"EnigmaHub/internal/bridge"
	"EnigmaHub/internal/domain/repository"
	"EnigmaHub/internal/hub"
	"EnigmaHub/internal/usecase"
	"EnigmaHub/pkg/config"
	xhttp "EnigmaHub/pkg/http"
	pkgkafka "EnigmaHub/pkg/kafka"
	applogger "EnigmaHub/pkg/logger"
	"EnigmaHub/pkg/queue"
)

// handlerGroup registers several route handlers on one Echo instance.
type handlerGroup []xhttp.Handler

func (g handlerGroup) RegisterRoutes(e *echo.Echo) {
	for _, h := range g {
		h.RegisterRoutes(e)
	}
}

// App encapsulates the entire application lifecycle.
type App struct {
	cfg   *config.Config
	log   *applogger.Logger
	hub   *hub.Hub
	store repository.EventStore

	bridge     *bridge.Client
	poller     *usecase.MarketPoller
	producer   *pkgkafka.Producer
	consumer   *pkgkafka.Consumer
	kh         pkgkafka.MessageHandler
	replay     *queue.RedisQueue
	handlers   []xhttp.Handler
	httpServer *xhttp.Server
}

// New creates a new App instance around the hub core.
func New(cfg *config.Config, log *applogger.Logger, h *hub.Hub, store repository.EventStore) *App {
	return &App{cfg: cfg, log: log, hub: h, store: store}
}

// SetBridge attaches the trading platform bridge. A nil bridge means the
// hub runs standalone.
func (a *App) SetBridge(b *bridge.Client) { a.bridge = b }

// SetMarketPoller attaches the market data poller.
func (a *App) SetMarketPoller(p *usecase.MarketPoller) { a.poller = p }

// SetKafka attaches the Kafka producer and the ingest consumer with its handler.
func (a *App) SetKafka(producer *pkgkafka.Producer, consumer *pkgkafka.Consumer, kh pkgkafka.MessageHandler) {
	a.producer = producer
	a.consumer = consumer
	a.kh = kh
}

// SetReplayConsumer attaches the Redis consumer that drains queued
// signal appends back into the event store.
func (a *App) SetReplayConsumer(q *queue.RedisQueue) { a.replay = q }

// SetHandlers registers the HTTP route handlers hosted by the server.
func (a *App) SetHandlers(handlers ...xhttp.Handler) { a.handlers = handlers }

// Run starts the application and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.hub.Start(ctx); err != nil {
		a.log.Error("hub start error", applogger.Error(err))
	}

	if a.bridge != nil {
		a.bridge.Start()
		a.log.Info("bridge client started", applogger.String("url", a.cfg.Bridge.URL))
	}

	if a.poller != nil {
		a.poller.Start(ctx)
		a.log.Info("market poller started", applogger.Strings("symbols", a.cfg.Market.Symbols))
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				a.log.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		a.log.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.replay != nil {
		if err := a.replay.Start(); err != nil {
			a.log.Error("replay consumer start error", applogger.Error(err))
		} else {
			a.log.Info("replay consumer started")
		}
	}

	a.httpServer = xhttp.NewServer(handlerGroup(a.handlers),
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		a.log.Error("http server start error", applogger.Error(err))
		return err
	}
	a.log.Info("server listening", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	a.log.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown gracefully stops all services.
func (a *App) shutdown(ctx context.Context) error {
	// Stop accepting new requests first so WebSocket peers get a clean close.
	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		a.log.Error("http shutdown error", applogger.Error(err))
	}

	a.hub.Registry().CloseAll()

	if a.bridge != nil {
		a.bridge.Stop()
	}

	if a.consumer != nil {
		if err := a.consumer.Stop(shutdownCtx); err != nil {
			a.log.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	if a.replay != nil {
		if err := a.replay.Stop(shutdownCtx); err != nil {
			a.log.Warn("replay consumer stop error", applogger.Error(err))
		}
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.log.Warn("kafka producer close error", applogger.Error(err))
		}
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("event store close error", applogger.Error(err))
	}

	a.log.Info("shutdown complete")
	return nil
}
