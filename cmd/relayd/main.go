// Command relayd runs the chat relay: it consumes game chat from the message
// broker, pushes it through the resilient delivery pipeline, and fans it out
// to connected websocket clients.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/mudtide/chatrelay/admin"
	"github.com/mudtide/chatrelay/config"
	"github.com/mudtide/chatrelay/connections"
	"github.com/mudtide/chatrelay/contracts"
	"github.com/mudtide/chatrelay/dlq"
	"github.com/mudtide/chatrelay/metrics"
	"github.com/mudtide/chatrelay/pipeline"
	"github.com/mudtide/chatrelay/routing"
	"github.com/mudtide/chatrelay/subzone"
	"github.com/mudtide/chatrelay/transports/kafka"
	"github.com/mudtide/chatrelay/transports/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relayd exited with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env is the normal production case.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()

	store, cleanup, err := newStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init dead letter store: %w", err)
	}
	defer cleanup()

	transport, err := newTransport(cfg, logger)
	if err != nil {
		return fmt.Errorf("init transport: %w", err)
	}
	defer transport.Close()

	echo := routing.NewEchoSuppressor()

	// The adapter's handler is bound once the pipeline exists; no subzone
	// subscription can fire before the gateway server starts accepting
	// connections below.
	subzoneAdapter := &subzoneTransport{transport: transport}
	subzones := subzone.NewRegistry(subzoneAdapter,
		subzone.WithRegistryLogger(logger))

	gateway := connections.NewGateway(
		connections.WithGatewayLogger(logger),
		connections.WithMovementListener(func(playerID, fromRoom, toRoom string) {
			subzones.HandlePlayerMovement(ctx, playerID, fromRoom, toRoom)
		}),
	)

	rooms := routing.NewRoomBroadcaster(gateway, echo,
		routing.WithBroadcasterLogger(logger))
	router := routing.NewRouter(gateway, rooms,
		routing.WithRouterLogger(logger))

	// The relay's own processing step is small: honor the origin server's
	// already-sent echo marker so fan-out does not duplicate it.
	processor := pipeline.ProcessorFunc(func(ctx context.Context, msg *contracts.ChatMessage) error {
		if msg.EchoSent {
			echo.Mark(msg.MessageID)
		}
		return nil
	})

	pipe := pipeline.NewPipeline(processor, router, store, collector,
		pipeline.WithPipelineLogger(logger),
		pipeline.WithRetryPolicy(cfg.RetryBaseDelay, cfg.RetryMaxDelay, cfg.MaxRetries),
		pipeline.WithFailureThreshold(cfg.FailureThreshold),
		pipeline.WithSuccessThreshold(cfg.SuccessThreshold),
		pipeline.WithOpenTimeout(cfg.OpenTimeout),
	)

	subzoneAdapter.handler = pipe.ChatHandler()

	if err := transport.Subscribe(ctx, cfg.ChatSubject, pipe.ChatHandler()); err != nil {
		return fmt.Errorf("subscribe to chat subject %s: %w", cfg.ChatSubject, err)
	}
	if cfg.EventSubject != "" {
		if err := transport.Subscribe(ctx, cfg.EventSubject, pipe.EventHandler()); err != nil {
			// Events are enrichment, not the core flow; run without them.
			logger.Warn("event subject unavailable, continuing without events",
				"subject", cfg.EventSubject, "error", err)
		}
	}

	health := admin.NewHealthRegistry()
	health.Register(admin.NewCheckerFunc("dead-letter-store", func(ctx context.Context) error {
		_, err := store.Count(ctx)
		return err
	}))

	adminMux := http.NewServeMux()
	adminMux.HandleFunc("GET /healthz", health.Handler())
	adminMux.Handle("/", admin.NewServer(collector, store, pipe, gateway,
		admin.WithServerLogger(logger)).Handler())
	adminServer := &http.Server{Addr: cfg.AdminAddr, Handler: adminMux}

	gatewayMux := http.NewServeMux()
	gatewayMux.HandleFunc("GET /ws", gateway.WebsocketHandler())
	gatewayServer := &http.Server{Addr: cfg.GatewayAddr, Handler: gatewayMux}

	errCh := make(chan error, 2)
	go serve(adminServer, "admin", logger, errCh)
	go serve(gatewayServer, "gateway", logger, errCh)

	logger.Info("relayd started",
		"transport", cfg.Transport, "chatSubject", cfg.ChatSubject,
		"adminAddr", cfg.AdminAddr, "gatewayAddr", cfg.GatewayAddr,
		"dlqDriver", cfg.DLQDriver)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	adminServer.Shutdown(shutdownCtx)
	gatewayServer.Shutdown(shutdownCtx)

	return nil
}

func serve(srv *http.Server, name string, logger *slog.Logger, errCh chan<- error) {
	logger.Info("http server listening", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func newStore(ctx context.Context, cfg config.Config) (dlq.Store, func(), error) {
	noop := func() {}
	switch cfg.DLQDriver {
	case "memory":
		return dlq.NewMemoryStore(), noop, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, noop, fmt.Errorf("connect postgres: %w", err)
		}
		store, err := dlq.NewPostgresStore(ctx, pool)
		if err != nil {
			pool.Close()
			return nil, noop, err
		}
		return store, pool.Close, nil
	default:
		store, err := dlq.NewFileStore(cfg.DLQDir)
		return store, noop, err
	}
}

func newTransport(cfg config.Config, logger *slog.Logger) (pipeline.Transport, error) {
	switch cfg.Transport {
	case "kafka":
		return kafka.NewTransport(cfg.KafkaBrokers,
			kafka.WithGroupID(cfg.KafkaGroupID),
			kafka.WithTransportLogger(logger))
	default:
		return rabbitmq.NewTransport(cfg.AMQPURL,
			rabbitmq.WithExchange(cfg.AMQPExchange),
			rabbitmq.WithTransportLogger(logger))
	}
}

// subzoneTransport narrows the pipeline transport to the subzone registry's
// contract, binding every subzone subject to the chat handler.
type subzoneTransport struct {
	transport pipeline.Transport
	handler   pipeline.Handler
}

func (s *subzoneTransport) Subscribe(ctx context.Context, subject string) error {
	return s.transport.Subscribe(ctx, subject, s.handler)
}

func (s *subzoneTransport) Unsubscribe(ctx context.Context, subject string) (bool, error) {
	return s.transport.Unsubscribe(ctx, subject)
}
