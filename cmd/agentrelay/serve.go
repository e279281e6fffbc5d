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

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/agentrelay/internal/adapter/a2ahttp"
	relayhttp "github.com/Strob0t/agentrelay/internal/adapter/http"
	relaynats "github.com/Strob0t/agentrelay/internal/adapter/nats"
	"github.com/Strob0t/agentrelay/internal/adapter/natskv"
	relayotel "github.com/Strob0t/agentrelay/internal/adapter/otel"
	"github.com/Strob0t/agentrelay/internal/adapter/ristretto"
	"github.com/Strob0t/agentrelay/internal/adapter/tiered"
	"github.com/Strob0t/agentrelay/internal/adapter/ws"
	"github.com/Strob0t/agentrelay/internal/config"
	"github.com/Strob0t/agentrelay/internal/domain/routing"
	"github.com/Strob0t/agentrelay/internal/logger"
	"github.com/Strob0t/agentrelay/internal/port/a2a"
	"github.com/Strob0t/agentrelay/internal/port/cache"
	"github.com/Strob0t/agentrelay/internal/port/messagequeue"
	"github.com/Strob0t/agentrelay/internal/resilience"
	"github.com/Strob0t/agentrelay/internal/service"
)

// ServeCmd runs the relay server.
type ServeCmd struct {
	Port string `help:"Override server.port."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	cfg, err := config.LoadFrom(cli.Config)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Port != "" {
		cfg.Server.Port = c.Port
	}

	log, closeLog := logger.New(cfg.Logging)
	defer closeLog.Close()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg)
}

func serve(ctx context.Context, cfg *config.Config) error {
	v := buildVersion()
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"agents", len(cfg.Agents),
		"nats", cfg.NATS.URL != "",
		"otel", cfg.OTEL.Enabled,
	)

	// --- Observability ---

	shutdownOTEL, err := relayotel.Setup(ctx, cfg.OTEL, v)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()

	metrics, err := relayotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---

	var queue *relaynats.Queue
	if cfg.NATS.URL != "" {
		queue, err = relaynats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() { _ = queue.Close() }()
	}

	l1, err := ristretto.New(cfg.Cards.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("card cache: %w", err)
	}
	defer l1.Close()

	var cards cache.Cache = l1
	if cfg.Cards.SharedBucket != "" && queue != nil {
		l2, err := natskv.Open(ctx, queue.Conn(), cfg.Cards.SharedBucket, cfg.Cards.TTL)
		if err != nil {
			return fmt.Errorf("shared card cache: %w", err)
		}
		cards = tiered.New(l1, l2, cfg.Cards.TTL)
		slog.Info("shared card cache enabled", "bucket", cfg.Cards.SharedBucket)
	}

	// --- Downstream transport ---

	transport := a2ahttp.New(a2ahttp.Options{
		Auth:          a2ahttp.BearerToken(cfg.Transport.AuthToken),
		CallTimeout:   cfg.Transport.CallTimeout,
		StreamTimeout: cfg.Transport.StreamTimeout,
	})

	breakers := resilience.NewBreakerSet(cfg.Breaker.Threshold, cfg.Breaker.Cooldown, cfg.Breaker.HalfOpenMax)
	breakers.OnStateChange(func(endpoint string, from, to resilience.State) {
		slog.Warn("circuit breaker transition", "endpoint", endpoint, "from", from.String(), "to", to.String())
		metrics.BreakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
			attribute.String("endpoint", endpoint),
			attribute.String("to", to.String()),
		))
	})
	retrier := resilience.NewRetrier(resilience.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxDelay:    cfg.Retry.MaxDelay,
	})
	retrier.OnRetry(func(attempt int, delay time.Duration, err error) {
		slog.Info("retrying downstream call", "attempt", attempt, "delay", delay, "error", err)
		metrics.Retries.Add(context.Background(), 1)
	})
	client := resilience.NewClient(transport, breakers, retrier)

	// --- Services ---

	router, err := newRouter(ctx, cfg.Routing)
	if err != nil {
		return err
	}
	router.SetMetrics(metrics)

	directory := service.NewDirectory(cfg.Agents)
	if missing := directory.Missing(router.Table().Agents()); len(missing) > 0 {
		slog.Warn("routing rules name agents without endpoints", "agents", missing)
	}

	registry := service.NewRegistry(service.RegistryConfig{
		BufferSize:       cfg.Registry.BufferSize,
		SubscriberBuffer: cfg.Registry.SubscriberBuffer,
	})
	registry.OnOverflow(func(string) {
		metrics.SubscriberOverflows.Add(context.Background(), 1)
	})

	executor := service.NewExecutor(
		registry,
		router,
		service.NewCardResolver(client, cards, cfg.Cards.TTL),
		client,
		directory,
		service.ExecutorConfig{
			CallTimeout:   cfg.Transport.CallTimeout,
			StreamTimeout: cfg.Transport.StreamTimeout,
			MaxConcurrent: cfg.Transport.MaxConcurrent,
		},
	)
	executor.SetMetrics(metrics)

	hub := ws.NewHub()
	defer hub.Close()
	service.AttachBroadcaster(registry, hub)

	var mq messagequeue.Queue
	if queue != nil {
		mq = queue
		subjects := messagequeue.Subjects{Prefix: cfg.NATS.SubjectPrefix}
		publisher := service.NewPublisher(queue, subjects)
		publisher.Attach(registry)
		publisher.Start()
		defer func() {
			publisher.Close()
			if n := publisher.Dropped(); n > 0 {
				slog.Warn("nats publisher dropped messages", "count", n)
			}
		}()

		unsubscribe, err := service.ListenForCancels(ctx, queue, subjects, executor)
		if err != nil {
			return fmt.Errorf("cancel subscriber: %w", err)
		}
		defer unsubscribe()
	}

	// --- HTTP ---

	handlers := &relayhttp.Handlers{
		Executor:  executor,
		Registry:  registry,
		Breakers:  breakers,
		Queue:     mq,
		Heartbeat: cfg.Server.Heartbeat,
		Version:   v,

		// Tasks live in this process, so replays use the local tier only.
		Idempotency:    l1,
		IdempotencyTTL: cfg.Server.IdempotencyTTL,
	}
	if cfg.Server.SubmitRate > 0 {
		handlers.SubmitLimiter = relayhttp.NewRateLimiter(cfg.Server.SubmitRate, cfg.Server.SubmitBurst)
	}

	r := chi.NewRouter()
	r.Use(relayotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(relayhttp.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(relayhttp.Logger)
	r.Use(relayhttp.CORS(cfg.Server.CORSOrigin))

	a2a.NewHandler(func() a2a.CardInfo {
		return a2a.CardInfo{BaseURL: cfg.Server.PublicURL, Version: v, Agents: router.Table().Agents()}
	}).MountRoutes(r)
	relayhttp.MountRoutes(r, handlers)
	ws.MountRoutes(r, hub, registry)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// --- Run ---

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("server starting", "addr", srv.Addr, "version", v)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		registry.Run(gctx, cfg.Registry.SweepInterval, cfg.Registry.Retention)
		return nil
	})
	if handlers.SubmitLimiter != nil {
		g.Go(func() error {
			handlers.SubmitLimiter.Run(gctx, time.Minute, 10*time.Minute)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Runs end first so their terminal events reach open streams.
		if err := executor.Shutdown(sctx); err != nil {
			slog.Warn("task runs did not stop in time", "error", err)
		}
		hub.Close()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

// newRouter builds the router from the rules file when set, otherwise from
// inline routes, and starts the file watcher when enabled.
func newRouter(ctx context.Context, cfg config.Routing) (*service.Router, error) {
	if cfg.RulesFile == "" {
		table, x, err := inlineRules(cfg)
		if err != nil {
			return nil, err
		}
		return service.NewRouter(table, x), nil
	}

	table, x, err := routing.LoadFromFile(cfg.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("routing: %w", err)
	}
	router := service.NewRouter(table, x)
	if cfg.Watch {
		if err := router.WatchFile(ctx, cfg.RulesFile); err != nil {
			return nil, fmt.Errorf("routing watch: %w", err)
		}
	}
	return router, nil
}

func inlineRules(cfg config.Routing) (*routing.Table, routing.Extractor, error) {
	table, err := routing.NewTable(cfg.Routes)
	if err != nil {
		return nil, routing.Extractor{}, fmt.Errorf("routing: %w", err)
	}
	f := routing.File{TypeFields: cfg.TypeFields, CodeFields: cfg.CodeFields}
	return table, f.Extractor(), nil
}
