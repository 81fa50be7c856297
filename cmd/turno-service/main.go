package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qms/turno-service/internal/broker"
	"qms/turno-service/internal/config"
	"qms/turno-service/internal/httpapi"
	"qms/turno-service/internal/hub"
	"qms/turno-service/internal/outbox"
	"qms/turno-service/internal/store/postgres"
	"qms/turno-service/internal/telemetry"
	"qms/turno-service/internal/worker"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "turno-service"

func main() {
	if err := run(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		log.Fatalf("%s: %v", serviceName, err)
	}
}

func run(args []string) error {
	var envFile string
	var port string
	flagSet := pflag.NewFlagSet(serviceName, pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file merged into the environment before reading config")
	flagSet.StringVar(&port, "port", "", "listen port (overrides PORT)")
	if err := flagSet.Parse(args); err != nil {
		return err
	}

	if err := config.LoadEnvFile(envFile, flagSet.Changed("env-file")); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	cfg := config.Load()
	if port != "" {
		cfg.Port = port
	}
	if cfg.JWTSecret == "" {
		log.Printf("JWT_SECRET is empty; staff endpoints will reject every token")
	}

	shutdownTelemetry := telemetry.Setup(telemetry.Config{
		ServiceName: serviceName,
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
	})
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	defer pool.Close()

	store := postgres.NewStore(pool, postgres.Options{
		DefaultClientID:         cfg.DefaultClientID,
		TicketNumberMaxAttempts: cfg.TicketNumberMaxAttempts,
		StockMaxAttempts:        cfg.StockMaxAttempts,
	})
	handler := httpapi.NewHandler(store, httpapi.Options{})

	redisClient := config.NewRedisClient(cfg.Redis)
	if redisClient != nil {
		defer redisClient.Close()
	}
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		PerMinute: cfg.RateLimitPerMinute,
		Burst:     cfg.RateLimitBurst,
		Redis:     redisClient,
	})

	dashboards := hub.New()
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newServerHandler(httpapi.AuthMiddleware(cfg.JWTSecret, handler.Routes()), dashboards.Handler("/realtime"), limiter),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sink outbox.Sink
	if cfg.RabbitMQURL != "" {
		publisher := broker.NewPublisher(cfg.RabbitMQURL, cfg.RabbitMQExchange)
		defer publisher.Close()
		sink = publisher
	} else {
		log.Printf("RABBITMQ_URL is empty; events only reach dashboards")
	}
	relay := outbox.New(store, sink, outbox.Config{BatchSize: cfg.OutboxBatchSize}, dashboards)
	go outbox.Start(ctx, cfg.OutboxPollInterval, relay)

	stockWorker := worker.NewStockWorker(store, worker.Config{BatchSize: cfg.StockBatchSize})
	go worker.Start(ctx, cfg.StockRetryInterval, stockWorker)

	go func() {
		log.Printf("%s listening on %s", serviceName, server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
	return nil
}

// newServerHandler mounts dashboards next to the API and applies the shared
// middleware chain to both.
func newServerHandler(api, realtime http.Handler, limiter *httpapi.RateLimiter) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/realtime/", realtime)
	mux.Handle("/", api)
	return otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), serviceName)
}
