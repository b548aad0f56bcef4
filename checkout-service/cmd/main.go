package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/nirvana9010/heya-pos/checkout-service/internal/auth"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/backend"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/cache"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/catalog"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/config"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/draft"
	checkoutgrpc "github.com/nirvana9010/heya-pos/checkout-service/internal/grpc"
	h "github.com/nirvana9010/heya-pos/checkout-service/internal/http"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/loyalty"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/publisher"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/repository"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/service"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/session"
	"github.com/nirvana9010/heya-pos/checkout-service/internal/terminal"
	"github.com/nirvana9010/heya-pos/pkg/logger"
)

func main() {
	log.Println("checkout-service starting...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	logg := logger.New("checkout-service", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Response cache
	var responses cache.Cache
	switch cfg.CacheBackend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		responses = cache.NewRedisCache(rdb)
		log.Printf("Using redis cache at %s", cfg.RedisAddr)
	default:
		responses = cache.NewMemoryCache()
	}

	// Backend session
	backendCfg := backend.DefaultConfig(cfg.BackendBaseURL)
	// Per request; payment calls are bounded by PAYMENT_TIMEOUT instead.
	backendCfg.Timeout = cfg.RequestTimeout
	client := backend.NewClient(backendCfg, responses, logg)
	sess := session.New(client, responses, auth.Tokens{
		AccessToken:  cfg.BackendAccessToken,
		RefreshToken: cfg.BackendRefreshToken,
	}, logg)
	if _, err := sess.Open(ctx); err != nil {
		log.Fatalf("Failed to open merchant session: %v", err)
	}
	defer sess.Close()

	// Settlement journal
	creds := &repository.Credentials{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		User:              cfg.Database.User,
		Password:          cfg.Database.Password,
		DBName:            cfg.Database.Name,
		MigrationsDirPath: cfg.MigrationsPath,
	}
	repo, err := repository.NewRepository(creds)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer repo.Close()

	if err := repo.RunMigrations(creds); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("Database migrations completed")

	// Card terminal bridge
	bridgeConn, err := terminal.Dial(cfg.TerminalBridgeAddr)
	if err != nil {
		log.Fatalf("Failed to connect to terminal bridge: %v", err)
	}
	defer bridgeConn.Close()
	driver := terminal.NewDriver(terminal.NewBridgeClient(bridgeConn), cfg.RequestTimeout, logg)
	log.Printf("Terminal bridge at %s", cfg.TerminalBridgeAddr)

	sequencer := service.NewSequencer(service.Dependencies{
		Orders:   client,
		Settings: sess,
		Journal:  repo,
		Terminal: driver,
		Loyalty:  loyalty.NewRedeemer(client, cfg.LoyaltyTimeout, logg),
	}, cfg.PaymentTimeout, logg)

	// Outbox relay and reconciliation
	poller := publisher.NewOutboxPoller(repo, client, logg, cfg.KafkaBrokers...)
	defer poller.Close()
	go poller.Run(ctx)

	// Quick sale catalog and drafts
	cat, err := catalog.NewRepository(cfg.CatalogDBPath)
	if err != nil {
		log.Fatalf("Failed to open catalog: %v", err)
	}
	defer cat.Close()
	if err := cat.RunMigrations(cfg.CatalogMigrationsPath); err != nil {
		log.Fatalf("Failed to run catalog migrations: %v", err)
	}

	mongoDB, err := draft.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			log.Printf("Failed to disconnect MongoDB: %v", err)
		}
	}()
	drafts := draft.NewMongoStore(mongoDB)
	if err := draft.CreateIndexes(ctx, drafts); err != nil {
		log.Fatalf("Failed to create draft indexes: %v", err)
	}
	quickSales := draft.NewService(drafts, cat, client, logg)

	// HTTP API
	srv := &http.Server{
		Addr: ":" + cfg.HTTPPort,
		Handler: h.NewRouter(h.Handlers{
			Orders:     h.NewOrdersHandler(client, cfg.RequestTimeout),
			Checkout:   h.NewCheckoutHandler(sequencer, cfg.RequestTimeout+cfg.PaymentTimeout),
			Loyalty:    h.NewLoyaltyHandler(sequencer, cfg.RequestTimeout),
			QuickSales: h.NewQuickSaleHandler(quickSales, cat, cfg.RequestTimeout),
		}, logg),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Printf("Checkout HTTP API listening on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server error: %v", err)
		}
	}()

	// Terminal results over gRPC
	lis, err := net.Listen("tcp", fmt.Sprintf(":%s", cfg.GRPCPort))
	if err != nil {
		log.Fatalf("Failed to listen: %v", err)
	}

	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	terminal.RegisterResultServer(grpcServer, checkoutgrpc.NewResultsServer(sequencer, logg))
	reflection.Register(grpcServer)

	go func() {
		log.Printf("Terminal results listening on :%s", cfg.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			log.Fatalf("Failed to serve: %v", err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()

	log.Println("Shutting down checkout service...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server forced to shutdown: %v", err)
	}
	grpcServer.GracefulStop()

	log.Println("Checkout service stopped")
}
