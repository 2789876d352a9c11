package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/lamosty/aharadar-sub003/internal/config"
	"github.com/lamosty/aharadar-sub003/internal/llm"
	"github.com/lamosty/aharadar-sub003/internal/quota"
	"github.com/lamosty/aharadar-sub003/internal/service"
	"github.com/lamosty/aharadar-sub003/internal/store"
	"github.com/lamosty/aharadar-sub003/internal/tasks"
	grpcx "github.com/lamosty/aharadar-sub003/internal/transport/grpc"
	httpx "github.com/lamosty/aharadar-sub003/internal/transport/http"
	"github.com/lamosty/aharadar-sub003/internal/usage"
)

const purgeInterval = time.Hour

func main() {
	cfg := config.Load()

	src, err := config.EnvSource(cfg.LLMConfigFile)
	if err != nil {
		log.Fatalf("llm config load failed: %v", err)
	}

	backend, purger, err := buildUsageBackend(cfg)
	if err != nil {
		log.Fatalf("usage store setup failed: %v", err)
	}
	usageStore := usage.NewStore(backend, usage.WithCacheTTL(cfg.UsageCacheTTL))
	defer func() {
		if err := usageStore.Close(); err != nil {
			log.Printf("usage store close warning: %v", err)
		}
	}()

	ledger, ledgerSource, err := buildLedger(cfg)
	if err != nil {
		log.Fatalf("ledger setup failed: %v", err)
	}
	defer func() {
		if err := ledger.Close(); err != nil {
			log.Printf("ledger close warning: %v", err)
		}
	}()
	if err := ledger.Load(); err != nil {
		log.Fatalf("ledger initialization failed: %v", err)
	}

	settings := llm.LoadSettings(src)
	router := llm.NewRouter(settings,
		llm.WithHTTPClient(providerHTTPClient(settings.HTTPTimeout)),
		llm.WithUsageRecorder(usageStore),
	)
	executor := tasks.NewExecutor(router, settings)
	gate := quota.NewGate(usageStore, quota.LimitsFromSource(src))
	orchestrator := service.NewOrchestrator(router, executor, gate, ledger,
		service.WithUsageReporter(usageStore),
		service.WithLedgerSource(ledgerSource),
	)

	httpServer := httpx.NewServer(cfg.HTTPAddr, orchestrator)

	listener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen on %s: %v", cfg.GRPCAddr, err)
	}

	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			grpcx.RecoveryUnaryInterceptor(),
			grpcx.AuthUnaryInterceptor(cfg.AuthToken, cfg.JWTSecret),
			grpcx.LoggingUnaryInterceptor(),
			grpcx.ErrorUnaryInterceptor(),
		),
	)
	grpcx.RegisterOrchestratorServer(server, grpcx.NewOrchestratorHandler(orchestrator))

	healthService := health.NewServer()
	healthService.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, healthService)

	if cfg.EnableReflection {
		reflection.Register(server)
	}

	purgeCtx, stopPurge := context.WithCancel(context.Background())
	defer stopPurge()
	if purger != nil {
		go purgeExpired(purgeCtx, purger)
	}

	go func() {
		log.Printf("LLM orchestrator gRPC server listening on %s", cfg.GRPCAddr)
		log.Printf("usage_store=%s shared=%t ledger=%s tasks=%s",
			cfg.UsageStoreDriver, usageStore.Shared(), ledgerSource, strings.Join(service.OperationNames(), ","))
		if cfg.AuthToken == "" && cfg.JWTSecret == "" {
			log.Printf("AUTH_TOKEN and AUTH_JWT_SECRET are not configured; RunTask is currently unauthenticated.")
		}
		if err := server.Serve(listener); err != nil {
			log.Fatalf("grpc serve failed: %v", err)
		}
	}()

	go func() {
		if strings.TrimSpace(cfg.HTTPAddr) == "" {
			return
		}
		log.Printf("LLM orchestrator HTTP dashboard listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http serve failed: %v", err)
		}
	}()

	waitForShutdown(server, httpServer, cfg.ShutdownTimeout)
}

func waitForShutdown(server *grpc.Server, httpServer *http.Server, timeout time.Duration) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Println("shutdown signal received; draining gRPC server")
	done := make(chan struct{})
	go func() {
		server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
		log.Println("gRPC server stopped gracefully")
	case <-time.After(timeout):
		log.Println("graceful timeout reached; forcing stop")
		server.Stop()
	}
	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown warning: %v", err)
		}
	}
}

// providerHTTPClient keeps a small pool of warm connections per provider host.
func providerHTTPClient(timeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConnsPerHost = 8
	transport.IdleConnTimeout = 90 * time.Second
	return &http.Client{Timeout: timeout, Transport: transport}
}

type expiredPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

func purgeExpired(ctx context.Context, purger expiredPurger) {
	ticker := time.NewTicker(purgeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := purger.PurgeExpired(ctx)
			if err != nil {
				log.Printf("usage purge warning: %v", err)
				continue
			}
			if removed > 0 {
				log.Printf("usage purge removed=%d", removed)
			}
		}
	}
}

// buildUsageBackend returns a nil backend for the memory driver, which keeps
// counters process-local.
func buildUsageBackend(cfg config.Config) (usage.Backend, expiredPurger, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.UsageStoreDriver)) {
	case "", "memory":
		return nil, nil, nil
	case "postgres":
		backend, err := usage.NewPostgresBackend(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := backend.Load(); err != nil {
			_ = backend.Close()
			return nil, nil, err
		}
		return backend, backend, nil
	case "file":
		backend, err := usage.NewFileBackend(cfg.UsageFile)
		if err != nil {
			return nil, nil, err
		}
		return backend, nil, nil
	default:
		return nil, nil, fmt.Errorf("unsupported USAGE_STORE_DRIVER %q; expected memory|file|postgres", cfg.UsageStoreDriver)
	}
}

func buildLedger(cfg config.Config) (store.Ledger, string, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LedgerDriver)) {
	case "", "memory":
		return store.NewMemoryStore(), "memory", nil
	case "file":
		return store.NewFileStore(cfg.LedgerFile), cfg.LedgerFile, nil
	case "postgres":
		pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, "", err
		}
		return pgStore, "postgres", nil
	default:
		return nil, "", fmt.Errorf("unsupported LEDGER_DRIVER %q; expected memory|file|postgres", cfg.LedgerDriver)
	}
}
