// Command trading-core boots the arbitrage engine: it loads configuration,
// constructs the venue connectors and the Scanner/Detector/Router/Allocator/
// Order Manager collaborators, wires them into an engine.Engine, and runs
// until an interrupt or terminate signal arrives.
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nova-trade/trading-core/internal/allocator"
	"github.com/nova-trade/trading-core/internal/arbitrage"
	"github.com/nova-trade/trading-core/internal/config"
	"github.com/nova-trade/trading-core/internal/connector"
	"github.com/nova-trade/trading-core/internal/connector/binanceus"
	"github.com/nova-trade/trading-core/internal/connector/coinbase"
	"github.com/nova-trade/trading-core/internal/connector/kraken"
	"github.com/nova-trade/trading-core/internal/domain"
	"github.com/nova-trade/trading-core/internal/engine"
	"github.com/nova-trade/trading-core/internal/orders"
	"github.com/nova-trade/trading-core/internal/router"
	"github.com/nova-trade/trading-core/internal/scanner"
	"github.com/nova-trade/trading-core/internal/storage"
	"github.com/nova-trade/trading-core/pkg/observability"
)

func main() {
	configPath := flag.String("config", envOr("CONFIG_FILE", "configs/trading-core.yaml"), "path to the YAML configuration file")
	metricsAddr := flag.String("metrics-addr", envOr("METRICS_ADDR", ":9090"), "address the /health and /metrics endpoints listen on")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := observability.NewLogger(cfg.Observability)
	metrics := observability.NewMetrics(observability.MetricsConfig{
		ServiceName: cfg.Observability.ServiceName,
		Namespace:   cfg.Observability.MetricsNS,
		Enabled:     true,
	})
	tracing, err := observability.NewTracingProvider(cfg.Observability)
	if err != nil {
		log.Fatalf("init tracing: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(shutdownCtx)
	}()

	connectors := buildConnectors(cfg.Connectors, logger)
	if len(connectors) == 0 {
		log.Fatalf("no connectors enabled in %s", *configPath)
	}

	venueFees := feeStructuresFrom(cfg.Connectors)

	transferrers := make(map[string]allocator.Transferrer, len(connectors))
	venueRouter := router.New(routerConfigFrom(cfg.Router))
	for venueID, client := range connectors {
		transferrers[venueID] = client
		fs := venueFees[venueID]
		venueRouter.RegisterVenue(&router.VenueMetrics{
			Venue: venueID, Connected: true,
			FeeRate: fs.Taker, IsRebate: fs.Taker.Sign() < 0,
		})
	}

	store := buildStore(ctx, cfg.Storage)
	defer store.Close()

	orderManager := orders.New(riskValidatorFrom(cfg.Risk), orders.NewFeeCalculator(venueFees), logger)

	eng := engine.New(engine.Deps{
		Connectors: connectors,
		Symbols:    cfg.Symbols,
		Scanner:    scanner.New(scannerConfigFrom(cfg.Scanner), logger),
		Detector:   arbitrage.New(detectorConfigFrom(cfg.Detector), nil, logger),
		Router:     venueRouter,
		Allocator:  allocator.New(transferrers, allocatorStrategyFrom(cfg.Allocator.Strategy), logger),
		Orders:     orderManager,
		Logger:     logger,
		Metrics:    metrics,
	}, cfg.Engine, cfg.Detector, cfg.Execution, cfg.Risk)

	if err := store.AppendAudit(ctx, storage.AuditEntry{Category: "lifecycle", Message: "trading core starting"}); err != nil {
		logger.Error(ctx, "audit append failed", err, nil)
	}

	go serveOps(ctx, *metricsAddr, metrics, logger)

	go func() {
		spanCtx, span := tracing.StartSpan(ctx, "engine.Start")
		defer span.End()
		if err := eng.Start(spanCtx); err != nil {
			observability.RecordError(spanCtx, err)
			logger.Error(spanCtx, "engine exited with error", err, nil)
		}
	}()

	<-ctx.Done()
	logger.Info(ctx, "shutdown signal received", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod(cfg.Engine.ShutdownGracePeriod))
	defer cancel()
	if err := eng.EmergencyStop(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "emergency stop encountered errors", err, nil)
	}
	persistFinalState(shutdownCtx, store, orderManager, logger)
	logger.Info(shutdownCtx, "trading core shutdown complete", nil)
}

// persistFinalState snapshots every order the manager still holds open
// (OpenOrders; terminal orders are not written) into the store and records a shutdown audit entry, so a restart can
// reconcile against what was last seen rather than starting blind.
func persistFinalState(ctx context.Context, store storage.Store, mgr *orders.Manager, logger *observability.Logger) {
	for _, o := range mgr.OpenOrders() {
		if err := store.UpsertOrder(ctx, o); err != nil {
			logger.Error(ctx, "failed to persist order on shutdown", err, map[string]interface{}{"order_id": o.ID.String()})
		}
	}
	if err := store.AppendAudit(ctx, storage.AuditEntry{Category: "lifecycle", Message: "trading core stopped"}); err != nil {
		logger.Error(ctx, "audit append failed", err, nil)
	}
}

// serveOps exposes the conventional /health and /metrics endpoints for the
// orchestrator process, shutting down cleanly when ctx is cancelled.
func serveOps(ctx context.Context, addr string, metrics *observability.Metrics, logger *observability.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info(ctx, "ops server listening", map[string]interface{}{"address": addr})
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error(ctx, "ops server failed", err, nil)
	}
}

func buildConnectors(cfg config.ConnectorsConfig, logger *observability.Logger) map[string]connector.ExchangeClient {
	out := make(map[string]connector.ExchangeClient)
	if cfg.Coinbase.Enabled {
		mode := coinbase.AuthModeLegacyHMAC
		if cfg.Coinbase.Credentials.PrivateKeyPEM != "" {
			mode = coinbase.AuthModeCDPJWT
		}
		out["coinbase"] = coinbase.New(coinbase.Config{
			AuthMode:      mode,
			APIKeyName:    cfg.Coinbase.Credentials.APIKey,
			PrivateKeyPEM: cfg.Coinbase.Credentials.PrivateKeyPEM,
			APIKey:        cfg.Coinbase.Credentials.APIKey,
			APISecret:     cfg.Coinbase.Credentials.APISecret,
			Passphrase:    cfg.Coinbase.Credentials.Passphrase,
			BaseURL:       cfg.Coinbase.BaseURL,
			WSURL:         cfg.Coinbase.WSBaseURL,
			RatePerSec:    cfg.Coinbase.RatePerSec,
			Timeout:       cfg.Coinbase.Timeout,
		}, logger)
	}
	if cfg.BinanceUS.Enabled {
		out["binanceus"] = binanceus.New(binanceus.Config{
			APIKey:     cfg.BinanceUS.Credentials.APIKey,
			APISecret:  cfg.BinanceUS.Credentials.APISecret,
			BaseURL:    cfg.BinanceUS.BaseURL,
			WSBaseURL:  cfg.BinanceUS.WSBaseURL,
			RatePerSec: cfg.BinanceUS.RatePerSec,
			Timeout:    cfg.BinanceUS.Timeout,
		}, logger)
	}
	if cfg.Kraken.Enabled {
		out["kraken"] = kraken.New(kraken.Config{
			APIKey:     cfg.Kraken.Credentials.APIKey,
			APISecret:  cfg.Kraken.Credentials.APISecret,
			BaseURL:    cfg.Kraken.BaseURL,
			WSURL:      cfg.Kraken.WSBaseURL,
			RatePerSec: cfg.Kraken.RatePerSec,
			Timeout:    cfg.Kraken.Timeout,
		}, logger)
	}
	return out
}

func buildStore(ctx context.Context, cfg config.StorageConfig) storage.Store {
	if cfg.Driver == "postgres" {
		st, err := storage.NewPostgresStore(ctx, storage.PostgresConfig{DSN: cfg.PostgresDSN})
		if err != nil {
			log.Fatalf("open postgres store: %v", err)
		}
		return st
	}
	return storage.NewMemoryStore()
}

func scannerConfigFrom(c config.ScannerConfig) scanner.Config {
	return scanner.Config{
		UpdateInterval: c.UpdateInterval,
		StaleMultiple:  c.StaleMultiple,
		WeightSigma:    c.WeightSigma,
		WeightSurge:    c.WeightSurge,
		WeightMomentum: c.WeightMomentum,
		WeightSpread:   c.WeightSpread,
	}
}

// feeStructuresFrom parses each connected venue's configured fee schedule
// into the domain.FeeStructure map the FeeCalculator and Router both key
// off of by venue id.
func feeStructuresFrom(c config.ConnectorsConfig) map[string]domain.FeeStructure {
	parse := func(fc config.FeeConfig) domain.FeeStructure {
		maker, _ := decimal.NewFromString(fc.Maker)
		taker, _ := decimal.NewFromString(fc.Taker)
		withdrawal, _ := decimal.NewFromString(fc.Withdrawal)
		return domain.FeeStructure{Maker: maker, Taker: taker, Withdrawal: withdrawal}
	}
	out := make(map[string]domain.FeeStructure)
	if c.Coinbase.Enabled {
		out["coinbase"] = parse(c.Coinbase.Fees)
	}
	if c.BinanceUS.Enabled {
		out["binanceus"] = parse(c.BinanceUS.Fees)
	}
	if c.Kraken.Enabled {
		out["kraken"] = parse(c.Kraken.Fees)
	}
	return out
}

func detectorConfigFrom(c config.DetectorConfig) arbitrage.Config {
	maxCap, _ := decimal.NewFromString(c.MaxPositionCap)
	return arbitrage.Config{
		MinProfitPct:   c.MinProfitPct,
		MinConfidence:  c.MinConfidence,
		MaxRisk:        c.MaxRisk,
		MaxPositionCap: maxCap,
	}
}

func routerConfigFrom(c config.RouterConfig) router.Config {
	baselineFee, _ := decimal.NewFromString(c.BaselineFee)
	return router.Config{
		BaselineFee:       baselineFee,
		EWMAAlpha:         c.EWMAAlpha,
		MinScoreThreshold: c.MinScoreThreshold,
	}
}

func riskValidatorFrom(c config.RiskConfig) *orders.RiskValidator {
	maxOrder, _ := decimal.NewFromString(c.MaxOrderSize)
	maxPosition, _ := decimal.NewFromString(c.MaxPositionSize)
	maxExposure, _ := decimal.NewFromString(c.MaxPortfolioExposure)
	return orders.NewRiskValidator(maxOrder, maxPosition, maxExposure)
}

func allocatorStrategyFrom(name string) allocator.Strategy {
	switch name {
	case "aggressive":
		return allocator.AggressiveStrategy{}
	case "weighted":
		return allocator.WeightedStrategy{}
	default:
		return allocator.BalancedStrategy{}
	}
}

func gracePeriod(d time.Duration) time.Duration {
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
