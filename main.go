package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/snapbuy/snapbuy/internal/affiliate"
	"github.com/snapbuy/snapbuy/internal/config"
	"github.com/snapbuy/snapbuy/internal/database"
	"github.com/snapbuy/snapbuy/internal/llm"
	"github.com/snapbuy/snapbuy/internal/logger"
	"github.com/snapbuy/snapbuy/internal/metrics"
	"github.com/snapbuy/snapbuy/internal/server"
	"github.com/snapbuy/snapbuy/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	if err := logger.InitLogger(cfg.LogLevel, cfg.LogDir); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	logger.Info("snapbuy is starting", map[string]interface{}{
		"log_level":    cfg.LogLevel,
		"store_driver": cfg.StoreDriver,
		"llm_provider": cfg.LLMProvider,
		"has_llm":      cfg.HasLLMConfig(),
		"has_metrics":  cfg.HasMetrics(),
	})

	prefs, err := openPreferences(cfg)
	if err != nil {
		logger.Error("Failed to open preference store", map[string]interface{}{
			"error": err.Error(),
		})
		log.Fatalf("Failed to open preference store: %v", err)
	}
	defer prefs.Close()

	identifier := llm.NewClient(cfg)
	defer identifier.Close()
	if !identifier.Configured() {
		logger.WarnMsg("No LLM credential configured, photos will not be identified")
	}

	links, err := affiliate.NewBuilder(cfg.AffiliateTag, nil, "")
	if err != nil {
		log.Fatalf("Failed to create link builder: %v", err)
	}

	collector := metrics.NewCollector(nil)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.HasMetrics() {
		opsServer := newOpsServer(cfg, collector, prefs)
		go serveOps(opsServer)
		defer shutdownOps(opsServer)
		go collector.RunCleanup(ctx.Done(), time.Minute)
	}

	bot, err := telegram.NewBot(cfg, prefs, identifier, links, collector)
	if err != nil {
		logger.Error("Failed to create Telegram bot", map[string]interface{}{
			"error": err.Error(),
		})
		log.Fatalf("Failed to create Telegram bot: %v", err)
	}

	logger.InfoMsg("🛍️ Ready to turn photos into shopping links!")

	if err := bot.Start(ctx); err != nil {
		logger.Error("Bot error", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func openPreferences(cfg *config.Config) (*database.Preferences, error) {
	store, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	prefs, err := database.NewPreferences(store, cfg.DefaultLanguage)
	if err != nil {
		store.Close()
		return nil, err
	}
	return prefs, nil
}

func newOpsServer(cfg *config.Config, collector *metrics.Collector, prefs *database.Preferences) *http.Server {
	return server.New(server.Config{
		Address:  cfg.MetricsAddr,
		Gatherer: collector.Registry(),
		Checks: map[string]server.HealthCheck{
			"store": prefs.Ping,
		},
	})
}

func serveOps(srv *http.Server) {
	logger.Info("Ops server listening", map[string]interface{}{
		"addr": srv.Addr,
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Ops server stopped", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func shutdownOps(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("Ops server shutdown failed", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
