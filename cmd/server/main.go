package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"mailspool/internal/api"
	"mailspool/internal/compose"
	"mailspool/internal/config"
	"mailspool/internal/directory"
	"mailspool/internal/metrics"
	"mailspool/internal/render"
	"mailspool/internal/service"
	"mailspool/internal/store"
	"mailspool/internal/transport"
	"mailspool/internal/worker"
)

func main() {

	// ------------------------------------------------
	// Logger
	// ------------------------------------------------
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	// ------------------------------------------------
	// Config
	// ------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// ------------------------------------------------
	// Root Context + Shutdown
	// ------------------------------------------------
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()

	// ------------------------------------------------
	// Database
	// ------------------------------------------------
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer st.Close()

	if err := st.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema bootstrap failed", zap.Error(err))
	}

	// ------------------------------------------------
	// Metrics
	// ------------------------------------------------
	metrics.Init()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	metricsServer := &http.Server{
		Addr:    ":" + cfg.MetricsPort,
		Handler: metricsMux,
	}

	go func() {
		logger.Info("metrics server started", zap.String("port", cfg.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Composer
	// ------------------------------------------------
	composer := &compose.Composer{
		Renderer:  render.NewFS(cfg.TemplateDir),
		Inliner:   render.PremailerInliner{},
		Directory: directory.NewPostgres(st.Pool),
		Log:       logger,

		NoreplyAddress:     cfg.NoreplyAddress,
		NoreplyDisplayName: cfg.NoreplyDisplayName,
		TokenizedNoreply:   cfg.TokenizedNoreply,
		SupportEmail:       cfg.SupportEmail,
		ImageBaseURL:       cfg.ImageBaseURL,
		PhysicalAddress:    cfg.PhysicalAddress,
		DefaultLanguage:    cfg.DefaultLanguage,
	}

	// ------------------------------------------------
	// SMTP Connection Manager
	// ------------------------------------------------
	manager := transport.NewManager(
		cfg.SMTPHost,
		cfg.SMTPPort,
		cfg.SMTPUser,
		cfg.SMTPPassword,
		cfg.SMTPUseTLS,
		time.Duration(cfg.ConnectTimeout)*time.Second,
		logger,
	)
	defer manager.Close()

	// ------------------------------------------------
	// Rate Limiter
	// ------------------------------------------------
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateLimit)

	// ------------------------------------------------
	// Delivery Workers
	// ------------------------------------------------
	var wg sync.WaitGroup

	loop := &worker.Loop{
		Claims:   worker.NewStoreClaimer(st),
		Composer: composer,
		Sender:   manager,
		Limiter:  limiter,
		Log:      logger,

		PollInterval: time.Duration(cfg.PollInterval) * time.Second,
		MaxAttempts:  cfg.MaxAttempts,
	}

	worker.StartPool(ctx, &wg, cfg.WorkerCount, loop)

	// ------------------------------------------------
	// HTTP API Server
	// ------------------------------------------------
	svc := &service.MailService{
		Store:    st,
		Composer: composer,
		Sender:   manager,
		Log:      logger,
	}

	apiHandler := &api.Handler{
		Service: svc,
		Log:     logger,
	}

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /schedule", apiHandler.Schedule)
	apiMux.HandleFunc("POST /send", apiHandler.SendNow)
	apiMux.HandleFunc("POST /cancel", apiHandler.Cancel)

	apiServer := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: apiMux,
	}

	go func() {
		logger.Info("api server started", zap.String("port", cfg.APIPort))
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("api server error", zap.Error(err))
		}
	}()

	// ------------------------------------------------
	// Wait for shutdown
	// ------------------------------------------------
	<-ctx.Done()

	logger.Info("shutting down services...")

	// Wait for in-flight delivery attempts to resolve
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}

	logger.Info("application shutdown complete")
}
