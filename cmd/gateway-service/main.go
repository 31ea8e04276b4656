package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"

	"github.com/synaptica-ai/privacy-gateway/pkg/common/config"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/database"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/kafka"
	"github.com/synaptica-ai/privacy-gateway/pkg/common/logger"
	"github.com/synaptica-ai/privacy-gateway/pkg/dlp"
	"github.com/synaptica-ai/privacy-gateway/pkg/extraction"
	"github.com/synaptica-ai/privacy-gateway/pkg/gateway/auth"
	"github.com/synaptica-ai/privacy-gateway/pkg/gateway/middleware"
	"github.com/synaptica-ai/privacy-gateway/pkg/gateway/routes"
	"github.com/synaptica-ai/privacy-gateway/pkg/gateway/worker"
	"github.com/synaptica-ai/privacy-gateway/pkg/patient"
	"github.com/synaptica-ai/privacy-gateway/pkg/provider"
	"github.com/synaptica-ai/privacy-gateway/pkg/redaction"
	"github.com/synaptica-ai/privacy-gateway/pkg/routing"
)

const serviceName = "privacy-gateway"

func main() {
	logger.Init()
	cfg := config.Load()

	db, err := database.GetPostgres(cfg)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer database.ClosePostgres()

	store := patient.NewRepository(db)
	if err := store.AutoMigrate(); err != nil {
		logger.Log.WithError(err).Fatal("failed to migrate patient tables")
	}

	rules, err := dlp.LoadRules(cfg.DLPRulesPath)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to load DLP rules")
	}
	detector, err := dlp.NewDetector(rules)
	if err != nil {
		logger.Log.WithError(err).Fatal("failed to compile DLP rules")
	}

	var extractor extraction.Extractor
	if cfg.ExtractionEnabled {
		ollama := extraction.NewOllama(cfg.OllamaEndpoint, cfg.ExtractionModel, cfg.ExtractionConfidence, cfg.OllamaTimeout)
		extractor = extraction.NewCached(ollama, extraction.NewRedisCache(database.GetRedis(cfg)), cfg.ExtractionCacheTTL)
		defer database.CloseRedis()
	}

	registry := provider.NewRegistry(
		provider.NewLocal("ollama", cfg.OllamaEndpoint, cfg.OllamaModel, cfg.OllamaTimeout),
		provider.NewRemote(provider.RemoteConfig{
			Name:          "cloud",
			BaseURL:       cfg.LLMBaseURL,
			Model:         cfg.LLMModelName,
			APIKey:        cfg.LLMAPIKey,
			Timeout:       cfg.LLMTimeout,
			RetryAttempts: cfg.LLMRetryAttempts,
			OAuthTokenURL: cfg.LLMOAuthTokenURL,
			OAuthClientID: cfg.LLMOAuthClientID,
			OAuthSecret:   cfg.LLMOAuthSecret,
			OAuthScopes:   cfg.LLMOAuthScopes,
		}),
	)
	if err := registry.SetActive(cfg.ActiveProvider); err != nil {
		logger.Log.WithError(err).Warn("configured provider unknown, keeping default")
	}

	observers := routing.Observers{routing.LogObserver{}, routing.MetricsObserver{}}
	if cfg.KafkaStatusEnabled {
		statusProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaStatusTopic)
		defer statusProducer.Close()
		observers = append(observers, routing.NewKafkaObserver(statusProducer, serviceName))
	}

	gateway := routing.New(routing.Options{
		Registry:        registry,
		Store:           store,
		Extractor:       extractor,
		Engine:          redaction.NewEngine(detector),
		Observer:        observers,
		MaxOutputTokens: cfg.MaxOutputTokens,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resultProducer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaResultTopic)
	defer resultProducer.Close()
	consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaRequestTopic, cfg.KafkaGroupID)
	defer consumer.Close()

	requests := worker.New(gateway, resultProducer, serviceName)
	go func() {
		if err := consumer.Consume(ctx, requests.Handle); err != nil && !errors.Is(err, context.Canceled) {
			logger.Log.WithError(err).Error("request consumer stopped")
		}
	}()

	var tokens *auth.ServiceTokens
	if cfg.AuthSecret != "" {
		tokens, err = auth.NewServiceTokens(cfg.AuthSecret, cfg.AuthIssuer, cfg.AuthAudience, cfg.AuthTokenTTL)
		if err != nil {
			logger.Log.WithError(err).Fatal("invalid service token configuration")
		}
	} else {
		logger.Log.Warn("GATEWAY_AUTH_SECRET not set, running without service authentication")
	}

	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)

	checks := map[string]routes.Check{
		"postgres": database.PingPostgres,
		"provider": func(ctx context.Context) error {
			p, err := registry.Active()
			if err != nil {
				return err
			}
			if !p.Ready(ctx) {
				return fmt.Errorf("provider %s is not ready", p.Name())
			}
			return nil
		},
	}
	routes.NewSystemHandler(checks).Register(router)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.Authenticate(tokens))
	api.Use(middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst))
	api.Use(middleware.BodyLimit(cfg.MaxRequestBody))
	routes.NewGenerationHandler(gateway).Register(api)
	routes.NewProvidersHandler(gateway).Register(api)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Log.WithFields(map[string]interface{}{
			"host":     cfg.ServerHost,
			"port":     cfg.ServerPort,
			"provider": cfg.ActiveProvider,
		}).Info("Privacy gateway started")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.WithError(err).Fatal("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Log.Info("Shutting down privacy gateway...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Log.WithError(err).Error("server forced to shutdown")
	}

	logger.Log.Info("Privacy gateway exited")
}
