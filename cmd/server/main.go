package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/marianar97/maggie-web-api-endpoint/internal/config"
	"github.com/marianar97/maggie-web-api-endpoint/internal/database"
	"github.com/marianar97/maggie-web-api-endpoint/internal/handlers"
	"github.com/marianar97/maggie-web-api-endpoint/internal/jobs"
	"github.com/marianar97/maggie-web-api-endpoint/internal/logging"
	"github.com/marianar97/maggie-web-api-endpoint/internal/middleware"
	"github.com/marianar97/maggie-web-api-endpoint/internal/preflight"
	"github.com/marianar97/maggie-web-api-endpoint/internal/services"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	// Load .env file (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Printf("⚠️  No .env file found or error loading it: %v", err)
	} else {
		log.Println("✅ .env file loaded successfully")
	}

	// Initialize structured logging (JSON in production, text in dev)
	logging.Init()

	log.Println("🚀 Starting Maggie API...")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Invalid configuration: %v", err)
	}
	log.Printf("📋 Configuration loaded (Port: %s, Store: %s, Search: %s, Email: %s)",
		cfg.Port, cfg.StoreBackend, cfg.SearchProvider, cfg.EmailProvider)

	metrics := services.InitMetrics()

	// Redis is optional: shared limiter counters, and the store when STORE_BACKEND=redis
	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(cfg.RedisURL)
		if err != nil {
			log.Printf("⚠️  Redis unavailable, rate limits stay in memory: %v", err)
		} else {
			redisClient = client
			defer redisClient.Close()
		}
	}

	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 30*time.Second)
	store, err := database.Open(startupCtx, cfg, redisClient)
	if err != nil {
		log.Fatalf("❌ Failed to open %s store: %v", cfg.StoreBackend, err)
	}

	checker := preflight.NewChecker(store, cfg)
	results := checker.RunAll(startupCtx)
	cancelStartup()
	if preflight.HasFailures(results) {
		log.Fatal("❌ Pre-flight checks failed, refusing to start")
	}

	// Agent profile (hot-reloaded when AGENT_PROFILE_PATH is set)
	profiles, err := services.NewAgentProfileStore(cfg.AgentProfilePath)
	if err != nil {
		log.Fatalf("❌ Failed to load agent profile: %v", err)
	}
	watchCtx, stopWatch := context.WithCancel(context.Background())
	defer stopWatch()
	go profiles.Watch(watchCtx)

	// Services
	repo := services.NewSessionRepository(store, metrics)
	fetcher := services.NewResourceFetcher(buildSearcher(cfg, metrics), repo, metrics)
	calls := services.NewUltravoxClient(cfg.UltravoxAPIKey, cfg.UltravoxAPIURL, cfg.PublicBaseURL, profiles, metrics)
	emails := services.NewEmailService(buildEmailSender(cfg), metrics)
	waitlist := services.NewWaitlistService(store)

	// Store probe job
	probe := jobs.NewStoreProbe(store, metrics)
	jobScheduler, err := jobs.NewJobScheduler()
	if err != nil {
		log.Fatalf("❌ Failed to create job scheduler: %v", err)
	}
	if err := jobScheduler.Register("store-probe", cfg.StoreProbeSchedule, probe); err != nil {
		log.Fatalf("❌ Failed to register store probe: %v", err)
	}
	if err := jobScheduler.RunNow("store-probe"); err != nil {
		log.Printf("⚠️  Initial store probe failed: %v", err)
	}
	jobScheduler.Start()

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		AppName:      "Maggie API",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
		BodyLimit:    1 * 1024 * 1024,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())

	// Prometheus metrics middleware
	prometheus := fiberprometheus.New("maggie")
	prometheus.RegisterAt(app, "/metrics")
	app.Use(prometheus.Middleware)
	log.Println("📊 Prometheus metrics endpoint enabled at /metrics")

	// Fiber's CORS middleware does not allow AllowCredentials with wildcard origins
	allowCredentials := cfg.AllowedOrigins != "*"
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     "GET,POST,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept",
		AllowCredentials: allowCredentials,
	}))
	log.Printf("🔒 [SECURITY] CORS allowed origins: %s", cfg.AllowedOrigins)

	var limiterStorage fiber.Storage
	if redisClient != nil {
		limiterStorage = middleware.NewRedisStorage(redisClient, "maggie:ratelimit:")
	}
	rateLimitConfig := middleware.LoadRateLimitConfig(cfg, limiterStorage)
	log.Printf("🛡️  [RATE-LIMIT] Loaded config: ToolCalls=%d/min per session, Public=%d/min per IP",
		rateLimitConfig.ToolCallMax, rateLimitConfig.PublicReadMax)

	routes := &handlers.Routes{
		Health:          handlers.NewHealthHandler(store, probe, cfg.StoreBackend),
		Sessions:        handlers.NewSessionHandler(repo),
		Summaries:       handlers.NewSummaryHandler(repo),
		Resources:       handlers.NewResourceHandler(repo, fetcher),
		Calls:           handlers.NewCallHandler(calls),
		Emails:          handlers.NewEmailHandler(emails),
		Waitlist:        handlers.NewWaitlistHandler(waitlist),
		ToolCallLimiter: middleware.ToolCallRateLimiter(rateLimitConfig),
		ReadLimiter:     middleware.PublicReadRateLimiter(rateLimitConfig),
	}
	routes.Mount(app)

	// Handle graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("🛑 Shutting down server...")

		jobScheduler.Stop()
		stopWatch()

		// Let background resource fetches finish (30s max)
		fetcher.Drain(30 * time.Second)

		if err := app.Shutdown(); err != nil {
			log.Printf("⚠️ Error shutting down server: %v", err)
		}
	}()

	log.Printf("✅ Listening on :%s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("❌ Server stopped: %v", err)
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.Close(closeCtx); err != nil {
		log.Printf("⚠️ Error closing store: %v", err)
	}
	log.Println("👋 Server stopped")
}

// buildSearcher returns the configured search provider behind the result cache
func buildSearcher(cfg *config.Config, metrics *services.Metrics) services.Searcher {
	var searcher services.Searcher
	switch cfg.SearchProvider {
	case "searxng":
		searcher = services.NewSearXNGClient(cfg.SearXNGURL, cfg.SearchNumResults, services.NewPageExtractor(), metrics)
		log.Printf("🔍 Resource search: SearXNG at %s", cfg.SearXNGURL)
	default:
		searcher = services.NewExaClient(cfg.ExaAPIKey, cfg.ExaAPIURL, cfg.SearchNumResults, metrics)
		log.Println("🔍 Resource search: Exa")
	}
	return services.NewCachedSearcher(searcher, 0)
}

// buildEmailSender returns the configured email provider
func buildEmailSender(cfg *config.Config) services.EmailSender {
	switch cfg.EmailProvider {
	case "brevo":
		return services.NewBrevoSender(cfg.BrevoAPIKey, "", cfg.EmailAddress)
	default:
		return services.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.EmailAddress, cfg.EmailPassword)
	}
}
