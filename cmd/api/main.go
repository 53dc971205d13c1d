package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"card-match-api/internal/cache"
	"card-match-api/internal/config"
	"card-match-api/internal/database"
	"card-match-api/internal/events"
	"card-match-api/internal/features"
	"card-match-api/internal/handler"
	"card-match-api/internal/middleware"
	"card-match-api/internal/ranking"
	"card-match-api/internal/service"
	tlsconfig "card-match-api/internal/tls"
	"card-match-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "Optional JSON config file path")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// Initialize tracing
	if _, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: "card-match-api",
		Environment: cfg.Tracing.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer tracing.Shutdown(context.Background())

	// Initialize database
	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Initialize cache: Redis when configured, in-memory otherwise
	var c cache.Cache
	if cfg.Redis.Addr != "" {
		redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer redisCache.Close()
		c = redisCache
	} else {
		c = cache.NewInMemoryCache()
	}

	// Initialize event manager and feature flags
	ev := events.NewManager(true)
	defer ev.Shutdown()

	flags := features.NewManager()
	flags.Register(features.FeatureCacheEnabled, true, "Cache recommendation results")
	flags.Register(features.FeatureMatchingEnabled, true, "Card matching endpoint")
	flags.Register(features.FeatureRecommendationsEnabled, true, "Recommendation endpoint")
	flags.Register(features.FeatureSuccessPrediction, true, "Owner success-rate prediction")
	defer flags.Shutdown()

	// Initialize service and handlers
	svc := service.NewService(db, c, ev, flags, ranking.New(nil))
	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
	})

	// Initialize rate limiter
	rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
	defer rateLimiter.Stop()

	// Setup router
	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)

	if cfg.RateLimit.Enabled {
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	if cfg.Tracing.Enabled {
		r.Use(middleware.TracingMiddleware())
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.Security.AllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Routes
	r.Route("/cards", func(r chi.Router) {
		r.Post("/", h.CreateCard)
		r.Get("/{card_id}", h.GetCard)
	})

	r.Route("/transactions", func(r chi.Router) {
		r.Post("/", h.CreateTransaction)
		r.Get("/", h.ListTransactions)
		r.Get("/{transaction_id}", h.GetTransaction)
		r.Put("/{transaction_id}/respond", h.RespondToTransaction)
		r.Put("/{transaction_id}/complete", h.CompleteTransaction)
	})

	r.Route("/ai", func(r chi.Router) {
		r.Post("/match-cards", h.MatchCards)
		r.Get("/recommendations", h.GetRecommendations)
		r.Get("/predict-success/{owner_id}", h.PredictSuccess)
	})

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Configure TLS if enabled
	var tlsConfig *tls.Config
	if cfg.Server.EnableTLS {
		tlsConfig, err = tlsconfig.LoadTLSConfig(tlsconfig.Config{
			CertFile: cfg.Server.CertFile,
			KeyFile:  cfg.Server.KeyFile,
		})
		if err != nil {
			log.Fatalf("Failed to load TLS configuration: %v", err)
		}

		if cfg.Server.CertFile == "" || cfg.Server.KeyFile == "" {
			log.Println("WARNING: No certificate files provided, using self-signed certificate for development")
		}
	}

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	protocol := "HTTP"
	if cfg.Server.EnableTLS {
		protocol = "HTTPS"
	}
	log.Printf("Starting %s server on %s", protocol, addr)
	log.Printf("Database: %s", cfg.Database.Path)
	log.Printf("Rate limit: %d requests per %d seconds", cfg.RateLimit.Rate, cfg.RateLimit.Window)

	server := &http.Server{
		Addr:      addr,
		Handler:   r,
		TLSConfig: tlsConfig,
	}

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down server...")
		if err := server.Close(); err != nil {
			log.Printf("Error closing server: %v", err)
		}
	}()

	if cfg.Server.EnableTLS {
		if cfg.Server.CertFile != "" && cfg.Server.KeyFile != "" {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			var listener net.Listener
			listener, err = tls.Listen("tcp", addr, tlsConfig)
			if err != nil {
				log.Fatalf("Failed to create TLS listener: %v", err)
			}
			err = server.Serve(listener)
		}
	} else {
		err = server.ListenAndServe()
	}

	if err != nil && err != http.ErrServerClosed {
		log.Fatalf("Server failed: %v", err)
	}
}
