package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/kaec/docauthority/internal/authority"
	"github.com/kaec/docauthority/internal/catalog"
	"github.com/kaec/docauthority/internal/document"
	"github.com/kaec/docauthority/internal/flow"
	"github.com/kaec/docauthority/internal/notification"
	"github.com/kaec/docauthority/internal/shared/auth"
	"github.com/kaec/docauthority/internal/shared/config"
	"github.com/kaec/docauthority/internal/shared/database"
	"github.com/kaec/docauthority/internal/shared/events"
	"github.com/kaec/docauthority/internal/shared/metrics"
	secmiddleware "github.com/kaec/docauthority/internal/shared/middleware"
	"github.com/kaec/docauthority/internal/sicar"
	"github.com/kaec/docauthority/internal/store"
	"github.com/kaec/docauthority/internal/tsa"
)

// App holds all application dependencies
type App struct {
	Config *config.Config
	DB     *database.DB
	Redis  *store.RedisStore
	Bus    *events.Bus
	Flows  store.FlowStore
	Seals  *tsa.Server
}

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	app := &App{Config: cfg}

	if err := app.openStore(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to open %s store: %v\n", cfg.Store.Backend, err)
		os.Exit(1)
	}
	if app.DB != nil {
		defer app.DB.Close()
	}

	// Event bus is optional; flows still work without it
	var publisher events.Publisher
	if cfg.KurrentDB.Enabled {
		bus, err := events.NewBus(ctx, cfg.KurrentDB)
		if err != nil {
			fmt.Printf("Warning: KurrentDB not available: %v\n", err)
			fmt.Println("Running without event streaming...")
		} else {
			app.Bus = bus
			publisher = bus
			defer bus.Close()
			fmt.Println("KurrentDB Event Bus initialized")
		}
	}

	if cfg.TSA.Enabled {
		seals, err := tsa.NewServerWithGeneratedCert(cfg.TSA.OrgName)
		if err != nil {
			fmt.Printf("Warning: TSA initialization failed: %v\n", err)
		} else {
			app.Seals = seals
			fmt.Println("Certificate sealing enabled")
		}
	}

	sender, err := notification.NewSender(cfg.Mail.Provider)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create mail sender: %v\n", err)
		os.Exit(1)
	}
	mail := notification.NewService(sender)

	svc := authority.NewService(document.NewCodec(catalog.Default()), authority.Config{
		BaseURL:      cfg.Authority.BaseURL,
		ShortHashLen: cfg.Authority.ShortHashLen,
	})

	limiter := secmiddleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	pruneCtx, stopPrune := context.WithCancel(ctx)
	defer stopPrune()
	go pruneVisitors(pruneCtx, limiter, 5*time.Minute)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(corsMiddleware)

	r.Get("/health", healthHandler)
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(secmiddleware.MaxBody(1 << 20))
		r.Use(auth.Middleware(cfg.Auth))

		flowHandler := flow.NewHandler(store.NewWriter(app.Flows), svc, sicar.NewEngine(), flow.Options{
			Seals:    app.Seals,
			Bus:      publisher,
			Vertical: catalog.Vertical(cfg.Authority.Vertical),
		})
		r.Mount("/flows", flowHandler.Routes())

		authorityHandler := authority.NewHandler(svc, app.Flows, mail, limiter, publisher)
		r.Mount("/authority", authorityHandler.Routes())
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		fmt.Println("\nShutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			fmt.Printf("Server shutdown error: %v\n", err)
		}
		close(done)
	}()

	fmt.Println("============================================")
	fmt.Println("KAEC Document Authority")
	fmt.Println("============================================")
	fmt.Printf("Environment:    %s\n", cfg.Server.Env)
	fmt.Printf("Server:         http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("API:            http://localhost:%d/api/v1\n", cfg.Server.Port)
	fmt.Printf("Health:         http://localhost:%d/health\n", cfg.Server.Port)
	fmt.Printf("Store:          %s\n", cfg.Store.Backend)
	fmt.Printf("Vertical:       %s\n", cfg.Authority.Vertical)
	fmt.Printf("Sealing:        %v\n", app.Seals != nil)
	fmt.Printf("Mail provider:  %s\n", sender.Name())
	if app.Bus != nil {
		fmt.Printf("KurrentDB:      %s:%d\n", cfg.KurrentDB.Host, cfg.KurrentDB.Port)
	}
	fmt.Println("============================================")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}

	<-done
	fmt.Println("Server stopped")
}

// openStore connects the configured flow backend
func (app *App) openStore(ctx context.Context) error {
	cfg := app.Config
	switch cfg.Store.Backend {
	case "postgres":
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return err
		}
		if err := database.Migrate(ctx, db.Pool); err != nil {
			db.Close()
			return fmt.Errorf("migrate: %w", err)
		}
		app.DB = db
		app.Flows = store.NewPostgresStore(db.Pool)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		rs := store.NewRedisStore(client, cfg.Redis.TTL)
		if err := rs.Health(ctx); err != nil {
			client.Close()
			return err
		}
		app.Redis = rs
		app.Flows = rs
	default:
		app.Flows = store.NewMemoryStore()
	}
	return nil
}

func pruneVisitors(ctx context.Context, limiter *secmiddleware.IPRateLimiter, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Prune()
		}
	}
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "KAEC Document Authority",
		"version": "0.1.0",
		"docs":    "/api/v1",
	})
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "healthy",
	})
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		check := func(name string, configured bool, probe func() error) {
			if !configured {
				checks[name] = "not configured"
				return
			}
			if err := probe(); err != nil {
				checks[name] = "not ready: " + err.Error()
				return
			}
			checks[name] = "ready"
		}

		check("database", app.DB != nil, func() error { return app.DB.Health(r.Context()) })
		check("redis", app.Redis != nil, func() error { return app.Redis.Health(r.Context()) })
		check("kurrentdb", app.Bus != nil, func() error { return app.Bus.Health() })

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-Request-ID, X-Actor-Role")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
