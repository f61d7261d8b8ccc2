package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/liamcoop/crud/crud"
	"github.com/liamcoop/crud/internal/config"
	"github.com/liamcoop/crud/internal/logger"
	"github.com/liamcoop/crud/internal/metrics"
	"github.com/liamcoop/crud/table"
)

type Server struct {
	cfg      *config.Config
	db       *sql.DB
	redis    *redis.Client
	registry *table.Registry
	router   *chi.Mux
}

// NewServer connects to the configured database and Redis. Either may be
// left unconfigured, in which case resources and flash messages live in memory.
func NewServer(cfg *config.Config) (*Server, error) {
	var db *sql.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.Ping(); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to ping database: %w", err)
		}
	}

	s, err := NewServerWithDB(db, cfg)
	if err != nil && db != nil {
		db.Close()
	}
	return s, err
}

// NewServerWithDB builds the server on an open database handle; db may be nil
func NewServerWithDB(db *sql.DB, cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		db:       db,
		registry: table.NewRegistry(db, table.CacheConfig{TTL: cfg.Cache.TTL.Duration()}),
	}

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		s.redis = redis.NewClient(opts)
		if err := s.redis.Ping(context.Background()).Err(); err != nil {
			s.redis.Close()
			return nil, fmt.Errorf("failed to ping redis: %w", err)
		}
	}

	controllers, err := s.setupResources()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.setupRoutes(controllers)
	return s, nil
}

func (s *Server) setupResources() ([]*crud.Controller, error) {
	var flash crud.FlashStore
	if s.redis != nil {
		flash = crud.NewRedisFlashStore(s.redis, s.cfg.Redis.FlashPrefix, s.cfg.Redis.FlashTTL.Duration())
	} else {
		flash = crud.NewMemoryFlashStore()
	}

	views, err := crud.NewViews()
	if err != nil {
		return nil, fmt.Errorf("failed to load views: %w", err)
	}

	listeners := []crud.Listener{crud.NewAPIListener()}
	if s.cfg.PublicAPI.Enabled {
		opts, err := s.cfg.PublicAPI.NormalizeOptions()
		if err != nil {
			return nil, err
		}
		listeners = append(listeners, crud.NewPublicAPIListener(opts))
	}

	controllers := make([]*crud.Controller, 0, len(s.cfg.Resources))
	for _, r := range s.cfg.Resources {
		t, err := s.registry.Register(r.Schema, r.SeedRecords()...)
		if err != nil {
			return nil, fmt.Errorf("failed to register %s: %w", r.Alias, err)
		}

		validator, err := r.Validator()
		if err != nil {
			return nil, fmt.Errorf("failed to compile rules for %s: %w", r.Alias, err)
		}

		c, err := crud.NewController(t,
			crud.WithValidator(validator),
			crud.WithFlashStore(flash),
			crud.WithViews(views),
			crud.WithListeners(listeners...),
		)
		if err != nil {
			return nil, err
		}
		controllers = append(controllers, c)
	}

	logger.Info("resources loaded", "resources", s.registry.List(), "postgres", s.db != nil, "redis", s.redis != nil)
	return controllers, nil
}

func (s *Server) setupRoutes(controllers []*crud.Controller) {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.RequestLogger)
	r.Use(middleware.Recoverer)
	if timeout := s.cfg.Server.RequestTimeout.Duration(); timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}
	r.Use(middleware.URLFormat)

	r.Get("/health", s.handleHealth)
	r.Get("/resources", s.handleResources)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	crud.Mount(r, controllers...)

	s.router = r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close releases the database and Redis connections
func (s *Server) Close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Resources: len(s.registry.List()),
		Database:  "memory",
		Flash:     "memory",
	}

	if s.db != nil {
		resp.Database = "postgres"
		if err := s.db.PingContext(r.Context()); err != nil {
			respondError(w, http.StatusServiceUnavailable, "database unavailable", err)
			return
		}
	}
	if s.redis != nil {
		resp.Flash = "redis"
		if err := s.redis.Ping(r.Context()).Err(); err != nil {
			respondError(w, http.StatusServiceUnavailable, "redis unavailable", err)
			return
		}
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResources(w http.ResponseWriter, r *http.Request) {
	resp := ResourcesResponse{Resources: []ResourceResponse{}}
	for _, alias := range s.registry.List() {
		t, err := s.registry.Get(alias)
		if err != nil {
			continue
		}
		schema := t.Schema()

		res := ResourceResponse{
			Alias:   schema.Alias,
			Path:    "/" + schema.ViewVarPlural(),
			Columns: schema.Columns,
		}
		for _, a := range schema.Associations {
			res.Associations = append(res.Associations, a.Alias)
		}
		resp.Resources = append(resp.Resources, res)
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to write response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	respondJSON(w, status, resp)
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		logger.Fatal("failed to load config", "error", err)
	}

	level, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Warn("invalid log level", "level", cfg.Logging.Level, "error", err)
	}
	logger.SetLevel(level)
	logger.SetSampleRate(cfg.Logging.SampleRate)

	metrics.Init(nil)

	server, err := NewServer(cfg)
	if err != nil {
		logger.Fatal("failed to create server", "error", err)
	}
	defer server.Close()

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Server.IdleTimeout.Duration(),
	}

	go func() {
		logger.Info("server starting", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed to start", "error", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := logger.Shutdown(ctx); err != nil {
		logger.Error("failed to flush logs", "error", err)
	}

	logger.Info("server stopped")
}
