package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"collab-notes-server/internal/broadcast"
	"collab-notes-server/internal/config"
	"collab-notes-server/internal/handler"
	"collab-notes-server/internal/middleware"
	"collab-notes-server/internal/presence"
	"collab-notes-server/internal/repository"
	"collab-notes-server/internal/service"
	"collab-notes-server/internal/websocket"
	"collab-notes-server/pkg/hash"
	"collab-notes-server/pkg/logger"
	"collab-notes-server/pkg/metrics"

	_ "github.com/go-kivik/kivik/v4/couchdb"

	"github.com/go-kivik/kivik/v4"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

type stores struct {
	notes    repository.NoteRepository
	versions repository.NoteVersionRepository
	users    repository.UserRepository
	close    func(context.Context) error
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	logger.Init(cfg.Logging.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg)
	if err != nil {
		logger.Fatalf("Failed to open %s storage: %v", cfg.Storage.Backend, err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCollectors(reg)

	wsManager := websocket.NewManager(
		cfg.WebSocket.MaxConnPerUser,
		cfg.WebSocket.MaxMessageSize,
		cfg.WebSocket.WriteWait,
		cfg.WebSocket.PongWait,
		cfg.WebSocket.PingPeriod,
	)
	router := broadcast.NewRouter(wsManager)
	registry := presence.NewRegistry()
	wsManager.SetMessageHandler(handler.NewPresenceHandler(wsManager, registry, router))

	managerCtx, stopManager := context.WithCancel(context.Background())
	go wsManager.Run(managerCtx)

	authService := service.NewAuthService(st.users, hash.Bcrypt{Cost: hash.DefaultCost}, service.TokenConfig{
		AccessSecret:  cfg.JWT.Secret,
		AccessTTL:     cfg.JWT.Expiration,
		RefreshSecret: cfg.JWT.RefreshSecret,
		RefreshTTL:    cfg.JWT.RefreshTokenExpiration,
	})
	identityService := service.NewIdentityService(st.users, cfg.JWT.Secret)
	userService := service.NewUserService(st.users)
	noteService := service.NewNoteService(st.notes, st.versions, router)

	var redisClient *redis.Client
	var rateLimit func(http.Handler) http.Handler
	if cfg.RateLimit.Enabled {
		rps := float64(cfg.RateLimit.RequestsPerMinute) / 60
		switch cfg.RateLimit.Backend {
		case config.RateLimitRedis:
			redisClient = redis.NewClient(&redis.Options{
				Addr:     cfg.Redis.Addr,
				Password: cfg.Redis.Password,
				DB:       cfg.Redis.DB,
			})
			if err := redisClient.Ping(ctx).Err(); err != nil {
				logger.Fatalf("Failed to connect to Redis at %s: %v", cfg.Redis.Addr, err)
			}
			rateLimit = middleware.RedisRateLimitMiddleware(redisClient, rps, cfg.RateLimit.Burst, cfg.RateLimit.Window)
		default:
			rateLimit = middleware.RateLimitMiddleware(rps, cfg.RateLimit.Burst)
		}
	}

	r := handler.NewRouter(handler.Routes{
		Auth:      handler.NewAuthHandler(authService),
		User:      handler.NewUserHandler(userService),
		Note:      handler.NewNoteHandler(noteService),
		WebSocket: handler.NewWebSocketHandler(wsManager, identityService, handler.WebSocketOptions{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
		}),
		Resolver:  identityService,
		Middleware: []mux.MiddlewareFunc{
			middleware.LoggerMiddleware(),
			middleware.CORSMiddleware(cfg.CORS.AllowedOrigins, cfg.CORS.AllowedMethods, cfg.CORS.AllowedHeaders),
		},
		RateLimit: rateLimit,
		Metrics:   promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	})

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Infof("Starting collab notes server on %s (env: %s, storage: %s)", addr, cfg.Server.Env, cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	stopManager()
	<-wsManager.Done()

	if redisClient != nil {
		redisClient.Close()
	}
	if err := st.close(shutdownCtx); err != nil {
		logger.Errorf("Failed to close storage: %v", err)
	}

	logger.Infof("Server stopped gracefully")
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.Storage.Backend {
	case config.StorageMemory:
		logger.Warnf("Using in-memory storage; data is lost on restart")
		return &stores{
			notes:    repository.NewMemoryNoteRepository(),
			versions: repository.NewMemoryNoteVersionRepository(),
			users:    repository.NewMemoryUserRepository(),
			close:    func(context.Context) error { return nil },
		}, nil

	case config.StorageMongo:
		client, err := repository.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.ConnectTimeout)
		if err != nil {
			return nil, err
		}
		db := client.Database(cfg.Mongo.Database)
		notes, err := repository.NewMongoNoteRepository(ctx, db)
		if err != nil {
			return nil, err
		}
		versions, err := repository.NewMongoNoteVersionRepository(ctx, db)
		if err != nil {
			return nil, err
		}
		users, err := repository.NewMongoUserRepository(ctx, db)
		if err != nil {
			return nil, err
		}
		logger.Infof("Connected to MongoDB database %s", cfg.Mongo.Database)
		return &stores{notes: notes, versions: versions, users: users, close: client.Disconnect}, nil

	default:
		client, err := kivik.New("couch", cfg.Database.URL())
		if err != nil {
			return nil, fmt.Errorf("connect to CouchDB: %w", err)
		}

		exists, err := client.DBExists(ctx, cfg.Database.Name)
		if err != nil {
			return nil, fmt.Errorf("check database existence: %w", err)
		}
		if !exists {
			if err := client.CreateDB(ctx, cfg.Database.Name); err != nil {
				return nil, fmt.Errorf("create database: %w", err)
			}
			logger.Infof("Created database: %s", cfg.Database.Name)
		}

		logger.Infof("Connected to CouchDB at %s:%s", cfg.Database.Host, cfg.Database.Port)
		return &stores{
			notes:    repository.NewNoteRepository(client, cfg.Database.Name),
			versions: repository.NewNoteVersionRepository(client, cfg.Database.Name),
			users:    repository.NewUserRepository(client, cfg.Database.Name),
			close:    func(context.Context) error { return client.Close() },
		}, nil
	}
}
