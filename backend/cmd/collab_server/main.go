package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"neodocs/backend/config"
	"neodocs/backend/internal/authservice"
	"neodocs/backend/internal/cache"
	"neodocs/backend/internal/collab"
	"neodocs/backend/internal/events"
	"neodocs/backend/internal/httpapi/handlers"
	"neodocs/backend/internal/httpapi/middleware"
	"neodocs/backend/internal/logging"
	"neodocs/backend/internal/store"
	"neodocs/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "init config failed: %v\n", err)
		os.Exit(1)
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("collab server stopped")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := store.Open(cfg.Mysql.DSN, cfg.Mysql.Debug)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer store.Close(db)
	docs := store.NewDocumentStore(db)
	acts := store.NewActivityStore(db)

	var presence cache.PresenceCache
	if len(cfg.Redis.Addrs) > 0 {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Password: cfg.Redis.Password,
		})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Warn().Err(err).Strs("addrs", cfg.Redis.Addrs).Msg("redis unreachable, presence mirror may lag")
		}
		presence = cache.NewRedisPresence(rdb)
	} else {
		log.Info().Msg("no redis configured, presence mirror disabled")
	}

	publisher := events.NewKafkaPublisher(events.KafkaOptions{
		Brokers:         cfg.Kafka.Brokers,
		ClientID:        cfg.Kafka.ClientID,
		OperationsTopic: cfg.Kafka.OperationsTopic,
		EventsTopic:     cfg.Kafka.EventsTopic,
	})
	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := publisher.Connect(connectCtx); err != nil {
		// publishing connects lazily, so a broker outage at boot is not fatal
		log.Warn().Err(err).Strs("brokers", cfg.Kafka.Brokers).Msg("kafka not reachable yet")
	}
	cancel()
	dispatcher := events.NewDispatcher(publisher, events.DispatcherOptions{
		QueueSize:   cfg.Dispatcher.QueueSize,
		Workers:     cfg.Dispatcher.Workers,
		SendTimeout: cfg.Dispatcher.SendTimeout,
	})

	registry := collab.NewRegistry(docs, collab.RegistryOptions{
		IdleTTL:            cfg.Session.IdleTTL,
		PendingOpsCap:      cfg.Session.PendingOpsCap,
		LoadTimeout:        cfg.Session.LoadTimeout,
		MaxConcurrentLoads: cfg.Session.MaxConcurrentLoads,
	})
	hub := ws.NewHub(presence, cfg.Presence.TTL)
	manager := ws.NewManager(ws.NewGateway(registry, hub, dispatcher), cfg.CORS.AllowedOrigins)

	verifier, err := newVerifier(cfg)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           newRouter(cfg, verifier, manager, docs, acts, presence, registry),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return registry.Run(gctx, cfg.Session.SweepInterval) })
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("collab server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := manager.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("websocket connections did not close")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("http shutdown")
		}
		if err := hub.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("presence writes did not drain")
		}
		if err := dispatcher.Close(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("dispatcher did not drain")
		}
		return publisher.Close()
	})
	return g.Wait()
}

func newVerifier(cfg *config.Config) (authservice.Verifier, error) {
	switch cfg.Auth.Mode {
	case config.AuthModeLocal:
		return authservice.NewJWTVerifier(cfg.Auth.Secret), nil
	case config.AuthModeRemote:
		return authservice.NewRemoteVerifier(cfg.Auth.Path, 1200*time.Millisecond), nil
	}
	return nil, fmt.Errorf("unknown auth mode %q", cfg.Auth.Mode)
}

func newRouter(
	cfg *config.Config,
	verifier authservice.Verifier,
	manager *ws.Manager,
	docs *store.DocumentStore,
	acts *store.ActivityStore,
	presence cache.PresenceCache,
	registry *collab.Registry,
) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  allowOrigin(cfg.CORS.AllowedOrigins),
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	r.GET("/collab/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok", "sessions": registry.Len(), "connections": manager.Count()})
	})

	activities := handlers.NewActivityHandler(docs, acts)
	members := handlers.NewPresenceHandler(presence, registry)

	group := r.Group("/collab")
	group.Use(middleware.AuthMiddleware(verifier))
	group.GET("/ws", manager.WebSocketConnect)
	group.GET("/documents/:id/activities", activities.List)
	group.GET("/documents/:id/activity-stats", activities.Stats)
	group.GET("/documents/:id/online", members.Online)
	return r
}

func allowOrigin(allowed []string) func(string) bool {
	return func(origin string) bool {
		if len(allowed) == 0 {
			return true
		}
		for _, p := range allowed {
			if strings.HasPrefix(origin, p) {
				return true
			}
		}
		return false
	}
}
