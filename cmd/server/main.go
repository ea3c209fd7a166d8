package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"forumchat/internal/cache"
	"forumchat/internal/config"
	"forumchat/internal/domain"
	"forumchat/internal/events"
	"forumchat/internal/httpserver"
	"forumchat/internal/notify"
	"forumchat/internal/provisioning"
	"forumchat/internal/queue"
	"forumchat/internal/security"
	"forumchat/internal/service"
	"forumchat/internal/store/postgres"
	"forumchat/internal/store/sqlite"
	"forumchat/internal/ws"
)

type repositories struct {
	directory    domain.DirectoryRepository
	rooms        domain.RoomRepository
	participants domain.ParticipantRepository
	messages     domain.MessageRepository
	threads      domain.ThreadRepository
}

// openStore opens and migrates the configured database.
func openStore(cfg *config.Config) (*sql.DB, repositories, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err := sqlite.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			directory:    sqlite.NewDirectoryRepo(db),
			rooms:        sqlite.NewRoomRepo(db),
			participants: sqlite.NewParticipantRepo(db),
			messages:     sqlite.NewMessageRepo(db),
			threads:      sqlite.NewThreadRepo(db),
		}, nil
	default:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, repositories{}, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, err
		}
		return db, repositories{
			directory:    postgres.NewDirectoryRepo(db),
			rooms:        postgres.NewRoomRepo(db),
			participants: postgres.NewParticipantRepo(db),
			messages:     postgres.NewMessageRepo(db),
			threads:      postgres.NewThreadRepo(db),
		}, nil
	}
}

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, repos, err := openStore(cfg)
	if err != nil {
		log.Fatalf("failed to open %s database: %v", cfg.DatabaseDriver, err)
	}
	defer db.Close()

	// Redis backs the permission cache and the queues. Without it the
	// service runs standalone: no cache, no event consumer, no notifications.
	var (
		perms    *cache.Permissions
		sink     notify.Sink = notify.NopSink{}
		consumer *queue.AsynqServer
		ready    = []func(context.Context) error{db.PingContext}
	)
	if cfg.RedisURL != "" {
		rc, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		defer rc.Close()
		perms = cache.NewPermissions(rc, cfg.PermissionCacheTTL)
		ready = append(ready, rc.Ping)

		client, err := queue.NewAsynqClient(cfg.RedisURL)
		if err != nil {
			log.Fatalf("failed to create queue client: %v", err)
		}
		defer client.Close()
		sink = notify.NewQueueSink(client, cfg.NotifyQueue, cfg.NotifyMaxRetry)

		queues, err := events.ConsumerQueues(cfg.NotifyQueue)
		if err != nil {
			log.Fatalf("invalid queue config: %v", err)
		}
		consumer, err = queue.NewAsynqServer(cfg.RedisURL, cfg.AsynqConcurrency, queues)
		if err != nil {
			log.Fatalf("failed to create queue server: %v", err)
		}
	} else {
		log.Println("REDIS_URL not set; permission cache, event consumer and notifications disabled")
	}

	// Services
	tokenSvc := security.NewTokenService(cfg.JWTSecret, cfg.AccessTokenTTL())
	hub := ws.NewHub()
	identities := service.NewIdentityService(tokenSvc, repos.directory)
	accessSvc := service.NewAccessService(repos.directory, repos.rooms, repos.participants)
	roomSvc := service.NewRoomService(repos.directory, repos.rooms, repos.participants, accessSvc, perms, hub)
	msgSvc := service.NewMessageService(repos.directory, repos.rooms, repos.participants, repos.messages, repos.threads,
		accessSvc, hub, sink, cfg.MaxMessageLength, cfg.MaxPageSize)
	threadSvc := service.NewThreadService(repos.threads, accessSvc, hub)

	gateway := ws.NewHandler(hub, identities, accessSvc, msgSvc, ws.Options{
		HistoryLimit:    cfg.HistoryLimit,
		SendQueue:       cfg.SendQueueSize,
		MaxMalformed:    cfg.MaxMalformed,
		RecheckInterval: cfg.RecheckInterval,
		AllowedOrigins:  cfg.CORSOrigins,
	})

	// Build HTTP router
	router := httpserver.NewRouter(httpserver.Deps{
		AppName:     cfg.AppName,
		CORSOrigins: cfg.CORSOrigins,
		Identities:  identities,
		Rooms:       roomSvc,
		Messages:    msgSvc,
		Threads:     threadSvc,
		Gateway:     gateway,
		Ready: func(ctx context.Context) error {
			for _, check := range ready {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})

	// WriteTimeout stays zero: websocket sessions outlive any fixed deadline.
	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	var wg sync.WaitGroup

	if consumer != nil {
		engine := provisioning.NewEngine(repos.directory, repos.rooms, repos.participants, perms)
		events.Register(consumer, engine)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				log.Printf("event consumer stopped: %v", err)
				stop()
			}
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		service.NewRetentionSweeper(repos.rooms, repos.messages, cfg.RetentionInterval).Run(ctx)
	}()

	// Start server in background
	go func() {
		log.Printf("Starting %s on %s (%s store)", cfg.AppName, cfg.HTTPAddr(), cfg.DatabaseDriver)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("server error: %v", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
	wg.Wait()
}
