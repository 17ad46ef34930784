package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"cinechat/internal/chat"
	"cinechat/internal/config"
	"cinechat/internal/db"
	myMiddleware "cinechat/internal/middleware"
	"cinechat/internal/realtime"
	"cinechat/internal/room"
	"cinechat/internal/signaling"
	"cinechat/internal/storage"
	"cinechat/internal/user"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	// 1. Config & Flags
	cfg := config.Load()
	addr := flag.String("addr", cfg.Addr, "http service address")
	flag.Parse()

	logger := newLogger(cfg.AppEnv)
	defer logger.Sync()

	if cfg.DBDSN == "" {
		logger.Fatal("❌ DB_DSN is not set")
	}
	if cfg.JWTSecret == "" {
		logger.Fatal("❌ JWT_SECRET is not set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Database
	database, err := db.NewDatabase(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		logger.Fatal("❌ Failed to connect to DB", zap.String("driver", cfg.DBDriver), zap.Error(err))
	}
	defer database.Close()
	logger.Info("✅ Connected to database", zap.String("driver", cfg.DBDriver))

	models := append([]any{&user.User{}}, chat.Models()...)
	if err := database.AutoMigrate(models...); err != nil {
		logger.Fatal("❌ Migration failed", zap.Error(err))
	}
	logger.Info("✅ Database Schema Initialized")

	// 3. Redis is optional: without it this instance fans out locally
	var (
		bus   realtime.Bus = realtime.NewLocalBus()
		locks chat.Locker  = chat.NewKeyedMutex()
	)
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("❌ Failed to connect to Redis", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		defer redisClient.Close()
		bus = realtime.NewRedisBus(redisClient, cfg.RedisChannel)
		locks = chat.NewRedisLocker(redisClient)
		logger.Info("✅ Connected to Redis", zap.String("channel", cfg.RedisChannel))
	}

	// 4. Users
	userService := user.NewService(user.NewRepository(database.Gorm), cfg.JWTSecret)
	userHandler := user.NewHandler(userService)
	authMiddleware := myMiddleware.NewAuthMiddleware(userService)

	// 5. Realtime core
	hub := realtime.NewHub(bus, logger.Named("hub"))

	chatRepo := chat.NewRepository(database.Gorm)
	resolver := chat.NewResolver(chatRepo, locks, logger.Named("resolver"))
	broadcaster := chat.NewBroadcaster(chatRepo, resolver, hub, logger.Named("chat"))
	chatHandler := chat.NewHandler(chatRepo, resolver, logger.Named("chat"))

	policy, err := room.ParseCollisionPolicy(cfg.RoomCodeCollision)
	if err != nil {
		logger.Fatal("❌ Bad ROOM_CODE_COLLISION", zap.Error(err))
	}
	registry := room.NewRegistry(hub, logger.Named("rooms"), room.Options{
		Collision:   policy,
		IdleTimeout: cfg.RoomIdleTimeout,
	})
	registry.StartHousekeeping(ctx)

	relay := signaling.NewRelay(hub, logger.Named("signal"))
	hub.SetHandler(realtime.NewDispatcher(hub, broadcaster, registry, relay, logger.Named("dispatch")))
	go hub.Run(ctx)

	// 6. Blob storage
	var (
		store     storage.BlobStore
		uploadDir string
	)
	switch cfg.StorageDriver {
	case "s3", "r2":
		store = storage.NewS3Store(storage.S3Config{
			Endpoint:        cfg.R2Endpoint,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretKey,
			Bucket:          cfg.R2Bucket,
			PublicURL:       cfg.R2PublicURL,
		})
		logger.Info("✅ Uploads go to bucket", zap.String("bucket", cfg.R2Bucket))
	default:
		disk := storage.NewDiskStore(cfg.UploadDir, cfg.UploadPublicURL)
		store = disk
		uploadDir = filepath.Join(disk.Root(), "uploads")
		logger.Info("✅ Uploads go to disk", zap.String("dir", uploadDir))
	}
	uploadHandler := storage.NewHandler(store, logger.Named("upload"))

	// 7. Routes
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/register", userHandler.Register)
	r.Post("/login", userHandler.Login)

	// the socket carries ids in its payloads; REST is where auth lives
	r.Get("/ws", hub.ServeWs)

	if uploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(uploadDir))))
	}

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware.Handle)
		r.Get("/api/users", userHandler.ListUsers)
		r.Post("/api/users/change-password", userHandler.ChangePassword)
		r.Get("/api/messages/{peerId}", chatHandler.GetChatHistory)
		r.Post("/api/upload", uploadHandler.Upload)
	})

	srv := &http.Server{Addr: *addr, Handler: r}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("🚀 Server starting", zap.String("addr", *addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("❌ Server failed", zap.Error(err))
	}
	logger.Info("👋 Server stopped")
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
