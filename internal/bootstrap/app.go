package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	httpHandler "github.com/nuhaa333/chat-app/internal/handler/http"
	wsHandler "github.com/nuhaa333/chat-app/internal/handler/websocket"
	"github.com/nuhaa333/chat-app/internal/fanout"
	"github.com/nuhaa333/chat-app/internal/hub"
	"github.com/nuhaa333/chat-app/internal/infra/media"
	gormpersistence "github.com/nuhaa333/chat-app/internal/infra/persistence/gorm"
	"github.com/nuhaa333/chat-app/internal/infra/setup"
	redisstate "github.com/nuhaa333/chat-app/internal/infra/state/redis"
	"github.com/nuhaa333/chat-app/internal/middleware"
	"github.com/nuhaa333/chat-app/internal/service"
	"github.com/nuhaa333/chat-app/internal/tasks"
	"github.com/nuhaa333/chat-app/internal/worker"
)

// App holds every long-lived component of the server.
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	AsynqClient *asynq.Client
	AsynqServer *worker.WorkerServer
	Scheduler   *asynq.Scheduler
	Broker      *fanout.Broker
	Relay       *redisstate.Relay
	Hub         *hub.Hub
	Presence    *service.PresenceService
	Typing      *service.TypingService
	HttpServer  *http.Server

	relayCancel context.CancelFunc
	relayDone   chan struct{}
}

// NewLogger builds the application logger for cfg.
func NewLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)

	// Packages log through the standard logger.
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(level)
	logrus.SetOutput(os.Stdout)
	return log
}

// NewApp creates and wires every component.
func NewApp() (*App, error) {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, err
	}

	log := NewLogger(cfg)
	log.Infof("Logger initialized (Level: %s)", log.GetLevel().String())

	log.Info("Initializing infrastructure...")
	db, err := setup.InitDB(setup.DBConfig{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		Name:     cfg.DBName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init DB: %w", err)
	}
	if err := setup.MigrateDB(db); err != nil {
		return nil, fmt.Errorf("failed to migrate DB: %w", err)
	}

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}

	redisClientOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	asynqClient := asynq.NewClient(redisClientOpt)

	uploader, err := newUploader(cfg)
	if err != nil {
		_ = redisClient.Close()
		return nil, fmt.Errorf("failed to init uploader: %w", err)
	}
	log.Info("Infrastructure initialized successfully")

	userRepo := gormpersistence.NewGormUserRepository(db)
	roomRepo := gormpersistence.NewGormRoomRepository(db)
	messageRepo := gormpersistence.NewGormMessageRepository(db)
	presenceRepo := redisstate.NewRedisPresenceRepository(redisClient, cfg.KeyPrefix)
	typingRepo := redisstate.NewRedisTypingRepository(redisClient, cfg.KeyPrefix, cfg.TypingTTL)
	rateLimiter := redisstate.NewRedisRateLimiter(redisClient, cfg.KeyPrefix)

	broker := fanout.NewBroker(0)
	relay := redisstate.NewRelay(redisClient, cfg.KeyPrefix, broker)
	clock := clockwork.NewRealClock()

	authService, err := service.NewAuthService(userRepo, cfg.JWTSecret, cfg.JWTExpiryHours)
	if err != nil {
		return nil, fmt.Errorf("failed to create AuthService: %w", err)
	}
	uploadService := service.NewUploadService(uploader)
	roomService := service.NewRoomService(roomRepo, messageRepo, userRepo, relay,
		service.WithTypingStore(typingRepo),
		service.WithTaskEnqueuer(asynqClient),
	)
	messageService := service.NewMessageService(messageRepo, roomService, relay, broker, uploadService)
	presenceService := service.NewPresenceService(presenceRepo, userRepo, relay, broker, clock, cfg.PresenceGrace)
	typingService := service.NewTypingService(typingRepo, roomService, relay, broker, clock, cfg.TypingDebounce, service.WithTypingTTL(cfg.TypingTTL))
	log.Info("Services initialized")

	hubInstance := hub.NewHub(messageService, typingService, presenceService, hub.WithPingPeriod(cfg.WSPingPeriod))

	authHandler := httpHandler.NewAuthHandler(authService)
	roomHandler := httpHandler.NewRoomHandler(roomService)
	messageHandler := httpHandler.NewMessageHandler(messageService)
	presenceHandler := httpHandler.NewPresenceHandler(presenceService)
	uploadHandler := httpHandler.NewUploadHandler(uploadService)
	websocketHandler := wsHandler.NewWebSocketHandler(hubInstance, authService, presenceService, cfg.CORSAllowedOrigin)

	workerServer := worker.NewWorkerServer(redisClientOpt, roomService, presenceService, log, cfg.WorkerConcurrency)
	scheduler := asynq.NewScheduler(redisClientOpt, &asynq.SchedulerOpts{Location: time.UTC})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS(cfg.CORSAllowedOrigin))

	rateLimit := middleware.RateLimit(rateLimiter, cfg.RateLimitMax, cfg.RateLimitWindow)
	requireAuth := middleware.Auth(authService)

	api := router.Group("/api")
	authRoutes := api.Group("/auth").Use(rateLimit)
	{
		authRoutes.POST("/register", authHandler.Register)
		authRoutes.POST("/login", authHandler.Login)
	}
	protected := api.Group("").Use(requireAuth, rateLimit)
	{
		protected.GET("/me", authHandler.Me)
		protected.PATCH("/me", authHandler.UpdateMe)

		protected.POST("/rooms/private", roomHandler.CreatePrivate)
		protected.POST("/rooms/groups", roomHandler.CreateGroup)
		protected.GET("/rooms", roomHandler.List)
		protected.GET("/rooms/:id", roomHandler.Get)
		protected.POST("/rooms/:id/members", roomHandler.AddMembers)
		protected.DELETE("/rooms/:id", roomHandler.Delete)

		protected.GET("/rooms/:id/messages", messageHandler.History)
		protected.POST("/rooms/:id/messages", messageHandler.Send)
		protected.POST("/rooms/:id/read", messageHandler.MarkRoomRead)
		protected.GET("/rooms/:id/unread", messageHandler.Unread)
		protected.POST("/messages/:id/read", messageHandler.MarkRead)
		protected.GET("/search/messages", messageHandler.Search)

		protected.GET("/users/:id/presence", presenceHandler.Get)
		protected.POST("/uploads", uploadHandler.Upload)
	}
	router.GET("/ws", requireAuth, websocketHandler.HandleConnection)
	if cfg.UploadDriver == "local" && strings.HasPrefix(cfg.UploadBaseURL, "/") {
		router.Static(cfg.UploadBaseURL, cfg.UploadDir)
	}
	router.GET("/ping", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"message": "pong"}) })
	log.Info("Router setup complete")

	httpServer := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return &App{
		Config:      cfg,
		Log:         log,
		DB:          db,
		RedisClient: redisClient,
		AsynqClient: asynqClient,
		AsynqServer: workerServer,
		Scheduler:   scheduler,
		Broker:      broker,
		Relay:       relay,
		Hub:         hubInstance,
		Presence:    presenceService,
		Typing:      typingService,
		HttpServer:  httpServer,
	}, nil
}

func newUploader(cfg *Config) (service.MediaUploader, error) {
	if cfg.UploadDriver == "cloudinary" {
		return media.NewCloudinaryUploader(cfg.CloudinaryCloudName, cfg.CloudinaryUploadPreset)
	}
	return media.NewLocalUploader(cfg.UploadDir, cfg.UploadBaseURL)
}

// Start launches the background routines and the HTTP server.
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")

	relayCtx, cancel := context.WithCancel(context.Background())
	a.relayCancel = cancel
	a.relayDone = make(chan struct{})
	go func() {
		defer close(a.relayDone)
		if err := a.Relay.Run(relayCtx); err != nil && !errors.Is(err, context.Canceled) {
			a.Log.Errorf("Fan-out relay stopped: %v", err)
		}
	}()

	go a.Hub.Run()
	go a.AsynqServer.Start()
	a.registerPeriodicTasks()

	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) registerPeriodicTasks() {
	schedule := fmt.Sprintf("@every %s", a.Config.PresenceSweep)
	entryID, err := a.Scheduler.Register(schedule, tasks.NewPresenceSweepTask(), asynq.Queue(tasks.QueueLow))
	if err != nil {
		a.Log.Errorf("Could not register periodic presence sweep task: %v", err)
		return
	}
	a.Log.Infof("Periodic presence sweep registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	if err := a.Scheduler.Start(); err != nil {
		a.Log.Errorf("Asynq scheduler failed to start: %v", err)
		return
	}
	a.Log.Info("Asynq scheduler started")
}

// Shutdown stops accepting work, then closes components in reverse order of creation.
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.Log.Info("Shutting down HTTP server...")
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	}

	if a.Hub != nil {
		a.Hub.Shutdown()
	}
	if a.Typing != nil {
		a.Typing.Close()
	}
	if a.Presence != nil {
		a.Presence.Shutdown(ctx)
	}

	if a.Scheduler != nil {
		a.Scheduler.Shutdown()
	}
	if a.AsynqServer != nil {
		a.AsynqServer.Shutdown()
	}

	if a.relayCancel != nil {
		a.relayCancel()
		if err := a.Relay.Close(); err != nil {
			a.Log.Errorf("Error closing fan-out relay: %v", err)
		}
		select {
		case <-a.relayDone:
		case <-ctx.Done():
			a.Log.Warn("Timed out waiting for fan-out relay to stop")
		}
	}
	if a.Broker != nil {
		a.Broker.Close()
	}

	if a.AsynqClient != nil {
		if err := a.AsynqClient.Close(); err != nil {
			a.Log.Errorf("Error closing Asynq client: %v", err)
		}
	}
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			}
		}
	}
	a.Log.Info("Application shutdown complete.")
}
