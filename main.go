package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"stockledger/server/internal/api"
	"stockledger/server/internal/config"
	"stockledger/server/internal/database"
	"stockledger/server/internal/events"
	"stockledger/server/internal/ledger"
	"stockledger/server/internal/models"
	"stockledger/server/internal/services"
	"stockledger/server/internal/utils"
)

const wsConsumerGroup = "stock-ledger-ws"

func main() {
	// .env не обязателен (production берет переменные окружения)
	envErr := godotenv.Load()

	cfg := config.Load()
	log := config.NewLogger(cfg)
	if envErr != nil {
		log.Info("ℹ️ .env файл не найден, используем переменные окружения системы")
	} else {
		log.Info("✅ Переменные окружения загружены из .env файла")
	}
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	log.Infof("📋 DATABASE_URL: %s", maskDatabaseURL(cfg.DatabaseURL))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore := openStore(cfg, log)
	defer closeStore()

	// Redis: кеш рецептов и блокировка фоновой сверки
	var redisUtil *utils.RedisClient
	var locker *redislock.Client
	if cfg.RedisURL != "" || len(cfg.RedisSentinelAddrs) > 0 {
		redisClient, err := database.ConnectRedis(cfg.RedisURL, cfg.RedisSentinelAddrs, cfg.RedisMasterName, log)
		if err != nil {
			log.Warnf("⚠️ Redis недоступен: %v (работаем без кеша)", err)
		} else {
			defer database.CloseRedis(redisClient)
			redisUtil = utils.NewRedisClient(redisClient)
			locker = redislock.New(redisClient)
		}
	}

	hub := api.NewHub(log)
	go hub.Run(ctx)

	publisher, closeEvents := setupEvents(ctx, cfg, hub, log)
	defer closeEvents()

	stockService := services.NewStockService(store, publisher, log)
	saleService := services.NewSaleService(store, stockService, log)
	recipeService := services.NewRecipeService(store, log)
	if redisUtil != nil {
		recipeService.SetRedisUtil(redisUtil)
	}
	ingredientService := services.NewIngredientService(store, stockService, log)
	ingredientService.SetRecipeService(recipeService)
	reportService := services.NewReportService(store, log)
	reconcileService := services.NewReconcileService(store, locker, log)

	router := api.SetupRouter(api.RouterDeps{
		Inventory:      api.NewInventoryController(stockService, saleService, reportService, log),
		Ingredients:    api.NewIngredientController(ingredientService, log),
		Products:       api.NewProductController(recipeService, log),
		Reports:        api.NewReportController(reportService, reconcileService, log),
		WS:             api.NewWSController(hub, log),
		AllowedOrigins: cfg.CORSAllowedOrigins,
		Log:            log,
	})

	httpServer := &http.Server{
		Addr:              "0.0.0.0:" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := grpc.NewServer()
	api.RegisterLedgerServiceServer(grpcServer, api.NewLedgerGRPCServer(stockService, saleService, log))

	go reconcileService.RunPeriodic(ctx, cfg.ReconcileInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("🚀 HTTP сервер запущен на порту %s", cfg.ServerPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return err
		}
		log.Infof("📡 gRPC сервер запущен на порту %s", cfg.GRPCPort)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("🛑 Остановка серверов...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.WithError(err).Error("❌ Сервер остановлен с ошибкой")
		return
	}
	log.Info("✅ Сервер остановлен")
}

// openStore PostgreSQL или in-memory хранилище в development
func openStore(cfg *config.Config, log *logrus.Logger) (ledger.Store, func()) {
	db, err := database.ConnectPostgres(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	}, log)
	if err == nil {
		if err = models.AutoMigrate(db, log); err == nil {
			log.Info("✅ Миграции выполнены")
			return database.NewGormStore(db, cfg.LockTimeout), func() { _ = database.ClosePostgres(db) }
		}
		_ = database.ClosePostgres(db)
	}
	if !cfg.IsDevelopment() {
		log.WithError(err).Fatal("❌ PostgreSQL недоступен")
	}
	log.WithError(err).Warn("⚠️ PostgreSQL недоступен, используется in-memory хранилище (данные не сохраняются)")
	return database.NewMemoryStore(cfg.LockTimeout), func() {}
}

// setupEvents события движений: Kafka (если настроена) -> WebSocket, иначе сразу в hub
func setupEvents(ctx context.Context, cfg *config.Config, hub *api.Hub, log *logrus.Logger) (events.Publisher, func()) {
	brokers := events.ParseKafkaBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		log.Info("ℹ️ KAFKA_BROKERS не задан, события движений идут напрямую в WebSocket")
		return hub, func() {}
	}

	auth := events.KafkaAuth{
		Username: cfg.KafkaUsername,
		Password: cfg.KafkaPassword,
		CACert:   cfg.KafkaCACert,
	}
	producer := events.NewKafkaPublisher(brokers, cfg.KafkaMovementTopic, auth, log)
	consumer := events.NewKafkaConsumer(brokers, cfg.KafkaMovementTopic, wsConsumerGroup, auth, hub.Relay, log)
	go consumer.Start(ctx)

	log.Infof("📡 События движений публикуются в Kafka (%s)", cfg.KafkaMovementTopic)
	return events.Fanout{producer}, func() {
		if err := consumer.Close(); err != nil {
			log.WithError(err).Warn("⚠️ Ошибка закрытия Kafka consumer")
		}
		if err := producer.Close(); err != nil {
			log.WithError(err).Warn("⚠️ Ошибка закрытия Kafka producer")
		}
	}
}

func maskDatabaseURL(url string) string {
	idx := strings.Index(url, "@")
	schemeIdx := strings.Index(url, "://")
	if idx > 0 && schemeIdx > 0 && schemeIdx < idx {
		return url[:schemeIdx+3] + "***@" + url[idx+1:]
	}
	return url
}
