package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sentry "github.com/getsentry/sentry-go"
	telego "github.com/mymmrac/telego"
	"github.com/redis/go-redis/v9"

	"tgvk-repost-bot/internal/admin"
	"tgvk-repost-bot/internal/config"
	"tgvk-repost-bot/internal/database"
	"tgvk-repost-bot/internal/ingest"
	"tgvk-repost-bot/internal/lock"
	"tgvk-repost-bot/internal/locales"
	"tgvk-repost-bot/internal/logger"
	"tgvk-repost-bot/internal/media"
	"tgvk-repost-bot/internal/notifier"
	"tgvk-repost-bot/internal/queue"
	"tgvk-repost-bot/internal/repost"
	"tgvk-repost-bot/internal/tgbot"
	"tgvk-repost-bot/internal/vk"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.LogLevel)
	log := logger.WithField("component", "main")

	locales.Init(cfg.DefaultLanguageCode)

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.AppEnv,
		Release:     cfg.Version,
		Debug:       cfg.Debug,
	}); err != nil {
		log.WithError(err).Fatal("Failed to initialize Sentry")
	}
	defer sentry.Flush(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// MongoDB
	client, db, err := database.ConnectDB(ctx, cfg)
	if err != nil {
		sentry.CaptureException(err)
		log.WithError(err).Fatal("Failed to connect to MongoDB")
	}
	defer func() {
		if err := client.Disconnect(context.Background()); err != nil {
			log.WithError(err).Error("Error disconnecting from MongoDB")
		}
	}()

	postRepo := database.NewMongoPostRepository(db)
	albumRepo := database.NewMongoAlbumRepository(db)
	publishRepo := database.NewMongoPublishRepository(db)
	jobRepo := database.NewMongoJobRepository(db)
	settingsRepo := database.NewMongoSettingsRepository(db)

	// Redis: shared by the distributed lock and the task queue.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		sentry.CaptureException(err)
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	defer redisClient.Close()

	locker := lock.New(lock.NewRedisStore(redisClient))
	taskQueue := queue.New(redisClient)

	// Telegram
	var bot *telego.Bot
	if cfg.Debug {
		bot, err = telego.NewBot(cfg.BotToken, telego.WithDefaultDebugLogger())
	} else {
		bot, err = telego.NewBot(cfg.BotToken, telego.WithDefaultLogger(false, false))
	}
	if err != nil {
		sentry.CaptureException(err)
		log.WithError(err).Fatal("Failed to create telego bot")
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		sentry.CaptureException(err)
		log.WithError(err).Fatal("Failed to start long polling")
	}

	// VK
	vkClient := vk.NewClient(cfg.VKAccessToken, cfg.VKAPIVersion)
	tokenManager := vk.NewTokenManager(settingsRepo, locker, cfg.VKOAuthURL, vk.TokenSeed{
		AccessToken:  cfg.VKUserAccessToken,
		RefreshToken: cfg.VKUserRefreshToken,
		ClientID:     cfg.VKUserClientID,
		DeviceID:     cfg.VKUserDeviceID,
		State:        cfg.VKUserState,
	})
	uploader := vk.NewWallUploader(vkClient, cfg.VKGroupID, tokenManager)

	fetcher := media.NewTelegramFetcher(bot, cfg.BotToken, cfg.TempDir)
	pipeline := media.NewPipeline(fetcher, uploader)

	operatorNotifier := notifier.New(bot, cfg.AdminIDs)

	repostService := repost.NewService(repost.ServiceDeps{
		Config:    cfg,
		Posts:     postRepo,
		Albums:    albumRepo,
		Publishes: publishRepo,
		Jobs:      jobRepo,
		Settings:  settingsRepo,
		Locker:    locker,
		Media:     pipeline,
		Wall:      vkClient,
		Scheduler: taskQueue,
		Notifier:  operatorNotifier,
	})

	ingestService := ingest.NewService(cfg, postRepo, albumRepo, settingsRepo, taskQueue)

	adminHandler := admin.NewHandler(cfg, postRepo, jobRepo, settingsRepo, taskQueue, tgbot.NewSender(bot))
	appBot := tgbot.New(bot, updates, ingestService, adminHandler)

	// Workers
	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		wg.Add(1)
		worker := queue.NewWorker(taskQueue, repostService.HandleTask, logger.WithField("worker", i))
		go func() {
			defer wg.Done()
			worker.Run(ctx)
		}()
	}

	go appBot.Start(ctx)

	log.WithField("workers", cfg.Workers).Info("Bot started")
	<-ctx.Done()

	log.Info("Shutting down")
	wg.Wait()
	log.Info("Shutdown complete")
}
