package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"agriconsult-backend/config"
	"agriconsult-backend/internal/api"
	"agriconsult-backend/internal/appointment"
	"agriconsult-backend/internal/db"
	"agriconsult-backend/internal/notification"
	"agriconsult-backend/internal/rtc"
	"agriconsult-backend/internal/store"
	"agriconsult-backend/internal/sweeper"

	"github.com/SherClockHolmes/webpush-go"
)

func main() {
	logger := log.New(os.Stdout, "consultd ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	if cfg.Auth.JWTSecret == "" {
		logger.Fatalf("auth.jwt_secret must be configured")
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := appointment.SystemClock()
	machine := appointment.NewMachine(appointment.Policy{
		MinDuration:   time.Duration(cfg.Policy.MinDurationMinutes) * time.Minute,
		MaxDuration:   time.Duration(cfg.Policy.MaxDurationMinutes) * time.Minute,
		RescheduleCap: cfg.Policy.RescheduleCap,
		PendingExpiry: time.Duration(cfg.Policy.PendingExpiryHours) * time.Hour,
	}, clock)

	rooms := rtc.NewTokenProvider(cfg.RTC.AppID, cfg.RTC.AppSecret, clock)
	tokenGrace := time.Duration(cfg.RTC.TokenGraceMinutes) * time.Minute

	appStore := store.NewGormStore(gormDB, machine, rooms, tokenGrace)
	logger.Println("data store initialized")

	// Without VAPID keys events are logged instead of pushed, which is good
	// enough for local development.
	var dispatcher notification.Dispatcher
	var webpushOptions *webpush.Options
	if cfg.Push.PublicKey != "" && cfg.Push.PrivateKey != "" {
		webpushOptions = &webpush.Options{
			VAPIDPublicKey:  cfg.Push.PublicKey,
			VAPIDPrivateKey: cfg.Push.PrivateKey,
			Subscriber:      cfg.Push.Subject,
			TTL:             cfg.Push.TTL,
		}
		pool := notification.NewWorkerPool(cfg.WorkerPool.Size, gormDB, webpushOptions)
		pool.Start(ctx)
		dispatcher = pool
		logger.Printf("notification worker pool started with %d workers", cfg.WorkerPool.Size)
	} else {
		dispatcher = notification.LogDispatcher{}
		logger.Println("VAPID keys not configured; appointment events will only be logged")
	}

	sweeperSvc := sweeper.NewService(cfg, appStore, dispatcher, clock)
	go sweeperSvc.Run(ctx)

	router := api.NewRouter(cfg, appStore, dispatcher, webpushOptions)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}
