package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-planning-poker/internal/cache"
	"github.com/go-planning-poker/internal/config"
	"github.com/go-planning-poker/internal/infrastructure/dynamo"
	"github.com/go-planning-poker/internal/infrastructure/google"
	jwtinfra "github.com/go-planning-poker/internal/infrastructure/jwt"
	s3infra "github.com/go-planning-poker/internal/infrastructure/s3"
	"github.com/go-planning-poker/internal/infrastructure/smtp"
	"github.com/go-planning-poker/internal/infrastructure/sns"
	"github.com/go-planning-poker/internal/infrastructure/turnstile"
	"github.com/go-planning-poker/internal/pkg/alert"
	transporthttp "github.com/go-planning-poker/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	var store cache.Store
	switch cfg.CacheBackend {
	case "memory":
		mem := cache.NewMemory()
		defer mem.Close()
		store = mem
	default:
		store = dynamo.NewCacheStore(dynamoClient, cfg.DynamoTables.Cache)
	}

	// Error logs are forwarded to SNS when a topic is configured.
	var logHandler slog.Handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	if cfg.AlertTopicARN != "" {
		if pub, err := sns.NewPublisher(cfg); err == nil {
			logHandler = alert.NewHandler(logHandler, pub, store, cfg.AlertMaxPerWindow, cfg.AlertWindow, "planning-poker")
		} else {
			log.Printf("WARN: SNS alerts not available: %v", err)
		}
	}
	slog.SetDefault(slog.New(logHandler))

	jwtProvider, err := jwtinfra.NewProvider(cfg)
	if err != nil {
		log.Fatalf("session signing keys: %v", err)
	}

	deps := &transporthttp.Deps{
		Cache:           store,
		RoomRepo:        dynamo.NewRoomRepo(dynamoClient, cfg.DynamoTables.Rooms, cfg.DynamoTables.RoomCodes),
		ParticipantRepo: dynamo.NewParticipantRepo(dynamoClient, cfg.DynamoTables.Participants),
		StoryRepo:       dynamo.NewStoryRepo(dynamoClient, cfg.DynamoTables.Stories),
		VoteRepo:        dynamo.NewVoteRepo(dynamoClient, cfg.DynamoTables.Votes),
		SessionRepo:     dynamo.NewSessionRepo(dynamoClient, cfg.DynamoTables.Sessions),
		Mailer:          smtp.NewMailer(cfg),
		Challenge:       turnstile.NewVerifier(cfg.TurnstileEnabled, cfg.TurnstileSiteKey, cfg.TurnstileSecretKey),
		JWTProvider:     jwtProvider,
	}

	// Export storage and Google sign-in are optional.
	if cfg.S3BucketName != "" {
		deps.Exports = s3infra.NewStore(s3infra.NewClient(cfg), cfg.S3BucketName)
	}
	if cfg.GoogleClientID != "" {
		deps.Google = google.NewVerifier(cfg.GoogleClientID)
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "port", cfg.AppPort, "env", cfg.AppEnv, "cache", cfg.CacheBackend)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	slog.Info("server stopped")
}
