package main

import (
	"context"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/siggame/gorena/internal/arena"
	"github.com/siggame/gorena/internal/builder"
	"github.com/siggame/gorena/internal/config"
	"github.com/siggame/gorena/internal/database"
	"github.com/siggame/gorena/internal/dockerengine"
	"github.com/siggame/gorena/internal/droopy"
	"github.com/siggame/gorena/internal/events"
	"github.com/siggame/gorena/internal/gameserver"
	"github.com/siggame/gorena/internal/migrations"
	"github.com/siggame/gorena/internal/redis"
	"github.com/siggame/gorena/internal/repo"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	log.Printf("[ARENA] connecting to database %q at %s@%s:%s", cfg.DBName, cfg.DBUser, cfg.DBHost, cfg.DBPort)
	db, err := database.Connect(cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Run migrations on start if requested (dev installs only)
	if os.Getenv("MIGRATE_ON_START") == "true" {
		log.Println("[ARENA] running DB migrations on startup")
		if err := migrations.RunMigrations(cfg.DatabaseURL()); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
	}

	repository := repo.New(db)

	// Optional event stream; absence never blocks match execution
	var publisher *events.Publisher
	if cfg.RedisURL != "" {
		rdb, err := redis.Connect(cfg.RedisURL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer rdb.Close()
		publisher = events.NewPublisher(rdb)
		log.Printf("[ARENA] event publishing enabled")
	}

	engine, err := dockerengine.New()
	if err != nil {
		log.Fatalf("Failed to create docker client: %v", err)
	}

	uploader := droopy.NewClient(cfg.DroopyURL, cfg.DroopyCreds)
	server := gameserver.NewClient(cfg.GameserverHost, cfg.GameserverWebPort)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	submissionBuilder := builder.New(repository, uploader, engine,
		cfg.SubmissionCachePath, cfg.LogfilePath, cfg.DockerfilePath)

	supervisor := arena.NewSupervisor(arena.SupervisorConfig{
		GameName:       cfg.GameName,
		ServerHost:     cfg.GameserverHost,
		ServerTCPPort:  cfg.GameserverTCPPort,
		ContainerCPU:   cfg.ContainerCPU,
		ContainerRAM:   cfg.ContainerRAM,
		MatchTimeout:   time.Duration(cfg.MatchTimeout) * time.Second,
		GamelogRetries: cfg.GamelogRetries,
		LogfilePath:    cfg.LogfilePath,
	}, server, engine, uploader, repository, rng)

	runner := arena.NewRunner(repository, submissionBuilder, supervisor, publisher,
		time.Duration(cfg.LookbackSeconds)*time.Second, cfg.RunForever, rng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// First interrupt lets the current game finish; second forces shutdown
	// and the in-flight game is marked "Cancelled by admin".
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[ARENA] caught interrupt")
		if cfg.RunForever {
			log.Println("[ARENA] waiting for current game to complete; interrupt again to force stop")
			runner.RequestStop()
			<-sigCh
			log.Println("[ARENA] caught second interrupt, forcing shutdown")
		}
		cancel()
	}()

	runner.Run(ctx)
	log.Println("[ARENA] closing database connection")
}
