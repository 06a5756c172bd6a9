package main

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/siggame/gorena/internal/api"
	"github.com/siggame/gorena/internal/bracket"
	"github.com/siggame/gorena/internal/config"
	"github.com/siggame/gorena/internal/database"
	"github.com/siggame/gorena/internal/redis"
	"github.com/siggame/gorena/internal/repo"
	"github.com/siggame/gorena/internal/ws"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := config.Load()

	log.Printf("[BRACKET] connecting to database %q at %s@%s:%s", cfg.DBName, cfg.DBUser, cfg.DBHost, cfg.DBPort)
	db, err := database.Connect(cfg.DatabaseURL())
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	engine := bracket.NewEngine(repo.New(db), bracket.Options{
		NElimination:  cfg.NElimination,
		BestOf:        cfg.BestOf,
		ReuseOldGames: cfg.ReuseOldGames,
	}, rng)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to seed bracket: %v", err)
	}

	// Optional status server: health, DOT snapshot, live events over ws
	if cfg.StatusPort != "" {
		var hub *ws.Hub
		if cfg.RedisURL != "" {
			rdb, err := redis.Connect(cfg.RedisURL)
			if err != nil {
				log.Fatalf("Failed to connect to Redis: %v", err)
			}
			defer rdb.Close()
			hub = ws.NewHub()
			ws.StartEventSubscriber(ctx, rdb, hub)
		}
		gin.SetMode(gin.ReleaseMode)
		router := gin.Default()
		api.SetupRoutes(router, engine, hub)
		go func() {
			log.Printf("[BRACKET] status server listening on :%s", cfg.StatusPort)
			if err := router.Run(":" + cfg.StatusPort); err != nil {
				log.Printf("[BRACKET] status server stopped: %v", err)
			}
		}()
	}

	// The DOT file is flushed on interrupt as well as on completion
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("[BRACKET] caught interrupt")
		cancel()
	}()

	winner, err := engine.Run(ctx, time.Duration(cfg.RefreshSecs)*time.Second)
	engine.PrintAndSaveDOT(cfg.OutputFile)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		log.Fatalf("Bracket engine failed: %v", err)
	}
	if winner != nil && winner.Winner != nil {
		log.Printf("[BRACKET] winner is %s", winner.Winner.Label())
	}
}
