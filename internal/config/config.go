package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Game
	GameName string // capitalization matters to the game server

	// Database
	DBHost string
	DBPort string
	DBName string
	DBUser string
	DBPass string

	// Game server
	GameserverHost    string
	GameserverTCPPort string
	GameserverWebPort string

	// Droopy blob store
	DroopyURL   string // note trailing slash
	DroopyCreds string // "user:pass", empty for no auth

	// On-disk caches
	DockerfilePath      string
	SubmissionCachePath string
	LogfilePath         string

	// Match runner
	LookbackSeconds int
	ContainerCPU    string
	ContainerRAM    string
	MatchTimeout    int
	GamelogRetries  int
	RunForever      bool

	// Bracket engine
	NElimination  int
	BestOf        int
	ReuseOldGames bool
	RefreshSecs   int
	OutputFile    string

	// Optional observability
	RedisURL   string // empty disables the event stream
	StatusPort string // empty disables the status server
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	return &Config{
		GameName: getEnv("GAME_NAME", "Chess"),

		DBHost: getEnv("DB_HOST", "localhost"),
		DBPort: getEnv("DB_PORT", "5432"),
		DBName: getEnv("DB_NAME", "postgres"),
		DBUser: getEnv("DB_USER", "postgres"),
		DBPass: getEnv("DB_PASS", "postgres"),

		GameserverHost:    getEnv("GAMESERVER_HOST", "localhost"),
		GameserverTCPPort: getEnv("GAMESERVER_TCPPORT", "3000"),
		GameserverWebPort: getEnv("GAMESERVER_WEBPORT", "3080"),

		DroopyURL:   getEnv("DROOPY_URL", "http://localhost:8000/"),
		DroopyCreds: getEnv("DROOPY_CREDS", ""),

		DockerfilePath:      getEnv("DOCKERFILE_PATH", "/per_language_dockerfiles"),
		SubmissionCachePath: getEnv("SUBMISSION_CACHE_PATH", "/tmp/submission_cache"),
		LogfilePath:         getEnv("LOGFILE_PATH", "/tmp/arena_logfiles"),

		LookbackSeconds: getEnvInt("LOOKBACK_SECONDS", 60*60),
		ContainerCPU:    getEnv("CONTAINER_CPU", "0.5"),
		ContainerRAM:    getEnv("CONTAINER_RAM", "1g"),
		MatchTimeout:    getEnvInt("MATCH_TIMEOUT", 60*5),
		GamelogRetries:  getEnvInt("GAMELOG_RETRIES", 5),
		RunForever:      getEnvBool("RUN_FOREVER", false),

		NElimination:  getEnvInt("N_ELIMINATION", 3),
		BestOf:        getEnvInt("BEST_OF", 7),
		ReuseOldGames: getEnvBool("REUSE_OLD_GAMES", true),
		RefreshSecs:   getEnvInt("REFRESH_SECONDS", 30),
		OutputFile:    getEnv("OUTPUT_FILE", "tournament.dot"),

		RedisURL:   getEnv("REDIS_URL", ""),
		StatusPort: getEnv("STATUS_PORT", ""),
	}
}

// DatabaseURL assembles a lib/pq connection string from the DB_* parts.
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable&connect_timeout=10",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}
