package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultUniversities is the closed set of universities profiles may belong to.
// Overridable with the UNIVERSITY_LIST env var ("|"-separated).
var DefaultUniversities = []string{
	"Addis Ababa University",
	"Adama Science and Technology University",
	"Bahir Dar University",
	"Debre Berhan University",
	"Dire Dawa University",
	"Ethiopian Civil Service University",
	"Gondar University",
	"Hawassa University",
	"Haramaya University",
	"Jimma University",
	"Mekelle University",
	"Woldia University",
	"Wollo University",
	"Arba Minch University",
	"Axum University",
	"Dilla University",
	"Mizan-Tepi University",
	"Wolkite University",
	"Wolaita Sodo University",
	"Wachemo University",
}

type Config struct {
	Log struct {
		Level     string
		Format    string
		Component string
		Source    bool
	}

	DB struct {
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	HTTP struct {
		Host string
		Port string
	}

	Worker struct {
		Concurrency int
	}

	App struct {
		ENV            string
		AgeMin         int
		AgeMax         int
		Universities   []string
		SessionTTL     time.Duration
		OutboxTTL      time.Duration
		StorageTimeout time.Duration
	}
}

func New() *Config {
	// Local development convenience; missing .env is not an error.
	_ = godotenv.Load()

	cfg := &Config{}

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "matchmaker")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))

	// Database
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "matchmaker")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis
	cfg.Redis.Addr = getEnvDefault("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	if dbStr := getEnvDefault("REDIS_DB", "0"); dbStr != "" {
		if dbInt, err := strconv.Atoi(dbStr); err == nil {
			cfg.Redis.DB = dbInt
		}
	}

	// HTTP gateway
	cfg.HTTP.Host = getEnvDefault("HTTP_HOST", "127.0.0.1")
	cfg.HTTP.Port = getEnvDefault("HTTP_PORT", "8080")

	// Notification worker
	cfg.Worker.Concurrency = getEnvInt("WORKER_CONCURRENCY", 10)

	// Engine settings
	cfg.App.ENV = getEnvDefault("APP_ENV", "development")
	cfg.App.AgeMin = getEnvInt("AGE_MIN", 18)
	cfg.App.AgeMax = getEnvInt("AGE_MAX", 30)
	cfg.App.Universities = DefaultUniversities
	if raw := strings.TrimSpace(os.Getenv("UNIVERSITY_LIST")); raw != "" {
		var list []string
		for _, u := range strings.Split(raw, "|") {
			if u = strings.TrimSpace(u); u != "" {
				list = append(list, u)
			}
		}
		if len(list) > 0 {
			cfg.App.Universities = list
		}
	}
	cfg.App.SessionTTL = getEnvDuration("SESSION_TTL", 24*time.Hour)
	cfg.App.OutboxTTL = getEnvDuration("OUTBOX_TTL", 72*time.Hour)
	cfg.App.StorageTimeout = getEnvDuration("STORAGE_TIMEOUT", 5*time.Second)

	return cfg
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getEnvInt(k string, def int) int {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvDuration(k string, def time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
