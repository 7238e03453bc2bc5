package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Upload constraints are fixed, not configurable.
const MaxUploadBytes = 16 << 20

var AllowedExtensions = []string{"png", "jpg", "jpeg", "gif", "webp"}

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Task      TaskConfig      `mapstructure:"task"`
	Cache     CacheConfig     `mapstructure:"cache"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Static    StaticConfig    `mapstructure:"static"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

type RedisConfig struct {
	URL string `mapstructure:"url"`
}

type OpenAIConfig struct {
	APIKey        string `mapstructure:"api_key"`
	BaseURL       string `mapstructure:"base_url"`
	Model         string `mapstructure:"model"`
	FollowUpModel string `mapstructure:"followup_model"`
}

type WorkerConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	Queue       string `mapstructure:"queue"`
}

type TaskConfig struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryDelay   time.Duration `mapstructure:"retry_delay"`
	ModelTimeout time.Duration `mapstructure:"model_timeout"`
}

type CacheConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

// RateLimitConfig holds per-route request counts sharing one window. Zero
// means unlimited.
type RateLimitConfig struct {
	Window   time.Duration `mapstructure:"window"`
	Upload   int           `mapstructure:"upload"`
	Status   int           `mapstructure:"status"`
	History  int           `mapstructure:"history"`
	FollowUp int           `mapstructure:"followup"`
}

type StaticConfig struct {
	Dir string `mapstructure:"dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// TaskTimeout bounds one queued work item: every attempt plus the waits
// between them, with a minute of slack.
func (c TaskConfig) TaskTimeout() time.Duration {
	n := time.Duration(c.MaxAttempts)
	return n*c.ModelTimeout + (n-1)*c.RetryDelay + time.Minute
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "5000")
	v.SetDefault("database.url", "file:snaptutor.db?_pragma=busy_timeout(5000)")
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.followup_model", "gpt-4.1-mini")
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.queue", "default")
	v.SetDefault("task.max_attempts", 3)
	v.SetDefault("task.retry_delay", 60*time.Second)
	v.SetDefault("task.model_timeout", 60*time.Second)
	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("ratelimit.window", 60*time.Second)
	v.SetDefault("ratelimit.upload", 5)
	v.SetDefault("ratelimit.status", 0)
	v.SetDefault("ratelimit.history", 20)
	v.SetDefault("ratelimit.followup", 10)
	v.SetDefault("static.dir", "static")
	v.SetDefault("log.level", "info")
}

var envBindings = map[string]string{
	"server.port":           "PORT",
	"database.url":          "DATABASE_URL",
	"redis.url":             "REDIS_URL",
	"openai.api_key":        "OPENAI_API_KEY",
	"openai.base_url":       "OPENAI_BASE_URL",
	"openai.model":          "OPENAI_MODEL",
	"openai.followup_model": "OPENAI_FOLLOWUP_MODEL",
	"worker.concurrency":    "WORKER_CONCURRENCY",
	"worker.queue":          "WORKER_QUEUE",
	"task.max_attempts":     "TASK_MAX_ATTEMPTS",
	"task.retry_delay":      "TASK_RETRY_DELAY",
	"task.model_timeout":    "TASK_MODEL_TIMEOUT",
	"cache.ttl":             "CACHE_TTL",
	"ratelimit.window":      "RATELIMIT_WINDOW",
	"ratelimit.upload":      "RATELIMIT_UPLOAD",
	"ratelimit.status":      "RATELIMIT_STATUS",
	"ratelimit.history":     "RATELIMIT_HISTORY",
	"ratelimit.followup":    "RATELIMIT_FOLLOWUP",
	"static.dir":            "STATIC_DIR",
	"log.level":             "LOG_LEVEL",
}

// Load reads an optional .env file, then defaults and environment variables.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system env")
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.OpenAI.APIKey == "" {
		log.Println("Warning: OpenAI API key not configured")
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Task.MaxAttempts < 1 {
		return fmt.Errorf("task.max_attempts must be at least 1, got %d", c.Task.MaxAttempts)
	}
	if c.Task.ModelTimeout <= 0 {
		return fmt.Errorf("task.model_timeout must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("ratelimit.window must be positive")
	}
	return nil
}
