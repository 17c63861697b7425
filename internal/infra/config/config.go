package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ModeHosted   = "hosted"
	ModeSelfhost = "selfhost"
)

type Config struct {
	Mode     string `yaml:"mode"`
	LogLevel string `yaml:"log_level"`

	Backend  Backend  `yaml:"backend"`
	Identify Identify `yaml:"identify"`

	Redis Redis `yaml:"redis"`
	MinIO MinIO `yaml:"minio"`
	NATS  NATS  `yaml:"nats"`
}

type Backend struct {
	URL     string        `yaml:"url"`
	AnonKey string        `yaml:"anon_key"`
	Timeout time.Duration `yaml:"timeout"`
}

type Identify struct {
	Bucket       string        `yaml:"bucket"`
	PollInterval time.Duration `yaml:"poll_interval"`
	WatchTimeout time.Duration `yaml:"watch_timeout"`
	MaxImageDim  int           `yaml:"max_image_dim"`
}

type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type MinIO struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
	PublicBaseURL   string `yaml:"public_base_url"`
}

type NATS struct {
	URL           string `yaml:"url"`
	QueueName     string `yaml:"queue_name"`
	Subject       string `yaml:"subject"`
	MaxReconnects int    `yaml:"max_reconnects"`
}

func MustLoad(path string) *Config {
	// Secrets live in the environment, not the yaml. A missing .env is fine.
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatalf("config: cannot read file %q: %v", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("config: cannot unmarshal yaml: %v", err)
	}

	if v := os.Getenv("CROPSCAN_BACKEND_URL"); v != "" {
		cfg.Backend.URL = v
	}
	if v := os.Getenv("CROPSCAN_ANON_KEY"); v != "" {
		cfg.Backend.AnonKey = v
	}
	if v := os.Getenv("CROPSCAN_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretAccessKey = v
	}
	if v := os.Getenv("CROPSCAN_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}

	if cfg.Mode == "" {
		cfg.Mode = ModeHosted
	}
	if cfg.Mode != ModeHosted && cfg.Mode != ModeSelfhost {
		log.Fatalf("config: unknown mode %q", cfg.Mode)
	}
	if cfg.Mode == ModeHosted && cfg.Backend.URL == "" {
		log.Fatalf("config: backend.url is empty")
	}
	if cfg.Backend.Timeout <= 0 {
		cfg.Backend.Timeout = 30 * time.Second
	}
	if cfg.Identify.Bucket == "" {
		cfg.Identify.Bucket = "ai-images"
	}
	if cfg.Identify.PollInterval <= 0 {
		cfg.Identify.PollInterval = 3 * time.Second
	}
	if cfg.Identify.WatchTimeout <= 0 {
		cfg.Identify.WatchTimeout = 5 * time.Minute
	}
	if cfg.Identify.MaxImageDim <= 0 {
		cfg.Identify.MaxImageDim = 1600
	}

	return &cfg
}
