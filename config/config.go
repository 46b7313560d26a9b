package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v9"
)

type Config struct {
	Port           string   `env:"PORT" envDefault:"5200"`
	DatabaseURL    string   `env:"DATABASE_URL,required,notEmpty"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// CronSecret guards the queue endpoints; ServiceToken guards award/reconcile when set.
	CronSecret   string `env:"CRON_SECRET,required,notEmpty"`
	ServiceToken string `env:"SERVICE_TOKEN"`

	AwardRatePerMinute int `env:"AWARD_RATE_PER_MINUTE" envDefault:"120"`

	Rewards  RewardsConfig  `envPrefix:"REWARDS_"`
	R2       R2Config       `envPrefix:"R2_"`
	Redis    RedisConfig    `envPrefix:"REDIS_"`
	Delivery DeliveryConfig `envPrefix:"DELIVERY_"`
	Kafka    KafkaConfig    `envPrefix:"KAFKA_"`
	Log      LogConfig      `envPrefix:"LOG_"`

	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"1h"`
}

type RewardsConfig struct {
	File  string `env:"FILE"`
	R2Key string `env:"R2_KEY"` // object key in the R2 bucket; wins over File
}

type R2Config struct {
	AccountID       string `env:"ACCOUNT_ID"`
	AccessKeyID     string `env:"ACCESS_KEY_ID"`
	AccessKeySecret string `env:"ACCESS_KEY_SECRET"`
	Bucket          string `env:"BUCKET_NAME"`
}

func (c R2Config) Enabled() bool {
	return c.AccountID != "" && c.Bucket != ""
}

type RedisConfig struct {
	Addr     string        `env:"ADDR"` // empty disables the total cache
	Password string        `env:"PASSWORD"`
	DB       int           `env:"DB" envDefault:"0"`
	TTL      time.Duration `env:"TOTAL_TTL" envDefault:"30s"`
}

type DeliveryConfig struct {
	Transport   string        `env:"TRANSPORT" envDefault:"push"` // push | kafka
	BatchSize   int           `env:"BATCH_SIZE" envDefault:"50"`
	ItemTimeout time.Duration `env:"ITEM_TIMEOUT" envDefault:"10s"`
	Interval    time.Duration `env:"INTERVAL" envDefault:"0s"` // 0 leaves draining to the cron endpoint
	PushTTL     int           `env:"PUSH_TTL" envDefault:"86400"`
}

type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"notifications.awards"`
}

type LogConfig struct {
	Level      string `env:"LEVEL" envDefault:"info"`
	Path       string `env:"PATH"`
	MaxSizeMB  int    `env:"MAX_SIZE_MB" envDefault:"100"`
	MaxBackups int    `env:"MAX_BACKUPS" envDefault:"3"`
	MaxAgeDays int    `env:"MAX_AGE_DAYS" envDefault:"7"`
	Compress   bool   `env:"COMPRESS"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Delivery.Transport {
	case "push":
	case "kafka":
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when DELIVERY_TRANSPORT=kafka")
		}
	default:
		return fmt.Errorf("unknown DELIVERY_TRANSPORT %q", c.Delivery.Transport)
	}
	if c.Delivery.BatchSize <= 0 {
		return fmt.Errorf("DELIVERY_BATCH_SIZE must be positive")
	}
	if c.Rewards.R2Key != "" && !c.R2.Enabled() {
		return fmt.Errorf("REWARDS_R2_KEY needs R2_ACCOUNT_ID and R2_BUCKET_NAME")
	}
	return nil
}
