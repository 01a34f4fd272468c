// Package config loads application configuration from the environment.  A
// .env file in the working directory is read first when present; variables
// already set in the process environment win over it.
package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"

	"github.com/iliyamo/virtual-queue/internal/database"
)

// Config holds all runtime configuration values.  Each section is read from
// its own set of environment variables.
type Config struct {
	App       AppConfig
	DB        database.Config
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Broker    BrokerConfig
	Engine    EngineConfig
	Dashboard DashboardConfig
	Tasks     TasksConfig
}

// AppConfig covers the HTTP server, tokens and logging.
type AppConfig struct {
	Env            string        `envconfig:"APP_ENV" default:"dev"`              // dev/test/prod
	Port           string        `envconfig:"APP_PORT" default:"8080"`            // port to bind the HTTP server
	JWTSecret      string        `envconfig:"JWT_SECRET" required:"true"`         // secret used for signing JWTs
	AccessTTLMin   int           `envconfig:"ACCESS_TOKEN_TTL_MIN" default:"15"`  // TTL for access tokens in minutes
	RefreshTTLDays int           `envconfig:"REFRESH_TOKEN_TTL_DAYS" default:"7"` // TTL for refresh tokens in days
	BcryptCost     int           `envconfig:"BCRYPT_COST" default:"12"`           // bcrypt cost factor
	LogLevel       string        `envconfig:"LOG_LEVEL" default:"info"`           // logrus level name
	LogFormat      string        `envconfig:"LOG_FORMAT"`                         // text or json; empty picks by env
	QRTokenTTL     time.Duration `envconfig:"QR_TOKEN_TTL" default:"24h"`         // lifetime of issued QR tokens
}

// BrokerConfig locates RabbitMQ.  An empty URL disables publishing and
// consuming; events then only reach the log and websocket subscribers.
type BrokerConfig struct {
	URL                string `envconfig:"RABBITMQ_URL"`
	Exchange           string `envconfig:"EVENTS_EXCHANGE" default:"queue.events"`
	NotificationsQueue string `envconfig:"NOTIFICATIONS_QUEUE" default:"queue.notifications"`
	NotificationLog    string `envconfig:"NOTIFICATIONS_LOG" default:"logs/notifications.log"`
	DispatchBuffer     int    `envconfig:"DISPATCH_BUFFER" default:"256"`
}

// EngineConfig bounds the optimistic retry loop around queue mutations.
type EngineConfig struct {
	RetryAttempts int           `envconfig:"ENGINE_RETRY_ATTEMPTS" default:"8"`
	RetryInitial  time.Duration `envconfig:"ENGINE_RETRY_INITIAL" default:"5ms"`
	RetryMax      time.Duration `envconfig:"ENGINE_RETRY_MAX" default:"200ms"`
}

// DashboardConfig tunes the dashboard views.
type DashboardConfig struct {
	AlertThreshold int           `envconfig:"DASHBOARD_ALERT_THRESHOLD" default:"10"`
	AvgService     time.Duration `envconfig:"DASHBOARD_AVG_SERVICE" default:"5m"`
	HistoryLimit   int           `envconfig:"DASHBOARD_HISTORY_LIMIT" default:"10"`
}

// TasksConfig schedules background maintenance.  Specs use the six field
// cron syntax with seconds, or descriptors such as "@every 5m".
type TasksConfig struct {
	RenumberSpec string `envconfig:"RENUMBER_SPEC" default:"@every 5m"`
	QRPurgeSpec  string `envconfig:"QR_PURGE_SPEC" default:"@every 10m"`
}

// Load reads a .env file if one exists and then every configuration
// section from the environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	sections := []any{
		&cfg.App, &cfg.DB, &cfg.Redis, &cfg.RateLimit, &cfg.Cache,
		&cfg.Broker, &cfg.Engine, &cfg.Dashboard, &cfg.Tasks,
	}
	for _, s := range sections {
		if err := envconfig.Process("", s); err != nil {
			return Config{}, errors.Wrap(err, "load config")
		}
	}
	if cfg.App.JWTSecret == "" {
		return Config{}, errors.New("load config: JWT_SECRET is empty")
	}
	cfg.RateLimit.normalize()
	return cfg, nil
}
