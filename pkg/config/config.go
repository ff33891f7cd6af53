package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	Service      ServiceConfig
	DB           DBConfig
	Redis        RedisConfig
	Stripe       StripeConfig
	Booking      BookingConfig
	Commission   CommissionConfig
	FeatureFlags FeatureFlagsConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"EVENTPASS_APP_ENV" required:"true"`
	Port         string `envconfig:"EVENTPASS_APP_PORT" required:"true"`
	MetricsPort  string `envconfig:"EVENTPASS_METRICS_PORT" default:"9100"`
	LogLevel     string `envconfig:"EVENTPASS_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"EVENTPASS_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

type ServiceConfig struct {
	Kind string `envconfig:"EVENTPASS_SERVICE_KIND" default:"api"`
}

type DBConfig struct {
	DSN    string `envconfig:"EVENTPASS_DB_DSN"`
	Driver string `envconfig:"EVENTPASS_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"EVENTPASS_DB_HOST"`
	LegacyPort     int    `envconfig:"EVENTPASS_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"EVENTPASS_DB_USER"`
	LegacyPassword string `envconfig:"EVENTPASS_DB_PASSWORD"`
	LegacyName     string `envconfig:"EVENTPASS_DB_NAME"`
	LegacySSLMode  string `envconfig:"EVENTPASS_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"EVENTPASS_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"EVENTPASS_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"EVENTPASS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"EVENTPASS_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

type RedisConfig struct {
	URL          string        `envconfig:"EVENTPASS_REDIS_URL" required:"true"`
	Address      string        `envconfig:"EVENTPASS_REDIS_ADDR"`
	Password     string        `envconfig:"EVENTPASS_REDIS_PASSWORD"`
	DB           int           `envconfig:"EVENTPASS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"EVENTPASS_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"EVENTPASS_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"EVENTPASS_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"EVENTPASS_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout time.Duration `envconfig:"EVENTPASS_REDIS_WRITE_TIMEOUT" default:"5s"`
}

type StripeConfig struct {
	APIKey     string `envconfig:"EVENTPASS_STRIPE_API_KEY"`
	Secret     string `envconfig:"EVENTPASS_STRIPE_SECRET"`
	Env        string `envconfig:"EVENTPASS_STRIPE_ENV" default:"test"`
	SuccessURL string `envconfig:"EVENTPASS_STRIPE_SUCCESS_URL" default:"http://localhost:3000/registration/success"`
	CancelURL  string `envconfig:"EVENTPASS_STRIPE_CANCEL_URL" default:"http://localhost:3000/registration/cancel"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

// BookingConfig carries the timing knobs for the registration lifecycle.
type BookingConfig struct {
	OfferTTL             time.Duration `envconfig:"EVENTPASS_BOOKING_OFFER_TTL" default:"1h"`
	SweepInterval        time.Duration `envconfig:"EVENTPASS_BOOKING_SWEEP_INTERVAL" default:"1m"`
	CancellationBlackout time.Duration `envconfig:"EVENTPASS_BOOKING_CANCELLATION_BLACKOUT" default:"24h"`
}

// CommissionConfig replaces the old per-deployment settings row: commission
// policy is fixed at startup and threaded through the services that need it.
type CommissionConfig struct {
	DefaultRate decimal.Decimal `envconfig:"EVENTPASS_COMMISSION_DEFAULT_RATE" default:"5"`
	Minimum     decimal.Decimal `envconfig:"EVENTPASS_COMMISSION_MINIMUM" default:"0"`
	Enabled     bool            `envconfig:"EVENTPASS_COMMISSION_ENABLED" default:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"EVENTPASS_AUTO_MIGRATE" default:"false"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
