package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/tradepost/tradepost-backend/pkg/enums"
)

const (
	// EnvPrefix scopes every environment variable consumed by the service.
	EnvPrefix = "TRADEPOST"

	AppEnvDev  = "development"
	AppEnvProd = "production"

	EnvAppEnv      = "TRADEPOST_APP_ENV"
	EnvDBDSN       = "TRADEPOST_DB_DSN"
	EnvDBHost      = "TRADEPOST_DB_HOST"
	EnvDBUser      = "TRADEPOST_DB_USER"
	EnvDBName      = "TRADEPOST_DB_NAME"
	EnvStockPolicy = "TRADEPOST_CART_STOCK_POLICY"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}

type Config struct {
	App  AppConfig
	DB   DBConfig
	Cart CartConfig
	Tx   TxRetryConfig
}

// Load reads the process environment (plus an optional .env file) into Config.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.App.validate(); err != nil {
		return nil, err
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Cart.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string `envconfig:"TRADEPOST_APP_ENV" required:"true"`
	LogLevel     string `envconfig:"TRADEPOST_LOG_LEVEL" default:"info"`
	LogWarnStack bool   `envconfig:"TRADEPOST_LOG_WARN_STACK" default:"false"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

func (a AppConfig) validate() error {
	if !a.IsDev() && !a.IsProd() {
		return fmt.Errorf("%s must be %s or %s, got %q", EnvAppEnv, AppEnvDev, AppEnvProd, a.Env)
	}
	return nil
}

type DBConfig struct {
	DSN    string `envconfig:"TRADEPOST_DB_DSN"`
	Driver string `envconfig:"TRADEPOST_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"TRADEPOST_DB_HOST"`
	LegacyPort     int    `envconfig:"TRADEPOST_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"TRADEPOST_DB_USER"`
	LegacyPassword string `envconfig:"TRADEPOST_DB_PASSWORD"`
	LegacyName     string `envconfig:"TRADEPOST_DB_NAME"`
	LegacySSLMode  string `envconfig:"TRADEPOST_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"TRADEPOST_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"TRADEPOST_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"TRADEPOST_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"TRADEPOST_DB_CONN_MAX_IDLE_TIME" default:"10m"`
}

// CartConfig selects the stock policy applied at cart mutation time.
// "deferred" records stock warnings on the cart response and enforces stock
// only when an order is placed; "strict" rejects any cart mutation whose
// resulting quantity exceeds the available stock.
type CartConfig struct {
	StockPolicy string `envconfig:"TRADEPOST_CART_STOCK_POLICY" default:"deferred"`
}

func (c CartConfig) validate() error {
	if _, err := enums.ParseStockPolicy(strings.ToLower(strings.TrimSpace(c.StockPolicy))); err != nil {
		return fmt.Errorf("%s must be deferred or strict, got %q", EnvStockPolicy, c.StockPolicy)
	}
	return nil
}

// Policy returns the validated stock policy enum.
func (c CartConfig) Policy() enums.StockPolicy {
	policy, err := enums.ParseStockPolicy(strings.ToLower(strings.TrimSpace(c.StockPolicy)))
	if err != nil {
		return enums.StockPolicyDeferred
	}
	return policy
}

// TxRetryConfig bounds retries of transactions aborted by store conflicts.
type TxRetryConfig struct {
	MaxAttempts uint64        `envconfig:"TRADEPOST_TX_MAX_ATTEMPTS" default:"3"`
	BaseBackoff time.Duration `envconfig:"TRADEPOST_TX_BASE_BACKOFF" default:"25ms"`
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
