package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	EnvPrefix = "POS"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvAppEnv       = "POS_APP_ENV"
	EnvPort         = "POS_APP_PORT"
	EnvDBDSN        = "POS_DB_DSN"
	EnvDBDriver     = "POS_DB_DRIVER"
	EnvLedgerURL    = "POS_LEDGER_BASE_URL"
	EnvDeviceID     = "POS_DEVICE_ID"
	EnvDeviceToken  = "POS_DEVICE_TOKEN"
	EnvApprovalKey  = "POS_APPROVAL_SIGNING_KEY"
	EnvRegisterID   = "POS_REGISTER_ID"
	EnvCompanyKeys  = "POS_COMPANY_KEYS"
	DriverSQLite    = "sqlite"
	DriverPostgres  = "postgres"
	defaultDBSQLite = "file:pos.sqlite?_busy_timeout=5000&_journal_mode=WAL"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	Ledger       LedgerConfig
	Outbox       OutboxConfig
	Approval     ApprovalConfig
	Checkout     CheckoutConfig
	Catalog      CatalogConfig
	Password     PasswordConfig
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
	for _, step := range cfg.Outbox.BackoffLadder {
		if step <= 0 {
			return nil, fmt.Errorf("backoff ladder step %s must be positive", step)
		}
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"POS_APP_ENV" required:"true"`
	Port         string   `envconfig:"POS_APP_PORT" default:"7070"`
	Host         string   `envconfig:"POS_APP_HOST" default:"127.0.0.1"`
	LogLevel     string   `envconfig:"POS_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"POS_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"POS_LOG_FORMAT" default:"json"`
	RegisterID   string   `envconfig:"POS_REGISTER_ID" default:"register-1"`
	CompanyKeys  []string `envconfig:"POS_COMPANY_KEYS" required:"true"`
	// UIOrigins lists extra origins allowed to call the register API.
	UIOrigins []string `envconfig:"POS_APP_UI_ORIGINS"`
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev)
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd)
}

// Addr returns the listen address for the register API.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

type DBConfig struct {
	DSN    string `envconfig:"POS_DB_DSN"`
	Driver string `envconfig:"POS_DB_DRIVER" default:"sqlite"`

	MaxOpenConns    int           `envconfig:"POS_DB_MAX_OPEN_CONNS" default:"4"`
	MaxIdleConns    int           `envconfig:"POS_DB_MAX_IDLE_CONNS" default:"2"`
	ConnMaxLifetime time.Duration `envconfig:"POS_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"POS_DB_CONN_MAX_IDLE_TIME" default:"10m"`

	// SlowQuery is the threshold above which statements are logged at warn.
	SlowQuery time.Duration `envconfig:"POS_DB_SLOW_QUERY" default:"250ms"`
	// BusyRetries bounds how often a transaction is replayed on SQLITE_BUSY.
	BusyRetries int `envconfig:"POS_DB_BUSY_RETRIES" default:"3"`
}

// IsSQLite reports whether the local store runs on sqlite.
func (db DBConfig) IsSQLite() bool {
	return strings.EqualFold(strings.TrimSpace(db.Driver), DriverSQLite)
}

func (db *DBConfig) ensureDSN() error {
	driver := strings.ToLower(strings.TrimSpace(db.Driver))
	switch driver {
	case "", DriverSQLite:
		db.Driver = DriverSQLite
		if db.DSN == "" {
			db.DSN = defaultDBSQLite
		}
		return nil
	case DriverPostgres:
		if db.DSN == "" {
			return fmt.Errorf("%s is required when %s=%s", EnvDBDSN, EnvDBDriver, DriverPostgres)
		}
		db.Driver = DriverPostgres
		return nil
	default:
		return fmt.Errorf("unsupported %s %q", EnvDBDriver, db.Driver)
	}
}

// RedisConfig is optional for a register; an empty URL and address disables Redis.
type RedisConfig struct {
	URL          string        `envconfig:"POS_REDIS_URL"`
	Address      string        `envconfig:"POS_REDIS_ADDR"`
	Password     string        `envconfig:"POS_REDIS_PASSWORD"`
	DB           int           `envconfig:"POS_REDIS_DB" default:"0"`
	PoolSize     int           `envconfig:"POS_REDIS_POOL_SIZE" default:"4"`
	MinIdleConns int           `envconfig:"POS_REDIS_MIN_IDLE_CONNS" default:"1"`
	DialTimeout  time.Duration `envconfig:"POS_REDIS_DIAL_TIMEOUT" default:"2s"`
	ReadTimeout  time.Duration `envconfig:"POS_REDIS_READ_TIMEOUT" default:"2s"`
	WriteTimeout time.Duration `envconfig:"POS_REDIS_WRITE_TIMEOUT" default:"2s"`
	// Namespace prefixes every key so registers can share one Redis.
	Namespace string `envconfig:"POS_REDIS_NAMESPACE" default:"pos"`
}

// Enabled reports whether a Redis endpoint was configured.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.URL) != "" || strings.TrimSpace(r.Address) != ""
}

type LedgerConfig struct {
	BaseURL        string        `envconfig:"POS_LEDGER_BASE_URL" required:"true"`
	DeviceID       string        `envconfig:"POS_DEVICE_ID" required:"true"`
	DeviceToken    string        `envconfig:"POS_DEVICE_TOKEN" required:"true"`
	RequestTimeout time.Duration `envconfig:"POS_LEDGER_REQUEST_TIMEOUT" default:"8s"`
	// Breaker opens after this many consecutive transient failures.
	BreakerFailures int           `envconfig:"POS_LEDGER_BREAKER_FAILURES" default:"5"`
	BreakerCooldown time.Duration `envconfig:"POS_LEDGER_BREAKER_COOLDOWN" default:"30s"`
	// SubmitMode is "outbox" (bundle to /pos/outbox/submit) or "direct" (POST /sale, /return).
	SubmitMode string `envconfig:"POS_LEDGER_SUBMIT_MODE" default:"outbox"`
}

const (
	SubmitModeOutbox = "outbox"
	SubmitModeDirect = "direct"
)

type OutboxConfig struct {
	BatchSize        int             `envconfig:"POS_OUTBOX_DRAIN_BATCH_SIZE" default:"25"`
	PollInterval     time.Duration   `envconfig:"POS_OUTBOX_DRAIN_POLL" default:"5s"`
	Concurrency      int             `envconfig:"POS_OUTBOX_DRAIN_CONCURRENCY" default:"2"`
	MaxAttempts      int             `envconfig:"POS_OUTBOX_MAX_ATTEMPTS" default:"0"`
	BackoffLadder    []time.Duration `envconfig:"POS_OUTBOX_BACKOFF_LADDER" default:"20s,45s,90s,180s,300s,600s"`
	ReceiptRetention time.Duration   `envconfig:"POS_OUTBOX_RECEIPT_RETENTION" default:"720h"`
	LockTTL          time.Duration   `envconfig:"POS_OUTBOX_DRAIN_LOCK_TTL" default:"2m"`
	NoticeWindow     time.Duration   `envconfig:"POS_OUTBOX_NOTICE_WINDOW" default:"5m"`
}

type ApprovalConfig struct {
	TTL        time.Duration `envconfig:"POS_APPROVAL_TTL" default:"5m"`
	SigningKey string        `envconfig:"POS_APPROVAL_SIGNING_KEY" required:"true"`
	Issuer     string        `envconfig:"POS_APPROVAL_ISSUER" default:"pos-register"`
	// ManagerPINHash is an argon2id hash used when the ledger cannot verify a PIN.
	ManagerPINHash string `envconfig:"POS_APPROVAL_MANAGER_PIN_HASH"`

	PINWindow       time.Duration `envconfig:"POS_APPROVAL_PIN_WINDOW" default:"5m"`
	PINIPLimit      int           `envconfig:"POS_APPROVAL_PIN_IP_LIMIT" default:"10"`
	PINCompanyLimit int           `envconfig:"POS_APPROVAL_PIN_COMPANY_LIMIT" default:"5"`
}

type CheckoutConfig struct {
	PricingCurrency string `envconfig:"POS_PRICING_CURRENCY" default:"USD"`
	// FlagCompanyKey is the company an operator override routes everything onto.
	FlagCompanyKey string `envconfig:"POS_FLAG_COMPANY_KEY" default:"official"`
}

type CatalogConfig struct {
	RefreshInterval time.Duration `envconfig:"POS_CATALOG_REFRESH_INTERVAL" default:"5m"`
}

type PasswordConfig struct {
	ArgonMemoryKB    int `envconfig:"POS_ARGON_MEMORY_KB" default:"65536"`
	ArgonTime        int `envconfig:"POS_ARGON_TIME" default:"3"`
	ArgonParallelism int `envconfig:"POS_ARGON_PARALLELISM" default:"2"`
	ArgonSaltLen     int `envconfig:"POS_ARGON_SALT_LEN" default:"16"`
	ArgonKeyLen      int `envconfig:"POS_ARGON_KEY_LEN" default:"32"`
}

type FeatureFlagsConfig struct {
	AutoMigrate bool `envconfig:"POS_AUTO_MIGRATE" default:"true"`
	// ApprovalForSales forces manager approval on every sale for the listed companies.
	ApprovalForSales []string `envconfig:"POS_APPROVAL_FOR_SALES"`
}
