// Package config loads the registry configuration from the environment.
//
// A .env file is read first when present; DAPPREG_* variables then override
// the defaults declared on each field.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"

	"github.com/R3E-Network/dapp_registry/pkg/logger"
)

// Backend names accepted by the selector fields.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"

	StakeFile  = "file"
	StakeRedis = "redis"
	StakeHTTP  = "http"

	AccountsStatic     = "static"
	AccountsPermissive = "permissive"
	AccountsNeo        = "neo"
	AccountsRPC        = "rpc"

	TransferLog  = "log"
	TransferHTTP = "http"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Stake    StakeConfig
	Accounts AccountsConfig
	Transfer TransferConfig
	Auth     AuthConfig
	Escrow   EscrowConfig
	Logging  LoggingConfig
	Outbox   OutboxConfig
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `env:"DAPPREG_HTTP_ADDR,default=:8080"`
	ReadTimeout     time.Duration `env:"DAPPREG_HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout    time.Duration `env:"DAPPREG_HTTP_WRITE_TIMEOUT,default=15s"`
	ShutdownTimeout time.Duration `env:"DAPPREG_HTTP_SHUTDOWN_TIMEOUT,default=10s"`
	CORSOrigins     []string      `env:"DAPPREG_CORS_ORIGINS"`
	RateLimit       float64       `env:"DAPPREG_RATE_LIMIT,default=20"`
	RateBurst       int           `env:"DAPPREG_RATE_BURST,default=40"`
	AuditFile       string        `env:"DAPPREG_AUDIT_FILE"`
	EventBuffer     int           `env:"DAPPREG_EVENT_BUFFER,default=1024"`
}

// DatabaseConfig selects and tunes the state store.
type DatabaseConfig struct {
	Driver          string        `env:"DAPPREG_DB_DRIVER,default=memory"`
	DSN             string        `env:"DAPPREG_DB_DSN"`
	MaxOpenConns    int           `env:"DAPPREG_DB_MAX_OPEN_CONNS,default=10"`
	MaxIdleConns    int           `env:"DAPPREG_DB_MAX_IDLE_CONNS,default=5"`
	ConnMaxLifetime time.Duration `env:"DAPPREG_DB_CONN_MAX_LIFETIME,default=30m"`
	AutoMigrate     bool          `env:"DAPPREG_DB_AUTO_MIGRATE,default=true"`
}

// RedisConfig locates the Redis stake directory.
type RedisConfig struct {
	Addr       string `env:"DAPPREG_REDIS_ADDR"`
	Password   string `env:"DAPPREG_REDIS_PASSWORD"`
	DB         int    `env:"DAPPREG_REDIS_DB,default=0"`
	WeightsKey string `env:"DAPPREG_REDIS_WEIGHTS_KEY"`
	TotalKey   string `env:"DAPPREG_REDIS_TOTAL_KEY"`
}

// StakeConfig selects where authority voting weights come from.
type StakeConfig struct {
	Source      string        `env:"DAPPREG_STAKE_SOURCE,default=file"`
	File        string        `env:"DAPPREG_STAKE_FILE,default=config/stake.yaml"`
	URL         string        `env:"DAPPREG_STAKE_URL"`
	WeightsPath string        `env:"DAPPREG_STAKE_WEIGHTS_PATH,default=$.weights"`
	TotalPath   string        `env:"DAPPREG_STAKE_TOTAL_PATH"`
	TTL         time.Duration `env:"DAPPREG_STAKE_TTL,default=30s"`
}

// AccountsConfig selects the account oracle.
type AccountsConfig struct {
	Mode   string        `env:"DAPPREG_ACCOUNTS_MODE,default=permissive"`
	Static []string      `env:"DAPPREG_ACCOUNTS"`
	RPCURL string        `env:"DAPPREG_NEO_RPC_URL"`
	Timeout time.Duration `env:"DAPPREG_NEO_RPC_TIMEOUT,default=10s"`
}

// TransferConfig selects the token transfer backend.
type TransferConfig struct {
	Mode       string        `env:"DAPPREG_TRANSFER_MODE,default=log"`
	URL        string        `env:"DAPPREG_TRANSFER_URL"`
	Path       string        `env:"DAPPREG_TRANSFER_PATH,default=/v1/transfers"`
	ServiceID  string        `env:"DAPPREG_TRANSFER_SERVICE_ID,default=dapp-registry"`
	Secret     string        `env:"DAPPREG_TRANSFER_SECRET"`
	Timeout    time.Duration `env:"DAPPREG_TRANSFER_TIMEOUT,default=10s"`
	MaxRetries int           `env:"DAPPREG_TRANSFER_MAX_RETRIES,default=2"`
}

// AuthConfig configures request authentication.
type AuthConfig struct {
	JWTSecret       string `env:"DAPPREG_JWT_SECRET"`
	OperatorKeyHash string `env:"DAPPREG_OPERATOR_KEY_HASH"`
}

// EscrowConfig describes the escrowed token and its custodian.
type EscrowConfig struct {
	SystemAccount string `env:"DAPPREG_SYSTEM_ACCOUNT,default=dappregistry"`
	Symbol        string `env:"DAPPREG_TOKEN_SYMBOL,default=GAS"`
	Precision     int    `env:"DAPPREG_TOKEN_PRECISION,default=8"`
	MaxApprovers  int    `env:"DAPPREG_MAX_APPROVERS,default=64"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level  string `env:"DAPPREG_LOG_LEVEL,default=info"`
	Format string `env:"DAPPREG_LOG_FORMAT,default=text"`
	Output string `env:"DAPPREG_LOG_OUTPUT,default=stdout"`
}

// OutboxConfig tunes transfer retries.
type OutboxConfig struct {
	MaxAttempts   int           `env:"DAPPREG_OUTBOX_MAX_ATTEMPTS,default=5"`
	RetrySchedule string        `env:"DAPPREG_OUTBOX_SCHEDULE,default=@every 1m"`
	Timeout       time.Duration `env:"DAPPREG_OUTBOX_TIMEOUT,default=30s"`
}

// Logger returns the logger options.
func (c LoggingConfig) Logger() logger.LoggingConfig {
	return logger.LoggingConfig{Level: c.Level, Format: c.Format, Output: c.Output}
}

// Load reads .env from the working directory, if any, and decodes the
// environment.
func Load() (*Config, error) {
	return LoadFrom(".env")
}

// LoadFrom reads envFile, if it exists, and decodes the environment. Values
// already present in the environment win over the file.
func LoadFrom(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	c.Database.Driver = strings.ToLower(strings.TrimSpace(c.Database.Driver))
	c.Stake.Source = strings.ToLower(strings.TrimSpace(c.Stake.Source))
	c.Accounts.Mode = strings.ToLower(strings.TrimSpace(c.Accounts.Mode))
	c.Transfer.Mode = strings.ToLower(strings.TrimSpace(c.Transfer.Mode))
}

// Validate checks that every selected backend has what it needs.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("DAPPREG_DB_DSN is required for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Stake.Source {
	case StakeFile:
		if c.Stake.File == "" {
			return errors.New("DAPPREG_STAKE_FILE is required for the file stake source")
		}
	case StakeRedis:
		if c.Redis.Addr == "" {
			return errors.New("DAPPREG_REDIS_ADDR is required for the redis stake source")
		}
	case StakeHTTP:
		if c.Stake.URL == "" {
			return errors.New("DAPPREG_STAKE_URL is required for the http stake source")
		}
	default:
		return fmt.Errorf("unknown stake source %q", c.Stake.Source)
	}

	switch c.Accounts.Mode {
	case AccountsPermissive, AccountsNeo:
	case AccountsStatic:
		if len(c.Accounts.Static) == 0 {
			return errors.New("DAPPREG_ACCOUNTS is required for static accounts")
		}
	case AccountsRPC:
		if c.Accounts.RPCURL == "" {
			return errors.New("DAPPREG_NEO_RPC_URL is required for rpc accounts")
		}
	default:
		return fmt.Errorf("unknown accounts mode %q", c.Accounts.Mode)
	}

	switch c.Transfer.Mode {
	case TransferLog:
	case TransferHTTP:
		if c.Transfer.URL == "" {
			return errors.New("DAPPREG_TRANSFER_URL is required for http transfers")
		}
	default:
		return fmt.Errorf("unknown transfer mode %q", c.Transfer.Mode)
	}

	if c.Escrow.SystemAccount == "" {
		return errors.New("DAPPREG_SYSTEM_ACCOUNT must not be empty")
	}
	if c.Escrow.Symbol == "" {
		return errors.New("DAPPREG_TOKEN_SYMBOL must not be empty")
	}
	if c.Escrow.Precision < 0 || c.Escrow.Precision > 18 {
		return fmt.Errorf("token precision %d out of range", c.Escrow.Precision)
	}
	if c.Escrow.MaxApprovers <= 0 {
		return fmt.Errorf("max approvers must be positive, got %d", c.Escrow.MaxApprovers)
	}
	if c.Outbox.MaxAttempts <= 0 {
		return fmt.Errorf("outbox max attempts must be positive, got %d", c.Outbox.MaxAttempts)
	}
	return nil
}
