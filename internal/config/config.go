package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ilyakaznacheev/cleanenv"
)

// Ledger modes.
const (
	LedgerModeRPC = "rpc"
	LedgerModeSim = "sim"
)

// Config captures all runtime configuration derived from environment variables.
type Config struct {
	Port             string        `env:"PORT" env-default:"8080"`
	ReadTimeout      time.Duration `env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout     time.Duration `env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout      time.Duration `env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	OperatorToken    string        `env:"HTTP_OPERATOR_TOKEN"`
	DBURL            string        `env:"DB_URL"`
	DBMaxConns       int           `env:"DB_MAX_CONNS" env-default:"20"`
	DBMinConns       int           `env:"DB_MIN_CONNS" env-default:"2"`
	DBMaxIdle        time.Duration `env:"DB_MAX_CONN_IDLE" env-default:"5m"`
	DBMaxLife        time.Duration `env:"DB_MAX_CONN_LIFETIME" env-default:"1h"`
	DBConnTimeout    time.Duration `env:"DB_CONN_TIMEOUT" env-default:"10s"`
	DBStatementCache int           `env:"DB_STATEMENT_CACHE_CAPACITY" env-default:"256"`
	DBAutoMigrate    bool          `env:"DB_AUTO_MIGRATE" env-default:"true"`

	TMDBAPIKey     string        `env:"TMDB_API_KEY"`
	TMDBBaseURL    string        `env:"TMDB_BASE_URL" env-default:"https://api.themoviedb.org/3"`
	TMDBTimeout    time.Duration `env:"TMDB_TIMEOUT" env-default:"5s"`
	TMDBRatePerSec float64       `env:"TMDB_RATE_PER_SEC" env-default:"20"`
	TMDBCacheSize  int           `env:"TMDB_CACHE_SIZE" env-default:"512"`
	TMDBCacheTTL   time.Duration `env:"TMDB_CACHE_TTL" env-default:"10m"`

	LedgerMode      string `env:"LEDGER_MODE" env-default:"rpc"`
	LedgerRPCURL    string `env:"LEDGER_RPC_URL" env-default:"https://forno.celo-sepolia.celo-testnet.org"`
	ContractAddress string `env:"LEDGER_CONTRACT_ADDRESS"`
	ChainID         int64  `env:"LEDGER_CHAIN_ID" env-default:"11142220"`
	PrivateKey      string `env:"LEDGER_PRIVATE_KEY"`

	// LogStartBlock is where like history is replayed from, normally the deployment block.
	LogStartBlock uint64 `env:"LEDGER_LOG_START_BLOCK" env-default:"0"`

	ConfirmTimeout time.Duration `env:"CONFIRM_TIMEOUT" env-default:"90s"`
	ConfirmPoll    time.Duration `env:"CONFIRM_POLL" env-default:"2s"`
	SettleDelay    time.Duration `env:"SETTLE_DELAY" env-default:"2s"`
	SettleBackoff  time.Duration `env:"SETTLE_BACKOFF" env-default:"500ms"`
	SettleRetries  int           `env:"SETTLE_RETRIES" env-default:"4"`

	LogLevel  string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat string `env:"LOG_FORMAT" env-default:"json"`
}

// Load reads configuration from environment variables, applying defaults and validation.
func Load() (Config, error) {
	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	cfg.LedgerMode = strings.ToLower(strings.TrimSpace(cfg.LedgerMode))

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TMDBAPIKey == "" {
		return fmt.Errorf("TMDB_API_KEY is required")
	}
	if c.TMDBTimeout <= 0 {
		return fmt.Errorf("TMDB_TIMEOUT must be positive")
	}
	if c.TMDBRatePerSec <= 0 {
		return fmt.Errorf("TMDB_RATE_PER_SEC must be positive")
	}
	if c.TMDBCacheSize < 0 {
		return fmt.Errorf("TMDB_CACHE_SIZE must be non-negative")
	}

	switch c.LedgerMode {
	case LedgerModeSim:
	case LedgerModeRPC:
		if c.LedgerRPCURL == "" {
			return fmt.Errorf("LEDGER_RPC_URL is required in rpc mode")
		}
		if !common.IsHexAddress(c.ContractAddress) {
			return fmt.Errorf("LEDGER_CONTRACT_ADDRESS must be a hex address in rpc mode")
		}
		if c.ChainID <= 0 {
			return fmt.Errorf("LEDGER_CHAIN_ID must be positive")
		}
	default:
		return fmt.Errorf("LEDGER_MODE must be %q or %q", LedgerModeRPC, LedgerModeSim)
	}

	if c.ConfirmTimeout <= 0 {
		return fmt.Errorf("CONFIRM_TIMEOUT must be positive")
	}
	if c.ConfirmPoll <= 0 || c.ConfirmPoll > c.ConfirmTimeout {
		return fmt.Errorf("CONFIRM_POLL must be positive and not exceed CONFIRM_TIMEOUT")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("SETTLE_DELAY must be non-negative")
	}
	if c.SettleBackoff <= 0 {
		return fmt.Errorf("SETTLE_BACKOFF must be positive")
	}
	if c.SettleRetries < 0 {
		return fmt.Errorf("SETTLE_RETRIES must be non-negative")
	}

	if c.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if c.DBStatementCache < 0 {
		return fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	return nil
}

// PersistenceEnabled reports whether a database is configured.
func (c Config) PersistenceEnabled() bool {
	return c.DBURL != ""
}
