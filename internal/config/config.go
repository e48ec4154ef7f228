package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the application configuration structure. The Chain and
// Refill sections map 1:1 onto the recognized cw* configuration keys.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	Chain    ChainConfig    `yaml:"chain"`
	Refill   RefillConfig   `yaml:"refill"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Hub      HubConfig      `yaml:"hub"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type DatabaseConfig struct {
	DSN string `yaml:"dsn"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// ChainConfig carries cwRpcHost..cwLowBalanceThreshold.
type ChainConfig struct {
	RPCHost        string `yaml:"cwRpcHost"`
	AddressPrefix  string `yaml:"cwAddressPrefix"`
	WalletMnemonic string `yaml:"cwWalletMnemonic"`
	GasPrice       string `yaml:"cwGasPrice"`
	Denom          string `yaml:"cwDenom"`
	Decimals       uint8  `yaml:"cwDecimals"`
	Symbol         string `yaml:"cwSymbol"`
	IsNativeToken  bool   `yaml:"cwIsNativeToken"`
	ContractAddr   string `yaml:"cwContractAddress"`
	GasAmount      string `yaml:"cwGasAmount"`
	GasLimit       uint64 `yaml:"cwGasLimit"`
	MinGasAmount   string `yaml:"cwMinGasAmount"`
	MinAmount      string `yaml:"cwMinAmount"`
	MaxAmount      string `yaml:"cwMaxAmount"`
	MaxPending     int    `yaml:"cwMaxPending"`
	MinBalance     string `yaml:"cwMinBalance"`
	LowBalance     string `yaml:"cwLowBalanceThreshold"`
}

// RefillConfig carries cwRefill*.
type RefillConfig struct {
	Enabled         bool   `yaml:"cwRefillEnabled"`
	Contract        string `yaml:"cwRefillContract"`
	Amount          string `yaml:"cwRefillAmount"`
	Threshold       string `yaml:"cwRefillThreshold"`
	OverflowAmount  string `yaml:"cwRefillOverflowAmount"`
	CooldownSeconds int    `yaml:"cwRefillCooldown"`
}

type PipelineConfig struct {
	TickInterval        time.Duration `yaml:"-"`
	ConfirmationTimeout time.Duration `yaml:"-"`
	HistoryRetention    time.Duration `yaml:"-"`
}

type HubConfig struct {
	PingInterval time.Duration `yaml:"-"`
	PingTimeout  time.Duration `yaml:"-"`
}

var AppConfig *Config

// LoadConfig reads configPath (falling back to config.local.yaml over
// config.yaml the way the teacher's loader does), then layers
// environment overrides on top.
func LoadConfig(configPath string) error {
	if configPath == "" {
		configPath = "config.yaml"
		if _, err := os.Stat("config.local.yaml"); err == nil {
			configPath = "config.local.yaml"
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	AppConfig = &cfg
	return nil
}

func applyDefaults(cfg *Config) {
	cfg.Pipeline.TickInterval = 2 * time.Second
	cfg.Pipeline.ConfirmationTimeout = 5 * time.Minute
	cfg.Pipeline.HistoryRetention = 30 * time.Minute
	cfg.Hub.PingInterval = 30 * time.Second
	cfg.Hub.PingTimeout = 120 * time.Second
	if cfg.Chain.MaxPending == 0 {
		cfg.Chain.MaxPending = 20
	}
	if cfg.Refill.CooldownSeconds == 0 {
		cfg.Refill.CooldownSeconds = 300
	}
}

// overrideFromEnv mirrors the teacher's env-override convention: a
// handful of well-known variables always win over the YAML file.
func overrideFromEnv(cfg *Config) {
	if dsn := os.Getenv("DATABASE_DSN"); dsn != "" {
		cfg.Database.DSN = dsn
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg.NATS.URL = natsURL
		cfg.NATS.Enabled = true
	}
	if rpc := os.Getenv("CW_RPC_HOST"); rpc != "" {
		cfg.Chain.RPCHost = rpc
	}
	if mnemonic := os.Getenv("CW_WALLET_MNEMONIC"); mnemonic != "" {
		cfg.Chain.WalletMnemonic = mnemonic
	}
	if gasPrice := os.Getenv("CW_GAS_PRICE"); gasPrice != "" {
		cfg.Chain.GasPrice = gasPrice
	}
	if maxPending := os.Getenv("CW_MAX_PENDING"); maxPending != "" {
		if n, err := strconv.Atoi(maxPending); err == nil {
			cfg.Chain.MaxPending = n
		}
	}
	if refillEnabled := os.Getenv("CW_REFILL_ENABLED"); refillEnabled != "" {
		cfg.Refill.Enabled = refillEnabled == "true"
	}
	if refillContract := os.Getenv("CW_REFILL_CONTRACT"); refillContract != "" {
		cfg.Refill.Contract = refillContract
	}
	if cooldown := os.Getenv("CW_REFILL_COOLDOWN"); cooldown != "" {
		if n, err := strconv.Atoi(cooldown); err == nil {
			cfg.Refill.CooldownSeconds = n
		}
	}
}
