package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Config struct {
	RpcURL        string
	DbURL         string
	ChainID       int64
	HotWalletKey  string
	APIPort       int
	StartBlock    uint64
	GasLimitBump  uint64 // percent applied on top of eth_estimateGas
	KafkaBroker   string
	KafkaTopic    string
	KafkaRecTopic string

	VaultManagerAddress   common.Address
	BasketManagerAddress  common.Address
	BasketOracleAddress   common.Address
	PositionReaderAddress common.Address

	PollInterval         time.Duration
	ErrorPollInterval    time.Duration
	MaxErrorPollInterval time.Duration
	RPCTimeout           time.Duration
	ReceiptTimeout       time.Duration
	RebalanceCooldown    time.Duration
	NAVUpdateInterval    time.Duration
}

// NewConfig loads configuration from environment variables
func NewConfig() *Config {
	// .env is optional in containers
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Could not load .env file: %v", err)
	}

	return &Config{
		RpcURL:        getEnvOrFatal("RPC_URL"),
		DbURL:         getEnvOrFatal("DB_URL"),
		ChainID:       int64(getEnvUint64("CHAIN_ID", 42161)),
		HotWalletKey:  getEnvOrFatal("HOT_WALLET_PRIVATE_KEY"),
		APIPort:       getEnvInt("API_PORT", 8080),
		StartBlock:    getEnvUint64("START_BLOCK", 0),
		GasLimitBump:  getEnvUint64("GAS_LIMIT_MULTIPLIER_PCT", 120),
		KafkaBroker:   getEnvOrFatal("KAFKA_BROKER"),
		KafkaTopic:    getEnvOrDefault("KAFKA_EVENTS_TOPIC", "shield-protocol-events"),
		KafkaRecTopic: getEnvOrDefault("KAFKA_RECOMMENDATIONS_TOPIC", "shield-weight-recommendations"),

		VaultManagerAddress:   getEnvAddress("VAULT_MANAGER_CONTRACT_ADDRESS"),
		BasketManagerAddress:  getEnvAddress("BASKET_MANAGER_CONTRACT_ADDRESS"),
		BasketOracleAddress:   getEnvAddress("BASKET_ORACLE_CONTRACT_ADDRESS"),
		PositionReaderAddress: getEnvAddress("POSITION_READER_CONTRACT_ADDRESS"),

		PollInterval:         getEnvDuration("POLL_INTERVAL", 15*time.Second),
		ErrorPollInterval:    getEnvDuration("ERROR_POLL_INTERVAL", 60*time.Second),
		MaxErrorPollInterval: getEnvDuration("MAX_ERROR_POLL_INTERVAL", 10*time.Minute),
		RPCTimeout:           getEnvDuration("RPC_TIMEOUT", 20*time.Second),
		ReceiptTimeout:       getEnvDuration("RECEIPT_TIMEOUT", 3*time.Minute),
		RebalanceCooldown:    getEnvDuration("REBALANCE_COOLDOWN", 300*time.Second),
		NAVUpdateInterval:    getEnvDuration("NAV_UPDATE_INTERVAL", 300*time.Second),
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	zero := common.Address{}
	for name, addr := range map[string]common.Address{
		"VAULT_MANAGER_CONTRACT_ADDRESS":   c.VaultManagerAddress,
		"BASKET_MANAGER_CONTRACT_ADDRESS":  c.BasketManagerAddress,
		"BASKET_ORACLE_CONTRACT_ADDRESS":   c.BasketOracleAddress,
		"POSITION_READER_CONTRACT_ADDRESS": c.PositionReaderAddress,
	} {
		if addr == zero {
			return fmt.Errorf("%s must be a non-zero address", name)
		}
	}

	for name, d := range map[string]time.Duration{
		"POLL_INTERVAL":           c.PollInterval,
		"ERROR_POLL_INTERVAL":     c.ErrorPollInterval,
		"MAX_ERROR_POLL_INTERVAL": c.MaxErrorPollInterval,
		"RPC_TIMEOUT":             c.RPCTimeout,
		"RECEIPT_TIMEOUT":         c.ReceiptTimeout,
		"REBALANCE_COOLDOWN":      c.RebalanceCooldown,
		"NAV_UPDATE_INTERVAL":     c.NAVUpdateInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.MaxErrorPollInterval < c.ErrorPollInterval {
		return fmt.Errorf("MAX_ERROR_POLL_INTERVAL (%s) is below ERROR_POLL_INTERVAL (%s)", c.MaxErrorPollInterval, c.ErrorPollInterval)
	}

	if c.GasLimitBump < 100 {
		return fmt.Errorf("GAS_LIMIT_MULTIPLIER_PCT must be at least 100, got %d", c.GasLimitBump)
	}

	return nil
}

func getEnvOrFatal(key string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	log.Fatalf("Warning: environment variable %s not set", key)

	return ""
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAddress(key string) common.Address {
	value := getEnvOrFatal(key)
	if !common.IsHexAddress(value) {
		log.Fatalf("environment variable %s is not a hex address: %q", key, value)
	}
	return common.HexToAddress(value)
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseUint(value, 10, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("300").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		return parsed
	}
	if secs, err := strconv.ParseUint(value, 10, 64); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
