package config

import (
	"balance-keeper/internal/models"
	"balance-keeper/internal/validation"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.yml"

// Config holds all configuration for the application
type Config struct {
	LogLevel        string
	GasLimit        uint64
	ShutdownTimeout time.Duration
	HealthAddr      string
	RPC             RPCConfig
	Monitor         MonitorConfig
	Restart         RestartConfig
	Kafka           KafkaConfig
	Collect         CollectConfig
	Maintain        MaintainConfig
}

// RPCConfig holds node client configuration
type RPCConfig struct {
	Endpoint            string
	RateLimit           float64
	MaxRetries          int
	RetryDelay          time.Duration
	ReceiptPollInterval time.Duration
	ConfirmTimeout      time.Duration
}

type MonitorConfig struct {
	Dispatch         string
	QueryConcurrency int
	DedupeInflight   bool
}

// RestartConfig controls how the monitor is restarted after failures.
type RestartConfig struct {
	Backoff     string
	Delay       time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
}

// KafkaConfig holds Kafka configuration
type KafkaConfig struct {
	Enabled       bool
	BrokerAddress string
	Topic         string
	BatchSize     int
	BatchTimeout  time.Duration
}

type CollectConfig struct {
	Endpoint      string
	TargetAddress string
	PrivateKeys   []string
	Reserve       string
	Trigger       string
}

type MaintainConfig struct {
	Endpoint         string
	FaucetPrivateKey string
	PrivateKeys      []string
	RangeLower       string
	RangeUpper       string
}

// fileConfig mirrors the config.yml layout.
type fileConfig struct {
	EthCollect struct {
		Endpoint           string   `yaml:"endpoint"`
		TargetAddress      string   `yaml:"targetAddress"`
		CollectPrivateKeys []string `yaml:"collectPrivateKeys"`
		Reserve            string   `yaml:"reserve"`
		Trigger            string   `yaml:"trigger"`
	} `yaml:"eth-collect"`
	RinkebyMaintenance struct {
		Endpoint                string   `yaml:"endpoint"`
		FaucetAccountPrivateKey string   `yaml:"faucetAccountPrivateKey"`
		MaintainPrivateKeys     []string `yaml:"maintainPrivateKeys"`
		BalanceRange            struct {
			Lower  string `yaml:"lower"`
			Higher string `yaml:"higher"`
		} `yaml:"balanceRange"`
	} `yaml:"rinkeby-maintenance"`
}

// Load loads configuration from the YAML file at path, then from
// environment variables, which take precedence. An empty path falls back to
// CONFIG_FILE and then to config.yml when it exists.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		// Not fatal, as env vars might be set externally
	}

	var file fileConfig
	if path == "" {
		path = getEnv("CONFIG_FILE", "")
	}
	explicit := path != ""
	if !explicit {
		path = defaultConfigFile
	}
	if err := readFile(path, &file); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	config := &Config{
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		GasLimit:        uint64(getEnvAsInt("GAS_LIMIT", 21000)),
		ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		HealthAddr:      getEnvOrEmpty("HEALTH_ADDR", ":8080"),
		RPC: RPCConfig{
			Endpoint:            getEnv("RPC_ENDPOINT", ""),
			RateLimit:           getEnvAsFloat("RPC_RATE_LIMIT", 20),
			MaxRetries:          getEnvAsInt("MAX_RETRIES", 1),
			RetryDelay:          getEnvAsDuration("RETRY_DELAY", time.Second),
			ReceiptPollInterval: getEnvAsDuration("RECEIPT_POLL_INTERVAL", 3*time.Second),
			ConfirmTimeout:      getEnvAsDuration("CONFIRM_TIMEOUT", 10*time.Minute),
		},
		Monitor: MonitorConfig{
			Dispatch:         getEnv("BLOCK_DISPATCH", "serial"),
			QueryConcurrency: getEnvAsInt("BALANCE_QUERY_CONCURRENCY", 8),
			DedupeInflight:   getEnvAsBool("DEDUPE_INFLIGHT", true),
		},
		Restart: RestartConfig{
			Backoff:     getEnv("RESTART_BACKOFF", "fixed"),
			Delay:       getEnvAsDuration("RESTART_DELAY", 5*time.Second),
			MaxDelay:    getEnvAsDuration("RESTART_MAX_DELAY", time.Minute),
			MaxAttempts: getEnvAsInt("RESTART_MAX_ATTEMPTS", 0),
		},
		Kafka: KafkaConfig{
			Enabled:       getEnvAsBool("KAFKA_ENABLED", false),
			BrokerAddress: getEnv("KAFKA_BROKER_ADDRESS", "localhost:9092"),
			Topic:         getEnv("KAFKA_TOPIC", "balance-keeper-events"),
			BatchSize:     getEnvAsInt("KAFKA_BATCH_SIZE", 10),
			BatchTimeout:  getEnvAsDuration("KAFKA_BATCH_TIMEOUT", 10*time.Millisecond),
		},
		Collect: CollectConfig{
			Endpoint:      file.EthCollect.Endpoint,
			TargetAddress: getEnv("COLLECT_TARGET_ADDRESS", file.EthCollect.TargetAddress),
			PrivateKeys:   getEnvAsList("COLLECT_PRIVATE_KEYS", file.EthCollect.CollectPrivateKeys),
			Reserve:       getEnv("COLLECT_RESERVE", withDefault(file.EthCollect.Reserve, "0")),
			Trigger:       getEnv("COLLECT_TRIGGER", withDefault(file.EthCollect.Trigger, "newBlock")),
		},
		Maintain: MaintainConfig{
			Endpoint:         file.RinkebyMaintenance.Endpoint,
			FaucetPrivateKey: getEnv("FAUCET_PRIVATE_KEY", file.RinkebyMaintenance.FaucetAccountPrivateKey),
			PrivateKeys:      getEnvAsList("MAINTAIN_PRIVATE_KEYS", file.RinkebyMaintenance.MaintainPrivateKeys),
			RangeLower:       getEnv("BALANCE_RANGE_LOWER", file.RinkebyMaintenance.BalanceRange.Lower),
			RangeUpper:       getEnv("BALANCE_RANGE_UPPER", file.RinkebyMaintenance.BalanceRange.Higher),
		},
	}

	return config, nil
}

func readFile(path string, out *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// CollectEndpoint is RPC_ENDPOINT, else the eth-collect endpoint, else the
// local default.
func (c *Config) CollectEndpoint() string {
	return firstNonEmpty(c.RPC.Endpoint, c.Collect.Endpoint, "ws://localhost:8546")
}

func (c *Config) MaintainEndpoint() string {
	return firstNonEmpty(c.RPC.Endpoint, c.Maintain.Endpoint, "ws://localhost:8546")
}

// ValidateCollect checks everything the collect command needs.
func (c *Config) ValidateCollect() error {
	errs := []error{c.validateCommon(c.CollectEndpoint())}

	if err := validation.ValidateAddress(c.Collect.TargetAddress); err != nil {
		errs = append(errs, fmt.Errorf("collect target address: %w", err))
	}
	errs = append(errs, validateKeys("collect private keys", c.Collect.PrivateKeys))
	if _, err := c.CollectReserve(); err != nil {
		errs = append(errs, err)
	}
	switch c.Collect.Trigger {
	case "newBlock", "balanceChange":
	default:
		errs = append(errs, fmt.Errorf("collect trigger must be newBlock or balanceChange, got %q", c.Collect.Trigger))
	}

	return errors.Join(errs...)
}

// ValidateMaintain checks everything the maintain command needs.
func (c *Config) ValidateMaintain() error {
	errs := []error{c.validateCommon(c.MaintainEndpoint())}

	if err := validation.ValidatePrivateKey(c.Maintain.FaucetPrivateKey); err != nil {
		errs = append(errs, fmt.Errorf("faucet private key: %w", err))
	}
	errs = append(errs, validateKeys("maintain private keys", c.Maintain.PrivateKeys))
	if _, err := c.BalanceRange(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c *Config) validateCommon(endpoint string) error {
	var errs []error
	if err := validation.ValidateURL(endpoint); err != nil {
		errs = append(errs, fmt.Errorf("rpc endpoint: %w", err))
	} else if !validation.IsWebsocketURL(endpoint) {
		errs = append(errs, fmt.Errorf("rpc endpoint %s does not support subscriptions, use ws:// or wss://", endpoint))
	}
	if c.GasLimit == 0 {
		errs = append(errs, errors.New("gas limit must be positive"))
	}
	switch c.Monitor.Dispatch {
	case "serial", "concurrent":
	default:
		errs = append(errs, fmt.Errorf("block dispatch must be serial or concurrent, got %q", c.Monitor.Dispatch))
	}
	switch c.Restart.Backoff {
	case "fixed", "exponential":
	default:
		errs = append(errs, fmt.Errorf("restart backoff must be fixed or exponential, got %q", c.Restart.Backoff))
	}
	return errors.Join(errs...)
}

func validateKeys(name string, keys []string) error {
	if len(keys) == 0 {
		return fmt.Errorf("%s: at least one key is required", name)
	}
	var errs []error
	for i, key := range keys {
		if err := validation.ValidatePrivateKey(key); err != nil {
			errs = append(errs, fmt.Errorf("%s[%d]: %w", name, i, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Config) CollectTarget() common.Address {
	return common.HexToAddress(c.Collect.TargetAddress)
}

func (c *Config) CollectReserve() (*big.Int, error) {
	reserve, err := parseWei(c.Collect.Reserve)
	if err != nil {
		return nil, fmt.Errorf("collect reserve: %w", err)
	}
	return reserve, nil
}

func (c *Config) CollectAccounts() ([]models.Account, error) {
	return accounts(c.Collect.PrivateKeys)
}

func (c *Config) MaintainAccounts() ([]models.Account, error) {
	return accounts(c.Maintain.PrivateKeys)
}

func (c *Config) FaucetAccount() (models.Account, error) {
	return models.NewAccountFromHex(c.Maintain.FaucetPrivateKey)
}

func (c *Config) BalanceRange() (models.ThresholdRange, error) {
	lower, err := parseWei(c.Maintain.RangeLower)
	if err != nil {
		return models.ThresholdRange{}, fmt.Errorf("balance range lower: %w", err)
	}
	upper, err := parseWei(c.Maintain.RangeUpper)
	if err != nil {
		return models.ThresholdRange{}, fmt.Errorf("balance range upper: %w", err)
	}
	if err := validation.ValidateRange(lower, upper); err != nil {
		return models.ThresholdRange{}, fmt.Errorf("%w: %w", models.ErrInvalidRange, err)
	}
	return models.NewThresholdRange(lower, upper)
}

func accounts(keys []string) ([]models.Account, error) {
	out := make([]models.Account, 0, len(keys))
	for i, key := range keys {
		acc, err := models.NewAccountFromHex(key)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		out = append(out, acc)
	}
	return out, nil
}

// parseWei parses a base 10 wei amount.
func parseWei(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, errors.New("amount is required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid wei amount %q", s)
	}
	if err := validation.ValidateAmount(v); err != nil {
		return nil, err
	}
	return v, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func withDefault(value, defaultValue string) string {
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrEmpty is getEnv, except that a variable set to "" wins over the default
func getEnvOrEmpty(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as int or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvAsFloat gets an environment variable as float64 or returns a default value
func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvAsBool gets an environment variable as bool or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1500ms") and plain seconds ("5").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping empty items.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
