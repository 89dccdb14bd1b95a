package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"zone-position-engine/internal/analysis"
	"zone-position-engine/internal/coordinator"
	"zone-position-engine/internal/gateway"
	"zone-position-engine/internal/orchestrator"
	"zone-position-engine/internal/risk"
	"zone-position-engine/internal/zone"
)

// DefaultConfigFile is read by Load when no path is given
const DefaultConfigFile = "config.json"

type Config struct {
	Engine   EngineConfig   `json:"engine"`
	Logging  LoggingConfig  `json:"logging"`
	Server   ServerConfig   `json:"server"`
	Auth     AuthConfig     `json:"auth"`
	Redis    RedisConfig    `json:"redis"`
	Database DatabaseConfig `json:"database"`
	Vault    VaultConfig    `json:"vault"`
	Gateway  GatewayConfig  `json:"gateway"`
	Loop     LoopConfig     `json:"loop"`
}

// EngineConfig holds every threshold of the zone engine
type EngineConfig struct {
	Zones        zone.Config         `json:"zones"`
	Scoring      zone.ScoringConfig  `json:"scoring"`
	Analyzer     analysis.Config     `json:"analyzer"`
	Coordinator  coordinator.Config  `json:"coordinator"`
	Gate         risk.GateConfig     `json:"gate"`
	Orchestrator orchestrator.Config `json:"orchestrator"`
}

type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Enabled         bool   `json:"enabled"`
	Port            int    `json:"port"`
	Host            string `json:"host"`
	AllowedOrigins  string `json:"allowed_origins"`  // CORS allowed origins, comma separated
	ReadTimeout     int    `json:"read_timeout"`     // Seconds
	WriteTimeout    int    `json:"write_timeout"`    // Seconds
	ShutdownTimeout int    `json:"shutdown_timeout"` // Seconds
}

// AuthConfig holds API authentication configuration
type AuthConfig struct {
	Enabled             bool          `json:"enabled"`
	JWTSecret           string        `json:"jwt_secret"`
	Issuer              string        `json:"issuer"`
	AccessTokenDuration time.Duration `json:"access_token_duration"`
}

// RedisConfig holds Redis configuration for the shared plan registry
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig holds PostgreSQL configuration for the decision journal
type DatabaseConfig struct {
	Enabled       bool   `json:"enabled"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	User          string `json:"user"`
	Password      string `json:"password"`
	Name          string `json:"name"`
	SSLMode       string `json:"ssl_mode"`
	MaxConns      int    `json:"max_conns"`
	RetentionDays int    `json:"retention_days"` // 0 keeps the journal forever
}

// VaultConfig holds HashiCorp Vault configuration
type VaultConfig struct {
	Enabled    bool   `json:"enabled"`
	Address    string `json:"address"`
	Token      string `json:"token"`
	MountPath  string `json:"mount_path"`  // KV v2 secrets engine mount path
	SecretPath string `json:"secret_path"` // Path of the engine secret
	TLSEnabled bool   `json:"tls_enabled"`
	CACert     string `json:"ca_cert"`
}

// GatewayConfig selects and protects the execution gateway
type GatewayConfig struct {
	Mode  string               `json:"mode"` // "paper" is the only built-in adapter
	Guard gateway.GuardConfig `json:"guard"`
}

// LoopConfig holds decision loop configuration
type LoopConfig struct {
	Enabled      bool          `json:"enabled"`
	Interval     time.Duration `json:"interval"`
	AutoExecute  bool          `json:"auto_execute"`
	SnapshotPath string        `json:"snapshot_path"`
}

// DefaultEngineConfig returns the production engine thresholds
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Zones:        zone.DefaultConfig(),
		Scoring:      zone.DefaultScoringConfig(),
		Analyzer:     analysis.DefaultConfig(),
		Coordinator:  coordinator.DefaultConfig(),
		Gate:         risk.DefaultGateConfig(),
		Orchestrator: orchestrator.DefaultConfig(),
	}
}

// Default returns a complete configuration with every default applied
func Default() *Config {
	loop := orchestrator.DefaultLoopConfig()
	return &Config{
		Engine: DefaultEngineConfig(),
		Logging: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8090,
			Host:            "0.0.0.0",
			AllowedOrigins:  "*",
			ReadTimeout:     30,
			WriteTimeout:    30,
			ShutdownTimeout: 10,
		},
		Auth: AuthConfig{
			Issuer:              "zone-position-engine",
			AccessTokenDuration: 24 * time.Hour,
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			PoolSize: 10,
		},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "zones",
			Name:     "zone_engine",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Vault: VaultConfig{
			Address:    "http://localhost:8200",
			MountPath:  "secret",
			SecretPath: "zone-engine",
		},
		Gateway: GatewayConfig{
			Mode:  "paper",
			Guard: gateway.DefaultGuardConfig(),
		},
		Loop: LoopConfig{
			Enabled:      true,
			Interval:     loop.Interval,
			AutoExecute:  loop.AutoExecute,
			SnapshotPath: "positions.json",
		},
	}
}

// LoadEnvFiles loads .env files; missing files are ignored and existing variables win
func LoadEnvFiles(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load reads path (config.json when empty) over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFile
	}
	cfg, err := loadFromFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg = Default()
	}

	// Environment variables take precedence
	applyEnvOverrides(cfg)
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the config
func applyEnvOverrides(cfg *Config) {
	// Logging config
	cfg.Logging.Level = getEnvOrDefault("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Output = getEnvOrDefault("LOG_OUTPUT", cfg.Logging.Output)
	cfg.Logging.JSONFormat = getEnvBoolOrDefault("LOG_JSON", cfg.Logging.JSONFormat)
	cfg.Logging.IncludeFile = getEnvBoolOrDefault("LOG_INCLUDE_FILE", cfg.Logging.IncludeFile)

	// Server config
	cfg.Server.Enabled = getEnvBoolOrDefault("SERVER_ENABLED", cfg.Server.Enabled)
	cfg.Server.Port = getEnvIntOrDefault("WEB_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnvOrDefault("WEB_HOST", cfg.Server.Host)
	cfg.Server.AllowedOrigins = getEnvOrDefault("SERVER_ALLOWED_ORIGINS", cfg.Server.AllowedOrigins)
	cfg.Server.ReadTimeout = getEnvIntOrDefault("SERVER_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvIntOrDefault("SERVER_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.ShutdownTimeout = getEnvIntOrDefault("SERVER_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	// Auth config
	cfg.Auth.Enabled = getEnvBoolOrDefault("AUTH_ENABLED", cfg.Auth.Enabled)
	cfg.Auth.JWTSecret = getEnvOrDefault("AUTH_JWT_SECRET", cfg.Auth.JWTSecret)
	cfg.Auth.Issuer = getEnvOrDefault("AUTH_ISSUER", cfg.Auth.Issuer)
	cfg.Auth.AccessTokenDuration = getEnvDurationOrDefault("AUTH_ACCESS_TOKEN_DURATION", cfg.Auth.AccessTokenDuration)

	// Redis config
	cfg.Redis.Enabled = getEnvBoolOrDefault("REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Address = getEnvOrDefault("REDIS_ADDR", cfg.Redis.Address)
	cfg.Redis.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvIntOrDefault("REDIS_DB", cfg.Redis.DB)

	// Database config
	cfg.Database.Enabled = getEnvBoolOrDefault("DB_ENABLED", cfg.Database.Enabled)
	cfg.Database.Host = getEnvOrDefault("DB_HOST", cfg.Database.Host)
	cfg.Database.Port = getEnvIntOrDefault("DB_PORT", cfg.Database.Port)
	cfg.Database.User = getEnvOrDefault("DB_USER", cfg.Database.User)
	cfg.Database.Password = getEnvOrDefault("DB_PASSWORD", cfg.Database.Password)
	cfg.Database.Name = getEnvOrDefault("DB_NAME", cfg.Database.Name)
	cfg.Database.SSLMode = getEnvOrDefault("DB_SSLMODE", cfg.Database.SSLMode)
	cfg.Database.RetentionDays = getEnvIntOrDefault("DB_RETENTION_DAYS", cfg.Database.RetentionDays)

	// Vault config
	cfg.Vault.Enabled = getEnvBoolOrDefault("VAULT_ENABLED", cfg.Vault.Enabled)
	cfg.Vault.Address = getEnvOrDefault("VAULT_ADDR", cfg.Vault.Address)
	cfg.Vault.Token = getEnvOrDefault("VAULT_TOKEN", cfg.Vault.Token)
	cfg.Vault.MountPath = getEnvOrDefault("VAULT_MOUNT_PATH", cfg.Vault.MountPath)
	cfg.Vault.SecretPath = getEnvOrDefault("VAULT_SECRET_PATH", cfg.Vault.SecretPath)
	cfg.Vault.TLSEnabled = getEnvBoolOrDefault("VAULT_TLS_ENABLED", cfg.Vault.TLSEnabled)
	cfg.Vault.CACert = getEnvOrDefault("VAULT_CACERT", cfg.Vault.CACert)

	// Gateway and loop config
	cfg.Gateway.Mode = getEnvOrDefault("GATEWAY_MODE", cfg.Gateway.Mode)
	cfg.Gateway.Guard.RequestsPerSecond = getEnvFloatOrDefault("GATEWAY_REQUESTS_PER_SECOND", cfg.Gateway.Guard.RequestsPerSecond)
	cfg.Gateway.Guard.Timeout = getEnvDurationOrDefault("GATEWAY_TIMEOUT", cfg.Gateway.Guard.Timeout)
	cfg.Loop.Enabled = getEnvBoolOrDefault("LOOP_ENABLED", cfg.Loop.Enabled)
	cfg.Loop.Interval = getEnvDurationOrDefault("LOOP_INTERVAL", cfg.Loop.Interval)
	cfg.Loop.AutoExecute = getEnvBoolOrDefault("LOOP_AUTO_EXECUTE", cfg.Loop.AutoExecute)
	cfg.Loop.SnapshotPath = getEnvOrDefault("SNAPSHOT_PATH", cfg.Loop.SnapshotPath)

	// Engine thresholds most often tuned per deployment
	cfg.Engine.Zones.ZoneWidth = getEnvFloatOrDefault("ZONE_WIDTH", cfg.Engine.Zones.ZoneWidth)
	cfg.Engine.Gate.MaxProfitDrawdown = getEnvFloatOrDefault("GATE_MAX_PROFIT_DRAWDOWN", cfg.Engine.Gate.MaxProfitDrawdown)
	cfg.Engine.Gate.MinLossCoverage = getEnvFloatOrDefault("GATE_MIN_LOSS_COVERAGE", cfg.Engine.Gate.MinLossCoverage)
	cfg.Engine.Gate.MinRemainingPositions = getEnvIntOrDefault("GATE_MIN_REMAINING_POSITIONS", cfg.Engine.Gate.MinRemainingPositions)
	cfg.Engine.Gate.MinRealizedProfit = getEnvFloatOrDefault("GATE_MIN_REALIZED_PROFIT", cfg.Engine.Gate.MinRealizedProfit)
	cfg.Engine.Coordinator.MinSupportRatio = getEnvFloatOrDefault("SUPPORT_MIN_RATIO", cfg.Engine.Coordinator.MinSupportRatio)
}

// loadFromFile decodes the file over the defaults so partial files are valid
func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(file, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return config, nil
}

// Validate rejects configurations the engine cannot run with
func (c *Config) Validate() error {
	var errs []error

	if err := c.Engine.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.enabled requires auth.jwt_secret (or vault)"))
	}
	if c.Auth.Enabled && c.Auth.AccessTokenDuration <= 0 {
		errs = append(errs, errors.New("auth.access_token_duration must be positive"))
	}
	if c.Loop.Enabled {
		if c.Loop.Interval <= 0 {
			errs = append(errs, errors.New("loop.interval must be positive"))
		}
		if c.Loop.SnapshotPath == "" {
			errs = append(errs, errors.New("loop.snapshot_path is required when the loop is enabled"))
		}
	}
	if c.Gateway.Mode != "paper" {
		errs = append(errs, fmt.Errorf("gateway.mode %q is not supported", c.Gateway.Mode))
	}
	if c.Gateway.Guard.RequestsPerSecond <= 0 {
		errs = append(errs, errors.New("gateway.guard.requests_per_second must be positive"))
	}
	if c.Vault.Enabled && c.Vault.Address == "" {
		errs = append(errs, errors.New("vault.address is required when vault is enabled"))
	}
	return errors.Join(errs...)
}

// Validate checks the engine thresholds
func (e EngineConfig) Validate() error {
	var errs []error
	if err := e.Zones.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("zones: %w", err))
	}
	if err := e.Gate.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("gate: %w", err))
	}

	s := e.Scoring
	if !(s.WideBandLow <= s.ModerateBandLow && s.ModerateBandLow < s.ModerateBandHigh && s.ModerateBandHigh <= s.WideBandHigh) {
		errs = append(errs, errors.New("scoring: balance bands must nest inside [wide_band_low, wide_band_high]"))
	}
	if s.ProfitReserve < 0 || s.ProfitReserve >= 1 {
		errs = append(errs, fmt.Errorf("scoring.profit_reserve %.2f must be in [0,1)", s.ProfitReserve))
	}
	if s.CriticalLoss > s.TroubledLoss {
		errs = append(errs, errors.New("scoring.critical_loss must not exceed scoring.troubled_loss"))
	}

	a := e.Analyzer
	if a.SellHeavyRatio <= 0 || a.BuyHeavyRatio >= 1 || a.SellHeavyRatio >= a.BuyHeavyRatio {
		errs = append(errs, errors.New("analyzer: need 0 < sell_heavy_ratio < buy_heavy_ratio < 1"))
	}

	c := e.Coordinator
	if c.MinSupportRatio <= 0 {
		errs = append(errs, errors.New("coordinator.min_support_ratio must be positive"))
	}
	if c.SuccessThreshold <= 0 || c.SuccessThreshold > 1 {
		errs = append(errs, errors.New("coordinator.success_threshold must be in (0,1]"))
	}

	o := e.Orchestrator
	if o.MinPositions < 1 {
		errs = append(errs, errors.New("orchestrator.min_positions must be at least 1"))
	}
	if o.TrendMinStrength < 0 || o.TrendMinStrength > 100 {
		errs = append(errs, errors.New("orchestrator.trend_min_strength must be in [0,100]"))
	}
	return errors.Join(errs...)
}

// Origins splits the CORS origin list
func (s ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(s.AllowedOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file
func GenerateSampleConfig(filename string) error {
	config := Default()
	config.Auth.JWTSecret = "change-me"
	config.Database.Password = "your_db_password_here"

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("error marshaling sample config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("error writing sample config: %w", err)
	}

	return nil
}
