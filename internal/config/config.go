package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"tiershift/internal/relocate"
	"tiershift/internal/worker"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Command selects which section a configuration is validated for
type Command string

const (
	CommandRun    Command = "run"
	CommandStatus Command = "status"
	CommandCopy   Command = "copy"
	CommandCerts  Command = "certs"
	CommandExport Command = "export"
)

// Config represents the application configuration
type Config struct {
	Database  Database            `yaml:"database"`
	Tiers     relocate.TierConfig `yaml:"tiers"`
	Migration Migration           `yaml:"migration"`
	Metrics   Metrics             `yaml:"metrics"`
	Copy      Copy                `yaml:"copy"`
	Certs     Certs               `yaml:"certs"`
	Export    Export              `yaml:"export"`
	LogLevel  string              `yaml:"log_level"`
	EnvFile   string              `yaml:"env_file"`
}

// Database is the PostgreSQL database whose tables are relocated
type Database struct {
	DSN string `yaml:"dsn"`
}

// Migration represents migration-specific configuration
type Migration struct {
	Ledger         string   `yaml:"ledger"`
	Concurrency    int      `yaml:"concurrency"`
	FailurePolicy  string   `yaml:"failure_policy"`
	MinSizeBytes   int64    `yaml:"min_size_bytes"`
	IncludeSchemas []string `yaml:"include_schemas"`
	ExcludeSchemas []string `yaml:"exclude_schemas"`
	ShowProgress   bool     `yaml:"show_progress"`
}

// Metrics configures the Prometheus endpoint; an empty Listen disables it
type Metrics struct {
	Listen string `yaml:"listen"`
}

// Copy configures the bulk table copy command
type Copy struct {
	SourceDSN      string        `yaml:"source_dsn"`
	DestinationDSN string        `yaml:"destination_dsn"`
	SourceQuery    string        `yaml:"source_query"`
	Destination    string        `yaml:"destination"`
	BatchSize      int           `yaml:"batch_size"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Certs configures certificate inventory collection
type Certs struct {
	Hosts       []string      `yaml:"hosts"`
	Port        int           `yaml:"port"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
	SinkDSN     string        `yaml:"sink_dsn"`
	SinkTable   string        `yaml:"sink_table"`
}

// Export configures the external export process
type Export struct {
	Command  string         `yaml:"command"`
	Args     []string       `yaml:"args"`
	Timeout  time.Duration  `yaml:"timeout"`
	Database ExportDatabase `yaml:"database"`
	S3       S3Config       `yaml:"s3"`
}

// ExportDatabase holds the connection parameters handed to the export process
type ExportDatabase struct {
	Type     string `yaml:"type"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	AuthMode string `yaml:"auth_mode"`
}

// S3Config represents S3-compatible storage configuration
type S3Config struct {
	Endpoint     string `yaml:"endpoint"`
	Region       string `yaml:"region"`
	Path         string `yaml:"path"`
	AccessKey    string `yaml:"access_key"`
	SecretKey    string `yaml:"secret_key"`
	SessionToken string `yaml:"session_token"`
	Secure       bool   `yaml:"secure"`
}

// Environment variables that carry secrets
const (
	EnvDatabaseDSN       = "TIERSHIFT_DATABASE_DSN"
	EnvCopySourceDSN     = "TIERSHIFT_COPY_SOURCE_DSN"
	EnvCopyTargetDSN     = "TIERSHIFT_COPY_DESTINATION_DSN"
	EnvCertsSinkDSN      = "TIERSHIFT_CERTS_SINK_DSN"
	EnvExportDBPassword  = "TIERSHIFT_EXPORT_DB_PASSWORD"
	EnvExportS3AccessKey = "TIERSHIFT_S3_ACCESS_KEY"
	EnvExportS3SecretKey = "TIERSHIFT_S3_SECRET_KEY"
	EnvExportS3Token     = "TIERSHIFT_S3_SESSION_TOKEN"
)

// Default returns the configuration used before any file or flag applies
func Default() *Config {
	return &Config{
		LogLevel: "info",
		EnvFile:  ".env",
		Tiers: relocate.TierConfig{
			Default:     relocate.DefaultTier,
			Parallelism: 2,
		},
		Migration: Migration{
			Ledger:        "./tiershift.db",
			Concurrency:   1,
			FailurePolicy: string(worker.PolicyContinue),
			ShowProgress:  true,
		},
		Copy: Copy{
			BatchSize: 10000,
			Timeout:   time.Hour,
		},
		Certs: Certs{
			Port:        443,
			Concurrency: 16,
			Timeout:     10 * time.Second,
			SinkTable:   "certificate_inventory",
		},
		Export: Export{
			Command: "duckdb-export",
			Timeout: 2 * time.Hour,
			Database: ExportDatabase{
				Type:     "postgresql",
				Port:     5432,
				AuthMode: "password",
			},
			S3: S3Config{
				Endpoint: "s3.amazonaws.com",
				Region:   "us-east-1",
				Secure:   true,
			},
		},
	}
}

// Load loads configuration from file, environment and command line flags,
// in increasing order of precedence, and validates it for command.
func Load(configFile string, flags *pflag.FlagSet, command Command) (*Config, error) {
	cfg := Default()

	// Load from YAML file if provided
	if configFile != "" {
		if err := loadFromFile(cfg, configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if flags != nil && flags.Changed("env-file") {
		cfg.EnvFile, _ = flags.GetString("env-file")
	}
	if err := loadFromEnv(cfg, cfg.EnvFile); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	// Override with command line flags
	if flags != nil {
		loadFromFlags(cfg, flags)
	}

	// Validate configuration
	if err := cfg.validate(command); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// loadFromEnv applies secrets from the dotenv file, then from the process
// environment. A missing dotenv file is not an error.
func loadFromEnv(cfg *Config, envFile string) error {
	values := map[string]string{}
	if envFile != "" {
		if info, err := os.Stat(envFile); err == nil && !info.IsDir() {
			values, err = godotenv.Read(envFile)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", envFile, err)
			}
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to access %s: %w", envFile, err)
		}
	}

	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			return v, true
		}
		v, ok := values[key]
		return v, ok && v != ""
	}

	targets := map[string]*string{
		EnvDatabaseDSN:       &cfg.Database.DSN,
		EnvCopySourceDSN:     &cfg.Copy.SourceDSN,
		EnvCopyTargetDSN:     &cfg.Copy.DestinationDSN,
		EnvCertsSinkDSN:      &cfg.Certs.SinkDSN,
		EnvExportDBPassword:  &cfg.Export.Database.Password,
		EnvExportS3AccessKey: &cfg.Export.S3.AccessKey,
		EnvExportS3SecretKey: &cfg.Export.S3.SecretKey,
		EnvExportS3Token:     &cfg.Export.S3.SessionToken,
	}
	for key, dst := range targets {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	return nil
}

func loadFromFlags(cfg *Config, flags *pflag.FlagSet) {
	if flags.Changed("log-level") {
		cfg.LogLevel, _ = flags.GetString("log-level")
	}
	if flags.Changed("dsn") {
		cfg.Database.DSN, _ = flags.GetString("dsn")
	}
	if flags.Changed("ledger") {
		cfg.Migration.Ledger, _ = flags.GetString("ledger")
	}

	if flags.Changed("secondary-tier") {
		cfg.Tiers.Secondary, _ = flags.GetString("secondary-tier")
	}
	if flags.Changed("default-tier") {
		cfg.Tiers.Default, _ = flags.GetString("default-tier")
	}
	if flags.Changed("parallelism") {
		cfg.Tiers.Parallelism, _ = flags.GetInt("parallelism")
	}

	if flags.Changed("concurrency") {
		cfg.Migration.Concurrency, _ = flags.GetInt("concurrency")
	}
	if flags.Changed("failure-policy") {
		cfg.Migration.FailurePolicy, _ = flags.GetString("failure-policy")
	}
	if flags.Changed("min-size") {
		cfg.Migration.MinSizeBytes, _ = flags.GetInt64("min-size")
	}
	if flags.Changed("include-schema") {
		cfg.Migration.IncludeSchemas, _ = flags.GetStringSlice("include-schema")
	}
	if flags.Changed("exclude-schema") {
		cfg.Migration.ExcludeSchemas, _ = flags.GetStringSlice("exclude-schema")
	}
	if flags.Changed("show-progress") {
		cfg.Migration.ShowProgress, _ = flags.GetBool("show-progress")
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Listen, _ = flags.GetString("metrics-listen")
	}

	if flags.Changed("source-dsn") {
		cfg.Copy.SourceDSN, _ = flags.GetString("source-dsn")
	}
	if flags.Changed("destination-dsn") {
		cfg.Copy.DestinationDSN, _ = flags.GetString("destination-dsn")
	}
	if flags.Changed("query") {
		cfg.Copy.SourceQuery, _ = flags.GetString("query")
	}
	if flags.Changed("destination") {
		cfg.Copy.Destination, _ = flags.GetString("destination")
	}
	if flags.Changed("batch-size") {
		cfg.Copy.BatchSize, _ = flags.GetInt("batch-size")
	}
	if flags.Changed("timeout") {
		timeout, _ := flags.GetDuration("timeout")
		cfg.Copy.Timeout = timeout
		cfg.Certs.Timeout = timeout
		cfg.Export.Timeout = timeout
	}

	if flags.Changed("host") {
		cfg.Certs.Hosts, _ = flags.GetStringSlice("host")
	}
	if flags.Changed("port") {
		cfg.Certs.Port, _ = flags.GetInt("port")
	}
	if flags.Changed("max-concurrency") {
		cfg.Certs.Concurrency, _ = flags.GetInt("max-concurrency")
	}
	if flags.Changed("sink-dsn") {
		cfg.Certs.SinkDSN, _ = flags.GetString("sink-dsn")
	}
	if flags.Changed("sink-table") {
		cfg.Certs.SinkTable, _ = flags.GetString("sink-table")
	}

	if flags.Changed("command") {
		cfg.Export.Command, _ = flags.GetString("command")
	}
	if flags.Changed("s3-path") {
		cfg.Export.S3.Path, _ = flags.GetString("s3-path")
	}
	if flags.Changed("s3-endpoint") {
		cfg.Export.S3.Endpoint, _ = flags.GetString("s3-endpoint")
	}
}

func (c *Config) validate(command Command) error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q", c.LogLevel)
	}

	switch command {
	case CommandRun:
		if c.Database.DSN == "" {
			return fmt.Errorf("database dsn is required (flag --dsn or %s)", EnvDatabaseDSN)
		}
		if c.Tiers.Secondary == "" {
			return fmt.Errorf("secondary tier is required")
		}
		if c.Tiers.Secondary == c.Tiers.Default {
			return fmt.Errorf("secondary tier must differ from the default tier")
		}
		if c.Tiers.Parallelism < 0 {
			return fmt.Errorf("parallelism must not be negative")
		}
		if err := c.validateLedger(); err != nil {
			return err
		}
		if c.Migration.Concurrency <= 0 {
			return fmt.Errorf("concurrency must be positive")
		}
		if _, err := worker.ParseFailurePolicy(c.Migration.FailurePolicy); err != nil {
			return err
		}
		if c.Migration.MinSizeBytes < 0 {
			return fmt.Errorf("min size must not be negative")
		}

	case CommandStatus:
		return c.validateLedger()

	case CommandCopy:
		if c.Copy.SourceDSN == "" || c.Copy.DestinationDSN == "" {
			return fmt.Errorf("copy source and destination dsn are required")
		}
		if strings.TrimSpace(c.Copy.SourceQuery) == "" {
			return fmt.Errorf("copy source query is required")
		}
		if c.Copy.Destination == "" {
			return fmt.Errorf("copy destination table is required")
		}
		if c.Copy.BatchSize <= 0 {
			return fmt.Errorf("batch size must be positive")
		}
		if c.Copy.Timeout <= 0 {
			return fmt.Errorf("copy timeout must be positive")
		}

	case CommandCerts:
		if len(c.Certs.Hosts) == 0 {
			return fmt.Errorf("at least one host is required")
		}
		if c.Certs.Concurrency <= 0 {
			return fmt.Errorf("max concurrency must be positive")
		}
		if c.Certs.Port <= 0 || c.Certs.Port > 65535 {
			return fmt.Errorf("invalid port %d", c.Certs.Port)
		}

	case CommandExport:
		if c.Export.Command == "" {
			return fmt.Errorf("export command is required")
		}
		if c.Export.S3.Path == "" {
			return fmt.Errorf("export s3 path is required")
		}
		if c.Export.Timeout <= 0 {
			return fmt.Errorf("export timeout must be positive")
		}
	}

	return nil
}

func (c *Config) validateLedger() error {
	if c.Migration.Ledger == "" {
		return fmt.Errorf("ledger path is required")
	}
	return nil
}
