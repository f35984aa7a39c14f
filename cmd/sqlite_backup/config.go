package main

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v2"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
	"github.com/benbjohnson/sqlite-backup/mattn"
	"github.com/benbjohnson/sqlite-backup/modernc"
	"github.com/benbjohnson/sqlite-backup/oss"
	"github.com/benbjohnson/sqlite-backup/s3"
)

// Supported engine drivers.
const (
	DriverModernc = "modernc"
	DriverMattn   = "mattn"

	DefaultDriver = DriverModernc
)

// Sentinel errors for configuration validation
var (
	ErrInvalidCopyRetry         = errors.New("copy retry must be >= 0")
	ErrInvalidDriver            = errors.New("unknown driver")
	ErrInvalidBusyTimeout       = errors.New("busy timeout must be >= 0")
	ErrInvalidBackupPages       = errors.New("backup pages must be >= 0")
	ErrInvalidBackupSleep       = errors.New("backup sleep must be >= 0")
	ErrInvalidLogType           = errors.New("log type must be \"text\" or \"json\"")
	ErrInvalidExportMaxRetries  = errors.New("export max retries must be >= -1")
	ErrInvalidExportRetryDelay  = errors.New("export retry delay must be >= 0")
	ErrInvalidExportConcurrency = errors.New("export concurrency must be greater than 0")
	ErrInvalidExportPartSize    = errors.New("export part size must be greater than 0")
	ErrConfigFileNotFound       = errors.New("config file not found")
)

// ConfigValidationError wraps a validation error with additional context
type ConfigValidationError struct {
	Err   error
	Field string
	Value interface{}
}

func (e *ConfigValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("%s: %v (got %v)", e.Field, e.Err, e.Value)
	}
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e *ConfigValidationError) Unwrap() error {
	return e.Err
}

// Config represents a configuration file for sqlite_backup. Every setting
// can also be given on the command line, which takes precedence.
type Config struct {
	WALCheckpoint   bool   `yaml:"wal-checkpoint"`
	CopyUseTempdir  bool   `yaml:"copy-use-tempdir"`
	CopyRetry       int    `yaml:"copy-retry"`
	CopyRetryStrict bool   `yaml:"copy-retry-strict"`
	CopyWatch       bool   `yaml:"copy-watch"`
	Driver          string `yaml:"driver"`
	TempDir         string `yaml:"temp-dir"`

	BusyTimeout time.Duration `yaml:"busy-timeout"`
	BackupPages int           `yaml:"backup-pages"`
	BackupSleep time.Duration `yaml:"backup-sleep"`

	// Path of a node_exporter textfile that metrics are written to on exit.
	MetricsPath string `yaml:"metrics-path"`

	Logging LoggingConfig `yaml:"logging"`
	Export  ExportConfig  `yaml:"export"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Type   string `yaml:"type"`
	Stderr bool   `yaml:"stderr"`
}

// ExportConfig configures the remote location finished backups are uploaded to.
type ExportConfig struct {
	URL         string            `yaml:"url"`
	PartSize    *ByteSize         `yaml:"part-size"`
	Concurrency *int              `yaml:"concurrency"`
	Retry       ExportRetryConfig `yaml:"retry"`
}

// ExportRetryConfig configures retries of remote existence checks.
type ExportRetryConfig struct {
	MaxRetries   int           `yaml:"max-retries"`
	InitialDelay time.Duration `yaml:"initial-delay"`
	MaxDelay     time.Duration `yaml:"max-delay"`
}

// DefaultConfig returns a new instance of Config with defaults set.
func DefaultConfig() Config {
	retry := sqlitebackup.DefaultRetryConfig()
	return Config{
		WALCheckpoint:   sqlitebackup.DefaultWALCheckpoint,
		CopyUseTempdir:  sqlitebackup.DefaultCopyUseTempdir,
		CopyRetry:       sqlitebackup.DefaultCopyRetry,
		CopyRetryStrict: sqlitebackup.DefaultCopyRetryStrict,
		Driver:          DefaultDriver,
		BusyTimeout:     5 * time.Second,
		Logging: LoggingConfig{
			Level: "INFO",
			Type:  "text",
		},
		Export: ExportConfig{
			Retry: ExportRetryConfig{
				MaxRetries:   retry.MaxRetries,
				InitialDelay: retry.InitialDelay,
				MaxDelay:     retry.MaxDelay,
			},
		},
	}
}

// Validate returns an error if config contains invalid settings.
func (c *Config) Validate() error {
	if c.CopyRetry < 0 {
		return &ConfigValidationError{Err: ErrInvalidCopyRetry, Field: "copy-retry", Value: c.CopyRetry}
	}
	switch c.Driver {
	case DriverModernc, DriverMattn:
	default:
		return &ConfigValidationError{Err: ErrInvalidDriver, Field: "driver", Value: c.Driver}
	}
	if c.BusyTimeout < 0 {
		return &ConfigValidationError{Err: ErrInvalidBusyTimeout, Field: "busy-timeout", Value: c.BusyTimeout}
	}
	if c.BackupPages < 0 {
		return &ConfigValidationError{Err: ErrInvalidBackupPages, Field: "backup-pages", Value: c.BackupPages}
	}
	if c.BackupSleep < 0 {
		return &ConfigValidationError{Err: ErrInvalidBackupSleep, Field: "backup-sleep", Value: c.BackupSleep}
	}
	switch c.Logging.Type {
	case "", "text", "json":
	default:
		return &ConfigValidationError{Err: ErrInvalidLogType, Field: "logging.type", Value: c.Logging.Type}
	}

	if c.Export.Retry.MaxRetries < -1 {
		return &ConfigValidationError{Err: ErrInvalidExportMaxRetries, Field: "export.retry.max-retries", Value: c.Export.Retry.MaxRetries}
	}
	if c.Export.Retry.InitialDelay < 0 {
		return &ConfigValidationError{Err: ErrInvalidExportRetryDelay, Field: "export.retry.initial-delay", Value: c.Export.Retry.InitialDelay}
	}
	if c.Export.Retry.MaxDelay < 0 {
		return &ConfigValidationError{Err: ErrInvalidExportRetryDelay, Field: "export.retry.max-delay", Value: c.Export.Retry.MaxDelay}
	}
	if c.Export.Concurrency != nil && *c.Export.Concurrency <= 0 {
		return &ConfigValidationError{Err: ErrInvalidExportConcurrency, Field: "export.concurrency", Value: *c.Export.Concurrency}
	}
	if c.Export.PartSize != nil && *c.Export.PartSize <= 0 {
		return &ConfigValidationError{Err: ErrInvalidExportPartSize, Field: "export.part-size", Value: int64(*c.Export.PartSize)}
	}
	return nil
}

// Engine returns the backup engine selected by the driver setting.
func (c *Config) Engine() (sqlitebackup.Engine, error) {
	switch c.Driver {
	case DriverModernc, "":
		return modernc.NewEngine(), nil
	case DriverMattn:
		return mattn.NewEngine(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidDriver, c.Driver)
	}
}

// BackupOptions returns the options passed to sqlitebackup.Backup.
func (c *Config) BackupOptions() (sqlitebackup.Options, error) {
	engine, err := c.Engine()
	if err != nil {
		return sqlitebackup.Options{}, err
	}

	opt := sqlitebackup.DefaultOptions()
	opt.WALCheckpoint = c.WALCheckpoint
	opt.CopyUseTempdir = c.CopyUseTempdir
	opt.CopyRetry = c.CopyRetry
	opt.CopyRetryStrict = c.CopyRetryStrict
	opt.Engine = engine
	opt.TempDir = c.TempDir
	opt.ConnectOptions.BusyTimeout = c.BusyTimeout
	opt.BackupOptions.PagesPerStep = c.BackupPages
	opt.BackupOptions.Sleep = c.BackupSleep

	// The source is never written. A staged copy is opened read-write so
	// SQLite can recover its WAL.
	if !c.CopyUseTempdir {
		opt.ConnectOptions.ReadOnly = true
	}

	if c.CopyWatch {
		opt.Copier = sqlitebackup.NewWatchCopier(sqlitebackup.NewStableCopier())
	}
	return opt, nil
}

// NewExportClient returns the export client for the configured URL wrapped
// with retries. Returns nil if no export URL is configured.
func (c *Config) NewExportClient() (sqlitebackup.ExportClient, error) {
	if c.Export.URL == "" {
		return nil, nil
	}

	client, err := sqlitebackup.NewExportClientFromURL(c.Export.URL)
	if err != nil {
		return nil, err
	}

	switch client := client.(type) {
	case *s3.ExportClient:
		if c.Export.PartSize != nil {
			client.PartSize = int64(*c.Export.PartSize)
		}
		if c.Export.Concurrency != nil {
			client.Concurrency = *c.Export.Concurrency
		}
	case *oss.ExportClient:
		if c.Export.PartSize != nil {
			client.PartSize = int64(*c.Export.PartSize)
		}
		if c.Export.Concurrency != nil {
			client.Concurrency = *c.Export.Concurrency
		}
	}

	if c.Export.Retry.MaxRetries == 0 {
		return client, nil
	}
	return sqlitebackup.NewRetryExportClient(client, sqlitebackup.RetryConfig{
		InitialDelay: c.Export.Retry.InitialDelay,
		MaxDelay:     c.Export.Retry.MaxDelay,
		MaxRetries:   c.Export.Retry.MaxRetries,
	}), nil
}

// DefaultConfigPath returns the default config path.
func DefaultConfigPath() string {
	if v := os.Getenv("SQLITE_BACKUP_CONFIG"); v != "" {
		return v
	}
	return defaultConfigPath
}

// OpenConfigFile opens a configuration file and returns a reader.
// Expands the filename path if needed.
func OpenConfigFile(filename string) (io.ReadCloser, error) {
	filename, err := expand(filename)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filename)
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", ErrConfigFileNotFound, filename)
	} else if err != nil {
		return nil, err
	}
	return f, nil
}

// ReadConfigFile unmarshals config from filename. Expands path if needed.
// If expandEnv is true then environment variables are expanded in the config.
func ReadConfigFile(filename string, expandEnv bool) (Config, error) {
	f, err := OpenConfigFile(filename)
	if err != nil {
		return DefaultConfig(), err
	}
	defer f.Close()

	return ParseConfig(f, expandEnv)
}

// ParseConfig unmarshals config from a reader on top of the defaults.
// If expandEnv is true then environment variables are expanded in the config.
func ParseConfig(r io.Reader, expandEnv bool) (_ Config, err error) {
	config := DefaultConfig()

	buf, err := io.ReadAll(r)
	if err != nil {
		return config, err
	}

	if expandEnv {
		buf = []byte(os.ExpandEnv(string(buf)))
	}

	if err := yaml.Unmarshal(buf, &config); err != nil {
		return config, err
	}

	if config.TempDir != "" {
		if config.TempDir, err = expand(config.TempDir); err != nil {
			return config, err
		}
	}
	if config.MetricsPath != "" {
		if config.MetricsPath, err = expand(config.MetricsPath); err != nil {
			return config, err
		}
	}

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// ByteSize is a custom type for parsing byte sizes from YAML.
// It supports both SI units (KB, MB, GB using base 1000) and IEC units
// (KiB, MiB, GiB using base 1024) as well as short forms (K, M, G).
type ByteSize int64

// UnmarshalYAML implements yaml.Unmarshaler for ByteSize.
func (b *ByteSize) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	size, err := ParseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(size)
	return nil
}

// ParseByteSize parses a byte size string such as "5MiB" or "1.5GB".
func ParseByteSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size string")
	}

	bytes, err := humanize.ParseBytes(s)
	if err != nil {
		return 0, fmt.Errorf("invalid size format: %w", err)
	}
	if bytes > math.MaxInt64 {
		return 0, fmt.Errorf("size %d exceeds maximum allowed value (%d)", bytes, int64(math.MaxInt64))
	}
	return int64(bytes), nil
}

// expand returns an absolute path for s, replacing a leading "~" with the
// current user's home directory.
func expand(s string) (string, error) {
	prefix := "~" + string(os.PathSeparator)
	if s != "~" && !strings.HasPrefix(s, prefix) {
		return filepath.Abs(s)
	}

	u, err := user.Current()
	if err != nil {
		return "", err
	} else if u.HomeDir == "" {
		return "", fmt.Errorf("cannot expand path %s, no home directory available", s)
	}

	if s == "~" {
		return u.HomeDir, nil
	}
	return filepath.Join(u.HomeDir, strings.TrimPrefix(s, prefix)), nil
}
