package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
	_ "github.com/benbjohnson/sqlite-backup/abs"
	_ "github.com/benbjohnson/sqlite-backup/file"
	_ "github.com/benbjohnson/sqlite-backup/gs"
	"github.com/benbjohnson/sqlite-backup/internal"
	_ "github.com/benbjohnson/sqlite-backup/nats"
	_ "github.com/benbjohnson/sqlite-backup/oss"
	_ "github.com/benbjohnson/sqlite-backup/s3"
	_ "github.com/benbjohnson/sqlite-backup/sftp"
	_ "github.com/benbjohnson/sqlite-backup/webdav"
)

// Build information.
var (
	Version = "(development build)"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), notifySignals...)
	defer stop()

	m := NewMain()
	if err := m.Run(ctx, os.Args[1:]); errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	} else if err != nil {
		slog.Error("failed to run", "error", err)
		stop()
		os.Exit(1)
	}
}

// Main represents the main program execution.
type Main struct {
	Stdout io.Writer
	Stderr io.Writer
}

// NewMain returns a new instance of Main.
func NewMain() *Main {
	return &Main{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run executes the program.
func (m *Main) Run(ctx context.Context, args []string) (err error) {
	walCheckpoint := newBoolSetting(sqlitebackup.DefaultWALCheckpoint)
	copyUseTempdir := newBoolSetting(sqlitebackup.DefaultCopyUseTempdir)
	copyRetryStrict := newBoolSetting(sqlitebackup.DefaultCopyRetryStrict)

	fs := flag.NewFlagSet("sqlite_backup", flag.ContinueOnError)
	fs.SetOutput(m.Stderr)
	configPath, noExpandEnv := registerConfigFlag(fs)
	registerBoolSetting(fs, &walCheckpoint, "wal-checkpoint")
	registerBoolSetting(fs, &copyUseTempdir, "copy-use-tempdir")
	fs.Var(&boolFlag{setting: &copyUseTempdir, negate: true}, "copy-no-tempdir", "")
	registerBoolSetting(fs, &copyRetryStrict, "copy-retry-strict")
	copyRetry := fs.Int("copy-retry", sqlitebackup.DefaultCopyRetry, "")
	copyWatch := fs.Bool("copy-watch", false, "")
	driver := fs.String("driver", DefaultDriver, "")
	tempDir := fs.String("temp-dir", "", "")
	busyTimeout := fs.Duration("busy-timeout", 0, "")
	backupPages := fs.Int("backup-pages", 0, "")
	backupSleep := fs.Duration("backup-sleep", 0, "")
	exportURL := fs.String("export", "", "")
	metricsPath := fs.String("metrics-path", "", "")
	debug := fs.Bool("debug", false, "")
	version := fs.Bool("version", false, "")
	fs.Usage = m.Usage
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *version {
		fmt.Fprintln(m.Stdout, "sqlite_backup "+Version)
		return nil
	}

	if fs.NArg() == 0 || fs.Arg(0) == "" {
		return fmt.Errorf("source database path required")
	} else if fs.NArg() == 1 {
		return fmt.Errorf("destination path required")
	} else if fs.NArg() > 2 {
		return fmt.Errorf("too many arguments")
	}

	config, err := loadConfig(*configPath, !*noExpandEnv)
	if err != nil {
		return err
	}

	// Flags given on the command line override the config file.
	walCheckpoint.ApplyDefault(config.WALCheckpoint)
	copyUseTempdir.ApplyDefault(config.CopyUseTempdir)
	copyRetryStrict.ApplyDefault(config.CopyRetryStrict)
	config.WALCheckpoint = walCheckpoint.value
	config.CopyUseTempdir = copyUseTempdir.value
	config.CopyRetryStrict = copyRetryStrict.value

	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "copy-retry":
			config.CopyRetry = *copyRetry
		case "copy-watch":
			config.CopyWatch = *copyWatch
		case "driver":
			config.Driver = *driver
		case "temp-dir":
			config.TempDir = *tempDir
		case "busy-timeout":
			config.BusyTimeout = *busyTimeout
		case "backup-pages":
			config.BackupPages = *backupPages
		case "backup-sleep":
			config.BackupSleep = *backupSleep
		case "export":
			config.Export.URL = *exportURL
		case "metrics-path":
			config.MetricsPath = *metricsPath
		case "debug":
			if *debug {
				config.Logging.Level = "DEBUG"
			}
		}
	})
	if err := config.Validate(); err != nil {
		return err
	}

	logOutput := m.Stdout
	if config.Logging.Stderr {
		logOutput = m.Stderr
	}
	initLog(logOutput, config.Logging.Level, config.Logging.Type)

	if config.MetricsPath != "" {
		defer func() {
			if e := prometheus.WriteToTextfile(config.MetricsPath, prometheus.DefaultGatherer); e != nil && err == nil {
				err = fmt.Errorf("write metrics: %w", e)
			}
		}()
	}

	return m.backup(ctx, fs.Arg(0), fs.Arg(1), &config)
}

// backup runs a single backup of src into dst and exports the result.
func (m *Main) backup(ctx context.Context, src, dst string, config *Config) error {
	src, err := expand(src)
	if err != nil {
		return err
	}
	if dst, err = expand(dst); err != nil {
		return err
	}

	opt, err := config.BackupOptions()
	if err != nil {
		return err
	}
	opt.Logger = slog.Default()

	// Create the export client up front so a bad URL fails before any copying.
	client, err := config.NewExportClient()
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if c, ok := client.(io.Closer); ok {
		defer c.Close()
	}

	target, err := sqlitebackup.ResolveDestination(src, dst)
	if err != nil {
		return err
	}

	startTime := time.Now()
	if _, err := sqlitebackup.Backup(ctx, src, target, opt); err != nil {
		return err
	}

	var size int64
	if fi, err := os.Stat(target); err == nil {
		size = fi.Size()
	}
	slog.Info(fmt.Sprintf("Backed up %s to %s", src, target),
		"driver", opt.Engine.Name(),
		"size", humanize.IBytes(uint64(size)),
		"elapsed", internal.TruncateDuration(time.Since(startTime)))

	if client == nil {
		return nil
	}

	if err := client.Init(ctx); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if err := sqlitebackup.Export(ctx, client, target); err != nil {
		slog.Error("export failed, local backup kept", "path", target, "type", client.Type())
		return err
	}
	slog.Info("exported backup", "path", target, "type", client.Type(), "url", config.Export.URL)
	return nil
}

// Usage prints the help screen to STDOUT.
func (m *Main) Usage() {
	fmt.Fprintln(m.Stdout, (`
sqlite_backup copies a SQLite database that another process is writing to.

Usage:

	sqlite_backup [arguments] SOURCE_DATABASE DESTINATION

DESTINATION is a new file or an existing directory. Existing files are
never overwritten.

Arguments:

	-config PATH
	    Specifies the configuration file.
	    Defaults to `+DefaultConfigPath()+`

	-no-expand-env
	    Disables environment variable expansion in configuration file.

	-wal-checkpoint, -no-wal-checkpoint
	    Checkpoint and truncate the destination's WAL after the backup.
	    Defaults to on.

	-copy-use-tempdir, -no-copy-use-tempdir
	    Stage the source files in a temporary directory before backing
	    them up. Without staging the live database is read directly.
	    Defaults to on.

	-copy-retry N
	    Maximum number of staging attempts. Defaults to 100.

	-copy-retry-strict, -no-copy-retry-strict
	    Fail if the source changed during every staging attempt instead
	    of continuing with the last copy. Defaults to on.

	-copy-watch
	    Also watch the source with filesystem notifications while copying.

	-driver NAME
	    SQLite driver: "modernc" or "mattn". Defaults to modernc.

	-temp-dir PATH
	    Parent directory for staging. Defaults to the system temp dir.

	-busy-timeout DURATION
	    How long to wait on a locked source. Defaults to 5s.

	-backup-pages N
	    Pages copied per backup step. Defaults to all pages at once.

	-backup-sleep DURATION
	    Pause between backup steps.

	-export URL
	    Upload the finished backup, e.g. s3://bucket/path.

	-metrics-path PATH
	    Write prometheus metrics to a textfile on exit.

	-debug
	    Enable debug logging.

	-version
	    Print the version and exit.
`)[1:])
}

func registerConfigFlag(fs *flag.FlagSet) (configPath *string, noExpandEnv *bool) {
	return fs.String("config", "", "config path"),
		fs.Bool("no-expand-env", false, "do not expand env vars in config")
}

// loadConfig reads the config file at path. An empty path falls back to
// DefaultConfigPath, which may be absent unless named by the environment.
func loadConfig(path string, expandEnv bool) (Config, error) {
	if path != "" {
		return ReadConfigFile(path, expandEnv)
	}

	config, err := ReadConfigFile(DefaultConfigPath(), expandEnv)
	if errors.Is(err, ErrConfigFileNotFound) && os.Getenv("SQLITE_BACKUP_CONFIG") == "" {
		return DefaultConfig(), nil
	}
	return config, err
}

// boolSetting is a boolean option that remembers whether it was set on the
// command line.
type boolSetting struct {
	value bool
	set   bool
}

func newBoolSetting(defaultValue bool) boolSetting {
	return boolSetting{value: defaultValue}
}

func (s *boolSetting) Set(value bool) {
	s.value = value
	s.set = true
}

func (s *boolSetting) ApplyDefault(value bool) {
	if !s.set {
		s.value = value
	}
}

// registerBoolSetting registers the flag pair -name and -no-name for s.
func registerBoolSetting(fs *flag.FlagSet, s *boolSetting, name string) {
	fs.Var(&boolFlag{setting: s}, name, "")
	fs.Var(&boolFlag{setting: s, negate: true}, "no-"+name, "")
}

// boolFlag is one half of a flag pair writing to a shared boolSetting.
type boolFlag struct {
	setting *boolSetting
	negate  bool
}

var _ flag.Value = (*boolFlag)(nil)

func (f *boolFlag) IsBoolFlag() bool { return true }

func (f *boolFlag) String() string {
	if f == nil || f.setting == nil {
		return "false"
	}
	return strconv.FormatBool(f.setting.value != f.negate)
}

func (f *boolFlag) Set(s string) error {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return err
	}
	f.setting.Set(v != f.negate)
	return nil
}

func initLog(w io.Writer, level, typ string) {
	logOptions := slog.HandlerOptions{
		Level:       slog.LevelInfo,
		ReplaceAttr: internal.ReplaceAttr,
	}

	// Read log level from environment, if available.
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		level = v
	}

	switch strings.ToUpper(level) {
	case "TRACE":
		logOptions.Level = internal.LevelTrace
	case "DEBUG":
		logOptions.Level = slog.LevelDebug
	case "INFO":
		logOptions.Level = slog.LevelInfo
	case "WARN", "WARNING":
		logOptions.Level = slog.LevelWarn
	case "ERROR":
		logOptions.Level = slog.LevelError
	}

	var logHandler slog.Handler
	switch typ {
	case "json":
		logHandler = slog.NewJSONHandler(w, &logOptions)
	default:
		logHandler = slog.NewTextHandler(w, &logOptions)
	}

	slog.SetDefault(slog.New(logHandler))
}
