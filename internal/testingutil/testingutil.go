package testingutil

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"os"
	"path"
	"path/filepath"
	"strings"
	"testing"

	sftpserver "github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	_ "modernc.org/sqlite"

	sqlitebackup "github.com/benbjohnson/sqlite-backup"
	"github.com/benbjohnson/sqlite-backup/abs"
	"github.com/benbjohnson/sqlite-backup/file"
	"github.com/benbjohnson/sqlite-backup/gs"
	"github.com/benbjohnson/sqlite-backup/internal"
	"github.com/benbjohnson/sqlite-backup/nats"
	"github.com/benbjohnson/sqlite-backup/oss"
	"github.com/benbjohnson/sqlite-backup/s3"
	"github.com/benbjohnson/sqlite-backup/sftp"
	"github.com/benbjohnson/sqlite-backup/webdav"
)

var (
	// Enables integration tests.
	integration = flag.Bool("integration", false, "")
	// Enables specific types of export clients to be tested.
	exportClientTypes = flag.String("export-clients", "file", "")
	// Sets the log level for the tests.
	logLevel = flag.String("log.level", "debug", "")
)

// S3 settings
var (
	s3AccessKeyID     = flag.String("s3-access-key-id", os.Getenv("SQLITE_BACKUP_S3_ACCESS_KEY_ID"), "")
	s3SecretAccessKey = flag.String("s3-secret-access-key", os.Getenv("SQLITE_BACKUP_S3_SECRET_ACCESS_KEY"), "")
	s3Region          = flag.String("s3-region", os.Getenv("SQLITE_BACKUP_S3_REGION"), "")
	s3Bucket          = flag.String("s3-bucket", os.Getenv("SQLITE_BACKUP_S3_BUCKET"), "")
	s3Path            = flag.String("s3-path", os.Getenv("SQLITE_BACKUP_S3_PATH"), "")
	s3Endpoint        = flag.String("s3-endpoint", os.Getenv("SQLITE_BACKUP_S3_ENDPOINT"), "")
	s3ForcePathStyle  = flag.Bool("s3-force-path-style", os.Getenv("SQLITE_BACKUP_S3_FORCE_PATH_STYLE") == "true", "")
)

// Google cloud storage settings
var (
	gsBucket = flag.String("gs-bucket", os.Getenv("SQLITE_BACKUP_GS_BUCKET"), "")
	gsPath   = flag.String("gs-path", os.Getenv("SQLITE_BACKUP_GS_PATH"), "")
)

// Azure blob storage settings
var (
	absAccountName = flag.String("abs-account-name", os.Getenv("SQLITE_BACKUP_ABS_ACCOUNT_NAME"), "")
	absAccountKey  = flag.String("abs-account-key", os.Getenv("SQLITE_BACKUP_ABS_ACCOUNT_KEY"), "")
	absBucket      = flag.String("abs-bucket", os.Getenv("SQLITE_BACKUP_ABS_BUCKET"), "")
	absPath        = flag.String("abs-path", os.Getenv("SQLITE_BACKUP_ABS_PATH"), "")
)

// SFTP settings
var (
	sftpHost     = flag.String("sftp-host", os.Getenv("SQLITE_BACKUP_SFTP_HOST"), "")
	sftpUser     = flag.String("sftp-user", os.Getenv("SQLITE_BACKUP_SFTP_USER"), "")
	sftpPassword = flag.String("sftp-password", os.Getenv("SQLITE_BACKUP_SFTP_PASSWORD"), "")
	sftpKeyPath  = flag.String("sftp-key-path", os.Getenv("SQLITE_BACKUP_SFTP_KEY_PATH"), "")
	sftpPath     = flag.String("sftp-path", os.Getenv("SQLITE_BACKUP_SFTP_PATH"), "")
)

// WebDAV settings
var (
	webdavURL      = flag.String("webdav-url", os.Getenv("SQLITE_BACKUP_WEBDAV_URL"), "")
	webdavUsername = flag.String("webdav-username", os.Getenv("SQLITE_BACKUP_WEBDAV_USERNAME"), "")
	webdavPassword = flag.String("webdav-password", os.Getenv("SQLITE_BACKUP_WEBDAV_PASSWORD"), "")
	webdavPath     = flag.String("webdav-path", os.Getenv("SQLITE_BACKUP_WEBDAV_PATH"), "")
)

// NATS settings
var (
	natsURL    = flag.String("nats-url", os.Getenv("SQLITE_BACKUP_NATS_URL"), "")
	natsBucket = flag.String("nats-bucket", os.Getenv("SQLITE_BACKUP_NATS_BUCKET"), "")
	natsCreds  = flag.String("nats-creds", os.Getenv("SQLITE_BACKUP_NATS_CREDS"), "")
)

// Alibaba Cloud OSS settings
var (
	ossAccessKeyID     = flag.String("oss-access-key-id", os.Getenv("SQLITE_BACKUP_OSS_ACCESS_KEY_ID"), "")
	ossAccessKeySecret = flag.String("oss-access-key-secret", os.Getenv("SQLITE_BACKUP_OSS_ACCESS_KEY_SECRET"), "")
	ossRegion          = flag.String("oss-region", os.Getenv("SQLITE_BACKUP_OSS_REGION"), "")
	ossBucket          = flag.String("oss-bucket", os.Getenv("SQLITE_BACKUP_OSS_BUCKET"), "")
	ossPath            = flag.String("oss-path", os.Getenv("SQLITE_BACKUP_OSS_PATH"), "")
)

// Integration returns true if remote integration tests are enabled.
func Integration() bool {
	return *integration
}

// ExportClientTypes returns the export client types selected for testing.
func ExportClientTypes() []string {
	return strings.Split(*exportClientTypes, ",")
}

// Logger returns a text logger at the level set by -log.level.
func Logger(tb testing.TB) *slog.Logger {
	tb.Helper()

	level := slog.LevelDebug
	if strings.EqualFold(*logLevel, "trace") {
		level = internal.LevelTrace
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: internal.ReplaceAttr,
	}))
}

// MustOpenSQLDB opens the database at path in WAL mode using modernc.org/sqlite.
func MustOpenSQLDB(tb testing.TB, path string) *sql.DB {
	tb.Helper()
	d, err := sql.Open("sqlite", path)
	if err != nil {
		tb.Fatal(err)
	} else if _, err := d.ExecContext(context.Background(), `PRAGMA journal_mode = wal;`); err != nil {
		tb.Fatal(err)
	} else if _, err := d.ExecContext(context.Background(), `PRAGMA busy_timeout = 5000;`); err != nil {
		tb.Fatal(err)
	}
	return d
}

// MustCloseSQLDB closes a database/sql DB.
func MustCloseSQLDB(tb testing.TB, d *sql.DB) {
	tb.Helper()
	if err := d.Close(); err != nil {
		tb.Fatal(err)
	}
}

// MustCreateDB creates a WAL-mode database at dir/name holding a table t
// with n rows. Automatic checkpoints are disabled so the rows stay in the
// WAL until the returned handle is closed.
func MustCreateDB(tb testing.TB, dir, name string, n int) (string, *sql.DB) {
	tb.Helper()

	path := filepath.Join(dir, name)
	d := MustOpenSQLDB(tb, path)
	d.SetMaxOpenConns(1)
	if _, err := d.Exec(`PRAGMA wal_autocheckpoint = 0;`); err != nil {
		tb.Fatal(err)
	} else if _, err := d.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT)`); err != nil {
		tb.Fatal(err)
	}
	MustInsertRows(tb, d, n)
	return path, d
}

// MustInsertRows inserts n rows into table t.
func MustInsertRows(tb testing.TB, d *sql.DB, n int) {
	tb.Helper()
	for i := 0; i < n; i++ {
		if _, err := d.Exec(`INSERT INTO t (name) VALUES (?)`, fmt.Sprintf("row-%d", i)); err != nil {
			tb.Fatal(err)
		}
	}
}

// MustWriteFile writes data to path.
func MustWriteFile(tb testing.TB, path, data string) {
	tb.Helper()
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		tb.Fatal(err)
	}
}

// MustCountRows returns the number of rows in table t.
func MustCountRows(tb testing.TB, d *sql.DB) int {
	tb.Helper()
	var n int
	if err := d.QueryRow(`SELECT COUNT(*) FROM t`).Scan(&n); err != nil {
		tb.Fatal(err)
	}
	return n
}

// NewExportClient returns a new client for integration testing by type name.
func NewExportClient(tb testing.TB, typ string) sqlitebackup.ExportClient {
	tb.Helper()

	switch typ {
	case file.ExportClientType:
		return NewFileExportClient(tb)
	case s3.ExportClientType:
		return NewS3ExportClient(tb)
	case gs.ExportClientType:
		return NewGSExportClient(tb)
	case abs.ExportClientType:
		return NewABSExportClient(tb)
	case sftp.ExportClientType:
		return NewSFTPExportClient(tb)
	case webdav.ExportClientType:
		return NewWebDAVExportClient(tb)
	case nats.ExportClientType:
		return NewNATSExportClient(tb)
	case oss.ExportClientType:
		return NewOSSExportClient(tb)
	default:
		tb.Fatalf("invalid export client type: %q", typ)
		return nil
	}
}

// NewFileExportClient returns a new client for integration testing.
func NewFileExportClient(tb testing.TB) *file.ExportClient {
	tb.Helper()
	return file.NewExportClient(tb.TempDir())
}

// NewS3ExportClient returns a new client for integration testing.
func NewS3ExportClient(tb testing.TB) *s3.ExportClient {
	tb.Helper()

	c := s3.NewExportClient()
	c.AccessKeyID = *s3AccessKeyID
	c.SecretAccessKey = *s3SecretAccessKey
	c.Region = *s3Region
	c.Bucket = *s3Bucket
	c.Path = path.Join(*s3Path, randomPrefix())
	c.Endpoint = *s3Endpoint
	c.ForcePathStyle = *s3ForcePathStyle
	return c
}

// NewGSExportClient returns a new client for integration testing.
func NewGSExportClient(tb testing.TB) *gs.ExportClient {
	tb.Helper()

	c := gs.NewExportClient()
	c.Bucket = *gsBucket
	c.Path = path.Join(*gsPath, randomPrefix())
	return c
}

// NewABSExportClient returns a new client for integration testing.
func NewABSExportClient(tb testing.TB) *abs.ExportClient {
	tb.Helper()

	c := abs.NewExportClient()
	c.AccountName = *absAccountName
	c.AccountKey = *absAccountKey
	c.Bucket = *absBucket
	c.Path = path.Join(*absPath, randomPrefix())
	return c
}

// NewSFTPExportClient returns a new client for integration testing.
func NewSFTPExportClient(tb testing.TB) *sftp.ExportClient {
	tb.Helper()

	c := sftp.NewExportClient()
	c.Host = *sftpHost
	c.User = *sftpUser
	c.Password = *sftpPassword
	c.KeyPath = *sftpKeyPath
	c.Path = path.Join(*sftpPath, randomPrefix())
	return c
}

// NewWebDAVExportClient returns a new client for integration testing.
func NewWebDAVExportClient(tb testing.TB) *webdav.ExportClient {
	tb.Helper()

	c := webdav.NewExportClient()
	c.URL = *webdavURL
	c.Username = *webdavUsername
	c.Password = *webdavPassword
	c.Path = path.Join(*webdavPath, randomPrefix())
	return c
}

// NewNATSExportClient returns a new client for integration testing.
func NewNATSExportClient(tb testing.TB) *nats.ExportClient {
	tb.Helper()

	c := nats.NewExportClient()
	c.URL = *natsURL
	c.BucketName = *natsBucket
	c.Creds = *natsCreds
	c.Path = randomPrefix()
	return c
}

// NewOSSExportClient returns a new client for integration testing.
func NewOSSExportClient(tb testing.TB) *oss.ExportClient {
	tb.Helper()

	c := oss.NewExportClient()
	c.AccessKeyID = *ossAccessKeyID
	c.AccessKeySecret = *ossAccessKeySecret
	c.Region = *ossRegion
	c.Bucket = *ossBucket
	c.Path = path.Join(*ossPath, randomPrefix())
	return c
}

func randomPrefix() string {
	return fmt.Sprintf("%016x", rand.Uint64())
}

// MockSFTPServer starts an in-process SFTP server that accepts any client
// and returns its address. The listener is closed when tb finishes.
func MockSFTPServer(tb testing.TB, hostKey ssh.Signer) string {
	tb.Helper()

	config := &ssh.ServerConfig{NoClientAuth: true}
	config.AddHostKey(hostKey)

	listener, err := net.Listen("tcp", "127.0.0.1:0") // random available port
	if err != nil {
		tb.Fatal(err)
	}
	tb.Cleanup(func() { _ = listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}

			go func() {
				_, chans, reqs, err := ssh.NewServerConn(conn, config)
				if err != nil {
					return
				}
				go ssh.DiscardRequests(reqs)

				for ch := range chans {
					if ch.ChannelType() != "session" {
						ch.Reject(ssh.UnknownChannelType, "unsupported")
						continue
					}
					channel, requests, err := ch.Accept()
					if err != nil {
						return
					}

					go func(in <-chan *ssh.Request) {
						for req := range in {
							if req.Type == "subsystem" && string(req.Payload[4:]) == "sftp" {
								req.Reply(true, nil)

								server, err := sftpserver.NewServer(channel)
								if err != nil {
									return
								}
								if err := server.Serve(); err != nil && err != io.EOF {
									tb.Logf("sftp server error: %v", err)
								}
								return
							}
							req.Reply(false, nil)
						}
					}(requests)
				}
			}()
		}
	}()

	return listener.Addr().String()
}
