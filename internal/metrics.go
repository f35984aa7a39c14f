package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Shared backup metrics.
var (
	BackupTotalCounterVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sqlite_backup",
		Name:      "backup_total",
		Help:      "The number of backups attempted, by outcome",
	}, []string{"status"})

	BackupDurationHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sqlite_backup",
		Name:      "backup_duration_seconds",
		Help:      "Time taken by successful backups",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
	})

	CopyAttemptTotalCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sqlite_backup",
		Subsystem: "copy",
		Name:      "attempt_total",
		Help:      "The number of file-set staging attempts",
	})

	CopyUncleanTotalCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sqlite_backup",
		Subsystem: "copy",
		Name:      "unclean_total",
		Help:      "The number of file copies where the source changed during the copy",
	})

	CopyBytesCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sqlite_backup",
		Subsystem: "copy",
		Name:      "bytes",
		Help:      "The number of bytes copied into staging areas",
	})

	ExportOperationTotalCounterVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sqlite_backup",
		Subsystem: "export",
		Name:      "operation_total",
		Help:      "The number of export operations performed",
	}, []string{"export_type", "operation"})

	ExportOperationBytesCounterVec = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sqlite_backup",
		Subsystem: "export",
		Name:      "operation_bytes",
		Help:      "The number of bytes used by export operations",
	}, []string{"export_type", "operation"})
)
