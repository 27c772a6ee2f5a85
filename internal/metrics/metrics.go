// Package metrics provides Prometheus metrics for the backup service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackupAttempts tracks backup cycles per collection and outcome.
	BackupAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_backup_attempts_total",
		Help: "Total number of backup attempts",
	}, []string{"collection", "outcome"})

	// BackupDuration tracks the duration of each phase of a backup cycle.
	BackupDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "collection_backup_duration_seconds",
		Help:    "Duration of backup operations in seconds",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
	}, []string{"phase"})

	// ArchiveSize tracks the size of the newest archive of each collection.
	ArchiveSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collection_backup_archive_size_bytes",
		Help: "Size of the last recorded archive in bytes",
	}, []string{"collection"})

	// ArchivesDeduplicated counts writes that matched an existing archive.
	ArchivesDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_backup_deduplicated_total",
		Help: "Total number of archives discarded because identical content was already stored",
	}, []string{"collection"})

	// ArchivesDeleted counts archives removed by pruning or by an operator.
	ArchivesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collection_backup_archives_deleted_total",
		Help: "Total number of archives deleted",
	})

	// UnlinkFailures counts archive files that could not be removed from disk.
	UnlinkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collection_backup_unlink_failures_total",
		Help: "Total number of archive files that could not be unlinked",
	})

	// HashMismatches counts archives that failed verification.
	HashMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collection_backup_hash_mismatches_total",
		Help: "Total number of archives whose content no longer matched their fingerprint",
	})

	// PruneRuns counts retention runs per policy and status.
	PruneRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_backup_prune_runs_total",
		Help: "Total number of retention runs",
	}, []string{"policy", "status"})

	// RateLimitSkipped counts backups skipped by the minimum interval guard.
	RateLimitSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_backup_rate_limit_skipped_total",
		Help: "Total number of backups skipped because the last archive was too recent",
	}, []string{"collection"})

	// Notifications tracks notification deliveries.
	Notifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collection_backup_notifications_total",
		Help: "Total number of archive notifications sent",
	}, []string{"status"})

	// LastBackupTimestamp tracks when each collection last recorded an archive.
	LastBackupTimestamp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collection_backup_last_success_timestamp",
		Help: "Unix timestamp of the last successful backup",
	}, []string{"collection"})

	// Info provides static information about the service.
	Info = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "collection_backup_info",
		Help: "Information about the backup service",
	}, []string{"version", "repository"})
)

// RecordBackupAttempt records a backup attempt with its outcome.
func RecordBackupAttempt(collection, outcome string) {
	BackupAttempts.WithLabelValues(collection, outcome).Inc()
}

// RecordPrune records a retention run.
func RecordPrune(policy string, success bool) {
	PruneRuns.WithLabelValues(policy, status(success)).Inc()
}

// RecordNotification records a notification attempt.
func RecordNotification(success bool) {
	Notifications.WithLabelValues(status(success)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
