package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/juju/clock"
	"golang.org/x/sync/errgroup"

	"github.com/imedwei/collection-backup/internal/dump"
	"github.com/imedwei/collection-backup/internal/metrics"
	"github.com/imedwei/collection-backup/internal/model"
	"github.com/imedwei/collection-backup/internal/notify"
	"github.com/imedwei/collection-backup/internal/ratelimit"
	"github.com/imedwei/collection-backup/internal/repository"
	"github.com/imedwei/collection-backup/internal/retention"
)

// Config holds the dump and scheduling options of the orchestrator.
type Config struct {
	Format      string
	Indent      int
	Concurrency int
	MinInterval time.Duration
	ForceBackup bool
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		Format:      dump.FormatJSON,
		Indent:      4,
		Concurrency: 1,
	}
}

// Dependencies are the collaborators of an Orchestrator.
type Dependencies struct {
	Repository repository.Repository
	Store      ArchiveStore
	Pruner     Pruner
	Dumper     DumpProducer
	Loader     Loader
	Notifier   notify.Notifier
	Clock      clock.Clock
}

// Orchestrator coordinates backup cycles.
type Orchestrator struct {
	config      Config
	repo        repository.Repository
	store       ArchiveStore
	pruner      Pruner
	dumper      DumpProducer
	loader      Loader
	notifier    notify.Notifier
	rateLimiter ratelimit.RateLimiter
	clock       clock.Clock
	logger      *slog.Logger
}

// NewOrchestrator creates a new backup orchestrator.
func NewOrchestrator(cfg Config, deps Dependencies, logger *slog.Logger) *Orchestrator {
	if cfg.Format == "" {
		cfg.Format = dump.FormatJSON
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if deps.Clock == nil {
		deps.Clock = clock.WallClock
	}
	if deps.Notifier == nil {
		deps.Notifier = notify.Nop{}
	}

	rlConfig := ratelimit.Config{
		MinInterval: cfg.MinInterval,
		ForceBackup: cfg.ForceBackup,
	}

	return &Orchestrator{
		config:      cfg,
		repo:        deps.Repository,
		store:       deps.Store,
		pruner:      deps.Pruner,
		dumper:      deps.Dumper,
		loader:      deps.Loader,
		notifier:    deps.Notifier,
		rateLimiter: ratelimit.NewTimeBasedLimiter(rlConfig, deps.Clock),
		clock:       deps.Clock,
		logger:      logger,
	}
}

// BackupOne runs one backup cycle for the collection with the given label.
func (o *Orchestrator) BackupOne(ctx context.Context, label string) (*Result, error) {
	obj, err := o.repo.GetObject(ctx, label)
	if err != nil {
		return nil, err
	}
	return o.backupObject(ctx, obj, o.logger)
}

func (o *Orchestrator) backupObject(ctx context.Context, obj *model.BackupObject, logger *slog.Logger) (*Result, error) {
	startTime := o.clock.Now()
	logger = logger.With("collection", obj.Label)
	res := &Result{Label: obj.Label}

	fail := func(err error) (*Result, error) {
		res.transition(logger, StateFailed)
		res.Outcome = OutcomeFailed
		res.Err = err
		metrics.RecordBackupAttempt(obj.Label, string(OutcomeFailed))
		logger.Error("Backup failed", "error", err)
		return res, err
	}

	if o.rateLimiter.GetMinInterval() > 0 {
		last, err := o.lastArchiveTime(ctx, obj)
		if err != nil {
			logger.Warn("Failed to get last archive time, proceeding with backup", "error", err)
		} else if ok, reason := o.rateLimiter.ShouldBackup(last); !ok {
			logger.Info("Skipping backup due to rate limiting", "reason", reason)
			metrics.RateLimitSkipped.WithLabelValues(obj.Label).Inc()
			metrics.RecordBackupAttempt(obj.Label, string(OutcomeSkipped))
			res.Outcome = OutcomeSkipped
			res.Reason = reason
			return res, nil
		}
	}

	res.transition(logger, StateDumping)
	dumpStart := o.clock.Now()
	reader, err := o.dumper.Dump(ctx, dump.Request{
		Label:          obj.Label,
		UseNaturalKeys: obj.UseNaturalKeys,
		Indent:         o.config.Indent,
		Format:         o.config.Format,
	})
	if err != nil {
		return fail(fmt.Errorf("%w: failed to dump %s: %w", model.ErrArchiveCreationFailed, obj.Label, err))
	}
	defer func() {
		if err := reader.Close(); err != nil {
			logger.Debug("Failed to close dump reader", "error", err)
		}
	}()

	res.transition(logger, StateWriting)
	a, created, err := o.store.Write(ctx, obj, reader)
	metrics.BackupDuration.WithLabelValues("write").Observe(o.clock.Now().Sub(dumpStart).Seconds())
	if err != nil {
		return fail(err)
	}
	res.Archive = a

	if !created {
		res.transition(logger, StateDeduped)
		res.Outcome = OutcomeDeduped
		metrics.RecordBackupAttempt(obj.Label, string(OutcomeDeduped))
		return res, nil
	}

	res.transition(logger, StateRecorded)
	res.Outcome = OutcomeRecorded
	metrics.RecordBackupAttempt(obj.Label, string(OutcomeRecorded))
	metrics.ArchiveSize.WithLabelValues(obj.Label).Set(float64(a.Size))
	metrics.LastBackupTimestamp.WithLabelValues(obj.Label).Set(float64(a.CreatedAt.Unix()))

	if obj.AutoPrune && obj.PruneBy != model.PruneNone {
		res.transition(logger, StatePruning)
		pruneStart := o.clock.Now()
		pruned, err := o.pruner.Prune(ctx, obj)
		metrics.BackupDuration.WithLabelValues("prune").Observe(o.clock.Now().Sub(pruneStart).Seconds())
		res.Pruned = pruned
		if err != nil {
			res.PruneErr = err
			logger.Warn("Failed to prune after backup", "error", err)
		}
	}

	if len(obj.Recipients) > 0 {
		res.transition(logger, StateNotifying)
		res.NotifyErr = o.notifyNewest(ctx, obj, logger)
		res.Notified = res.NotifyErr == nil
	}

	res.transition(logger, StateIdle)
	res.Duration = o.clock.Now().Sub(startTime)
	metrics.BackupDuration.WithLabelValues("total").Observe(res.Duration.Seconds())

	logger.Info("Backup completed successfully",
		"archive", a.Name,
		"size", humanize.Bytes(uint64(a.Size)),
		"fingerprint", a.Fingerprint,
		"duration", res.Duration,
	)
	return res, nil
}

func (o *Orchestrator) lastArchiveTime(ctx context.Context, obj *model.BackupObject) (time.Time, error) {
	archives, err := o.repo.ListArchives(ctx, obj.ID)
	if err != nil {
		return time.Time{}, err
	}
	if len(archives) == 0 {
		return time.Time{}, nil
	}
	return archives[0].CreatedAt, nil
}

// notifyNewest mails the newest remaining archive, which pruning may have changed.
func (o *Orchestrator) notifyNewest(ctx context.Context, obj *model.BackupObject, logger *slog.Logger) error {
	archives, err := o.repo.ListArchives(ctx, obj.ID)
	if err != nil {
		logger.Warn("Failed to find newest archive for notification", "error", err)
		return err
	}
	if len(archives) == 0 {
		logger.Warn("No archive left to notify about")
		return nil
	}

	err = o.notifier.Send(ctx, obj.Label, obj.Recipients, archives[0])
	metrics.RecordNotification(err == nil)
	if err != nil {
		logger.Warn("Failed to send notification", "recipients", len(obj.Recipients), "error", err)
		return err
	}
	logger.Info("Notification sent", "archive", archives[0].Name, "recipients", len(obj.Recipients))
	return nil
}

// BackupAll runs a backup cycle for every included collection. One
// collection failing does not stop the others; all failures are joined into
// the returned error.
func (o *Orchestrator) BackupAll(ctx context.Context) (*BatchReport, error) {
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)
	startTime := o.clock.Now()

	objects, err := o.repo.ListObjects(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}

	logger.Info("Starting backup run", "collections", len(objects), "concurrency", o.config.Concurrency)

	results := make([]*Result, len(objects))
	var g errgroup.Group
	g.SetLimit(o.config.Concurrency)

	for i, obj := range objects {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = &Result{Label: obj.Label, Outcome: OutcomeFailed, Err: err}
				return nil
			}
			res, err := o.backupObject(ctx, obj, logger)
			if res == nil {
				res = &Result{Label: obj.Label, Outcome: OutcomeFailed, Err: err}
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	report := newBatchReport(runID, results)
	report.Duration = o.clock.Now().Sub(startTime)

	logger.Info("Backup run completed",
		"recorded", len(report.Recorded),
		"deduped", len(report.Deduped),
		"skipped", len(report.Skipped),
		"failed", len(report.Failed),
		"duration", report.Duration,
	)
	return report, report.Err()
}

// PruneOne applies the retention policy of one collection.
func (o *Orchestrator) PruneOne(ctx context.Context, label string) (*retention.Result, error) {
	obj, err := o.repo.GetObject(ctx, label)
	if err != nil {
		return nil, err
	}
	return o.pruner.Prune(ctx, obj)
}

// PruneSelected applies the retention policy of each named collection, or
// of every collection when labels is empty. Failures are joined.
func (o *Orchestrator) PruneSelected(ctx context.Context, labels []string) (map[string]*retention.Result, error) {
	var objects []*model.BackupObject
	if len(labels) == 0 {
		all, err := o.repo.ListObjects(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("failed to list collections: %w", err)
		}
		objects = all
	}

	var errs []error
	for _, label := range labels {
		obj, err := o.repo.GetObject(ctx, label)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			continue
		}
		objects = append(objects, obj)
	}

	results := make(map[string]*retention.Result, len(objects))
	for _, obj := range objects {
		res, err := o.pruner.Prune(ctx, obj)
		if res != nil {
			results[obj.Label] = res
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", obj.Label, err))
		}
	}
	return results, errors.Join(errs...)
}

// Preview reports what pruning a collection would delete.
func (o *Orchestrator) Preview(ctx context.Context, label string) (*retention.Preview, error) {
	obj, err := o.repo.GetObject(ctx, label)
	if err != nil {
		return nil, err
	}
	return o.pruner.Preview(ctx, obj)
}
