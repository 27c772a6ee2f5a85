package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"

	"github.com/imedwei/collection-backup/internal/archive"
	"github.com/imedwei/collection-backup/internal/backup"
	"github.com/imedwei/collection-backup/internal/config"
	"github.com/imedwei/collection-backup/internal/database"
	"github.com/imedwei/collection-backup/internal/dump"
	"github.com/imedwei/collection-backup/internal/health"
	"github.com/imedwei/collection-backup/internal/metrics"
	"github.com/imedwei/collection-backup/internal/notify"
	"github.com/imedwei/collection-backup/internal/registry"
	"github.com/imedwei/collection-backup/internal/repository"
	"github.com/imedwei/collection-backup/internal/retention"
	"github.com/imedwei/collection-backup/internal/server"
	"github.com/imedwei/collection-backup/internal/storage"
)

// app holds the wired components used by the commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	clock  clock.Clock

	repo     repository.Repository
	source   *database.DB
	local    *storage.LocalStorage
	store    *archive.Store
	dumper   *dump.SQLDumper
	registry *registry.Registry
	orch     *backup.Orchestrator
	breaker  *notify.BreakerNotifier
}

func newApp(ctx context.Context, cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*app, error) {
	if clk == nil {
		clk = clock.WallClock
	}
	a := &app{cfg: cfg, logger: logger, clock: clk}

	var err error
	a.repo, err = repository.New(ctx, database.Config{Driver: cfg.Repository.Driver, DSN: cfg.Repository.DSN}, clk)
	if err != nil {
		return nil, err
	}

	a.source, err = database.Open(ctx, database.Config{Driver: cfg.Source.Driver, DSN: cfg.Source.DSN})
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to open source database: %w", err)
	}

	a.local, err = storage.NewLocalStorage(cfg.BackupDir)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.store = archive.NewStore(a.local, a.repo, archive.Config{Format: cfg.Format}, clk, logger)
	a.dumper = dump.NewSQLDumper(a.source, logger)
	a.registry = registry.New(a.repo, a.dumper, a.store, logger)

	a.orch = backup.NewOrchestrator(backup.Config{
		Format:      cfg.Format,
		Indent:      cfg.Indent,
		Concurrency: cfg.Concurrency,
		MinInterval: cfg.MinInterval,
		ForceBackup: cfg.ForceBackup,
	}, backup.Dependencies{
		Repository: a.repo,
		Store:      a.store,
		Pruner:     retention.NewEngine(a.repo, a.store, clk, logger),
		Dumper:     a.dumper,
		Loader:     a.dumper,
		Notifier:   a.notifier(),
		Clock:      clk,
	}, logger)

	metrics.Info.WithLabelValues(version, cfg.Repository.Driver).Set(1)
	return a, nil
}

// notifier builds the mail chain, or a no-op when no SMTP host is set.
func (a *app) notifier() notify.Notifier {
	if !a.cfg.MailEnabled() {
		a.logger.Debug("Mail disabled, notifications will be skipped")
		return notify.Nop{}
	}

	m := a.cfg.Mail
	smtp := notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:          m.Host,
		Port:          m.Port,
		Username:      m.Username,
		Password:      m.Password,
		From:          m.From,
		SubjectPrefix: m.SubjectPrefix,
	}, a.store)

	n := a.cfg.Notify
	retrying := notify.NewRetryingNotifier(smtp, notify.RetryConfig{
		MaxRetries:   n.MaxRetries,
		InitialDelay: n.InitialDelay,
		MaxDelay:     n.MaxDelay,
		Multiplier:   n.Multiplier,
	}, a.clock, a.logger)

	a.breaker = notify.NewBreakerNotifier(retrying, notify.BreakerConfig{
		ConsecutiveFailures: n.BreakerFailures,
		OpenPeriod:          n.BreakerOpenPeriod,
	}, a.logger)
	return a.breaker
}

// checker registers the health checks of the wired components.
func (a *app) checker() *health.Checker {
	c := health.NewChecker(a.clock)
	c.RegisterPing("repository", a.repo.Ping, map[string]any{"driver": a.cfg.Repository.Driver})
	c.RegisterPing("source", a.source.PingContext, map[string]any{"driver": a.cfg.Source.Driver})
	c.RegisterPing("backup_dir", func(context.Context) error {
		return a.local.Writable()
	}, map[string]any{"path": a.local.Root()})
	if a.breaker != nil {
		c.RegisterBreaker("mail", a.breaker.State)
	}
	return c
}

// startServer serves metrics and health until ctx is done. It returns a
// function that waits for the shutdown to finish.
func (a *app) startServer(ctx context.Context, port int) func() {
	cfg := server.DefaultConfig()
	cfg.Port = port
	srv := server.New(cfg, a.checker(), a.logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Start(); err != nil {
			a.logger.Error("HTTP server failed", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("HTTP server shutdown failed", "error", err)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
}

// Close releases the databases.
func (a *app) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	if a.source != nil {
		errs = append(errs, a.source.Close())
	}
	if a.repo != nil {
		errs = append(errs, a.repo.Close())
	}
	return errors.Join(errs...)
}

// healthLogInterval is how often serve logs the combined health status.
const healthLogInterval = time.Minute
