package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/exitbot/internal/domain"
	"github.com/alanyoungcy/exitbot/internal/executor"
	"github.com/alanyoungcy/exitbot/internal/monitor"
	"github.com/alanyoungcy/exitbot/internal/service"
)

// engineLockKey is the distributed lock held by the active engine instance.
// Two engines executing exits against the same book would double-sell, so
// run mode refuses to start while another holder is alive.
const engineLockKey = "exit-engine"

// engineLockTTL bounds how long a crashed instance can hold the lock before
// a replacement may start.
const engineLockTTL = time.Hour

// RunMode starts the full engine: monitoring, exit execution, the breaker
// listener, the websocket quote feed, and scheduled archival.
func (a *App) RunMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting run mode")

	unlock, err := deps.LockManager.Acquire(ctx, engineLockKey, engineLockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return fmt.Errorf("app: another engine instance is already running: %w", err)
		}
		return fmt.Errorf("app: acquire engine lock: %w", err)
	}
	defer unlock()

	th := thresholds(a.cfg.Engine.Thresholds)
	breaker := monitor.NewBreaker()

	recorder := service.NewExitRecorder(
		deps.ExitLedger, deps.SignalBus, deps.AuditStore, deps.Notifier, a.logger,
	)
	exec := executor.New(
		executorConfig(a.cfg.Engine.Executor),
		executor.DefaultPlans(),
		deps.OrderExecutor,
		deps.AttemptStore,
		recorder,
		monitor.NewStager(th),
		deps.QuoteCache,
		deps.Notifier,
		a.logger,
	)
	sched := monitor.NewScheduler(
		schedulerConfig(a.cfg.Engine.Scheduler),
		th,
		deps.PositionStore,
		deps.QuoteCache,
		deps.QuoteSource,
		deps.EdgeSource,
		deps.RateLimiter,
		breaker,
		exec,
		deps.AuditStore,
		deps.Notifier,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return breaker.Listen(ctx, deps.SignalBus, deps.Notifier, a.logger)
	})

	if deps.QuoteFeed != nil {
		if err := a.watchOpenInstruments(ctx, deps); err != nil {
			return err
		}
		g.Go(func() error {
			return deps.QuoteFeed.Run(ctx)
		})
	}

	if deps.Archiver != nil {
		stop, err := a.startArchiveCron(deps)
		if err != nil {
			return err
		}
		defer stop()
	}

	g.Go(func() error {
		return sched.Run(ctx)
	})

	return g.Wait()
}

// MonitorMode runs the scheduler without an exit handler: conditions are
// evaluated and audited but no orders are placed. Used for dry runs and for
// observing a book while execution is handled elsewhere.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode (read-only)")

	breaker := monitor.NewBreaker()
	sched := monitor.NewScheduler(
		schedulerConfig(a.cfg.Engine.Scheduler),
		thresholds(a.cfg.Engine.Thresholds),
		deps.PositionStore,
		deps.QuoteCache,
		deps.QuoteSource,
		deps.EdgeSource,
		deps.RateLimiter,
		breaker,
		nil, // no handler: evaluate and audit only
		deps.AuditStore,
		deps.Notifier,
		a.logger,
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return breaker.Listen(ctx, deps.SignalBus, deps.Notifier, a.logger)
	})

	if deps.QuoteFeed != nil {
		if err := a.watchOpenInstruments(ctx, deps); err != nil {
			return err
		}
		g.Go(func() error {
			return deps.QuoteFeed.Run(ctx)
		})
	}

	g.Go(func() error {
		return sched.Run(ctx)
	})

	return g.Wait()
}

// watchOpenInstruments subscribes the quote feed to every instrument with an
// open position.
func (a *App) watchOpenInstruments(ctx context.Context, deps *Dependencies) error {
	positions, err := deps.PositionStore.LoadOpen(ctx)
	if err != nil {
		return fmt.Errorf("app: load open positions for quote feed: %w", err)
	}

	instruments := make([]string, 0, len(positions))
	seen := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		if _, ok := seen[p.Instrument]; ok {
			continue
		}
		seen[p.Instrument] = struct{}{}
		instruments = append(instruments, p.Instrument)
	}
	deps.QuoteFeed.Watch(instruments...)

	a.logger.InfoContext(ctx, "quote feed subscriptions set",
		slog.Int("instruments", len(instruments)))
	return nil
}

// startArchiveCron schedules periodic archival of aged exit history to
// object storage. It returns a stop function for shutdown.
func (a *App) startArchiveCron(deps *Dependencies) (func(), error) {
	c := cron.New()
	retention := a.cfg.Archive.RetentionDays

	_, err := c.AddFunc(a.cfg.Archive.Cron, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Minute)
		defer cancel()

		cutoff := retentionCutoff(retention, time.Now().UTC())
		log := a.logger.With(slog.String("cutoff", cutoff.Format(time.RFC3339)))

		if n, err := deps.Archiver.ArchiveAttempts(ctx, cutoff); err != nil {
			log.Error("archive attempts failed", slog.String("error", err.Error()))
		} else if n > 0 {
			log.Info("archived exit attempts", slog.Int64("count", n))
		}
		if n, err := deps.Archiver.ArchiveExits(ctx, cutoff); err != nil {
			log.Error("archive exits failed", slog.String("error", err.Error()))
		} else if n > 0 {
			log.Info("archived position exits", slog.Int64("count", n))
		}
		if n, err := deps.Archiver.ArchiveAudit(ctx, cutoff); err != nil {
			log.Error("archive audit failed", slog.String("error", err.Error()))
		} else if n > 0 {
			log.Info("archived audit entries", slog.Int64("count", n))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("app: schedule archive cron %q: %w", a.cfg.Archive.Cron, err)
	}

	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
