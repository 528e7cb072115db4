// Package syncer runs one scrape, reconcile and persist cycle for a portfolio.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/amirphl/portfolio-sync/internal/db"
	"github.com/amirphl/portfolio-sync/internal/etoro"
	"github.com/amirphl/portfolio-sync/internal/events"
	"github.com/amirphl/portfolio-sync/internal/journal"
	"github.com/amirphl/portfolio-sync/internal/lock"
	"github.com/amirphl/portfolio-sync/internal/metrics"
	"github.com/amirphl/portfolio-sync/internal/notifier"
	"github.com/amirphl/portfolio-sync/internal/position"
	"github.com/amirphl/portfolio-sync/internal/reconcile"
	"github.com/amirphl/portfolio-sync/internal/utils"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrNoPortfolio is returned when no portfolio name was given.
var ErrNoPortfolio = errors.New("no portfolio display name given")

// Result describes a finished run.
type Result struct {
	RunID     string
	Portfolio position.Portfolio
	Created   bool // portfolio row was created by this run
	Delta     reconcile.Delta
	Scraped   int
	Before    int
	After     int
}

// Service wires the collaborators of a sync run. Store and Fetcher are
// required; the rest fall back to no-ops.
type Service struct {
	Store     db.Storage
	Fetcher   etoro.Fetcher
	Notifier  notifier.Notifier
	Publisher events.Publisher
	Locker    lock.Locker
	Metrics   *metrics.Metrics
	Logger    *zap.SugaredLogger

	now func() time.Time
}

func New(store db.Storage, fetcher etoro.Fetcher) *Service {
	return &Service{
		Store:     store,
		Fetcher:   fetcher,
		Notifier:  notifier.LogNotifier{},
		Publisher: events.Nop{},
		Locker:    lock.Nop{},
		Logger:    utils.GetLogger().Named("syncer"),
		now:       time.Now,
	}
}

func (s *Service) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *Service) log() *zap.SugaredLogger {
	if s.Logger == nil {
		return utils.GetLogger().Named("syncer")
	}
	return s.Logger
}

// Run syncs the store with the live positions of displayName. Nothing is
// written to the store unless the scrape succeeds, and inserts and deletes
// commit together.
func (s *Service) Run(ctx context.Context, displayName string) (Result, error) {
	res := Result{RunID: uuid.NewString()}
	start := s.clock()
	log := s.log().With("run_id", res.RunID, "portfolio", displayName)

	res, err := s.run(ctx, displayName, res, log)
	if s.Metrics != nil {
		if err != nil {
			s.Metrics.ObserveFailure(s.clock().Sub(start))
		} else {
			s.Metrics.ObserveSuccess(res.Delta, res.Scraped, s.clock().Sub(start))
		}
	}
	return res, err
}

func (s *Service) run(ctx context.Context, displayName string, res Result, log *zap.SugaredLogger) (Result, error) {
	if displayName == "" {
		return res, &stageError{kind: KindConfig, err: ErrNoPortfolio}
	}

	locker := s.Locker
	if locker == nil {
		locker = lock.Nop{}
	}
	release, err := locker.Acquire(ctx, displayName)
	if err != nil {
		return res, &stageError{kind: KindLock, err: err}
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Warnw("failed to release lock", "error", err)
		}
	}()

	pf, created, err := s.Store.GetOrCreatePortfolio(ctx, displayName)
	if err != nil {
		return res, &stageError{kind: KindPersistence, err: err}
	}
	res.Portfolio, res.Created = pf, created
	if created {
		log.Infow("Tracking new portfolio", "portfolio_id", pf.ID)
	}

	persisted, err := s.Store.GetPositions(ctx, pf.ID)
	if err != nil {
		return res, &stageError{kind: KindPersistence, err: err}
	}
	res.Before = len(persisted)

	scraped, err := s.Fetcher.Scrape(ctx, pf)
	if err != nil {
		return res, &stageError{kind: KindFetch, err: err}
	}
	res.Scraped = len(scraped)
	log.Infow("Scraped positions", "scraped", len(scraped), "persisted", len(persisted))

	toInsert, toDelete := reconcile.Reconcile(scraped, persisted)
	res.Delta = reconcile.Delta{Inserted: toInsert, Deleted: toDelete}

	err = s.Store.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.Store.SavePositions(ctx, toInsert); err != nil {
			return err
		}
		for _, p := range toDelete {
			if err := s.Store.DeletePosition(ctx, p); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return res, &stageError{kind: KindPersistence, err: fmt.Errorf("failed to apply changes: %w", err)}
	}

	expected := len(reconcile.Apply(persisted, res.Delta))
	if res.After, err = s.Store.CountPositions(ctx, pf.ID); err != nil {
		log.Warnw("failed to count positions after sync", "error", err)
		res.After = expected
	} else if res.After != expected {
		log.Warnw("Position count differs from the applied delta", "expected", expected, "actual", res.After)
	}

	log.Infow("Sync completed", "created", len(toInsert), "deleted", len(toDelete), "before", res.Before, "after", res.After)

	if err := s.Store.LogEvent(ctx, journal.Event{
		Time:        s.clock(),
		Type:        journal.TypeSync,
		Description: journal.SyncCompleted,
		Data: map[string]any{
			"run_id":    res.RunID,
			"portfolio": displayName,
			"created":   len(toInsert),
			"deleted":   len(toDelete),
			"before":    res.Before,
			"after":     res.After,
		},
	}); err != nil {
		log.Warnw("failed to journal sync", "error", err)
	}

	n := s.Notifier
	if n == nil {
		n = notifier.LogNotifier{}
	}
	notifier.NotifySync(ctx, n, displayName, res.Delta)

	if s.Publisher != nil {
		if err := s.Publisher.Publish(ctx, res.RunID, displayName, res.Delta); err != nil {
			log.Errorw("failed to publish changes", "error", err)
		}
	}

	return res, nil
}
