package syncer

import (
	"context"
	"errors"

	"github.com/amirphl/portfolio-sync/internal/etoro"
	"github.com/amirphl/portfolio-sync/internal/journal"
	"github.com/amirphl/portfolio-sync/internal/lock"
	"github.com/amirphl/portfolio-sync/internal/notifier"
)

// Failure kinds shown in failure messages.
const (
	KindFetch       = "FetchError"
	KindIdentity    = "IdentityError"
	KindPersistence = "PersistenceError"
	KindLock        = "LockError"
	KindConfig      = "ConfigError"
	KindUnknown     = "Error"
)

// stageError tags an error with the stage of the run that produced it.
type stageError struct {
	kind string
	err  error
}

func (e *stageError) Error() string { return e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

// Classify names the kind of a failed run.
func Classify(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, etoro.ErrProfileNotFound):
		return KindIdentity
	case errors.Is(err, lock.ErrLocked):
		return KindLock
	case errors.Is(err, ErrNoPortfolio):
		return KindConfig
	}

	var se *stageError
	if errors.As(err, &se) {
		return se.kind
	}
	var httpErr *etoro.HTTPError
	if errors.As(err, &httpErr) || errors.Is(err, etoro.ErrInstrumentNotFound) {
		return KindFetch
	}
	return KindUnknown
}

// HandleFailure logs err, then tries to tell the notifier and the journal.
// Problems in the second stage are only logged.
func (s *Service) HandleFailure(ctx context.Context, portfolio string, err error) string {
	kind := Classify(err)
	log := s.log()
	log.Errorw("Sync failed", "portfolio", portfolio, "kind", kind, "error", err)

	ctx = context.WithoutCancel(ctx)

	n := s.Notifier
	if n == nil {
		n = notifier.LogNotifier{}
	}
	if nerr := n.Send(ctx, notifier.FormatError(kind, err)); nerr != nil {
		log.Errorw("failed to send failure notification", "error", nerr)
	}

	if s.Store != nil {
		jerr := s.Store.LogEvent(ctx, journal.Event{
			Time:        s.clock(),
			Type:        journal.TypeSync,
			Description: journal.SyncFailed,
			Data:        map[string]any{"portfolio": portfolio, "kind": kind, "error": err.Error()},
		})
		if jerr != nil {
			log.Warnw("failed to journal failure", "error", jerr)
		}
	}
	return kind
}
