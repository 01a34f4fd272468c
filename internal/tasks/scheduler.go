// Package tasks runs periodic maintenance on a cron schedule.
package tasks

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/virtual-queue/internal/config"
	"github.com/iliyamo/virtual-queue/internal/model"
)

// QueueLister lists every queue id.
type QueueLister interface {
	IDs(ctx context.Context) ([]uint64, error)
}

// Renumberer rewrites the positions of one queue.
type Renumberer interface {
	Renumber(ctx context.Context, queueID uint64) (int, error)
}

// Purger drops expired QR tokens held in process.
type Purger interface {
	Purge() int
}

// Scheduler owns the cron runner and the jobs registered on it.
type Scheduler struct {
	cron   *cron.Cron
	queues QueueLister
	engine Renumberer
	purger Purger
	log    *logrus.Logger
	ctx    context.Context
}

// New registers the renumber sweep and, when purger is not nil, the token
// purge.  Specs accept an optional seconds field and descriptors such as
// "@every 5m"; an empty spec disables its job.
func New(cfg config.TasksConfig, queues QueueLister, eng Renumberer, purger Purger, log *logrus.Logger) (*Scheduler, error) {
	if queues == nil || eng == nil {
		panic("nil dependency passed to tasks.New")
	}
	clog := cron.PrintfLogger(log)
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.SecondOptional|cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
		),
		queues: queues,
		engine: eng,
		purger: purger,
		log:    log,
		ctx:    context.Background(),
	}
	if cfg.RenumberSpec != "" {
		if _, err := s.cron.AddFunc(cfg.RenumberSpec, func() { _, _ = s.RenumberAll(s.ctx) }); err != nil {
			return nil, errors.Wrapf(err, "schedule renumber sweep %q", cfg.RenumberSpec)
		}
	}
	if purger != nil && cfg.QRPurgeSpec != "" {
		if _, err := s.cron.AddFunc(cfg.QRPurgeSpec, func() { s.PurgeTokens() }); err != nil {
			return nil, errors.Wrapf(err, "schedule token purge %q", cfg.QRPurgeSpec)
		}
	}
	return s, nil
}

// Jobs reports how many jobs are scheduled.
func (s *Scheduler) Jobs() int { return len(s.cron.Entries()) }

// Run starts the jobs and blocks until ctx is done, then waits for running
// jobs to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.ctx = ctx
	s.cron.Start()
	s.log.WithField("jobs", s.Jobs()).Info("scheduler started")
	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
	return nil
}

// RenumberAll renumbers every queue and returns how many positions changed.
// A queue that fails is logged and skipped; the last such error is returned.
func (s *Scheduler) RenumberAll(ctx context.Context) (int, error) {
	ids, err := s.queues.IDs(ctx)
	if err != nil {
		s.log.WithError(err).Error("renumber sweep: list queues")
		return 0, errors.Wrap(err, "list queues")
	}
	var (
		total   int
		lastErr error
	)
	for _, id := range ids {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := s.engine.Renumber(ctx, id)
		switch {
		case errors.Is(err, model.ErrNotFound):
			// deleted since the listing
			continue
		case err != nil:
			s.log.WithError(err).WithField("queue_id", id).Warn("renumber sweep: queue failed")
			lastErr = err
			continue
		}
		if n > 0 {
			s.log.WithFields(logrus.Fields{"queue_id": id, "changed": n}).Warn("renumber sweep repaired positions")
		}
		total += n
	}
	s.log.WithFields(logrus.Fields{"queues": len(ids), "changed": total}).Debug("renumber sweep done")
	return total, lastErr
}

// PurgeTokens drops expired in-process QR tokens.
func (s *Scheduler) PurgeTokens() int {
	if s.purger == nil {
		return 0
	}
	n := s.purger.Purge()
	if n > 0 {
		s.log.WithField("purged", n).Info("expired qr tokens purged")
	}
	return n
}
