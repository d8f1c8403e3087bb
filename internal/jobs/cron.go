package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/linuxautomates/gitsei-sub041/internal/config"
)

// pruneLockKey serializes snapshot pruning across replicas.
const pruneLockKey int64 = 424242

type cacheService interface{ PurgeCaches() int }

type pruner interface {
	WithAdvisoryLock(ctx context.Context, key int64, fn func(tx pgx.Tx) error) (bool, error)
	PruneSnapshots(ctx context.Context, tx pgx.Tx, before time.Time) (int64, error)
}

type Cron struct {
	cfg    config.Config
	log    zerolog.Logger
	svc    cacheService
	pruner pruner
	now    func() time.Time
	c      *cron.Cron
}

func NewCron(cfg config.Config, log zerolog.Logger, svc cacheService, p pruner) (*Cron, error) {
	loc, err := time.LoadLocation(cfg.TZ)
	if err != nil {
		log.Warn().Err(err).Str("tz", cfg.TZ).Msg("cron: unknown timezone, using UTC")
		loc = time.UTC
	}
	c := cron.New(cron.WithLocation(loc), cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow)))
	cr := &Cron{cfg: cfg, log: log, svc: svc, pruner: p, now: time.Now, c: c}
	if _, err := c.AddFunc(cfg.CacheRotateCron, cr.rotate); err != nil {
		return nil, fmt.Errorf("cache rotate schedule %q: %w", cfg.CacheRotateCron, err)
	}
	if p != nil && cfg.RetentionDays > 0 {
		if _, err := c.AddFunc(cfg.PruneCron, cr.prune); err != nil {
			return nil, fmt.Errorf("prune schedule %q: %w", cfg.PruneCron, err)
		}
	}
	return cr, nil
}

func (cr *Cron) Start() { cr.c.Start() }

// Stop waits for running jobs to finish.
func (cr *Cron) Stop() { <-cr.c.Stop().Done() }

// rotate starts a new lookup-cache generation. Every replica rotates its own
// caches, so no lock is taken.
func (cr *Cron) rotate() {
	n := cr.svc.PurgeCaches()
	cr.log.Info().Int("caches", n).Msg("cron: lookup caches rotated")
}

func (cr *Cron) prune() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	if _, err := cr.PruneNow(ctx); err != nil {
		cr.log.Error().Err(err).Msg("cron: prune failed")
	}
}

// PruneNow drops daily snapshots older than the retention window. It reports
// false when another replica holds the lock.
func (cr *Cron) PruneNow(ctx context.Context) (bool, error) {
	cutoff := cr.now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -cr.cfg.RetentionDays)
	var deleted int64
	ok, err := cr.pruner.WithAdvisoryLock(ctx, pruneLockKey, func(tx pgx.Tx) error {
		n, err := cr.pruner.PruneSnapshots(ctx, tx, cutoff)
		deleted = n
		return err
	})
	if err != nil {
		return false, err
	}
	if !ok {
		cr.log.Info().Msg("cron: prune already running elsewhere")
		return false, nil
	}
	cr.log.Info().Time("before", cutoff).Int64("deleted", deleted).Msg("cron: snapshots pruned")
	return true, nil
}
