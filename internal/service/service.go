package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/rs/zerolog"

	"whaleinsight/internal/domain"
	"whaleinsight/internal/scheduler"
	"whaleinsight/internal/storage"
)

// Syncer syncs one institution.
type Syncer interface {
	SyncInstitution(ctx context.Context, cik any, trigger domain.TriggerMode) (SyncResult, error)
}

// Options tune the scheduled driver.
type Options struct {
	Workers int
	LockKey int64
}

// UniverseSummary aggregates one fan-out over many institutions.
type UniverseSummary struct {
	Requested int               `json:"requested"`
	Synced    int               `json:"synced"`
	Failed    int               `json:"failed"`
	Positions int               `json:"positions"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// Service drives periodic syncs over the priority cohort.
type Service struct {
	scheduler    *scheduler.Scheduler
	syncer       Syncer
	institutions storage.InstitutionStore
	locker       storage.AdvisoryLocker
	opts         Options
	logger       zerolog.Logger
}

// New constructs the scheduled driver. sched may be nil for one-shot use.
func New(sched *scheduler.Scheduler, syncer Syncer, institutions storage.InstitutionStore, opts Options, logger zerolog.Logger) *Service {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	var locker storage.AdvisoryLocker
	if l, ok := institutions.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		scheduler:    sched,
		syncer:       syncer,
		institutions: institutions,
		locker:       locker,
		opts:         opts,
		logger:       logger.With().Str("component", "service").Logger(),
	}
}

// Run begins the scheduled sync loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessTick)
}

// ProcessTick syncs every priority institution unless another process holds the lock.
func (s *Service) ProcessTick(ctx context.Context, bucket time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("bucket", bucket).Msg("skip tick because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	institutions, err := s.institutions.ListPriorityInstitutions(ctx)
	if err != nil {
		return fmt.Errorf("list priority institutions: %w", err)
	}
	if len(institutions) == 0 {
		s.logger.Warn().Time("bucket", bucket).Msg("no priority institutions; run discover first")
		return nil
	}

	ciks := make([]string, 0, len(institutions))
	for _, inst := range institutions {
		ciks = append(ciks, inst.CIK)
	}
	summary := s.SyncUniverse(ctx, ciks, domain.TriggerScheduled)
	s.logger.Info().
		Time("bucket", bucket).
		Int("synced", summary.Synced).
		Int("failed", summary.Failed).
		Int("positions", summary.Positions).
		Msg("tick completed")
	return nil
}

// SyncUniverse fans institution syncs out over a bounded worker pool.
// Per-institution failures are collected in the summary rather than aborting the batch.
func (s *Service) SyncUniverse(ctx context.Context, ciks []string, trigger domain.TriggerMode) UniverseSummary {
	pool := pond.NewPool(s.opts.Workers, pond.WithContext(ctx), pond.WithQueueSize(len(ciks)+1))

	var (
		mu      sync.Mutex
		done    = make(map[string]bool, len(ciks))
		summary = UniverseSummary{Requested: len(ciks), Errors: make(map[string]string)}
	)
	for _, cik := range ciks {
		pool.Submit(func() {
			result, err := s.syncer.SyncInstitution(ctx, cik, trigger)

			mu.Lock()
			defer mu.Unlock()
			done[cik] = true
			if err != nil {
				summary.Failed++
				summary.Errors[cik] = err.Error()
				s.logger.Error().Err(err).Str("cik", cik).Msg("institution sync failed")
				return
			}
			summary.Synced++
			summary.Positions += len(result.Enriched.Rows)
		})
	}
	pool.StopAndWait()

	mu.Lock()
	defer mu.Unlock()
	// tasks dropped by a cancelled pool never ran
	for _, cik := range ciks {
		if done[cik] {
			continue
		}
		reason := "not started"
		if err := context.Cause(ctx); err != nil {
			reason += ": " + err.Error()
		}
		summary.Failed++
		summary.Errors[cik] = reason
	}
	return summary
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.opts.LockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.opts.LockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

var _ Syncer = (*Pipeline)(nil)
