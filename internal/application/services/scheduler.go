package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	apperrors "github.com/guildhook/guildhook/internal/application/errors"
	"github.com/guildhook/guildhook/internal/application/ports"
	"github.com/guildhook/guildhook/internal/domain/extension"
	"golang.org/x/sync/errgroup"
)

// DefaultSchedulerTick is how often the scheduler looks for due installations.
const DefaultSchedulerTick = 30 * time.Second

// TimerOccurrenceName names the occurrences the scheduler emits.
const TimerOccurrenceName = "interval"

// Dispatcher accepts occurrences for routing.
type Dispatcher interface {
	Dispatch(ctx context.Context, occ *extension.Occurrence) (*DispatchReport, error)
}

// Scheduler fires interval-triggered installations. An installation first runs
// one interval after the scheduler first sees it, then once per interval.
type Scheduler struct {
	installations ports.InstallationStore
	catalog       ports.ExtensionCatalog
	dispatcher    Dispatcher
	tick          time.Duration
	concurrency   int
	now           func() time.Time
	logger        *slog.Logger

	mu   sync.Mutex
	next map[string]time.Time
}

// NewScheduler creates a scheduler. A non-positive tick uses DefaultSchedulerTick.
func NewScheduler(
	installations ports.InstallationStore,
	catalog ports.ExtensionCatalog,
	dispatcher Dispatcher,
	tick time.Duration,
	logger *slog.Logger,
) *Scheduler {
	if tick <= 0 {
		tick = DefaultSchedulerTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		installations: installations,
		catalog:       catalog,
		dispatcher:    dispatcher,
		tick:          tick,
		concurrency:   DefaultDispatchConcurrency,
		now:           time.Now,
		logger:        logger,
		next:          make(map[string]time.Time),
	}
}

// Run ticks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	if err := s.Tick(ctx); err != nil {
		s.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				s.logger.ErrorContext(ctx, "scheduler tick failed", "error", err)
			}
		}
	}
}

// Tick emits one timer occurrence for every installation that is due and
// returns the joined dispatch errors. Due installations dispatch concurrently,
// so a slow run delays only its own slot.
func (s *Scheduler) Tick(ctx context.Context) error {
	installs, err := s.installations.ListEnabled(ctx)
	if err != nil {
		return apperrors.NewHostFaultError("list enabled installations", "", "", err)
	}

	now := s.now()
	var due []*extension.Installation
	var errs []error

	s.mu.Lock()
	seen := make(map[string]bool, len(installs))
	for _, inst := range installs {
		m, err := resolveManifest(ctx, s.catalog, inst)
		if err != nil {
			if apperrors.IsHostFault(err) {
				errs = append(errs, err)
			}
			continue
		}
		if m.Trigger.Kind != extension.TriggerInterval {
			continue
		}
		every, err := m.Trigger.Interval()
		if err != nil || every < extension.MinInterval {
			continue
		}

		key := inst.Key()
		seen[key] = true
		next, ok := s.next[key]
		switch {
		case !ok:
			s.next[key] = now.Add(every)
		case !now.Before(next):
			s.next[key] = now.Add(every)
			due = append(due, inst)
		}
	}
	for key := range s.next {
		if !seen[key] {
			delete(s.next, key)
		}
	}
	s.mu.Unlock()

	var g errgroup.Group
	g.SetLimit(s.concurrency)

	// Each goroutine writes only its own index.
	dispatchErrs := make([]error, len(due))
	for i, inst := range due {
		occ := &extension.Occurrence{
			ID:       uuid.NewString(),
			Kind:     extension.OccurrenceTimer,
			Name:     TimerOccurrenceName,
			TenantID: inst.TenantID,
			At:       now,
			Target:   inst.Key(),
		}
		g.Go(func() error {
			_, dispatchErrs[i] = s.dispatcher.Dispatch(ctx, occ)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(append(errs, dispatchErrs...)...)
}
