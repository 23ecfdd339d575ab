package markers

import (
	"context"
	"errors"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/inecat/mapads/internal/app/metrics"
	"github.com/inecat/mapads/internal/app/storage"
	"github.com/inecat/mapads/internal/app/system"
	"github.com/inecat/mapads/pkg/logger"
)

// ExpirationSweeper ends featured runs whose paid window has passed. It runs
// on a cron schedule and skips a cycle if the previous one is still going.
type ExpirationSweeper struct {
	store    storage.MarkerStore
	service  *Service
	schedule string
	log      *logger.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	sweeping bool
}

var _ system.Service = (*ExpirationSweeper)(nil)

// NewExpirationSweeper constructs the sweep. schedule takes cron syntax,
// "@every 1m" by default.
func NewExpirationSweeper(store storage.MarkerStore, service *Service, schedule string, log *logger.Logger) *ExpirationSweeper {
	if log == nil {
		log = logger.NewDefault("expiration-sweeper")
	}
	if schedule == "" {
		schedule = "@every 1m"
	}
	return &ExpirationSweeper{
		store:    store,
		service:  service,
		schedule: schedule,
		log:      log,
	}
}

func (s *ExpirationSweeper) Name() string { return "expiration-sweeper" }

func (s *ExpirationSweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() { s.Sweep(context.Background()) }); err != nil {
		return err
	}
	c.Start()
	s.cron = c

	s.log.WithField("schedule", s.schedule).Info("expiration sweeper started")
	return nil
}

func (s *ExpirationSweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// Sweep expires every featured marker whose end time has passed. Exposed so
// the entry point can run one pass at startup.
func (s *ExpirationSweeper) Sweep(ctx context.Context) {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return
	}
	s.sweeping = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	expired, err := s.store.ListExpiredFeatured(ctx, s.service.now())
	if err != nil {
		s.log.WithError(err).Warn("list expired featured markers failed")
		return
	}

	for _, m := range expired {
		if err := s.service.Expire(ctx, m.Key); err != nil {
			// Refreshed or removed since the listing; nothing to do.
			if errors.Is(err, ErrWrongState) || errors.Is(err, storage.ErrNotFound) {
				continue
			}
			s.log.WithError(err).Warnf("featured run for %s could not be expired", m.Key)
			continue
		}
		metrics.RecordExpiration()
	}
}
