package inventory

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wichananm65/art-market-backend/internal/metrics"
	"go.uber.org/zap"
)

// Releaser reclaims lapsed reservations with a single bulk update.
type Releaser interface {
	ReleaseExpired(ctx context.Context, now time.Time) (int64, error)
}

// Manager runs the unattended reservation sweep.
type Manager struct {
	repo    Releaser
	metrics *metrics.Metrics
	log     *zap.Logger
	now     func() time.Time
	timeout time.Duration
}

func NewManager(repo Releaser, m *metrics.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		repo:    repo,
		metrics: m,
		log:     logger.Named("inventory"),
		now:     time.Now,
		timeout: time.Minute,
	}
}

// ReleaseExpiredReservations makes every artwork whose reservation lapsed
// available again. Failures are logged and never returned; each run is a
// complete pass on its own.
func (m *Manager) ReleaseExpiredReservations(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	n, err := m.repo.ReleaseExpired(ctx, m.now())
	if err != nil {
		m.log.Error("release expired reservations failed", zap.Error(err))
		return 0
	}
	if n > 0 {
		m.log.Info("released expired reservations", zap.Int64("count", n))
	}
	m.metrics.ReservationsReleased(n)
	return n
}

// Schedule registers the sweep on c under the given cron spec.
func (m *Manager) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		m.ReleaseExpiredReservations(context.Background())
	})
}
