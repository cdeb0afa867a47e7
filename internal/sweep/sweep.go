// Package sweep runs a periodic background job that purges expired
// JWKS and billing cache entries and reaps node sessions whose socket
// silently disappeared, so a long-lived gateway process doesn't rely
// solely on access-triggered eviction to bound its memory.
package sweep

import (
	"context"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/omni/beacon-gateway/internal/billing"
	"github.com/omni/beacon-gateway/internal/jwks"
	"github.com/omni/beacon-gateway/internal/nodes"
	gatewayotel "github.com/omni/beacon-gateway/internal/otel"
)

// cronParser parses standard 5-field cron expressions, matching the
// spec used elsewhere so an operator only needs one mental model.
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow,
)

// Config holds the dependencies for the sweeper. JWKSCache and Billing
// are optional; a nil value simply skips that half of the sweep.
type Config struct {
	Registry    *nodes.Registry
	JWKSCache   *jwks.Cache
	Billing     *billing.State
	Metrics     *gatewayotel.Metrics
	Logger      *slog.Logger
	Schedule    string        // cron expression; defaults to "@every 1m"
	NodeMaxAge  time.Duration // stale-node grace period; defaults to 5 minutes
}

// Sweeper fires Config.Schedule, each time purging expired cache
// entries and reaping stale node sessions.
type Sweeper struct {
	registry   *nodes.Registry
	jwksCache  *jwks.Cache
	billing    *billing.State
	metrics    *gatewayotel.Metrics
	logger     *slog.Logger
	schedule   cronlib.Schedule
	nodeMaxAge time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a Sweeper from cfg. Returns an error only if
// Config.Schedule fails to parse as a cron expression.
func New(cfg Config) (*Sweeper, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	spec := cfg.Schedule
	if spec == "" {
		spec = "@every 1m"
	}
	sched, err := cronParser.Parse(spec)
	if err != nil {
		return nil, err
	}
	maxAge := cfg.NodeMaxAge
	if maxAge <= 0 {
		maxAge = 5 * time.Minute
	}
	return &Sweeper{
		registry:   cfg.Registry,
		jwksCache:  cfg.JWKSCache,
		billing:    cfg.Billing,
		metrics:    cfg.Metrics,
		logger:     logger.With("component", "sweep"),
		schedule:   sched,
		nodeMaxAge: maxAge,
	}, nil
}

// Start begins the sweep loop in a background goroutine, ticking
// against Config.Schedule until the context is cancelled or Stop is
// called.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("sweeper started", "node_max_age", s.nodeMaxAge)
}

// Stop cancels the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.logger.Info("sweeper stopped")
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	next := s.schedule.Next(time.Now())
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.tick()
			next = s.schedule.Next(time.Now())
			timer.Reset(time.Until(next))
		}
	}
}

func (s *Sweeper) tick() {
	if s.registry != nil {
		if removed := s.registry.PurgeStale(s.nodeMaxAge); len(removed) > 0 {
			s.logger.Info("reaped stale nodes", "count", len(removed), "node_ids", removed)
			if s.metrics != nil {
				s.metrics.NodesReaped.Add(context.Background(), int64(len(removed)))
			}
		}
	}
	if s.jwksCache != nil {
		s.jwksCache.PurgeExpired()
	}
	if s.billing != nil {
		entitlements, usage := s.billing.PurgeExpired()
		if entitlements > 0 || usage > 0 {
			s.logger.Debug("purged billing cache entries", "entitlements", entitlements, "usage", usage)
		}
	}
}
