package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/meridianhq/meridian/pkg/observability"
)

// Reloader periodically rebuilds the policy model so staleness stays
// bounded even when a mutation path misses its invalidation.
type Reloader struct {
	cron   *cron.Cron
	svc    *Service
	logger *observability.Logger
}

// NewReloader schedules ReloadPolicies every interval. Each run gets a
// fresh timeout derived from the interval, capped at one minute.
func NewReloader(svc *Service, interval time.Duration, logger *observability.Logger) (*Reloader, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("reload interval must be positive")
	}
	timeout := interval
	if timeout > time.Minute {
		timeout = time.Minute
	}

	c := cron.New()
	r := &Reloader{cron: c, svc: svc, logger: logger}
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := svc.ReloadPolicies(ctx); err != nil {
			logger.WithError(err).Warn("scheduled policy reload failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule policy reload: %w", err)
	}
	return r, nil
}

// Start begins the schedule.
func (r *Reloader) Start() {
	r.cron.Start()
}

// Stop halts the schedule and waits for a running reload to finish.
func (r *Reloader) Stop() {
	<-r.cron.Stop().Done()
}
