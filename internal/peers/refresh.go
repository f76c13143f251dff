package peers

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/vaultmesh/vaultd/internal/logger"
)

// DefaultRefreshSchedule probes remote peers every ten minutes.
const DefaultRefreshSchedule = "*/10 * * * *"

const probeTimeout = 10 * time.Second

// Refresher keeps the registry's remote health flags current on a cron
// schedule so queries skip peers already known to be down.
type Refresher struct {
	registry *Registry
	cron     *cron.Cron
}

// NewRefresher schedules periodic health probes. Call Start to begin and
// Stop during shutdown.
func NewRefresher(registry *Registry, schedule string) (*Refresher, error) {
	if schedule == "" {
		schedule = DefaultRefreshSchedule
	}

	r := &Refresher{
		registry: registry,
		cron:     cron.New(),
	}
	if _, err := r.cron.AddFunc(schedule, r.refresh); err != nil {
		return nil, err
	}
	return r, nil
}

// Start runs one probe pass immediately, then on the schedule.
func (r *Refresher) Start() {
	go r.refresh()
	r.cron.Start()
}

// Stop halts the schedule and waits for any running probe to finish.
func (r *Refresher) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
}

func (r *Refresher) refresh() {
	for _, p := range r.registry.AllRemotes() {
		ctx, cancel := context.WithTimeout(context.Background(), probeTimeout)
		err := NewClient(p).CheckHealth(ctx)
		cancel()

		if err != nil {
			logger.Warn("peer unhealthy", "peer", p.Name, "error", err)
		}
		r.registry.SetHealth(p.Name, err == nil)
	}
}
