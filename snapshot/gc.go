package snapshot

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/wudi/pdfredact/observability"
)

type GCOptions struct {
	TTL     time.Duration
	Backend string
	Logger  observability.Logger
	Metrics observability.Metrics
	Now     func() time.Time
}

// GC expires snapshots older than the retention TTL.
type GC struct {
	store Sweeper
	opts  GCOptions
}

func NewGC(store Sweeper, opts GCOptions) *GC {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = observability.NopLogger{}
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NopMetrics{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &GC{store: store, opts: opts}
}

// RunOnce performs a single sweep.
func (g *GC) RunOnce(ctx context.Context) (int, error) {
	cutoff := g.opts.Now().Add(-g.opts.TTL)
	n, err := g.store.Sweep(ctx, cutoff)
	if n > 0 {
		g.opts.Metrics.IncCounter(observability.MetricSnapshotsSwept, float64(n), g.opts.Backend)
	}
	if err != nil {
		g.opts.Logger.Error("snapshot sweep failed", observability.Int("removed", n), observability.Error("error", err))
		return n, err
	}
	g.opts.Logger.Info("snapshot sweep", observability.Int("removed", n), observability.String("cutoff", cutoff.Format(time.RFC3339)))
	return n, nil
}

// Schedule registers the sweep on a cron spec. The caller starts and stops the scheduler.
func (g *GC) Schedule(ctx context.Context, spec string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(spec, func() { _, _ = g.RunOnce(ctx) }); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", spec, err)
	}
	return c, nil
}
