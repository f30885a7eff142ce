package routines

import (
	"context"
	"time"

	"github.com/ConserveLee/warden/internal/engine"
)

// ResourceCollection taps every claim bubble floating over the base. With no
// bubbles on screen the run is a successful no-op, so back-to-back runs are
// harmless.
type ResourceCollection struct {
	d        *Deps
	interval time.Duration
}

func NewResourceCollection(d *Deps, interval time.Duration) *ResourceCollection {
	return &ResourceCollection{d: d, interval: interval}
}

func (c *ResourceCollection) Name() string            { return "collect_resources" }
func (c *ResourceCollection) Critical() bool          { return false }
func (c *ResourceCollection) Interval() time.Duration { return c.interval }

func (c *ResourceCollection) Run(ctx context.Context) error {
	if err := c.d.Nav.GoTo(ctx, engine.StateHome); err != nil {
		return err
	}
	claimed := 0
	// Tapping a bubble can shift its neighbors, so rescan after every tap
	// instead of walking one stale frame.
	for claimed < 20 {
		hits, err := c.d.matchAll("claim")
		if err != nil {
			return err
		}
		if len(hits) == 0 {
			break
		}
		if err := c.d.Nav.TapMatch(ctx, hits[0]); err != nil {
			return err
		}
		if err := c.d.Nav.Sleep(ctx, c.d.Cfg.Timings.SettleTimeD()); err != nil {
			return err
		}
		claimed++
	}
	if claimed > 0 {
		c.d.Log.Info("resources collected", "bubbles", claimed)
	}
	return nil
}
