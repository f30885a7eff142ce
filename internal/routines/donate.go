package routines

import (
	"context"
	"time"

	"github.com/ConserveLee/warden/internal/engine"
)

// AllianceDonation taps the donate button until it greys out or the per-run
// cap is hit. A missing button means donations are exhausted and the run is
// a no-op.
type AllianceDonation struct {
	d        *Deps
	interval time.Duration
}

func NewAllianceDonation(d *Deps, interval time.Duration) *AllianceDonation {
	return &AllianceDonation{d: d, interval: interval}
}

func (a *AllianceDonation) Name() string            { return "donate_alliance" }
func (a *AllianceDonation) Critical() bool          { return false }
func (a *AllianceDonation) Interval() time.Duration { return a.interval }

func (a *AllianceDonation) Run(ctx context.Context) error {
	if err := a.d.Nav.GoTo(ctx, engine.StateAlliancePanel); err != nil {
		return err
	}
	donations := 0
	for donations < 25 {
		m, err := a.d.match("donate")
		if err != nil {
			return err
		}
		if !m.Found {
			break
		}
		if err := a.d.Nav.TapMatch(ctx, m); err != nil {
			return err
		}
		donations++
	}
	if donations > 0 {
		a.d.Log.Info("alliance donations made", "count", donations)
	}
	return nil
}
