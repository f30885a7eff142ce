package routines

import (
	"context"
	"time"

	"github.com/ConserveLee/warden/internal/engine"
)

// TreasureExchange trades accumulated hidden-treasure tokens on the alliance
// treasure panel. Each exchange needs its confirmation dialog cleared before
// the next token is touched.
type TreasureExchange struct {
	d        *Deps
	interval time.Duration
}

func NewTreasureExchange(d *Deps, interval time.Duration) *TreasureExchange {
	return &TreasureExchange{d: d, interval: interval}
}

func (t *TreasureExchange) Name() string            { return "treasure_exchange" }
func (t *TreasureExchange) Critical() bool          { return false }
func (t *TreasureExchange) Interval() time.Duration { return t.interval }

func (t *TreasureExchange) Run(ctx context.Context) error {
	if err := t.d.Nav.GoTo(ctx, engine.StateTreasurePanel); err != nil {
		return err
	}
	exchanged := 0
	for exchanged < 10 {
		m, err := t.d.match("exchange")
		if err != nil {
			return err
		}
		if !m.Found {
			break
		}
		if err := t.d.Nav.TapMatch(ctx, m); err != nil {
			return err
		}
		if confirmed, err := t.d.tapTemplateIfPresent(ctx, "confirm"); err != nil {
			return err
		} else if !confirmed {
			// No dialog means the exchange did not register; stop rather
			// than tap blindly.
			break
		}
		exchanged++
	}
	if exchanged > 0 {
		t.d.Log.Info("treasures exchanged", "count", exchanged)
	}
	return nil
}
