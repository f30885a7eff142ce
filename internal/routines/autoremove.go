package routines

import (
	"context"
	"fmt"
	"time"

	"github.com/ConserveLee/warden/internal/engine"
)

// AutoRemoval rotates officials off expiring administrative titles. Expiry
// clocks live in the run-state store so restarts do not reset them; a title
// is seen for the first time when its clock starts.
type AutoRemoval struct {
	d        *Deps
	interval time.Duration
}

func NewAutoRemoval(d *Deps, interval time.Duration) *AutoRemoval {
	return &AutoRemoval{d: d, interval: interval}
}

func (a *AutoRemoval) Name() string            { return "auto_removal" }
func (a *AutoRemoval) Critical() bool          { return false }
func (a *AutoRemoval) Interval() time.Duration { return a.interval }

func (a *AutoRemoval) Run(ctx context.Context) error {
	if !a.d.Cfg.AutoRemove.Active {
		return nil
	}
	due, err := a.dueTitles()
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	// Offices whose arms-race phase is live right now rotate first, so the
	// replacement lands while the bonus matters.
	due = a.d.Schedule.RankTitles(due, a.d.now())

	if err := a.d.Nav.GoTo(ctx, engine.StateSecretaryMenu); err != nil {
		return err
	}
	if err := a.d.Nav.SwipeDown(ctx, 1); err != nil {
		return err
	}
	for _, title := range due {
		if err := a.processTitle(ctx, title); err != nil {
			return fmt.Errorf("rotating %s: %w", title, err)
		}
	}
	return nil
}

// dueTitles collects configured titles whose holder has exceeded the expiry.
// A title with no recorded appointment starts its clock now and is not due.
func (a *AutoRemoval) dueTitles() ([]string, error) {
	now := a.d.now()
	var due []string
	for title, expiry := range a.d.Cfg.AutoRemove.Titles {
		if expiry == nil {
			continue
		}
		appointed, ok, err := a.d.Store.Appointment(title)
		if err != nil {
			return nil, err
		}
		if !ok {
			if err := a.d.Store.SetAppointment(title, now); err != nil {
				return nil, err
			}
			continue
		}
		if now.Sub(appointed) >= time.Duration(*expiry)*time.Second {
			due = append(due, title)
		}
	}
	return due, nil
}

func (a *AutoRemoval) processTitle(ctx context.Context, title string) error {
	tpl := "title_" + title
	if err := a.d.tapTemplate(ctx, tpl, a.d.Cfg.Timings.ListTimeoutD()); err != nil {
		return err
	}
	if err := a.d.Nav.Sleep(ctx, a.d.Cfg.Timings.MenuAnimationD()); err != nil {
		return err
	}
	defer a.d.exitToSecretaryMenu(ctx)

	// With applicants still queued the office would refill instantly;
	// leave the holder in place and restart the clock.
	empty, err := a.d.match("empty_list")
	if err != nil {
		return err
	}
	if !empty.Found {
		a.d.Log.Info("applicants queued, deferring removal", "title", title)
		return a.d.Store.SetAppointment(title, a.d.now())
	}

	dismissed, err := a.d.tapTemplateIfPresent(ctx, "dismiss")
	if err != nil {
		return err
	}
	if !dismissed {
		// Vacancy has its own template per title. A missing dismiss button
		// alone may just be a noisy frame; restarting the clock on it would
		// skip a due removal for a full term.
		vacantTpl := "vacant_" + title
		if a.d.Matcher.Has(vacantTpl) {
			vacant, verr := a.d.match(vacantTpl)
			if verr != nil {
				return verr
			}
			if !vacant.Found {
				return fmt.Errorf("office %s: neither dismiss nor vacancy visible", title)
			}
		}
		a.d.Log.Info("office already vacant", "title", title)
		return a.d.Store.SetAppointment(title, a.d.now())
	}
	if err := a.d.tapTemplate(ctx, "confirm_blue", a.d.Cfg.Timings.ListTimeoutD()); err != nil {
		return err
	}
	a.d.Log.Info("official dismissed", "title", title)

	// Seat a replacement when one is offered.
	if appointed, err := a.d.tapTemplateIfPresent(ctx, "appoint"); err != nil {
		return err
	} else if appointed {
		if _, err := a.d.tapTemplateIfPresent(ctx, "confirm"); err != nil {
			return err
		}
		a.d.Log.Info("replacement appointed", "title", title)
	}
	return a.d.Store.SetAppointment(title, a.d.now())
}
