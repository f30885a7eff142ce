// Package routines holds the recurring tasks the scheduler runs: secretary
// applicant review, title auto-removal, resource collection, alliance
// donation, hidden treasure exchange and the dig watcher.
package routines

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/ConserveLee/warden/internal/armsrace"
	"github.com/ConserveLee/warden/internal/config"
	"github.com/ConserveLee/warden/internal/engine"
	"github.com/ConserveLee/warden/internal/notify"
	"github.com/ConserveLee/warden/internal/vision"
)

// StateStore is the slice of the run-state store the routines need.
type StateStore interface {
	Appointment(title string) (time.Time, bool, error)
	SetAppointment(title string, t time.Time) error
	LogRejection(name, alliance string, t time.Time) error
}

// Publisher delivers user-facing notifications. *notify.Notifier satisfies it.
type Publisher interface {
	Publish(evt notify.Event)
}

// Deps bundles the shared layers every routine drives. One Deps value is
// built at startup and shared; the device is only ever touched from the
// scheduler goroutine, so no locking happens here.
type Deps struct {
	Nav      *engine.Navigator
	Resolver *engine.Resolver
	Matcher  engine.Matcher
	Store    StateStore
	Notify   Publisher
	Schedule *armsrace.Schedule
	Cfg      *config.Config
	Log      *slog.Logger
	Now      func() time.Time
}

func (d *Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// match takes a fresh screenshot and looks for one template.
func (d *Deps) match(name string) (vision.MatchResult, error) {
	img, err := d.Nav.Screenshot()
	if err != nil {
		return vision.MatchResult{}, err
	}
	return d.Matcher.Match(img, name, image.Rectangle{})
}

// matchAll takes a fresh screenshot and collects every hit.
func (d *Deps) matchAll(name string) ([]vision.MatchResult, error) {
	img, err := d.Nav.Screenshot()
	if err != nil {
		return nil, err
	}
	return d.Matcher.MatchAll(img, name, image.Rectangle{})
}

// waitTemplate polls for a template until it shows up or the window closes.
func (d *Deps) waitTemplate(ctx context.Context, name string, timeout time.Duration) (vision.MatchResult, bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		m, err := d.match(name)
		if err != nil {
			return vision.MatchResult{}, false, err
		}
		if m.Found {
			return m, true, nil
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return vision.MatchResult{}, false, nil
		}
		if err := d.Nav.Sleep(ctx, d.Cfg.Timings.PollIntervalD()); err != nil {
			return vision.MatchResult{}, false, err
		}
	}
}

// tapTemplate waits for a template and taps its center.
func (d *Deps) tapTemplate(ctx context.Context, name string, timeout time.Duration) error {
	m, found, err := d.waitTemplate(ctx, name, timeout)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("template %q not on screen", name)
	}
	return d.Nav.TapMatch(ctx, m)
}

// tapTemplateIfPresent taps a single-shot match when it exists. The bool
// reports whether a tap happened.
func (d *Deps) tapTemplateIfPresent(ctx context.Context, name string) (bool, error) {
	m, err := d.match(name)
	if err != nil {
		return false, err
	}
	if !m.Found {
		return false, nil
	}
	return true, d.Nav.TapMatch(ctx, m)
}

// exitToSecretaryMenu backs out of an applicant list until the menu anchors.
func (d *Deps) exitToSecretaryMenu(ctx context.Context) error {
	for i := 0; i < d.Cfg.MaxHomeAttempts; i++ {
		m, err := d.match("secretary_menu")
		if err != nil {
			return err
		}
		if m.Found {
			return nil
		}
		if err := d.Nav.Back(ctx); err != nil {
			return err
		}
	}
	return fmt.Errorf("secretary menu not regained: %w", engine.ErrNavTimeout)
}
