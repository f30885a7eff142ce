package engine

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ConserveLee/warden/internal/config"
	"github.com/ConserveLee/warden/internal/device"
	"github.com/ConserveLee/warden/internal/vision"
)

// navStep is one verified hop of a route: tap the element, then confirm the
// expected screen appeared before moving on.
type navStep struct {
	element string
	verify  ScreenState
}

// routes are walked from the home screen. Any navigation first regains home,
// then follows the target's step list, re-resolving after every tap.
var routes = map[ScreenState][]navStep{
	StateProfile: {
		{"profile", StateProfile},
	},
	StateSecretaryMenu: {
		{"profile", StateProfile},
		{"capitol", StateSecretaryMenu},
	},
	StateAlliancePanel: {
		{"alliance", StateAlliancePanel},
	},
	StateTreasurePanel: {
		{"alliance", StateAlliancePanel},
		{"treasures", StateTreasurePanel},
	},
}

// Navigator drives the device through the screen graph. All taps and swipes
// go through it so the humanization knobs apply everywhere.
type Navigator struct {
	dev      device.Device
	resolver *Resolver

	ui        config.UIElements
	timings   config.Timings
	random    config.Randomization
	sleepMult float64
	maxHome   int

	rnd *rand.Rand
	log *slog.Logger
}

func NewNavigator(dev device.Device, resolver *Resolver, cfg *config.Config, log *slog.Logger) *Navigator {
	return &Navigator{
		dev:       dev,
		resolver:  resolver,
		ui:        cfg.UIElements,
		timings:   cfg.Timings,
		random:    cfg.Randomization,
		sleepMult: cfg.SleepMultiplier,
		maxHome:   cfg.MaxHomeAttempts,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		log:       log,
	}
}

// Screenshot grabs a fresh frame from the device.
func (n *Navigator) Screenshot() (image.Image, error) {
	return n.dev.Screenshot()
}

// CurrentState takes a screenshot and classifies it.
func (n *Navigator) CurrentState(ctx context.Context) (ScreenState, error) {
	if err := ctx.Err(); err != nil {
		return StateUnknown, err
	}
	img, err := n.dev.Screenshot()
	if err != nil {
		return StateUnknown, err
	}
	return n.resolver.Resolve(img), nil
}

// GoTo brings the device to the target screen, regaining home first when the
// current screen is off-route. It keeps retrying the route until NavTimeout.
func (n *Navigator) GoTo(ctx context.Context, target ScreenState) error {
	if target == StateHome {
		return n.Home(ctx)
	}
	steps, ok := routes[target]
	if !ok {
		return fmt.Errorf("no route to %s", target)
	}

	deadline := time.Now().Add(n.timings.NavTimeoutD())
	for {
		state, err := n.CurrentState(ctx)
		if err != nil {
			return err
		}
		if state == target {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("goto %s from %s: %w", target, state, ErrNavTimeout)
		}
		if state != StateHome {
			if err := n.Home(ctx); err != nil {
				return err
			}
		}
		if n.walk(ctx, steps, deadline) {
			return nil
		}
		// Route drifted, loop re-orients and retries until the deadline.
	}
}

// walk runs the route steps from home, verifying each hop. A false return
// means a verification failed and the caller should re-orient.
func (n *Navigator) walk(ctx context.Context, steps []navStep, deadline time.Time) bool {
	for _, st := range steps {
		if err := n.TapElement(ctx, st.element); err != nil {
			return false
		}
		stepDeadline := time.Now().Add(n.timings.MenuAnimationD() + n.timings.SettleTimeD())
		if stepDeadline.After(deadline) {
			stepDeadline = deadline
		}
		if !n.waitFor(ctx, st.verify, stepDeadline) {
			n.log.Debug("navigation step not verified", "element", st.element, "expected", st.verify)
			return false
		}
	}
	return true
}

// waitFor polls until the screen resolves to want or the deadline passes.
func (n *Navigator) waitFor(ctx context.Context, want ScreenState, deadline time.Time) bool {
	for {
		state, err := n.CurrentState(ctx)
		if err == nil && state == want {
			return true
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return false
		}
		if err := n.Sleep(ctx, n.timings.PollIntervalD()); err != nil {
			return false
		}
	}
}

// Home presses BACK until the home anchor resolves, bounded by
// max_home_attempts. Exhaustion wraps ErrHomeResetExhausted.
func (n *Navigator) Home(ctx context.Context) error {
	for attempt := 0; attempt <= n.maxHome; attempt++ {
		state, err := n.CurrentState(ctx)
		if err != nil {
			return err
		}
		if state == StateHome {
			return nil
		}
		if attempt == n.maxHome {
			break
		}
		if err := n.dev.Back(); err != nil {
			return err
		}
		if err := n.Sleep(ctx, n.timings.MenuAnimationD()); err != nil {
			return err
		}
	}
	return fmt.Errorf("home not reached after %d back presses: %w", n.maxHome, ErrHomeResetExhausted)
}

// TapElement taps a named point from ui_elements.
func (n *Navigator) TapElement(ctx context.Context, name string) error {
	pos, ok := n.ui.Point(name)
	if !ok {
		return fmt.Errorf("unknown ui element %q", name)
	}
	w, h, err := n.dev.ScreenSize()
	if err != nil {
		return err
	}
	return n.TapPoint(ctx, pos.Resolve(w, h))
}

// TapMatch taps the center of a template hit.
func (n *Navigator) TapMatch(ctx context.Context, m vision.MatchResult) error {
	return n.TapPoint(ctx, m.Center())
}

// TapPoint taps at pt perturbed within the configured radius, then settles.
func (n *Navigator) TapPoint(ctx context.Context, pt image.Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pt = n.humanize(pt)
	if err := n.dev.Tap(pt.X, pt.Y); err != nil {
		return err
	}
	return n.Sleep(ctx, n.timings.TapDelayD())
}

// SwipeDown drags the configured swipe gesture n times.
func (n *Navigator) SwipeDown(ctx context.Context, times int) error {
	return n.swipe(ctx, times, false)
}

// SwipeUp runs the swipe gesture reversed.
func (n *Navigator) SwipeUp(ctx context.Context, times int) error {
	return n.swipe(ctx, times, true)
}

func (n *Navigator) swipe(ctx context.Context, times int, reverse bool) error {
	w, h, err := n.dev.ScreenSize()
	if err != nil {
		return err
	}
	start := n.ui.Swipe.Start.Resolve(w, h)
	end := n.ui.Swipe.End.Resolve(w, h)
	if reverse {
		start, end = end, start
	}
	for i := 0; i < times; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		s, e := n.humanize(start), n.humanize(end)
		if err := n.dev.Swipe(s.X, s.Y, e.X, e.Y, n.swipeDuration()); err != nil {
			return err
		}
		if err := n.Sleep(ctx, n.timings.SettleTimeD()); err != nil {
			return err
		}
	}
	return nil
}

// Back presses BACK once and waits for the menu animation.
func (n *Navigator) Back(ctx context.Context) error {
	if err := n.dev.Back(); err != nil {
		return err
	}
	return n.Sleep(ctx, n.timings.MenuAnimationD())
}

// Sleep waits for d scaled by sleep_multiplier, aborting on ctx cancel.
func (n *Navigator) Sleep(ctx context.Context, d time.Duration) error {
	return sleepCtx(ctx, time.Duration(float64(d)*n.sleepMult))
}

// humanize offsets a point uniformly within the tap radius.
func (n *Navigator) humanize(pt image.Point) image.Point {
	r := n.random.TapRadius
	if r <= 0 {
		return pt
	}
	return image.Point{
		X: pt.X + n.rnd.Intn(2*r+1) - r,
		Y: pt.Y + n.rnd.Intn(2*r+1) - r,
	}
}

// swipeDuration perturbs the configured gesture duration in milliseconds by
// the variance fraction so no two swipes look identical.
func (n *Navigator) swipeDuration() int {
	base := n.ui.Swipe.DurationMs
	v := n.random.SwipeDurationVariance
	if v <= 0 {
		return base
	}
	f := 1 + (n.rnd.Float64()*2-1)*v
	return int(float64(base) * f)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
