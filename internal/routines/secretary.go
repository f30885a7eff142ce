package routines

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/ConserveLee/warden/internal/config"
	"github.com/ConserveLee/warden/internal/engine"
	"github.com/ConserveLee/warden/internal/vision"
)

// Decision is the outcome of the control-list check for one applicant.
type Decision int

const (
	Accept Decision = iota
	Reject
)

func (d Decision) String() string {
	if d == Accept {
		return "accept"
	}
	return "reject"
}

// Decide applies the control lists to an alliance tag. An empty tag means the
// OCR was inconclusive and the applicant is rejected rather than guessed at.
// The blacklist wins over the whitelist; a non-empty whitelist admits only
// its members.
func Decide(alliance string, lists config.ControlList) Decision {
	if alliance == "" {
		return Reject
	}
	for _, b := range lists.Blacklist {
		if strings.EqualFold(b, alliance) {
			return Reject
		}
	}
	if len(lists.Whitelist) == 0 {
		return Accept
	}
	for _, w := range lists.Whitelist {
		if strings.EqualFold(w, alliance) {
			return Accept
		}
	}
	return Reject
}

// SecretaryReview walks the administrative titles that show a waiting
// applicant badge and accepts or rejects each applicant per the control
// lists.
type SecretaryReview struct {
	d           *Deps
	interval    time.Duration
	maxPerVisit int
}

func NewSecretaryReview(d *Deps, interval time.Duration) *SecretaryReview {
	return &SecretaryReview{d: d, interval: interval, maxPerVisit: 30}
}

func (s *SecretaryReview) Name() string            { return "secretary_review" }
func (s *SecretaryReview) Critical() bool          { return false }
func (s *SecretaryReview) Interval() time.Duration { return s.interval }

func (s *SecretaryReview) Run(ctx context.Context) error {
	if err := s.gotoMenu(ctx); err != nil {
		return err
	}
	if err := s.d.Nav.SwipeDown(ctx, 1); err != nil {
		return err
	}

	due, err := s.positionsWithApplicants()
	if err != nil {
		return err
	}
	if len(due) == 0 {
		s.d.Log.Debug("no waiting applicants")
		return nil
	}
	for _, pos := range due {
		if err := s.processPosition(ctx, pos); err != nil {
			return fmt.Errorf("reviewing %s: %w", pos.title, err)
		}
	}
	return nil
}

// gotoMenu reaches the secretary menu, clearing the profile notification
// badge when it intercepts the first attempt.
func (s *SecretaryReview) gotoMenu(ctx context.Context) error {
	err := s.d.Nav.GoTo(ctx, engine.StateSecretaryMenu)
	if err == nil {
		return nil
	}
	if !s.d.Matcher.Has("awesome") {
		return err
	}
	tapped, terr := s.d.tapTemplateIfPresent(ctx, "awesome")
	if terr != nil || !tapped {
		return err
	}
	if err := s.d.Nav.Back(ctx); err != nil {
		return err
	}
	return s.d.Nav.GoTo(ctx, engine.StateSecretaryMenu)
}

type titlePosition struct {
	title string
	m     vision.MatchResult
}

// positionsWithApplicants pairs each visible title button with the applicant
// badge rendered on it. Badge and button belong together when the badge
// center falls inside the button bounds inflated by the applicant offset.
func (s *SecretaryReview) positionsWithApplicants() ([]titlePosition, error) {
	img, err := s.d.Nav.Screenshot()
	if err != nil {
		return nil, err
	}
	badges, err := s.d.Matcher.MatchAll(img, "has_applicant", image.Rectangle{})
	if err != nil {
		return nil, err
	}
	if len(badges) == 0 {
		return nil, nil
	}

	off := s.d.Cfg.ApplicantOffset
	var due []titlePosition
	for _, title := range config.KnownTitles {
		tpl := "title_" + title
		if !s.d.Matcher.Has(tpl) {
			continue
		}
		m, err := s.d.Matcher.Match(img, tpl, image.Rectangle{})
		if err != nil || !m.Found {
			continue
		}
		zone := m.Bounds.Inset(-off.X)
		zone.Min.Y = m.Bounds.Min.Y - off.Y
		zone.Max.Y = m.Bounds.Max.Y + off.Y
		for _, b := range badges {
			if b.Center().In(zone) {
				due = append(due, titlePosition{title: title, m: m})
				break
			}
		}
	}
	return due, nil
}

func (s *SecretaryReview) processPosition(ctx context.Context, pos titlePosition) error {
	if err := s.d.Nav.TapMatch(ctx, pos.m); err != nil {
		return err
	}
	if err := s.d.Nav.Sleep(ctx, s.d.Cfg.Timings.MenuAnimationD()); err != nil {
		return err
	}

	// A full queue cannot be acted on; anything waiting stays waiting.
	if full, err := s.d.match("full_list"); err != nil {
		return err
	} else if full.Found {
		s.d.Log.Info("applicant queue full, skipping", "title", pos.title)
		return s.d.exitToSecretaryMenu(ctx)
	}

	if err := s.d.tapTemplate(ctx, "list", s.d.Cfg.Timings.ListTimeoutD()); err != nil {
		return err
	}
	if err := s.waitListLoaded(ctx, pos.title); err != nil {
		return err
	}
	if err := s.reviewList(ctx, pos.title); err != nil {
		return err
	}
	return s.d.exitToSecretaryMenu(ctx)
}

// waitListLoaded blocks until the applicant list has rendered: accept rows
// for a populated list, or the empty-list marker. A frame showing neither is
// a list that never loaded, which must not pass as "no applicants".
func (s *SecretaryReview) waitListLoaded(ctx context.Context, title string) error {
	deadline := time.Now().Add(s.d.Cfg.Timings.ListTimeoutD())
	for {
		img, err := s.d.Nav.Screenshot()
		if err != nil {
			return err
		}
		accepts, err := s.d.Matcher.MatchAll(img, "accept", image.Rectangle{})
		if err != nil {
			return err
		}
		if len(accepts) > 0 {
			return nil
		}
		empty, err := s.d.Matcher.Match(img, "empty_list", image.Rectangle{})
		if err != nil {
			return err
		}
		if empty.Found {
			return nil
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return fmt.Errorf("applicant list for %s did not load", title)
		}
		if err := s.d.Nav.Sleep(ctx, s.d.Cfg.Timings.PollIntervalD()); err != nil {
			return err
		}
	}
}

// reviewList works the applicant list top-down. Every acted-on row must
// disappear before the next is touched, otherwise a stale frame could double
// up inputs.
func (s *SecretaryReview) reviewList(ctx context.Context, title string) error {
	for processed := 0; processed < s.maxPerVisit; processed++ {
		img, err := s.d.Nav.Screenshot()
		if err != nil {
			return err
		}
		accepts, err := s.d.Matcher.MatchAll(img, "accept", image.Rectangle{})
		if err != nil {
			return err
		}
		if len(accepts) == 0 {
			// Done only when the empty-list marker confirms it. No rows
			// and no marker is a stale or half-rendered frame.
			empty, err := s.d.Matcher.Match(img, "empty_list", image.Rectangle{})
			if err != nil {
				return err
			}
			if empty.Found {
				return nil
			}
			return fmt.Errorf("applicant list for %s shows no rows and no empty marker", title)
		}

		top := accepts[0]
		app := s.d.Resolver.ExtractApplicant(img, top.Bounds)
		decision := Decide(app.Alliance, s.d.Cfg.ControlList)
		s.d.Log.Info("applicant", "title", title, "name", app.Name,
			"alliance", app.Alliance, "decision", decision.String())

		if decision == Accept {
			if err := s.d.Nav.TapMatch(ctx, top); err != nil {
				return err
			}
		} else {
			if err := s.reject(ctx, img, top, app); err != nil {
				return err
			}
		}
		if !s.rowCleared(ctx, len(accepts)) {
			return fmt.Errorf("applicant row for %q did not clear", app.Name)
		}
	}
	return nil
}

// reject taps the reject button on the same row as the accept button, then
// the confirmation dialog, and records the rejection.
func (s *SecretaryReview) reject(ctx context.Context, img image.Image, top vision.MatchResult, app engine.Applicant) error {
	rejects, err := s.d.Matcher.MatchAll(img, "reject", image.Rectangle{})
	if err != nil {
		return err
	}
	rej, ok := sameRow(rejects, top, s.d.Cfg.ApplicantOffset.Y)
	if !ok {
		return fmt.Errorf("no reject button on row of %q", app.Name)
	}
	if err := s.d.Nav.TapMatch(ctx, rej); err != nil {
		return err
	}
	if err := s.d.tapTemplate(ctx, "confirm", s.d.Cfg.Timings.ListTimeoutD()); err != nil {
		return err
	}
	if err := s.d.Store.LogRejection(app.Name, app.Alliance, s.d.now()); err != nil {
		s.d.Log.Warn("recording rejection failed", "error", err)
	}
	return nil
}

// sameRow picks the candidate vertically aligned with the reference button.
func sameRow(candidates []vision.MatchResult, ref vision.MatchResult, tolerance int) (vision.MatchResult, bool) {
	refY := ref.Center().Y
	for _, c := range candidates {
		dy := c.Center().Y - refY
		if dy < 0 {
			dy = -dy
		}
		if dy <= tolerance {
			return c, true
		}
	}
	return vision.MatchResult{}, false
}

// rowCleared polls until the accept-button count drops below before.
func (s *SecretaryReview) rowCleared(ctx context.Context, before int) bool {
	deadline := time.Now().Add(s.d.Cfg.Timings.ListTimeoutD())
	for {
		accepts, err := s.d.matchAll("accept")
		if err == nil && len(accepts) < before {
			return true
		}
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return false
		}
		if err := s.d.Nav.Sleep(ctx, s.d.Cfg.Timings.PollIntervalD()); err != nil {
			return false
		}
	}
}
