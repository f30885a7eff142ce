package routines

import (
	"context"
	"time"

	"github.com/ConserveLee/warden/internal/notify"
)

// DigWatch polls for the alliance dig banner and notifies on its appearance.
// Only the absent-to-present edge fires; a banner that stays up across polls
// produces exactly one event until it clears.
type DigWatch struct {
	d        *Deps
	interval time.Duration
	present  bool
}

func NewDigWatch(d *Deps, interval time.Duration) *DigWatch {
	return &DigWatch{d: d, interval: interval}
}

func (w *DigWatch) Name() string            { return "dig_watch" }
func (w *DigWatch) Critical() bool          { return true }
func (w *DigWatch) Interval() time.Duration { return w.interval }

func (w *DigWatch) Run(ctx context.Context) error {
	m, err := w.d.match("dig")
	if err != nil {
		return err
	}
	if m.Found && !w.present {
		w.announce()
	}
	w.present = m.Found
	return nil
}

func (w *DigWatch) announce() {
	evt := notify.Event{
		Title: "Dig spotted",
		Body:  "An alliance dig just appeared. Go claim your share.",
		Color: 0xF1C40F,
	}
	if msg, ok := w.d.Cfg.Discord.Messages["dig"]; ok {
		evt = notify.Event{Title: msg.Title, Body: msg.Body, Color: msg.Color}
	}
	w.d.Log.Info("dig detected")
	w.d.Notify.Publish(evt)
}
