package engine

import (
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"sync"

	"github.com/ConserveLee/warden/internal/config"
	"github.com/ConserveLee/warden/internal/device"
	"github.com/ConserveLee/warden/internal/notify"
	"github.com/ConserveLee/warden/internal/vision"
)

// Bot assembles the device, vision, navigation, scheduling and watchdog
// layers and runs them until the context is canceled or a fatal error stops
// the loop.
type Bot struct {
	cfg      *config.Config
	dev      device.Device
	lib      *vision.Library
	resolver *Resolver
	nav      *Navigator
	sched    *Scheduler
	wd       *Watchdog
	notifier *notify.Notifier
	log      *slog.Logger

	wg sync.WaitGroup
}

func NewBot(cfg *config.Config, dev device.Device, lib *vision.Library, matcher Matcher, reader TextReader, st RunStore, notifier *notify.Notifier, log *slog.Logger) *Bot {
	resolver := NewResolver(matcher, reader, cfg, log)
	nav := NewNavigator(dev, resolver, cfg, log)
	sched := NewScheduler(cfg, nav, st, log)
	wd := NewWatchdog(dev, sched, nav, cfg, log)
	return &Bot{
		cfg:      cfg,
		dev:      dev,
		lib:      lib,
		resolver: resolver,
		nav:      nav,
		sched:    sched,
		wd:       wd,
		notifier: notifier,
		log:      log,
	}
}

// Navigator exposes the shared navigation layer for task construction.
func (b *Bot) Navigator() *Navigator { return b.nav }

// Resolver exposes the screen resolver for task construction.
func (b *Bot) Resolver() *Resolver { return b.resolver }

// Register adds a task to the scheduler.
func (b *Bot) Register(t Task) { b.sched.Register(t) }

// Run scales the template library to the live resolution, then drives the
// scheduler and the watchdog until ctx cancels. The watchdog's fatal error
// is the only non-nil return.
func (b *Bot) Run(ctx context.Context) error {
	w, h, err := b.dev.ScreenSize()
	if err != nil {
		return fmt.Errorf("querying screen size: %w", err)
	}
	b.lib.ScaleTo(b.cfg.Templates.ReferenceWidth, b.cfg.Templates.ReferenceHeight, w, h)
	b.log.Info("bot starting", "package", b.cfg.App.Package, "screen", fmt.Sprintf("%dx%d", w, h))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	b.notifier.Start(ctx)

	errc := make(chan error, 2)
	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		errc <- b.wd.Run(ctx)
	}()
	go func() {
		defer b.wg.Done()
		errc <- b.sched.Run(ctx)
	}()

	var fatal error
	select {
	case <-ctx.Done():
	case fatal = <-errc:
	}
	cancel()
	b.wg.Wait()
	b.notifier.Wait()

	if fatal != nil {
		b.dumpLastFrame()
		b.log.Error("bot stopped", "error", fatal)
		return fatal
	}
	b.log.Info("bot stopped")
	return nil
}

// dumpLastFrame saves a post-mortem screenshot next to the state file.
func (b *Bot) dumpLastFrame() {
	img, err := b.dev.Screenshot()
	if err != nil {
		return
	}
	f, err := os.Create("last_frame.jpg")
	if err != nil {
		return
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: b.cfg.ScreenshotQuality}); err != nil {
		b.log.Warn("post-mortem frame dump failed", "error", err)
	}
}
