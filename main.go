package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ConserveLee/warden/internal/armsrace"
	"github.com/ConserveLee/warden/internal/config"
	"github.com/ConserveLee/warden/internal/device"
	"github.com/ConserveLee/warden/internal/engine"
	"github.com/ConserveLee/warden/internal/logger"
	"github.com/ConserveLee/warden/internal/notify"
	"github.com/ConserveLee/warden/internal/ocr"
	"github.com/ConserveLee/warden/internal/routines"
	"github.com/ConserveLee/warden/internal/store"
	"github.com/ConserveLee/warden/internal/vision"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "warden",
		Short:        "Screen-driven automation for the game running in an Android emulator",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), configPath)
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the configuration file")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, logFile, err := logger.New(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	dev := device.NewADB(cfg.ADB.Binary, cfg.ADB.Device, log)
	if cfg.ADB.EnforceConnection {
		if err := dev.Connect(cfg.ADB.Host, cfg.ADB.Port); err != nil {
			return fmt.Errorf("adb connect: %w", err)
		}
	}

	lib, err := loadTemplates(cfg)
	if err != nil {
		return err
	}
	matcher := vision.NewMatcher(lib)

	reader, err := ocr.NewReader(cfg.OCR.PageSegMode, cfg.OCR.EngineMode, log)
	if err != nil {
		return fmt.Errorf("starting ocr: %w", err)
	}
	defer reader.Close()

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("opening state store: %w", err)
	}
	defer st.Close()

	schedule, err := armsrace.New(cfg.ArmsRace.Phases, cfg.ArmsRace.TitlePhases)
	if err != nil {
		return fmt.Errorf("arms race schedule: %w", err)
	}

	notifier := notify.New(cfg.Discord.WebhookURL, log)
	bot := engine.NewBot(cfg, dev, lib, matcher, reader, st, notifier, log)

	deps := &routines.Deps{
		Nav:      bot.Navigator(),
		Resolver: bot.Resolver(),
		Matcher:  matcher,
		Store:    st,
		Notify:   notifier,
		Schedule: schedule,
		Cfg:      cfg,
		Log:      log,
	}
	registerTasks(bot, deps, cfg)

	return bot.Run(ctx)
}

// registerTasks wires every routine whose interval is configured. A missing
// interval disables the task.
func registerTasks(bot *engine.Bot, deps *routines.Deps, cfg *config.Config) {
	iv := cfg.Intervals
	if d, ok := interval(iv.Secretary); ok {
		bot.Register(routines.NewSecretaryReview(deps, d))
	}
	if d, ok := interval(iv.AutoRemove); ok {
		bot.Register(routines.NewAutoRemoval(deps, d))
	}
	if d, ok := interval(iv.CollectResources); ok {
		bot.Register(routines.NewResourceCollection(deps, d))
	}
	if d, ok := interval(iv.DonateAlliance); ok {
		bot.Register(routines.NewAllianceDonation(deps, d))
	}
	if d, ok := interval(iv.TreasureExchange); ok {
		bot.Register(routines.NewTreasureExchange(deps, d))
	}
	if d, ok := interval(iv.DigWatch); ok {
		bot.Register(routines.NewDigWatch(deps, d))
	}
}

func interval(seconds *int) (time.Duration, bool) {
	if seconds == nil || *seconds <= 0 {
		return 0, false
	}
	return time.Duration(*seconds) * time.Second, true
}

func loadTemplates(cfg *config.Config) (*vision.Library, error) {
	lib := vision.NewLibrary(cfg.MatchThreshold)
	for name, def := range cfg.Templates.Defs {
		if err := lib.LoadFile(name, filepath.Join(cfg.Templates.Dir, def.Path), def.Threshold); err != nil {
			return nil, fmt.Errorf("loading template %q: %w", name, err)
		}
	}
	return lib, nil
}
