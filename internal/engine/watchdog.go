package engine

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/ConserveLee/warden/internal/config"
	"github.com/ConserveLee/warden/internal/device"
)

// Pauser gates the scheduler between tasks during recovery.
type Pauser interface {
	Pause()
	Resume()
	ResetFailures()
}

// Orienter classifies the current screen and regains home. *Navigator
// satisfies it.
type Orienter interface {
	CurrentState(ctx context.Context) (ScreenState, error)
	Home(ctx context.Context) error
}

// Watchdog polls app liveness from its own goroutine and runs the restart
// ladder when the app or the emulator dies. It never injects input while the
// scheduler is unpaused.
type Watchdog struct {
	dev   device.Device
	sched Pauser
	nav   Orienter

	pkg        string
	emu        config.Emulator
	poll       time.Duration
	launchWait time.Duration
	maxCycles  int
	sleepMult  float64

	// Host-side hooks, swapped out in tests.
	hostAlive  func(processName string) bool
	runCommand func(ctx context.Context, command string) error
	sleep      func(ctx context.Context, d time.Duration) error

	log *slog.Logger
}

func NewWatchdog(dev device.Device, sched Pauser, nav Orienter, cfg *config.Config, log *slog.Logger) *Watchdog {
	return &Watchdog{
		dev:        dev,
		sched:      sched,
		nav:        nav,
		pkg:        cfg.App.Package,
		emu:        cfg.Emulator,
		poll:       cfg.Timings.WatchdogPollD(),
		launchWait: cfg.Timings.LaunchWaitD(),
		maxCycles:  cfg.MaxHomeAttempts,
		sleepMult:  cfg.SleepMultiplier,
		hostAlive:  hostProcessAlive,
		runCommand: runShellCommand,
		sleep:      sleepCtx,
		log:        log,
	}
}

// Run polls until ctx is canceled. It returns non-nil only for the fatal
// case: recovery cycles exhausted without regaining a recognizable screen.
func (w *Watchdog) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if w.healthy() {
			continue
		}
		w.log.Warn("app not running, starting recovery", "package", w.pkg)
		w.sched.Pause()
		if err := w.recover(ctx); err != nil {
			return err
		}
		w.sched.ResetFailures()
		w.sched.Resume()
	}
}

// healthy reports whether the game process exists. Process checks only: the
// screen itself belongs to the scheduler's serialized input stream.
func (w *Watchdog) healthy() bool {
	return w.hostAlive(w.emu.ProcessName) && w.dev.IsRunning(w.pkg)
}

// recover walks the restart ladder: restart the emulator if its host process
// died, relaunch the app, wait for any recognizable screen, then regain home.
// Each cycle escalates from the top; maxCycles exhausted is fatal.
func (w *Watchdog) recover(ctx context.Context) error {
	for cycle := 1; cycle <= w.maxCycles; cycle++ {
		if err := ctx.Err(); err != nil {
			return nil
		}
		w.log.Info("recovery cycle", "cycle", cycle, "of", w.maxCycles)

		if !w.hostAlive(w.emu.ProcessName) {
			w.log.Warn("emulator process gone, restarting", "process", w.emu.ProcessName)
			if err := w.runCommand(ctx, w.emu.RestartCommand); err != nil {
				w.log.Error("emulator restart command failed", "error", err)
				continue
			}
			if err := w.sleep(ctx, w.scaled(w.emu.StartDelayD())); err != nil {
				return nil
			}
		}

		if !w.dev.IsRunning(w.pkg) {
			if err := w.dev.Launch(w.pkg); err != nil {
				w.log.Error("app launch failed", "error", err)
				continue
			}
		}

		if !w.waitRecognizable(ctx) {
			// Running but showing nothing we know. Force-stop so the next
			// cycle relaunches cold instead of staring at the same screen.
			if err := w.dev.Quit(w.pkg); err != nil {
				w.log.Warn("force-stop failed", "error", err)
			}
			continue
		}
		if err := w.nav.Home(ctx); err != nil {
			w.log.Warn("home reset after relaunch failed", "error", err)
			continue
		}
		w.log.Info("recovery complete", "cycle", cycle)
		return nil
	}
	return fmt.Errorf("recovery failed after %d cycles: %w", w.maxCycles, ErrHomeResetExhausted)
}

// waitRecognizable polls the screen for up to launch_wait until any known
// state resolves.
func (w *Watchdog) waitRecognizable(ctx context.Context) bool {
	deadline := time.Now().Add(w.scaled(w.launchWait))
	for time.Now().Before(deadline) {
		state, err := w.nav.CurrentState(ctx)
		if err == nil && state != StateUnknown {
			return true
		}
		if err := w.sleep(ctx, time.Second); err != nil {
			return false
		}
	}
	w.log.Warn("no recognizable screen after launch wait")
	return false
}

func (w *Watchdog) scaled(d time.Duration) time.Duration {
	return time.Duration(float64(d) * w.sleepMult)
}

func hostProcessAlive(processName string) bool {
	if processName == "" {
		return true
	}
	return exec.Command("pgrep", "-f", processName).Run() == nil
}

func runShellCommand(ctx context.Context, command string) error {
	if command == "" {
		return fmt.Errorf("no restart command configured")
	}
	return exec.CommandContext(ctx, "sh", "-c", command).Run()
}
