package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubOrienter struct {
	mu        sync.Mutex
	state     ScreenState
	homeErr   error
	homeCalls int
}

func (o *stubOrienter) CurrentState(ctx context.Context) (ScreenState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state, nil
}

func (o *stubOrienter) Home(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.homeCalls++
	return o.homeErr
}

type stubPauser struct {
	mu      sync.Mutex
	pauses  int
	resumes int
	resets  int
}

func (p *stubPauser) ResetFailures() {
	p.mu.Lock()
	p.resets++
	p.mu.Unlock()
}

func (p *stubPauser) Pause() {
	p.mu.Lock()
	p.pauses++
	p.mu.Unlock()
}

func (p *stubPauser) Resume() {
	p.mu.Lock()
	p.resumes++
	p.mu.Unlock()
}

func newTestWatchdog(dev *fakeDevice, o *stubOrienter) (*Watchdog, *stubPauser) {
	p := &stubPauser{}
	cfg := testConfig()
	cfg.MaxHomeAttempts = 3
	cfg.Emulator.ProcessName = "emu-headless"
	cfg.Emulator.RestartCommand = "restart-emu"
	w := NewWatchdog(dev, p, o, cfg, testLogger())
	w.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	w.hostAlive = func(string) bool { return true }
	w.runCommand = func(ctx context.Context, cmd string) error { return nil }
	return w, p
}

func TestRecoverRelaunchesDeadApp(t *testing.T) {
	dev := &fakeDevice{running: false}
	o := &stubOrienter{state: StateHome}
	w, _ := newTestWatchdog(dev, o)

	require.NoError(t, w.recover(context.Background()))
	assert.Equal(t, 1, dev.launches)
	assert.Equal(t, 1, o.homeCalls)
}

func TestRecoverRestartsDeadEmulator(t *testing.T) {
	dev := &fakeDevice{running: false}
	o := &stubOrienter{state: StateHome}
	w, _ := newTestWatchdog(dev, o)

	var mu sync.Mutex
	alive := false
	commands := []string{}
	w.hostAlive = func(string) bool {
		mu.Lock()
		defer mu.Unlock()
		return alive
	}
	w.runCommand = func(ctx context.Context, cmd string) error {
		mu.Lock()
		commands = append(commands, cmd)
		alive = true
		mu.Unlock()
		return nil
	}

	require.NoError(t, w.recover(context.Background()))
	require.Len(t, commands, 1)
	assert.Equal(t, "restart-emu", commands[0])
	assert.Equal(t, 1, dev.launches)
}

func TestRecoverExhaustionIsFatal(t *testing.T) {
	// The app relaunches but no screen ever becomes recognizable.
	dev := &fakeDevice{running: false}
	o := &stubOrienter{state: StateUnknown}
	w, _ := newTestWatchdog(dev, o)

	err := w.recover(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHomeResetExhausted)
	assert.Zero(t, o.homeCalls)
}

func TestRunPausesSchedulerDuringRecovery(t *testing.T) {
	dev := &fakeDevice{running: false}
	o := &stubOrienter{state: StateHome}
	w, p := newTestWatchdog(dev, o)
	w.poll = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(time.Second)
	for dev.launchCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("watchdog never recovered the app")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-done)

	p.mu.Lock()
	defer p.mu.Unlock()
	assert.GreaterOrEqual(t, p.pauses, 1)
	assert.Equal(t, p.pauses, p.resumes)
	assert.Equal(t, p.resumes, p.resets, "every resume follows a failure reset")
}

func TestRecoveryWaitsForInFlightTask(t *testing.T) {
	// A real scheduler is mid-task when the watchdog notices the dead app.
	// No recovery input may reach the device until the task has finished.
	dev := &fakeDevice{running: false}
	var inFlight, launchedMidTask atomic.Bool
	dev.onLaunch = func() {
		if inFlight.Load() {
			launchedMidTask.Store(true)
		}
	}

	cfg := testConfig()
	cfg.Emulator.ProcessName = "emu-headless"
	sched := NewScheduler(cfg, &stubHomer{}, nil, testLogger())

	started := make(chan struct{})
	release := make(chan struct{})
	sched.Register(&stubTask{name: "slow", interval: time.Hour, run: func(ctx context.Context) error {
		inFlight.Store(true)
		close(started)
		<-release
		inFlight.Store(false)
		return nil
	}})

	o := &stubOrienter{state: StateHome}
	w := NewWatchdog(dev, sched, o, cfg, testLogger())
	w.poll = time.Millisecond
	w.sleep = func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	w.hostAlive = func(string) bool { return true }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)
	<-started

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watchdog time to see the dead app and block in Pause.
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, dev.launchCount(), "recovery ran while a task held the device")
	close(release)

	deadline := time.After(time.Second)
	for dev.launchCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("watchdog never recovered the app")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-done)
	assert.False(t, launchedMidTask.Load(), "recovery injected input mid-task")
}

func TestHealthyAppIsLeftAlone(t *testing.T) {
	dev := &fakeDevice{running: true}
	o := &stubOrienter{state: StateHome}
	w, p := newTestWatchdog(dev, o)
	w.poll = time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.NoError(t, w.Run(ctx))
	assert.Zero(t, p.pauses)
	assert.Zero(t, dev.launches)
}
