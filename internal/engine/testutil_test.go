package engine

import (
	"image"
	"log/slog"
	"sync"

	"github.com/ConserveLee/warden/internal/config"
	"github.com/ConserveLee/warden/internal/vision"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// world models the screen the fake device shows: one anchor template is
// active at a time, taps advance along a sequence, back presses rewind.
type world struct {
	mu  sync.Mutex
	seq []string
	idx int
}

func (w *world) current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq[w.idx]
}

func (w *world) advance() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.idx < len(w.seq)-1 {
		w.idx++
	}
}

func (w *world) rewind() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.idx > 0 {
		w.idx--
	}
}

type fakeDevice struct {
	mu       sync.Mutex
	w        *world
	taps     []image.Point
	swipes   int
	backs    int
	launches int
	running  bool
	onLaunch func()
}

func (d *fakeDevice) Screenshot() (image.Image, error) {
	return image.NewNRGBA(image.Rect(0, 0, 1080, 1920)), nil
}

func (d *fakeDevice) ScreenSize() (int, int, error) { return 1080, 1920, nil }

func (d *fakeDevice) Tap(x, y int) error {
	d.mu.Lock()
	d.taps = append(d.taps, image.Point{X: x, Y: y})
	d.mu.Unlock()
	if d.w != nil {
		d.w.advance()
	}
	return nil
}

func (d *fakeDevice) Swipe(x1, y1, x2, y2, durationMs int) error {
	d.mu.Lock()
	d.swipes++
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) Back() error {
	d.mu.Lock()
	d.backs++
	d.mu.Unlock()
	if d.w != nil {
		d.w.rewind()
	}
	return nil
}

func (d *fakeDevice) IsRunning(pkg string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *fakeDevice) Launch(pkg string) error {
	d.mu.Lock()
	d.launches++
	d.running = true
	hook := d.onLaunch
	d.mu.Unlock()
	if hook != nil {
		hook()
	}
	return nil
}

func (d *fakeDevice) Quit(pkg string) error {
	d.mu.Lock()
	d.running = false
	d.mu.Unlock()
	return nil
}

func (d *fakeDevice) launchCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.launches
}

func (d *fakeDevice) tapCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.taps)
}

// fakeMatcher reports a template as found either from the static set or when
// it is the world's active anchor.
type fakeMatcher struct {
	w     *world
	found map[string]bool
}

func (m *fakeMatcher) hit(name string) bool {
	if m.found[name] {
		return true
	}
	return m.w != nil && m.w.current() == name
}

func (m *fakeMatcher) Match(img image.Image, name string, region image.Rectangle) (vision.MatchResult, error) {
	if !m.hit(name) {
		return vision.MatchResult{Name: name}, nil
	}
	return vision.MatchResult{
		Name:       name,
		Bounds:     image.Rect(100, 100, 160, 140),
		Confidence: 0.99,
		Found:      true,
	}, nil
}

func (m *fakeMatcher) MatchAll(img image.Image, name string, region image.Rectangle) ([]vision.MatchResult, error) {
	r, _ := m.Match(img, name, region)
	if !r.Found {
		return nil, nil
	}
	return []vision.MatchResult{r}, nil
}

func (m *fakeMatcher) Has(name string) bool { return true }

// fakeReader answers OCR calls by the first language hint.
type fakeReader struct {
	byHint map[string]string
}

func (r *fakeReader) Read(img image.Image, region image.Rectangle, hints []string) (string, error) {
	if len(hints) == 0 {
		return "", nil
	}
	return r.byHint[hints[0]], nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SleepMultiplier = 0.001
	cfg.MaxRetries = 2
	cfg.MaxHomeAttempts = 5
	cfg.RetryDelay = 1
	cfg.App.Package = "com.example.game"
	cfg.Timings = config.Timings{
		TapDelay:      0.001,
		SettleTime:    0.001,
		MenuAnimation: 0.001,
		ListTimeout:   0.05,
		NavTimeout:    1,
		LaunchWait:    0.05,
		PollInterval:  0.001,
		WatchdogPoll:  0.01,
	}
	cfg.Randomization = config.Randomization{
		CriticalJitter: 5,
		NormalJitter:   30,
		TapRadius:      5,
	}
	cfg.UIElements = config.UIElements{
		Points: map[string]config.Position{
			"profile":   {X: 6, Y: 4, Percent: true},
			"capitol":   {X: 50, Y: 20, Percent: true},
			"alliance":  {X: 60, Y: 95, Percent: true},
			"treasures": {X: 40, Y: 70, Percent: true},
		},
		Swipe: config.SwipeProfile{
			Start:      config.Position{X: 50, Y: 70, Percent: true},
			End:        config.Position{X: 50, Y: 30, Percent: true},
			DurationMs: 300,
		},
	}
	cfg.OCR = config.OCRSettings{
		Languages: map[string][]string{
			"applicant_name": {"eng+chi_sim"},
			"alliance_tag":   {"eng"},
		},
	}
	cfg.ApplicantOffset = config.Offset{X: 150, Y: 50}
	return cfg
}
