package routines

import (
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/ConserveLee/warden/internal/armsrace"
	"github.com/ConserveLee/warden/internal/config"
	"github.com/ConserveLee/warden/internal/engine"
	"github.com/ConserveLee/warden/internal/notify"
	"github.com/ConserveLee/warden/internal/vision"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// simDevice records inputs and forwards taps and back presses to the test's
// screen simulation.
type simDevice struct {
	mu     sync.Mutex
	taps   []image.Point
	swipes int
	onTap  func(pt image.Point)
	onBack func()
}

func (d *simDevice) Screenshot() (image.Image, error) {
	return image.NewNRGBA(image.Rect(0, 0, 1080, 1920)), nil
}

func (d *simDevice) ScreenSize() (int, int, error) { return 1080, 1920, nil }

func (d *simDevice) Tap(x, y int) error {
	pt := image.Point{X: x, Y: y}
	d.mu.Lock()
	d.taps = append(d.taps, pt)
	d.mu.Unlock()
	if d.onTap != nil {
		d.onTap(pt)
	}
	return nil
}

func (d *simDevice) Swipe(x1, y1, x2, y2, durationMs int) error {
	d.mu.Lock()
	d.swipes++
	d.mu.Unlock()
	return nil
}

func (d *simDevice) Back() error {
	if d.onBack != nil {
		d.onBack()
	}
	return nil
}

func (d *simDevice) IsRunning(pkg string) bool { return true }
func (d *simDevice) Launch(pkg string) error   { return nil }
func (d *simDevice) Quit(pkg string) error     { return nil }

func (d *simDevice) tapCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.taps)
}

func (d *simDevice) tapsIn(r image.Rectangle) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, pt := range d.taps {
		if pt.In(r) {
			n++
		}
	}
	return n
}

// funcMatcher answers template lookups from a test-provided function.
type funcMatcher struct {
	hits func(name string) []vision.MatchResult
}

func (m *funcMatcher) Match(img image.Image, name string, region image.Rectangle) (vision.MatchResult, error) {
	hs := m.hits(name)
	if len(hs) == 0 {
		return vision.MatchResult{Name: name}, nil
	}
	return hs[0], nil
}

func (m *funcMatcher) MatchAll(img image.Image, name string, region image.Rectangle) ([]vision.MatchResult, error) {
	return m.hits(name), nil
}

func (m *funcMatcher) Has(name string) bool { return true }

func hitAt(name string, r image.Rectangle) vision.MatchResult {
	return vision.MatchResult{Name: name, Bounds: r, Confidence: 0.99, Found: true}
}

// funcReader answers OCR by region, so each applicant row reads its own text.
type funcReader struct {
	read func(region image.Rectangle, hints []string) string
}

func (r *funcReader) Read(img image.Image, region image.Rectangle, hints []string) (string, error) {
	if r.read == nil {
		return "", nil
	}
	return r.read(region, hints), nil
}

// memStore is the in-memory run-state store the routine tests share.
type memStore struct {
	mu           sync.Mutex
	appointments map[string]time.Time
	rejections   []rejection
}

type rejection struct {
	name     string
	alliance string
	at       time.Time
}

func newMemStore() *memStore {
	return &memStore{appointments: map[string]time.Time{}}
}

func (s *memStore) Appointment(title string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.appointments[title]
	return t, ok, nil
}

func (s *memStore) SetAppointment(title string, t time.Time) error {
	s.mu.Lock()
	s.appointments[title] = t
	s.mu.Unlock()
	return nil
}

func (s *memStore) LogRejection(name, alliance string, t time.Time) error {
	s.mu.Lock()
	s.rejections = append(s.rejections, rejection{name, alliance, t})
	s.mu.Unlock()
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []notify.Event
}

func (p *fakePublisher) Publish(evt notify.Event) {
	p.mu.Lock()
	p.events = append(p.events, evt)
	p.mu.Unlock()
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

func testRoutineConfig() *config.Config {
	cfg := &config.Config{}
	cfg.SleepMultiplier = 0.001
	cfg.MaxRetries = 2
	cfg.MaxHomeAttempts = 5
	cfg.App.Package = "com.example.game"
	cfg.ApplicantOffset = config.Offset{X: 150, Y: 50}
	cfg.Timings = config.Timings{
		TapDelay:      0.001,
		SettleTime:    0.001,
		MenuAnimation: 0.001,
		ListTimeout:   0.1,
		NavTimeout:    1,
		PollInterval:  0.001,
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
	return cfg
}

func testSchedule() *armsrace.Schedule {
	s, err := armsrace.New(
		[]string{"construction", "research", "training", "hero"},
		map[string][]string{"strategy": {"construction"}},
	)
	if err != nil {
		panic(err)
	}
	return s
}

// newTestDeps wires real engine layers over the fakes.
func newTestDeps(dev *simDevice, m engine.Matcher, reader engine.TextReader, st StateStore, pub Publisher) *Deps {
	cfg := testRoutineConfig()
	cfg.Randomization.TapRadius = 0
	log := testLogger()
	resolver := engine.NewResolver(m, reader, cfg, log)
	nav := engine.NewNavigator(dev, resolver, cfg, log)
	return &Deps{
		Nav:      nav,
		Resolver: resolver,
		Matcher:  m,
		Store:    st,
		Notify:   pub,
		Schedule: testSchedule(),
		Cfg:      cfg,
		Log:      log,
	}
}
