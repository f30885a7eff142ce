package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTask struct {
	name     string
	critical bool
	interval time.Duration
	run      func(ctx context.Context) error
	runs     atomic.Int32
}

func (t *stubTask) Name() string            { return t.name }
func (t *stubTask) Critical() bool          { return t.critical }
func (t *stubTask) Interval() time.Duration { return t.interval }

func (t *stubTask) Run(ctx context.Context) error {
	t.runs.Add(1)
	if t.run != nil {
		return t.run(ctx)
	}
	return nil
}

type stubHomer struct {
	mu    sync.Mutex
	calls int
}

func (h *stubHomer) Home(ctx context.Context) error {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()
	return nil
}

type memStore struct {
	mu   sync.Mutex
	runs map[string]time.Time
}

func newMemStore() *memStore { return &memStore{runs: map[string]time.Time{}} }

func (s *memStore) LastRun(name string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.runs[name]
	return t, ok, nil
}

func (s *memStore) SetLastRun(name string, t time.Time) error {
	s.mu.Lock()
	s.runs[name] = t
	s.mu.Unlock()
	return nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestScheduler(homer Homer, st RunStore) *Scheduler {
	return NewScheduler(testConfig(), homer, st, testLogger())
}

func TestJitterStaysWithinRadius(t *testing.T) {
	s := newTestScheduler(&stubHomer{}, nil)
	normal := s.random.NormalJitterD()
	critical := s.random.CriticalJitterD()
	for i := 0; i < 500; i++ {
		assert.LessOrEqual(t, absDuration(s.jitter(false)), normal)
		assert.LessOrEqual(t, absDuration(s.jitter(true)), critical)
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func TestOnlyOneTaskRunsAtATime(t *testing.T) {
	s := newTestScheduler(&stubHomer{}, nil)

	var active, maxActive atomic.Int32
	body := func(ctx context.Context) error {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		active.Add(-1)
		return nil
	}
	s.Register(&stubTask{name: "a", interval: time.Hour, run: body})
	s.Register(&stubTask{name: "b", interval: time.Hour, run: body})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.NoError(t, s.Run(ctx))
	assert.Equal(t, int32(1), maxActive.Load())
}

func TestClaimPrefersCriticalThenMostOverdue(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScheduler(&stubHomer{}, nil)
	s.clock = clock.Now

	older := &stubTask{name: "older", interval: time.Hour}
	newer := &stubTask{name: "newer", interval: time.Hour}
	crit := &stubTask{name: "crit", critical: true, interval: time.Minute}
	s.Register(older)
	s.Register(newer)
	s.Register(crit)
	s.records[0].nextDue = clock.Now().Add(-2 * time.Minute)
	s.records[1].nextDue = clock.Now().Add(-1 * time.Minute)
	s.records[2].nextDue = clock.Now()

	rec := s.claim()
	require.NotNil(t, rec)
	assert.Equal(t, "crit", rec.task.Name())
	s.running = ""

	s.records[2].nextDue = clock.Now().Add(time.Minute)
	rec = s.claim()
	require.NotNil(t, rec)
	assert.Equal(t, "older", rec.task.Name())
}

func TestClaimRespectsPause(t *testing.T) {
	s := newTestScheduler(&stubHomer{}, nil)
	s.Register(&stubTask{name: "a", interval: time.Hour})

	s.Pause()
	assert.Nil(t, s.claim())
	s.Resume()
	assert.NotNil(t, s.claim())
}

func TestPauseWaitsForRunningTask(t *testing.T) {
	s := newTestScheduler(&stubHomer{}, nil)

	started := make(chan struct{})
	release := make(chan struct{})
	s.Register(&stubTask{name: "slow", interval: time.Hour, run: func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)
	<-started

	paused := make(chan struct{})
	go func() {
		s.Pause()
		close(paused)
	}()

	select {
	case <-paused:
		t.Fatal("Pause returned while the task was still running")
	case <-time.After(20 * time.Millisecond):
	}

	close(release)
	select {
	case <-paused:
	case <-time.After(time.Second):
		t.Fatal("Pause never returned after the task finished")
	}
	s.mu.Lock()
	assert.Empty(t, s.running)
	s.mu.Unlock()
}

func TestFailuresBackOffThenEscalateHome(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	homer := &stubHomer{}
	s := newTestScheduler(homer, nil)
	s.clock = clock.Now
	s.random.NormalJitter = 0

	boom := errors.New("boom")
	task := &stubTask{name: "flaky", interval: time.Hour, run: func(ctx context.Context) error { return boom }}
	s.Register(task)
	ctx := context.Background()

	// First failure backs off, it does not escalate.
	rec := s.claim()
	require.NotNil(t, rec)
	s.runTask(ctx, rec)
	assert.Equal(t, 1, rec.failures)
	assert.Zero(t, homer.calls)
	assert.Nil(t, s.claim(), "backoff window suppresses the task")

	// Second failure doubles the backoff.
	clock.Advance(2 * s.retryDelay)
	first := rec.backoffUntil
	rec = s.claim()
	require.NotNil(t, rec)
	s.runTask(ctx, rec)
	assert.Equal(t, 2, rec.failures)
	assert.True(t, rec.backoffUntil.Sub(clock.Now()) > first.Sub(time.Unix(1000, 0)))

	// Third failure exceeds max_retries: home reset, counters cleared,
	// full interval charged.
	clock.Advance(5 * s.retryDelay)
	rec = s.claim()
	require.NotNil(t, rec)
	s.runTask(ctx, rec)
	assert.Equal(t, 1, homer.calls)
	assert.Zero(t, rec.failures)
	assert.Equal(t, clock.Now().Add(time.Hour), rec.nextDue)
}

func TestResetFailuresClearsBackoffWindow(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScheduler(&stubHomer{}, nil)
	s.clock = clock.Now

	task := &stubTask{name: "t", interval: time.Hour, run: func(ctx context.Context) error {
		return errors.New("boom")
	}}
	s.Register(task)

	rec := s.claim()
	require.NotNil(t, rec)
	s.runTask(context.Background(), rec)
	require.Nil(t, s.claim(), "task is in backoff")

	s.ResetFailures()
	assert.Zero(t, rec.failures)
	assert.NotNil(t, s.claim(), "backoff lifted")
}

func TestSuccessClearsFailureCount(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	s := newTestScheduler(&stubHomer{}, nil)
	s.clock = clock.Now
	s.random.NormalJitter = 0

	fail := true
	task := &stubTask{name: "t", interval: time.Minute, run: func(ctx context.Context) error {
		if fail {
			return errors.New("boom")
		}
		return nil
	}}
	s.Register(task)
	ctx := context.Background()

	rec := s.claim()
	require.NotNil(t, rec)
	s.runTask(ctx, rec)
	require.Equal(t, 1, rec.failures)

	fail = false
	clock.Advance(2 * s.retryDelay)
	rec = s.claim()
	require.NotNil(t, rec)
	s.runTask(ctx, rec)
	assert.Zero(t, rec.failures)
	assert.Equal(t, clock.Now().Add(time.Minute), rec.nextDue)
}

func TestRegisterHonorsPersistedLastRun(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.SetLastRun("t", time.Now()))

	s := newTestScheduler(&stubHomer{}, st)
	s.random.NormalJitter = 0
	s.Register(&stubTask{name: "t", interval: time.Hour})

	assert.Nil(t, s.claim(), "a recent persisted run defers the first due time")
}

func TestCompletionPersistsLastRun(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1000, 0)}
	st := newMemStore()
	s := newTestScheduler(&stubHomer{}, st)
	s.clock = clock.Now
	s.Register(&stubTask{name: "t", interval: time.Minute})

	rec := s.claim()
	require.NotNil(t, rec)
	s.runTask(context.Background(), rec)

	got, ok, err := st.LastRun("t")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, clock.Now(), got)
}
