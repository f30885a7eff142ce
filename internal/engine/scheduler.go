package engine

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/ConserveLee/warden/internal/config"
)

// Task is one unit of recurring bot work. Critical tasks are favored when
// several are due and receive the tighter jitter radius.
type Task interface {
	Name() string
	Critical() bool
	Interval() time.Duration
	Run(ctx context.Context) error
}

// RunStore persists task completion times across restarts. *store.Store
// satisfies it; a nil store means intervals reset on every launch.
type RunStore interface {
	LastRun(name string) (time.Time, bool, error)
	SetLastRun(name string, t time.Time) error
}

// Homer regains the home screen. It is the scheduler's escalation target when
// a task exhausts its retries.
type Homer interface {
	Home(ctx context.Context) error
}

type record struct {
	task         Task
	nextDue      time.Time
	backoffUntil time.Time
	failures     int
}

// Scheduler runs registered tasks one at a time on its own loop. Only one
// task ever touches the device; the watchdog pauses the loop between tasks,
// never mid-task.
type Scheduler struct {
	mu      sync.Mutex
	idle    *sync.Cond
	records []*record
	paused  bool
	running string

	maxRetries int
	retryDelay time.Duration
	random     config.Randomization

	nav   Homer
	store RunStore
	clock func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rnd   *rand.Rand
	log   *slog.Logger
}

func NewScheduler(cfg *config.Config, nav Homer, st RunStore, log *slog.Logger) *Scheduler {
	s := &Scheduler{
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelayD(),
		random:     cfg.Randomization,
		nav:        nav,
		store:      st,
		clock:      time.Now,
		sleep:      sleepCtx,
		rnd:        rand.New(rand.NewSource(time.Now().UnixNano())),
		log:        log,
	}
	s.idle = sync.NewCond(&s.mu)
	return s
}

// Register adds a task. When a persisted last-run time exists the first due
// time honors it, so restarting the bot does not re-fire every task at once.
func (s *Scheduler) Register(t Task) {
	rec := &record{task: t}
	if s.store != nil {
		if last, ok, err := s.store.LastRun(t.Name()); err == nil && ok {
			rec.nextDue = last.Add(t.Interval() + s.jitter(t.Critical()))
		}
	}
	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
}

// Pause stops the loop from starting new tasks and blocks until the task
// running right now, if any, has finished. When Pause returns the scheduler
// is not touching the device, so the caller may inject its own input.
func (s *Scheduler) Pause() {
	s.mu.Lock()
	s.paused = true
	for s.running != "" {
		s.idle.Wait()
	}
	s.mu.Unlock()
	s.log.Info("scheduler paused")
}

func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.log.Info("scheduler resumed")
}

// ResetFailures clears failure counts and backoff windows. The watchdog calls
// this after a restart: old failures say nothing about the fresh instance.
func (s *Scheduler) ResetFailures() {
	s.mu.Lock()
	for _, r := range s.records {
		r.failures = 0
		r.backoffUntil = time.Time{}
	}
	s.mu.Unlock()
}

// Run drives the task loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		rec := s.claim()
		if rec == nil {
			if err := s.sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}
		s.runTask(ctx, rec)
	}
}

// claim picks the next runnable task, or nil when paused or nothing is due.
// Critical tasks win ties; otherwise the most overdue goes first.
func (s *Scheduler) claim() *record {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.paused || s.running != "" {
		return nil
	}
	now := s.clock()
	var best *record
	for _, r := range s.records {
		if now.Before(r.nextDue) || now.Before(r.backoffUntil) {
			continue
		}
		if best == nil || moreUrgent(r, best) {
			best = r
		}
	}
	if best != nil {
		s.running = best.task.Name()
	}
	return best
}

func moreUrgent(a, b *record) bool {
	if a.task.Critical() != b.task.Critical() {
		return a.task.Critical()
	}
	return a.nextDue.Before(b.nextDue)
}

func (s *Scheduler) runTask(ctx context.Context, rec *record) {
	name := rec.task.Name()
	s.log.Info("task start", "task", name)
	err := rec.task.Run(ctx)

	// running stays set through the escalation path below so a concurrent
	// Pause does not return while the home reset is still pressing keys.
	defer func() {
		s.mu.Lock()
		s.running = ""
		s.idle.Broadcast()
		s.mu.Unlock()
	}()

	s.mu.Lock()
	now := s.clock()

	if err == nil {
		rec.failures = 0
		s.complete(rec, now)
		s.mu.Unlock()
		s.log.Info("task done", "task", name)
		return
	}
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}

	rec.failures++
	attempts := rec.failures
	if attempts <= s.maxRetries {
		rec.backoffUntil = now.Add(s.backoff(attempts))
		s.mu.Unlock()
		s.log.Warn("task failed", "task", name, "attempt", attempts, "error", err)
		return
	}
	s.mu.Unlock()

	// Retries exhausted. Regain home so the next task starts from a known
	// screen, then charge the full interval as if the task had run.
	s.log.Error("task retries exhausted, resetting to home", "task", name, "error", err)
	if herr := s.nav.Home(ctx); herr != nil {
		s.log.Error("home reset failed", "error", herr)
	}
	s.mu.Lock()
	rec.failures = 0
	s.complete(rec, s.clock())
	s.mu.Unlock()
}

// complete stamps a run and draws the next jittered due time.
func (s *Scheduler) complete(rec *record, now time.Time) {
	rec.backoffUntil = time.Time{}
	rec.nextDue = now.Add(rec.task.Interval() + s.jitter(rec.task.Critical()))
	if s.store != nil {
		if err := s.store.SetLastRun(rec.task.Name(), now); err != nil {
			s.log.Warn("persisting last run failed", "task", rec.task.Name(), "error", err)
		}
	}
}

// backoff doubles per consecutive failure, capped at 8x the base delay.
func (s *Scheduler) backoff(failures int) time.Duration {
	d := s.retryDelay
	for i := 1; i < failures && d < 8*s.retryDelay; i++ {
		d *= 2
	}
	if d > 8*s.retryDelay {
		d = 8 * s.retryDelay
	}
	return d
}

// jitter draws a uniform offset in [-radius, +radius] for the task class.
func (s *Scheduler) jitter(critical bool) time.Duration {
	radius := s.random.NormalJitterD()
	if critical {
		radius = s.random.CriticalJitterD()
	}
	if radius <= 0 {
		return 0
	}
	return time.Duration(s.rnd.Int63n(int64(2*radius)+1)) - radius
}
