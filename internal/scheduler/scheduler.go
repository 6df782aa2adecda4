package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "clubbot/pkg/logx"
)

var ErrDuplicateJob = errors.New("scheduler: duplicate job")

type Config struct {
	// Timezone is an IANA name used for cron expressions. Empty means UTC.
	Timezone string
}

// Job is one periodic unit of work. Runs of the same job never overlap.
type Job struct {
	Name    string
	Spec    string // see ParseSchedule
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// JobInfo is a point-in-time view of a registered job.
type JobInfo struct {
	Name    string
	Spec    string
	Next    time.Time
	Prev    time.Time
	Runs    uint64
	Errors  uint64
	LastErr string
}

type jobDef struct {
	Job
	sched   ParsedSpec
	entryID cron.EntryID
	spread  time.Duration

	runs    uint64
	errs    uint64
	lastErr string
}

type Service struct {
	mu sync.Mutex

	cfg  Config
	log  logx.Logger
	loc  *time.Location
	c    *cron.Cron
	ctx  context.Context
	stop context.CancelFunc
	defs []*jobDef
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, log: log, loc: loadLocation(cfg.Timezone, log)}
}

// Add registers a job. Jobs added after Start are scheduled immediately.
func (s *Service) Add(j Job) error {
	if strings.TrimSpace(j.Name) == "" {
		return fmt.Errorf("scheduler: job name required")
	}
	if j.Run == nil {
		return fmt.Errorf("scheduler: job %s has no run func", j.Name)
	}
	ps, err := ParseSchedule(j.Spec)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", j.Name, err)
	}
	if _, err := ps.Schedule(); err != nil {
		return fmt.Errorf("scheduler: job %s: %w", j.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.Name == j.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateJob, j.Name)
		}
	}
	d := &jobDef{Job: j, sched: ps}
	s.defs = append(s.defs, d)
	if s.c != nil {
		return s.addCronLocked(d)
	}
	return nil
}

// Reschedule changes the spec of a registered job.
func (s *Service) Reschedule(name, spec string) error {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}
	if _, err := ps.Schedule(); err != nil {
		return fmt.Errorf("scheduler: job %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range s.defs {
		if d.Name != name {
			continue
		}
		if d.Spec == spec {
			return nil
		}
		d.Spec = spec
		d.sched = ps
		if s.c != nil {
			s.c.Remove(d.entryID)
			return s.addCronLocked(d)
		}
		return nil
	}
	return fmt.Errorf("scheduler: unknown job %s", name)
}

// Apply swaps the config; a timezone change restarts the runner. The old
// runner is drained outside the lock so running jobs can finish.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		s.mu.Unlock()
		return
	}
	s.loc = loadLocation(cfg.Timezone, s.log)
	old := s.c
	s.c = nil
	s.mu.Unlock()
	if old == nil {
		return
	}

	<-old.Stop().Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop == nil || s.c != nil {
		// Stopped, or another Apply already restarted the runner.
		return
	}
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.ctx, s.stop = context.WithCancel(ctx)
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("jobs", len(s.defs)))
}

// Stop stops triggering and waits for running jobs until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c, stop := s.c, s.stop
	s.c, s.stop = nil, nil
	s.mu.Unlock()
	if stop != nil {
		stop()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("stop timed out waiting for running jobs")
	}
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Snapshot() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobInfo, 0, len(s.defs))
	for _, d := range s.defs {
		info := JobInfo{Name: d.Name, Spec: d.Spec, Runs: d.runs, Errors: d.errs, LastErr: d.lastErr}
		if s.c != nil {
			e := s.c.Entry(d.entryID)
			info.Next, info.Prev = e.Next, e.Prev
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) startLocked() {
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(s.loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, d := range s.defs {
		if err := s.addCronLocked(d); err != nil {
			s.log.Warn("job not scheduled", logx.String("job", d.Name), logx.Err(err))
		}
	}
	s.c.Start()
}

func (s *Service) addCronLocked(d *jobDef) error {
	job := cron.FuncJob(func() { s.run(d) })
	if d.sched.Kind == SpecInterval {
		sched, jitter := intervalWithSpread(d.sched.Every, time.Now().In(s.loc), d.Name)
		d.spread = jitter
		d.entryID = s.c.Schedule(sched, job)
		return nil
	}
	d.spread = 0
	sched, err := d.sched.Schedule()
	if err != nil {
		return err
	}
	d.entryID = s.c.Schedule(sched, job)
	return nil
}

func (s *Service) run(d *jobDef) {
	s.mu.Lock()
	base := s.ctx
	s.mu.Unlock()
	if base == nil || base.Err() != nil {
		return
	}
	ctx := base
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(base, d.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := d.Run(ctx)

	s.mu.Lock()
	d.runs++
	if err != nil {
		d.errs++
		d.lastErr = err.Error()
	} else {
		d.lastErr = ""
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("job", d.Name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.log.Debug("job done", logx.String("job", d.Name), logx.Duration("took", time.Since(start)))
}

func loadLocation(tz string, log logx.Logger) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		log.Warn("invalid timezone, using UTC", logx.String("tz", tz), logx.Err(err))
		return time.UTC
	}
	return loc
}

// cronLogger feeds robfig/cron's chain wrappers into logx.
type cronLogger struct{ log logx.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug(msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error(msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []interface{}) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		k, ok := kv[i].(string)
		if !ok {
			k = fmt.Sprint(kv[i])
		}
		out = append(out, logx.Any(k, kv[i+1]))
	}
	return out
}
