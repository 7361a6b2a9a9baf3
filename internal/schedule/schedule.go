// Package schedule runs the daily jobs of daemon mode on cron expressions.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pders01/covers/internal/logger"
	"github.com/pders01/covers/internal/metrics"
)

// Parser accepts standard 5-field expressions (minute hour day month weekday).
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Job is one named recurring task.
type Job struct {
	Name string
	Spec string
	// Timeout bounds a single run; zero means no deadline.
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Entry describes a registered job.
type Entry struct {
	Name string
	Spec string
	Next time.Time
}

// Scheduler runs jobs on their schedules. A job whose previous run is still
// in progress skips the tick; a panicking job is logged and recovered.
type Scheduler struct {
	cron     *cron.Cron
	log      logger.Logger
	metrics  *metrics.Metrics
	location *time.Location

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.RWMutex
	entries map[string]cron.EntryID
	specs   map[string]string
}

func New(loc *time.Location, log logger.Logger, m *metrics.Metrics) *Scheduler {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logger.NewNop()
	}
	adapter := cronLogger{log: log.With(logger.String("component", "cron"))}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLocation(loc),
			cron.WithLogger(adapter),
			cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
		),
		log:      log,
		metrics:  m,
		location: loc,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]cron.EntryID),
		specs:    make(map[string]string),
	}
}

// ValidateSpec reports whether spec is a usable cron expression.
func ValidateSpec(spec string) error {
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Add registers job. Names are unique.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("job needs a name and a run function")
	}
	if err := ValidateSpec(job.Spec); err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[job.Name]; exists {
		return fmt.Errorf("job %s already scheduled", job.Name)
	}

	id, err := s.cron.AddFunc(job.Spec, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("job %s: %w", job.Name, err)
	}
	s.entries[job.Name] = id
	s.specs[job.Name] = job.Spec

	s.log.Info("job scheduled", logger.String("job", job.Name), logger.String("spec", job.Spec))
	return nil
}

func (s *Scheduler) execute(job Job) {
	ctx := s.ctx
	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	log := s.log.With(logger.String("job", job.Name))
	log.Info("job starting")
	started := time.Now()

	err := job.Run(ctx)
	took := time.Since(started)
	s.metrics.ObserveRun(job.Name, took)

	if err != nil {
		log.Error("job failed", logger.Error(err), logger.Duration("took", took))
		return
	}
	log.Info("job finished", logger.Duration("took", took))
}

// RunNow runs a registered job synchronously through the same wrappers as
// a scheduled tick, so it is skipped while another run is in progress.
func (s *Scheduler) RunNow(name string) error {
	s.mu.RLock()
	id, ok := s.entries[name]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown job %s", name)
	}
	entry := s.cron.Entry(id)
	if !entry.Valid() {
		return fmt.Errorf("job %s is not registered", name)
	}
	entry.WrappedJob.Run()
	return nil
}

// Entries lists registered jobs ordered by name.
func (s *Scheduler) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.entries))
	for name, id := range s.entries {
		e := Entry{Name: name, Spec: s.specs[name]}
		if ce := s.cron.Entry(id); ce.Valid() {
			e.Next = ce.Next
			if e.Next.IsZero() {
				if sched, err := Parser.Parse(e.Spec); err == nil {
					e.Next = sched.Next(time.Now().In(s.location))
				}
			}
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", logger.Int("jobs", len(s.Entries())))
}

// Stop cancels running jobs and waits for them to return or for ctx to end.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.log.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running jobs: %w", ctx.Err())
	}
}

// cronLogger routes cron's own messages into the structured logger.
type cronLogger struct {
	log logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug(msg, fields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error(msg, append(fields(keysAndValues), logger.Error(err))...)
}

func fields(keysAndValues []interface{}) []logger.Field {
	out := make([]logger.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			key = fmt.Sprint(keysAndValues[i])
		}
		out = append(out, logger.Any(key, keysAndValues[i+1]))
	}
	return out
}
