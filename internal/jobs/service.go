// Package jobs runs named periodic jobs on cron schedules.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"outagebot/pkg/logx"
)

var ErrUnknownJob = errors.New("unknown job")

// Job is one run of a periodic task.
type Job func(ctx context.Context) error

// Entry is a point-in-time view of a registered job.
type Entry struct {
	Name    string
	Spec    string
	Next    time.Time
	Prev    time.Time
	LastRun time.Time
	LastErr string
	Runs    uint64
}

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSpec validates a cron spec ("*/30 * * * *", "@hourly", "@every 10m").
func ParseSpec(spec string) error {
	if strings.TrimSpace(spec) == "" {
		return errors.New("schedule required")
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

type def struct {
	name    string
	spec    string
	timeout time.Duration
	job     Job
	id      cron.EntryID

	lastRun time.Time
	lastErr string
	runs    uint64
}

type Service struct {
	log logx.Logger
	c   *cron.Cron

	mu      sync.Mutex
	defs    map[string]*def
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
}

func New(loc *time.Location, log logx.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	log = log.With(logx.String("comp", "jobs"))
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		log: log,
		c: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		defs:   map[string]*def{},
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddCron registers job under name, replacing any job with the same name.
func (s *Service) AddCron(name, spec string, timeout time.Duration, job Job) error {
	name = strings.TrimSpace(name)
	if name == "" || job == nil {
		return errors.New("job name and func required")
	}
	if err := ParseSpec(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.defs[name]; ok {
		s.c.Remove(old.id)
	}
	d := &def{name: name, spec: spec, timeout: timeout, job: job}
	id, err := s.c.AddFunc(spec, func() { _ = s.run(d) })
	if err != nil {
		delete(s.defs, name)
		return err
	}
	d.id = id
	s.defs[name] = d
	s.log.Info("job scheduled", logx.String("name", name), logx.String("spec", spec))
	return nil
}

func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	s.c.Remove(d.id)
	delete(s.defs, name)
	return true
}

// RunNow runs the named job synchronously, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return s.run(d)
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.c.Start()
	s.log.Info("service started", logx.String("tz", s.c.Location().String()), logx.Int("jobs", len(s.defs)))
}

// Stop stops triggering and cancels running jobs once ctx expires.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	select {
	case <-s.c.Stop().Done():
	case <-ctx.Done():
	}
	s.cancel()
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) Entries() []Entry {
	s.mu.Lock()
	out := make([]Entry, 0, len(s.defs))
	for _, d := range s.defs {
		ce := s.c.Entry(d.id)
		out = append(out, Entry{
			Name:    d.name,
			Spec:    d.spec,
			Next:    ce.Next,
			Prev:    ce.Prev,
			LastRun: d.lastRun,
			LastErr: d.lastErr,
			Runs:    d.runs,
		})
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) run(d *def) error {
	ctx := s.ctx
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	start := time.Now()
	err := d.job(ctx)

	s.mu.Lock()
	d.lastRun = start
	d.runs++
	d.lastErr = ""
	if err != nil {
		d.lastErr = err.Error()
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("job failed", logx.String("name", d.name), logx.Duration("took", time.Since(start)), logx.Err(err))
		return err
	}
	s.log.Debug("job done", logx.String("name", d.name), logx.Duration("took", time.Since(start)))
	return nil
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
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
