package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/rendis/stepcheck/internal/store"
	"github.com/rendis/stepcheck/internal/validation"
	"github.com/rendis/stepcheck/pkg/schema"
)

// pageSize bounds how many workflows one ListWorkflows call returns.
const pageSize = 100

// Notifier is told about every step whose persisted issues changed.
// Satisfied by the MCP notifier (avoids import cycle).
type Notifier interface {
	IssuesChanged(ctx context.Context, workflowID, stepID string, issues *schema.StepIssues) error
}

// SweepResult summarizes one pass over the stored workflows.
type SweepResult struct {
	Workflows int `json:"workflows"`
	Steps     int `json:"steps"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
}

// Scheduler periodically re-validates every stored workflow and persists the
// results, so issues follow tier and integration changes made in the store.
type Scheduler struct {
	store      store.Store
	aggregator *validation.Aggregator
	features   schema.FeatureContext
	notifier   Notifier
	schedule   cron.Schedule
	logger     *slog.Logger
	now        func() time.Time
	cancel     context.CancelFunc
	done       chan struct{}
	mu         sync.Mutex

	sweepMu  sync.Mutex
	sweeping bool
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithNotifier reports changed step issues to n.
func WithNotifier(n Notifier) Option {
	return func(s *Scheduler) { s.notifier = n }
}

// WithFeatures sets the feature flags every sweep validates with.
func WithFeatures(f schema.FeatureContext) Option {
	return func(s *Scheduler) { s.features = f }
}

// WithLogger sets the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// ParseSchedule accepts a five-field cron expression or a descriptor such as
// "@hourly" or "@every 30m". Specs that never fire, like "0 0 30 2 *", are
// rejected.
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if schedule.Next(time.Now()).IsZero() {
		return nil, fmt.Errorf("parse schedule %q: never fires", spec)
	}
	return schedule, nil
}

// NewScheduler creates a Scheduler that sweeps on the given cron spec.
func NewScheduler(s store.Store, agg *validation.Aggregator, spec string, opts ...Option) (*Scheduler, error) {
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, err
	}
	sch := &Scheduler{
		store:      s,
		aggregator: agg,
		schedule:   schedule,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(sch)
	}
	return sch, nil
}

// Start launches the background sweep loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	for {
		now := s.now()
		next := s.schedule.Next(now)
		if next.IsZero() {
			s.logger.Warn("revalidation schedule has no next run; sweep loop exiting")
			return
		}
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("revalidation sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// Sweep re-validates every step of every stored workflow once. A sweep that
// is already running makes a concurrent call return immediately with an
// empty result. Step failures are logged and counted, not returned.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	var res SweepResult
	if !s.tryAcquire() {
		s.logger.Debug("revalidation sweep already running")
		return res, nil
	}
	defer s.release()

	for offset := 0; ; offset += pageSize {
		workflows, err := s.store.ListWorkflows(ctx, store.WorkflowFilter{Limit: pageSize, Offset: offset})
		if err != nil {
			return res, fmt.Errorf("list workflows: %w", err)
		}
		for _, wf := range workflows {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			s.sweepWorkflow(ctx, wf, &res)
		}
		if len(workflows) < pageSize {
			break
		}
	}

	s.logger.Info("revalidation sweep finished",
		slog.Int("workflows", res.Workflows),
		slog.Int("steps", res.Steps),
		slog.Int("changed", res.Changed),
		slog.Int("failed", res.Failed),
	)
	return res, nil
}

func (s *Scheduler) sweepWorkflow(ctx context.Context, wf *schema.Workflow, res *SweepResult) {
	res.Workflows++
	log := s.logger.With(slog.String("workflow_id", wf.ID))

	previous := map[string][]byte{}
	records, err := s.store.ListStepIssues(ctx, wf.ID)
	if err != nil {
		log.Warn("failed to load previous issues", slog.String("error", err.Error()))
	}
	for _, r := range records {
		if data, err := json.Marshal(r.Issues); err == nil {
			previous[r.StepID] = data
		}
	}

	for _, step := range wf.Steps {
		res.Steps++
		key := step.Key()
		issues, err := s.aggregator.Execute(ctx, validation.Request{Workflow: wf, StepID: key, Features: s.features})
		if err != nil {
			res.Failed++
			log.Error("step validation failed", slog.String("step_id", key), slog.String("error", err.Error()))
			continue
		}

		current, err := json.Marshal(issues)
		if err != nil {
			res.Failed++
			continue
		}
		if old, ok := previous[key]; ok && bytes.Equal(old, current) {
			continue
		}

		if err := s.store.SaveStepIssues(ctx, wf.ID, key, issues); err != nil {
			res.Failed++
			log.Error("failed to persist step issues", slog.String("step_id", key), slog.String("error", err.Error()))
			continue
		}
		res.Changed++
		if s.notifier != nil {
			if err := s.notifier.IssuesChanged(ctx, wf.ID, key, issues); err != nil {
				log.Warn("issues notification failed", slog.String("step_id", key), slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Scheduler) tryAcquire() bool {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	if s.sweeping {
		return false
	}
	s.sweeping = true
	return true
}

func (s *Scheduler) release() {
	s.sweepMu.Lock()
	defer s.sweepMu.Unlock()
	s.sweeping = false
}
