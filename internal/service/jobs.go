// Package service owns the job lifecycle: creation, asynchronous batch
// execution, cancellation, retention and report lookup.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/reviewradar/reviewradar/internal/backoff"
	"github.com/reviewradar/reviewradar/internal/config"
	"github.com/reviewradar/reviewradar/internal/events"
	"github.com/reviewradar/reviewradar/internal/metrics"
	"github.com/reviewradar/reviewradar/internal/pipeline"
	"github.com/reviewradar/reviewradar/internal/report"
	"github.com/reviewradar/reviewradar/internal/scrape"
	"github.com/reviewradar/reviewradar/internal/session"
)

// JobStatus represents the state of a batch job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusRunning    JobStatus = "running"
	JobStatusCancelling JobStatus = "cancelling"
	JobStatusCancelled  JobStatus = "cancelled"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCancelled, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// ItemStatus represents one item run's state.
type ItemStatus string

const (
	ItemStatusQueued     ItemStatus = "queued"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusSucceeded  ItemStatus = "succeeded"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusSkipped    ItemStatus = "skipped"
)

// ItemRun is one item's progress record inside a job.
type ItemRun struct {
	ItemID     string     `json:"item_id"`
	Status     ItemStatus `json:"status"`
	Stage      string     `json:"stage,omitempty"`
	Attempt    int        `json:"attempt,omitempty"`
	Error      string     `json:"error,omitempty"`
	ReportPath string     `json:"report_path,omitempty"`
}

// JobOptions carries per-job overrides of the deployment defaults.
// Zero values leave the configured default in place.
type JobOptions struct {
	Headless       *bool
	MaxReviews     int
	MaxItems       int
	InterItemDelay *time.Duration
}

// Job represents one batch analysis job.
type Job struct {
	ID          string
	Items       []string
	Status      JobStatus
	Error       string
	Headless    bool
	MaxReviews  int
	CreatedAt   time.Time
	CompletedAt *time.Time
	Summary     *report.Summary
	Runs        map[string]*ItemRun

	cfg    config.Config
	cancel *pipeline.CancelFlag
	mu     sync.RWMutex
}

// Snapshot returns a thread-safe copy of job state.
func (j *Job) Snapshot() Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	runs := make(map[string]*ItemRun, len(j.Runs))
	for id, run := range j.Runs {
		copied := *run
		runs[id] = &copied
	}
	return Job{
		ID:          j.ID,
		Items:       slices.Clone(j.Items),
		Status:      j.Status,
		Error:       j.Error,
		Headless:    j.Headless,
		MaxReviews:  j.MaxReviews,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		Summary:     j.Summary,
		Runs:        runs,
	}
}

// Job taxonomy surfaced to transport layers.
var (
	ErrJobNotFound    = errors.New("job not found")
	ErrJobTerminal    = errors.New("job already terminal")
	ErrJobNotTerminal = errors.New("job not terminal yet")
	ErrNoItems        = errors.New("no items provided")
	ErrReportNotFound = errors.New("report not found")
)

// JobManager tracks and manages batch jobs. Each job runs in its own
// goroutine with its own session; jobs share nothing but the bus, the
// report store and the collector.
type JobManager struct {
	mu   sync.RWMutex
	jobs map[string]*Job

	cfg      config.Config
	provider session.Provider
	fetcher  scrape.Fetcher
	analyzer pipeline.Analyzer
	sink     report.Sink
	reports  *report.Store
	bus      *events.Bus
	metrics  *metrics.Collector

	stop     chan struct{}
	stopOnce sync.Once
}

// NewJobManager wires the job manager with its collaborators and starts
// the retention sweeper.
func NewJobManager(cfg config.Config, provider session.Provider, fetcher scrape.Fetcher,
	analyzer pipeline.Analyzer, sink report.Sink, reports *report.Store,
	bus *events.Bus, collector *metrics.Collector) *JobManager {
	m := &JobManager{
		jobs:     make(map[string]*Job),
		cfg:      cfg,
		provider: provider,
		fetcher:  fetcher,
		analyzer: analyzer,
		sink:     sink,
		reports:  reports,
		bus:      bus,
		metrics:  collector,
		stop:     make(chan struct{}),
	}
	go m.evictLoop()
	return m
}

// Close stops the retention sweeper.
func (m *JobManager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func newJobID() string {
	return "job_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}

// Create registers a new pending job and starts its executor
// asynchronously. Returns immediately with the job. Options override the
// deployment defaults for this job only; the headless request is subject
// to the force-headless policy.
func (m *JobManager) Create(items []string, opts JobOptions) (*Job, error) {
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item != "" {
			cleaned = append(cleaned, item)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoItems
	}
	maxItems := m.cfg.MaxItems
	if opts.MaxItems > 0 {
		maxItems = opts.MaxItems
	}
	if maxItems > 0 && len(cleaned) > maxItems {
		cleaned = cleaned[:maxItems]
	}

	cfg := m.cfg
	requested := cfg.Headless
	if opts.Headless != nil {
		requested = *opts.Headless
	}
	cfg.Headless = cfg.EffectiveHeadless(requested)
	if opts.MaxReviews > 0 {
		cfg.MaxReviews = opts.MaxReviews
	}
	if opts.InterItemDelay != nil && *opts.InterItemDelay >= 0 {
		cfg.InterItemDelay = *opts.InterItemDelay
	}

	job := &Job{
		ID:         newJobID(),
		Items:      cleaned,
		Status:     JobStatusPending,
		Headless:   cfg.Headless,
		MaxReviews: cfg.MaxReviews,
		CreatedAt:  time.Now(),
		Runs:       make(map[string]*ItemRun, len(cleaned)),
		cfg:        cfg,
		cancel:     pipeline.NewCancelFlag(),
	}
	for _, item := range cleaned {
		job.Runs[item] = &ItemRun{ItemID: item, Status: ItemStatusQueued}
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	slog.Info("job created", "job_id", job.ID, "items", len(cleaned))
	go m.run(job)

	return job, nil
}

// Get retrieves a job snapshot by ID.
func (m *JobManager) Get(id string) (Job, error) {
	m.mu.RLock()
	job := m.jobs[id]
	m.mu.RUnlock()
	if job == nil {
		return Job{}, ErrJobNotFound
	}
	return job.Snapshot(), nil
}

// List returns all job snapshots, most recent first.
func (m *JobManager) List() []Job {
	m.mu.RLock()
	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, job)
	}
	m.mu.RUnlock()

	out := make([]Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.Snapshot())
	}
	slices.SortFunc(out, func(a, b Job) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out
}

// Cancel idempotently signals cancellation. Cancelling an
// already-cancelled job is a no-op; cancelling a completed or failed
// one is a conflict.
func (m *JobManager) Cancel(id string) error {
	m.mu.RLock()
	job := m.jobs[id]
	m.mu.RUnlock()
	if job == nil {
		return ErrJobNotFound
	}

	job.mu.Lock()
	defer job.mu.Unlock()
	switch job.Status {
	case JobStatusCompleted, JobStatusFailed:
		return ErrJobTerminal
	case JobStatusCancelled, JobStatusCancelling:
		return nil
	}
	job.Status = JobStatusCancelling
	job.cancel.Signal()
	slog.Info("job cancellation requested", "job_id", id)
	return nil
}

// Delete removes a job. A running job is cancelled first. The job's
// event backlog and report handles are released either immediately or,
// for a still-running job, when its executor finishes.
func (m *JobManager) Delete(id string) error {
	m.mu.Lock()
	job := m.jobs[id]
	if job == nil {
		m.mu.Unlock()
		return ErrJobNotFound
	}
	delete(m.jobs, id)
	m.mu.Unlock()

	job.mu.Lock()
	terminal := job.Status.Terminal()
	if !terminal && job.Status != JobStatusCancelling {
		job.Status = JobStatusCancelling
	}
	job.cancel.Signal()
	job.mu.Unlock()

	if terminal {
		m.bus.Release(id)
		m.reports.Release(id)
	}
	slog.Info("job deleted", "job_id", id)
	return nil
}

// Subscribe attaches to a job's live event stream.
func (m *JobManager) Subscribe(id string) (<-chan events.Event, func(), error) {
	m.mu.RLock()
	job := m.jobs[id]
	m.mu.RUnlock()
	if job == nil {
		return nil, nil, ErrJobNotFound
	}
	ch, unsub := m.bus.Subscribe(id)
	return ch, unsub, nil
}

// Report renders one item's persisted report. Only terminal jobs have
// stable reports.
func (m *JobManager) Report(ctx context.Context, jobID, itemID string, f report.Format) ([]byte, error) {
	m.mu.RLock()
	job := m.jobs[jobID]
	m.mu.RUnlock()
	if job == nil {
		return nil, ErrJobNotFound
	}

	job.mu.RLock()
	terminal := job.Status.Terminal()
	job.mu.RUnlock()
	if !terminal {
		return nil, ErrJobNotTerminal
	}

	h, ok := m.reports.Get(jobID, itemID)
	if !ok {
		return nil, ErrReportNotFound
	}
	return m.sink.Retrieve(ctx, h, f)
}

// Metrics exposes the shared collector snapshot.
func (m *JobManager) Metrics() metrics.Snapshot {
	return m.metrics.Snapshot()
}

// EngineInfo reports the configured analysis provider and model.
func (m *JobManager) EngineInfo() (provider, model string) {
	return string(m.cfg.LLMProvider), m.cfg.LLMModel
}

// ActiveJobs counts jobs not yet terminal.
func (m *JobManager) ActiveJobs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, job := range m.jobs {
		job.mu.RLock()
		if !job.Status.Terminal() {
			n++
		}
		job.mu.RUnlock()
	}
	return n
}

// run executes one job's batch end to end. Runs in its own goroutine.
func (m *JobManager) run(job *Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("job goroutine panicked", "job_id", job.ID, "panic", r)
			m.finalize(job, nil, fmt.Errorf("internal panic: %v", r), time.Now())
		}
	}()

	start := time.Now()
	ctx := context.Background()

	job.mu.Lock()
	// A cancel raced in before the executor started.
	if job.Status == JobStatusPending {
		job.Status = JobStatusRunning
	}
	job.mu.Unlock()

	m.bus.Publish(job.ID, events.Event{
		Stage:   "job",
		Kind:    events.KindStarted,
		Payload: map[string]any{"items": len(job.Items)},
	})

	sessions := session.NewManager(m.provider, job.cfg.SessionMaxElapsed)
	policy := backoff.New(job.cfg.RetryBaseDelay, job.cfg.RetryMaxDelay, job.cfg.JitterFraction)
	runner := pipeline.NewRunner(policy, m.bus, sessions)
	runner.OnAttempt = func(itemID string, kind pipeline.StageKind, attempt int) {
		job.mu.Lock()
		if run, ok := job.Runs[itemID]; ok {
			run.Status = ItemStatusInProgress
			run.Stage = kind.String()
			run.Attempt = attempt
		}
		job.mu.Unlock()
	}
	exec := pipeline.NewExecutor(m.fetcher, m.analyzer, m.sink, m.reports, sessions, m.bus, runner, m.metrics, job.cfg)

	results, execErr := exec.RunBatch(ctx, job.ID, job.Items, job.cancel, func(res pipeline.ItemResult) {
		job.mu.Lock()
		if run, ok := job.Runs[res.ItemID]; ok {
			run.Status = ItemStatus(res.Status)
			run.Error = res.Reason
			run.ReportPath = res.Handle.Path
		}
		job.mu.Unlock()
	})

	sessions.Release(ctx)
	m.finalize(job, results, execErr, start)
}

// finalize computes the batch summary, persists it, records the
// terminal status and publishes the job-level terminal event.
func (m *JobManager) finalize(job *Job, results []pipeline.ItemResult, execErr error, start time.Time) {
	summary := buildSummary(job.ID, results, time.Since(start))
	if path, err := m.sink.StoreSummary(context.Background(), summary); err != nil {
		slog.Warn("failed to persist batch summary", "job_id", job.ID, "error", err)
	} else {
		slog.Info("batch summary saved", "job_id", job.ID, "path", path)
	}

	status := JobStatusCompleted
	var reason string
	switch {
	case errors.Is(execErr, pipeline.ErrCancelled):
		status = JobStatusCancelled
		reason = "cancelled by request"
	case execErr != nil:
		status = JobStatusFailed
		reason = execErr.Error()
	}

	now := time.Now()
	job.mu.Lock()
	// A cancel that landed after the last item settled still wins: the
	// caller was already told the job is cancelling.
	if status == JobStatusCompleted && job.Status == JobStatusCancelling {
		status = JobStatusCancelled
		reason = "cancelled by request"
	}
	job.Status = status
	job.Error = reason
	job.Summary = summary
	job.CompletedAt = &now
	job.mu.Unlock()

	kind := events.KindSucceeded
	switch status {
	case JobStatusFailed:
		kind = events.KindFailed
	case JobStatusCancelled:
		kind = events.KindSkipped
	}
	m.bus.Publish(job.ID, events.Event{
		Stage: "job",
		Kind:  kind,
		Payload: map[string]any{
			"status":    string(status),
			"succeeded": summary.Succeeded,
			"failed":    summary.Failed,
			"skipped":   summary.Skipped,
			"reason":    reason,
		},
	})
	m.bus.CloseStream(job.ID)

	// The job may have been deleted while running; release what Delete
	// could not.
	m.mu.RLock()
	_, registered := m.jobs[job.ID]
	m.mu.RUnlock()
	if !registered {
		m.bus.Release(job.ID)
		m.reports.Release(job.ID)
	}

	slog.Info("job finished",
		"job_id", job.ID,
		"status", status,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

func buildSummary(jobID string, results []pipeline.ItemResult, elapsed time.Duration) *report.Summary {
	s := &report.Summary{
		JobID:     jobID,
		Timestamp: time.Now(),
		Count:     len(results),
		Elapsed:   elapsed.Seconds(),
		Results:   make([]report.SummaryEntry, 0, len(results)),
	}
	for _, res := range results {
		entry := report.SummaryEntry{
			ItemID: res.ItemID,
			Status: string(res.Status),
			Path:   res.Handle.Path,
		}
		if res.Content != nil {
			entry.Title = res.Content.Title
			entry.RatingAverage = res.Content.RatingAverage
			entry.TotalReviews = res.Content.TotalReviews
			entry.ReviewsExtracted = len(res.Content.Reviews)
		}
		if res.Reason != "" && res.Status != pipeline.ItemSucceeded {
			entry.Errors = []string{res.Reason}
		}
		switch res.Status {
		case pipeline.ItemSucceeded:
			s.Succeeded++
		case pipeline.ItemFailed:
			s.Failed++
		case pipeline.ItemSkipped:
			s.Skipped++
		}
		s.Results = append(s.Results, entry)
	}
	return s
}

// evictLoop drops terminal jobs past the retention window together with
// their event backlogs and report handles.
func (m *JobManager) evictLoop() {
	interval := m.cfg.RetentionWindow / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.evictExpired(time.Now())
		}
	}
}

func (m *JobManager) evictExpired(now time.Time) {
	var expired []string
	m.mu.RLock()
	for id, job := range m.jobs {
		job.mu.RLock()
		if job.Status.Terminal() && job.CompletedAt != nil &&
			now.Sub(*job.CompletedAt) > m.cfg.RetentionWindow {
			expired = append(expired, id)
		}
		job.mu.RUnlock()
	}
	m.mu.RUnlock()

	for _, id := range expired {
		m.mu.Lock()
		delete(m.jobs, id)
		m.mu.Unlock()
		m.bus.Release(id)
		m.reports.Release(id)
		slog.Debug("job evicted", "job_id", id)
	}
}
