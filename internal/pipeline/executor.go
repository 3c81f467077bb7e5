package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/reviewradar/reviewradar/internal/analysis"
	"github.com/reviewradar/reviewradar/internal/config"
	"github.com/reviewradar/reviewradar/internal/events"
	"github.com/reviewradar/reviewradar/internal/metrics"
	"github.com/reviewradar/reviewradar/internal/report"
	"github.com/reviewradar/reviewradar/internal/scrape"
	"github.com/reviewradar/reviewradar/internal/session"
)

// Analyzer is the analysis engine surface the pipeline needs.
type Analyzer interface {
	AnalyzeSentiment(ctx context.Context, content *scrape.RawContent) (*analysis.Sentiment, error)
	AnalyzeThemes(ctx context.Context, content *scrape.RawContent) (*analysis.Themes, error)
}

// ItemStatus is the terminal state of one item run.
type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemFailed    ItemStatus = "failed"
	ItemSkipped   ItemStatus = "skipped"
)

// ItemResult is the outcome of one item's pipeline run.
type ItemResult struct {
	ItemID      string
	Status      ItemStatus
	FailedStage StageKind
	Attempts    map[StageKind]int
	Err         error
	Reason      string
	Handle      report.Handle
	Content     *scrape.RawContent
	Elapsed     time.Duration

	report *report.Report
}

// Executor drives the items of one job through the ordered stages,
// strictly sequentially, sharing the job's single session.
type Executor struct {
	Fetcher  scrape.Fetcher
	Analyzer Analyzer
	Sink     report.Sink
	Reports  *report.Store
	Sessions *session.Manager
	Bus      *events.Bus
	Runner   *Runner
	Metrics  *metrics.Collector
	Cfg      config.Config

	sleep func(ctx context.Context, d time.Duration, cancel <-chan struct{}) error
}

func NewExecutor(fetcher scrape.Fetcher, analyzer Analyzer, sink report.Sink, reports *report.Store,
	sessions *session.Manager, bus *events.Bus, runner *Runner, collector *metrics.Collector, cfg config.Config) *Executor {
	return &Executor{
		Fetcher:  fetcher,
		Analyzer: analyzer,
		Sink:     sink,
		Reports:  reports,
		Sessions: sessions,
		Bus:      bus,
		Runner:   runner,
		Metrics:  collector,
		Cfg:      cfg,
		sleep:    sleepInterruptible,
	}
}

// RunBatch processes items in order. The returned error is non-nil only
// when the job as a whole must fail (no usable session) or cancellation
// preempted the batch; per-item failures are carried in the results.
func (e *Executor) RunBatch(ctx context.Context, jobID string, items []string, cancel *CancelFlag, onItem func(ItemResult)) ([]ItemResult, error) {
	results := make([]ItemResult, 0, len(items))

	emit := func(res ItemResult) {
		results = append(results, res)
		if onItem != nil {
			onItem(res)
		}
	}

	skipRemaining := func(from int, reason string) {
		for _, id := range items[from:] {
			e.publishItemSkipped(jobID, id, reason)
			emit(ItemResult{ItemID: id, Status: ItemSkipped, Reason: reason})
		}
	}

	for i, itemID := range items {
		if cancel.Cancelled() {
			skipRemaining(i, "job cancelled")
			return results, ErrCancelled
		}
		if err := ctx.Err(); err != nil {
			skipRemaining(i, "shutting down")
			return results, err
		}

		res := e.runItem(ctx, jobID, itemID, cancel)
		emit(res)

		if errors.Is(res.Err, session.ErrUnavailable) {
			skipRemaining(i+1, "session unavailable")
			return results, res.Err
		}
		if errors.Is(res.Err, ErrCancelled) {
			skipRemaining(i+1, "job cancelled")
			return results, ErrCancelled
		}
		if ctx.Err() != nil {
			skipRemaining(i+1, "shutting down")
			return results, ctx.Err()
		}

		if i < len(items)-1 && e.Cfg.InterItemDelay > 0 {
			if cancel.Cancelled() {
				skipRemaining(i+1, "job cancelled")
				return results, ErrCancelled
			}
			if err := e.sleep(ctx, e.Cfg.InterItemDelay, cancel.Done()); err != nil {
				skipRemaining(i+1, "job cancelled")
				return results, err
			}
		}
	}
	return results, nil
}

// runItem drives one item through the stage sequence. A permanent stage
// failure terminates the item only; session unavailability and
// cancellation are surfaced to the caller through res.Err.
func (e *Executor) runItem(ctx context.Context, jobID, itemID string, cancel *CancelFlag) ItemResult {
	start := time.Now()
	res := ItemResult{ItemID: itemID, Attempts: make(map[StageKind]int)}

	var (
		page    *scrape.Page
		content *scrape.RawContent
		sent    *analysis.Sentiment
		themes  *analysis.Themes
		handle  report.Handle

		sessionDur, fetchDur, sentDur, themeDur time.Duration
		analysisErrs                            []string
	)

	stages := map[StageKind]struct {
		fn       stageFunc
		fallback stageFunc
	}{
		StageNavigate: {
			fn: func(ctx context.Context) error {
				acqStart := time.Now()
				s, err := e.Sessions.Acquire(ctx)
				sessionDur += time.Since(acqStart)
				if err != nil {
					return err
				}
				e.record(metrics.OpSessionEstablish, time.Since(acqStart))

				navStart := time.Now()
				defer func() { fetchDur += time.Since(navStart) }()
				nctx, cancelFn := context.WithTimeout(ctx, e.Cfg.NavigateTimeout)
				defer cancelFn()
				p, err := e.Fetcher.Navigate(nctx, s, itemID)
				e.record(metrics.OpNavigate, time.Since(navStart))
				if err != nil {
					return err
				}
				page = p
				return nil
			},
			fallback: func(ctx context.Context) error {
				s, err := e.Sessions.Acquire(ctx)
				if err != nil {
					return err
				}
				nctx, cancelFn := context.WithTimeout(ctx, e.Cfg.NavigateTimeout)
				defer cancelFn()
				p, err := e.Fetcher.NavigateFallback(nctx, s, itemID)
				if err != nil {
					return err
				}
				page = p
				return nil
			},
		},
		StageExtract: {
			fn: func(ctx context.Context) error {
				s, err := e.Sessions.Acquire(ctx)
				if err != nil {
					return err
				}
				extStart := time.Now()
				defer func() { fetchDur += time.Since(extStart) }()
				ectx, cancelFn := context.WithTimeout(ctx, e.Cfg.ExtractTimeout)
				defer cancelFn()
				c, err := e.Fetcher.Extract(ectx, s, page, e.Cfg.MaxReviews)
				e.record(metrics.OpExtract, time.Since(extStart))
				if err != nil {
					return err
				}
				c.ItemID = itemID
				content = c
				return nil
			},
		},
		StageSentiment: {
			fn: func(ctx context.Context) error {
				actx, cancelFn := context.WithTimeout(ctx, e.Cfg.AnalysisTimeout)
				defer cancelFn()
				stageStart := time.Now()
				s, err := e.Analyzer.AnalyzeSentiment(actx, content)
				sentDur += time.Since(stageStart)
				e.record(metrics.OpSentiment, time.Since(stageStart))
				if err != nil {
					analysisErrs = append(analysisErrs, err.Error())
					return err
				}
				sent = s
				return nil
			},
		},
		StageThemes: {
			fn: func(ctx context.Context) error {
				actx, cancelFn := context.WithTimeout(ctx, e.Cfg.AnalysisTimeout)
				defer cancelFn()
				stageStart := time.Now()
				t, err := e.Analyzer.AnalyzeThemes(actx, content)
				themeDur += time.Since(stageStart)
				e.record(metrics.OpThemes, time.Since(stageStart))
				if err != nil {
					analysisErrs = append(analysisErrs, err.Error())
					return err
				}
				themes = t
				return nil
			},
		},
		StageBuildReport: {
			fn: func(ctx context.Context) error {
				perf := report.Performance{
					SessionDuration:   sessionDur.Seconds(),
					FetchDuration:     fetchDur.Seconds(),
					SentimentDuration: sentDur.Seconds(),
					ThemeDuration:     themeDur.Seconds(),
					AnalysisDuration:  (sentDur + themeDur).Seconds(),
					TotalDuration:     time.Since(start).Seconds(),
					Authenticated:     content.Authenticated,
					FetchSuccess:      true,
				}
				rep := report.Build(jobID, itemID, content, sent, themes, perf, nil, analysisErrs)
				res.report = rep
				return nil
			},
		},
		StagePersist: {
			fn: func(ctx context.Context) error {
				pctx, cancelFn := context.WithTimeout(ctx, e.Cfg.PersistTimeout)
				defer cancelFn()
				persistStart := time.Now()
				h, err := e.Sink.Store(pctx, res.report)
				e.record(metrics.OpPersist, time.Since(persistStart))
				if err != nil {
					return err
				}
				handle = h
				e.Reports.Put(jobID, h)
				return nil
			},
		},
	}

	for idx, kind := range stageOrder {
		if cancel.Cancelled() {
			res.Status = ItemSkipped
			res.Reason = "job cancelled"
			res.Err = ErrCancelled
			e.publishStagesSkipped(jobID, itemID, stageOrder[idx:], "job cancelled")
			res.Elapsed = time.Since(start)
			return res
		}

		st := stages[kind]
		attempts, err := e.Runner.Run(ctx, jobID, itemID, kind, cancel.Done(), st.fn, st.fallback)
		res.Attempts[kind] = attempts
		if err == nil {
			continue
		}
		res.Err = err
		res.Elapsed = time.Since(start)

		switch {
		case errors.Is(err, session.ErrUnavailable):
			res.Status = ItemSkipped
			res.Reason = "session unavailable"
		case errors.Is(err, ErrCancelled) || ctx.Err() != nil:
			res.Status = ItemSkipped
			res.Reason = "job cancelled"
			e.publishStagesSkipped(jobID, itemID, stageOrder[idx:], "job cancelled")
		default:
			res.Status = ItemFailed
			res.FailedStage = kind
			res.Reason = err.Error()
			if e.Metrics != nil {
				e.Metrics.RecordFailure(kind.String())
			}
			if idx+1 < len(stageOrder) {
				e.publishStagesSkipped(jobID, itemID, stageOrder[idx+1:], "prior stage failed")
			}
			slog.Warn("item failed", "job", jobID, "item", itemID, "stage", kind, "error", err)
		}
		return res
	}

	res.Status = ItemSucceeded
	res.Handle = handle
	res.Content = content
	res.Elapsed = time.Since(start)
	return res
}

func (e *Executor) record(op string, d time.Duration) {
	if e.Metrics != nil {
		e.Metrics.RecordTiming(op, d)
	}
}

func (e *Executor) publishItemSkipped(jobID, itemID, reason string) {
	e.Bus.Publish(jobID, events.Event{
		ItemID:  itemID,
		Stage:   "item",
		Kind:    events.KindSkipped,
		Payload: map[string]any{"reason": reason},
	})
}

func (e *Executor) publishStagesSkipped(jobID, itemID string, kinds []StageKind, reason string) {
	for _, kind := range kinds {
		e.Bus.Publish(jobID, events.Event{
			ItemID:  itemID,
			Stage:   kind.String(),
			Kind:    events.KindSkipped,
			Payload: map[string]any{"reason": reason},
		})
	}
}
