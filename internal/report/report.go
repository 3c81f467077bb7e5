// Package report assembles, renders and persists per-item analysis
// reports and batch summaries.
package report

import (
	"time"

	"github.com/reviewradar/reviewradar/internal/analysis"
	"github.com/reviewradar/reviewradar/internal/scrape"
)

// Metadata identifies a report and the run that produced it.
type Metadata struct {
	ItemID    string    `json:"item_id"`
	JobID     string    `json:"job_id"`
	Timestamp time.Time `json:"timestamp"`
	Approach  string    `json:"approach"`
	Version   string    `json:"version"`
}

// Performance records stage durations in seconds, matching how the
// report consumers historically read them.
type Performance struct {
	SessionDuration   float64 `json:"session_duration"`
	FetchDuration     float64 `json:"fetch_duration"`
	SentimentDuration float64 `json:"sentiment_duration"`
	ThemeDuration     float64 `json:"theme_duration"`
	AnalysisDuration  float64 `json:"analysis_duration"`
	TotalDuration     float64 `json:"total_duration"`
	Authenticated     bool    `json:"authenticated"`
	FetchSuccess      bool    `json:"fetch_success"`
}

// Product is the scraped product snapshot carried into the report.
type Product struct {
	Title                   string  `json:"title"`
	RatingAverage           float64 `json:"rating_average"`
	TotalReviews            int     `json:"total_reviews"`
	Price                   string  `json:"price"`
	ReviewsExtracted        int     `json:"reviews_extracted"`
	AuthenticatedExtraction bool    `json:"authenticated_extraction"`
}

// Analysis groups the LLM outputs.
type Analysis struct {
	Sentiment *analysis.Sentiment `json:"sentiment,omitempty"`
	Themes    *analysis.Themes    `json:"themes,omitempty"`
}

// ErrorSummary lists non-fatal problems encountered along the way.
type ErrorSummary struct {
	FetchErrors    []string `json:"fetch_errors,omitempty"`
	AnalysisErrors []string `json:"analysis_errors,omitempty"`
	TotalErrors    int      `json:"total_errors"`
}

// Report is the final per-item artifact.
type Report struct {
	Metadata    Metadata     `json:"metadata"`
	Performance Performance  `json:"performance_metrics"`
	Product     Product      `json:"product_data"`
	Analysis    Analysis     `json:"llm_analysis"`
	Errors      ErrorSummary `json:"error_summary"`
	Success     bool         `json:"success"`
}

const reportVersion = "2.0"

// Build assembles a report from the pipeline's stage outputs.
func Build(jobID, itemID string, content *scrape.RawContent, sent *analysis.Sentiment, themes *analysis.Themes, perf Performance, fetchErrs, analysisErrs []string) *Report {
	r := &Report{
		Metadata: Metadata{
			ItemID:    itemID,
			JobID:     jobID,
			Timestamp: time.Now(),
			Approach:  "fetch+llm",
			Version:   reportVersion,
		},
		Performance: perf,
		Analysis:    Analysis{Sentiment: sent, Themes: themes},
		Errors: ErrorSummary{
			FetchErrors:    fetchErrs,
			AnalysisErrors: analysisErrs,
			TotalErrors:    len(fetchErrs) + len(analysisErrs),
		},
	}
	if content != nil {
		r.Product = Product{
			Title:                   content.Title,
			RatingAverage:           content.RatingAverage,
			TotalReviews:            content.TotalReviews,
			Price:                   content.Price,
			ReviewsExtracted:        len(content.Reviews),
			AuthenticatedExtraction: content.Authenticated,
		}
	}
	r.Success = content != nil && len(content.Reviews) > 0 && sent != nil && sent.Overall != ""
	return r
}

// SummaryEntry is one item's line in the batch summary.
type SummaryEntry struct {
	ItemID           string   `json:"item_id"`
	Title            string   `json:"title"`
	RatingAverage    float64  `json:"rating_average"`
	TotalReviews     int      `json:"total_reviews"`
	ReviewsExtracted int      `json:"reviews_extracted"`
	Path             string   `json:"path,omitempty"`
	Status           string   `json:"status"`
	Errors           []string `json:"errors,omitempty"`
}

// Summary is the batch-level rollup written when a job reaches a
// terminal state.
type Summary struct {
	JobID     string         `json:"job_id"`
	Timestamp time.Time      `json:"timestamp"`
	Count     int            `json:"count"`
	Succeeded int            `json:"succeeded"`
	Failed    int            `json:"failed"`
	Skipped   int            `json:"skipped"`
	Elapsed   float64        `json:"elapsed_seconds"`
	Results   []SummaryEntry `json:"results"`
}
