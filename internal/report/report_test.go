package report

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/reviewradar/reviewradar/internal/analysis"
	"github.com/reviewradar/reviewradar/internal/scrape"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReport() *Report {
	content := &scrape.RawContent{
		ItemID:        "B0TEST123",
		Title:         "Cuffie Wireless X200",
		RatingAverage: 4.3,
		TotalReviews:  1284,
		Price:         "€59,99",
		Authenticated: true,
		Reviews: []scrape.Review{
			{Title: "Ottimo", Text: "Suono eccellente.", Rating: 5},
		},
	}
	sent := &analysis.Sentiment{Overall: "positive", Confidence: 0.85, KeyPoints: []string{"great sound"}}
	themes := &analysis.Themes{Strengths: []string{"sound quality"}, Keywords: []string{"audio"}}
	perf := Performance{FetchDuration: 1.2, AnalysisDuration: 3.4, TotalDuration: 4.8, Authenticated: true, FetchSuccess: true}
	return Build("job_ab12cd34", "B0TEST123", content, sent, themes, perf, nil, nil)
}

func TestBuildMarksSuccess(t *testing.T) {
	r := sampleReport()
	assert.True(t, r.Success)
	assert.Equal(t, "B0TEST123", r.Metadata.ItemID)
	assert.Equal(t, 1, r.Product.ReviewsExtracted)
	assert.True(t, r.Product.AuthenticatedExtraction)
}

func TestBuildWithoutContentIsFailure(t *testing.T) {
	r := Build("job_ab12cd34", "B0GONE", nil, nil, nil, Performance{}, []string{"item not found"}, nil)
	assert.False(t, r.Success)
	assert.Equal(t, 1, r.Errors.TotalErrors)
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatJSON, "json": FormatJSON, "txt": FormatText, "TXT": FormatText, "text": FormatText} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

func TestRenderText(t *testing.T) {
	txt := RenderText(sampleReport())
	assert.Contains(t, txt, "Cuffie Wireless X200")
	assert.Contains(t, txt, "Overall:    positive")
	assert.Contains(t, txt, "- great sound")
	assert.Contains(t, txt, "Keywords: audio")
}

func TestFileSinkRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(filepath.Join(dir, "output"))
	require.NoError(t, err)

	r := sampleReport()
	h, err := sink.Store(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, "B0TEST123", h.ItemID)
	assert.FileExists(t, h.Path)

	data, err := sink.Retrieve(context.Background(), h, FormatJSON)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, r.Product.Title, back.Product.Title)
	assert.Equal(t, r.Analysis.Sentiment.Overall, back.Analysis.Sentiment.Overall)

	txt, err := sink.Retrieve(context.Background(), h, FormatText)
	require.NoError(t, err)
	assert.Contains(t, string(txt), "PRODUCT REVIEW REPORT")
}

func TestFileSinkMissingFileIsTransient(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	_, err = sink.Retrieve(context.Background(), Handle{ItemID: "B0GONE", Path: filepath.Join(sink.Dir, "nope.json")}, FormatJSON)
	require.Error(t, err)

	var se *StorageError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Transient())
}

func TestFileSinkStoreSummary(t *testing.T) {
	sink, err := NewFileSink(t.TempDir())
	require.NoError(t, err)

	sum := &Summary{JobID: "job_ab12cd34", Count: 2, Succeeded: 1, Failed: 1,
		Results: []SummaryEntry{{ItemID: "B0TEST123", Status: "succeeded"}, {ItemID: "B0GONE", Status: "failed", Errors: []string{"item not found"}}}}
	path, err := sink.StoreSummary(context.Background(), sum)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sink.Dir, "batch_summary_job_ab12cd34.json"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Summary
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, 2, back.Count)
	assert.Len(t, back.Results, 2)
}

func TestStoreLifecycle(t *testing.T) {
	s := NewStore()
	s.Put("job_1", Handle{ItemID: "B0A"})
	s.Put("job_1", Handle{ItemID: "B0B"})
	s.Put("job_2", Handle{ItemID: "B0A"})

	h, ok := s.Get("job_1", "B0A")
	require.True(t, ok)
	assert.Equal(t, "B0A", h.ItemID)

	assert.Len(t, s.Items("job_1"), 2)

	s.Release("job_1")
	_, ok = s.Get("job_1", "B0A")
	assert.False(t, ok)
	_, ok = s.Get("job_2", "B0A")
	assert.True(t, ok)
}
