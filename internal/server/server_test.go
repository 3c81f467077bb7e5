package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/reviewradar/reviewradar/internal/analysis"
	"github.com/reviewradar/reviewradar/internal/config"
	"github.com/reviewradar/reviewradar/internal/events"
	"github.com/reviewradar/reviewradar/internal/metrics"
	"github.com/reviewradar/reviewradar/internal/report"
	"github.com/reviewradar/reviewradar/internal/scrape"
	"github.com/reviewradar/reviewradar/internal/service"
	"github.com/reviewradar/reviewradar/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct{}

func (fakeProvider) Establish(_ context.Context) (*session.Session, error) {
	return &session.Session{ID: "sess_test", Client: &http.Client{}, Authenticated: true}, nil
}

func (fakeProvider) Teardown(_ context.Context, _ *session.Session) error { return nil }

type fakeFetcher struct {
	gate chan struct{}
}

func (f *fakeFetcher) Navigate(ctx context.Context, _ *session.Session, _ string) (*scrape.Page, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &scrape.Page{URL: "primary"}, nil
}

func (f *fakeFetcher) NavigateFallback(_ context.Context, _ *session.Session, _ string) (*scrape.Page, error) {
	return &scrape.Page{URL: "fallback"}, nil
}

func (f *fakeFetcher) Extract(_ context.Context, _ *session.Session, _ *scrape.Page, _ int) (*scrape.RawContent, error) {
	return &scrape.RawContent{
		Title:         "Cuffie Wireless X200",
		RatingAverage: 4.3,
		TotalReviews:  100,
		Authenticated: true,
		Reviews:       []scrape.Review{{Text: "Suono davvero eccellente per il prezzo.", Rating: 5}},
	}, nil
}

type fakeAnalyzer struct{}

func (fakeAnalyzer) AnalyzeSentiment(_ context.Context, _ *scrape.RawContent) (*analysis.Sentiment, error) {
	return &analysis.Sentiment{Overall: "positive", Confidence: 0.9}, nil
}

func (fakeAnalyzer) AnalyzeThemes(_ context.Context, _ *scrape.RawContent) (*analysis.Themes, error) {
	return &analysis.Themes{Strengths: []string{"sound"}}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestServer(t *testing.T, fetcher *fakeFetcher) (*httptest.Server, *service.JobManager) {
	t.Helper()

	sink, err := report.NewFileSink(t.TempDir())
	require.NoError(t, err)

	cfg := config.Config{
		MaxReviews:        5,
		NavigateTimeout:   time.Second,
		ExtractTimeout:    time.Second,
		AnalysisTimeout:   time.Second,
		PersistTimeout:    time.Second,
		RetryBaseDelay:    time.Millisecond,
		RetryMaxDelay:     2 * time.Millisecond,
		SessionMaxElapsed: 100 * time.Millisecond,
		RetentionWindow:   time.Hour,
	}
	jobs := service.NewJobManager(cfg, fakeProvider{}, fetcher, fakeAnalyzer{}, sink,
		report.NewStore(), events.NewBus(256), metrics.NewCollector())
	t.Cleanup(jobs.Close)

	srv := httptest.NewServer(New(jobs, "test", testLogger()).Handler())
	t.Cleanup(srv.Close)
	return srv, jobs
}

func postJobs(t *testing.T, srv *httptest.Server, body string) map[string]any {
	t.Helper()
	resp, err := http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func waitJobStatus(t *testing.T, srv *httptest.Server, jobID, want string) map[string]any {
	t.Helper()
	var body map[string]any
	require.Eventually(t, func() bool {
		resp, err := http.Get(srv.URL + "/jobs/" + jobID)
		if err != nil || resp.StatusCode != http.StatusOK {
			return false
		}
		defer resp.Body.Close()
		body = nil
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		return body["status"] == want
	}, 5*time.Second, 5*time.Millisecond)
	return body
}

func TestCreateAndGetJob(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	created := postJobs(t, srv, `{"items": ["B0A", "B0B"]}`)
	jobID, _ := created["job_id"].(string)
	require.NotEmpty(t, jobID)
	assert.True(t, strings.HasPrefix(jobID, "job_"))

	body := waitJobStatus(t, srv, jobID, "completed")
	runs, _ := body["runs"].(map[string]any)
	require.Len(t, runs, 2)
	summary, _ := body["summary"].(map[string]any)
	assert.EqualValues(t, 2, summary["succeeded"])
}

func TestCreateJobFromQueryParam(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	resp, err := http.Post(srv.URL+"/jobs?items=B0A,B0B", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	// legacy parameter name
	resp, err = http.Post(srv.URL+"/jobs?asins=B0C&max_reviews=3", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
}

func TestCreateJobRejectsEmpty(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	resp, err := http.Post(srv.URL+"/jobs", "application/json", strings.NewReader(`{"items": []}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetUnknownJobIs404(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	resp, err := http.Get(srv.URL + "/jobs/job_missing")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestReportLifecycle(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	srv, _ := newTestServer(t, fetcher)

	created := postJobs(t, srv, `{"items": ["B0A"]}`)
	jobID := created["job_id"].(string)

	// job still running: report is a conflict
	resp, err := http.Get(srv.URL + "/jobs/" + jobID + "/report?item=B0A")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(fetcher.gate)
	waitJobStatus(t, srv, jobID, "completed")

	resp, err = http.Get(srv.URL + "/jobs/" + jobID + "/report?item=B0A")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var rep report.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	assert.Equal(t, "Cuffie Wireless X200", rep.Product.Title)

	// txt rendering
	resp, err = http.Get(srv.URL + "/jobs/" + jobID + "/report?item=B0A&format=txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

	// unknown item
	resp, err = http.Get(srv.URL + "/jobs/" + jobID + "/report?item=B0MISSING")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// bad format
	resp, err = http.Get(srv.URL + "/jobs/" + jobID + "/report?item=B0A&format=xml")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelEndpoint(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	srv, _ := newTestServer(t, fetcher)

	created := postJobs(t, srv, `{"items": ["B0A", "B0B"]}`)
	jobID := created["job_id"].(string)

	resp, err := http.Post(srv.URL+"/jobs/"+jobID+"/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	close(fetcher.gate)
	waitJobStatus(t, srv, jobID, "cancelled")

	// unknown job
	resp, err = http.Post(srv.URL+"/jobs/job_missing/cancel", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestDeleteEndpoint(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	created := postJobs(t, srv, `{"items": ["B0A"]}`)
	jobID := created["job_id"].(string)
	waitJobStatus(t, srv, jobID, "completed")

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/jobs/"+jobID, nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/jobs/" + jobID)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthAndStatus(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body, "active_jobs")
	assert.Contains(t, body, "metrics")
}

func TestEventsWebsocketStreamsUntilTerminal(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	created := postJobs(t, srv, `{"items": ["B0A"]}`)
	jobID := created["job_id"].(string)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/jobs/" + jobID + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var evs []events.Event
	var lastSeq uint64
	for {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		var ev events.Event
		if err := conn.ReadJSON(&ev); err != nil {
			// normal closure when the job goes terminal
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
			break
		}
		assert.Greater(t, ev.Seq, lastSeq, "sequence must be strictly increasing")
		lastSeq = ev.Seq
		evs = append(evs, ev)
	}

	require.NotEmpty(t, evs)
	last := evs[len(evs)-1]
	assert.Equal(t, "job", last.Stage)
	assert.Equal(t, events.KindSucceeded, last.Kind)
}

func TestEventsWebsocketUnknownJob(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	resp, err := http.Get(srv.URL + "/jobs/job_missing/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflightAllowed(t *testing.T) {
	srv, _ := newTestServer(t, &fakeFetcher{})

	req, _ := http.NewRequest(http.MethodOptions, srv.URL+"/jobs", nil)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
