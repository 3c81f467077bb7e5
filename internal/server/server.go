// Package server provides the HTTP and websocket surface for job
// management: submission, inspection, live progress, reports and
// cancellation.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/reviewradar/reviewradar/internal/config"
	"github.com/reviewradar/reviewradar/internal/report"
	"github.com/reviewradar/reviewradar/internal/service"
)

// Server handles HTTP requests for job management.
type Server struct {
	jobs     *service.JobManager
	version  string
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

// New creates the server around a job manager.
func New(jobs *service.JobManager, version string, logger *slog.Logger) *Server {
	return &Server{
		jobs:    jobs,
		version: version,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local dev
			},
		},
	}
}

// Handler builds the route table wrapped in CORS and request logging.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /jobs", s.handleCreateJob)
	mux.HandleFunc("GET /jobs", s.handleListJobs)
	mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	mux.HandleFunc("GET /jobs/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /jobs/{id}/report", s.handleReport)
	mux.HandleFunc("POST /jobs/{id}/cancel", s.handleCancel)
	mux.HandleFunc("DELETE /jobs/{id}", s.handleDelete)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)

	return CORSMiddleware(LoggingMiddleware(s.logger, mux))
}

type createJobRequest struct {
	Items          []string `json:"items"`
	Headless       *bool    `json:"headless,omitempty"`
	MaxReviews     int      `json:"max_reviews,omitempty"`
	MaxItems       int      `json:"max_items,omitempty"`
	InterItemDelay string   `json:"delay_between_items,omitempty"`
}

type jobResponse struct {
	JobID       string                      `json:"job_id"`
	Status      service.JobStatus           `json:"status"`
	Items       []string                    `json:"items"`
	CreatedAt   time.Time                   `json:"created_at"`
	CompletedAt *time.Time                  `json:"completed_at,omitempty"`
	Error       string                      `json:"error,omitempty"`
	Runs        map[string]*service.ItemRun `json:"runs,omitempty"`
	Summary     *report.Summary             `json:"summary,omitempty"`
}

func toJobResponse(j service.Job) jobResponse {
	return jobResponse{
		JobID:       j.ID,
		Status:      j.Status,
		Items:       j.Items,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
		Error:       j.Error,
		Runs:        j.Runs,
		Summary:     j.Summary,
	}
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	// query form kept for curl convenience; asins is the legacy name
	q := r.URL.Query()
	if len(req.Items) == 0 {
		for _, key := range []string{"items", "asins"} {
			if v := q.Get(key); v != "" {
				req.Items = strings.Split(v, ",")
				break
			}
		}
	}

	opts := service.JobOptions{MaxReviews: req.MaxReviews, MaxItems: req.MaxItems}
	if req.Headless != nil {
		opts.Headless = req.Headless
	}
	if req.InterItemDelay != "" {
		if d, err := config.ParseDuration(req.InterItemDelay); err == nil {
			opts.InterItemDelay = &d
		}
	}
	if v := q.Get("headless"); v != "" {
		b := v == "true" || v == "1"
		opts.Headless = &b
	}
	if v := q.Get("max_reviews"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.MaxReviews = n
		}
	}
	if v := q.Get("max_items"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			opts.MaxItems = n
		}
	}
	if v := q.Get("delay_between_items"); v != "" {
		if d, err := config.ParseDuration(v); err == nil {
			opts.InterItemDelay = &d
		}
	}

	job, err := s.jobs.Create(req.Items, opts)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":   job.ID,
		"status":   job.Status,
		"items":    job.Items,
		"headless": job.Headless,
	})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.jobs.List()
	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, toJobResponse(j))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.jobs.Cancel(id); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job_id": id, "status": "cancelling"})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Delete(r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	itemID := r.URL.Query().Get("item")
	if itemID == "" {
		writeError(w, http.StatusBadRequest, "missing item parameter")
		return
	}
	format, err := report.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, err := s.jobs.Report(r.Context(), r.PathValue("id"), itemID, format)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	switch format {
	case report.FormatText:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", "attachment; filename=report_"+itemID+".txt")
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

const wsPingInterval = 10 * time.Second

// handleEvents upgrades to a websocket and streams the job's event
// sequence, replaying any backlog first. The stream ends when the job
// reaches a terminal status.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ch, unsub, err := s.jobs.Subscribe(id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	defer unsub()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "job_id", id, "error", err)
		return
	}
	defer conn.Close()

	// drain client frames to notice disconnects
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				// job terminal and backlog drained
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job terminal"),
					time.Now().Add(time.Second))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "version": s.version})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	provider, model := s.jobs.EngineInfo()
	writeJSON(w, http.StatusOK, map[string]any{
		"version":     s.version,
		"provider":    provider,
		"model":       model,
		"active_jobs": s.jobs.ActiveJobs(),
		"metrics":     s.jobs.Metrics(),
	})
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrReportNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrJobTerminal), errors.Is(err, service.ErrJobNotTerminal):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, service.ErrNoItems):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
