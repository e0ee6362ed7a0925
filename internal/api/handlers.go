package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/metrics"
	"github.com/JakeFAU/leadstream/internal/progress"
	csvsink "github.com/JakeFAU/leadstream/internal/sink/csv"
)

const noDataMessage = "No data available"

// search handles GET /api/search?states=<json array>&practice_area=<text>. It
// launches a job and streams its events as text/event-stream until the job's
// terminal event, an idle timeout, or a client disconnect.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	req, err := parseSearch(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	jobID, ch, err := s.launcher.Launch(r.Context(), req)
	if err != nil {
		if errors.Is(err, lead.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, lead.ErrInvalidRequest.Error())
			return
		}
		s.logger.Error("launch job failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Job-ID", jobID)
	w.WriteHeader(http.StatusOK)

	outcome, err := progress.Stream(r.Context(), w, ch, progress.StreamOptions{
		MinInterval: s.cfg.StreamInterval,
		Logger:      s.logger.With(zap.String("job_id", jobID)),
	})
	metrics.ObserveStream(string(outcome))
	if err != nil {
		s.logger.Info("stream consumer left", zap.String("job_id", jobID), zap.Error(err))
	}
}

// parseSearch reads the query parameters. Validation of the values themselves is
// left to the launcher so both entry points share one rule.
func parseSearch(r *http.Request) (lead.Request, error) {
	q := r.URL.Query()
	var regions []string
	if raw := strings.TrimSpace(q.Get("states")); raw != "" {
		if err := json.Unmarshal([]byte(raw), &regions); err != nil {
			return lead.Request{}, fmt.Errorf("states must be a JSON array of strings")
		}
	}
	req := lead.Request{Regions: regions, Category: q.Get("practice_area")}.Normalize()
	if err := req.Validate(); err != nil {
		return lead.Request{}, err
	}
	return req, nil
}

// exportCSV handles GET /api/export/csv, serving the most recent finished batch
// sorted by name.
func (s *Server) exportCSV(w http.ResponseWriter, r *http.Request) {
	_, batch, err := s.jobs.LatestResults(r.Context())
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusBadRequest, noDataMessage)
			return
		}
		s.logger.Error("load latest results failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}

	sorted := make([]lead.Annotated, len(batch))
	copy(sorted, batch)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	if err := csvsink.Encode(&buf, sorted); err != nil {
		s.logger.Error("encode csv failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to encode csv")
		return
	}
	name := fmt.Sprintf("attorney_leads_%s.csv", s.now().Format("20060102"))
	w.Header().Set("Content-Type", csvsink.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// exportSheets handles /api/export/sheets by appending the most recent batch to
// the configured spreadsheet.
func (s *Server) exportSheets(w http.ResponseWriter, r *http.Request) {
	if s.sheets == nil {
		writeError(w, http.StatusServiceUnavailable, "spreadsheet export is not configured")
		return
	}
	job, batch, err := s.jobs.LatestResults(r.Context())
	if err != nil {
		if errors.Is(err, lead.ErrNotFound) {
			writeError(w, http.StatusBadRequest, noDataMessage)
			return
		}
		s.logger.Error("load latest results failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load results")
		return
	}
	if err := s.sheets.Persist(lead.WithJobID(r.Context(), job.ID), batch); err != nil {
		s.logger.Error("sheets export failed", zap.String("job_id", job.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "url": s.sheets.URL()})
}

func (s *Server) now() time.Time {
	if s.clock != nil {
		return s.clock.Now()
	}
	return time.Now()
}
