package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vjranagit/bouncedash/pkg/chart"
	"github.com/vjranagit/bouncedash/pkg/dashboard"
	"github.com/vjranagit/bouncedash/pkg/metrics"
	"github.com/vjranagit/bouncedash/pkg/types"
)

// RangeRequest is a range committed by the picker. Either end may be empty.
type RangeRequest struct {
	Start string `json:"start" validate:"omitempty,max=32"`
	End   string `json:"end" validate:"omitempty,max=32"`
}

// MetricsResponse carries both the raw and the displayed percentages
type MetricsResponse struct {
	AdequacyRate     float64 `json:"adequacy_rate"`
	SavingsRate      float64 `json:"savings_rate"`
	AdequacyRateText string  `json:"adequacy_rate_text"`
	SavingsRateText  string  `json:"savings_rate_text"`
}

// StateResponse is the full view model of one session
type StateResponse struct {
	dashboard.Status
	Metrics   *MetricsResponse        `json:"metrics"`
	Chart     *types.ChartDescription `json:"chart"`
	UpdatedAt *time.Time              `json:"updated_at"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctrl, err := s.sessions.Create()
	if err != nil {
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, ctrl.State())
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	ctrl := controllerFrom(r)
	if err := s.sessions.Remove(ctrl.Session()); err != nil && !errors.Is(err, dashboard.ErrSessionNotFound) {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleSubmitRange commits a picker range. An incomplete range or a busy
// session is acknowledged but ignored.
func (s *Server) handleSubmitRange(w http.ResponseWriter, r *http.Request) {
	var req RangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	tr, err := s.picker.ParseRange(req.Start, req.End)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctrl := controllerFrom(r)
	if !ctrl.Submit(tr) {
		s.writeJSON(w, http.StatusOK, map[string]bool{"accepted": false})
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleCancelRange(w http.ResponseWriter, r *http.Request) {
	controllerFrom(r).Cancel()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	ctrl := controllerFrom(r)

	snap, err := ctrl.Snapshot(r.Context())
	if err != nil {
		s.log.Error().Err(err).Str("session", ctrl.Session()).Msg("Failed to load snapshot")
		s.writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}

	resp := StateResponse{Status: ctrl.State()}
	if snap != nil {
		resp.Metrics = &MetricsResponse{
			AdequacyRate:     snap.Metrics.AdequacyRate,
			SavingsRate:      snap.Metrics.SavingsRate,
			AdequacyRateText: metrics.FormatPercent(snap.Metrics.AdequacyRate),
			SavingsRateText:  metrics.FormatPercent(snap.Metrics.SavingsRate),
		}
		resp.Chart = snap.Chart
		if !snap.UpdatedAt.IsZero() {
			updated := snap.UpdatedAt
			resp.UpdatedAt = &updated
		}
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChartPNG(w http.ResponseWriter, r *http.Request) {
	ctrl := controllerFrom(r)

	snap, err := ctrl.Snapshot(r.Context())
	if err != nil {
		s.log.Error().Err(err).Str("session", ctrl.Session()).Msg("Failed to load snapshot")
		s.writeError(w, http.StatusInternalServerError, "failed to load snapshot")
		return
	}
	if snap == nil || snap.Chart == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var buf bytes.Buffer
	if err := s.renderer.RenderPNG(snap.Chart, &buf); err != nil {
		if errors.Is(err, chart.ErrNoData) {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		s.log.Error().Err(err).Str("session", ctrl.Session()).Msg("Failed to render chart")
		s.writeError(w, http.StatusInternalServerError, "failed to render chart")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
