package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/vitos/coin_tracker/internal/domain"
	"github.com/vitos/coin_tracker/internal/usecase"
	"go.uber.org/zap"
)

type messageResponse struct {
	Message string `json:"message"`
}

type triggerResponse struct {
	Message string               `json:"message"`
	Report  *usecase.CycleReport `json:"report,omitempty"`
}

type healthResponse struct {
	ServerTime time.Time `json:"serverTime"`
	DB         struct {
		ReadyState int    `json:"readyState"`
		Status     string `json:"status"`
	} `json:"db"`
	Crypto struct {
		LastFetchAt      *time.Time `json:"lastFetchAt"`
		LastFetchSuccess *bool      `json:"lastFetchSuccess"`
		LastOutcome      string     `json:"lastOutcome"`
	} `json:"crypto"`
	Scheduler struct {
		Running bool `json:"running"`
	} `json:"scheduler"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *Server) handleListCoins(w http.ResponseWriter, r *http.Request) {
	store := s.stores.Store()
	if store == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, messageResponse{Message: "Storage unavailable"})
		return
	}

	coins, err := store.ListSnapshots(r.Context())
	if err != nil {
		s.logger.Error("Failed to list current coins", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error fetching current data"})
		return
	}
	s.writeJSON(w, http.StatusOK, coins)
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	coinID := r.PathValue("coinId")
	store := s.stores.Store()
	if store == nil {
		s.writeJSON(w, http.StatusServiceUnavailable, messageResponse{Message: "Storage unavailable"})
		return
	}

	history, err := store.ListHistory(r.Context(), coinID)
	if err != nil {
		s.logger.Error("Failed to list history", zap.String("coin_id", coinID), zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, messageResponse{Message: "Error fetching history data"})
		return
	}
	s.writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleTriggerFetch(w http.ResponseWriter, r *http.Request) {
	report, err := s.trigger.RunNow(r.Context())
	if err != nil {
		var fetchErr *domain.FetchError
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, usecase.ErrStorageUnavailable), errors.Is(err, usecase.ErrSchedulerStopped):
			status = http.StatusServiceUnavailable
		case errors.Is(err, usecase.ErrCycleInProgress):
			status = http.StatusConflict
		case errors.As(err, &fetchErr):
			status = http.StatusBadGateway
		}
		s.logger.Error("On-demand fetch failed", zap.Error(err))
		s.writeJSON(w, status, triggerResponse{Message: "Error triggering historical data fetch: " + err.Error(), Report: report})
		return
	}
	s.writeJSON(w, http.StatusOK, triggerResponse{Message: "Historical data fetch triggered successfully!", Report: report})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	var resp healthResponse
	resp.ServerTime = s.timeNow().UTC()

	state := s.stores.State()
	resp.DB.ReadyState = state.ReadyState()
	resp.DB.Status = state.String()

	st := s.status.Read()
	resp.Crypto.LastFetchAt = st.LastAttemptAt
	resp.Crypto.LastOutcome = st.LastOutcome.String()
	if st.LastOutcome != domain.OutcomeUnknown {
		ok := st.LastOutcome == domain.OutcomeSuccess
		resp.Crypto.LastFetchSuccess = &ok
	}

	resp.Scheduler.Running = s.trigger.Running()
	s.writeJSON(w, http.StatusOK, resp)
}
