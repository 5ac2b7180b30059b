package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/slxcharge/slxcharge/pkg/log"
	"github.com/slxcharge/slxcharge/pkg/types"
)

// maxTripRangeDays bounds the /api/trips range
const maxTripRangeDays = 366

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	st, err := s.engine.Status(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get session status", slog.Any("error", err))
		writeJSONError(w, "failed to get session status", http.StatusInternalServerError)
		return
	}
	writeJSON(w, st)
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := s.engine.Settings(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}
	writeJSON(w, settings)
}

// handleUpdateSettings decodes the body over the current settings so clients
// may send only the fields they change.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	settings, err := s.engine.Settings(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get settings", slog.Any("error", err))
		writeJSONError(w, "failed to get settings", http.StatusInternalServerError)
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&settings); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to decode settings", slog.Any("error", err))
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := settings.Validate(); err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.engine.UpdateSettings(ctx, settings); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to update settings", slog.Any("error", err))
		writeJSONError(w, "failed to update settings", http.StatusInternalServerError)
		return
	}
	log.Ctx(ctx).InfoContext(ctx, "settings updated")
	writeJSON(w, settings)
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req struct {
		Mode string `json:"mode"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&req); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	mode, err := types.ParseChargerMode(req.Mode)
	if err != nil || mode == types.ChargerModeUnknown {
		writeJSONError(w, fmt.Sprintf("invalid charger mode: %q", req.Mode), http.StatusBadRequest)
		return
	}
	if err := s.engine.OverrideChargerMode(ctx, mode); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to override charger mode", slog.String("mode", string(mode)), slog.Any("error", err))
		writeJSONError(w, "failed to set charger mode", http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func parseDateParam(r *http.Request, name string) (*types.Date, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return nil, nil
	}
	d, err := types.ParseDate(v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", name, err)
	}
	return &d, nil
}

func (s *Server) handleTrips(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start, err := parseDateParam(r, "start")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	end, err := parseDateParam(r, "end")
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if start != nil && end != nil {
		if end.Before(*start) {
			writeJSONError(w, "end is before start", http.StatusBadRequest)
			return
		}
		if end.DaysSince(*start) > maxTripRangeDays {
			writeJSONError(w, fmt.Sprintf("range exceeds %d days", maxTripRangeDays), http.StatusBadRequest)
			return
		}
	}

	trips, err := s.engine.DailyTrips(ctx, start, end)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get daily trips", slog.Any("error", err))
		writeJSONError(w, "failed to get daily trips", http.StatusInternalServerError)
		return
	}
	if trips == nil {
		trips = []types.DailyTrip{}
	}
	writeJSON(w, trips)
}

func (s *Server) handlePredictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	preds, err := s.engine.Predictions(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get predictions", slog.Any("error", err))
		writeJSONError(w, "failed to get predictions", http.StatusInternalServerError)
		return
	}
	writeJSON(w, preds)
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	plan, err := s.engine.Plan(ctx)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to get plan", slog.Any("error", err))
		writeJSONError(w, "failed to get plan", http.StatusInternalServerError)
		return
	}
	writeJSON(w, plan)
}
