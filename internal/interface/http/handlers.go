package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gravityseries/ranking-hub/internal/application/command"
	"github.com/gravityseries/ranking-hub/internal/application/query"
	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/domain/shared"
	"github.com/gravityseries/ranking-hub/pkg/logger"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

// maxBodyBytes caps admin request bodies.
const maxBodyBytes = 1 << 20

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & METRICS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleHealth reports every registered check.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker == nil {
		writeJSON(w, r, http.StatusOK, map[string]any{
			"status":  "healthy",
			"uptime":  s.Uptime().Round(time.Second).String(),
			"version": s.config.Version,
		})
		return
	}

	status := s.deps.HealthChecker.Check(r.Context())
	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, status)
}

// handleReady handles the readiness probe.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

func metricsHandler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// ══════════════════════════════════════════════════════════════════════════════
// RANKING HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetRanking handles GET /api/v1/rankings/{discipline}/{kind}
func (s *Server) handleGetRanking(w http.ResponseWriter, r *http.Request) {
	if s.deps.Rankings == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Ranking handler not configured")
		return
	}
	d, kind, ok := parseDisciplineAndKind(w, r)
	if !ok {
		return
	}

	page, err1 := queryInt(r, "page", 1)
	pageSize, err2 := queryInt(r, "page_size", query.DefaultPageSize)
	if err := errors.Join(err1, err2); err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "Invalid pagination", err.Error())
		return
	}

	result, err := s.deps.Rankings.Handle(r.Context(), query.GetRankingQuery{
		Discipline: d,
		Kind:       kind,
		Page:       page,
		PageSize:   pageSize,
	})
	if err != nil {
		s.writeError(w, r, err, "Failed to get ranking")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{
		TotalCount: result.Total,
		Page:       result.Page,
		PageSize:   result.PageSize,
		HasMore:    result.HasMore,
	})
}

// handleGetHistory handles GET /api/v1/rankings/{discipline}/{kind}/{id}/history
func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "History handler not configured")
		return
	}
	d, kind, ok := parseDisciplineAndKind(w, r)
	if !ok {
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	result, err := s.deps.History.Handle(r.Context(), query.GetHistoryQuery{
		Discipline: d,
		Kind:       kind,
		EntityID:   id,
	})
	if err != nil {
		s.writeError(w, r, err, "Failed to get history")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleGetBreakdown handles GET /api/v1/rankings/{discipline}/riders/{id}/breakdown
func (s *Server) handleGetBreakdown(w http.ResponseWriter, r *http.Request) {
	if s.deps.Breakdown == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Breakdown handler not configured")
		return
	}
	d, err := ranking.ParseDiscipline(chi.URLParam(r, "discipline"))
	if err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_discipline", "Unknown discipline", err.Error())
		return
	}
	id, ok := parseID(w, r)
	if !ok {
		return
	}

	q := query.GetBreakdownQuery{Discipline: d, RiderID: id}
	if raw := r.URL.Query().Get("as_of"); raw != "" {
		asOf, err := timeutil.ParseDate(raw)
		if err != nil {
			writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "as_of must be YYYY-MM-DD", err.Error())
			return
		}
		q.AsOf = &asOf
	}

	result, err := s.deps.Breakdown.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err, "Failed to get breakdown")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// handleGetLastCalculation handles GET /api/v1/calculations/last
func (s *Server) handleGetLastCalculation(w http.ResponseWriter, r *http.Request) {
	if s.deps.LastCalculation == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Calculation handler not configured")
		return
	}
	result, err := s.deps.LastCalculation.Handle(r.Context())
	if err != nil {
		s.writeError(w, r, err, "Failed to get last calculation")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// ══════════════════════════════════════════════════════════════════════════════
// ADMIN HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// recalculateRequest is the optional body of POST /admin/recalculate.
type recalculateRequest struct {
	Disciplines []string `json:"disciplines"`
	Backfill    bool     `json:"backfill"`
}

// handleRecalculate handles POST /admin/recalculate. The run happens in the
// background unless ?wait=true is given.
func (s *Server) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recalculator == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Recalculation not configured")
		return
	}

	var req recalculateRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	cmd := command.RecalculateRankingsCommand{Backfill: req.Backfill, Trigger: "http"}
	for _, raw := range req.Disciplines {
		d, err := ranking.ParseDiscipline(raw)
		if err != nil {
			writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_discipline", "Unknown discipline", err.Error())
			return
		}
		cmd.Disciplines = append(cmd.Disciplines, d)
	}

	if !queryBool(r, "wait") {
		s.goBackground(r, func(ctx context.Context) {
			log := logger.FromContext(ctx)
			report, err := s.deps.Recalculator.Handle(ctx, cmd)
			if err != nil {
				log.Warn("background recalculation finished with errors", logger.Err(err))
				return
			}
			log.Info("background recalculation finished", slog.String("summary", report.Summary()))
		})
		writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	report, err := s.deps.Recalculator.Handle(r.Context(), cmd)
	if report == nil {
		s.writeError(w, r, err, "Recalculation failed")
		return
	}
	code := http.StatusOK
	if err != nil {
		code = http.StatusMultiStatus
	}
	writeJSON(w, r, code, report)
}

// backfillRequest is the body of POST /admin/backfill.
type backfillRequest struct {
	Discipline string `json:"discipline"`
	Months     int    `json:"months"`
}

// backfillResponse summarizes a backfill for the API.
type backfillResponse struct {
	Discipline      string               `json:"discipline"`
	Computed        []string             `json:"computed"`
	SkippedExisting []string             `json:"skipped_existing"`
	SkippedNoData   []string             `json:"skipped_no_data"`
	Failed          []ranking.UnitReport `json:"failed,omitempty"`
}

// handleBackfill handles POST /admin/backfill. Same ?wait semantics as recalculation.
func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if s.deps.Backfiller == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Backfill not configured")
		return
	}

	var req backfillRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	d, err := ranking.ParseDiscipline(req.Discipline)
	if err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_discipline", "Unknown discipline", err.Error())
		return
	}
	cmd := command.BackfillHistoryCommand{Discipline: d, Months: req.Months}
	if err := cmd.Validate(); err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", "Invalid backfill request", err.Error())
		return
	}

	if !queryBool(r, "wait") {
		s.goBackground(r, func(ctx context.Context) {
			log := logger.FromContext(ctx).With(logger.Discipline(d.String()))
			res, err := s.deps.Backfiller.Handle(ctx, cmd)
			if err != nil {
				log.Warn("background backfill failed", logger.Err(err))
				return
			}
			log.Info("background backfill finished",
				slog.Int("computed", len(res.Computed)),
				slog.Int("failed", len(res.Failed())),
			)
		})
		writeJSON(w, r, http.StatusAccepted, map[string]string{"status": "accepted"})
		return
	}

	res, err := s.deps.Backfiller.Handle(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err, "Backfill failed")
		return
	}
	writeJSON(w, r, http.StatusOK, backfillResponse{
		Discipline:      res.Discipline.String(),
		Computed:        formatDates(res.Computed),
		SkippedExisting: formatDates(res.SkippedExisting),
		SkippedNoData:   formatDates(res.SkippedNoData),
		Failed:          res.Failed(),
	})
}

// settingsBody is the wire form of the multiplier tables.
type settingsBody struct {
	FieldMultipliers      ranking.FieldMultipliers      `json:"field_multipliers,omitempty"`
	TimeDecay             *ranking.TimeDecay            `json:"time_decay,omitempty"`
	EventLevelMultipliers ranking.EventLevelMultipliers `json:"event_level_multipliers,omitempty"`
}

// handleGetSettings handles GET /admin/settings
func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.SettingsReader == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Settings not configured")
		return
	}
	settings := s.deps.SettingsReader.Snapshot(r.Context())
	writeJSON(w, r, http.StatusOK, settingsBody{
		FieldMultipliers:      settings.FieldMultipliers,
		TimeDecay:             &settings.TimeDecay,
		EventLevelMultipliers: settings.EventLevelMultipliers,
	})
}

// handleUpdateSettings handles PUT /admin/settings. Omitted tables are kept.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	if s.deps.SettingsUpdater == nil {
		writeJSONError(w, r, http.StatusNotImplemented, "not_implemented", "Settings not configured")
		return
	}

	var body settingsBody
	if !decodeBody(w, r, &body, false) {
		return
	}
	res, err := s.deps.SettingsUpdater.Handle(r.Context(), command.UpdateSettingsCommand{
		FieldMultipliers:      body.FieldMultipliers,
		TimeDecay:             body.TimeDecay,
		EventLevelMultipliers: body.EventLevelMultipliers,
	})
	if err != nil {
		s.writeError(w, r, err, "Failed to update settings")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"updated": res.Updated})
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case shared.IsValidation(err):
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_request", message, err.Error())
	case query.IsNotFound(err):
		writeJSONError(w, r, http.StatusNotFound, "not_found", message)
	case shared.IsLocked(err):
		writeJSONErrorWithDetails(w, r, http.StatusConflict, "locked", message, err.Error())
	case errors.Is(err, context.Canceled):
		writeJSONError(w, r, http.StatusServiceUnavailable, "canceled", message)
	default:
		logger.FromContext(r.Context()).Error(message, logger.Err(err), slog.String("path", r.URL.Path))
		writeJSONError(w, r, http.StatusInternalServerError, "internal_error", message)
	}
}

func parseDisciplineAndKind(w http.ResponseWriter, r *http.Request) (ranking.Discipline, ranking.EntityKind, bool) {
	d, err := ranking.ParseDiscipline(chi.URLParam(r, "discipline"))
	if err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_discipline", "Unknown discipline", err.Error())
		return "", "", false
	}
	kind, err := ranking.ParseEntityKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_kind", "Kind must be riders or clubs", err.Error())
		return "", "", false
	}
	return d, kind, true
}

func parseID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, r, http.StatusBadRequest, "invalid_request", "ID must be a positive integer")
		return 0, false
	}
	return id, true
}

// decodeBody reads a JSON body. An empty body is accepted when optional.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if errors.Is(err, io.EOF) && optional {
		return true
	}
	if err != nil {
		writeJSONErrorWithDetails(w, r, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON", err.Error())
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return v, nil
}

func queryBool(r *http.Request, key string) bool {
	switch strings.ToLower(r.URL.Query().Get(key)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func validAPIKey(got string, keys []string) bool {
	if got == "" {
		return false
	}
	for _, k := range keys {
		if subtle.ConstantTimeCompare([]byte(got), []byte(k)) == 1 {
			return true
		}
	}
	return false
}

func formatDates(dates []time.Time) []string {
	out := make([]string, len(dates))
	for i, d := range dates {
		out[i] = timeutil.FormatDate(d)
	}
	return out
}
