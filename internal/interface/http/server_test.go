package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravityseries/ranking-hub/internal/application/command"
	"github.com/gravityseries/ranking-hub/internal/application/query"
	"github.com/gravityseries/ranking-hub/internal/domain/ranking"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/metrics"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/persistence/memory"
	"github.com/gravityseries/ranking-hub/internal/infrastructure/service"
	"github.com/gravityseries/ranking-hub/internal/interface/http/handlers"
	"github.com/gravityseries/ranking-hub/pkg/logger"
	"github.com/gravityseries/ranking-hub/pkg/timeutil"
)

const adminKey = "test-admin-key"

func row(rider, event, club int64, points float64, date time.Time) ranking.ResultRow {
	clubID := club
	return ranking.ResultRow{
		RiderID:        rider,
		EventID:        event,
		ClassID:        1,
		EventDate:      date,
		Discipline:     ranking.DisciplineEnduro,
		EventLevel:     ranking.EventLevelNational,
		Status:         ranking.StatusFinished,
		Points:         points,
		SeriesEligible: true,
		AwardsPoints:   true,
		ResultClubID:   &clubID,
	}
}

type testEnv struct {
	store   *memory.Store
	locker  *command.LocalLocker
	metrics *metrics.Metrics
	server  *Server
}

func newTestEnv(t *testing.T, mutate func(*Config, *Dependencies)) *testEnv {
	t.Helper()

	store := memory.NewStore()
	store.AddResults(
		row(1, 1, 10, 100, timeutil.Date(2024, 6, 1)),
		row(2, 1, 10, 80, timeutil.Date(2024, 6, 1)),
		row(3, 1, 20, 60, timeutil.Date(2024, 6, 1)),
	)
	store.SetName(ranking.KindRider, 1, "Anna Berg")

	log := logger.Discard()
	m := metrics.NewMetrics()
	locker := command.NewLocalLocker()
	settings := service.NewSettingsStore(store, log, m)
	engine := command.NewEngine(store, store, settings,
		command.WithLogger(log),
		command.WithClock(func() time.Time { return timeutil.Date(2024, 7, 1) }),
	)
	backfill := command.NewBackfillHistoryHandler(engine, store, store, locker, m, log, command.BackfillHistoryConfig{Months: 2})

	deps := Dependencies{
		Rankings:        query.NewGetRankingHandler(store, engine, locker, nil, store, m, log),
		History:         query.NewGetHistoryHandler(store, store, log),
		Breakdown:       query.NewGetBreakdownHandler(engine),
		LastCalculation: query.NewGetLastCalculationHandler(store),
		Recalculator: command.NewRecalculateRankingsHandler(engine, backfill, store, locker, m, log,
			command.DefaultRecalculateRankingsConfig()),
		Backfiller:      backfill,
		SettingsUpdater: command.NewUpdateSettingsHandler(settings, log),
		SettingsReader:  settings,
		Logger:          log,
	}
	cfg := DefaultConfig()
	cfg.AdminAPIKeys = []string{adminKey}
	if mutate != nil {
		mutate(&cfg, &deps)
	}

	return &testEnv{store: store, locker: locker, metrics: m, server: NewServer(cfg, deps)}
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
	Meta    *ResponseMeta   `json:"meta"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, admin bool) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if admin {
		req.Header.Set("X-API-Key", adminKey)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func TestGetRanking_ComputesOnFirstRead(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/api/v1/rankings/enduro/riders?page=1&page_size=2", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var res query.GetRankingResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, "ENDURO", res.Discipline)
	assert.Equal(t, 3, res.Total)
	assert.Len(t, res.Entries, 2)
	assert.True(t, res.HasMore)
	assert.Equal(t, int64(1), res.Entries[0].EntityID)
	assert.Equal(t, "Anna Berg", res.Entries[0].Name)
	assert.Equal(t, 1, res.Entries[0].Rank)

	require.NotNil(t, body.Meta)
	assert.Equal(t, 3, body.Meta.TotalCount)
}

func TestGetRanking_BadInput(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		path string
		code string
	}{
		{"unknown discipline", "/api/v1/rankings/xc/riders", "invalid_discipline"},
		{"unknown kind", "/api/v1/rankings/dh/teams", "invalid_kind"},
		{"page not a number", "/api/v1/rankings/dh/clubs?page=abc", "invalid_request"},
		{"negative page", "/api/v1/rankings/dh/clubs?page=-1", "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := env.do(t, http.MethodGet, tt.path, nil, false)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestLastCalculation_NotFoundThenRecorded(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodGet, "/api/v1/calculations/last", nil, false)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, body := env.do(t, http.MethodPost, "/admin/recalculate?wait=true",
		recalculateRequest{Disciplines: []string{"enduro"}}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var report ranking.RunReport
	require.NoError(t, json.Unmarshal(body.Data, &report))
	assert.Len(t, report.Units, 2)

	rec, body = env.do(t, http.MethodGet, "/api/v1/calculations/last", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var last query.GetLastCalculationResult
	require.NoError(t, json.Unmarshal(body.Data, &last))
	assert.Equal(t, report.RunID, last.RunID)
}

func TestHistory_AfterRecalculation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodPost, "/admin/recalculate?wait=true", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/v1/rankings/enduro/riders/2/history", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var res query.GetHistoryResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	require.NotEmpty(t, res.Points)
	assert.Equal(t, 2, res.BestRank)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/rankings/enduro/riders/0/history", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBreakdown(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/api/v1/rankings/enduro/riders/1/breakdown?as_of=2024-07-01", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	var res query.GetBreakdownResult
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, int64(1), res.RiderID)
	assert.Len(t, res.Contributions, 1)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/rankings/enduro/riders/1/breakdown?as_of=July", nil, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_RequiresAPIKey(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/admin/settings", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "unauthorized", body.Error.Code)

	rec, _ = env.do(t, http.MethodGet, "/admin/settings", nil, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdmin_DisabledWithoutKeys(t *testing.T) {
	env := newTestEnv(t, func(cfg *Config, _ *Dependencies) { cfg.AdminAPIKeys = nil })

	rec, _ := env.do(t, http.MethodPost, "/admin/recalculate", nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdmin_Settings(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, body := env.do(t, http.MethodGet, "/admin/settings", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var current settingsBody
	require.NoError(t, json.Unmarshal(body.Data, &current))
	assert.Equal(t, ranking.DefaultTimeDecay(), *current.TimeDecay)
	assert.InDelta(t, 0.75, current.FieldMultipliers[1], 1e-9)

	rec, body = env.do(t, http.MethodPut, "/admin/settings",
		map[string]any{"time_decay": map[string]float64{"months_1_12": -1}}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "invalid_request", body.Error.Code)

	rec, _ = env.do(t, http.MethodPut, "/admin/settings", map[string]any{}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPut, "/admin/settings", map[string]any{"unknown": 1}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, http.MethodPut, "/admin/settings",
		map[string]any{"time_decay": map[string]float64{"months_1_12": 1, "months_13_24": 0.25, "months_25_plus": 0}}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated struct {
		Updated []string `json:"updated"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &updated))
	assert.Equal(t, []string{ranking.SettingTimeDecay}, updated.Updated)

	td, err := env.store.LoadTimeDecay(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.25, td.Months13To24, 1e-9)
}

func TestAdmin_BackfillLocked(t *testing.T) {
	env := newTestEnv(t, nil)

	unlock, err := env.locker.Lock(context.Background(), ranking.DisciplineEnduro)
	require.NoError(t, err)

	rec, body := env.do(t, http.MethodPost, "/admin/backfill?wait=true",
		backfillRequest{Discipline: "ENDURO"}, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "locked", body.Error.Code)

	unlock()
	rec, body = env.do(t, http.MethodPost, "/admin/backfill?wait=true",
		backfillRequest{Discipline: "ENDURO"}, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var res backfillResponse
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, []string{"2024-06-01"}, res.Computed)
	assert.Equal(t, []string{"2024-05-01"}, res.SkippedNoData)
}

func TestAdmin_BackfillValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodPost, "/admin/backfill", backfillRequest{Discipline: "XC"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/admin/backfill", backfillRequest{Discipline: "DH", Months: -2}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/admin/backfill", nil, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdmin_AsyncRecalculationFinishesBeforeShutdown(t *testing.T) {
	env := newTestEnv(t, nil)

	rec, _ := env.do(t, http.MethodPost, "/admin/recalculate", nil, true)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.server.Shutdown(ctx))

	_, err := env.store.GetLastCalculation(context.Background())
	assert.NoError(t, err)
}

func TestNotConfiguredHandlers(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, deps *Dependencies) {
		deps.Rankings = nil
		deps.Recalculator = nil
	})

	rec, _ := env.do(t, http.MethodGet, "/api/v1/rankings/dh/riders", nil, false)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
	rec, _ = env.do(t, http.MethodPost, "/admin/recalculate", nil, true)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestHealthEndpoints(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("database", func(ctx context.Context) error { return nil })
	env := newTestEnv(t, func(_ *Config, deps *Dependencies) { deps.HealthChecker = checker })

	rec, _ := env.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/readyz", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)

	checker.AddCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	rec, body := env.do(t, http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var status handlers.HealthStatus
	require.NoError(t, json.Unmarshal(body.Data, &status))
	assert.False(t, status.Checks["redis"].Healthy)
	assert.True(t, status.Checks["database"].Healthy)

	rec, _ = env.do(t, http.MethodGet, "/readyz", nil, false)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/livez", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	env := newTestEnv(t, func(_ *Config, deps *Dependencies) { deps.Gatherer = reg })
	require.NoError(t, env.metrics.Register(reg))
	env.metrics.ObserveJob("recalculate_rankings", 1.5, nil)

	rec, _ := env.do(t, http.MethodGet, "/metrics", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), metrics.MetricJobRunsTotal)
}

func TestRecovery(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, deps *Dependencies) {
		deps.LastCalculation = panicReader{}
	})

	rec, body := env.do(t, http.MethodGet, "/api/v1/calculations/last", nil, false)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "internal_server_error", body.Error.Code)
}

type panicReader struct{}

func (panicReader) Handle(ctx context.Context) (*query.GetLastCalculationResult, error) {
	panic("boom")
}
