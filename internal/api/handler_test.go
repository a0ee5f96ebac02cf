package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	extratelimit "github.com/vnmchuo/ratelimiter"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/vnmchuo/race-predictor/internal/auth"
	"github.com/vnmchuo/race-predictor/internal/kra"
	"github.com/vnmchuo/race-predictor/internal/prediction"
	"github.com/vnmchuo/race-predictor/pkg/ratelimit"
)

// Mock prediction service
type mockPredictionService struct {
	generateFunc func(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error)
	getFunc      func(ctx context.Context, raceID int64, kind prediction.Kind) (*prediction.Record, error)
	listFunc     func(ctx context.Context, raceID int64) ([]*prediction.Record, error)
	invalidated  []int64
	invalidErr   error
}

func (m *mockPredictionService) Generate(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error) {
	if m.generateFunc != nil {
		return m.generateFunc(ctx, in)
	}
	return &prediction.Record{RaceID: in.RaceID, Kind: in.Kind, Envelope: prediction.ParseResponse(`{}`)}, nil
}

func (m *mockPredictionService) Get(ctx context.Context, raceID int64, kind prediction.Kind) (*prediction.Record, error) {
	if m.getFunc != nil {
		return m.getFunc(ctx, raceID, kind)
	}
	return nil, prediction.ErrNotFound
}

func (m *mockPredictionService) List(ctx context.Context, raceID int64) ([]*prediction.Record, error) {
	if m.listFunc != nil {
		return m.listFunc(ctx, raceID)
	}
	return nil, nil
}

func (m *mockPredictionService) Invalidate(ctx context.Context, raceID int64) error {
	m.invalidated = append(m.invalidated, raceID)
	return m.invalidErr
}

// Mock race context builder
type mockRaceContexts struct {
	rc  *prediction.RaceContext
	err error
}

func (m *mockRaceContexts) Build(ctx context.Context, raceID int64) (*prediction.RaceContext, error) {
	return m.rc, m.err
}

func twoRunnerContext() *prediction.RaceContext {
	return &prediction.RaceContext{
		RaceInfo: prediction.RaceInfo{Date: "2024-06-01", RaceNumber: 3, Distance: 1200, TotalEntries: 2},
		Entries:  []prediction.EntryContext{{GateNumber: 1}, {GateNumber: 2}},
	}
}

// Mock syncer
type mockSyncer struct {
	gotKind   kra.SyncKind
	gotTracks []kra.Track
	snaps     []*kra.Snapshot
	err       error
}

func (m *mockSyncer) SyncDate(ctx context.Context, date time.Time, kind kra.SyncKind, tracks []kra.Track) ([]*kra.Snapshot, error) {
	m.gotKind = kind
	m.gotTracks = tracks
	return m.snaps, m.err
}

// Mock limiter store
type mockLimiterStore struct {
	allowed bool
	err     error
	charged int
}

func (m *mockLimiterStore) AllowN(ctx context.Context, key string, n int) (*extratelimit.Result, error) {
	m.charged += n
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Allow(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func (m *mockLimiterStore) Status(ctx context.Context, key string) (*extratelimit.Result, error) {
	return &extratelimit.Result{Allowed: m.allowed}, m.err
}

func setupTest(limiterAllowed bool) (*Handler, *mockPredictionService, *mockSyncer) {
	svc := &mockPredictionService{}
	syncer := &mockSyncer{}
	limiter := ratelimit.NewTestLimiter(&mockLimiterStore{allowed: limiterAllowed})
	tracer := noop.NewTracerProvider().Tracer("test")
	return NewHandler(svc, nil, syncer, limiter, tracer, nil, Info{Name: "race-predictor", Version: "test"}), svc, syncer
}

func setupWithContexts(contexts RaceContexts) (*Handler, *mockPredictionService, *mockLimiterStore) {
	svc := &mockPredictionService{}
	store := &mockLimiterStore{allowed: true}
	tracer := noop.NewTracerProvider().Tracer("test")
	h := NewHandler(svc, contexts, &mockSyncer{}, ratelimit.NewTestLimiter(store), tracer, nil, Info{Name: "race-predictor", Version: "test"})
	return h, svc, store
}

func authed(req *http.Request) *http.Request {
	return req.WithContext(auth.WithSubject(req.Context(), "analyst"))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleRootAndHealth(t *testing.T) {
	h, _, _ := setupTest(true)

	w := httptest.NewRecorder()
	h.HandleRoot(w, httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Equal(t, "race-predictor", resp["name"])
	assert.Equal(t, "running", resp["status"])

	w = httptest.NewRecorder()
	h.HandleHealth(w, httptest.NewRequest("GET", "/health", nil))
	assert.JSONEq(t, `{"status":"healthy"}`, w.Body.String())
}

func TestHandleCreatePrediction_Unauthorized(t *testing.T) {
	h, _, _ := setupTest(true)
	w := httptest.NewRecorder()
	h.HandleCreatePrediction(w, httptest.NewRequest("POST", "/api/v1/predictions", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthorized", decodeBody(t, w)["error"])
}

func TestHandleCreatePrediction_InvalidBody(t *testing.T) {
	h, _, _ := setupTest(true)
	for _, body := range []string{`{invalid json}`, `{"race_context":{"a":1}}`, `{"race_id":3}`} {
		req := authed(httptest.NewRequest("POST", "/api/v1/predictions", strings.NewReader(body)))
		w := httptest.NewRecorder()
		h.HandleCreatePrediction(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestHandleCreatePrediction_RateLimited(t *testing.T) {
	h, _, _ := setupTest(false)
	body := `{"race_id":1,"race_context":{"horses":[]}}`
	req := authed(httptest.NewRequest("POST", "/api/v1/predictions", strings.NewReader(body)))
	w := httptest.NewRecorder()

	h.HandleCreatePrediction(w, req)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "60", w.Header().Get("Retry-After"))
	assert.Equal(t, "rate limit exceeded", decodeBody(t, w)["error"])
}

func TestHandleCreatePrediction_Success(t *testing.T) {
	h, svc, _ := setupTest(true)
	var got prediction.GenerateInput
	svc.generateFunc = func(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error) {
		got = in
		return &prediction.Record{
			ID:       "rec-1",
			RaceID:   in.RaceID,
			Kind:     in.Kind,
			Envelope: prediction.ParseResponse(`{"confidence":0.7}`),
		}, nil
	}

	body, _ := json.Marshal(map[string]any{
		"race_id":         11,
		"prediction_type": "Trifecta",
		"race_context":    map[string]any{"horses": []int{1, 2, 3}},
	})
	req := authed(httptest.NewRequest("POST", "/api/v1/predictions", bytes.NewReader(body)))
	w := httptest.NewRecorder()

	h.HandleCreatePrediction(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, prediction.KindTrifecta, got.Kind)
	assert.Equal(t, int64(11), got.RaceID)

	resp := decodeBody(t, w)
	assert.Equal(t, "rec-1", resp["id"])
	assert.Equal(t, "trifecta", resp["prediction_type"])
	assert.Equal(t, 0.7, resp["prediction"].(map[string]any)["confidence"])
}

func TestHandleCreatePrediction_DefaultsToWin(t *testing.T) {
	h, svc, _ := setupTest(true)
	var got prediction.Kind
	svc.generateFunc = func(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error) {
		got = in.Kind
		return &prediction.Record{Envelope: prediction.ParseResponse(`{}`)}, nil
	}
	req := authed(httptest.NewRequest("POST", "/api/v1/predictions", strings.NewReader(`{"race_id":1,"race_context":{"a":1}}`)))
	h.HandleCreatePrediction(httptest.NewRecorder(), req)
	assert.Equal(t, prediction.KindWin, got)
}

func TestHandleCreatePrediction_UpstreamFailure(t *testing.T) {
	h, svc, _ := setupTest(true)
	svc.generateFunc = func(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error) {
		return nil, errors.New("gemini unavailable")
	}
	req := authed(httptest.NewRequest("POST", "/api/v1/predictions", strings.NewReader(`{"race_id":1,"race_context":{"a":1}}`)))
	w := httptest.NewRecorder()

	h.HandleCreatePrediction(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "gemini unavailable")
}

func TestHandleCreatePrediction_BuildsContextFromRaceData(t *testing.T) {
	contexts := &mockRaceContexts{rc: twoRunnerContext()}
	h, svc, _ := setupWithContexts(contexts)
	var got prediction.GenerateInput
	svc.generateFunc = func(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error) {
		got = in
		return &prediction.Record{RaceID: in.RaceID, Kind: in.Kind, Envelope: prediction.ParseResponse(`{}`)}, nil
	}

	req := authed(httptest.NewRequest("POST", "/api/v1/predictions", strings.NewReader(`{"race_id":101}`)))
	w := httptest.NewRecorder()
	h.HandleCreatePrediction(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Same(t, contexts.rc, got.RaceContext)
	assert.Equal(t, prediction.KindWin, got.Kind)
}

func TestHandleCreatePrediction_RaceContextFailures(t *testing.T) {
	oneRunner := twoRunnerContext()
	oneRunner.Entries = oneRunner.Entries[:1]

	cases := []struct {
		name     string
		contexts *mockRaceContexts
		status   int
		errMsg   string
	}{
		{"unknown race", &mockRaceContexts{err: kra.ErrRaceNotFound}, http.StatusNotFound, "race not found"},
		{"store failure", &mockRaceContexts{err: errors.New("conn refused")}, http.StatusInternalServerError, "failed to build race context"},
		{"invalid race data", &mockRaceContexts{rc: oneRunner}, http.StatusBadRequest, "race data is not valid"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h, svc, store := setupWithContexts(tc.contexts)
			called := false
			svc.generateFunc = func(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error) {
				called = true
				return nil, nil
			}

			w := httptest.NewRecorder()
			h.HandleCreatePrediction(w, authed(httptest.NewRequest("POST", "/api/v1/predictions", strings.NewReader(`{"race_id":7}`))))

			assert.Equal(t, tc.status, w.Code)
			assert.Equal(t, tc.errMsg, decodeBody(t, w)["error"])
			assert.False(t, called)
			assert.Zero(t, store.charged, "no quota spent on a request that never reached the model")
		})
	}

	h, _, _ := setupWithContexts(&mockRaceContexts{rc: oneRunner})
	w := httptest.NewRecorder()
	h.HandleCreatePrediction(w, authed(httptest.NewRequest("POST", "/api/v1/predictions", strings.NewReader(`{"race_id":7}`))))
	assert.Equal(t, []any{"race has fewer than 2 entries"}, decodeBody(t, w)["errors"])
}

func TestHandleCreatePrediction_MultipleTypes(t *testing.T) {
	h, svc, store := setupWithContexts(&mockRaceContexts{rc: twoRunnerContext()})
	var kinds []prediction.Kind
	svc.generateFunc = func(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error) {
		kinds = append(kinds, in.Kind)
		if in.Kind == prediction.KindQuinella {
			return nil, errors.New("gemini unavailable")
		}
		return &prediction.Record{RaceID: in.RaceID, Kind: in.Kind, Envelope: prediction.ParseResponse(`{}`)}, nil
	}

	body := `{"race_id":101,"prediction_types":["win","Quinella","win","place"]}`
	w := httptest.NewRecorder()
	h.HandleCreatePrediction(w, authed(httptest.NewRequest("POST", "/api/v1/predictions", strings.NewReader(body))))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []prediction.Kind{prediction.KindWin, prediction.KindQuinella, prediction.KindPlace}, kinds)
	assert.Equal(t, 3, store.charged)

	resp := decodeBody(t, w)
	assert.Equal(t, float64(101), resp["race_id"])
	assert.Len(t, resp["predictions"], 2)
	assert.Equal(t, map[string]any{"total": float64(3), "generated": float64(2), "failed": float64(1)}, resp["summary"])
}

func TestHandleCreatePrediction_MultipleTypesAllFail(t *testing.T) {
	h, svc, _ := setupWithContexts(nil)
	svc.generateFunc = func(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error) {
		return nil, errors.New("gemini unavailable")
	}
	body := `{"race_id":1,"race_context":{"a":1},"prediction_types":["win","place"]}`
	w := httptest.NewRecorder()
	h.HandleCreatePrediction(w, authed(httptest.NewRequest("POST", "/api/v1/predictions", strings.NewReader(body))))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleCreatePrediction_Deadline(t *testing.T) {
	h, svc, _ := setupTest(true)
	var deadline time.Time
	var hasDeadline bool
	svc.generateFunc = func(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error) {
		deadline, hasDeadline = ctx.Deadline()
		return nil, fmt.Errorf("call gemini: %w", context.DeadlineExceeded)
	}

	start := time.Now()
	w := httptest.NewRecorder()
	h.HandleCreatePrediction(w, authed(httptest.NewRequest("POST", "/api/v1/predictions", strings.NewReader(`{"race_id":1,"race_context":{"a":1}}`))))

	require.True(t, hasDeadline)
	assert.WithinDuration(t, start.Add(GenerateTimeout), deadline, 5*time.Second)
	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
	assert.Equal(t, "prediction timed out", decodeBody(t, w)["error"])
}

func withRaceID(req *http.Request, id string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add("raceID", id)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
}

func TestHandleGetPredictions(t *testing.T) {
	h, svc, _ := setupTest(true)
	svc.listFunc = func(ctx context.Context, raceID int64) ([]*prediction.Record, error) {
		return []*prediction.Record{{ID: "a", RaceID: raceID}, {ID: "b", RaceID: raceID}}, nil
	}
	svc.getFunc = func(ctx context.Context, raceID int64, kind prediction.Kind) (*prediction.Record, error) {
		if kind == prediction.KindPlace {
			return &prediction.Record{ID: "p", RaceID: raceID, Kind: kind}, nil
		}
		return nil, prediction.ErrNotFound
	}

	w := httptest.NewRecorder()
	h.HandleGetPredictions(w, withRaceID(httptest.NewRequest("GET", "/api/v1/predictions/5", nil), "5"))
	require.Equal(t, http.StatusOK, w.Code)
	resp := decodeBody(t, w)
	assert.Len(t, resp["predictions"], 2)

	w = httptest.NewRecorder()
	h.HandleGetPredictions(w, withRaceID(httptest.NewRequest("GET", "/api/v1/predictions/5?type=place", nil), "5"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "p", decodeBody(t, w)["id"])

	w = httptest.NewRecorder()
	h.HandleGetPredictions(w, withRaceID(httptest.NewRequest("GET", "/api/v1/predictions/5?type=win", nil), "5"))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	h.HandleGetPredictions(w, withRaceID(httptest.NewRequest("GET", "/api/v1/predictions/abc", nil), "abc"))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleGetPredictions_EmptyList(t *testing.T) {
	h, _, _ := setupTest(true)
	w := httptest.NewRecorder()
	h.HandleGetPredictions(w, withRaceID(httptest.NewRequest("GET", "/api/v1/predictions/9", nil), "9"))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"race_id":9,"predictions":[]}`, w.Body.String())
}

func TestHandleSync_Validation(t *testing.T) {
	h, _, _ := setupTest(true)

	w := httptest.NewRecorder()
	h.HandleSync(w, httptest.NewRequest("POST", "/api/v1/kra/sync", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	for _, body := range []string{
		`{bad`,
		`{"date":"2024-03-09","kind":"schedule"}`,
		`{"date":"20240309","kind":"odds"}`,
		`{"date":"20240309","kind":"schedule","tracks":[7]}`,
	} {
		w := httptest.NewRecorder()
		h.HandleSync(w, authed(httptest.NewRequest("POST", "/api/v1/kra/sync", strings.NewReader(body))))
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
}

func TestHandleSync_Success(t *testing.T) {
	h, _, syncer := setupTest(true)
	date := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	syncer.snaps = []*kra.Snapshot{{ID: 1, Kind: kra.SyncResults, Track: kra.TrackJeju, RaceDate: date, ItemCount: 4}}

	body := `{"date":"20240309","kind":"results","tracks":[2]}`
	w := httptest.NewRecorder()
	h.HandleSync(w, authed(httptest.NewRequest("POST", "/api/v1/kra/sync", strings.NewReader(body))))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, kra.SyncResults, syncer.gotKind)
	assert.Equal(t, []kra.Track{kra.TrackJeju}, syncer.gotTracks)
	assert.JSONEq(t,
		`{"snapshots":[{"id":1,"kind":"results","track":"jeju","race_date":"20240309","item_count":4}]}`,
		w.Body.String())
}

func TestHandleSync_PartialAndTotalFailure(t *testing.T) {
	h, _, syncer := setupTest(true)
	syncer.err = errors.New("busan-gyeongnam: 503")
	syncer.snaps = []*kra.Snapshot{{Kind: kra.SyncSchedule, Track: kra.TrackSeoul}}

	body := `{"date":"20240309","kind":"schedule"}`
	w := httptest.NewRecorder()
	h.HandleSync(w, authed(httptest.NewRequest("POST", "/api/v1/kra/sync", strings.NewReader(body))))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decodeBody(t, w)["error"], "503")

	syncer.snaps = nil
	w = httptest.NewRecorder()
	h.HandleSync(w, authed(httptest.NewRequest("POST", "/api/v1/kra/sync", strings.NewReader(body))))
	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestHandleInvalidateCache(t *testing.T) {
	h, svc, _ := setupTest(true)

	w := httptest.NewRecorder()
	h.HandleInvalidateCache(w, withRaceID(httptest.NewRequest("DELETE", "/api/v1/predictions/5/cache", nil), "5"))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = httptest.NewRecorder()
	h.HandleInvalidateCache(w, authed(withRaceID(httptest.NewRequest("DELETE", "/api/v1/predictions/x/cache", nil), "x")))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	h.HandleInvalidateCache(w, authed(withRaceID(httptest.NewRequest("DELETE", "/api/v1/predictions/5/cache", nil), "5")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"race_id":5,"invalidated":true}`, w.Body.String())
	assert.Equal(t, []int64{5}, svc.invalidated)

	svc.invalidErr = errors.New("redis down")
	w = httptest.NewRecorder()
	h.HandleInvalidateCache(w, authed(withRaceID(httptest.NewRequest("DELETE", "/api/v1/predictions/5/cache", nil), "5")))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHandleSync_ReportsNormalizedRaces(t *testing.T) {
	h, _, syncer := setupTest(true)
	date := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)
	syncer.snaps = []*kra.Snapshot{{
		ID: 2, Kind: kra.SyncSchedule, Track: kra.TrackSeoul, RaceDate: date, ItemCount: 2,
		RaceIDs: []int64{101, 102},
		Stats:   kra.NormalizeStats{Races: 2, Entries: 20},
	}}

	w := httptest.NewRecorder()
	h.HandleSync(w, authed(httptest.NewRequest("POST", "/api/v1/kra/sync", strings.NewReader(`{"date":"20240309","kind":"schedule"}`))))

	require.Equal(t, http.StatusOK, w.Code)
	snap := decodeBody(t, w)["snapshots"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{float64(101), float64(102)}, snap["race_ids"])
	assert.Equal(t, float64(20), snap["normalized"].(map[string]any)["entries"])
}
