package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/race-predictor/internal/auth"
	"github.com/vnmchuo/race-predictor/internal/kra"
	"github.com/vnmchuo/race-predictor/internal/prediction"
	"github.com/vnmchuo/race-predictor/pkg/ratelimit"
)

type PredictionService interface {
	Generate(ctx context.Context, in prediction.GenerateInput) (*prediction.Record, error)
	Get(ctx context.Context, raceID int64, kind prediction.Kind) (*prediction.Record, error)
	List(ctx context.Context, raceID int64) ([]*prediction.Record, error)
	Invalidate(ctx context.Context, raceID int64) error
}

// RaceContexts builds model input from synced race data.
type RaceContexts interface {
	Build(ctx context.Context, raceID int64) (*prediction.RaceContext, error)
}

type Syncer interface {
	SyncDate(ctx context.Context, date time.Time, kind kra.SyncKind, tracks []kra.Track) ([]*kra.Snapshot, error)
}

// GenerateTimeout bounds one prediction request, retries included. The server
// write timeout must stay above it.
const GenerateTimeout = 3 * time.Minute

type Info struct {
	Name    string
	Version string
}

type Handler struct {
	predictions PredictionService
	contexts    RaceContexts
	syncer      Syncer
	limiter     *ratelimit.Limiter
	tracer      trace.Tracer
	logger      *zap.Logger
	info        Info
}

// NewHandler accepts nil contexts; callers must then send race_context.
func NewHandler(predictions PredictionService, contexts RaceContexts, syncer Syncer, limiter *ratelimit.Limiter, tracer trace.Tracer, logger *zap.Logger, info Info) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		predictions: predictions,
		contexts:    contexts,
		syncer:      syncer,
		limiter:     limiter,
		tracer:      tracer,
		logger:      logger,
		info:        info,
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) HandleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    h.info.Name,
		"version": h.info.Version,
		"status":  "running",
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type createPredictionRequest struct {
	RaceID          int64          `json:"race_id"`
	RaceContext     map[string]any `json:"race_context"`
	PredictionType  string         `json:"prediction_type"`
	PredictionTypes []string       `json:"prediction_types"`
	SystemPrompt    string         `json:"system_prompt"`
	Refresh         bool           `json:"refresh"`
}

// kinds prefers prediction_types, then prediction_type, then win.
func (req createPredictionRequest) kinds() []prediction.Kind {
	var kinds []prediction.Kind
	seen := make(map[prediction.Kind]bool)
	for _, t := range req.PredictionTypes {
		k := prediction.ParseKind(t)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		kinds = append(kinds, k)
	}
	if len(kinds) > 0 {
		return kinds
	}
	if req.PredictionType != "" {
		return []prediction.Kind{prediction.ParseKind(req.PredictionType)}
	}
	return []prediction.Kind{prediction.KindWin}
}

func (h *Handler) HandleCreatePrediction(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	subject := auth.GetSubject(ctx)
	if subject == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req createPredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RaceID <= 0 {
		writeError(w, http.StatusBadRequest, "race_id is required")
		return
	}
	if len(req.RaceContext) == 0 && h.contexts == nil {
		writeError(w, http.StatusBadRequest, "race_context is required")
		return
	}
	kinds := req.kinds()

	ctx, cancel := context.WithTimeout(ctx, GenerateTimeout)
	defer cancel()

	ctx, span := h.tracer.Start(ctx, "api.predictions.create")
	defer span.End()
	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = string(k)
	}
	span.SetAttributes(
		attribute.String("subject", subject),
		attribute.String("request_id", auth.GetRequestID(ctx)),
		attribute.Int64("race_id", req.RaceID),
		attribute.StringSlice("prediction_types", kindNames),
	)

	var raceContext any = req.RaceContext
	if len(req.RaceContext) == 0 {
		rc, ok := h.loadRaceContext(ctx, w, req.RaceID)
		if !ok {
			return
		}
		raceContext = rc
	}

	allowed, err := h.limiter.AllowN(ctx, subject, len(kinds))
	if err != nil || !allowed {
		w.Header().Set("Retry-After", "60")
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error":       "rate limit exceeded",
			"retry_after": "60s",
		})
		return
	}

	in := prediction.GenerateInput{
		RaceID:       req.RaceID,
		RaceContext:  raceContext,
		SystemPrompt: req.SystemPrompt,
		Refresh:      req.Refresh,
	}

	if len(kinds) == 1 {
		in.Kind = kinds[0]
		rec, err := h.predictions.Generate(ctx, in)
		if err != nil {
			h.writeGenerateError(ctx, w, req.RaceID, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	// types run one after another; a failed type does not stop the rest
	recs := make([]*prediction.Record, 0, len(kinds))
	var lastErr error
	for _, kind := range kinds {
		in.Kind = kind
		rec, err := h.predictions.Generate(ctx, in)
		if err != nil {
			h.logger.Error("prediction type failed",
				zap.String("request_id", auth.GetRequestID(ctx)),
				zap.Int64("race_id", req.RaceID),
				zap.String("prediction_type", string(kind)),
				zap.Error(err))
			lastErr = err
			continue
		}
		recs = append(recs, rec)
	}
	if len(recs) == 0 {
		h.writeGenerateError(ctx, w, req.RaceID, lastErr)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"race_id":     req.RaceID,
		"predictions": recs,
		"summary": map[string]int{
			"total":     len(kinds),
			"generated": len(recs),
			"failed":    len(kinds) - len(recs),
		},
	})
}

// loadRaceContext builds the context from synced race data. It writes the
// error response itself and reports false when the request cannot go on.
func (h *Handler) loadRaceContext(ctx context.Context, w http.ResponseWriter, raceID int64) (*prediction.RaceContext, bool) {
	rc, err := h.contexts.Build(ctx, raceID)
	if errors.Is(err, kra.ErrRaceNotFound) {
		writeError(w, http.StatusNotFound, "race not found")
		return nil, false
	}
	if err != nil {
		h.logger.Error("failed to build race context", zap.Int64("race_id", raceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build race context")
		return nil, false
	}

	v := prediction.ValidateRaceContext(rc)
	if !v.Valid {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "race data is not valid",
			"errors": v.Errors,
		})
		return nil, false
	}
	if len(v.Warnings) > 0 {
		h.logger.Warn("race context has warnings", zap.Int64("race_id", raceID), zap.Strings("warnings", v.Warnings))
	}
	return rc, true
}

func (h *Handler) writeGenerateError(ctx context.Context, w http.ResponseWriter, raceID int64, err error) {
	h.logger.Error("prediction request failed",
		zap.String("request_id", auth.GetRequestID(ctx)),
		zap.Int64("race_id", raceID),
		zap.Error(err))
	if errors.Is(err, context.DeadlineExceeded) {
		writeError(w, http.StatusGatewayTimeout, "prediction timed out")
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func raceIDParam(r *http.Request) (int64, bool) {
	raceID, err := strconv.ParseInt(chi.URLParam(r, "raceID"), 10, 64)
	if err != nil || raceID <= 0 {
		return 0, false
	}
	return raceID, true
}

func (h *Handler) HandleGetPredictions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	raceID, ok := raceIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid race id")
		return
	}

	if t := r.URL.Query().Get("type"); t != "" {
		rec, err := h.predictions.Get(ctx, raceID, prediction.ParseKind(t))
		if errors.Is(err, prediction.ErrNotFound) {
			writeError(w, http.StatusNotFound, "prediction not found")
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	recs, err := h.predictions.List(ctx, raceID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if recs == nil {
		recs = []*prediction.Record{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"race_id":     raceID,
		"predictions": recs,
	})
}

// HandleInvalidateCache drops every cached prediction for a race.
func (h *Handler) HandleInvalidateCache(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if auth.GetSubject(ctx) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	raceID, ok := raceIDParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid race id")
		return
	}

	if err := h.predictions.Invalidate(ctx, raceID); err != nil {
		h.logger.Error("failed to invalidate prediction cache", zap.Int64("race_id", raceID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to invalidate cache")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"race_id": raceID, "invalidated": true})
}

type syncRequest struct {
	Date   string `json:"date"`
	Kind   string `json:"kind"`
	Tracks []int  `json:"tracks"`
}

type snapshotSummary struct {
	ID         int64               `json:"id"`
	Kind       string              `json:"kind"`
	Track      string              `json:"track"`
	RaceDate   string              `json:"race_date"`
	ItemCount  int                 `json:"item_count"`
	RaceIDs    []int64             `json:"race_ids,omitempty"`
	Normalized *kra.NormalizeStats `json:"normalized,omitempty"`
}

func (h *Handler) HandleSync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if auth.GetSubject(ctx) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req syncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	date, err := kra.ParseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid 'date' (use YYYYMMDD)")
		return
	}
	kind, err := kra.ParseSyncKind(req.Kind)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var tracks []kra.Track
	for _, code := range req.Tracks {
		track := kra.Track(code)
		if !track.Valid() {
			writeError(w, http.StatusBadRequest, "unknown track code "+strconv.Itoa(code))
			return
		}
		tracks = append(tracks, track)
	}

	ctx, span := h.tracer.Start(ctx, "api.kra.sync")
	defer span.End()
	span.SetAttributes(attribute.String("kind", string(kind)), attribute.String("race_date", req.Date))

	snaps, syncErr := h.syncer.SyncDate(ctx, date, kind, tracks)
	if syncErr != nil && len(snaps) == 0 {
		writeError(w, http.StatusBadGateway, syncErr.Error())
		return
	}

	summaries := make([]snapshotSummary, 0, len(snaps))
	for _, s := range snaps {
		summary := snapshotSummary{
			ID:        s.ID,
			Kind:      string(s.Kind),
			Track:     s.Track.String(),
			RaceDate:  kra.FormatDate(s.RaceDate),
			ItemCount: s.ItemCount,
			RaceIDs:   s.RaceIDs,
		}
		if s.Stats != (kra.NormalizeStats{}) {
			stats := s.Stats
			summary.Normalized = &stats
		}
		summaries = append(summaries, summary)
	}
	body := map[string]any{"snapshots": summaries}
	if syncErr != nil {
		body["error"] = syncErr.Error()
	}
	writeJSON(w, http.StatusOK, body)
}
