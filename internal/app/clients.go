// Package app builds the configured clients shared by the server and racectl.
package app

import (
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/vnmchuo/race-predictor/config"
	"github.com/vnmchuo/race-predictor/internal/kra"
	"github.com/vnmchuo/race-predictor/internal/prediction"
	"github.com/vnmchuo/race-predictor/internal/provider"
	"github.com/vnmchuo/race-predictor/internal/provider/gemini"
)

func NewKRAClient(cfg *config.Config, logger *zap.Logger, tracer trace.Tracer) (*kra.Client, error) {
	return kra.New(kra.Config{
		APIKey:     cfg.KRAAPIKey,
		BaseURL:    cfg.KRABaseURL,
		Timeout:    cfg.KRATimeout,
		MaxRetries: cfg.KRAMaxRetries,
		Endpoints: kra.Endpoints{
			Schedule: cfg.KRAScheduleEndpoint,
			Results:  cfg.KRAResultsEndpoint,
			Horse:    cfg.KRAHorseEndpoint,
			Entries:  cfg.KRAEntriesEndpoint,
		},
	},
		kra.WithLogger(logger.Named("kra")),
		kra.WithTracer(tracer),
	)
}

// NewPredictionClient puts the Gemini generator behind a circuit breaker.
func NewPredictionClient(cfg *config.Config, logger *zap.Logger, tracer trace.Tracer) (*prediction.Client, error) {
	opts := []gemini.Option{gemini.WithModel(cfg.GeminiModel)}
	if cfg.GeminiBaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(cfg.GeminiBaseURL))
	}
	gen, err := gemini.New(cfg.GeminiAPIKey, opts...)
	if err != nil {
		return nil, err
	}

	return prediction.New(provider.NewBreaker(gen),
		prediction.WithModel(gen.Model()),
		prediction.WithLogger(logger.Named("prediction")),
		prediction.WithTracer(tracer),
	), nil
}
