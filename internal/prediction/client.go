// Package prediction turns race context into model-generated predictions.
package prediction

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/vnmchuo/race-predictor/internal/provider"
	"github.com/vnmchuo/race-predictor/internal/retry"
)

// Decoding parameters sent with every prediction request.
const (
	Temperature     = 0.3
	TopP            = 0.95
	TopK            = 40
	MaxOutputTokens = 2048

	DefaultAttempts = 3
)

// Client prompts a generator and decodes its answer into an Envelope.
type Client struct {
	gen    provider.Generator
	model  string
	policy retry.Policy
	logger *zap.Logger
	tracer trace.Tracer
}

type Option func(*Client)

func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(c *Client) { c.policy = p }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Client) {
		if t != nil {
			c.tracer = t
		}
	}
}

func New(gen provider.Generator, opts ...Option) *Client {
	c := &Client{
		gen:    gen,
		policy: retry.DefaultPolicy(DefaultAttempts),
		logger: zap.NewNop(),
		tracer: noop.NewTracerProvider().Tracer("prediction"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ModelVersion names the model that produced a prediction.
func (c *Client) ModelVersion() string {
	if c.model != "" {
		return c.model
	}
	return c.gen.Name()
}

// GeneratePrediction builds the prompt, calls the generator under the retry
// policy and decodes the reply. Undecodable replies come back as a failure
// envelope with a nil error; generator errors that outlast the retries are
// returned.
func (c *Client) GeneratePrediction(ctx context.Context, raceContext any, kind Kind, systemPrompt string) (*Envelope, error) {
	ctx, span := c.tracer.Start(ctx, "prediction.generate")
	defer span.End()
	span.SetAttributes(attribute.String("prediction.kind", string(kind)))

	prompt, err := BuildPrompt(raceContext, kind, systemPrompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	c.logger.Info("generating prediction", zap.String("prediction_type", string(kind)))
	start := time.Now()

	resp, err := retry.Do(ctx, c.policy, func(attempt int) (*provider.Response, error) {
		resp, err := c.gen.Generate(ctx, &provider.Request{
			Model:           c.model,
			Prompt:          prompt,
			Temperature:     Temperature,
			TopP:            TopP,
			TopK:            TopK,
			MaxOutputTokens: MaxOutputTokens,
		})
		if err != nil {
			c.logger.Error("prediction attempt failed",
				zap.String("prediction_type", string(kind)),
				zap.Int("attempt", attempt),
				zap.Error(err))
			return nil, err
		}
		return resp, nil
	}, func(attempt int, err error, next time.Duration) {
		c.logger.Debug("retrying prediction", zap.Int("attempt", attempt), zap.Duration("retry_in", next))
	})
	if err != nil {
		c.logger.Error("failed to generate prediction", zap.String("prediction_type", string(kind)), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("generate %s prediction: %w", kind, err)
	}

	env := c.parse(resp.Content)
	c.logger.Info("prediction generated",
		zap.String("prediction_type", string(kind)),
		zap.Bool("parsed", env.OK()),
		zap.Int("input_tokens", resp.InputTokens),
		zap.Int("output_tokens", resp.OutputTokens),
		zap.Duration("elapsed", time.Since(start)))
	return env, nil
}

func (c *Client) parse(text string) *Envelope {
	obj, err := decodePayload(text)
	if err != nil {
		c.logger.Error("failed to parse prediction response", zap.Error(err), zap.String("raw_text", text))
		return failureEnvelope(text)
	}
	return &Envelope{Payload: obj}
}
