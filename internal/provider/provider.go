package provider

import (
	"context"
)

type Request struct {
	Model  string
	Prompt string
	// Decoding parameters
	Temperature     float64
	TopP            float64
	TopK            int
	MaxOutputTokens int
	RequestID       string
}

type Response struct {
	Content      string
	InputTokens  int
	OutputTokens int
	Model        string
	Provider     string
	LatencyMs    int64
}

// Generator turns a single prompt into text.
type Generator interface {
	Generate(ctx context.Context, req *Request) (*Response, error)
	Name() string
}
