package prediction

import (
	"encoding/json"
	"errors"
	"strings"
)

// ParseErrorKind tags the failure envelope.
const ParseErrorKind = "parse_error"

var errNotObject = errors.New("prediction payload is not a JSON object")

// ParseFailure is returned in place of a prediction when the model output
// could not be decoded.
type ParseFailure struct {
	Kind       string  `json:"kind"`
	RawText    string  `json:"raw_text"`
	Confidence float64 `json:"confidence"`
}

// Envelope holds either a decoded prediction object or a parse failure.
type Envelope struct {
	Payload map[string]any
	Failure *ParseFailure
}

func failureEnvelope(raw string) *Envelope {
	return &Envelope{Failure: &ParseFailure{Kind: ParseErrorKind, RawText: raw, Confidence: 0}}
}

func (e *Envelope) OK() bool {
	return e != nil && e.Failure == nil
}

// Confidence is the model's self-reported confidence, or 0 when absent.
func (e *Envelope) Confidence() float64 {
	if !e.OK() {
		return 0
	}
	switch v := e.Payload["confidence"].(type) {
	case float64:
		return v
	case json.Number:
		f, _ := v.Float64()
		return f
	}
	return 0
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Failure != nil {
		return json.Marshal(e.Failure)
	}
	if e.Payload == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(e.Payload)
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if kind, _ := obj["kind"].(string); kind == ParseErrorKind {
		if raw, ok := obj["raw_text"].(string); ok {
			*e = Envelope{Failure: &ParseFailure{Kind: ParseErrorKind, RawText: raw}}
			return nil
		}
	}
	*e = Envelope{Payload: obj}
	return nil
}

const fence = "```"

// ExtractJSON pulls the JSON payload out of model text. A "```json" fence wins
// over a bare fence; without any fence the whole text is used. A missing
// closing fence extends the payload to the end of the text.
func ExtractJSON(text string) string {
	if i := strings.Index(text, fence+"json"); i >= 0 {
		return between(text[i+len(fence+"json"):])
	}
	if i := strings.Index(text, fence); i >= 0 {
		return between(text[i+len(fence):])
	}
	return strings.TrimSpace(text)
}

func between(rest string) string {
	if j := strings.Index(rest, fence); j >= 0 {
		rest = rest[:j]
	}
	return strings.TrimSpace(rest)
}

func decodePayload(text string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(ExtractJSON(text)), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, errNotObject
	}
	return obj, nil
}

// ParseResponse never fails: undecodable text becomes a failure envelope
// carrying the untouched response.
func ParseResponse(text string) *Envelope {
	obj, err := decodePayload(text)
	if err != nil {
		return failureEnvelope(text)
	}
	return &Envelope{Payload: obj}
}
