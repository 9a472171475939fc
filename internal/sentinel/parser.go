// Package sentinel extracts the structured consultation block that the
// assistant embeds in its replies:
//
//	...free text...###DATA_START###{"name": "...", ...}###DATA_END###
//
// The markers are part of the prompt contract and must not change.
package sentinel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const (
	StartMarker = "###DATA_START###"
	EndMarker   = "###DATA_END###"
)

// ErrParse matches every *ParseError via errors.Is.
var ErrParse = errors.New("sentinel: malformed payload")

// ParseError reports a block whose markers were found but whose payload could
// not be used. The surrounding text is still returned alongside it.
type ParseError struct {
	Raw string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("sentinel: parse payload: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Is(target error) bool { return target == ErrParse }

// Payload is the consultation state reported by the assistant. Age and
// Duration are nil when the model sent something that is not a number.
type Payload struct {
	Name     string `json:"name"`
	Age      *int   `json:"age"`
	Gender   string `json:"gender"`
	Symptoms string `json:"symptoms"`
	Duration *int   `json:"duration"`
	Complete bool   `json:"complete"`
}

// Result is the outcome of scanning one assistant reply.
type Result struct {
	// Text is what the end user should see: the reply with the block removed,
	// or the reply unchanged when no block was present.
	Text    string
	Found   bool
	Payload *Payload
}

const payloadSchemaJSON = `{
	"type": "object",
	"required": ["name", "age", "gender", "symptoms", "duration", "complete"],
	"properties": {
		"name":     {"type": ["string", "null"]},
		"age":      {"type": ["number", "string", "null"]},
		"gender":   {"type": ["string", "null"]},
		"symptoms": {"type": ["string", "null"]},
		"duration": {"type": ["number", "string", "null"]},
		"complete": {"type": ["boolean", "string", "null"]}
	}
}`

var payloadSchema = mustSchema(payloadSchemaJSON)

func mustSchema(s string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(s))
	if err != nil {
		panic(fmt.Sprintf("sentinel: compile payload schema: %v", err))
	}
	return schema
}

// Parse locates the first start marker and the first end marker after it.
// Missing markers are the normal case and yield Found=false with no error.
// A malformed payload yields a *ParseError, but Result.Text is still the
// stripped reply.
func Parse(text string) (Result, error) {
	start := strings.Index(text, StartMarker)
	if start < 0 {
		return Result{Text: text}, nil
	}
	bodyStart := start + len(StartMarker)
	rel := strings.Index(text[bodyStart:], EndMarker)
	if rel < 0 {
		return Result{Text: text}, nil
	}
	bodyEnd := bodyStart + rel

	res := Result{
		Text:  strings.TrimSpace(text[:start] + text[bodyEnd+len(EndMarker):]),
		Found: true,
	}
	raw := stripCodeFence(text[bodyStart:bodyEnd])
	p, err := decodePayload(raw)
	if err != nil {
		return res, &ParseError{Raw: raw, Err: err}
	}
	res.Payload = &p
	return res, nil
}

type rawPayload struct {
	Name     *string `json:"name"`
	Age      any     `json:"age"`
	Gender   *string `json:"gender"`
	Symptoms *string `json:"symptoms"`
	Duration any     `json:"duration"`
	Complete any     `json:"complete"`
}

func decodePayload(raw string) (Payload, error) {
	if raw == "" {
		return Payload{}, errors.New("empty payload")
	}
	result, err := payloadSchema.Validate(gojsonschema.NewStringLoader(raw))
	if err != nil {
		return Payload{}, fmt.Errorf("invalid json: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Payload{}, fmt.Errorf("schema: %s", strings.Join(msgs, "; "))
	}

	var rp rawPayload
	dec := json.NewDecoder(bytes.NewBufferString(raw))
	dec.UseNumber()
	if err := dec.Decode(&rp); err != nil {
		return Payload{}, fmt.Errorf("decode: %w", err)
	}
	return Payload{
		Name:     strings.TrimSpace(deref(rp.Name)),
		Age:      coerceInt(rp.Age),
		Gender:   strings.TrimSpace(deref(rp.Gender)),
		Symptoms: strings.TrimSpace(deref(rp.Symptoms)),
		Duration: coerceInt(rp.Duration),
		Complete: coerceBool(rp.Complete),
	}, nil
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// coerceInt accepts JSON numbers and numeric-looking strings. Fractions are
// truncated; anything else is nil.
func coerceInt(v any) *int {
	var f float64
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return intPtr(int(n))
		}
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		s := strings.TrimSpace(t)
		if n, err := strconv.Atoi(s); err == nil {
			return intPtr(n)
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt32 {
		return nil
	}
	return intPtr(int(math.Trunc(f)))
}

func coerceBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intPtr(n int) *int { return &n }
