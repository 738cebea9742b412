// Package structured implements the structured-output contract: building
// the schema instruction appended to prompts, extracting a JSON payload
// from free-form backend text, and validating it against the caller's
// schema. A missing or malformed payload is never a run failure.
package structured

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/invopop/jsonschema"
	jsv "github.com/santhosh-tekuri/jsonschema/v6"
)

// fencedJSON matches a ```json fenced code block and captures its body.
var fencedJSON = regexp.MustCompile("(?s)```(?:json|JSON)\\s*\\n(.*?)```")

// Instruction renders the system instruction demanding schema-conformant
// JSON with no surrounding prose. schema may be raw JSON schema bytes, a
// map, or any Go value to reflect a schema from.
func Instruction(schema any) (string, error) {
	raw, err := schemaJSON(schema)
	if err != nil {
		return "", err
	}
	return "Respond with a single JSON object conforming to the following JSON Schema. " +
		"Output only the JSON, with no surrounding prose, explanation, or code fences.\n" +
		"Schema:\n" + string(raw), nil
}

// schemaJSON serializes the caller's schema value.
func schemaJSON(schema any) ([]byte, error) {
	switch s := schema.(type) {
	case nil:
		return nil, fmt.Errorf("nil output schema")
	case json.RawMessage:
		if !json.Valid(s) {
			return nil, fmt.Errorf("invalid schema JSON")
		}
		return s, nil
	case []byte:
		if !json.Valid(s) {
			return nil, fmt.Errorf("invalid schema JSON")
		}
		return s, nil
	case string:
		if !json.Valid([]byte(s)) {
			return nil, fmt.Errorf("invalid schema JSON")
		}
		return []byte(s), nil
	case map[string]any:
		return json.Marshal(s)
	default:
		// Reflect a schema from the Go value.
		reflected := jsonschema.Reflect(schema)
		return json.Marshal(reflected)
	}
}

// Extract locates the structured payload in backend text: first a ```json
// fenced block, then the outermost {...} span. The second result is false
// when no parseable JSON object is present.
func Extract(text string) (json.RawMessage, bool) {
	if m := fencedJSON.FindStringSubmatch(text); m != nil {
		if doc, ok := compactObject(m[1]); ok {
			return doc, true
		}
	}

	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return compactObject(text[start : end+1])
}

func compactObject(s string) (json.RawMessage, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || trimmed[0] != '{' {
		return nil, false
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(trimmed)); err != nil {
		return nil, false
	}
	return json.RawMessage(buf.Bytes()), true
}

// Conforms validates doc against schema. A non-conforming document is
// reported as false so callers treat it as absent. A schema that cannot be
// compiled skips validation and reports true: the instruction already asked
// for conformance and a broken schema must not fail the run.
func Conforms(doc json.RawMessage, schema any) bool {
	raw, err := schemaJSON(schema)
	if err != nil {
		return true
	}

	parsed, err := jsv.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		slog.Debug("output schema not parseable, skipping validation", "error", err)
		return true
	}
	compiler := jsv.NewCompiler()
	if err := compiler.AddResource("schema.json", parsed); err != nil {
		return true
	}
	compiled, err := compiler.Compile("schema.json")
	if err != nil {
		slog.Debug("output schema not compilable, skipping validation", "error", err)
		return true
	}

	value, err := jsv.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return false
	}
	return compiled.Validate(value) == nil
}

// Postprocess applies Extract and Conforms in one step for run results.
// It returns the payload to attach, or nil when none should be.
func Postprocess(text string, schema any) json.RawMessage {
	if schema == nil {
		return nil
	}
	doc, ok := Extract(text)
	if !ok {
		return nil
	}
	if !Conforms(doc, schema) {
		return nil
	}
	return doc
}
