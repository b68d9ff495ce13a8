package chatbot

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// maxExtractDepth bounds recursion through nested wrappers.
const maxExtractDepth = 16

type (
	stringMatcher func(s string, depth int) (string, bool)
	valueMatcher  func(v gjson.Result, depth int) (string, bool)
)

// Matchers are tried in order; the first one that reports ok wins. The
// tables are filled in init because the matchers recurse back into them.
var (
	stringMatchers []stringMatcher
	objectMatchers []valueMatcher
)

func init() {
	stringMatchers = []stringMatcher{
		matchSSE,
		matchJSONString,
		matchPlain,
	}
	objectMatchers = []valueMatcher{
		partsAt("content.parts"),
		fieldAt("response"),
		fieldAt("answer"),
		stringFieldAt("message"),
		fieldAt("text"),
		partsAt("parts"),
		partsAt("candidates.0.content.parts"),
		fieldAt("data"),
		fieldAt("result"),
	}
}

// ExtractText normalizes an agent response into the text shown to the user.
// It accepts a Payload, a string, raw JSON bytes, a gjson.Result or any
// JSON-marshalable value. Parts flagged as thoughts are never returned.
// ExtractText never panics; it returns "" when no text can be found.
func ExtractText(payload any) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()

	switch p := payload.(type) {
	case nil:
		return ""
	case Payload:
		if p.IsJSON {
			return extractValue(gjson.ParseBytes(p.Raw), 0)
		}
		return extractString(string(p.Raw), 0)
	case *Payload:
		if p == nil {
			return ""
		}
		return ExtractText(*p)
	case string:
		return extractString(p, 0)
	case []byte:
		return extractString(string(p), 0)
	case json.RawMessage:
		return extractString(string(p), 0)
	case gjson.Result:
		return extractValue(p, 0)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return ""
		}
		return extractValue(gjson.ParseBytes(b), 0)
	}
}

func extractString(s string, depth int) string {
	if depth > maxExtractDepth {
		return ""
	}
	for _, match := range stringMatchers {
		if text, ok := match(s, depth); ok {
			return text
		}
	}
	return ""
}

func extractValue(v gjson.Result, depth int) string {
	if depth > maxExtractDepth {
		return ""
	}
	switch {
	case v.IsArray():
		return extractTurns(v, depth)
	case v.IsObject():
		for _, match := range objectMatchers {
			if text, ok := match(v, depth); ok {
				return text
			}
		}
		return ""
	case v.Type == gjson.String:
		return extractString(v.Str, depth+1)
	default:
		return ""
	}
}

// matchSSE handles "data: {...}" framed streams. The first non-blank
// line must be a data line, so prose that merely contains one is left alone.
func matchSSE(s string, depth int) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "data:") {
		return "", false
	}

	var b strings.Builder
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		if gjson.Valid(data) {
			b.WriteString(extractValue(gjson.Parse(data), depth+1))
		} else {
			b.WriteString(data)
		}
	}
	return strings.TrimSpace(b.String()), true
}

func matchJSONString(s string, depth int) (string, bool) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" || (trimmed[0] != '{' && trimmed[0] != '[') || !gjson.Valid(trimmed) {
		return "", false
	}
	return extractValue(gjson.Parse(trimmed), depth+1), true
}

func matchPlain(s string, _ int) (string, bool) {
	return strings.TrimSpace(s), true
}

// extractTurns returns the text of the last turn that has any, which is
// the final assistant answer when the backend returns a list of events.
func extractTurns(v gjson.Result, depth int) string {
	turns := v.Array()

	last := ""
	for _, turn := range turns {
		parts := turn.Get("content.parts")
		if !parts.IsArray() {
			continue
		}
		if text := joinParts(parts); text != "" {
			last = text
		}
	}
	if last != "" {
		return last
	}

	if len(turns) > 0 {
		return extractValue(turns[0], depth+1)
	}
	return ""
}

// joinParts concatenates the text of every non-thought part.
func joinParts(parts gjson.Result) string {
	var b strings.Builder
	parts.ForEach(func(_, part gjson.Result) bool {
		if part.Get("thought").Bool() {
			return true
		}
		if t := part.Get("text"); t.Type == gjson.String {
			b.WriteString(t.Str)
		}
		return true
	})
	return strings.TrimSpace(b.String())
}

func partsAt(path string) valueMatcher {
	return func(v gjson.Result, _ int) (string, bool) {
		parts := v.Get(path)
		if !parts.IsArray() {
			return "", false
		}
		text := joinParts(parts)
		return text, text != ""
	}
}

func fieldAt(path string) valueMatcher {
	return func(v gjson.Result, depth int) (string, bool) {
		field := v.Get(path)
		if !field.Exists() {
			return "", false
		}
		text := extractValue(field, depth+1)
		return text, text != ""
	}
}

func stringFieldAt(path string) valueMatcher {
	return func(v gjson.Result, depth int) (string, bool) {
		field := v.Get(path)
		if field.Type != gjson.String {
			return "", false
		}
		text := extractString(field.Str, depth+1)
		return text, text != ""
	}
}
