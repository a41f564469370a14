package decision

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"futures_agent/internal/domain"
)

// ResponseKind selects how a raw model answer is parsed.
type ResponseKind string

const (
	KindStr  ResponseKind = "STR"
	KindJSON ResponseKind = "JSON"
	KindBool ResponseKind = "BOOL"
)

var responseParsers = map[ResponseKind]func(string) (any, error){
	KindStr:  parseStrResponse,
	KindJSON: parseJSONResponse,
	KindBool: parseBoolResponse,
}

// ParseResponse dispatches raw to the parser for kind. Unknown kinds and
// malformed payloads fail with ParseError.
func ParseResponse(kind ResponseKind, raw string) (any, error) {
	parse, ok := responseParsers[kind]
	if !ok {
		return nil, &domain.ParseError{
			Kind: string(kind),
			Raw:  raw,
			Err:  fmt.Errorf("unknown response kind"),
		}
	}
	return parse(raw)
}

func parseStrResponse(raw string) (any, error) {
	return strings.TrimSpace(raw), nil
}

var jsonObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// parseJSONResponse tolerates prose around the payload by locating the
// outermost {...}; no object boundary at all is a ParseError.
func parseJSONResponse(raw string) (any, error) {
	clean := strings.TrimSpace(raw)

	var out map[string]any
	if err := json.Unmarshal([]byte(clean), &out); err == nil {
		return out, nil
	}

	match := jsonObjectRe.FindString(clean)
	if match == "" {
		return nil, &domain.ParseError{
			Kind: string(KindJSON),
			Raw:  raw,
			Err:  fmt.Errorf("no JSON object boundary found"),
		}
	}
	if err := json.Unmarshal([]byte(match), &out); err != nil {
		return nil, &domain.ParseError{Kind: string(KindJSON), Raw: raw, Err: err}
	}
	return out, nil
}

func parseBoolResponse(raw string) (any, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "true", "yes", "y", "1":
		return true, nil
	case "false", "no", "n", "0":
		return false, nil
	}
	return nil, &domain.ParseError{
		Kind: string(KindBool),
		Raw:  raw,
		Err:  fmt.Errorf("not a recognizable boolean"),
	}
}
