package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"tinytown.ai/internal/registry"
)

// Validator error codes. Parse failures get a longer retry backoff than
// validation failures, so the two families stay distinguishable.
const (
	ECodeParse        = "E_PARSE"
	ECodeMissingField = "E_MISSING_FIELD"
	ECodeEmptyAction  = "E_EMPTY_ACTION"
	ECodeEmptyContent = "E_EMPTY_CONTENT"
)

// ParseError marks a response that was not valid JSON at all.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return ECodeParse + ": " + e.Err.Error() }
func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err came from JSON decoding rather than from
// semantic validation.
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// MissingFieldError marks a structurally valid response lacking a required field.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s: %s", ECodeMissingField, e.Field)
}

var (
	ErrEmptyAction  = errors.New(ECodeEmptyAction + ": action must not be blank")
	ErrEmptyContent = errors.New(ECodeEmptyContent + ": dialogue content must not be blank")
)

// Plan is a validated planning response. TargetLocation has been resolved to
// a localized location name; Emoji is a single rune.
type Plan struct {
	Action         string
	TargetLocation string
	Dialogue       string
	Emoji          string
	Duration       int
}

var planRequiredFields = []string{"action", "target_location", "dialogue", "emoji", "duration"}

// ValidatePlanning decodes and validates a raw planning response. Location
// ids that cannot be resolved fall back to the literal value with a warning;
// unknown act_-shaped actions warn but pass through.
func ValidatePlanning(raw string, reg *registry.Registry, logger *log.Logger) (Plan, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Plan{}, &ParseError{Err: err}
	}
	for _, field := range planRequiredFields {
		if _, ok := doc[field]; !ok {
			return Plan{}, &MissingFieldError{Field: field}
		}
	}

	p := Plan{
		Action:         decodeString(doc["action"]),
		TargetLocation: decodeString(doc["target_location"]),
		Dialogue:       decodeString(doc["dialogue"]),
		Emoji:          decodeString(doc["emoji"]),
		Duration:       decodeInt(doc["duration"], 120),
	}

	p.Action = strings.TrimSpace(p.Action)
	if p.Action == "" {
		return Plan{}, ErrEmptyAction
	}
	if strings.HasPrefix(p.Action, "act_") && reg.Actions.NameFromID(p.Action) == "" {
		logger.Printf("unknown action id %q, passing through", p.Action)
	}

	target := strings.TrimSpace(p.TargetLocation)
	if strings.HasPrefix(target, "loc_") {
		if name := reg.Locations.NameFromID(target); name != "" {
			target = name
		} else {
			logger.Printf("unresolvable location id %q, using literally", target)
		}
	}
	p.TargetLocation = target

	p.Emoji = firstRune(p.Emoji, "👤")
	return p, nil
}

// ValidateDialogue decodes a dialogue response and returns the normalized
// content with stray canonical ids rewritten to display names.
func ValidateDialogue(raw string, reg *registry.Registry) (string, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", &ParseError{Err: err}
	}
	field, ok := doc["content"]
	if !ok {
		return "", &MissingFieldError{Field: "content"}
	}
	content := strings.TrimSpace(decodeString(field))
	if content == "" {
		return "", ErrEmptyContent
	}
	return reg.NormalizeText(content), nil
}

func decodeString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.Trim(string(raw), `"`)
}

// decodeInt accepts numbers, float-shaped numbers, and numeric strings.
func decodeInt(raw json.RawMessage, fallback int) int {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return int(f)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return fallback
}

func firstRune(s, fallback string) string {
	for _, r := range s {
		return string(r)
	}
	return fallback
}
