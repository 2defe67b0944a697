package prompt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a reply contains no well-formed JSON value.
var ErrNoJSON = errors.New("no JSON value in model output")

// ExtractJSON returns the first well-formed JSON object or array in s.
// Surrounding prose and markdown fences are ignored.
func ExtractJSON(s string) (json.RawMessage, error) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		var raw json.RawMessage
		dec := json.NewDecoder(strings.NewReader(s[i:]))
		if err := dec.Decode(&raw); err == nil {
			return raw, nil
		}
	}
	return nil, ErrNoJSON
}

// DecodeJSON extracts the first JSON value from s into dst.
func DecodeJSON(s string, dst any) error {
	raw, err := ExtractJSON(s)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode model output: %w", err)
	}
	return nil
}

// IsArray reports whether raw holds a JSON array.
func IsArray(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '['
}
