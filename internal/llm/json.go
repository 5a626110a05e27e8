package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSONObject is returned when a completion contains no JSON object
var ErrNoJSONObject = errors.New("response contains no JSON object")

var codeFencePattern = regexp.MustCompile("(?s)^\\s*```(?:[A-Za-z0-9_-]*[ \\t]*\n)?(.*?)\\s*```\\s*$")

// StripCodeFences removes a surrounding markdown code fence, if any
func StripCodeFences(text string) string {
	if m := codeFencePattern.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}

	return strings.TrimSpace(text)
}

// Object is a decoded JSON object whose fields are checked on access
type Object map[string]json.RawMessage

// DecodeObject extracts the first JSON object from a completion and checks
// that every required key is present and non-null
func DecodeObject(text string, required ...string) (Object, error) {
	body := StripCodeFences(text)

	start := strings.IndexByte(body, '{')
	if start < 0 {
		return nil, ErrNoJSONObject
	}

	var obj Object

	dec := json.NewDecoder(strings.NewReader(body[start:]))
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("malformed JSON response: %w", err)
	}

	var missing []string

	for _, key := range required {
		if !obj.Has(key) {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("response is missing required fields: %s", strings.Join(missing, ", "))
	}

	return obj, nil
}

// Has reports whether key is present with a non-null value
func (o Object) Has(key string) bool {
	raw, ok := o[key]
	return ok && strings.TrimSpace(string(raw)) != "null"
}

// String returns a string field
func (o Object) String(key string) (string, error) {
	var s string
	if err := o.decode(key, &s, "a string"); err != nil {
		return "", err
	}

	return s, nil
}

// Bool returns a boolean field
func (o Object) Bool(key string) (bool, error) {
	var b bool
	if err := o.decode(key, &b, "a boolean"); err != nil {
		return false, err
	}

	return b, nil
}

// Strings returns an optional string array field; a missing or null field is an empty list
func (o Object) Strings(key string) ([]string, error) {
	if !o.Has(key) {
		return nil, nil
	}

	var out []string
	if err := o.decode(key, &out, "an array of strings"); err != nil {
		return nil, err
	}

	return out, nil
}

func (o Object) decode(key string, dst interface{}, want string) error {
	raw, ok := o[key]
	if !ok {
		return fmt.Errorf("field %q is missing", key)
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("field %q must be %s", key, want)
	}

	return nil
}
