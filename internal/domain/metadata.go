package domain

import (
	"regexp"
	"strconv"
	"strings"
)

// Recognized metadata keys, as they appear in recordings.
const (
	KeySubjectID     = "SubjectID"
	KeyAge           = "Age"
	KeyGender        = "Gender"
	KeyDrug          = "Drug"
	KeyPHQ9          = "PHQ-9"
	KeyTime          = "Time"
	KeySignalQuality = "signal_quality_score"
)

// RecognizedKeys lists every key the extractor keeps, in header order.
var RecognizedKeys = []string{
	KeySubjectID,
	KeyAge,
	KeyGender,
	KeyDrug,
	KeyPHQ9,
	KeyTime,
	KeySignalQuality,
}

// IsRecognizedKey reports whether key is one of RecognizedKeys.
func IsRecognizedKey(key string) bool {
	for _, k := range RecognizedKeys {
		if k == key {
			return true
		}
	}
	return false
}

// SessionMetadata holds raw values for recognized keys. Absent keys are
// never defaulted.
type SessionMetadata map[string]string

// Get returns the raw value for key.
func (m SessionMetadata) Get(key string) (string, bool) {
	if m == nil {
		return "", false
	}
	v, ok := m[key]
	return v, ok
}

// Has reports whether key is present with a non-empty value.
func (m SessionMetadata) Has(key string) bool {
	v, ok := m.Get(key)
	return ok && v != ""
}

// SubjectID returns the subject identifier or "".
func (m SessionMetadata) SubjectID() string {
	v, _ := m.Get(KeySubjectID)
	return v
}

// Clone returns an independent copy.
func (m SessionMetadata) Clone() SessionMetadata {
	if m == nil {
		return nil
	}
	out := make(SessionMetadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var (
	leadingInt   = regexp.MustCompile(`^\s*[+-]?\d+`)
	leadingFloat = regexp.MustCompile(`^\s*[+-]?(\d+\.?\d*|\.\d+)([eE][+-]?\d+)?`)
)

// Int parses the leading integer of the value, so "34 years" yields 34.
func (m SessionMetadata) Int(key string) (int, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	match := leadingInt.FindString(v)
	if match == "" {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(match))
	if err != nil {
		return 0, false
	}
	return n, true
}

// Float parses the leading decimal number of the value.
func (m SessionMetadata) Float(key string) (float64, bool) {
	v, ok := m.Get(key)
	if !ok {
		return 0, false
	}
	match := leadingFloat.FindString(v)
	if match == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(match), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
