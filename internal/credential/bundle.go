package credential

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// BundleSuffix marks the single data field of a secret that carries a JSON bundle
const BundleSuffix = ".json"

// Candidate is one record pulled out of a secret, not validated yet
type Candidate struct {
	// Entry is the bundle entry name, empty for inline records
	Entry  string
	Fields RawRecord
}

// Defect is a part of a secret that could not become a candidate
type Defect struct {
	Entry  string
	Reason string
}

// Expansion is the result of expanding one decoded secret
type Expansion struct {
	// Bundle is set when the secret was recognised as a JSON bundle
	Bundle     bool
	Candidates []Candidate
	Defects    []Defect
}

// BundleField returns the name of the bundle field when fields holds
// exactly one field ending in BundleSuffix
func BundleField(fields RawRecord) (string, bool) {
	if len(fields) != 1 {
		return "", false
	}
	for name := range fields {
		if strings.HasSuffix(name, BundleSuffix) {
			return name, true
		}
	}
	return "", false
}

// Expand turns a decoded secret into zero or more candidates.
// A secret that is not a bundle is returned as a single inline candidate.
func Expand(fields RawRecord) Expansion {
	name, ok := BundleField(fields)
	if !ok {
		return Expansion{Candidates: []Candidate{{Fields: fields}}}
	}

	exp := Expansion{Bundle: true}

	var doc any
	if err := json.Unmarshal([]byte(fields[name]), &doc); err != nil {
		exp.Defects = append(exp.Defects, Defect{Entry: name, Reason: fmt.Sprintf("bundle is not valid JSON: %v", err)})
		return exp
	}

	obj, ok := doc.(map[string]any)
	if !ok {
		exp.Defects = append(exp.Defects, Defect{Entry: name, Reason: fmt.Sprintf("bundle is a JSON %s, not an object", jsonKind(doc))})
		return exp
	}

	if hasRecordKeys(obj) {
		raw, err := toRawRecord(obj)
		if err != nil {
			exp.Defects = append(exp.Defects, Defect{Entry: name, Reason: err.Error()})
			return exp
		}
		exp.Candidates = append(exp.Candidates, Candidate{Fields: raw})
		return exp
	}

	entries := make([]string, 0, len(obj))
	for entry := range obj {
		entries = append(entries, entry)
	}
	sort.Strings(entries)

	for _, entry := range entries {
		value, ok := obj[entry].(map[string]any)
		if !ok {
			exp.Defects = append(exp.Defects, Defect{Entry: entry, Reason: fmt.Sprintf("entry is a JSON %s, not an object", jsonKind(obj[entry]))})
			continue
		}
		raw, err := toRawRecord(value)
		if err != nil {
			exp.Defects = append(exp.Defects, Defect{Entry: entry, Reason: err.Error()})
			continue
		}
		exp.Candidates = append(exp.Candidates, Candidate{Entry: entry, Fields: raw})
	}

	return exp
}

func hasRecordKeys(obj map[string]any) bool {
	for _, key := range []string{KeyUsername, KeyPassword, KeySubdomain} {
		if _, ok := obj[key]; !ok {
			return false
		}
	}
	return true
}

// toRawRecord keeps string members; the three record keys must be strings
// when present, anything else that is not a string is ignored.
func toRawRecord(obj map[string]any) (RawRecord, error) {
	raw := make(RawRecord, len(obj))
	for key, value := range obj {
		s, ok := value.(string)
		if !ok {
			switch key {
			case KeyUsername, KeyPassword, KeySubdomain:
				return nil, fmt.Errorf("field %q is a JSON %s, not a string", key, jsonKind(value))
			}
			continue
		}
		raw[key] = s
	}
	return raw, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
