package credential

import (
	"encoding/base64"
	"errors"
	"fmt"
	"unicode/utf8"
)

var errNotUTF8 = errors.New("decoded value is not valid UTF-8")

// DecodeError reports a secret field whose value is not base64-encoded UTF-8 text.
// The API server guarantees base64 for secret data, so this is never recoverable.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode secret field %q: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decode converts the base64 values of a secret's data map into strings
func Decode(data map[string]string) (RawRecord, error) {
	fields := make(RawRecord, len(data))
	for name, encoded := range data {
		value, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, &DecodeError{Field: name, Err: err}
		}
		if !utf8.Valid(value) {
			return nil, &DecodeError{Field: name, Err: errNotUTF8}
		}
		fields[name] = string(value)
	}
	return fields, nil
}
