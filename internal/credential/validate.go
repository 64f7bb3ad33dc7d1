// Package credential turns Kubernetes secret payloads into validated acme-dns
// credential records
package credential

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/google/uuid"
)

// Field names carried by a credential secret or bundle entry
const (
	KeyUsername  = "username"
	KeyPassword  = "password"
	KeySubdomain = "subdomain"
)

var (
	passwordPattern  = regexp.MustCompile(`^[A-Za-z0-9_-]{40}$`)
	subdomainPattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]*[a-z0-9])?$`)
)

// RawRecord is an unvalidated set of decoded secret fields
type RawRecord map[string]string

// Record is a credential that passed Validate. Build one only through Validate.
type Record struct {
	Username  uuid.UUID
	Password  string
	Subdomain string
}

// LogValue keeps the password out of log output
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("username", r.Username.String()),
		slog.String("subdomain", r.Subdomain),
	)
}

// ValidationError explains why a candidate record was rejected
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func reject(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Validate checks a raw record and converts it into a Record.
// Checks run in order and stop at the first failure.
func Validate(raw RawRecord) (Record, error) {
	for _, key := range []string{KeyUsername, KeyPassword, KeySubdomain} {
		if _, ok := raw[key]; !ok {
			return Record{}, reject("missing required field %q", key)
		}
	}

	username, err := uuid.Parse(raw[KeyUsername])
	if err != nil {
		return Record{}, reject("username is not a valid UUID: %v", err)
	}

	password := raw[KeyPassword]
	if !passwordPattern.MatchString(password) {
		return Record{}, reject("password must be exactly 40 characters of [A-Za-z0-9_-] (got %d characters)", len(password))
	}

	subdomain := raw[KeySubdomain]
	if !subdomainPattern.MatchString(subdomain) {
		return Record{}, reject("subdomain %q is not a valid lowercase DNS label", subdomain)
	}

	return Record{
		Username:  username,
		Password:  password,
		Subdomain: subdomain,
	}, nil
}
