package credential

import (
	"errors"
	"strings"
	"testing"
)

const (
	testUsername = "c36f50e8-4632-44f0-83fe-e070fef28a10"
	testPassword = "htB9mR9DYgcu9bX_afHF62erXaH2TS7bg9KW3F7Z"
)

func validRaw() RawRecord {
	return RawRecord{
		KeyUsername:  testUsername,
		KeyPassword:  testPassword,
		KeySubdomain: "8e5700ea-a4bf-41c7-8a77-e990661dcc6a",
	}
}

func TestValidate(t *testing.T) {
	rec, err := Validate(validRaw())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if rec.Username.String() != testUsername {
		t.Errorf("Username = %s, want %s", rec.Username, testUsername)
	}
	if rec.Password != testPassword {
		t.Errorf("Password = %s, want %s", rec.Password, testPassword)
	}
	if rec.Subdomain != "8e5700ea-a4bf-41c7-8a77-e990661dcc6a" {
		t.Errorf("Subdomain = %s", rec.Subdomain)
	}
}

func TestValidatePasswordLength(t *testing.T) {
	tests := []struct {
		length  int
		wantErr bool
	}{
		{39, true},
		{40, false},
		{41, true},
		{0, true},
	}

	for _, tt := range tests {
		raw := validRaw()
		raw[KeyPassword] = strings.Repeat("a", tt.length)

		_, err := Validate(raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("Validate() with %d character password: error = %v, wantErr %v", tt.length, err, tt.wantErr)
		}
	}
}

func TestValidatePasswordAlphabet(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"all classes", "abcXYZ0123456789-_abcdefghijklmnopqrstuv", false},
		{"dot", "abcdefghijklmnopqrstuvwxyz0123456789abc.", true},
		{"plus", "abcdefghijklmnopqrstuvwxyz0123456789abc+", true},
		{"trailing newline", "abcdefghijklmnopqrstuvwxyz0123456789abcd\n", true},
		{"space", "abcdefghijklmnopqrstuvwxyz 123456789abcd", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			raw[KeyPassword] = tt.password
			_, err := Validate(raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSubdomain(t *testing.T) {
	tests := []struct {
		subdomain string
		wantErr   bool
	}{
		{"a", false},
		{"abc", false},
		{"a-b", false},
		{"a--b", false},
		{"0", false},
		{"8e5700ea-a4bf-41c7-8a77-e990661dcc6a", false},
		{"-abc", true},
		{"abc-", true},
		{"-", true},
		{"ABC", true},
		{"Abc", true},
		{"a.b", true},
		{"a_b", true},
		{"", true},
		{"abc\n", true},
	}

	for _, tt := range tests {
		t.Run(tt.subdomain, func(t *testing.T) {
			raw := validRaw()
			raw[KeySubdomain] = tt.subdomain
			_, err := Validate(raw)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(subdomain=%q) error = %v, wantErr %v", tt.subdomain, err, tt.wantErr)
			}
		})
	}
}

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		username string
		want     string
		wantErr  bool
	}{
		{testUsername, testUsername, false},
		{strings.ToUpper(testUsername), testUsername, false},
		{"{" + testUsername + "}", testUsername, false},
		{"urn:uuid:" + testUsername, testUsername, false},
		{strings.ReplaceAll(testUsername, "-", ""), testUsername, false},
		{"00000000-0000-0000-0000-000000000000", "00000000-0000-0000-0000-000000000000", false},
		{"not-a-uuid", "", true},
		{"", "", true},
		{testUsername + "0", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.username, func(t *testing.T) {
			raw := validRaw()
			raw[KeyUsername] = tt.username
			rec, err := Validate(raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate(username=%q) error = %v, wantErr %v", tt.username, err, tt.wantErr)
			}
			if err == nil && rec.Username.String() != tt.want {
				t.Errorf("Username = %s, want %s", rec.Username, tt.want)
			}
		})
	}
}

func TestValidateOrder(t *testing.T) {
	// Every field is wrong; the first check in order must be reported.
	raw := RawRecord{
		KeyUsername:  "nope",
		KeyPassword:  "short",
		KeySubdomain: "UPPER",
	}
	_, err := Validate(raw)

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Validate() error = %v, want *ValidationError", err)
	}
	if !strings.Contains(verr.Reason, "username") {
		t.Errorf("Reason = %q, want username failure first", verr.Reason)
	}
}

func TestValidateMissingField(t *testing.T) {
	for _, key := range []string{KeyUsername, KeyPassword, KeySubdomain} {
		t.Run(key, func(t *testing.T) {
			raw := validRaw()
			delete(raw, key)

			_, err := Validate(raw)
			if err == nil {
				t.Fatal("Validate() error = nil, want missing field error")
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("error = %q, want it to name %q", err, key)
			}
		})
	}

	if _, err := Validate(nil); err == nil {
		t.Error("Validate(nil) error = nil, want missing field error")
	}
}

func TestRecordLogValueHidesPassword(t *testing.T) {
	rec, err := Validate(validRaw())
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if strings.Contains(rec.LogValue().String(), testPassword) {
		t.Error("LogValue() leaks the password")
	}
}
