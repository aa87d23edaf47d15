package auth

import (
	"errors"
	"testing"
)

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{"valid", "Bearer abc.def.ghi", "abc.def.ghi", nil},
		{"lowercase scheme", "bearer abc", "abc", nil},
		{"surrounding space", "  Bearer abc  ", "abc", nil},
		{"empty", "", "", ErrMissingToken},
		{"blank", "   ", "", ErrMissingToken},
		{"no scheme", "abc.def.ghi", "", ErrMalformedToken},
		{"basic scheme", "Basic dXNlcjpwYXNz", "", ErrMalformedToken},
		{"scheme only", "Bearer", "", ErrMalformedToken},
		{"scheme and space", "Bearer    ", "", ErrMalformedToken},
		{"extra part", "Bearer abc def", "", ErrMalformedToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BearerToken(tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("BearerToken(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("BearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}
