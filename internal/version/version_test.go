// ABOUTME: Tests for version constants
// ABOUTME: Ensures version information is defined and printable
package version

import (
	"strings"
	"testing"
)

func TestConstantsDefined(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"Version", Version},
		{"Product", Product},
		{"Manufacturer", Manufacturer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.value == "" {
				t.Fatalf("%s should not be empty", tt.name)
			}
			if len(tt.value) > 100 {
				t.Errorf("%s is unreasonably long", tt.name)
			}
			if strings.TrimSpace(tt.value) != tt.value {
				t.Errorf("%s has surrounding whitespace: %q", tt.name, tt.value)
			}
		})
	}
}

func TestVersionIsSemver(t *testing.T) {
	parts := strings.Split(Version, ".")
	if len(parts) != 3 {
		t.Fatalf("Version %q is not major.minor.patch", Version)
	}
	for _, p := range parts {
		if p == "" || strings.Trim(p, "0123456789") != "" {
			t.Errorf("Version %q has non-numeric part %q", Version, p)
		}
	}
}

func TestString(t *testing.T) {
	if got, want := String(), Product+" "+Version; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
