package phone

import (
	"errors"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"local 07", "0712345678", "254712345678"},
		{"local 01", "0112345678", "254112345678"},
		{"wire", "254712345678", "254712345678"},
		{"wire 1", "254112345678", "254112345678"},
		{"plus", "+254712345678", "254712345678"},
		{"spaces", "0712 345 678", "254712345678"},
		{"dashes", "+254-712-345-678", "254712345678"},
		{"padded", "  0712345678 ", "254712345678"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.in)
			if err != nil {
				t.Fatalf("Normalize(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_Invalid(t *testing.T) {
	bad := []string{
		"",
		"254212345678",   // wrong prefix after country code
		"071234567",      // too short
		"07123456789",    // too long
		"0812345678",     // not a mobile prefix
		"+0712345678",    // plus on local form
		"25471234567a",   // non-digit
		"+2547123456789", // too long
		"712345678",
	}
	for _, in := range bad {
		if _, err := Normalize(in); !errors.Is(err, ErrInvalidFormat) {
			t.Errorf("Normalize(%q) err = %v, want ErrInvalidFormat", in, err)
		}
	}
}

func TestNormalize_SameCanonicalForm(t *testing.T) {
	var first string
	for i, in := range []string{"0712345678", "+254712345678", "254712345678"} {
		got, err := Normalize(in)
		if err != nil {
			t.Fatal(err)
		}
		if i == 0 {
			first = got
			continue
		}
		if got != first {
			t.Errorf("%q normalized to %q, want %q", in, got, first)
		}
	}
}

func TestDisplay(t *testing.T) {
	if got := Display("+254712345678"); got != "0712345678" {
		t.Errorf("Display = %q", got)
	}
	if got := Display("garbage"); got != "garbage" {
		t.Errorf("Display passthrough = %q", got)
	}
	if !Valid("0112345678") || Valid("0812345678") {
		t.Error("Valid mismatch")
	}
}
