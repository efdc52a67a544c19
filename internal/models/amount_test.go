package models

import (
	"math/big"
	"testing"
)

func mustParse(t *testing.T, s string) *big.Int {
	t.Helper()
	n, err := ParseTON(s)
	if err != nil {
		t.Fatalf("ParseTON(%q): %v", s, err)
	}
	return n
}

func TestParseTON(t *testing.T) {
	tests := []struct {
		in       string
		wantNano string
		wantErr  bool
	}{
		{"1", "1000000000", false},
		{"0", "0", false},
		{"5.5", "5500000000", false},
		{"107.5", "107500000000", false},
		{"0.000000001", "1", false},
		{" 2.25 ", "2250000000", false},
		{"0.1234567891", "123456789", false}, // sub-nano digits truncated
		{"", "", true},
		{"-1", "", true},
		{"1.2.3", "", true},
		{"abc", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTON(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTON(%q): expected error, got %s", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTON(%q): %v", tt.in, err)
			}
			if got.String() != tt.wantNano {
				t.Errorf("ParseTON(%q) = %s, want %s", tt.in, got, tt.wantNano)
			}
		})
	}
}

func TestFormatTON(t *testing.T) {
	tests := []struct {
		nano string
		want string
	}{
		{"1000000000", "1"},
		{"107500000000", "107.5"},
		{"1", "0.000000001"},
		{"0", "0"},
		{"92500000000", "92.5"},
	}

	for _, tt := range tests {
		n, _ := new(big.Int).SetString(tt.nano, 10)
		if got := FormatTON(n); got != tt.want {
			t.Errorf("FormatTON(%s) = %q, want %q", tt.nano, got, tt.want)
		}
	}
}

func TestParseFormatRoundTrip(t *testing.T) {
	for _, s := range []string{"1", "0.5", "115", "107.5", "0.000000001", "9999.999999999"} {
		n := mustParse(t, s)
		if got := FormatTON(n); got != s {
			t.Errorf("round trip %q -> %q", s, got)
		}
	}
}
