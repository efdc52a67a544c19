package models

import (
	"fmt"
	"math/big"
	"strings"
)

const nanoDigits = 9

// ParseTON converts a decimal TON string (e.g. "5.5") to nanoTON.
// 1 TON = 1_000_000_000 nanoTON.
func ParseTON(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty TON amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative TON amount: %s", s)
	}

	parts := strings.Split(s, ".")
	if len(parts) > 2 {
		return nil, fmt.Errorf("invalid TON amount: %s", s)
	}

	whole := parts[0]
	frac := ""
	if len(parts) == 2 {
		frac = parts[1]
	}

	if len(frac) > nanoDigits {
		frac = frac[:nanoDigits]
	}
	for len(frac) < nanoDigits {
		frac += "0"
	}

	nano, ok := new(big.Int).SetString(whole+frac, 10)
	if !ok {
		return nil, fmt.Errorf("invalid TON amount: %s", s)
	}
	return nano, nil
}

// FormatTON renders nanoTON as a decimal TON string without trailing zeros.
func FormatTON(nano *big.Int) string {
	if nano == nil {
		return "0"
	}
	neg := nano.Sign() < 0
	abs := new(big.Int).Abs(nano)

	s := abs.String()
	for len(s) <= nanoDigits {
		s = "0" + s
	}

	whole := s[:len(s)-nanoDigits]
	frac := strings.TrimRight(s[len(s)-nanoDigits:], "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}
