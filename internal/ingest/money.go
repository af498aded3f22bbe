package ingest

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseCurrency converts an upstream price string in Brazilian formatting
// ("R$ 10.234,56") to its numeric value. An empty string parses to zero.
func ParseCurrency(raw string) (float64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	s = strings.TrimPrefix(s, "R$")
	s = strings.TrimSpace(s)
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	value, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("ingest: invalid currency value %q", raw)
	}
	return value, nil
}
