// Package numparse turns locale-formatted numeric strings typed on field devices
// into float64 values.
//
// Decision table (sign optional, surrounding whitespace ignored):
//
//	separators present     example        rule                                         result
//	none                   "1500"         plain integer                                1500
//	',' once               "12,5"         comma is decimal                             12.5
//	',' many               "1,234,567"    grouping when every group after the first    1234567
//	                                      has 3 digits, otherwise invalid
//	'.' once, 3 decimals   "1.500"        grouping when the integer part is 1-3        1500
//	                                      digits and not "0"
//	'.' once, otherwise    "12.5" "0.500" dot is decimal                               12.5 0.5
//	'.' many               "1.234.567"    grouping when groups are valid               1234567
//	                       "1.2.3"        otherwise ErrAmbiguousNumber
//	both                   "1.234,56"     the last separator is decimal, the other     1234.56
//	                       "1,234.56"     one must form valid 3-digit groups           1234.56
package numparse

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrEmptyNumber     = errors.New("empty number")
	ErrInvalidNumber   = errors.New("invalid number")
	ErrAmbiguousNumber = errors.New("ambiguous number")
)

// Parse parses a locale-formatted number following the package decision table.
func Parse(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmptyNumber
	}

	sign := ""
	if s[0] == '-' || s[0] == '+' {
		if s[0] == '-' {
			sign = "-"
		}
		s = s[1:]
	}
	if s == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' && r != ',' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
	}

	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")

	var intPart, fracPart string
	switch {
	case dots == 0 && commas == 0:
		intPart = s
	case dots > 0 && commas > 0:
		dec, group := ",", "."
		if strings.LastIndex(s, ".") > strings.LastIndex(s, ",") {
			dec, group = ".", ","
		}
		if strings.Count(s, dec) != 1 {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
		i := strings.LastIndex(s, dec)
		whole, ok := ungroup(s[:i], group)
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
		intPart, fracPart = whole, s[i+1:]
	case commas == 1:
		i := strings.Index(s, ",")
		intPart, fracPart = s[:i], s[i+1:]
	case commas > 1:
		whole, ok := ungroup(s, ",")
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
		}
		intPart = whole
	case dots == 1:
		i := strings.Index(s, ".")
		head, tail := s[:i], s[i+1:]
		if len(tail) == 3 && len(head) >= 1 && len(head) <= 3 && head != "0" && !strings.HasPrefix(head, "0") {
			intPart = head + tail
		} else {
			intPart, fracPart = head, tail
		}
	default:
		whole, ok := ungroup(s, ".")
		if !ok {
			return 0, fmt.Errorf("%w: %q", ErrAmbiguousNumber, s)
		}
		intPart = whole
	}

	if intPart == "" && fracPart == "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	if intPart == "" {
		intPart = "0"
	}
	norm := sign + intPart
	if fracPart != "" {
		norm += "." + fracPart
	}
	v, err := strconv.ParseFloat(norm, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidNumber, s)
	}
	return v, nil
}

// ungroup strips a grouping separator when s is a well-formed grouped integer.
func ungroup(s, sep string) (string, bool) {
	groups := strings.Split(s, sep)
	if len(groups[0]) < 1 || len(groups[0]) > 3 {
		return "", false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

// NormalizePayload rewrites the listed keys of a decoded JSON object so that string
// values become numbers. Empty strings become null; numbers and nulls are kept.
func NormalizePayload(payload map[string]interface{}, keys []string) error {
	for _, key := range keys {
		raw, ok := payload[key]
		if !ok || raw == nil {
			continue
		}
		switch v := raw.(type) {
		case float64:
		case json.Number:
			f, err := v.Float64()
			if err != nil {
				return fmt.Errorf("%s: %w: %q", key, ErrInvalidNumber, v.String())
			}
			payload[key] = f
		case string:
			f, err := Parse(v)
			if errors.Is(err, ErrEmptyNumber) {
				payload[key] = nil
				continue
			}
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			payload[key] = f
		default:
			return fmt.Errorf("%s: %w: unexpected %T", key, ErrInvalidNumber, raw)
		}
	}
	return nil
}
