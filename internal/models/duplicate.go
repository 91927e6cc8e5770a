package models

import (
	"fmt"
	"strconv"
	"strings"
)

// DuplicateKey is the exact-match tuple shared by two recordings of one fueling event.
// An empty RecordType matches any type.
type DuplicateKey struct {
	VehicleCode  string         `json:"vehicle_code"`
	RecordDate   string         `json:"record_date"`
	FuelQuantity float64        `json:"fuel_quantity"`
	RecordType   FuelRecordType `json:"record_type,omitempty"`
}

// DuplicateCandidate is a fuel record about to be inserted.
type DuplicateCandidate struct {
	DuplicateKey
	RecordTime string `json:"record_time,omitempty"`
}

// MinutesOfDay parses "HH:MM" or "HH:MM:SS" into minutes since midnight.
// Seconds are ignored.
func MinutesOfDay(s string) (int, bool) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

// CanonicalClock zero-pads "H:MM" or "H:MM:SS" so clock strings sort in time
// order. Seconds are kept when present.
func CanonicalClock(s string) (string, bool) {
	m, ok := MinutesOfDay(s)
	if !ok {
		return "", false
	}
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) == 3 {
		sec, err := strconv.Atoi(parts[2])
		if err != nil || sec < 0 || sec > 59 {
			return "", false
		}
		return fmt.Sprintf("%02d:%02d:%02d", m/60, m%60, sec), true
	}
	return fmt.Sprintf("%02d:%02d", m/60, m%60), true
}

// ClockFields lists the payload keys holding a time of day, per record type.
var ClockFields = map[RecordType]string{
	RecordTypeFuel:         "record_time",
	RecordTypeMeterReading: "reading_time",
}

// NormalizeClock rewrites the time-of-day field of payload in canonical form.
// Empty or absent values are left alone.
func NormalizeClock(t RecordType, payload map[string]interface{}) error {
	key, ok := ClockFields[t]
	if !ok {
		return nil
	}
	raw, ok := payload[key].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return nil
	}
	canonical, ok := CanonicalClock(raw)
	if !ok {
		return fmt.Errorf("%w: %s %q is not HH:MM", ErrInvalidPayload, key, raw)
	}
	payload[key] = canonical
	return nil
}
