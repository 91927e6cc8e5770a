package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

// RecordType tags the payload carried by a QueuedRecord.
type RecordType string

const (
	RecordTypeFuel         RecordType = "fuel_record"
	RecordTypeMeterReading RecordType = "meter_reading"
	RecordTypeServiceOrder RecordType = "service_order"
)

var (
	ErrInvalidRecordType = errors.New("invalid record type")
	ErrPayloadMismatch   = errors.New("payload does not match record type")
)

// IsValid reports whether t is one of the known record types.
func (t RecordType) IsValid() bool {
	switch t {
	case RecordTypeFuel, RecordTypeMeterReading, RecordTypeServiceOrder:
		return true
	default:
		return false
	}
}

// QueuedRecord is a field capture held on the device until the remote store accepts it.
// Forced fuel captures were confirmed by the operator and skip the duplicate check on drain.
type QueuedRecord struct {
	ID              string         `gorm:"primaryKey;size:64" json:"id"`
	Type            RecordType     `gorm:"size:32;not null" json:"type"`
	UserID          string         `gorm:"size:64;index;not null" json:"user_id"`
	Payload         datatypes.JSON `json:"payload"`
	SyncAttempts    int            `gorm:"not null;default:0" json:"sync_attempts"`
	Forced          bool           `gorm:"not null;default:false" json:"forced,omitempty"`
	LastSyncAttempt *time.Time     `json:"last_sync_attempt,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// TableName returns the table name for QueuedRecord.
func (QueuedRecord) TableName() string {
	return "offline_records"
}

// NewQueuedRecord builds a queued record from a typed payload.
func NewQueuedRecord(id string, t RecordType, userID string, payload interface{}) (QueuedRecord, error) {
	if !t.IsValid() {
		return QueuedRecord{}, fmt.Errorf("%w: %q", ErrInvalidRecordType, t)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return QueuedRecord{}, fmt.Errorf("failed to encode payload: %w", err)
	}
	return QueuedRecord{ID: id, Type: t, UserID: userID, Payload: datatypes.JSON(data)}, nil
}

// DecodeFuel decodes the payload of a fuel_record.
func (q *QueuedRecord) DecodeFuel() (*FuelRecord, error) {
	if q.Type != RecordTypeFuel {
		return nil, fmt.Errorf("%w: %s is not %s", ErrPayloadMismatch, q.Type, RecordTypeFuel)
	}
	var rec FuelRecord
	if err := json.Unmarshal(q.Payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode fuel payload: %w", err)
	}
	return &rec, nil
}

// DecodeMeterReading decodes the payload of a meter_reading.
func (q *QueuedRecord) DecodeMeterReading() (*MeterReading, error) {
	if q.Type != RecordTypeMeterReading {
		return nil, fmt.Errorf("%w: %s is not %s", ErrPayloadMismatch, q.Type, RecordTypeMeterReading)
	}
	var rec MeterReading
	if err := json.Unmarshal(q.Payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode meter reading payload: %w", err)
	}
	return &rec, nil
}

// DecodeServiceOrder decodes the payload of a service_order.
func (q *QueuedRecord) DecodeServiceOrder() (*ServiceOrder, error) {
	if q.Type != RecordTypeServiceOrder {
		return nil, fmt.Errorf("%w: %s is not %s", ErrPayloadMismatch, q.Type, RecordTypeServiceOrder)
	}
	var rec ServiceOrder
	if err := json.Unmarshal(q.Payload, &rec); err != nil {
		return nil, fmt.Errorf("failed to decode service order payload: %w", err)
	}
	return &rec, nil
}

// ErrInvalidPayload marks a capture missing a required field.
var ErrInvalidPayload = errors.New("invalid payload")

// Validate checks the fields a capture needs before it may be queued.
func (q *QueuedRecord) Validate() error {
	switch q.Type {
	case RecordTypeFuel:
		rec, err := q.DecodeFuel()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := requireVehicleAndDate(rec.VehicleCode, rec.RecordDate, "record_date"); err != nil {
			return err
		}
		if rec.FuelQuantity == nil {
			return fmt.Errorf("%w: fuel_quantity is required", ErrInvalidPayload)
		}
		if rec.RecordType != FuelDispensed && rec.RecordType != FuelReceived {
			return fmt.Errorf("%w: record_type must be %s or %s", ErrInvalidPayload, FuelDispensed, FuelReceived)
		}
		if rec.RecordTime != "" {
			if _, ok := MinutesOfDay(rec.RecordTime); !ok {
				return fmt.Errorf("%w: record_time %q is not HH:MM", ErrInvalidPayload, rec.RecordTime)
			}
		}
	case RecordTypeMeterReading:
		rec, err := q.DecodeMeterReading()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if err := requireVehicleAndDate(rec.VehicleCode, rec.ReadingDate, "reading_date"); err != nil {
			return err
		}
		if rec.ReadingTime != "" {
			if _, ok := MinutesOfDay(rec.ReadingTime); !ok {
				return fmt.Errorf("%w: reading_time %q is not HH:MM", ErrInvalidPayload, rec.ReadingTime)
			}
		}
	case RecordTypeServiceOrder:
		rec, err := q.DecodeServiceOrder()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		return requireVehicleAndDate(rec.VehicleCode, rec.OrderDate, "order_date")
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRecordType, q.Type)
	}
	return nil
}

func requireVehicleAndDate(vehicleCode, date, dateField string) error {
	if strings.TrimSpace(vehicleCode) == "" {
		return fmt.Errorf("%w: vehicle_code is required", ErrInvalidPayload)
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return fmt.Errorf("%w: %s must be YYYY-MM-DD", ErrInvalidPayload, dateField)
	}
	return nil
}
