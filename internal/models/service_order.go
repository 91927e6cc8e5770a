package models

import (
	"go.mongodb.org/mongo-driver/bson/primitive"
	"time"
)

// ServiceOrder represents a maintenance work order opened from the field.
type ServiceOrder struct {
	ID            primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ClientID      string             `json:"client_id,omitempty" bson:"client_id,omitempty"`
	OrderNumber   string             `json:"order_number" bson:"order_number"`
	VehicleCode   string             `json:"vehicle_code" bson:"vehicle_code"`
	OrderDate     string             `json:"order_date" bson:"order_date"`
	ServiceType   string             `json:"service_type" bson:"service_type"` // "preventive", "corrective", "inspection"
	Description   string             `json:"description" bson:"description"`
	Mechanic      string             `json:"mechanic" bson:"mechanic"`
	Status        string             `json:"status" bson:"status"`     // "open", "in_progress", "completed", "cancelled"
	Priority      string             `json:"priority" bson:"priority"` // "low", "medium", "high", "critical"
	Horimeter     *float64           `json:"horimeter" bson:"horimeter"`
	Km            *float64           `json:"km" bson:"km"`
	EstimatedCost *float64           `json:"estimated_cost" bson:"estimated_cost"`
	CreatedBy     string             `json:"created_by" bson:"created_by"`
	CreatedAt     time.Time          `json:"created_at" bson:"created_at"`
}

// ServiceOrderNumericFields lists payload keys that field devices may send as locale strings.
var ServiceOrderNumericFields = []string{"horimeter", "km", "estimated_cost"}

// NumericFields returns the locale-parsed payload keys for a record type.
func NumericFields(t RecordType) []string {
	switch t {
	case RecordTypeFuel:
		return FuelNumericFields
	case RecordTypeMeterReading:
		return MeterNumericFields
	case RecordTypeServiceOrder:
		return ServiceOrderNumericFields
	default:
		return nil
	}
}
