package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FuelRecordType distinguishes fuel leaving the tank from fuel arriving in it.
type FuelRecordType string

const (
	FuelDispensed FuelRecordType = "dispensed"
	FuelReceived  FuelRecordType = "received"
)

// FuelRecord is a fueling event persisted in the remote store.
// Numeric fields are pointers without omitempty so an explicit 0 is stored as 0
// and an absent value is stored as null.
type FuelRecord struct {
	ID                primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ClientID          string             `json:"client_id,omitempty" bson:"client_id,omitempty"`
	VehicleCode       string             `json:"vehicle_code" bson:"vehicle_code"`
	RecordDate        string             `json:"record_date" bson:"record_date"` // YYYY-MM-DD
	RecordTime        string             `json:"record_time,omitempty" bson:"record_time,omitempty"`
	RecordType        FuelRecordType     `json:"record_type" bson:"record_type"`
	FuelType          string             `json:"fuel_type" bson:"fuel_type"`
	FuelQuantity      *float64           `json:"fuel_quantity" bson:"fuel_quantity"` // liters
	HorimeterPrevious *float64           `json:"horimeter_previous" bson:"horimeter_previous"`
	HorimeterCurrent  *float64           `json:"horimeter_current" bson:"horimeter_current"`
	KmPrevious        *float64           `json:"km_previous" bson:"km_previous"`
	KmCurrent         *float64           `json:"km_current" bson:"km_current"`
	UnitPrice         *float64           `json:"unit_price" bson:"unit_price"`
	TotalValue        *float64           `json:"total_value" bson:"total_value"`
	ArlaQuantity      *float64           `json:"arla_quantity" bson:"arla_quantity"`
	OperatorName      string             `json:"operator_name" bson:"operator_name"`
	Location          string             `json:"location" bson:"location"`
	Notes             string             `json:"notes" bson:"notes"`
	CreatedBy         string             `json:"created_by" bson:"created_by"`
	SyncedToSheet     bool               `json:"synced_to_sheet" bson:"synced_to_sheet"`
	CreatedAt         time.Time          `json:"created_at" bson:"created_at"`
}

// FuelNumericFields lists payload keys that field devices may send as locale strings.
var FuelNumericFields = []string{
	"fuel_quantity", "horimeter_previous", "horimeter_current", "km_previous", "km_current",
	"unit_price", "total_value", "arla_quantity",
}

// DuplicateKey returns the identifying tuple used by duplicate detection.
func (f *FuelRecord) DuplicateKey() DuplicateKey {
	return DuplicateKey{
		VehicleCode:  f.VehicleCode,
		RecordDate:   f.RecordDate,
		FuelQuantity: FloatValue(f.FuelQuantity),
		RecordType:   f.RecordType,
	}
}

// SheetRow is the row written to the spreadsheet mirror.
func (f *FuelRecord) SheetRow() map[string]interface{} {
	return map[string]interface{}{
		"id":                 f.ID.Hex(),
		"vehicle_code":       f.VehicleCode,
		"record_date":        f.RecordDate,
		"record_time":        f.RecordTime,
		"record_type":        string(f.RecordType),
		"fuel_type":          f.FuelType,
		"fuel_quantity":      cell(f.FuelQuantity),
		"horimeter_previous": cell(f.HorimeterPrevious),
		"horimeter_current":  cell(f.HorimeterCurrent),
		"km_previous":        cell(f.KmPrevious),
		"km_current":         cell(f.KmCurrent),
		"unit_price":         cell(f.UnitPrice),
		"total_value":        cell(f.TotalValue),
		"arla_quantity":      cell(f.ArlaQuantity),
		"operator_name":      f.OperatorName,
		"location":           f.Location,
		"notes":              f.Notes,
	}
}

// cell keeps 0 as 0 and renders an absent value as an empty cell.
func cell(p *float64) interface{} {
	if p == nil {
		return ""
	}
	return *p
}

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}

// FloatValue dereferences p, returning 0 for nil.
func FloatValue(p *float64) float64 {
	if p == nil {
		return 0
	}
	return *p
}

// IsZeroOrNil reports whether p is absent or holds 0.
func IsZeroOrNil(p *float64) bool {
	return p == nil || *p == 0
}
