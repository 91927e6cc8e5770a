package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MeterReading is a standalone horimeter/odometer observation for a vehicle.
type MeterReading struct {
	ID                primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	ClientID          string             `bson:"client_id,omitempty" json:"client_id,omitempty"`
	VehicleCode       string             `bson:"vehicle_code" json:"vehicle_code"`
	ReadingDate       string             `bson:"reading_date" json:"reading_date"`
	ReadingTime       string             `bson:"reading_time,omitempty" json:"reading_time,omitempty"`
	HorimeterPrevious *float64           `bson:"horimeter_previous" json:"horimeter_previous"`
	HorimeterCurrent  *float64           `bson:"horimeter_current" json:"horimeter_current"`
	KmPrevious        *float64           `bson:"km_previous" json:"km_previous"`
	KmCurrent         *float64           `bson:"km_current" json:"km_current"`
	OperatorName      string             `bson:"operator_name" json:"operator_name"`
	Notes             string             `bson:"notes" json:"notes"`
	CreatedBy         string             `bson:"created_by" json:"created_by"`
	CreatedAt         time.Time          `bson:"created_at" json:"created_at"`
}

// MeterNumericFields lists payload keys that field devices may send as locale strings.
var MeterNumericFields = []string{"horimeter_previous", "horimeter_current", "km_previous", "km_current"}
