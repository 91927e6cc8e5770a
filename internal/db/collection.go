package db

import (
	"context"
	"errors"

	"github.com/ukydev/fleet-fieldsync/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var ErrNotFound = errors.New("record not found")

// Meter fields that can be asked for with LatestFuelRecordWith / LatestMeterReadingWith.
const (
	FieldHorimeterCurrent = "horimeter_current"
	FieldKmCurrent        = "km_current"
)

// DateRange bounds record dates (YYYY-MM-DD), both ends inclusive.
type DateRange struct {
	From string
	To   string
}

// FuelRecordCollection defines the remote operations on fuel records.
type FuelRecordCollection interface {
	InsertFuelRecord(ctx context.Context, rec *models.FuelRecord) (primitive.ObjectID, error)
	// LatestFuelRecords returns up to limit records for the vehicle, newest first.
	LatestFuelRecords(ctx context.Context, vehicleCode string, limit int64) ([]models.FuelRecord, error)
	// LatestFuelRecordWith returns the newest record whose field is not null, or ErrNotFound.
	LatestFuelRecordWith(ctx context.Context, vehicleCode, field string) (*models.FuelRecord, error)
	// FindByDuplicateKey returns exact key matches ordered by created_at ascending.
	FindByDuplicateKey(ctx context.Context, key models.DuplicateKey) ([]models.FuelRecord, error)
	// FindFuelByClientID returns the record stamped with the device-side ID, or ErrNotFound.
	FindFuelByClientID(ctx context.Context, clientID string) (*models.FuelRecord, error)
	// FindInDateRange returns records ordered by created_at ascending.
	FindInDateRange(ctx context.Context, r DateRange) ([]models.FuelRecord, error)
	DeleteFuelRecords(ctx context.Context, ids []primitive.ObjectID) (int64, error)
	MarkSyncedToSheet(ctx context.Context, id primitive.ObjectID) error
	// FindPendingSheetSync returns records not yet mirrored, oldest first.
	FindPendingSheetSync(ctx context.Context, limit int64) ([]models.FuelRecord, error)
}

// MeterReadingCollection defines the remote operations on meter readings.
type MeterReadingCollection interface {
	InsertMeterReading(ctx context.Context, rec *models.MeterReading) (primitive.ObjectID, error)
	LatestMeterReadings(ctx context.Context, vehicleCode string, limit int64) ([]models.MeterReading, error)
	LatestMeterReadingWith(ctx context.Context, vehicleCode, field string) (*models.MeterReading, error)
}

// ServiceOrderCollection defines the remote operations on service orders.
type ServiceOrderCollection interface {
	InsertServiceOrder(ctx context.Context, order *models.ServiceOrder) (primitive.ObjectID, error)
}

// UserLookup resolves users by ID.
type UserLookup interface {
	FindUserByID(ctx context.Context, id string) (*models.User, error)
}

// Store groups every collection the field sync core talks to.
type Store struct {
	Fuel          FuelRecordCollection
	Meters        MeterReadingCollection
	ServiceOrders ServiceOrderCollection
	Users         UserCollection
}

func isMeterField(field string) bool {
	return field == FieldHorimeterCurrent || field == FieldKmCurrent
}
