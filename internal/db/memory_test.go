package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-fieldsync/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestMemoryStore_LatestFuelRecordsOrdering(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()

	for _, rec := range []models.FuelRecord{
		{VehicleCode: "CM-122", RecordDate: "2024-03-01", RecordTime: "08:00", OperatorName: "a"},
		{VehicleCode: "CM-122", RecordDate: "2024-03-02", RecordTime: "07:00", OperatorName: "b"},
		{VehicleCode: "CM-122", RecordDate: "2024-03-02", RecordTime: "09:00", OperatorName: "c"},
		{VehicleCode: "CM-999", RecordDate: "2024-03-05", OperatorName: "other"},
	} {
		rec := rec
		_, err := mem.InsertFuelRecord(ctx, &rec)
		require.NoError(t, err)
	}

	latest, err := mem.LatestFuelRecords(ctx, "CM-122", 2)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "c", latest[0].OperatorName)
	assert.Equal(t, "b", latest[1].OperatorName)
}

func TestMemoryStore_LatestWithSkipsNull(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()

	_, _ = mem.InsertFuelRecord(ctx, &models.FuelRecord{VehicleCode: "CM-122", RecordDate: "2024-03-01", HorimeterCurrent: models.Float(1200)})
	_, _ = mem.InsertFuelRecord(ctx, &models.FuelRecord{VehicleCode: "CM-122", RecordDate: "2024-03-02"})

	rec, err := mem.LatestFuelRecordWith(ctx, "CM-122", FieldHorimeterCurrent)
	require.NoError(t, err)
	assert.Equal(t, 1200.0, *rec.HorimeterCurrent)

	_, err = mem.LatestFuelRecordWith(ctx, "CM-122", FieldKmCurrent)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = mem.LatestMeterReadingWith(ctx, "CM-122", FieldKmCurrent)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mem.LatestMeterReadingWith(ctx, "CM-122", "notes")
	assert.Error(t, err)
}

func TestMemoryStore_DuplicateKeyAndRange(t *testing.T) {
	mem := NewMemoryStore()
	base := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	tick := 0
	mem.SetClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})
	ctx := context.Background()

	insert := func(date string, qty float64, typ models.FuelRecordType) primitive.ObjectID {
		id, err := mem.InsertFuelRecord(ctx, &models.FuelRecord{
			VehicleCode: "CM-122", RecordDate: date, FuelQuantity: models.Float(qty), RecordType: typ,
		})
		require.NoError(t, err)
		return id
	}
	a := insert("2024-03-01", 500, models.FuelDispensed)
	insert("2024-03-01", 500, models.FuelReceived)
	insert("2024-03-01", 400, models.FuelDispensed)
	insert("2024-03-09", 500, models.FuelDispensed)

	key := models.DuplicateKey{VehicleCode: "CM-122", RecordDate: "2024-03-01", FuelQuantity: 500}
	untyped, err := mem.FindByDuplicateKey(ctx, key)
	require.NoError(t, err)
	assert.Len(t, untyped, 2)

	key.RecordType = models.FuelDispensed
	typed, err := mem.FindByDuplicateKey(ctx, key)
	require.NoError(t, err)
	require.Len(t, typed, 1)
	assert.Equal(t, a, typed[0].ID)

	inRange, err := mem.FindInDateRange(ctx, DateRange{From: "2024-03-01", To: "2024-03-08"})
	require.NoError(t, err)
	assert.Len(t, inRange, 3)

	deleted, err := mem.DeleteFuelRecords(ctx, []primitive.ObjectID{a, primitive.NewObjectID()})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
	assert.Len(t, mem.FuelRecords(), 3)
}

func TestMemoryStore_FindFuelByClientID(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	_, _ = mem.InsertFuelRecord(ctx, &models.FuelRecord{VehicleCode: "CM-122", RecordDate: "2024-03-01"})
	_, _ = mem.InsertFuelRecord(ctx, &models.FuelRecord{VehicleCode: "CM-500", RecordDate: "2024-03-01", ClientID: "q-1"})

	rec, err := mem.FindFuelByClientID(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, "CM-500", rec.VehicleCode)

	_, err = mem.FindFuelByClientID(ctx, "q-2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = mem.FindFuelByClientID(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SheetSyncFlag(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	id, _ := mem.InsertFuelRecord(ctx, &models.FuelRecord{VehicleCode: "CM-122"})

	pending, err := mem.FindPendingSheetSync(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, mem.MarkSyncedToSheet(ctx, id))
	pending, err = mem.FindPendingSheetSync(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	assert.ErrorIs(t, mem.MarkSyncedToSheet(ctx, primitive.NewObjectID()), ErrNotFound)
}

func TestMemoryStore_Users(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, mem.InsertUser(ctx, models.User{Username: "jsilva", FirstName: "João"}))

	u, err := mem.FindUserByUsername(ctx, "jsilva")
	require.NoError(t, err)
	assert.True(t, u.IsActive)

	byID, err := mem.FindUserByID(ctx, u.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, "João", byID.DisplayName())

	require.NoError(t, mem.UpdateLastLogin(ctx, u.ID.Hex()))
	_, err = mem.FindUserByID(ctx, primitive.NewObjectID().Hex())
	assert.ErrorIs(t, err, ErrNotFound)
}
