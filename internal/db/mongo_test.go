package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-fieldsync/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// testDatabase connects to MONGO_URI or skips the test.
func testDatabase(t *testing.T) *mongo.Database {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" || uri == "uri" {
		t.Skip("MONGO_URI not set or invalid, skipping integration test")
	}
	client, err := ConnectMongo(context.Background(), uri, 10*time.Second)
	if err != nil {
		t.Skipf("failed to connect: %v, skipping integration test", err)
	}
	t.Cleanup(func() { client.Disconnect(context.Background()) })
	database := client.Database("test_fleet_fieldsync")
	require.NoError(t, database.Drop(context.Background()))
	return database
}

func TestConnectMongo_BadURI(t *testing.T) {
	client, err := ConnectMongo(context.Background(), "mongodb://bad:uri", time.Second)
	assert.Error(t, err)
	assert.Nil(t, client)
}

func TestMongoFuelCollection_NilCollection(t *testing.T) {
	coll := &MongoFuelCollection{Collection: nil}
	_, err := coll.InsertFuelRecord(context.Background(), &models.FuelRecord{})
	assert.Error(t, err)
	_, err = coll.LatestFuelRecords(context.Background(), "CM-122", 5)
	assert.Error(t, err)
	assert.Error(t, coll.MarkSyncedToSheet(context.Background(), primitive.NewObjectID()))
}

func TestMongoFuelCollection_UnsupportedField(t *testing.T) {
	coll := &MongoFuelCollection{}
	_, err := coll.LatestFuelRecordWith(context.Background(), "CM-122", "fuel_quantity")
	assert.Error(t, err)
}

func TestMongoFuelCollection_Integration(t *testing.T) {
	database := testDatabase(t)
	ctx := context.Background()
	require.NoError(t, EnsureIndexes(ctx, database))
	store := NewMongoStore(database)

	first := &models.FuelRecord{
		VehicleCode:      "CM-122",
		RecordDate:       "2024-03-01",
		RecordTime:       "08:00",
		RecordType:       models.FuelDispensed,
		FuelQuantity:     models.Float(0),
		HorimeterCurrent: models.Float(1200),
	}
	id, err := store.Fuel.InsertFuelRecord(ctx, first)
	require.NoError(t, err)

	var raw bson.M
	require.NoError(t, database.Collection(FuelRecordsCollection).FindOne(ctx, bson.M{"_id": id}).Decode(&raw))
	assert.Equal(t, 0.0, raw["fuel_quantity"])
	assert.Nil(t, raw["km_current"])

	second := &models.FuelRecord{
		VehicleCode:  "CM-122",
		RecordDate:   "2024-03-02",
		RecordType:   models.FuelDispensed,
		FuelQuantity: models.Float(300),
		ClientID:     "queued-2",
	}
	_, err = store.Fuel.InsertFuelRecord(ctx, second)
	require.NoError(t, err)

	byClient, err := store.Fuel.FindFuelByClientID(ctx, "queued-2")
	require.NoError(t, err)
	assert.Equal(t, second.ID, byClient.ID)
	_, err = store.Fuel.FindFuelByClientID(ctx, "queued-9")
	assert.ErrorIs(t, err, ErrNotFound)

	latest, err := store.Fuel.LatestFuelRecords(ctx, "CM-122", 5)
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "2024-03-02", latest[0].RecordDate)

	withHorimeter, err := store.Fuel.LatestFuelRecordWith(ctx, "CM-122", FieldHorimeterCurrent)
	require.NoError(t, err)
	assert.Equal(t, 1200.0, *withHorimeter.HorimeterCurrent)

	_, err = store.Fuel.LatestFuelRecordWith(ctx, "CM-122", FieldKmCurrent)
	assert.ErrorIs(t, err, ErrNotFound)

	matches, err := store.Fuel.FindByDuplicateKey(ctx, first.DuplicateKey())
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	pending, err := store.Fuel.FindPendingSheetSync(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 2)
	require.NoError(t, store.Fuel.MarkSyncedToSheet(ctx, id))
	pending, err = store.Fuel.FindPendingSheetSync(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	deleted, err := store.Fuel.DeleteFuelRecords(ctx, []primitive.ObjectID{id})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)
}

func TestMongoUserCollection_Integration(t *testing.T) {
	database := testDatabase(t)
	ctx := context.Background()
	users := &MongoUserCollection{Collection: database.Collection(UsersCollection)}

	user := models.User{
		Username:     "jsilva",
		Email:        "jsilva@example.com",
		PasswordHash: "hashedpassword",
		Role:         models.RoleOperator,
		FirstName:    "João",
		LastName:     "Silva",
	}
	require.NoError(t, users.InsertUser(ctx, user))

	found, err := users.FindUserByUsername(ctx, "jsilva")
	require.NoError(t, err)
	assert.True(t, found.IsActive)
	assert.Equal(t, "João Silva", found.DisplayName())

	byID, err := users.FindUserByID(ctx, found.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, found.Username, byID.Username)

	require.NoError(t, users.UpdateLastLogin(ctx, found.ID.Hex()))
	byID, err = users.FindUserByID(ctx, found.ID.Hex())
	require.NoError(t, err)
	assert.NotNil(t, byID.LastLogin)

	_, err = users.FindUserByUsername(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = users.FindUserByID(ctx, "invalid-id")
	assert.Error(t, err)
}
