package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ukydev/fleet-fieldsync/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Collection names in the remote database.
const (
	FuelRecordsCollection   = "fuel_records"
	MeterReadingsCollection = "meter_readings"
	ServiceOrdersCollection = "service_orders"
	UsersCollection         = "users"
)

// ConnectMongo connects to MongoDB and verifies the connection with a ping.
func ConnectMongo(ctx context.Context, uri string, timeout time.Duration) (*mongo.Client, error) {
	opts := options.Client().ApplyURI(uri)
	if timeout > 0 {
		opts.SetTimeout(timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo.Connect error: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		return nil, fmt.Errorf("mongo.Ping error: %w", err)
	}
	return client, nil
}

// NewMongoStore wires every collection on the given database.
func NewMongoStore(database *mongo.Database) *Store {
	return &Store{
		Fuel:          &MongoFuelCollection{Collection: database.Collection(FuelRecordsCollection)},
		Meters:        &MongoMeterCollection{Collection: database.Collection(MeterReadingsCollection)},
		ServiceOrders: &MongoServiceOrderCollection{Collection: database.Collection(ServiceOrdersCollection)},
		Users:         &MongoUserCollection{Collection: database.Collection(UsersCollection)},
	}
}

// EnsureIndexes creates the indexes used by enrichment and duplicate lookups.
func EnsureIndexes(ctx context.Context, database *mongo.Database) error {
	_, err := database.Collection(FuelRecordsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "vehicle_code", Value: 1}, {Key: "record_date", Value: -1}, {Key: "record_time", Value: -1}}},
		{Keys: bson.D{{Key: "vehicle_code", Value: 1}, {Key: "record_date", Value: 1}, {Key: "fuel_quantity", Value: 1}, {Key: "record_type", Value: 1}}},
		{Keys: bson.D{{Key: "synced_to_sheet", Value: 1}, {Key: "created_at", Value: 1}}},
		{Keys: bson.D{{Key: "client_id", Value: 1}}, Options: options.Index().SetSparse(true)},
	})
	if err != nil {
		return fmt.Errorf("failed to create fuel record indexes: %w", err)
	}
	_, err = database.Collection(MeterReadingsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "vehicle_code", Value: 1}, {Key: "reading_date", Value: -1}, {Key: "reading_time", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create meter reading indexes: %w", err)
	}
	return nil
}

var newestFuelFirst = bson.D{{Key: "record_date", Value: -1}, {Key: "record_time", Value: -1}, {Key: "created_at", Value: -1}}

// MongoFuelCollection implements FuelRecordCollection on MongoDB.
type MongoFuelCollection struct {
	Collection *mongo.Collection
}

// InsertFuelRecord inserts a fuel record and returns its ID.
func (c *MongoFuelCollection) InsertFuelRecord(ctx context.Context, rec *models.FuelRecord) (primitive.ObjectID, error) {
	if c.Collection == nil {
		return primitive.NilObjectID, fmt.Errorf("mongo collection is nil")
	}
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if _, err := c.Collection.InsertOne(ctx, rec); err != nil {
		return primitive.NilObjectID, err
	}
	return rec.ID, nil
}

// LatestFuelRecords returns the newest fuel records for a vehicle.
func (c *MongoFuelCollection) LatestFuelRecords(ctx context.Context, vehicleCode string, limit int64) ([]models.FuelRecord, error) {
	opts := options.Find().SetSort(newestFuelFirst).SetLimit(limit)
	return c.find(ctx, bson.M{"vehicle_code": vehicleCode}, opts)
}

// LatestFuelRecordWith returns the newest fuel record with a non-null meter field.
func (c *MongoFuelCollection) LatestFuelRecordWith(ctx context.Context, vehicleCode, field string) (*models.FuelRecord, error) {
	if !isMeterField(field) {
		return nil, fmt.Errorf("unsupported field %q", field)
	}
	opts := options.Find().SetSort(newestFuelFirst).SetLimit(1)
	recs, err := c.find(ctx, bson.M{"vehicle_code": vehicleCode, field: bson.M{"$ne": nil}}, opts)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

// FindByDuplicateKey returns fuel records that match the key exactly.
func (c *MongoFuelCollection) FindByDuplicateKey(ctx context.Context, key models.DuplicateKey) ([]models.FuelRecord, error) {
	filter := bson.M{
		"vehicle_code":  key.VehicleCode,
		"record_date":   key.RecordDate,
		"fuel_quantity": key.FuelQuantity,
	}
	if key.RecordType != "" {
		filter["record_type"] = key.RecordType
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return c.find(ctx, filter, opts)
}

// FindFuelByClientID returns the fuel record carrying the device-side ID.
func (c *MongoFuelCollection) FindFuelByClientID(ctx context.Context, clientID string) (*models.FuelRecord, error) {
	if clientID == "" {
		return nil, ErrNotFound
	}
	recs, err := c.find(ctx, bson.M{"client_id": clientID}, options.Find().SetLimit(1))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

// FindInDateRange returns fuel records whose record_date falls in r.
func (c *MongoFuelCollection) FindInDateRange(ctx context.Context, r DateRange) ([]models.FuelRecord, error) {
	filter := bson.M{"record_date": bson.M{"$gte": r.From, "$lte": r.To}}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	return c.find(ctx, filter, opts)
}

// DeleteFuelRecords deletes the given fuel records.
func (c *MongoFuelCollection) DeleteFuelRecords(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	if c.Collection == nil {
		return 0, fmt.Errorf("mongo collection is nil")
	}
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := c.Collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

// MarkSyncedToSheet flags a fuel record as mirrored.
func (c *MongoFuelCollection) MarkSyncedToSheet(ctx context.Context, id primitive.ObjectID) error {
	if c.Collection == nil {
		return fmt.Errorf("mongo collection is nil")
	}
	res, err := c.Collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"synced_to_sheet": true}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// FindPendingSheetSync returns fuel records still waiting for the mirror.
func (c *MongoFuelCollection) FindPendingSheetSync(ctx context.Context, limit int64) ([]models.FuelRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(limit)
	return c.find(ctx, bson.M{"synced_to_sheet": false}, opts)
}

func (c *MongoFuelCollection) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]models.FuelRecord, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var recs []models.FuelRecord
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// MongoMeterCollection implements MeterReadingCollection on MongoDB.
type MongoMeterCollection struct {
	Collection *mongo.Collection
}

var newestReadingFirst = bson.D{{Key: "reading_date", Value: -1}, {Key: "reading_time", Value: -1}, {Key: "created_at", Value: -1}}

// InsertMeterReading inserts a meter reading and returns its ID.
func (c *MongoMeterCollection) InsertMeterReading(ctx context.Context, rec *models.MeterReading) (primitive.ObjectID, error) {
	if c.Collection == nil {
		return primitive.NilObjectID, fmt.Errorf("mongo collection is nil")
	}
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	if _, err := c.Collection.InsertOne(ctx, rec); err != nil {
		return primitive.NilObjectID, err
	}
	return rec.ID, nil
}

// LatestMeterReadings returns the newest meter readings for a vehicle.
func (c *MongoMeterCollection) LatestMeterReadings(ctx context.Context, vehicleCode string, limit int64) ([]models.MeterReading, error) {
	return c.find(ctx, bson.M{"vehicle_code": vehicleCode}, options.Find().SetSort(newestReadingFirst).SetLimit(limit))
}

// LatestMeterReadingWith returns the newest meter reading with a non-null field.
func (c *MongoMeterCollection) LatestMeterReadingWith(ctx context.Context, vehicleCode, field string) (*models.MeterReading, error) {
	if !isMeterField(field) {
		return nil, fmt.Errorf("unsupported field %q", field)
	}
	recs, err := c.find(ctx, bson.M{"vehicle_code": vehicleCode, field: bson.M{"$ne": nil}},
		options.Find().SetSort(newestReadingFirst).SetLimit(1))
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return &recs[0], nil
}

func (c *MongoMeterCollection) find(ctx context.Context, filter interface{}, opts *options.FindOptions) ([]models.MeterReading, error) {
	if c.Collection == nil {
		return nil, fmt.Errorf("mongo collection is nil")
	}
	cursor, err := c.Collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	var recs []models.MeterReading
	if err := cursor.All(ctx, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

// MongoServiceOrderCollection implements ServiceOrderCollection on MongoDB.
type MongoServiceOrderCollection struct {
	Collection *mongo.Collection
}

// InsertServiceOrder inserts a service order and returns its ID.
func (c *MongoServiceOrderCollection) InsertServiceOrder(ctx context.Context, order *models.ServiceOrder) (primitive.ObjectID, error) {
	if c.Collection == nil {
		return primitive.NilObjectID, fmt.Errorf("mongo collection is nil")
	}
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	if _, err := c.Collection.InsertOne(ctx, order); err != nil {
		return primitive.NilObjectID, err
	}
	return order.ID, nil
}

// IsNotFound reports whether err means no matching document.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, mongo.ErrNoDocuments)
}
