package dedup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/ukydev/fleet-fieldsync/internal/db"
	"github.com/ukydev/fleet-fieldsync/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MockFuelCollection mocks the fuel calls used by the detector and cleaner.
// Other FuelRecordCollection methods are not expected to be called.
type MockFuelCollection struct {
	mock.Mock
	db.FuelRecordCollection
}

func (m *MockFuelCollection) FindByDuplicateKey(ctx context.Context, key models.DuplicateKey) ([]models.FuelRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FuelRecord), args.Error(1)
}

func (m *MockFuelCollection) FindInDateRange(ctx context.Context, r db.DateRange) ([]models.FuelRecord, error) {
	args := m.Called(ctx, r)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.FuelRecord), args.Error(1)
}

func (m *MockFuelCollection) DeleteFuelRecords(ctx context.Context, ids []primitive.ObjectID) (int64, error) {
	args := m.Called(ctx, ids)
	return args.Get(0).(int64), args.Error(1)
}

var t0 = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

// fixture inserts fuel records for CM-122 on 2024-03-01 with 500 liters dispensed,
// one per record time, created one second apart in the given order.
func fixture(t *testing.T, times ...string) (*db.MemoryStore, []primitive.ObjectID) {
	t.Helper()
	mem := db.NewMemoryStore()
	tick := 0
	mem.SetClock(func() time.Time {
		tick++
		return t0.Add(time.Duration(tick) * time.Second)
	})
	ids := make([]primitive.ObjectID, 0, len(times))
	for _, rt := range times {
		id, err := mem.InsertFuelRecord(context.Background(), &models.FuelRecord{
			VehicleCode:  "CM-122",
			RecordDate:   "2024-03-01",
			RecordTime:   rt,
			RecordType:   models.FuelDispensed,
			FuelQuantity: models.Float(500),
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return mem, ids
}

func candidate(recordTime string) models.DuplicateCandidate {
	return models.DuplicateCandidate{
		DuplicateKey: models.DuplicateKey{
			VehicleCode:  "CM-122",
			RecordDate:   "2024-03-01",
			FuelQuantity: 500,
			RecordType:   models.FuelDispensed,
		},
		RecordTime: recordTime,
	}
}

func TestDetector_TimeWindow(t *testing.T) {
	tests := []struct {
		name     string
		existing []string
		at       string
		wantIdx  int // -1 means no duplicate
	}{
		{"three minutes apart", []string{"08:00"}, "08:03", 0},
		{"exactly five minutes is inclusive", []string{"08:00"}, "08:05", 0},
		{"ten minutes apart is a separate event", []string{"08:00"}, "08:10", -1},
		{"untimed exact match still counts", []string{"08:20", ""}, "08:00", 1},
		{"close match preferred over first", []string{"06:00", "08:02"}, "08:00", 1},
		{"seconds are ignored", []string{"08:00:59"}, "08:05:01", 0},
		{"no time on candidate", []string{"08:00"}, "", 0},
		{"no existing records", nil, "08:00", -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem, ids := fixture(t, tt.existing...)
			got := NewDetector(mem, 0).CheckDuplicate(context.Background(), candidate(tt.at))
			if tt.wantIdx < 0 {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, ids[tt.wantIdx], got.ID)
		})
	}
}

func TestDetector_KeyMustMatchExactly(t *testing.T) {
	mem, _ := fixture(t, "08:00")
	d := NewDetector(mem, DefaultWindowMinutes)
	ctx := context.Background()

	other := candidate("08:01")
	other.FuelQuantity = 499.5
	assert.Nil(t, d.CheckDuplicate(ctx, other))

	received := candidate("08:01")
	received.RecordType = models.FuelReceived
	assert.Nil(t, d.CheckDuplicate(ctx, received))

	anyType := candidate("08:01")
	anyType.RecordType = ""
	assert.NotNil(t, d.CheckDuplicate(ctx, anyType))
}

func TestDetector_FailsOpen(t *testing.T) {
	fuel := new(MockFuelCollection)
	fuel.On("FindByDuplicateKey", mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	got := NewDetector(fuel, DefaultWindowMinutes).CheckDuplicate(context.Background(), candidate("08:00"))
	assert.Nil(t, got)
	fuel.AssertExpectations(t)
}

func TestCleaner_RetainsEarliestCreated(t *testing.T) {
	mem, ids := fixture(t, "08:02", "08:00", "08:04")

	deleted, err := NewCleaner(mem).Cleanup(context.Background(), &db.DateRange{From: "2024-03-01", To: "2024-03-01"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	left := mem.FuelRecords()
	require.Len(t, left, 1)
	assert.Equal(t, ids[0], left[0].ID)
}

func TestCleaner_ChainClustering(t *testing.T) {
	mem, ids := fixture(t, "08:00", "08:04", "08:09", "08:20")

	deleted, err := NewCleaner(mem).Cleanup(context.Background(), &db.DateRange{From: "2024-03-01", To: "2024-03-01"})
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	left := mem.FuelRecords()
	require.Len(t, left, 2)
	assert.Equal(t, ids[0], left[0].ID)
	assert.Equal(t, ids[3], left[1].ID)
}

func TestCleaner_Plan(t *testing.T) {
	at := func(sec int) time.Time { return t0.Add(time.Duration(sec) * time.Second) }
	rec := func(qty float64, rt string, created time.Time) models.FuelRecord {
		return models.FuelRecord{
			ID: primitive.NewObjectID(), VehicleCode: "CM-122", RecordDate: "2024-03-01",
			RecordType: models.FuelDispensed, FuelQuantity: models.Float(qty), RecordTime: rt, CreatedAt: created,
		}
	}

	t.Run("identical created_at keeps first scanned", func(t *testing.T) {
		a, b := rec(500, "08:00", at(1)), rec(500, "08:01", at(1))
		ids := NewCleaner(nil).Plan([]models.FuelRecord{a, b})
		assert.Equal(t, []primitive.ObjectID{b.ID}, ids)
	})

	t.Run("untimed records form their own cluster", func(t *testing.T) {
		a, b, c := rec(500, "", at(1)), rec(500, "08:00", at(2)), rec(500, "", at(3))
		ids := NewCleaner(nil).Plan([]models.FuelRecord{a, b, c})
		assert.Equal(t, []primitive.ObjectID{c.ID}, ids)
	})

	t.Run("absent quantity is not grouped with zero", func(t *testing.T) {
		zero := rec(0, "08:00", at(1))
		absent := rec(0, "08:01", at(2))
		absent.FuelQuantity = nil
		alsoAbsent := rec(0, "08:02", at(3))
		alsoAbsent.FuelQuantity = nil
		assert.Empty(t, NewCleaner(nil).Plan([]models.FuelRecord{zero, absent, alsoAbsent}))

		again := rec(0, "08:03", at(4))
		assert.Equal(t, []primitive.ObjectID{again.ID}, NewCleaner(nil).Plan([]models.FuelRecord{zero, absent, again}))
	})

	t.Run("different keys never cluster", func(t *testing.T) {
		a, b := rec(500, "08:00", at(1)), rec(400, "08:00", at(2))
		assert.Empty(t, NewCleaner(nil).Plan([]models.FuelRecord{a, b}))
	})

	t.Run("custom window", func(t *testing.T) {
		a, b := rec(500, "08:00", at(1)), rec(500, "08:09", at(2))
		assert.Empty(t, NewCleaner(nil).Plan([]models.FuelRecord{a, b}))
		assert.Equal(t, []primitive.ObjectID{b.ID}, NewCleaner(nil, WithWindow(10)).Plan([]models.FuelRecord{a, b}))
	})
}

func TestCleaner_BatchesAndContinuesOnFailure(t *testing.T) {
	var recs []models.FuelRecord
	for i := 0; i < 6; i++ {
		recs = append(recs, models.FuelRecord{
			ID: primitive.NewObjectID(), VehicleCode: "CM-122", RecordDate: "2024-03-01",
			FuelQuantity: models.Float(500), RecordTime: "08:00", CreatedAt: t0.Add(time.Duration(i) * time.Second),
		})
	}
	rng := db.DateRange{From: "2024-03-01", To: "2024-03-01"}

	fuel := new(MockFuelCollection)
	fuel.On("FindInDateRange", mock.Anything, rng).Return(recs, nil)
	fuel.On("DeleteFuelRecords", mock.Anything, []primitive.ObjectID{recs[1].ID, recs[2].ID}).Return(int64(2), nil)
	fuel.On("DeleteFuelRecords", mock.Anything, []primitive.ObjectID{recs[3].ID, recs[4].ID}).Return(int64(0), errors.New("request too large"))
	fuel.On("DeleteFuelRecords", mock.Anything, []primitive.ObjectID{recs[5].ID}).Return(int64(1), nil)

	deleted, err := NewCleaner(fuel, WithBatchSize(2)).Cleanup(context.Background(), &rng)
	require.NoError(t, err)
	assert.Equal(t, 3, deleted)
	fuel.AssertNumberOfCalls(t, "DeleteFuelRecords", 3)
}

func TestCleaner_DefaultRange(t *testing.T) {
	now := time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)
	fuel := new(MockFuelCollection)
	fuel.On("FindInDateRange", mock.Anything, db.DateRange{From: "2024-03-04", To: "2024-03-10"}).Return([]models.FuelRecord{}, nil)

	deleted, err := NewCleaner(fuel, WithClock(func() time.Time { return now })).Cleanup(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, deleted)
	fuel.AssertExpectations(t)

	tests := []struct {
		days int
		from string
	}{
		{1, "2024-03-10"},
		{7, "2024-03-04"},
		{30, "2024-02-10"},
	}
	for _, tt := range tests {
		r := NewCleaner(nil, WithLookbackDays(tt.days), WithClock(func() time.Time { return now })).DefaultRange()
		assert.Equal(t, db.DateRange{From: tt.from, To: "2024-03-10"}, r, "lookback %d", tt.days)
	}
}

func TestCleaner_ScanFailure(t *testing.T) {
	fuel := new(MockFuelCollection)
	fuel.On("FindInDateRange", mock.Anything, mock.Anything).Return(nil, errors.New("unavailable"))

	_, err := NewCleaner(fuel).Cleanup(context.Background(), nil)
	assert.Error(t, err)
	fuel.AssertNotCalled(t, "DeleteFuelRecords", mock.Anything, mock.Anything)
}
