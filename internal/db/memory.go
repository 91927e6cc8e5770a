package db

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ukydev/fleet-fieldsync/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryStore keeps every collection in process memory. It backs REMOTE_STORE=memory
// for local runs and the package tests of the sync core.
type MemoryStore struct {
	mu     sync.RWMutex
	fuel   []models.FuelRecord
	meters []models.MeterReading
	orders []models.ServiceOrder
	users  []models.User
	now    func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now}
}

// SetClock overrides the clock used for created_at.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Store exposes the memory store through the Store collection set.
func (m *MemoryStore) Store() *Store {
	return &Store{Fuel: m, Meters: m, ServiceOrders: m, Users: m}
}

// FuelRecords returns a copy of all fuel records in insertion order.
func (m *MemoryStore) FuelRecords() []models.FuelRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.FuelRecord(nil), m.fuel...)
}

// MeterReadings returns a copy of all meter readings in insertion order.
func (m *MemoryStore) MeterReadings() []models.MeterReading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.MeterReading(nil), m.meters...)
}

// ServiceOrders returns a copy of all service orders in insertion order.
func (m *MemoryStore) ServiceOrders() []models.ServiceOrder {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]models.ServiceOrder(nil), m.orders...)
}

// InsertFuelRecord stores a copy of rec, filling its ID and created_at when unset.
func (m *MemoryStore) InsertFuelRecord(_ context.Context, rec *models.FuelRecord) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.fuel = append(m.fuel, *rec)
	return rec.ID, nil
}

// LatestFuelRecords returns up to limit records for the vehicle, newest first.
func (m *MemoryStore) LatestFuelRecords(_ context.Context, vehicleCode string, limit int64) ([]models.FuelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.newestFuel(func(r *models.FuelRecord) bool { return r.VehicleCode == vehicleCode })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestFuelRecordWith returns the newest record whose field is set, or ErrNotFound.
func (m *MemoryStore) LatestFuelRecordWith(_ context.Context, vehicleCode, field string) (*models.FuelRecord, error) {
	if !isMeterField(field) {
		return nil, fmt.Errorf("unsupported field %q", field)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.newestFuel(func(r *models.FuelRecord) bool {
		if r.VehicleCode != vehicleCode {
			return false
		}
		if field == FieldHorimeterCurrent {
			return r.HorimeterCurrent != nil
		}
		return r.KmCurrent != nil
	})
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

// FindByDuplicateKey returns exact key matches ordered by created_at ascending.
func (m *MemoryStore) FindByDuplicateKey(_ context.Context, key models.DuplicateKey) ([]models.FuelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.FuelRecord
	for _, r := range m.fuel {
		if r.VehicleCode != key.VehicleCode || r.RecordDate != key.RecordDate {
			continue
		}
		if r.FuelQuantity == nil || *r.FuelQuantity != key.FuelQuantity {
			continue
		}
		if key.RecordType != "" && r.RecordType != key.RecordType {
			continue
		}
		out = append(out, r)
	}
	sortByCreated(out)
	return out, nil
}

// FindFuelByClientID returns the record carrying the device-side ID, or ErrNotFound.
func (m *MemoryStore) FindFuelByClientID(_ context.Context, clientID string) (*models.FuelRecord, error) {
	if clientID == "" {
		return nil, ErrNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.fuel {
		if r.ClientID == clientID {
			r := r
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

// FindInDateRange returns records dated within r ordered by created_at ascending.
func (m *MemoryStore) FindInDateRange(_ context.Context, r DateRange) ([]models.FuelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.FuelRecord
	for _, rec := range m.fuel {
		if rec.RecordDate >= r.From && rec.RecordDate <= r.To {
			out = append(out, rec)
		}
	}
	sortByCreated(out)
	return out, nil
}

// DeleteFuelRecords removes the given records and returns how many were found.
func (m *MemoryStore) DeleteFuelRecords(_ context.Context, ids []primitive.ObjectID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	drop := make(map[primitive.ObjectID]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := m.fuel[:0]
	var deleted int64
	for _, r := range m.fuel {
		if drop[r.ID] {
			deleted++
			continue
		}
		kept = append(kept, r)
	}
	m.fuel = kept
	return deleted, nil
}

// MarkSyncedToSheet flags a fuel record as mirrored.
func (m *MemoryStore) MarkSyncedToSheet(_ context.Context, id primitive.ObjectID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.fuel {
		if m.fuel[i].ID == id {
			m.fuel[i].SyncedToSheet = true
			return nil
		}
	}
	return ErrNotFound
}

// FindPendingSheetSync returns records not yet mirrored, oldest first.
func (m *MemoryStore) FindPendingSheetSync(_ context.Context, limit int64) ([]models.FuelRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.FuelRecord
	for _, r := range m.fuel {
		if !r.SyncedToSheet {
			out = append(out, r)
		}
	}
	sortByCreated(out)
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// InsertMeterReading stores a copy of rec, filling its ID and created_at when unset.
func (m *MemoryStore) InsertMeterReading(_ context.Context, rec *models.MeterReading) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.ID.IsZero() {
		rec.ID = primitive.NewObjectID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.meters = append(m.meters, *rec)
	return rec.ID, nil
}

// LatestMeterReadings returns up to limit readings for the vehicle, newest first.
func (m *MemoryStore) LatestMeterReadings(_ context.Context, vehicleCode string, limit int64) ([]models.MeterReading, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.newestReadings(func(r *models.MeterReading) bool { return r.VehicleCode == vehicleCode })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

// LatestMeterReadingWith returns the newest reading whose field is set, or ErrNotFound.
func (m *MemoryStore) LatestMeterReadingWith(_ context.Context, vehicleCode, field string) (*models.MeterReading, error) {
	if !isMeterField(field) {
		return nil, fmt.Errorf("unsupported field %q", field)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := m.newestReadings(func(r *models.MeterReading) bool {
		if r.VehicleCode != vehicleCode {
			return false
		}
		if field == FieldHorimeterCurrent {
			return r.HorimeterCurrent != nil
		}
		return r.KmCurrent != nil
	})
	if len(out) == 0 {
		return nil, ErrNotFound
	}
	return &out[0], nil
}

// InsertServiceOrder stores a copy of order, filling its ID and created_at when unset.
func (m *MemoryStore) InsertServiceOrder(_ context.Context, order *models.ServiceOrder) (primitive.ObjectID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if order.ID.IsZero() {
		order.ID = primitive.NewObjectID()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = m.now()
	}
	m.orders = append(m.orders, *order)
	return order.ID, nil
}

// InsertUser stores an active user.
func (m *MemoryStore) InsertUser(_ context.Context, user models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	user.CreatedAt = m.now()
	user.UpdatedAt = user.CreatedAt
	user.IsActive = true
	m.users = append(m.users, user)
	return nil
}

// FindUserByID returns the user with the given hex ID, or ErrNotFound.
func (m *MemoryStore) FindUserByID(_ context.Context, id string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.ID.Hex() == id {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// FindUserByUsername returns the user with the given username, or ErrNotFound.
func (m *MemoryStore) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			u := u
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateLastLogin sets last_login to now.
func (m *MemoryStore) UpdateLastLogin(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.users {
		if m.users[i].ID.Hex() == id {
			now := m.now()
			m.users[i].LastLogin = &now
			m.users[i].UpdatedAt = now
			return nil
		}
	}
	return ErrNotFound
}

// newestFuel filters and orders by record_date, record_time, created_at descending.
// Ties put the later insert first.
func (m *MemoryStore) newestFuel(keep func(*models.FuelRecord) bool) []models.FuelRecord {
	var out []models.FuelRecord
	for i := len(m.fuel) - 1; i >= 0; i-- {
		if keep(&m.fuel[i]) {
			out = append(out, m.fuel[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.RecordDate != b.RecordDate {
			return a.RecordDate > b.RecordDate
		}
		if a.RecordTime != b.RecordTime {
			return a.RecordTime > b.RecordTime
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out
}

func (m *MemoryStore) newestReadings(keep func(*models.MeterReading) bool) []models.MeterReading {
	var out []models.MeterReading
	for i := len(m.meters) - 1; i >= 0; i-- {
		if keep(&m.meters[i]) {
			out = append(out, m.meters[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ReadingDate != b.ReadingDate {
			return a.ReadingDate > b.ReadingDate
		}
		if a.ReadingTime != b.ReadingTime {
			return a.ReadingTime > b.ReadingTime
		}
		return a.CreatedAt.After(b.CreatedAt)
	})
	return out
}

func sortByCreated(recs []models.FuelRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
