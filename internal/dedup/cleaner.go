package dedup

import (
	"context"
	"fmt"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-fieldsync/internal/db"
	"github.com/ukydev/fleet-fieldsync/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DefaultBatchSize    = 50
	DefaultLookbackDays = 7
	dateLayout          = "2006-01-02"
)

// Cleaner removes duplicated fuel records, keeping the earliest created one of
// each cluster.
type Cleaner struct {
	fuel          db.FuelRecordCollection
	windowMinutes int
	batchSize     int
	lookbackDays  int
	now           func() time.Time
}

// CleanerOption configures a Cleaner.
type CleanerOption func(*Cleaner)

// WithBatchSize bounds how many ids go into one delete request.
func WithBatchSize(n int) CleanerOption {
	return func(c *Cleaner) {
		if n > 0 {
			c.batchSize = n
		}
	}
}

// WithLookbackDays sets the default range used when Cleanup gets no range.
func WithLookbackDays(days int) CleanerOption {
	return func(c *Cleaner) {
		if days > 0 {
			c.lookbackDays = days
		}
	}
}

// WithWindow sets the time proximity window in minutes.
func WithWindow(minutes int) CleanerOption {
	return func(c *Cleaner) {
		if minutes > 0 {
			c.windowMinutes = minutes
		}
	}
}

// WithClock overrides the clock used for the default range.
func WithClock(now func() time.Time) CleanerOption {
	return func(c *Cleaner) { c.now = now }
}

// NewCleaner creates a cleaner over the fuel collection.
func NewCleaner(fuel db.FuelRecordCollection, opts ...CleanerOption) *Cleaner {
	c := &Cleaner{
		fuel:          fuel,
		windowMinutes: DefaultWindowMinutes,
		batchSize:     DefaultBatchSize,
		lookbackDays:  DefaultLookbackDays,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultRange is the last lookbackDays days up to today, inclusive.
func (c *Cleaner) DefaultRange() db.DateRange {
	today := c.now()
	return db.DateRange{
		From: today.AddDate(0, 0, -(c.lookbackDays - 1)).Format(dateLayout),
		To:   today.Format(dateLayout),
	}
}

// Cleanup deletes duplicates among records dated within r, or within the default
// range when r is nil. It returns how many records were deleted. Failed delete
// batches are logged and skipped.
func (c *Cleaner) Cleanup(ctx context.Context, r *db.DateRange) (int, error) {
	rng := c.DefaultRange()
	if r != nil {
		rng = *r
	}

	records, err := c.fuel.FindInDateRange(ctx, rng)
	if err != nil {
		return 0, fmt.Errorf("failed to scan fuel records: %w", err)
	}

	ids := c.Plan(records)
	logger := log.WithFields(log.Fields{"from": rng.From, "to": rng.To, "scanned": len(records)})
	if len(ids) == 0 {
		logger.Info("No duplicate fuel records found")
		return 0, nil
	}

	deleted := 0
	for start := 0; start < len(ids); start += c.batchSize {
		end := start + c.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		n, err := c.fuel.DeleteFuelRecords(ctx, ids[start:end])
		if err != nil {
			logger.WithError(err).WithField("batch_start", start).Error("Failed to delete duplicate batch")
			continue
		}
		deleted += int(n)
	}

	logger.WithFields(log.Fields{"marked": len(ids), "deleted": deleted}).Info("Duplicate cleanup finished")
	return deleted, nil
}

// Plan returns the ids to delete from records, which must be ordered by created_at
// ascending. Records sharing a duplicate key are chained into clusters whenever a
// record is within the window of the previous one; the first record of each cluster
// is kept. Records without a readable time form their own cluster per key. Records
// without a fuel quantity are never grouped.
func (c *Cleaner) Plan(records []models.FuelRecord) []primitive.ObjectID {
	type group struct {
		timed   []timedRecord
		untimed []models.FuelRecord
	}
	groups := make(map[models.DuplicateKey]*group)
	var order []models.DuplicateKey

	for i, rec := range records {
		if rec.FuelQuantity == nil {
			continue
		}
		key := rec.DuplicateKey()
		g, ok := groups[key]
		if !ok {
			g = &group{}
			groups[key] = g
			order = append(order, key)
		}
		if m, ok := models.MinutesOfDay(rec.RecordTime); ok {
			g.timed = append(g.timed, timedRecord{rec: rec, minute: m, seq: i})
		} else {
			g.untimed = append(g.untimed, rec)
		}
	}

	var ids []primitive.ObjectID
	for _, key := range order {
		g := groups[key]
		for _, bucket := range c.cluster(g.timed) {
			ids = append(ids, dropAllButEarliest(bucket)...)
		}
		ids = append(ids, dropAllButEarliest(g.untimed)...)
	}
	return ids
}

type timedRecord struct {
	rec    models.FuelRecord
	minute int
	seq    int
}

// cluster sorts by time of day and starts a new bucket whenever the gap to the
// previous record exceeds the window.
func (c *Cleaner) cluster(recs []timedRecord) [][]models.FuelRecord {
	if len(recs) == 0 {
		return nil
	}
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].minute < recs[j].minute })

	var buckets [][]models.FuelRecord
	current := []timedRecord{recs[0]}
	flush := func() {
		// back to scan order so the earliest created record leads
		sort.SliceStable(current, func(i, j int) bool { return current[i].seq < current[j].seq })
		bucket := make([]models.FuelRecord, len(current))
		for i, tr := range current {
			bucket[i] = tr.rec
		}
		buckets = append(buckets, bucket)
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].minute-recs[i-1].minute <= c.windowMinutes {
			current = append(current, recs[i])
			continue
		}
		flush()
		current = []timedRecord{recs[i]}
	}
	flush()
	return buckets
}

// dropAllButEarliest keeps the earliest created record, ties going to the first
// one scanned, and returns the ids of the rest.
func dropAllButEarliest(bucket []models.FuelRecord) []primitive.ObjectID {
	if len(bucket) < 2 {
		return nil
	}
	keep := 0
	for i := 1; i < len(bucket); i++ {
		if bucket[i].CreatedAt.Before(bucket[keep].CreatedAt) {
			keep = i
		}
	}
	ids := make([]primitive.ObjectID, 0, len(bucket)-1)
	for i, rec := range bucket {
		if i != keep {
			ids = append(ids, rec.ID)
		}
	}
	return ids
}
