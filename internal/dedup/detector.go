// Package dedup finds and removes fuel records that were submitted twice for the
// same fueling event.
package dedup

import (
	"context"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-fieldsync/internal/db"
	"github.com/ukydev/fleet-fieldsync/internal/models"
)

// DefaultWindowMinutes is how far apart, in minutes of the day, two recordings of
// one event may be.
const DefaultWindowMinutes = 5

// Detector answers whether a candidate fuel record already exists remotely.
type Detector struct {
	fuel          db.FuelRecordCollection
	windowMinutes int
}

// NewDetector creates a detector. A non-positive window falls back to DefaultWindowMinutes.
func NewDetector(fuel db.FuelRecordCollection, windowMinutes int) *Detector {
	if windowMinutes <= 0 {
		windowMinutes = DefaultWindowMinutes
	}
	return &Detector{fuel: fuel, windowMinutes: windowMinutes}
}

// CheckDuplicate returns the existing record the candidate duplicates, or nil.
// Query failures are logged and reported as no duplicate.
func (d *Detector) CheckDuplicate(ctx context.Context, c models.DuplicateCandidate) *models.FuelRecord {
	matches, err := d.fuel.FindByDuplicateKey(ctx, c.DuplicateKey)
	if err != nil {
		log.WithError(err).WithFields(log.Fields{
			"vehicle_code": c.VehicleCode,
			"record_date":  c.RecordDate,
		}).Warn("Duplicate check failed, treating as no duplicate")
		return nil
	}
	if len(matches) == 0 {
		return nil
	}

	at, ok := models.MinutesOfDay(c.RecordTime)
	if !ok {
		return &matches[0]
	}

	// A timed match outside the window proves a separate event; a match without
	// a time cannot be ruled out and still counts.
	untimed := -1
	for i := range matches {
		m, ok := models.MinutesOfDay(matches[i].RecordTime)
		if !ok {
			if untimed < 0 {
				untimed = i
			}
			continue
		}
		if abs(m-at) <= d.windowMinutes {
			return &matches[i]
		}
	}
	if untimed >= 0 {
		return &matches[untimed]
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
