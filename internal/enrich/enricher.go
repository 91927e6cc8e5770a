// Package enrich backfills queued field records from the latest remote state
// right before they are submitted.
package enrich

import (
	"context"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-fieldsync/internal/db"
	"github.com/ukydev/fleet-fieldsync/internal/models"
)

// operatorLookback is how many recent records are scanned for a different operator.
const operatorLookback = 5

// Enricher reads recent history for a vehicle. Every lookup is best-effort: a failed
// lookup is logged and the affected field keeps its captured value.
type Enricher struct {
	Fuel   db.FuelRecordCollection
	Meters db.MeterReadingCollection
	Users  db.UserLookup
}

// New returns an Enricher over the given store.
func New(store *db.Store) *Enricher {
	return &Enricher{Fuel: store.Fuel, Meters: store.Meters, Users: store.Users}
}

// EnrichFuel corrects the operator and fills zero previous meter values on rec.
func (e *Enricher) EnrichFuel(ctx context.Context, userID string, rec *models.FuelRecord) {
	logger := log.WithFields(log.Fields{"vehicle_code": rec.VehicleCode, "record_type": models.RecordTypeFuel})
	userName := e.userName(ctx, userID)

	if needsOperator(rec.OperatorName, userName) {
		if op := e.fuelOperator(ctx, rec.VehicleCode, userName); op != "" {
			logger.WithField("operator_name", op).Debug("Backfilled operator from history")
			rec.OperatorName = op
		}
	}

	if models.IsZeroOrNil(rec.HorimeterPrevious) {
		if v := e.previousFromAll(ctx, rec.VehicleCode, db.FieldHorimeterCurrent); v > 0 {
			rec.HorimeterPrevious = models.Float(v)
		}
	}
	if models.IsZeroOrNil(rec.KmPrevious) {
		if v := e.previousFromAll(ctx, rec.VehicleCode, db.FieldKmCurrent); v > 0 {
			rec.KmPrevious = models.Float(v)
		}
	}
}

// EnrichMeterReading applies the same backfills using meter history only.
func (e *Enricher) EnrichMeterReading(ctx context.Context, userID string, rec *models.MeterReading) {
	userName := e.userName(ctx, userID)

	if needsOperator(rec.OperatorName, userName) {
		if op := e.meterOperator(ctx, rec.VehicleCode, userName); op != "" {
			rec.OperatorName = op
		}
	}

	if models.IsZeroOrNil(rec.HorimeterPrevious) {
		if v := e.meterPrevious(ctx, rec.VehicleCode, db.FieldHorimeterCurrent); v > 0 {
			rec.HorimeterPrevious = models.Float(v)
		}
	}
	if models.IsZeroOrNil(rec.KmPrevious) {
		if v := e.meterPrevious(ctx, rec.VehicleCode, db.FieldKmCurrent); v > 0 {
			rec.KmPrevious = models.Float(v)
		}
	}
}

func (e *Enricher) userName(ctx context.Context, userID string) string {
	if e.Users == nil || userID == "" {
		return ""
	}
	user, err := e.Users.FindUserByID(ctx, userID)
	if err != nil {
		log.WithError(err).WithField("user_id", userID).Warn("Failed to resolve user for enrichment")
		return ""
	}
	return user.DisplayName()
}

// needsOperator reports whether the captured operator is missing or just the
// device's logged-in user.
func needsOperator(operator, userName string) bool {
	op := strings.TrimSpace(operator)
	return op == "" || sameName(op, userName)
}

func sameName(a, b string) bool {
	return b != "" && strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

func differentOperator(candidate, userName string) bool {
	return strings.TrimSpace(candidate) != "" && !sameName(candidate, userName)
}

func (e *Enricher) fuelOperator(ctx context.Context, vehicle, userName string) string {
	recent, err := e.Fuel.LatestFuelRecords(ctx, vehicle, operatorLookback)
	if err != nil {
		log.WithError(err).WithField("vehicle_code", vehicle).Warn("Failed to load recent fuel records")
	}
	for _, r := range recent {
		if differentOperator(r.OperatorName, userName) {
			return strings.TrimSpace(r.OperatorName)
		}
	}

	readings, err := e.Meters.LatestMeterReadings(ctx, vehicle, 1)
	if err != nil {
		log.WithError(err).WithField("vehicle_code", vehicle).Warn("Failed to load latest meter reading")
		return ""
	}
	if len(readings) > 0 && strings.TrimSpace(readings[0].OperatorName) != "" {
		return strings.TrimSpace(readings[0].OperatorName)
	}
	return ""
}

func (e *Enricher) meterOperator(ctx context.Context, vehicle, userName string) string {
	readings, err := e.Meters.LatestMeterReadings(ctx, vehicle, operatorLookback)
	if err != nil {
		log.WithError(err).WithField("vehicle_code", vehicle).Warn("Failed to load recent meter readings")
		return ""
	}
	for _, r := range readings {
		if differentOperator(r.OperatorName, userName) {
			return strings.TrimSpace(r.OperatorName)
		}
	}
	return ""
}

// previousFromAll returns the larger of the latest fuel-record and meter-reading
// values for field, or 0 when neither is known.
func (e *Enricher) previousFromAll(ctx context.Context, vehicle, field string) float64 {
	var fromFuel float64
	rec, err := e.Fuel.LatestFuelRecordWith(ctx, vehicle, field)
	switch {
	case err == nil:
		fromFuel = currentValue(field, rec.HorimeterCurrent, rec.KmCurrent)
	case !db.IsNotFound(err):
		log.WithError(err).WithFields(log.Fields{"vehicle_code": vehicle, "field": field}).
			Warn("Failed to load previous value from fuel records")
	}

	fromMeters := e.meterPrevious(ctx, vehicle, field)
	if fromMeters > fromFuel {
		return fromMeters
	}
	return fromFuel
}

func (e *Enricher) meterPrevious(ctx context.Context, vehicle, field string) float64 {
	reading, err := e.Meters.LatestMeterReadingWith(ctx, vehicle, field)
	if err != nil {
		if !db.IsNotFound(err) {
			log.WithError(err).WithFields(log.Fields{"vehicle_code": vehicle, "field": field}).
				Warn("Failed to load previous value from meter readings")
		}
		return 0
	}
	return currentValue(field, reading.HorimeterCurrent, reading.KmCurrent)
}

func currentValue(field string, horimeter, km *float64) float64 {
	if field == db.FieldHorimeterCurrent {
		return models.FloatValue(horimeter)
	}
	return models.FloatValue(km)
}
