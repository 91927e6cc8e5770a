// Package fieldsync drains queued field captures into the remote store and keeps
// the spreadsheet mirror of fuel records up to date.
package fieldsync

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-fieldsync/internal/db"
	"github.com/ukydev/fleet-fieldsync/internal/dedup"
	"github.com/ukydev/fleet-fieldsync/internal/enrich"
	"github.com/ukydev/fleet-fieldsync/internal/models"
	"github.com/ukydev/fleet-fieldsync/internal/notify"
	"github.com/ukydev/fleet-fieldsync/internal/queue"
	"github.com/ukydev/fleet-fieldsync/internal/sheets"
)

const (
	DefaultFuelSheet            = "Abastecimentos"
	DefaultRequestTimeout       = 15 * time.Second
	DefaultAttemptWarnThreshold = 10

	queueWriteTimeout = 5 * time.Second
)

// DuplicateChecker looks for a remote record of the same fueling event.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, c models.DuplicateCandidate) *models.FuelRecord
}

// Config tunes the engine.
type Config struct {
	FuelSheetName        string
	RequestTimeout       time.Duration
	AttemptWarnThreshold int
	// Duplicates defaults to a detector over the store's fuel records.
	Duplicates DuplicateChecker
}

// Result counts the outcome of one drain.
type Result struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Engine drains the local queue one record at a time.
type Engine struct {
	queue     queue.Store
	store     *db.Store
	enricher  *enrich.Enricher
	bridge    sheets.Bridge
	publisher notify.Publisher
	cfg       Config

	// drains never overlap, whichever caller starts them
	mu sync.Mutex
}

// NewEngine wires the engine. bridge and publisher may be nil.
func NewEngine(q queue.Store, store *db.Store, bridge sheets.Bridge, publisher notify.Publisher, cfg Config) *Engine {
	if cfg.FuelSheetName == "" {
		cfg.FuelSheetName = DefaultFuelSheet
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.AttemptWarnThreshold <= 0 {
		cfg.AttemptWarnThreshold = DefaultAttemptWarnThreshold
	}
	if publisher == nil {
		publisher = notify.Nop{}
	}
	if cfg.Duplicates == nil {
		cfg.Duplicates = dedup.NewDetector(store.Fuel, dedup.DefaultWindowMinutes)
	}
	return &Engine{
		queue:     q,
		store:     store,
		enricher:  enrich.New(store),
		bridge:    bridge,
		publisher: publisher,
		cfg:       cfg,
	}
}

// SyncAll drains every queued record of userID. Per-record failures are counted,
// never returned; only a failure to list the queue is an error.
func (e *Engine) SyncAll(ctx context.Context, userID string) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	records, err := e.queue.ListByUser(ctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to list queue for %s: %w", userID, err)
	}

	var res Result
	for i := range records {
		if ctx.Err() != nil {
			break
		}
		rec := &records[i]
		if err := e.syncRecord(ctx, rec); err != nil {
			res.Failed++
			e.recordFailure(ctx, rec, err)
			continue
		}
		res.Synced++
	}

	if len(records) > 0 {
		log.WithFields(log.Fields{
			"user_id": userID,
			"synced":  res.Synced,
			"failed":  res.Failed,
		}).Info("Field records drained")
		e.publish(ctx, notify.Event{
			Kind:   notify.KindDrain,
			UserID: userID,
			Counts: map[string]int{"synced": res.Synced, "failed": res.Failed},
		})
	}
	return res, nil
}

// SyncEveryone drains the queue of each user that has queued records.
func (e *Engine) SyncEveryone(ctx context.Context) (Result, error) {
	users, err := e.queue.UserIDs(ctx)
	if err != nil {
		return Result{}, err
	}
	var total Result
	for _, u := range users {
		res, err := e.SyncAll(ctx, u)
		if err != nil {
			log.WithError(err).WithField("user_id", u).Error("Failed to drain user queue")
			continue
		}
		total.Synced += res.Synced
		total.Failed += res.Failed
	}
	return total, nil
}

// syncRecord enriches and inserts one record. A nil return means the remote store
// holds it; the record has then left the queue. A fuel record already stored
// under its client_id, or duplicating an existing fueling, is dropped without
// a second insert.
func (e *Engine) syncRecord(ctx context.Context, rec *models.QueuedRecord) error {
	rctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	var (
		fuel *models.FuelRecord
		err  error
	)
	switch rec.Type {
	case models.RecordTypeFuel:
		fuel, err = rec.DecodeFuel()
		if err != nil {
			return err
		}
		fuel.RecordTime = canonicalClock(fuel.RecordTime)
		stampCreator(&fuel.CreatedBy, &fuel.ClientID, rec)

		var existing *models.FuelRecord
		existing, err = e.storedFuel(rctx, rec, fuel)
		if err != nil {
			return err
		}
		if existing != nil {
			log.WithFields(log.Fields{
				"queued_id":    rec.ID,
				"vehicle_code": fuel.VehicleCode,
				"existing_id":  existing.ID.Hex(),
			}).Info("Queued fuel record already stored, dropping it")
			e.dequeue(ctx, rec)
			return nil
		}

		e.enricher.EnrichFuel(rctx, rec.UserID, fuel)
		fuel.SyncedToSheet = false
		_, err = e.store.Fuel.InsertFuelRecord(rctx, fuel)

	case models.RecordTypeMeterReading:
		var reading *models.MeterReading
		reading, err = rec.DecodeMeterReading()
		if err != nil {
			return err
		}
		reading.ReadingTime = canonicalClock(reading.ReadingTime)
		e.enricher.EnrichMeterReading(rctx, rec.UserID, reading)
		stampCreator(&reading.CreatedBy, &reading.ClientID, rec)
		_, err = e.store.Meters.InsertMeterReading(rctx, reading)

	case models.RecordTypeServiceOrder:
		var order *models.ServiceOrder
		order, err = rec.DecodeServiceOrder()
		if err != nil {
			return err
		}
		stampCreator(&order.CreatedBy, &order.ClientID, rec)
		_, err = e.store.ServiceOrders.InsertServiceOrder(rctx, order)

	default:
		return fmt.Errorf("%w: %q", models.ErrInvalidRecordType, rec.Type)
	}
	if err != nil {
		return fmt.Errorf("failed to insert %s %s: %w", rec.Type, rec.ID, err)
	}

	// The remote insert is the durability boundary. A record left queued by a
	// failed remove is matched by client_id on the next drain.
	e.dequeue(ctx, rec)

	if fuel != nil {
		e.mirror(ctx, fuel)
	}
	return nil
}

// storedFuel returns the remote record this capture already produced, or the
// one it duplicates. Forced captures match on client_id only.
func (e *Engine) storedFuel(ctx context.Context, rec *models.QueuedRecord, fuel *models.FuelRecord) (*models.FuelRecord, error) {
	stored, err := e.store.Fuel.FindFuelByClientID(ctx, fuel.ClientID)
	if err == nil {
		return stored, nil
	}
	if !db.IsNotFound(err) {
		return nil, fmt.Errorf("failed to look up fuel record %s: %w", fuel.ClientID, err)
	}
	if rec.Forced || fuel.FuelQuantity == nil {
		return nil, nil
	}
	return e.cfg.Duplicates.CheckDuplicate(ctx, models.DuplicateCandidate{
		DuplicateKey: fuel.DuplicateKey(),
		RecordTime:   fuel.RecordTime,
	}), nil
}

// queueContext bounds local queue writes without inheriting ctx cancellation.
func queueContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), queueWriteTimeout)
}

func (e *Engine) dequeue(ctx context.Context, rec *models.QueuedRecord) {
	qctx, cancel := queueContext(ctx)
	defer cancel()
	if err := e.queue.Remove(qctx, rec.ID); err != nil {
		log.WithError(err).WithField("queued_id", rec.ID).Error("Failed to remove synced record from queue")
	}
}

// canonicalClock pads queued times written before captures were normalized.
func canonicalClock(s string) string {
	if c, ok := models.CanonicalClock(s); ok {
		return c
	}
	return s
}

// stampCreator fills created_by and client_id from the queue entry when the
// capture left them empty.
func stampCreator(createdBy, clientID *string, rec *models.QueuedRecord) {
	if *createdBy == "" {
		*createdBy = rec.UserID
	}
	if *clientID == "" {
		*clientID = rec.ID
	}
}

func (e *Engine) recordFailure(ctx context.Context, rec *models.QueuedRecord, cause error) {
	qctx, cancel := queueContext(ctx)
	defer cancel()
	if err := e.queue.MarkAttempt(qctx, rec); err != nil {
		log.WithError(err).WithField("queued_id", rec.ID).Error("Failed to record sync attempt")
	}
	logger := log.WithError(cause).WithFields(log.Fields{
		"queued_id":     rec.ID,
		"type":          rec.Type,
		"user_id":       rec.UserID,
		"sync_attempts": rec.SyncAttempts,
	})
	if rec.SyncAttempts < e.cfg.AttemptWarnThreshold {
		logger.Info("Field record kept in queue")
		return
	}
	logger.Warn("Field record keeps failing to sync")
	e.publish(ctx, notify.Event{
		Kind:   notify.KindAlert,
		UserID: rec.UserID,
		Counts: map[string]int{"sync_attempts": rec.SyncAttempts},
		Detail: fmt.Sprintf("%s %s: %v", rec.Type, rec.ID, cause),
	})
}

// mirror writes one fuel record to the spreadsheet and flags it on success.
// Failures are logged only; the sweep retries unflagged records.
func (e *Engine) mirror(ctx context.Context, rec *models.FuelRecord) bool {
	if e.bridge == nil {
		return false
	}
	logger := log.WithFields(log.Fields{"fuel_record_id": rec.ID.Hex(), "vehicle_code": rec.VehicleCode})

	mctx, cancel := context.WithTimeout(ctx, e.cfg.RequestTimeout)
	defer cancel()

	_, err := e.bridge.Call(mctx, sheets.Request{
		Action:    sheets.ActionCreate,
		SheetName: e.cfg.FuelSheetName,
		Data:      rec.SheetRow(),
	})
	if err != nil {
		logger.WithError(err).Warn("Spreadsheet mirror failed")
		return false
	}
	if err := e.store.Fuel.MarkSyncedToSheet(mctx, rec.ID); err != nil {
		logger.WithError(err).Warn("Failed to flag record as mirrored")
		return false
	}
	rec.SyncedToSheet = true
	return true
}

func (e *Engine) publish(ctx context.Context, ev notify.Event) {
	if err := e.publisher.Publish(ctx, ev); err != nil {
		log.WithError(err).WithField("kind", ev.Kind).Debug("Failed to publish sync event")
	}
}
