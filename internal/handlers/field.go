package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-fieldsync/internal/fieldsync"
	"github.com/ukydev/fleet-fieldsync/internal/middleware"
	"github.com/ukydev/fleet-fieldsync/internal/models"
	"github.com/ukydev/fleet-fieldsync/internal/numparse"
	"github.com/ukydev/fleet-fieldsync/internal/queue"
)

// Syncer drains a user's queue.
type Syncer interface {
	SyncAll(ctx context.Context, userID string) (fieldsync.Result, error)
}

// DuplicateChecker looks for an existing record of the same fueling event.
type DuplicateChecker interface {
	CheckDuplicate(ctx context.Context, c models.DuplicateCandidate) *models.FuelRecord
}

// CaptureRequest is one record typed on a field device.
type CaptureRequest struct {
	Type    models.RecordType      `json:"type"`
	Payload map[string]interface{} `json:"payload"`
	// Force queues a fuel record even when a duplicate exists.
	Force bool `json:"force"`
	// SyncNow drains the caller's queue right after queueing.
	SyncNow bool `json:"sync_now"`
}

// CaptureResponse is returned once the record is queued.
type CaptureResponse struct {
	Record models.QueuedRecord `json:"record"`
	Sync   *fieldsync.Result   `json:"sync,omitempty"`
}

// DuplicateResponse is returned with 409 when a capture matches an existing record.
type DuplicateResponse struct {
	Error     string             `json:"error"`
	Duplicate *models.FuelRecord `json:"duplicate"`
}

// FieldHandler serves captures from field devices.
type FieldHandler struct {
	queue    queue.Store
	detector DuplicateChecker
	syncer   Syncer
}

// NewFieldHandler creates a field capture handler
func NewFieldHandler(q queue.Store, detector DuplicateChecker, syncer Syncer) *FieldHandler {
	return &FieldHandler{queue: q, detector: detector, syncer: syncer}
}

// Capture normalizes, validates and queues a record.
func (h *FieldHandler) Capture(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	var req CaptureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !req.Type.IsValid() {
		http.Error(w, "Invalid record type", http.StatusBadRequest)
		return
	}
	if !claims.Role.HasPermission(models.CaptureAction(req.Type)) {
		http.Error(w, "Insufficient permissions", http.StatusForbidden)
		return
	}
	if req.Payload == nil {
		http.Error(w, "Payload is required", http.StatusBadRequest)
		return
	}

	if err := numparse.NormalizePayload(req.Payload, models.NumericFields(req.Type)); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := models.NormalizeClock(req.Type, req.Payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec, err := models.NewQueuedRecord("", req.Type, claims.UserID, req.Payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rec.Forced = req.Force && rec.Type == models.RecordTypeFuel
	if err := rec.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if rec.Type == models.RecordTypeFuel && !req.Force {
		fuel, _ := rec.DecodeFuel()
		candidate := models.DuplicateCandidate{DuplicateKey: fuel.DuplicateKey(), RecordTime: fuel.RecordTime}
		if dup := h.detector.CheckDuplicate(r.Context(), candidate); dup != nil {
			log.WithFields(log.Fields{
				"user_id":      claims.UserID,
				"vehicle_code": fuel.VehicleCode,
				"duplicate_id": dup.ID.Hex(),
			}).Info("Capture rejected as duplicate")
			writeJSON(w, http.StatusConflict, DuplicateResponse{Error: "duplicate fuel record", Duplicate: dup})
			return
		}
	}

	if err := h.queue.Enqueue(r.Context(), &rec); err != nil {
		log.WithError(err).WithField("user_id", claims.UserID).Error("Failed to queue capture")
		http.Error(w, "Failed to queue record", http.StatusInternalServerError)
		return
	}
	log.WithFields(log.Fields{"id": rec.ID, "type": rec.Type, "user_id": claims.UserID}).Info("Capture queued")

	resp := CaptureResponse{Record: rec}
	if req.SyncNow && claims.Role.HasPermission(models.ActionSyncFieldRecords) {
		res, err := h.syncer.SyncAll(r.Context(), claims.UserID)
		if err != nil {
			// the record is queued; the next drain picks it up
			log.WithError(err).WithField("user_id", claims.UserID).Warn("Immediate sync failed")
		} else {
			resp.Sync = &res
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListQueue returns the caller's records still waiting for the remote store.
func (h *FieldHandler) ListQueue(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	recs, err := h.queue.ListByUser(r.Context(), claims.UserID)
	if err != nil {
		log.WithError(err).WithField("user_id", claims.UserID).Error("Failed to list queue")
		http.Error(w, "Failed to list queue", http.StatusInternalServerError)
		return
	}
	if recs == nil {
		recs = []models.QueuedRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"records": recs,
		"count":   len(recs),
	})
}

// Sync drains the caller's queue.
func (h *FieldHandler) Sync(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok {
		http.Error(w, "User context not found", http.StatusUnauthorized)
		return
	}

	res, err := h.syncer.SyncAll(r.Context(), claims.UserID)
	if err != nil {
		log.WithError(err).WithField("user_id", claims.UserID).Error("Sync failed")
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, "Sync failed", status)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
