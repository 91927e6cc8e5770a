package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-fieldsync/internal/db"
	"github.com/ukydev/fleet-fieldsync/internal/fieldsync"
	"github.com/ukydev/fleet-fieldsync/internal/models"
	"github.com/ukydev/fleet-fieldsync/internal/numparse"
)

// DuplicateCleaner removes duplicate fuel records in a date range.
type DuplicateCleaner interface {
	Cleanup(ctx context.Context, r *db.DateRange) (int, error)
}

// Mirrorer retries the spreadsheet write for records not yet mirrored.
type Mirrorer interface {
	MirrorPending(ctx context.Context, limit int64) (fieldsync.MirrorResult, error)
}

// CleanupRequest bounds a cleanup run. Both empty means the cleaner's default window.
type CleanupRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// FuelHandler serves duplicate maintenance and the mirror sweep.
type FuelHandler struct {
	detector DuplicateChecker
	cleaner  DuplicateCleaner
	mirrorer Mirrorer
}

// NewFuelHandler creates a fuel maintenance handler
func NewFuelHandler(detector DuplicateChecker, cleaner DuplicateCleaner, mirrorer Mirrorer) *FuelHandler {
	return &FuelHandler{detector: detector, cleaner: cleaner, mirrorer: mirrorer}
}

// CheckDuplicate reports whether a candidate fuel record already exists.
// fuel_quantity may be sent as a locale string.
func (h *FuelHandler) CheckDuplicate(w http.ResponseWriter, r *http.Request) {
	var raw map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if err := numparse.NormalizePayload(raw, []string{"fuel_quantity"}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if raw["fuel_quantity"] == nil {
		http.Error(w, "fuel_quantity is required", http.StatusBadRequest)
		return
	}

	var candidate models.DuplicateCandidate
	data, _ := json.Marshal(raw)
	if err := json.Unmarshal(data, &candidate); err != nil {
		http.Error(w, "Invalid candidate", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(candidate.VehicleCode) == "" || !validDate(candidate.RecordDate) {
		http.Error(w, "vehicle_code and record_date (YYYY-MM-DD) are required", http.StatusBadRequest)
		return
	}

	dup := h.detector.CheckDuplicate(r.Context(), candidate)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"duplicate": dup != nil,
		"record":    dup,
	})
}

// Cleanup deletes duplicate fuel records in the requested range.
func (h *FuelHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	var req CleanupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	var rng *db.DateRange
	if req.From != "" || req.To != "" {
		if !validDate(req.From) || !validDate(req.To) || req.From > req.To {
			http.Error(w, "from and to must be YYYY-MM-DD with from <= to", http.StatusBadRequest)
			return
		}
		rng = &db.DateRange{From: req.From, To: req.To}
	}

	deleted, err := h.cleaner.Cleanup(r.Context(), rng)
	if err != nil {
		log.WithError(err).Error("Duplicate cleanup failed")
		http.Error(w, "Cleanup failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": deleted})
}

// SheetSync mirrors fuel records still missing from the spreadsheet.
func (h *FuelHandler) SheetSync(w http.ResponseWriter, r *http.Request) {
	var limit int64
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	res, err := h.mirrorer.MirrorPending(r.Context(), limit)
	if err != nil {
		if errors.Is(err, fieldsync.ErrNoBridge) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		log.WithError(err).Error("Mirror sweep failed")
		http.Error(w, "Mirror sweep failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
