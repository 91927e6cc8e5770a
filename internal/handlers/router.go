package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	log "github.com/sirupsen/logrus"
	"github.com/ukydev/fleet-fieldsync/internal/auth"
	"github.com/ukydev/fleet-fieldsync/internal/db"
	"github.com/ukydev/fleet-fieldsync/internal/middleware"
	"github.com/ukydev/fleet-fieldsync/internal/models"
	"github.com/ukydev/fleet-fieldsync/internal/queue"
)

// Login attempts allowed per client IP and minute.
const DefaultLoginRateLimit = 10

// Engine is the part of the sync engine the API drives.
type Engine interface {
	Syncer
	Mirrorer
}

// Dependencies wires the router.
type Dependencies struct {
	Auth        *auth.Service
	Users       db.UserCollection
	Queue       queue.Store
	Detector    DuplicateChecker
	Cleaner     DuplicateCleaner
	Engine      Engine
	CORSOrigins []string
	// LoginRateLimit of 0 means DefaultLoginRateLimit.
	LoginRateLimit int
}

// NewRouter builds the HTTP API.
func NewRouter(deps Dependencies) http.Handler {
	authMW := middleware.NewAuthMiddleware(deps.Auth)
	limiter := middleware.NewRateLimitMiddleware()
	loginLimit := deps.LoginRateLimit
	if loginLimit <= 0 {
		loginLimit = DefaultLoginRateLimit
	}
	origins := deps.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	authHandler := NewAuthHandler(deps.Auth, deps.Users)
	fieldHandler := NewFieldHandler(deps.Queue, deps.Detector, deps.Engine)
	fuelHandler := NewFuelHandler(deps.Detector, deps.Cleaner, deps.Engine)

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", Health)
	r.With(limiter.RateLimit(loginLimit, time.Minute)).Post("/api/auth/login", authHandler.Login)

	r.Group(func(r chi.Router) {
		r.Use(authMW.Authenticate)

		r.Get("/api/auth/profile", authHandler.GetProfile)
		r.With(authMW.RequirePermission(models.ActionManageUsers)).Post("/api/auth/users", authHandler.Register)

		r.Route("/api/field", func(r chi.Router) {
			// capture permission depends on the record type and is checked in the handler
			r.Post("/records", fieldHandler.Capture)
			r.With(authMW.RequirePermission(models.ActionViewQueue)).Get("/records", fieldHandler.ListQueue)
			r.With(authMW.RequirePermission(models.ActionSyncFieldRecords)).Post("/sync", fieldHandler.Sync)
		})

		r.Route("/api/fuel", func(r chi.Router) {
			r.With(authMW.RequirePermission(models.ActionCheckDuplicates)).Post("/duplicates/check", fuelHandler.CheckDuplicate)
			r.With(authMW.RequirePermission(models.ActionCleanupDuplicates)).Post("/duplicates/cleanup", fuelHandler.Cleanup)
			r.With(authMW.RequirePermission(models.ActionMirrorSheets)).Post("/sheet-sync", fuelHandler.SheetSync)
		})
	})

	return r
}

// Health reports liveness.
func Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to write response")
	}
}
