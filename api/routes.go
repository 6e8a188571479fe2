package api

import (
	"context"

	"github.com/gorilla/mux"
)

// Services are the pipeline operations exposed over HTTP. Health is optional.
type Services struct {
	Drafts     DraftService
	Dispatcher RunDispatcher
	Status     JobStatus
	Health     func(ctx context.Context) error
}

func SetupRoutes(svc Services, jwtSecret, version, buildTime string) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(CORSMiddleware)
	r.Use(RecoveryMiddleware)

	// Create handlers
	systemHandler := &SystemHandler{Check: svc.Health}
	draftsHandler := NewDraftsHandler(svc.Drafts, svc.Dispatcher)
	jobsHandler := NewJobsHandler(svc.Status)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")

	// API v1, every route sees the resolved requester
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(IdentityMiddleware(jwtSecret))

	apiV1.HandleFunc("/drafts", draftsHandler.CreateDraft).Methods("POST")
	apiV1.HandleFunc("/drafts/{draftId}", draftsHandler.GetDraft).Methods("GET")
	apiV1.HandleFunc("/drafts/{draftId}/analysis", draftsHandler.RunAnalysis).Methods("POST")
	apiV1.HandleFunc("/jobs/{jobId}", jobsHandler.GetJob).Methods("GET")

	return r
}
