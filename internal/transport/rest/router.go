package rest

import (
	"net/http"

	"github.com/heartmarshall/dictsync-backend/internal/transport/middleware"
)

const apiPrefix = "/api/v1/dictionary"

// NewRouter registers the health and sync routes. exportLimit guards the
// export endpoints; the write and repair endpoints require an admin caller.
func NewRouter(sync *SyncHandler, health *HealthHandler, exportLimit middleware.Middleware) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /live", health.Live)
	mux.HandleFunc("GET /ready", health.Ready)
	mux.HandleFunc("GET /health", health.Health)

	mux.HandleFunc("GET "+apiPrefix+"/version", sync.Version)
	mux.HandleFunc("GET "+apiPrefix+"/versions", sync.Versions)
	mux.Handle("GET "+apiPrefix+"/full", exportLimit(http.HandlerFunc(sync.Full)))
	mux.Handle("GET "+apiPrefix+"/stream", exportLimit(http.HandlerFunc(sync.Stream)))
	mux.Handle("GET "+apiPrefix+"/delta", exportLimit(http.HandlerFunc(sync.Delta)))

	mux.Handle("POST "+apiPrefix+"/checksum/recompute", middleware.AdminOnly(http.HandlerFunc(sync.RecomputeChecksum)))
	mux.Handle("POST "+apiPrefix+"/mutations", middleware.AdminOnly(http.HandlerFunc(sync.Mutations)))
	mux.Handle("POST "+apiPrefix+"/history/purge", middleware.AdminOnly(http.HandlerFunc(sync.PurgeHistory)))

	return mux
}
