// Package server wires HTTP handlers into a gorilla/mux router for the
// relay, with CORS applied to the plain HTTP endpoints.
package server

import (
	"net/http"

	"github.com/Tyrowin/roomrelay/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// SetupRoutes configures the router with the WebSocket endpoint, health check,
// room listing, metrics and test page.
func SetupRoutes(h *Hub, m *metrics.Metrics) http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: h.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
	})

	r := mux.NewRouter()
	r.HandleFunc("/ws", h.WebSocketHandler)
	r.Handle("/health", c.Handler(http.HandlerFunc(HealthHandler))).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/rooms", c.Handler(http.HandlerFunc(h.RoomsHandler))).Methods(http.MethodGet, http.MethodOptions)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/test", h.TestPageHandler).Methods(http.MethodGet)
	r.HandleFunc("/", HealthHandler).Methods(http.MethodGet)
	return r
}
