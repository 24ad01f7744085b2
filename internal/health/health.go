// Package health exposes liveness and readiness checks.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Response is the health check payload
type Response struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// Handler reports process and database health
type Handler struct {
	pool *pgxpool.Pool
}

// NewHandler creates a new health Handler
func NewHandler(pool *pgxpool.Pool) *Handler {
	return &Handler{pool: pool}
}

// Check handles GET /health
func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := Response{Status: "healthy", Database: "up"}
	status := http.StatusOK

	if err := h.pool.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Database = "down"
		status = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
