package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/ThatCatDev/tanrenai/gemma/pkg/api"
)

// HealthHandler handles GET /health by probing llama-server.
type HealthHandler struct {
	Check func(ctx context.Context) error
	Model string
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, api.HealthResponse{Status: "unavailable", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok", Model: h.Model})
}
