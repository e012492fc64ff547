package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/ThatCatDev/tanrenai/gemma/pkg/api"
)

// ModelsHandler handles GET /v1/models. The launcher serves exactly one
// model, listed under its alias.
type ModelsHandler struct {
	Alias string
}

func (h *ModelsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := api.ModelListResponse{
		Object: "list",
		Data: []api.ModelInfo{{
			ID:          h.Alias,
			Object:      "model",
			OwnedBy:     "me",
			Permissions: []any{},
		}},
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, errType, message string) {
	writeJSON(w, status, api.ErrorResponse{
		Error: api.ErrorDetail{
			Message: message,
			Type:    errType,
		},
	})
}
