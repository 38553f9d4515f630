package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/dataquill-ai/dataquill-engine/pkg/apperrors"
	"github.com/dataquill-ai/dataquill-engine/pkg/auth"
	"github.com/dataquill-ai/dataquill-engine/pkg/threads"
)

// ThreadsHandler proxies thread endpoints to the external thread store.
type ThreadsHandler struct {
	client *threads.Client
	logger *zap.Logger
}

// NewThreadsHandler creates a new threads handler.
func NewThreadsHandler(client *threads.Client, logger *zap.Logger) *ThreadsHandler {
	return &ThreadsHandler{client: client, logger: logger}
}

// RegisterRoutes registers the thread routes on the given mux.
func (h *ThreadsHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware) {
	mux.HandleFunc("GET /api/threads", authMiddleware.RequireAuth(h.List))
	mux.HandleFunc("GET /api/threads/{id}", authMiddleware.RequireAuth(h.Get))
	mux.HandleFunc("GET /api/threads/{id}/messages", authMiddleware.RequireAuth(h.Messages))
	mux.HandleFunc("PATCH /api/threads/{id}", authMiddleware.RequireAuth(h.Update))
	mux.HandleFunc("DELETE /api/threads/{id}", authMiddleware.RequireAuth(h.Delete))
}

// List handles GET /api/threads
func (h *ThreadsHandler) List(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	result, err := h.client.List(r.Context())
	if err != nil {
		h.proxyError(w, err, "Failed to list threads")
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Get handles GET /api/threads/{id}
func (h *ThreadsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	result, err := h.client.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.proxyError(w, err, "Failed to load thread")
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Messages handles GET /api/threads/{id}/messages
func (h *ThreadsHandler) Messages(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	result, err := h.client.Messages(r.Context(), r.PathValue("id"))
	if err != nil {
		h.proxyError(w, err, "Failed to load messages")
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Update handles PATCH /api/threads/{id}
func (h *ThreadsHandler) Update(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}

	var body struct {
		Title string `json:"title"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	result, err := h.client.Update(r.Context(), r.PathValue("id"), body.Title)
	if err != nil {
		h.proxyError(w, err, "Failed to update thread")
		return
	}
	if err := WriteJSON(w, http.StatusOK, result); err != nil {
		h.logger.Error("Failed to write response", zap.Error(err))
	}
}

// Delete handles DELETE /api/threads/{id}
func (h *ThreadsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if !h.available(w) {
		return
	}
	if err := h.client.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.proxyError(w, err, "Failed to delete thread")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *ThreadsHandler) available(w http.ResponseWriter) bool {
	if h.client.Enabled() {
		return true
	}
	if err := ErrorResponse(w, http.StatusNotImplemented, "threads_unavailable", "Thread service is not configured"); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
	return false
}

func (h *ThreadsHandler) proxyError(w http.ResponseWriter, err error, message string) {
	if errors.Is(err, apperrors.ErrNotFound) {
		if err := ErrorResponse(w, http.StatusNotFound, "not_found", "Thread not found"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	h.logger.Error(message, zap.Error(err))
	if err := ErrorResponse(w, http.StatusBadGateway, "thread_service_error", message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
