package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opensource-finance/notas/internal/domain"
	"github.com/opensource-finance/notas/internal/query"
	"github.com/opensource-finance/notas/internal/render"
	"github.com/opensource-finance/notas/internal/service"
)

// maxBodyBytes bounds write request bodies.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *service.Service
	cache   domain.Cache
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *service.Service, cache domain.Cache, version string) *Handler {
	return &Handler{
		svc:     svc,
		cache:   cache,
		version: version,
	}
}

// List handles GET /{entity}. The raw query string is parsed in order so
// ordering directives keep their sequence.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	entity := chi.URLParam(r, "entity")

	params, err := query.ParseRawQuery(r.URL.RawQuery)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	q, err := h.svc.Prepare(entity, query.Classify(params))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.svc.List(r.Context(), entity, q)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	query.SetHeaders(w.Header(), res.Envelope)
	writeJSON(w, query.Status(res.Envelope), res.Items)
}

// Get handles GET /{entity}/{id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	params, err := query.ParseRawQuery(r.URL.RawQuery)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p := query.Classify(params)

	rec, err := h.svc.Get(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "id"), p.Fields, p.HasFields)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Create handles POST /{entity}.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.svc.Create(r.Context(), chi.URLParam(r, "entity"), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Update handles PUT /{entity}/{id} as a partial update.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	body, err := decodeBody(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	rec, err := h.svc.Update(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "id"), body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Delete handles DELETE /{entity}/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), chi.URLParam(r, "entity"), chi.URLParam(r, "id")); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if err := h.svc.Ready(r.Context()); err != nil {
		status = "degraded"
	}
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready reports whether storage is reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ready(r.Context()); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// NotFound renders unknown routes in the error format.
func (h *Handler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, domain.ErrNotFoundf("no route for %s %s", r.Method, r.URL.Path))
}

// MethodNotAllowed renders unsupported methods in the error format.
func (h *Handler) MethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusMethodNotAllowed, render.ErrorBody{Errors: []render.ErrorItem{{
		Code:        "METHOD_NOT_ALLOWED",
		Title:       "Method Not Allowed",
		Description: r.Method + " is not supported on " + r.URL.Path,
	}}})
}

// writeError renders err and logs failures outside the client's control
// with their cause.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := render.REST(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"error", err,
			"request_id", GetRequestID(r.Context()),
		)
	}
	writeJSON(w, status, body)
}

// decodeBody reads a JSON object, keeping numbers exact.
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, domain.ErrValidationf("request body exceeds %d bytes", maxBodyBytes)
		case errors.Is(err, io.EOF):
			return nil, domain.ErrValidationf("request body is required")
		}
		return nil, domain.ErrValidationf("invalid JSON request body")
	}
	if body == nil {
		return nil, domain.ErrValidationf("request body must be a JSON object")
	}
	return body, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
