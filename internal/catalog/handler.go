// internal/catalog/handler.go
package catalog

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"recordstore/internal/httpx"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the record endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/records", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleQuery)
		r.Get("/mb/search", h.handleSearchMetadata)
		r.Get("/mb/fetch/{mbid}", h.handleLookupMetadata)
		r.Get("/mb/{mbid}", h.handleFindByMBID)
		r.Get("/{id}", h.handleFindOne)
		r.Put("/{id}", h.handleUpdate)
		r.Delete("/{id}", h.handleDelete)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in CreateInput
	if err := httpx.Decode(w, r, &in); err != nil {
		httpx.Error(w, r, http.StatusBadRequest, err)
		return
	}

	rec, err := h.service.Create(r.Context(), in)
	if err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	httpx.JSON(w, http.StatusCreated, rec)
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	v := r.URL.Query()
	params := QueryParams{
		Q:        v.Get("q"),
		Artist:   v.Get("artist"),
		Album:    v.Get("album"),
		Format:   v.Get("format"),
		Category: v.Get("category"),
		Page:     intParam(v.Get("page"), DefaultPage),
		Limit:    intParam(v.Get("limit"), DefaultLimit),
	}
	if fields := v.Get("fields"); fields != "" {
		params.Fields = strings.Split(fields, ",")
	}

	page, err := h.service.Query(r.Context(), params)
	if err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	httpx.JSON(w, http.StatusOK, page)
}

func (h *Handler) handleFindOne(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.FindOne(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleFindByMBID(w http.ResponseWriter, r *http.Request) {
	rec, err := h.service.FindByMBID(r.Context(), chi.URLParam(r, "mbid"))
	if err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var in UpdateInput
	if err := httpx.Decode(w, r, &in); err != nil {
		httpx.Error(w, r, http.StatusBadRequest, err)
		return
	}

	rec, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	httpx.JSON(w, http.StatusOK, rec)
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleLookupMetadata(w http.ResponseWriter, r *http.Request) {
	rel, err := h.service.LookupMetadata(r.Context(), chi.URLParam(r, "mbid"))
	if err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	httpx.JSON(w, http.StatusOK, rel)
}

func (h *Handler) handleSearchMetadata(w http.ResponseWriter, r *http.Request) {
	results, err := h.service.SearchMetadata(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		httpx.Error(w, r, statusFor(err), err)
		return
	}
	httpx.JSON(w, http.StatusOK, results)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// intParam parses an integer query parameter, falling back when it is
// absent or not a number.
func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
