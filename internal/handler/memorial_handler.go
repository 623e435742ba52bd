package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"webgrave/internal/service"
)

type MemorialHandler struct {
	memorials *service.MemorialService
	auth      Authenticator
}

func NewMemorialHandler(memorials *service.MemorialService, auth Authenticator) *MemorialHandler {
	return &MemorialHandler{memorials: memorials, auth: auth}
}

func (h *MemorialHandler) RegisterRoutes(router chi.Router) {
	router.Route("/memorials", func(r chi.Router) {
		r.With(OptionalAuth(h.auth)).Get("/{ref}", h.Get)

		r.Group(func(r chi.Router) {
			r.Use(RequireAuth(h.auth))
			r.Get("/", h.ListMine)
			r.Post("/", h.Create)
			r.Put("/{ref}", h.Update)
			r.Delete("/{ref}", h.Delete)
		})
	})
}

// memorialRequest accepts dates as YYYY-MM-DD or RFC 3339.
type memorialRequest struct {
	FullName  string `json:"fullName"`
	BirthDate string `json:"birthDate"`
	DeathDate string `json:"deathDate"`
	Biography string `json:"biography"`
	Epitaph   string `json:"epitaph"`
	IsPublic  bool   `json:"isPublic"`
}

func (req memorialRequest) input() (service.MemorialInput, error) {
	birth, err := parseDate("birthDate", req.BirthDate)
	if err != nil {
		return service.MemorialInput{}, err
	}
	death, err := parseDate("deathDate", req.DeathDate)
	if err != nil {
		return service.MemorialInput{}, err
	}
	return service.MemorialInput{
		FullName:  req.FullName,
		BirthDate: birth,
		DeathDate: death,
		Biography: req.Biography,
		Epitaph:   req.Epitaph,
		IsPublic:  req.IsPublic,
	}, nil
}

func parseDate(field, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if t, err := time.Parse(layout, value); err == nil {
			day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
			return &day, nil
		}
	}
	return nil, errInvalid(field + " must be YYYY-MM-DD")
}

func (h *MemorialHandler) decode(w http.ResponseWriter, r *http.Request) (service.MemorialInput, error) {
	var req memorialRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return service.MemorialInput{}, err
	}
	return req.input()
}

func (h *MemorialHandler) Create(w http.ResponseWriter, r *http.Request) {
	in, err := h.decode(w, r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	m, err := h.memorials.Create(r.Context(), actor(r), in)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]any{"memorial": m})
}

func (h *MemorialHandler) Get(w http.ResponseWriter, r *http.Request) {
	m, err := h.memorials.Get(r.Context(), actor(r), chi.URLParam(r, "ref"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"memorial": m})
}

func (h *MemorialHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	list, err := h.memorials.ListMine(r.Context(), actor(r))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"memorials": list})
}

func (h *MemorialHandler) Update(w http.ResponseWriter, r *http.Request) {
	in, err := h.decode(w, r)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	m, err := h.memorials.Update(r.Context(), actor(r), chi.URLParam(r, "ref"), in)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"memorial": m})
}

func (h *MemorialHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.memorials.Delete(r.Context(), actor(r), chi.URLParam(r, "ref")); err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"message": "Memorial deleted"})
}

func actor(r *http.Request) *service.Actor {
	return service.ActorFromClaims(ClaimsFromContext(r.Context()))
}
