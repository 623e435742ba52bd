package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"webgrave/internal/models"
	"webgrave/internal/service"
)

type AdminHandler struct {
	admin *service.AdminService
	auth  Authenticator
}

func NewAdminHandler(admin *service.AdminService, auth Authenticator) *AdminHandler {
	return &AdminHandler{admin: admin, auth: auth}
}

// RegisterRoutes mounts the admin API. The role is checked on every request
// from the token, never from client-side state.
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Route("/admin", func(r chi.Router) {
		r.Use(RequireAuth(h.auth))
		r.Use(RequireAdmin)

		r.Get("/stats", h.Stats)
		r.Get("/users", h.SearchUsers)
		r.Patch("/users/{userID}/role", h.ChangeRole)
		r.Delete("/users/{userID}", h.DeleteUser)
		r.Get("/users/{userID}/events", h.UserEvents)
	})
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.admin.Stats(r.Context())
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"stats": stats})
}

func (h *AdminHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.admin.SearchAccounts(r.Context(), q.Get("q"), queryInt(r, "limit"), q.Get("page"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	body := map[string]any{"users": page.Accounts}
	if page.NextPage != "" {
		body["nextPage"] = page.NextPage
	}
	respondWithJSON(w, http.StatusOK, body)
}

func (h *AdminHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Role models.Role `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		respondWithError(w, r, err)
		return
	}

	actor := ClaimsFromContext(r.Context())
	account, err := h.admin.ChangeRole(r.Context(), actor.UserID, chi.URLParam(r, "userID"), req.Role)
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"user": account.Public()})
}

func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor := ClaimsFromContext(r.Context())
	if err := h.admin.DeleteAccount(r.Context(), actor.UserID, chi.URLParam(r, "userID")); err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"message": "Account deleted"})
}

func (h *AdminHandler) UserEvents(w http.ResponseWriter, r *http.Request) {
	events, err := h.admin.RecentEvents(r.Context(), chi.URLParam(r, "userID"), queryInt(r, "limit"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]any{"events": events})
}

// queryInt returns 0 for a missing or malformed parameter.
func queryInt(r *http.Request, key string) int {
	n, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return n
}
