package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdminRoutes_RequireAdminRole(t *testing.T) {
	s := newTestServer(t)
	_, userToken := s.login("user@x.com")

	status, body := s.do(http.MethodGet, "/api/admin/stats", userToken, nil)
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "permission_denied", body["error"])

	status, _ = s.do(http.MethodGet, "/api/admin/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestAdminRoutes(t *testing.T) {
	s := newTestServer(t)
	adminID, _ := s.login("admin@x.com")
	adminToken := s.promote(adminID, "admin@x.com")
	userID, _ := s.login("user@x.com")
	s.register("pending@x.com")

	status, body := s.do(http.MethodGet, "/api/admin/stats", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 3, stats["total"])
	assert.EqualValues(t, 2, stats["verified"])
	assert.EqualValues(t, 1, stats["admins"])

	status, body = s.do(http.MethodGet, "/api/admin/users?limit=2", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["users"], 2)
	next, ok := body["nextPage"].(string)
	require.True(t, ok)

	status, body = s.do(http.MethodGet, "/api/admin/users?limit=2&page="+next, adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["users"], 1)

	// "LTE" is the URL-safe encoding of offset -1.
	status, body = s.do(http.MethodGet, "/api/admin/users?page=LTE", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", body["error"])

	status, body = s.do(http.MethodPatch, "/api/admin/users/"+adminID+"/role", adminToken, map[string]string{"role": "user"})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "permission_denied", body["error"])

	status, body = s.do(http.MethodPatch, "/api/admin/users/"+userID+"/role", adminToken, map[string]string{"role": "admin"})
	require.Equal(t, http.StatusOK, status, body)
	assert.Equal(t, "admin", body["user"].(map[string]any)["role"])

	status, body = s.do(http.MethodGet, "/api/admin/users/"+userID+"/events", adminToken, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, body["events"])

	status, _ = s.do(http.MethodDelete, "/api/admin/users/"+userID, adminToken, nil)
	require.Equal(t, http.StatusOK, status)

	status, body = s.do(http.MethodDelete, "/api/admin/users/"+userID, adminToken, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", body["error"])
}
