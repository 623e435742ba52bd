package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorialRoutes(t *testing.T) {
	s := newTestServer(t)
	_, owner := s.login("owner@x.com")
	_, other := s.login("other@x.com")

	status, body := s.do(http.MethodPost, "/api/memorials", owner, map[string]any{
		"fullName": "Jane Doe", "birthDate": "1930-01-02", "deathDate": "2020-03-04", "isPublic": false,
	})
	require.Equal(t, http.StatusCreated, status, body)
	m := body["memorial"].(map[string]any)
	id, slug := m["id"].(string), m["slug"].(string)
	assert.Equal(t, "1930-01-02T00:00:00Z", m["birthDate"])

	status, _ = s.do(http.MethodGet, "/api/memorials/"+slug, "", nil)
	assert.Equal(t, http.StatusNotFound, status, "private memorials are hidden from anonymous callers")
	status, _ = s.do(http.MethodGet, "/api/memorials/"+slug, other, nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = s.do(http.MethodGet, "/api/memorials/"+slug, owner, nil)
	assert.Equal(t, http.StatusOK, status)

	status, body = s.do(http.MethodPut, "/api/memorials/"+id, owner, map[string]any{"fullName": "Jane Doe", "isPublic": true})
	require.Equal(t, http.StatusOK, status, body)

	status, _ = s.do(http.MethodGet, "/api/memorials/"+id, "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = s.do(http.MethodDelete, "/api/memorials/"+id, other, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, body = s.do(http.MethodGet, "/api/memorials", owner, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["memorials"], 1)

	status, _ = s.do(http.MethodDelete, "/api/memorials/"+id, owner, nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestMemorialRoutes_Validation(t *testing.T) {
	s := newTestServer(t)
	_, owner := s.login("owner@x.com")

	status, body := s.do(http.MethodPost, "/api/memorials", owner, map[string]any{"fullName": "Jane", "birthDate": "02/01/1930"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "invalid_input", body["error"])

	status, _ = s.do(http.MethodPost, "/api/memorials", "", map[string]any{"fullName": "Jane"})
	assert.Equal(t, http.StatusUnauthorized, status)
}
