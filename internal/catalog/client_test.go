package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xolohq/xolo/internal/xolo"
	"github.com/xolohq/xolo/internal/xoloerr"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Config{BaseURL: srv.URL, Token: "test-token", Timeout: 2 * time.Second}, nil)
}

func TestHTTPClient_TitleExists(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/titles/firefox" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	})

	exists, err := c.TitleExists(context.Background(), "firefox")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = c.TitleExists(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestHTTPClient_CreateTitle(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		var spec TitleSpec
		require.NoError(t, json.NewDecoder(r.Body).Decode(&spec))
		assert.Equal(t, "firefox", spec.Slug)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"id": "cat-123"})
	})

	id, err := c.CreateTitle(context.Background(), TitleSpec{Slug: "firefox", DisplayName: "Firefox"})
	require.NoError(t, err)
	assert.Equal(t, "cat-123", id)
}

func TestHTTPClient_SetRequirement(t *testing.T) {
	var captured requirementPayload
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	})

	err := c.SetRequirement(context.Background(), "firefox", xolo.NewEARequirement("#!/bin/sh\necho 1"))
	require.NoError(t, err)
	assert.Equal(t, xolo.RequirementEA, captured.Kind)
	assert.Equal(t, "#!/bin/sh\necho 1", captured.Script)
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   xoloerr.Kind
	}{
		{http.StatusNotFound, xoloerr.NotFound},
		{http.StatusConflict, xoloerr.AlreadyExists},
		{http.StatusServiceUnavailable, xoloerr.Unavailable},
		{http.StatusBadRequest, xoloerr.InvalidData},
	}
	for _, c := range cases {
		status := c.status
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte("boom"))
		})
		err := client.DeleteTitle(context.Background(), "firefox")
		require.Error(t, err)
		assert.True(t, xoloerr.Is(err, c.kind), "status %d should map to kind %s, got %v", status, c.kind, err)
	}
}

func TestHTTPClient_PatchVisibility(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(Visibility{Version: "1.0.0", Visible: true})
	})

	vis, err := c.PatchVisibility(context.Background(), "firefox", "1.0.0")
	require.NoError(t, err)
	assert.True(t, vis.Visible)
}
