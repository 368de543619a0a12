package fleet

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"context"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewHTTPClient(Config{BaseURL: srv.URL, Token: "test-token", Timeout: 2 * time.Second}, nil)
}

func TestHTTPClient_Login(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/login", r.URL.Path)
		var payload struct {
			Username string `json:"username"`
			Password string `json:"password"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "admin", payload.Username)
		json.NewEncoder(w).Encode(Session{Principal: "admin"})
	})

	sess, err := c.Login(context.Background(), "admin", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "admin", sess.Principal)
}

func TestHTTPClient_CreateGroup(t *testing.T) {
	var captured struct {
		Name     string                 `json:"name"`
		Kind     GroupKind              `json:"kind"`
		Criteria map[string]interface{} `json:"criteria,omitempty"`
	}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		json.NewEncoder(w).Encode(map[string]string{"id": "grp-1"})
	})

	id, err := c.CreateGroup(context.Background(), "xolo-firefox-installed", GroupSmart, map[string]interface{}{"type": "application_bundle_id"})
	require.NoError(t, err)
	assert.Equal(t, "grp-1", id)
	assert.Equal(t, GroupSmart, captured.Kind)
}

func TestHTTPClient_UpdatePolicy(t *testing.T) {
	var captured PolicyUpdate
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.WriteHeader(http.StatusOK)
	})

	allow := true
	err := c.UpdatePolicy(context.Background(), "pol-1", PolicyUpdate{AllowDowngrade: &allow})
	require.NoError(t, err)
	require.NotNil(t, captured.AllowDowngrade)
	assert.True(t, *captured.AllowDowngrade)
}

func TestHTTPClient_IsGroupMemberMapsNotFoundToFalse(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	member, err := c.IsGroupMember(context.Background(), "grp-1", "client-1")
	require.NoError(t, err)
	assert.False(t, member)
}

func TestHTTPClient_UploadPackageMissingSourceIsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("upload tool path should never reach the HTTP server")
	})

	err := c.UploadPackage(context.Background(), "pkg-1", "/nonexistent/path/to/installer.pkg")
	require.Error(t, err)
}

func TestHTTPClient_ErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		kind   string
	}{
		{http.StatusNotFound, "not_found"},
		{http.StatusConflict, "already_exists"},
		{http.StatusServiceUnavailable, "unavailable"},
		{http.StatusBadRequest, "invalid_data"},
	}
	for _, tc := range cases {
		status := tc.status
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			w.Write([]byte("boom"))
		})
		err := c.DeletePolicy(context.Background(), "pol-1")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fleet", "status %d", status)
	}
}
