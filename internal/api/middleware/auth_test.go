package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xolohq/xolo/internal/api/authsvc"
)

type fakeAuthenticator struct {
	token    string
	sessions map[string]authsvc.Session
	admins   map[string]bool
	members  map[string]bool
}

func (f *fakeAuthenticator) Lookup(token string) (authsvc.Session, bool) {
	s, ok := f.sessions[token]
	return s, ok
}
func (f *fakeAuthenticator) IsServerAdmin(ctx context.Context, principal string) (bool, error) {
	return f.admins[principal], nil
}
func (f *fakeAuthenticator) IsAuthorized(ctx context.Context, principal string) (bool, error) {
	return f.admins[principal] || f.members[principal], nil
}
func (f *fakeAuthenticator) InternalToken() string { return f.token }

func newOKHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoAuthRoutesPassThrough(t *testing.T) {
	auth := &fakeAuthenticator{sessions: map[string]authsvc.Session{}}
	h := AuthMiddleware(auth)(newOKHandler())

	for _, path := range []string{"/ping", "/auth/login", "/ping/extra"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}
}

func TestAuthMiddleware_InternalRouteRequiresLoopbackAndToken(t *testing.T) {
	auth := &fakeAuthenticator{token: "sekret", sessions: map[string]authsvc.Session{}}
	h := AuthMiddleware(auth)(newOKHandler())

	req := httptest.NewRequest(http.MethodPost, "/maint/cleanup-internal", nil)
	req.RemoteAddr = "127.0.0.1:54321"
	req.Header.Set(AuthorizationHeader, "Bearer sekret")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req2 := httptest.NewRequest(http.MethodPost, "/maint/cleanup-internal", nil)
	req2.RemoteAddr = "10.0.0.5:54321"
	req2.Header.Set(AuthorizationHeader, "Bearer sekret")
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusUnauthorized, w2.Code, "non-loopback source must be rejected")

	req3 := httptest.NewRequest(http.MethodPost, "/maint/cleanup-internal", nil)
	req3.RemoteAddr = "127.0.0.1:54321"
	req3.Header.Set(AuthorizationHeader, "Bearer wrong")
	w3 := httptest.NewRecorder()
	h.ServeHTTP(w3, req3)
	assert.Equal(t, http.StatusUnauthorized, w3.Code, "wrong token must be rejected")
}

func TestAuthMiddleware_ServerAdminRouteRequiresServerAdminGroup(t *testing.T) {
	auth := &fakeAuthenticator{
		sessions: map[string]authsvc.Session{"tok1": {Principal: "alice"}, "tok2": {Principal: "bob"}},
		admins:   map[string]bool{"alice": true},
		members:  map[string]bool{"bob": true},
	}
	h := AuthMiddleware(auth)(newOKHandler())

	req := httptest.NewRequest(http.MethodGet, "/state", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok1"})
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "server admin should reach /state")

	req2 := httptest.NewRequest(http.MethodGet, "/state", nil)
	req2.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok2"})
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusForbidden, w2.Code, "general admin must not reach /state")
}

func TestAuthMiddleware_DefaultRouteRequiresSession(t *testing.T) {
	auth := &fakeAuthenticator{
		sessions: map[string]authsvc.Session{"tok2": {Principal: "bob"}},
		members:  map[string]bool{"bob": true},
	}
	h := AuthMiddleware(auth)(newOKHandler())

	req := httptest.NewRequest(http.MethodPost, "/titles", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "missing session must 401")

	req2 := httptest.NewRequest(http.MethodPost, "/titles", nil)
	req2.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "tok2"})
	w2 := httptest.NewRecorder()
	h.ServeHTTP(w2, req2)
	assert.Equal(t, http.StatusOK, w2.Code)
}
