// Package authsvc implements the session/authorization model: a
// credential is validated by attempting a connection to Fleet's own auth
// endpoint, and authorization is decided entirely by Jamf-group membership
// reported back by Fleet — Xolo stores no passwords and owns no user
// database of its own.
package authsvc

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/xolohq/xolo/internal/fleet"
	"github.com/xolohq/xolo/internal/xoloconfig"
	"github.com/xolohq/xolo/internal/xoloerr"
)

// DefaultSessionTTL bounds how long a successful login stays valid without
// re-authenticating, on the same order of magnitude as the entity lock
// TTL for an admin tool.
const DefaultSessionTTL = 8 * time.Hour

// Session is one authenticated admin's state, keyed by an opaque token
// handed back as a cookie value.
type Session struct {
	Principal string
	ExpiresAt time.Time
}

func (s Session) expired(now time.Time) bool { return now.After(s.ExpiresAt) }

// Manager owns the in-process session table and the two authorization
// checks names: membership in the general admin_jamf_group
// (any authenticated route) and the server_admin_jamf_group (the
// server-admin route subset).
type Manager struct {
	fleet         fleet.Client
	ttl           time.Duration
	serverAdmin   string
	allowedGroups []string
	internalToken string

	mu       sync.Mutex
	sessions map[string]Session
}

// New builds a Manager. internalToken is the per-process 128-hex bearer
// token internal-route callers must present; it is generated
// once at process start by cmd/xolo-server.
func New(fleetClient fleet.Client, cfg xoloconfig.AuthConfig, internalToken string) *Manager {
	return &Manager{
		fleet:         fleetClient,
		ttl:           DefaultSessionTTL,
		serverAdmin:   cfg.AdminGroup,
		allowedGroups: cfg.AllowedGroups,
		internalToken: internalToken,
		sessions:      make(map[string]Session),
	}
}

// InternalToken returns the bearer token internal routes compare against.
func (m *Manager) InternalToken() string { return m.internalToken }

// Login validates username/password against Fleet and, on success, mints
// a new session token.
func (m *Manager) Login(ctx context.Context, username, password string) (string, error) {
	if username == "" || password == "" {
		return "", xoloerr.InvalidDataf("username and password are required")
	}
	sess, err := m.fleet.Login(ctx, username, password)
	if err != nil {
		return "", xoloerr.Wrap(xoloerr.InvalidData, "credential validation failed", err)
	}

	token, err := newToken()
	if err != nil {
		return "", xoloerr.Wrap(xoloerr.Server, "failed to mint session token", err)
	}

	m.mu.Lock()
	m.sessions[token] = Session{Principal: sess.Principal, ExpiresAt: time.Now().Add(m.ttl)}
	m.mu.Unlock()
	return token, nil
}

// Logout invalidates token, if present.
func (m *Manager) Logout(token string) {
	m.mu.Lock()
	delete(m.sessions, token)
	m.mu.Unlock()
}

// Lookup resolves a session cookie value to its Session, returning false if
// the token is unknown or expired. Expired entries are swept lazily here
// rather than by a background timer, since session churn is low-volume
// compared to lockmgr's entity locks.
func (m *Manager) Lookup(token string) (Session, bool) {
	if token == "" {
		return Session{}, false
	}
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[token]
	if !ok {
		return Session{}, false
	}
	if sess.expired(now) {
		delete(m.sessions, token)
		return Session{}, false
	}
	return sess, true
}

// IsServerAdmin reports whether principal belongs to the configured
// server_admin_jamf_group, gating the server-admin routes.
func (m *Manager) IsServerAdmin(ctx context.Context, principal string) (bool, error) {
	if m.serverAdmin == "" {
		return false, nil
	}
	return m.fleet.IsGroupMember(ctx, m.serverAdmin, principal)
}

// IsAuthorized reports whether principal belongs to any of the configured
// admin_jamf_group equivalents — membership in any one group is sufficient
// to use the rest of the API. Server admins are implicitly authorized
// even if they are not separately listed in allowedGroups.
func (m *Manager) IsAuthorized(ctx context.Context, principal string) (bool, error) {
	if ok, err := m.IsServerAdmin(ctx, principal); err != nil {
		return false, err
	} else if ok {
		return true, nil
	}
	for _, group := range m.allowedGroups {
		member, err := m.fleet.IsGroupMember(ctx, group, principal)
		if err != nil {
			return false, err
		}
		if member {
			return true, nil
		}
	}
	return false, nil
}

func newToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
