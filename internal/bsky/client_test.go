package bsky

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{name: "unauthorized", status: 401, body: `{"error":"AuthRequired"}`, want: ErrSessionExpired},
		{name: "expired token on 400", status: 400, body: `{"error":"ExpiredToken","message":"Token has expired"}`, want: ErrSessionExpired},
		{name: "rate limited", status: 429, body: `{}`, want: ErrRateLimited},
		{name: "bad gateway", status: 502, body: ``, want: ErrServiceUnavailable},
		{name: "unavailable", status: 503, body: ``, want: ErrServiceUnavailable},
		{name: "gateway timeout", status: 504, body: ``, want: ErrServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := statusError(tc.status, []byte(tc.body))
			assert.True(t, errors.Is(err, tc.want), "got %v", err)
		})
	}

	var xrpcErr *XRPCError
	err := statusError(400, []byte(`{"error":"InvalidRequest","message":"bad"}`))
	require.True(t, errors.As(err, &xrpcErr))
	assert.Equal(t, "InvalidRequest", xrpcErr.Name)
	assert.Equal(t, "xrpc 400 InvalidRequest: bad", err.Error())
}

func TestCreateSession(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.server.createSession", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["password"] != "app-pass" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`))
			return
		}
		_, _ = w.Write([]byte(`{"did":"did:plc:alice","handle":"alice.bsky.social","accessJwt":"a1","refreshJwt":"r1"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	session, err := client.CreateSession(context.Background(), "alice.bsky.social", "app-pass")
	require.NoError(t, err)
	assert.Equal(t, Session{DID: "did:plc:alice", Handle: "alice.bsky.social", AccessJwt: "a1", RefreshJwt: "r1"}, session)

	_, err = client.CreateSession(context.Background(), "alice.bsky.social", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestPreferencesPassThrough(t *testing.T) {
	var put []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer a1", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/xrpc/app.bsky.actor.getPreferences":
			_, _ = w.Write([]byte(`{"preferences":[{"$type":"app.bsky.actor.defs#adultContentPref","enabled":true}]}`))
		case "/xrpc/app.bsky.actor.putPreferences":
			var body struct {
				Preferences json.RawMessage `json:"preferences"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			put = body.Preferences
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := NewClient(server.URL, time.Second, nil)
	session := Session{DID: "did:plc:alice", AccessJwt: "a1"}
	prefs, err := client.GetPreferences(context.Background(), session)
	require.NoError(t, err)
	require.Len(t, prefs, 1)

	require.NoError(t, client.PutPreferences(context.Background(), session, prefs))
	assert.JSONEq(t, `[{"$type":"app.bsky.actor.defs#adultContentPref","enabled":true}]`, string(put))
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newMemoryStore() *memoryStore {
	return &memoryStore{sessions: make(map[string]Session)}
}

func (m *memoryStore) SaveSession(_ context.Context, session Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.DID] = session
	return nil
}

func (m *memoryStore) LoadSession(_ context.Context, did string) (Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[did]
	return session, ok, nil
}

func (m *memoryStore) DeleteSession(_ context.Context, did string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, did)
	return nil
}

func accessToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "did:plc:alice",
		"exp": exp.Unix(),
	}).SignedString([]byte("pds-secret"))
	require.NoError(t, err)
	return token
}

func TestManagerRefreshesExpiringSession(t *testing.T) {
	var refreshes int
	fresh := accessToken(t, time.Now().Add(2*time.Hour))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/xrpc/com.atproto.server.refreshSession", r.URL.Path)
		assert.Equal(t, "Bearer r1", r.Header.Get("Authorization"))
		refreshes++
		_, _ = fmt.Fprintf(w, `{"did":"did:plc:alice","handle":"alice.bsky.social","accessJwt":%q,"refreshJwt":"r2"}`, fresh)
	}))
	defer server.Close()

	store := newMemoryStore()
	require.NoError(t, store.SaveSession(context.Background(), Session{
		DID:        "did:plc:alice",
		Handle:     "alice.bsky.social",
		AccessJwt:  accessToken(t, time.Now().Add(10*time.Second)),
		RefreshJwt: "r1",
	}))
	manager := NewManager(NewClient(server.URL, time.Second, nil), store, nil)

	session, err := manager.Session(context.Background(), "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, "r2", session.RefreshJwt)
	assert.Equal(t, 1, refreshes)

	session, err = manager.Session(context.Background(), "did:plc:alice")
	require.NoError(t, err)
	assert.Equal(t, fresh, session.AccessJwt)
	assert.Equal(t, 1, refreshes, "a fresh token is not refreshed again")
}

func TestManagerFailedRefreshSignsOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"ExpiredToken","message":"Token has been revoked"}`))
	}))
	defer server.Close()

	store := newMemoryStore()
	require.NoError(t, store.SaveSession(context.Background(), Session{DID: "did:plc:alice", RefreshJwt: "r1"}))
	manager := NewManager(NewClient(server.URL, time.Second, nil), store, nil)

	_, err := manager.Refresh(context.Background(), "did:plc:alice")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
	_, ok, _ := store.LoadSession(context.Background(), "did:plc:alice")
	assert.False(t, ok)

	_, err = manager.Session(context.Background(), "did:plc:alice")
	assert.ErrorIs(t, err, ErrNotAuthenticated)
}

func TestManagerLogoutIsBestEffortRemotely(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	store := newMemoryStore()
	require.NoError(t, store.SaveSession(context.Background(), Session{DID: "did:plc:alice", RefreshJwt: "r1"}))
	manager := NewManager(NewClient(server.URL, time.Second, nil), store, nil)

	require.NoError(t, manager.Logout(context.Background(), "did:plc:alice"))
	_, ok, _ := store.LoadSession(context.Background(), "did:plc:alice")
	assert.False(t, ok)
}
