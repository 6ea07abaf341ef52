package bsky

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"mutesky/api/internal/auth"
)

// SessionStore persists sessions per DID.
type SessionStore interface {
	SaveSession(ctx context.Context, session Session) error
	LoadSession(ctx context.Context, did string) (Session, bool, error)
	DeleteSession(ctx context.Context, did string) error
}

// Manager keeps one session per DID and refreshes it at most once at a
// time.
type Manager struct {
	client *Client
	store  SessionStore
	skew   time.Duration
	now    func() time.Time
	logger *zap.Logger

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func NewManager(client *Client, store SessionStore, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		client: client,
		store:  store,
		skew:   time.Minute,
		now:    time.Now,
		logger: logger.Named("bsky.sessions"),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Manager) Login(ctx context.Context, identifier, password string) (Session, error) {
	session, err := m.client.CreateSession(ctx, identifier, password)
	if err != nil {
		return Session{}, err
	}
	if err := m.store.SaveSession(ctx, session); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	m.logger.Info("signed in", zap.String("did", session.DID), zap.String("handle", session.Handle))
	return session, nil
}

// Logout revokes the remote session best-effort and forgets it locally.
func (m *Manager) Logout(ctx context.Context, did string) error {
	session, ok, err := m.store.LoadSession(ctx, did)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}
	if ok {
		if err := m.client.DeleteSession(ctx, session.RefreshJwt); err != nil {
			m.logger.Warn("remote sign out failed", zap.String("did", did), zap.Error(err))
		}
	}
	if err := m.store.DeleteSession(ctx, did); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Session returns the stored session, refreshing it first when the access
// token is about to expire.
func (m *Manager) Session(ctx context.Context, did string) (Session, error) {
	session, ok, err := m.store.LoadSession(ctx, did)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return Session{}, ErrNotAuthenticated
	}
	if auth.ExpiresWithin(session.AccessJwt, m.skew, m.now()) {
		refreshed, err := m.Refresh(ctx, did)
		if err == nil {
			return refreshed, nil
		}
		m.logger.Debug("proactive refresh failed, using stored session", zap.String("did", did), zap.Error(err))
	}
	return session, nil
}

// Refresh exchanges the refresh token. A failed refresh signs the user out.
func (m *Manager) Refresh(ctx context.Context, did string) (Session, error) {
	lock := m.didLock(did)
	lock.Lock()
	defer lock.Unlock()

	session, ok, err := m.store.LoadSession(ctx, did)
	if err != nil {
		return Session{}, fmt.Errorf("load session: %w", err)
	}
	if !ok {
		return Session{}, ErrNotAuthenticated
	}
	refreshed, err := m.client.RefreshSession(ctx, session.RefreshJwt)
	if err != nil {
		if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServiceUnavailable) {
			return Session{}, err
		}
		m.logger.Warn("session refresh failed", zap.String("did", did), zap.Error(err))
		if delErr := m.store.DeleteSession(ctx, did); delErr != nil {
			m.logger.Warn("delete stale session", zap.String("did", did), zap.Error(delErr))
		}
		return Session{}, fmt.Errorf("%w: refresh failed: %v", ErrNotAuthenticated, err)
	}
	if refreshed.DID == "" {
		refreshed.DID = did
	}
	if refreshed.Handle == "" {
		refreshed.Handle = session.Handle
	}
	if err := m.store.SaveSession(ctx, refreshed); err != nil {
		return Session{}, fmt.Errorf("save session: %w", err)
	}
	return refreshed, nil
}

func (m *Manager) didLock(did string) *sync.Mutex {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	lock, ok := m.locks[did]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	m.locks[did] = lock
	return lock
}
