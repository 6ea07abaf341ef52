package mutes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"mutesky/api/internal/bsky"
)

// PreferenceStore is the remote side of the muted-words list.
type PreferenceStore interface {
	GetPreferences(ctx context.Context, session bsky.Session) ([]json.RawMessage, error)
	PutPreferences(ctx context.Context, session bsky.Session, preferences []json.RawMessage) error
}

// Sessions hands out the current session and refreshes it on demand.
type Sessions interface {
	Session(ctx context.Context, did string) (bsky.Session, error)
	Refresh(ctx context.Context, did string) (bsky.Session, error)
}

type Syncer struct {
	prefs    PreferenceStore
	sessions Sessions
	now      func() time.Time
	logger   *zap.Logger
}

func NewSyncer(prefs PreferenceStore, sessions Sessions, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		prefs:    prefs,
		sessions: sessions,
		now:      time.Now,
		logger:   logger.Named("mutes"),
	}
}

// Fetch reads the remote muted words.
func (s *Syncer) Fetch(ctx context.Context, did string) ([]MutedWord, error) {
	var words []MutedWord
	err := s.withSession(ctx, did, func(session bsky.Session) error {
		prefs, err := s.prefs.GetPreferences(ctx, session)
		if err != nil {
			return err
		}
		words = MutedWords(prefs)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return words, nil
}

// Push reads the preferences, merges local into the muted words and writes
// the result back. The whole read-modify-write is retried once after a
// session refresh.
func (s *Syncer) Push(ctx context.Context, did string, local []string, universe Universe, settings Settings) ([]MutedWord, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	var merged []MutedWord
	err := s.withSession(ctx, did, func(session bsky.Session) error {
		prefs, err := s.prefs.GetPreferences(ctx, session)
		if err != nil {
			return err
		}
		merged = Merge(local, universe, MutedWords(prefs), settings, s.now())
		updated, err := WithMutedWords(prefs, merged)
		if err != nil {
			return err
		}
		return s.prefs.PutPreferences(ctx, session, updated)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("muted words pushed", zap.String("did", did), zap.Int("items", len(merged)))
	return merged, nil
}

func (s *Syncer) withSession(ctx context.Context, did string, fn func(bsky.Session) error) error {
	session, err := s.sessions.Session(ctx, did)
	if err != nil {
		return err
	}
	err = fn(session)
	if !errors.Is(err, bsky.ErrSessionExpired) {
		return err
	}

	s.logger.Info("session expired, refreshing", zap.String("did", did))
	refreshed, err := s.sessions.Refresh(ctx, did)
	if err != nil {
		return err
	}
	err = fn(refreshed)
	if errors.Is(err, bsky.ErrSessionExpired) {
		return fmt.Errorf("%w: %v", bsky.ErrNotAuthenticated, err)
	}
	return err
}
