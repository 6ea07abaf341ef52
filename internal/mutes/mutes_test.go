package mutes

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mutesky/api/internal/bsky"
)

type universe map[string]struct{}

func (u universe) Managed(keyword string) bool {
	_, ok := u[strings.ToLower(keyword)]
	return ok
}

func newUniverse(values ...string) universe {
	u := universe{}
	for _, value := range values {
		u[strings.ToLower(value)] = struct{}{}
	}
	return u
}

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func remoteWords(t *testing.T, items string) []MutedWord {
	t.Helper()
	pref := json.RawMessage(`{"$type":"app.bsky.actor.defs#mutedWordsPref","items":` + items + `}`)
	return MutedWords([]json.RawMessage{pref})
}

func TestMergeLeavesForeignWordsUntouched(t *testing.T) {
	remote := remoteWords(t, `[
		{"value":"spoilers","targets":["tag"],"actorTarget":"all","expiresAt":"2030-01-01T00:00:00.000Z","extra":1},
		{"value":"Election Fraud","targets":["content"],"id":"3kabc"},
		{"value":"my-custom","targets":["content","tag"]}
	]`)
	require.Len(t, remote, 3)

	merged := Merge([]string{"Senate", "election fraud"}, newUniverse("Election Fraud", "Senate", "Ballot"), remote, DefaultSettings(), now)
	require.Len(t, merged, 4)

	assert.Equal(t, []string{"spoilers", "my-custom", "election fraud", "Senate"}, Values(merged))
	first, err := json.Marshal(merged[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"spoilers","targets":["tag"],"actorTarget":"all","expiresAt":"2030-01-01T00:00:00.000Z","extra":1}`, string(first))

	assert.Equal(t, "3kabc", merged[2].ID, "managed word keeps its remote id")
	assert.Equal(t, []string{"content", "tag"}, merged[3].Targets)
	assert.Equal(t, "all", merged[3].ActorTarget)
	assert.Nil(t, merged[3].ExpiresAt)
}

func TestMergeNeverAddsUnmanagedLocalWords(t *testing.T) {
	merged := Merge([]string{"not-in-catalog", "Ballot", "BALLOT"}, newUniverse("Ballot"), nil, DefaultSettings(), now)
	assert.Equal(t, []string{"Ballot"}, Values(merged))
}

func TestMergeRemovesDeselectedManagedWords(t *testing.T) {
	remote := remoteWords(t, `[{"value":"Ballot","targets":["content","tag"]},{"value":"cats","targets":["tag"]}]`)
	merged := Merge(nil, newUniverse("Ballot"), remote, DefaultSettings(), now)
	assert.Equal(t, []string{"cats"}, Values(merged))
}

func TestMergeAppliesSettings(t *testing.T) {
	settings := Settings{Duration: Duration7d, Scope: ScopeTagsOnly, ExcludeFollows: true}
	merged := Merge([]string{"Ballot"}, newUniverse("Ballot"), nil, settings, now)
	require.Len(t, merged, 1)

	payload, err := json.Marshal(merged[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":"Ballot","targets":["tag"],"actorTarget":"exclude-following","expiresAt":"2024-03-08T12:00:00Z"}`, string(payload))
}

func TestMergeIsDeterministic(t *testing.T) {
	remote := remoteWords(t, `[{"value":"cats","targets":["tag"]},{"value":"Senate","targets":["tag"]}]`)
	u := newUniverse("Senate", "Ballot")
	first := Merge([]string{"Ballot", "Senate"}, u, remote, DefaultSettings(), now)
	second := Merge([]string{"Senate", "Ballot"}, u, remote, DefaultSettings(), now)
	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	assert.JSONEq(t, string(a), string(b))
}

func TestSettingsValidate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())
	assert.ErrorIs(t, Settings{Duration: "1y", Scope: ScopeTagsOnly}.Validate(), ErrInvalidSettings)
	assert.ErrorIs(t, Settings{Duration: DurationForever, Scope: "everything"}.Validate(), ErrInvalidSettings)
	assert.Nil(t, DefaultSettings().Expiry(now))
	assert.Equal(t, now.Add(24*time.Hour), *Settings{Duration: Duration24h}.Expiry(now))
}

func TestWithMutedWordsKeepsOtherPreferences(t *testing.T) {
	prefs := []json.RawMessage{
		json.RawMessage(`{"$type":"app.bsky.actor.defs#adultContentPref","enabled":false}`),
		json.RawMessage(`{"$type":"app.bsky.actor.defs#mutedWordsPref","items":[]}`),
	}
	updated, err := WithMutedWords(prefs, []MutedWord{{Value: "Ballot", Targets: []string{"tag"}}})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.Equal(t, string(prefs[0]), string(updated[0]))
	assert.Equal(t, []string{"Ballot"}, Values(MutedWords(updated)))

	created, err := WithMutedWords(prefs[:1], nil)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.JSONEq(t, `{"$type":"app.bsky.actor.defs#mutedWordsPref","items":[]}`, string(created[1]))
}

type fakePrefs struct {
	getFn func(session bsky.Session) ([]json.RawMessage, error)
	putFn func(session bsky.Session, prefs []json.RawMessage) error
}

func (f *fakePrefs) GetPreferences(_ context.Context, session bsky.Session) ([]json.RawMessage, error) {
	return f.getFn(session)
}

func (f *fakePrefs) PutPreferences(_ context.Context, session bsky.Session, prefs []json.RawMessage) error {
	return f.putFn(session, prefs)
}

type fakeSessions struct {
	current   bsky.Session
	refreshFn func() (bsky.Session, error)
	refreshes int
}

func (f *fakeSessions) Session(context.Context, string) (bsky.Session, error) {
	return f.current, nil
}

func (f *fakeSessions) Refresh(context.Context, string) (bsky.Session, error) {
	f.refreshes++
	return f.refreshFn()
}

func TestPushRetriesOnceAfterRefresh(t *testing.T) {
	var written []json.RawMessage
	prefs := &fakePrefs{
		getFn: func(session bsky.Session) ([]json.RawMessage, error) {
			if session.AccessJwt != "fresh" {
				return nil, bsky.ErrSessionExpired
			}
			return []json.RawMessage{json.RawMessage(`{"$type":"app.bsky.actor.defs#mutedWordsPref","items":[{"value":"cats","targets":["tag"]}]}`)}, nil
		},
		putFn: func(session bsky.Session, p []json.RawMessage) error {
			written = p
			return nil
		},
	}
	sessions := &fakeSessions{
		current:   bsky.Session{DID: "did:plc:alice", AccessJwt: "stale"},
		refreshFn: func() (bsky.Session, error) { return bsky.Session{DID: "did:plc:alice", AccessJwt: "fresh"}, nil },
	}
	syncer := NewSyncer(prefs, sessions, nil)
	syncer.now = func() time.Time { return now }

	merged, err := syncer.Push(context.Background(), "did:plc:alice", []string{"Ballot"}, newUniverse("Ballot"), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 1, sessions.refreshes)
	assert.Equal(t, []string{"cats", "Ballot"}, Values(merged))
	assert.Equal(t, []string{"cats", "Ballot"}, Values(MutedWords(written)))
}

func TestPushGivesUpAfterSecondExpiry(t *testing.T) {
	prefs := &fakePrefs{
		getFn: func(bsky.Session) ([]json.RawMessage, error) { return nil, bsky.ErrSessionExpired },
		putFn: func(bsky.Session, []json.RawMessage) error { t.Fatal("must not write"); return nil },
	}
	sessions := &fakeSessions{
		refreshFn: func() (bsky.Session, error) { return bsky.Session{AccessJwt: "fresh"}, nil },
	}
	_, err := NewSyncer(prefs, sessions, nil).Push(context.Background(), "did:plc:alice", nil, newUniverse(), DefaultSettings())
	assert.ErrorIs(t, err, bsky.ErrNotAuthenticated)
	assert.Equal(t, 1, sessions.refreshes)
}

func TestFetchSurfacesRefreshFailure(t *testing.T) {
	prefs := &fakePrefs{
		getFn: func(bsky.Session) ([]json.RawMessage, error) { return nil, bsky.ErrSessionExpired },
	}
	sessions := &fakeSessions{
		refreshFn: func() (bsky.Session, error) { return bsky.Session{}, bsky.ErrNotAuthenticated },
	}
	_, err := NewSyncer(prefs, sessions, nil).Fetch(context.Background(), "did:plc:alice")
	assert.True(t, errors.Is(err, bsky.ErrNotAuthenticated))
}

func TestPushPassesThroughRateLimit(t *testing.T) {
	prefs := &fakePrefs{
		getFn: func(bsky.Session) ([]json.RawMessage, error) { return nil, bsky.ErrRateLimited },
	}
	sessions := &fakeSessions{}
	_, err := NewSyncer(prefs, sessions, nil).Push(context.Background(), "did:plc:alice", nil, newUniverse(), DefaultSettings())
	assert.ErrorIs(t, err, bsky.ErrRateLimited)
	assert.Equal(t, 0, sessions.refreshes)
}
