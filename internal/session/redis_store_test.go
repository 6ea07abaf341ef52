package session

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"mutesky/api/internal/bsky"
	"mutesky/api/internal/mutes"
	"mutesky/api/internal/selection"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestNewRedisStore(t *testing.T) {
	s := miniredis.RunT(t)
	defer s.Close()

	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("NewRedisStore failed: %v", err)
	}
	defer store.Close()

	if err := store.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestNewRedisStoreBadURL(t *testing.T) {
	if _, err := NewRedisStore("not a url"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveLoadDeleteSession(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	want := bsky.Session{DID: "did:plc:alice", Handle: "alice.bsky.social", AccessJwt: "a1", RefreshJwt: "r1"}
	if err := store.SaveSession(ctx, want); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if ttl := s.TTL(sessionPrefix + want.DID); ttl != sessionTTL {
		t.Errorf("expected ttl %v, got %v", sessionTTL, ttl)
	}

	got, ok, err := store.LoadSession(ctx, want.DID)
	if err != nil || !ok {
		t.Fatalf("LoadSession failed: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}

	if err := store.DeleteSession(ctx, want.DID); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if _, ok, _ := store.LoadSession(ctx, want.DID); ok {
		t.Error("expected session to be gone")
	}
}

func TestSaveSessionRequiresDID(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	if err := store.SaveSession(context.Background(), bsky.Session{Handle: "nobody"}); err == nil {
		t.Fatal("expected error for session without did")
	}
}

func TestSessionExpires(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.SaveSession(ctx, bsky.Session{DID: "did:plc:bob"}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	s.FastForward(sessionTTL + time.Second)

	if _, ok, err := store.LoadSession(ctx, "did:plc:bob"); ok || err != nil {
		t.Errorf("expected expired session, ok=%v err=%v", ok, err)
	}
}

func TestSelectionRoundTrip(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if _, ok, err := store.LoadSelection(ctx, "did:plc:alice"); ok || err != nil {
		t.Fatalf("expected no selection, ok=%v err=%v", ok, err)
	}

	lastModified := "Dec 1, 2023 9:00 PM"
	want := selection.Snapshot{
		ActiveKeywords:     []string{"Ballot", "Senate"},
		SelectedContexts:   []string{"news"},
		SelectedExceptions: []string{"Sports"},
		ManuallyUnchecked:  []string{"Filibuster"},
		Mode:               "simple",
		TargetKeywordCount: 300,
		FilterLevel:        1,
		LastModified:       &lastModified,
	}
	if err := store.SaveSelection(ctx, "did:plc:alice", want); err != nil {
		t.Fatalf("SaveSelection failed: %v", err)
	}
	got, ok, err := store.LoadSelection(ctx, "did:plc:alice")
	if err != nil || !ok {
		t.Fatalf("LoadSelection failed: ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(want, got) {
		t.Errorf("expected %+v, got %+v", want, got)
	}
	if ttl := s.TTL(selectionPrefix + "did:plc:alice"); ttl != 0 {
		t.Errorf("selection must not expire, ttl %v", ttl)
	}
}

func TestLoadSelectionCorrupt(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	if err := s.Set(selectionPrefix+"did:plc:alice", "{not json"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := store.LoadSelection(context.Background(), "did:plc:alice"); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestSettingsDefaultAndSave(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	got, err := store.LoadSettings(ctx, "did:plc:alice")
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if got != mutes.DefaultSettings() {
		t.Errorf("expected defaults, got %+v", got)
	}

	want := mutes.Settings{Duration: mutes.Duration7d, Scope: mutes.ScopeTagsOnly, ExcludeFollows: true}
	if err := store.SaveSettings(ctx, "did:plc:alice", want); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	got, err = store.LoadSettings(ctx, "did:plc:alice")
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}

func TestRevokeToken(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()

	ctx := context.Background()
	if err := store.RevokeToken(ctx, "hash-1", time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if err := store.RevokeToken(ctx, "hash-2", time.Now().Add(-time.Hour)); err != nil {
		t.Fatalf("RevokeToken for expired token failed: %v", err)
	}

	cases := []struct {
		hash string
		want bool
	}{
		{"hash-1", true},
		{"hash-2", false},
		{"unknown", false},
	}
	for _, tc := range cases {
		t.Run(tc.hash, func(t *testing.T) {
			got, err := store.IsRevoked(ctx, tc.hash)
			if err != nil {
				t.Fatalf("IsRevoked failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	s.FastForward(2 * time.Hour)
	if revoked, _ := store.IsRevoked(ctx, "hash-1"); revoked {
		t.Error("revocation should lapse with the token")
	}
}
