package mutes

import (
	"sort"
	"strings"
	"time"
)

// Universe reports whether a keyword is managed by this service.
type Universe interface {
	Managed(keyword string) bool
}

// Merge builds the new remote muted-words list. Remote words outside the
// universe are kept byte for byte in their original order; managed words are
// rebuilt from local alone and appended sorted. Merge only depends on its
// arguments, so a failed push can recompute it against a fresh read.
func Merge(local []string, universe Universe, remote []MutedWord, settings Settings, now time.Time) []MutedWord {
	merged := make([]MutedWord, 0, len(remote)+len(local))
	ids := make(map[string]string)
	for _, word := range remote {
		if universe.Managed(word.Value) {
			if word.ID != "" {
				ids[strings.ToLower(word.Value)] = word.ID
			}
			continue
		}
		merged = append(merged, word)
	}

	seen := make(map[string]struct{}, len(local))
	managed := make([]string, 0, len(local))
	for _, value := range local {
		key := strings.ToLower(strings.TrimSpace(value))
		if key == "" || !universe.Managed(value) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		managed = append(managed, value)
	}
	sort.Slice(managed, func(i, j int) bool {
		return strings.ToLower(managed[i]) < strings.ToLower(managed[j])
	})

	expires := settings.Expiry(now)
	for _, value := range managed {
		merged = append(merged, MutedWord{
			ID:          ids[strings.ToLower(value)],
			Value:       value,
			Targets:     settings.targets(),
			ActorTarget: settings.actorTarget(),
			ExpiresAt:   expires,
		})
	}
	return merged
}
