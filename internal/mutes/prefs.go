// Package mutes merges the locally selected keywords into the muted-words
// preference of a Bluesky account without touching anything it does not
// manage.
package mutes

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

const MutedWordsPrefType = "app.bsky.actor.defs#mutedWordsPref"

const (
	TargetContent = "content"
	TargetTag     = "tag"

	ActorTargetAll              = "all"
	ActorTargetExcludeFollowing = "exclude-following"
)

// MutedWord is one item of the muted-words preference. Words read from the
// remote keep their original bytes and are written back verbatim.
type MutedWord struct {
	ID          string     `json:"id,omitempty"`
	Value       string     `json:"value"`
	Targets     []string   `json:"targets"`
	ActorTarget string     `json:"actorTarget,omitempty"`
	ExpiresAt   *time.Time `json:"expiresAt,omitempty"`

	raw json.RawMessage
}

func (w MutedWord) MarshalJSON() ([]byte, error) {
	if len(w.raw) > 0 {
		return w.raw, nil
	}
	type plain MutedWord
	return json.Marshal(plain(w))
}

func (w *MutedWord) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("muted word: invalid json")
	}
	*w = parseMutedWord(data)
	return nil
}

func parseMutedWord(raw []byte) MutedWord {
	item := gjson.ParseBytes(raw)
	word := MutedWord{
		ID:          item.Get("id").String(),
		Value:       item.Get("value").String(),
		ActorTarget: item.Get("actorTarget").String(),
		raw:         append(json.RawMessage(nil), raw...),
	}
	for _, target := range item.Get("targets").Array() {
		word.Targets = append(word.Targets, target.String())
	}
	if expires := item.Get("expiresAt"); expires.Exists() {
		if at, err := time.Parse(time.RFC3339, expires.String()); err == nil {
			word.ExpiresAt = &at
		}
	}
	return word
}

// Values lists the muted values in remote order.
func Values(words []MutedWord) []string {
	out := make([]string, 0, len(words))
	for _, word := range words {
		out = append(out, word.Value)
	}
	return out
}

// MutedWords extracts the muted-words items from a preferences list. A
// missing preference is an empty list.
func MutedWords(preferences []json.RawMessage) []MutedWord {
	for _, pref := range preferences {
		if gjson.GetBytes(pref, `\$type`).String() != MutedWordsPrefType {
			continue
		}
		var words []MutedWord
		gjson.GetBytes(pref, "items").ForEach(func(_, item gjson.Result) bool {
			if item.IsObject() {
				words = append(words, parseMutedWord([]byte(item.Raw)))
			}
			return true
		})
		return words
	}
	return nil
}

// WithMutedWords returns preferences with the muted-words items replaced.
// Other preferences and other fields of the muted-words preference are
// carried through unchanged. The preference is appended when absent.
func WithMutedWords(preferences []json.RawMessage, words []MutedWord) ([]json.RawMessage, error) {
	if words == nil {
		words = []MutedWord{}
	}
	items, err := json.Marshal(words)
	if err != nil {
		return nil, fmt.Errorf("encode muted words: %w", err)
	}

	out := make([]json.RawMessage, 0, len(preferences)+1)
	replaced := false
	for _, pref := range preferences {
		if replaced || gjson.GetBytes(pref, `\$type`).String() != MutedWordsPrefType {
			out = append(out, pref)
			continue
		}
		fields := map[string]json.RawMessage{}
		if err := json.Unmarshal(pref, &fields); err != nil {
			return nil, fmt.Errorf("decode muted words preference: %w", err)
		}
		fields["items"] = items
		updated, err := json.Marshal(fields)
		if err != nil {
			return nil, fmt.Errorf("encode muted words preference: %w", err)
		}
		out = append(out, updated)
		replaced = true
	}
	if !replaced {
		typ, _ := json.Marshal(MutedWordsPrefType)
		created, err := json.Marshal(map[string]json.RawMessage{"$type": typ, "items": items})
		if err != nil {
			return nil, fmt.Errorf("encode muted words preference: %w", err)
		}
		out = append(out, created)
	}
	return out, nil
}
