package selection

import (
	"fmt"
	"strings"

	"mutesky/api/internal/mode"
)

// Rederive marks each context selected exactly when it contributes at
// least one keyword and every budget-filtered keyword of its non-excepted
// categories is active. The active set is left untouched.
func (e *Engine) Rederive() {
	for _, ctx := range e.catalog.Contexts() {
		contributed := e.cache.ContextKeywords(ctx.ID, true)
		satisfied := len(contributed) > 0
		for key := range contributed {
			if _, ok := e.state.ActiveKeywords[key]; !ok {
				satisfied = false
				break
			}
		}
		was := e.state.SelectedContexts.Has(ctx.ID)
		switch {
		case satisfied && !was:
			e.state.SelectedContexts.Add(ctx.ID)
		case !satisfied && was:
			e.state.SelectedContexts.Remove(ctx.ID)
		default:
			continue
		}
		delete(e.state.ContextExceptions, ctx.ID)
		delete(e.state.ContextAdded, ctx.ID)
	}
}

// InitializeFromRemote resets the selection against the remote muted
// words: every remote value becomes originally muted, managed values become
// active in catalog casing and manual overrides are applied on top.
func (e *Engine) InitializeFromRemote(values []string) {
	e.state.OriginalMuted = make(map[string]struct{}, len(values))
	e.state.ActiveKeywords.Clear()
	for _, value := range values {
		e.state.OriginalMuted[lower(value)] = struct{}{}
		if canonical, ok := e.catalog.Canonical(value); ok {
			e.state.ActiveKeywords.Add(canonical)
		}
	}
	for key := range e.state.ManuallyUnchecked {
		delete(e.state.ActiveKeywords, key)
	}
	e.cache.ResetActive()
	clear(e.state.ContextAdded)
	if e.state.Mode == mode.Simple {
		e.Rederive()
	}
}

// ApplySynced adopts the merged remote list after a successful push. A
// pending bulk action overrides per-category exceptions, so they are
// cleared with it.
func (e *Engine) ApplySynced(values []string) {
	if e.state.ConsumeBulk() != BulkNone {
		e.state.SelectedExceptions.Clear()
	}
	e.InitializeFromRemote(values)
}

// ObserveRemote replaces the remote snapshot without touching the
// selection. Used when a persisted selection is resumed.
func (e *Engine) ObserveRemote(values []string) {
	e.state.OriginalMuted = make(map[string]struct{}, len(values))
	for _, value := range values {
		e.state.OriginalMuted[lower(value)] = struct{}{}
	}
}

// Counts compares the active set with the remote snapshot over the managed
// keyword universe.
func (e *Engine) Counts() (toMute, toUnmute int) {
	for key := range e.state.ActiveKeywords {
		if !e.catalog.Managed(key) {
			continue
		}
		if _, muted := e.state.OriginalMuted[key]; !muted {
			toMute++
		}
	}
	for key := range e.state.OriginalMuted {
		if !e.catalog.Managed(key) {
			continue
		}
		if _, active := e.state.ActiveKeywords[key]; !active {
			toUnmute++
		}
	}
	return toMute, toUnmute
}

// CanUnmute reports whether keyword is managed and muted remotely.
func (e *Engine) CanUnmute(keyword string) bool {
	return e.catalog.Managed(keyword) && e.state.IsOriginallyMuted(keyword)
}

// ButtonText labels the sync control.
func (e *Engine) ButtonText() string {
	toMute, toUnmute := e.Counts()
	var parts []string
	if toMute > 0 {
		parts = append(parts, fmt.Sprintf("Mute %d new", toMute))
	}
	if toUnmute > 0 {
		parts = append(parts, fmt.Sprintf("Unmute %d existing", toUnmute))
	}
	if len(parts) == 0 {
		return "No changes"
	}
	return strings.Join(parts, ", ")
}

// SyncMessage describes a completed sync.
func SyncMessage(toMute, toUnmute int) string {
	switch {
	case toMute > 0 && toUnmute > 0:
		return fmt.Sprintf("Successfully muted %d and unmuted %d keywords", toMute, toUnmute)
	case toMute > 0:
		return fmt.Sprintf("Successfully muted %d %s", toMute, plural(toMute))
	case toUnmute > 0:
		return fmt.Sprintf("Successfully unmuted %d %s", toUnmute, plural(toUnmute))
	default:
		return "No changes"
	}
}

// Match returns catalog keywords whose text or category display name
// contains term, ignoring case.
func (e *Engine) Match(term string) []string {
	term = strings.TrimSpace(lower(term))
	if term == "" {
		return nil
	}
	matched := NewKeywordSet()
	for _, category := range e.catalog.AllCategoryIDs() {
		categoryMatches := strings.Contains(lower(e.catalog.DisplayName(category)), term)
		for _, keyword := range e.cache.Keywords(category, false) {
			if categoryMatches || strings.Contains(lower(keyword.Value), term) {
				matched.Add(keyword.Value)
			}
		}
	}
	return matched.Values()
}

func plural(n int) string {
	if n == 1 {
		return "keyword"
	}
	return "keywords"
}

func lower(value string) string {
	return strings.ToLower(value)
}
