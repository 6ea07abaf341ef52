// Package selection owns a user's keyword selection: which contexts,
// exceptions and individual keywords are chosen, and the active keyword set
// derived from them under a weight budget.
package selection

import (
	"mutesky/api/internal/mode"
	"mutesky/api/internal/weight"
)

// BulkAction records the last enable-all or disable-all until the next
// sync consumes it.
type BulkAction string

const (
	BulkNone        BulkAction = ""
	BulkEnabledAll  BulkAction = "enabled_all"
	BulkDisabledAll BulkAction = "disabled_all"
)

// State is one user's selection. It is mutated only through Engine.
type State struct {
	SelectedContexts   IDSet
	SelectedExceptions IDSet
	ActiveKeywords     KeywordSet
	ManuallyUnchecked  KeywordSet
	// OriginalMuted holds the lower-cased remote muted words seen at
	// session start or after the last sync.
	OriginalMuted map[string]struct{}
	Target        weight.Budget
	FilterLevel   int
	Mode          mode.Mode
	PendingBulk   BulkAction
	LastModified  string

	// Per-context memos. ContextExceptions holds the exceptions already in
	// place when a context was selected, ContextAdded the keywords its
	// selection newly activated, and ParkedExceptions the exceptions
	// dropped when it was deselected. They are persisted with the rest.
	ContextExceptions map[string]IDSet
	ContextAdded      map[string]KeywordSet
	ParkedExceptions  map[string]IDSet
}

// NewState returns an empty simple-mode selection at the default budget.
func NewState() *State {
	return &State{
		SelectedContexts:   NewIDSet(),
		SelectedExceptions: NewIDSet(),
		ActiveKeywords:     NewKeywordSet(),
		ManuallyUnchecked:  NewKeywordSet(),
		OriginalMuted:      map[string]struct{}{},
		Target:             weight.DefaultFor(false),
		FilterLevel:        weight.DefaultFor(false).Level(),
		Mode:               mode.Simple,
		ContextExceptions:  make(map[string]IDSet),
		ContextAdded:       make(map[string]KeywordSet),
		ParkedExceptions:   make(map[string]IDSet),
	}
}

// IsOriginallyMuted reports whether keyword was muted remotely.
func (s *State) IsOriginallyMuted(keyword string) bool {
	_, ok := s.OriginalMuted[lower(keyword)]
	return ok
}

// ConsumeBulk returns and clears the pending bulk action.
func (s *State) ConsumeBulk() BulkAction {
	action := s.PendingBulk
	s.PendingBulk = BulkNone
	return action
}

// SignOut clears the active keywords and remote snapshot. Contexts,
// exceptions, manual overrides and the filter level are kept.
func (s *State) SignOut() {
	s.ActiveKeywords.Clear()
	s.OriginalMuted = map[string]struct{}{}
	s.PendingBulk = BulkNone
}
