package selection

import (
	"encoding/json"
	"fmt"

	"mutesky/api/internal/catalog"
	"mutesky/api/internal/mode"
	"mutesky/api/internal/weight"
)

// Snapshot is the persisted form of a State.
type Snapshot struct {
	ActiveKeywords     []string `json:"activeKeywords"`
	SelectedContexts   []string `json:"selectedContexts"`
	SelectedExceptions []string `json:"selectedExceptions"`
	ManuallyUnchecked  []string `json:"manuallyUnchecked"`
	Mode               string   `json:"mode"`
	TargetKeywordCount int      `json:"targetKeywordCount"`
	FilterLevel        int      `json:"filterLevel"`
	LastModified       *string  `json:"lastModified"`

	ContextExceptions map[string][]string `json:"contextExceptions,omitempty"`
	ContextAdded      map[string][]string `json:"contextAdded,omitempty"`
	ParkedExceptions  map[string][]string `json:"parkedExceptions,omitempty"`
}

func (s *State) Snapshot() Snapshot {
	snapshot := Snapshot{
		ActiveKeywords:     s.ActiveKeywords.Values(),
		SelectedContexts:   s.SelectedContexts.Values(),
		SelectedExceptions: s.SelectedExceptions.Values(),
		ManuallyUnchecked:  s.ManuallyUnchecked.Values(),
		Mode:               string(s.Mode),
		TargetKeywordCount: int(s.Target),
		FilterLevel:        s.FilterLevel,
		ContextExceptions:  idSetsSnapshot(s.ContextExceptions),
		ParkedExceptions:   idSetsSnapshot(s.ParkedExceptions),
	}
	if len(s.ContextAdded) > 0 {
		snapshot.ContextAdded = make(map[string][]string, len(s.ContextAdded))
		for id, added := range s.ContextAdded {
			snapshot.ContextAdded[id] = added.Values()
		}
	}
	if s.LastModified != "" {
		lastModified := s.LastModified
		snapshot.LastModified = &lastModified
	}
	return snapshot
}

func idSetsSnapshot(sets map[string]IDSet) map[string][]string {
	if len(sets) == 0 {
		return nil
	}
	out := make(map[string][]string, len(sets))
	for id, set := range sets {
		out[id] = set.Values()
	}
	return out
}

func (s Snapshot) Encode() ([]byte, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode selection snapshot: %w", err)
	}
	return payload, nil
}

func DecodeSnapshot(payload []byte) (Snapshot, error) {
	var snapshot Snapshot
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		return Snapshot{}, fmt.Errorf("decode selection snapshot: %w", err)
	}
	return snapshot, nil
}

// Restore rebuilds a State from a snapshot. Exceptions are kept only for
// categories of restored contexts, and a missing or invalid budget falls
// back to the mode default.
func Restore(snapshot Snapshot, c *catalog.Catalog) *State {
	state := NewState()
	state.Mode = mode.Normalize(snapshot.Mode)

	budget, err := weight.ParseBudget(snapshot.TargetKeywordCount)
	if err != nil {
		budget = weight.DefaultFor(state.Mode.Advanced())
	}
	state.Target = budget
	state.FilterLevel = budget.Level()
	if level, err := weight.ForLevel(snapshot.FilterLevel); err == nil && level == budget {
		state.FilterLevel = snapshot.FilterLevel
	}

	for _, id := range snapshot.SelectedContexts {
		if _, ok := c.Context(id); ok {
			state.SelectedContexts.Add(id)
		}
	}
	excepted := NewIDSet(snapshot.SelectedExceptions...)
	for id := range state.SelectedContexts {
		ctx, _ := c.Context(id)
		for _, category := range ctx.Categories {
			if excepted.Has(category) {
				state.SelectedExceptions.Add(category)
			}
		}
	}
	for _, keyword := range snapshot.ActiveKeywords {
		if canonical, ok := c.Canonical(keyword); ok {
			state.ActiveKeywords.Add(canonical)
		}
	}
	for _, keyword := range snapshot.ManuallyUnchecked {
		state.ManuallyUnchecked.Add(keyword)
		state.ActiveKeywords.Remove(keyword)
	}
	if snapshot.LastModified != nil {
		state.LastModified = *snapshot.LastModified
	}
	restoreMemos(state, snapshot, c)
	return state
}

// restoreMemos keeps the memos of selected contexts and the parked
// exceptions of unselected ones, limited to what the catalog still has.
func restoreMemos(state *State, snapshot Snapshot, c *catalog.Catalog) {
	for id, added := range snapshot.ContextAdded {
		if !state.SelectedContexts.Has(id) {
			continue
		}
		set := NewKeywordSet()
		for _, keyword := range added {
			if canonical, ok := c.Canonical(keyword); ok {
				set.Add(canonical)
			}
		}
		state.ContextAdded[id] = set
	}
	for id, categories := range snapshot.ContextExceptions {
		if state.SelectedContexts.Has(id) {
			state.ContextExceptions[id] = contextCategories(c, id, categories)
		}
	}
	for id, categories := range snapshot.ParkedExceptions {
		if state.SelectedContexts.Has(id) {
			continue
		}
		if parked := contextCategories(c, id, categories); len(parked) > 0 {
			state.ParkedExceptions[id] = parked
		}
	}
}

func contextCategories(c *catalog.Catalog, contextID string, categories []string) IDSet {
	set := NewIDSet()
	ctx, ok := c.Context(contextID)
	if !ok {
		return set
	}
	wanted := NewIDSet(categories...)
	for _, category := range ctx.Categories {
		if wanted.Has(category) {
			set.Add(category)
		}
	}
	return set
}

// Load restores a snapshot into a ready engine. Simple mode rederives
// context selection from the restored keywords.
func Load(snapshot Snapshot, c *catalog.Catalog) *Engine {
	engine := NewEngine(c, Restore(snapshot, c))
	if engine.state.Mode == mode.Simple {
		engine.Rederive()
	}
	return engine
}
