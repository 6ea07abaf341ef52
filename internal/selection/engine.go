package selection

import (
	"mutesky/api/internal/catalog"
	"mutesky/api/internal/mode"
	"mutesky/api/internal/weight"
)

// Engine applies selection operations to a State. Operations are
// synchronous and never fail on unknown ids; they report whether anything
// was applied.
type Engine struct {
	catalog *catalog.Catalog
	state   *State
	cache   *Cache
}

func NewEngine(c *catalog.Catalog, state *State) *Engine {
	if c == nil {
		c = catalog.Empty()
	}
	return &Engine{
		catalog: c,
		state:   state,
		cache:   NewCache(c, state),
	}
}

func (e *Engine) State() *State { return e.state }

func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

func (e *Engine) Cache() *Cache { return e.cache }

func (e *Engine) CategoryState(id string) CategoryState {
	return e.cache.CategoryState(id)
}

// ToggleContext selects or deselects a context.
func (e *Engine) ToggleContext(id string) bool {
	ctx, ok := e.catalog.Context(id)
	if !ok {
		return false
	}
	if e.state.SelectedContexts.Has(id) {
		e.deselectContext(ctx)
	} else {
		e.selectContext(ctx)
	}
	return true
}

func (e *Engine) selectContext(ctx catalog.Context) {
	before := NewIDSet()
	for _, category := range ctx.Categories {
		if e.state.SelectedExceptions.Has(category) {
			before.Add(category)
		}
	}
	for category := range e.state.ParkedExceptions[ctx.ID] {
		if e.referencedElsewhere(category, ctx.ID) {
			continue
		}
		e.state.SelectedExceptions.Add(category)
		e.cache.InvalidateCategory(category)
	}
	delete(e.state.ParkedExceptions, ctx.ID)
	e.state.ContextExceptions[ctx.ID] = before
	e.state.SelectedContexts.Add(ctx.ID)

	added := NewKeywordSet()
	for _, keyword := range e.cache.ContextKeywords(ctx.ID, true) {
		if e.state.ActiveKeywords.Has(keyword) {
			continue
		}
		if e.activate(keyword) {
			added.Add(keyword)
		}
	}
	e.state.ContextAdded[ctx.ID] = added
}

func (e *Engine) deselectContext(ctx catalog.Context) {
	contributed := e.cache.ContextKeywords(ctx.ID, true)
	added, tracked := e.state.ContextAdded[ctx.ID]
	e.state.SelectedContexts.Remove(ctx.ID)

	required := e.requiredKeywords()
	for key, keyword := range contributed {
		if e.state.ManuallyUnchecked.Has(keyword) {
			continue
		}
		if _, ok := required[key]; ok {
			continue
		}
		if tracked && !added.Has(keyword) {
			continue
		}
		e.deactivate(keyword)
	}

	before := e.state.ContextExceptions[ctx.ID]
	parked := NewIDSet()
	for _, category := range ctx.Categories {
		if !e.state.SelectedExceptions.Has(category) || before.Has(category) {
			continue
		}
		if e.referencedElsewhere(category, ctx.ID) {
			continue
		}
		e.state.SelectedExceptions.Remove(category)
		e.cache.InvalidateCategory(category)
		parked.Add(category)
	}
	if len(parked) > 0 {
		e.state.ParkedExceptions[ctx.ID] = parked
	}
	delete(e.state.ContextExceptions, ctx.ID)
	delete(e.state.ContextAdded, ctx.ID)
}

// ToggleException excludes a category from, or returns it to, the
// selected contexts that declare it.
func (e *Engine) ToggleException(category string) bool {
	if !e.catalog.Known(category) {
		return false
	}
	if e.state.SelectedExceptions.Has(category) {
		e.state.SelectedExceptions.Remove(category)
		e.cache.InvalidateCategory(category)
		for _, contextID := range e.catalog.ContextsReferencing(category) {
			if !e.state.SelectedContexts.Has(contextID) {
				continue
			}
			for _, keyword := range e.cache.Keywords(category, true) {
				wasActive := e.state.ActiveKeywords.Has(keyword.Value)
				if e.activate(keyword.Value) && !wasActive {
					if added, ok := e.state.ContextAdded[contextID]; ok {
						added.Add(keyword.Value)
					}
				}
			}
		}
		return true
	}

	e.state.SelectedExceptions.Add(category)
	e.cache.InvalidateCategory(category)
	required := e.requiredKeywords()
	keepOriginal := e.state.Mode.Advanced()
	for _, keyword := range e.cache.Keywords(category, false) {
		if required.Has(keyword.Value) {
			continue
		}
		if keepOriginal && e.state.IsOriginallyMuted(keyword.Value) {
			continue
		}
		e.deactivate(keyword.Value)
	}
	return true
}

// ToggleCategory turns a whole category off when it is fully active and
// otherwise turns on its budget-filtered keywords. Both directions are
// recorded as manual overrides.
func (e *Engine) ToggleCategory(category string, current CategoryState) bool {
	if !e.catalog.Known(category) {
		return false
	}
	if current == StateAll {
		for _, keyword := range e.cache.Keywords(category, false) {
			e.deactivate(keyword.Value)
			e.state.ManuallyUnchecked.Add(keyword.Value)
		}
		return true
	}
	for _, keyword := range e.cache.Keywords(category, true) {
		e.state.ManuallyUnchecked.Remove(keyword.Value)
		e.activate(keyword.Value)
	}
	return true
}

// ToggleKeyword sets a single catalog keyword. Matching ignores case and
// the catalog casing is stored.
func (e *Engine) ToggleKeyword(keyword string, enabled bool) bool {
	canonical, ok := e.catalog.Canonical(keyword)
	if !ok {
		return false
	}
	if enabled {
		e.state.ManuallyUnchecked.Remove(canonical)
		e.activate(canonical)
	} else {
		e.deactivate(canonical)
		e.state.ManuallyUnchecked.Add(canonical)
	}
	return true
}

// ChangeBudget switches the budget and rebuilds the active set from the
// selected contexts. Exceptions and manual overrides are kept as they are.
func (e *Engine) ChangeBudget(budget weight.Budget) error {
	if _, err := weight.ParseBudget(int(budget)); err != nil {
		return err
	}
	e.state.Target = budget
	e.state.FilterLevel = budget.Level()
	e.cache.Clear()
	e.rebuild()
	return nil
}

// SetMode switches mode. Entering simple mode rederives context selection
// from the active keywords.
func (e *Engine) SetMode(m mode.Mode) {
	e.state.Mode = m
	e.cache.Clear()
	if m == mode.Simple {
		e.Rederive()
	}
}

// EnableAll selects every context and activates the complete catalog.
func (e *Engine) EnableAll() {
	e.startBulk(BulkEnabledAll)
	for _, ctx := range e.catalog.Contexts() {
		e.state.SelectedContexts.Add(ctx.ID)
	}
	for _, category := range e.catalog.AllCategoryIDs() {
		for _, keyword := range e.cache.Keywords(category, false) {
			e.activate(keyword.Value)
		}
	}
	e.afterBulk()
}

// EnableMatching activates the given catalog keywords.
func (e *Engine) EnableMatching(keywords []string) {
	e.startBulk(BulkEnabledAll)
	for _, keyword := range keywords {
		if canonical, ok := e.catalog.Canonical(keyword); ok {
			e.activate(canonical)
		}
	}
	e.afterBulk()
}

// DisableAll clears contexts, exceptions and the active set.
func (e *Engine) DisableAll() {
	e.startBulk(BulkDisabledAll)
	e.state.SelectedContexts.Clear()
	e.state.SelectedExceptions.Clear()
	e.state.ActiveKeywords.Clear()
	e.cache.Clear()
	e.forgetMemos()
	clear(e.state.ParkedExceptions)
	e.afterBulk()
}

// DisableMatching deactivates the given keywords.
func (e *Engine) DisableMatching(keywords []string) {
	e.startBulk(BulkDisabledAll)
	for _, keyword := range keywords {
		e.deactivate(keyword)
	}
	e.afterBulk()
}

func (e *Engine) startBulk(action BulkAction) {
	e.state.ManuallyUnchecked.Clear()
	e.state.PendingBulk = action
}

func (e *Engine) afterBulk() {
	if e.state.Mode == mode.Simple {
		e.Rederive()
	}
}

// rebuild recomputes the active set from the selected contexts.
func (e *Engine) rebuild() {
	e.state.ActiveKeywords.Clear()
	e.cache.ResetActive()
	clear(e.state.ContextAdded)
	for _, contextID := range e.state.SelectedContexts.Values() {
		for _, keyword := range e.cache.ContextKeywords(contextID, true) {
			e.activate(keyword)
		}
	}
}

// activate adds keyword unless it was manually unchecked.
func (e *Engine) activate(keyword string) bool {
	if e.state.ManuallyUnchecked.Has(keyword) {
		return false
	}
	e.state.ActiveKeywords.Add(keyword)
	e.cache.TouchKeyword(keyword)
	return true
}

func (e *Engine) deactivate(keyword string) {
	if !e.state.ActiveKeywords.Has(keyword) {
		return
	}
	e.state.ActiveKeywords.Remove(keyword)
	e.cache.TouchKeyword(keyword)
}

// requiredKeywords collects what the selected contexts contribute.
func (e *Engine) requiredKeywords() KeywordSet {
	required := NewKeywordSet()
	for contextID := range e.state.SelectedContexts {
		for key, keyword := range e.cache.ContextKeywords(contextID, true) {
			required[key] = keyword
		}
	}
	return required
}

func (e *Engine) referencedElsewhere(category, contextID string) bool {
	for _, other := range e.catalog.ContextsReferencing(category) {
		if other != contextID && e.state.SelectedContexts.Has(other) {
			return true
		}
	}
	return false
}

func (e *Engine) forgetMemos() {
	clear(e.state.ContextExceptions)
	clear(e.state.ContextAdded)
}
