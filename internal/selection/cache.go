package selection

import (
	"mutesky/api/internal/catalog"
)

// CategoryState summarizes how much of a category is active.
type CategoryState string

const (
	StateNone    CategoryState = "NONE"
	StatePartial CategoryState = "PARTIAL"
	StateAll     CategoryState = "ALL"
)

type keywordsKey struct {
	category string
	sorted   bool
}

type contextKey struct {
	context  string
	selected bool
}

// Cache memoizes resolved category keywords, per-context keyword sets and
// the active subset of each category. Context entries are indexed by the
// categories they read so a category invalidation finds them directly.
type Cache struct {
	catalog  *catalog.Catalog
	resolver *Resolver
	state    *State

	keywords   map[keywordsKey][]catalog.Keyword
	contexts   map[contextKey]KeywordSet
	active     map[string]KeywordSet
	dependents map[string]map[contextKey]struct{}
}

func NewCache(c *catalog.Catalog, state *State) *Cache {
	cache := &Cache{
		catalog:  c,
		resolver: NewResolver(c),
		state:    state,
	}
	cache.Clear()
	return cache
}

// Keywords returns the resolved keywords of category at the current budget.
// Unknown categories resolve to nothing.
func (c *Cache) Keywords(category string, sorted bool) []catalog.Keyword {
	key := keywordsKey{category: category, sorted: sorted}
	if cached, ok := c.keywords[key]; ok {
		return cached
	}
	keywords, err := c.resolver.Resolve(category, sorted, c.state.Target)
	if err != nil {
		keywords = nil
	}
	c.keywords[key] = keywords
	return keywords
}

// ContextKeywords returns the budget-filtered keywords a context
// contributes. A selected context contributes only its non-excepted
// categories; an unselected one is previewed with all of them.
func (c *Cache) ContextKeywords(contextID string, selected bool) KeywordSet {
	key := contextKey{context: contextID, selected: selected}
	if cached, ok := c.contexts[key]; ok {
		return cached
	}
	set := NewKeywordSet()
	ctx, ok := c.catalog.Context(contextID)
	if ok {
		for _, category := range ctx.Categories {
			c.depend(category, key)
			if selected && c.state.SelectedExceptions.Has(category) {
				continue
			}
			for _, keyword := range c.Keywords(category, true) {
				if canonical, ok := c.catalog.Canonical(keyword.Value); ok {
					set.Add(canonical)
				}
			}
		}
	}
	c.contexts[key] = set
	return set
}

// ActiveIn returns the active subset of category's complete membership.
func (c *Cache) ActiveIn(category string) KeywordSet {
	if cached, ok := c.active[category]; ok {
		return cached
	}
	set := NewKeywordSet()
	for _, keyword := range c.Keywords(category, false) {
		if c.state.ActiveKeywords.Has(keyword.Value) {
			set.Add(keyword.Value)
		}
	}
	c.active[category] = set
	return set
}

// CategoryState is NONE when nothing is active, ALL when the complete
// membership is active and PARTIAL otherwise. Empty categories are NONE.
func (c *Cache) CategoryState(category string) CategoryState {
	total := len(c.Keywords(category, false))
	active := len(c.ActiveIn(category))
	switch {
	case active == 0:
		return StateNone
	case active == total:
		return StateAll
	default:
		return StatePartial
	}
}

// ContextState compares a context's budget-filtered keywords with the
// active set.
func (c *Cache) ContextState(contextID string) CategoryState {
	keywords := c.ContextKeywords(contextID, c.state.SelectedContexts.Has(contextID))
	active := 0
	for key := range keywords {
		if _, ok := c.state.ActiveKeywords[key]; ok {
			active++
		}
	}
	switch {
	case active == 0:
		return StateNone
	case active == len(keywords):
		return StateAll
	default:
		return StatePartial
	}
}

// InvalidateCategory drops everything derived from category, including
// combined categories built from it and contexts that declare it.
func (c *Cache) InvalidateCategory(category string) {
	c.invalidateOne(category)
	for _, combined := range c.catalog.CombinedContaining(category) {
		c.invalidateOne(combined)
	}
}

func (c *Cache) invalidateOne(category string) {
	delete(c.keywords, keywordsKey{category: category, sorted: true})
	delete(c.keywords, keywordsKey{category: category, sorted: false})
	delete(c.active, category)
	for key := range c.dependents[category] {
		delete(c.contexts, key)
	}
	delete(c.dependents, category)
}

// TouchKeyword drops the active subsets that contain keyword.
func (c *Cache) TouchKeyword(keyword string) {
	for _, category := range c.catalog.CategoriesOf(keyword) {
		delete(c.active, category)
	}
}

// ResetActive drops every active subset; used after the active set is
// rebuilt wholesale.
func (c *Cache) ResetActive() {
	c.active = make(map[string]KeywordSet)
}

func (c *Cache) Clear() {
	c.keywords = make(map[keywordsKey][]catalog.Keyword)
	c.contexts = make(map[contextKey]KeywordSet)
	c.active = make(map[string]KeywordSet)
	c.dependents = make(map[string]map[contextKey]struct{})
}

func (c *Cache) depend(category string, key contextKey) {
	keys, ok := c.dependents[category]
	if !ok {
		keys = make(map[contextKey]struct{})
		c.dependents[category] = keys
	}
	keys[key] = struct{}{}
}
