// Package catalog holds the keyword catalog: weighted categories, the
// contexts that group them and the display configuration that names them
// and declares combined categories.
package catalog

import (
	"sort"
	"strings"
	"sync/atomic"
)

var versions atomic.Uint64

// Keyword is one catalog entry. CategoryWeight is the weight of the real
// category the keyword was declared in, even when it is reached through a
// combined category.
type Keyword struct {
	Value          string `json:"keyword"`
	Weight         int    `json:"weight"`
	Category       string `json:"category"`
	CategoryWeight int    `json:"categoryWeight"`
}

// Category is a real category as published by the catalog. Keywords keep
// their declaration order.
type Category struct {
	ID       string
	Weight   int
	Keywords []Keyword
}

// Context groups categories under a user facing theme.
type Context struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Categories  []string `json:"categories"`
}

// DisplayConfig names categories and declares combined categories.
type DisplayConfig struct {
	DisplayNames map[string]string
	Combined     map[string][]string
}

// Catalog is immutable once built; reloads produce a new value.
type Catalog struct {
	categories   map[string]Category
	order        []string
	contexts     map[string]Context
	contextOrder []string
	display      DisplayConfig
	combinedOf   map[string][]string
	canonical    map[string]string
	owners       map[string][]string
	lastModified string
	version      uint64
}

// New assembles a catalog. Categories are ordered alphabetically, contexts
// keep the given order.
func New(categories []Category, contexts []Context, display DisplayConfig, lastModified string) *Catalog {
	c := &Catalog{
		categories:   make(map[string]Category, len(categories)),
		contexts:     make(map[string]Context, len(contexts)),
		display:      display,
		combinedOf:   make(map[string][]string),
		canonical:    make(map[string]string),
		owners:       make(map[string][]string),
		lastModified: lastModified,
		version:      versions.Add(1),
	}
	if c.display.DisplayNames == nil {
		c.display.DisplayNames = map[string]string{}
	}
	if c.display.Combined == nil {
		c.display.Combined = map[string][]string{}
	}

	for _, category := range categories {
		if _, exists := c.categories[category.ID]; exists {
			continue
		}
		c.categories[category.ID] = category
		c.order = append(c.order, category.ID)
	}
	sort.Slice(c.order, func(i, j int) bool {
		return strings.ToLower(c.order[i]) < strings.ToLower(c.order[j])
	})

	for _, ctx := range contexts {
		if _, exists := c.contexts[ctx.ID]; exists {
			continue
		}
		c.contexts[ctx.ID] = ctx
		c.contextOrder = append(c.contextOrder, ctx.ID)
	}

	for virtual, sources := range c.display.Combined {
		for _, source := range sources {
			c.combinedOf[source] = append(c.combinedOf[source], virtual)
		}
	}
	for source := range c.combinedOf {
		sort.Strings(c.combinedOf[source])
	}

	for _, id := range c.order {
		for _, keyword := range c.categories[id].Keywords {
			lower := strings.ToLower(keyword.Value)
			if _, seen := c.canonical[lower]; !seen {
				c.canonical[lower] = keyword.Value
			}
			c.owners[lower] = appendUnique(c.owners[lower], id)
			for _, virtual := range c.combinedOf[id] {
				c.owners[lower] = appendUnique(c.owners[lower], virtual)
			}
		}
	}
	return c
}

// Empty returns a catalog with no content.
func Empty() *Catalog {
	return New(nil, nil, DisplayConfig{}, "")
}

func (c *Catalog) LastModified() string { return c.lastModified }

// Version identifies a loaded catalog; consumers holding derived data
// compare it to detect a reload.
func (c *Catalog) Version() uint64 { return c.version }

// Category returns a real category.
func (c *Catalog) Category(id string) (Category, bool) {
	category, ok := c.categories[id]
	return category, ok
}

// Sources returns the source categories of a combined category.
func (c *Catalog) Sources(id string) ([]string, bool) {
	sources, ok := c.display.Combined[id]
	return sources, ok
}

// CombinedContaining returns the combined categories that list id as a
// source.
func (c *Catalog) CombinedContaining(id string) []string {
	return c.combinedOf[id]
}

func (c *Catalog) IsCombined(id string) bool {
	_, ok := c.display.Combined[id]
	return ok
}

// Known reports whether id names a real or combined category.
func (c *Catalog) Known(id string) bool {
	return c.IsCombined(id) || c.hasCategory(id)
}

func (c *Catalog) hasCategory(id string) bool {
	_, ok := c.categories[id]
	return ok
}

// CategoryIDs returns the real categories in alphabetical order.
func (c *Catalog) CategoryIDs() []string {
	return append([]string(nil), c.order...)
}

// AllCategoryIDs returns real categories followed by combined ones.
func (c *Catalog) AllCategoryIDs() []string {
	ids := c.CategoryIDs()
	combined := make([]string, 0, len(c.display.Combined))
	for id := range c.display.Combined {
		if !c.hasCategory(id) {
			combined = append(combined, id)
		}
	}
	sort.Strings(combined)
	return append(ids, combined...)
}

// ListedCategories returns what a category listing shows: combined
// categories replace their sources so no keyword is listed twice.
func (c *Catalog) ListedCategories() []string {
	listed := make([]string, 0, len(c.order))
	for _, id := range c.order {
		if len(c.combinedOf[id]) > 0 {
			continue
		}
		listed = append(listed, id)
	}
	for id := range c.display.Combined {
		if c.hasCategory(id) && len(c.combinedOf[id]) == 0 {
			continue
		}
		listed = append(listed, id)
	}
	sort.Slice(listed, func(i, j int) bool {
		return strings.ToLower(c.DisplayName(listed[i])) < strings.ToLower(c.DisplayName(listed[j]))
	})
	return listed
}

func (c *Catalog) DisplayName(id string) string {
	if name := c.display.DisplayNames[id]; name != "" {
		return name
	}
	return id
}

func (c *Catalog) Context(id string) (Context, bool) {
	ctx, ok := c.contexts[id]
	return ctx, ok
}

// Contexts returns contexts in catalog order.
func (c *Catalog) Contexts() []Context {
	items := make([]Context, 0, len(c.contextOrder))
	for _, id := range c.contextOrder {
		items = append(items, c.contexts[id])
	}
	return items
}

// ContextsReferencing returns the contexts that declare category.
func (c *Catalog) ContextsReferencing(category string) []string {
	var ids []string
	for _, id := range c.contextOrder {
		for _, candidate := range c.contexts[id].Categories {
			if candidate == category {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids
}

// Canonical returns the catalog casing of keyword.
func (c *Catalog) Canonical(keyword string) (string, bool) {
	value, ok := c.canonical[strings.ToLower(keyword)]
	return value, ok
}

// Managed reports whether keyword belongs to the managed keyword universe.
func (c *Catalog) Managed(keyword string) bool {
	_, ok := c.canonical[strings.ToLower(keyword)]
	return ok
}

// Universe returns the lower-cased managed keyword universe.
func (c *Catalog) Universe() map[string]struct{} {
	universe := make(map[string]struct{}, len(c.canonical))
	for lower := range c.canonical {
		universe[lower] = struct{}{}
	}
	return universe
}

// CategoriesOf returns every real and combined category containing keyword.
func (c *Catalog) CategoriesOf(keyword string) []string {
	return c.owners[strings.ToLower(keyword)]
}

func (c *Catalog) KeywordCount() int {
	return len(c.canonical)
}

func appendUnique(values []string, value string) []string {
	for _, existing := range values {
		if existing == value {
			return values
		}
	}
	return append(values, value)
}
