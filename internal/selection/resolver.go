package selection

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"mutesky/api/internal/catalog"
	"mutesky/api/internal/weight"
)

var ErrUnknownCategory = errors.New("unknown category")

// Resolver expands a real or combined category into its keywords.
type Resolver struct {
	catalog *catalog.Catalog
}

func NewResolver(c *catalog.Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// Resolve returns the keywords of id. Unsorted results are the complete
// membership in declaration order. Sorted results are ordered by weight
// descending and trimmed to those passing the threshold for budget, using
// each keyword's own category weight.
func (r *Resolver) Resolve(id string, sorted bool, budget weight.Budget) ([]catalog.Keyword, error) {
	var keywords []catalog.Keyword
	if sources, ok := r.catalog.Sources(id); ok {
		seen := make(map[string]struct{})
		for _, source := range sources {
			sourceKeywords, err := r.Resolve(source, false, budget)
			if err != nil {
				continue
			}
			for _, keyword := range sourceKeywords {
				key := strings.ToLower(keyword.Value)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}
				keywords = append(keywords, keyword)
			}
		}
	} else {
		category, ok := r.catalog.Category(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCategory, id)
		}
		keywords = append(keywords, category.Keywords...)
	}

	if !sorted {
		return keywords, nil
	}
	sort.SliceStable(keywords, func(i, j int) bool {
		return keywords[i].Weight > keywords[j].Weight
	})
	filtered := keywords[:0]
	for _, keyword := range keywords {
		if weight.Keep(keyword.Weight, keyword.CategoryWeight, budget) {
			filtered = append(filtered, keyword)
		}
	}
	return filtered, nil
}
