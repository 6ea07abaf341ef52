package catalog

import (
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// ErrMalformed marks catalog data that fails to parse or lacks required
// fields. A malformed category file is skipped, not fatal.
var ErrMalformed = errors.New("malformed catalog data")

// ParseCategory parses a category file of the form
// {"<name>": {"weight": 8, "keywords": {"<keyword>": {"weight": 7}}}}.
// Keyword order follows the document.
func ParseCategory(data []byte) (Category, error) {
	if !gjson.ValidBytes(data) {
		return Category{}, fmt.Errorf("%w: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return Category{}, fmt.Errorf("%w: category file is not an object", ErrMalformed)
	}

	var (
		category Category
		found    bool
		parseErr error
	)
	root.ForEach(func(key, value gjson.Result) bool {
		found = true
		category, parseErr = parseCategoryBody(key.String(), value)
		return false
	})
	if !found {
		return Category{}, fmt.Errorf("%w: empty category file", ErrMalformed)
	}
	return category, parseErr
}

func parseCategoryBody(name string, body gjson.Result) (Category, error) {
	if name == "" {
		return Category{}, fmt.Errorf("%w: category without a name", ErrMalformed)
	}
	keywords := body.Get("keywords")
	if !keywords.IsObject() {
		return Category{}, fmt.Errorf("%w: category %q has no keywords object", ErrMalformed, name)
	}

	category := Category{ID: name, Weight: int(body.Get("weight").Int())}
	keywords.ForEach(func(key, value gjson.Result) bool {
		if key.String() == "" {
			return true
		}
		category.Keywords = append(category.Keywords, Keyword{
			Value:          key.String(),
			Weight:         int(value.Get("weight").Int()),
			Category:       name,
			CategoryWeight: category.Weight,
		})
		return true
	})
	return category, nil
}

// ParseContexts parses {"<id>": {"title", "description", "categories": []}}
// keeping document order.
func ParseContexts(data []byte) ([]Context, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("%w: contexts: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, fmt.Errorf("%w: contexts: not an object", ErrMalformed)
	}

	var contexts []Context
	root.ForEach(func(key, value gjson.Result) bool {
		ctx := Context{
			ID:          key.String(),
			Title:       value.Get("title").String(),
			Description: value.Get("description").String(),
		}
		for _, category := range value.Get("categories").Array() {
			if category.String() != "" {
				ctx.Categories = append(ctx.Categories, category.String())
			}
		}
		contexts = append(contexts, ctx)
		return true
	})
	return contexts, nil
}

// ParseDisplayConfig parses {"displayNames": {}, "combinedCategories": {}}.
func ParseDisplayConfig(data []byte) (DisplayConfig, error) {
	if !gjson.ValidBytes(data) {
		return DisplayConfig{}, fmt.Errorf("%w: display config: invalid JSON", ErrMalformed)
	}
	root := gjson.ParseBytes(data)
	config := DisplayConfig{
		DisplayNames: map[string]string{},
		Combined:     map[string][]string{},
	}
	root.Get("displayNames").ForEach(func(key, value gjson.Result) bool {
		config.DisplayNames[key.String()] = value.String()
		return true
	})
	root.Get("combinedCategories").ForEach(func(key, value gjson.Result) bool {
		var sources []string
		for _, source := range value.Array() {
			if source.String() != "" {
				sources = append(sources, source.String())
			}
		}
		if len(sources) > 0 {
			config.Combined[key.String()] = sources
		}
		return true
	})
	return config, nil
}
