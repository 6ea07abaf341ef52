package catalog

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// FallbackLastModified is reported when the catalog's revision date cannot
// be determined.
const FallbackLastModified = "Dec 1, 2023 9:00 PM"

// LastModifiedLayout formats revision dates for display.
const LastModifiedLayout = "Jan 2, 2006 3:04 PM"

// FallbackCategoryFiles is used when the category listing is unreachable.
var FallbackCategoryFiles = []string{
	"climate-and-environment.json",
	"economic-policy.json",
	"education.json",
	"gun-policy.json",
	"healthcare-and-public-health.json",
	"immigration.json",
	"international-coverage.json",
	"lgbtq.json",
	"media-personalities.json",
	"military-and-defense.json",
	"new-developments.json",
	"political-organizations.json",
	"political-rhetoric.json",
	"political-violence-and-security-threats.json",
	"race-relations.json",
	"relational-violence.json",
	"religion.json",
	"reproductive-health.json",
	"social-policy.json",
	"us-government-institutions.json",
	"us-political-figures-full-name.json",
	"us-political-figures-single-name.json",
	"vaccine-policy.json",
	"world-leaders.json",
}

// Source loads a complete catalog.
type Source interface {
	Load(ctx context.Context) (*Catalog, error)
}

// rawCatalog is what every source collects before assembly.
type rawCatalog struct {
	categoryFiles map[string][]byte
	contexts      []byte
	display       []byte
	lastModified  string
}

// assemble parses the collected files. Malformed category files are
// skipped with a warning; malformed contexts or display config degrade to
// empty values.
func assemble(raw rawCatalog, logger *zap.Logger) *Catalog {
	names := make([]string, 0, len(raw.categoryFiles))
	for name := range raw.categoryFiles {
		names = append(names, name)
	}
	sort.Strings(names)

	categories := make([]Category, 0, len(names))
	for _, name := range names {
		category, err := ParseCategory(raw.categoryFiles[name])
		if err != nil {
			logger.Warn("skipping category file", zap.String("file", name), zap.Error(err))
			continue
		}
		categories = append(categories, category)
	}

	var contexts []Context
	if len(raw.contexts) > 0 {
		parsed, err := ParseContexts(raw.contexts)
		if err != nil {
			logger.Warn("ignoring context catalog", zap.Error(err))
		} else {
			contexts = parsed
		}
	}

	var display DisplayConfig
	if len(raw.display) > 0 {
		parsed, err := ParseDisplayConfig(raw.display)
		if err != nil {
			logger.Warn("ignoring display config", zap.Error(err))
		} else {
			display = parsed
		}
	}

	lastModified := raw.lastModified
	if lastModified == "" {
		lastModified = FallbackLastModified
	}
	logger.Info("catalog assembled",
		zap.Int("categories", len(categories)),
		zap.Int("contexts", len(contexts)),
		zap.String("last_modified", lastModified),
	)
	return New(categories, contexts, display, lastModified)
}

func isCategoryFile(name string) bool {
	return strings.HasSuffix(name, ".json")
}

func nopIfNil(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
