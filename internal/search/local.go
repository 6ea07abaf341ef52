package search

import (
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"mutesky/api/internal/catalog"
)

var recordNamespace = uuid.MustParse("6f1c7a52-3b0e-4d8e-9a55-0f4a1c2b9e10")

// Records lists one KeywordRecord per keyword of every real category.
func Records(c *catalog.Catalog) []KeywordRecord {
	var records []KeywordRecord
	for _, id := range c.CategoryIDs() {
		category, _ := c.Category(id)
		name := c.DisplayName(id)
		for _, keyword := range category.Keywords {
			records = append(records, KeywordRecord{
				ID:             recordID(id, keyword.Value),
				Keyword:        keyword.Value,
				Category:       id,
				CategoryName:   name,
				Weight:         keyword.Weight,
				CategoryWeight: category.Weight,
			})
		}
	}
	return records
}

func recordID(category, keyword string) string {
	return uuid.NewSHA1(recordNamespace, []byte(category+"\x00"+strings.ToLower(keyword))).String()
}

// Local scans the records in memory. A record matches when its keyword or
// category display name contains the query, ignoring case.
type Local struct {
	mu      sync.RWMutex
	records []KeywordRecord
}

func NewLocal() *Local {
	return &Local{}
}

// Healthy always returns true.
func (l *Local) Healthy() bool {
	return true
}

func (l *Local) Replace(records []KeywordRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.records = append([]KeywordRecord(nil), records...)
}

func (l *Local) Search(q Query) ([]Result, int, error) {
	text := strings.ToLower(strings.TrimSpace(q.Text))
	if text == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	l.mu.RLock()
	var matched []Result
	for _, record := range l.records {
		if q.Category != "" && record.Category != q.Category {
			continue
		}
		if !strings.Contains(strings.ToLower(record.Keyword), text) &&
			!strings.Contains(strings.ToLower(record.CategoryName), text) {
			continue
		}
		matched = append(matched, recordToResult(record))
	}
	l.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Weight != matched[j].Weight {
			return matched[i].Weight > matched[j].Weight
		}
		return strings.ToLower(matched[i].Keyword) < strings.ToLower(matched[j].Keyword)
	})
	total := len(matched)
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, total, nil
}

func recordToResult(record KeywordRecord) Result {
	return Result{
		Keyword:        record.Keyword,
		Category:       record.Category,
		CategoryName:   record.CategoryName,
		Weight:         record.Weight,
		CategoryWeight: record.CategoryWeight,
	}
}
