package selection

import (
	"sort"
	"strings"
)

// KeywordSet is a case-insensitive set of keywords that remembers the
// casing it was last given. Keys are lower-cased.
type KeywordSet map[string]string

func NewKeywordSet(values ...string) KeywordSet {
	set := make(KeywordSet, len(values))
	for _, value := range values {
		set.Add(value)
	}
	return set
}

// Add stores value, replacing any entry that differs only by case.
func (s KeywordSet) Add(value string) {
	if value == "" {
		return
	}
	s[strings.ToLower(value)] = value
}

func (s KeywordSet) Remove(value string) {
	delete(s, strings.ToLower(value))
}

func (s KeywordSet) Has(value string) bool {
	_, ok := s[strings.ToLower(value)]
	return ok
}

// Values returns the stored casings sorted case-insensitively.
func (s KeywordSet) Values() []string {
	keys := make([]string, 0, len(s))
	for key := range s {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	values := make([]string, 0, len(keys))
	for _, key := range keys {
		values = append(values, s[key])
	}
	return values
}

func (s KeywordSet) Clone() KeywordSet {
	clone := make(KeywordSet, len(s))
	for key, value := range s {
		clone[key] = value
	}
	return clone
}

func (s KeywordSet) Clear() {
	for key := range s {
		delete(s, key)
	}
}

// IDSet is an exact-match set of context or category ids.
type IDSet map[string]struct{}

func NewIDSet(ids ...string) IDSet {
	set := make(IDSet, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func (s IDSet) Add(id string)    { s[id] = struct{}{} }
func (s IDSet) Remove(id string) { delete(s, id) }

func (s IDSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s IDSet) Values() []string {
	values := make([]string, 0, len(s))
	for id := range s {
		values = append(values, id)
	}
	sort.Strings(values)
	return values
}

func (s IDSet) Clone() IDSet {
	clone := make(IDSet, len(s))
	for id := range s {
		clone[id] = struct{}{}
	}
	return clone
}

func (s IDSet) Clear() {
	for id := range s {
		delete(s, id)
	}
}
