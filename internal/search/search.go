// Package search finds catalog keywords by free text, through Meilisearch
// when it is reachable and an in-memory scan of the catalog otherwise.
package search

// Result is a single keyword hit.
type Result struct {
	Keyword        string `json:"keyword"`
	Category       string `json:"category"`
	CategoryName   string `json:"categoryName"`
	Weight         int    `json:"weight"`
	CategoryWeight int    `json:"categoryWeight"`
}

// Query describes a search request.
type Query struct {
	Text     string
	Category string // empty = all categories
	Limit    int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Backend string   `json:"backend"`
}

// Searcher can execute a keyword search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// KeywordRecord is the document indexed per keyword and category.
type KeywordRecord struct {
	ID             string `json:"id"`
	Keyword        string `json:"keyword"`
	Category       string `json:"category"`
	CategoryName   string `json:"categoryName"`
	Weight         int    `json:"weight"`
	CategoryWeight int    `json:"categoryWeight"`
}
