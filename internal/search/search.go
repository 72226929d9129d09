package search

import "time"

// Result is a single message hit.
type Result struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	UserName  string    `json:"user_name"`
	Snippet   string    `json:"snippet"`
	CreatedAt time.Time `json:"created_at"`
}

// Query describes a search request. WorkspaceID is required; ItemID narrows
// the search to one checklist item.
type Query struct {
	WorkspaceID string
	Text        string
	ItemID      string
	Limit       int
	Offset      int
}

func (q Query) limit() int {
	if q.Limit <= 0 || q.Limit > 100 {
		return 20
	}
	return q.Limit
}

func (q Query) offset() int {
	if q.Offset < 0 {
		return 0
	}
	return q.Offset
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// MessageRecord is the indexed form of a message. Deleted messages are
// removed from the index instead of indexed.
type MessageRecord struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspaceId"`
	ItemID      string `json:"itemId"`
	UserName    string `json:"userName"`
	Message     string `json:"message"`
	CreatedAt   int64  `json:"createdAt"`
}
