package knowledge

import (
	"context"
)

// Entry is one knowledge-base item. Reply and CreateTicket come from curated
// playbook entries; ingested documents carry only Title and Body.
type Entry struct {
	Title        string   `json:"title"`
	Body         string   `json:"body"`
	Reply        string   `json:"reply,omitempty"`
	CreateTicket bool     `json:"create_ticket,omitempty"`
	Aliases      []string `json:"aliases,omitempty"`
}

// Service is the retrieval boundary the router consumes. The vector-index
// mechanics of a production deployment live behind this interface; the
// file-backed implementation below stands in with lexical scoring.
type Service interface {
	// ExactMatch returns the entry whose title or alias equals the normalized
	// query, or nil.
	ExactMatch(ctx context.Context, text string) (*Entry, error)

	// SemanticSearch returns up to topK entries ranked by relevance and the
	// confidence of the best hit, in [0,1].
	SemanticSearch(ctx context.Context, text string, topK int) ([]Entry, float64, error)
}
