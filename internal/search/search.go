package search

import "context"

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultConversation ResultType = "conversation"
	ResultMessage      ResultType = "message"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type           ResultType `json:"type"`
	ID             string     `json:"id"`
	Title          string     `json:"title"`
	Snippet        string     `json:"snippet"`
	ConversationID string     `json:"conversationId"`
	CustomerID     string     `json:"-"`
	Status         string     `json:"status,omitempty"`
}

// Query describes a search request. CustomerID restricts hits to one
// customer's conversations; empty means every conversation.
type Query struct {
	Text       string
	FilterType ResultType
	CustomerID string
	Limit      int
	Offset     int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexConversation(c ConversationRecord) error
	IndexMessage(m MessageRecord) error
	IndexConversations(items []ConversationRecord) error
	IndexMessages(items []MessageRecord) error
	Healthy() bool
}

// ConversationRecord is the data we index for a conversation.
type ConversationRecord struct {
	ID         string `json:"id"`
	Subject    string `json:"subject"`
	CustomerID string `json:"customerId"`
	Status     string `json:"status"`
}

// MessageRecord is the data we index for a message.
type MessageRecord struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	CustomerID     string `json:"customerId"`
	SenderName     string `json:"senderName"`
	Body           string `json:"body"`
}
