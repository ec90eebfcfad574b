package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true. If Postgres is down the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across conversations and messages
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	dataSQL, countSQL, args := buildFTSQuery(q)
	if dataSQL == "" {
		return nil, 0, nil
	}

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.ConversationID, &r.CustomerID, &r.Status); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}
	return results, total, rows.Err()
}

func buildFTSQuery(q Query) (string, string, []any) {
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	customerClause := ""
	if q.CustomerID != "" {
		customerClause = " AND c.customer_id = $2"
		args = append(args, q.CustomerID)
	}

	var subQueries []string
	if q.FilterType == "" || q.FilterType == ResultConversation {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'conversation'::text AS type, c.id, c.subject AS title,
				ts_headline('english', c.subject, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				c.id AS conversation_id, c.customer_id, c.status,
				ts_rank(c.fts, %s) AS rank
			FROM conversations c
			WHERE c.fts @@ %s%s`, tsQuery, tsQuery, tsQuery, customerClause))
	}
	if q.FilterType == "" || q.FilterType == ResultMessage {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'message'::text AS type, m.id, m.sender_name AS title,
				ts_headline('english', m.body, %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				m.conversation_id, c.customer_id, c.status,
				ts_rank(m.fts, %s) AS rank
			FROM messages m
			JOIN conversations c ON c.id = m.conversation_id
			WHERE m.fts @@ %s%s`, tsQuery, tsQuery, tsQuery, customerClause))
	}
	if len(subQueries) == 0 {
		return "", "", nil
	}

	union := strings.Join(subQueries, " UNION ALL ")
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub", union)
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, conversation_id, customer_id, status
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`, union, limit, offset)
	return dataSQL, countSQL, args
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]ConversationRecord, []MessageRecord, error) {
	convRows, err := p.db.QueryContext(ctx, `SELECT id, subject, customer_id, status FROM conversations`)
	if err != nil {
		return nil, nil, fmt.Errorf("load conversations: %w", err)
	}
	defer convRows.Close()

	conversations := make([]ConversationRecord, 0)
	for convRows.Next() {
		var c ConversationRecord
		if err := convRows.Scan(&c.ID, &c.Subject, &c.CustomerID, &c.Status); err != nil {
			return nil, nil, fmt.Errorf("scan conversation: %w", err)
		}
		conversations = append(conversations, c)
	}
	if err := convRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate conversations: %w", err)
	}

	msgRows, err := p.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, c.customer_id, m.sender_name, m.body
		FROM messages m
		JOIN conversations c ON c.id = m.conversation_id
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("load messages: %w", err)
	}
	defer msgRows.Close()

	messages := make([]MessageRecord, 0)
	for msgRows.Next() {
		var m MessageRecord
		if err := msgRows.Scan(&m.ID, &m.ConversationID, &m.CustomerID, &m.SenderName, &m.Body); err != nil {
			return nil, nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	if err := msgRows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate messages: %w", err)
	}

	return conversations, messages, nil
}
