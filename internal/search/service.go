package search

import (
	"context"

	"supportdesk/api/internal/logging"
)

// RecordLoader reads every searchable record for a full reindex.
type RecordLoader interface {
	LoadAllRecords(ctx context.Context) ([]ConversationRecord, []MessageRecord, error)
}

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	primary  Searcher
	indexer  Indexer
	fallback Searcher
	loader   RecordLoader
}

// NewService wires Meilisearch (which may be nil) in front of PG FTS.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{fallback: pgfts, loader: pgfts}
	if meili != nil {
		s.primary = meili
		s.indexer = meili
	}
	return s
}

// Search tries the primary index if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(ctx context.Context, q Query) Response {
	log := logging.Component("search")
	if s.primary != nil && s.primary.Healthy() {
		results, total, err := s.primary.Search(ctx, q)
		if err == nil {
			return Response{Results: scopeResults(nonNil(results), q.CustomerID), Total: total, Query: q.Text}
		}
		log.Warn().Err(err).Msg("meilisearch error, falling back to pgfts")
	}

	if s.fallback == nil {
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		log.Error().Err(err).Msg("pgfts error")
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: scopeResults(nonNil(results), q.CustomerID), Total: total, Query: q.Text}
}

// IndexConversation indexes a conversation (fire-and-forget to Meilisearch).
func (s *Service) IndexConversation(c ConversationRecord) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	go func() {
		if err := s.indexer.IndexConversation(c); err != nil {
			lg := logging.Component("search")
			lg.Warn().Err(err).Str("conversation_id", c.ID).Msg("index conversation")
		}
	}()
}

// IndexMessage indexes a message (fire-and-forget to Meilisearch).
func (s *Service) IndexMessage(m MessageRecord) {
	if s.indexer == nil || !s.indexer.Healthy() {
		return
	}
	go func() {
		if err := s.indexer.IndexMessage(m); err != nil {
			lg := logging.Component("search")
			lg.Warn().Err(err).Str("message_id", m.ID).Msg("index message")
		}
	}()
}

// ReindexAllFromPG pushes every conversation and message into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.indexer == nil || !s.indexer.Healthy() || s.loader == nil {
		return
	}
	log := logging.Component("search")
	conversations, messages, err := s.loader.LoadAllRecords(ctx)
	if err != nil {
		log.Error().Err(err).Msg("reindex load failed")
		return
	}
	if err := s.indexer.IndexConversations(conversations); err != nil {
		log.Error().Err(err).Msg("reindex conversations")
	}
	if err := s.indexer.IndexMessages(messages); err != nil {
		log.Error().Err(err).Msg("reindex messages")
	}
	log.Info().Int("conversations", len(conversations)).Int("messages", len(messages)).Msg("reindex complete")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// scopeResults drops hits from other customers' conversations.
func scopeResults(results []Result, customerID string) []Result {
	if customerID == "" {
		return results
	}
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.CustomerID != customerID {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
