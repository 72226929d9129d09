package search

import (
	"context"
	"log"
	"strings"

	"gmptracker/internal/records"
)

// Service tries Meilisearch first and falls back to Postgres FTS.
type Service struct {
	meili *Meili
	pgfts Searcher
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	s := &Service{meili: meili}
	if pgfts != nil {
		s.pgfts = pgfts
	}
	return s
}

func (s *Service) Search(q Query) Response {
	q.Text = strings.TrimSpace(q.Text)
	if q.Text == "" || q.WorkspaceID == "" {
		return Response{Results: []Result{}, Query: q.Text}
	}

	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: nonNil(results), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	if s.pgfts == nil {
		return Response{Results: []Result{}, Query: q.Text}
	}
	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Query: q.Text}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text}
}

// IndexMessage pushes msg to Meilisearch in the background. Soft-deleted
// messages are removed from the index.
func (s *Service) IndexMessage(msg records.Message) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	if msg.IsDeleted {
		go func() {
			if err := s.meili.DeleteMessage(msg.ID); err != nil {
				log.Printf("search: delete message %s: %v", msg.ID, err)
			}
		}()
		return
	}
	record := RecordFromMessage(msg)
	go func() {
		if err := s.meili.IndexMessage(record); err != nil {
			log.Printf("search: index message %s: %v", msg.ID, err)
		}
	}()
}

// ReindexAllFromPG pushes every live message from Postgres to Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	loader, ok := s.pgfts.(*PgFTS)
	if s.meili == nil || !s.meili.Healthy() || !ok || loader == nil {
		return
	}
	messages, err := loader.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexMessages(messages); err != nil {
		log.Printf("search: reindex messages: %v", err)
	}
}

func RecordFromMessage(msg records.Message) MessageRecord {
	return MessageRecord{
		ID:          msg.ID,
		WorkspaceID: msg.WorkspaceID,
		ItemID:      msg.ItemID,
		UserName:    msg.UserName,
		Message:     msg.Message,
		CreatedAt:   msg.CreatedAt.Unix(),
	}
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
