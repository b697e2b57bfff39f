package search

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

const (
	defaultLimit        = 10
	maxLimit            = 50
	similarityThreshold = 0.3
)

// Embedder produces a vector for a piece of text and reports the tokens
// consumed doing so. Satisfied by *model.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, int64, error)
}

// Service performs semantic search over the user's message history.
type Service struct {
	repo     Repository
	embedder Embedder
}

// NewService creates a new search service.
func NewService(repo Repository, embedder Embedder) *Service {
	return &Service{repo: repo, embedder: embedder}
}

// Query embeds the query text and returns the closest messages. The returned
// token count is the embedding usage, charged against the caller's quota.
func (s *Service) Query(ctx context.Context, userID uuid.UUID, query string, conversationIDs []uuid.UUID, limit int) ([]Match, int64, error) {
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	embedding, tokens, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, 0, fmt.Errorf("embedding search query: %w", err)
	}

	matches, err := s.repo.SearchSimilar(ctx, userID, embedding, conversationIDs, limit, similarityThreshold)
	if err != nil {
		return nil, tokens, err
	}
	return matches, tokens, nil
}

// Index embeds a message and stores it for future search. Called from the
// message ingestion path.
func (s *Service) Index(ctx context.Context, emb *MessageEmbedding) (int64, error) {
	embedding, tokens, err := s.embedder.Embed(ctx, emb.Content)
	if err != nil {
		return 0, fmt.Errorf("embedding message: %w", err)
	}
	emb.Embedding = embedding

	if err := s.repo.Upsert(ctx, emb); err != nil {
		return tokens, err
	}
	return tokens, nil
}
