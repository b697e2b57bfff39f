package search

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// Repository defines message embedding persistence operations.
type Repository interface {
	Upsert(ctx context.Context, emb *MessageEmbedding) error
	SearchSimilar(ctx context.Context, userID uuid.UUID, embedding []float32, conversationIDs []uuid.UUID, limit int, threshold float64) ([]Match, error)
	DeleteByConversation(ctx context.Context, userID, conversationID uuid.UUID) error
}

// PostgresRepository implements Repository using pgx + pgvector.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new embedding repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Upsert inserts or replaces the embedding for a message.
func (r *PostgresRepository) Upsert(ctx context.Context, emb *MessageEmbedding) error {
	if emb.ID == uuid.Nil {
		emb.ID = uuid.New()
	}

	metadataBytes := emb.Metadata
	if len(metadataBytes) == 0 {
		metadataBytes = json.RawMessage(`{}`)
	}

	vec := pgvector.NewVector(emb.Embedding)
	_, err := r.pool.Exec(ctx,
		`INSERT INTO message_embeddings (id, user_id, message_id, conversation_id, content, embedding, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (message_id) DO UPDATE
		 SET content = EXCLUDED.content,
		     embedding = EXCLUDED.embedding,
		     metadata = EXCLUDED.metadata`,
		emb.ID, emb.UserID, emb.MessageID, emb.ConversationID, emb.Content, vec, metadataBytes,
	)
	if err != nil {
		return fmt.Errorf("upserting message embedding: %w", err)
	}
	return nil
}

// SearchSimilar returns the user's closest messages by cosine similarity,
// optionally restricted to a set of conversations.
func (r *PostgresRepository) SearchSimilar(ctx context.Context, userID uuid.UUID, embedding []float32, conversationIDs []uuid.UUID, limit int, threshold float64) ([]Match, error) {
	vec := pgvector.NewVector(embedding)

	query := `SELECT message_id, conversation_id, content, metadata, created_at,
	                 1 - (embedding <=> $1) AS similarity
	          FROM message_embeddings
	          WHERE user_id = $2
	            AND 1 - (embedding <=> $1) >= $3`
	args := []any{vec, userID, threshold}

	if len(conversationIDs) > 0 {
		query += ` AND conversation_id = ANY($4)
	          ORDER BY embedding <=> $1
	          LIMIT $5`
		args = append(args, conversationIDs, limit)
	} else {
		query += `
	          ORDER BY embedding <=> $1
	          LIMIT $4`
		args = append(args, limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching similar messages: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.MessageID, &m.ConversationID, &m.Content, &m.Metadata, &m.CreatedAt, &m.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteByConversation removes all embeddings for one conversation.
func (r *PostgresRepository) DeleteByConversation(ctx context.Context, userID, conversationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM message_embeddings WHERE user_id = $1 AND conversation_id = $2`,
		userID, conversationID,
	)
	if err != nil {
		return fmt.Errorf("deleting conversation embeddings: %w", err)
	}
	return nil
}
