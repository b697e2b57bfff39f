package search

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageEmbedding matches the message_embeddings table schema. One row per
// indexed message.
type MessageEmbedding struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"user_id"`
	MessageID      uuid.UUID       `json:"message_id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Content        string          `json:"content"`
	Embedding      []float32       `json:"-"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Match is one semantic search hit, ordered by similarity.
type Match struct {
	MessageID      uuid.UUID       `json:"message_id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Content        string          `json:"content"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	Similarity     float64         `json:"similarity"`
	CreatedAt      time.Time       `json:"created_at"`
}
