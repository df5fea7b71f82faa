// internal/database/chat.go
package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arcadehall/arena/internal/models"
)

// Append inserts a chat message, assigning the next per-lobby id inside
// the transaction. The chat service additionally serializes appends per
// lobby, so the MAX+1 subquery never races with itself.
func (s *Store) Append(ctx context.Context, msg *models.ChatMessage) error {
	q := `
	INSERT INTO chat_messages (lobby_id, id, sender_id, content_type, content, created_at)
	VALUES ($1,
	        (SELECT COALESCE(MAX(id), 0) + 1 FROM chat_messages WHERE lobby_id = $1),
	        $2, $3, $4, $5)
	RETURNING id
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, q,
			msg.LobbyID, msg.SenderID, msg.ContentType, msg.Content, msg.CreatedAt,
		).Scan(&msg.ID)
	})
}

// History returns up to limit messages newest-first, older than before
// when given, and whether older messages remain.
func (s *Store) History(ctx context.Context, lobbyID uuid.UUID, limit int, before *time.Time) ([]models.ChatMessage, bool, error) {
	q := `
	SELECT lobby_id, id, sender_id, content_type, content, created_at
	FROM chat_messages
	WHERE lobby_id=$1 AND ($2::timestamptz IS NULL OR created_at < $2)
	ORDER BY id DESC
	LIMIT $3
	`
	// Fetch one extra row to detect hasMore.
	rows, err := s.pool.Query(ctx, q, lobbyID, before, limit+1)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var out []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		if err := rows.Scan(&m.LobbyID, &m.ID, &m.SenderID, &m.ContentType, &m.Content, &m.CreatedAt); err != nil {
			return nil, false, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}
