// internal/database/game.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/arcadehall/arena/internal/match"
	"github.com/arcadehall/arena/internal/models"
)

// ErrGameNotFound is returned for catalogue lookups that match no row.
var ErrGameNotFound = errors.New("game not found")

const gameCacheTTL = 10 * time.Minute

func gameCacheKey(id uuid.UUID) string { return "arena:game:" + id.String() }

// GetGame fetches a catalogue entry through a Redis read-through cache. The
// catalogue changes rarely, but every submit hits it once per listed game.
func (s *Store) GetGame(ctx context.Context, id uuid.UUID) (*models.Game, error) {
	key := gameCacheKey(id)
	if raw, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var g models.Game
		if err := json.Unmarshal(raw, &g); err == nil {
			return &g, nil
		}
		// Corrupt cache entry; fall through to the DB and rewrite it.
		s.rdb.Del(ctx, key)
	}

	var g models.Game
	var modes []byte
	q := `SELECT id, name, slug, modes FROM games WHERE id=$1`
	err := s.pool.QueryRow(ctx, q, id).Scan(&g.ID, &g.Name, &g.Slug, &modes)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGameNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(modes, &g.Modes); err != nil {
		return nil, fmt.Errorf("unmarshal game modes: %w", err)
	}

	if raw, err := json.Marshal(&g); err == nil {
		if err := s.rdb.Set(ctx, key, raw, gameCacheTTL).Err(); err != nil && !errors.Is(err, redis.ErrClosed) {
			logrus.WithError(err).Warn("game cache write failed")
		}
	}
	return &g, nil
}

// Enrichment joins users with their per-game profiles for one game. Users
// without a profile row fall back to DefaultSkillLevel.
func (s *Store) Enrichment(ctx context.Context, gameID uuid.UUID, userIDs []uuid.UUID) (map[uuid.UUID]match.PlayerFacts, error) {
	q := `
	SELECT u.id, u.username, u.karma, COALESCE(p.skill_level, $1)
	FROM users u
	LEFT JOIN game_profiles p ON p.user_id = u.id AND p.game_id = $2
	WHERE u.id = ANY($3)
	`
	rows, err := s.pool.Query(ctx, q, models.DefaultSkillLevel, gameID, userIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]match.PlayerFacts, len(userIDs))
	for rows.Next() {
		var id uuid.UUID
		var facts match.PlayerFacts
		if err := rows.Scan(&id, &facts.Username, &facts.Karma, &facts.Skill); err != nil {
			return nil, err
		}
		out[id] = facts
	}
	return out, rows.Err()
}
