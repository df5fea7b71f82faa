// internal/database/lobby.go
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arcadehall/arena/internal/models"
)

// InsertLobby creates the lobby row. Members travel as jsonb: the live
// state machine owns mutation; the row only needs to reconstruct snapshots.
func (s *Store) InsertLobby(ctx context.Context, l *models.Lobby) error {
	members, settings, err := marshalLobbyParts(l)
	if err != nil {
		return err
	}
	q := `
	INSERT INTO lobbies (
		id, game_id, game_mode, region, host_id,
		capacity_min, capacity_max, status, members, settings,
		version, formed_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			l.ID, l.GameID, l.GameMode, l.Region, l.HostID,
			l.Capacity.Min, l.Capacity.Max, l.Status, members, settings,
			l.Version, l.FormedAt,
		)
		return err
	})
}

// UpdateLobby overwrites the snapshot columns. Guarded by version so a
// stale writer never clobbers a newer snapshot.
func (s *Store) UpdateLobby(ctx context.Context, l *models.Lobby) error {
	members, settings, err := marshalLobbyParts(l)
	if err != nil {
		return err
	}
	q := `
	UPDATE lobbies
	SET host_id=$1, status=$2, members=$3, settings=$4, version=$5,
	    ready_at=$6, active_at=$7, closed_at=$8
	WHERE id=$9 AND version < $5
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			l.HostID, l.Status, members, settings, l.Version,
			l.ReadyAt, l.ActiveAt, l.ClosedAt, l.ID,
		)
		return err
	})
}

// LobbiesByUser lists lobbies holding a member slot for the user. With
// includeHistory, closed lobbies since closedSince are included.
func (s *Store) LobbiesByUser(ctx context.Context, userID uuid.UUID, includeHistory bool, closedSince time.Time) ([]models.Lobby, error) {
	memberMatch, err := json.Marshal([]map[string]string{{"userId": userID.String()}})
	if err != nil {
		return nil, err
	}
	q := `
	SELECT id, game_id, game_mode, region, host_id,
	       capacity_min, capacity_max, status, members, settings,
	       version, formed_at, ready_at, active_at, closed_at
	FROM lobbies
	WHERE members @> $1
	  AND (status <> 'closed' OR ($2 AND closed_at >= $3))
	ORDER BY formed_at DESC
	`
	rows, err := s.pool.Query(ctx, q, memberMatch, includeHistory, closedSince)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Lobby
	for rows.Next() {
		var l models.Lobby
		var members, settings []byte
		if err := rows.Scan(
			&l.ID, &l.GameID, &l.GameMode, &l.Region, &l.HostID,
			&l.Capacity.Min, &l.Capacity.Max, &l.Status, &members, &settings,
			&l.Version, &l.FormedAt, &l.ReadyAt, &l.ActiveAt, &l.ClosedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(members, &l.Members); err != nil {
			return nil, fmt.Errorf("unmarshal lobby members: %w", err)
		}
		if err := json.Unmarshal(settings, &l.Settings); err != nil {
			return nil, fmt.Errorf("unmarshal lobby settings: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func marshalLobbyParts(l *models.Lobby) (members, settings []byte, err error) {
	members, err = json.Marshal(l.Members)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal lobby members: %w", err)
	}
	settings, err = json.Marshal(l.Settings)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal lobby settings: %w", err)
	}
	return members, settings, nil
}
