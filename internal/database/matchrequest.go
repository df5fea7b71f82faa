// internal/database/matchrequest.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arcadehall/arena/internal/match"
	"github.com/arcadehall/arena/internal/models"
)

// CreateMatchRequest inserts a new request row. Criteria are stored as
// jsonb; a partial unique index on (user_id) WHERE status='searching'
// backs the one-active-request-per-user invariant.
func (s *Store) CreateMatchRequest(ctx context.Context, req *models.MatchRequest) error {
	criteria, err := json.Marshal(req.Criteria)
	if err != nil {
		return fmt.Errorf("marshal criteria: %w", err)
	}
	q := `
	INSERT INTO match_requests (
		id, user_id, criteria, status, primary_game_id,
		search_start_time, relaxation_level
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			req.ID, req.UserID, criteria, req.Status, req.PrimaryGameID,
			req.SearchStartTime, req.RelaxationLevel,
		)
		return err
	})
}

// TransitionMatchRequest flips status only when the row is currently in
// from, reporting whether the flip happened. This conditional write is what
// makes cancel-vs-finalize races safe.
func (s *Store) TransitionMatchRequest(ctx context.Context, id uuid.UUID, from, to models.MatchRequestStatus, lobbyID *uuid.UUID) (bool, error) {
	q := `
	UPDATE match_requests
	SET status=$1,
	    lobby_id=COALESCE($2, lobby_id),
	    matched_at=CASE WHEN $1='matched' THEN now() ELSE matched_at END
	WHERE id=$3 AND status=$4
	`
	var flipped bool
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, to, lobbyID, id, from)
		if err != nil {
			return err
		}
		flipped = tag.RowsAffected() == 1
		return nil
	})
	return flipped, err
}

const matchRequestColumns = `
	id, user_id, criteria, status, primary_game_id,
	search_start_time, relaxation_level, matched_at, lobby_id
`

func scanMatchRequest(row pgx.Row) (*models.MatchRequest, error) {
	var req models.MatchRequest
	var criteria []byte
	err := row.Scan(
		&req.ID, &req.UserID, &criteria, &req.Status, &req.PrimaryGameID,
		&req.SearchStartTime, &req.RelaxationLevel, &req.MatchedAt, &req.LobbyID,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(criteria, &req.Criteria); err != nil {
		return nil, fmt.Errorf("unmarshal criteria: %w", err)
	}
	return &req, nil
}

// GetMatchRequest fetches one request by id.
func (s *Store) GetMatchRequest(ctx context.Context, id uuid.UUID) (*models.MatchRequest, error) {
	q := `SELECT ` + matchRequestColumns + ` FROM match_requests WHERE id=$1`
	return scanMatchRequest(s.pool.QueryRow(ctx, q, id))
}

// ActiveRequestByUser returns the user's searching request, or nil when
// none exists.
func (s *Store) ActiveRequestByUser(ctx context.Context, userID uuid.UUID) (*models.MatchRequest, error) {
	q := `SELECT ` + matchRequestColumns + ` FROM match_requests WHERE user_id=$1 AND status='searching'`
	req, err := scanMatchRequest(s.pool.QueryRow(ctx, q, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return req, err
}

// SearchingRequests returns every searching request, oldest first, for the
// startup queue rebuild.
func (s *Store) SearchingRequests(ctx context.Context) ([]*models.MatchRequest, error) {
	q := `SELECT ` + matchRequestColumns + ` FROM match_requests WHERE status='searching' ORDER BY search_start_time`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reqs []*models.MatchRequest
	for rows.Next() {
		req, err := scanMatchRequest(rows)
		if err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// SetRelaxationLevel persists a relaxation advance. Levels only go up.
func (s *Store) SetRelaxationLevel(ctx context.Context, id uuid.UUID, level int) error {
	q := `UPDATE match_requests SET relaxation_level=$1 WHERE id=$2 AND relaxation_level < $1`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, level, id)
		return err
	})
}

// InsertMatchHistory records one finalized match.
func (s *Store) InsertMatchHistory(ctx context.Context, h *models.MatchHistory) error {
	participants, err := json.Marshal(h.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	q := `
	INSERT INTO match_history (
		id, game_id, game_mode, region, lobby_id,
		participants, group_score, avg_wait_ms, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			h.ID, h.GameID, h.GameMode, h.Region, h.LobbyID,
			participants, h.GroupScore, h.AvgWait.Milliseconds(), h.CreatedAt,
		)
		return err
	})
}

// MatchHistoryByUser returns one page of the user's matches, newest first,
// plus the unpaginated total.
func (s *Store) MatchHistoryByUser(ctx context.Context, userID uuid.UUID, f match.HistoryFilter) ([]models.MatchHistory, int, error) {
	where := `participants @> $1`
	userJSON, err := json.Marshal([]uuid.UUID{userID})
	if err != nil {
		return nil, 0, err
	}
	args := []any{userJSON}
	if f.GameID != nil {
		args = append(args, *f.GameID)
		where += fmt.Sprintf(" AND game_id=$%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM match_history WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	q := fmt.Sprintf(`
	SELECT id, game_id, game_mode, region, lobby_id,
	       participants, group_score, avg_wait_ms, created_at
	FROM match_history
	WHERE %s
	ORDER BY created_at DESC
	LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.MatchHistory
	for rows.Next() {
		var h models.MatchHistory
		var participants []byte
		var avgWaitMS int64
		if err := rows.Scan(
			&h.ID, &h.GameID, &h.GameMode, &h.Region, &h.LobbyID,
			&participants, &h.GroupScore, &avgWaitMS, &h.CreatedAt,
		); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(participants, &h.Participants); err != nil {
			return nil, 0, err
		}
		h.AvgWait = timeMillis(avgWaitMS)
		out = append(out, h)
	}
	return out, total, rows.Err()
}
