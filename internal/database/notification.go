// internal/database/notification.go
package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/arcadehall/arena/internal/models"
	"github.com/arcadehall/arena/internal/notify"
)

// InsertNotification persists a new notification record.
func (s *Store) InsertNotification(ctx context.Context, n *models.Notification) error {
	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return fmt.Errorf("marshal channels: %w", err)
	}
	delivery, err := json.Marshal(n.Delivery)
	if err != nil {
		return fmt.Errorf("marshal delivery: %w", err)
	}
	data, err := json.Marshal(n.Data)
	if err != nil {
		return fmt.Errorf("marshal data: %w", err)
	}
	q := `
	INSERT INTO notifications (
		id, user_id, type, title, body, priority, status,
		channels, delivery, data, expires_at, created_at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q,
			n.ID, n.UserID, n.Type, n.Title, n.Body, n.Priority, n.Status,
			channels, delivery, data, n.ExpiresAt, n.CreatedAt,
		)
		return err
	})
}

// SetDeliveryState updates one channel's delivery state inside the jsonb
// delivery column.
func (s *Store) SetDeliveryState(ctx context.Context, id uuid.UUID, channel models.DeliveryChannel, state models.DeliveryState) error {
	q := `
	UPDATE notifications
	SET delivery = jsonb_set(delivery, ARRAY[$1::text], to_jsonb($2::text))
	WHERE id=$3
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, string(channel), string(state), id)
		return err
	})
}

// ListNotifications returns one page newest-first plus the filtered total.
func (s *Store) ListNotifications(ctx context.Context, userID uuid.UUID, f notify.ListFilter) ([]models.Notification, int, error) {
	where := `user_id=$1`
	args := []any{userID}
	if f.Status != "" {
		args = append(args, f.Status)
		where += fmt.Sprintf(" AND status=$%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		where += fmt.Sprintf(" AND type=$%d", len(args))
	}
	if f.Priority != "" {
		args = append(args, f.Priority)
		where += fmt.Sprintf(" AND priority=$%d", len(args))
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM notifications WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, (f.Page-1)*f.Limit)
	q := fmt.Sprintf(`
	SELECT id, user_id, type, title, body, priority, status,
	       channels, delivery, data, expires_at, created_at, read_at
	FROM notifications
	WHERE %s
	ORDER BY created_at DESC
	LIMIT $%d OFFSET $%d
	`, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		var channels, delivery, data []byte
		if err := rows.Scan(
			&n.ID, &n.UserID, &n.Type, &n.Title, &n.Body, &n.Priority, &n.Status,
			&channels, &delivery, &data, &n.ExpiresAt, &n.CreatedAt, &n.ReadAt,
		); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(channels, &n.Channels); err != nil {
			return nil, 0, err
		}
		if err := json.Unmarshal(delivery, &n.Delivery); err != nil {
			return nil, 0, err
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, 0, err
			}
		}
		out = append(out, n)
	}
	return out, total, rows.Err()
}

// CountUnread returns the user's unread notification count.
func (s *Store) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	var count int
	q := `SELECT count(*) FROM notifications WHERE user_id=$1 AND status='unread'`
	err := s.pool.QueryRow(ctx, q, userID).Scan(&count)
	return count, err
}

// MarkRead flips the given notifications to read, returning how many rows
// actually changed.
func (s *Store) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error) {
	q := `
	UPDATE notifications
	SET status='read', read_at=now()
	WHERE user_id=$1 AND id = ANY($2) AND status='unread'
	`
	var modified int
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, userID, ids)
		if err != nil {
			return err
		}
		modified = int(tag.RowsAffected())
		return nil
	})
	return modified, err
}

// MarkAllRead flips every unread notification for the user.
func (s *Store) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	q := `UPDATE notifications SET status='read', read_at=now() WHERE user_id=$1 AND status='unread'`
	var modified int
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, userID)
		if err != nil {
			return err
		}
		modified = int(tag.RowsAffected())
		return nil
	})
	return modified, err
}

// DeleteNotification removes one record owned by the user.
func (s *Store) DeleteNotification(ctx context.Context, userID, id uuid.UUID) error {
	q := `DELETE FROM notifications WHERE user_id=$1 AND id=$2`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, userID, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return notify.ErrNotFound
		}
		return nil
	})
}

// GetPrefs loads the user's notification preferences, nil when unset.
func (s *Store) GetPrefs(ctx context.Context, userID uuid.UUID) (*models.NotificationPrefs, error) {
	var raw []byte
	q := `SELECT channels FROM notification_prefs WHERE user_id=$1`
	err := s.pool.QueryRow(ctx, q, userID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	prefs := &models.NotificationPrefs{UserID: userID}
	if err := json.Unmarshal(raw, &prefs.Channels); err != nil {
		return nil, fmt.Errorf("unmarshal prefs: %w", err)
	}
	return prefs, nil
}

// SetPrefs upserts the user's notification preferences.
func (s *Store) SetPrefs(ctx context.Context, prefs *models.NotificationPrefs) error {
	raw, err := json.Marshal(prefs.Channels)
	if err != nil {
		return fmt.Errorf("marshal prefs: %w", err)
	}
	q := `
	INSERT INTO notification_prefs (user_id, channels)
	VALUES ($1, $2)
	ON CONFLICT (user_id) DO UPDATE SET channels=EXCLUDED.channels
	`
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, q, prefs.UserID, raw)
		return err
	})
}

// SweepNotifications deletes read/archived records older than cutoff.
func (s *Store) SweepNotifications(ctx context.Context, cutoff time.Time) (int, error) {
	q := `DELETE FROM notifications WHERE created_at < $1 AND status IN ('read','archived')`
	var deleted int
	err := pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, q, cutoff)
		if err != nil {
			return err
		}
		deleted = int(tag.RowsAffected())
		return nil
	})
	return deleted, err
}
