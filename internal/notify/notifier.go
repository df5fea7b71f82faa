// internal/notify/notifier.go
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/arcadehall/arena/internal/models"
)

// ErrNotFound covers notifications the caller does not own.
var ErrNotFound = errors.New("notification not found")

// Events is the in-app delivery surface (user rooms on the socket hub).
type Events interface {
	ToUser(userID uuid.UUID, event string, payload any)
}

// ListFilter narrows notification listings.
type ListFilter struct {
	Page     int
	Limit    int
	Status   models.NotificationStatus
	Type     string
	Priority models.NotificationPriority
}

// Store persists notification records and preferences.
type Store interface {
	InsertNotification(ctx context.Context, n *models.Notification) error
	SetDeliveryState(ctx context.Context, id uuid.UUID, channel models.DeliveryChannel, state models.DeliveryState) error
	ListNotifications(ctx context.Context, userID uuid.UUID, f ListFilter) ([]models.Notification, int, error)
	CountUnread(ctx context.Context, userID uuid.UUID) (int, error)
	// MarkRead returns how many records actually changed; a repeat call
	// changes zero.
	MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error)
	MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error)
	DeleteNotification(ctx context.Context, userID, id uuid.UUID) error
	GetPrefs(ctx context.Context, userID uuid.UUID) (*models.NotificationPrefs, error)
	SetPrefs(ctx context.Context, prefs *models.NotificationPrefs) error
	// SweepNotifications deletes read/archived records older than cutoff.
	SweepNotifications(ctx context.Context, cutoff time.Time) (int, error)
}

// Intent describes a notification to be created. The service resolves the
// effective channels from the recipient's preferences.
type Intent struct {
	Type      string
	Title     string
	Body      string
	Priority  models.NotificationPriority
	Data      map[string]any
	ExpiresAt *time.Time
}

// Service is the notification intent bus: it creates records honouring
// per-user preferences, delivers in-app over the socket hub, and enqueues
// push/email jobs on Redis lists drained by the batch workers.
type Service struct {
	store  Store
	events Events
	rdb    *redis.Client
	log    *logrus.Logger

	workers *workerPool
}

func NewService(store Store, events Events, rdb *redis.Client, log *logrus.Logger) *Service {
	s := &Service{store: store, events: events, rdb: rdb, log: log}
	s.workers = newWorkerPool(rdb, store, log)
	return s
}

// Run starts the push/email batch workers; blocks until ctx is cancelled
// or Stop is called.
func (s *Service) Run(ctx context.Context) { s.workers.run(ctx) }

// Stop drains the workers.
func (s *Service) Stop() { s.workers.stop() }

// Create resolves channels, persists the record, pushes the in-app event,
// and enqueues push/email jobs. Delivery errors never surface to the
// caller that triggered the notification.
func (s *Service) Create(ctx context.Context, userID uuid.UUID, intent Intent) (*models.Notification, error) {
	prefs, err := s.store.GetPrefs(ctx, userID)
	if err != nil {
		// Missing or unreadable prefs fall back to defaults.
		s.log.WithError(err).WithField("user", userID).Debug("using default notification prefs")
		prefs = nil
	}
	channels := prefs.ChannelsFor(intent.Type, intent.Priority)

	n := &models.Notification{
		ID:        uuid.New(),
		UserID:    userID,
		Type:      intent.Type,
		Title:     intent.Title,
		Body:      intent.Body,
		Priority:  intent.Priority,
		Status:    models.NotificationUnread,
		Channels:  channels,
		Delivery:  make(map[models.DeliveryChannel]models.DeliveryState, len(channels)),
		Data:      intent.Data,
		ExpiresAt: intent.ExpiresAt,
		CreatedAt: time.Now(),
	}
	for _, ch := range channels {
		n.Delivery[ch] = models.DeliveryPending
	}

	if err := s.store.InsertNotification(ctx, n); err != nil {
		return nil, err
	}

	for _, ch := range channels {
		switch ch {
		case models.ChannelInApp:
			// The user room receives the event before the record is marked
			// delivered.
			s.events.ToUser(userID, "notification:new", map[string]any{"notification": n})
			n.Delivery[models.ChannelInApp] = models.DeliveryDelivered
			if err := s.store.SetDeliveryState(ctx, n.ID, models.ChannelInApp, models.DeliveryDelivered); err != nil {
				s.log.WithError(err).WithField("notification", n.ID).Warn("failed to record in-app delivery")
			}
		case models.ChannelPush, models.ChannelEmail:
			s.workers.enqueue(ctx, deliveryJob{
				NotificationID: n.ID,
				UserID:         userID,
				Channel:        ch,
				Title:          intent.Title,
				Body:           intent.Body,
			})
		}
	}
	return n, nil
}

// MatchFound enqueues the match_found intent for one participant.
// Implements match.Notifier.
func (s *Service) MatchFound(ctx context.Context, userID, lobbyID uuid.UUID) {
	if _, err := s.Create(ctx, userID, Intent{
		Type:     "match_found",
		Title:    "Match found!",
		Body:     "Your match is ready. Head to the lobby.",
		Priority: models.PriorityHigh,
		Data:     map[string]any{"lobbyId": lobbyID.String()},
	}); err != nil {
		s.log.WithError(err).WithField("user", userID).Warn("failed to create match_found notification")
	}
}

// List returns a page of the user's notifications plus the total count.
func (s *Service) List(ctx context.Context, userID uuid.UUID, f ListFilter) ([]models.Notification, int, error) {
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 20
	}
	if f.Page <= 0 {
		f.Page = 1
	}
	return s.store.ListNotifications(ctx, userID, f)
}

// CountUnread returns the user's unread total.
func (s *Service) CountUnread(ctx context.Context, userID uuid.UUID) (int, error) {
	return s.store.CountUnread(ctx, userID)
}

// MarkRead marks specific notifications read and pushes the new unread
// count. Idempotent: the second call modifies zero records.
func (s *Service) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID) (int, error) {
	modified, err := s.store.MarkRead(ctx, userID, ids)
	if err != nil {
		return 0, err
	}
	s.pushUnreadCount(ctx, userID)
	return modified, nil
}

// MarkAllRead marks everything read.
func (s *Service) MarkAllRead(ctx context.Context, userID uuid.UUID) (int, error) {
	modified, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, err
	}
	s.pushUnreadCount(ctx, userID)
	return modified, nil
}

// Delete removes one notification owned by the caller.
func (s *Service) Delete(ctx context.Context, userID, id uuid.UUID) error {
	return s.store.DeleteNotification(ctx, userID, id)
}

// Prefs returns the user's notification preferences.
func (s *Service) Prefs(ctx context.Context, userID uuid.UUID) (*models.NotificationPrefs, error) {
	prefs, err := s.store.GetPrefs(ctx, userID)
	if err != nil || prefs == nil {
		return &models.NotificationPrefs{UserID: userID, Channels: map[string][]models.DeliveryChannel{}}, nil
	}
	return prefs, nil
}

// SetPrefs replaces the user's notification preferences.
func (s *Service) SetPrefs(ctx context.Context, prefs *models.NotificationPrefs) error {
	return s.store.SetPrefs(ctx, prefs)
}

// Sweep deletes read/archived notifications older than daysToKeep.
func (s *Service) Sweep(ctx context.Context, daysToKeep int) (int, error) {
	if daysToKeep <= 0 {
		daysToKeep = 30
	}
	cutoff := time.Now().AddDate(0, 0, -daysToKeep)
	return s.store.SweepNotifications(ctx, cutoff)
}

func (s *Service) pushUnreadCount(ctx context.Context, userID uuid.UUID) {
	unread, err := s.store.CountUnread(ctx, userID)
	if err != nil {
		s.log.WithError(err).WithField("user", userID).Warn("failed to count unread notifications")
		return
	}
	s.events.ToUser(userID, "notification:count", map[string]any{"unread": unread})
}
