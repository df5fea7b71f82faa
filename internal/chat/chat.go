// internal/chat/chat.go
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arcadehall/arena/internal/models"
)

var (
	// ErrNotMember rejects posts and reads from users outside the lobby.
	ErrNotMember = errors.New("user is not a participant of this chat")
	// ErrEmptyMessage rejects blank content after trimming.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrMessageTooLong rejects content above the 2000-byte cap.
	ErrMessageTooLong = errors.New("message content exceeds limit")
	// ErrBadContentType rejects unsupported content types.
	ErrBadContentType = errors.New("unsupported content type")
)

// MaxHistoryLimit caps one history page.
const MaxHistoryLimit = 200

// Events is the push fabric surface for chat broadcasts.
type Events interface {
	ToRoom(room, event string, payload any)
}

// Membership answers chat ACL questions; implemented by the lobby manager.
// Posting requires a current seat; history read-back only requires having
// ever held one.
type Membership interface {
	IsMember(lobbyID, userID uuid.UUID) bool
	IsActiveMember(lobbyID, userID uuid.UUID) bool
}

// Store persists the append-only message log. Append assigns the next
// per-lobby id.
type Store interface {
	Append(ctx context.Context, msg *models.ChatMessage) error
	// History returns up to limit messages newest-first, older than before
	// when given, and whether more remain.
	History(ctx context.Context, lobbyID uuid.UUID, limit int, before *time.Time) ([]models.ChatMessage, bool, error)
}

// Service is the per-lobby chat channel store. One channel exists per
// lobby; ids increase strictly per lobby and messages are published in id
// order (a per-lobby lock covers append + publish).
type Service struct {
	store      Store
	events     Events
	membership Membership
	log        *logrus.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func NewService(store Store, events Events, membership Membership, log *logrus.Logger) *Service {
	return &Service{
		store:      store,
		events:     events,
		membership: membership,
		log:        log,
		locks:      make(map[uuid.UUID]*sync.Mutex),
	}
}

func lobbyRoom(id uuid.UUID) string { return "lobby:" + id.String() }

func (s *Service) lobbyLock(lobbyID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locks[lobbyID] == nil {
		s.locks[lobbyID] = &sync.Mutex{}
	}
	return s.locks[lobbyID]
}

// Post appends a user message and broadcasts it to the lobby room.
func (s *Service) Post(ctx context.Context, lobbyID, senderID uuid.UUID, content string, contentType models.ContentType) (*models.ChatMessage, error) {
	if !s.membership.IsActiveMember(lobbyID, senderID) {
		return nil, ErrNotMember
	}

	if contentType == "" {
		contentType = models.ContentText
	}
	if contentType != models.ContentText && contentType != models.ContentImage {
		return nil, ErrBadContentType
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if len(content) > models.MaxMessageBytes {
		return nil, ErrMessageTooLong
	}

	msg := &models.ChatMessage{
		LobbyID:     lobbyID,
		SenderID:    &senderID,
		ContentType: contentType,
		Content:     content,
		CreatedAt:   time.Now(),
	}
	if err := s.append(ctx, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

// SystemPost injects a system message. Called by the lobby state machine on
// transitions; failures are logged, never surfaced to the caller.
func (s *Service) SystemPost(ctx context.Context, lobbyID uuid.UUID, text string) {
	msg := &models.ChatMessage{
		LobbyID:     lobbyID,
		ContentType: models.ContentSystem,
		Content:     text,
		CreatedAt:   time.Now(),
	}
	if err := s.append(ctx, msg); err != nil {
		s.log.WithError(err).WithField("lobby", lobbyID).Warn("failed to post system message")
	}
}

// append assigns the id, persists, and publishes under the lobby's lock so
// ids go out strictly increasing.
func (s *Service) append(ctx context.Context, msg *models.ChatMessage) error {
	lock := s.lobbyLock(msg.LobbyID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.Append(ctx, msg); err != nil {
		return err
	}
	s.events.ToRoom(lobbyRoom(msg.LobbyID), "chat:message", map[string]any{"message": msg})
	return nil
}

// History returns the newest messages first, up to limit, older than before
// when given. Requires current or past membership.
func (s *Service) History(ctx context.Context, lobbyID, userID uuid.UUID, limit int, before *time.Time) ([]models.ChatMessage, bool, error) {
	if !s.membership.IsMember(lobbyID, userID) {
		return nil, false, ErrNotMember
	}
	if limit <= 0 || limit > MaxHistoryLimit {
		limit = 50
	}
	return s.store.History(ctx, lobbyID, limit, before)
}

// Typing relays a transient typing indicator; nothing is persisted.
func (s *Service) Typing(lobbyID, userID uuid.UUID) error {
	if !s.membership.IsActiveMember(lobbyID, userID) {
		return ErrNotMember
	}
	s.events.ToRoom(lobbyRoom(lobbyID), "chat:typing", map[string]any{
		"lobbyId": lobbyID.String(), "userId": userID.String(),
	})
	return nil
}
