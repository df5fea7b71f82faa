package models

import (
	"time"

	"github.com/google/uuid"
)

type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityMedium NotificationPriority = "medium"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

type DeliveryChannel string

const (
	ChannelInApp DeliveryChannel = "inApp"
	ChannelPush  DeliveryChannel = "push"
	ChannelEmail DeliveryChannel = "email"
)

type DeliveryState string

const (
	DeliveryPending   DeliveryState = "pending"
	DeliveryDelivered DeliveryState = "delivered"
	DeliveryFailed    DeliveryState = "failed"
)

type NotificationStatus string

const (
	NotificationUnread   NotificationStatus = "unread"
	NotificationRead     NotificationStatus = "read"
	NotificationArchived NotificationStatus = "archived"
)

type Notification struct {
	ID       uuid.UUID            `json:"id"`
	UserID   uuid.UUID            `json:"userId"`
	Type     string               `json:"type"`
	Title    string               `json:"title"`
	Body     string               `json:"body"`
	Priority NotificationPriority `json:"priority"`
	Status   NotificationStatus   `json:"status"`

	// Channels resolved from the recipient's preferences at creation time;
	// urgent priority forces all three.
	Channels []DeliveryChannel                 `json:"channels"`
	Delivery map[DeliveryChannel]DeliveryState `json:"delivery"`

	Data      map[string]any `json:"data,omitempty"`
	ExpiresAt *time.Time     `json:"expiresAt,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
	ReadAt    *time.Time     `json:"readAt,omitempty"`
}

// NotificationPrefs maps notification types to enabled channels for a user.
// A type absent from the map falls back to in-app only.
type NotificationPrefs struct {
	UserID   uuid.UUID                    `json:"userId"`
	Channels map[string][]DeliveryChannel `json:"channels"`
}

// ChannelsFor resolves the effective channel set for a notification type.
func (p *NotificationPrefs) ChannelsFor(typ string, priority NotificationPriority) []DeliveryChannel {
	if priority == PriorityUrgent {
		return []DeliveryChannel{ChannelInApp, ChannelPush, ChannelEmail}
	}
	if p != nil && p.Channels != nil {
		if chans, ok := p.Channels[typ]; ok && len(chans) > 0 {
			return chans
		}
	}
	return []DeliveryChannel{ChannelInApp}
}
