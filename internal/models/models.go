package models

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrNoReadAccess  = errors.New("no read access to channel")
	ErrNoWriteAccess = errors.New("no write access to channel")
	ErrNotConnected  = errors.New("transport not connected")
)

// TempIDPrefix marks locally generated message ids. A temporary id is
// superseded by the server-issued id once the send is confirmed.
const TempIDPrefix = "temp_"

// Tombstone replaces the content of a deleted message while it is
// still visible in the buffer.
const Tombstone = "This message has been deleted"

type Role string

const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleMember    Role = "member"
)

type Plan string

const (
	PlanFree    Plan = "free"
	PlanPremium Plan = "premium"
	PlanElite   Plan = "elite"
)

type EntitlementStatus string

const (
	EntitlementActive        EntitlementStatus = "active"
	EntitlementInactive      EntitlementStatus = "inactive"
	EntitlementPaymentFailed EntitlementStatus = "payment-failed"
)

// Entitlement is the viewer's current subscription state as reported
// by the backend. Channel capability flags are derived from it.
type Entitlement struct {
	Plan   Plan              `json:"plan"`
	Status EntitlementStatus `json:"status"`
}

// Sender is a snapshot of the posting user at post time, not a live
// reference. Role changes after posting do not rewrite old messages.
type Sender struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Role     Role   `json:"role"`
}

type Attachment struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
	// Preview is a data URI, populated only for images to bound the
	// payload size of non-image attachments.
	Preview string `json:"preview,omitempty"`
}

// Message represents one chat post.
type Message struct {
	ID        string      `json:"id"`
	ChannelID string      `json:"channelId"`
	Content   string      `json:"content"`
	Sender    Sender      `json:"sender"`
	Timestamp time.Time   `json:"timestamp"`
	File      *Attachment `json:"file,omitempty"`
	IsDeleted bool        `json:"isDeleted,omitempty"`
	Edited    bool        `json:"edited,omitempty"`
}

// IsTemp reports whether the message still carries a locally
// generated id.
func (m Message) IsTemp() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Capabilities are the viewer-specific access flags for a channel.
// They are derived data and must be recomputed whenever the viewer's
// entitlement changes.
type Capabilities struct {
	CanSee   bool `json:"canSee"`
	CanRead  bool `json:"canRead"`
	CanWrite bool `json:"canWrite"`
}

// Channel describes one community channel. AccessLevel and the
// capability flags are per-viewer, not intrinsic to the channel.
type Channel struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Category    string `json:"category"`
	AccessLevel Plan   `json:"accessLevel"`
	Locked      bool   `json:"locked"`
	Capabilities
}

// Badge holds the per-channel unread and mention counters. Both reset
// to zero when the channel becomes the active selection.
type Badge struct {
	Unread   int `json:"unread"`
	Mentions int `json:"mentions"`
}

type EventType string

const (
	EventNewMessage     EventType = "new-message"
	EventMessageDeleted EventType = "MESSAGE_DELETED"
)

// Event is the transport payload, tagged by Type.
type Event struct {
	Type      EventType `json:"type"`
	ChannelID string    `json:"channelId,omitempty"`
	Message   *Message  `json:"message,omitempty"`
	MessageID string    `json:"messageId,omitempty"`
	DeletedAt time.Time `json:"deletedAt,omitempty"`
}
