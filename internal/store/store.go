// Package store defines the durable-state contract consumed by the
// ingestion pipeline, plus the bounded-retry and health policies that wrap
// every backend. Concrete backends live in store/pg (managed mode) and
// store/sqlite (standalone mode).
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups that matched nothing. It is a healthy
// answer, not a failure: retry and health accounting ignore it.
var ErrNotFound = errors.New("store: not found")

// TenantStatus is the connection state of a tenant's channel.
type TenantStatus string

const (
	TenantConnected    TenantStatus = "connected"
	TenantDisconnected TenantStatus = "disconnected"
)

// Tenant is one company on the platform. All cached decisions and
// broadcasts are scoped by Tenant.ID.
type Tenant struct {
	ID               string
	Name             string
	ChannelID        string
	Status           TenantStatus
	AutoReplyEnabled bool
}

// Customer is a platform user who has messaged a tenant's channel.
type Customer struct {
	ID         string
	TenantID   string
	PlatformID string
	Name       string
}

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationActive   ConversationStatus = "active"
	ConversationResolved ConversationStatus = "resolved"
	ConversationClosed   ConversationStatus = "closed"
)

// Conversation groups the messages between one customer and one tenant.
// PendingSender is the typed attribution side channel: set when a reply is
// sent on the tenant's behalf, cleared exactly once when its echo arrives.
type Conversation struct {
	ID            string
	TenantID      string
	CustomerID    string
	Status        ConversationStatus
	Preview       string
	LastMessageID string
	PendingSender string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Direction of a message relative to the tenant.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// MessageType is the classified content type of a message.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeFile     MessageType = "file"
	TypeTemplate MessageType = "template"
)

// Message is the durable record of one message.
type Message struct {
	ID                string
	ConversationID    string
	TenantID          string
	Direction         Direction
	Type              MessageType
	Content           string
	PlatformMessageID string
	SenderName        string

	// Automation tagging, populated when the echo matched an agent-echo
	// cache record.
	AIGenerated bool
	Intent      string
	Sentiment   string
	Confidence  float64

	// Reply-to reference, resolved against the conversation's recent
	// history.
	ReplyToID      string
	ReplyToSnippet string
	ReplyToOrigin  string // "customer" or "agent"

	CreatedAt time.Time
}

// DuplicateQuery describes the duplicate-window probe used by the echo
// reconciler: match by embedded platform message id, or by same
// direction/content/type created within ±Window of At.
type DuplicateQuery struct {
	ConversationID    string
	PlatformMessageID string
	Direction         Direction
	Type              MessageType
	Content           string
	At                time.Time
	Window            time.Duration
}

// Store is the durable-state collaborator. Implementations must be safe for
// concurrent use; callers treat every method as potentially slow I/O.
type Store interface {
	TenantByChannel(ctx context.Context, channelID string) (*Tenant, error)
	TenantIDs(ctx context.Context) ([]string, error)

	// AutoReplyEnabled is the feature-flag source consumed by the flag
	// cache's refill path.
	AutoReplyEnabled(ctx context.Context, tenantID string) (bool, error)

	CustomerByPlatformID(ctx context.Context, platformID, tenantID string) (*Customer, error)

	// LatestConversation returns the most recent active-or-resolved
	// conversation for the customer.
	LatestConversation(ctx context.Context, customerID, tenantID string) (*Conversation, error)
	CreateConversation(ctx context.Context, conv *Conversation) error

	// TakePendingSender reads and clears the conversation's pending
	// attribution in one atomic step. Returns "" when nothing was pending.
	TakePendingSender(ctx context.Context, conversationID string) (string, error)
	SetPendingSender(ctx context.Context, conversationID, sender string) error

	FindDuplicateMessage(ctx context.Context, q DuplicateQuery) (*Message, error)
	SetPlatformMessageID(ctx context.Context, messageID, platformMessageID string) error
	RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error)
	CreateMessage(ctx context.Context, msg *Message) error
	UpdateConversationPreview(ctx context.Context, conversationID, preview, lastMessageID string, at time.Time) error

	Ping(ctx context.Context) error
	Close() error
}
