package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/openreply/pagegate/internal/store"
)

// PGStore implements store.Store on Postgres.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) TenantByChannel(ctx context.Context, channelID string) (*store.Tenant, error) {
	var t store.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, channel_id, status, auto_reply_enabled
		 FROM tenants WHERE channel_id = $1`, channelID).
		Scan(&t.ID, &t.Name, &t.ChannelID, &t.Status, &t.AutoReplyEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant by channel: %w", err)
	}
	return &t, nil
}

func (s *PGStore) TenantIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("tenant ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PGStore) AutoReplyEnabled(ctx context.Context, tenantID string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT auto_reply_enabled FROM tenants WHERE id = $1`, tenantID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("auto reply flag: %w", err)
	}
	return enabled, nil
}

func (s *PGStore) CustomerByPlatformID(ctx context.Context, platformID, tenantID string) (*store.Customer, error) {
	var c store.Customer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, platform_id, name
		 FROM customers WHERE platform_id = $1 AND tenant_id = $2`, platformID, tenantID).
		Scan(&c.ID, &c.TenantID, &c.PlatformID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("customer by platform id: %w", err)
	}
	return &c, nil
}

func (s *PGStore) LatestConversation(ctx context.Context, customerID, tenantID string) (*store.Conversation, error) {
	var conv store.Conversation
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, customer_id, status, preview, last_message_id, pending_sender, created_at, updated_at
		 FROM conversations
		 WHERE customer_id = $1 AND tenant_id = $2 AND status IN ('active', 'resolved')
		 ORDER BY updated_at DESC LIMIT 1`, customerID, tenantID).
		Scan(&conv.ID, &conv.TenantID, &conv.CustomerID, &conv.Status, &conv.Preview,
			&conv.LastMessageID, &conv.PendingSender, &conv.CreatedAt, &conv.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest conversation: %w", err)
	}
	return &conv, nil
}

func (s *PGStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations
		   (id, tenant_id, customer_id, status, preview, last_message_id, pending_sender, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		conv.ID, conv.TenantID, conv.CustomerID, conv.Status, conv.Preview,
		conv.LastMessageID, conv.PendingSender, conv.CreatedAt, conv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *PGStore) TakePendingSender(ctx context.Context, conversationID string) (string, error) {
	// Read-and-clear in one statement so two concurrent echoes cannot both
	// claim the attribution.
	var sender string
	err := s.db.QueryRowContext(ctx,
		`WITH prev AS (SELECT pending_sender FROM conversations WHERE id = $1)
		 UPDATE conversations SET pending_sender = ''
		 WHERE id = $1
		 RETURNING (SELECT pending_sender FROM prev)`, conversationID).
		Scan(&sender)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("take pending sender: %w", err)
	}
	return sender, nil
}

func (s *PGStore) SetPendingSender(ctx context.Context, conversationID, sender string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET pending_sender = $2 WHERE id = $1`, conversationID, sender)
	if err != nil {
		return fmt.Errorf("set pending sender: %w", err)
	}
	return nil
}

func (s *PGStore) FindDuplicateMessage(ctx context.Context, q store.DuplicateQuery) (*store.Message, error) {
	var m store.Message
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, tenant_id, direction, type, content, platform_message_id,
		        sender_name, ai_generated, intent, sentiment, confidence,
		        reply_to_id, reply_to_snippet, reply_to_origin, created_at
		 FROM messages
		 WHERE conversation_id = $1
		   AND (
		     (platform_message_id <> '' AND platform_message_id = $2)
		     OR (direction = $3 AND type = $4 AND content = $5 AND created_at BETWEEN $6 AND $7)
		   )
		 ORDER BY created_at DESC LIMIT 1`,
		q.ConversationID, q.PlatformMessageID, q.Direction, q.Type, q.Content,
		q.At.Add(-q.Window), q.At.Add(q.Window)).
		Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.Type, &m.Content,
			&m.PlatformMessageID, &m.SenderName, &m.AIGenerated, &m.Intent, &m.Sentiment,
			&m.Confidence, &m.ReplyToID, &m.ReplyToSnippet, &m.ReplyToOrigin, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate message: %w", err)
	}
	return &m, nil
}

func (s *PGStore) SetPlatformMessageID(ctx context.Context, messageID, platformMessageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET platform_message_id = $2
		 WHERE id = $1 AND platform_message_id = ''`, messageID, platformMessageID)
	if err != nil {
		return fmt.Errorf("set platform message id: %w", err)
	}
	return nil
}

func (s *PGStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, tenant_id, direction, type, content, platform_message_id,
		        sender_name, ai_generated, intent, sentiment, confidence,
		        reply_to_id, reply_to_snippet, reply_to_origin, created_at
		 FROM messages
		 WHERE conversation_id = $1
		 ORDER BY created_at DESC LIMIT $2`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.Type,
			&m.Content, &m.PlatformMessageID, &m.SenderName, &m.AIGenerated, &m.Intent,
			&m.Sentiment, &m.Confidence, &m.ReplyToID, &m.ReplyToSnippet, &m.ReplyToOrigin,
			&m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *PGStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
		   (id, conversation_id, tenant_id, direction, type, content, platform_message_id,
		    sender_name, ai_generated, intent, sentiment, confidence,
		    reply_to_id, reply_to_snippet, reply_to_origin, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		msg.ID, msg.ConversationID, msg.TenantID, msg.Direction, msg.Type, msg.Content,
		msg.PlatformMessageID, msg.SenderName, msg.AIGenerated, msg.Intent, msg.Sentiment,
		msg.Confidence, msg.ReplyToID, msg.ReplyToSnippet, msg.ReplyToOrigin, msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *PGStore) UpdateConversationPreview(ctx context.Context, conversationID, preview, lastMessageID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET preview = $2, last_message_id = $3, updated_at = $4
		 WHERE id = $1`, conversationID, preview, lastMessageID, at)
	if err != nil {
		return fmt.Errorf("update conversation preview: %w", err)
	}
	return nil
}

func (s *PGStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PGStore) Close() error {
	return s.db.Close()
}
