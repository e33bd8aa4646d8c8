// Package sqlite implements store.Store on an embedded SQLite database
// (standalone mode). The schema is created on open; managed deployments use
// Postgres and golang-migrate instead.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/openreply/pagegate/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	channel_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'connected',
	auto_reply_enabled INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS customers (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	platform_id TEXT NOT NULL,
	name TEXT NOT NULL DEFAULT '',
	UNIQUE (tenant_id, platform_id)
);
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	customer_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	preview TEXT NOT NULL DEFAULT '',
	last_message_id TEXT NOT NULL DEFAULT '',
	pending_sender TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_customer ON conversations (customer_id, tenant_id, updated_at);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	tenant_id TEXT NOT NULL,
	direction TEXT NOT NULL,
	type TEXT NOT NULL,
	content TEXT NOT NULL DEFAULT '',
	platform_message_id TEXT NOT NULL DEFAULT '',
	sender_name TEXT NOT NULL DEFAULT '',
	ai_generated INTEGER NOT NULL DEFAULT 0,
	intent TEXT NOT NULL DEFAULT '',
	sentiment TEXT NOT NULL DEFAULT '',
	confidence REAL NOT NULL DEFAULT 0,
	reply_to_id TEXT NOT NULL DEFAULT '',
	reply_to_snippet TEXT NOT NULL DEFAULT '',
	reply_to_origin TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id, created_at);
CREATE INDEX IF NOT EXISTS idx_messages_platform_id ON messages (platform_message_id);
`

// SQLiteStore implements store.Store on SQLite. Timestamps are stored as
// unix milliseconds.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the
// schema exists.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// modernc sqlite is single-writer; serialize access through one conn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) TenantByChannel(ctx context.Context, channelID string) (*store.Tenant, error) {
	var t store.Tenant
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, channel_id, status, auto_reply_enabled FROM tenants WHERE channel_id = ?`,
		channelID).Scan(&t.ID, &t.Name, &t.ChannelID, &t.Status, &t.AutoReplyEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant by channel: %w", err)
	}
	return &t, nil
}

func (s *SQLiteStore) TenantIDs(ctx context.Context) ([]string, error) {
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

func (s *SQLiteStore) AutoReplyEnabled(ctx context.Context, tenantID string) (bool, error) {
	var enabled bool
	err := s.db.QueryRowContext(ctx,
		`SELECT auto_reply_enabled FROM tenants WHERE id = ?`, tenantID).Scan(&enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return false, store.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("auto reply flag: %w", err)
	}
	return enabled, nil
}

func (s *SQLiteStore) CustomerByPlatformID(ctx context.Context, platformID, tenantID string) (*store.Customer, error) {
	var c store.Customer
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, platform_id, name FROM customers WHERE platform_id = ? AND tenant_id = ?`,
		platformID, tenantID).Scan(&c.ID, &c.TenantID, &c.PlatformID, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("customer by platform id: %w", err)
	}
	return &c, nil
}

func (s *SQLiteStore) LatestConversation(ctx context.Context, customerID, tenantID string) (*store.Conversation, error) {
	var conv store.Conversation
	var created, updated int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, customer_id, status, preview, last_message_id, pending_sender, created_at, updated_at
		 FROM conversations
		 WHERE customer_id = ? AND tenant_id = ? AND status IN ('active', 'resolved')
		 ORDER BY updated_at DESC LIMIT 1`, customerID, tenantID).
		Scan(&conv.ID, &conv.TenantID, &conv.CustomerID, &conv.Status, &conv.Preview,
			&conv.LastMessageID, &conv.PendingSender, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest conversation: %w", err)
	}
	conv.CreatedAt = time.UnixMilli(created)
	conv.UpdatedAt = time.UnixMilli(updated)
	return &conv, nil
}

func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *store.Conversation) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations
		   (id, tenant_id, customer_id, status, preview, last_message_id, pending_sender, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.TenantID, conv.CustomerID, conv.Status, conv.Preview,
		conv.LastMessageID, conv.PendingSender, conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) TakePendingSender(ctx context.Context, conversationID string) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("take pending sender: %w", err)
	}
	defer tx.Rollback()

	var sender string
	err = tx.QueryRowContext(ctx,
		`SELECT pending_sender FROM conversations WHERE id = ?`, conversationID).Scan(&sender)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("take pending sender: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE conversations SET pending_sender = '' WHERE id = ?`, conversationID); err != nil {
		return "", fmt.Errorf("take pending sender: %w", err)
	}
	return sender, tx.Commit()
}

func (s *SQLiteStore) SetPendingSender(ctx context.Context, conversationID, sender string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET pending_sender = ? WHERE id = ?`, sender, conversationID)
	if err != nil {
		return fmt.Errorf("set pending sender: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindDuplicateMessage(ctx context.Context, q store.DuplicateQuery) (*store.Message, error) {
	var m store.Message
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, conversation_id, tenant_id, direction, type, content, platform_message_id,
		        sender_name, ai_generated, intent, sentiment, confidence,
		        reply_to_id, reply_to_snippet, reply_to_origin, created_at
		 FROM messages
		 WHERE conversation_id = ?
		   AND (
		     (platform_message_id <> '' AND platform_message_id = ?)
		     OR (direction = ? AND type = ? AND content = ? AND created_at BETWEEN ? AND ?)
		   )
		 ORDER BY created_at DESC LIMIT 1`,
		q.ConversationID, q.PlatformMessageID, q.Direction, q.Type, q.Content,
		q.At.Add(-q.Window).UnixMilli(), q.At.Add(q.Window).UnixMilli()).
		Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.Type, &m.Content,
			&m.PlatformMessageID, &m.SenderName, &m.AIGenerated, &m.Intent, &m.Sentiment,
			&m.Confidence, &m.ReplyToID, &m.ReplyToSnippet, &m.ReplyToOrigin, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate message: %w", err)
	}
	m.CreatedAt = time.UnixMilli(created)
	return &m, nil
}

func (s *SQLiteStore) SetPlatformMessageID(ctx context.Context, messageID, platformMessageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET platform_message_id = ? WHERE id = ? AND platform_message_id = ''`,
		platformMessageID, messageID)
	if err != nil {
		return fmt.Errorf("set platform message id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]store.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, conversation_id, tenant_id, direction, type, content, platform_message_id,
		        sender_name, ai_generated, intent, sentiment, confidence,
		        reply_to_id, reply_to_snippet, reply_to_origin, created_at
		 FROM messages WHERE conversation_id = ?
		 ORDER BY created_at DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	defer rows.Close()

	var msgs []store.Message
	for rows.Next() {
		var m store.Message
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.TenantID, &m.Direction, &m.Type,
			&m.Content, &m.PlatformMessageID, &m.SenderName, &m.AIGenerated, &m.Intent,
			&m.Sentiment, &m.Confidence, &m.ReplyToID, &m.ReplyToSnippet, &m.ReplyToOrigin,
			&created); err != nil {
			return nil, err
		}
		m.CreatedAt = time.UnixMilli(created)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *store.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages
		   (id, conversation_id, tenant_id, direction, type, content, platform_message_id,
		    sender_name, ai_generated, intent, sentiment, confidence,
		    reply_to_id, reply_to_snippet, reply_to_origin, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.TenantID, msg.Direction, msg.Type, msg.Content,
		msg.PlatformMessageID, msg.SenderName, msg.AIGenerated, msg.Intent, msg.Sentiment,
		msg.Confidence, msg.ReplyToID, msg.ReplyToSnippet, msg.ReplyToOrigin,
		msg.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) UpdateConversationPreview(ctx context.Context, conversationID, preview, lastMessageID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE conversations SET preview = ?, last_message_id = ?, updated_at = ? WHERE id = ?`,
		preview, lastMessageID, at.UnixMilli(), conversationID)
	if err != nil {
		return fmt.Errorf("update conversation preview: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
