package store

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// retryStore wraps a Store so every call is attempted up to 1+retries
// times with a short fixed backoff. The retry count is deliberately small:
// the platform does not redeliver webhook events, so a stalled pipeline is
// worse than a dropped item. ErrNotFound is never retried and counts as a
// healthy answer.
type retryStore struct {
	inner   Store
	retries int
	backoff time.Duration
	health  *Health
}

// WithRetry returns the bounded-retry view of inner. All outcomes feed the
// health tracker.
func WithRetry(inner Store, retries int, backoff time.Duration, health *Health) Store {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return &retryStore{inner: inner, retries: retries, backoff: backoff, health: health}
}

func (s *retryStore) do(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff):
			}
		}
		err = fn()
		if err == nil || errors.Is(err, ErrNotFound) {
			s.health.RecordSuccess()
			return err
		}
		if ctx.Err() != nil {
			break
		}
	}
	s.health.RecordFailure()
	slog.Warn("store.retries_exhausted", "op", op, "attempts", s.retries+1, "error", err)
	return err
}

func (s *retryStore) TenantByChannel(ctx context.Context, channelID string) (*Tenant, error) {
	var t *Tenant
	err := s.do(ctx, "tenant_by_channel", func() error {
		var e error
		t, e = s.inner.TenantByChannel(ctx, channelID)
		return e
	})
	return t, err
}

func (s *retryStore) TenantIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := s.do(ctx, "tenant_ids", func() error {
		var e error
		ids, e = s.inner.TenantIDs(ctx)
		return e
	})
	return ids, err
}

func (s *retryStore) AutoReplyEnabled(ctx context.Context, tenantID string) (bool, error) {
	var enabled bool
	err := s.do(ctx, "auto_reply_enabled", func() error {
		var e error
		enabled, e = s.inner.AutoReplyEnabled(ctx, tenantID)
		return e
	})
	return enabled, err
}

func (s *retryStore) CustomerByPlatformID(ctx context.Context, platformID, tenantID string) (*Customer, error) {
	var c *Customer
	err := s.do(ctx, "customer_by_platform_id", func() error {
		var e error
		c, e = s.inner.CustomerByPlatformID(ctx, platformID, tenantID)
		return e
	})
	return c, err
}

func (s *retryStore) LatestConversation(ctx context.Context, customerID, tenantID string) (*Conversation, error) {
	var conv *Conversation
	err := s.do(ctx, "latest_conversation", func() error {
		var e error
		conv, e = s.inner.LatestConversation(ctx, customerID, tenantID)
		return e
	})
	return conv, err
}

func (s *retryStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	return s.do(ctx, "create_conversation", func() error {
		return s.inner.CreateConversation(ctx, conv)
	})
}

func (s *retryStore) TakePendingSender(ctx context.Context, conversationID string) (string, error) {
	var sender string
	err := s.do(ctx, "take_pending_sender", func() error {
		var e error
		sender, e = s.inner.TakePendingSender(ctx, conversationID)
		return e
	})
	return sender, err
}

func (s *retryStore) SetPendingSender(ctx context.Context, conversationID, sender string) error {
	return s.do(ctx, "set_pending_sender", func() error {
		return s.inner.SetPendingSender(ctx, conversationID, sender)
	})
}

func (s *retryStore) FindDuplicateMessage(ctx context.Context, q DuplicateQuery) (*Message, error) {
	var m *Message
	err := s.do(ctx, "find_duplicate_message", func() error {
		var e error
		m, e = s.inner.FindDuplicateMessage(ctx, q)
		return e
	})
	return m, err
}

func (s *retryStore) SetPlatformMessageID(ctx context.Context, messageID, platformMessageID string) error {
	return s.do(ctx, "set_platform_message_id", func() error {
		return s.inner.SetPlatformMessageID(ctx, messageID, platformMessageID)
	})
}

func (s *retryStore) RecentMessages(ctx context.Context, conversationID string, limit int) ([]Message, error) {
	var msgs []Message
	err := s.do(ctx, "recent_messages", func() error {
		var e error
		msgs, e = s.inner.RecentMessages(ctx, conversationID, limit)
		return e
	})
	return msgs, err
}

func (s *retryStore) CreateMessage(ctx context.Context, msg *Message) error {
	return s.do(ctx, "create_message", func() error {
		return s.inner.CreateMessage(ctx, msg)
	})
}

func (s *retryStore) UpdateConversationPreview(ctx context.Context, conversationID, preview, lastMessageID string, at time.Time) error {
	return s.do(ctx, "update_conversation_preview", func() error {
		return s.inner.UpdateConversationPreview(ctx, conversationID, preview, lastMessageID, at)
	})
}

func (s *retryStore) Ping(ctx context.Context) error {
	return s.do(ctx, "ping", func() error {
		return s.inner.Ping(ctx)
	})
}

func (s *retryStore) Close() error {
	return s.inner.Close()
}
