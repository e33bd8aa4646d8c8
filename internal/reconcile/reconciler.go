// Package reconcile converges platform echoes of page-sent replies with
// the records already persisted locally. The platform was acknowledged
// before any of this work begins, so nothing here may raise past its
// boundary: every failure is logged and absorbed.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openreply/pagegate/internal/async"
	"github.com/openreply/pagegate/internal/broadcast"
	"github.com/openreply/pagegate/internal/cache"
	"github.com/openreply/pagegate/internal/platform"
	"github.com/openreply/pagegate/internal/store"
	"github.com/openreply/pagegate/internal/tracing"
	"github.com/openreply/pagegate/pkg/protocol"
)

const (
	// duplicateWindow is the ± window around the echo's timestamp in which
	// an instant-saved record with the same content counts as the same
	// message.
	duplicateWindow = 10 * time.Second

	// replySearchDepth bounds the history scan when resolving a reply-to
	// reference.
	replySearchDepth = 50

	// unknownAgent is the attribution fallback when the pending-sender side
	// channel was empty or malformed.
	unknownAgent = "unknown agent"

	replySnippetLen = 60
)

// Reconciler processes agent-echo messages end to end.
type Reconciler struct {
	tenants   *cache.TenantCache
	ledger    *cache.Ledger
	echoes    *cache.AgentEchoCache
	store     store.Store
	publisher broadcast.Publisher
	tracer    trace.Tracer
}

// NewReconciler wires the echo reconciler.
func NewReconciler(tenants *cache.TenantCache, ledger *cache.Ledger, echoes *cache.AgentEchoCache, st store.Store, pub broadcast.Publisher) *Reconciler {
	return &Reconciler{
		tenants:   tenants,
		ledger:    ledger,
		echoes:    echoes,
		store:     st,
		publisher: pub,
		tracer:    tracing.Tracer("reconcile"),
	}
}

// pendingPayload is the instant-echo broadcast body. PreviewID correlates
// the later confirmation frame with this preview.
type pendingPayload struct {
	PreviewID   string `json:"preview_id"`
	RecipientID string `json:"recipient_id"`
	Content     string `json:"content"`
	Type        string `json:"type,omitempty"`
	IsPending   bool   `json:"is_pending"`
}

// createdPayload confirms a durable record, superseding the pending frame.
type createdPayload struct {
	PreviewID      string    `json:"preview_id"`
	MessageID      string    `json:"message_id"`
	ConversationID string    `json:"conversation_id"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	SenderName     string    `json:"sender_name"`
	AIGenerated    bool      `json:"ai_generated"`
	CreatedAt      time.Time `json:"created_at"`
}

// conversationPayload notifies observers that the conversation list entry
// changed (new preview, new last message).
type conversationPayload struct {
	ConversationID string    `json:"conversation_id"`
	Preview        string    `json:"preview"`
	LastMessageID  string    `json:"last_message_id"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Reconcile converges one echo with local state. Never returns an error.
func (r *Reconciler) Reconcile(ctx context.Context, item platform.Messaging, channelID string) {
	msg := item.Message
	if msg == nil || !msg.IsEcho || msg.MID == "" {
		return
	}

	// Insert-before-work: claiming the id here, atomically, is the only
	// thing that stops a concurrently delivered duplicate of this echo.
	if !r.ledger.TestAndSet(msg.MID) {
		slog.Debug("reconcile.duplicate_echo", "mid", msg.MID)
		return
	}

	ctx, span := r.tracer.Start(ctx, "reconcile",
		trace.WithAttributes(attribute.String("echo.mid", msg.MID)))
	defer span.End()

	tenant, err := r.tenants.Get(ctx, channelID)
	if err != nil {
		slog.Warn("reconcile.tenant_unresolved", "channel_id", channelID, "error", err)
		return
	}

	content, msgType, ok := ClassifyContent(msg)
	if !ok {
		slog.Debug("reconcile.empty_content", "mid", msg.MID)
		return
	}

	// Instant echo: observers see the reply before it is durable.
	previewID := uuid.NewString()
	tenantID := tenant.ID
	recipientID := item.Recipient.ID
	async.BestEffort("reconcile.pending", func() error {
		r.publisher.PublishToTenant(tenantID, protocol.EventMessagePending, pendingPayload{
			PreviewID:   previewID,
			RecipientID: recipientID,
			Content:     content,
			Type:        string(msgType),
			IsPending:   true,
		})
		return nil
	})

	// An echo only ever correlates to a customer that originated the
	// conversation; the recipient of a page-sent message is that customer.
	customer, err := r.store.CustomerByPlatformID(ctx, item.Recipient.ID, tenant.ID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("reconcile.unknown_customer", "recipient_id", item.Recipient.ID, "tenant_id", tenant.ID)
		return
	}
	if err != nil {
		slog.Warn("reconcile.customer_lookup_failed", "tenant_id", tenant.ID, "error", err)
		return
	}

	conv, err := r.resolveConversation(ctx, customer, tenant.ID, content, msgType)
	if err != nil {
		slog.Warn("reconcile.conversation_unresolved", "customer_id", customer.ID, "error", err)
		return
	}

	echoRec, isAutomated := r.echoes.Take(msg.MID)

	sender, err := r.store.TakePendingSender(ctx, conv.ID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		slog.Warn("reconcile.attribution_read_failed", "conversation_id", conv.ID, "error", err)
	}
	if sender == "" {
		sender = unknownAgent
	}

	at := item.Time()
	dup, err := r.store.FindDuplicateMessage(ctx, store.DuplicateQuery{
		ConversationID:    conv.ID,
		PlatformMessageID: msg.MID,
		Direction:         store.DirectionOutbound,
		Type:              msgType,
		Content:           content,
		At:                at,
		Window:            duplicateWindow,
	})
	if err == nil {
		// Instant-save race: the record exists, so at most patch in the
		// platform id and stop. Never create a second row.
		if dup.PlatformMessageID == "" {
			if err := r.store.SetPlatformMessageID(ctx, dup.ID, msg.MID); err != nil {
				slog.Warn("reconcile.patch_failed", "message_id", dup.ID, "error", err)
			}
		}
		slog.Debug("reconcile.duplicate_persisted", "mid", msg.MID, "message_id", dup.ID)
		span.SetAttributes(attribute.Bool("reconcile.duplicate", true))
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("reconcile.duplicate_check_failed", "conversation_id", conv.ID, "error", err)
		return
	}

	record := &store.Message{
		ID:                uuid.Must(uuid.NewV7()).String(),
		ConversationID:    conv.ID,
		TenantID:          tenant.ID,
		Direction:         store.DirectionOutbound,
		Type:              msgType,
		Content:           content,
		PlatformMessageID: msg.MID,
		SenderName:        sender,
		CreatedAt:         at,
	}
	if isAutomated {
		record.AIGenerated = true
		record.Intent = echoRec.Intent
		record.Sentiment = echoRec.Sentiment
		record.Confidence = echoRec.Confidence
	}
	if msg.ReplyTo != nil && msg.ReplyTo.MID != "" {
		r.resolveReplyTo(ctx, conv.ID, msg.ReplyTo.MID, record)
	}

	if err := r.store.CreateMessage(ctx, record); err != nil {
		slog.Warn("reconcile.persist_failed", "mid", msg.MID, "error", err)
		return
	}

	async.BestEffort("reconcile.confirm", func() error {
		r.publisher.PublishToTenant(tenantID, protocol.EventMessageCreated, createdPayload{
			PreviewID:      previewID,
			MessageID:      record.ID,
			ConversationID: record.ConversationID,
			Content:        record.Content,
			Type:           string(record.Type),
			SenderName:     record.SenderName,
			AIGenerated:    record.AIGenerated,
			CreatedAt:      record.CreatedAt,
		})
		return nil
	})

	preview := Preview(content, msgType)
	if err := r.store.UpdateConversationPreview(ctx, conv.ID, preview, record.ID, at); err != nil {
		// The message itself is durable; a stale preview self-heals on the
		// next message.
		slog.Warn("reconcile.preview_update_failed", "conversation_id", conv.ID, "error", err)
		return
	}

	async.BestEffort("reconcile.conversation_updated", func() error {
		r.publisher.PublishToTenant(tenantID, protocol.EventConversationUpdated, conversationPayload{
			ConversationID: conv.ID,
			Preview:        preview,
			LastMessageID:  record.ID,
			UpdatedAt:      at,
		})
		return nil
	})
}

// resolveConversation finds the customer's most recent active-or-resolved
// conversation, creating one when none exists.
func (r *Reconciler) resolveConversation(ctx context.Context, customer *store.Customer, tenantID, content string, msgType store.MessageType) (*store.Conversation, error) {
	conv, err := r.store.LatestConversation(ctx, customer.ID, tenantID)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	now := time.Now()
	conv = &store.Conversation{
		ID:         uuid.Must(uuid.NewV7()).String(),
		TenantID:   tenantID,
		CustomerID: customer.ID,
		Status:     store.ConversationActive,
		Preview:    Preview(content, msgType),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := r.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}
	slog.Info("reconcile.conversation_created", "conversation_id", conv.ID, "tenant_id", tenantID)
	return conv, nil
}

// resolveReplyTo searches the conversation's recent history for the
// referenced platform id and records a snippet plus origin on the new
// record. A miss leaves the reference empty; it is not an error.
func (r *Reconciler) resolveReplyTo(ctx context.Context, conversationID, replyMID string, record *store.Message) {
	history, err := r.store.RecentMessages(ctx, conversationID, replySearchDepth)
	if err != nil {
		slog.Debug("reconcile.reply_search_failed", "conversation_id", conversationID, "error", err)
		return
	}
	for i := range history {
		m := &history[i]
		if m.PlatformMessageID != replyMID {
			continue
		}
		record.ReplyToID = m.ID
		record.ReplyToSnippet = snippet(m.Content)
		if m.Direction == store.DirectionInbound {
			record.ReplyToOrigin = "customer"
		} else {
			record.ReplyToOrigin = "agent"
		}
		return
	}
}

func snippet(s string) string {
	s = SanitizePreview(s)
	if len(s) <= replySnippetLen {
		return s
	}
	runes := []rune(s)
	if len(runes) <= replySnippetLen {
		return s
	}
	return string(runes[:replySnippetLen]) + "…"
}
