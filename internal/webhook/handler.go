package webhook

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/openreply/pagegate/internal/cache"
	"github.com/openreply/pagegate/internal/dispatch"
	"github.com/openreply/pagegate/internal/platform"
	"github.com/openreply/pagegate/internal/routing"
	"github.com/openreply/pagegate/internal/store"
)

// itemRouter routes non-echo items. Satisfied by *routing.Router.
type itemRouter interface {
	Route(ctx context.Context, tenant *store.Tenant, channelID string, item platform.Messaging) routing.Decision
}

// echoReconciler converges echo items. Satisfied by *reconcile.Reconciler.
type echoReconciler interface {
	Reconcile(ctx context.Context, item platform.Messaging, channelID string)
}

// Handler fans one acknowledged batch out to the routing and
// reconciliation pipelines. All errors stop inside it: the platform has
// already been told everything is fine.
type Handler struct {
	tenants       *cache.TenantCache
	flags         *cache.FlagCache
	router        itemRouter
	reconciler    echoReconciler
	dispatcher    dispatch.Dispatcher
	health        HealthReporter
	cannedReplies []string
}

// NewHandler wires the batch fan-out.
func NewHandler(tenants *cache.TenantCache, flags *cache.FlagCache, router itemRouter, rec echoReconciler, d dispatch.Dispatcher, health HealthReporter, cannedReplies []string) *Handler {
	return &Handler{
		tenants:       tenants,
		flags:         flags,
		router:        router,
		reconciler:    rec,
		dispatcher:    d,
		health:        health,
		cannedReplies: cannedReplies,
	}
}

// Process handles one acknowledged batch.
func (h *Handler) Process(ctx context.Context, batch *platform.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("webhook.batch_panic", "panic", r)
		}
	}()

	if h.health.InCooldown() {
		// Already acknowledged; shedding is silent by design of the
		// contract with the platform.
		slog.Warn("webhook.batch_dropped", "reason", "storage_cooldown", "entries", len(batch.Entry))
		return
	}

	if !batch.HasContent() {
		// Delivery/read receipts only.
		return
	}

	for i := range batch.Entry {
		h.processEntry(ctx, &batch.Entry[i])
	}
}

func (h *Handler) processEntry(ctx context.Context, entry *platform.Entry) {
	tenant, err := h.tenants.Get(ctx, entry.ID)
	if err != nil {
		slog.Debug("webhook.unknown_channel", "channel_id", entry.ID, "error", err)
		return
	}
	if tenant.Status != store.TenantConnected {
		slog.Debug("webhook.tenant_disconnected", "tenant_id", tenant.ID, "channel_id", entry.ID)
		return
	}

	// Messaging items are independent of each other; run them concurrently.
	var wg sync.WaitGroup
	for i := range entry.Messaging {
		item := entry.Messaging[i]

		// Warm the flag for every item touched, regardless of outcome.
		h.flags.Warm(tenant.ID)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					slog.Error("webhook.item_panic", "tenant_id", tenant.ID, "panic", r)
				}
			}()
			h.processItem(ctx, tenant, entry.ID, item)
		}()
	}

	// Feed changes run sequentially: the page-owner-comment filter must
	// see them in order.
	for _, change := range entry.Changes {
		h.processChange(ctx, tenant, entry.ID, change)
	}

	wg.Wait()
}

func (h *Handler) processItem(ctx context.Context, tenant *store.Tenant, channelID string, item platform.Messaging) {
	switch item.Kind() {
	case platform.KindEcho:
		h.reconciler.Reconcile(ctx, item, channelID)
	case platform.KindMessage, platform.KindPostback, platform.KindReferralOnly:
		h.router.Route(ctx, tenant, channelID, item)
	default:
		// Delivery/read receipts and other contentless items.
	}
}

func (h *Handler) processChange(ctx context.Context, tenant *store.Tenant, channelID string, change platform.Change) {
	if change.Field != "feed" || change.Value.Item != "comment" {
		return
	}
	if change.Value.Verb != "" && change.Value.Verb != "add" {
		return
	}

	// Comments authored by the page itself never reach downstream: echoes
	// of our own replies would otherwise loop back as new work.
	if change.Value.From != nil && change.Value.From.ID == channelID {
		slog.Debug("webhook.own_comment_skipped", "channel_id", channelID, "comment_id", change.Value.CommentID)
		return
	}
	if h.isCannedReply(change.Value.Message) {
		slog.Debug("webhook.canned_reply_skipped", "comment_id", change.Value.CommentID)
		return
	}

	ev := dispatch.EventFromComment(tenant.ID, channelID, change.Value)
	if err := h.dispatcher.Dispatch(ctx, ev); err != nil {
		slog.Warn("webhook.comment_dispatch_failed", "tenant_id", tenant.ID, "error", err)
	}
}

func (h *Handler) isCannedReply(message string) bool {
	for _, pattern := range h.cannedReplies {
		if pattern != "" && strings.Contains(message, pattern) {
			return true
		}
	}
	return false
}
