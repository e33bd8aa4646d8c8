// Package routing decides, per messaging item, between synchronous
// dispatch to the responder and deferred delivery through the ordered
// queue.
package routing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/openreply/pagegate/internal/async"
	"github.com/openreply/pagegate/internal/broadcast"
	"github.com/openreply/pagegate/internal/cache"
	"github.com/openreply/pagegate/internal/dispatch"
	"github.com/openreply/pagegate/internal/platform"
	"github.com/openreply/pagegate/internal/queue"
	"github.com/openreply/pagegate/internal/store"
	"github.com/openreply/pagegate/internal/tracing"
	"github.com/openreply/pagegate/pkg/protocol"
)

// Decision reports which path an item took.
type Decision int

const (
	Direct Decision = iota
	Enqueued
)

// String implements fmt.Stringer for log output.
func (d Decision) String() string {
	if d == Enqueued {
		return "enqueued"
	}
	return "direct"
}

// Router is the routing decision engine. The flag lookup never waits on
// network I/O; the queue path is chosen only when the flag is known true.
type Router struct {
	flags      *cache.FlagCache
	queue      queue.Queue
	dispatcher dispatch.Dispatcher
	publisher  broadcast.Publisher
	tracer     trace.Tracer
}

// NewRouter wires the decision engine.
func NewRouter(flags *cache.FlagCache, q queue.Queue, d dispatch.Dispatcher, pub broadcast.Publisher) *Router {
	return &Router{
		flags:      flags,
		queue:      q,
		dispatcher: d,
		publisher:  pub,
		tracer:     tracing.Tracer("routing"),
	}
}

// Route decides the path for one item and executes it. Direct dispatch is
// synchronous; enqueue is fire-and-forget with the tenant and sender as the
// partition key so the queue preserves per-sender order.
func (r *Router) Route(ctx context.Context, tenant *store.Tenant, channelID string, item platform.Messaging) Decision {
	ctx, span := r.tracer.Start(ctx, "route",
		trace.WithAttributes(
			attribute.String("tenant.id", tenant.ID),
			attribute.String("item.kind", item.Kind().String()),
		))
	defer span.End()

	// Interim state for observers; never load-bearing.
	tenantID := tenant.ID
	senderID := item.Sender.ID
	async.BestEffort("routing.preview", func() error {
		r.publisher.PublishToTenant(tenantID, protocol.EventMessageProcessing, map[string]any{
			"sender_id": senderID,
		})
		return nil
	})

	if corr := platform.ExtractPostCorrelation(item.ReferralBlock()); corr.Underivable {
		slog.Debug("routing.referral_underivable", "tenant_id", tenant.ID, "sender_id", item.Sender.ID)
	}

	ev := dispatch.EventFromItem(tenant.ID, channelID, item)

	// Referral-only items create conversation context rather than carrying
	// an utterance, so they never need ordering against prior messages.
	if item.Kind() == platform.KindReferralOnly {
		r.dispatchDirect(ctx, ev)
		span.SetAttributes(attribute.String("routing.decision", Direct.String()))
		return Direct
	}

	if r.flags.Enabled(tenant.ID) {
		job := queue.Job{
			TenantID:     tenant.ID,
			ChannelID:    channelID,
			PartitionKey: tenant.ID + ":" + item.Sender.ID,
			Item:         item,
		}
		if err := r.queue.Enqueue(job); err != nil {
			// No inline retry: the queue owns delivery once the flag says
			// deferred, and a stall here would back up the whole entry.
			slog.Warn("routing.enqueue_failed", "tenant_id", tenant.ID, "error", err)
		}
		span.SetAttributes(attribute.String("routing.decision", Enqueued.String()))
		return Enqueued
	}

	r.dispatchDirect(ctx, ev)
	span.SetAttributes(attribute.String("routing.decision", Direct.String()))
	return Direct
}

func (r *Router) dispatchDirect(ctx context.Context, ev dispatch.Event) {
	if err := r.dispatcher.Dispatch(ctx, ev); err != nil {
		slog.Warn("routing.dispatch_failed", "tenant_id", ev.TenantID, "kind", ev.Kind, "error", err)
	}
}
