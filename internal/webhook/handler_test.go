package webhook

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/openreply/pagegate/internal/cache"
	"github.com/openreply/pagegate/internal/dispatch"
	"github.com/openreply/pagegate/internal/platform"
	"github.com/openreply/pagegate/internal/routing"
	"github.com/openreply/pagegate/internal/store"
)

type fakeTenantSource struct {
	tenants map[string]*store.Tenant
	calls   int
	mu      sync.Mutex
}

func (s *fakeTenantSource) TenantByChannel(ctx context.Context, channelID string) (*store.Tenant, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if t, ok := s.tenants[channelID]; ok {
		return t, nil
	}
	return nil, store.ErrNotFound
}

func (s *fakeTenantSource) AutoReplyEnabled(ctx context.Context, tenantID string) (bool, error) {
	return false, nil
}

func (s *fakeTenantSource) TenantIDs(ctx context.Context) ([]string, error) { return nil, nil }

type spyRouter struct {
	mu    sync.Mutex
	items []platform.Messaging
}

func (r *spyRouter) Route(ctx context.Context, tenant *store.Tenant, channelID string, item platform.Messaging) routing.Decision {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
	return routing.Direct
}

func (r *spyRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type spyReconciler struct {
	mu    sync.Mutex
	items []platform.Messaging
}

func (r *spyReconciler) Reconcile(ctx context.Context, item platform.Messaging, channelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items = append(r.items, item)
}

func (r *spyReconciler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items)
}

type spyDispatcher struct {
	mu     sync.Mutex
	events []dispatch.Event
}

func (d *spyDispatcher) Dispatch(ctx context.Context, ev dispatch.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, ev)
	return nil
}

func (d *spyDispatcher) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.events)
}

type staticHealth struct{ cooldown bool }

func (h staticHealth) InCooldown() bool { return h.cooldown }

type handlerFixture struct {
	h   *Handler
	src *fakeTenantSource
	rt  *spyRouter
	rc  *spyReconciler
	dp  *spyDispatcher
}

func newHandlerFixture(cooldown bool, canned ...string) *handlerFixture {
	src := &fakeTenantSource{tenants: map[string]*store.Tenant{
		"page-1": {ID: "t1", ChannelID: "page-1", Status: store.TenantConnected},
		"page-2": {ID: "t2", ChannelID: "page-2", Status: store.TenantDisconnected},
	}}
	rt := &spyRouter{}
	rc := &spyReconciler{}
	dp := &spyDispatcher{}
	h := NewHandler(
		cache.NewTenantCache(src, time.Minute),
		cache.NewFlagCache(src, time.Minute),
		rt, rc, dp,
		staticHealth{cooldown: cooldown},
		canned,
	)
	return &handlerFixture{h: h, src: src, rt: rt, rc: rc, dp: dp}
}

func msgItem(sender, text string) platform.Messaging {
	return platform.Messaging{
		Sender:    platform.Party{ID: sender},
		Recipient: platform.Party{ID: "page-1"},
		Message:   &platform.Message{MID: "m-" + sender, Text: text},
	}
}

func TestProcess_FansOutByKind(t *testing.T) {
	f := newHandlerFixture(false)
	echo := platform.Messaging{
		Sender:    platform.Party{ID: "page-1"},
		Recipient: platform.Party{ID: "psid-1"},
		Message:   &platform.Message{MID: "m-echo", Text: "our reply", IsEcho: true},
	}
	batch := &platform.InboundEvent{
		Object: "page",
		Entry: []platform.Entry{{
			ID:        "page-1",
			Messaging: []platform.Messaging{msgItem("psid-1", "hi"), echo, msgItem("psid-2", "hello")},
		}},
	}

	f.h.Process(context.Background(), batch)

	if got := f.rt.count(); got != 2 {
		t.Errorf("routed items = %d, want 2", got)
	}
	if got := f.rc.count(); got != 1 {
		t.Errorf("reconciled items = %d, want 1", got)
	}
}

func TestProcess_UnknownChannelSkipsEntry(t *testing.T) {
	f := newHandlerFixture(false)
	batch := &platform.InboundEvent{
		Entry: []platform.Entry{{
			ID:        "page-unknown",
			Messaging: []platform.Messaging{msgItem("psid-1", "hi")},
		}},
	}

	f.h.Process(context.Background(), batch)

	if f.rt.count() != 0 || f.rc.count() != 0 || f.dp.count() != 0 {
		t.Error("unknown channel must produce zero downstream work")
	}
}

func TestProcess_DisconnectedTenantSkipsEntry(t *testing.T) {
	f := newHandlerFixture(false)
	batch := &platform.InboundEvent{
		Entry: []platform.Entry{{
			ID:        "page-2",
			Messaging: []platform.Messaging{msgItem("psid-1", "hi")},
		}},
	}

	f.h.Process(context.Background(), batch)

	if f.rt.count() != 0 || f.rc.count() != 0 {
		t.Error("disconnected tenant must produce zero downstream work")
	}
}

func TestProcess_ReceiptOnlyBatchShortCircuits(t *testing.T) {
	f := newHandlerFixture(false)
	batch := &platform.InboundEvent{
		Entry: []platform.Entry{{
			ID:        "page-1",
			Messaging: []platform.Messaging{{}, {}},
		}},
	}

	f.h.Process(context.Background(), batch)

	f.src.mu.Lock()
	calls := f.src.calls
	f.src.mu.Unlock()
	if calls != 0 {
		t.Errorf("receipt-only batch resolved tenants %d times, want 0", calls)
	}
}

func TestProcess_CooldownShedsBatch(t *testing.T) {
	f := newHandlerFixture(true)
	batch := &platform.InboundEvent{
		Entry: []platform.Entry{{
			ID:        "page-1",
			Messaging: []platform.Messaging{msgItem("psid-1", "hi")},
		}},
	}

	f.h.Process(context.Background(), batch)

	if f.rt.count() != 0 || f.rc.count() != 0 {
		t.Error("cooldown must shed the whole batch")
	}
}

func TestProcess_CommentDispatch(t *testing.T) {
	f := newHandlerFixture(false, "Thanks for reaching out! Our team")

	comment := func(fromID, message string) platform.Change {
		return platform.Change{
			Field: "feed",
			Value: platform.ChangeValue{
				Item:      "comment",
				Verb:      "add",
				CommentID: "c-" + fromID,
				PostID:    "post-1",
				Message:   message,
				From:      &platform.ChangeFrom{ID: fromID},
			},
		}
	}

	batch := &platform.InboundEvent{
		Entry: []platform.Entry{{
			ID: "page-1",
			Changes: []platform.Change{
				comment("psid-9", "is this still available?"),
				// The page commenting on itself must not loop back.
				comment("page-1", "yes it is!"),
				// Canned auto-replies are filtered by marker.
				comment("psid-8", "Thanks for reaching out! Our team will reply soon."),
			},
		}},
	}

	f.h.Process(context.Background(), batch)

	if got := f.dp.count(); got != 1 {
		t.Fatalf("dispatched comments = %d, want 1", got)
	}
	f.dp.mu.Lock()
	ev := f.dp.events[0]
	f.dp.mu.Unlock()
	if ev.Kind != "comment" || ev.SenderID != "psid-9" || ev.CommentID != "c-psid-9" {
		t.Errorf("comment event = %+v", ev)
	}
}

func TestProcess_NonCommentChangesIgnored(t *testing.T) {
	f := newHandlerFixture(false)
	batch := &platform.InboundEvent{
		Entry: []platform.Entry{{
			ID: "page-1",
			Changes: []platform.Change{
				{Field: "feed", Value: platform.ChangeValue{Item: "post", Verb: "add"}},
				{Field: "feed", Value: platform.ChangeValue{Item: "comment", Verb: "remove", CommentID: "c1"}},
				{Field: "mention", Value: platform.ChangeValue{Item: "comment"}},
			},
		}},
	}

	f.h.Process(context.Background(), batch)

	if got := f.dp.count(); got != 0 {
		t.Errorf("dispatched = %d, want 0", got)
	}
}

func TestProcess_PanicInItemContained(t *testing.T) {
	f := newHandlerFixture(false)
	f.rt.items = nil

	panicky := &panicRouter{}
	f.h.router = panicky

	batch := &platform.InboundEvent{
		Entry: []platform.Entry{{
			ID:        "page-1",
			Messaging: []platform.Messaging{msgItem("psid-1", "hi"), msgItem("psid-2", "hello")},
		}},
	}

	// Must not panic the caller.
	f.h.Process(context.Background(), batch)

	if got := panicky.count(); got != 2 {
		t.Errorf("all items should still be attempted, got %d", got)
	}
}

type panicRouter struct {
	mu sync.Mutex
	n  int
}

func (r *panicRouter) Route(ctx context.Context, tenant *store.Tenant, channelID string, item platform.Messaging) routing.Decision {
	r.mu.Lock()
	r.n++
	r.mu.Unlock()
	panic("router bug")
}

func (r *panicRouter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}
