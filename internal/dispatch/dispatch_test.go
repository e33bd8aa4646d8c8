package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openreply/pagegate/internal/cache"
	"github.com/openreply/pagegate/internal/platform"
)

func TestHTTPDispatcher_PostsEvent(t *testing.T) {
	var got Event
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, "tok-1", 5*time.Second, 0, nil)
	ev := Event{TenantID: "t1", ChannelID: "page-1", SenderID: "psid-1", Kind: "message", Text: "hi"}
	if err := d.Dispatch(context.Background(), ev); err != nil {
		t.Fatal(err)
	}

	if auth != "Bearer tok-1" {
		t.Errorf("auth header = %q", auth)
	}
	if got.TenantID != "t1" || got.Text != "hi" {
		t.Errorf("posted event = %+v", got)
	}
}

func TestHTTPDispatcher_RegistersReportedReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"message_id": "m-out-1",
			"intent":     "price_inquiry",
			"sentiment":  "neutral",
			"confidence": 0.91,
		})
	}))
	defer srv.Close()

	echoes := cache.NewAgentEchoCache(time.Minute)
	d := NewHTTPDispatcher(srv.URL, "", 5*time.Second, 0, echoes)

	if err := d.Dispatch(context.Background(), Event{TenantID: "t1"}); err != nil {
		t.Fatal(err)
	}

	rec, ok := echoes.Take("m-out-1")
	if !ok {
		t.Fatal("reported reply not registered in the echo cache")
	}
	if rec.Intent != "price_inquiry" || rec.Confidence != 0.91 {
		t.Errorf("record = %+v", rec)
	}
}

func TestHTTPDispatcher_EmptyBodyMeansNoReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	echoes := cache.NewAgentEchoCache(time.Minute)
	d := NewHTTPDispatcher(srv.URL, "", 5*time.Second, 0, echoes)

	if err := d.Dispatch(context.Background(), Event{TenantID: "t1"}); err != nil {
		t.Fatal(err)
	}
}

func TestHTTPDispatcher_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "responder overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := NewHTTPDispatcher(srv.URL, "", 5*time.Second, 0, nil)
	err := d.Dispatch(context.Background(), Event{TenantID: "t1"})
	if err == nil {
		t.Fatal("non-2xx must surface as an error")
	}
}

func TestEventFromItem(t *testing.T) {
	t.Run("message with referral", func(t *testing.T) {
		item := platform.Messaging{
			Sender: platform.Party{ID: "psid-1"},
			Message: &platform.Message{
				MID:      "m1",
				Text:     "saw your ad",
				Referral: &platform.Referral{PostRef: "post-7"},
			},
		}
		ev := EventFromItem("t1", "page-1", item)
		if ev.Kind != "message" || ev.Text != "saw your ad" {
			t.Errorf("event = %+v", ev)
		}
		if ev.PostID != "post-7" {
			t.Errorf("post id = %q, want post-7", ev.PostID)
		}
	})

	t.Run("postback", func(t *testing.T) {
		item := platform.Messaging{
			Sender:   platform.Party{ID: "psid-1"},
			Postback: &platform.Postback{MID: "m2", Title: "Get started", Payload: "GET_STARTED"},
		}
		ev := EventFromItem("t1", "page-1", item)
		if ev.Kind != "postback" || ev.Payload != "GET_STARTED" || ev.Text != "Get started" {
			t.Errorf("event = %+v", ev)
		}
	})

	t.Run("referral only", func(t *testing.T) {
		item := platform.Messaging{
			Sender:   platform.Party{ID: "psid-1"},
			Referral: &platform.Referral{AdID: "ad-3"},
		}
		ev := EventFromItem("t1", "page-1", item)
		if ev.Kind != "referral" {
			t.Errorf("kind = %q", ev.Kind)
		}
		if ev.PostID != "ad-3" {
			t.Errorf("post id = %q", ev.PostID)
		}
	})
}

func TestEventFromComment(t *testing.T) {
	v := platform.ChangeValue{
		Item:      "comment",
		CommentID: "c1",
		PostID:    "post-1",
		Message:   "is this available?",
		From:      &platform.ChangeFrom{ID: "psid-9", Name: "Minh"},
	}
	ev := EventFromComment("t1", "page-1", v)
	if ev.Kind != "comment" || ev.SenderID != "psid-9" || ev.CommentID != "c1" || ev.PostID != "post-1" {
		t.Errorf("event = %+v", ev)
	}
}
