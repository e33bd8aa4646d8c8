// Package dispatch forwards inbound events to the responder service that
// generates replies. The responder is an external system; this package
// only carries events to it and records what it sent.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/openreply/pagegate/internal/cache"
	"github.com/openreply/pagegate/internal/platform"
)

// Event is the payload handed to the responder service.
type Event struct {
	TenantID          string                `json:"tenant_id"`
	ChannelID         string                `json:"channel_id"`
	SenderID          string                `json:"sender_id"`
	Kind              string                `json:"kind"` // message, postback, referral, comment
	Text              string                `json:"text,omitempty"`
	Payload           string                `json:"payload,omitempty"` // postback payload
	PostID            string                `json:"post_id,omitempty"` // referral correlation
	CommentID         string                `json:"comment_id,omitempty"`
	PlatformMessageID string                `json:"platform_message_id,omitempty"`
	Attachments       []platform.Attachment `json:"attachments,omitempty"`
	Timestamp         time.Time             `json:"timestamp"`
}

// Dispatcher delivers one event to the responder.
type Dispatcher interface {
	Dispatch(ctx context.Context, ev Event) error
}

// replyReport is the responder's answer: the platform id of the reply it
// sent, if any, plus classification metadata.
type replyReport struct {
	MessageID  string  `json:"message_id"`
	Intent     string  `json:"intent"`
	Sentiment  string  `json:"sentiment"`
	Confidence float64 `json:"confidence"`
}

// HTTPDispatcher posts events to the responder service. When the responder
// reports a sent reply, its outbound message id is registered in the
// agent-echo cache so the platform echo can be tagged as automated.
type HTTPDispatcher struct {
	url     string
	token   string
	client  *http.Client
	limiter *rate.Limiter
	echoes  *cache.AgentEchoCache
}

// NewHTTPDispatcher returns a dispatcher for the responder at url.
// rps bounds outbound request rate; zero disables the limit.
func NewHTTPDispatcher(url, token string, timeout time.Duration, rps float64, echoes *cache.AgentEchoCache) *HTTPDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &HTTPDispatcher{
		url:     url,
		token:   token,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, max(1, int(rps))),
		echoes:  echoes,
	}
}

// Dispatch posts the event and registers any reported reply.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, ev Event) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal dispatch event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("dispatch to responder: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("responder returned %d: %s", resp.StatusCode, snippet)
	}

	var report replyReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		// An empty or non-JSON body means no reply was sent.
		return nil
	}
	if report.MessageID != "" && d.echoes != nil {
		d.echoes.Put(cache.AgentEchoRecord{
			OutboundMessageID: report.MessageID,
			Intent:            report.Intent,
			Sentiment:         report.Sentiment,
			Confidence:        report.Confidence,
		})
	}
	return nil
}
