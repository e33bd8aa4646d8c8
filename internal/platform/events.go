// Package platform defines the wire format of the page-messaging webhook
// and the parse-time classification of messaging items. Types here are
// immutable after decoding; downstream consumers switch on Kind instead of
// re-probing optional fields.
package platform

import "time"

// InboundEvent is one webhook batch: { "object": "page", "entry": [...] }.
type InboundEvent struct {
	Object string  `json:"object"`
	Entry  []Entry `json:"entry"`
}

// Entry groups the items delivered for one channel (page).
type Entry struct {
	ID        string      `json:"id"` // channel id the batch belongs to
	Time      int64       `json:"time,omitempty"`
	Messaging []Messaging `json:"messaging,omitempty"`
	Changes   []Change    `json:"changes,omitempty"`
}

// Messaging is one customer interaction. Exactly one of Message or Postback
// is set for real interactions; a bare Referral arrives for ad clicks that
// precede any utterance.
type Messaging struct {
	Sender    Party     `json:"sender"`
	Recipient Party     `json:"recipient"`
	Timestamp int64     `json:"timestamp,omitempty"` // unix ms
	Message   *Message  `json:"message,omitempty"`
	Postback  *Postback `json:"postback,omitempty"`
	Referral  *Referral `json:"referral,omitempty"`
}

// Party identifies a sender or recipient by platform id.
type Party struct {
	ID string `json:"id"`
}

// Message carries text and/or attachments. IsEcho marks a platform copy of
// a message the page itself sent.
type Message struct {
	MID         string       `json:"mid,omitempty"`
	Text        string       `json:"text,omitempty"`
	IsEcho      bool         `json:"is_echo,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	ReplyTo     *ReplyTo     `json:"reply_to,omitempty"`
	Referral    *Referral    `json:"referral,omitempty"`
}

// ReplyTo references the platform id of the message being replied to.
type ReplyTo struct {
	MID string `json:"mid"`
}

// Attachment is a media or template attachment.
type Attachment struct {
	Type    string            `json:"type"` // image, video, audio, file, template, fallback
	Payload AttachmentPayload `json:"payload"`
}

// AttachmentPayload is the per-type payload. Only the fields relevant to
// content extraction are modeled.
type AttachmentPayload struct {
	URL          string `json:"url,omitempty"`
	TemplateType string `json:"template_type,omitempty"`
	Title        string `json:"title,omitempty"`
}

// Postback is a button press.
type Postback struct {
	MID      string    `json:"mid,omitempty"`
	Title    string    `json:"title,omitempty"`
	Payload  string    `json:"payload,omitempty"`
	Referral *Referral `json:"referral,omitempty"`
}

// Referral correlates an event to the ad, post, or campaign that originated
// the conversation.
type Referral struct {
	Ref        string      `json:"ref,omitempty"`
	Source     string      `json:"source,omitempty"`
	Type       string      `json:"type,omitempty"`
	PostID     string      `json:"post_id,omitempty"`
	PostRef    string      `json:"post_ref,omitempty"`
	AdRef      string      `json:"ad_ref,omitempty"`
	AdID       string      `json:"ad_id,omitempty"`
	RefererURI string      `json:"referer_uri,omitempty"`
	AdsContext *AdsContext `json:"ads_context_data,omitempty"`
}

// AdsContext is the nested ad-click context block.
type AdsContext struct {
	PostID   string `json:"post_id,omitempty"`
	AdTitle  string `json:"ad_title,omitempty"`
	PhotoURL string `json:"photo_url,omitempty"`
}

// Change is a feed change (comment, post edit, ...).
type Change struct {
	Field string      `json:"field"` // "feed"
	Value ChangeValue `json:"value"`
}

// ChangeValue is the body of a feed change.
type ChangeValue struct {
	Item      string      `json:"item,omitempty"` // "comment", "post", ...
	Verb      string      `json:"verb,omitempty"` // "add", "edited", "remove"
	CommentID string      `json:"comment_id,omitempty"`
	PostID    string      `json:"post_id,omitempty"`
	Message   string      `json:"message,omitempty"`
	From      *ChangeFrom `json:"from,omitempty"`
}

// ChangeFrom identifies the author of a feed change.
type ChangeFrom struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Kind is the closed set of messaging item variants, decided once at parse
// time.
type Kind int

const (
	KindInvalid Kind = iota
	KindMessage      // text and/or attachments from a customer
	KindEcho         // platform copy of a page-sent message
	KindPostback     // button press
	KindReferralOnly // referral metadata with no message object
)

// String implements fmt.Stringer for log output.
func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindEcho:
		return "echo"
	case KindPostback:
		return "postback"
	case KindReferralOnly:
		return "referral"
	default:
		return "invalid"
	}
}

// Kind classifies the item. Echo takes precedence over plain message;
// a referral with no message object is a distinct variant because it still
// has to reach routing to create conversation context.
func (m *Messaging) Kind() Kind {
	switch {
	case m.Message != nil && m.Message.IsEcho:
		return KindEcho
	case m.Message != nil:
		return KindMessage
	case m.Postback != nil:
		return KindPostback
	case m.Referral != nil:
		return KindReferralOnly
	default:
		return KindInvalid
	}
}

// MessageID returns the platform message id, or "" for referral-only items.
func (m *Messaging) MessageID() string {
	switch {
	case m.Message != nil:
		return m.Message.MID
	case m.Postback != nil:
		return m.Postback.MID
	default:
		return ""
	}
}

// ReferralBlock returns the referral metadata wherever the platform nested
// it: on the message, on the postback, or at the item level.
func (m *Messaging) ReferralBlock() *Referral {
	switch {
	case m.Message != nil && m.Message.Referral != nil:
		return m.Message.Referral
	case m.Postback != nil && m.Postback.Referral != nil:
		return m.Postback.Referral
	default:
		return m.Referral
	}
}

// Time converts the item's millisecond timestamp, falling back to now when
// the platform omitted it.
func (m *Messaging) Time() time.Time {
	if m.Timestamp == 0 {
		return time.Now()
	}
	return time.UnixMilli(m.Timestamp)
}

// HasContent reports whether anything in the batch warrants processing.
// Delivery and read receipts produce entries with no message, postback,
// referral, or feed change and are suppressed wholesale.
func (e *InboundEvent) HasContent() bool {
	for _, entry := range e.Entry {
		for i := range entry.Messaging {
			if entry.Messaging[i].Kind() != KindInvalid {
				return true
			}
		}
		for _, ch := range entry.Changes {
			if ch.Field == "feed" && ch.Value.Item != "" {
				return true
			}
		}
	}
	return false
}
