package dispatch

import (
	"github.com/openreply/pagegate/internal/platform"
)

// EventFromItem builds the responder payload for a messaging item,
// including the referral's post correlation when one is derivable.
func EventFromItem(tenantID, channelID string, item platform.Messaging) Event {
	ev := Event{
		TenantID:  tenantID,
		ChannelID: channelID,
		SenderID:  item.Sender.ID,
		Kind:      item.Kind().String(),
		Timestamp: item.Time(),
	}
	switch {
	case item.Message != nil:
		ev.Text = item.Message.Text
		ev.PlatformMessageID = item.Message.MID
		ev.Attachments = item.Message.Attachments
	case item.Postback != nil:
		ev.Text = item.Postback.Title
		ev.Payload = item.Postback.Payload
		ev.PlatformMessageID = item.Postback.MID
	}
	if corr := platform.ExtractPostCorrelation(item.ReferralBlock()); corr.PostID != "" {
		ev.PostID = corr.PostID
	}
	return ev
}

// EventFromComment builds the responder payload for a feed comment.
func EventFromComment(tenantID, channelID string, v platform.ChangeValue) Event {
	ev := Event{
		TenantID:  tenantID,
		ChannelID: channelID,
		Kind:      "comment",
		Text:      v.Message,
		PostID:    v.PostID,
		CommentID: v.CommentID,
	}
	if v.From != nil {
		ev.SenderID = v.From.ID
	}
	return ev
}
