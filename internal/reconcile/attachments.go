package reconcile

import (
	"github.com/openreply/pagegate/internal/platform"
	"github.com/openreply/pagegate/internal/store"
)

// attachmentFallback stands in for an attachment whose payload carried no
// usable URL (corrupt or truncated JSON upstream).
const attachmentFallback = "[attachment unavailable]"

// ClassifyContent derives the message type and representative content from
// an echo's text and attachments. Text wins over attachments; the first
// attachment decides the type otherwise. Returns ok=false for content that
// is both empty of text and empty of attachments.
func ClassifyContent(msg *platform.Message) (content string, typ store.MessageType, ok bool) {
	if msg.Text != "" {
		return msg.Text, store.TypeText, true
	}
	if len(msg.Attachments) == 0 {
		return "", "", false
	}

	att := msg.Attachments[0]
	switch att.Type {
	case "image":
		return payloadURL(att), store.TypeImage, true
	case "video":
		return payloadURL(att), store.TypeVideo, true
	case "audio":
		return payloadURL(att), store.TypeAudio, true
	case "file":
		return payloadURL(att), store.TypeFile, true
	case "template":
		marker := att.Payload.TemplateType
		if marker == "" {
			marker = "generic"
		}
		if att.Payload.Title != "" {
			return att.Payload.Title, store.TypeTemplate, true
		}
		return "[template:" + marker + "]", store.TypeTemplate, true
	default:
		// "fallback" and unrecognized types: keep the item, mark the content.
		return attachmentFallback, store.TypeFile, true
	}
}

func payloadURL(att platform.Attachment) string {
	if att.Payload.URL == "" {
		return attachmentFallback
	}
	return att.Payload.URL
}
