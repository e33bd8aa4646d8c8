package reconcile

import (
	"testing"

	"github.com/openreply/pagegate/internal/platform"
	"github.com/openreply/pagegate/internal/store"
)

func TestClassifyContent(t *testing.T) {
	tests := []struct {
		name        string
		msg         *platform.Message
		wantContent string
		wantType    store.MessageType
		wantOK      bool
	}{
		{
			name:        "text wins over attachments",
			msg:         &platform.Message{Text: "hi", Attachments: []platform.Attachment{{Type: "image", Payload: platform.AttachmentPayload{URL: "http://x/i.jpg"}}}},
			wantContent: "hi",
			wantType:    store.TypeText,
			wantOK:      true,
		},
		{
			name:        "image url",
			msg:         &platform.Message{Attachments: []platform.Attachment{{Type: "image", Payload: platform.AttachmentPayload{URL: "http://x/i.jpg"}}}},
			wantContent: "http://x/i.jpg",
			wantType:    store.TypeImage,
			wantOK:      true,
		},
		{
			name:        "first attachment decides type",
			msg:         &platform.Message{Attachments: []platform.Attachment{{Type: "video", Payload: platform.AttachmentPayload{URL: "http://x/v.mp4"}}, {Type: "image"}}},
			wantContent: "http://x/v.mp4",
			wantType:    store.TypeVideo,
			wantOK:      true,
		},
		{
			name:        "template with title",
			msg:         &platform.Message{Attachments: []platform.Attachment{{Type: "template", Payload: platform.AttachmentPayload{TemplateType: "button", Title: "Track order"}}}},
			wantContent: "Track order",
			wantType:    store.TypeTemplate,
			wantOK:      true,
		},
		{
			name:        "template without title",
			msg:         &platform.Message{Attachments: []platform.Attachment{{Type: "template", Payload: platform.AttachmentPayload{TemplateType: "button"}}}},
			wantContent: "[template:button]",
			wantType:    store.TypeTemplate,
			wantOK:      true,
		},
		{
			name:        "fallback attachment kept with marker",
			msg:         &platform.Message{Attachments: []platform.Attachment{{Type: "fallback"}}},
			wantContent: "[attachment unavailable]",
			wantType:    store.TypeFile,
			wantOK:      true,
		},
		{
			name:        "attachment with empty url",
			msg:         &platform.Message{Attachments: []platform.Attachment{{Type: "image"}}},
			wantContent: "[attachment unavailable]",
			wantType:    store.TypeImage,
			wantOK:      true,
		},
		{
			name:   "no text no attachments",
			msg:    &platform.Message{},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			content, typ, ok := ClassifyContent(tt.msg)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if content != tt.wantContent {
				t.Errorf("content = %q, want %q", content, tt.wantContent)
			}
			if typ != tt.wantType {
				t.Errorf("type = %v, want %v", typ, tt.wantType)
			}
		})
	}
}
