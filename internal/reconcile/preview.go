package reconcile

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/mattn/go-runewidth"

	"github.com/openreply/pagegate/internal/store"
)

// previewWidth is the display-width budget for conversation previews.
const previewWidth = 80

// Per-type glyphs shown in conversation lists for non-text messages.
var previewGlyphs = map[store.MessageType]string{
	store.TypeImage:    "📷 Photo",
	store.TypeVideo:    "🎬 Video",
	store.TypeAudio:    "🎤 Audio",
	store.TypeFile:     "📎 File",
	store.TypeTemplate: "📋 Card",
}

// trailing incomplete \uXXXX or \xXX escapes left by upstream truncation
var incompleteEscape = regexp.MustCompile(`\\u[0-9a-fA-F]{0,3}$|\\x[0-9a-fA-F]?$`)

// Preview renders the conversation-list preview for a message: sanitized
// text, or a type-specific glyph for attachments.
func Preview(content string, typ store.MessageType) string {
	if typ == store.TypeText {
		return SanitizePreview(content)
	}
	if glyph, ok := previewGlyphs[typ]; ok {
		return glyph
	}
	return SanitizePreview(content)
}

// SanitizePreview strips control characters, invalid UTF-8, and incomplete
// trailing escape sequences, then truncates to the preview width. The
// result is safe to embed anywhere a conversation preview is rendered.
func SanitizePreview(s string) string {
	s = strings.ToValidUTF8(s, "")
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	s = incompleteEscape.ReplaceAllString(s, "")
	s = strings.TrimSuffix(s, `\`)
	s = strings.TrimSpace(s)
	return runewidth.Truncate(s, previewWidth, "…")
}
