// Package normalize turns a raw inbound email into bounded prompt text.
package normalize

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"golang.org/x/text/unicode/norm"

	"github.com/jarrod-lowe/rally-relay/internal/htmlstrip"
	"github.com/jarrod-lowe/rally-relay/internal/inbound"
)

const (
	// MaxChars is the rune budget of the normalized text.
	MaxChars = 50000
	// TruncationMarker is appended when the text exceeds MaxChars.
	TruncationMarker = "\n\n[... truncated ...]"
)

// Normalize derives the prompt text for a message. The HTML body is
// flattened when the message references inline images or has no plain text.
func Normalize(rawHTML, rawText string, atts []inbound.Attachment) string {
	var body string
	if useHTML(rawHTML, rawText, atts) {
		body = htmlstrip.Flatten(rawHTML, inlineImages(atts))
	} else {
		body = rawText
	}

	if list := attachmentList(atts); list != "" {
		body = strings.TrimRight(body, "\n") + "\n\n[Attachments]\n" + list
	}

	return Truncate(norm.NFC.String(body), MaxChars)
}

// Truncate cuts s to max runes and appends TruncationMarker when it was longer.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + TruncationMarker
}

// Size returns the decoded byte size of an attachment.
func Size(a inbound.Attachment) int64 {
	if a.ContentLength > 0 {
		return a.ContentLength
	}
	if a.Content == "" {
		return 0
	}
	return int64(base64.StdEncoding.DecodedLen(len(a.Content)) - strings.Count(a.Content, "="))
}

// IsSmallImage reports whether an attachment is an image below the
// tracking-pixel threshold.
func IsSmallImage(a inbound.Attachment) bool {
	return a.IsImage() && Size(a) < htmlstrip.SmallImageBytes
}

func useHTML(rawHTML, rawText string, atts []inbound.Attachment) bool {
	if strings.TrimSpace(rawHTML) == "" {
		return false
	}
	if strings.TrimSpace(rawText) == "" {
		return true
	}
	if strings.Contains(strings.ToLower(rawHTML), "<img") {
		return true
	}
	for _, a := range atts {
		if a.IsInline() {
			return true
		}
	}
	return false
}

func inlineImages(atts []inbound.Attachment) map[string]htmlstrip.InlineImage {
	out := make(map[string]htmlstrip.InlineImage)
	for _, a := range atts {
		if !a.IsInline() {
			continue
		}
		out[htmlstrip.CID(a.ContentID)] = htmlstrip.InlineImage{
			Filename: a.Name,
			Size:     Size(a),
		}
	}
	return out
}

// attachmentList lists regular attachments, one bullet each.
// Inline parts and small images are described in the body or ignored.
func attachmentList(atts []inbound.Attachment) string {
	var b strings.Builder
	for _, a := range atts {
		if a.IsInline() || IsSmallImage(a) {
			continue
		}
		name := a.Name
		if name == "" {
			name = "unnamed"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", name, humanize.Bytes(uint64(Size(a))))
	}
	return strings.TrimRight(b.String(), "\n")
}
