package inbound

import (
	"mime"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

var (
	foldedWhitespace = regexp.MustCompile(`\r?\n[ \t]`)
	repeatedSpaces   = regexp.MustCompile(`  +`)
)

// ParseMessageIds parses a message ID header into a list of message IDs.
// Angle brackets are stripped from each ID.
func ParseMessageIds(value string) []string {
	parts := strings.Fields(value)
	if len(parts) == 0 {
		return nil
	}

	result := make([]string, 0, len(parts))
	for _, part := range parts {
		id := strings.TrimPrefix(part, "<")
		id = strings.TrimSuffix(id, ">")
		id = strings.TrimSuffix(id, ">,")
		if id != "" {
			result = append(result, id)
		}
	}
	return result
}

// ParseText decodes RFC 2047 encoded words, unfolds whitespace, and normalizes to NFC.
func ParseText(value string) string {
	if value == "" {
		return ""
	}

	dec := mime.WordDecoder{CharsetReader: charsetReader}
	decoded, err := dec.DecodeHeader(value)
	if err != nil {
		decoded = value
	}

	decoded = foldedWhitespace.ReplaceAllString(decoded, " ")
	decoded = strings.ReplaceAll(decoded, "\t", " ")
	decoded = repeatedSpaces.ReplaceAllString(decoded, " ")

	return norm.NFC.String(strings.TrimSpace(decoded))
}

// ReplySubject prefixes subject with "Re: " unless it already carries one.
func ReplySubject(subject string) string {
	subject = ParseText(subject)
	if len(subject) >= 3 && strings.EqualFold(subject[:3], "re:") {
		return subject
	}
	if subject == "" {
		return "Re: (no subject)"
	}
	return "Re: " + subject
}

// ReferencesFor builds the References header for a reply to a message whose
// own references are refs and whose Message-ID is messageID.
func ReferencesFor(refs, messageID string) string {
	ids := ParseMessageIds(refs)
	if messageID != "" {
		ids = append(ids, messageID)
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, "<"+id+">")
	}
	return strings.Join(out, " ")
}
