// Package inbound provides the typed inbound-email webhook payload.
package inbound

import (
	"strings"
)

// Address is a parsed mailbox from the webhook payload.
type Address struct {
	Email       string `json:"Email" validate:"required,email"`
	Name        string `json:"Name"`
	MailboxHash string `json:"MailboxHash,omitempty"`
}

// Header is a single raw header line from the original message.
type Header struct {
	Name  string `json:"Name"`
	Value string `json:"Value"`
}

// Attachment is an attachment delivered inline (base64) with the webhook.
type Attachment struct {
	Name          string `json:"Name"`
	Content       string `json:"Content" validate:"omitempty,base64"`
	ContentType   string `json:"ContentType"`
	ContentLength int64  `json:"ContentLength" validate:"gte=0"`
	ContentID     string `json:"ContentID,omitempty"`
}

// IsInline reports whether the attachment is referenced from the HTML body by content id.
func (a Attachment) IsInline() bool {
	return a.ContentID != ""
}

// IsImage reports whether the attachment carries an image MIME type.
func (a Attachment) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(a.ContentType), "image/")
}

// Payload is the inbound-email webhook body.
type Payload struct {
	From              string       `json:"From"`
	FromName          string       `json:"FromName"`
	FromFull          Address      `json:"FromFull"`
	To                string       `json:"To"`
	ToFull            []Address    `json:"ToFull" validate:"dive"`
	Cc                string       `json:"Cc"`
	CcFull            []Address    `json:"CcFull" validate:"dive"`
	OriginalRecipient string       `json:"OriginalRecipient" validate:"omitempty,email"`
	ReplyTo           string       `json:"ReplyTo"`
	Subject           string       `json:"Subject"`
	MessageID         string       `json:"MessageID"`
	MailboxHash       string       `json:"MailboxHash"`
	Date              string       `json:"Date"`
	TextBody          string       `json:"TextBody"`
	HtmlBody          string       `json:"HtmlBody"`
	StrippedTextReply string       `json:"StrippedTextReply"`
	Tag               string       `json:"Tag"`
	Headers           []Header     `json:"Headers"`
	Attachments       []Attachment `json:"Attachments" validate:"dive"`
}

// Sender returns the sender mailbox.
func (p *Payload) Sender() Address {
	return p.FromFull
}

// Header returns the first header value with the given name (case-insensitive).
func (p *Payload) Header(name string) string {
	for _, h := range p.Headers {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// MessageIDHeader returns the RFC 5322 Message-ID without angle brackets,
// falling back to the provider's own identifier.
func (p *Payload) MessageIDHeader() string {
	if ids := ParseMessageIds(p.Header("Message-ID")); len(ids) > 0 {
		return ids[0]
	}
	return p.MessageID
}

// InReplyTo returns the parent Message-ID without angle brackets, or "".
func (p *Payload) InReplyTo() string {
	if ids := ParseMessageIds(p.Header("In-Reply-To")); len(ids) > 0 {
		return ids[0]
	}
	return ""
}

// References returns the raw References header.
func (p *Payload) References() string {
	return strings.TrimSpace(p.Header("References"))
}
