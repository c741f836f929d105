package inbound

import (
	"strings"
)

// Participant kinds as stored alongside a message.
const (
	KindFrom = "from"
	KindTo   = "to"
	KindCc   = "cc"
)

// Participant is one addressed party of a message.
type Participant struct {
	Kind  string
	Name  string
	Email string
}

// Participants lists the sender, To and Cc mailboxes in header order.
func (p *Payload) Participants() []Participant {
	out := make([]Participant, 0, 1+len(p.ToFull)+len(p.CcFull))
	out = append(out, Participant{Kind: KindFrom, Name: p.FromFull.Name, Email: p.FromFull.Email})
	for _, a := range p.ToFull {
		out = append(out, Participant{Kind: KindTo, Name: a.Name, Email: a.Email})
	}
	for _, a := range p.CcFull {
		out = append(out, Participant{Kind: KindCc, Name: a.Name, Email: a.Email})
	}
	return out
}

// DistinctAddresses returns every participant address once, lower-cased, in first-seen order.
func (p *Payload) DistinctAddresses() []Participant {
	seen := make(map[string]bool)
	var out []Participant
	for _, part := range p.Participants() {
		key := normalizeAddress(part.Email)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		part.Email = key
		out = append(out, part)
	}
	return out
}

// RallyAddress picks the system-owned address that received the message.
// OriginalRecipient wins; otherwise the first To address on domain, then the first To.
func (p *Payload) RallyAddress(domain string) string {
	if p.OriginalRecipient != "" {
		return normalizeAddress(p.OriginalRecipient)
	}
	domain = strings.ToLower(strings.TrimPrefix(domain, "@"))
	if domain != "" {
		for _, a := range p.ToFull {
			if strings.HasSuffix(normalizeAddress(a.Email), "@"+domain) {
				return normalizeAddress(a.Email)
			}
		}
	}
	if len(p.ToFull) > 0 {
		return normalizeAddress(p.ToFull[0].Email)
	}
	return ""
}

// Recipients is the addressing of a reply-all. To is empty when nobody
// but the rally address took part.
type Recipients struct {
	To Address
	Cc []Address
}

// ReplyAll computes reply-all addressing: the reply goes to the sender and
// copies every other To/Cc mailbox, without repeats. The rally address is
// never addressed; when it is the sender, the first other mailbox becomes To.
func ReplyAll(from Address, to, cc []Address, rally string) Recipients {
	seen := make(map[string]bool)
	if key := normalizeAddress(rally); key != "" {
		seen[key] = true
	}

	var r Recipients
	for _, list := range [][]Address{{from}, to, cc} {
		for _, a := range list {
			key := normalizeAddress(a.Email)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			if r.To.Email == "" {
				r.To = a
				continue
			}
			r.Cc = append(r.Cc, a)
		}
	}
	return r
}

// Empty reports whether there is nobody to send to.
func (r Recipients) Empty() bool {
	return r.To.Email == ""
}

// All returns the To mailbox followed by the Cc mailboxes.
func (r Recipients) All() []Address {
	if r.Empty() {
		return nil
	}
	return append([]Address{r.To}, r.Cc...)
}

func normalizeAddress(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
