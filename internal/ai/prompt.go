package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jarrod-lowe/rally-relay/internal/inbound"
)

// UserPrompt renders the inbound message as the final user turn.
func UserPrompt(req Request) string {
	var b strings.Builder
	if p := req.Payload; p != nil {
		fmt.Fprintf(&b, "From: %s\n", formatAddress(p.FromFull))
		if len(p.ToFull) > 0 {
			fmt.Fprintf(&b, "To: %s\n", formatAddresses(p.ToFull))
		}
		if len(p.CcFull) > 0 {
			fmt.Fprintf(&b, "Cc: %s\n", formatAddresses(p.CcFull))
		}
		fmt.Fprintf(&b, "Subject: %s\n", inbound.ParseText(p.Subject))
		if p.Date != "" {
			fmt.Fprintf(&b, "Date: %s\n", p.Date)
		}
		b.WriteString("\n")
	}
	b.WriteString(req.NormalizedText)
	if ctx := strings.TrimSpace(req.RequestContext); ctx != "" {
		b.WriteString("\n\n[Context]\n")
		b.WriteString(ctx)
	}
	return b.String()
}

func formatAddress(a inbound.Address) string {
	if a.Name == "" {
		return a.Email
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Email)
}

func formatAddresses(list []inbound.Address) string {
	parts := make([]string, len(list))
	for i, a := range list {
		parts[i] = formatAddress(a)
	}
	return strings.Join(parts, ", ")
}

// structuredReply is the optional JSON shape a model may answer with.
type structuredReply struct {
	Reply   *string        `json:"reply"`
	Summary string         `json:"summary"`
	Data    map[string]any `json:"data"`
}

// parseReply splits model output into reply, summary and extracted data.
// Output that is not a JSON object with a reply key is the reply itself.
func parseReply(text string) (reply, summary string, extracted map[string]any) {
	trimmed := strings.TrimSpace(text)
	candidate := trimmed
	if strings.HasPrefix(candidate, "```") {
		candidate = strings.TrimPrefix(candidate, "```json")
		candidate = strings.TrimPrefix(candidate, "```")
		candidate = strings.TrimSuffix(strings.TrimSpace(candidate), "```")
		candidate = strings.TrimSpace(candidate)
	}

	if strings.HasPrefix(candidate, "{") {
		var s structuredReply
		if err := json.Unmarshal([]byte(candidate), &s); err == nil && s.Reply != nil {
			return strings.TrimSpace(*s.Reply), strings.TrimSpace(s.Summary), s.Data
		}
	}
	return trimmed, "", nil
}

// conversation merges history and the final prompt into alternating turns
// that start with the user, as chat models require.
func conversation(history []Turn, prompt string) []Turn {
	turns := make([]Turn, 0, len(history)+2)
	for _, t := range append(append([]Turn{}, history...), Turn{Role: RoleUser, Content: prompt}) {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		if len(turns) == 0 && t.Role == RoleAssistant {
			turns = append(turns, Turn{Role: RoleUser, Content: "[Earlier messages in this thread were not kept.]"})
		}
		if n := len(turns); n > 0 && turns[n-1].Role == t.Role {
			turns[n-1].Content += "\n\n" + t.Content
			continue
		}
		turns = append(turns, t)
	}
	return turns
}
