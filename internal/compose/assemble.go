// Package compose assembles the outbound reply bodies and their metrics footer.
package compose

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/net/html"

	"github.com/jarrod-lowe/rally-relay/internal/format"
)

// Metrics are the processing figures reported under each reply.
type Metrics struct {
	Total        time.Duration
	Ingest       time.Duration
	Attachments  time.Duration
	Upload       time.Duration
	AI           time.Duration
	InputTokens  int
	OutputTokens int
	CostUSD      float64
}

// Bodies are the plain text and HTML forms of a reply.
type Bodies struct {
	Text string
	HTML string
}

// HTMLFormatter renders a reply as an HTML fragment.
type HTMLFormatter interface {
	ToHTML(reply string) string
}

// Assembler builds reply bodies.
type Assembler struct {
	formatter HTMLFormatter
}

// NewAssembler creates a new Assembler. A nil formatter uses format.New().
func NewAssembler(formatter HTMLFormatter) *Assembler {
	if formatter == nil {
		formatter = format.New()
	}
	return &Assembler{formatter: formatter}
}

// Ingest is the time not spent on AI, attachment storage or file upload, floored at zero.
func Ingest(total, ai, attachments, upload time.Duration) time.Duration {
	d := total - ai - attachments - upload
	if d < 0 {
		return 0
	}
	return d
}

type row struct {
	label string
	value string
}

func rows(m Metrics) []row {
	out := []row{{"Ingest", seconds(m.Ingest)}}
	if m.Attachments > 0 {
		out = append(out, row{"Attachments", seconds(m.Attachments)})
	}
	if m.Upload > 0 {
		out = append(out, row{"File upload", seconds(m.Upload)})
	}
	return append(out,
		row{"AI generation", seconds(m.AI)},
		row{"Total", seconds(m.Total)},
	)
}

func seconds(d time.Duration) string {
	return fmt.Sprintf("%.2fs", d.Seconds())
}

func costLine(m Metrics) string {
	return fmt.Sprintf("$%.4f (%s input / %s output tokens)",
		m.CostUSD, humanize.Comma(int64(m.InputTokens)), humanize.Comma(int64(m.OutputTokens)))
}

// Assemble builds the text and HTML bodies for a reply.
func (a *Assembler) Assemble(reply string, m Metrics) Bodies {
	reply = strings.TrimSpace(reply)
	return Bodies{
		Text: reply + "\n\n" + textFooter(m),
		HTML: a.htmlBody(reply, m),
	}
}

func textFooter(m Metrics) string {
	var b strings.Builder
	b.WriteString("---\nProcessing time:\n")
	for _, r := range rows(m) {
		fmt.Fprintf(&b, "- %s: %s\n", r.label, r.value)
	}
	b.WriteString("Cost: " + costLine(m))
	return b.String()
}

const (
	containerStyle = "max-width:680px;margin:0 auto;font-family:-apple-system,Segoe UI,Helvetica,Arial,sans-serif;font-size:15px;line-height:1.5;color:#18181b"
	ruleStyle      = "border:none;border-top:1px solid #e4e4e7;margin:24px 0 12px 0"
	tableStyle     = "font-size:12px;color:#71717a;border-collapse:collapse"
	labelStyle     = "padding:2px 12px 2px 0;white-space:nowrap"
	valueStyle     = "padding:2px 0"
)

func (a *Assembler) htmlBody(reply string, m Metrics) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<div style=\"%s\">\n", containerStyle)
	b.WriteString(a.formatter.ToHTML(reply))
	fmt.Fprintf(&b, "\n<hr style=\"%s\">\n", ruleStyle)
	fmt.Fprintf(&b, "<table role=\"presentation\" style=\"%s\">\n", tableStyle)
	for _, r := range append(rows(m), row{"Cost", costLine(m)}) {
		fmt.Fprintf(&b, "<tr><td style=\"%s\">%s</td><td style=\"%s\">%s</td></tr>\n",
			labelStyle, html.EscapeString(r.label), valueStyle, html.EscapeString(r.value))
	}
	b.WriteString("</table>\n</div>")
	return b.String()
}
