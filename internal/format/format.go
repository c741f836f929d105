// Package format turns a drafted reply into email-safe HTML.
package format

import (
	"bytes"
	"io"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"golang.org/x/net/html"
)

// Kind is the detected markup of a reply.
type Kind int

// Reply kinds, in detection order.
const (
	KindText Kind = iota
	KindHTML
	KindMarkdown
)

func (k Kind) String() string {
	switch k {
	case KindHTML:
		return "html"
	case KindMarkdown:
		return "markdown"
	}
	return "text"
}

var htmlTag = regexp.MustCompile(`(?i)</?(p|div|br|span|a|strong|em|b|i|u|ul|ol|li|table|thead|tbody|tr|td|th|h[1-6]|blockquote|pre|code|img|html|body)(\s[^>]*)?/?>`)

var markdownPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^#{1,6}\s+\S`),
	regexp.MustCompile("(?m)^```"),
	regexp.MustCompile(`(?m)^\s*[-*+]\s+\S`),
	regexp.MustCompile(`(?m)^\s*\d+\.\s+\S`),
	regexp.MustCompile(`(?m)^\|.*\|\s*$`),
	regexp.MustCompile(`\*\*[^*\n]+\*\*`),
	regexp.MustCompile(`(^|[^*\w])\*[^*\s][^*\n]*\*([^*\w]|$)`),
	regexp.MustCompile("`[^`\n]+`"),
	regexp.MustCompile(`\[[^\]\n]+\]\([^)\s]+\)`),
}

// Detect classifies a reply as HTML, markdown or plain text.
func Detect(s string) Kind {
	if htmlTag.MatchString(s) {
		return KindHTML
	}
	for _, re := range markdownPatterns {
		if re.MatchString(s) {
			return KindMarkdown
		}
	}
	return KindText
}

// DefaultStyles are the inline styles applied to rendered markdown.
var DefaultStyles = map[string]string{
	"p":          "margin:0 0 12px 0;line-height:1.5",
	"h1":         "font-size:20px;margin:16px 0 8px 0",
	"h2":         "font-size:18px;margin:16px 0 8px 0",
	"h3":         "font-size:16px;margin:12px 0 6px 0",
	"ul":         "margin:0 0 12px 0;padding-left:20px",
	"ol":         "margin:0 0 12px 0;padding-left:20px",
	"li":         "margin:0 0 4px 0",
	"blockquote": "margin:0 0 12px 0;padding-left:12px;border-left:3px solid #d4d4d8;color:#52525b",
	"pre":        "margin:0 0 12px 0;padding:10px;background:#f4f4f5;border-radius:4px;overflow-x:auto",
	"code":       "font-family:Menlo,Consolas,monospace;font-size:13px;background:#f4f4f5;padding:1px 4px;border-radius:3px",
	"table":      "border-collapse:collapse;margin:0 0 12px 0",
	"th":         "border:1px solid #d4d4d8;padding:6px 10px;text-align:left;background:#f4f4f5",
	"td":         "border:1px solid #d4d4d8;padding:6px 10px;text-align:left",
	"a":          "color:#2563eb",
}

// Option configures a Formatter.
type Option func(*Formatter)

// WithStyles replaces the inline style table.
func WithStyles(styles map[string]string) Option {
	return func(f *Formatter) {
		f.styles = copyStyles(styles)
	}
}

// Formatter renders replies. It is immutable after New and safe for
// concurrent use.
type Formatter struct {
	md     goldmark.Markdown
	styles map[string]string
}

// New creates a Formatter with GitHub-flavoured markdown.
func New(opts ...Option) *Formatter {
	f := &Formatter{
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		styles: copyStyles(DefaultStyles),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// ToHTML renders a reply as an HTML fragment.
func (f *Formatter) ToHTML(reply string) string {
	switch Detect(reply) {
	case KindHTML:
		return reply
	case KindMarkdown:
		var buf bytes.Buffer
		if err := f.md.Convert([]byte(reply), &buf); err != nil {
			return textToHTML(reply)
		}
		return f.applyStyles(buf.String())
	}
	return textToHTML(reply)
}

// applyStyles adds inline styles to known tags, keeping any existing style.
func (f *Formatter) applyStyles(src string) string {
	var out strings.Builder
	z := html.NewTokenizer(strings.NewReader(src))
	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if z.Err() == io.EOF {
				return out.String()
			}
			return src
		}
		tok := z.Token()
		if tt == html.StartTagToken || tt == html.SelfClosingTagToken {
			if style, ok := f.styles[tok.Data]; ok {
				tok.Attr = mergeStyle(tok.Attr, style)
			}
		}
		out.WriteString(tok.String())
	}
}

func mergeStyle(attrs []html.Attribute, style string) []html.Attribute {
	for i, a := range attrs {
		if a.Key == "style" {
			attrs[i].Val = style + ";" + a.Val
			return attrs
		}
	}
	return append(attrs, html.Attribute{Key: "style", Val: style})
}

func textToHTML(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(html.EscapeString(s), "\n", "<br>\n")
}

func copyStyles(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
