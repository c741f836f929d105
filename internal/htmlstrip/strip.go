// Package htmlstrip flattens HTML email bodies into prompt-ready plain text.
package htmlstrip

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// SmallImageBytes is the size below which an inline image is treated as a
// tracking pixel or signature icon and dropped.
const SmallImageBytes = 5000

// skipElements are elements whose text content should be discarded.
var skipElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"head":     true,
}

// breakElements end a line when they close.
var breakElements = map[string]bool{
	"p":   true,
	"div": true,
}

var (
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	trailingSpaces = regexp.MustCompile(`[ \t]+\n`)
)

// InlineImage describes an attachment referenced from the body by content id.
type InlineImage struct {
	Filename string
	Size     int64
}

// flattener walks an HTML token stream and writes plain text.
type flattener struct {
	tokenizer *html.Tokenizer
	buf       strings.Builder
	skipDepth int // depth counter for elements being skipped
	hrefs     []string
	inline    map[string]InlineImage
}

// Flatten converts an HTML body to plain text. Images are replaced with
// bracketed markers; inline is keyed by content id as returned by CID.
func Flatten(src string, inline map[string]InlineImage) string {
	f := &flattener{
		tokenizer: html.NewTokenizer(strings.NewReader(src)),
		inline:    inline,
	}
	for f.next() {
	}

	out := strings.ReplaceAll(f.buf.String(), "\r\n", "\n")
	out = trailingSpaces.ReplaceAllString(out, "\n")
	out = excessNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// CID normalizes a content id or cid: reference for lookup.
func CID(ref string) string {
	ref = strings.TrimSpace(ref)
	if len(ref) >= 4 && strings.EqualFold(ref[:4], "cid:") {
		ref = ref[4:]
	}
	ref = strings.TrimPrefix(ref, "<")
	ref = strings.TrimSuffix(ref, ">")
	return strings.ToLower(ref)
}

func (f *flattener) next() bool {
	tt := f.tokenizer.Next()
	switch tt {
	case html.ErrorToken:
		return false

	case html.StartTagToken, html.SelfClosingTagToken:
		tn, hasAttr := f.tokenizer.TagName()
		tagName := string(tn)
		attrs := map[string]string{}
		if hasAttr {
			attrs = f.attrs()
		}

		if skipElements[tagName] && tt == html.StartTagToken {
			f.skipDepth++
			return true
		}
		if f.skipDepth > 0 {
			return true
		}

		switch tagName {
		case "br":
			f.buf.WriteByte('\n')
		case "img":
			f.buf.WriteString(f.imageMarker(attrs["src"], attrs["alt"]))
		case "a":
			if tt == html.StartTagToken {
				f.hrefs = append(f.hrefs, attrs["href"])
			}
		}
		return true

	case html.EndTagToken:
		tn, _ := f.tokenizer.TagName()
		tagName := string(tn)

		if skipElements[tagName] {
			if f.skipDepth > 0 {
				f.skipDepth--
			}
			return true
		}
		if f.skipDepth > 0 {
			return true
		}

		if breakElements[tagName] {
			f.buf.WriteByte('\n')
		}
		if tagName == "a" && len(f.hrefs) > 0 {
			href := f.hrefs[len(f.hrefs)-1]
			f.hrefs = f.hrefs[:len(f.hrefs)-1]
			if href != "" {
				f.buf.WriteString(" (" + href + ")")
			}
		}
		return true

	case html.TextToken:
		if f.skipDepth > 0 {
			return true
		}
		f.buf.Write(f.tokenizer.Text())
		return true
	}
	return true
}

func (f *flattener) attrs() map[string]string {
	out := make(map[string]string)
	for {
		key, val, more := f.tokenizer.TagAttr()
		out[string(key)] = string(val)
		if !more {
			break
		}
	}
	return out
}

// imageMarker returns the text that replaces an <img>, possibly empty.
func (f *flattener) imageMarker(src, alt string) string {
	alt = strings.TrimSpace(alt)
	if len(src) >= 4 && strings.EqualFold(src[:4], "cid:") {
		if img, ok := f.inline[CID(src)]; ok {
			if img.Size < SmallImageBytes {
				return ""
			}
			label := alt
			if label == "" {
				label = img.Filename
			}
			return "[Image: " + label + " (See Attachment: " + img.Filename + ")]"
		}
	}
	if alt != "" {
		return "[Image: " + alt + "]"
	}
	return "[Image]"
}
