package docgen

import (
	"fmt"
	"html"
	"strings"
	"unicode"
	"unicode/utf8"

	"fundroom/api/internal/content"
)

// ContentToHTML renders an arbitrary content tree for types without a
// dedicated layout: mappings become definition lists, sequences ordered
// lists, and multi-line strings paragraphs.
func ContentToHTML(v content.Value) string {
	var b strings.Builder
	renderValue(&b, v)
	return b.String()
}

func renderValue(b *strings.Builder, v content.Value) {
	switch v.Kind() {
	case content.KindNull:
		return
	case content.KindMapping:
		b.WriteString("<dl>\n")
		for _, key := range v.Keys() {
			field, _ := v.Field(key)
			fmt.Fprintf(b, "<dt>%s</dt>\n<dd>", html.EscapeString(humanize(key)))
			renderValue(b, field)
			b.WriteString("</dd>\n")
		}
		b.WriteString("</dl>\n")
	case content.KindSequence:
		b.WriteString("<ol>\n")
		for _, item := range v.Items() {
			b.WriteString("<li>")
			renderValue(b, item)
			b.WriteString("</li>\n")
		}
		b.WriteString("</ol>\n")
	case content.KindString:
		s, _ := v.Str()
		if strings.Contains(s, "\n") {
			for _, paragraph := range strings.Split(s, "\n") {
				if strings.TrimSpace(paragraph) == "" {
					continue
				}
				fmt.Fprintf(b, "<p>%s</p>\n", html.EscapeString(paragraph))
			}
			return
		}
		b.WriteString(html.EscapeString(s))
	case content.KindBool:
		if on, _ := v.Bool(); on {
			b.WriteString("Yes")
		} else {
			b.WriteString("No")
		}
	default:
		b.WriteString(html.EscapeString(v.Scalar()))
	}
}

func humanize(key string) string {
	words := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' })
	if len(words) == 0 {
		return key
	}
	first, size := utf8.DecodeRuneInString(words[0])
	words[0] = string(unicode.ToUpper(first)) + words[0][size:]
	return strings.Join(words, " ")
}
