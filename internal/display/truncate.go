package display

import (
	stdhtml "html"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const ellipsis = "..."

// voidElements never take a closing tag.
var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// TruncateHTML cuts s after limit characters of visible text, appends an
// ellipsis and closes any tag still open at the cut. Markup does not count
// towards the limit. Input that fits is returned unchanged.
func TruncateHTML(s string, limit int) string {
	z := html.NewTokenizer(strings.NewReader(s))

	var (
		b    strings.Builder
		open []string
		n    int
	)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				// Not parseable as markup; fall back to a plain cut.
				return cutRunes(s, limit) + ellipsis
			}
			return b.String()

		case html.TextToken:
			raw := string(z.Raw())
			text := stdhtml.UnescapeString(raw)
			count := utf8.RuneCountInString(text)
			if n+count <= limit {
				b.WriteString(raw)
				n += count
				continue
			}
			b.WriteString(stdhtml.EscapeString(cutRunes(text, limit-n)))
			b.WriteString(ellipsis)
			closeTags(&b, open)
			return b.String()

		case html.StartTagToken:
			b.Write(z.Raw())
			name, _ := z.TagName()
			if tag := string(name); !voidElements[tag] {
				open = append(open, tag)
			}

		case html.EndTagToken:
			b.Write(z.Raw())
			name, _ := z.TagName()
			tag := string(name)
			for i := len(open) - 1; i >= 0; i-- {
				if open[i] == tag {
					open = append(open[:i], open[i+1:]...)
					break
				}
			}

		default:
			b.Write(z.Raw())
		}
	}
}

func closeTags(b *strings.Builder, open []string) {
	for i := len(open) - 1; i >= 0; i-- {
		b.WriteString("</" + open[i] + ">")
	}
}

func cutRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
