package render

import (
	"embed"
	"html/template"
	"io"
	"regexp"

	"groupcal/internal/model"
)

//go:embed templates/*.html
var templateFS embed.FS

var urlPattern = regexp.MustCompile(`(http|ftp|https)://([\w-]+(?:(?:\.[\w_-]+)+))([\w.,@?()<>;^=%&:/~+#-]*[\w@?(<^=%&/~+#-])?`)

var tmpl = template.Must(template.New("page").Funcs(template.FuncMap{
	// About is escaped and truncated by the display mapper.
	"safeHTML":    func(s string) template.HTML { return template.HTML(s) },
	"locationURL": locationURL,
}).ParseFS(templateFS, "templates/*.html"))

// Page is the data behind the events listing.
type Page struct {
	Groups []model.YearGroup
	// AddEventURL is linked from the fallback shown when there are no events.
	AddEventURL string
}

// HTML writes the year-grouped listing, or the no-events fallback.
func HTML(w io.Writer, p Page) error {
	return tmpl.ExecuteTemplate(w, "events", p)
}

// locationURL returns the first http, https or ftp URL in a location.
func locationURL(location string) template.URL {
	return template.URL(urlPattern.FindString(location))
}
