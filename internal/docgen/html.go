package docgen

import (
	"bytes"
	"embed"
	"fmt"
	"html"
	"html/template"
	"strings"
)

//go:embed templates/*.html
var templateFS embed.FS

var funcMap = template.FuncMap{
	"formatDate": formatDate,
	"inc":        func(i int) int { return i + 1 },
	"paragraphs": paragraphs,
}

// layouts holds one parsed set per dedicated template type plus "generic".
var layouts = map[string]*template.Template{}

func init() {
	for _, name := range []string{"formation_agenda", "formation_member_list", "generic"} {
		layouts[name] = template.Must(template.New(name).Funcs(funcMap).ParseFS(templateFS, "templates/layout.html", "templates/"+name+".html"))
	}
}

type pageData struct {
	Title       string
	Type        string
	Version     string
	Fund        FundData
	Agenda      *agendaView
	MemberList  *memberListView
	Rows        [][]string
	TotalShares string
	Body        template.HTML
}

// RenderHTML merges the request's content and fund data into the layout for
// its type. Types without a dedicated layout fall back to a generic rendering
// of the content tree.
func RenderHTML(req Request) (string, string, error) {
	data := pageData{Type: req.Type, Version: req.Version, Fund: req.Fund}

	layout := "generic"
	switch req.Type {
	case "formation_agenda":
		view := buildAgendaView(req.Content, req.Fund)
		data.Agenda = &view
		data.Title = view.Title
		layout = req.Type
	case "formation_member_list":
		view := buildMemberListView(req.Content, req.Fund)
		data.MemberList = &view
		data.Title = view.Title
		data.TotalShares = totalShares(req.Fund.Members)
		for _, member := range req.Fund.Members {
			row := make([]string, 0, len(view.Columns))
			for _, column := range view.Columns {
				row = append(row, memberField(member, column.Field))
			}
			data.Rows = append(data.Rows, row)
		}
		layout = req.Type
	default:
		data.Title = firstNonEmpty(fill(text(req.Content, "title"), req.Fund), humanize(req.Type))
		data.Body = template.HTML(ContentToHTML(req.Content))
	}

	var buf bytes.Buffer
	if err := layouts[layout].ExecuteTemplate(&buf, "layout", data); err != nil {
		return "", "", fmt.Errorf("render %s: %w", layout, err)
	}
	return buf.String(), data.Title, nil
}

func paragraphs(s string) template.HTML {
	var b strings.Builder
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		b.WriteString("<p>")
		b.WriteString(html.EscapeString(line))
		b.WriteString("</p>")
	}
	return template.HTML(b.String())
}
