package docgen

import (
	"strconv"
	"strings"
	"time"

	"fundroom/api/internal/content"
)

// agendaView is the formation_agenda layout model.
type agendaView struct {
	Title        string
	MeetingPlace string
	Chairman     string
	Secretary    string
	OpeningText  string
	ClosingText  string
	Agendas      []agendaItem
	Signatures   []string
}

type agendaItem struct {
	Number      int
	Title       string
	Description string
	Resolution  string
}

// memberListView is the formation_member_list layout model.
type memberListView struct {
	Title           string
	IntroText       string
	Columns         []memberColumn
	FooterText      string
	SignatoryName   string
	SignatoryRole   string
	ShowTotalShares bool
}

type memberColumn struct {
	Label string
	Field string
}

func buildAgendaView(v content.Value, fund FundData) agendaView {
	view := agendaView{
		Title:        fill(text(v, "title"), fund),
		MeetingPlace: firstNonEmpty(fill(text(v, "meeting_place"), fund), fund.MeetingPlace),
		Chairman:     fill(text(v, "chairman"), fund),
		Secretary:    fill(text(v, "secretary"), fund),
		OpeningText:  fill(text(v, "opening_text"), fund),
		ClosingText:  fill(text(v, "closing_text"), fund),
	}
	if view.Title == "" {
		view.Title = "Agenda"
	}
	agendas, _ := v.Field("agendas")
	for i, item := range agendas.Items() {
		view.Agendas = append(view.Agendas, agendaItem{
			Number:      i + 1,
			Title:       fill(text(item, "title"), fund),
			Description: fill(text(item, "description"), fund),
			Resolution:  fill(text(item, "resolution"), fund),
		})
	}
	signatures, _ := v.Field("signatures")
	for _, item := range signatures.Items() {
		if role := fill(text(item, "role"), fund); role != "" {
			view.Signatures = append(view.Signatures, role)
		}
	}
	return view
}

var defaultMemberColumns = []memberColumn{
	{Label: "Name", Field: "name"},
	{Label: "Role", Field: "role"},
	{Label: "Shares", Field: "shares"},
}

func buildMemberListView(v content.Value, fund FundData) memberListView {
	view := memberListView{
		Title:         fill(text(v, "title"), fund),
		IntroText:     fill(text(v, "intro_text"), fund),
		FooterText:    fill(text(v, "footer_text"), fund),
		SignatoryName: fill(text(v, "signatory", "name"), fund),
		SignatoryRole: fill(text(v, "signatory", "role"), fund),
	}
	if view.Title == "" {
		view.Title = "List of members"
	}
	if flag, ok := v.Field("show_total_shares"); ok {
		view.ShowTotalShares, _ = flag.Bool()
	}
	columns, _ := v.Field("columns")
	for _, item := range columns.Items() {
		field := text(item, "field")
		if field == "" {
			continue
		}
		view.Columns = append(view.Columns, memberColumn{Label: firstNonEmpty(text(item, "label"), field), Field: field})
	}
	if len(view.Columns) == 0 {
		view.Columns = defaultMemberColumns
	}
	return view
}

// text follows path through nested mappings and returns the leaf as text.
func text(v content.Value, path ...string) string {
	current := v
	for _, key := range path {
		next, ok := current.Field(key)
		if !ok {
			return ""
		}
		current = next
	}
	switch current.Kind() {
	case content.KindNull, content.KindSequence, content.KindMapping:
		return ""
	default:
		return current.Scalar()
	}
}

// fill replaces {placeholders} in template text with fund data.
func fill(s string, fund FundData) string {
	if !strings.Contains(s, "{") {
		return s
	}
	replacer := strings.NewReplacer(
		"{fund_name}", fund.Name,
		"{registry_code}", fund.RegistryCode,
		"{address}", fund.Address,
		"{meeting_date}", formatDate(fund.MeetingDate),
		"{meeting_place}", fund.MeetingPlace,
		"{member_count}", strconv.Itoa(len(fund.Members)),
	)
	return replacer.Replace(s)
}

func memberField(m Member, field string) string {
	switch field {
	case "name":
		return m.Name
	case "role":
		return m.Role
	case "email":
		return m.Email
	case "address":
		return m.Address
	case "id_code":
		return m.IDCode
	case "shares":
		return formatAmount(m.Shares)
	case "investor":
		if m.Investor {
			return "Yes"
		}
		return "No"
	default:
		return ""
	}
}

func totalShares(members []Member) string {
	var total float64
	for _, m := range members {
		total += m.Shares
	}
	return formatAmount(total)
}

func formatAmount(n float64) string {
	return strconv.FormatFloat(n, 'f', -1, 64)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2 January 2006")
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
