package diff

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

var indexPattern = regexp.MustCompile(`\[(\d+)\]`)

// displayLabels maps index-free paths to labels per template type. "{n}" is
// replaced, in order, by the 1-based position of each index in the raw path.
var displayLabels = map[string]map[string]string{
	"formation_agenda": {
		"title":                 "Document title",
		"meeting_place":         "Meeting place",
		"chairman":              "Chairman",
		"secretary":             "Secretary",
		"opening_text":          "Opening text",
		"closing_text":          "Closing text",
		"agendas":               "Agenda items",
		"agendas[]":             "Agenda item {n}",
		"agendas[].title":       "Agenda item {n}: title",
		"agendas[].description": "Agenda item {n}: description",
		"agendas[].resolution":  "Agenda item {n}: resolution",
		"signatures":            "Signatures",
		"signatures[]":          "Signature {n}",
		"signatures[].role":     "Signature {n}: role",
	},
	"formation_member_list": {
		"title":             "Document title",
		"intro_text":        "Introduction",
		"columns":           "Member table columns",
		"columns[]":         "Column {n}",
		"columns[].label":   "Column {n}: label",
		"columns[].field":   "Column {n}: field",
		"footer_text":       "Footer",
		"signatory.name":    "Signatory name",
		"signatory.role":    "Signatory role",
		"show_total_shares": "Show total shares",
	},
}

// DisplayPath returns a human readable label for a raw change path, or the
// path itself when the template type has no label for it.
func DisplayPath(templateType, path string) string {
	labels, ok := displayLabels[templateType]
	if !ok {
		return path
	}

	var positions []string
	normalized := indexPattern.ReplaceAllStringFunc(path, func(match string) string {
		index, err := strconv.Atoi(match[1 : len(match)-1])
		if err != nil {
			positions = append(positions, match)
		} else {
			positions = append(positions, strconv.Itoa(index+1))
		}
		return "[]"
	})

	label, ok := labels[normalized]
	if !ok {
		return path
	}
	for _, position := range positions {
		label = strings.Replace(label, "{n}", position, 1)
	}
	return label
}

// Annotate returns a copy of result with display labels filled in and a
// unified text diff attached to multi-line string modifications.
func Annotate(templateType string, result Result) Result {
	annotated := Result{Changes: make([]Change, len(result.Changes)), Summary: result.Summary}
	for i, change := range result.Changes {
		change.DisplayPath = DisplayPath(templateType, change.Path)
		if change.Type == Modified && change.OldValue != nil && change.NewValue != nil {
			if strings.Contains(*change.OldValue, "\n") || strings.Contains(*change.NewValue, "\n") {
				change.TextDiff = unifiedText(*change.OldValue, *change.NewValue)
			}
		}
		annotated.Changes[i] = change
	}
	return annotated
}

func unifiedText(oldText, newText string) string {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(oldText),
		B:        difflib.SplitLines(newText),
		FromFile: "before",
		ToFile:   "after",
		Context:  2,
	})
	if err != nil {
		return ""
	}
	return text
}
