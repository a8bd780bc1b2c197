package api

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/dot-do/gateway/envelope"
)

// renderMarkdown flattens an envelope into a readable document: title,
// total, the payload as a table where its shape allows one, then links and
// actions. format=md renders the same envelope, it is not a different
// response.
func renderMarkdown(e *envelope.Envelope) string {
	var b strings.Builder

	name := "response"
	if e.API != nil && e.API.Name != "" {
		name = e.API.Name
	}
	fmt.Fprintf(&b, "# %s\n\n", name)

	if e.Total != nil {
		fmt.Fprintf(&b, "> %s total\n\n", humanize.Comma(*e.Total))
	}
	if e.Error != nil {
		fmt.Fprintf(&b, "**%s** %s\n\n", e.Error.Code, e.Error.Message)
	}
	if e.HasData {
		writeMarkdownData(&b, e.Data)
	}

	writeMarkdownLinks(&b, "Links", e.Links)
	writeMarkdownLinks(&b, "Actions", e.Actions)

	return b.String()
}

func writeMarkdownData(b *strings.Builder, data any) {
	switch v := data.(type) {
	case []map[string]any:
		if len(v) == 0 {
			return
		}
		columns := sortedKeys(v[0])
		writeTableHeader(b, columns)
		for _, row := range v {
			cells := make([]string, len(columns))
			for i, column := range columns {
				cells[i] = markdownCell(row[column])
			}
			writeTableRow(b, cells)
		}
		b.WriteString("\n")
	case []envelope.CollectionItem:
		if len(v) == 0 {
			return
		}
		writeTableHeader(b, []string{"$id", "id", "name"})
		for _, item := range v {
			writeTableRow(b, []string{markdownCell(item.URL), markdownCell(item.ID), markdownCell(item.Name)})
		}
		b.WriteString("\n")
	case map[string]string:
		if len(v) == 0 {
			return
		}
		writeTableHeader(b, []string{"name", "url"})
		for _, key := range sortedStringKeys(v) {
			writeTableRow(b, []string{markdownCell(key), markdownCell(v[key])})
		}
		b.WriteString("\n")
	case map[string]any:
		if len(v) == 0 {
			return
		}
		writeTableHeader(b, []string{"key", "value"})
		for _, key := range sortedKeys(v) {
			writeTableRow(b, []string{markdownCell(key), markdownCell(v[key])})
		}
		b.WriteString("\n")
	default:
		raw, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return
		}
		fmt.Fprintf(b, "```json\n%s\n```\n\n", raw)
	}
}

func writeMarkdownLinks(b *strings.Builder, title string, links map[string]string) {
	if len(links) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, key := range sortedStringKeys(links) {
		fmt.Fprintf(b, "- [%s](%s)\n", key, links[key])
	}
	b.WriteString("\n")
}

func writeTableHeader(b *strings.Builder, columns []string) {
	b.WriteString("| " + strings.Join(columns, " | ") + " |\n")
	separators := make([]string, len(columns))
	for i := range separators {
		separators[i] = "---"
	}
	b.WriteString("| " + strings.Join(separators, " | ") + " |\n")
}

func writeTableRow(b *strings.Builder, cells []string) {
	b.WriteString("| " + strings.Join(cells, " | ") + " |\n")
}

func markdownCell(v any) string {
	if v == nil {
		return ""
	}
	s := fmt.Sprintf("%v", v)
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.ReplaceAll(s, "|", "\\|")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func sortedStringKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
