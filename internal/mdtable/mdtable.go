// Package mdtable parses and renders pipe-delimited markdown table rows
// with backslash-escaped pipes, the row format shared by the TODO board
// and the update log.
package mdtable

import "strings"

// SplitRow splits a markdown table row into trimmed cells. Escaped pipes
// (`\|`) stay inside their cell. ok is false when the line is not a row
// (does not both start and end with a pipe).
func SplitRow(line string) ([]string, bool) {
	text := strings.TrimSpace(line)
	if len(text) < 2 || !strings.HasPrefix(text, "|") || !strings.HasSuffix(text, "|") {
		return nil, false
	}

	var cells []string
	var buf strings.Builder
	escaped := false
	for _, ch := range text[1 : len(text)-1] {
		if escaped {
			if ch == '|' {
				buf.WriteByte('|')
			} else {
				buf.WriteByte('\\')
				buf.WriteRune(ch)
			}
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			escaped = true
		case '|':
			cells = append(cells, strings.TrimSpace(buf.String()))
			buf.Reset()
		default:
			buf.WriteRune(ch)
		}
	}
	if escaped {
		buf.WriteByte('\\')
	}
	cells = append(cells, strings.TrimSpace(buf.String()))
	return cells, true
}

// EscapeCell makes a value safe to embed in a table cell.
func EscapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}

// IsSeparator reports whether cells form a header separator row
// (every cell empty or dashes only).
func IsSeparator(cells []string) bool {
	for _, c := range cells {
		if c == "" {
			continue
		}
		if strings.Trim(c, "-") != "" {
			return false
		}
	}
	return true
}
