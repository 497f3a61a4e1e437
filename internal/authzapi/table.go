package authzapi

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/fatih/color"
)

// The width-aware table formatter below is adapted from the teacher's
// core/table.go (itself credited there to bettercap/bettercap), reused
// here to render the status dashboard's terminal-friendly plain-text
// view alongside its HTML view.

var ansiRE = regexp.MustCompile("\033\\[(?:[0-9]{1,3}(?:;[0-9]{1,3})*)?[m|K]")

func viewLen(s string) int {
	return utf8.RuneCountInString(ansiRE.ReplaceAllString(s, ""))
}

func truncString(s string, maxLen int) string {
	sm := ansiRE.ReplaceAllString(s, "")
	if utf8.RuneCountInString(sm) > maxLen {
		if maxLen > 3 {
			return sm[:maxLen-3] + "..."
		}
		return sm[:maxLen]
	}
	return s
}

func maxOf(strs []string) int {
	m := 0
	for _, s := range strs {
		if l := viewLen(s); l > m {
			m = l
		}
	}
	return m
}

const minColLen = 16

type alignment int

const (
	alignCenter alignment = iota
	alignLeft
)

func pads(s string, maxLen int, align alignment) (left, right int) {
	diff := maxLen - viewLen(s)
	if align == alignCenter {
		left = diff / 2
		right = diff - left + 1
		return
	}
	return 0, diff + 1
}

func padded(s string, maxLen int, align alignment) string {
	l, r := pads(s, maxLen, align)
	return strings.Repeat(" ", l) + s + strings.Repeat(" ", r)
}

// AsTable renders columns/rows as a bordered plain-text table, colored
// via fatih/color the way the teacher colors its CLI output.
func AsTable(columns []string, rows [][]string) string {
	colLens := make([]int, len(columns))
	headers := make([]string, len(columns))
	for i, col := range columns {
		l := viewLen(col) + 4
		if l < minColLen {
			l = minColLen
		}
		colLens[i] = l
		headers[i] = fmt.Sprintf(" %s ", col)
	}

	cells := make([][]string, len(rows))
	for i, row := range rows {
		cells[i] = make([]string, len(row))
		for j, c := range row {
			cells[i][j] = fmt.Sprintf(" %s ", truncString(c, colLens[j]))
		}
	}

	colPad := make([]int, len(columns))
	sep := ""
	for i, h := range headers {
		col := []string{h}
		for _, row := range cells {
			col = append(col, row[i])
		}
		colPad[i] = maxOf(col)
		sep += "+" + strings.Repeat("-", colPad[i]+1)
	}
	sep += "+"

	dim := color.New(color.FgHiBlack)
	var b strings.Builder
	b.WriteString(dim.Sprintf("%s\n", sep))
	for i, h := range headers {
		b.WriteString(dim.Sprint("|"))
		b.WriteString(padded(h, colPad[i], alignCenter))
	}
	b.WriteString(dim.Sprintf("|\n%s\n", sep))
	for _, row := range cells {
		for i, c := range row {
			b.WriteString(dim.Sprint("|"))
			b.WriteString(padded(c, colPad[i], alignLeft))
		}
		b.WriteString(dim.Sprintf("|\n"))
	}
	b.WriteString(dim.Sprint(sep) + "\n")
	return b.String()
}

// AsHTMLTable renders header/rows as an HTML <table>, used by the
// status dashboard's browser-facing view.
func AsHTMLTable(header []string, rows [][]string) string {
	var b strings.Builder
	b.WriteString("<table>\n<tr>")
	for _, h := range header {
		b.WriteString("<th>" + h + "</th>")
	}
	b.WriteString("</tr>\n")
	for _, row := range rows {
		b.WriteString("<tr>")
		for _, c := range row {
			b.WriteString("<td>" + c + "</td>")
		}
		b.WriteString("</tr>\n")
	}
	b.WriteString("</table>\n")
	return b.String()
}
