package main

import (
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/vogtb/go-cellgraph/packages/cell"
)

const maxCellWidth = 40

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

var tableHeader = []string{"DOCUMENT", "CELL", "STATUS", "LEVEL", "VALUE", "ERRORS"}

// renderTable renders the cells as aligned columns, statuses coloured by
// severity
func renderTable(rows []row) string {
	cells := make([][]string, 0, len(rows)+1)
	cells = append(cells, tableHeader)
	for _, r := range rows {
		cells = append(cells, []string{
			r.document,
			r.label,
			r.cell.Status.String(),
			levelText(r.cell.Level),
			truncate(cell.FormatValue(r.cell.Value)),
			truncate(errorsText(r.cell.Errors)),
		})
	}

	widths := make([]int, len(tableHeader))
	for _, line := range cells {
		for i, text := range line {
			widths[i] = max(widths[i], lipgloss.Width(text))
		}
	}

	var sb strings.Builder
	for n, line := range cells {
		for i, text := range line {
			style := lipgloss.NewStyle()
			switch {
			case n == 0:
				style = headerStyle
			case i == 2:
				style = statusStyle(rows[n-1].cell.Status)
			case i == 5:
				style = errorStyle.Bold(false)
			}
			if i < len(line)-1 {
				style = style.Width(widths[i] + 2)
			}
			sb.WriteString(style.Render(text))
		}
		sb.WriteString("\n")
		if n == 0 {
			total := 0
			for _, w := range widths {
				total += w + 2
			}
			sb.WriteString(dimStyle.Render(strings.Repeat("─", total-2)))
			sb.WriteString("\n")
		}
	}
	return sb.String()
}

func statusStyle(status cell.Status) lipgloss.Style {
	switch status {
	case cell.StatusOK:
		return okStyle
	case cell.StatusBroken, cell.StatusFailed:
		return errorStyle
	case cell.StatusBlocked, cell.StatusWaiting, cell.StatusReady, cell.StatusRunning:
		return warnStyle
	default:
		return dimStyle
	}
}

func levelText(level int) string {
	if level == cell.LevelInfinite {
		return "∞"
	}
	return strconv.Itoa(level)
}

func errorsText(errs []*cell.CellError) string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

func truncate(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	runes := []rune(text)
	if len(runes) <= maxCellWidth {
		return text
	}
	return string(runes[:maxCellWidth-1]) + "…"
}
