package utils

import (
	"io"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
)

// PrintTable 在终端输出表格，records首行为表头
func PrintTable(w io.Writer, title string, records [][]string) {
	if title != "" {
		color.New(color.FgYellow).Fprintln(w, "\n"+title)
	}
	if len(records) == 0 {
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(records[0])
	table.SetAutoWrapText(false)
	for _, record := range records[1:] {
		table.Append(record)
	}
	table.Render()
}

// PrintStatus 成功为绿色，失败为红色
func PrintStatus(w io.Writer, ok bool, msg string) {
	if ok {
		color.New(color.FgGreen).Fprintln(w, msg)
		return
	}
	color.New(color.FgRed).Fprintln(w, msg)
}
