package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type columnAlignment int

const (
	alignLeft columnAlignment = iota
	alignRight
)

func renderTable(headers []string, rows [][]string, aligns []columnAlignment) string {
	columns := len(headers)
	if columns == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)

	header := make(table.Row, columns)
	for i := range columns {
		header[i] = headers[i]
	}
	tw.AppendHeader(header)

	for _, row := range rows {
		r := make(table.Row, columns)
		for i := range columns {
			if i < len(row) {
				r[i] = row[i]
			} else {
				r[i] = ""
			}
		}
		tw.AppendRow(r)
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := range columns {
		align := text.AlignLeft
		if i < len(aligns) && aligns[i] == alignRight {
			align = text.AlignRight
		}
		configs = append(configs, table.ColumnConfig{
			Number:      i + 1,
			Align:       align,
			AlignHeader: text.AlignLeft,
		})
	}
	tw.SetColumnConfigs(configs)

	return tw.Render()
}

// renderSummary lays out the probed tracks one per row.
func renderSummary(s assetSummary) string {
	headers := []string{"Track", "Kind", "Duration", "Size", "Display", "Rotation", "FPS", "Status"}
	aligns := []columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft}

	rows := make([][]string, 0, len(s.Video)+len(s.Audio))
	for _, v := range s.Video {
		row := []string{strconv.Itoa(v.ID), "video", formatMs(v.DurationMs), "", "", "", "", trackStatus(v)}
		if v.Unreadable == "" {
			row[3] = fmt.Sprintf("%dx%d", v.Width, v.Height)
			row[4] = fmt.Sprintf("%dx%d %s", v.DisplayW, v.DisplayH, v.Aspect)
			row[5] = fmt.Sprintf("%d°", v.Rotation)
			row[6] = strconv.FormatFloat(v.FrameRate, 'f', 2, 64)
		}
		rows = append(rows, row)
	}
	for _, a := range s.Audio {
		rows = append(rows, []string{strconv.Itoa(a.ID), "audio", formatMs(a.DurationMs), "", "", "", "", trackStatus(a)})
	}

	out := s.Path + "\n" + renderTable(headers, rows, aligns)
	if len(s.Metadata) > 0 {
		meta := make([][]string, 0, len(s.Metadata))
		for _, item := range s.Metadata {
			meta = append(meta, []string{item.Key, item.Value})
		}
		out += "\n" + renderTable([]string{"Key", "Value"}, meta, nil)
	}
	return out
}

func trackStatus(t trackSummary) string {
	switch {
	case t.Unreadable != "":
		return "unreadable: " + t.Unreadable
	case !t.Enabled:
		return "disabled"
	default:
		return "ok"
	}
}

func formatMs(ms int64) string {
	if ms == 0 {
		return ""
	}
	return (time.Duration(ms) * time.Millisecond).String()
}
