package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mschirtzinger/stockledger/internal/stocksync"
	"github.com/mschirtzinger/stockledger/internal/ui"
)

// Output formats accepted by --format.
const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func validFormat(format string) error {
	switch format {
	case formatText, formatJSON, formatYAML:
		return nil
	}
	return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
}

// writeStructured encodes v as JSON or YAML.
func writeStructured(w io.Writer, format string, v any) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	}
	return fmt.Errorf("format %q is not structured", format)
}

const timeFormat = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeFormat)
}

// renderReport writes a human-readable pass summary.
func renderReport(w io.Writer, r *stocksync.PassReport) {
	status := ui.RenderPass("✓")
	switch {
	case r.Error != "":
		status = ui.RenderFail("✗")
	case r.Failed() > 0, r.Articles.Error != "":
		status = ui.RenderWarn("⚠")
	}

	fmt.Fprintf(w, "%s Pass %s finished in %v\n", status, ui.RenderMuted(r.ID), r.Duration.Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(w, "   Error: %s\n", r.Error)
	}

	a := r.Articles
	if a.Seeded {
		fmt.Fprintf(w, "   Articles: watermark seeded at %s\n", formatTime(a.Watermark))
	} else {
		fmt.Fprintf(w, "   Articles: %d fetched, %d merged, watermark %s\n", a.Fetched, a.Merged, formatTime(a.Watermark))
	}
	if a.Error != "" {
		fmt.Fprintf(w, "   Articles error: %s\n", a.Error)
	}
	if len(a.Invalidated) > 0 {
		fmt.Fprintf(w, "   Invalidated: %s\n", strings.Join(a.Invalidated, ", "))
	}

	if len(r.Jobs) == 0 {
		fmt.Fprintf(w, "   Stock: nothing to project\n")
		return
	}

	rows := make([][]string, 0, len(r.Jobs))
	for _, j := range r.Jobs {
		result := ui.RenderPass("ok")
		if j.Error != "" {
			result = ui.RenderFail(j.Error)
		}
		rows = append(rows, []string{
			j.WarehouseID,
			j.Date,
			fmt.Sprintf("%d", j.Articles),
			fmt.Sprintf("%d", j.Merged),
			fmt.Sprintf("%d", j.Nullified),
			result,
		})
	}
	fmt.Fprintln(w, ui.RenderTable(
		[]string{"Warehouse", "Date", "Articles", "Merged", "Nullified", "Result"},
		rows,
	))
}
