// Package output renders fleet reports for the terminal and automation.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/alaub81/shelly/internal/op"
	"github.com/alaub81/shelly/internal/report"
)

// Mode defines the available output formatting modes
type Mode string

const (
	// TableMode renders an aligned table, one row per device
	TableMode Mode = "table"

	// JSONMode emits NDJSON objects with structured result data
	JSONMode Mode = "json"

	// PlainMode prints one [OK]/[FAIL] line per device
	PlainMode Mode = "plain"
)

// ValidMode reports whether s names a supported output mode
func ValidMode(s string) bool {
	switch Mode(s) {
	case TableMode, JSONMode, PlainMode:
		return true
	}
	return false
}

// Formatter renders fleet reports in the configured mode
type Formatter struct {
	mode   Mode
	writer io.Writer
	titler cases.Caser
}

// NewFormatter creates a formatter with the specified mode and writer
func NewFormatter(mode Mode, writer io.Writer) *Formatter {
	if writer == nil {
		writer = os.Stdout
	}
	return &Formatter{
		mode:   mode,
		writer: writer,
		titler: cases.Title(language.English),
	}
}

// statusColumns lists the status table columns in render order
var statusColumns = []string{"IP", "Reachable", "Uptime", "Eco Mode", "WiFi (dBm)", "Bluetooth", "MQTT", "Debug UDP", "Scripts"}

// FormatStatus renders a status-snapshot report
func (f *Formatter) FormatStatus(rep report.Report) error {
	switch f.mode {
	case JSONMode:
		return f.statusJSON(rep)
	case PlainMode:
		return f.statusPlain(rep)
	default:
		return f.statusTable(rep)
	}
}

func (f *Formatter) statusTable(rep report.Report) error {
	w := tabwriter.NewWriter(f.writer, 0, 4, 2, ' ', 0)

	fmt.Fprintln(w, strings.Join(statusColumns, "\t"))

	for _, row := range rep.Rows {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			row.Result.Address,
			f.titler.String(reachableMark(row.Result.Reachable)),
			uptimeCell(row),
			f.titler.String(string(row.EcoMode)),
			rssiCell(row.RSSI),
			f.titler.String(string(row.Bluetooth)),
			f.titler.String(string(row.MQTT)),
			dashIfEmpty(row.DebugUDP),
			dashIfEmpty(strings.Join(row.Scripts, ", ")),
		)
	}

	if err := w.Flush(); err != nil {
		return fmt.Errorf("failed to flush table: %w", err)
	}

	_, err := fmt.Fprintf(f.writer, "\n%d devices, %d reachable, %d unreachable\n",
		len(rep.Rows), rep.Succeeded, rep.Failed)
	return err
}

func (f *Formatter) statusPlain(rep report.Report) error {
	for _, row := range rep.Rows {
		if row.Result.Reachable {
			fmt.Fprintf(f.writer, "[OK]   %s: uptime %s, wifi %s\n",
				row.Result.Address, uptimeCell(row), rssiCell(row.RSSI))
		} else {
			fmt.Fprintf(f.writer, "[FAIL] %s: %s\n", row.Result.Address, failureText(row.Result))
		}
	}
	return f.writeSummary(rep)
}

// statusRow is the JSON shape of one device in the status report
type statusRow struct {
	Address       string   `json:"address"`
	Reachable     bool     `json:"reachable"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	RSSI          *float64 `json:"rssi"`
	EcoMode       string   `json:"eco_mode"`
	Bluetooth     string   `json:"bluetooth"`
	MQTT          string   `json:"mqtt"`
	DebugUDP      string   `json:"debug_udp,omitempty"`
	Scripts       []string `json:"scripts,omitempty"`
	Errors        []string `json:"errors,omitempty"`
}

func (f *Formatter) statusJSON(rep report.Report) error {
	for _, row := range rep.Rows {
		out := statusRow{
			Address:       row.Result.Address,
			Reachable:     row.Result.Reachable,
			UptimeSeconds: row.UptimeSeconds,
			EcoMode:       string(row.EcoMode),
			Bluetooth:     string(row.Bluetooth),
			MQTT:          string(row.MQTT),
			DebugUDP:      row.DebugUDP,
			Scripts:       row.Scripts,
			Errors:        failureLines(row.Result),
		}
		if !math.IsInf(row.RSSI, -1) {
			rssi := row.RSSI
			out.RSSI = &rssi
		}
		if err := f.writeJSON(out); err != nil {
			return err
		}
	}
	return f.writeJSONSummary(rep)
}

// FormatOperation renders a push-config or reboot report
func (f *Formatter) FormatOperation(rep report.Report) error {
	switch f.mode {
	case JSONMode:
		return f.operationJSON(rep)
	default:
		return f.operationPlain(rep)
	}
}

func (f *Formatter) operationPlain(rep report.Report) error {
	for _, row := range rep.Rows {
		if row.Result.Reachable {
			fmt.Fprintf(f.writer, "[OK]   %s\n", row.Result.Address)
		} else {
			fmt.Fprintf(f.writer, "[FAIL] %s: %s\n", row.Result.Address, failureText(row.Result))
		}
	}
	return f.writeSummary(rep)
}

// operationRow is the JSON shape of one device in an operation report
type operationRow struct {
	Address string   `json:"address"`
	Success bool     `json:"success"`
	Errors  []string `json:"errors,omitempty"`
}

func (f *Formatter) operationJSON(rep report.Report) error {
	for _, row := range rep.Rows {
		out := operationRow{
			Address: row.Result.Address,
			Success: row.Result.Reachable,
			Errors:  failureLines(row.Result),
		}
		if err := f.writeJSON(out); err != nil {
			return err
		}
	}
	return f.writeJSONSummary(rep)
}

type summaryLine struct {
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Total     int `json:"total"`
}

func (f *Formatter) writeJSONSummary(rep report.Report) error {
	return f.writeJSON(summaryLine{
		Succeeded: rep.Succeeded,
		Failed:    rep.Failed,
		Total:     len(rep.Rows),
	})
}

func (f *Formatter) writeJSON(v any) error {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintf(f.writer, "%s\n", encoded)
	return err
}

func (f *Formatter) writeSummary(rep report.Report) error {
	_, err := fmt.Fprintf(f.writer, "\nSummary:\n  Successful: %d\n  Failed:     %d\n", rep.Succeeded, rep.Failed)
	return err
}

// failureText joins every failed facet into one diagnostic line
func failureText(result op.Result) string {
	lines := failureLines(result)
	if len(lines) == 0 {
		return "unknown failure"
	}
	return strings.Join(lines, "; ")
}

func failureLines(result op.Result) []string {
	failures := result.Failures()
	if len(failures) == 0 {
		return nil
	}
	// Deterministic facet order for stable output
	order := []op.Facet{
		op.FacetConfigSet, op.FacetReboot,
		op.FacetSysConfig, op.FacetSysStatus, op.FacetWiFiStatus,
		op.FacetBLEConfig, op.FacetScriptList, op.FacetMQTTConfig,
	}
	var lines []string
	for _, facet := range order {
		if outcome, ok := failures[facet]; ok {
			lines = append(lines, fmt.Sprintf("%s: %s", facet, outcome))
		}
	}
	return lines
}

func reachableMark(reachable bool) string {
	if reachable {
		return "yes"
	}
	return "no"
}

func rssiCell(rssi float64) string {
	if math.IsInf(rssi, -1) {
		return "?"
	}
	return fmt.Sprintf("%.0f", rssi)
}

func uptimeCell(row report.Row) string {
	if !row.Result.Reachable && row.UptimeSeconds == 0 {
		return "-"
	}
	return FormatUptime(row.UptimeSeconds)
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// FormatUptime renders seconds as "{d}d {h}h {m}m"
func FormatUptime(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	days := seconds / 86400
	hours := (seconds % 86400) / 3600
	minutes := (seconds % 3600) / 60
	return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
}
