// Package report aggregates device results into a fleet report.
package report

import (
	"math"
	"sort"

	"github.com/alaub81/shelly/internal/op"
)

// SortKey selects the report ordering
type SortKey string

const (
	SortByAddress SortKey = "ip"
	SortByUptime  SortKey = "uptime"
	SortBySignal  SortKey = "wifi"
)

// ValidSortKey reports whether s names a supported sort key
func ValidSortKey(s string) bool {
	switch SortKey(s) {
	case SortByAddress, SortByUptime, SortBySignal:
		return true
	}
	return false
}

// Flag is a tri-state rendering of a device boolean whose source facet
// may have failed
type Flag string

const (
	FlagOn      Flag = "yes"
	FlagOff     Flag = "no"
	FlagUnknown Flag = "unknown"
)

// Sentinels used when a derived field's source facet failed or the key
// was absent. RSSIUnknown sorts below every real signal reading.
var RSSIUnknown = math.Inf(-1)

// Row is one device's line in the fleet report: the raw result plus
// the scalars derived from its facets for display and sorting.
type Row struct {
	Result op.Result

	UptimeSeconds int64   // 0 when unknown
	RSSI          float64 // RSSIUnknown when unknown
	EcoMode       Flag
	Bluetooth     Flag
	MQTT          Flag
	DebugUDP      string   // "" when unset or unknown
	Scripts       []string // nil when unknown
}

// Report is the ordered fleet-wide aggregation of one run
type Report struct {
	Rows      []Row
	Succeeded int
	Failed    int
	SortKey   SortKey
}

// Build derives display fields for every result, orders the rows by the
// sort key, and computes the summary counts. A failed facet yields the
// documented sentinel, never an error: the outcome's diagnostic detail
// stays available on Row.Result.
func Build(results []op.Result, key SortKey) Report {
	rows := make([]Row, len(results))
	succeeded := 0

	for i, result := range results {
		rows[i] = deriveRow(result)
		if result.Reachable {
			succeeded++
		}
	}

	sortRows(rows, key)

	return Report{
		Rows:      rows,
		Succeeded: succeeded,
		Failed:    len(results) - succeeded,
		SortKey:   key,
	}
}

// ExitCode derives the process exit status: 0 when every device
// succeeded, 2 when any failed. The empty-address-list precondition is
// exit 1 and is raised before a report is ever built.
func (r Report) ExitCode() int {
	if r.Failed > 0 {
		return 2
	}
	return 0
}

func deriveRow(result op.Result) Row {
	row := Row{
		Result:    result,
		RSSI:      RSSIUnknown,
		EcoMode:   FlagUnknown,
		Bluetooth: FlagUnknown,
		MQTT:      FlagUnknown,
	}

	if outcome := result.Facets[op.FacetSysStatus]; outcome.OK() {
		if uptime, ok := numberField(outcome.Payload, "uptime"); ok {
			row.UptimeSeconds = int64(uptime)
		}
	}

	if outcome := result.Facets[op.FacetWiFiStatus]; outcome.OK() {
		if rssi, ok := numberField(outcome.Payload, "rssi"); ok {
			row.RSSI = rssi
		}
	}

	if outcome := result.Facets[op.FacetSysConfig]; outcome.OK() {
		if eco, ok := nestedBool(outcome.Payload, "device", "eco_mode"); ok {
			row.EcoMode = flagFor(eco)
		}
		if addr, ok := nestedString(outcome.Payload, "debug", "udp", "addr"); ok {
			row.DebugUDP = addr
		}
	}

	if outcome := result.Facets[op.FacetBLEConfig]; outcome.OK() {
		if enabled, ok := outcome.Payload["enable"].(bool); ok {
			row.Bluetooth = flagFor(enabled)
		}
	}

	if outcome := result.Facets[op.FacetMQTTConfig]; outcome.OK() {
		if enabled, ok := outcome.Payload["enable"].(bool); ok {
			row.MQTT = flagFor(enabled)
		}
	}

	if outcome := result.Facets[op.FacetScriptList]; outcome.OK() {
		row.Scripts = scriptNames(outcome.Payload)
	}

	return row
}

func flagFor(b bool) Flag {
	if b {
		return FlagOn
	}
	return FlagOff
}

// numberField reads a numeric key, tolerating whatever JSON number
// representation the decoder produced
func numberField(payload map[string]any, key string) (float64, bool) {
	switch v := payload[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

func nestedMap(payload map[string]any, keys ...string) (map[string]any, bool) {
	current := payload
	for _, key := range keys {
		next, ok := current[key].(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return current, true
}

func nestedBool(payload map[string]any, keys ...string) (bool, bool) {
	parent, ok := nestedMap(payload, keys[:len(keys)-1]...)
	if !ok {
		return false, false
	}
	v, ok := parent[keys[len(keys)-1]].(bool)
	return v, ok
}

func nestedString(payload map[string]any, keys ...string) (string, bool) {
	parent, ok := nestedMap(payload, keys[:len(keys)-1]...)
	if !ok {
		return "", false
	}
	v, ok := parent[keys[len(keys)-1]].(string)
	return v, ok && v != ""
}

func scriptNames(payload map[string]any) []string {
	scripts, ok := payload["scripts"].([]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(scripts))
	for _, entry := range scripts {
		if m, ok := entry.(map[string]any); ok {
			if name, ok := m["name"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}

// sortRows orders the report. Numeric keys sort descending with ties
// kept in input order; address sorts ascending on the raw string.
func sortRows(rows []Row, key SortKey) {
	switch key {
	case SortByUptime:
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].UptimeSeconds > rows[j].UptimeSeconds
		})
	case SortBySignal:
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].RSSI > rows[j].RSSI
		})
	default:
		sort.SliceStable(rows, func(i, j int) bool {
			return rows[i].Result.Address < rows[j].Result.Address
		})
	}
}
