package report

import (
	"math"
	"testing"

	"github.com/alaub81/shelly/internal/op"
	"github.com/alaub81/shelly/internal/rpc"
)

func snapshotResult(address string, uptime float64, rssi float64) op.Result {
	return op.Result{
		Address:   address,
		Reachable: true,
		Facets: map[op.Facet]rpc.Outcome{
			op.FacetSysConfig: rpc.Success(map[string]any{
				"device": map[string]any{"eco_mode": true},
				"debug":  map[string]any{"udp": map[string]any{"addr": "10.0.0.5:514"}},
			}),
			op.FacetSysStatus:  rpc.Success(map[string]any{"uptime": uptime}),
			op.FacetWiFiStatus: rpc.Success(map[string]any{"rssi": rssi}),
			op.FacetBLEConfig:  rpc.Success(map[string]any{"enable": false}),
			op.FacetMQTTConfig: rpc.Success(map[string]any{"enable": true}),
			op.FacetScriptList: rpc.Success(map[string]any{
				"scripts": []any{
					map[string]any{"id": float64(1), "name": "heating"},
					map[string]any{"id": float64(2), "name": "cover"},
				},
			}),
		},
	}
}

func unreachableResult(address string) op.Result {
	failed := rpc.TransportError("dial tcp: connection refused")
	return op.Result{
		Address:   address,
		Reachable: false,
		Facets: map[op.Facet]rpc.Outcome{
			op.FacetSysConfig:  failed,
			op.FacetSysStatus:  failed,
			op.FacetWiFiStatus: failed,
			op.FacetBLEConfig:  failed,
			op.FacetMQTTConfig: failed,
			op.FacetScriptList: failed,
		},
	}
}

func TestBuild_DerivedFields(t *testing.T) {
	rep := Build([]op.Result{snapshotResult("shelly-1", 86400, -58)}, SortByAddress)

	if len(rep.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rep.Rows))
	}
	row := rep.Rows[0]
	if row.UptimeSeconds != 86400 {
		t.Errorf("uptime: expected 86400, got %d", row.UptimeSeconds)
	}
	if row.RSSI != -58 {
		t.Errorf("rssi: expected -58, got %f", row.RSSI)
	}
	if row.EcoMode != FlagOn {
		t.Errorf("eco mode: expected yes, got %s", row.EcoMode)
	}
	if row.Bluetooth != FlagOff {
		t.Errorf("bluetooth: expected no, got %s", row.Bluetooth)
	}
	if row.MQTT != FlagOn {
		t.Errorf("mqtt: expected yes, got %s", row.MQTT)
	}
	if row.DebugUDP != "10.0.0.5:514" {
		t.Errorf("debug udp: expected 10.0.0.5:514, got %q", row.DebugUDP)
	}
	if len(row.Scripts) != 2 || row.Scripts[0] != "heating" {
		t.Errorf("scripts: unexpected %v", row.Scripts)
	}
}

func TestBuild_SentinelsForUnreachableDevice(t *testing.T) {
	rep := Build([]op.Result{unreachableResult("shelly-dead")}, SortByAddress)

	row := rep.Rows[0]
	if row.UptimeSeconds != 0 {
		t.Errorf("uptime sentinel must be 0, got %d", row.UptimeSeconds)
	}
	if !math.IsInf(row.RSSI, -1) {
		t.Errorf("rssi sentinel must be -Inf, got %f", row.RSSI)
	}
	for name, flag := range map[string]Flag{"eco": row.EcoMode, "ble": row.Bluetooth, "mqtt": row.MQTT} {
		if flag != FlagUnknown {
			t.Errorf("%s flag sentinel must be unknown, got %s", name, flag)
		}
	}
	if rep.Succeeded != 0 || rep.Failed != 1 {
		t.Errorf("summary: expected 0/1, got %d/%d", rep.Succeeded, rep.Failed)
	}
}

func TestBuild_PartialFacetFallback(t *testing.T) {
	result := snapshotResult("shelly-1", 3600, -60)
	result.Facets[op.FacetWiFiStatus] = rpc.HTTPError(500, "Internal Server Error")

	rep := Build([]op.Result{result}, SortByAddress)

	row := rep.Rows[0]
	if row.UptimeSeconds != 3600 {
		t.Error("uptime must still derive from the succeeding system facet")
	}
	if row.EcoMode != FlagOn {
		t.Error("eco mode must still derive from the succeeding system facet")
	}
	if !math.IsInf(row.RSSI, -1) {
		t.Errorf("failed wifi facet must yield the rssi sentinel, got %f", row.RSSI)
	}
}

func TestBuild_SortByUptimeDescending(t *testing.T) {
	results := []op.Result{
		snapshotResult("b", 100, -50),
		snapshotResult("a", 500, -80),
		snapshotResult("c", 300, -60),
	}

	rep := Build(results, SortByUptime)

	for i := 0; i < len(rep.Rows)-1; i++ {
		if rep.Rows[i].UptimeSeconds < rep.Rows[i+1].UptimeSeconds {
			t.Fatalf("rows not sorted by uptime descending: %d before %d",
				rep.Rows[i].UptimeSeconds, rep.Rows[i+1].UptimeSeconds)
		}
	}
	if rep.Rows[0].Result.Address != "a" {
		t.Errorf("expected device a first, got %s", rep.Rows[0].Result.Address)
	}
}

func TestBuild_SortBySignal_UnknownLast(t *testing.T) {
	results := []op.Result{
		unreachableResult("dead"),
		snapshotResult("weak", 10, -85),
		snapshotResult("strong", 10, -40),
	}

	rep := Build(results, SortBySignal)

	want := []string{"strong", "weak", "dead"}
	for i, addr := range want {
		if rep.Rows[i].Result.Address != addr {
			t.Errorf("position %d: expected %s, got %s", i, addr, rep.Rows[i].Result.Address)
		}
	}
}

func TestBuild_SortByAddressLexicographic(t *testing.T) {
	results := []op.Result{
		snapshotResult("192.168.60.20", 1, -1),
		snapshotResult("192.168.60.11", 1, -1),
		snapshotResult("192.168.60.102", 1, -1),
	}

	rep := Build(results, SortByAddress)

	for i := 0; i < len(rep.Rows)-1; i++ {
		if rep.Rows[i].Result.Address > rep.Rows[i+1].Result.Address {
			t.Fatalf("rows not in lexicographic order: %s before %s",
				rep.Rows[i].Result.Address, rep.Rows[i+1].Result.Address)
		}
	}
}

func TestBuild_StableTieBreaking(t *testing.T) {
	results := []op.Result{
		snapshotResult("first", 100, -50),
		snapshotResult("second", 100, -50),
		snapshotResult("third", 100, -50),
	}

	rep := Build(results, SortByUptime)

	want := []string{"first", "second", "third"}
	for i, addr := range want {
		if rep.Rows[i].Result.Address != addr {
			t.Errorf("ties must keep input order: position %d is %s", i, rep.Rows[i].Result.Address)
		}
	}
}

func TestExitCode(t *testing.T) {
	allOK := Build([]op.Result{snapshotResult("a", 1, -1), snapshotResult("b", 1, -1)}, SortByAddress)
	if allOK.ExitCode() != 0 {
		t.Errorf("all reachable: expected exit 0, got %d", allOK.ExitCode())
	}
	if allOK.Succeeded != 2 || allOK.Failed != 0 {
		t.Errorf("summary: expected 2/0, got %d/%d", allOK.Succeeded, allOK.Failed)
	}

	partial := Build([]op.Result{snapshotResult("a", 1, -1), unreachableResult("b")}, SortByAddress)
	if partial.ExitCode() != 2 {
		t.Errorf("partial failure: expected exit 2, got %d", partial.ExitCode())
	}
	if partial.Succeeded != 1 || partial.Failed != 1 {
		t.Errorf("summary: expected 1/1, got %d/%d", partial.Succeeded, partial.Failed)
	}
}

func TestValidSortKey(t *testing.T) {
	for _, ok := range []string{"ip", "uptime", "wifi"} {
		if !ValidSortKey(ok) {
			t.Errorf("%s must be a valid sort key", ok)
		}
	}
	if ValidSortKey("signal") {
		t.Error("unknown sort key must be rejected")
	}
}
