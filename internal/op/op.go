// Package op implements the per-device fleet operations.
package op

import (
	"context"
	"sync"

	"github.com/alaub81/shelly/internal/device"
	"github.com/alaub81/shelly/internal/rpc"
)

// Facet names one independently queried status dimension of a device
type Facet string

const (
	FacetSysConfig  Facet = "sys-config"
	FacetSysStatus  Facet = "sys-status"
	FacetWiFiStatus Facet = "wifi-status"
	FacetBLEConfig  Facet = "bluetooth-config"
	FacetScriptList Facet = "script-list"
	FacetMQTTConfig Facet = "mqtt-config"
	FacetConfigSet  Facet = "config-set"
	FacetReboot     Facet = "reboot"
)

// RPC method names of the Shelly Gen2+ interface
const (
	MethodSysGetConfig  = "Sys.GetConfig"
	MethodSysGetStatus  = "Sys.GetStatus"
	MethodWiFiGetStatus = "WiFi.GetStatus"
	MethodBLEGetConfig  = "BLE.GetConfig"
	MethodScriptList    = "Script.List"
	MethodMQTTGetConfig = "MQTT.GetConfig"
	MethodSysSetConfig  = "Sys.SetConfig"
	MethodMQTTSetConfig = "MQTT.SetConfig"
	MethodReboot        = "Shelly.Reboot"
)

// Result is the outcome of one fleet operation against one device.
// It is constructed exactly once, by the operation that produced it,
// and never mutated afterwards: partial failure lives in the error
// variants of Facets, never in missing entries.
type Result struct {
	Address   string
	Reachable bool
	Facets    map[Facet]rpc.Outcome
}

// Failures returns the outcomes of every failed facet, keyed by facet
func (r Result) Failures() map[Facet]rpc.Outcome {
	failed := make(map[Facet]rpc.Outcome)
	for facet, outcome := range r.Facets {
		if !outcome.OK() {
			failed[facet] = outcome
		}
	}
	return failed
}

// Operation applies one fleet operation to one device
type Operation interface {
	// Name identifies the operation for logging and reports
	Name() string

	// Apply runs the operation's RPC calls against dev. It always
	// returns a complete Result; every failure mode is recorded in the
	// facet outcomes.
	Apply(ctx context.Context, client rpc.Client, dev device.Device) Result

	// DeadlineResult synthesizes the result for a device abandoned
	// before any call was issued. Every facet Apply would have queried
	// carries outcome, so abandoned devices report the same facet set
	// as contacted ones.
	DeadlineResult(dev device.Device, outcome rpc.Outcome) Result
}

// PushConfig applies a configuration document to a device through a
// SetConfig-style RPC method, optionally chaining a reboot on success.
// Reboot-after-apply is caller-controlled and defaults to off.
type PushConfig struct {
	Method      string
	Document    func(dev device.Device) any
	RebootAfter bool
}

// Name identifies the operation
func (p PushConfig) Name() string { return "push-config" }

// Apply pushes the config document and, when requested and successful,
// triggers a device restart.
func (p PushConfig) Apply(ctx context.Context, client rpc.Client, dev device.Device) Result {
	result := Result{
		Address: dev.Address,
		Facets:  make(map[Facet]rpc.Outcome),
	}

	outcome := client.Call(ctx, dev, p.Method, p.Document(dev))
	result.Facets[FacetConfigSet] = outcome
	result.Reachable = outcome.OK()

	if p.RebootAfter && outcome.OK() {
		rebootOutcome := client.Call(ctx, dev, MethodReboot, nil)
		result.Facets[FacetReboot] = rebootOutcome
		result.Reachable = rebootOutcome.OK()
	}

	return result
}

// DeadlineResult marks the config push as never attempted. No reboot
// facet appears: the chained reboot only exists after a successful push.
func (p PushConfig) DeadlineResult(dev device.Device, outcome rpc.Outcome) Result {
	return Result{
		Address: dev.Address,
		Facets:  map[Facet]rpc.Outcome{FacetConfigSet: outcome},
	}
}

// Reboot restarts a device
type Reboot struct{}

// Name identifies the operation
func (Reboot) Name() string { return "reboot" }

// Apply triggers the device restart
func (Reboot) Apply(ctx context.Context, client rpc.Client, dev device.Device) Result {
	outcome := client.Call(ctx, dev, MethodReboot, nil)
	return Result{
		Address:   dev.Address,
		Reachable: outcome.OK(),
		Facets:    map[Facet]rpc.Outcome{FacetReboot: outcome},
	}
}

// DeadlineResult marks the reboot as never attempted
func (Reboot) DeadlineResult(dev device.Device, outcome rpc.Outcome) Result {
	return Result{
		Address: dev.Address,
		Facets:  map[Facet]rpc.Outcome{FacetReboot: outcome},
	}
}

// StatusSnapshot queries the six status facets of a device. The calls
// are independent and run concurrently; each outcome is attributed to
// its facet at the call site, never inferred from completion order.
type StatusSnapshot struct{}

// Name identifies the operation
func (StatusSnapshot) Name() string { return "status-snapshot" }

var statusFacets = []struct {
	facet  Facet
	method string
}{
	{FacetSysConfig, MethodSysGetConfig},
	{FacetSysStatus, MethodSysGetStatus},
	{FacetWiFiStatus, MethodWiFiGetStatus},
	{FacetBLEConfig, MethodBLEGetConfig},
	{FacetScriptList, MethodScriptList},
	{FacetMQTTConfig, MethodMQTTGetConfig},
}

// Apply collects all facets. A device counts as reachable iff the two
// system facets succeeded; the remaining facets are best effort and
// their failures never suppress the rest of the snapshot.
func (StatusSnapshot) Apply(ctx context.Context, client rpc.Client, dev device.Device) Result {
	outcomes := make([]rpc.Outcome, len(statusFacets))

	var wg sync.WaitGroup
	for i, f := range statusFacets {
		wg.Add(1)
		go func(slot int, method string) {
			defer wg.Done()
			outcomes[slot] = client.Call(ctx, dev, method, nil)
		}(i, f.method)
	}
	wg.Wait()

	result := Result{
		Address: dev.Address,
		Facets:  make(map[Facet]rpc.Outcome, len(statusFacets)),
	}
	for i, f := range statusFacets {
		result.Facets[f.facet] = outcomes[i]
	}

	result.Reachable = result.Facets[FacetSysConfig].OK() && result.Facets[FacetSysStatus].OK()
	return result
}

// DeadlineResult records the same outcome under all six facets, keeping
// the snapshot's facet set complete for abandoned devices.
func (StatusSnapshot) DeadlineResult(dev device.Device, outcome rpc.Outcome) Result {
	facets := make(map[Facet]rpc.Outcome, len(statusFacets))
	for _, f := range statusFacets {
		facets[f.facet] = outcome
	}
	return Result{
		Address: dev.Address,
		Facets:  facets,
	}
}
