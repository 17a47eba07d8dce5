package executor

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alaub81/shelly/internal/device"
	"github.com/alaub81/shelly/internal/op"
	"github.com/alaub81/shelly/internal/rpc"
)

// stubClient answers calls from a script keyed by device address
type stubClient struct {
	mu       sync.Mutex
	delay    map[string]time.Duration
	outcomes map[string]rpc.Outcome
	attempts map[string]int
	inflight atomic.Int32
	maxSeen  atomic.Int32
}

func newStubClient() *stubClient {
	return &stubClient{
		delay:    make(map[string]time.Duration),
		outcomes: make(map[string]rpc.Outcome),
		attempts: make(map[string]int),
	}
}

func (s *stubClient) Call(ctx context.Context, dev device.Device, method string, body any) rpc.Outcome {
	cur := s.inflight.Add(1)
	for {
		max := s.maxSeen.Load()
		if cur <= max || s.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	defer s.inflight.Add(-1)

	s.mu.Lock()
	s.attempts[dev.Address]++
	delay := s.delay[dev.Address]
	outcome, scripted := s.outcomes[dev.Address]
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return rpc.TransportError("context deadline exceeded")
		}
	}
	if ctx.Err() != nil {
		return rpc.TransportError("context deadline exceeded")
	}
	if scripted {
		return outcome
	}
	return rpc.Success(map[string]any{})
}

func (s *stubClient) attemptsFor(address string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[address]
}

func fleet(addresses ...string) []device.Device {
	devices := make([]device.Device, len(addresses))
	for i, a := range addresses {
		devices[i] = device.Device{Address: a}
	}
	return devices
}

func TestRun_OnePerDeviceInInputOrder(t *testing.T) {
	client := newStubClient()
	// Reverse-staggered delays so completion order is the inverse of
	// input order.
	client.delay["a"] = 60 * time.Millisecond
	client.delay["b"] = 30 * time.Millisecond
	client.delay["c"] = 0

	exec := NewExecutor(Config{Concurrency: 3})
	results := exec.Run(context.Background(), fleet("a", "b", "c"), op.Reboot{}, client)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	for i, want := range []string{"a", "b", "c"} {
		if results[i].Address != want {
			t.Errorf("slot %d: expected %s, got %s", i, want, results[i].Address)
		}
	}
}

func TestRun_ConcurrencyBound(t *testing.T) {
	client := newStubClient()
	addresses := make([]string, 20)
	for i := range addresses {
		addresses[i] = string(rune('a' + i))
		client.delay[addresses[i]] = 20 * time.Millisecond
	}

	exec := NewExecutor(Config{Concurrency: 4})
	exec.Run(context.Background(), fleet(addresses...), op.Reboot{}, client)

	if max := client.maxSeen.Load(); max > 4 {
		t.Errorf("concurrency bound violated: saw %d simultaneous calls", max)
	}
}

func TestRun_FailureIsolation(t *testing.T) {
	client := newStubClient()
	client.outcomes["bad"] = rpc.TransportError("dial tcp: connection refused")

	exec := NewExecutor(Config{Concurrency: 3})
	results := exec.Run(context.Background(), fleet("ok1", "bad", "ok2"), op.Reboot{}, client)

	if results[0].Address != "ok1" || !results[0].Reachable {
		t.Errorf("ok1 must be unaffected: %+v", results[0])
	}
	if results[1].Address != "bad" || results[1].Reachable {
		t.Errorf("bad must be captured as unreachable: %+v", results[1])
	}
	if results[2].Address != "ok2" || !results[2].Reachable {
		t.Errorf("ok2 must be unaffected: %+v", results[2])
	}

	failure := results[1].Facets[op.FacetReboot]
	if failure.Kind != rpc.KindTransportError || !strings.Contains(failure.Message, "connection refused") {
		t.Errorf("error detail must be preserved for diagnostics: %s", failure)
	}
}

func TestRun_RetriesTransportFailures(t *testing.T) {
	client := newStubClient()
	client.outcomes["flaky"] = rpc.TransportError("connection refused")

	exec := NewExecutor(Config{Concurrency: 1, Retries: 2, BackoffBase: time.Millisecond})
	exec.Run(context.Background(), fleet("flaky"), op.Reboot{}, client)

	if got := client.attemptsFor("flaky"); got != 3 {
		t.Errorf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}

func TestRun_NeverRetriesHTTPErrors(t *testing.T) {
	client := newStubClient()
	client.outcomes["denied"] = rpc.HTTPError(401, "Unauthorized")

	exec := NewExecutor(Config{Concurrency: 1, Retries: 3, BackoffBase: time.Millisecond})
	results := exec.Run(context.Background(), fleet("denied"), op.Reboot{}, client)

	if got := client.attemptsFor("denied"); got != 1 {
		t.Errorf("http errors must not be retried, got %d attempts", got)
	}
	if results[0].Reachable {
		t.Error("denied device must be unreachable")
	}
}

func TestRun_FleetDeadline(t *testing.T) {
	client := newStubClient()
	client.delay["slow1"] = 5 * time.Second
	client.delay["slow2"] = 5 * time.Second

	exec := NewExecutor(Config{Concurrency: 3, TotalTimeout: 100 * time.Millisecond})
	start := time.Now()
	results := exec.Run(context.Background(), fleet("fast", "slow1", "slow2"), op.Reboot{}, client)

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("deadline not enforced, run took %v", elapsed)
	}
	if len(results) != 3 {
		t.Fatalf("every device must appear in the report, got %d results", len(results))
	}
	if !results[0].Reachable {
		t.Error("device completed before the deadline must keep its result")
	}
	for _, r := range results[1:] {
		if r.Reachable {
			t.Errorf("%s: abandoned device must be unreachable", r.Address)
		}
		failures := r.Failures()
		if len(failures) == 0 {
			t.Errorf("%s: abandoned device must carry a transport-timeout outcome", r.Address)
		}
	}
}

func TestRun_DeadlineSnapshotKeepsFacetSetComplete(t *testing.T) {
	client := newStubClient()
	client.delay["blocked1"] = 5 * time.Second
	client.delay["blocked2"] = 5 * time.Second

	exec := NewExecutor(Config{Concurrency: 1, TotalTimeout: 100 * time.Millisecond})
	results := exec.Run(context.Background(), fleet("blocked1", "blocked2"), op.StatusSnapshot{}, client)

	if len(results) != 2 {
		t.Fatalf("every device must appear in the report, got %d results", len(results))
	}

	wantFacets := []op.Facet{
		op.FacetSysConfig, op.FacetSysStatus, op.FacetWiFiStatus,
		op.FacetBLEConfig, op.FacetScriptList, op.FacetMQTTConfig,
	}
	for _, r := range results {
		if r.Reachable {
			t.Errorf("%s: abandoned device must be unreachable", r.Address)
		}
		if len(r.Facets) != len(wantFacets) {
			t.Errorf("%s: got %d facets, want %d", r.Address, len(r.Facets), len(wantFacets))
		}
		for _, facet := range wantFacets {
			outcome, present := r.Facets[facet]
			if !present {
				t.Errorf("%s: facet %s missing from abandoned result", r.Address, facet)
				continue
			}
			if outcome.Kind != rpc.KindTransportError {
				t.Errorf("%s: facet %s = %v, want transport error", r.Address, facet, outcome)
			}
		}
	}
}

func TestCalculateConcurrency(t *testing.T) {
	cases := []struct {
		configured, devices, want int
	}{
		{0, 5, 5},     // auto follows device count
		{0, 100, 32},  // auto caps at 32
		{0, 0, 1},     // auto floor
		{10, 3, 3},    // never exceed device count
		{3, 10, 3},    // configured bound wins
		{-1, 10, 1},   // invalid input clamps to 1
		{2000, 5, 5},  // hard cap then device count
	}
	for _, tc := range cases {
		if got := calculateConcurrency(tc.configured, tc.devices); got != tc.want {
			t.Errorf("calculateConcurrency(%d, %d) = %d, want %d", tc.configured, tc.devices, got, tc.want)
		}
	}
}
