// Package executor fans per-device operations out across the fleet.
package executor

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/alaub81/shelly/internal/device"
	"github.com/alaub81/shelly/internal/errors"
	"github.com/alaub81/shelly/internal/logging"
	"github.com/alaub81/shelly/internal/op"
	"github.com/alaub81/shelly/internal/rpc"
)

// Config holds configuration parameters for the executor
type Config struct {
	Concurrency  int           // Maximum simultaneous device operations (0 for auto)
	Retries      int           // Maximum retry attempts per device
	TotalTimeout time.Duration // Fleet-wide deadline (0 for none)
	BackoffBase  time.Duration // Base unit for retry backoff (defaults to 1s)
}

// Executor applies an operation to every device in the fleet
type Executor interface {
	// Run applies operation to every device and returns one result per
	// device, in the same order as the input. A device's failure never
	// aborts or delays the others.
	Run(ctx context.Context, devices []device.Device, operation op.Operation, client rpc.Client) []op.Result
}

// WorkerPool implements Executor with a bounded worker set. Each device
// owns a pre-allocated result slot indexed by its input position, so no
// locking is needed on the write path and completion order can never
// reorder the output.
type WorkerPool struct {
	config Config
	logger *logging.Logger
}

// NewExecutor creates an executor with the given configuration
func NewExecutor(config Config) *WorkerPool {
	return NewExecutorWithLogger(config, nil)
}

// NewExecutorWithLogger creates an executor that logs fleet progress
func NewExecutorWithLogger(config Config, logger *logging.Logger) *WorkerPool {
	if config.BackoffBase <= 0 {
		config.BackoffBase = time.Second
	}
	return &WorkerPool{config: config, logger: logger}
}

// Run fans the operation out across all devices
func (wp *WorkerPool) Run(ctx context.Context, devices []device.Device, operation op.Operation, client rpc.Client) []op.Result {
	concurrency := calculateConcurrency(wp.config.Concurrency, len(devices))

	if wp.logger != nil {
		wp.logger.LogFleetStart(operation.Name(), len(devices), concurrency, wp.config.Retries)
	}
	start := time.Now()

	runCtx := ctx
	if wp.config.TotalTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, wp.config.TotalTimeout)
		defer cancel()
	}

	results := make([]op.Result, len(devices))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, dev := range devices {
		wg.Add(1)
		go func(slot int, dev device.Device) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			results[slot] = wp.applyWithRetry(runCtx, client, operation, dev)
		}(i, dev)
	}

	wg.Wait()

	if wp.logger != nil {
		succeeded := 0
		for _, r := range results {
			if r.Reachable {
				succeeded++
			}
		}
		wp.logger.LogFleetComplete(operation.Name(), len(devices), succeeded, len(devices)-succeeded, time.Since(start))
	}

	return results
}

// applyWithRetry runs the operation against one device, retrying
// transport-class failures up to the configured attempt budget. HTTP
// errors are final observations and are never retried. Past the fleet
// deadline the device is abandoned with a synthesized timeout result
// rather than dropped.
func (wp *WorkerPool) applyWithRetry(ctx context.Context, client rpc.Client, operation op.Operation, dev device.Device) op.Result {
	if ctx.Err() != nil {
		return deadlineResult(operation, dev)
	}

	result := operation.Apply(ctx, client, dev)

	for attempt := 1; attempt <= wp.config.Retries; attempt++ {
		if result.Reachable || !hasRetryableFailure(result) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		backoff := calculateBackoff(attempt, wp.config.BackoffBase)
		if wp.logger != nil {
			wp.logger.LogRetry(dev.Address, attempt, backoff, "transport error")
		}

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return result
		}

		result = operation.Apply(ctx, client, dev)
	}

	return result
}

// hasRetryableFailure reports whether any failed facet is transport-class
func hasRetryableFailure(result op.Result) bool {
	for _, outcome := range result.Failures() {
		if outcome.Kind != rpc.KindTransportError {
			continue
		}
		if ce := errors.ClassifyError(outcome.Err()); ce != nil && ce.IsRetryable() {
			return true
		}
	}
	return false
}

// deadlineResult synthesizes the result for a device abandoned at the
// fleet deadline before its first call was issued. The operation owns
// its facet set, so the timeout appears under every facet it would
// have queried.
func deadlineResult(operation op.Operation, dev device.Device) op.Result {
	outcome := rpc.TransportError("fleet deadline exceeded before device was contacted")
	return operation.DeadlineResult(dev, outcome)
}

// calculateBackoff calculates exponential backoff with jitter
func calculateBackoff(attempt int, base time.Duration) time.Duration {
	backoff := time.Duration(math.Pow(2, float64(attempt))) * base
	jitter := time.Duration(rand.Int63n(int64(base)))
	return backoff + jitter
}

// calculateConcurrency determines the actual concurrency from the
// configured bound and the device count
func calculateConcurrency(configured int, deviceCount int) int {
	if configured < 0 {
		return 1
	}

	if configured == 0 {
		// Auto mode: min(32, device count)
		if deviceCount <= 0 {
			return 1
		}
		if deviceCount <= 32 {
			return deviceCount
		}
		return 32
	}

	if configured > 1000 {
		configured = 1000
	}
	if deviceCount > 0 && configured > deviceCount {
		return deviceCount
	}
	return configured
}
