// Package rpc implements the HTTP RPC client for Shelly Gen2+ devices.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/alaub81/shelly/internal/device"
	"github.com/alaub81/shelly/internal/errors"
	"github.com/alaub81/shelly/internal/logging"
)

// OutcomeKind discriminates the variants of an Outcome
type OutcomeKind int

const (
	// KindUnset is the zero value. It marks an Outcome no call ever
	// produced, so indexing a facet map at a missing key reads as
	// neither success nor a recorded failure.
	KindUnset OutcomeKind = iota

	// KindSuccess means the call returned 2xx with a JSON payload
	KindSuccess

	// KindHTTPError means the device answered with a non-2xx status
	KindHTTPError

	// KindTransportError means the call never produced a device response
	// (DNS failure, refused/reset connection, timeout)
	KindTransportError
)

// Outcome is the typed result of a single RPC call. Exactly one variant
// is populated, selected by Kind.
type Outcome struct {
	Kind OutcomeKind

	// Payload holds the decoded JSON document on success. The schema is
	// device-defined; callers read individual keys and must tolerate
	// anything else.
	Payload map[string]any

	// Status and Body describe a non-2xx response
	Status int
	Body   string

	// Message describes a transport-level failure
	Message string
}

// OK reports whether the call succeeded
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// Err returns the outcome's failure as a classified error, or nil when
// the call succeeded or never happened
func (o Outcome) Err() error {
	switch o.Kind {
	case KindHTTPError:
		return errors.NewHTTPError(o.Status, o.Body)
	case KindTransportError:
		return errors.NewTransportError(o.Message, nil)
	default:
		return nil
	}
}

// String renders the outcome for diagnostic display
func (o Outcome) String() string {
	switch o.Kind {
	case KindSuccess:
		return "ok"
	case KindHTTPError:
		return fmt.Sprintf("HTTP %d - %s", o.Status, o.Body)
	case KindTransportError:
		return o.Message
	default:
		return "unset"
	}
}

// Success builds a success outcome
func Success(payload map[string]any) Outcome {
	return Outcome{Kind: KindSuccess, Payload: payload}
}

// HTTPError builds a non-2xx outcome
func HTTPError(status int, body string) Outcome {
	return Outcome{Kind: KindHTTPError, Status: status, Body: body}
}

// TransportError builds a transport-failure outcome
func TransportError(message string) Outcome {
	return Outcome{Kind: KindTransportError, Message: message}
}

// Client defines the interface for device RPC calls
type Client interface {
	// Call issues one RPC request against one device and returns its
	// typed outcome. Call never returns an error: every failure mode is
	// an Outcome variant so fleet code records it instead of aborting.
	Call(ctx context.Context, dev device.Device, method string, body any) Outcome
}

// HTTPClient implements Client over net/http
type HTTPClient struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     *logging.Logger
}

// maxResponseBytes caps how much of a device response is read. Shelly
// RPC payloads are a few KB; the cap guards against a misconfigured
// address pointing at something that streams.
const maxResponseBytes = 1 << 20

// NewClient creates an RPC client with the given per-call timeout
func NewClient(timeout time.Duration) *HTTPClient {
	return NewClientWithLogger(timeout, nil)
}

// NewClientWithLogger creates an RPC client that logs each call
func NewClientWithLogger(timeout time.Duration, logger *logging.Logger) *HTTPClient {
	return &HTTPClient{
		httpClient: &http.Client{Timeout: timeout},
		timeout:    timeout,
		logger:     logger,
	}
}

// Call issues one RPC request to http://{address}/rpc/{method}.
// A nil body is sent as the empty JSON document: devices answer HTTP 400
// to a POST without a body, even for parameterless methods.
func (c *HTTPClient) Call(ctx context.Context, dev device.Device, method string, body any) Outcome {
	start := time.Now()

	if body == nil {
		body = struct{}{}
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return TransportError(fmt.Sprintf("encoding request body: %v", err))
	}

	url := fmt.Sprintf("http://%s/rpc/%s", dev.Address, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return TransportError(fmt.Sprintf("building request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if dev.Credentials != nil {
		req.SetBasicAuth(dev.Credentials.User, dev.Credentials.Password)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.logger != nil {
			c.logger.LogCallError(dev.Address, method, err, 0)
		}
		return TransportError(err.Error())
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if c.logger != nil {
			c.logger.LogCallError(dev.Address, method, err, 0)
		}
		return TransportError(fmt.Sprintf("reading response: %v", err))
	}

	if c.logger != nil {
		c.logger.LogCall(dev.Address, method, resp.StatusCode, time.Since(start), 0)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return HTTPError(resp.StatusCode, string(raw))
	}

	payload := make(map[string]any)
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &payload); err != nil {
			return TransportError(fmt.Sprintf("decoding response: %v", err))
		}
	}

	return Success(payload)
}
