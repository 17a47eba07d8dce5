// Package device provides device addressing and address-list loading for shellyfleet.
package device

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alaub81/shelly/internal/errors"
)

// Device identifies one fleet member and how to authenticate against it.
// Address is opaque (hostname or IP); it is never parsed beyond being
// placed into the request URL.
type Device struct {
	Address     string       // Hostname or IP address
	Credentials *Credentials // Optional per-device credentials
	Tags        []string     // Inventory group memberships
}

// Credentials is an optional (principal, secret) pair. Both fields are
// always set together; a half-filled pair is rejected at construction.
type Credentials struct {
	User     string
	Password string
}

// NewCredentials validates the both-or-neither pairing rule and returns
// nil when no credentials were supplied at all.
func NewCredentials(user, password string) (*Credentials, error) {
	if user == "" && password == "" {
		return nil, nil
	}
	if user == "" || password == "" {
		return nil, fmt.Errorf("credentials validation failed: user and password must be supplied together")
	}
	return &Credentials{User: user, Password: password}, nil
}

// ClientID returns the first DNS label of the address, used as the MQTT
// client_id for this device.
func (d Device) ClientID() string {
	addr := d.Address
	if i := strings.IndexByte(addr, '.'); i > 0 {
		return addr[:i]
	}
	return addr
}

// Validate ensures the device address is usable as a connection target
func (d Device) Validate() error {
	addr := strings.TrimSpace(d.Address)
	if addr == "" {
		return fmt.Errorf("device validation failed: address is empty")
	}
	if strings.ContainsAny(addr, " \t/") {
		return fmt.Errorf("device validation failed: malformed address %q", addr)
	}
	return nil
}

// Loader reads device address lists from their supported sources
type Loader struct{}

// NewLoader creates a new Loader instance
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFile reads device addresses from a file, one address per line.
// Blank lines are ignored; there is no comment syntax.
func (l *Loader) LoadFile(filename string) ([]Device, error) {
	if filename == "" {
		return nil, errors.NewPreconditionError("device list filename cannot be empty", nil)
	}

	file, err := os.Open(filename)
	if err != nil {
		return nil, errors.NewPreconditionError(fmt.Sprintf("failed to open device list %q: %v", filename, err), err)
	}
	defer file.Close()

	return l.LoadReader(file)
}

// LoadReader reads device addresses from any io.Reader, one per line
func (l *Loader) LoadReader(reader io.Reader) ([]Device, error) {
	scanner := bufio.NewScanner(reader)
	devices := make([]Device, 0)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		dev := Device{Address: line}
		if err := dev.Validate(); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNum, err)
		}
		devices = append(devices, dev)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading device list: %w", err)
	}

	if len(devices) == 0 {
		return nil, errors.NewPreconditionError("no valid devices found in input", nil)
	}

	return devices, nil
}

// WithCredentials returns a copy of the device list with the given
// credentials applied to every device that has none of its own.
func WithCredentials(devices []Device, creds *Credentials) []Device {
	if creds == nil {
		return devices
	}
	out := make([]Device, len(devices))
	for i, d := range devices {
		if d.Credentials == nil {
			d.Credentials = creds
		}
		out[i] = d
	}
	return out
}
