// Package filter provides device filtering capabilities for shellyfleet.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/alaub81/shelly/internal/device"
)

// Filter represents a device filter condition
type Filter interface {
	// Match returns true if the device matches the filter condition
	Match(dev device.Device) bool
	// String returns a human-readable description of the filter
	String() string
}

// TagFilter filters devices by tags
type TagFilter struct {
	RequiredTags []string
	ExcludeTags  []string
}

// NewTagFilter creates a new tag-based filter
func NewTagFilter(required, excluded []string) *TagFilter {
	return &TagFilter{
		RequiredTags: required,
		ExcludeTags:  excluded,
	}
}

// Match checks if the device has required tags and doesn't have excluded tags
func (f *TagFilter) Match(dev device.Device) bool {
	deviceTags := make(map[string]bool)
	for _, tag := range dev.Tags {
		deviceTags[strings.ToLower(tag)] = true
	}

	for _, required := range f.RequiredTags {
		if !deviceTags[strings.ToLower(required)] {
			return false
		}
	}

	for _, excluded := range f.ExcludeTags {
		if deviceTags[strings.ToLower(excluded)] {
			return false
		}
	}

	return true
}

// String returns a description of the tag filter
func (f *TagFilter) String() string {
	var parts []string
	if len(f.RequiredTags) > 0 {
		parts = append(parts, fmt.Sprintf("tags: %s", strings.Join(f.RequiredTags, ",")))
	}
	if len(f.ExcludeTags) > 0 {
		parts = append(parts, fmt.Sprintf("!tags: %s", strings.Join(f.ExcludeTags, ",")))
	}
	return strings.Join(parts, " AND ")
}

// AddressFilter filters devices by address patterns
type AddressFilter struct {
	Pattern string
	IsRegex bool
}

// NewAddressFilter creates a new address-based filter
func NewAddressFilter(pattern string, isRegex bool) *AddressFilter {
	return &AddressFilter{
		Pattern: pattern,
		IsRegex: isRegex,
	}
}

// Match checks if the device address matches the pattern
func (f *AddressFilter) Match(dev device.Device) bool {
	if f.IsRegex {
		matched, err := regexp.MatchString(f.Pattern, dev.Address)
		return err == nil && matched
	}

	// Simple wildcard matching
	pattern := regexp.QuoteMeta(f.Pattern)
	pattern = strings.ReplaceAll(pattern, `\*`, ".*")
	matched, err := regexp.MatchString("^"+pattern+"$", dev.Address)
	return err == nil && matched
}

// String returns a description of the address filter
func (f *AddressFilter) String() string {
	if f.IsRegex {
		return fmt.Sprintf("address regex: %s", f.Pattern)
	}
	return fmt.Sprintf("address pattern: %s", f.Pattern)
}

// FilterDevices applies filters to a device list and returns matching ones
func FilterDevices(devices []device.Device, filters ...Filter) []device.Device {
	if len(filters) == 0 {
		return devices
	}

	var filtered []device.Device
	for _, dev := range devices {
		match := true
		for _, f := range filters {
			if !f.Match(dev) {
				match = false
				break
			}
		}
		if match {
			filtered = append(filtered, dev)
		}
	}

	return filtered
}

// ParseFilterExpression parses a filter expression string
// Format: "tag:garage,outdoor !tag:battery addr:192.168.1.*"
func ParseFilterExpression(expression string) ([]Filter, error) {
	if strings.TrimSpace(expression) == "" {
		return nil, nil
	}

	var filters []Filter
	parts := strings.Fields(expression)

	for _, part := range parts {
		switch {
		case strings.HasPrefix(part, "!tag:"):
			tagSpec := strings.TrimPrefix(part, "!tag:")
			filters = append(filters, NewTagFilter(nil, strings.Split(tagSpec, ",")))
		case strings.HasPrefix(part, "tag:"):
			tagSpec := strings.TrimPrefix(part, "tag:")
			filters = append(filters, NewTagFilter(strings.Split(tagSpec, ","), nil))
		case strings.HasPrefix(part, "addr:"):
			pattern := strings.TrimPrefix(part, "addr:")
			isRegex := strings.HasPrefix(pattern, "regex:")
			if isRegex {
				pattern = strings.TrimPrefix(pattern, "regex:")
			}
			filters = append(filters, NewAddressFilter(pattern, isRegex))
		default:
			return nil, fmt.Errorf("unrecognized filter term '%s'", part)
		}
	}

	return filters, nil
}
