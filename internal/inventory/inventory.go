// Package inventory provides structured device inventories for shellyfleet.
package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/alaub81/shelly/internal/device"

	"gopkg.in/yaml.v3"
)

// Provider defines the interface for inventory providers
type Provider interface {
	// LoadDevices loads devices from the inventory source
	LoadDevices() ([]device.Device, error)
	// GetGroups returns available groups in the inventory
	GetGroups() ([]string, error)
	// GetDevicesByGroup returns devices filtered by group
	GetDevicesByGroup(group string) ([]device.Device, error)
}

// FileInventory reads devices from a YAML or JSON inventory file
type FileInventory struct {
	path string
}

// NewFileInventory creates a new file-backed inventory provider
func NewFileInventory(path string) *FileInventory {
	return &FileInventory{path: path}
}

// Data represents the structure of an inventory file
type Data struct {
	Devices map[string]*Entry `yaml:"devices" json:"devices"`
	Groups  map[string]*Group `yaml:"groups" json:"groups"`
}

// Group represents a named group of devices
type Group struct {
	Devices  map[string]*Entry `yaml:"devices" json:"devices"`
	User     string            `yaml:"user" json:"user"`
	Password string            `yaml:"password" json:"password"`
}

// Entry represents one device in the inventory
type Entry struct {
	Address  string   `yaml:"address" json:"address"`
	User     string   `yaml:"user" json:"user"`
	Password string   `yaml:"password" json:"password"`
	Tags     []string `yaml:"tags" json:"tags"`
}

// LoadDevices loads all devices from the inventory file
func (fi *FileInventory) LoadDevices() ([]device.Device, error) {
	data, err := fi.loadData()
	if err != nil {
		return nil, err
	}

	var devices []device.Device
	processed := make(map[string]bool)

	// Names are visited in sorted order so the device sequence is
	// stable across runs. Top-level devices carry no group tag.
	for _, name := range sortedKeys(data.Devices) {
		if !processed[name] {
			dev, err := fi.convertEntry(name, data.Devices[name], nil, nil)
			if err != nil {
				return nil, err
			}
			devices = append(devices, dev)
			processed[name] = true
		}
	}

	for _, groupName := range sortedKeys(data.Groups) {
		groupDevices, err := fi.processGroup(groupName, data.Groups[groupName], processed)
		if err != nil {
			return nil, err
		}
		devices = append(devices, groupDevices...)
	}

	if len(devices) == 0 {
		return nil, fmt.Errorf("inventory file '%s' contains no devices", fi.path)
	}

	return devices, nil
}

// GetGroups returns available groups in the inventory
func (fi *FileInventory) GetGroups() ([]string, error) {
	data, err := fi.loadData()
	if err != nil {
		return nil, err
	}

	var groups []string
	for groupName := range data.Groups {
		groups = append(groups, groupName)
	}

	return groups, nil
}

// GetDevicesByGroup returns devices filtered by group
func (fi *FileInventory) GetDevicesByGroup(group string) ([]device.Device, error) {
	data, err := fi.loadData()
	if err != nil {
		return nil, err
	}

	groupData, exists := data.Groups[group]
	if !exists {
		return nil, fmt.Errorf("group '%s' not found in inventory", group)
	}

	processed := make(map[string]bool)
	return fi.processGroup(group, groupData, processed)
}

// loadData loads and parses the inventory file
func (fi *FileInventory) loadData() (*Data, error) {
	content, err := os.ReadFile(fi.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory file: %w", err)
	}

	var data Data

	ext := strings.ToLower(filepath.Ext(fi.path))
	if ext == ".json" {
		err = json.Unmarshal(content, &data)
	} else {
		err = yaml.Unmarshal(content, &data)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to parse inventory file: %w", err)
	}

	return &data, nil
}

// processGroup converts all devices in a group, applying group-level
// credentials where a device has none of its own.
func (fi *FileInventory) processGroup(groupName string, group *Group, processed map[string]bool) ([]device.Device, error) {
	var groupCreds *device.Credentials
	if group.User != "" || group.Password != "" {
		creds, err := device.NewCredentials(group.User, group.Password)
		if err != nil {
			return nil, fmt.Errorf("group '%s': %w", groupName, err)
		}
		groupCreds = creds
	}

	var devices []device.Device
	for _, name := range sortedKeys(group.Devices) {
		if processed[name] {
			continue
		}
		dev, err := fi.convertEntry(name, group.Devices[name], []string{groupName}, groupCreds)
		if err != nil {
			return nil, err
		}
		devices = append(devices, dev)
		processed[name] = true
	}

	return devices, nil
}

// sortedKeys returns the map's keys in lexicographic order
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// convertEntry converts an inventory entry to a device
func (fi *FileInventory) convertEntry(name string, entry *Entry, groupTags []string, groupCreds *device.Credentials) (device.Device, error) {
	dev := device.Device{
		Address: name,
		Tags:    groupTags,
	}

	// Entries may name the device and point elsewhere for the address
	if entry != nil {
		if entry.Address != "" {
			dev.Address = entry.Address
		}
		dev.Tags = append(dev.Tags, entry.Tags...)

		if entry.User != "" || entry.Password != "" {
			creds, err := device.NewCredentials(entry.User, entry.Password)
			if err != nil {
				return device.Device{}, fmt.Errorf("device '%s': %w", name, err)
			}
			dev.Credentials = creds
		}
	}

	if dev.Credentials == nil {
		dev.Credentials = groupCreds
	}

	if err := dev.Validate(); err != nil {
		return device.Device{}, fmt.Errorf("device '%s': %w", name, err)
	}

	return dev, nil
}

// LoadFromFile loads an inventory provider based on the file extension
func LoadFromFile(path string) (Provider, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".yml", ".yaml", ".json":
		return NewFileInventory(path), nil
	default:
		return nil, fmt.Errorf("unsupported inventory file format: %s", ext)
	}
}
