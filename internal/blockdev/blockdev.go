package blockdev

import (
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"strings"

	"github.com/mgarrido/reluks/internal/runner"
)

// Device is one node of the kernel block-device tree, as reported by lsblk.
type Device struct {
	Path       string `json:"path"`
	Type       string `json:"type"` // "disk" or "part"
	Size       string `json:"size"`
	Mountpoint string `json:"mountpoint,omitempty"`
	FSType     string `json:"fstype,omitempty"`
}

// lsblkOutput represents the JSON output from lsblk
type lsblkOutput struct {
	Blockdevices []lsblkNode `json:"blockdevices"`
}

type lsblkNode struct {
	Name       string      `json:"name"`
	Type       string      `json:"type"`
	Size       string      `json:"size"`
	Path       string      `json:"path"`
	Mountpoint string      `json:"mountpoint"`
	FSType     string      `json:"fstype"`
	Children   []lsblkNode `json:"children,omitempty"`
}

// List returns a snapshot of all disks and partitions, sorted by path.
// Loop devices, crypt mappings and other node kinds are skipped. Any query
// failure collapses to an empty list: "no devices detected" is a user-facing
// condition, not a crash.
func List(r runner.Runner) []Device {
	out, err := r.Output("lsblk", "-J", "-o", "NAME,TYPE,SIZE,PATH,MOUNTPOINT,FSTYPE")
	if err != nil {
		return nil
	}

	var parsed lsblkOutput
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		return nil
	}

	var devices []Device
	for _, node := range parsed.Blockdevices {
		devices = collect(node, devices)
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].Path < devices[j].Path })
	return devices
}

func collect(node lsblkNode, devices []Device) []Device {
	if node.Type == "disk" || node.Type == "part" {
		path := node.Path
		if path == "" {
			path = "/dev/" + node.Name
		}
		devices = append(devices, Device{
			Path:       path,
			Type:       node.Type,
			Size:       node.Size,
			Mountpoint: node.Mountpoint,
			FSType:     node.FSType,
		})
	}
	for _, child := range node.Children {
		devices = collect(child, devices)
	}
	return devices
}

// Find returns the inventory entry for path, or nil.
func Find(devices []Device, path string) *Device {
	for i := range devices {
		if devices[i].Path == path {
			return &devices[i]
		}
	}
	return nil
}

// BaseDisk strips the partition suffix from a partition path.
// /dev/sda1 -> /dev/sda, /dev/nvme0n1p3 -> /dev/nvme0n1,
// /dev/mmcblk0p2 -> /dev/mmcblk0.
func BaseDisk(path string) string {
	if strings.HasPrefix(path, "/dev/nvme") || strings.HasPrefix(path, "/dev/mmcblk") {
		if i := strings.LastIndex(path, "p"); i > 0 && isDigits(path[i+1:]) {
			return path[:i]
		}
		return path
	}
	i := len(path)
	for i > 0 && path[i-1] >= '0' && path[i-1] <= '9' {
		i--
	}
	return path[:i]
}

// ErrNoPartitionNumber marks a device path with no trailing numeric suffix.
var ErrNoPartitionNumber = errors.New("device path carries no partition number")

// PartitionNumber returns the ordinal encoded in a partition path's trailing
// digits.
func PartitionNumber(path string) (int, error) {
	i := len(path)
	for i > 0 && path[i-1] >= '0' && path[i-1] <= '9' {
		i--
	}
	if i == len(path) {
		return 0, ErrNoPartitionNumber
	}
	return strconv.Atoi(path[i:])
}

// IsLUKS reports whether an lsblk fstype marks a raw LUKS container.
func IsLUKS(fstype string) bool {
	switch strings.ToLower(fstype) {
	case "crypto_luks", "luks":
		return true
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
