package plugin

import (
	"fmt"
	"strconv"
	"strings"
)

// VendorID is a PCI vendor identifier.
type VendorID uint32

const (
	VendorNone      VendorID = 0
	VendorAMD       VendorID = 0x1002
	VendorNVIDIA    VendorID = 0x10DE
	VendorMicrosoft VendorID = 0x1414
	VendorIntel     VendorID = 0x8086
	VendorAny       VendorID = 0xFFFFFFFF
)

// Specific reports whether v names a concrete vendor.
func (v VendorID) Specific() bool {
	return v != VendorNone && v != VendorAny
}

func (v VendorID) String() string {
	switch v {
	case VendorNone:
		return "none"
	case VendorAny:
		return "any"
	case VendorAMD:
		return "amd"
	case VendorNVIDIA:
		return "nvidia"
	case VendorMicrosoft:
		return "microsoft"
	case VendorIntel:
		return "intel"
	default:
		return fmt.Sprintf("0x%04x", uint32(v))
	}
}

// ParseVendor parses a vendor name as used in configuration files.
func ParseVendor(s string) (VendorID, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "nvidia", "nvda":
		return VendorNVIDIA, nil
	case "amd":
		return VendorAMD, nil
	case "intel":
		return VendorIntel, nil
	case "microsoft", "ms":
		return VendorMicrosoft, nil
	case "any":
		return VendorAny, nil
	case "", "none":
		return VendorNone, nil
	default:
		return VendorNone, fmt.Errorf("plugin: unknown vendor %q", s)
	}
}

// DriverVersion is a major.minor.build driver version.
type DriverVersion struct {
	Major uint32
	Minor uint32
	Build uint32
}

// IsZero reports whether no version is set.
func (d DriverVersion) IsZero() bool {
	return d == DriverVersion{}
}

// Less reports whether d is older than other.
func (d DriverVersion) Less(other DriverVersion) bool {
	if d.Major != other.Major {
		return d.Major < other.Major
	}
	if d.Minor != other.Minor {
		return d.Minor < other.Minor
	}
	return d.Build < other.Build
}

func (d DriverVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", d.Major, d.Minor, d.Build)
}

// ParseDriverVersion parses versions such as "555.85" or "560.35.3".
func ParseDriverVersion(s string) (DriverVersion, error) {
	parts := strings.Split(strings.TrimSpace(s), ".")
	if len(parts) == 0 || len(parts) > 3 || parts[0] == "" {
		return DriverVersion{}, fmt.Errorf("plugin: invalid driver version %q", s)
	}

	var nums [3]uint32
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 32)
		if err != nil {
			return DriverVersion{}, fmt.Errorf("plugin: invalid driver version %q: %w", s, err)
		}
		nums[i] = uint32(n)
	}

	return DriverVersion{Major: nums[0], Minor: nums[1], Build: nums[2]}, nil
}
