package plugin

import (
	"fmt"
	"log/slog"
)

// Registry answers compatibility questions against the adapter selected once
// at construction.
type Registry struct {
	info    *SystemInfo
	adapter *AdapterSpec
}

// NewRegistry selects the adapter of the preferred vendor with the highest
// architecture. Without one, the first detected adapter is used.
func NewRegistry(info *SystemInfo, preferred VendorID) *Registry {
	if info == nil {
		info = &SystemInfo{}
	}

	r := &Registry{info: info}
	r.adapter = SelectAdapter(info.Adapters, preferred)

	if r.adapter == nil {
		slog.Warn("No adapters detected, vendor specific plugins are unavailable")
	} else {
		slog.Info("Adapter selected",
			"vendor", r.adapter.Vendor,
			"name", r.adapter.Name,
			"architecture", r.adapter.Architecture,
			"driver", r.adapter.DriverVersion,
		)
	}

	return r
}

// SelectAdapter picks the highest architecture adapter of the preferred
// vendor, falling back to the first adapter. It returns nil when adapters is empty.
func SelectAdapter(adapters []AdapterSpec, preferred VendorID) *AdapterSpec {
	var best *AdapterSpec
	for i := range adapters {
		a := &adapters[i]
		if a.Vendor != preferred {
			continue
		}
		if best == nil || a.Architecture > best.Architecture {
			best = a
		}
	}

	if best == nil && len(adapters) > 0 {
		slog.Error("No adapters of the preferred vendor found", "vendor", preferred, "adapters", len(adapters))
		best = &adapters[0]
	}

	if best == nil {
		return nil
	}

	selected := *best
	return &selected
}

// Adapter returns the selected adapter.
func (r *Registry) Adapter() (AdapterSpec, bool) {
	if r.adapter == nil {
		return AdapterSpec{}, false
	}
	return *r.adapter, true
}

// SystemInfo returns the system info the registry was built from.
func (r *Registry) SystemInfo() *SystemInfo {
	return r.info
}

// IsCompatible reports whether id was discovered and every requirement it
// declares holds for the selected adapter.
func (r *Registry) IsCompatible(id ID) bool {
	if err := r.Check(id); err != nil {
		slog.Warn("Plugin is not compatible", "plugin", id, "reason", err)
		return false
	}
	return true
}

// Check returns nil when id is compatible, or an error wrapping ErrNotFound
// or ErrIncompatible that names the failing requirement.
func (r *Registry) Check(id ID) error {
	spec, ok := r.info.Plugin(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	a := r.adapter

	if spec.RequiredVendor.Specific() {
		if a == nil {
			return fmt.Errorf("%w: %s requires a %s adapter, none selected", ErrIncompatible, id, spec.RequiredVendor)
		}
		if a.Vendor != spec.RequiredVendor {
			return fmt.Errorf("%w: %s requires a %s adapter, selected %s", ErrIncompatible, id, spec.RequiredVendor, a.Vendor)
		}
		if a.Architecture < spec.RequiredArchitecture {
			return fmt.Errorf("%w: %s requires architecture %d, adapter has %d",
				ErrIncompatible, id, spec.RequiredArchitecture, a.Architecture)
		}
	}

	if !spec.RequiredDriverVersion.IsZero() {
		if a == nil {
			return fmt.Errorf("%w: %s requires driver %s, no adapter selected", ErrIncompatible, id, spec.RequiredDriverVersion)
		}
		if a.DriverVersion.Less(spec.RequiredDriverVersion) {
			return fmt.Errorf("%w: %s requires driver %s, adapter has %s",
				ErrIncompatible, id, spec.RequiredDriverVersion, a.DriverVersion)
		}
	}

	return nil
}
