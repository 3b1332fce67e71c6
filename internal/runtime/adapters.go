package runtime

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ekisa-team/igichat/internal/backend"
	"github.com/ekisa-team/igichat/internal/config"
	"github.com/ekisa-team/igichat/internal/plugin"
)

const nvidiaSMI = "nvidia-smi"

var smiArgs = []string{
	"--query-gpu=name,driver_version,compute_cap,memory.total",
	"--format=csv,noheader,nounits",
}

// DetectAdapters returns the configured adapters, or those reported by
// nvidia-smi when none are configured. Detection failures yield no adapters.
func DetectAdapters(ctx context.Context, configured []config.AdapterConfig, smi *backend.Executor) []plugin.AdapterSpec {
	if len(configured) > 0 {
		adapters, err := ConfiguredAdapters(configured)
		if err != nil {
			slog.Error("Invalid adapter configuration", "error", err)
			return nil
		}
		return adapters
	}

	if smi == nil {
		slog.Debug("nvidia-smi not available, no adapters detected")
		return nil
	}

	out, _, err := smi.Execute(ctx, smiArgs, nil)
	if err != nil {
		slog.Warn("Adapter query failed", "error", err)
		return nil
	}

	adapters, err := ParseNvidiaSMI(out)
	if err != nil {
		slog.Warn("Adapter query returned unexpected output", "error", err)
		return nil
	}
	return adapters
}

// ConfiguredAdapters converts adapter overrides from the configuration.
func ConfiguredAdapters(configured []config.AdapterConfig) ([]plugin.AdapterSpec, error) {
	adapters := make([]plugin.AdapterSpec, 0, len(configured))
	for i, c := range configured {
		vendor, err := plugin.ParseVendor(c.Vendor)
		if err != nil {
			return nil, fmt.Errorf("adapter %d: %w", i, err)
		}

		var driver plugin.DriverVersion
		if c.Driver != "" {
			if driver, err = plugin.ParseDriverVersion(c.Driver); err != nil {
				return nil, fmt.Errorf("adapter %d: %w", i, err)
			}
		}

		adapters = append(adapters, plugin.AdapterSpec{
			Vendor:        vendor,
			Name:          c.Name,
			Architecture:  c.Architecture,
			DriverVersion: driver,
			DeviceIndex:   i,
			VRAMMB:        c.VRAMMB,
		})
	}
	return adapters, nil
}

// ParseNvidiaSMI parses "name, driver, compute capability, memory" rows.
// A compute capability of 8.9 is reported as architecture 89.
func ParseNvidiaSMI(out []byte) ([]plugin.AdapterSpec, error) {
	var adapters []plugin.AdapterSpec

	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		fields := strings.Split(line, ",")
		if len(fields) != 4 {
			return nil, fmt.Errorf("unexpected row %q", line)
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}

		driver, err := plugin.ParseDriverVersion(fields[1])
		if err != nil {
			return nil, err
		}

		arch, err := computeCapability(fields[2])
		if err != nil {
			return nil, err
		}

		vram, err := strconv.Atoi(fields[3])
		if err != nil {
			return nil, fmt.Errorf("invalid memory %q: %w", fields[3], err)
		}

		adapters = append(adapters, plugin.AdapterSpec{
			Vendor:        plugin.VendorNVIDIA,
			Name:          fields[0],
			Architecture:  arch,
			DriverVersion: driver,
			DeviceIndex:   len(adapters),
			VRAMMB:        vram,
		})
	}

	return adapters, sc.Err()
}

func computeCapability(s string) (uint32, error) {
	major, minor, ok := strings.Cut(s, ".")
	if !ok {
		minor = "0"
	}

	ma, err := strconv.ParseUint(major, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid compute capability %q", s)
	}
	mi, err := strconv.ParseUint(minor, 10, 32)
	if err != nil || mi > 9 {
		return 0, fmt.Errorf("invalid compute capability %q", s)
	}

	return uint32(ma*10 + mi), nil
}
