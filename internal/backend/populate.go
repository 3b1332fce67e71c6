package backend

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/params"
	"github.com/ekisa-team/igichat/internal/plugin"
)

// Populator fills domain catalogs from the capabilities of every compatible backend.
type Populator struct {
	runtime  plugin.Runtime
	registry *plugin.Registry
	builder  *params.Builder
}

// NewPopulator creates a populator.
func NewPopulator(rt plugin.Runtime, registry *plugin.Registry, builder *params.Builder) *Populator {
	return &Populator{runtime: rt, registry: registry, builder: builder}
}

// Populate appends the models of every backend in backends to catalog, in
// backend preference order. A backend that is incompatible or fails to
// answer is skipped; the returned error joins the reasons.
func (p *Populator) Populate(catalog *model.Catalog, backends []Descriptor, modelRoot string) error {
	var errs []error

	for _, d := range backends {
		if !p.registry.IsCompatible(d.ID) {
			continue
		}

		n, err := p.populateBackend(catalog, d, modelRoot)
		if err != nil {
			slog.Warn("Skipping backend", "domain", catalog.Domain(), "plugin", d.ID, "error", err)
			errs = append(errs, err)
			continue
		}

		slog.Info("Backend models listed", "domain", catalog.Domain(), "plugin", d.ID, "models", n)
	}

	return errors.Join(errs...)
}

func (p *Populator) populateBackend(catalog *model.Catalog, d Descriptor, modelRoot string) (int, error) {
	iface, err := p.runtime.LoadInterface(d.ID)
	if err != nil {
		return 0, fmt.Errorf("load %s: %w", d.ID, err)
	}
	defer func() {
		if err := p.runtime.UnloadInterface(d.ID, iface); err != nil {
			slog.Error("Failed to unload interface", "plugin", d.ID, "error", err)
		}
	}()

	c, err := p.builder.BuildCreationParams(d.Domain, true, modelRoot)
	if err != nil {
		return 0, fmt.Errorf("build parameters for %s: %w", d.ID, err)
	}
	defer func() {
		if err := chain.Release(c); err != nil {
			slog.Error("Failed to release parameter chain", "plugin", d.ID, "error", err)
		}
	}()

	caps, err := iface.CapabilitiesAndRequirements(c)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %w", ErrCapabilityQuery, d.ID, err)
	}

	root := modelRoot
	if root == "" {
		root = p.builder.ModelsPath()
	}

	added := 0
	for _, m := range caps.Models {
		entry := model.Entry{
			PluginID:   d.ID,
			PluginName: d.Name,
			ModelName:  m.Name,
			Caption:    fmt.Sprintf("%s : %s", d.Name, m.Name),
			GUID:       m.GUID,
			ModelRoot:  root,
			Status:     model.StatusAvailableLocally,
		}

		switch {
		case d.Cloud:
			url, err := p.cloudURL(iface, c, m.GUID)
			if err != nil {
				slog.Warn("Skipping cloud model", "plugin", d.ID, "model", m.Name, "error", err)
				continue
			}
			entry.URL = url
			entry.Status = model.StatusAvailableCloud
		case m.Flags&plugin.ModelFlagRequiresDownload != 0:
			entry.Status = model.StatusRequiresManualDownload
			entry.Caption += " (download required)"
		}

		catalog.Append(entry)
		added++
	}

	return added, nil
}

// cloudURL re-queries a cloud backend with guid selected to learn the endpoint.
func (p *Populator) cloudURL(iface plugin.Interface, c *chain.Chain, guid string) (string, error) {
	common, ok := chain.Find[*chain.Common](c)
	if !ok {
		return "", plugin.ErrMissingInput
	}

	common.ModelGUID = guid
	defer func() { common.ModelGUID = "" }()

	caps, err := iface.CapabilitiesAndRequirements(c)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCapabilityQuery, err)
	}
	if caps.Cloud == nil || caps.Cloud.URL == "" {
		return "", fmt.Errorf("%w: no endpoint for %s", ErrCapabilityQuery, guid)
	}
	return caps.Cloud.URL, nil
}
