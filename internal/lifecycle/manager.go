// Package lifecycle creates and destroys the model instance of one domain on
// a background task, rolling back to the previous model when a swap fails.
package lifecycle

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ekisa-team/igichat/internal/chain"
	"github.com/ekisa-team/igichat/internal/metrics"
	"github.com/ekisa-team/igichat/internal/model"
	"github.com/ekisa-team/igichat/internal/params"
	"github.com/ekisa-team/igichat/internal/plugin"
	"github.com/ekisa-team/igichat/internal/session"
	"github.com/ekisa-team/igichat/internal/task"
)

// Option configures a Manager.
type Option func(*Manager)

// WithSwapHook sets fn to run every time the loaded instance is torn down
// for a load or swap.
func WithSwapHook(fn func()) Option {
	return func(m *Manager) {
		m.onSwap = fn
	}
}

// Manager owns the single live instance of a domain.
type Manager struct {
	domain  model.Domain
	rt      plugin.Runtime
	builder *params.Builder
	catalog *model.Catalog
	state   *session.State
	onSwap  func()

	loader task.Slot
	swapMu sync.Mutex

	mu       sync.Mutex
	inst     plugin.Instance
	iface    plugin.Interface
	pluginID plugin.ID
	index    int
	err      error
}

// New creates the manager of catalog's domain.
func New(rt plugin.Runtime, builder *params.Builder, catalog *model.Catalog, state *session.State, opts ...Option) *Manager {
	m := &Manager{
		domain:  catalog.Domain(),
		rt:      rt,
		builder: builder,
		catalog: catalog,
		state:   state,
		index:   model.NoSelection,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Domain returns the managed domain.
func (m *Manager) Domain() model.Domain {
	return m.domain
}

// LoadOrSwap replaces the live instance with the model at index. The
// previous load and any running turn of the domain are joined and the live
// instance destroyed before it returns; the new instance is created on the
// background task. NoSelection unloads the domain.
func (m *Manager) LoadOrSwap(index int) {
	m.swapMu.Lock()
	defer m.swapMu.Unlock()

	m.loader.Join()

	m.state.SetLoading(m.domain)
	metrics.SetReady(string(m.domain), false)

	previous := m.release()
	if m.onSwap != nil {
		m.onSwap()
	}

	m.loader.Replace(func() {
		m.load(index, previous)
	})
}

// Wait blocks until the pending load or swap has finished.
func (m *Manager) Wait() {
	m.loader.Join()
}

// Instance returns the live instance.
func (m *Manager) Instance() (plugin.Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.inst, m.inst != nil
}

// Loaded returns the catalog index of the live instance, or NoSelection.
func (m *Manager) Loaded() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.index
}

// Err returns the error of the last load or swap.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.err
}

// Shutdown joins the pending load and destroys the live instance.
func (m *Manager) Shutdown() {
	m.swapMu.Lock()
	defer m.swapMu.Unlock()

	m.loader.Join()
	m.state.WaitIdle(m.domain)
	m.release()
	metrics.SetReady(string(m.domain), false)
}

func (m *Manager) load(index, previous int) {
	start := time.Now()
	d := string(m.domain)

	if index == model.NoSelection {
		if err := m.catalog.Select(model.NoSelection); err != nil {
			slog.Error("Failed to clear model selection", "domain", m.domain, "error", err)
		}
		m.setErr(nil)
		m.state.SetUnselected(m.domain)
		metrics.ObserveLoad(d, metrics.LoadSkipped, time.Since(start))
		return
	}

	err := m.create(index)
	if err == nil {
		m.setErr(nil)
		m.state.SetReady(m.domain, index)
		metrics.SetReady(d, true)
		metrics.ObserveLoad(d, metrics.LoadOK, time.Since(start))
		return
	}

	slog.Error("Unable to load model", "domain", m.domain, "index", index, "error", err)

	if !errors.Is(err, ErrInstanceCreation) || previous == model.NoSelection || previous == index {
		m.setErr(err)
		m.state.SetFailed(m.domain, err)
		metrics.ObserveLoad(d, metrics.LoadFailed, time.Since(start))
		return
	}

	slog.Warn("Reverting to previous model", "domain", m.domain, "index", previous)

	if rbErr := m.create(previous); rbErr != nil {
		err = fmt.Errorf("%w: %w (rollback: %w)", ErrRollbackFailed, err, rbErr)
		slog.Error("Unable to load model and cannot revert to previous model", "domain", m.domain, "error", err)
		m.setErr(err)
		m.state.SetFailed(m.domain, err)
		metrics.ObserveLoad(d, metrics.LoadRollbackFailed, time.Since(start))
		return
	}

	m.setErr(err)
	m.state.SetReady(m.domain, previous)
	metrics.SetReady(d, true)
	metrics.ObserveLoad(d, metrics.LoadRolledBack, time.Since(start))
}

// create selects index, builds its parameters and creates the instance.
// Backend failures are wrapped in ErrInstanceCreation.
func (m *Manager) create(index int) error {
	if err := m.catalog.Select(index); err != nil {
		return err
	}
	entry, err := m.catalog.Get(index)
	if err != nil {
		return err
	}

	c, err := m.builder.BuildCreationParams(m.domain, false, "")
	if err != nil {
		return err
	}
	defer func() {
		if err := chain.Release(c); err != nil {
			slog.Error("Failed to release parameter chain", "domain", m.domain, "error", err)
		}
	}()

	iface, err := m.rt.LoadInterface(entry.PluginID)
	if err != nil {
		return fmt.Errorf("%w: load %s: %w", ErrInstanceCreation, entry.PluginID, err)
	}

	inst, err := iface.CreateInstance(c)
	if err != nil {
		if unErr := m.rt.UnloadInterface(entry.PluginID, iface); unErr != nil {
			slog.Error("Failed to unload plugin interface", "plugin", entry.PluginID, "error", unErr)
		}
		return fmt.Errorf("%w: %s: %w", ErrInstanceCreation, entry.ModelName, err)
	}

	m.mu.Lock()
	m.inst = inst
	m.iface = iface
	m.pluginID = entry.PluginID
	m.index = index
	m.mu.Unlock()

	slog.Info("Model loaded", "domain", m.domain, "model", entry.ModelName, "plugin", entry.PluginID)
	return nil
}

// release destroys the live instance and returns the index it was created for.
func (m *Manager) release() int {
	m.mu.Lock()
	inst, iface, id, index := m.inst, m.iface, m.pluginID, m.index
	m.inst, m.iface, m.pluginID, m.index = nil, nil, "", model.NoSelection
	m.mu.Unlock()

	if inst == nil {
		return model.NoSelection
	}

	if err := iface.DestroyInstance(inst); err != nil {
		slog.Error("Failed to destroy instance", "domain", m.domain, "plugin", id, "error", err)
	}
	if err := m.rt.UnloadInterface(id, iface); err != nil {
		slog.Error("Failed to unload plugin interface", "plugin", id, "error", err)
	}

	slog.Debug("Instance destroyed", "domain", m.domain, "plugin", id)
	return index
}

func (m *Manager) setErr(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}
