// Package registry keeps the latest known value of every device.
//
// The Registry is the only place where data produced by one engine becomes
// visible to the rest of the co-simulation. Writes are ordered by generation
// rather than by arrival: a value is replaced only by a value from a strictly
// newer step.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/sim"
)

var (
	// ErrStaleWrite is returned when a publication is not newer than the
	// stored value. It is not fatal; the write is dropped.
	ErrStaleWrite = errors.New("stale write")

	// ErrUnknownEngine is returned when a device names an engine that is not
	// registered.
	ErrUnknownEngine = errors.New("unknown engine")
)

// Hook positions triggered by the Registry.
var (
	HookPosPublished  = &sim.HookPos{Name: "DevicePublished"}
	HookPosStaleWrite = &sim.HookPos{Name: "DeviceStaleWrite"}
	HookPosStale      = &sim.HookPos{Name: "EngineStale"}
)

// StaleWrite describes a dropped publication.
type StaleWrite struct {
	Rejected device.Device
	Current  device.Device
}

// A Registry maps identifiers to the latest published device.
type Registry struct {
	sim.HookableBase

	lock    sync.RWMutex
	engines map[string]bool
	devices map[device.Identifier]device.Device
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		engines: make(map[string]bool),
		devices: make(map[device.Identifier]device.Device),
	}
}

// RegisterEngine makes an engine name valid as device owner. Registering a
// name again has no effect.
func (r *Registry) RegisterEngine(name string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if _, ok := r.engines[name]; !ok {
		r.engines[name] = false
	}
}

// HasEngine tells if the engine is registered.
func (r *Registry) HasEngine(name string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	_, ok := r.engines[name]

	return ok
}

// Engines returns the registered engine names in sorted order.
func (r *Registry) Engines() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Publish stores a copy of the device if its generation is strictly greater
// than the stored one. Otherwise the write is dropped and an error wrapping
// ErrStaleWrite is returned.
func (r *Registry) Publish(d device.Device) error {
	id := d.ID()

	r.lock.Lock()

	if _, ok := r.engines[id.Engine()]; !ok {
		r.lock.Unlock()
		return fmt.Errorf("%w: %q owns device %s", ErrUnknownEngine,
			id.Engine(), id)
	}

	current, exists := r.devices[id]
	if exists && d.Generation() <= current.Generation() {
		r.lock.Unlock()

		r.InvokeHook(sim.HookCtx{
			Domain: r,
			Now:    d.Time(),
			Pos:    HookPosStaleWrite,
			Item:   StaleWrite{Rejected: d, Current: current},
		})

		return fmt.Errorf("%w: %s generation %d, stored generation %d",
			ErrStaleWrite, id, d.Generation(), current.Generation())
	}

	r.devices[id] = d
	r.lock.Unlock()

	r.InvokeHook(sim.HookCtx{
		Domain: r,
		Now:    d.Time(),
		Pos:    HookPosPublished,
		Item:   d,
	})

	return nil
}

// Lookup returns the latest value of a device.
func (r *Registry) Lookup(id device.Identifier) (device.Device, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	d, ok := r.devices[id]

	return d, ok
}

// LookupMatching returns the latest values of all devices selected by the
// filter, ordered by identifier.
func (r *Registry) LookupMatching(f device.Filter) []device.Device {
	r.lock.RLock()

	var matched []device.Device
	for id, d := range r.devices {
		if f.Match(id) {
			matched = append(matched, d)
		}
	}

	r.lock.RUnlock()

	sortByID(matched)

	return matched
}

// Snapshot returns all stored devices ordered by identifier.
func (r *Registry) Snapshot() []device.Device {
	r.lock.RLock()

	all := make([]device.Device, 0, len(r.devices))
	for _, d := range r.devices {
		all = append(all, d)
	}

	r.lock.RUnlock()

	sortByID(all)

	return all
}

// Len returns the number of stored devices.
func (r *Registry) Len() int {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return len(r.devices)
}

// MarkEngineStale flags every device of the engine as stale. Stale values
// stay readable, but consumers should not treat them as fresh input.
func (r *Registry) MarkEngineStale(name string) {
	r.lock.Lock()

	wasStale, ok := r.engines[name]
	if !ok || wasStale {
		r.lock.Unlock()
		return
	}

	r.engines[name] = true
	r.lock.Unlock()

	r.InvokeHook(sim.HookCtx{
		Domain: r,
		Pos:    HookPosStale,
		Item:   name,
	})
}

// IsStale tells if the devices of the engine are stale.
func (r *Registry) IsStale(name string) bool {
	r.lock.RLock()
	defer r.lock.RUnlock()

	return r.engines[name]
}

func sortByID(devices []device.Device) {
	slices.SortFunc(devices, func(a, b device.Device) int {
		return device.Compare(a.ID(), b.ID())
	})
}
