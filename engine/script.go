package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sarchlab/cosim/device"
	"github.com/sarchlab/cosim/sim"
)

// A Script is a user-defined engine running in-process. It follows the
// engine script contract: it registers devices during Initialize, updates
// them in RunLoop and reads the inputs pushed by transceiver functions with
// GetDevice.
type Script interface {
	Initialize(ctx *ScriptContext) error
	RunLoop(ctx *ScriptContext, timestep sim.VTimeInSec) error
	Shutdown(ctx *ScriptContext) error
}

// ScriptContext is the view a Script has of its engine.
type ScriptContext struct {
	adapter *ScriptAdapter
}

// EngineName returns the name of the engine running the script.
func (c *ScriptContext) EngineName() string {
	return c.adapter.cfg.Name
}

// Time returns the current engine time.
func (c *ScriptContext) Time() sim.VTimeInSec {
	return c.adapter.now()
}

// Param returns an engine parameter from the configuration.
func (c *ScriptContext) Param(key string) (string, bool) {
	v, ok := c.adapter.cfg.Params[key]
	return v, ok
}

// RegisterDevice declares a device owned by this engine.
func (c *ScriptContext) RegisterDevice(name, deviceType string) error {
	return c.adapter.registerDevice(name, deviceType)
}

// GetDevice returns the current value of a registered device.
func (c *ScriptContext) GetDevice(name string) (device.Device, error) {
	return c.adapter.getDevice(name)
}

// SetDevice replaces the payload of a registered device and marks it as
// changed for the current advance.
func (c *ScriptContext) SetDevice(name string, payload device.Payload) error {
	return c.adapter.setDevice(name, payload, true)
}

type scriptDevice struct {
	dev     device.Device
	changed bool
}

// A ScriptAdapter runs a Script as an engine. The engine time advances in
// multiples of the configured timestep.
type ScriptAdapter struct {
	script    Script
	tolerance sim.VTimeInSec

	lock    sync.Mutex
	cfg     Config
	steps   uint64
	devices map[string]*scriptDevice
	ctx     *ScriptContext
}

// NewScriptAdapter wraps a Script.
func NewScriptAdapter(script Script) *ScriptAdapter {
	a := &ScriptAdapter{
		script:    script,
		tolerance: 1e-9,
		devices:   make(map[string]*scriptDevice),
	}
	a.ctx = &ScriptContext{adapter: a}

	return a
}

// WithTolerance sets the time tolerance under which the engine is considered
// to have reached the advance target.
func (a *ScriptAdapter) WithTolerance(t sim.VTimeInSec) *ScriptAdapter {
	a.tolerance = t
	return a
}

func (a *ScriptAdapter) now() sim.VTimeInSec {
	a.lock.Lock()
	defer a.lock.Unlock()

	return sim.StepBoundary(a.steps, a.cfg.Timestep)
}

func (a *ScriptAdapter) registerDevice(name, deviceType string) error {
	id, err := device.MakeIdentifier(name, a.cfg.Name, deviceType)
	if err != nil {
		return err
	}

	a.lock.Lock()
	defer a.lock.Unlock()

	if _, exists := a.devices[name]; exists {
		return fmt.Errorf("device %q already registered on engine %q",
			name, a.cfg.Name)
	}

	d, err := device.New(id, emptyPayloadFor(deviceType))
	if err != nil {
		return err
	}

	a.devices[name] = &scriptDevice{dev: d}

	return nil
}

func emptyPayloadFor(deviceType string) device.Payload {
	s, _ := device.DefaultSchemas.Lookup(deviceType)

	switch s.Kind {
	case device.KindImage:
		return device.Image{Depth: s.Depth}
	case device.KindArray:
		shape := make([]int, len(s.Shape))
		size := 1
		for i, d := range s.Shape {
			shape[i] = max(d, 0)
			size *= shape[i]
		}

		if len(shape) == 0 {
			size = 0
		}

		return device.Array{Shape: shape, Data: make([]float64, size)}
	default:
		m := device.ScalarMap{}
		for _, k := range s.RequiredKeys {
			m[k] = 0
		}

		return m
	}
}

func (a *ScriptAdapter) getDevice(name string) (device.Device, error) {
	a.lock.Lock()
	defer a.lock.Unlock()

	sd, ok := a.devices[name]
	if !ok {
		return device.Device{}, NewError(a.cfg.Name, UnknownDevice,
			fmt.Errorf("device %q", name))
	}

	return sd.dev, nil
}

func (a *ScriptAdapter) setDevice(
	name string,
	payload device.Payload,
	markChanged bool,
) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	sd, ok := a.devices[name]
	if !ok {
		return NewError(a.cfg.Name, UnknownDevice, fmt.Errorf("device %q", name))
	}

	if err := sd.dev.Write(payload); err != nil {
		return err
	}

	sd.dev = sd.dev.Stamped(sd.dev.Generation(),
		sim.StepBoundary(a.steps, a.cfg.Timestep))
	if markChanged {
		sd.changed = true
	}

	return nil
}

// Initialize runs the script's Initialize.
func (a *ScriptAdapter) Initialize(_ context.Context, cfg Config) error {
	a.lock.Lock()
	a.cfg = cfg
	a.lock.Unlock()

	if err := a.script.Initialize(a.ctx); err != nil {
		return NewError(cfg.Name, StartupFailed, err)
	}

	return nil
}

// Advance runs the script loop until the engine time reaches target. A
// cancelled context between two loop iterations is reported as a Timeout.
func (a *ScriptAdapter) Advance(
	ctx context.Context,
	target sim.VTimeInSec,
) (AdvanceReport, error) {
	for a.now()+a.tolerance < target {
		if err := ctx.Err(); err != nil {
			return AdvanceReport{}, NewError(a.cfg.Name, Timeout, err)
		}

		if err := a.runLoopOnce(); err != nil {
			return AdvanceReport{}, NewError(a.cfg.Name, Diverged, err)
		}
	}

	return AdvanceReport{
		Engine:  a.cfg.Name,
		Time:    a.now(),
		Changed: a.takeChanged(),
	}, nil
}

func (a *ScriptAdapter) runLoopOnce() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("script panicked: %v", r)
		}
	}()

	if err := a.script.RunLoop(a.ctx, a.cfg.Timestep); err != nil {
		return err
	}

	a.lock.Lock()
	a.steps++
	a.lock.Unlock()

	return nil
}

func (a *ScriptAdapter) takeChanged() []device.Identifier {
	a.lock.Lock()
	defer a.lock.Unlock()

	var changed []device.Identifier
	for _, sd := range a.devices {
		if sd.changed {
			changed = append(changed, sd.dev.ID())
			sd.changed = false
		}
	}

	slices.SortFunc(changed, device.Compare)

	return changed
}

// PushDevices writes input devices. Every device must be registered by the
// script; identifiers must match by name and type.
func (a *ScriptAdapter) PushDevices(
	_ context.Context,
	devices []device.Device,
) error {
	for _, d := range devices {
		if err := a.checkOwned(d.ID()); err != nil {
			return err
		}

		if err := a.setDevice(d.ID().Name(), d.Payload(), false); err != nil {
			return err
		}
	}

	return nil
}

// PullDevices reads registered devices.
func (a *ScriptAdapter) PullDevices(
	_ context.Context,
	ids []device.Identifier,
) ([]device.Device, error) {
	devices := make([]device.Device, 0, len(ids))

	for _, id := range ids {
		if err := a.checkOwned(id); err != nil {
			return nil, err
		}

		d, err := a.getDevice(id.Name())
		if err != nil {
			return nil, err
		}

		devices = append(devices, d)
	}

	return devices, nil
}

func (a *ScriptAdapter) checkOwned(id device.Identifier) error {
	a.lock.Lock()
	defer a.lock.Unlock()

	sd, ok := a.devices[id.Name()]
	if !ok || id.Engine() != a.cfg.Name || sd.dev.ID() != id {
		return NewError(a.cfg.Name, UnknownDevice, fmt.Errorf("device %s", id))
	}

	return nil
}

// Shutdown runs the script's Shutdown.
func (a *ScriptAdapter) Shutdown(_ context.Context) error {
	return a.script.Shutdown(a.ctx)
}
